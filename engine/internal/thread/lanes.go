package thread

import "sync"

// lanes runs jobs serially per key. Jobs for different keys run
// concurrently; jobs for the same key run in push order.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// push appends job to the lane of key, starting a drainer if the lane is
// idle. A key present in queues means its drainer is running.
func (l *lanes) push(key string, job func()) {
	l.mu.Lock()
	q, running := l.queues[key]
	l.queues[key] = append(q, job)
	if !running {
		l.wg.Add(1)
		go l.drain(key)
	}
	l.mu.Unlock()
}

func (l *lanes) drain(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		job := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()
		job()
	}
}

// wait blocks until every lane is idle.
func (l *lanes) wait() { l.wg.Wait() }
