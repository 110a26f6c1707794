package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
)

// fakeHub serves /records/{domain} from memory.
type fakeHub struct {
	mu      sync.Mutex
	records map[string][]byte
	fails   atomic.Int32
	status  int
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.fails.Load() > 0 {
		h.fails.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.status != 0 {
		w.WriteHeader(h.status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	domain := r.URL.Path[len("/records/"):]
	h.mu.Lock()
	defer h.mu.Unlock()
	switch r.Method {
	case http.MethodGet:
		raw, ok := h.records[domain]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(raw)
	case http.MethodPut:
		var rec annotation.Record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(rec)
		h.records[domain] = raw
		w.WriteHeader(http.StatusNoContent)
	}
}

func newRemote(t *testing.T, h *fakeHub, opts ...RemoteOption) *Remote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]RemoteOption{WithToken("secret"), WithBackoff(time.Millisecond)}, opts...)
	return NewRemote(srv.URL+"/", opts...)
}

func TestRemote_RoundTrip(t *testing.T) {
	h := &fakeHub{records: map[string][]byte{}}
	r := newRemote(t, h)
	ctx := context.Background()

	rec, err := r.Load(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Count() != 0 {
		t.Fatalf("missing record not empty: %+v", rec)
	}

	a := newAnnotation("https://example.com/x", "hello")
	rec.Put("/x", a)
	if err := r.ReplaceAll(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := r.Load(ctx, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if b := got.Bucket("/x"); len(b) != 1 || b[0].ID != a.ID {
		t.Errorf("bucket = %+v", b)
	}
}

func TestRemote_RetriesServerErrors(t *testing.T) {
	h := &fakeHub{records: map[string][]byte{}}
	h.fails.Store(2)
	r := newRemote(t, h)
	if _, err := r.Load(context.Background(), "example.com"); err != nil {
		t.Fatalf("Load after transient failures: %v", err)
	}
}

func TestRemote_GivesUp(t *testing.T) {
	h := &fakeHub{records: map[string][]byte{}}
	h.fails.Store(10)
	r := newRemote(t, h, WithRetries(1))
	if _, err := r.Load(context.Background(), "example.com"); err == nil {
		t.Fatal("expected failure")
	}
}

func TestRemote_Unauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		h := &fakeHub{records: map[string][]byte{}, status: status}
		r := newRemote(t, h)
		_, err := r.Load(context.Background(), "example.com")
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("status %d: err = %v", status, err)
		}
	}
}

func TestRemote_ClientErrorNotRetried(t *testing.T) {
	h := &fakeHub{records: map[string][]byte{}, status: http.StatusBadRequest}
	r := newRemote(t, h)
	err := r.ReplaceAll(context.Background(), annotation.NewRecord("example.com"))
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v", err)
	}
}

func TestRemote_WithRepo(t *testing.T) {
	h := &fakeHub{records: map[string][]byte{}}
	repo := NewRepo(newRemote(t, h))
	ctx := context.Background()
	a := newAnnotation("https://example.com/", "via hub")
	if err := repo.Add(ctx, a); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Fetch(ctx, "https://example.com/")
	if err != nil || len(got) != 1 {
		t.Fatalf("Fetch = %v, %v", got, err)
	}
}
