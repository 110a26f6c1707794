package thread

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pagemark/annotation"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []annotation.Annotation
	deleted []string
	delay   func(a annotation.Annotation) time.Duration
	fail    error
	block   bool
	// gate runs before the n-th Update (from 0); a non-nil error fails it.
	gate  func(n int) error
	calls int
}

func (s *fakeStore) Update(ctx context.Context, a annotation.Annotation) error {
	s.mu.Lock()
	n, gate := s.calls, s.gate
	s.calls++
	s.mu.Unlock()
	if gate != nil {
		if err := gate(n); err != nil {
			return err
		}
	}
	if s.delay != nil {
		time.Sleep(s.delay(a))
	}
	if s.block {
		time.Sleep(time.Second)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saved = append(s.saved, a)
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, a annotation.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.deleted = append(s.deleted, a.ID)
	return nil
}

func (s *fakeStore) last() annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

type fakeRenderer struct {
	mu         sync.Mutex
	positioned []annotation.Annotation
	removed    []string
}

func (r *fakeRenderer) PositionOverlay(a annotation.Annotation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positioned = append(r.positioned, a)
	return true
}

func (r *fakeRenderer) RemoveOverlay(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return true
}

type fakeSurface struct {
	mu          sync.Mutex
	panel       string
	comments    string
	panelPaints int
}

func (s *fakeSurface) PaintPanel(markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panel = markup
	s.comments = ""
	s.panelPaints++
	return nil
}

func (s *fakeSurface) PaintComments(markup string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = markup
	return nil
}

func (s *fakeSurface) snapshot() (string, string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel, s.comments, s.panelPaints
}

type fixture struct {
	set      *annotation.Set
	store    *fakeStore
	renderer *fakeRenderer
	surface  *fakeSurface
	ctrl     *Controller
}

func seed(id string, comments ...string) annotation.Annotation {
	a := annotation.Annotation{
		ID:        id,
		Kind:      annotation.KindRegion,
		CreatedAt: 1700000000000,
		PageURL:   "https://example.com/",
		Viewport:  annotation.Viewport{Category: annotation.CategoryDesktop, Width: 1280, Height: 800},
		Status:    annotation.StatusOpen,
		Region:    &annotation.Region{Absolute: annotation.Rect{Left: 10, Top: 10, Width: 50, Height: 50}},
	}
	for i, text := range comments {
		a.Comments = append(a.Comments, annotation.Comment{
			ID:        id + "-c" + strconv.Itoa(i),
			Text:      text,
			Author:    annotation.Author{ID: "u1", Name: "Ada"},
			Timestamp: 1700000000000,
		})
	}
	return a
}

func setup(t *testing.T, confirm bool) *fixture {
	t.Helper()
	f := &fixture{
		set:      annotation.NewSet(),
		store:    &fakeStore{},
		renderer: &fakeRenderer{},
		surface:  &fakeSurface{},
	}
	f.set.Put(seed("a1", "first"))
	f.set.Put(seed("a2", "other"))
	var n atomic.Int64
	f.ctrl = New(Config{
		Set:      f.set,
		Store:    f.store,
		Renderer: f.renderer,
		Surface:  f.surface,
		Confirm:  func(context.Context, string) bool { return confirm },
		IDs:      func() string { return "gen-" + strconv.FormatInt(n.Add(1), 10) },
		Timeout:  200 * time.Millisecond,
	})
	return f
}

func texts(a annotation.Annotation) []string {
	out := make([]string, len(a.Comments))
	for i, c := range a.Comments {
		out[i] = c.Text
	}
	return out
}

func TestOpen_AtMostOne(t *testing.T) {
	f := setup(t, true)
	if err := f.ctrl.Open("a1"); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Open("a2"); err != nil {
		t.Fatal(err)
	}
	panel, _, paints := f.surface.snapshot()
	if f.ctrl.Current() != "a2" {
		t.Errorf("Current = %q, want a2", f.ctrl.Current())
	}
	if strings.Contains(panel, `data-pagemark-thread="a1"`) || !strings.Contains(panel, `data-pagemark-thread="a2"`) {
		t.Errorf("panel shows wrong thread:\n%s", panel)
	}
	// open a1, close a1, open a2
	if paints != 3 {
		t.Errorf("panel paints = %d, want 3", paints)
	}
	if !strings.Contains(panel, "autofocus") {
		t.Error("reply input not focused")
	}
}

func TestOpen_Unknown(t *testing.T) {
	f := setup(t, true)
	if err := f.ctrl.Open("nope"); !errors.Is(err, annotation.ErrUnknown) {
		t.Errorf("err = %v, want ErrUnknown", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	f := setup(t, true)
	f.ctrl.Close()
	f.ctrl.Open("a1")
	f.ctrl.Close()
	f.ctrl.Close()
	panel, _, _ := f.surface.snapshot()
	if panel != "" || f.ctrl.Current() != "" {
		t.Errorf("panel = %q, current = %q", panel, f.ctrl.Current())
	}
}

func TestReply_RejectsInvalidText(t *testing.T) {
	f := setup(t, true)
	for _, text := range []string{"", "   ", strings.Repeat("x", 501)} {
		ch, err := f.ctrl.Reply(context.Background(), "a1", text)
		if !errors.Is(err, annotation.ErrInvalid) || ch != nil {
			t.Errorf("Reply(%d chars) = %v, %v", len(text), ch, err)
		}
	}
	f.ctrl.Wait()
	a, _ := f.set.Get("a1")
	if len(a.Comments) != 1 || len(f.store.saved) != 0 {
		t.Errorf("rejected reply mutated or persisted: %v / %d saves", texts(a), len(f.store.saved))
	}
}

func TestReply_OrderUnderVariableLatency(t *testing.T) {
	f := setup(t, true)
	latency := map[int]time.Duration{2: 40 * time.Millisecond, 3: time.Millisecond, 4: 15 * time.Millisecond}
	f.store.delay = func(a annotation.Annotation) time.Duration { return latency[len(a.Comments)] }

	ctx := context.Background()
	var chans []<-chan error
	for _, text := range []string{"A", "B", "C"} {
		ch, err := f.ctrl.Reply(ctx, "a1", text)
		if err != nil {
			t.Fatal(err)
		}
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		if err := <-ch; err != nil {
			t.Fatal(err)
		}
	}

	want := "first,A,B,C"
	a, _ := f.set.Get("a1")
	if got := strings.Join(texts(a), ","); got != want {
		t.Errorf("in memory = %s, want %s", got, want)
	}
	if got := strings.Join(texts(f.store.last()), ","); got != want {
		t.Errorf("persisted = %s, want %s", got, want)
	}
	prev := 0
	for i, s := range f.store.saved {
		if len(s.Comments) < prev {
			t.Errorf("save %d carried %d comments, fewer than the save before it", i, len(s.Comments))
		}
		prev = len(s.Comments)
	}
}

func TestEditComment_FailureKeepsLaterEdit(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.gate = func(n int) error {
		if n == 0 {
			<-release
			return errors.New("boom")
		}
		return nil
	}
	ctx := context.Background()
	ch1, err := f.ctrl.EditComment(ctx, "a1", "a1-c0", "second")
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := f.ctrl.EditComment(ctx, "a1", "a1-c0", "third")
	if err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-ch1; err == nil {
		t.Error("first edit: expected failure")
	}
	if err := <-ch2; err != nil {
		t.Fatalf("second edit: %v", err)
	}
	a, _ := f.set.Get("a1")
	if a.Comments[0].Text != "third" {
		t.Errorf("in memory = %q, want third", a.Comments[0].Text)
	}
	if got := f.store.last().Comments[0].Text; got != "third" {
		t.Errorf("persisted = %q, want third", got)
	}
	if f.ctrl.Pending("a1") {
		t.Error("settled saves left pending state")
	}
}

func TestEditComment_BothFailRestoresStored(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.gate = func(n int) error {
		if n == 0 {
			<-release
		}
		return errors.New("down")
	}
	ctx := context.Background()
	ch1, _ := f.ctrl.EditComment(ctx, "a1", "a1-c0", "second")
	ch2, _ := f.ctrl.EditComment(ctx, "a1", "a1-c0", "third")
	close(release)
	<-ch1
	<-ch2
	a, _ := f.set.Get("a1")
	if c := a.Comments[0]; c.Text != "first" || c.Edited {
		t.Errorf("comment = %+v, want the stored one", c)
	}
}

func TestToggleResolved_FailureKeepsLaterToggle(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.gate = func(n int) error {
		if n == 0 {
			<-release
			return errors.New("boom")
		}
		return nil
	}
	ctx := context.Background()
	ch1, _ := f.ctrl.ToggleResolved(ctx, "a1")
	ch2, _ := f.ctrl.ToggleResolved(ctx, "a1")
	close(release)
	<-ch1
	if err := <-ch2; err != nil {
		t.Fatal(err)
	}
	a, _ := f.set.Get("a1")
	if a.Status != annotation.StatusOpen || f.store.last().Status != annotation.StatusOpen {
		t.Errorf("in memory %s, persisted %s, want open", a.Status, f.store.last().Status)
	}
}

func TestRebase_KeepsQueuedReplies(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.gate = func(n int) error {
		if n == 0 {
			<-release
		}
		return nil
	}
	ctx := context.Background()
	chA, _ := f.ctrl.Reply(ctx, "a1", "A")
	chB, _ := f.ctrl.Reply(ctx, "a1", "B")

	stale := seed("a1", "first")
	stale.Status = annotation.StatusResolved
	f.ctrl.Rebase([]annotation.Annotation{stale, seed("a2", "other"), seed("a9", "new")})

	a, _ := f.set.Get("a1")
	if got := strings.Join(texts(a), ","); got != "first,A,B" || a.Status != annotation.StatusResolved {
		t.Errorf("after rebase = %s (%s), want first,A,B (resolved)", got, a.Status)
	}
	if f.set.Len() != 3 {
		t.Errorf("set holds %d annotations, want 3", f.set.Len())
	}

	close(release)
	for _, ch := range []<-chan error{chA, chB} {
		if err := <-ch; err != nil {
			t.Fatal(err)
		}
	}
	a, _ = f.set.Get("a1")
	if got := strings.Join(texts(f.store.last()), ","); got != "first,A,B" {
		t.Errorf("persisted = %s", got)
	}
	if got := strings.Join(texts(a), ","); got != "first,A,B" {
		t.Errorf("in memory = %s", got)
	}
}

func TestRebase_DropsRemovedAnnotation(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.gate = func(n int) error {
		<-release
		return nil
	}
	ch, _ := f.ctrl.Reply(context.Background(), "a1", "late")
	f.ctrl.Rebase([]annotation.Annotation{seed("a2", "other")})
	if _, ok := f.set.Get("a1"); ok {
		t.Error("annotation deleted elsewhere still shown")
	}
	close(release)
	<-ch
	if _, ok := f.set.Get("a1"); ok {
		t.Error("settling a save recreated a removed annotation")
	}
}

func TestReply_AuthorSnapshotAndPartialRender(t *testing.T) {
	f := setup(t, true)
	f.ctrl.cfg.Author = func(context.Context) annotation.Author { return annotation.Author{ID: "u9", Name: "Grace"} }
	f.ctrl.Open("a1")
	_, _, paints := f.surface.snapshot()

	ch, err := f.ctrl.Reply(context.Background(), "a1", "  looks off  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	a, _ := f.set.Get("a1")
	c := a.Comments[1]
	if c.Text != "looks off" || c.Author.Name != "Grace" || c.ID != "gen-1" {
		t.Errorf("comment = %+v", c)
	}
	_, comments, after := f.surface.snapshot()
	if after != paints {
		t.Error("reply repainted the whole panel")
	}
	if !strings.Contains(comments, "looks off") || !strings.Contains(comments, `data-scroll="end"`) {
		t.Errorf("comments not refreshed:\n%s", comments)
	}
}

func TestReply_FailureRollsBack(t *testing.T) {
	f := setup(t, true)
	f.store.fail = errors.New("store down")
	f.ctrl.Open("a1")

	ch, err := f.ctrl.Reply(context.Background(), "a1", "lost")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err == nil {
		t.Fatal("expected persistence error")
	}
	a, _ := f.set.Get("a1")
	if got := strings.Join(texts(a), ","); got != "first" {
		t.Errorf("after rollback = %s", got)
	}
	_, comments, _ := f.surface.snapshot()
	if !strings.Contains(comments, `role="alert"`) || strings.Contains(comments, "lost") {
		t.Errorf("failure not surfaced:\n%s", comments)
	}
}

func TestEditComment_NoOp(t *testing.T) {
	f := setup(t, true)
	for _, text := range []string{"", "  ", "first", " first "} {
		if _, err := f.ctrl.EditComment(context.Background(), "a1", "a1-c0", text); !errors.Is(err, ErrNoChange) {
			t.Errorf("EditComment(%q) = %v, want ErrNoChange", text, err)
		}
	}
	if _, err := f.ctrl.EditComment(context.Background(), "a1", "a1-c0", strings.Repeat("y", 501)); !errors.Is(err, annotation.ErrInvalid) {
		t.Errorf("oversized edit = %v, want ErrInvalid", err)
	}
	f.ctrl.Wait()
	if len(f.store.saved) != 0 {
		t.Errorf("no-op edits persisted %d times", len(f.store.saved))
	}
}

func TestEditComment_Success(t *testing.T) {
	f := setup(t, true)
	f.ctrl.cfg.Now = func() time.Time { return time.UnixMilli(1800000000000) }
	ch, err := f.ctrl.EditComment(context.Background(), "a1", "a1-c0", "second thoughts")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	c := f.store.last().Comments[0]
	if c.Text != "second thoughts" || !c.Edited || c.EditedAt == nil || *c.EditedAt != 1800000000000 {
		t.Errorf("persisted comment = %+v", c)
	}
	if c.Author.Name != "Ada" {
		t.Errorf("edit changed author to %+v", c.Author)
	}
}

func TestEditComment_RollbackOnFailure(t *testing.T) {
	f := setup(t, true)
	f.store.fail = errors.New("rejected")
	f.ctrl.Open("a1")

	ch, err := f.ctrl.EditComment(context.Background(), "a1", "a1-c0", "changed")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err == nil {
		t.Fatal("expected failure")
	}
	a, _ := f.set.Get("a1")
	c := a.Comments[0]
	if c.Text != "first" || c.Edited || c.EditedAt != nil {
		t.Errorf("comment not restored: %+v", c)
	}
	_, comments, _ := f.surface.snapshot()
	if strings.Contains(comments, "changed") || strings.Contains(comments, "(edited)") {
		t.Errorf("next render shows failed edit:\n%s", comments)
	}
}

func TestEditComment_TimeoutRollsBack(t *testing.T) {
	f := setup(t, true)
	f.store.block = true
	ch, err := f.ctrl.EditComment(context.Background(), "a1", "a1-c0", "slow")
	if err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-ch:
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("err = %v, want ErrTimeout", err)
		}
	case <-time.After(900 * time.Millisecond):
		t.Fatal("timeout not applied")
	}
	a, _ := f.set.Get("a1")
	if a.Comments[0].Text != "first" {
		t.Errorf("text = %q after timeout", a.Comments[0].Text)
	}
}

func TestDeleteComment(t *testing.T) {
	f := setup(t, true)
	f.set.Put(seed("a3", "one", "two", "three"))

	ch, err := f.ctrl.DeleteComment(context.Background(), "a3", "a3-c1")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(texts(f.store.last()), ","); got != "one,three" {
		t.Errorf("persisted = %s", got)
	}
	if len(f.renderer.positioned) != 1 {
		t.Errorf("renderer not refreshed")
	}
}

func TestDeleteComment_RollbackRestoresPosition(t *testing.T) {
	f := setup(t, true)
	f.set.Put(seed("a3", "one", "two", "three"))
	f.store.fail = errors.New("nope")

	ch, _ := f.ctrl.DeleteComment(context.Background(), "a3", "a3-c1")
	<-ch
	a, _ := f.set.Get("a3")
	if got := strings.Join(texts(a), ","); got != "one,two,three" {
		t.Errorf("after rollback = %s", got)
	}
}

func TestDeleteComment_LastCommentRejected(t *testing.T) {
	f := setup(t, true)
	if _, err := f.ctrl.DeleteComment(context.Background(), "a1", "a1-c0"); !errors.Is(err, ErrLastComment) {
		t.Errorf("err = %v, want ErrLastComment", err)
	}
}

func TestConfirmationRequired(t *testing.T) {
	f := setup(t, false)
	f.set.Put(seed("a3", "one", "two"))
	ctx := context.Background()

	if _, err := f.ctrl.DeleteComment(ctx, "a3", "a3-c0"); !errors.Is(err, ErrCancelled) {
		t.Errorf("DeleteComment = %v", err)
	}
	if _, err := f.ctrl.ToggleResolved(ctx, "a1"); !errors.Is(err, ErrCancelled) {
		t.Errorf("ToggleResolved = %v", err)
	}
	if _, err := f.ctrl.DeleteAnnotation(ctx, "a1"); !errors.Is(err, ErrCancelled) {
		t.Errorf("DeleteAnnotation = %v", err)
	}
	f.ctrl.Wait()
	a, _ := f.set.Get("a1")
	if a.Status != annotation.StatusOpen || f.set.Len() != 3 || len(f.store.saved) != 0 {
		t.Error("unconfirmed action mutated state")
	}
}

func TestConfirmFromContext(t *testing.T) {
	f := setup(t, true)
	f.ctrl.cfg.Confirm = ConfirmFromContext
	if _, err := f.ctrl.ToggleResolved(context.Background(), "a1"); !errors.Is(err, ErrCancelled) {
		t.Errorf("bare context = %v, want ErrCancelled", err)
	}
	ch, err := f.ctrl.ToggleResolved(WithConfirmation(context.Background()), "a1")
	if err != nil {
		t.Fatal(err)
	}
	<-ch
}

func TestToggleResolved(t *testing.T) {
	f := setup(t, true)
	f.ctrl.Open("a1")
	ctx := context.Background()

	ch, _ := f.ctrl.ToggleResolved(ctx, "a1")
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	if got := f.store.last().Status; got != annotation.StatusResolved {
		t.Errorf("status = %s, want resolved", got)
	}
	panel, _, _ := f.surface.snapshot()
	if !strings.Contains(panel, "Reopen") {
		t.Error("panel not refreshed after resolve")
	}
	if n := len(f.renderer.positioned); n != 1 || f.renderer.positioned[0].Status != annotation.StatusResolved {
		t.Errorf("renderer saw %+v", f.renderer.positioned)
	}

	ch, _ = f.ctrl.ToggleResolved(ctx, "a1")
	<-ch
	if got := f.store.last().Status; got != annotation.StatusOpen {
		t.Errorf("status = %s, want open", got)
	}

	f.set.Update("a1", func(a *annotation.Annotation) error { a.Status = annotation.StatusClosed; return nil })
	ch, _ = f.ctrl.ToggleResolved(ctx, "a1")
	<-ch
	if got := f.store.last().Status; got != annotation.StatusResolved {
		t.Errorf("closed toggles to %s, want resolved", got)
	}
}

func TestToggleResolved_Rollback(t *testing.T) {
	f := setup(t, true)
	f.store.fail = errors.New("down")
	ch, _ := f.ctrl.ToggleResolved(context.Background(), "a1")
	<-ch
	a, _ := f.set.Get("a1")
	if a.Status != annotation.StatusOpen {
		t.Errorf("status = %s after failed toggle", a.Status)
	}
	if len(f.renderer.positioned) != 0 {
		t.Error("renderer refreshed after failure")
	}
}

func TestDeleteAnnotation(t *testing.T) {
	f := setup(t, true)
	var deleted []string
	f.ctrl.cfg.OnDeleted = func(a annotation.Annotation) { deleted = append(deleted, a.ID) }
	f.ctrl.Open("a1")

	ch, err := f.ctrl.DeleteAnnotation(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
	if _, ok := f.set.Get("a1"); ok {
		t.Error("annotation still in set")
	}
	if len(f.store.deleted) != 1 || len(f.renderer.removed) != 1 || f.renderer.removed[0] != "a1" {
		t.Errorf("store deleted %v, renderer removed %v", f.store.deleted, f.renderer.removed)
	}
	if f.ctrl.Current() != "" {
		t.Error("panel left open on deleted annotation")
	}
	if len(deleted) != 1 {
		t.Errorf("OnDeleted calls = %v", deleted)
	}
}

func TestDeleteAnnotation_FailureKeepsEverything(t *testing.T) {
	f := setup(t, true)
	f.store.fail = errors.New("down")
	f.ctrl.Open("a1")
	ch, _ := f.ctrl.DeleteAnnotation(context.Background(), "a1")
	if err := <-ch; err == nil {
		t.Fatal("expected failure")
	}
	if _, ok := f.set.Get("a1"); !ok || len(f.renderer.removed) != 0 || f.ctrl.Current() != "a1" {
		t.Error("failed delete removed local state")
	}
}

func TestOtherThreadUsableWhileSaving(t *testing.T) {
	f := setup(t, true)
	release := make(chan struct{})
	f.store.delay = func(a annotation.Annotation) time.Duration {
		if a.ID == "a1" {
			<-release
		}
		return 0
	}
	ch, _ := f.ctrl.Reply(context.Background(), "a1", "pending")
	if err := f.ctrl.Open("a2"); err != nil {
		t.Fatal(err)
	}
	ch2, _ := f.ctrl.Reply(context.Background(), "a2", "quick")
	if err := <-ch2; err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-ch; err != nil {
		t.Fatal(err)
	}
}

func TestPanelMarkup_EditForm(t *testing.T) {
	a := seed("a3", "one", `<b>two</b>`)
	markup, err := PanelMarkup(a, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`data-pagemark-action="edit" data-pagemark-comment="a3-c0"`,
		`data-pagemark-action="edit" data-pagemark-comment="a3-c1"`,
		`maxlength="500">one</textarea>`,
		`&lt;b&gt;two&lt;/b&gt;</textarea>`,
	} {
		if !strings.Contains(markup, want) {
			t.Errorf("panel lacks %s:\n%s", want, markup)
		}
	}
}
