package preview

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"resumeforge/internal/notify"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	ops     []string
	putErr  error
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) PutBytes(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	m.ops = append(m.ops, "put "+key)
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.ops = append(m.ops, "delete "+key)
	return nil
}

func (m *memStore) PresignedURL(_ context.Context, key string, _ time.Duration, _ string) (string, error) {
	return "https://objects.test/" + key, nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

func (m *memStore) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// gateEngine blocks each render on gate when it is set.
type gateEngine struct {
	mu      sync.Mutex
	seen    []string
	failOn  map[string]bool
	started chan struct{}
	gate    chan struct{}
}

func (e *gateEngine) Render(_ context.Context, html string) ([]byte, error) {
	e.mu.Lock()
	e.seen = append(e.seen, html)
	gate := e.gate
	e.mu.Unlock()
	if e.started != nil {
		e.started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if e.failOn[html] {
		return nil, errors.New("browser crashed")
	}
	return []byte("%PDF-" + html), nil
}

func (e *gateEngine) rendered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.seen...)
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Publish(_ context.Context, _ string, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) last() notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestScheduleStoresPreview(t *testing.T) {
	store := newMemStore()
	notes := &recorder{}
	r := NewRenderer(&gateEngine{}, store, notes, nil)

	var results []error
	r.OnResult(func(_ uint, _ string, _ int, err error) { results = append(results, err) })

	r.Schedule(7, "u1", 1, "v1")
	r.wg.Wait()

	p, ok := r.Current(7)
	if !ok || p.Version != 1 || !strings.HasPrefix(p.ObjectKey, "previews/7/1-") {
		t.Fatalf("unexpected current preview %+v ok=%v", p, ok)
	}
	msg := notes.last()
	if msg.Type != notify.TypePreviewReady || msg.Version != 1 || !strings.Contains(msg.URL, p.ObjectKey) {
		t.Fatalf("unexpected notification %+v", msg)
	}
	if len(results) != 1 || results[0] != nil {
		t.Fatalf("unexpected results %v", results)
	}

	url, got, err := r.URL(context.Background(), 7)
	if err != nil || got.Version != 1 || url == "" {
		t.Fatalf("url: %q %+v %v", url, got, err)
	}
	if _, _, err := r.URL(context.Background(), 99); !errors.Is(err, ErrNoPreview) {
		t.Fatalf("expected ErrNoPreview, got %v", err)
	}
}

func TestPreviousPreviewReleasedOnReplace(t *testing.T) {
	store := newMemStore()
	r := NewRenderer(&gateEngine{}, store, nil, nil)

	r.Schedule(7, "u1", 1, "v1")
	r.wg.Wait()
	first, _ := r.Current(7)

	r.Schedule(7, "u1", 2, "v2")
	r.wg.Wait()
	second, _ := r.Current(7)

	ops := store.history()
	want := []string{"put " + first.ObjectKey, "put " + second.ObjectKey, "delete " + first.ObjectKey}
	if strings.Join(ops, "|") != strings.Join(want, "|") {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	if keys := store.keys(); len(keys) != 1 || keys[0] != second.ObjectKey {
		t.Fatalf("expected only the latest preview stored, got %v", keys)
	}
}

func TestFailureKeepsPreviousPreview(t *testing.T) {
	store := newMemStore()
	notes := &recorder{}
	engine := &gateEngine{failOn: map[string]bool{"v2": true}}
	r := NewRenderer(engine, store, notes, nil)

	r.Schedule(7, "u1", 1, "v1")
	r.wg.Wait()
	r.Schedule(7, "u1", 2, "v2")
	r.wg.Wait()

	p, ok := r.Current(7)
	if !ok || p.Version != 1 {
		t.Fatalf("previous preview should survive a failure, got %+v ok=%v", p, ok)
	}
	if len(store.keys()) != 1 {
		t.Fatalf("previous object must not be deleted on failure: %v", store.keys())
	}
	if got := notes.types(); got[len(got)-1] != notify.TypePreviewFailed {
		t.Fatalf("expected preview_failed, got %v", got)
	}
	if len(engine.rendered()) != 2 {
		t.Fatal("failed render must not be retried")
	}
}

func TestStoreFailureKeepsPreviousPreview(t *testing.T) {
	store := newMemStore()
	notes := &recorder{}
	r := NewRenderer(&gateEngine{}, store, notes, nil)

	var results []error
	r.OnResult(func(_ uint, _ string, _ int, err error) { results = append(results, err) })

	r.Schedule(7, "u1", 1, "v1")
	r.wg.Wait()
	first, _ := r.Current(7)

	store.mu.Lock()
	store.putErr = errors.New("bucket unavailable")
	store.mu.Unlock()
	r.Schedule(7, "u1", 2, "v2")
	r.wg.Wait()

	p, ok := r.Current(7)
	if !ok || p != first {
		t.Fatalf("previous preview should survive a failed upload, got %+v ok=%v", p, ok)
	}
	if keys := store.keys(); len(keys) != 1 || keys[0] != first.ObjectKey {
		t.Fatalf("previous object must stay stored, got %v", keys)
	}
	if got := notes.types(); got[len(got)-1] != notify.TypePreviewFailed {
		t.Fatalf("expected preview_failed, got %v", got)
	}
	if len(results) != 2 || results[1] == nil {
		t.Fatalf("expected the failed upload reported, got %v", results)
	}
}

func TestScheduleCoalescesToLatest(t *testing.T) {
	engine := &gateEngine{started: make(chan struct{}, 8), gate: make(chan struct{})}
	r := NewRenderer(engine, newMemStore(), nil, nil)

	r.Schedule(7, "u1", 1, "v1")
	<-engine.started
	r.Schedule(7, "u1", 2, "v2")
	r.Schedule(7, "u1", 3, "v3")
	r.Schedule(7, "u1", 4, "v4")
	close(engine.gate)
	r.wg.Wait()

	if got := engine.rendered(); strings.Join(got, ",") != "v1,v4" {
		t.Fatalf("rendered %v, want v1,v4", got)
	}
	if p, _ := r.Current(7); p.Version != 4 {
		t.Fatalf("expected version 4 current, got %d", p.Version)
	}
}

func TestReleaseDeletesPreview(t *testing.T) {
	store := newMemStore()
	r := NewRenderer(&gateEngine{}, store, nil, nil)

	r.Schedule(7, "u1", 1, "v1")
	r.wg.Wait()
	r.Release(7)

	if _, ok := r.Current(7); ok {
		t.Fatal("preview still current after release")
	}
	if keys := store.keys(); len(keys) != 0 {
		t.Fatalf("objects left after release: %v", keys)
	}
	r.Release(7)
}

func TestReleaseDuringRenderDropsResult(t *testing.T) {
	store := newMemStore()
	engine := &gateEngine{started: make(chan struct{}, 1), gate: make(chan struct{})}
	r := NewRenderer(engine, store, nil, nil)

	r.Schedule(7, "u1", 1, "v1")
	<-engine.started
	r.Release(7)
	close(engine.gate)
	r.wg.Wait()

	if keys := store.keys(); len(keys) != 0 {
		t.Fatalf("released document kept a preview: %v", keys)
	}
	r.mu.Lock()
	_, tracked := r.docs[7]
	r.mu.Unlock()
	if tracked {
		t.Fatal("released document state not dropped")
	}
}
