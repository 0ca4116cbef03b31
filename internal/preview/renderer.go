// Package preview keeps one rendered PDF preview per open document.
//
// Renders run in the background, one worker goroutine per document. While a render is in
// flight only the most recent request is kept; intermediate versions are skipped.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"resumeforge/internal/errcode"
	"resumeforge/internal/metrics"
	"resumeforge/internal/notify"
	"resumeforge/internal/pdf"
	"resumeforge/internal/storage"
)

// ErrNoPreview is returned when a document has no rendered preview yet.
var ErrNoPreview = errors.New("no preview available")

const defaultURLTTL = 15 * time.Minute

// Preview describes the stored preview of a document.
type Preview struct {
	Version    int       `json:"version"`
	ObjectKey  string    `json:"-"`
	RenderedAt time.Time `json:"rendered_at"`
}

// ResultFunc observes the outcome of each completed render; err is nil on success.
type ResultFunc func(docID uint, userID string, version int, err error)

type job struct {
	userID  string
	version int
	html    string
}

type docState struct {
	pending  *job
	running  bool
	released bool
	current  Preview
}

// Renderer schedules and stores previews.
type Renderer struct {
	engine   pdf.Engine
	objects  storage.ObjectStore
	notifier notify.Publisher
	logger   *slog.Logger
	urlTTL   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	docs     map[uint]*docState
	onResult ResultFunc
}

func NewRenderer(engine pdf.Engine, objects storage.ObjectStore, notifier notify.Publisher, logger *slog.Logger) *Renderer {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Renderer{
		engine:   engine,
		objects:  objects,
		notifier: notifier,
		logger:   logger,
		urlTTL:   defaultURLTTL,
		ctx:      ctx,
		cancel:   cancel,
		docs:     make(map[uint]*docState),
	}
}

// OnResult registers fn to be called after every render.
func (r *Renderer) OnResult(fn ResultFunc) {
	r.mu.Lock()
	r.onResult = fn
	r.mu.Unlock()
}

// Schedule requests a preview of html. It never blocks.
func (r *Renderer) Schedule(docID uint, userID string, version int, html string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.docs[docID]
	if !ok {
		st = &docState{}
		r.docs[docID] = st
	}
	st.released = false
	if st.pending != nil {
		metrics.ObservePreview("superseded")
	}
	st.pending = &job{userID: userID, version: version, html: html}
	if st.running {
		return
	}
	st.running = true
	r.wg.Add(1)
	go r.run(docID, st)
}

func (r *Renderer) run(docID uint, st *docState) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		j := st.pending
		if j == nil || r.ctx.Err() != nil {
			st.running = false
			if st.released {
				delete(r.docs, docID)
			}
			r.mu.Unlock()
			return
		}
		st.pending = nil
		r.mu.Unlock()

		r.render(docID, st, j)
	}
}

func (r *Renderer) render(docID uint, st *docState, j *job) {
	log := r.logger.With(
		slog.Uint64("document_id", uint64(docID)),
		slog.Int("version", j.version),
	)

	data, err := r.engine.Render(r.ctx, j.html)
	if err != nil {
		r.fail(docID, j, errcode.Transport("preview render failed", err))
		log.Warn("preview render failed", slog.Any("error", err))
		return
	}

	r.mu.Lock()
	if st.pending != nil || st.released {
		r.mu.Unlock()
		metrics.ObservePreview("superseded")
		return
	}
	r.mu.Unlock()

	// 新预览写入成功后才替换并释放旧预览，写入失败时旧预览保持可用
	key := storage.PreviewKey(docID, j.version)
	if err := r.objects.PutBytes(r.ctx, key, data, "application/pdf"); err != nil {
		r.fail(docID, j, err)
		log.Error("store preview failed", slog.String("key", key), slog.Any("error", err))
		return
	}

	r.mu.Lock()
	if st.released {
		r.mu.Unlock()
		_ = r.objects.Delete(r.ctx, key)
		return
	}
	prev := st.current
	st.current = Preview{Version: j.version, ObjectKey: key, RenderedAt: time.Now()}
	r.mu.Unlock()

	if prev.ObjectKey != "" {
		if err := r.objects.Delete(r.ctx, prev.ObjectKey); err != nil {
			log.Warn("release previous preview failed", slog.String("key", prev.ObjectKey), slog.Any("error", err))
		}
	}

	metrics.ObservePreview("ok")
	url, err := r.objects.PresignedURL(r.ctx, key, r.urlTTL, "")
	if err != nil {
		log.Warn("presign preview failed", slog.Any("error", err))
	}
	_ = r.notifier.Publish(r.ctx, j.userID, notify.Message{
		Type:       notify.TypePreviewReady,
		DocumentID: docID,
		Version:    j.version,
		URL:        url,
	})
	r.report(docID, j, nil)
	log.Debug("preview stored", slog.String("key", key), slog.Int("bytes", len(data)))
}

func (r *Renderer) fail(docID uint, j *job, err error) {
	metrics.ObservePreview("failed")
	_ = r.notifier.Publish(r.ctx, j.userID, notify.Message{
		Type:         notify.TypePreviewFailed,
		DocumentID:   docID,
		Version:      j.version,
		ErrorCode:    errcode.KindOf(err).Code(),
		ErrorMessage: errcode.Message(err),
	})
	r.report(docID, j, err)
}

func (r *Renderer) report(docID uint, j *job, err error) {
	r.mu.Lock()
	fn := r.onResult
	r.mu.Unlock()
	if fn != nil {
		fn(docID, j.userID, j.version, err)
	}
}

// Current returns the stored preview of docID.
func (r *Renderer) Current(docID uint) (Preview, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.docs[docID]
	if !ok || st.current.ObjectKey == "" {
		return Preview{}, false
	}
	return st.current, true
}

// URL presigns the stored preview of docID.
func (r *Renderer) URL(ctx context.Context, docID uint) (string, Preview, error) {
	p, ok := r.Current(docID)
	if !ok {
		return "", Preview{}, ErrNoPreview
	}
	url, err := r.objects.PresignedURL(ctx, p.ObjectKey, r.urlTTL, "")
	if err != nil {
		return "", Preview{}, err
	}
	return url, p, nil
}

// Release drops any pending render of docID and deletes its stored preview.
func (r *Renderer) Release(docID uint) {
	r.mu.Lock()
	st, ok := r.docs[docID]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.pending = nil
	st.released = true
	key := st.current.ObjectKey
	st.current = Preview{}
	if !st.running {
		delete(r.docs, docID)
	}
	r.mu.Unlock()

	if key == "" {
		return
	}
	if err := r.objects.Delete(r.ctx, key); err != nil {
		r.logger.Warn("release preview failed",
			slog.Uint64("document_id", uint64(docID)),
			slog.String("key", key),
			slog.Any("error", err),
		)
	}
}

// Close stops accepting work and waits for running renders to return.
func (r *Renderer) Close() {
	r.cancel()
	r.wg.Wait()
}
