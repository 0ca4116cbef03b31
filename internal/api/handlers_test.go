package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"resumeforge/internal/api/middleware"
	"resumeforge/internal/auth"
	"resumeforge/internal/catalog"
	"resumeforge/internal/database"
	"resumeforge/internal/document"
	"resumeforge/internal/errcode"
	"resumeforge/internal/llm"
	"resumeforge/internal/session"
	"resumeforge/internal/storage"
	"resumeforge/internal/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenVerifier 把令牌本身当作用户 ID。
type tokenVerifier struct{}

func (tokenVerifier) Verify(token string) (auth.Identity, error) {
	if token == "bad" {
		return auth.Identity{}, errcode.Auth("invalid token")
	}
	return auth.Identity{UserID: token}, nil
}

type fakeEdits struct {
	mu   sync.Mutex
	reqs []llm.EditRequest
	res  llm.EditResult
	err  error
}

func (f *fakeEdits) Modify(_ context.Context, req llm.EditRequest) (llm.EditResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type memDocs struct {
	mu      sync.Mutex
	docs    map[uint]*database.Document
	exports []string
	deleted []uint
}

func newMemDocs(docs ...database.Document) *memDocs {
	m := &memDocs{docs: make(map[uint]*database.Document)}
	for i := range docs {
		d := docs[i]
		m.docs[d.ID] = &d
	}
	return m
}

func (m *memDocs) get(userID string, id uint) (*database.Document, error) {
	d, ok := m.docs[id]
	if !ok || d.UserID != userID {
		return nil, document.ErrNotFound
	}
	return d, nil
}

func (m *memDocs) Create(_ context.Context, userID, title string) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &database.Document{UserID: userID, Title: title, Version: 1}
	d.ID = uint(len(m.docs) + 1)
	m.docs[d.ID] = d
	return d, nil
}

func (m *memDocs) Load(_ context.Context, userID string, id uint) (*database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(userID, id)
	if err != nil {
		return nil, err
	}
	cp := *d
	return &cp, nil
}

func (m *memDocs) SetTitle(_ context.Context, userID string, id uint, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(userID, id)
	if err != nil {
		return err
	}
	d.Title = title
	return nil
}

func (m *memDocs) SetExport(_ context.Context, userID string, id uint, status, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(userID, id)
	if err != nil {
		return err
	}
	d.ExportStatus, d.PdfObjectKey = status, key
	m.exports = append(m.exports, status)
	return nil
}

func (m *memDocs) Delete(_ context.Context, userID string, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(userID, id); err != nil {
		return err
	}
	delete(m.docs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memDocs) List(_ context.Context, userID string) ([]database.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type memObjects struct {
	mu       sync.Mutex
	prefixes []string
	presign  []string
}

func (o *memObjects) PutBytes(context.Context, string, []byte, string) error { return nil }
func (o *memObjects) Delete(context.Context, string) error                  { return nil }

func (o *memObjects) PresignedURL(_ context.Context, key string, _ time.Duration, filename string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presign = append(o.presign, filename)
	return "https://files.example/" + key, nil
}

func (o *memObjects) DeletePrefix(_ context.Context, prefix string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefixes = append(o.prefixes, prefix)
	return nil
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

type staticCatalog []catalog.Template

func (s staticCatalog) List(context.Context) ([]catalog.Template, error) { return s, nil }

func (s staticCatalog) Get(_ context.Context, id string) (catalog.Template, error) {
	for _, t := range s {
		if t.ID == id {
			return t, nil
		}
	}
	return catalog.Template{}, catalog.ErrNotFound
}

func (s staticCatalog) GetByFilename(_ context.Context, name string) (catalog.Template, error) {
	for _, t := range s {
		if t.Filename == name {
			return t, nil
		}
	}
	return catalog.Template{}, catalog.ErrNotFound
}

type testServer struct {
	router  *gin.Engine
	edits   *fakeEdits
	docs    *memDocs
	objects *memObjects
	queue   *fakeQueue
	counter *fakeCounter
}

func newTestServer(t *testing.T, docs ...database.Document) *testServer {
	t.Helper()
	ts := &testServer{
		router:  gin.New(),
		edits:   &fakeEdits{},
		docs:    newMemDocs(docs...),
		objects: &memObjects{},
		queue:   &fakeQueue{},
		counter: &fakeCounter{counts: map[string]int64{}},
	}
	wf := session.NewWorkflow(session.Deps{Edits: ts.edits, Docs: nopPersister{}}, session.Limits{})
	sessions := session.NewManager(wf)

	authMW := middleware.AuthMiddleware(tokenVerifier{})
	quota := NewLLMQuota(ts.counter, 100)
	editor := NewEditorHandler(wf, ts.edits, nil, quota, nil, 0)
	docsHandler := NewDocumentHandler(ts.docs, ts.objects, ts.queue, sessions)
	sessionHandler := NewSessionHandler(sessions, nil, quota, 0)
	templates := NewTemplateHandler(staticCatalog{
		{ID: "modern_minimal", Name: "Modern Minimal", Category: "modern", Filename: "modern_minimal.html", Tags: []string{"clean"}, Markup: "<html>mm</html>"},
		{ID: "classic_serif", Name: "Classic Serif", Category: "classic", Filename: "classic_serif.html"},
	})

	v1 := ts.router.Group("/v1", authMW)
	v1.POST("/modify-resume", editor.ModifyResume)
	v1.POST("/process_html", editor.ProcessHTML)
	v1.GET("/templates", templates.ListTemplates)
	v1.GET("/templates/get-raw-code", templates.GetRawCode)
	v1.GET("/templates/:id", templates.GetTemplate)
	v1.DELETE("/documents/:id", docsHandler.DeleteDocument)
	v1.POST("/documents/:id/export", docsHandler.ExportDocument)
	v1.GET("/documents/:id/download-link", docsHandler.GetDownloadLink)
	v1.POST("/documents/:id/session/messages", sessionHandler.PostMessage)
	return ts
}

type nopPersister struct{}

func (nopPersister) Load(context.Context, string, uint) (*database.Document, error) {
	return nil, document.ErrNotFound
}
func (nopPersister) Save(context.Context, string, uint, string, int, *string) error { return nil }
func (nopPersister) SetTitle(context.Context, string, uint, string) error             { return nil }
func (nopPersister) SetExtractedData(context.Context, string, uint, string, string, string) error {
	return nil
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer user-1")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer bad")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
	if code := decode(t, w)["error_code"]; code != float64(errcode.AuthFailed) {
		t.Fatalf("expected error_code %d, got %v", errcode.AuthFailed, code)
	}
}

func TestModifyResumeSuccess(t *testing.T) {
	ts := newTestServer(t)
	ts.edits.res = llm.EditResult{HTML: "<html>new</html>", Reply: "done"}

	w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":"shorter"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["success"] != true || body["html_code"] != "<html>new</html>" || body["reply_text"] != "done" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestModifyResumeRejectedKeepsOriginal(t *testing.T) {
	ts := newTestServer(t)
	ts.edits.err = errcode.Rejected("model returned invalid html", nil)

	w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":"shorter"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["success"] != false || body["html_code"] != "<html>old</html>" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestModifyResumeTransportFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.edits.err = errcode.Transport("edit service unreachable", errors.New("dial tcp"))

	w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":"shorter"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if code := decode(t, w)["error_code"]; code != float64(errcode.TransportFailure) {
		t.Fatalf("unexpected error_code %v", code)
	}
}

func TestModifyResumeRequiresPrompt(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(ts.edits.reqs) != 0 {
		t.Fatal("empty prompt must not reach the edit service")
	}
}

func TestModifyResumeTruncatesHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.edits.res = llm.EditResult{HTML: "<html>x</html>"}

	turns := make([]llm.Turn, 8)
	for i := range turns {
		turns[i] = llm.Turn{Role: "user", Text: string(rune('a' + i))}
	}
	payload, _ := json.Marshal(modifyRequest{HTMLCode: "<html>old</html>", Prompt: "go", History: turns})

	w := ts.do(http.MethodPost, "/v1/modify-resume", string(payload))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	got := ts.edits.reqs[0].History
	if len(got) != llm.MaxHistoryTurns {
		t.Fatalf("expected %d turns, got %d", llm.MaxHistoryTurns, len(got))
	}
	if got[0].Text != "d" || got[len(got)-1].Text != "h" {
		t.Fatalf("expected most recent turns, got %+v", got)
	}
}

func TestListTemplatesFilters(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/v1/templates?category=modern", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list, _ := decode(t, w)["templates"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 template, got %v", list)
	}

	w = ts.do(http.MethodGet, "/v1/templates?q=CLEAN", "")
	list, _ = decode(t, w)["templates"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected tag match, got %v", list)
	}
}

func TestGetTemplateAndRawCode(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(http.MethodGet, "/v1/templates/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w := ts.do(http.MethodGet, "/v1/templates/get-raw-code?filename=modern_minimal.html", "")
	if w.Code != http.StatusOK || w.Body.String() != "<html>mm</html>" {
		t.Fatalf("unexpected raw code response %d %q", w.Code, w.Body.String())
	}

	w = ts.do(http.MethodGet, "/v1/templates/get-raw-code?filename=../secret.html", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for path filename, got %d", w.Code)
	}
}

func TestDeleteDocumentRequiresConfirm(t *testing.T) {
	doc := database.Document{UserID: "user-1", Title: "CV"}
	doc.ID = 3
	ts := newTestServer(t, doc)

	if w := ts.do(http.MethodDelete, "/v1/documents/3", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirm, got %d", w.Code)
	}
	if len(ts.docs.deleted) != 0 {
		t.Fatal("document deleted without confirmation")
	}

	if w := ts.do(http.MethodDelete, "/v1/documents/3?confirm=true", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(ts.docs.deleted) != 1 {
		t.Fatalf("expected row deleted, got %v", ts.docs.deleted)
	}
	if got, want := len(ts.objects.prefixes), len(storage.DocumentPrefixes("user-1", 3)); got != want {
		t.Fatalf("expected %d prefixes cleaned, got %v", want, ts.objects.prefixes)
	}
}

func TestDocumentOfAnotherUserIsNotFound(t *testing.T) {
	doc := database.Document{UserID: "someone-else", HTMLContent: "<html></html>"}
	doc.ID = 4
	ts := newTestServer(t, doc)

	if w := ts.do(http.MethodPost, "/v1/documents/4/export", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/v1/documents/abc/download-link", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestExportDocumentEnqueues(t *testing.T) {
	doc := database.Document{UserID: "user-1", Title: "CV", HTMLContent: "<html>cv</html>", Version: 4}
	doc.ID = 5
	ts := newTestServer(t, doc)

	w := ts.do(http.MethodPost, "/v1/documents/5/export", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["task_id"] != "task-1" || body["version"] != float64(4) {
		t.Fatalf("unexpected body %v", body)
	}
	if len(ts.queue.tasks) != 1 || ts.queue.tasks[0].Type() != tasks.TypePDFExport {
		t.Fatalf("expected one export task, got %v", ts.queue.tasks)
	}
	var p tasks.PDFExportPayload
	if err := json.Unmarshal(ts.queue.tasks[0].Payload(), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.DocumentID != 5 || p.UserID != "user-1" || p.Version != 4 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if ts.docs.exports[0] != database.ExportStatusPending {
		t.Fatalf("expected pending status, got %v", ts.docs.exports)
	}
}

func TestExportEmptyDocumentIsValidationError(t *testing.T) {
	doc := database.Document{UserID: "user-1"}
	doc.ID = 6
	ts := newTestServer(t, doc)

	if w := ts.do(http.MethodPost, "/v1/documents/6/export", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(ts.queue.tasks) != 0 {
		t.Fatal("empty document must not be enqueued")
	}
}

func TestDownloadLink(t *testing.T) {
	doc := database.Document{UserID: "user-1", Title: "Jane CV", ExportStatus: database.ExportStatusProcessing}
	doc.ID = 7
	ts := newTestServer(t, doc)

	if w := ts.do(http.MethodGet, "/v1/documents/7/download-link", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while processing, got %d", w.Code)
	}

	ts.docs.docs[7].ExportStatus = database.ExportStatusCompleted
	ts.docs.docs[7].PdfObjectKey = "exports/7.pdf"
	w := ts.do(http.MethodGet, "/v1/documents/7/download-link", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if url := decode(t, w)["url"]; url != "https://files.example/exports/7.pdf" {
		t.Fatalf("unexpected url %v", url)
	}
	if ts.objects.presign[0] != "Jane CV.pdf" {
		t.Fatalf("unexpected download name %q", ts.objects.presign[0])
	}
}

func TestPostMessageWithoutSession(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/v1/documents/9/session/messages", `{"instruction":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

type fakeCounter struct {
	counts  map[string]int64
	expires int
	err     error
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(ctx context.Context, key string, _ time.Duration) *redis.BoolCmd {
	f.expires++
	return redis.NewBoolResult(true, nil)
}

func rateLimitedRouter(counter redisRateCounter, limit int) *gin.Engine {
	quota := NewLLMQuota(counter, limit)
	r := gin.New()
	r.POST("/llm", middleware.AuthMiddleware(tokenVerifier{}), func(c *gin.Context) {
		if !quota.Allow(c) {
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func hit(r *gin.Engine, user string) int {
	req := httptest.NewRequest(http.MethodPost, "/llm", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestLLMQuota(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}}
	r := rateLimitedRouter(counter, 2)

	for i := 0; i < 2; i++ {
		if code := hit(r, "alice"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := hit(r, "alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := hit(r, "bob"); code != http.StatusOK {
		t.Fatalf("limit must be per user, got %d", code)
	}
	if counter.expires != 2 {
		t.Fatalf("expected ttl set once per key, got %d", counter.expires)
	}
}

func (f *fakeCounter) total() int64 {
	var n int64
	for _, c := range f.counts {
		n += c
	}
	return n
}

func TestInvalidRequestsDoNotConsumeQuota(t *testing.T) {
	ts := newTestServer(t)
	ts.edits.res = llm.EditResult{HTML: "<html>new</html>", Reply: "done"}

	if w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":" "}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/v1/documents/9/session/messages", `{"instruction":"hi"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without session, got %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/v1/process_html", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without file, got %d", w.Code)
	}
	if n := ts.counter.total(); n != 0 {
		t.Fatalf("rejected requests consumed %d quota units", n)
	}

	if w := ts.do(http.MethodPost, "/v1/modify-resume", `{"html_code":"<html>old</html>","prompt":"shorter"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if n := ts.counter.total(); n != 1 {
		t.Fatalf("expected one quota unit for the model call, got %d", n)
	}
}

func TestLLMQuotaFailsOpen(t *testing.T) {
	r := rateLimitedRouter(&fakeCounter{err: errors.New("redis down")}, 1)
	for i := 0; i < 3; i++ {
		if code := hit(r, "alice"); code != http.StatusOK {
			t.Fatalf("expected pass-through when redis fails, got %d", code)
		}
	}
}
