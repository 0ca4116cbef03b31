package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"resumeforge/internal/catalog"
	"resumeforge/internal/database"
	"resumeforge/internal/errcode"
	"resumeforge/internal/history"
	"resumeforge/internal/llm"
	"resumeforge/internal/notify"
	"resumeforge/internal/scan"
	"resumeforge/internal/storage"
)

// EditService performs one model-backed edit.
type EditService interface {
	Modify(ctx context.Context, req llm.EditRequest) (llm.EditResult, error)
}

// TemplateFiller produces the first HTML version from a template and resume text.
type TemplateFiller interface {
	Fill(ctx context.Context, templateMarkup, resumeText string) (string, error)
}

// Persister is the durable document row.
type Persister interface {
	Load(ctx context.Context, userID string, id uint) (*database.Document, error)
	Save(ctx context.Context, userID string, id uint, html string, version int, title *string) error
	SetTitle(ctx context.Context, userID string, id uint, title string) error
	SetExtractedData(ctx context.Context, userID string, id uint, text, templateID, sourceKey string) error
}

// Previewer renders previews in the background.
type Previewer interface {
	Schedule(docID uint, userID string, version int, html string)
	Release(docID uint)
}

// TemplateSource looks templates up by id.
type TemplateSource interface {
	Get(ctx context.Context, id string) (catalog.Template, error)
}

// Workflow wires a Session to its collaborators.
type Workflow struct {
	edits     EditService
	filler    TemplateFiller
	docs      Persister
	previews  Previewer
	templates TemplateSource
	objects   storage.ObjectStore
	scanner   scan.Scanner
	notifier  notify.Publisher
	logger    *slog.Logger

	maxHistory    int
	maxUploadSize int64
	extensions    []string
}

// Deps groups the collaborators of a Workflow. Objects, Scanner and Notifier are optional.
type Deps struct {
	Edits     EditService
	Filler    TemplateFiller
	Docs      Persister
	Previews  Previewer
	Templates TemplateSource
	Objects   storage.ObjectStore
	Scanner   scan.Scanner
	Notifier  notify.Publisher
	Logger    *slog.Logger
}

// Limits bounds conversation context and uploads.
type Limits struct {
	MaxHistoryTurns   int
	MaxUploadBytes    int64
	AllowedExtensions []string
}

func NewWorkflow(d Deps, lim Limits) *Workflow {
	w := &Workflow{
		edits:         d.Edits,
		filler:        d.Filler,
		docs:          d.Docs,
		previews:      d.Previews,
		templates:     d.Templates,
		objects:       d.Objects,
		scanner:       d.Scanner,
		notifier:      d.Notifier,
		logger:        d.Logger,
		maxHistory:    lim.MaxHistoryTurns,
		maxUploadSize: lim.MaxUploadBytes,
		extensions:    lim.AllowedExtensions,
	}
	if w.scanner == nil {
		w.scanner = scan.Nop{}
	}
	if w.notifier == nil {
		w.notifier = notify.Discard{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.maxHistory <= 0 || w.maxHistory > llm.MaxHistoryTurns {
		w.maxHistory = llm.MaxHistoryTurns
	}
	if w.maxUploadSize <= 0 {
		w.maxUploadSize = 10 << 20
	}
	return w
}

// Turn is the outcome of one submission.
type Turn struct {
	Reply   string `json:"reply_text"`
	HTML    string `json:"html_code"`
	Version int    `json:"version"`
	Changed bool   `json:"changed"`
	Failed  bool   `json:"failed"`
}

// Submit sends instruction to the edit service. An empty instruction is rejected before any
// call. When the service fails, a failure notice is appended to the chat, the current version
// is unchanged, and the error is returned together with the Turn.
func (w *Workflow) Submit(ctx context.Context, s *Session, instruction string) (Turn, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return Turn{}, errcode.Validation("instruction is required")
	}
	if !s.acquire() {
		return Turn{}, ErrBusy
	}
	defer s.release()
	s.touch()

	log := w.logger.With(slog.Uint64("document_id", uint64(s.DocumentID)), slog.String("user_id", s.UserID))

	s.mu.Lock()
	cur, err := s.history.Current()
	if err != nil {
		s.mu.Unlock()
		return Turn{}, errcode.Validation("document has no content yet, upload a resume first")
	}
	recent := s.recentTurns(w.maxHistory)
	extracted := s.extracted
	s.appendChat(RoleUser, instruction, cur.ID, false)
	s.mu.Unlock()

	req := llm.EditRequest{
		HTML:          cur.HTML,
		Prompt:        instruction,
		ExtractedData: extracted,
		History:       make([]llm.Turn, 0, len(recent)),
	}
	for _, t := range recent {
		req.History = append(req.History, llm.Turn{Role: t.role, Text: t.text})
	}

	res, err := w.edits.Modify(ctx, req)
	if err != nil {
		notice := failureNotice(err)
		s.mu.Lock()
		s.appendChat(RoleAssistant, notice, cur.ID, true)
		s.mu.Unlock()
		log.Warn("edit failed", slog.String("kind", errcode.KindOf(err).String()), slog.Any("error", err))
		return Turn{Reply: notice, HTML: cur.HTML, Version: cur.ID, Failed: true}, err
	}

	turn := Turn{Reply: res.Reply, HTML: cur.HTML, Version: cur.ID}
	s.mu.Lock()
	if res.HTML != cur.HTML {
		turn.Version = s.history.Append(res.HTML)
		turn.HTML = res.HTML
		turn.Changed = true
	}
	s.appendChat(RoleAssistant, res.Reply, turn.Version, false)
	s.mu.Unlock()

	if turn.Changed {
		log.Info("version appended", slog.Int("version", turn.Version))
		w.commit(ctx, s, history.Entry{ID: turn.Version, HTML: turn.HTML}, nil)
	}
	return turn, nil
}

// UndoResult reports the version current after an undo.
type UndoResult struct {
	Version int    `json:"version"`
	HTML    string `json:"html_code"`
	Undone  bool   `json:"undone"`
}

// Undo moves back one version. At the first version it is a no-op with Undone=false.
func (w *Workflow) Undo(ctx context.Context, s *Session) (UndoResult, error) {
	if !s.acquire() {
		return UndoResult{}, ErrBusy
	}
	defer s.release()
	s.touch()

	s.mu.Lock()
	entry, ok := s.history.Undo()
	if !ok {
		cur, err := s.history.Current()
		s.mu.Unlock()
		if errors.Is(err, history.ErrEmpty) {
			return UndoResult{}, nil
		}
		return UndoResult{Version: cur.ID, HTML: cur.HTML}, nil
	}
	s.mu.Unlock()

	w.commit(ctx, s, entry, nil)
	return UndoResult{Version: entry.ID, HTML: entry.HTML, Undone: true}, nil
}

// Rename persists a new title. Only the title column is written, so a rename racing an
// in-flight edit cannot put an older version back on the row.
func (w *Workflow) Rename(ctx context.Context, s *Session, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return errcode.Validation("title is required")
	}
	if err := w.docs.SetTitle(ctx, s.UserID, s.DocumentID, title); err != nil {
		return err
	}
	s.mu.Lock()
	s.title = title
	s.mu.Unlock()
	return nil
}

// Resume builds a session from the stored row. Only the latest snapshot survives between
// sessions, so the restored history has a single entry. No preview is scheduled here; the
// caller does that once the session is reachable.
func (w *Workflow) Resume(ctx context.Context, userID string, docID uint) (*Session, error) {
	doc, err := w.docs.Load(ctx, userID, docID)
	if err != nil {
		return nil, err
	}

	s := New(doc.ID, userID, doc.Title)
	s.extracted = doc.ExtractedData
	s.templateID = doc.TemplateID
	if doc.HTMLContent != "" {
		version := doc.Version
		if version <= 0 {
			version = 1
		}
		if err := s.history.ReplaceAll([]history.Entry{{ID: version, HTML: doc.HTMLContent}}, version); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// previewRestored schedules a preview of a resumed snapshot when it is long enough to render.
func (w *Workflow) previewRestored(s *Session) {
	cur, err := s.Current()
	if err != nil || len(cur.HTML) < MinPreviewLength {
		return
	}
	w.previews.Schedule(s.DocumentID, s.UserID, cur.ID, cur.HTML)
}

// commit saves entry as the document's latest snapshot and schedules a preview. A failed save
// is recorded on the session and published; it is not retried and does not undo the version.
func (w *Workflow) commit(ctx context.Context, s *Session, entry history.Entry, title *string) {
	if err := w.docs.Save(ctx, s.UserID, s.DocumentID, entry.HTML, entry.ID, title); err != nil {
		w.logger.Error("save document failed",
			slog.Uint64("document_id", uint64(s.DocumentID)),
			slog.Int("version", entry.ID),
			slog.Any("error", err),
		)
		s.setSaveError("could not save version " + strconv.Itoa(entry.ID))
		_ = w.notifier.Publish(ctx, s.UserID, notify.Message{
			Type:         notify.TypeSaveFailed,
			DocumentID:   s.DocumentID,
			Version:      entry.ID,
			ErrorCode:    errcode.SystemError,
			ErrorMessage: "could not save the latest version",
		})
	} else {
		s.setSaveError("")
	}
	w.previews.Schedule(s.DocumentID, s.UserID, entry.ID, entry.HTML)
}

func failureNotice(err error) string {
	switch errcode.KindOf(err) {
	case errcode.KindTransport:
		return "Sorry, I couldn't reach the editing service: " + errcode.Message(err) + ". Your resume was not changed."
	case errcode.KindRejected:
		return "Sorry, the editing service returned an unusable result: " + errcode.Message(err) + ". Your resume was not changed."
	default:
		return "Sorry, something went wrong while applying your request. Your resume was not changed."
	}
}
