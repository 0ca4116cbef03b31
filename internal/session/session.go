// Package session hosts the per-document editing workflow: the version history, the chat log,
// ingestion progress and the single in-flight model request.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"resumeforge/internal/history"
)

// ErrBusy is returned when another model request is already running for the session.
var ErrBusy = errors.New("another request is already in progress for this document")

// MinPreviewLength is the shortest stored snapshot worth previewing on resume.
const MinPreviewLength = 100

// Stage is the ingestion progress state.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageUploading      Stage = "uploading"
	StageExtracting     Stage = "extracting"
	StageAnalyzing      Stage = "analyzing"
	StageApplyingLayout Stage = "applying_layout"
	StageFinalizing     Stage = "finalizing"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the conversation. VersionID is the version current after the
// message was processed.
type ChatMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	VersionID int       `json:"version_id"`
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the explicit state of one open document.
type Session struct {
	DocumentID uint
	UserID     string

	inflight *semaphore.Weighted
	busy     atomic.Bool

	mu           sync.Mutex
	title        string
	history      *history.History
	chat         []ChatMessage
	extracted    string
	templateID   string
	stage        Stage
	saveError    string
	previewError string
	lastActivity time.Time
}

func New(documentID uint, userID, title string) *Session {
	return &Session{
		DocumentID:   documentID,
		UserID:       userID,
		inflight:     semaphore.NewWeighted(1),
		title:        title,
		history:      history.New(),
		stage:        StageIdle,
		lastActivity: time.Now(),
	}
}

// State is a read-only snapshot for the API.
type State struct {
	DocumentID    uint          `json:"document_id"`
	Title         string        `json:"title"`
	Version       int           `json:"version"`
	HTML          string        `json:"html_code"`
	Versions      []int         `json:"versions"`
	CanUndo       bool          `json:"can_undo"`
	Chat          []ChatMessage `json:"chat"`
	ExtractedData string        `json:"extracted_data,omitempty"`
	TemplateID    string        `json:"template_id,omitempty"`
	Stage         Stage         `json:"stage"`
	Busy          bool          `json:"busy"`
	SaveError     string        `json:"save_error,omitempty"`
	PreviewError  string        `json:"preview_error,omitempty"`
}

func (s *Session) State() State {
	busy := s.busy.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		DocumentID:    s.DocumentID,
		Title:         s.title,
		Chat:          append([]ChatMessage(nil), s.chat...),
		ExtractedData: s.extracted,
		TemplateID:    s.templateID,
		Stage:         s.stage,
		Busy:          busy,
		SaveError:     s.saveError,
		PreviewError:  s.previewError,
	}
	entries := s.history.Entries()
	st.Versions = make([]int, 0, len(entries))
	for _, e := range entries {
		st.Versions = append(st.Versions, e.ID)
	}
	if cur, err := s.history.Current(); err == nil {
		st.Version = cur.ID
		st.HTML = cur.HTML
		st.CanUndo = cur.ID != entries[0].ID
	}
	return st
}

// acquire claims the single in-flight slot without blocking.
func (s *Session) acquire() bool {
	if !s.inflight.TryAcquire(1) {
		return false
	}
	s.busy.Store(true)
	return true
}

func (s *Session) release() {
	s.busy.Store(false)
	s.inflight.Release(1)
}

// Current returns the current version, or history.ErrEmpty.
func (s *Session) Current() (history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Current()
}

// SetPreviewError records the outcome of the latest preview render; empty clears it.
func (s *Session) SetPreviewError(msg string) {
	s.mu.Lock()
	s.previewError = msg
	s.mu.Unlock()
}

func (s *Session) setSaveError(msg string) {
	s.mu.Lock()
	s.saveError = msg
	s.mu.Unlock()
}

func (s *Session) setStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince reports when the session was last used.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// appendChat must be called with mu held.
func (s *Session) appendChat(role, text string, version int, failed bool) {
	s.chat = append(s.chat, ChatMessage{
		Role:      role,
		Text:      text,
		VersionID: version,
		Failed:    failed,
		CreatedAt: time.Now(),
	})
}

// recentTurns returns up to n prior user/assistant messages, oldest first, skipping
// locally generated failure notices. Must be called with mu held.
func (s *Session) recentTurns(n int) []turn {
	out := make([]turn, 0, n)
	for i := len(s.chat) - 1; i >= 0 && len(out) < n; i-- {
		m := s.chat[i]
		if m.Failed {
			continue
		}
		out = append(out, turn{role: m.Role, text: m.Text})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type turn struct {
	role string
	text string
}
