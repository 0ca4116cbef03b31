// Package document persists the latest snapshot of each resume, scoped to its owner.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"resumeforge/internal/database"
)

// ErrNotFound is returned when the row does not exist or belongs to another user.
var ErrNotFound = errors.New("document not found")

const defaultTitle = "Untitled resume"

// Store is the gorm-backed persistence adapter. Every query filters on user_id.
// Writes are last-write-wins: there is no concurrency token on the row.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts an empty document at version 1.
func (s *Store) Create(ctx context.Context, userID, title string) (*database.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	doc := &database.Document{
		UserID:  userID,
		Title:   title,
		Version: 1,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, nil
}

func (s *Store) Load(ctx context.Context, userID string, id uint) (*database.Document, error) {
	var doc database.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %d: %w", id, err)
	}
	return &doc, nil
}

// Save overwrites html_content and version. title is only written when non-nil.
func (s *Store) Save(ctx context.Context, userID string, id uint, html string, version int, title *string) error {
	updates := map[string]any{
		"html_content": html,
		"version":      version,
	}
	if title != nil {
		updates["title"] = strings.TrimSpace(*title)
	}
	return s.update(ctx, userID, id, updates)
}

// SetTitle updates only the title, leaving html_content and version to the edit loop.
func (s *Store) SetTitle(ctx context.Context, userID string, id uint, title string) error {
	return s.update(ctx, userID, id, map[string]any{"title": strings.TrimSpace(title)})
}

// SetExtractedData stores the plain text extracted during ingestion.
func (s *Store) SetExtractedData(ctx context.Context, userID string, id uint, text, templateID, sourceKey string) error {
	return s.update(ctx, userID, id, map[string]any{
		"extracted_data":    text,
		"template_id":       templateID,
		"source_object_key": sourceKey,
	})
}

// SetExport records the state of the asynchronous PDF export.
func (s *Store) SetExport(ctx context.Context, userID string, id uint, status, objectKey string) error {
	updates := map[string]any{"export_status": status}
	if objectKey != "" {
		updates["pdf_object_key"] = objectKey
	}
	return s.update(ctx, userID, id, updates)
}

func (s *Store) update(ctx context.Context, userID string, id uint, updates map[string]any) error {
	res := s.db.WithContext(ctx).
		Model(&database.Document{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update document %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row. Callers must obtain explicit confirmation beforehand.
func (s *Store) Delete(ctx context.Context, userID string, id uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&database.Document{})
	if res.Error != nil {
		return fmt.Errorf("delete document %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the user's documents, most recently updated first, without html bodies.
func (s *Store) List(ctx context.Context, userID string) ([]database.Document, error) {
	var docs []database.Document
	err := s.db.WithContext(ctx).
		Select("id", "created_at", "updated_at", "user_id", "title", "version", "template_id", "export_status").
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
