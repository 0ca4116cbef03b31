package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resumeforge/internal/database"
)

var ErrNotFound = errors.New("template not found")

// Store persists catalog entries in the templates table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func toModel(t Template) (database.Template, error) {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return database.Template{}, fmt.Errorf("marshal tags: %w", err)
	}
	return database.Template{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Category:        t.Category,
		Filename:        t.Filename,
		Markup:          t.Markup,
		Tags:            datatypes.JSON(raw),
		PreviewImageURL: t.PreviewImageURL,
	}, nil
}

func fromModel(m database.Template) Template {
	var tags []string
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	return Template{
		ID:              m.ID,
		Name:            m.Name,
		Description:     m.Description,
		Category:        m.Category,
		Filename:        m.Filename,
		Tags:            tags,
		PreviewImageURL: m.PreviewImageURL,
		Markup:          m.Markup,
	}
}

// Sync upserts templates by ID. The stored preview image URL is kept.
func (s *Store) Sync(ctx context.Context, templates []Template) error {
	if len(templates) == 0 {
		return nil
	}
	rows := make([]database.Template, 0, len(templates))
	for _, t := range templates {
		m, err := toModel(t)
		if err != nil {
			return err
		}
		rows = append(rows, m)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "category", "filename", "markup", "tags", "updated_at"}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert templates: %w", err)
	}
	return nil
}

// List returns every template ordered by ID, without markup.
func (s *Store) List(ctx context.Context) ([]Template, error) {
	var rows []database.Template
	if err := s.db.WithContext(ctx).
		Omit("markup").
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]Template, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModel(r))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (Template, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *Store) GetByFilename(ctx context.Context, filename string) (Template, error) {
	return s.first(ctx, "filename = ?", filename)
}

func (s *Store) first(ctx context.Context, query string, arg any) (Template, error) {
	var row database.Template
	err := s.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Template{}, ErrNotFound
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return fromModel(row), nil
}

// SetPreviewImage stores the thumbnail location for a template.
func (s *Store) SetPreviewImage(ctx context.Context, id, url string) error {
	res := s.db.WithContext(ctx).
		Model(&database.Template{}).
		Where("id = ?", id).
		Update("preview_image_url", url)
	if res.Error != nil {
		return fmt.Errorf("update template preview: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
