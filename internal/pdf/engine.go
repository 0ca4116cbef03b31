// Package pdf renders resume HTML to A4 PDF documents and JPEG thumbnails with a headless browser.
package pdf

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"resumeforge/internal/config"
)

// Engine turns a complete HTML document into PDF bytes.
type Engine interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// Shooter captures a JPEG of the first A4 page of an HTML document.
type Shooter interface {
	Screenshot(ctx context.Context, html string, quality int) ([]byte, error)
}

// A4 in inches.
const (
	paperWidth  = 8.27
	paperHeight = 11.69
)

// A4 at 96dpi.
const (
	viewportWidth  = 794
	viewportHeight = 1123
)

// NewEngine 根据配置选择渲染引擎，并用信号量限制并发的浏览器实例数。
func NewEngine(cfg config.PDFConfig) (*Limited, error) {
	var inner Engine
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", "rod":
		inner = NewRodEngine(cfg.Timeout)
	case "chromedp":
		inner = NewChromedpEngine(cfg.Timeout)
	default:
		return nil, fmt.Errorf("unsupported pdf engine %q", cfg.Engine)
	}
	return NewLimited(inner, cfg.MaxConcurrent), nil
}

// Limited bounds the number of concurrent renders of the wrapped engine.
type Limited struct {
	inner Engine
	sem   *semaphore.Weighted
}

func NewLimited(inner Engine, maxConcurrent int) *Limited {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limited{inner: inner, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

// Render prepares html for print and renders it once a slot is free.
func (l *Limited) Render(ctx context.Context, html string) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for render slot: %w", err)
	}
	defer l.sem.Release(1)
	return l.inner.Render(ctx, Prepare(html))
}

// Screenshot delegates to the wrapped engine when it can capture images.
func (l *Limited) Screenshot(ctx context.Context, html string, quality int) ([]byte, error) {
	shooter, ok := l.inner.(Shooter)
	if !ok {
		return nil, fmt.Errorf("pdf engine %T cannot capture screenshots", l.inner)
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for render slot: %w", err)
	}
	defer l.sem.Release(1)
	return shooter.Screenshot(ctx, Prepare(html), quality)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 60 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
