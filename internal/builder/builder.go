// Package builder assembles document records from files on disk.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/pkg/utils"
)

// charsPerToken is the deterministic character-count heuristic used to
// approximate the provider token budget.
const charsPerToken = 4

// Builder reads a file and produces the document to store: content
// (truncated to the token budget), typed metadata, and the embedding
// vector. The content hash always covers the raw file bytes, never the
// truncated text, so document identity does not depend on the budget.
type Builder struct {
	embedder  embedding.Embedder
	maxTokens int
	logger    *zap.Logger // optional; when set, logs skipped files
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a builder embedding with embedder and truncating content to
// maxTokens (approximated as maxTokens * 4 characters).
func New(embedder embedding.Embedder, maxTokens int, opts ...Option) *Builder {
	b := &Builder{embedder: embedder, maxTokens: maxTokens}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the document for path. It returns (nil, nil) when the
// file cannot be used — unreadable, vanished between event and processing,
// or not valid UTF-8 text — which callers treat as a recoverable skip. A
// non-nil error means the embedding call failed after exhausting retries.
func (b *Builder) Build(ctx context.Context, path string) (*models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil || !info.Mode().IsRegular() {
		b.skip(absPath, "not a readable regular file", err)
		return nil, nil
	}
	raw, err := os.ReadFile(absPath)
	if err != nil {
		b.skip(absPath, "read failed", err)
		return nil, nil
	}
	if !utf8.Valid(raw) {
		b.skip(absPath, "not valid UTF-8 text", nil)
		return nil, nil
	}

	hash := utils.HashBytes(raw)
	content, truncated := TruncateToBudget(string(raw), b.maxTokens*charsPerToken)

	vector, err := b.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", absPath, err)
	}

	return &models.Document{
		Content:   content,
		Embedding: vector,
		Metadata: models.Metadata{
			Filename:       filepath.Base(absPath),
			Path:           absPath,
			FileSize:       info.Size(),
			LastModified:   info.ModTime().UTC(),
			FileHash:       hash,
			IsTruncated:    truncated,
			ProcessedAt:    time.Now().UTC(),
			EmbeddingModel: b.embedder.Model(),
		},
	}, nil
}

func (b *Builder) skip(path, reason string, err error) {
	if b.logger == nil {
		return
	}
	fields := []zap.Field{zap.String("path", path), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	b.logger.Debug("builder skipping file", fields...)
}

// TruncateToBudget returns text cut to at most maxChars characters. When
// truncation happens, the cut lands on a rune boundary and an explicit
// length note is appended so downstream consumers know the stored content
// is partial.
func TruncateToBudget(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(text) <= maxChars {
		return text, false
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	note := fmt.Sprintf("\n\n[Content truncated: original length %d characters]", len(text))
	return text[:cut] + note, true
}
