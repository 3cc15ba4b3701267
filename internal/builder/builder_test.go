package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/pkg/utils"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuild_AssemblesDocument(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.md", "hello world")
	b := New(embedding.NewMockEmbedder(8), 100)

	doc, err := b.Build(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Fatal("expected document")
	}
	if doc.Content != "hello world" {
		t.Errorf("content = %q", doc.Content)
	}
	if doc.Metadata.IsTruncated {
		t.Error("short content should not be truncated")
	}
	if doc.Metadata.FileHash != utils.HashBytes([]byte("hello world")) {
		t.Errorf("hash = %s", doc.Metadata.FileHash)
	}
	if doc.Metadata.Filename != "a.md" {
		t.Errorf("filename = %s", doc.Metadata.Filename)
	}
	if !filepath.IsAbs(doc.Metadata.Path) {
		t.Errorf("path should be absolute: %s", doc.Metadata.Path)
	}
	if doc.Metadata.FileSize != 11 {
		t.Errorf("size = %d", doc.Metadata.FileSize)
	}
	if doc.Metadata.EmbeddingModel != "mock" {
		t.Errorf("model = %s", doc.Metadata.EmbeddingModel)
	}
	if doc.Metadata.ProcessedAt.IsZero() || doc.Metadata.LastModified.IsZero() {
		t.Error("timestamps should be set")
	}
	if len(doc.Embedding) != 8 {
		t.Errorf("embedding = %d dims", len(doc.Embedding))
	}
}

func TestBuild_TruncatesLongContentButHashesRawBytes(t *testing.T) {
	dir := t.TempDir()
	long := strings.Repeat("x", 1000)
	path := writeFile(t, dir, "long.md", long)
	// 100 tokens * 4 chars = 400 char budget.
	b := New(embedding.NewMockEmbedder(8), 100)

	doc, err := b.Build(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Metadata.IsTruncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasPrefix(doc.Content, strings.Repeat("x", 400)) {
		t.Error("content should keep the first 400 chars")
	}
	if !strings.Contains(doc.Content, "[Content truncated: original length 1000 characters]") {
		t.Errorf("missing length note: %q", doc.Content[390:])
	}
	// Identity covers the raw bytes, not the truncated text.
	if doc.Metadata.FileHash != utils.HashBytes([]byte(long)) {
		t.Error("hash should cover raw file bytes")
	}
}

func TestBuild_MissingFileIsSkip(t *testing.T) {
	b := New(embedding.NewMockEmbedder(8), 100)
	doc, err := b.Build(context.Background(), filepath.Join(t.TempDir(), "gone.md"))
	if err != nil {
		t.Fatalf("missing file should be a skip, got %v", err)
	}
	if doc != nil {
		t.Error("expected nil document")
	}
}

func TestBuild_NonUTF8IsSkip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin.md")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x80}, 0600); err != nil {
		t.Fatal(err)
	}
	b := New(embedding.NewMockEmbedder(8), 100)
	doc, err := b.Build(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc != nil {
		t.Error("non-UTF8 content should be skipped")
	}
}

func TestTruncateToBudget(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxChars  int
		truncated bool
	}{
		{"under budget", "short", 10, false},
		{"exactly budget", "12345", 5, false},
		{"over budget", "123456", 5, true},
		{"zero budget means unlimited", strings.Repeat("x", 100), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := TruncateToBudget(tt.text, tt.maxChars)
			if truncated != tt.truncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.truncated)
			}
			if !truncated && got != tt.text {
				t.Errorf("untruncated content changed: %q", got)
			}
		})
	}
}

func TestTruncateToBudget_RuneBoundary(t *testing.T) {
	// Four 3-byte runes; a 7-byte budget falls mid-rune and must back off.
	text := "日本語字"
	got, truncated := TruncateToBudget(text, 7)
	if !truncated {
		t.Fatal("expected truncation")
	}
	body := strings.SplitN(got, "\n\n[Content truncated", 2)[0]
	if body != "日本" {
		t.Errorf("body = %q", body)
	}
}
