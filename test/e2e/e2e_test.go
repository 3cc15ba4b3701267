package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/builder"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/detector"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/hashcache"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
	"github.com/hyperjump/kagami/internal/watcher"
	"github.com/hyperjump/kagami/pkg/utils"
)

const e2eDimensions = 8

type stack struct {
	dir    string
	store  store.Store
	cache  *hashcache.Cache
	syncer *syncer.Syncer
}

func newStack(t *testing.T) *stack {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "db.sqlite"), "documents")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureTable(context.Background()); err != nil {
		t.Fatal(err)
	}

	cache := hashcache.New(filepath.Join(t.TempDir(), "file_hashes.json"))
	watch := &config.WatchConfig{
		Directory:   dir,
		Extensions:  []string{".md", ".txt"},
		ExcludeDirs: []string{".git", "node_modules"},
	}
	embedder := embedding.NewCachedEmbedder(embedding.NewMockEmbedder(e2eDimensions), 100)
	det := detector.New(st, cache, watch)
	b := builder.New(embedder, 256)
	return &stack{
		dir:    dir,
		store:  st,
		cache:  cache,
		syncer: syncer.New(det, b, st, cache, dir),
	}
}

func (s *stack) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(s.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitForCount polls until the store holds want documents or the deadline
// passes.
func waitForCount(t *testing.T, st store.Store, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		count, err := st.CountDocuments(context.Background())
		if err == nil && count == want {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	count, _ := st.CountDocuments(context.Background())
	t.Fatalf("store count = %d, want %d", count, want)
}

func TestE2E_FullPassMirrorsTree(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	hello := s.write(t, "hello.md", "hello")
	s.write(t, "docs/guide.txt", "a guide")
	s.write(t, "docs/ignore.pdf", "binary")
	s.write(t, ".git/internal.md", "never synced")

	stats, err := s.syncer.RunFullPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Created != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	doc, err := s.store.FindByPath(ctx, hello)
	if err != nil || doc == nil {
		t.Fatalf("doc = %v, err = %v", doc, err)
	}
	if doc.Content != "hello" {
		t.Errorf("content = %q", doc.Content)
	}
	if doc.Metadata.FileHash != utils.HashBytes([]byte("hello")) {
		t.Errorf("hash = %s", doc.Metadata.FileHash)
	}
	if len(doc.Embedding) != e2eDimensions {
		t.Errorf("embedding dims = %d", len(doc.Embedding))
	}
	if doc.Metadata.EmbeddingModel == "" {
		t.Error("embedding model not recorded")
	}
}

func TestE2E_EditAndDeleteConverge(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	path := s.write(t, "hello.md", "hello")

	if _, err := s.syncer.RunFullPass(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := s.store.FindByPath(ctx, path)

	s.write(t, "hello.md", "hello world")
	if _, err := s.syncer.RunFullPass(ctx); err != nil {
		t.Fatal(err)
	}
	updated, _ := s.store.FindByPath(ctx, path)
	if updated.ID != first.ID {
		t.Errorf("edit changed identity: %d -> %d", first.ID, updated.ID)
	}
	if updated.Content != "hello world" {
		t.Errorf("content = %q", updated.Content)
	}
	count, _ := s.store.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("count = %d", count)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := s.syncer.RunFullPass(ctx); err != nil {
		t.Fatal(err)
	}
	count, _ = s.store.CountDocuments(ctx)
	if count != 0 {
		t.Errorf("count after delete = %d", count)
	}
}

func TestE2E_ColdStartWithoutCacheConverges(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.write(t, "a.md", "alpha")

	if _, err := s.syncer.RunFullPass(ctx); err != nil {
		t.Fatal(err)
	}
	// Lose the cache, as after a crash or a fresh checkout.
	s.cache.Clear()

	stats, err := s.syncer.RunFullPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total() != 0 {
		t.Errorf("cache loss caused mutations: %+v", stats)
	}
	count, _ := s.store.CountDocuments(ctx)
	if count != 1 {
		t.Errorf("count = %d", count)
	}
}

func TestE2E_WatcherDrivesSyncLoop(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := watcher.New(s.dir, []string{".md", ".txt"}, []string{".git"},
		watcher.WithDebounce(50*time.Millisecond))
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	done := make(chan error, 1)
	go func() { done <- s.syncer.Run(ctx, w.Events()) }()

	path := s.write(t, "live.md", "first")
	waitForCount(t, s.store, 1, 5*time.Second)

	s.write(t, "live.md", "second")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, _ := s.store.FindByPath(context.Background(), path)
		if doc != nil && doc.Content == "second" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	doc, _ := s.store.FindByPath(context.Background(), path)
	if doc == nil || doc.Content != "second" {
		t.Fatalf("doc = %+v", doc)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitForCount(t, s.store, 0, 5*time.Second)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sync loop did not stop")
	}
}
