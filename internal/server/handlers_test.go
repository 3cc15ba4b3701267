package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/kagami/internal/builder"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/detector"
	"github.com/hyperjump/kagami/internal/embedding"
	"github.com/hyperjump/kagami/internal/hashcache"
	"github.com/hyperjump/kagami/internal/models"
	"github.com/hyperjump/kagami/internal/store"
	"github.com/hyperjump/kagami/internal/syncer"
	"github.com/hyperjump/kagami/pkg/utils"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"), "documents")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	dir := t.TempDir()
	cache := hashcache.New(filepath.Join(t.TempDir(), "hashes.json"))
	watch := &config.WatchConfig{Directory: dir, Extensions: []string{".md"}}
	det := detector.New(st, cache, watch)
	b := builder.New(embedding.NewMockEmbedder(8), 100)
	sync := syncer.New(det, b, st, cache, dir)

	srv := NewServer(st, cache, sync, &config.ServerConfig{Host: "localhost", Port: 0}, zap.NewNop())
	return srv, st
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, st := newTestServer(t)
	err := st.Upsert(context.Background(), &models.Document{
		Content:   "hello",
		Embedding: []float32{0.5},
		Metadata: models.Metadata{
			Filename: "a.md",
			Path:     "/docs/a.md",
			FileHash: utils.HashBytes([]byte("hello")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["documents"] != float64(1) {
		t.Errorf("documents = %v", body["documents"])
	}
	if _, ok := body["last_pass"]; !ok {
		t.Error("last_pass missing")
	}
	if _, ok := body["last_pass_at"]; ok {
		t.Error("last_pass_at should be absent before any pass")
	}
}
