package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kagami/internal/models"
)

func startWatcher(t *testing.T, root string, extensions, excludeDirs []string) *Watcher {
	t.Helper()
	w := New(root, extensions, excludeDirs, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

// collect drains events until the deadline or until want events arrive.
func collect(w *Watcher, want int, timeout time.Duration) []models.Event {
	var got []models.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-w.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
			if len(got) >= want {
				return got
			}
		case <-deadline:
			return got
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_CreateEmitsDebouncedEvent(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, []string{".md"}, nil)

	path := filepath.Join(dir, "note.md")
	writeFile(t, path, "hello")

	events := collect(w, 1, 2*time.Second)
	if len(events) == 0 {
		t.Fatal("no event received")
	}
	if events[0].Path != path {
		t.Errorf("path = %s", events[0].Path)
	}
	if events[0].Type != models.EventCreated && events[0].Type != models.EventModified {
		t.Errorf("type = %v", events[0].Type)
	}
}

func TestWatcher_RapidWritesCoalesce(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, []string{".md"}, nil)

	path := filepath.Join(dir, "note.md")
	for i := 0; i < 5; i++ {
		writeFile(t, path, "revision")
		time.Sleep(5 * time.Millisecond)
	}

	events := collect(w, 5, time.Second)
	if len(events) == 0 {
		t.Fatal("no event received")
	}
	// Five writes within the debounce window settle to far fewer events.
	if len(events) >= 5 {
		t.Errorf("expected coalescing, got %d events", len(events))
	}
}

func TestWatcher_RemoveEmitsDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	writeFile(t, path, "hello")
	w := startWatcher(t, dir, []string{".md"}, nil)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	events := collect(w, 1, 2*time.Second)
	if len(events) == 0 {
		t.Fatal("no event received")
	}
	if events[0].Type != models.EventDeleted || events[0].Path != path {
		t.Errorf("event = %+v", events[0])
	}
}

func TestWatcher_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, []string{".md"}, nil)

	writeFile(t, filepath.Join(dir, "skip.pdf"), "x")
	writeFile(t, filepath.Join(dir, "take.md"), "y")

	events := collect(w, 2, time.Second)
	for _, ev := range events {
		if filepath.Ext(ev.Path) == ".pdf" {
			t.Errorf("filtered extension leaked: %+v", ev)
		}
	}
	found := false
	for _, ev := range events {
		if filepath.Base(ev.Path) == "take.md" {
			found = true
		}
	}
	if !found {
		t.Error("expected event for take.md")
	}
}

func TestWatcher_ExcludedDirProducesNoEvents(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0755); err != nil {
		t.Fatal(err)
	}
	w := startWatcher(t, dir, []string{".md"}, []string{".git"})

	writeFile(t, filepath.Join(dir, ".git", "hidden.md"), "x")
	writeFile(t, filepath.Join(dir, "visible.md"), "y")

	events := collect(w, 2, time.Second)
	for _, ev := range events {
		if filepath.Base(filepath.Dir(ev.Path)) == ".git" {
			t.Errorf("excluded dir leaked: %+v", ev)
		}
	}
}

func TestWatcher_NewDirectoryFilesAreDetected(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, []string{".md", ".txt"}, nil)

	nested := filepath.Join(dir, "incoming", "deep")
	writeFile(t, filepath.Join(nested, "doc.md"), "content")

	events := collect(w, 1, 3*time.Second)
	found := false
	for _, ev := range events {
		if filepath.Base(ev.Path) == "doc.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("file in new directory not detected, events = %+v", events)
	}
}

func TestWatcher_StartCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	w := New(root, []string{".md"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root should exist after Start: %v", err)
	}
}

func TestWatcher_StopClosesEvents(t *testing.T) {
	w := startWatcher(t, t.TempDir(), nil, nil)
	w.Stop()
	select {
	case _, ok := <-w.Events():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed")
	}
}
