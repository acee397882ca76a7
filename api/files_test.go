package api

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, dir, name string, size int, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set times on %s: %v", name, err)
	}
	return path
}

func TestFilesListNewestFirst(t *testing.T) {
	s, _, _ := newTestEnv(t)
	dir := s.store.Base()
	now := time.Now()
	writeTestFile(t, dir, "old.mp4", 10, now.Add(-2*time.Hour))
	writeTestFile(t, dir, "new.mp4", 20, now.Add(-1*time.Minute))
	writeTestFile(t, dir, "notes.txt", 5, now)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodGet, "/files/list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec.Body.Bytes())
	if body["ext_filter"] != "mp4" {
		t.Errorf("expected default ext filter mp4, got %v", body["ext_filter"])
	}
	files, _ := body["files"].([]interface{})
	if len(files) != 2 {
		t.Fatalf("expected 2 mp4 files, got %v", body["files"])
	}
	first, _ := files[0].(map[string]interface{})
	if first["name"] != "new.mp4" {
		t.Errorf("expected newest first, got %v", first["name"])
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/files/list?all=1", nil)
	body = decodeBody(t, rec.Body.Bytes())
	files, _ = body["files"].([]interface{})
	if len(files) != 3 {
		t.Errorf("expected 3 files with all=1, got %d", len(files))
	}
}

func TestFilesListMissingBase(t *testing.T) {
	s, _, _ := newTestEnv(t)
	if err := os.RemoveAll(s.store.Base()); err != nil {
		t.Fatalf("remove base: %v", err)
	}
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodGet, "/files/list", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec.Body.Bytes())
	if body["message"] != "Base folder does not exist" {
		t.Errorf("unexpected message: %v", body["message"])
	}
}

func TestFilesStatus(t *testing.T) {
	s, _, _ := newTestEnv(t)
	writeTestFile(t, s.store.Base(), "rec_cam01_2026-01-01_10-00-00.mp4", 128, time.Now())
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodGet, "/files/status?file=rec_cam01_2026-01-01_10-00-00.mp4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec.Body.Bytes())
	if body["size_bytes"] != float64(128) {
		t.Errorf("expected size 128, got %v", body["size_bytes"])
	}
	if body["suffix"] != "mp4" {
		t.Errorf("expected suffix mp4, got %v", body["suffix"])
	}
	if body["is_readable"] != true {
		t.Errorf("expected readable file, got %v", body["is_readable"])
	}

	rec = PerformJSONRequest(r, http.MethodGet, "/files/status?file=ghost.mp4", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rec.Code)
	}
}

func TestFilesStatusRejectsTraversal(t *testing.T) {
	s, _, _ := newTestEnv(t)
	r := NewTestServer(s)

	for _, name := range []string{"", "../etc/passwd", "a/b.mp4", `a\b.mp4`, "..", url.QueryEscape("../foo")} {
		rec := PerformJSONRequest(r, http.MethodGet, "/files/status?file="+url.QueryEscape(name), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for %q, got %d", name, rec.Code)
		}
	}
}

func TestFilesRemove(t *testing.T) {
	s, _, _ := newTestEnv(t)
	path := writeTestFile(t, s.store.Base(), "gone.mp4", 16, time.Now())
	r := NewTestServer(s)

	rec := PerformJSONRequest(r, http.MethodPost, "/files/remove", map[string]string{"file": "gone.mp4"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed from disk")
	}

	rec = PerformJSONRequest(r, http.MethodPost, "/files/remove", map[string]string{"file": "gone.mp4"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second remove, got %d", rec.Code)
	}

	rec = PerformJSONRequest(r, http.MethodPost, "/files/remove", map[string]string{"file": "../etc/passwd"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal, got %d", rec.Code)
	}
}
