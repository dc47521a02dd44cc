package distribute

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiosk/internal/command"
	"kiosk/internal/faults"
	"kiosk/internal/store"
	"kiosk/internal/testsupport"
)

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func buildTarball(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		header := &tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("tar header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("tar write %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestExtractArchiveZip(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "bundle.zip")
	testsupport.WriteFileContent(t, src, buildZip(t, map[string][]byte{
		"clip.mp4":        []byte("clip bytes"),
		"extra/bonus.mkv": []byte("bonus bytes"),
	}))

	destDir := filepath.Join(base, "out")
	files, err := ExtractArchive(src, "bundle.zip", destDir)
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}

	content, err := os.ReadFile(filepath.Join(destDir, "clip.mp4"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "clip bytes" {
		t.Fatalf("extracted content mismatch: %q", content)
	}
	if _, err := os.Stat(filepath.Join(destDir, "extra", "bonus.mkv")); err != nil {
		t.Fatalf("nested entry missing: %v", err)
	}
}

func TestExtractArchiveTarball(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "bundle.tar.gz")
	testsupport.WriteFileContent(t, src, buildTarball(t, map[string][]byte{
		"loop/clip.webm": []byte("webm bytes"),
	}))

	destDir := filepath.Join(base, "out")
	files, err := ExtractArchive(src, "bundle.tar.gz", destDir)
	if err != nil {
		t.Fatalf("ExtractArchive: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %v", files)
	}
	content, err := os.ReadFile(filepath.Join(destDir, "loop", "clip.webm"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(content) != "webm bytes" {
		t.Fatalf("extracted content mismatch: %q", content)
	}
}

func TestExtractArchiveRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "bundle.zip")
	testsupport.WriteFileContent(t, src, buildZip(t, map[string][]byte{
		"../escape.mp4": []byte("hostile"),
	}))

	destDir := filepath.Join(base, "out")
	_, err := ExtractArchive(src, "bundle.zip", destDir)
	if !errors.Is(err, faults.ErrCorruptPayload) {
		t.Fatalf("expected corrupt payload classification, got %v", err)
	}
	if !strings.Contains(err.Error(), "entry escapes archive root") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(base, "escape.mp4")); !os.IsNotExist(statErr) {
		t.Fatalf("traversal entry written outside dest dir, stat err %v", statErr)
	}
}

func TestExtractArchiveRejectsUnsupportedType(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "payload.rar")
	testsupport.WriteFileContent(t, src, []byte("not an archive"))

	_, err := ExtractArchive(src, "payload.rar", filepath.Join(base, "out"))
	if !errors.Is(err, faults.ErrCorruptPayload) {
		t.Fatalf("expected corrupt payload classification, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported archive type") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPipelineExtractsArchivePayload(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"clip.mp4":   []byte("clip bytes"),
		"readme.txt": []byte("ignore me"),
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	events := newEventRecorder()
	mgr, st, cfg := newPipeline(t, events, nil)
	startPipeline(t, mgr)
	ctx := context.Background()

	extract := true
	spec := command.TaskSpec{
		ID:       "task-bundle",
		URI:      server.URL + "/bundle.zip",
		Checksum: "sha256:" + testsupport.SHA256Hex(archive),
		DestName: "bundle.zip",
		Extract:  &extract,
	}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return events.completedCount("task-bundle") > 0 }, "task never completed")

	if got := events.assetCount("task-bundle"); got != 1 {
		t.Fatalf("expected 1 registered asset, got %d", got)
	}
	clipPath := filepath.Join(cfg.MediaRoot(), "clip.mp4")
	content, err := os.ReadFile(clipPath)
	if err != nil {
		t.Fatalf("read staged media: %v", err)
	}
	if string(content) != "clip bytes" {
		t.Fatalf("staged content mismatch: %q", content)
	}
	if _, err := os.Stat(filepath.Join(cfg.MediaRoot(), "readme.txt")); !os.IsNotExist(err) {
		t.Fatalf("non-playable entry staged into media root, stat err %v", err)
	}

	stored, err := st.TaskByID(ctx, "task-bundle")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.FinalPath != cfg.MediaRoot() {
		t.Fatalf("archive tasks should report the media root, got %s", stored.FinalPath)
	}
	asset, err := st.AssetByPath(ctx, clipPath)
	if err != nil {
		t.Fatalf("AssetByPath: %v", err)
	}
	if asset.SourceTaskID != "task-bundle" {
		t.Fatalf("asset not linked to task: %+v", asset)
	}

	entries, err := os.ReadDir(cfg.StagingDir())
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging not cleaned, %d entries left", len(entries))
	}
}

func TestPipelineRejectsArchiveWithoutMedia(t *testing.T) {
	archive := buildZip(t, map[string][]byte{
		"readme.txt": []byte("no media here"),
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	events := newEventRecorder()
	mgr, st, cfg := newPipeline(t, events, nil)
	startPipeline(t, mgr)
	ctx := context.Background()

	extract := true
	spec := command.TaskSpec{
		ID:       "task-empty-bundle",
		URI:      server.URL + "/bundle.zip",
		Checksum: "sha256:" + testsupport.SHA256Hex(archive),
		DestName: "bundle.zip",
		Extract:  &extract,
	}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return events.failedErr("task-empty-bundle") != nil }, "task never failed")

	if err := events.failedErr("task-empty-bundle"); !errors.Is(err, faults.ErrCorruptPayload) {
		t.Fatalf("expected corrupt payload classification, got %v", err)
	}
	stored, err := st.TaskByID(ctx, "task-empty-bundle")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("corrupt archives must not retry, count %d", stored.RetryCount)
	}
	if !strings.Contains(stored.ErrorMessage, "no playable media") {
		t.Fatalf("unexpected error message: %q", stored.ErrorMessage)
	}

	entries, err := os.ReadDir(cfg.MediaRoot())
	if err != nil {
		t.Fatalf("read media root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed archive leaked files into media root: %d entries", len(entries))
	}
}
