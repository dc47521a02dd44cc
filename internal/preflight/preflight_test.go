package preflight

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"kiosk/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckBinary_OK(t *testing.T) {
	result := CheckBinary("shell", "sh")
	if !result.Passed {
		t.Fatalf("expected pass for sh, got: %s", result.Detail)
	}
	if result.Detail == "" {
		t.Fatal("expected resolved path in detail")
	}
}

func TestCheckBinary_Missing(t *testing.T) {
	result := CheckBinary("player", "definitely-not-a-real-player-binary")
	if result.Passed {
		t.Fatal("expected failure for unknown binary")
	}
}

func TestCheckBinary_Empty(t *testing.T) {
	result := CheckBinary("player", "  ")
	if result.Passed {
		t.Fatal("expected failure for empty command")
	}
}

func TestCheckBroker_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	result := CheckBroker(context.Background(), "127.0.0.1", addr.Port)
	if !result.Passed {
		t.Fatalf("expected pass for listening socket, got: %s", result.Detail)
	}
}

func TestCheckBroker_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	result := CheckBroker(context.Background(), "127.0.0.1", port)
	if result.Passed {
		t.Fatal("expected failure for closed port")
	}
}

func TestCheckBroker_MissingHost(t *testing.T) {
	result := CheckBroker(context.Background(), "", 1883)
	if result.Passed {
		t.Fatal("expected failure for missing host")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_HealthyConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Player.Binary = "sh"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected no failed checks, got %d", len(failed))
	}
}

func TestRunAll_ChecksDistinctVideoPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Player.Binary = "sh"
	cfg.Player.VideoPath = filepath.Join(testsupport.BaseDir(cfg), "video")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	var videoCheck *Result
	for i, r := range results {
		if r.Name == "Video path" {
			videoCheck = &results[i]
		}
	}
	if videoCheck == nil {
		t.Fatal("expected a video path check when it differs from the media root")
	}
	if videoCheck.Passed {
		t.Fatal("expected video path check to fail for missing directory")
	}

	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Video path" {
		t.Fatalf("expected only the video path check to fail, got %+v", failed)
	}
}

func TestRunAll_ReportsMissingBinary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Player.Binary = "definitely-not-a-real-player-binary"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), cfg)
	found := false
	for _, r := range results {
		if r.Name == "Player binary" {
			found = true
			if r.Passed {
				t.Error("expected player binary check to fail")
			}
		}
	}
	if !found {
		t.Fatal("expected player binary check in results")
	}
}
