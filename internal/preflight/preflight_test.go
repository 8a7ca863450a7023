package preflight_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"loom/internal/preflight"
	"loom/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("Data directory", dir)
	if !result.Passed {
		t.Fatalf("writable temp dir should pass: %+v", result)
	}

	result = preflight.CheckDirectoryAccess("Data directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Fatalf("missing dir should fail")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if result := preflight.CheckDirectoryAccess("Data directory", file); result.Passed {
		t.Fatalf("regular file should fail the directory check")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckFreeSpace("Disk space", dir, 1); !result.Passed {
		t.Fatalf("1 MiB requirement should pass on a test filesystem: %+v", result)
	}
	if result := preflight.CheckFreeSpace("Disk space", dir, 1<<40); result.Passed {
		t.Fatalf("an exabyte requirement should fail")
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatalf("expected at least the data directory check")
	}
	if !preflight.AllPassed(results) {
		failure, _ := preflight.FirstFailure(results)
		t.Fatalf("checks should pass on temp dirs: %+v", failure)
	}

	cfg.Paths.DataDir = filepath.Join(cfg.Paths.DataDir, "missing")
	results = preflight.RunAll(context.Background(), cfg)
	if preflight.AllPassed(results) {
		t.Fatalf("missing data dir should fail")
	}
	if _, ok := preflight.FirstFailure(results); !ok {
		t.Fatalf("FirstFailure should report the failed check")
	}
}
