package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	h := ReadHolder(lock.Path())
	if h.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), h.PID)
	}
	if !h.Running {
		t.Error("expected holder to be reported as running")
	}
	if h.Started.IsZero() {
		t.Error("expected a start time in the lock file")
	}
}

func TestAcquireCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("expected holder pid %d, got %d", os.Getpid(), lockErr.Holder.PID)
	}
	if !strings.Contains(err.Error(), lockErr.LockPath) {
		t.Errorf("error should name the lock file: %s", err)
	}

	// The failed attempt must not clobber the holder's info.
	if h := ReadHolder(first.Path()); h.PID != os.Getpid() {
		t.Errorf("holder info lost after failed attempt: %+v", h)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release returned error: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestReadHolder(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		wantPID int
	}{
		{"pid and start", "pid=999999999\nstarted=2024-05-01T09:00:00Z\n", 999999999},
		{"pid only", "pid=42\n", 42},
		{"garbage", "hello", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".lock")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			h := ReadHolder(path)
			if h.PID != tt.wantPID {
				t.Errorf("expected pid %d, got %d", tt.wantPID, h.PID)
			}
		})
	}

	if h := ReadHolder(filepath.Join(dir, "missing.lock")); h.PID != 0 || h.String() != "unknown process" {
		t.Errorf("missing file should yield zero holder, got %+v", h)
	}
	if h := ReadHolder(filepath.Join(dir, "pid and start.lock")); h.Running {
		t.Errorf("pid 999999999 should not be running")
	}
}
