package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "iglood.pid")
	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid != os.Getpid() {
		t.Fatalf("lock file should hold our pid, got %q", string(b))
	}
}

func TestReleaseFreesLock(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "iglood.pid")
	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Double release is a no-op.
	if err := l.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	l2, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestSecondAcquireConflicts(t *testing.T) {
	t.Parallel()

	// flock locks live on the open file description, so a second Acquire
	// conflicts even from within the same process.
	lockPath := filepath.Join(t.TempDir(), "iglood.pid")
	l, err := Acquire(lockPath)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	if _, err := Acquire(lockPath); err == nil {
		t.Fatal("second Acquire should fail while the lock is held")
	}
	if l.Path() != lockPath {
		t.Errorf("Path() = %s", l.Path())
	}
}
