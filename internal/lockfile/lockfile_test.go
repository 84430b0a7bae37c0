package lockfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "learnrelay")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, "learnrelay.lock") {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	h, err := readHolder(lock.Path())
	if err != nil {
		t.Fatal(err)
	}
	if h.Owner != "learnrelay" || h.PID != os.Getpid() || h.StartedAt.IsZero() {
		t.Errorf("unexpected holder %+v", h)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir, "learnrelay")
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, err = Acquire(dir, "learnrelay")
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %v", err)
	}
	if held.Holder.PID != os.Getpid() {
		t.Errorf("holder should be this process, got %+v", held.Holder)
	}
	if !strings.Contains(err.Error(), "running") {
		t.Errorf("error should report the holder state: %s", err)
	}

	// The failed attempt must not have clobbered the record.
	if h, _ := readHolder(first.Path()); h.PID != os.Getpid() {
		t.Errorf("holder record lost: %+v", h)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "historyd")
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed")
	}

	again, err := Acquire(dir, "historyd")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestDistinctOwnersDoNotConflict(t *testing.T) {
	dir := t.TempDir()
	a, err := Acquire(dir, "learnrelay")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := Acquire(dir, "historyd")
	if err != nil {
		t.Fatalf("different owners should coexist: %v", err)
	}
	b.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir, "learnrelay")
	if err != nil {
		t.Fatal(err)
	}
	lock.Release()
}

func TestParseHolder(t *testing.T) {
	h := parseHolder(bufio.NewScanner(strings.NewReader("owner=x\npid=42\ngarbage\nstarted_at=2024-05-01T08:00:00Z\nextra=1\n")))
	if h.Owner != "x" || h.PID != 42 || h.StartedAt.Year() != 2024 {
		t.Errorf("unexpected holder %+v", h)
	}
	if h := parseHolder(bufio.NewScanner(strings.NewReader("pid=abc"))); h.PID != 0 {
		t.Errorf("invalid pid should parse as 0, got %d", h.PID)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if processAlive(999999999) {
		t.Error("absurd pid should not be alive")
	}
}
