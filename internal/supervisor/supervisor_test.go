package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestStartWaitsForHealthAndWritesPIDFile spawns a short shell script as
// the supervised "process", points HealthURL at an httptest server that
// starts reporting healthy immediately, and asserts the PID file is
// written with the child's pid.
func TestStartWaitsForHealthAndWritesPIDFile(t *testing.T) {
	healthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthSrv.Close()

	dir := t.TempDir()
	pidFile := filepath.Join(dir, "dstore.pid")
	logFile := filepath.Join(dir, "dstore.log")

	sup := New(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		DataDir:      dir,
		LogFile:      logFile,
		PIDFile:      pidFile,
		HealthURL:    healthSrv.URL,
		PollInterval: 50 * time.Millisecond,
		StartTimeout: 2 * time.Second,
		StopTimeout:  time.Second,
	})
	defer sup.Stop()

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	alive, pid := sup.Status()
	if !alive || pid == 0 {
		t.Fatalf("expected alive process with nonzero pid, got alive=%v pid=%d", alive, pid)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		t.Fatal("expected nonempty pid file contents")
	}
}

// TestStartFailsWhenHealthNeverComes asserts Start errors out (rather
// than hanging) when the health endpoint never returns 200 within
// StartTimeout, and that the spawned process is reaped.
func TestStartFailsWhenHealthNeverComes(t *testing.T) {
	unhealthySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthySrv.Close()

	dir := t.TempDir()
	sup := New(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		DataDir:      dir,
		LogFile:      filepath.Join(dir, "dstore.log"),
		PIDFile:      filepath.Join(dir, "dstore.pid"),
		HealthURL:    unhealthySrv.URL,
		PollInterval: 50 * time.Millisecond,
		StartTimeout: 300 * time.Millisecond,
		StopTimeout:  time.Second,
	})

	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when health never reports ready")
	}
	if alive, pid := sup.Status(); alive || pid != 0 {
		t.Fatalf("expected the spawned process to be reaped, got alive=%v pid=%d", alive, pid)
	}
}

// TestStopIsIdempotent asserts a second Stop call after a clean stop is
// a no-op rather than blocking or erroring.
func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sup := New(Config{
		Binary:       "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		DataDir:      dir,
		LogFile:      filepath.Join(dir, "dstore.log"),
		PIDFile:      filepath.Join(dir, "dstore.pid"),
		StartTimeout: time.Second,
		StopTimeout:  time.Second,
	})

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}

	alive, _ := sup.Status()
	if alive {
		t.Fatal("expected process to be reported dead after Stop")
	}
}
