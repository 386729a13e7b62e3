package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pvedns/config"
)

func TestNewServerLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LogConfig{Severity: "info", Rotation: config.LogRotationSize, RotationSizeMB: 1, RotationDays: 1}
	log := NewServerLogger(SyncLog, dir, cfg)
	log.Info("updated zone", "hosts", 2)
	log.Debug("not written")

	data, err := os.ReadFile(filepath.Join(dir, SyncLog))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "updated zone") || !strings.Contains(string(data), "hosts=2") {
		t.Errorf("log file = %q", data)
	}
	if strings.Contains(string(data), "not written") {
		t.Error("debug record written at info severity")
	}
}

func TestNewServerLoggerSeverityNone(t *testing.T) {
	dir := t.TempDir()
	log := NewServerLogger(DNSServerLog, dir, config.LogConfig{Severity: "none"})
	log.Error("dropped")
	if _, err := os.Stat(filepath.Join(dir, DNSServerLog)); !os.IsNotExist(err) {
		t.Errorf("severity none created a log file (stat err %v)", err)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug").String() != "DEBUG" || ParseLevel("WARNING").String() != "WARN" || ParseLevel("bogus").String() != "INFO" {
		t.Error("ParseLevel mapped severities incorrectly")
	}
}

func TestAsyncLogQueueDrainsOnClose(t *testing.T) {
	q := NewAsyncLogQueue(8)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		q.Enqueue(func() { n.Add(1) })
	}
	q.Close()
	q.Close()
	if n.Load() != 5 {
		t.Errorf("ran %d callbacks, want 5", n.Load())
	}
	var nilQueue *AsyncLogQueue
	nilQueue.Enqueue(func() {})
	nilQueue.Close()
}

func TestNewServerLoggerNoRotationAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, APIServerLog)
	if err := os.WriteFile(path, []byte("earlier run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	log := NewServerLogger(APIServerLog, dir, config.LogConfig{Severity: "info", Rotation: config.LogRotationNone})
	log.Info("API server starting")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.HasPrefix(string(data), "earlier run\n") || !strings.Contains(string(data), "API server starting") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewServerLoggerTimeRotationStartsFreshFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, SyncLog)
	if err := os.WriteFile(path, []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-72 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	log := NewServerLogger(SyncLog, dir, config.LogConfig{Severity: "info", Rotation: config.LogRotationTime, RotationDays: 1})
	log.Info("updated zone")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "stale") {
		t.Errorf("stale content kept in the active file: %q", data)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("log dir has %d entries, want the active file plus one backup", len(entries))
	}
}

func TestAsyncLogQueueCountsDropped(t *testing.T) {
	q := NewAsyncLogQueue(1)
	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(func() {
		close(started)
		<-release
	})
	<-started
	q.Enqueue(func() {})
	q.Enqueue(func() {})
	q.Enqueue(func() {})
	close(release)
	q.Close()
	if got := q.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
