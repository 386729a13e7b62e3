// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package logger builds the per-service slog loggers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pvedns/config"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Fixed server log file names.
const (
	DNSServerLog = "dnsserver.log"
	APIServerLog = "apiserver.log"
	SyncLog      = "sync.log"
)

// DirStderr as log_dir writes every service log to standard error.
const DirStderr = "stderr"

// SeverityNone disables logging: no files are created, all output is discarded.
const SeverityNone = "none"

const (
	defaultRotationSizeMB = 100
	defaultRotationDays   = 7
	rotationBackups       = 3
)

// NewServerLogger returns the logger for one service, writing to
// logDir/serviceLogName. Severity "none" discards everything. A logDir of
// "stderr", or a log file that cannot be opened, sends output to stderr
// tagged with the service name.
func NewServerLogger(serviceLogName, logDir string, logCfg config.LogConfig) *slog.Logger {
	if strings.EqualFold(strings.TrimSpace(logCfg.Severity), SeverityNone) {
		return Discard()
	}
	level := ParseLevel(logCfg.Severity)
	service := strings.TrimSuffix(serviceLogName, ".log")
	if strings.EqualFold(strings.TrimSpace(logDir), DirStderr) {
		return NewStderrLogger(level).With("service", service)
	}

	path := filepath.Join(logDir, serviceLogName)
	w, err := openLogFile(path, logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v; using stderr\n", err)
		return NewStderrLogger(level).With("service", service)
	}
	return slog.New(slog.NewTextHandler(&fallbackWriter{inner: w}, &slog.HandlerOptions{Level: level}))
}

// openLogFile opens path for appending. Size and time rotation go through
// lumberjack; rotation "none" is a plain file that grows without limit.
func openLogFile(path string, cfg config.LogConfig) (io.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", filepath.Dir(path), err)
	}
	switch cfg.Rotation {
	case config.LogRotationSize:
		return &lj.Logger{
			Filename:   path,
			MaxSize:    positiveOr(cfg.RotationSizeMB, defaultRotationSizeMB),
			MaxAge:     cfg.RotationDays,
			MaxBackups: rotationBackups,
		}, nil
	case config.LogRotationTime:
		days := positiveOr(cfg.RotationDays, defaultRotationDays)
		rot := &lj.Logger{Filename: path, MaxAge: days, MaxBackups: rotationBackups}
		// A file left over from a run that ended more than a window ago starts a new one.
		if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) > time.Duration(days)*24*time.Hour {
			if err := rot.Rotate(); err != nil {
				return nil, fmt.Errorf("rotate %s: %w", path, err)
			}
		}
		return rot, nil
	default:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return f, nil
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// fallbackWriter moves to stderr for good after the first failed write.
type fallbackWriter struct {
	mu     sync.Mutex
	inner  io.Writer
	failed bool
}

func (w *fallbackWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.failed {
		if _, err := w.inner.Write(p); err == nil {
			return len(p), nil
		}
		w.failed = true
		_, _ = os.Stderr.WriteString("[log write failed, logging to stderr] ")
	}
	return os.Stderr.Write(p)
}

// NewStderrLogger logs to standard error at level. Used by one-shot commands.
func NewStderrLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a severity name (debug, info, warn or warning, error, in any
// case) to a slog.Level. Unknown names give info.
func ParseLevel(severity string) slog.Level {
	s := strings.TrimSpace(severity)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
