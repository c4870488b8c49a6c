package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/hostreporter/internal/buildinfo"
)

func TestRun_VersionText(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"version"}); err != nil {
		t.Fatalf("run(version) error = %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, buildinfo.Name+" ") {
		t.Errorf("output should start with the banner, got: %q", out)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("output missing go_version: %q", out)
	}
}

func TestRun_VersionJSON(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run(-o json version) error = %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	if info["version"] != buildinfo.Version {
		t.Errorf("version = %q, want %q", info["version"], buildinfo.Version)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"frobnicate"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"--config", "/nonexistent/config.yaml", "serve"})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("error = %v, want config file not found", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte("log_level: chatty\n"), 0600); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"--config", path, "machine-id"})
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Errorf("error = %v, want log level validation error", err)
	}
}

func TestBridge_ClosesOnceAndLogsRepeats(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal)
	released := make(chan struct{})
	terminate := bridge(ctx, sigs, func() { close(released) }, logger)

	sigs <- syscall.SIGTERM
	select {
	case <-terminate:
	case <-time.After(time.Second):
		t.Fatal("terminate not closed by first signal")
	}
	// A second signal must not panic on a double close.
	sigs <- syscall.SIGINT

	cancel()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("signal subscription not released after cancel")
	}
	// The bridge goroutine has exited, so logs is no longer written.
	out := logs.String()
	if !strings.Contains(out, "shutdown signal received") || !strings.Contains(out, "shutdown already in progress") {
		t.Errorf("unexpected log output:\n%s", out)
	}
}
