package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherFiresOnRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.enc")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	changed := make(chan struct{}, 4)
	service, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(context.Context) {
		changed <- struct{}{}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.enc")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	changed := make(chan struct{}, 4)
	service, err := New(path, slog.New(slog.NewTextHandler(io.Discard, nil)), func(context.Context) {
		changed <- struct{}{}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	select {
	case <-changed:
		t.Fatal("reload fired for an unrelated file")
	case <-time.After(500 * time.Millisecond):
	}
}
