package filewatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xcro3dile/ragrelay-go/internal/domain/ports"
)

func TestFSNotifyWatcher_Creation(t *testing.T) {
	watcher, err := NewFSNotifyWatcher([]string{"/etc/ragrelay/ragrelay.toml"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	if !watcher.isWatched("/other/dir/ragrelay.toml") {
		t.Error("names should be matched by base name")
	}
	if watcher.isWatched("/etc/ragrelay/other.toml") {
		t.Error("other files should not be watched")
	}
}

func TestFSNotifyWatcher_NoNamesWatchesAll(t *testing.T) {
	watcher, _ := NewFSNotifyWatcher(nil, zerolog.Nop())
	defer watcher.Stop()

	if !watcher.isWatched("anything.txt") {
		t.Error("empty name set should report every file")
	}
}

func TestFSNotifyWatcher_WatchDirectory(t *testing.T) {
	dir := t.TempDir()

	watcher, _ := NewFSNotifyWatcher([]string{"ragrelay.toml"}, zerolog.Nop())
	defer watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := watcher.Watch(ctx, dir)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	// Create a file
	go func() {
		time.Sleep(100 * time.Millisecond)
		os.WriteFile(filepath.Join(dir, "ragrelay.toml"), []byte("[log]\n"), 0644)
	}()

	select {
	case event := <-events:
		if event.Operation != ports.FileCreated {
			t.Errorf("expected create event, got %v", event.Operation)
		}
	case <-ctx.Done():
		t.Error("timeout waiting for event")
	}
}

func TestFSNotifyWatcher_FiltersByName(t *testing.T) {
	dir := t.TempDir()

	watcher, _ := NewFSNotifyWatcher([]string{"ragrelay.toml"}, zerolog.Nop())
	defer watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	events, _ := watcher.Watch(ctx, dir)

	// Create non-matching file
	os.WriteFile(filepath.Join(dir, "notes.toml"), []byte("x"), 0644)

	select {
	case <-events:
		t.Error("should not receive event for notes.toml")
	case <-time.After(300 * time.Millisecond):
		// Expected - no event
	}
}

func TestFSNotifyWatcher_Stop(t *testing.T) {
	watcher, _ := NewFSNotifyWatcher(nil, zerolog.Nop())
	err := watcher.Stop()
	if err != nil {
		t.Errorf("stop failed: %v", err)
	}
}
