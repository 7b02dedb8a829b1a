package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestIsTemporary(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"report.pdf", false},
		{"photo.JPG", false},
		{".DS_Store", true},
		{".report.pdf.tmp", true},
		{"video.mp4.part", true},
		{"archive.zip.crdownload", true},
		{"song.mp3.download", true},
		{"data.PARTIAL", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTemporary(tc.name); got != tc.want {
				t.Errorf("isTemporary(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope"), Config{}, func(FileEvent) {}, nil); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestNewRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, Config{}, func(FileEvent) {}, nil); err == nil {
		t.Error("expected error for non-directory path")
	}
}

func TestWatcherSeesNewFile(t *testing.T) {
	dir := t.TempDir()

	// A pre-existing file must never be replayed.
	if err := os.WriteFile(filepath.Join(dir, "old.pdf"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got []FileEvent
	events := make(chan FileEvent, 8)

	w, err := New(dir, Config{StabilityDelay: 10 * time.Millisecond, PollInterval: 50 * time.Millisecond},
		func(e FileEvent) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			events <- e
		}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "new.pdf"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.Name != "new.pdf" {
			t.Errorf("event name = %q, want new.pdf", e.Name)
		}
		if e.Size != int64(len("hello")) {
			t.Errorf("event size = %d, want %d", e.Size, len("hello"))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event within 5s")
	}

	// No duplicate delivery from the polling safety net.
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	for _, e := range got {
		if e.Name == "old.pdf" {
			t.Error("pre-existing file was replayed")
		}
	}
	count := 0
	for _, e := range got {
		if e.Name == "new.pdf" {
			count++
		}
	}
	mu.Unlock()
	if count != 1 {
		t.Errorf("new.pdf delivered %d times, want 1", count)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcherIgnoresTemporaries(t *testing.T) {
	dir := t.TempDir()

	events := make(chan FileEvent, 8)
	w, err := New(dir, Config{StabilityDelay: 10 * time.Millisecond, PollInterval: 50 * time.Millisecond},
		func(e FileEvent) { events <- e }, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "big.iso.part"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		t.Errorf("unexpected event for temporary file: %+v", e)
	case <-time.After(300 * time.Millisecond):
	}
}
