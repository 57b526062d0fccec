package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_FiresOnLibraryWrite(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	if err := os.WriteFile(libPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var changes int64
	w := New(libPath, func() { atomic.AddInt64(&changes, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(libPath, []byte("xy"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&changes) >= 1 }) {
		t.Fatal("onChange never fired after library write")
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	if err := os.WriteFile(libPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var changes int64
	w := New(libPath, func() { atomic.AddInt64(&changes, 1) }, WithDebounce(200*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(libPath, []byte("burst"), 0600); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&changes) >= 1 }) {
		t.Fatal("onChange never fired")
	}
	// Let any stragglers land before asserting the count.
	time.Sleep(400 * time.Millisecond)
	if n := atomic.LoadInt64(&changes); n != 1 {
		t.Fatalf("burst should collapse to one rebuild, got %d", n)
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	if err := os.WriteFile(libPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var changes int64
	w := New(libPath, func() { atomic.AddInt64(&changes, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if n := atomic.LoadInt64(&changes); n != 0 {
		t.Fatalf("unrelated file triggered %d rebuild(s)", n)
	}
}

func TestWatcher_SidecarFilesCount(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	if err := os.WriteFile(libPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	var changes int64
	w := New(libPath, func() { atomic.AddInt64(&changes, 1) }, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(libPath+"-wal", []byte("w"), 0600); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt64(&changes) >= 1 }) {
		t.Fatal("WAL sidecar write did not trigger rebuild")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	w := New(libPath, func() {})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestWatcher_StopDuringEventBurst(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "library.db")
	if err := os.WriteFile(libPath, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	w := New(libPath, func() {}, WithDebounce(10*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	writesDone := make(chan struct{})
	go func() {
		defer close(writesDone)
		for i := 0; i < 50; i++ {
			_ = os.WriteFile(libPath, []byte{byte(i)}, 0600)
			time.Sleep(time.Millisecond)
		}
	}()

	time.Sleep(5 * time.Millisecond)
	w.Stop()
	<-writesDone
}
