package streamer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/zachfi/snowboot/pkg/ogg"
	"github.com/zachfi/snowboot/pkg/vorbis"
)

func startPipeReader(t *testing.T) (path string, pages <-chan ogg.Page) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "in.fifo")
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		t.Skipf("mkfifo unavailable: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	r := newPipeReader(path, logger, NewStatus())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("pipe reader did not stop")
		}
	})
	return path, r.pages
}

func writeStream(t *testing.T, path string, raw ...[]byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open fifo for writing: %v", err)
	}
	for _, b := range raw {
		if _, err := f.Write(b); err != nil {
			t.Fatalf("write fifo: %v", err)
		}
	}
	f.Close()
}

func collectPages(t *testing.T, pages <-chan ogg.Page, n int) []ogg.Page {
	t.Helper()
	var got []ogg.Page
	timeout := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case p := <-pages:
			got = append(got, p)
		case <-timeout:
			t.Fatalf("got %d pages, want %d", len(got), n)
		}
	}
	return got
}

func TestPipeReaderParsesStream(t *testing.T) {
	path, pages := startPipeReader(t)

	src, err := vorbis.NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}
	writeStream(t, path, src.HeaderPages(42)...)

	got := collectPages(t, pages, 3)
	for i, p := range got {
		if p.Serial != 42 || p.Sequence != uint32(i) {
			t.Errorf("page %d: serial=%d seq=%d", i, p.Serial, p.Sequence)
		}
	}
}

func TestPipeReaderSurvivesProducerChurn(t *testing.T) {
	path, pages := startPipeReader(t)

	src, err := vorbis.NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}

	// First producer writes and disappears.
	writeStream(t, path, src.HeaderPages(1)...)
	collectPages(t, pages, 3)

	// A second producer shows up after the reader has seen EOF and reopened.
	time.Sleep(500 * time.Millisecond)
	writeStream(t, path, src.HeaderPages(2)...)
	got := collectPages(t, pages, 3)
	for i, p := range got {
		if p.Serial != 2 {
			t.Errorf("page %d after churn: serial=%d, want 2", i, p.Serial)
		}
	}
}

func TestPipeReaderResyncsPastGarbage(t *testing.T) {
	path, pages := startPipeReader(t)

	src, err := vorbis.NewSource(44100, 128)
	if err != nil {
		t.Fatal(err)
	}
	headers := src.HeaderPages(7)

	corrupt := append([]byte(nil), headers[1]...)
	corrupt[len(corrupt)-1] ^= 0xff

	writeStream(t, path, headers[0], corrupt, headers[2])
	got := collectPages(t, pages, 2)
	if got[0].Sequence != 0 || got[1].Sequence != 2 {
		t.Errorf("sequences %d,%d; want the corrupt page dropped (0,2)", got[0].Sequence, got[1].Sequence)
	}
}
