package streamer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/zachfi/snowboot/pkg/ogg"
)

const (
	pipeReadChunk   = 32 * 1024
	pipeReopenDelay = 200 * time.Millisecond
	pipeReadPoll    = 100 * time.Millisecond
)

// pipeReader owns the input FIFO: it opens it non-blocking, parses the byte
// stream into pages and feeds them to the mux. On EOF (producer went away)
// it reopens and waits for the next writer; the mux sees no pages in the
// meantime and pads with silence.
type pipeReader struct {
	path   string
	logger *slog.Logger
	status *Status
	pages  chan ogg.Page
}

func newPipeReader(path string, logger *slog.Logger, status *Status) *pipeReader {
	return &pipeReader{
		path:   path,
		logger: logger.With("task", "pipereader"),
		status: status,
		pages:  make(chan ogg.Page, 16),
	}
}

func (r *pipeReader) run(ctx context.Context) error {
	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	buf := make([]byte, 0, 2*ogg.MaxPageSize)
	chunk := make([]byte, pipeReadChunk)

	for ctx.Err() == nil {
		if f == nil {
			var err error
			// O_NONBLOCK so the open does not wait for a writer and the fd is
			// pollable, which makes read deadlines work.
			f, err = os.OpenFile(r.path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
			if err != nil {
				r.logger.Warn("failed to open input pipe", "err", err)
				pipeErrors.Inc()
				r.status.errorsTotal.Add(1)
				if !sleepCtx(ctx, pipeReopenDelay) {
					return nil
				}
				continue
			}
			buf = buf[:0]
			r.logger.Debug("input pipe opened")
		}

		_ = f.SetReadDeadline(time.Now().Add(pipeReadPoll))
		n, err := f.Read(chunk)
		if n > 0 {
			bytesRead.Add(float64(n))
			r.status.bytesRead.Add(uint64(n))
			buf = append(buf, chunk[:n]...)
			var ok bool
			buf, ok = r.drain(ctx, buf)
			if !ok {
				return nil
			}
		}

		switch {
		case err == nil || os.IsTimeout(err):
			// Nothing to do; loop around for the next read.
		case errors.Is(err, io.EOF):
			// Producer closed (or has not opened yet). Reopen and wait for
			// the next writer.
			f.Close()
			f = nil
			if !sleepCtx(ctx, pipeReopenDelay) {
				return nil
			}
		default:
			r.logger.Warn("input pipe read error", "err", err)
			pipeErrors.Inc()
			r.status.errorsTotal.Add(1)
			f.Close()
			f = nil
			if !sleepCtx(ctx, pipeReopenDelay) {
				return nil
			}
		}
	}
	return nil
}

// drain parses every complete page out of buf and forwards it, returning the
// unconsumed remainder. Pages are cloned before the buffer is reused.
func (r *pipeReader) drain(ctx context.Context, buf []byte) ([]byte, bool) {
	for {
		p, n, err := ogg.Parse(buf)
		if errors.Is(err, ogg.ErrNeedMoreData) {
			if n > 0 {
				// Garbage prefix; the codec already resynchronised past it.
				buf = append(buf[:0], buf[n:]...)
			}
			return buf, true
		}
		page := p.Clone()
		buf = append(buf[:0], buf[n:]...)
		select {
		case r.pages <- page:
		case <-ctx.Done():
			return buf, false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
