package streamer

import (
	"context"
	"log/slog"
	"math/rand"

	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zachfi/snowboot/pkg/vorbis"
)

// Streamer is the supervising service: it wires the pipe reader, the mux and
// the transport together around the bounded page queue and runs them until
// shutdown or a fatal failure.
type Streamer struct {
	services.Service
	cfg    *Config
	logger *slog.Logger

	status  *Status
	silence *vorbis.Source
	queue   *pageQueue
	reader  *pipeReader
	mux     *mux
	tr      *transport
}

var module = "streamer"

// New creates and returns a new Streamer.
func New(cfg Config, logger slog.Logger) (*Streamer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid streamer config")
	}

	s := &Streamer{
		cfg:    &cfg,
		logger: logger.With("module", module),
		status: NewStatus(),
	}

	s.Service = services.NewBasicService(s.starting, s.running, s.stopping)

	return s, nil
}

// Status exposes the read-only snapshot source for the health surface.
func (s *Streamer) Status() *Status {
	return s.status
}

func (s *Streamer) starting(ctx context.Context) error {
	if err := s.cfg.VerifyPipe(); err != nil {
		return errors.Wrap(err, "input pipe verification failed")
	}

	silence, err := vorbis.NewSource(s.cfg.SampleRate, s.cfg.Bitrate)
	if err != nil {
		return errors.Wrap(err, "failed to build silence template")
	}
	s.silence = silence

	// Queue capacity is the buffer window expressed in pages of the
	// template's duration.
	pagesPerSecond := float64(s.cfg.SampleRate) / float64(silence.SamplesPerPage())
	s.queue = newPageQueue(int(s.cfg.BufferSeconds * pagesPerSecond))

	s.reader = newPipeReader(s.cfg.InputPipe, s.logger, s.status)
	s.mux = newMux(s.logger, silence, s.reader.pages, s.queue, rand.Uint32(),
		s.cfg.KeepAlive, s.cfg.MaxSilenceDuration)
	s.tr = newTransport(s.logger, s.cfg, s.queue, s.status)

	s.logger.Info("streamer ready",
		"pipe", s.cfg.InputPipe,
		"target", s.cfg.Host,
		"mount", s.cfg.Mount,
		"sample_rate", s.cfg.SampleRate,
		"queue_pages", cap(s.queue.ch))
	return nil
}

func (s *Streamer) running(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.reader.run(gctx) })
	g.Go(func() error { return s.mux.run(gctx) })
	g.Go(func() error { return s.tr.run(gctx) })

	// A fatal error from any task (auth rejection, retry exhaustion, silence
	// limit) cancels the others through gctx and fails the service, which
	// shuts the process down with a non-zero exit. Cooperative shutdown
	// arrives here as ctx cancellation and a nil error.
	return g.Wait()
}

func (s *Streamer) stopping(_ error) error {
	s.logger.Info("stopping")
	return nil
}
