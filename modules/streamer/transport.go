package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"github.com/prometheus/common/version"

	"github.com/zachfi/snowboot/pkg/icecast"
)

// transport owns the socket: it connects with exponential backoff, drains
// the page queue onto the connection, and reconnects on any write failure.
// Only authentication rejections and retry exhaustion escape the loop; every
// other failure stays inside it.
type transport struct {
	logger *slog.Logger
	cfg    *Config
	queue  *pageQueue
	status *Status

	bufferWindow time.Duration
}

func newTransport(logger *slog.Logger, cfg *Config, queue *pageQueue, status *Status) *transport {
	return &transport{
		logger:       logger.With("task", "transport"),
		cfg:          cfg,
		queue:        queue,
		status:       status,
		bufferWindow: time.Duration(cfg.BufferSeconds * float64(time.Second)),
	}
}

func (t *transport) icecastConfig() icecast.Config {
	return icecast.Config{
		Host:           t.cfg.Host,
		Port:           t.cfg.Port,
		Mount:          t.cfg.Mount,
		Username:       t.cfg.Username,
		Password:       t.cfg.Password,
		UseTLS:         t.cfg.UseTLS,
		UserAgent:      "snowboot/" + userAgentVersion(),
		Name:           t.cfg.StreamName,
		Description:    t.cfg.StreamDescription,
		Genre:          t.cfg.StreamGenre,
		URL:            t.cfg.StreamURL,
		Public:         t.cfg.Public,
		ConnectTimeout: t.cfg.ConnectTimeout,
		WriteTimeout:   t.cfg.WriteTimeout,
	}
}

func (t *transport) run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    t.cfg.InitialBackoff,
		Max:    t.cfg.MaxBackoff,
		Factor: t.cfg.BackoffMultiplier,
		// No jitter: retry timing stays predictable for operators and tests.
	}
	everConnected := false

	// pending survives reconnects so a page that failed mid-write is resent,
	// unless it has gone stale by then.
	var pending *queuedPage

	for ctx.Err() == nil {
		if everConnected {
			t.status.setState(icecast.StateReconnecting)
			reconnectCount.Inc()
		} else {
			t.status.setState(icecast.StateConnecting)
		}
		connectionAttempts.Inc()

		conn, err := icecast.Dial(ctx, t.icecastConfig())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			connectionFailures.Inc()
			t.status.errorsTotal.Add(1)

			var authErr *icecast.AuthError
			if errors.As(err, &authErr) {
				t.status.setState(icecast.StateFailedPermanent)
				t.logger.Error("authentication rejected, not retrying", "status", authErr.Code)
				return err
			}
			if t.cfg.MaxRetries > 0 && b.Attempt() >= float64(t.cfg.MaxRetries-1) {
				t.status.setState(icecast.StateFailedPermanent)
				return fmt.Errorf("giving up after %d attempts: %w", t.cfg.MaxRetries, err)
			}

			d := b.Duration()
			t.status.setBackoff(d)
			t.logger.Warn("connection failed, backing off", "err", err, "backoff", d)
			if !sleepCtx(ctx, d) {
				return nil
			}
			continue
		}

		b.Reset()
		t.status.setBackoff(0)
		t.status.setState(icecast.StateConnected)
		t.logger.Info("connected to icecast", "host", t.cfg.Host, "port", t.cfg.Port, "mount", t.cfg.Mount)

		err = t.writeLoop(ctx, conn, &pending)
		conn.Close()
		everConnected = true
		if ctx.Err() != nil {
			t.status.setState(icecast.StateDisconnected)
			return nil
		}
		t.status.errorsTotal.Add(1)
		errorsTotal.Inc()
		t.logger.Warn("connection lost", "err", err)
	}
	t.status.setState(icecast.StateDisconnected)
	return nil
}

func userAgentVersion() string {
	if version.Version == "" {
		return "dev"
	}
	return version.Version
}

// writeLoop sends pages until the socket fails or ctx is done. Pages older
// than the buffer window are stale audio and dropped rather than replayed.
func (t *transport) writeLoop(ctx context.Context, conn *icecast.Conn, pending **queuedPage) error {
	for {
		if *pending == nil {
			p, err := t.queue.pop(ctx)
			if err != nil {
				return err
			}
			*pending = &p
		}
		if age := time.Since((*pending).enqueued); age > t.bufferWindow {
			t.logger.Debug("dropping stale page", "age", age)
			*pending = nil
			continue
		}

		start := time.Now()
		if err := conn.Write((*pending).data); err != nil {
			return err
		}
		sendDuration.Observe(time.Since(start).Seconds())
		bytesSent.Add(float64(len((*pending).data)))
		chunksSent.Inc()
		t.status.bytesSent.Add(uint64(len((*pending).data)))
		t.status.chunksSent.Add(1)
		*pending = nil
	}
}
