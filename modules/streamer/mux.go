package streamer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zachfi/snowboot/pkg/ogg"
	"github.com/zachfi/snowboot/pkg/vorbis"
)

// inputDeadline is how long the mux waits for a real page before padding
// with silence. It is a read deadline only; emission pacing comes from the
// transport draining the queue.
const inputDeadline = 100 * time.Millisecond

type muxMode int

const (
	modeSilence muxMode = iota
	modeReal
)

var errKeepAliveDisabled = errors.New("streamer: input unavailable and keep-alive is disabled")

// mux merges the possibly-intermittent input page stream with generated
// silence into one continuous logical stream. It is the sole owner of the
// output serial, sequence and granule counters; input pages are always
// re-stamped and never trusted for identity.
type mux struct {
	logger  *slog.Logger
	silence *vorbis.Source
	in      <-chan ogg.Page
	out     *pageQueue

	keepAlive  bool
	maxSilence time.Duration

	serial  uint32
	seq     uint32
	granule int64
	mode    muxMode

	// Granule rebase for the current real source.
	rebase      int64
	rebaseValid bool

	// Input logical-stream tracking.
	sawBOS        bool
	inSerial      uint32
	rejectStream  bool
	headersToSkip int
	silenceSince  time.Time
}

func newMux(logger *slog.Logger, silence *vorbis.Source, in <-chan ogg.Page, out *pageQueue, serial uint32, keepAlive bool, maxSilence time.Duration) *mux {
	return &mux{
		logger:     logger.With("task", "mux"),
		silence:    silence,
		in:         in,
		out:        out,
		keepAlive:  keepAlive,
		maxSilence: maxSilence,
		serial:     serial,
	}
}

func (m *mux) run(ctx context.Context) error {
	// The session opens with the silence source's header pages so that a
	// silence-only startup is a valid stream. Sequences 0, 1, 2; audio
	// starts at 3.
	for _, raw := range m.silence.HeaderPages(m.serial) {
		if err := m.out.push(ctx, raw); err != nil {
			return nil
		}
	}
	m.seq = 3
	m.granule = 0
	m.mode = modeSilence
	m.silenceSince = time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-m.in:
			if err := m.handleInput(ctx, p); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		case <-time.After(inputDeadline):
			if err := m.emitSilence(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (m *mux) handleInput(ctx context.Context, p ogg.Page) error {
	if p.First() {
		return m.beginStream(p)
	}
	if !m.sawBOS || p.Serial != m.inSerial {
		// Pages from a stream whose headers were never seen; nothing safe to
		// forward.
		m.logger.Debug("dropping page from unknown logical stream", "serial", p.Serial)
		return nil
	}
	if m.rejectStream {
		return nil
	}
	if m.headersToSkip > 0 {
		m.headersToSkip -= completedPackets(p)
		if m.headersToSkip < 0 {
			m.headersToSkip = 0
		}
		return nil
	}
	return m.emitReal(ctx, p)
}

// beginStream inspects the identification header of a new input logical
// stream. A stream whose PCM parameters disagree with the session is
// rejected for its whole life: forwarding its setup headers would break
// listeners, so silence continues instead.
func (m *mux) beginStream(p ogg.Page) error {
	m.sawBOS = true
	m.inSerial = p.Serial
	m.rebaseValid = false
	m.headersToSkip = 0

	pkts := p.Packets()
	if len(pkts) == 0 {
		m.rejectStream = true
		return nil
	}
	id, err := vorbis.ParseIDHeader(pkts[0])
	if err != nil {
		m.logger.Error("input stream is not Vorbis, ignoring it", "err", err)
		m.rejectStream = true
		errorsTotal.Inc()
		return nil
	}
	session := m.silence.IDHeader()
	if id.SampleRate != session.SampleRate || id.Channels != session.Channels {
		m.logger.Error("input stream parameters do not match session, ignoring it",
			"input_rate", id.SampleRate, "session_rate", session.SampleRate,
			"input_channels", id.Channels, "session_channels", session.Channels)
		m.rejectStream = true
		errorsTotal.Inc()
		return nil
	}

	m.rejectStream = false
	// Comment and setup headers follow the identification page; they are
	// swallowed too, since the session's headers went out at startup.
	m.headersToSkip = 2
	m.logger.Info("accepted new input stream", "serial", p.Serial, "rate", id.SampleRate, "channels", id.Channels)
	return nil
}

func (m *mux) emitReal(ctx context.Context, p ogg.Page) error {
	// The output stream never ends and never restarts mid-session.
	typ := p.Type &^ (ogg.FlagFirst | ogg.FlagLast)

	granule := p.Granule
	if granule >= 0 {
		if !m.rebaseValid {
			m.rebase = (m.granule + m.silence.SamplesPerPage()) - granule
			m.rebaseValid = true
		}
		granule += m.rebase
		if granule < m.granule {
			// The rebased granule falls behind the wire: the source's own clock
			// went backwards, or silence went out since its last page. Rebase
			// again so the wire stays monotonic.
			m.logger.Warn("input granule regressed, rebasing", "granule", p.Granule)
			m.rebase = (m.granule + m.silence.SamplesPerPage()) - p.Granule
			granule = p.Granule + m.rebase
		}
	}

	out := ogg.Page{Type: typ, Segments: p.Segments, Payload: p.Payload}
	if err := m.out.push(ctx, out.Encode(m.serial, m.seq, granule)); err != nil {
		return err
	}
	m.seq++
	if granule >= 0 {
		m.granule = granule
	}
	if m.mode != modeReal {
		m.logger.Info("producer audio resumed")
		m.mode = modeReal
	}
	return nil
}

func (m *mux) emitSilence(ctx context.Context) error {
	if !m.keepAlive {
		return errKeepAliveDisabled
	}
	if m.mode != modeSilence {
		m.logger.Info("input absent, padding with silence")
		m.mode = modeSilence
		m.silenceSince = time.Now()
	}
	if m.maxSilence > 0 && time.Since(m.silenceSince) > m.maxSilence {
		return errors.New("streamer: maximum silence duration exceeded")
	}

	// One deadline window's worth of audio per insertion; back-pressure from
	// the queue paces anything faster.
	needed := int64(m.silence.SampleRate()) * int64(inputDeadline) / int64(time.Second)
	pages, seq, granule := m.silence.NextBatch(m.serial, m.seq, m.granule, needed)
	for _, raw := range pages {
		if err := m.out.push(ctx, raw); err != nil {
			return err
		}
	}
	silencePages.Add(float64(len(pages)))
	m.seq = seq
	m.granule = granule
	return nil
}

// completedPackets counts packets that end on this page.
func completedPackets(p ogg.Page) int {
	n := 0
	for _, s := range p.Segments {
		if s < 255 {
			n++
		}
	}
	return n
}
