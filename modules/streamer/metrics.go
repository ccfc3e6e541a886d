package streamer

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zachfi/snowboot/pkg/icecast"
)

var (
	connectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_connection_attempts_total",
		Help: "Total number of connection attempts",
	})
	connectionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_connection_failures_total",
		Help: "Total number of connection failures",
	})
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snowboot_connection_state",
		Help: "Current connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=failed)",
	})
	reconnectCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_reconnect_total",
		Help: "Total number of reconnection attempts",
	})
	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_bytes_sent_total",
		Help: "Total bytes sent to Icecast",
	})
	bytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_bytes_read_total",
		Help: "Total bytes read from input pipe",
	})
	chunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_chunks_sent_total",
		Help: "Total chunks sent to Icecast",
	})
	sendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snowboot_send_duration_seconds",
		Help:    "Time to send data to Icecast",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})
	bufferedPages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snowboot_buffer_size_pages",
		Help: "Pages currently queued between mux and transport",
	})
	errorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_errors_total",
		Help: "Total number of errors",
	})
	pipeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_pipe_errors_total",
		Help: "Total number of pipe read errors",
	})
	silencePages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snowboot_silence_pages_total",
		Help: "Silence pages synthesized while the producer was absent",
	})
	uptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snowboot_uptime_seconds",
		Help: "Uptime in seconds",
	})
)

// Status is the shared, read-only-from-outside snapshot source consumed by
// the health surface. All fields are updated atomically by the streamer's
// tasks.
type Status struct {
	start time.Time

	connState      atomic.Int32
	bytesSent      atomic.Uint64
	bytesRead      atomic.Uint64
	chunksSent     atomic.Uint64
	errorsTotal    atomic.Uint64
	currentBackoff atomic.Int64 // nanoseconds
}

func NewStatus() *Status {
	s := &Status{start: time.Now()}
	s.connState.Store(int32(icecast.StateDisconnected))
	return s
}

func (s *Status) setState(st icecast.State) {
	s.connState.Store(int32(st))
	connectionState.Set(float64(st))
}

func (s *Status) State() icecast.State {
	return icecast.State(s.connState.Load())
}

func (s *Status) setBackoff(d time.Duration) {
	s.currentBackoff.Store(int64(d))
}

// Snapshot is the serializable view handed to the health endpoint.
type Snapshot struct {
	ConnectionState string  `json:"connection_state"`
	BytesSent       uint64  `json:"bytes_sent"`
	BytesRead       uint64  `json:"bytes_read"`
	ChunksSent      uint64  `json:"chunks_sent"`
	ErrorsTotal     uint64  `json:"errors_total"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	CurrentBackoff  float64 `json:"current_backoff"`
}

func (s *Status) Snapshot() Snapshot {
	uptime := time.Since(s.start).Seconds()
	uptimeSeconds.Set(uptime)
	return Snapshot{
		ConnectionState: s.State().String(),
		BytesSent:       s.bytesSent.Load(),
		BytesRead:       s.bytesRead.Load(),
		ChunksSent:      s.chunksSent.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		UptimeSeconds:   uptime,
		CurrentBackoff:  time.Duration(s.currentBackoff.Load()).Seconds(),
	}
}
