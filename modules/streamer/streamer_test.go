package streamer

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/zachfi/snowboot/pkg/icecast"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Port = 0
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if _, err := New(*cfg, *logger); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := NewStatus()
	s.setState(icecast.StateConnected)
	s.bytesSent.Add(100)
	s.bytesRead.Add(50)
	s.chunksSent.Add(3)
	s.errorsTotal.Add(1)
	s.setBackoff(1500 * time.Millisecond)

	snap := s.Snapshot()
	if snap.ConnectionState != "connected" {
		t.Errorf("connection_state = %q", snap.ConnectionState)
	}
	if snap.BytesSent != 100 || snap.BytesRead != 50 || snap.ChunksSent != 3 || snap.ErrorsTotal != 1 {
		t.Errorf("counters wrong: %+v", snap)
	}
	if snap.CurrentBackoff != 1.5 {
		t.Errorf("current_backoff = %v, want 1.5", snap.CurrentBackoff)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime negative: %v", snap.UptimeSeconds)
	}

	// The health surface serialises this struct; the wire keys are part of
	// its contract.
	b, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"connection_state", "bytes_sent", "bytes_read",
		"chunks_sent", "errors_total", "uptime_seconds", "current_backoff",
	} {
		if !jsonHasKey(b, key) {
			t.Errorf("snapshot JSON missing key %q: %s", key, b)
		}
	}
}

func jsonHasKey(b []byte, key string) bool {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
