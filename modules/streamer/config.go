package streamer

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zachfi/zkit/pkg/util"
)

const (
	defaultInitialBackoff    = 1 * time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultConnectTimeout    = 30 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultBufferSeconds     = 1.0
)

type Config struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Mount    string `yaml:"mount,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"-"` // never serialized; flag or SNOWBOOT_PASSWORD
	UseTLS   bool   `yaml:"use-tls,omitempty"`

	InputPipe string `yaml:"input-pipe,omitempty"`

	SampleRate    int     `yaml:"sample-rate,omitempty"`
	Bitrate       int     `yaml:"bitrate,omitempty"`
	BufferSeconds float64 `yaml:"buffer-seconds,omitempty"`

	InitialBackoff    time.Duration `yaml:"initial-backoff,omitempty"`
	MaxBackoff        time.Duration `yaml:"max-backoff,omitempty"`
	BackoffMultiplier float64       `yaml:"backoff-multiplier,omitempty"`
	MaxRetries        int           `yaml:"max-retries,omitempty"`

	ConnectTimeout time.Duration `yaml:"connect-timeout,omitempty"`
	WriteTimeout   time.Duration `yaml:"write-timeout,omitempty"`

	KeepAlive          bool          `yaml:"keep-alive,omitempty"`
	MaxSilenceDuration time.Duration `yaml:"max-silence-duration,omitempty"`

	StreamName        string `yaml:"stream-name,omitempty"`
	StreamDescription string `yaml:"stream-description,omitempty"`
	StreamGenre       string `yaml:"stream-genre,omitempty"`
	StreamURL         string `yaml:"stream-url,omitempty"`
	Public            bool   `yaml:"public,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Host, util.PrefixConfig(prefix, "host"), "localhost", "Icecast server hostname.")
	f.IntVar(&cfg.Port, util.PrefixConfig(prefix, "port"), 8000, "Icecast server port.")
	f.StringVar(&cfg.Mount, util.PrefixConfig(prefix, "mount"), "/stream.ogg", "Mount point path, must start with '/'.")
	f.StringVar(&cfg.Username, util.PrefixConfig(prefix, "username"), "source", "Username for source authentication.")
	f.StringVar(&cfg.Password, util.PrefixConfig(prefix, "password"), "", "Password for source authentication. Prefer the SNOWBOOT_PASSWORD environment variable.")
	f.BoolVar(&cfg.UseTLS, util.PrefixConfig(prefix, "use-tls"), false, "Wrap the connection in TLS.")
	f.StringVar(&cfg.InputPipe, util.PrefixConfig(prefix, "input-pipe"), "/tmp/snowboot.in", "Path to the input FIFO carrying Ogg Vorbis.")
	f.IntVar(&cfg.SampleRate, util.PrefixConfig(prefix, "sample-rate"), 44100, "PCM sample rate of the stream and the generated silence (8000-192000 Hz).")
	f.IntVar(&cfg.Bitrate, util.PrefixConfig(prefix, "bitrate"), 128, "Nominal bitrate in kbps (8-500).")
	f.Float64Var(&cfg.BufferSeconds, util.PrefixConfig(prefix, "buffer-seconds"), defaultBufferSeconds, "Seconds of audio buffered between mux and transport (0.1-10.0).")
	f.DurationVar(&cfg.InitialBackoff, util.PrefixConfig(prefix, "initial-backoff"), defaultInitialBackoff, "Initial reconnect delay.")
	f.DurationVar(&cfg.MaxBackoff, util.PrefixConfig(prefix, "max-backoff"), defaultMaxBackoff, "Cap on the reconnect delay.")
	f.Float64Var(&cfg.BackoffMultiplier, util.PrefixConfig(prefix, "backoff-multiplier"), defaultBackoffMultiplier, "Multiplier applied to the reconnect delay after each failure.")
	f.IntVar(&cfg.MaxRetries, util.PrefixConfig(prefix, "max-retries"), 0, "Connection attempts before giving up. 0 retries forever.")
	f.DurationVar(&cfg.ConnectTimeout, util.PrefixConfig(prefix, "connect-timeout"), defaultConnectTimeout, "Timeout for a single connection attempt.")
	f.DurationVar(&cfg.WriteTimeout, util.PrefixConfig(prefix, "write-timeout"), defaultWriteTimeout, "Deadline on each page write; guards against half-open sockets.")
	f.BoolVar(&cfg.KeepAlive, util.PrefixConfig(prefix, "keep-alive"), true, "Pad producer gaps with silence instead of stopping.")
	f.DurationVar(&cfg.MaxSilenceDuration, util.PrefixConfig(prefix, "max-silence-duration"), 0, "Stop after this much continuous silence. 0 is unlimited.")
	f.StringVar(&cfg.StreamName, util.PrefixConfig(prefix, "stream-name"), "", "Stream name to display in Icecast.")
	f.StringVar(&cfg.StreamDescription, util.PrefixConfig(prefix, "stream-description"), "", "Stream description for Icecast.")
	f.StringVar(&cfg.StreamGenre, util.PrefixConfig(prefix, "stream-genre"), "", "Stream genre for Icecast.")
	f.StringVar(&cfg.StreamURL, util.PrefixConfig(prefix, "stream-url"), "", "Stream homepage URL for Icecast.")
	f.BoolVar(&cfg.Public, util.PrefixConfig(prefix, "public"), false, "List the stream on directory servers.")
}

// Validate checks every range the core depends on and names the offending
// field.
func (cfg *Config) Validate() error {
	if cfg.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", cfg.Port)
	}
	if !strings.HasPrefix(cfg.Mount, "/") {
		return fmt.Errorf("mount %q must start with '/'", cfg.Mount)
	}
	if cfg.InputPipe == "" {
		return fmt.Errorf("input-pipe must not be empty")
	}
	if cfg.SampleRate < 8000 || cfg.SampleRate > 192000 {
		return fmt.Errorf("sample-rate %d out of range 8000-192000", cfg.SampleRate)
	}
	if cfg.Bitrate < 8 || cfg.Bitrate > 500 {
		return fmt.Errorf("bitrate %d out of range 8-500", cfg.Bitrate)
	}
	if cfg.BufferSeconds < 0.1 || cfg.BufferSeconds > 10.0 {
		return fmt.Errorf("buffer-seconds %.2f out of range 0.1-10.0", cfg.BufferSeconds)
	}
	if cfg.InitialBackoff <= 0 {
		return fmt.Errorf("initial-backoff must be positive")
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		return fmt.Errorf("max-backoff %s smaller than initial-backoff %s", cfg.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff-multiplier %.2f must be at least 1", cfg.BackoffMultiplier)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	return nil
}

// VerifyPipe checks that the input path exists and is a FIFO.
func (cfg *Config) VerifyPipe() error {
	fi, err := os.Stat(cfg.InputPipe)
	if err != nil {
		return fmt.Errorf("input-pipe %s: %w", cfg.InputPipe, err)
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return fmt.Errorf("input-pipe %s is not a FIFO", cfg.InputPipe)
	}
	return nil
}
