package app

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"

	"github.com/zachfi/snowboot/modules/streamer"
)

type Config struct {
	Target   string          `yaml:"target"`
	LogLevel string          `yaml:"log_level"`
	Tracing  tracing.Config  `yaml:"tracing,omitempty"`
	Server   server.Config   `yaml:"server,omitempty"`
	Streamer streamer.Config `yaml:"streamer,omitempty"`
}

// LoadConfig receives a file path for a configuration to load.
func LoadConfig(file string) (Config, error) {
	filename, _ := filepath.Abs(file)

	config := Config{}
	err := loadYamlFile(filename, &config)
	if err != nil {
		return config, errors.Wrap(err, "failed to load yaml file")
	}

	return config, nil
}

// loadYamlFile unmarshals a YAML file into the received interface{} or returns an error.
func loadYamlFile(filename string, d interface{}) error {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	err = yaml.Unmarshal(yamlFile, d)
	if err != nil {
		return err
	}

	return nil
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	flagext.DefaultValues(&c.Server)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 8080, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9095, "gRPC server listen port.")
	f.StringVar(&c.LogLevel, "log.level", "info", "Log level (debug, info, warn, error).")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Streamer.RegisterFlagsAndApplyDefaults("streamer", f)
}
