package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cqnkjsx/htcondor/gahp"
	"github.com/cqnkjsx/htcondor/lifecycle"
)

const defaultLogFile = "azure_gahp.log"

// Duration decodes TOML strings such as "10s" or "45m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Config is the optional process configuration file.
type Config struct {
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Poll       PollConfig       `toml:"poll"`
	Log        LogConfig        `toml:"log"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Azure      AzureConfig      `toml:"azure"`
}

type DispatcherConfig struct {
	Workers    int `toml:"workers"`
	QueueDepth int `toml:"queue_depth"`
}

type PollConfig struct {
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	Debug bool   `toml:"debug"`
}

type TelemetryConfig struct {
	ServiceName string `toml:"service_name"`
}

// AzureConfig points every command at an ARM-compatible simulator instead
// of the endpoint named in the credentials file. Credentials are then not
// exchanged for tokens.
type AzureConfig struct {
	SimulatorEndpoint string `toml:"simulator_endpoint"`
}

func defaultConfig() Config {
	return Config{
		Dispatcher: DispatcherConfig{
			Workers:    gahp.DefaultWorkers,
			QueueDepth: gahp.DefaultQueueDepth,
		},
		Poll: PollConfig{
			Interval: Duration{lifecycle.DefaultPollInterval},
			Timeout:  Duration{lifecycle.DefaultPollTimeout},
		},
		Log:       LogConfig{Level: "info", File: defaultLogFile},
		Telemetry: TelemetryConfig{ServiceName: "azure-gahp"},
	}
}

// loadConfig decodes path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown keys %v", path, undecoded)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.QueueDepth < 1 {
		return fmt.Errorf("dispatcher.queue_depth must be at least 1, got %d", c.Dispatcher.QueueDepth)
	}
	if c.Poll.Interval.Duration <= 0 || c.Poll.Timeout.Duration <= 0 {
		return fmt.Errorf("poll.interval and poll.timeout must be positive")
	}
	return nil
}
