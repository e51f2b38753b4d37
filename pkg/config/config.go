package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"replaylog/pkg/compression"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
)

// Config is the root of the application configuration.
// yaml tags drive parsing, validate tags document what Validate checks.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger" validate:"required"`
	Server    ServerConfig    `yaml:"http-server" validate:"required"`
	Log       LogConfig       `yaml:"log" validate:"required"`
	Retrieval RetrievalConfig `yaml:"retrieval" validate:"required"`
	Replay    ReplayConfig    `yaml:"replay" validate:"required"`
}

type LoggerConfig struct {
	Level string `yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	Port              int      `yaml:"port" validate:"required,min=1,max=65535"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout" validate:"required"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout" validate:"required"`
}

const (
	BackendWAL    = "wal"
	BackendPebble = "pebble"
)

type LogConfig struct {
	Backend       string `yaml:"backend" validate:"required,oneof=wal pebble"`
	Path          string `yaml:"path" validate:"required"`
	RollCycle     string `yaml:"roll_cycle" validate:"required"`
	SyncWrites    bool   `yaml:"sync_writes"`
	MaxRecordSize int    `yaml:"max_record_size" validate:"min=0"`
	Codec         string `yaml:"codec" validate:"oneof=json msgpack"`
	Compression   string `yaml:"compression" validate:"oneof=none gzip zstd"`
}

type RetrievalConfig struct {
	DemandPoll          Duration `yaml:"demand_poll" validate:"required,gt=0"`
	DataPoll            Duration `yaml:"data_poll" validate:"required,gt=0"`
	DeleteAfterRead     bool     `yaml:"delete_after_read"`
	PropagateReadErrors bool     `yaml:"propagate_read_errors"`
}

type ReplayConfig struct {
	Acceleration     float64  `yaml:"acceleration" validate:"required,gt=0"`
	LoopDelay        Duration `yaml:"loop_delay" validate:"min=0"`
	EmptyLoopBackoff Duration `yaml:"empty_loop_backoff" validate:"min=0"`
}

// Duration is a time.Duration written as "100ms", "1s" and so on.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: Duration(time.Second),
			ShutdownTimeout:   Duration(5 * time.Second),
		},
		Log: LogConfig{
			Backend:   BackendWAL,
			Path:      "./data/log",
			RollCycle: "daily",
			Codec:       "json",
			Compression: "none",
		},
		Retrieval: RetrievalConfig{
			DemandPoll: Duration(100 * time.Millisecond),
			DataPoll:   Duration(10 * time.Millisecond),
		},
		Replay: ReplayConfig{
			Acceleration:     1,
			EmptyLoopBackoff: Duration(10 * time.Millisecond),
		},
	}
}

// Load reads a YAML file over Default(). A missing file yields the default
// config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default(), so omitted keys keep their defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{dberrors.ErrInvalidArgument}, args...)...))
	}

	switch strings.ToUpper(c.Logger.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		add("logger.level %q", c.Logger.Level)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("http-server.port %d", c.Server.Port)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		add("http-server.read_header_timeout %s", c.Server.ReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("http-server.shutdown_timeout %s", c.Server.ShutdownTimeout)
	}

	switch c.Log.Backend {
	case BackendWAL, BackendPebble:
	default:
		add("log.backend %q", c.Log.Backend)
	}
	if c.Log.Path == "" {
		add("log.path is empty")
	}
	if _, err := segment.ParseRollCycle(c.Log.RollCycle); err != nil {
		add("log.roll_cycle %q", c.Log.RollCycle)
	}
	if c.Log.MaxRecordSize < 0 {
		add("log.max_record_size %d", c.Log.MaxRecordSize)
	}
	switch c.Log.Codec {
	case "", "json", "msgpack":
	default:
		add("log.codec %q", c.Log.Codec)
	}

	if _, err := compression.ParseAlgorithm(c.Log.Compression); err != nil {
		add("log.compression %q", c.Log.Compression)
	}

	if c.Retrieval.DemandPoll <= 0 {
		add("retrieval.demand_poll %s", c.Retrieval.DemandPoll)
	}
	if c.Retrieval.DataPoll <= 0 {
		add("retrieval.data_poll %s", c.Retrieval.DataPoll)
	}

	if !(c.Replay.Acceleration > 0) {
		add("replay.acceleration %v", c.Replay.Acceleration)
	}
	if c.Replay.LoopDelay < 0 {
		add("replay.loop_delay %s", c.Replay.LoopDelay)
	}
	if c.Replay.EmptyLoopBackoff < 0 {
		add("replay.empty_loop_backoff %s", c.Replay.EmptyLoopBackoff)
	}

	return errors.Join(errs...)
}

// SlogLevel maps Logger.Level to a slog level. Unknown levels map to INFO.
func (c LoggerConfig) SlogLevel() slog.Level {
	switch strings.ToUpper(c.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
