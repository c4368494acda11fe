// Package config loads replay settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/flight-replay/timectrl"
)

// Source kinds.
const (
	SourceHTTP     = "http"
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceACMI     = "acmi"
)

// Tracing exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Tracing holds the OpenTelemetry settings of the server.
type Tracing struct {
	Enabled     bool
	Exporter    string
	Endpoint    string // OTLP collector; empty means localhost:4317
	ServiceName string
	SampleRatio float64
}

// Config is the resolved runtime configuration shared by the binaries.
type Config struct {
	Source      string
	DataURL     string
	DSN         string
	ACMIDir     string
	Tick        time.Duration
	Rate        float64
	Loop        string
	GRPCAddr    string
	MetricsAddr string
	DataAPIAddr string
	Tracing     Tracing
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Source:      SourceHTTP,
		DataURL:     "http://localhost:8000/api",
		DSN:         "replay.db",
		ACMIDir:     "recordings",
		Tick:        time.Second / 60,
		Rate:        1,
		Loop:        "stop",
		GRPCAddr:    ":50061",
		MetricsAddr: ":9091",
		Tracing: Tracing{
			Exporter:    ExporterStdout,
			ServiceName: "flight-replay",
			SampleRatio: 1,
		},
	}
}

// Load reads the given .env files (".env" when none are named) if they exist
// and then resolves the configuration from the environment. Variables already
// set in the process environment win over file values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}
	return FromEnv()
}

// FromEnv resolves the configuration from REPLAY_* variables on top of
// Default and validates it.
func FromEnv() (Config, error) {
	cfg := Default()

	setString(&cfg.Source, "REPLAY_SOURCE")
	setString(&cfg.DataURL, "REPLAY_DATA_URL")
	setString(&cfg.DSN, "REPLAY_DSN")
	setString(&cfg.ACMIDir, "REPLAY_ACMI_DIR")
	setString(&cfg.Loop, "REPLAY_LOOP")
	setString(&cfg.GRPCAddr, "REPLAY_GRPC_ADDR")
	setString(&cfg.MetricsAddr, "REPLAY_METRICS_ADDR")
	setString(&cfg.DataAPIAddr, "REPLAY_DATA_API_ADDR")
	setString(&cfg.Tracing.Exporter, "REPLAY_TRACING_EXPORTER")
	setString(&cfg.Tracing.Endpoint, "REPLAY_OTLP_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "REPLAY_TRACING_SERVICE_NAME")

	if raw := strings.TrimSpace(os.Getenv("REPLAY_TICK")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("REPLAY_TICK: %w", err)
		}
		cfg.Tick = d
	}
	if raw := strings.TrimSpace(os.Getenv("REPLAY_RATE")); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("REPLAY_RATE: %w", err)
		}
		cfg.Rate = r
	}
	if raw := strings.TrimSpace(os.Getenv("REPLAY_TRACING_ENABLED")); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("REPLAY_TRACING_ENABLED: %w", err)
		}
		cfg.Tracing.Enabled = on
	}
	if raw := strings.TrimSpace(os.Getenv("REPLAY_TRACING_SAMPLE_RATIO")); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("REPLAY_TRACING_SAMPLE_RATIO: %w", err)
		}
		cfg.Tracing.SampleRatio = r
	}

	cfg.Source = strings.ToLower(cfg.Source)
	cfg.Tracing.Exporter = strings.ToLower(cfg.Tracing.Exporter)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceHTTP:
		if c.DataURL == "" {
			errs = append(errs, errors.New("REPLAY_DATA_URL is required for the http source"))
		}
	case SourceSQLite, SourcePostgres:
		if c.DSN == "" {
			errs = append(errs, fmt.Errorf("REPLAY_DSN is required for the %s source", c.Source))
		}
	case SourceACMI:
		if c.ACMIDir == "" {
			errs = append(errs, errors.New("REPLAY_ACMI_DIR is required for the acmi source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.Rate == 0 || math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		errs = append(errs, fmt.Errorf("rate must be finite and non-zero, got %v", c.Rate))
	}
	if _, err := timectrl.ParseLoopPolicy(c.Loop); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, c.Tracing.validate()...)
	return errors.Join(errs...)
}

func (t Tracing) validate() []error {
	var errs []error
	switch t.Exporter {
	case ExporterStdout, ExporterOTLP:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", t.Exporter))
	}
	if !(t.SampleRatio >= 0 && t.SampleRatio <= 1) {
		errs = append(errs, fmt.Errorf("tracing sample ratio must be within [0, 1], got %v", t.SampleRatio))
	}
	if t.Enabled && strings.TrimSpace(t.ServiceName) == "" {
		errs = append(errs, errors.New("REPLAY_TRACING_SERVICE_NAME must not be blank when tracing is enabled"))
	}
	return errs
}

// LoopPolicy returns the parsed loop policy; Validate has already vetted it.
func (c Config) LoopPolicy() timectrl.LoopPolicy {
	p, _ := timectrl.ParseLoopPolicy(c.Loop)
	return p
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
