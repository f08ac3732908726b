package config

import (
	"fmt"
	"time"

	"github.com/fluxorio/isolate/pkg/observability/tracing"
	"github.com/fluxorio/isolate/pkg/policy"
)

// EnvPrefix prefixes every environment override of Runtime.
const EnvPrefix = "ISOLATE"

// Runtime is the configuration of an isolate process.
type Runtime struct {
	Policy  policy.Config  `yaml:"policy" json:"policy"`
	Worker  Worker         `yaml:"worker" json:"worker"`
	Metrics Metrics        `yaml:"metrics" json:"metrics"`
	Tracing tracing.Config `yaml:"tracing" json:"tracing"`
	NATS    NATS           `yaml:"nats" json:"nats"`
	HTTP    HTTP           `yaml:"http" json:"http"`
}

// Worker configures spawned workers.
type Worker struct {
	// QueueSize bounds each worker's task mailbox.
	QueueSize int `yaml:"queueSize" json:"queueSize"`
	// ShutdownTimeout bounds graceful termination of live workers on exit.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	// CalibrationSamples probes are run at startup to measure spawn overhead; 0 disables calibration.
	CalibrationSamples int `yaml:"calibrationSamples" json:"calibrationSamples"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// NATS configures the bridge exposing worker endpoints to other processes.
type NATS struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
	// Subject receives offload requests as JSON.
	Subject string `yaml:"subject" json:"subject"`
}

// HTTP configures the trigger server.
type HTTP struct {
	Addr           string        `yaml:"addr" json:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout" json:"requestTimeout"`
}

// Default returns the configuration used when no file is given.
func Default() Runtime {
	return Runtime{
		Policy: policy.DefaultConfig(),
		Worker: Worker{
			QueueSize:       256,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: tracing.Config{
			ServiceName: "isolate",
			Exporter:    tracing.ExporterStdout,
			SampleRate:  1,
		},
		NATS: NATS{
			URL:     "nats://127.0.0.1:4222",
			Subject: "isolate.offload",
		},
		HTTP: HTTP{
			Addr:           ":8080",
			ReadTimeout:    5 * time.Second,
			WriteTimeout:   30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validators returns the checks applied by Runtime.Validate.
func Validators() []Validator {
	return []Validator{
		RequiredFields("HTTP.Addr"),
		RangeValidator("Policy.MinBenefitRatio", 1, 1e6),
		RangeValidator("Worker.QueueSize", 0, 1<<20),
		RangeValidator("Worker.CalibrationSamples", 0, 1000),
		RangeValidator("Tracing.SampleRate", 0, 1),
		DurationValidator("Worker.ShutdownTimeout", time.Millisecond, 0),
		DurationValidator("HTTP.RequestTimeout", time.Millisecond, 0),
		DurationValidator("HTTP.ReadTimeout", 0, 0),
		DurationValidator("HTTP.WriteTimeout", 0, 0),
		OneOfValidator("Tracing.Exporter", "", tracing.ExporterNone, tracing.ExporterStdout, tracing.ExporterZipkin, tracing.ExporterJaeger),
		ValidatorFunc(func(config interface{}) error {
			return config.(*Runtime).Policy.Validate()
		}),
	}
}

// Validate checks the configuration.
func (r *Runtime) Validate() error {
	if err := Validate(r, Validators()...); err != nil {
		return err
	}
	if r.NATS.Enabled {
		if err := Validate(r, RequiredFields("NATS.URL"), StringLengthValidator("NATS.Subject", 1, 255)); err != nil {
			return err
		}
	}
	return nil
}

// LoadRuntime builds a Runtime from the defaults, the file at path (skipped
// when path is empty) and ISOLATE_* environment overrides, then validates it.
func LoadRuntime(path string) (*Runtime, error) {
	cfg := Default()
	if path != "" {
		if err := Load(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	if err := ApplyEnvOverrides(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
