package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxorio/isolate/pkg/observability/tracing"
)

func TestLoadYAML(t *testing.T) {
	yamlContent := `
policy:
  spawnOverhead: 250us
  copyCostPerKiB: 2us
  minBenefitRatio: 3
worker:
  queueSize: 64
  shutdownTimeout: 3s
http:
  addr: ":9000"
`
	tmpFile := createTempFile(t, "test.yaml", yamlContent)

	cfg := Default()
	if err := Load(tmpFile, &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Policy.SpawnOverhead != 250*time.Microsecond {
		t.Errorf("Policy.SpawnOverhead = %v, want 250us", cfg.Policy.SpawnOverhead)
	}
	if cfg.Policy.MinBenefitRatio != 3 {
		t.Errorf("Policy.MinBenefitRatio = %v, want 3", cfg.Policy.MinBenefitRatio)
	}
	if cfg.Worker.QueueSize != 64 || cfg.Worker.ShutdownTimeout != 3*time.Second {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("HTTP.Addr = %v, want :9000", cfg.HTTP.Addr)
	}
	// Untouched sections keep their defaults
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoadJSON(t *testing.T) {
	jsonContent := `{
  "worker": {"queueSize": 32},
  "nats": {"enabled": true, "url": "nats://nats:4222", "subject": "jobs"},
  "tracing": {"enabled": true, "exporter": "zipkin", "endpoint": "http://zipkin:9411/api/v2/spans"}
}`
	tmpFile := createTempFile(t, "test.json", jsonContent)

	cfg := Default()
	if err := Load(tmpFile, &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Worker.QueueSize != 32 {
		t.Errorf("Worker.QueueSize = %v, want 32", cfg.Worker.QueueSize)
	}
	if !cfg.NATS.Enabled || cfg.NATS.Subject != "jobs" {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	if cfg.Tracing.Exporter != tracing.ExporterZipkin {
		t.Errorf("Tracing.Exporter = %v, want zipkin", cfg.Tracing.Exporter)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"typo.yaml", "worker:\n  queueSise: 4\n"},
		{"typo.json", `{"policy": {"spawnOverhed": 1000}}`},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			cfg := Default()
			if err := Load(createTempFile(t, tt.file, tt.content), &cfg); err == nil {
				t.Error("Load should reject an unknown key")
			}
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	cfg := Default()
	if err := Load(createTempFile(t, "empty.yaml", ""), &cfg); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != Default() {
		t.Errorf("empty file changed the config: %+v", cfg)
	}
}

func TestFormatOf(t *testing.T) {
	for path, want := range map[string]Format{
		"a.json":   FormatJSON,
		"a.JSON":   FormatJSON,
		"a.yaml":   FormatYAML,
		"a.yml":    FormatYAML,
		"isolated": FormatYAML,
	} {
		if got := FormatOf(path); got != want {
			t.Errorf("FormatOf(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoadRuntime_EnvOverrides(t *testing.T) {
	yamlContent := `
policy:
  spawnOverhead: 1ms
http:
  addr: ":8081"
  readTimeout: 1s
`
	tmpFile := createTempFile(t, "runtime.yaml", yamlContent)

	t.Setenv("ISOLATE_POLICY_SPAWNOVERHEAD", "2ms")
	t.Setenv("ISOLATE_WORKER_QUEUESIZE", "16")
	t.Setenv("ISOLATE_TRACING_EXPORTER", "none")
	t.Setenv("ISOLATE_METRICS_ENABLED", "false")

	cfg, err := LoadRuntime(tmpFile)
	if err != nil {
		t.Fatalf("LoadRuntime failed: %v", err)
	}

	if cfg.Policy.SpawnOverhead != 2*time.Millisecond {
		t.Errorf("Policy.SpawnOverhead = %v, want 2ms", cfg.Policy.SpawnOverhead)
	}
	if cfg.Worker.QueueSize != 16 {
		t.Errorf("Worker.QueueSize = %v, want 16", cfg.Worker.QueueSize)
	}
	if cfg.Tracing.Exporter != tracing.ExporterNone {
		t.Errorf("Tracing.Exporter = %v, want none", cfg.Tracing.Exporter)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be overridden to false")
	}
	// File values without env override survive
	if cfg.HTTP.Addr != ":8081" || cfg.HTTP.ReadTimeout != time.Second {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
}

func TestLoadRuntime_Defaults(t *testing.T) {
	cfg, err := LoadRuntime("")
	if err != nil {
		t.Fatalf("LoadRuntime failed: %v", err)
	}
	if *cfg != Default() {
		t.Errorf("Expected defaults, got %+v", cfg)
	}
}

func TestLoadRuntime_BadDuration(t *testing.T) {
	t.Setenv("ISOLATE_HTTP_REQUESTTIMEOUT", "soon")
	if _, err := LoadRuntime(""); err == nil {
		t.Error("Expected invalid duration to fail")
	}
}

func TestRuntimeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Runtime)
		wantErr bool
	}{
		{"defaults", func(*Runtime) {}, false},
		{"missing http addr", func(r *Runtime) { r.HTTP.Addr = "" }, true},
		{"ratio below one", func(r *Runtime) { r.Policy.MinBenefitRatio = 0.5 }, true},
		{"negative overhead", func(r *Runtime) { r.Policy.SpawnOverhead = -time.Millisecond }, true},
		{"forced isolate", func(r *Runtime) { r.Policy.Force = "isolate" }, false},
		{"unknown forced mode", func(r *Runtime) { r.Policy.Force = "later" }, true},
		{"unknown exporter", func(r *Runtime) { r.Tracing.Exporter = "otlp" }, true},
		{"zero request timeout", func(r *Runtime) { r.HTTP.RequestTimeout = 0 }, true},
		{"negative read timeout", func(r *Runtime) { r.HTTP.ReadTimeout = -time.Second }, true},
		{"sample rate above one", func(r *Runtime) { r.Tracing.SampleRate = 2 }, true},
		{"nats without subject", func(r *Runtime) {
			r.NATS.Enabled = true
			r.NATS.Subject = ""
		}, true},
		{"nats disabled ignores subject", func(r *Runtime) { r.NATS.Subject = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, name := range []string{"saved.yaml", "saved.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			want := Default()
			want.Worker.QueueSize = 8

			if err := Save(path, want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			var got Runtime
			if err := Load(path, &got); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if got != want {
				t.Errorf("Round trip mismatch:\n got %+v\nwant %+v", got, want)
			}
		})
	}
}

func TestRequiredFields(t *testing.T) {
	cfg := Default()
	cfg.NATS.URL = ""

	validator := RequiredFields("NATS.URL")
	if err := validator.Validate(&cfg); err == nil {
		t.Error("RequiredFields should fail for empty URL")
	}

	cfg.NATS.URL = "nats://localhost:4222"
	if err := validator.Validate(&cfg); err != nil {
		t.Errorf("RequiredFields should pass for valid config: %v", err)
	}
}

func TestRangeValidator(t *testing.T) {
	cfg := Default()
	cfg.Worker.QueueSize = 5

	validator := RangeValidator("Worker.QueueSize", 10, 100)
	if err := validator.Validate(&cfg); err == nil {
		t.Error("RangeValidator should fail for value below minimum")
	}

	cfg.Worker.QueueSize = 50
	if err := validator.Validate(&cfg); err != nil {
		t.Errorf("RangeValidator should pass for value in range: %v", err)
	}
}

func createTempFile(t *testing.T, name, content string) string {
	t.Helper()
	tmpFile := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(tmpFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	return tmpFile
}

func TestDurationValidator(t *testing.T) {
	cfg := Default()

	if err := DurationValidator("Worker.ShutdownTimeout", time.Second, time.Minute).Validate(&cfg); err != nil {
		t.Errorf("10s should be within [1s, 1m]: %v", err)
	}
	if err := DurationValidator("Worker.ShutdownTimeout", time.Second, 5*time.Second).Validate(&cfg); err == nil {
		t.Error("10s should exceed the 5s maximum")
	}
	if err := DurationValidator("Worker.QueueSize", 0, 0).Validate(&cfg); err == nil {
		t.Error("a non-duration field should be rejected")
	}
	if err := DurationValidator("Worker.Missing", 0, 0).Validate(&cfg); err == nil {
		t.Error("a missing field should be rejected")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"APP_TRACING_ENDPOINT":      "",
		"APP_POLICY_COPYCOSTPERKIB": "5us",
		"APP_TRACING_SAMPLERATE":    "0.25",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Tracing.Endpoint = "http://zipkin:9411"
	if err := applyEnv("APP", &cfg, lookup); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.Tracing.Endpoint != "" {
		t.Errorf("a set but empty variable should clear the field, got %q", cfg.Tracing.Endpoint)
	}
	if cfg.Policy.CopyCostPerKiB != 5*time.Microsecond {
		t.Errorf("Policy.CopyCostPerKiB = %v, want 5us", cfg.Policy.CopyCostPerKiB)
	}
	if cfg.Tracing.SampleRate != 0.25 {
		t.Errorf("Tracing.SampleRate = %v, want 0.25", cfg.Tracing.SampleRate)
	}

	env = map[string]string{"APP_NATS_ENABLED": "maybe"}
	if err := applyEnv("APP", &cfg, lookup); err == nil {
		t.Error("an invalid boolean should fail")
	}
}
