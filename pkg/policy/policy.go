// Package policy decides whether a unit of work is worth running in an
// isolated worker.
//
// Isolation has a fixed price: spawning a worker plus copying its input and
// output across the boundary. Work whose CPU time does not clearly exceed
// that price runs inline, and work dominated by waiting on something external
// is awaited in place since a worker cannot make the wait shorter.
package policy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Mode is a dispatch decision.
type Mode int

const (
	// Inline runs the work on the caller's goroutine.
	Inline Mode = iota
	// Isolate offloads the work to a fresh worker.
	Isolate
	// Await runs the work in place; its latency is external waiting.
	Await
)

func (m Mode) String() string {
	switch m {
	case Inline:
		return "inline"
	case Isolate:
		return "isolate"
	case Await:
		return "await"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config holds the thresholds. All of them are tunable per deployment.
type Config struct {
	// SpawnOverhead is the fixed cost of spawning a worker and completing its handshake.
	SpawnOverhead time.Duration `yaml:"spawnOverhead" json:"spawnOverhead"`
	// CopyCostPerKiB is the cost of copying one KiB of payload across the boundary.
	CopyCostPerKiB time.Duration `yaml:"copyCostPerKiB" json:"copyCostPerKiB"`
	// MinBenefitRatio is how many times the overhead CPU work must cost before
	// isolating it pays off.
	MinBenefitRatio float64 `yaml:"minBenefitRatio" json:"minBenefitRatio"`
	// Force pins every decision to one mode ("inline", "isolate" or "await").
	// Empty means classify by cost.
	Force string `yaml:"force,omitempty" json:"force,omitempty"`
}

// DefaultConfig returns thresholds suited to in-process workers.
func DefaultConfig() Config {
	return Config{
		SpawnOverhead:   100 * time.Microsecond,
		CopyCostPerKiB:  time.Microsecond,
		MinBenefitRatio: 2,
	}
}

// Validate reports thresholds that cannot produce sensible decisions.
func (c Config) Validate() error {
	if c.SpawnOverhead < 0 {
		return fmt.Errorf("spawn overhead must not be negative, got %v", c.SpawnOverhead)
	}
	if c.CopyCostPerKiB < 0 {
		return fmt.Errorf("copy cost must not be negative, got %v", c.CopyCostPerKiB)
	}
	if c.MinBenefitRatio < 1 {
		return fmt.Errorf("benefit ratio must be at least 1, got %v", c.MinBenefitRatio)
	}
	if c.Force != "" {
		if _, err := ParseMode(c.Force); err != nil {
			return fmt.Errorf("force: %w", err)
		}
	}
	return nil
}

// Work describes the expected cost of an operation.
type Work struct {
	// CPU is the expected processing time.
	CPU time.Duration
	// Wait is the expected time spent waiting on external systems.
	Wait time.Duration
	// PayloadBytes is the size of the data that would cross the boundary.
	PayloadBytes int
}

// Decision is the outcome of Classify.
type Decision struct {
	Mode     Mode
	Reason   string
	Overhead time.Duration
}

// Policy classifies work. It is safe for concurrent use.
type Policy struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a policy. Invalid thresholds are rejected.
func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

// Default returns a policy with DefaultConfig.
func Default() *Policy {
	return &Policy{cfg: DefaultConfig()}
}

// Config returns the current thresholds.
func (p *Policy) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetConfig replaces the thresholds.
func (p *Policy) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// Overhead returns the isolation price for a payload of the given size.
func (p *Policy) Overhead(payloadBytes int) time.Duration {
	cfg := p.Config()
	return overhead(cfg, payloadBytes)
}

func overhead(cfg Config, payloadBytes int) time.Duration {
	kib := (payloadBytes + 1023) / 1024
	return cfg.SpawnOverhead + time.Duration(kib)*cfg.CopyCostPerKiB
}

// Classify decides how w should run.
func (p *Policy) Classify(w Work) Decision {
	cfg := p.Config()
	cost := overhead(cfg, w.PayloadBytes)

	if cfg.Force != "" {
		// Validate has already accepted the name.
		m, _ := ParseMode(cfg.Force)
		return Decision{Mode: m, Reason: "forced", Overhead: cost}
	}
	if w.Wait > 0 && w.Wait >= w.CPU {
		return Decision{Mode: Await, Reason: "wait-dominated", Overhead: cost}
	}
	threshold := time.Duration(float64(cost) * cfg.MinBenefitRatio)
	if w.CPU < threshold {
		return Decision{
			Mode:     Inline,
			Reason:   fmt.Sprintf("cpu %v below threshold %v", w.CPU, threshold),
			Overhead: cost,
		}
	}
	return Decision{
		Mode:     Isolate,
		Reason:   fmt.Sprintf("cpu %v exceeds threshold %v", w.CPU, threshold),
		Overhead: cost,
	}
}

// Calibrate runs probe samples times, typically a spawn of a no-op worker,
// and stores the median duration as SpawnOverhead.
func (p *Policy) Calibrate(ctx context.Context, probe func(ctx context.Context) error, samples int) (time.Duration, error) {
	if samples <= 0 {
		samples = 5
	}
	durations := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		start := time.Now()
		if err := probe(ctx); err != nil {
			return 0, fmt.Errorf("calibration probe %d: %w", i, err)
		}
		durations = append(durations, time.Since(start))
	}
	slices.Sort(durations)
	median := durations[len(durations)/2]

	p.mu.Lock()
	p.cfg.SpawnOverhead = median
	p.mu.Unlock()
	return median, nil
}

// ErrInvalid is returned by ParseMode for unknown mode names.
var ErrInvalid = errors.New("unknown dispatch mode")

// ParseMode parses the String form of a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "inline":
		return Inline, nil
	case "isolate":
		return Isolate, nil
	case "await":
		return Await, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
}
