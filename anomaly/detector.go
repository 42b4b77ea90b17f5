// Package anomaly flags readings that deviate strongly from their recent
// history, using the median absolute deviation as a robust spread estimate
// and separate detect and release thresholds.
package anomaly

import (
	"errors"
	"math"

	"github.com/TheCacophonyProject/tc2-hat-sensors/ring"
)

type Config struct {
	// HistorySize is how many clean samples are kept.
	HistorySize int `mapstructure:"history-size"`
	// MinSamples are collected before any detection is attempted.
	MinSamples int `mapstructure:"min-samples"`
	// DetectSigma is the z-score above which a sample is anomalous.
	DetectSigma float64 `mapstructure:"detect-sigma"`
	// ReleaseSigma is the z-score below which a detection clears.
	ReleaseSigma float64 `mapstructure:"release-sigma"`
	// MinSigma floors the spread so near-constant history does not divide by zero.
	MinSigma float64 `mapstructure:"min-sigma"`
}

func DefaultConfig() Config {
	return Config{
		HistorySize:  50,
		MinSamples:   10,
		DetectSigma:  5.0,
		ReleaseSigma: 3.0,
		MinSigma:     0.005,
	}
}

func (c Config) Validate() error {
	if c.HistorySize < 1 {
		return errors.New("history size must be positive")
	}
	if c.MinSamples < 1 {
		return errors.New("min samples must be positive")
	}
	if c.MinSamples > c.HistorySize {
		return errors.New("min samples can not be larger than the history size")
	}
	if c.MinSigma <= 0 {
		return errors.New("min sigma must be positive")
	}
	if c.ReleaseSigma <= 0 {
		return errors.New("release sigma must be positive")
	}
	if c.DetectSigma <= c.ReleaseSigma {
		return errors.New("detect sigma must be larger than release sigma")
	}
	return nil
}

// Result is the outcome of one Update.
type Result struct {
	Detected bool
	// Baseline is the median of the clean history.
	Baseline float64
	// Z is how many robust sigmas the sample is from the baseline, 0 while calibrating.
	Z float64
}

// Detector only learns from samples it considers clean, so a deviation
// that persists never becomes the new normal. It works in both directions,
// so a condition present at startup is detected when it goes away.
// Detector is not safe for concurrent use.
type Detector struct {
	cfg      Config
	history  *ring.Buffer[float64]
	detected bool
}

func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:     cfg,
		history: ring.New[float64](cfg.HistorySize),
	}, nil
}

func (d *Detector) Config() Config {
	return d.cfg
}

// Update classifies m and returns the current detection state.
// Non-finite samples are ignored.
func (d *Detector) Update(m float64) Result {
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return Result{Detected: d.detected, Baseline: d.Baseline()}
	}

	history := d.history.Values()
	if len(history) < d.cfg.MinSamples {
		d.history.Push(m)
		return Result{Baseline: Median(d.history.Values())}
	}

	median := Median(history)
	sigma := RobustSigma(history, median, d.cfg.MinSigma)
	z := math.Abs(m-median) / sigma

	switch {
	case d.detected && z < d.cfg.ReleaseSigma:
		d.detected = false
		d.history.Push(m)
	case d.detected:
	case z > d.cfg.DetectSigma:
		d.detected = true
	default:
		d.history.Push(m)
	}
	return Result{Detected: d.detected, Baseline: median, Z: z}
}

// Reset clears the history and detection, starting calibration again.
func (d *Detector) Reset() {
	d.history.Reset()
	d.detected = false
}

func (d *Detector) Detected() bool {
	return d.detected
}

// Calibrating reports whether fewer than MinSamples clean samples are held.
func (d *Detector) Calibrating() bool {
	return d.history.Len() < d.cfg.MinSamples
}

// Baseline returns the median of the clean history.
func (d *Detector) Baseline() float64 {
	return Median(d.history.Values())
}

// History returns a copy of the clean history, oldest first.
func (d *Detector) History() []float64 {
	return d.history.Values()
}
