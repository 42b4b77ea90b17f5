// Package airquality turns gas resistance readings into an air quality score.
//
// A gas sensor's resistance drifts until its heater has burnt in, so the
// engine first collects readings for a burn-in window and averages the most
// recent of them into a baseline. After that every reading is scored by how
// far its humidity is from an ideal value and how far its gas resistance has
// dropped below the baseline.
package airquality

import (
	"math"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/ring"
	"gonum.org/v1/gonum/stat"
)

type Phase int

const (
	Collecting Phase = iota
	Complete
)

func (p Phase) String() string {
	if p == Complete {
		return "complete"
	}
	return "collecting"
}

// Sample is one raw reading from a gas sensor.
type Sample struct {
	Temperature   float64
	Humidity      float64
	Pressure      float64
	GasResistance float64
	// HeatStable is set when the gas heater reached its target, which is
	// the only time the gas resistance can be trusted.
	HeatStable bool
}

type Config struct {
	BurnIn             time.Duration `mapstructure:"burn-in"`
	HumidityBaseline   float64       `mapstructure:"humidity-baseline"`
	HumidityWeight     float64       `mapstructure:"humidity-weight"`
	DefaultGasBaseline float64       `mapstructure:"default-gas-baseline"`
	MaxSamples         int           `mapstructure:"max-samples"`
	CacheFile          string        `mapstructure:"cache-file"`
	CacheMaxAge        time.Duration `mapstructure:"cache-max-age"`
	CacheReadOnly      bool          `mapstructure:"cache-read-only"`
}

func DefaultConfig() Config {
	return Config{
		BurnIn:             5 * time.Minute,
		HumidityBaseline:   40,
		HumidityWeight:     0.25,
		DefaultGasBaseline: 100000,
		MaxSamples:         50,
		CacheMaxAge:        time.Hour,
	}
}

// Score is an air quality score and the two parts it is the sum of.
// The humidity part is at most HumidityWeight*100 and the gas part at most
// 100 minus that.
type Score struct {
	Humidity float64
	Gas      float64
	Total    float64
}

// Score rates a reading against a gas baseline. It returns false if any
// input is not a finite number.
func (c Config) Score(humidity, gas, baseline float64) (Score, bool) {
	if !finite(humidity) || !finite(gas) || !finite(baseline) {
		return Score{}, false
	}
	hb := c.HumidityBaseline
	weight := c.HumidityWeight * 100

	var humScore float64
	humOffset := humidity - hb
	switch {
	case humOffset > 0:
		if 100-hb > 0 {
			humScore = (100 - hb - humOffset) / (100 - hb) * weight
		}
	case hb > 0:
		humScore = (hb + humOffset) / hb * weight
	}

	gasScore := 100 - weight
	if gasOffset := baseline - gas; gasOffset > 0 && baseline > 0 {
		gasScore = gas / baseline * (100 - weight)
	}

	s := Score{Humidity: humScore, Gas: gasScore, Total: humScore + gasScore}
	if !finite(s.Total) {
		return Score{}, false
	}
	return s, true
}

// Result is what one Update produced.
type Result struct {
	Phase Phase
	// Remaining is the burn-in time left while Collecting.
	Remaining time.Duration
	// Baseline is set once Complete.
	Baseline float64
	Score    Score
	Scored   bool
	// Calibrated is true for the update that completed the burn-in.
	Calibrated bool
}

// Engine is the burn-in state machine. It moves from Collecting to
// Complete once and only Reset or Restore change the baseline after that.
// Engine is not safe for concurrent use.
type Engine struct {
	cfg         Config
	phase       Phase
	start       time.Time
	samples     *ring.Buffer[float64]
	baseline    float64
	hasBaseline bool
	cache       *Cache
}

// NewEngine returns an engine collecting from now. If cfg names a cache
// file the baseline is saved there on completion.
func NewEngine(cfg Config, now time.Time) *Engine {
	e := &Engine{
		cfg:     cfg,
		samples: ring.New[float64](cfg.MaxSamples),
	}
	if cfg.CacheFile != "" {
		e.cache = &Cache{Path: cfg.CacheFile, MaxAge: cfg.CacheMaxAge, ReadOnly: cfg.CacheReadOnly}
	}
	e.Reset(now)
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

func (e *Engine) Phase() Phase {
	return e.phase
}

// Baseline returns the gas baseline and whether it has been set.
func (e *Engine) Baseline() (float64, bool) {
	return e.baseline, e.hasBaseline
}

// Samples returns the number of burn-in samples held.
func (e *Engine) Samples() int {
	return e.samples.Len()
}

// Reset starts a new burn-in from now.
func (e *Engine) Reset(now time.Time) {
	e.phase = Collecting
	e.start = now
	e.samples.Reset()
	e.baseline = 0
	e.hasBaseline = false
}

// Restore skips the burn-in using a previously computed baseline.
func (e *Engine) Restore(baseline float64) bool {
	if !finite(baseline) || baseline <= 0 {
		return false
	}
	e.phase = Complete
	e.baseline = baseline
	e.hasBaseline = true
	return true
}

// LoadCache restores the baseline from the cache file if it is fresh.
func (e *Engine) LoadCache(now time.Time) bool {
	if e.cache == nil {
		return false
	}
	baseline, err := e.cache.Load(now)
	if err != nil {
		log.Debugf("Not using gas baseline cache: %v", err)
		return false
	}
	if !e.Restore(baseline) {
		return false
	}
	log.Infof("Loaded gas baseline %.0f from cache", baseline)
	return true
}

// Update feeds one sample taken at now through the state machine.
func (e *Engine) Update(s Sample, now time.Time) Result {
	stable := s.HeatStable && finite(s.GasResistance)
	if e.phase == Collecting {
		elapsed := now.Sub(e.start)
		if elapsed < e.cfg.BurnIn {
			if stable {
				e.samples.Push(s.GasResistance)
			}
			return Result{Phase: Collecting, Remaining: e.cfg.BurnIn - elapsed}
		}
		e.complete(now)
		res := e.score(s, stable)
		res.Calibrated = true
		return res
	}
	return e.score(s, stable)
}

func (e *Engine) score(s Sample, stable bool) Result {
	res := Result{Phase: Complete, Baseline: e.baseline}
	if stable {
		res.Score, res.Scored = e.cfg.Score(s.Humidity, s.GasResistance, e.baseline)
	}
	return res
}

func (e *Engine) complete(now time.Time) {
	e.phase = Complete
	e.hasBaseline = true
	if e.samples.Len() == 0 {
		e.baseline = e.cfg.DefaultGasBaseline
		log.Infof("No stable gas readings during burn-in, using default baseline %.0f", e.baseline)
	} else {
		e.baseline = stat.Mean(e.samples.Values(), nil)
		log.Infof("Burn-in complete, gas baseline %.0f from %d samples", e.baseline, e.samples.Len())
	}
	if e.cache != nil {
		if err := e.cache.Save(e.baseline, now); err != nil {
			log.Warnf("Failed to save gas baseline cache: %v", err)
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
