package airquality

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func stable(gas float64) Sample {
	return Sample{Temperature: 20, Humidity: 40, Pressure: 1013, GasResistance: gas, HeatStable: true}
}

func TestBaselineIsMeanOfLastSamples(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	for i := 1; i <= 60; i++ {
		res := e.Update(stable(float64(i)), t0.Add(time.Duration(i)*time.Second))
		require.Equal(t, Collecting, res.Phase)
	}
	assert.Equal(t, 50, e.Samples())
	_, ok := e.Baseline()
	require.False(t, ok)

	res := e.Update(stable(1000), t0.Add(5*time.Minute))
	require.Equal(t, Complete, res.Phase)
	require.True(t, res.Calibrated)
	baseline, ok := e.Baseline()
	require.True(t, ok)
	assert.Equal(t, 35.5, baseline)
	assert.Equal(t, 35.5, res.Baseline)
}

func TestBaselineWithFewSamples(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	for i, gas := range []float64{100, 200, 600} {
		e.Update(stable(gas), t0.Add(time.Duration(i)*time.Second))
	}
	e.Update(stable(300), t0.Add(10*time.Minute))
	baseline, ok := e.Baseline()
	require.True(t, ok)
	assert.Equal(t, 300.0, baseline)
}

func TestNoSamplesUsesDefaultBaseline(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	e.Update(Sample{GasResistance: 5000}, t0.Add(time.Second))
	res := e.Update(Sample{}, t0.Add(5*time.Minute))
	assert.Equal(t, Complete, res.Phase)
	assert.Equal(t, 100000.0, res.Baseline)
	assert.False(t, res.Scored)
	assert.Equal(t, Complete, e.Phase())
}

func TestBurnInRemaining(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	res := e.Update(stable(1), t0.Add(100*time.Second))
	assert.Equal(t, Collecting, res.Phase)
	assert.Equal(t, 200*time.Second, res.Remaining)
	assert.False(t, res.Scored)
}

func TestUnstableSamplesAreNotCollected(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	e.Update(Sample{GasResistance: 10}, t0.Add(time.Second))
	e.Update(Sample{GasResistance: math.NaN(), HeatStable: true}, t0.Add(2*time.Second))
	assert.Equal(t, 0, e.Samples())
}

func TestBaselineDoesNotDriftAfterCompletion(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	e.Update(stable(200), t0.Add(time.Second))
	e.Update(stable(200), t0.Add(5*time.Minute))
	for i := range 100 {
		res := e.Update(stable(50), t0.Add(time.Duration(6+i)*time.Minute))
		require.False(t, res.Calibrated)
	}
	baseline, _ := e.Baseline()
	assert.Equal(t, 200.0, baseline)
}

func TestResetStartsAgain(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	e.Update(stable(200), t0.Add(time.Second))
	e.Update(stable(200), t0.Add(5*time.Minute))
	e.Reset(t0.Add(time.Hour))
	assert.Equal(t, Collecting, e.Phase())
	_, ok := e.Baseline()
	assert.False(t, ok)
	assert.Equal(t, 0, e.Samples())
}

func TestRestore(t *testing.T) {
	e := NewEngine(DefaultConfig(), t0)
	assert.False(t, e.Restore(0))
	assert.False(t, e.Restore(math.Inf(1)))
	require.True(t, e.Restore(120000))
	res := e.Update(stable(120000), t0.Add(time.Second))
	assert.Equal(t, Complete, res.Phase)
	assert.True(t, res.Scored)
	assert.False(t, res.Calibrated)
}

func TestScoreBoundary(t *testing.T) {
	cfg := DefaultConfig()
	// Humidity at the baseline scores the humidity term at its full weight.
	s, ok := cfg.Score(40, 100000, 100000)
	require.True(t, ok)
	assert.Equal(t, 100-cfg.HumidityWeight*100, s.Gas)
	assert.Equal(t, cfg.HumidityWeight*100, s.Humidity)
	assert.Equal(t, 100.0, s.Total)
}

func TestScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name     string
		humidity float64
		gas      float64
		humScore float64
		gasScore float64
	}{
		{"humid", 70, 100000, 12.5, 75},
		{"dry", 20, 100000, 12.5, 75},
		{"dirty air", 40, 50000, 25, 37.5},
		{"clean air", 40, 150000, 25, 75},
		{"saturated", 100, 25000, 0, 18.75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ok := cfg.Score(tt.humidity, tt.gas, 100000)
			require.True(t, ok)
			assert.InDelta(t, tt.humScore, s.Humidity, 1e-9)
			assert.InDelta(t, tt.gasScore, s.Gas, 1e-9)
			assert.InDelta(t, tt.humScore+tt.gasScore, s.Total, 1e-9)
		})
	}
}

func TestScoreGuards(t *testing.T) {
	cfg := DefaultConfig()

	cfg.HumidityBaseline = 100
	s, ok := cfg.Score(100.5, 1000, 1000)
	require.True(t, ok)
	assert.Equal(t, 0.0, s.Humidity)

	cfg.HumidityBaseline = 0
	s, ok = cfg.Score(0, 1000, 1000)
	require.True(t, ok)
	assert.Equal(t, 0.0, s.Humidity)

	cfg = DefaultConfig()
	s, ok = cfg.Score(40, 1000, 0)
	require.True(t, ok)
	assert.Equal(t, 75.0, s.Gas)

	_, ok = cfg.Score(math.NaN(), 1000, 1000)
	assert.False(t, ok)
	_, ok = cfg.Score(40, math.Inf(1), 1000)
	assert.False(t, ok)
}
