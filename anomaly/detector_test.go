package anomaly

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T, cfg Config) *Detector {
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func TestCalibrationPhase(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for i := range 10 {
		require.True(t, d.Calibrating())
		res := d.Update(float64(i))
		assert.False(t, res.Detected)
		assert.Equal(t, 0.0, res.Z)
	}
	assert.False(t, d.Calibrating())
	assert.Len(t, d.History(), 10)
}

func TestPersistentAnomalyDoesNotDrift(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for range 10 {
		d.Update(1.0)
	}
	res := d.Update(10.0)
	require.True(t, res.Detected)
	require.Equal(t, 1.0, res.Baseline)

	for range 20 {
		res = d.Update(10.0)
		require.True(t, res.Detected)
	}
	assert.Equal(t, 1.0, d.Baseline())
	assert.Len(t, d.History(), 10)
	assert.NotContains(t, d.History(), 10.0)
}

func TestReleaseAddsValueToHistory(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for range 10 {
		d.Update(1.0)
	}
	require.True(t, d.Update(10.0).Detected)

	res := d.Update(1.002)
	assert.False(t, res.Detected)
	assert.False(t, d.Detected())
	assert.Contains(t, d.History(), 1.002)
}

func TestExampleScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSamples = 5
	cfg.DetectSigma = 5.0
	d := newDetector(t, cfg)

	for range 5 {
		res := d.Update(1.0)
		assert.False(t, res.Detected)
		assert.Equal(t, 1.0, res.Baseline)
	}
	res := d.Update(10.0)
	require.True(t, res.Detected)
	assert.Greater(t, res.Z, 5.0)

	res = d.Update(1.0)
	assert.False(t, res.Detected)
}

func TestDetectsDecrease(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for range 10 {
		d.Update(0.8)
	}
	res := d.Update(0.1)
	assert.True(t, res.Detected)
	assert.Equal(t, 0.8, res.Baseline)
}

func TestHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSigma = 1.0
	d := newDetector(t, cfg)
	for range 10 {
		d.Update(0)
	}

	// Between the thresholds while clear: stays clear and is learned.
	res := d.Update(4)
	assert.False(t, res.Detected)
	assert.InDelta(t, 4.0, res.Z, 1e-9)

	res = d.Update(6)
	assert.True(t, res.Detected)

	// Between the thresholds while detected: stays detected and is not learned.
	res = d.Update(4)
	assert.True(t, res.Detected)

	res = d.Update(2.9)
	assert.False(t, res.Detected)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4, 2.9}, d.History())
}

func TestNonFiniteIgnored(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for range 10 {
		d.Update(2)
	}
	res := d.Update(math.NaN())
	assert.False(t, res.Detected)
	assert.Equal(t, 2.0, res.Baseline)
	d.Update(math.Inf(1))
	assert.Len(t, d.History(), 10)
}

func TestReset(t *testing.T) {
	d := newDetector(t, DefaultConfig())
	for range 10 {
		d.Update(1)
	}
	d.Update(100)
	require.True(t, d.Detected())
	d.Reset()
	assert.False(t, d.Detected())
	assert.Empty(t, d.History())
	assert.True(t, d.Calibrating())
}

func TestHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 12
	d := newDetector(t, cfg)
	for i := range 30 {
		d.Update(1 + float64(i%3)*0.001)
	}
	assert.Len(t, d.History(), 12)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DetectSigma = 3
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinSamples = 60
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinSigma = 0
	assert.Error(t, cfg.Validate())

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMedianAndMAD(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))

	values := []float64{1, 1, 2, 2, 4, 6, 9}
	assert.Equal(t, []float64{1, 1, 2, 2, 4, 6, 9}, values)
	assert.Equal(t, 1.0, MAD(values, Median(values)))
	assert.Equal(t, 0.005, RobustSigma([]float64{1, 1, 1}, 1, 0.005))
	assert.InDelta(t, MADScale, RobustSigma(values, 2, 0.005), 1e-12)
}
