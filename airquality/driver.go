package airquality

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
)

// Reading is what the air quality sensor reports. Raw values are only set
// for heat stable samples. BurnInRemaining is set, in whole seconds, while
// the baseline is still being collected and AirQuality once it is known.
type Reading struct {
	Temperature     sensor.Field[float64] `json:"temperature"`
	Humidity        sensor.Field[float64] `json:"humidity"`
	Pressure        sensor.Field[float64] `json:"pressure"`
	GasResistance   sensor.Field[float64] `json:"gas_resistance"`
	AirQuality      sensor.Field[float64] `json:"air_quality"`
	BurnInRemaining sensor.Field[int]     `json:"burn_in_remaining"`
	GasBaseline     sensor.Field[float64] `json:"gas_baseline"`
}

// Summary is a short status line: the burn-in countdown or the score.
func (r Reading) Summary() string {
	if remaining, ok := r.BurnInRemaining.Get(); ok {
		return fmt.Sprintf("Burn-in: %ds", remaining)
	}
	if aq, ok := r.AirQuality.Get(); ok {
		return fmt.Sprintf("AirQ: %.1f", aq)
	}
	return "AirQ: " + sensor.NotAvailable
}

// Driver wraps a gas sensor driver with a calibration engine. Every time
// the hardware is initialized the burn-in starts again, unless a fresh
// cached baseline is found.
type Driver struct {
	hw           sensor.Driver[Sample]
	engine       *Engine
	now          func() time.Time
	onCalibrated func(baseline float64)
}

type DriverOption func(*Driver)

func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) { d.now = now }
}

// OnCalibrated is called with the baseline when a burn-in completes.
func OnCalibrated(fn func(baseline float64)) DriverOption {
	return func(d *Driver) { d.onCalibrated = fn }
}

func NewDriver(hw sensor.Driver[Sample], cfg Config, opts ...DriverOption) *Driver {
	d := &Driver{hw: hw, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	d.engine = NewEngine(cfg, d.now())
	return d
}

func (d *Driver) Engine() *Engine {
	return d.engine
}

func (d *Driver) Initialize() (sensor.Device, error) {
	dev, err := d.hw.Initialize()
	if err != nil {
		return nil, err
	}
	now := d.now()
	d.engine.Reset(now)
	d.engine.LoadCache(now)
	return dev, nil
}

func (d *Driver) Read(dev sensor.Device) (Reading, error) {
	s, err := d.hw.Read(dev)
	if err != nil {
		return Reading{}, err
	}
	res := d.engine.Update(s, d.now())
	if res.Calibrated && d.onCalibrated != nil {
		d.onCalibrated(res.Baseline)
	}
	return NewReading(s, res), nil
}

func (d *Driver) Unavailable() Reading {
	return Reading{}
}

func (d *Driver) NeedsBackgroundUpdates() bool {
	return true
}

// NewReading builds a Reading from a sample and what the engine made of it.
func NewReading(s Sample, res Result) Reading {
	var r Reading
	if s.HeatStable {
		r.Temperature = sensor.Float(s.Temperature)
		r.Humidity = sensor.Float(s.Humidity)
		r.Pressure = sensor.Float(s.Pressure)
		r.GasResistance = sensor.Float(s.GasResistance)
	}
	if res.Phase == Collecting {
		r.BurnInRemaining = sensor.Value(int(res.Remaining / time.Second))
		return r
	}
	r.GasBaseline = sensor.Float(res.Baseline)
	if res.Scored {
		r.AirQuality = sensor.Float(res.Score.Total)
	}
	return r
}
