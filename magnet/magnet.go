// Package magnet detects a magnet being brought near, or taken away from,
// a 3-axis magnetometer.
package magnet

import (
	"github.com/TheCacophonyProject/tc2-hat-sensors/anomaly"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"gonum.org/v1/gonum/floats"
)

// Sample is one magnetometer measurement in Gauss.
type Sample struct {
	X, Y, Z     float64
	Temperature float64
	// HasTemperature is false for parts without a temperature sensor.
	HasTemperature bool
}

// Magnitude is the length of the field vector.
func (s Sample) Magnitude() float64 {
	return floats.Norm([]float64{s.X, s.Y, s.Z}, 2)
}

type Reading struct {
	X           sensor.Field[float64] `json:"mag_x"`
	Y           sensor.Field[float64] `json:"mag_y"`
	Z           sensor.Field[float64] `json:"mag_z"`
	Magnitude   sensor.Field[float64] `json:"magnitude"`
	Temperature sensor.Field[float64] `json:"temperature"`
	Detected    sensor.Field[bool]    `json:"magnet_detected"`
	Baseline    sensor.Field[float64] `json:"baseline"`
	ZScore      sensor.Field[float64] `json:"z_score"`
}

// Evaluate feeds s through det and builds the reading.
func Evaluate(det *anomaly.Detector, s Sample) Reading {
	magnitude := s.Magnitude()
	res := det.Update(magnitude)
	r := Reading{
		X:         sensor.Float(s.X),
		Y:         sensor.Float(s.Y),
		Z:         sensor.Float(s.Z),
		Magnitude: sensor.Float(magnitude),
		Detected:  sensor.Value(res.Detected),
		Baseline:  sensor.Float(res.Baseline),
		ZScore:    sensor.Float(res.Z),
	}
	if s.HasTemperature {
		r.Temperature = sensor.Float(s.Temperature)
	}
	return r
}

// Driver wraps a magnetometer driver with an anomaly detector. The detector
// starts calibrating again whenever the hardware is initialized.
type Driver struct {
	hw       sensor.Driver[Sample]
	detector *anomaly.Detector
	onChange func(detected bool, r Reading)
}

type Option func(*Driver)

// OnChange is called whenever detection starts or stops.
func OnChange(fn func(detected bool, r Reading)) Option {
	return func(d *Driver) { d.onChange = fn }
}

func NewDriver(hw sensor.Driver[Sample], cfg anomaly.Config, opts ...Option) (*Driver, error) {
	det, err := anomaly.New(cfg)
	if err != nil {
		return nil, err
	}
	d := &Driver{hw: hw, detector: det}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) Detector() *anomaly.Detector {
	return d.detector
}

func (d *Driver) Initialize() (sensor.Device, error) {
	dev, err := d.hw.Initialize()
	if err != nil {
		return nil, err
	}
	d.detector.Reset()
	return dev, nil
}

func (d *Driver) Read(dev sensor.Device) (Reading, error) {
	s, err := d.hw.Read(dev)
	if err != nil {
		return Reading{}, err
	}
	was := d.detector.Detected()
	r := Evaluate(d.detector, s)
	if now := d.detector.Detected(); now != was && d.onChange != nil {
		d.onChange(now, r)
	}
	return r, nil
}

func (d *Driver) Unavailable() Reading {
	return Reading{}
}

func (d *Driver) NeedsBackgroundUpdates() bool {
	return true
}
