package virtual

import (
	"context"
	"math"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/airquality"
	"github.com/TheCacophonyProject/tc2-hat-sensors/anomaly"
	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
	"github.com/TheCacophonyProject/tc2-hat-sensors/magnet"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
)

var log = logging.NewLogger("info")

const DefaultPresenceThreshold = 1000

// Reading is everything a virtual sensor reports.
type Reading struct {
	Environment airquality.Reading `json:"environment"`

	Light sensor.Field[float64] `json:"light"`
	TempC sensor.Field[float64] `json:"temp_c"`

	Voltage       sensor.Field[float64] `json:"voltage"`
	StateOfCharge sensor.Field[float64] `json:"soc"`

	SSID sensor.Field[string]  `json:"ssid"`
	RSSI sensor.Field[float64] `json:"rssi"`

	Presence            sensor.Field[float64] `json:"presence_value"`
	Motion              sensor.Field[float64] `json:"motion_value"`
	PresenceTemperature sensor.Field[float64] `json:"sths34_temperature"`
	PersonDetected      sensor.Field[bool]    `json:"person_detected"`

	Magnet magnet.Reading `json:"magnet"`
}

func (r Reading) Summary() string {
	if r.Environment.BurnInRemaining.Available() || r.Environment.AirQuality.Available() {
		return "MQTT " + r.Environment.Summary()
	}
	return "MQTT: " + sensor.NotAvailable
}

// Dialer opens the Source for a virtual sensor.
type Dialer func() (Source, error)

func MQTTDialer(cfg MQTTConfig) Dialer {
	return func() (Source, error) {
		return DialMQTT(context.Background(), cfg)
	}
}

func SerialDialer(cfg SerialConfig) Dialer {
	return func() (Source, error) {
		return OpenSerial(cfg)
	}
}

// Driver turns the newest message from a Source into a Reading. The gas
// sensor values go through an air quality engine and the magnetometer
// values through an anomaly detector, both restarted when the source is
// (re)opened. A message is only evaluated once.
type Driver struct {
	dial              Dialer
	engine            *airquality.Engine
	detector          *anomaly.Detector
	presenceThreshold float64
	now               func() time.Time
	onCalibrated      func(baseline float64)
	onMagnetChange    func(detected bool, r magnet.Reading)

	seq  uint64
	last Reading
}

type Option func(*Driver)

func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

func WithPresenceThreshold(threshold float64) Option {
	return func(d *Driver) { d.presenceThreshold = threshold }
}

func OnCalibrated(fn func(baseline float64)) Option {
	return func(d *Driver) { d.onCalibrated = fn }
}

func OnMagnetChange(fn func(detected bool, r magnet.Reading)) Option {
	return func(d *Driver) { d.onMagnetChange = fn }
}

func NewDriver(dial Dialer, aq airquality.Config, mag anomaly.Config, opts ...Option) (*Driver, error) {
	det, err := anomaly.New(mag)
	if err != nil {
		return nil, err
	}
	d := &Driver{
		dial:              dial,
		detector:          det,
		presenceThreshold: DefaultPresenceThreshold,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.engine = airquality.NewEngine(aq, d.now())
	return d, nil
}

func (d *Driver) Engine() *airquality.Engine {
	return d.engine
}

func (d *Driver) Detector() *anomaly.Detector {
	return d.detector
}

func (d *Driver) Initialize() (sensor.Device, error) {
	src, err := d.dial()
	if err != nil {
		return nil, err
	}
	now := d.now()
	d.engine.Reset(now)
	d.engine.LoadCache(now)
	d.detector.Reset()
	d.seq = 0
	d.last = Reading{}
	return src, nil
}

func (d *Driver) Read(dev sensor.Device) (Reading, error) {
	src, err := sensor.DeviceAs[Source](dev)
	if err != nil {
		return Reading{}, err
	}
	msg, seq, err := src.Latest()
	if err != nil {
		return Reading{}, err
	}
	if seq == 0 || seq == d.seq {
		return d.last, nil
	}
	d.seq = seq
	d.last = d.evaluate(msg)
	return d.last, nil
}

func (d *Driver) Unavailable() Reading {
	return Reading{}
}

func (d *Driver) NeedsBackgroundUpdates() bool {
	return true
}

func (d *Driver) evaluate(msg Message) Reading {
	var r Reading
	if env := msg.BME68x; env != nil {
		r.Environment = d.environment(env)
	}
	if msg.VEML7700 != nil {
		r.Light = msg.VEML7700.Lux
	}
	if msg.TMP117 != nil {
		r.TempC = msg.TMP117.Temperature
	}
	if b := msg.MAX17048; b != nil {
		r.Voltage = b.Voltage
		r.StateOfCharge = b.StateOfCharge
	}
	if s := msg.SystemInfo; s != nil {
		r.SSID = s.SSID
		r.RSSI = s.RSSI
	}
	if p := msg.STHS34PF80; p != nil {
		r.Presence = p.Presence
		r.Motion = p.Motion
		r.PresenceTemperature = p.Temperature
		r.PersonDetected = personDetected(p, d.presenceThreshold)
	}
	if m := msg.MMC5983; m != nil {
		r.Magnet = d.magnetReading(m)
	}
	return r
}

// environment reports the raw values as sent. The engine only sees
// messages with a gas resistance.
func (d *Driver) environment(env *EnvironmentSection) airquality.Reading {
	gas, ok := env.GasResistance.Get()
	if !ok {
		return airquality.Reading{
			Temperature: env.Temperature,
			Humidity:    env.Humidity,
			Pressure:    env.Pressure,
		}
	}
	s := airquality.Sample{
		Temperature:   env.Temperature.Or(math.NaN()),
		Humidity:      env.Humidity.Or(math.NaN()),
		Pressure:      env.Pressure.Or(math.NaN()),
		GasResistance: gas,
		HeatStable:    true,
	}
	res := d.engine.Update(s, d.now())
	if res.Calibrated && d.onCalibrated != nil {
		d.onCalibrated(res.Baseline)
	}
	return airquality.NewReading(s, res)
}

func (d *Driver) magnetReading(m *MagnetometerSection) magnet.Reading {
	x, okX := m.X.Get()
	y, okY := m.Y.Get()
	z, okZ := m.Z.Get()
	if !okX || !okY || !okZ {
		return magnet.Reading{X: m.X, Y: m.Y, Z: m.Z, Temperature: m.Temperature}
	}
	s := magnet.Sample{X: x, Y: y, Z: z}
	s.Temperature, s.HasTemperature = m.Temperature.Get()

	was := d.detector.Detected()
	r := magnet.Evaluate(d.detector, s)
	if now := d.detector.Detected(); now != was && d.onMagnetChange != nil {
		d.onMagnetChange(now, r)
	}
	return r
}

// personDetected is a presence at or above the threshold or any motion,
// using whichever of the two was sent.
func personDetected(p *PresenceSection, threshold float64) sensor.Field[bool] {
	presence, hasPresence := p.Presence.Get()
	motion, hasMotion := p.Motion.Get()
	switch {
	case hasPresence && hasMotion:
		return sensor.Value(presence >= threshold || motion > 0)
	case hasPresence:
		return sensor.Value(presence >= threshold)
	case hasMotion:
		return sensor.Value(motion > 0)
	}
	return sensor.NA[bool]()
}
