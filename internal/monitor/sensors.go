package monitor

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/tc2-hat-sensors/airquality"
	"github.com/TheCacophonyProject/tc2-hat-sensors/drivers"
	"github.com/TheCacophonyProject/tc2-hat-sensors/internal/metrics"
	"github.com/TheCacophonyProject/tc2-hat-sensors/magnet"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/TheCacophonyProject/tc2-hat-sensors/virtual"
	"periph.io/x/conn/v3/i2c"
)

// Event types reported to the event reporter.
const (
	eventSensorAvailable      = "sensorAvailable"
	eventSensorUnavailable    = "sensorUnavailable"
	eventMagnetDetected       = "magnetDetected"
	eventMagnetReleased       = "magnetReleased"
	eventAirQualityCalibrated = "airQualityCalibrated"
)

// reporter turns sensor observations into log lines, metrics and events.
type reporter struct {
	metrics  *metrics.Metrics
	addEvent func(eventclient.Event) error
	now      func() time.Time
}

var _ sensor.Observer = (*reporter)(nil)

func (r *reporter) Probed(name string, err error) {
	if r.metrics != nil {
		r.metrics.Probed(name, err)
	}
}

func (r *reporter) ReadFailed(name string, err error) {
	if r.metrics != nil {
		r.metrics.ReadFailed(name, err)
	}
}

func (r *reporter) StateChanged(name string, from, to sensor.State) {
	if r.metrics != nil {
		r.metrics.StateChanged(name, from, to)
	}
	switch {
	case to == sensor.Available:
		r.event(eventSensorAvailable, map[string]interface{}{"sensor": name})
	case to == sensor.Unavailable && from == sensor.Available:
		r.event(eventSensorUnavailable, map[string]interface{}{"sensor": name})
	}
}

func (r *reporter) magnetChanged(name string) func(bool, magnet.Reading) {
	return func(detected bool, m magnet.Reading) {
		eventType := eventMagnetReleased
		if detected {
			eventType = eventMagnetDetected
		}
		log.Infof("%s: %s, magnitude %s G, z-score %s", name, eventType, m.Magnitude, m.ZScore)
		r.event(eventType, map[string]interface{}{
			"sensor":    name,
			"magnitude": m.Magnitude.Or(0),
			"baseline":  m.Baseline.Or(0),
		})
	}
}

func (r *reporter) calibrated(name string) func(float64) {
	return func(baseline float64) {
		r.event(eventAirQualityCalibrated, map[string]interface{}{
			"sensor":      name,
			"gasBaseline": baseline,
		})
	}
}

func (r *reporter) event(eventType string, details map[string]interface{}) {
	if r.metrics != nil {
		r.metrics.Event(eventType)
	}
	if r.addEvent == nil {
		return
	}
	err := r.addEvent(eventclient.Event{
		Timestamp: r.now(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		log.Warnf("Failed to report event '%s': %v", eventType, err)
	}
}

// buildRegistry makes a handle for every enabled sensor.
func buildRegistry(cfg Config, bus i2c.Bus, rep *reporter) (*sensor.Registry, error) {
	reg := sensor.NewRegistry()
	opts := []sensor.Option{sensor.WithObserver(rep), sensor.WithLogger(log)}

	for _, name := range cfg.Sensors {
		var p sensor.Poller
		switch name {
		case SensorBME680:
			hw := sensor.Fallback[airquality.Sample](
				drivers.NewBME680(bus, drivers.BME680SecondaryAddress),
				drivers.NewBME680(bus, drivers.BME680PrimaryAddress),
			)
			d := airquality.NewDriver(hw, cfg.AirQuality, airquality.OnCalibrated(rep.calibrated(name)))
			p = sensor.NewHandle[airquality.Reading](name, d, cfg.ProbeInterval, opts...)
		case SensorAHT20:
			p = sensor.NewHandle[drivers.ClimateReading](name, drivers.NewAHT20(bus), cfg.ProbeInterval, opts...)
		case SensorTMP117:
			p = sensor.NewHandle[drivers.TMP117Reading](name, drivers.NewTMP117(bus), cfg.ProbeInterval, opts...)
		case SensorVEML7700:
			p = sensor.NewHandle[drivers.LightReading](name, drivers.NewVEML7700(bus), cfg.ProbeInterval, opts...)
		case SensorSTHS34PF80:
			d := drivers.NewSTHS34PF80(bus, cfg.PresenceThreshold)
			p = sensor.NewHandle[drivers.PresenceReading](name, d, cfg.ProbeInterval, opts...)
		case SensorMMC5983:
			d, err := magnet.NewDriver(drivers.NewMMC5983(bus), cfg.Magnet, magnet.OnChange(rep.magnetChanged(name)))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			p = sensor.NewHandle[magnet.Reading](name, d, cfg.ProbeInterval, opts...)
		case SensorCPULoad:
			p = sensor.NewHandle[drivers.CPULoadReading](name, drivers.NewCPULoad(), cfg.ProbeInterval, opts...)
		case SensorMemory:
			p = sensor.NewHandle[drivers.MemoryReading](name, drivers.NewMemory(), cfg.ProbeInterval, opts...)
		case SensorIPAddress:
			p = sensor.NewHandle[drivers.IPAddressReading](name, drivers.NewIPAddress(), cfg.ProbeInterval, opts...)
		case SensorNetwork:
			p = sensor.NewHandle[drivers.NetworkReading](name, drivers.NewNetwork(), cfg.ProbeInterval, opts...)
		case SensorVirtual:
			dial, err := virtualDialer(cfg.Virtual)
			if err != nil {
				return nil, err
			}
			aq := cfg.AirQuality
			aq.CacheFile = cfg.Virtual.GasBaselineCache
			d, err := virtual.NewDriver(dial, aq, cfg.Magnet,
				virtual.WithPresenceThreshold(float64(cfg.PresenceThreshold)),
				virtual.OnCalibrated(rep.calibrated(name)),
				virtual.OnMagnetChange(rep.magnetChanged(name)),
			)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			p = sensor.NewHandle[virtual.Reading](name, d, cfg.ProbeInterval, opts...)
		default:
			return nil, fmt.Errorf("%w: %s", sensor.ErrUnknownSensor, name)
		}
		if err := reg.Add(p); err != nil {
			return nil, err
		}
	}
	if len(reg.Names()) == 0 {
		return nil, sensor.ErrNoDrivers
	}
	return reg, nil
}

func virtualDialer(cfg VirtualConfig) (virtual.Dialer, error) {
	switch cfg.Source {
	case "mqtt", "":
		return virtual.MQTTDialer(cfg.MQTT), nil
	case "serial":
		return virtual.SerialDialer(cfg.Serial), nil
	}
	return nil, fmt.Errorf("unknown virtual sensor source '%s'", cfg.Source)
}
