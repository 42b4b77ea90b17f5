package monitor

import (
	"slices"
	"time"

	"github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tc2-hat-sensors/airquality"
	"github.com/TheCacophonyProject/tc2-hat-sensors/anomaly"
	"github.com/TheCacophonyProject/tc2-hat-sensors/drivers"
	"github.com/TheCacophonyProject/tc2-hat-sensors/internal/history"
	"github.com/TheCacophonyProject/tc2-hat-sensors/virtual"
)

// SensorsKey is the config file section for this service.
const SensorsKey = "sensors"

// Sensor names, also used as the registry names.
const (
	SensorBME680     = "bme680"
	SensorAHT20      = "aht20"
	SensorTMP117     = "tmp117"
	SensorVEML7700   = "veml7700"
	SensorSTHS34PF80 = "sths34pf80"
	SensorMMC5983    = "mmc5983"
	SensorCPULoad    = "cpu-load"
	SensorMemory     = "memory"
	SensorIPAddress  = "ip-address"
	SensorNetwork    = "network"
	SensorVirtual    = "virtual"
)

var allSensors = []string{
	SensorBME680,
	SensorAHT20,
	SensorTMP117,
	SensorVEML7700,
	SensorSTHS34PF80,
	SensorMMC5983,
	SensorCPULoad,
	SensorMemory,
	SensorIPAddress,
	SensorNetwork,
	SensorVirtual,
}

type VirtualConfig struct {
	// Source is "mqtt" or "serial".
	Source string               `mapstructure:"source"`
	MQTT   virtual.MQTTConfig   `mapstructure:"mqtt"`
	Serial virtual.SerialConfig `mapstructure:"serial"`
	// GasBaselineCache is kept apart from the local gas sensor's cache.
	GasBaselineCache string `mapstructure:"gas-baseline-cache"`
}

type Config struct {
	// Sensors lists the sensors to run.
	Sensors []string `mapstructure:"enabled"`
	// I2CBus is a periph bus name, "" for the default bus, or "dbus" to go
	// through the org.cacophony.i2c service.
	I2CBus string `mapstructure:"i2c-bus"`

	ProbeInterval      time.Duration `mapstructure:"probe-interval"`
	PollInterval       time.Duration `mapstructure:"poll-interval"`
	BackgroundInterval time.Duration `mapstructure:"background-interval"`
	LogRate            time.Duration `mapstructure:"log-rate"`

	AirQuality        airquality.Config `mapstructure:"air-quality"`
	Magnet            anomaly.Config    `mapstructure:"magnet"`
	PresenceThreshold int               `mapstructure:"presence-threshold"`
	Virtual           VirtualConfig     `mapstructure:"virtual"`

	HistoryFile    string `mapstructure:"history-file"`
	HistoryMaxRows int    `mapstructure:"history-max-rows"`
	MetricsAddress string `mapstructure:"metrics-address"`
}

func DefaultConfig() Config {
	aq := airquality.DefaultConfig()
	aq.CacheFile = "/var/lib/tc2-hat-sensors/gas-baseline.json"
	return Config{
		Sensors: []string{
			SensorBME680,
			SensorAHT20,
			SensorTMP117,
			SensorVEML7700,
			SensorSTHS34PF80,
			SensorMMC5983,
			SensorCPULoad,
			SensorMemory,
			SensorIPAddress,
			SensorNetwork,
		},
		ProbeInterval:      5 * time.Second,
		PollInterval:       10 * time.Second,
		BackgroundInterval: time.Second,
		LogRate:            5 * time.Minute,
		AirQuality:         aq,
		Magnet:             anomaly.DefaultConfig(),
		PresenceThreshold:  drivers.DefaultPresenceThreshold,
		Virtual: VirtualConfig{
			Source: "mqtt",
			MQTT:   virtual.DefaultMQTTConfig(),
			Serial: virtual.DefaultSerialConfig(),

			GasBaselineCache: "/var/lib/tc2-hat-sensors/virtual-gas-baseline.json",
		},
		HistoryFile:    "/var/lib/tc2-hat-sensors/history.db",
		HistoryMaxRows: history.DefaultMaxRows,
	}
}

func (c Config) Enabled(name string) bool {
	return slices.Contains(c.Sensors, name)
}

type unmarshaler interface {
	Unmarshal(key string, raw interface{}) error
}

// ParseConfig reads the sensors section of the config file in configDir.
// A missing or unreadable section leaves the defaults in place.
func ParseConfig(configDir string) (Config, error) {
	conf, err := config.New(configDir)
	if err != nil {
		return Config{}, err
	}
	return parseConfig(conf), nil
}

func parseConfig(u unmarshaler) Config {
	c := DefaultConfig()
	if err := u.Unmarshal(SensorsKey, &c); err != nil {
		log.Warnf("Using default sensor config: %v", err)
		return DefaultConfig()
	}
	for _, name := range c.Sensors {
		if !slices.Contains(allSensors, name) {
			log.Warnf("Unknown sensor '%s' in config", name)
		}
	}
	return c
}
