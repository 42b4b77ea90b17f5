package drivers

import (
	"encoding/binary"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

const (
	VEML7700Address = 0x10

	veml7700RegConfig = 0x00
	veml7700RegALS    = 0x04
	veml7700RegID     = 0x07
	veml7700ID        = 0x81

	// Lux per count at gain 1 and 100ms integration, the power on defaults.
	veml7700Resolution = 0.0576
)

// LightReading is ambient light in lux.
type LightReading struct {
	Light sensor.Field[float64] `json:"light"`
}

type VEML7700 struct {
	Bus  i2c.Bus
	Addr uint16
}

func NewVEML7700(bus i2c.Bus) *VEML7700 {
	return &VEML7700{Bus: bus, Addr: VEML7700Address}
}

func (v *VEML7700) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: v.Bus, Addr: v.Addr}
	id, err := readReg(d, veml7700RegID, 2)
	if err != nil {
		return nil, err
	}
	if err := checkID("VEML7700", uint16(id[0]), veml7700ID); err != nil {
		return nil, err
	}
	// Gain 1, 100ms integration, powered on.
	if err := writeReg(d, veml7700RegConfig, 0x00, 0x00); err != nil {
		return nil, err
	}
	return d, nil
}

func (v *VEML7700) Read(dev sensor.Device) (LightReading, error) {
	d, err := asDev(dev)
	if err != nil {
		return LightReading{}, err
	}
	raw, err := readReg(d, veml7700RegALS, 2)
	if err != nil {
		return LightReading{}, err
	}
	lux := float64(binary.LittleEndian.Uint16(raw)) * veml7700Resolution
	return LightReading{Light: sensor.Float(lux)}, nil
}

func (v *VEML7700) Unavailable() LightReading {
	return LightReading{}
}
