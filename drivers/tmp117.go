package drivers

import (
	"encoding/binary"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

const (
	TMP117Address = 0x48

	tmp117RegTemp     = 0x00
	tmp117RegDeviceID = 0x0F
	tmp117DeviceID    = 0x117
	tmp117Resolution  = 0.0078125
)

// TMP117Reading is temperature in °C.
type TMP117Reading struct {
	TempC sensor.Field[float64] `json:"temp_c"`
}

// TMP117 is a precision temperature sensor.
type TMP117 struct {
	Bus  i2c.Bus
	Addr uint16
}

func NewTMP117(bus i2c.Bus) *TMP117 {
	return &TMP117{Bus: bus, Addr: TMP117Address}
}

func (t *TMP117) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: t.Bus, Addr: t.Addr}
	id, err := readReg(d, tmp117RegDeviceID, 2)
	if err != nil {
		return nil, err
	}
	if err := checkID("TMP117", binary.BigEndian.Uint16(id)&0x0FFF, tmp117DeviceID); err != nil {
		return nil, err
	}
	return d, nil
}

func (t *TMP117) Read(dev sensor.Device) (TMP117Reading, error) {
	d, err := asDev(dev)
	if err != nil {
		return TMP117Reading{}, err
	}
	raw, err := readReg(d, tmp117RegTemp, 2)
	if err != nil {
		return TMP117Reading{}, err
	}
	temp := float64(int16(binary.BigEndian.Uint16(raw))) * tmp117Resolution
	return TMP117Reading{TempC: sensor.Float(temp)}, nil
}

func (t *TMP117) Unavailable() TMP117Reading {
	return TMP117Reading{}
}
