package drivers

import (
	"encoding/binary"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

const (
	STHS34PF80Address = 0x5A

	sths34RegWhoAmI    = 0x0F
	sths34RegCtrl1     = 0x20
	sths34RegTAmbient  = 0x28
	sths34RegTPresence = 0x3A
	sths34RegTMotion   = 0x3C

	sths34WhoAmI = 0xD3
	// Block data update, 1Hz output rate.
	sths34Ctrl1 = 0x13

	DefaultPresenceThreshold = 1000
)

// PresenceReading is the IR presence and motion sensor output.
type PresenceReading struct {
	Presence      sensor.Field[int]     `json:"presence_value"`
	Motion        sensor.Field[int]     `json:"motion_value"`
	Temperature   sensor.Field[float64] `json:"temperature"`
	PersonPresent sensor.Field[bool]    `json:"person_present"`
}

type STHS34PF80 struct {
	Bus       i2c.Bus
	Addr      uint16
	Threshold int
}

func NewSTHS34PF80(bus i2c.Bus, threshold int) *STHS34PF80 {
	if threshold <= 0 {
		threshold = DefaultPresenceThreshold
	}
	return &STHS34PF80{Bus: bus, Addr: STHS34PF80Address, Threshold: threshold}
}

func (s *STHS34PF80) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: s.Bus, Addr: s.Addr}
	id, err := readReg(d, sths34RegWhoAmI, 1)
	if err != nil {
		return nil, err
	}
	if err := checkID("STHS34PF80", uint16(id[0]), sths34WhoAmI); err != nil {
		return nil, err
	}
	if err := writeReg(d, sths34RegCtrl1, sths34Ctrl1); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *STHS34PF80) Read(dev sensor.Device) (PresenceReading, error) {
	d, err := asDev(dev)
	if err != nil {
		return PresenceReading{}, err
	}
	ambient, err := readInt16LE(d, sths34RegTAmbient)
	if err != nil {
		return PresenceReading{}, err
	}
	presence, err := readInt16LE(d, sths34RegTPresence)
	if err != nil {
		return PresenceReading{}, err
	}
	motion, err := readInt16LE(d, sths34RegTMotion)
	if err != nil {
		return PresenceReading{}, err
	}
	return PresenceReading{
		Presence:      sensor.Value(presence),
		Motion:        sensor.Value(motion),
		Temperature:   sensor.Float(float64(ambient) / 100),
		PersonPresent: sensor.Value(presence > s.Threshold),
	}, nil
}

func (s *STHS34PF80) Unavailable() PresenceReading {
	return PresenceReading{}
}

func readInt16LE(d *i2c.Dev, reg byte) (int, error) {
	raw, err := readReg(d, reg, 2)
	if err != nil {
		return 0, err
	}
	return int(int16(binary.LittleEndian.Uint16(raw))), nil
}
