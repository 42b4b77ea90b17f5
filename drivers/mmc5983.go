package drivers

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/magnet"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

const (
	MMC5983Address = 0x30

	mmc5983RegXOut0     = 0x00
	mmc5983RegTOut      = 0x07
	mmc5983RegStatus    = 0x08
	mmc5983RegCtrl0     = 0x09
	mmc5983RegCtrl1     = 0x0A
	mmc5983RegProductID = 0x2F

	mmc5983ProductID = 0x30

	mmc5983MeasureField = 0x01
	mmc5983MeasureTemp  = 0x02
	mmc5983Set          = 0x08
	mmc5983SoftReset    = 0x80

	mmc5983FieldDone = 0x01
	mmc5983TempDone  = 0x02

	// 18 bit output, offset binary, 16384 counts per Gauss.
	mmc5983NullField   = 131072
	mmc5983CountsGauss = 16384.0
)

// MMC5983 is a 3-axis magnetometer.
type MMC5983 struct {
	Bus  i2c.Bus
	Addr uint16
}

func NewMMC5983(bus i2c.Bus) *MMC5983 {
	return &MMC5983{Bus: bus, Addr: MMC5983Address}
}

func (m *MMC5983) Initialize() (sensor.Device, error) {
	d := &i2c.Dev{Bus: m.Bus, Addr: m.Addr}
	id, err := readReg(d, mmc5983RegProductID, 1)
	if err != nil {
		return nil, err
	}
	if err := checkID("MMC5983", uint16(id[0]), mmc5983ProductID); err != nil {
		return nil, err
	}
	if err := writeReg(d, mmc5983RegCtrl1, mmc5983SoftReset); err != nil {
		return nil, err
	}
	sleepFn(15 * time.Millisecond)
	// SET pulse clears any residual magnetization from a strong field.
	if err := writeReg(d, mmc5983RegCtrl0, mmc5983Set); err != nil {
		return nil, err
	}
	sleepFn(time.Millisecond)
	return d, nil
}

func (m *MMC5983) Read(dev sensor.Device) (magnet.Sample, error) {
	d, err := asDev(dev)
	if err != nil {
		return magnet.Sample{}, err
	}
	if err := mmc5983Measure(d, mmc5983MeasureField, mmc5983FieldDone); err != nil {
		return magnet.Sample{}, err
	}
	out, err := readReg(d, mmc5983RegXOut0, 7)
	if err != nil {
		return magnet.Sample{}, err
	}
	s := decodeMMC5983(out)

	if err := mmc5983Measure(d, mmc5983MeasureTemp, mmc5983TempDone); err != nil {
		return magnet.Sample{}, err
	}
	t, err := readReg(d, mmc5983RegTOut, 1)
	if err != nil {
		return magnet.Sample{}, err
	}
	s.Temperature = float64(t[0])*0.8 - 75
	s.HasTemperature = true
	return s, nil
}

func (m *MMC5983) Unavailable() magnet.Sample {
	return magnet.Sample{}
}

func mmc5983Measure(d *i2c.Dev, start, done byte) error {
	if err := writeReg(d, mmc5983RegCtrl0, start); err != nil {
		return err
	}
	for range 5 {
		sleepFn(10 * time.Millisecond)
		status, err := readReg(d, mmc5983RegStatus, 1)
		if err != nil {
			return err
		}
		if status[0]&done != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: MMC5983 measurement 0x%02X", ErrNotReady, start)
}

// decodeMMC5983 converts the X, Y, Z output registers to Gauss. Register 6
// holds the two least significant bits of each axis.
func decodeMMC5983(out []byte) magnet.Sample {
	axis := func(hi, lo byte, shift uint) float64 {
		raw := uint32(hi)<<10 | uint32(lo)<<2 | uint32(out[6]>>shift)&0x03
		return (float64(raw) - mmc5983NullField) / mmc5983CountsGauss
	}
	return magnet.Sample{
		X: axis(out[0], out[1], 6),
		Y: axis(out[2], out[3], 4),
		Z: axis(out[4], out[5], 2),
	}
}
