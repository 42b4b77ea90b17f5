// Package drivers has the sensor.Driver implementations for the chips on
// the sensor board and for readings taken from the host system.
package drivers

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"periph.io/x/conn/v3/i2c"
)

var log = logging.NewLogger("info")

var sleepFn = time.Sleep

var (
	ErrWrongChipID = errors.New("unexpected chip id")
	ErrNotReady    = errors.New("measurement not ready")
	ErrBadCRC      = errors.New("bad crc")
)

func readReg(d *i2c.Dev, reg byte, n int) ([]byte, error) {
	r := make([]byte, n)
	if err := d.Tx([]byte{reg}, r); err != nil {
		return nil, fmt.Errorf("reading register 0x%02X: %w", reg, err)
	}
	return r, nil
}

func writeReg(d *i2c.Dev, reg byte, vals ...byte) error {
	if err := d.Tx(append([]byte{reg}, vals...), nil); err != nil {
		return fmt.Errorf("writing register 0x%02X: %w", reg, err)
	}
	return nil
}

func checkID(name string, got, want uint16) error {
	if got != want {
		return fmt.Errorf("%w: %s reported 0x%X, expected 0x%X", ErrWrongChipID, name, got, want)
	}
	return nil
}

func asDev(dev sensor.Device) (*i2c.Dev, error) {
	return sensor.DeviceAs[*i2c.Dev](dev)
}
