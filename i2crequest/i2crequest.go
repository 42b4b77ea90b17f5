// Package i2crequest makes I2C transactions through the org.cacophony.i2c
// D-Bus service, which arbitrates the bus between the processes on the HAT.
package i2crequest

import (
	"fmt"

	"github.com/godbus/dbus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"

	// DefaultTimeout is how long, in milliseconds, the service waits for the bus.
	DefaultTimeout = 3000
)

// Tx writes write to the device at address then reads readLen bytes back.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}

	return response, nil
}

// Bus is an i2c.Bus backed by the D-Bus service, so periph device code can
// share the bus with the other HAT services.
type Bus struct {
	// Timeout in milliseconds, DefaultTimeout if zero.
	Timeout int
	tx      func(address byte, write []byte, readLen, timeout int) ([]byte, error)
}

var _ i2c.Bus = (*Bus)(nil)

func NewBus(timeout int) *Bus {
	return &Bus{Timeout: timeout, tx: Tx}
}

func (b *Bus) String() string {
	return "dbus:" + dbusName
}

func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return fmt.Errorf("invalid 7 bit address 0x%X", addr)
	}
	timeout := b.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	tx := b.tx
	if tx == nil {
		tx = Tx
	}
	response, err := tx(byte(addr), w, len(r), timeout)
	if err != nil {
		return fmt.Errorf("i2c tx to 0x%X: %w", addr, err)
	}
	if len(response) != len(r) {
		return fmt.Errorf("i2c tx to 0x%X: read %d bytes, expected %d", addr, len(response), len(r))
	}
	copy(r, response)
	return nil
}

// SetSpeed is not supported, the service owns the bus configuration.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("%s: can not set speed to %s", b, f)
}
