package sensor

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNoDevice        = errors.New("driver returned no device")
	ErrNoDrivers       = errors.New("no drivers to try")
	ErrUnknownSensor   = errors.New("unknown sensor")
	ErrDuplicateSensor = errors.New("sensor already registered")
	ErrWrongDeviceType = errors.New("device is of the wrong type")
	errDriverPanicked  = errors.New("driver panicked")
)

// Device is the opaque handle a Driver returns from Initialize. If it
// implements io.Closer it is closed when the handle drops it.
type Device any

// Driver is implemented by every concrete sensor.
type Driver[R any] interface {
	// Initialize brings the hardware up and returns the device to read from.
	Initialize() (Device, error)
	// Read takes one reading from a device returned by Initialize.
	Read(dev Device) (R, error)
	// Unavailable returns the sentinel reading, every field NotAvailable.
	Unavailable() R
}

// BackgroundUpdater is implemented by drivers that must keep being read
// while nobody is looking at their values, such as ones that calibrate
// or track a baseline.
type BackgroundUpdater interface {
	NeedsBackgroundUpdates() bool
}

// DeviceAs returns dev as a T, or ErrWrongDeviceType.
func DeviceAs[T any](dev Device) (T, error) {
	d, ok := dev.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %T", ErrWrongDeviceType, dev)
	}
	return d, nil
}

func closeDevice(dev Device) error {
	if c, ok := dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func needsBackgroundUpdates(v any) bool {
	b, ok := v.(BackgroundUpdater)
	return ok && b.NeedsBackgroundUpdates()
}

// protect turns a panic in driver code into an error so a misbehaving
// driver only takes its own sensor down.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errDriverPanicked, r)
		}
	}()
	return fn()
}
