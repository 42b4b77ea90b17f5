package sensor

import (
	"errors"
	"fmt"
)

type fallback[R any] struct {
	drivers []Driver[R]
}

type fallbackDevice[R any] struct {
	driver Driver[R]
	dev    Device
}

func (d *fallbackDevice[R]) Close() error {
	return closeDevice(d.dev)
}

// Fallback returns a Driver that initializes the first of drivers that
// succeeds, trying them in order, and then reads through it.
// The sentinel reading is the first driver's.
func Fallback[R any](drivers ...Driver[R]) Driver[R] {
	return &fallback[R]{drivers: drivers}
}

func (f *fallback[R]) Initialize() (Device, error) {
	if len(f.drivers) == 0 {
		return nil, ErrNoDrivers
	}
	var errs []error
	for i, d := range f.drivers {
		dev, err := d.Initialize()
		if err == nil && dev == nil {
			err = ErrNoDevice
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("driver %d: %w", i, err))
			continue
		}
		return &fallbackDevice[R]{driver: d, dev: dev}, nil
	}
	return nil, errors.Join(errs...)
}

func (f *fallback[R]) Read(dev Device) (R, error) {
	fd, err := DeviceAs[*fallbackDevice[R]](dev)
	if err != nil {
		var zero R
		return zero, err
	}
	return fd.driver.Read(fd.dev)
}

func (f *fallback[R]) Unavailable() R {
	if len(f.drivers) == 0 {
		var zero R
		return zero
	}
	return f.drivers[0].Unavailable()
}

func (f *fallback[R]) NeedsBackgroundUpdates() bool {
	for _, d := range f.drivers {
		if needsBackgroundUpdates(d) {
			return true
		}
	}
	return false
}
