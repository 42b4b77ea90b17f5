package sensor

import (
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/logging"
	"github.com/sirupsen/logrus"
)

// DefaultProbeInterval is used when a handle is created with a non-positive interval.
const DefaultProbeInterval = 5 * time.Second

var log = logging.NewLogger("info")

type options struct {
	now      func() time.Time
	log      *logrus.Logger
	observer Observer
}

// Option configures a Handle.
type Option func(*options)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Handle owns one sensor's device and decides when to (re)probe it.
//
// A device is held only while the handle is Available. Probes are spaced
// at least probeInterval apart, but a failing read drops the device at once.
// Handle is not safe for concurrent use; Registry serialises access.
type Handle[R any] struct {
	name          string
	driver        Driver[R]
	probeInterval time.Duration

	state     State
	lastProbe time.Time
	device    Device

	now      func() time.Time
	log      *logrus.Logger
	observer Observer
}

// NewHandle returns an Uninitialized handle. Nothing touches the hardware
// until the first Read or Probe.
func NewHandle[R any](name string, driver Driver[R], probeInterval time.Duration, opts ...Option) *Handle[R] {
	o := options{now: time.Now, log: log, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	return &Handle[R]{
		name:          name,
		driver:        driver,
		probeInterval: probeInterval,
		state:         Uninitialized,
		now:           o.now,
		log:           o.log,
		observer:      o.observer,
	}
}

func (h *Handle[R]) Name() string {
	return h.name
}

func (h *Handle[R]) State() State {
	return h.state
}

func (h *Handle[R]) ProbeInterval() time.Duration {
	return h.probeInterval
}

// LastProbe returns when the handle last attempted a probe.
func (h *Handle[R]) LastProbe() time.Time {
	return h.lastProbe
}

// HasDevice reports whether the handle currently owns a device.
func (h *Handle[R]) HasDevice() bool {
	return h.device != nil
}

// NeedsBackgroundUpdates reports whether the driver asks to be read even
// when its values are not being displayed.
func (h *Handle[R]) NeedsBackgroundUpdates() bool {
	return needsBackgroundUpdates(h.driver)
}

// Probe attempts to make the sensor available and reports whether it is.
// The probe time is recorded whatever the outcome. A device that is
// already held is kept rather than initialized again.
func (h *Handle[R]) Probe() bool {
	h.lastProbe = h.now()
	if h.device != nil {
		h.setState(Available)
		return true
	}

	var dev Device
	err := protect(func() error {
		var err error
		dev, err = h.driver.Initialize()
		return err
	})
	if err == nil && dev == nil {
		err = ErrNoDevice
	}
	h.observer.Probed(h.name, err)
	if err != nil {
		if h.state == Unavailable {
			h.log.Debugf("Sensor '%s' still unavailable: %v", h.name, err)
		} else {
			h.log.Infof("Sensor '%s' not available: %v", h.name, err)
		}
		h.dropDevice()
		h.setState(Unavailable)
		return false
	}

	h.device = dev
	h.log.Infof("Sensor '%s' initialized", h.name)
	h.setState(Available)
	return true
}

// Read returns a reading, probing first when the handle has never been
// probed or the probe interval has elapsed. When the sensor is not
// available, or the read fails, the sentinel reading is returned.
func (h *Handle[R]) Read() R {
	if h.state == Uninitialized || h.now().Sub(h.lastProbe) >= h.probeInterval {
		h.Probe()
	}
	if h.state != Available {
		return h.driver.Unavailable()
	}

	var reading R
	err := protect(func() error {
		var err error
		reading, err = h.driver.Read(h.device)
		return err
	})
	if err != nil {
		h.log.Warnf("Failed to read sensor '%s', marking unavailable: %v", h.name, err)
		h.observer.ReadFailed(h.name, err)
		h.dropDevice()
		h.setState(Unavailable)
		return h.driver.Unavailable()
	}
	return reading
}

// Poll is Read for callers that do not know the reading type.
func (h *Handle[R]) Poll() any {
	return h.Read()
}

// Close drops the device and returns the handle to Uninitialized.
func (h *Handle[R]) Close() error {
	err := h.releaseDevice()
	h.setState(Uninitialized)
	return err
}

func (h *Handle[R]) dropDevice() {
	if err := h.releaseDevice(); err != nil {
		h.log.Debugf("Error closing device for sensor '%s': %v", h.name, err)
	}
}

func (h *Handle[R]) releaseDevice() error {
	dev := h.device
	h.device = nil
	if dev == nil {
		return nil
	}
	return protect(func() error { return closeDevice(dev) })
}

func (h *Handle[R]) setState(s State) {
	if h.state == s {
		return
	}
	from := h.state
	h.state = s
	h.log.Debugf("Sensor '%s' %s -> %s", h.name, from, s)
	h.observer.StateChanged(h.name, from, s)
}
