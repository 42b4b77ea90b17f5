package sensor

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Poller is the untyped view of a Handle that the Registry holds.
type Poller interface {
	Name() string
	State() State
	Poll() any
	NeedsBackgroundUpdates() bool
	Close() error
}

// Result is one reading taken by the Registry.
type Result struct {
	Name    string
	State   State
	Reading any
	Time    time.Time
}

type entry struct {
	mu     sync.Mutex
	poller Poller
	last   Result
}

// Registry owns a set of named sensors. Each sensor has its own lock, so
// reads of one sensor are serialised while different sensors can be read
// at the same time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: map[string]*entry{},
		now:     time.Now,
	}
}

// Add registers p under p.Name().
func (r *Registry) Add(p Poller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSensor, name)
	}
	r.entries[name] = &entry{poller: p}
	r.order = append(r.order, name)
	return nil
}

// Names returns the registered sensor names in the order they were added.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	return e, nil
}

func (r *Registry) poll(e *entry) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	reading := e.poller.Poll()
	e.last = Result{
		Name:    e.poller.Name(),
		State:   e.poller.State(),
		Reading: reading,
		Time:    r.now(),
	}
	return e.last
}

// Read takes a reading from the named sensor.
func (r *Registry) Read(name string) (Result, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	return r.poll(e), nil
}

// Last returns the most recent reading taken from the named sensor without
// touching the hardware. The returned bool is false if it was never read.
func (r *Registry) Last(name string) (Result, bool, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Result{}, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.last.Name != "", nil
}

// State returns the named sensor's current state.
func (r *Registry) State(name string) (State, error) {
	e, err := r.lookup(name)
	if err != nil {
		return Uninitialized, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.poller.State(), nil
}

// ReadAll reads every sensor in registration order.
func (r *Registry) ReadAll() []Result {
	return r.Update(true)
}

// Update reads every sensor when active is true. Otherwise only sensors
// that need background updates are read, so calibration and baselines
// keep tracking while nothing is being shown.
func (r *Registry) Update(active bool) []Result {
	var results []Result
	for _, name := range r.Names() {
		e, err := r.lookup(name)
		if err != nil {
			continue
		}
		if !active && !e.poller.NeedsBackgroundUpdates() {
			continue
		}
		results = append(results, r.poll(e))
	}
	return results
}

// Close closes every sensor, releasing their devices.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		e, err := r.lookup(name)
		if err != nil {
			continue
		}
		e.mu.Lock()
		if err := e.poller.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}
