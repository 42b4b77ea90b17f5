package sensor

// State is where a handle is in its availability lifecycle.
type State int

const (
	Uninitialized State = iota
	Available
	Unavailable
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Available:
		return "available"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Observer is told about probe results, read failures and state changes.
// Methods are called synchronously from Probe and Read.
type Observer interface {
	Probed(name string, err error)
	ReadFailed(name string, err error)
	StateChanged(name string, from, to State)
}

type nopObserver struct{}

func (nopObserver) Probed(string, error) {}
func (nopObserver) ReadFailed(string, error) {}
func (nopObserver) StateChanged(string, State, State) {}
