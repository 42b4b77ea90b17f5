package virtual

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"github.com/tarm/serial"
)

const cmdlineFile = "/boot/firmware/cmdline.txt"

// ErrSerialUnavailable is returned when the port is locked by another
// process or used by the terminal console.
var ErrSerialUnavailable = errors.New("serial port unavailable")

type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200}
}

// SerialSource keeps the newest message from a line of JSON per message.
type SerialSource struct {
	latest
	port io.ReadCloser
}

// OpenSerial takes an exclusive lock on the port and starts reading it. The
// lock is held until the source is closed.
func OpenSerial(cfg SerialConfig) (*SerialSource, error) {
	if serialInUseFromTerminal(cmdlineFile, cfg.Port) {
		return nil, fmt.Errorf("%w: %s is in use by the terminal console", ErrSerialUnavailable, cfg.Port)
	}
	lock := flock.New(cfg.Port)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", cfg.Port, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s is locked by another process", ErrSerialUnavailable, cfg.Port)
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("opening %s: %w", cfg.Port, err)
	}
	return NewSerialSource(&lockedPort{ReadCloser: port, lock: lock}), nil
}

type lockedPort struct {
	io.ReadCloser
	lock *flock.Flock
}

func (p *lockedPort) Close() error {
	err := p.ReadCloser.Close()
	return errors.Join(err, p.lock.Unlock())
}

// serialInUseFromTerminal reports whether the kernel command line gives the
// port to the serial console.
func serialInUseFromTerminal(cmdline, port string) bool {
	b, err := os.ReadFile(cmdline)
	if err != nil {
		log.Debugf("Error when reading %s: %s", cmdline, err)
		return false
	}
	for _, opt := range strings.Fields(string(b)) {
		console, ok := strings.CutPrefix(opt, "console=")
		if !ok {
			continue
		}
		console, _, _ = strings.Cut(console, ",")
		if "/dev/"+console == port {
			return true
		}
	}
	return false
}

// NewSerialSource reads messages from r until it fails or is closed.
func NewSerialSource(r io.ReadCloser) *SerialSource {
	s := &SerialSource{port: r}
	go s.readLines()
	return s
}

func (s *SerialSource) readLines() {
	scanner := bufio.NewScanner(s.port)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		s.receive(scanner.Bytes())
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
}

func (s *SerialSource) Close() error {
	s.fail(ErrDisconnected)
	return s.port.Close()
}
