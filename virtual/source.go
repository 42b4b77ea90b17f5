package virtual

import (
	"errors"
	"sync"
)

var ErrDisconnected = errors.New("virtual sensor source disconnected")

// Source delivers decoded messages. It is the Device of a virtual sensor.
type Source interface {
	// Latest returns the newest message and its sequence number, which is 0
	// until the first message arrives. Once the source has lost its
	// connection it returns an error wrapping ErrDisconnected.
	Latest() (Message, uint64, error)
	Close() error
}

// latest holds the newest message for a Source.
type latest struct {
	mu  sync.Mutex
	msg Message
	seq uint64
	err error
}

func (l *latest) Latest() (Message, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msg, l.seq, l.err
}

func (l *latest) set(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msg = msg
	l.seq++
}

func (l *latest) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err == nil {
		l.err = err
	}
}

// receive decodes a payload, dropping anything that isn't a message.
func (l *latest) receive(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		log.Debug("Ignoring payload: ", err)
		return
	}
	l.set(msg)
}
