package i2crequest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

var ErrNoMockResponse = errors.New("no mock response left")

// TxResponse is a scripted reply for one transaction.
type TxResponse struct {
	Response []byte
	Err      error
}

// TxRecord is a transaction a MockBus received.
type TxRecord struct {
	Address uint16
	Write   []byte
	ReadLen int
}

// MockBus is an i2c.Bus that replays scripted responses in order, for tests.
type MockBus struct {
	mu        sync.Mutex
	responses []TxResponse
	records   []TxRecord
}

var _ i2c.Bus = (*MockBus)(nil)

func NewMockBus(responses ...TxResponse) *MockBus {
	return &MockBus{responses: responses}
}

// MockTxResponses appends responses to the script.
func (m *MockBus) MockTxResponses(responses []TxResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Remaining returns how many scripted responses are unused.
func (m *MockBus) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses)
}

// Records returns every transaction made so far.
func (m *MockBus) Records() []TxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TxRecord(nil), m.records...)
}

func (m *MockBus) String() string {
	return "mock"
}

func (m *MockBus) Tx(addr uint16, w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, TxRecord{Address: addr, Write: append([]byte(nil), w...), ReadLen: len(r)})
	if len(m.responses) == 0 {
		return fmt.Errorf("%w: tx to 0x%X write %v", ErrNoMockResponse, addr, w)
	}
	res := m.responses[0]
	m.responses = m.responses[1:]
	if res.Err != nil {
		return res.Err
	}
	if len(res.Response) < len(r) {
		return fmt.Errorf("mock response has %d bytes, %d requested", len(res.Response), len(r))
	}
	copy(r, res.Response)
	return nil
}

func (m *MockBus) SetSpeed(physic.Frequency) error {
	return nil
}

// Repeat returns in repeated n times.
func Repeat[T any](in []T, n int) []T {
	out := make([]T, 0, len(in)*n)
	for range n {
		out = append(out, in...)
	}
	return out
}
