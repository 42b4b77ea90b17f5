package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// NotAvailable is the single marker used for every field that has no value.
const NotAvailable = "n/a"

// Field holds either a value or nothing. The zero Field is not available,
// so the zero value of a reading struct made of Fields is its sentinel reading.
type Field[T any] struct {
	value T
	ok    bool
}

// Value returns an available field holding v.
func Value[T any](v T) Field[T] {
	return Field[T]{value: v, ok: true}
}

// NA returns a field with no value.
func NA[T any]() Field[T] {
	return Field[T]{}
}

// Float returns an available field for finite v and NA for NaN or infinities.
func Float(v float64) Field[float64] {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return NA[float64]()
	}
	return Value(v)
}

// Get returns the value and whether it is available.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.ok
}

func (f Field[T]) Available() bool {
	return f.ok
}

// Or returns the value, or def when the field is not available.
func (f Field[T]) Or(def T) T {
	if !f.ok {
		return def
	}
	return f.value
}

// Any returns the value as an interface, for code that walks readings generically.
func (f Field[T]) Any() (any, bool) {
	if !f.ok {
		return nil, false
	}
	return f.value, true
}

func (f Field[T]) String() string {
	if !f.ok {
		return NotAvailable
	}
	switch v := any(f.value).(type) {
	case float64:
		return fmt.Sprintf("%.2f", v)
	case float32:
		return fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprint(f.value)
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(f.value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`"`+NotAvailable+`"`)) {
		*f = NA[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Value(v)
	return nil
}
