package sensor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAddAndRead(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewHandle[testReading]("a", &fakeDriver{value: 1}, time.Second)))
	require.NoError(t, r.Add(NewHandle[testReading]("b", &fakeDriver{initErr: errors.New("absent")}, time.Second)))

	err := r.Add(NewHandle[testReading]("a", &fakeDriver{}, time.Second))
	require.ErrorIs(t, err, ErrDuplicateSensor)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	res, err := r.Read("a")
	require.NoError(t, err)
	assert.Equal(t, Available, res.State)
	assert.Equal(t, 1.0, res.Reading.(testReading).Value.Or(0))

	res, err = r.Read("b")
	require.NoError(t, err)
	assert.Equal(t, Unavailable, res.State)
	assert.Equal(t, testReading{}, res.Reading)

	_, err = r.Read("c")
	require.ErrorIs(t, err, ErrUnknownSensor)
}

func TestRegistryLast(t *testing.T) {
	r := NewRegistry()
	d := &fakeDriver{value: 3}
	require.NoError(t, r.Add(NewHandle[testReading]("a", d, time.Second)))
	_, ok, err := r.Last("a")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = r.Read("a")
	require.NoError(t, err)
	last, ok, err := r.Last("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Reading.(testReading).Value.Or(0))
	assert.Equal(t, 1, d.readCalls)
}

func TestRegistryUpdateBackgroundOnly(t *testing.T) {
	r := NewRegistry()
	plain := &fakeDriver{}
	background := &backgroundDriver{}
	require.NoError(t, r.Add(NewHandle[testReading]("plain", plain, time.Second)))
	require.NoError(t, r.Add(NewHandle[testReading]("background", background, time.Second)))

	results := r.Update(false)
	require.Len(t, results, 1)
	assert.Equal(t, "background", results[0].Name)
	assert.Equal(t, 0, plain.readCalls)
	assert.Equal(t, 1, background.readCalls)

	assert.Len(t, r.ReadAll(), 2)
	assert.Equal(t, 1, plain.readCalls)
}

func TestRegistryConcurrentReads(t *testing.T) {
	r := NewRegistry()
	d := &fakeDriver{value: 1}
	require.NoError(t, r.Add(NewHandle[testReading]("a", d, time.Second)))
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Read("a")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, d.readCalls)
	assert.Equal(t, 1, d.initCalls)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry()
	d := &fakeDriver{}
	require.NoError(t, r.Add(NewHandle[testReading]("a", d, time.Second)))
	r.ReadAll()
	require.NoError(t, r.Close())
	assert.True(t, d.devices[0].closed)
	state, err := r.State("a")
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, state)
}

func TestFallbackUsesFirstWorkingDriver(t *testing.T) {
	primary := &fakeDriver{initErr: errors.New("no chip at 0x77")}
	secondary := &fakeDriver{value: 9}
	h := NewHandle("gas", Fallback[testReading](primary, secondary), time.Second)

	r := h.Read()
	assert.Equal(t, 9.0, r.Value.Or(0))
	assert.Equal(t, 1, primary.initCalls)
	assert.Equal(t, 1, secondary.initCalls)

	require.NoError(t, h.Close())
	assert.True(t, secondary.devices[0].closed)
}

func TestFallbackAllFail(t *testing.T) {
	a := &fakeDriver{initErr: errors.New("a")}
	b := &fakeDriver{initErr: errors.New("b")}
	_, err := Fallback[testReading](a, b).Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "driver 0: a")
	assert.Contains(t, err.Error(), "driver 1: b")

	_, err = Fallback[testReading]().Initialize()
	require.ErrorIs(t, err, ErrNoDrivers)
}

func TestFallbackBackgroundUpdates(t *testing.T) {
	assert.True(t, needsBackgroundUpdates(Fallback[testReading](&fakeDriver{}, &backgroundDriver{})))
	assert.False(t, needsBackgroundUpdates(Fallback[testReading](&fakeDriver{})))
}
