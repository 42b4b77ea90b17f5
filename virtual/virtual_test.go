package virtual

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/airquality"
	"github.com/TheCacophonyProject/tc2-hat-sensors/anomaly"
	"github.com/TheCacophonyProject/tc2-hat-sensors/magnet"
	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/gofrs/flock"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullMessage = `{
	"BME68x": {"TemperatureC": 21.5, "Humidity": 40, "Pressure": 1013.2, "Gas Resistance": 50000},
	"VEML7700": {"Lux": 120.5},
	"TMP117": {"Temperature (C)": 21.25},
	"MAX17048": {"Voltage (V)": 3.9, "State Of Charge (%)": 87},
	"System Info": {"SSID": "bushnet", "RSSI": -61},
	"STHS34PF80": {"Presence (cm^-1)": 200, "Motion (LSB)": 3, "Temperature (C)": 22},
	"MMC5983": {"X Field (Gauss)": 0.3, "Y Field (Gauss)": 0.4, "Z Field (Gauss)": 0, "Temperature (C)": 20}
}`

type fakeSource struct {
	latest
	closed bool
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) publish(t *testing.T, payload string) {
	msg, err := Decode([]byte(payload))
	require.NoError(t, err)
	f.set(msg)
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	return c.t
}

func newTestDriver(t *testing.T, src *fakeSource, c *clock, opts ...Option) *Driver {
	mag := anomaly.DefaultConfig()
	mag.MinSamples = 3
	opts = append(opts, WithClock(c.now))
	d, err := NewDriver(func() (Source, error) { return src, nil }, airquality.DefaultConfig(), mag, opts...)
	require.NoError(t, err)
	return d
}

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(fullMessage))
	require.NoError(t, err)
	require.NotNil(t, m.BME68x)
	assert.Equal(t, 50000.0, m.BME68x.GasResistance.Or(0))
	assert.Equal(t, "bushnet", m.SystemInfo.SSID.Or(""))
	assert.Equal(t, -61.0, m.SystemInfo.RSSI.Or(0))
	assert.Equal(t, 0.4, m.MMC5983.Y.Or(0))

	m, err = Decode([]byte(`{"TMP117": {}}`))
	require.NoError(t, err)
	assert.Nil(t, m.BME68x)
	assert.False(t, m.TMP117.Temperature.Available())

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestReadBeforeFirstMessage(t *testing.T) {
	src := &fakeSource{}
	d := newTestDriver(t, src, &clock{t: time.Unix(1700000000, 0)})
	dev, err := d.Initialize()
	require.NoError(t, err)

	r, err := d.Read(dev)
	require.NoError(t, err)
	for _, e := range sensor.Flatten(r) {
		assert.False(t, e.OK, e.Name)
	}
	assert.Equal(t, "MQTT: n/a", r.Summary())
}

func TestReadFullMessage(t *testing.T) {
	src := &fakeSource{}
	c := &clock{t: time.Unix(1700000000, 0)}
	d := newTestDriver(t, src, c)
	dev, err := d.Initialize()
	require.NoError(t, err)

	src.publish(t, fullMessage)
	c.t = c.t.Add(10 * time.Second)
	r, err := d.Read(dev)
	require.NoError(t, err)

	assert.Equal(t, 21.5, r.Environment.Temperature.Or(0))
	assert.Equal(t, 290, r.Environment.BurnInRemaining.Or(0))
	assert.False(t, r.Environment.AirQuality.Available())
	assert.Equal(t, "MQTT Burn-in: 290s", r.Summary())
	assert.Equal(t, 120.5, r.Light.Or(0))
	assert.Equal(t, 21.25, r.TempC.Or(0))
	assert.Equal(t, 3.9, r.Voltage.Or(0))
	assert.Equal(t, 87.0, r.StateOfCharge.Or(0))
	assert.Equal(t, "bushnet", r.SSID.Or(""))
	assert.True(t, r.PersonDetected.Or(false))
	assert.Equal(t, 22.0, r.PresenceTemperature.Or(0))
	assert.InDelta(t, 0.5, r.Magnet.Magnitude.Or(0), 1e-12)
	assert.Equal(t, 20.0, r.Magnet.Temperature.Or(0))
	assert.False(t, r.Magnet.Detected.Or(true))
}

func TestMessageEvaluatedOnce(t *testing.T) {
	src := &fakeSource{}
	d := newTestDriver(t, src, &clock{t: time.Unix(1700000000, 0)})
	dev, err := d.Initialize()
	require.NoError(t, err)

	src.publish(t, fullMessage)
	first, err := d.Read(dev)
	require.NoError(t, err)
	second, err := d.Read(dev)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, d.Detector().History(), 1)
	assert.Equal(t, 1, d.Engine().Samples())
}

func TestBurnInAndScore(t *testing.T) {
	src := &fakeSource{}
	c := &clock{t: time.Unix(1700000000, 0)}
	var calibrated []float64
	d := newTestDriver(t, src, c, OnCalibrated(func(b float64) { calibrated = append(calibrated, b) }))
	dev, err := d.Initialize()
	require.NoError(t, err)

	for _, gas := range []float64{40000, 60000} {
		src.publish(t, fmt.Sprintf(`{"BME68x": {"Humidity": 40, "Gas Resistance": %v}}`, gas))
		_, err := d.Read(dev)
		require.NoError(t, err)
		c.t = c.t.Add(time.Minute)
	}

	c.t = c.t.Add(5 * time.Minute)
	src.publish(t, `{"BME68x": {"Humidity": 40, "Gas Resistance": 50000}}`)
	r, err := d.Read(dev)
	require.NoError(t, err)
	require.Equal(t, []float64{50000}, calibrated)
	assert.Equal(t, 50000.0, r.Environment.GasBaseline.Or(0))
	assert.InDelta(t, 100.0, r.Environment.AirQuality.Or(0), 1e-9)
	assert.Equal(t, "MQTT AirQ: 100.0", r.Summary())
}

func TestMissingGasSkipsEngine(t *testing.T) {
	src := &fakeSource{}
	d := newTestDriver(t, src, &clock{t: time.Unix(1700000000, 0)})
	dev, err := d.Initialize()
	require.NoError(t, err)

	src.publish(t, `{"BME68x": {"TemperatureC": 19}}`)
	r, err := d.Read(dev)
	require.NoError(t, err)
	assert.Equal(t, 19.0, r.Environment.Temperature.Or(0))
	assert.False(t, r.Environment.BurnInRemaining.Available())
	assert.Equal(t, 0, d.Engine().Samples())
}

func TestMagnetDetection(t *testing.T) {
	src := &fakeSource{}
	var changes []bool
	d := newTestDriver(t, src, &clock{t: time.Unix(1700000000, 0)},
		OnMagnetChange(func(detected bool, r magnet.Reading) { changes = append(changes, detected) }))
	dev, err := d.Initialize()
	require.NoError(t, err)

	send := func(x float64) magnet.Reading {
		src.publish(t, fmt.Sprintf(`{"MMC5983": {"X Field (Gauss)": %v, "Y Field (Gauss)": 0, "Z Field (Gauss)": 0}}`, x))
		r, err := d.Read(dev)
		require.NoError(t, err)
		return r.Magnet
	}
	for _, x := range []float64{0.5, 0.51, 0.49, 0.5} {
		send(x)
	}
	r := send(5)
	assert.True(t, r.Detected.Or(false))
	assert.False(t, r.Temperature.Available())
	r = send(0.5)
	assert.False(t, r.Detected.Or(true))
	assert.Equal(t, []bool{true, false}, changes)

	src.publish(t, `{"MMC5983": {"X Field (Gauss)": 0.5, "Y Field (Gauss)": 0}}`)
	vr, err := d.Read(dev)
	require.NoError(t, err)
	assert.Equal(t, 0.5, vr.Magnet.X.Or(0))
	assert.False(t, vr.Magnet.Magnitude.Available())
	assert.False(t, vr.Magnet.Detected.Available())
}

func TestPersonDetected(t *testing.T) {
	cases := []struct {
		payload string
		want    sensor.Field[bool]
	}{
		{`{"Presence (cm^-1)": 1000, "Motion (LSB)": 0}`, sensor.Value(true)},
		{`{"Presence (cm^-1)": 999, "Motion (LSB)": 0}`, sensor.Value(false)},
		{`{"Presence (cm^-1)": 10, "Motion (LSB)": 1}`, sensor.Value(true)},
		{`{"Presence (cm^-1)": 1200}`, sensor.Value(true)},
		{`{"Motion (LSB)": 0}`, sensor.Value(false)},
		{`{"Temperature (C)": 20}`, sensor.NA[bool]()},
	}
	for _, c := range cases {
		m, err := Decode([]byte(`{"STHS34PF80": ` + c.payload + `}`))
		require.NoError(t, err)
		assert.Equal(t, c.want, personDetected(m.STHS34PF80, DefaultPresenceThreshold), c.payload)
	}
}

func TestDisconnectDemotesHandle(t *testing.T) {
	src := &fakeSource{}
	d := newTestDriver(t, src, &clock{t: time.Unix(1700000000, 0)})
	h := sensor.NewHandle("mqtt", sensor.Driver[Reading](d), time.Hour)

	src.publish(t, `{"TMP117": {"Temperature (C)": 18}}`)
	r := h.Read()
	assert.Equal(t, 18.0, r.TempC.Or(0))
	assert.Equal(t, sensor.Available, h.State())

	src.fail(ErrDisconnected)
	r = h.Read()
	assert.False(t, r.TempC.Available())
	assert.Equal(t, sensor.Unavailable, h.State())
	assert.True(t, src.closed)
}

func TestSerialSource(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewSerialSource(pr)

	_, seq, err := s.Latest()
	require.NoError(t, err)
	require.Zero(t, seq)

	_, err = io.WriteString(pw, "garbage\n\n"+`{"VEML7700": {"Lux": 5}}`+"\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, seq, _ := s.Latest()
		return seq == 1
	}, time.Second, 5*time.Millisecond)
	msg, _, _ := s.Latest()
	assert.Equal(t, 5.0, msg.VEML7700.Lux.Or(0))

	require.NoError(t, pw.Close())
	require.Eventually(t, func() bool {
		_, _, err := s.Latest()
		return err != nil
	}, time.Second, 5*time.Millisecond)
	_, _, err = s.Latest()
	assert.ErrorIs(t, err, ErrDisconnected)
	require.NoError(t, s.Close())
}

func TestOpenSerialLocked(t *testing.T) {
	port := filepath.Join(t.TempDir(), "ttyUSB0")
	require.NoError(t, os.WriteFile(port, nil, 0644))
	lock := flock.New(port)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	_, err = OpenSerial(SerialConfig{Port: port, Baud: 115200})
	assert.ErrorIs(t, err, ErrSerialUnavailable)
}

func TestSerialInUseFromTerminal(t *testing.T) {
	cmdline := filepath.Join(t.TempDir(), "cmdline.txt")
	require.NoError(t, os.WriteFile(cmdline, []byte("console=serial0,115200 console=tty1 root=PARTUUID=1\n"), 0644))
	assert.True(t, serialInUseFromTerminal(cmdline, "/dev/serial0"))
	assert.False(t, serialInUseFromTerminal(cmdline, "/dev/ttyUSB0"))
	assert.False(t, serialInUseFromTerminal(filepath.Join(t.TempDir(), "missing"), "/dev/serial0"))
}

func freeAddress(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func startBroker(t *testing.T) (*mochi.Server, string) {
	addr := freeAddress(t)
	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	return server, addr
}

func TestMQTTSource(t *testing.T) {
	server, addr := startBroker(t)
	var once sync.Once
	closeServer := func() { once.Do(func() { server.Close() }) }
	t.Cleanup(closeServer)

	cfg := DefaultMQTTConfig()
	cfg.Broker = addr
	src, err := MQTTDialer(cfg)()
	require.NoError(t, err)

	require.NoError(t, server.Publish(cfg.Topic, []byte(`{"TMP117": {"Temperature (C)": 23.5}}`), false, 0))
	require.Eventually(t, func() bool {
		_, seq, _ := src.Latest()
		return seq == 1
	}, 2*time.Second, 10*time.Millisecond)
	msg, _, err := src.Latest()
	require.NoError(t, err)
	assert.Equal(t, 23.5, msg.TMP117.Temperature.Or(0))

	// Payloads that aren't messages are dropped.
	require.NoError(t, server.Publish(cfg.Topic, []byte(`{{`), false, 0))
	require.NoError(t, server.Publish("other", []byte(`{}`), false, 0))
	time.Sleep(50 * time.Millisecond)
	_, seq, _ := src.Latest()
	assert.Equal(t, uint64(1), seq)

	closeServer()
	require.Eventually(t, func() bool {
		_, _, err := src.Latest()
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
	_, _, err = src.Latest()
	assert.ErrorIs(t, err, ErrDisconnected)
	src.Close()
}

func TestMQTTNoBroker(t *testing.T) {
	cfg := DefaultMQTTConfig()
	cfg.Broker = freeAddress(t)
	cfg.ConnectTimeout = time.Second
	_, err := DialMQTT(t.Context(), cfg)
	require.Error(t, err)
}
