// Package metrics exports sensor state and readings to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tc2_hat_sensors"

// Metrics is a sensor.Observer that also records readings.
type Metrics struct {
	available    *prometheus.GaugeVec
	probes       *prometheus.CounterVec
	readFailures *prometheus.CounterVec
	values       *prometheus.GaugeVec
	events       *prometheus.CounterVec
}

var _ sensor.Observer = (*Metrics)(nil)

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		available: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_available",
				Help:      "1 if the sensor is available, 0 otherwise",
			},
			[]string{"sensor"},
		),
		probes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Number of times a sensor was probed",
			},
			[]string{"sensor", "result"},
		),
		readFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "read_failures_total",
				Help:      "Number of failed reads that made a sensor unavailable",
			},
			[]string{"sensor"},
		),
		values: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reading",
				Help:      "Latest numeric value of each reading field",
			},
			[]string{"sensor", "field"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Number of events reported",
			},
			[]string{"type"},
		),
	}
}

func (m *Metrics) Probed(name string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, sensor.ErrNoDevice):
		result = "no_device"
	case err != nil:
		result = "error"
	}
	m.probes.WithLabelValues(name, result).Inc()
}

func (m *Metrics) ReadFailed(name string, err error) {
	m.readFailures.WithLabelValues(name).Inc()
}

func (m *Metrics) StateChanged(name string, from, to sensor.State) {
	v := 0.0
	if to == sensor.Available {
		v = 1
	}
	m.available.WithLabelValues(name).Set(v)
}

// Record sets a gauge for every numeric or boolean field. Fields that are
// not available have their gauge removed.
func (m *Metrics) Record(results []sensor.Result) {
	for _, res := range results {
		for _, e := range sensor.Flatten(res.Reading) {
			v, ok := number(e.Value)
			if !e.OK || !ok {
				m.values.DeleteLabelValues(res.Name, e.Name)
				continue
			}
			m.values.WithLabelValues(res.Name, e.Name).Set(v)
		}
	}
}

func (m *Metrics) Event(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
