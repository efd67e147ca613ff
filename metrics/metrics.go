// Package metrics provides Prometheus instrumentation for the NB-IoT
// gateway.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"i4.energy/across/nbiot/at"
)

const namespace = "nbiot"

// Metrics holds the Prometheus collectors of the gateway.
type Metrics struct {
	// AT command metrics
	Commands        *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	// Network metrics
	BringUps *prometheus.CounterVec
	Signal   prometheus.Gauge

	// Datagram metrics
	Datagrams     *prometheus.CounterVec
	DatagramBytes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "at_commands_total",
				Help:      "Total number of AT commands by command and outcome",
			},
			[]string{"command", "result"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "at_command_duration_seconds",
				Help:      "Time from sending an AT command to its final reply",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 40},
			},
			[]string{"command"},
		),
		BringUps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bringups_total",
				Help:      "Total number of network bring-ups by outcome",
			},
			[]string{"result"},
		),
		Signal: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "signal_rssi_dbm",
				Help:      "Last reported received signal strength, 0 when unknown",
			},
		),
		Datagrams: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_total",
				Help:      "Total number of UDP datagrams by direction",
			},
			[]string{"direction"},
		),
		DatagramBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagram_bytes_total",
				Help:      "Total UDP payload bytes by direction",
			},
			[]string{"direction"},
		),
	}
}

// ObserveCommand records one AT command. Its signature matches at.Observer.
func (m *Metrics) ObserveCommand(command string, kind at.ResponseKind, elapsed time.Duration) {
	verb := Verb(command)
	m.Commands.WithLabelValues(verb, kind.String()).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(elapsed.Seconds())
}

// ObserveDatagram records a datagram of n bytes sent ("tx") or received
// ("rx").
func (m *Metrics) ObserveDatagram(direction string, n int) {
	m.Datagrams.WithLabelValues(direction).Inc()
	m.DatagramBytes.WithLabelValues(direction).Add(float64(n))
}

// ObserveBringUp records the outcome of a network bring-up.
func (m *Metrics) ObserveBringUp(err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.BringUps.WithLabelValues(result).Inc()
}

// Verb reduces an AT command to its name, dropping arguments and the query
// or assignment suffix, so that label cardinality stays bounded:
// "AT+NSOST=1,..." becomes "+NSOST".
func Verb(command string) string {
	name, found := strings.CutPrefix(strings.TrimSpace(command), at.Prefix)
	if !found {
		return "unknown"
	}
	if i := strings.IndexAny(name, "=?"); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return at.Prefix
	}
	return name
}
