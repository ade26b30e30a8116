package udp

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// listenerMetrics are per listener counters labelled with the bound port.
type listenerMetrics struct {
	datagramsIn  prometheus.Counter
	datagramsOut prometheus.Counter
	controlIn    prometheus.Counter
	mismatches   prometheus.Counter
	natRemaps    prometheus.Counter
	queueDrops   prometheus.Counter
	edges        prometheus.Gauge
}

func newListenerMetrics(reg prometheus.Registerer, port int) *listenerMetrics {
	labels := prometheus.Labels{"port": strconv.Itoa(port)}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "edgenet",
			Subsystem:   "udp",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	m := &listenerMetrics{
		datagramsIn:  counter("datagrams_received_total", "Datagrams read from the socket."),
		datagramsOut: counter("datagrams_sent_total", "Datagrams written to the socket."),
		controlIn:    counter("control_received_total", "Control datagrams addressed to a live edge."),
		mismatches:   counter("id_mismatches_total", "Datagrams answered with EdgeClosed because their ids did not match."),
		natRemaps:    counter("nat_remaps_total", "Edges whose remote endpoint moved."),
		queueDrops:   counter("send_queue_drops_total", "Sends rejected because the queue was full."),
		edges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "edgenet",
			Subsystem:   "udp",
			Name:        "edges",
			Help:        "Live edges on the listener.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.datagramsIn, m.datagramsOut, m.controlIn, m.mismatches,
			m.natRemaps, m.queueDrops, m.edges,
		} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(err, &are) {
					continue
				}
				logrus.WithFields(logrus.Fields{
					"function": "newListenerMetrics",
					"error":    err.Error(),
				}).Warn("Failed to register listener metric")
			}
		}
	}
	return m
}
