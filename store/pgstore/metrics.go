package pgstore

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type stat interface {
	AcquireCount() int64
	AcquireDuration() time.Duration
	AcquiredConns() int32
	CanceledAcquireCount() int64
	ConstructingConns() int32
	EmptyAcquireCount() int64
	IdleConns() int32
	MaxConns() int32
	TotalConns() int32
}

type statFunc func() stat

// poolMetric maps one pool statistic to a const metric.
type poolMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(stat) float64
}

type poolCollector struct {
	fn      statFunc
	metrics []poolMetric
}

var poolCollectorID uint64

func newPoolCollector(user, host, name string, fn statFunc) *poolCollector {
	constLabels := prometheus.Labels{
		"db_user":       user,
		"db_host":       host,
		"db_name":       name,
		"db_procpoolid": strconv.FormatUint(atomic.AddUint64(&poolCollectorID, 1), 10),
	}

	m := func(name, help string, kind prometheus.ValueType, value func(stat) float64) poolMetric {
		return poolMetric{
			desc:  prometheus.NewDesc("ccabid_pgxpool_"+name, help, nil, constLabels),
			kind:  kind,
			value: value,
		}
	}

	return &poolCollector{
		fn: fn,
		metrics: []poolMetric{
			m("acquire_count_total", "Cumulative count of successful acquires from the pool.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.AcquireCount()) }),
			m("acquire_duration_seconds_total", "Total duration of all successful acquires from the pool.",
				prometheus.CounterValue, func(s stat) float64 { return s.AcquireDuration().Seconds() }),
			m("acquired_conns", "Number of currently acquired connections in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.AcquiredConns()) }),
			m("canceled_acquire_count_total", "Cumulative count of acquires from the pool that were canceled by a context.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.CanceledAcquireCount()) }),
			m("constructing_conns", "Number of conns with construction in progress in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.ConstructingConns()) }),
			m("empty_acquire_count_total", "Cumulative count of acquires that waited because the pool was empty.",
				prometheus.CounterValue, func(s stat) float64 { return float64(s.EmptyAcquireCount()) }),
			m("idle_conns", "Number of currently idle conns in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.IdleConns()) }),
			m("max_conns", "Maximum size of the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.MaxConns()) }),
			m("total_conns", "Constructing, acquired and idle conns in the pool.",
				prometheus.GaugeValue, func(s stat) float64 { return float64(s.TotalConns()) }),
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.fn()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(s))
	}
}
