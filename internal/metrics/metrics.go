// Package metrics exports line state to Prometheus. The collector is a tick
// sink; it owns its registry so several engines never share series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"factoryline.ai/internal/sim/engine"
)

const (
	namespace = "factoryline"
	subsystem = "line"
)

type Collector struct {
	registry *prometheus.Registry

	tick            prometheus.Gauge
	queueDepth      *prometheus.GaugeVec
	stationActive   *prometheus.GaugeVec
	stationStalled  *prometheus.GaugeVec
	conveyorLoad    *prometheus.GaugeVec
	conveyorStalled *prometheus.GaugeVec

	emittedTotal   prometheus.Counter
	droppedTotal   prometheus.Counter
	completedTotal prometheus.Counter
	discardedTotal prometheus.Counter
	pending        prometheus.Gauge
	controlsTotal  *prometheus.CounterVec

	tickDuration prometheus.Histogram
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),

		tick: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick",
			Help:      "Last completed simulation tick",
		}),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "station_queue_depth",
				Help:      "Materials held in a station queue",
			},
			[]string{"station", "kind", "queue"},
		),
		stationActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "station_active",
				Help:      "1 when the station is switched on",
			},
			[]string{"station", "kind"},
		),
		stationStalled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "station_stalled",
				Help:      "1 when finished work is blocked by a full output queue",
			},
			[]string{"station", "kind"},
		),
		conveyorLoad: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "conveyor_in_flight",
				Help:      "Materials travelling on a conveyor",
			},
			[]string{"conveyor"},
		),
		conveyorStalled: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "conveyor_stalled",
				Help:      "1 when the conveyor holds an arrived item its destination refused",
			},
			[]string{"conveyor"},
		),
		emittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "materials_emitted_total",
			Help:      "Raw materials produced by extractors",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "materials_dropped_total",
			Help:      "Raw materials lost to a full extractor output",
		}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "products_completed_total",
			Help:      "Expected products received by output stations",
		}),
		discardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "materials_discarded_total",
			Help:      "Materials consumed without producing anything",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "products_pending",
			Help:      "Completed products not yet drained",
		}),
		controlsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "controls_total",
				Help:      "Operator controls applied, by op",
			},
			[]string{"op"},
		),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent advancing and snapshotting one tick",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}),
	}
	c.registry.MustRegister(
		c.tick,
		c.queueDepth,
		c.stationActive,
		c.stationStalled,
		c.conveyorLoad,
		c.conveyorStalled,
		c.emittedTotal,
		c.droppedTotal,
		c.completedTotal,
		c.discardedTotal,
		c.pending,
		c.controlsTotal,
		c.tickDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// WatchIndex exports the index writer queue. Both funcs are called at scrape
// time from the HTTP goroutine.
func (c *Collector) WatchIndex(depth func() int, drops func() uint64) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "queue_depth",
			Help:      "Rows waiting for the index writer",
		}, func() float64 { return float64(depth()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "dropped_ticks_total",
			Help:      "Tick rows dropped because the index writer fell behind",
		}, func() float64 { return float64(drops()) }),
	)
}

func (c *Collector) WriteTick(rec engine.TickRecord) error {
	c.tick.Set(float64(rec.Tick))
	c.tickDuration.Observe(rec.Elapsed.Seconds())

	c.emittedTotal.Add(float64(rec.Summary.Emitted))
	c.droppedTotal.Add(float64(rec.Summary.Dropped))
	c.completedTotal.Add(float64(rec.Summary.Completed))
	c.discardedTotal.Add(float64(rec.Summary.Discarded))
	c.pending.Set(float64(rec.Stats.ProductsPending))
	for _, ctrl := range rec.Controls {
		c.controlsTotal.WithLabelValues(ctrl.Op).Inc()
	}

	if rec.Snapshot == nil {
		return nil
	}
	for _, st := range rec.Snapshot.Stations {
		kind := string(st.Kind)
		c.queueDepth.WithLabelValues(st.ID, kind, "input").Set(float64(len(st.Input.Items)))
		c.queueDepth.WithLabelValues(st.ID, kind, "output").Set(float64(len(st.Output.Items)))
		c.stationActive.WithLabelValues(st.ID, kind).Set(boolGauge(st.Active))
		c.stationStalled.WithLabelValues(st.ID, kind).Set(boolGauge(st.Stalled))
	}
	for _, cv := range rec.Snapshot.Conveyors {
		c.conveyorLoad.WithLabelValues(cv.ID).Set(float64(len(cv.InFlight)))
		c.conveyorStalled.WithLabelValues(cv.ID).Set(boolGauge(cv.Stalled))
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
