package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Scheduler struct {
	ticks           prometheus.Counter
	leased          prometheus.Counter
	published       prometheus.Counter
	publishFailed   prometheus.Counter
	swept           prometheus.Counter
	dispatchLatency prometheus.Histogram
}

func NewScheduler(reg prometheus.Registerer) *Scheduler {
	m := &Scheduler{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_ticks_total",
			Help: "Number of scheduler ticks started",
		}),
		leased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_publications_leased_total",
			Help: "Number of publications leased by this process",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_publications_published_total",
			Help: "Number of publications marked done",
		}),
		publishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_publications_failed_total",
			Help: "Number of publication dispatches that failed and were released",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "publisher_leases_swept_total",
			Help: "Number of expired leases cleared by the sweeper",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "publisher_dispatch_latency_seconds",
			Help:    "Latency of a single publication dispatch",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.ticks, m.leased, m.published, m.publishFailed, m.swept, m.dispatchLatency)
	return m
}

func (m *Scheduler) TickStarted() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Scheduler) Leased(n int) {
	if m == nil {
		return
	}
	m.leased.Add(float64(n))
}

func (m *Scheduler) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

func (m *Scheduler) PublishFailed() {
	if m == nil {
		return
	}
	m.publishFailed.Inc()
}

func (m *Scheduler) Swept(n int64) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}

func (m *Scheduler) DispatchLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.Observe(d.Seconds())
}
