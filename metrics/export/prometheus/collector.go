package prometheus

import (
	"github.com/MrEthical07/authcore"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSource is the read side of an [authcore.Engine].
type MetricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Collector implements prometheus.Collector over a [MetricsSource].
type Collector struct {
	source   MetricsSource
	counters []*prometheus.Desc
	latency  *prometheus.Desc
	dropped  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading from source on every scrape.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:  source,
		latency: prometheus.NewDesc(latencyName, latencyHelp, nil, nil),
		dropped: prometheus.NewDesc(droppedName, droppedHelp, nil, nil),
	}
	for _, def := range counterDefs {
		c.counters = append(c.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	return c
}

// Register adds a collector for source to reg.
func Register(reg prometheus.Registerer, source MetricsSource) error {
	return reg.Register(NewCollector(source))
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	ch <- c.latency
	ch <- c.dropped
}

// Collect emits nothing when the engine runs with metrics disabled, apart
// from the audit drop counter.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range counterDefs {
		v, ok := snapshot.Counters[def.ID]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.counters[i], prometheus.CounterValue, float64(v))
	}

	if h, ok := snapshot.Histograms[authcore.MetricLoginLatency]; ok {
		buckets, count := cumulativeBuckets(h.Buckets)
		ch <- prometheus.MustNewConstHistogram(c.latency, count, h.Sum.Seconds(), buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}
