package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-flowscope/sched"
)

// SchedulerCollector reads sched.Stats at scrape time.
type SchedulerCollector struct {
	s       *sched.Scheduler
	workers *prometheus.Desc
	running *prometheus.Desc
	queued  *prometheus.Desc
}

func NewSchedulerCollector(namespace string, s *sched.Scheduler) *SchedulerCollector {
	labels := []string{"dispatcher"}
	return &SchedulerCollector{
		s: s,
		workers: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sched", "workers"),
			"Worker slots of the dispatcher, 0 when unbounded.", labels, nil),
		running: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sched", "running"),
			"Functions currently holding a worker slot.", labels, nil),
		queued: prometheus.NewDesc(prometheus.BuildFQName(namespace, "sched", "queued"),
			"Functions waiting for a worker slot.", labels, nil),
	}
}

func (c *SchedulerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.running
	ch <- c.queued
}

func (c *SchedulerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.s.Stats() {
		d := st.Dispatcher.String()
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(st.Workers), d)
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, float64(st.Running), d)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(st.Queued), d)
	}
}
