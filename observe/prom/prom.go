// Package prom exports scope, broadcaster and scheduler activity as
// Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-flowscope/broadcast"
	"github.com/NetPo4ki/go-flowscope/cancel"
	"github.com/NetPo4ki/go-flowscope/scope"
	"github.com/NetPo4ki/go-flowscope/sched"
)

const defaultNamespace = "flowscope"

type Option func(*options)

type options struct {
	namespace string
	scheduler *sched.Scheduler
}

// WithNamespace replaces the "flowscope" metric prefix.
func WithNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

// WithScheduler also exports queue and worker gauges for s.
func WithScheduler(s *sched.Scheduler) Option { return func(o *options) { o.scheduler = s } }

// Metrics implements scope.Observer and broadcast.Observer.
type Metrics struct {
	activeTasks   prometheus.Gauge
	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	tasksPanicked prometheus.Counter
	taskDuration  prometheus.Histogram

	scopesCreated   *prometheus.CounterVec
	scopesCancelled prometheus.Counter
	joins           prometheus.Counter
	joinWait        prometheus.Histogram

	subscribers *prometheus.GaugeVec
	emissions   *prometheus.CounterVec
	superseded  *prometheus.CounterVec
	producers   *prometheus.CounterVec
}

var (
	_ scope.Observer     = (*Metrics)(nil)
	_ broadcast.Observer = (*Metrics)(nil)
)

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer, optFns ...Option) (*Metrics, error) {
	o := options{namespace: defaultNamespace}
	for _, fn := range optFns {
		fn(&o)
	}
	ns := o.namespace
	m := &Metrics{
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scope", Name: "active_tasks",
			Help: "Nodes whose work is currently running.",
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "tasks_started_total",
			Help: "Nodes whose work started.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "tasks_finished_total",
			Help: "Nodes whose work returned, by result.",
		}, []string{"result"}),
		tasksPanicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "tasks_panicked_total",
			Help: "Nodes whose work panicked.",
		}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "scope", Name: "task_duration_seconds",
			Help:    "Time spent in node work.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		scopesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "created_total",
			Help: "Scopes opened, by policy.",
		}, []string{"policy"}),
		scopesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "cancelled_total",
			Help: "Scopes whose root token was cancelled.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scope", Name: "joins_total",
			Help: "Completed Wait and Close calls.",
		}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "scope", Name: "join_wait_seconds",
			Help:    "Time Wait and Close spent blocked.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "subscribers",
			Help: "Current subscribers per broadcaster.",
		}, []string{"broadcaster"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "emissions_total",
			Help: "Values accepted into the cache.",
		}, []string{"broadcaster"}),
		superseded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "superseded_total",
			Help: "Deliveries cancelled by a newer value.",
		}, []string{"broadcaster"}),
		producers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "broadcast", Name: "producer_transitions_total",
			Help: "Producer state changes, by target state.",
		}, []string{"broadcaster", "state"}),
	}

	collectors := []prometheus.Collector{
		m.activeTasks, m.tasksStarted, m.tasksFinished, m.tasksPanicked, m.taskDuration,
		m.scopesCreated, m.scopesCancelled, m.joins, m.joinWait,
		m.subscribers, m.emissions, m.superseded, m.producers,
	}
	if o.scheduler != nil {
		collectors = append(collectors, NewSchedulerCollector(ns, o.scheduler))
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ScopeCreated(info scope.ScopeInfo) {
	m.scopesCreated.WithLabelValues(info.Policy.String()).Inc()
}

func (m *Metrics) ScopeCancelled(scope.ScopeInfo, error) { m.scopesCancelled.Inc() }

func (m *Metrics) ScopeJoined(_ scope.ScopeInfo, wait time.Duration) {
	m.joins.Inc()
	m.joinWait.Observe(wait.Seconds())
}

func (m *Metrics) TaskStarted(scope.NodeInfo) {
	m.activeTasks.Inc()
	m.tasksStarted.Inc()
}

func (m *Metrics) TaskFinished(_ scope.NodeInfo, dur time.Duration, err error, panicked bool) {
	m.activeTasks.Dec()
	m.tasksFinished.WithLabelValues(result(err)).Inc()
	if panicked {
		m.tasksPanicked.Inc()
	}
	m.taskDuration.Observe(dur.Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case cancel.IsCancellation(err):
		return "cancelled"
	default:
		return "error"
	}
}

func (m *Metrics) Subscribed(info broadcast.Info, n int) {
	m.subscribers.WithLabelValues(label(info)).Set(float64(n))
}

func (m *Metrics) Unsubscribed(info broadcast.Info, n int) {
	m.subscribers.WithLabelValues(label(info)).Set(float64(n))
}

func (m *Metrics) Emitted(info broadcast.Info) { m.emissions.WithLabelValues(label(info)).Inc() }

func (m *Metrics) Superseded(info broadcast.Info) { m.superseded.WithLabelValues(label(info)).Inc() }

func (m *Metrics) ProducerChanged(info broadcast.Info, st broadcast.ProducerState, _ error) {
	m.producers.WithLabelValues(label(info), st.String()).Inc()
}

func label(info broadcast.Info) string {
	if info.Name == "" {
		return "unnamed"
	}
	return info.Name
}
