package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 持有本服务的全部指标，使用独立的 prometheus.Registry 以便测试时互不干扰。
type Registry struct {
	reg *prometheus.Registry

	Commands         *prometheus.CounterVec // labels: command, result
	Notifications    *prometheus.CounterVec // labels: kind, result
	SinkFailures     *prometheus.CounterVec // labels: sink
	Sweeps           prometheus.Counter
	OverdueMarked    prometheus.Counter
	WarningsMarked   prometheus.Counter
	Orders           prometheus.Gauge
	PersistLatency   prometheus.Histogram
	PersistFailures  prometheus.Counter
	CommandsConsumed *prometheus.CounterVec // labels: result
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbot_commands_total",
		Help: "Order commands handled, by command and result.",
	}, []string{"command", "result"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbot_notifications_total",
		Help: "Outbound notifications, by kind and delivery result.",
	}, []string{"kind", "result"})
	sinkFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbot_notification_sink_failures_total",
	}, []string{"sink"})
	sweeps := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbot_monitor_sweeps_total"})
	overdue := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbot_monitor_overdue_marked_total"})
	warnings := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbot_monitor_warnings_marked_total"})
	orders := prometheus.NewGauge(prometheus.GaugeOpts{Name: "orderbot_orders"})
	persistLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orderbot_persist_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	persistFailures := prometheus.NewCounter(prometheus.CounterOpts{Name: "orderbot_persist_failures_total"})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orderbot_command_messages_total",
	}, []string{"result"})

	r.MustRegister(commands, notifications, sinkFailures, sweeps, overdue, warnings, orders,
		persistLatency, persistFailures, consumed)
	return &Registry{
		reg:              r,
		Commands:         commands,
		Notifications:    notifications,
		SinkFailures:     sinkFailures,
		Sweeps:           sweeps,
		OverdueMarked:    overdue,
		WarningsMarked:   warnings,
		Orders:           orders,
		PersistLatency:   persistLatency,
		PersistFailures:  persistFailures,
		CommandsConsumed: consumed,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
