package inspector

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"go.ntppool.org/srvmon/client/description"
)

// LogListener logs description changes.
type LogListener struct {
	log *slog.Logger
}

func NewLogListener(log *slog.Logger) *LogListener {
	return &LogListener{log: log}
}

func (l *LogListener) DescriptionChanged(ctx context.Context, previous, current description.Description) {
	args := []any{
		"address", current.Address().String(),
		"status", current.Status().String(),
	}
	if avg, ok := current.AverageRTT(); ok {
		args = append(args, "rtt_ms", avg)
	}

	if previous.Status() != current.Status() {
		args = append(args, "previous_status", previous.Status().String())
		if err := current.LastError(); err != nil {
			args = append(args, "err", err)
		}
		l.log.InfoContext(ctx, "server status changed", args...)
		return
	}

	l.log.DebugContext(ctx, "server description updated", args...)
}

// MetricsListener exports the current descriptions as prometheus metrics.
type MetricsListener struct {
	rtt       *prometheus.GaugeVec
	reachable *prometheus.GaugeVec
	changes   *prometheus.CounterVec
}

func NewMetricsListener(promreg prometheus.Registerer) *MetricsListener {
	m := &MetricsListener{
		rtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "server_rtt_average_milliseconds",
			Help: "Smoothed round-trip time to the server",
		}, []string{"address"}),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "server_reachable",
			Help: "Server reachability from the last scan (1=reachable, 0=not)",
		}, []string{"address"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "server_description_changes_total",
			Help: "Count of published server description changes",
		}, []string{"address", "status"}),
	}
	promreg.MustRegister(m.rtt, m.reachable, m.changes)
	return m
}

func (m *MetricsListener) DescriptionChanged(_ context.Context, _, current description.Description) {
	addr := current.Address().String()

	if avg, ok := current.AverageRTT(); ok {
		m.rtt.WithLabelValues(addr).Set(avg)
	}

	if current.Reachable() {
		m.reachable.WithLabelValues(addr).Set(1)
	} else {
		m.reachable.WithLabelValues(addr).Set(0)
	}

	m.changes.WithLabelValues(addr, current.Status().String()).Inc()
}

// Forget removes the metrics for a server that's no longer monitored.
func (m *MetricsListener) Forget(addr description.Address) {
	m.rtt.DeleteLabelValues(addr.String())
	m.reachable.DeleteLabelValues(addr.String())
	m.changes.DeletePartialMatch(prometheus.Labels{"address": addr.String()})
}
