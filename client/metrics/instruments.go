package metrics

import (
	"context"
	"log/slog"
	"sync"

	"go.ntppool.org/common/metrics"
	"go.opentelemetry.io/otel/metric"
)

var (
	ScansTotal     metric.Int64Counter
	ProbeFailures  metric.Int64Counter
	PingDuration   metric.Float64Histogram
	MonitorsActive metric.Int64UpDownCounter

	setupOnce sync.Once
	setupErr  error
)

// InitInstruments initializes all metric instruments for the monitors.
// This function is safe to call multiple times - it will only initialize once.
func InitInstruments() error {
	setupOnce.Do(func() {
		setupErr = initializeInstruments()
	})
	return setupErr
}

func initializeInstruments() error {
	log := slog.Default()
	meter := metrics.GetMeter("srvmon.monitor")

	var err error

	ScansTotal, err = meter.Int64Counter("srvmon.scans_total",
		metric.WithDescription("Total number of server scans"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create ScansTotal counter", "err", err)
		return err
	}

	ProbeFailures, err = meter.Int64Counter("srvmon.probe_failures_total",
		metric.WithDescription("Total number of failed pings"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create ProbeFailures counter", "err", err)
		return err
	}

	PingDuration, err = meter.Float64Histogram("srvmon.ping_duration",
		metric.WithDescription("Round-trip time of successful pings"),
		metric.WithUnit("ms"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create PingDuration histogram", "err", err)
		return err
	}

	MonitorsActive, err = meter.Int64UpDownCounter("srvmon.monitors_active",
		metric.WithDescription("Number of running server monitors"))
	if err != nil {
		log.ErrorContext(context.Background(), "failed to create MonitorsActive counter", "err", err)
		return err
	}

	log.Debug("monitor metrics instruments initialized")
	return nil
}
