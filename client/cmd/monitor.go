package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/version"

	"go.ntppool.org/srvmon/client/config"
	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/inspector"
	"go.ntppool.org/srvmon/client/serverset"
	"go.ntppool.org/srvmon/client/statusapi"
	"go.ntppool.org/srvmon/mqttcm"
)

type monitorCmd struct {
	Flags `embed:""`

	Servers        string        `name:"servers" short:"s" required:"" type:"path" env:"SRVMON_SERVERS" help:"Server list file, reloaded when it changes"`
	Listen         string        `name:"listen" default:"localhost:8095" env:"SRVMON_LISTEN" help:"Status API listen address"`
	LocalThreshold time.Duration `name:"local-threshold" default:"15ms" env:"SRVMON_LOCAL_THRESHOLD" help:"Latency window for eligible servers"`
	Name           string        `name:"name" env:"SRVMON_NAME" help:"Name of this agent, defaults to the hostname"`
	Environment    string        `name:"environment" default:"prod" env:"SRVMON_ENVIRONMENT" help:"Deployment environment, used for MQTT topics and tracing"`

	MQTT struct {
		Broker   string `name:"broker" env:"SRVMON_MQTT_BROKER" help:"MQTT broker URL; publishing is disabled when empty"`
		Username string `name:"username" env:"SRVMON_MQTT_USERNAME"`
		Password string `name:"password" env:"SRVMON_MQTT_PASSWORD"`
	} `embed:"" prefix:"mqtt-"`
}

func (cmd *monitorCmd) Run(ctx context.Context) error {
	log := logger.Setup()
	ctx = logger.NewContext(ctx, log)

	opts, err := cmd.validate()
	if err != nil {
		return err
	}

	name := cmd.Name
	if len(name) == 0 {
		name, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("hostname: %w", err)
		}
	}

	log.InfoContext(ctx, "starting srvmon",
		"version", version.Version(),
		"name", name,
		"scan_interval", opts.ScanInterval,
		"rtt_weight", opts.RTTWeightFactor,
	)

	tpShutdown, err := InitTracing(ctx, cmd.Environment)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := tpShutdown(context.Background()); err != nil {
			log.Warn("tracing shutdown", "err", err)
		}
	}()

	promreg := prometheus.NewRegistry()
	promreg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricsListener := inspector.NewMetricsListener(promreg)
	insp := inspector.New(
		inspector.NewLogListener(log),
		metricsListener,
	)

	g, ctx := errgroup.WithContext(ctx)

	var publisher *mqttcm.Publisher
	if len(cmd.MQTT.Broker) > 0 {
		topics := mqttcm.NewTopics(cmd.Environment + "/srvmon")
		cm, err := mqttcm.Setup(ctx, name, topics.Status(name), mqttcm.Config{
			Broker:   cmd.MQTT.Broker,
			Username: cmd.MQTT.Username,
			Password: cmd.MQTT.Password,
		})
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		publisher = mqttcm.NewPublisher(log, cm, topics, name)
		insp.AddListener(publisher)

		g.Go(func() error {
			return publisher.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return cm.Disconnect(shutdownCtx)
		})
	}

	set := serverset.New(log, opts, cmd.Dialer(), insp,
		serverset.OnRemove(func(addr description.Address) {
			metricsListener.Forget(addr)
			if publisher != nil {
				if err := publisher.Clear(context.WithoutCancel(ctx), addr); err != nil {
					log.Debug("clearing mqtt server topic", "address", addr.String(), "err", err)
				}
			}
		}),
	)

	g.Go(func() error {
		return config.WatchServerList(ctx, cmd.Servers, func(ctx context.Context, servers []config.Server) {
			if err := set.Sync(ctx, servers); err != nil {
				log.WarnContext(ctx, "server list update", "err", err)
			}
			log.InfoContext(ctx, "server list loaded", "servers", set.Len())
		})
	})

	api := statusapi.New(log, set, promreg, cmd.LocalThreshold)
	g.Go(func() error {
		return api.Run(ctx, cmd.Listen)
	})

	err = g.Wait()
	if cerr := set.Close(); cerr != nil {
		log.Warn("stopping monitors", "err", cerr)
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("srvmon stopped")
	return err
}
