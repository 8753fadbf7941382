package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"go.ntppool.org/common/logger"

	"go.ntppool.org/srvmon/client/config"
	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/monitor"
	"go.ntppool.org/srvmon/client/serverset"
)

type probeCmd struct {
	Flags `embed:""`

	Count     int      `name:"count" short:"c" default:"3" help:"Number of pings per server"`
	Addresses []string `arg:"" name:"address" help:"Servers to probe (host:port)"`
}

func (cmd *probeCmd) Run(ctx context.Context) error {
	log := logger.Setup()
	ctx = logger.NewContext(ctx, log)

	opts, err := cmd.validate()
	if err != nil {
		return err
	}

	addrs := make([]description.Address, 0, len(cmd.Addresses))
	for _, a := range cmd.Addresses {
		addrs = append(addrs, description.Address(a))
	}

	return probe(ctx, os.Stdout, opts, cmd.Dialer(), addrs, cmd.Count)
}

// probe scans each server count times, MinScanInterval apart, and prints
// the resulting descriptions.
func probe(ctx context.Context, w io.Writer, opts config.Options, dial serverset.Dialer, addrs []description.Address, count int) error {
	log := logger.FromContext(ctx)

	results := make([]description.Description, len(addrs))

	monitors := make([]*monitor.Monitor, 0, len(addrs))
	for _, addr := range addrs {
		m, err := newProbeMonitor(log, opts, dial, addr)
		if err != nil {
			for _, m := range monitors {
				m.Stop()
			}
			return err
		}
		monitors = append(monitors, m)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, m := range monitors {
		g.Go(func() error {
			defer m.Stop()
			for n := range count {
				if n > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(opts.MinScanInterval):
					}
				}
				results[i] = m.Scan(ctx)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSTATUS\tAVG RTT\tERROR")
	for _, d := range results {
		avg := "-"
		if ms, ok := d.AverageRTT(); ok {
			avg = fmt.Sprintf("%.3fms", ms)
		}
		errStr := ""
		if err := d.LastError(); err != nil {
			errStr = err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Address(), d.Status(), avg, errStr)
	}
	return tw.Flush()
}

func newProbeMonitor(log *slog.Logger, opts config.Options, dial serverset.Dialer, addr description.Address) (*monitor.Monitor, error) {
	conn, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", addr, err)
	}
	m, err := monitor.New(conn, nil, opts, monitor.WithLogger(log))
	if err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}
