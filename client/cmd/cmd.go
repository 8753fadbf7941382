package cmd

import (
	"fmt"
	"time"

	"go.ntppool.org/srvmon/client/config"
	"go.ntppool.org/srvmon/client/connection"
	"go.ntppool.org/srvmon/client/description"
	"go.ntppool.org/srvmon/client/serverset"
)

type ClientCmd struct {
	Monitor monitorCmd `cmd:"" help:"Monitor the servers in the server list"`
	Probe   probeCmd   `cmd:"" help:"Probe servers and print their round-trip time"`
	Version versionCmd `cmd:"" help:"Show version"`
}

// Flags are the monitor settings shared by all commands.
type Flags struct {
	ScanInterval    time.Duration `name:"scan-interval" default:"10s" env:"SRVMON_SCAN_INTERVAL" help:"Time between scans of each server"`
	MinScanInterval time.Duration `name:"min-scan-interval" default:"500ms" env:"SRVMON_MIN_SCAN_INTERVAL" help:"Minimum time between scans requested early"`
	RTTWeight       float64       `name:"rtt-weight" default:"0.2" env:"SRVMON_RTT_WEIGHT" help:"Weight of a new sample in the average round-trip time"`
	SocketTimeout   time.Duration `name:"socket-timeout" default:"5s" env:"SRVMON_SOCKET_TIMEOUT" help:"Timeout for one ping"`
	ConnectTimeout  time.Duration `name:"connect-timeout" default:"10s" env:"SRVMON_CONNECT_TIMEOUT" help:"Timeout for opening the monitoring connection"`

	Kind         string `name:"kind" enum:"tcp,ntp" default:"tcp" env:"SRVMON_KIND" help:"Ping protocol (${enum})"`
	IPVersion    string `name:"ip-version" enum:"any,4,6" default:"any" env:"SRVMON_IP_VERSION" help:"IP version used to reach servers (${enum})"`
	LocalAddress string `name:"local-address" env:"SRVMON_LOCAL_ADDRESS" help:"Source address for NTP queries"`
}

func (f *Flags) Options() config.Options {
	return config.Options{
		ScanInterval:    f.ScanInterval,
		MinScanInterval: f.MinScanInterval,
		RTTWeightFactor: f.RTTWeight,
		SocketTimeout:   f.SocketTimeout,
		ConnectTimeout:  f.ConnectTimeout,
	}
}

func (f *Flags) ConnectionConfig() connection.Config {
	ipVersion := f.IPVersion
	if ipVersion == "any" {
		ipVersion = ""
	}
	return connection.Config{
		ConnectTimeout: f.ConnectTimeout,
		SocketTimeout:  f.SocketTimeout,
		IPVersion:      ipVersion,
		LocalAddress:   f.LocalAddress,
	}
}

func (f *Flags) Dialer() serverset.Dialer {
	kind := connection.Kind(f.Kind)
	cfg := f.ConnectionConfig()
	return func(addr description.Address) (connection.Connection, error) {
		return connection.New(kind, addr, cfg)
	}
}

func (f *Flags) validate() (config.Options, error) {
	opts := f.Options()
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}
