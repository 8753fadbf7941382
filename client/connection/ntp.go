package connection

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"
	"unicode/utf8"

	"github.com/beevik/ntp"
	"go4.org/netipx"

	"go.ntppool.org/srvmon/client/description"
)

// NTP pings an NTP server with a single client mode query. There is no
// persistent socket, so Close is a no-op.
type NTP struct {
	addr description.Address
	cfg  Config

	query func(host string, opts ntp.QueryOptions) (*ntp.Response, error)
}

func NewNTP(addr description.Address, cfg Config) *NTP {
	return &NTP{addr: addr, cfg: cfg, query: ntp.QueryWithOptions}
}

func (c *NTP) Address() description.Address {
	return c.addr
}

func (c *NTP) Close() error {
	return nil
}

type ntpResult struct {
	resp *ntp.Response
	err  error
}

func (c *NTP) Ping(ctx context.Context) error {
	host, err := c.resolve(ctx)
	if err != nil {
		return &ProbeError{Address: c.addr, Op: "resolve", Err: err}
	}

	opts := ntp.QueryOptions{
		Timeout:      c.cfg.SocketTimeout,
		LocalAddress: c.cfg.LocalAddress,
	}
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); opts.Timeout <= 0 || until < opts.Timeout {
			opts.Timeout = until
		}
	}

	// the ntp library doesn't take a context; the query is bounded by
	// the timeout so the goroutine always finishes.
	ch := make(chan ntpResult, 1)
	go func() {
		resp, err := c.query(host, opts)
		ch <- ntpResult{resp, err}
	}()

	select {
	case <-ctx.Done():
		return &ProbeError{Address: c.addr, Op: "ntp", Err: ctx.Err()}
	case r := <-ch:
		if r.err != nil {
			return &ProbeError{Address: c.addr, Op: "ntp", Err: r.err}
		}
		if err := checkResponse(r.resp); err != nil {
			return &ProbeError{Address: c.addr, Op: "ntp", Err: err}
		}
		return nil
	}
}

// resolve returns the address to query, picking an IP of the configured
// version when the address is a host name.
func (c *NTP) resolve(ctx context.Context) (string, error) {
	host, port, err := net.SplitHostPort(c.addr.String())
	if err != nil {
		host, port = c.addr.String(), ""
	}

	if _, err := netip.ParseAddr(host); err == nil || len(c.cfg.IPVersion) == 0 {
		return c.addr.String(), nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return "", err
	}

	for _, dnsIP := range ips {
		ip, ok := netipx.FromStdIP(dnsIP)
		if !ok {
			continue
		}
		if (ip.Is4() && c.cfg.IPVersion == "4") || (ip.Is6() && c.cfg.IPVersion == "6") {
			if len(port) > 0 {
				return net.JoinHostPort(ip.String(), port), nil
			}
			return ip.String(), nil
		}
	}

	return "", fmt.Errorf("no IPv%s address for %s", c.cfg.IPVersion, host)
}

func checkResponse(resp *ntp.Response) error {
	if resp.Stratum == 0 || resp.Stratum == 16 {
		if len(resp.KissCode) > 0 {
			return fmt.Errorf("kiss code %s", resp.KissCode)
		}

		refText := fmt.Sprintf("%#x", resp.ReferenceID)
		refIDStr := referenceIDString(resp.ReferenceID)
		if utf8.ValidString(refIDStr) {
			refText = refText + ", " + refIDStr
		}
		return fmt.Errorf("bad stratum %d (referenceID: %s)", resp.Stratum, refText)
	}
	return nil
}

func referenceIDString(refid uint32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, refid)
	return string(b)
}
