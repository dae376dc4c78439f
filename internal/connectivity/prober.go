package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leonardcser/api-relay/internal/logger"
)

// CheckFunc reports whether the network is usable right now.
type CheckFunc func(ctx context.Context) bool

// Prober periodically runs a CheckFunc and feeds the result into a Monitor.
// It stands in for a platform connectivity signal on hosts that have none.
type Prober struct {
	monitor *Monitor
	check   CheckFunc
	timeout time.Duration
	cron    *cron.Cron
}

func NewProber(m *Monitor, check CheckFunc, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{monitor: m, check: check, timeout: timeout}
}

// Probe runs the check once and records the outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	online := p.check(ctx)
	if online != p.monitor.IsConnected() {
		logger.Infof("connectivity changed: online=%t", online)
	}
	p.monitor.Set(online)
	return online
}

// Start probes immediately and then every interval until Stop.
func (p *Prober) Start(interval time.Duration) error {
	if p.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		p.Probe(context.Background())
	}); err != nil {
		return fmt.Errorf("connectivity: schedule probe: %w", err)
	}
	p.cron = c
	p.Probe(context.Background())
	c.Start()
	return nil
}

// Stop halts periodic probing and waits for a running probe to finish.
func (p *Prober) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
	p.cron = nil
}

// DialCheck returns a CheckFunc that succeeds when a TCP connection to the
// host of any of rawURLs can be opened. Hosts are tried in order.
func DialCheck(rawURLs ...string) (CheckFunc, error) {
	if len(rawURLs) == 0 {
		return nil, fmt.Errorf("connectivity: no url to check")
	}
	hosts := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		host, err := dialAddr(raw)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	return func(ctx context.Context) bool {
		var d net.Dialer
		for _, host := range hosts {
			conn, err := d.DialContext(ctx, "tcp", host)
			if err != nil {
				continue
			}
			_ = conn.Close()
			return true
		}
		return false
	}, nil
}

func dialAddr(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("connectivity: invalid url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("connectivity: url %q has no host", rawURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
