package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DiscoveryPort    = 32227
	DiscoveryMessage = "alpacadiscovery1"
)

// DiscoveryResponse is the announcement sent back by an Alpaca server.
type DiscoveryResponse struct {
	AlpacaPort int `json:"AlpacaPort"`
}

type discoverConfig struct {
	targets []string
	logger  log.FieldLogger
}

type DiscoverOption func(*discoverConfig)

// WithDiscoveryTarget sends the probe to addr instead of the IPv4
// broadcast address. It may be given several times.
func WithDiscoveryTarget(addr string) DiscoverOption {
	return func(c *discoverConfig) { c.targets = append(c.targets, addr) }
}

func WithDiscoveryLogger(l log.FieldLogger) DiscoverOption {
	return func(c *discoverConfig) { c.logger = l }
}

// Discover broadcasts a discovery probe and collects announcements until
// timeout elapses or ctx is done. Servers are returned as "host:port" in
// order of arrival, without duplicates.
func Discover(ctx context.Context, timeout time.Duration, opts ...DiscoverOption) ([]string, error) {
	cfg := discoverConfig{logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.targets) == 0 {
		cfg.targets = []string{net.JoinHostPort(net.IPv4bcast.String(), strconv.Itoa(DiscoveryPort))}
	}
	logger := cfg.logger.WithField("component", "discovery")

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sent := 0
	for _, target := range cfg.targets {
		addr, err := net.ResolveUDPAddr("udp4", target)
		if err != nil {
			logger.Warnf("Cannot resolve discovery target %s: %v", target, err)
			continue
		}
		if _, err := conn.WriteToUDP([]byte(DiscoveryMessage), addr); err != nil {
			logger.Warnf("Cannot send discovery probe to %s: %v", target, err)
			continue
		}
		sent++
	}

	servers := []string{}
	if sent == 0 {
		return servers, nil
	}

	seen := make(map[string]bool)
	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() || ctx.Err() != nil {
				break
			}
			return servers, err
		}

		var announce DiscoveryResponse
		if err := json.Unmarshal(buf[:n], &announce); err != nil || announce.AlpacaPort <= 0 {
			logger.Debugf("Ignoring %q from %s", buf[:n], addr)
			continue
		}
		server := net.JoinHostPort(addr.IP.String(), strconv.Itoa(announce.AlpacaPort))
		if seen[server] {
			continue
		}
		seen[server] = true
		servers = append(servers, server)
		logger.Infof("Found Alpaca server at %s", server)
	}
	return servers, nil
}
