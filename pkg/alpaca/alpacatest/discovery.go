package alpacatest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
)

// DiscoveryResponder answers Alpaca discovery probes on a loopback port.
type DiscoveryResponder struct {
	conn           *net.UDPConn
	alpacaResponse string
	logger         log.FieldLogger
}

// NewDiscoveryResponder binds addr (use "127.0.0.1:0" for an ephemeral
// port) and announces alpacaPort to every probe.
func NewDiscoveryResponder(addr string, alpacaPort int) (*DiscoveryResponder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve device address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("cannot bind receive socket: %w", err)
	}
	return &DiscoveryResponder{
		conn:           conn,
		alpacaResponse: fmt.Sprintf(`{"AlpacaPort": %d}`, alpacaPort),
		logger:         log.StandardLogger().WithField("component", "discovery-responder"),
	}, nil
}

func (d *DiscoveryResponder) Addr() string { return d.conn.LocalAddr().String() }

// Run answers probes until ctx is done.
func (d *DiscoveryResponder) Run(ctx context.Context) error {
	defer d.conn.Close()
	buf := make([]byte, 1024)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Periodic deadline to check for context cancellation.
		d.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, addr, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			d.logger.Debugf("Error reading from socket: %v", err)
			continue
		}

		data := string(buf[:n])
		d.logger.Debugf("Received %s from %s", data, addr)
		if strings.Contains(data, alpaca.DiscoveryMessage) {
			if _, err := d.conn.WriteToUDP([]byte(d.alpacaResponse), addr); err != nil {
				d.logger.Errorf("Error writing to socket: %v", err)
			}
		}
	}
}
