package tcp

import (
	"context"
	"fmt"
	"net"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// DefaultPort is the port of the Meshtastic stream API on network-attached devices.
const DefaultPort = "4403"

// Dial connects to a device over TCP. host may include a port; DefaultPort is used otherwise.
// The connection speaks the same framed protocol as a serial port.
func Dial(ctx context.Context, host string, logger log.Logger) (*meshtastic.StreamTransport, error) {
	logger = log.OrNOOP(logger)
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, DefaultPort)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	logger.Info("Connected to device", "address", addr)
	return meshtastic.NewStreamTransport(conn, logger), nil
}
