package meshcat

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/exepirit/meshcat/internal/config"
	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
	"github.com/exepirit/meshcat/pkg/meshtastic/ble"
	"github.com/exepirit/meshcat/pkg/meshtastic/http"
	"github.com/exepirit/meshcat/pkg/meshtastic/mqtt"
	"github.com/exepirit/meshcat/pkg/meshtastic/serial"
	"github.com/exepirit/meshcat/pkg/meshtastic/tcp"
	"github.com/exepirit/meshcat/pkg/meshtastic/udp"
)

// ErrUnsupportedDevice is returned for device URLs with an unknown scheme.
var ErrUnsupportedDevice = errors.New("unsupported device URL")

const mqttReceiveBuffer = 64

// Connection is the single transport of a process.
type Connection struct {
	Mesh meshtastic.MeshTransport
	// Node is the local node number, zero when the transport has no node of its own.
	Node meshtastic.NodeID

	closer    func(ctx context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps mesh. closer may be nil.
func NewConnection(mesh meshtastic.MeshTransport, node meshtastic.NodeID, closer func(ctx context.Context) error) *Connection {
	return &Connection{Mesh: mesh, Node: node, closer: closer}
}

// Close releases the transport. It may be called on a nil Connection and only closes
// the transport once.
func (c *Connection) Close(ctx context.Context) error {
	if c == nil || c.closer == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.closer(ctx)
	})
	return c.closeErr
}

// Target describes the transport selected by the configuration.
type Target struct {
	Kind    string
	Address string
}

// Transport kinds.
const (
	KindSerial = "serial"
	KindTCP    = "tcp"
	KindBLE    = "ble"
	KindHTTP   = "http"
	KindMQTT   = "mqtt"
	KindUDP    = "udp"
)

// SelectTarget picks the transport: wifi, then bluetooth, then the device URL, then
// an auto-detected serial port.
func SelectTarget(cfg *config.Config) (Target, error) {
	switch {
	case cfg.Wifi != "":
		return Target{Kind: KindTCP, Address: cfg.Wifi}, nil
	case cfg.Bluetooth != "":
		return Target{Kind: KindBLE, Address: cfg.Bluetooth}, nil
	case cfg.Device != "":
		return ParseDeviceURL(cfg.Device)
	default:
		return Target{Kind: KindSerial}, nil
	}
}

// ParseDeviceURL parses device URLs such as serial:/dev/ttyUSB0, tcp://host:4403,
// http://host, mqtt://broker:1883, udp://host and ble:AA:BB:CC:DD:EE:FF.
func ParseDeviceURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w %q: %v", ErrUnsupportedDevice, raw, err)
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case KindSerial, KindBLE:
		addr := u.Opaque
		if addr == "" {
			addr = u.Path
		}
		return Target{Kind: scheme, Address: addr}, nil
	case KindTCP:
		return Target{Kind: scheme, Address: u.Host}, nil
	case KindUDP:
		return Target{Kind: scheme, Address: u.Hostname()}, nil
	case "http", "https":
		return Target{Kind: KindHTTP, Address: u.String()}, nil
	case KindMQTT, "mqtts":
		broker := *u
		broker.Scheme = "tcp"
		if scheme == "mqtts" {
			broker.Scheme = "ssl"
		}
		broker.User = nil
		return Target{Kind: KindMQTT, Address: broker.String()}, nil
	default:
		return Target{}, fmt.Errorf("%w %q", ErrUnsupportedDevice, raw)
	}
}

// Connect opens the transport selected by cfg. Hardware transports complete the
// configuration handshake before Connect returns.
func Connect(ctx context.Context, cfg *config.Config, logger log.Logger) (*Connection, error) {
	logger = log.OrNOOP(logger)
	target, err := SelectTarget(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Selected transport", "kind", target.Kind, "address", target.Address)

	var hw meshtastic.HardwareTransport
	switch target.Kind {
	case KindSerial:
		hw, err = serial.NewTransport(target.Address, logger)
	case KindTCP:
		hw, err = tcp.Dial(ctx, target.Address, logger)
	case KindBLE:
		hw, err = ble.Connect(ctx, target.Address, logger)
	case KindHTTP:
		hw = &http.Transport{URL: target.Address}
	case KindMQTT:
		return connectMQTT(ctx, cfg, target, logger)
	case KindUDP:
		return connectUDP(cfg, target, logger)
	}
	if err != nil {
		return nil, err
	}

	device, err := meshtastic.NewConfiguredDevice(ctx, hw)
	if err != nil {
		if c, ok := hw.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("failed to configure device: %w", err)
	}
	logger.Info("Connected to device", "node", device.NodeNum(), "nodes", len(device.State.Nodes))

	return NewConnection(device, device.NodeNum(), device.Close), nil
}

func connectMQTT(ctx context.Context, cfg *config.Config, target Target, logger log.Logger) (*Connection, error) {
	key, node, err := meshIdentity(cfg)
	if err != nil {
		return nil, err
	}

	t := &mqtt.Transport{
		BrokerURL:   target.Address,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		AppName:     "meshcat",
		RootTopic:   cfg.MQTT.RootTopic,
		ChannelName: cfg.MQTT.ChannelName,
		GatewayID:   node,
		Key:         key,
		Logger:      logger,
	}
	if err := t.Connect(ctx, mqttReceiveBuffer); err != nil {
		return nil, err
	}
	return NewConnection(t, node, func(context.Context) error { return t.Close() }), nil
}

func connectUDP(cfg *config.Config, target Target, logger log.Logger) (*Connection, error) {
	key, node, err := meshIdentity(cfg)
	if err != nil {
		return nil, err
	}

	t, err := udp.NewTransport(target.Address, logger)
	if err != nil {
		return nil, err
	}
	t.Key, t.From = key, node
	return NewConnection(t, node, func(context.Context) error { return t.Close() }), nil
}

// meshIdentity returns the channel key and the node packets are sent as on transports
// without an attached device. An empty node id picks a random one.
func meshIdentity(cfg *config.Config) (cipher.Block, meshtastic.NodeID, error) {
	key, err := meshtastic.DecodeCipherKeyBase64(cfg.PSK)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid psk: %w", err)
	}
	if cfg.MQTT.Node == "" {
		return key, meshtastic.NodeID(meshtastic.NewPacketID()), nil
	}
	node, err := meshtastic.ParseNodeID(cfg.MQTT.Node)
	if err != nil {
		return nil, 0, err
	}
	return key, node, nil
}
