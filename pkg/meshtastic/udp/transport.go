package udp

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// DefaultPort is the port of the mesh multicast group.
const DefaultPort = 4403

// MulticastGroup is the group devices with UDP meshing enabled publish packets to.
var MulticastGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 69), Port: DefaultPort}

var _ meshtastic.MeshTransport = &Transport{}

// Transport represents a transport mechanism over UDP multicast for exchanging mesh packets
// with devices on the local network.
type Transport struct {
	// Key encrypts outgoing and decrypts incoming packets. Nil sends packets in clear.
	Key cipher.Block
	// From is the node packets are sent as. Packets from this node are not delivered back.
	From   meshtastic.NodeID
	Logger log.Logger

	conn  *net.UDPConn
	group *net.UDPAddr
}

// NewTransport joins the multicast group on the interface that routes to host.
// An empty host lets the system choose the interface.
func NewTransport(host string, logger log.Logger) (*Transport, error) {
	logger = log.OrNOOP(logger)

	var intf *net.Interface
	if host != "" {
		var err error
		intf, err = routeInterface(host)
		if err != nil {
			return nil, err
		}
		logger.Info("Found device interface", "interface", intf.Name)
	}

	conn, err := net.ListenMulticastUDP("udp4", intf, MulticastGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to join multicast group: %w", err)
	}

	return NewConnTransport(conn, MulticastGroup, logger), nil
}

// NewConnTransport uses an already bound connection, sending packets to group.
func NewConnTransport(conn *net.UDPConn, group *net.UDPAddr, logger log.Logger) *Transport {
	return &Transport{conn: conn, group: group, Logger: log.OrNOOP(logger)}
}

// routeInterface detects which interface routes to the Meshtastic device.
func routeInterface(host string) (*net.Interface, error) {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, fmt.Sprint(DefaultPort)))
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	laddr := conn.LocalAddr().(*net.UDPAddr).IP
	if err = conn.Close(); err != nil {
		return nil, err
	}

	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range intfs {
		addrs, err := intfs[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && laddr.Equal(ipNet.IP) {
				return &intfs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("could not find interface for local address %s", laddr)
}

// SendToMesh encrypts the packet when a key is configured and writes it to the group.
func (t *Transport) SendToMesh(ctx context.Context, packet *pb.MeshPacket) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if packet.From == 0 {
		p := protobuf.Clone(packet).(*pb.MeshPacket)
		p.From = uint32(t.From)
		packet = p
	}
	if t.Key != nil {
		encrypted, err := meshtastic.EncryptPSK(packet, t.Key)
		if err != nil {
			return err
		}
		packet = encrypted
	}

	buf, err := protobuf.Marshal(packet)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	_, err = t.conn.WriteToUDP(buf, t.group)
	return err
}

// ReceiveFromMesh reads the next datagram. Cancelling ctx interrupts a blocked read.
func (t *Transport) ReceiveFromMesh(ctx context.Context) (*pb.MeshPacket, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1500)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, os.ErrDeadlineExceeded) {
				_ = t.conn.SetReadDeadline(time.Time{})
				return nil, ctxErr
			}
			return nil, err
		}

		packet := new(pb.MeshPacket)
		if err = protobuf.Unmarshal(buf[:n], packet); err != nil {
			t.Logger.Debug("Dropping malformed datagram", "from", addr, "error", err)
			return nil, meshtastic.ErrInvalidPacketFormat
		}
		if t.From != 0 && packet.From == uint32(t.From) {
			continue
		}

		t.Logger.Debug("Received UDP packet",
			"from", addr,
			"meshID", fmt.Sprintf("%08x", packet.Id),
			"meshFrom", meshtastic.NodeID(packet.From),
			"meshTo", meshtastic.NodeID(packet.To),
			"meshChannel", packet.Channel,
		)
		return meshtastic.DecodePacket(packet, t.Key), nil
	}
}

func (t *Transport) Close() error {
	return t.conn.Close()
}
