package meshtastic

import (
	"context"
	"fmt"
	"math/rand/v2"

	pb "github.com/meshtastic/go/generated"
)

const (
	// DefaultHopLimit is the hop limit used when a Messenger has none configured.
	DefaultHopLimit = 3
	// MaxPayloadLen is the largest Data payload that fits into one mesh packet.
	MaxPayloadLen = 233
)

// Messenger builds outgoing mesh packets and hands them to a MeshTransport.
type Messenger struct {
	Transport MeshTransport
	// From is the sender written into packets. Zero lets an attached device fill in its own number.
	From NodeID
	// Channel is the channel index packets are sent on.
	Channel uint32
	// HopLimit limits how many times a packet is rebroadcast. Zero means DefaultHopLimit.
	HopLimit uint32
	// WantAck requests an acknowledgement from the destination.
	WantAck bool
}

// SendText sends a text message to the given node, or to everybody when to is BroadcastNum.
func (m *Messenger) SendText(ctx context.Context, text string, to NodeID) error {
	return m.SendPort(ctx, []byte(text), to, pb.PortNum_TEXT_MESSAGE_APP)
}

// SendData sends an opaque payload on the private application port.
func (m *Messenger) SendData(ctx context.Context, data []byte, to NodeID) error {
	return m.SendPort(ctx, data, to, pb.PortNum_PRIVATE_APP)
}

// SendPort sends payload on the given application port.
func (m *Messenger) SendPort(ctx context.Context, payload []byte, to NodeID, port pb.PortNum) error {
	if len(payload) > MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes, limit is %d", ErrPayloadTooBig, len(payload), MaxPayloadLen)
	}

	hopLimit := m.HopLimit
	if hopLimit == 0 {
		hopLimit = DefaultHopLimit
	}

	packet := &pb.MeshPacket{
		From:     uint32(m.From),
		To:       uint32(to),
		Channel:  m.Channel,
		Id:       NewPacketID(),
		HopLimit: hopLimit,
		HopStart: hopLimit,
		WantAck:  m.WantAck,
		PayloadVariant: &pb.MeshPacket_Decoded{
			Decoded: &pb.Data{
				Portnum: port,
				Payload: payload,
			},
		},
	}

	if err := m.Transport.SendToMesh(ctx, packet); err != nil {
		return fmt.Errorf("failed to send packet to %s: %w", to, err)
	}
	return nil
}

// NewPacketID returns a random, non-zero packet id.
func NewPacketID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}
