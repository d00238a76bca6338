package meshcat

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

const notAvailable = "N/A"

var (
	// ErrMissingField is returned when a decoded packet lacks a field its port requires.
	ErrMissingField = errors.New("missing packet field")
	// ErrInvalidText is returned when a text message payload is not valid UTF-8.
	ErrInvalidText = errors.New("text payload is not valid UTF-8")
)

var _ meshtastic.PacketSubscriber = &Filter{}

// Filter prints packets received from the mesh. Text messages and dumps of unknown
// packets go to Out, node and position reports to Diag.
type Filter struct {
	Out  io.Writer
	Diag io.Writer
	// Remote limits output to packets sent by this node. Zero accepts every sender.
	Remote meshtastic.NodeID
	Logger log.Logger
}

// OnPacket handles packet, logging instead of returning any error.
func (f *Filter) OnPacket(packet *pb.MeshPacket) {
	if err := f.Handle(packet); err != nil {
		log.OrNOOP(f.Logger).Error("Error processing packet", "error", err, "id", packet.GetId())
	}
}

// Handle prints packet according to its port.
func (f *Filter) Handle(packet *pb.MeshPacket) error {
	from := meshtastic.NodeID(packet.GetFrom())
	if f.Remote != 0 && from != f.Remote {
		return nil
	}

	data := packet.GetDecoded()
	if data == nil {
		return nil
	}

	switch data.GetPortnum() {
	case pb.PortNum_NODEINFO_APP:
		return f.nodeInfo(data)
	case pb.PortNum_POSITION_APP:
		return f.position(packet, data)
	case pb.PortNum_ROUTING_APP, pb.PortNum_TELEMETRY_APP:
		return nil
	case pb.PortNum_TEXT_MESSAGE_APP:
		return f.text(data)
	default:
		_, err := fmt.Fprintf(f.Out, "\nDecoded packet: %s\n\n", packet.String())
		return err
	}
}

func (f *Filter) nodeInfo(data *pb.Data) error {
	user := new(pb.User)
	if err := protobuf.Unmarshal(data.GetPayload(), user); err != nil {
		return fmt.Errorf("%w: user: %v", ErrMissingField, err)
	}

	hw := notAvailable
	if user.GetHwModel() != 0 {
		hw = user.GetHwModel().String()
	}

	_, err := fmt.Fprintf(f.Diag, "__nodeinfo: %s/%s/%s/%s\n",
		orNotAvailable(user.GetLongName()),
		orNotAvailable(user.GetShortName()),
		orNotAvailable(FormatMAC(user.GetMacaddr())),
		hw,
	)
	return err
}

func (f *Filter) position(packet *pb.MeshPacket, data *pb.Data) error {
	pos := new(pb.Position)
	if err := protobuf.Unmarshal(data.GetPayload(), pos); err != nil {
		return fmt.Errorf("%w: position: %v", ErrMissingField, err)
	}

	id := notAvailable
	if packet.GetId() != 0 {
		id = strconv.FormatUint(uint64(packet.GetId()), 10)
	}

	_, err := fmt.Fprintf(f.Diag, "__position: %s: %s, %s\n", id, FormatDegrees(pos.LatitudeI), FormatDegrees(pos.LongitudeI))
	return err
}

func (f *Filter) text(data *pb.Data) error {
	payload := data.GetPayload()
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload", ErrMissingField)
	}
	if !utf8.Valid(payload) {
		return ErrInvalidText
	}
	_, err := fmt.Fprintf(f.Out, "%s\n", payload)
	return err
}

// FormatDegrees converts a coordinate in 1e-7 degree units to decimal degrees.
// A nil coordinate is shown as N/A.
func FormatDegrees(v *int32) string {
	if v == nil {
		return notAvailable
	}
	return strconv.FormatFloat(float64(*v)/1e7, 'f', -1, 64)
}

// FormatMAC formats a hardware address as lower-case hex bytes separated by colons.
func FormatMAC(mac []byte) string {
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
