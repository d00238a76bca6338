package meshcat

import (
	"context"

	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// Interface sends payloads to the mesh. *meshtastic.Messenger implements it.
type Interface interface {
	SendText(ctx context.Context, text string, to meshtastic.NodeID) error
	SendData(ctx context.Context, data []byte, to meshtastic.NodeID) error
}

var _ Interface = &meshtastic.Messenger{}

// SendMessage sends a line of text to remote, or broadcasts it when remote is zero.
func SendMessage(ctx context.Context, iface Interface, line string, remote meshtastic.NodeID) error {
	return iface.SendText(ctx, line, destination(remote))
}

// SendData sends a chunk of raw bytes to remote, or broadcasts it when remote is zero.
func SendData(ctx context.Context, iface Interface, raw []byte, remote meshtastic.NodeID) error {
	return iface.SendData(ctx, raw, destination(remote))
}

func destination(remote meshtastic.NodeID) meshtastic.NodeID {
	if remote == 0 {
		return meshtastic.BroadcastNum
	}
	return remote
}

// ParseRemote parses the --remote option. An empty value means no remote node.
func ParseRemote(s string) (meshtastic.NodeID, error) {
	if s == "" {
		return 0, nil
	}
	return meshtastic.ParseNodeID(s)
}
