package meshtastic

import (
	"context"
	"fmt"
	"math/rand/v2"

	pb "github.com/meshtastic/go/generated"
)

// DeviceModuleConfig provides actions for device configuration.
type DeviceModuleConfig struct {
	transport Transport
}

// GetState sends a request for the current configuration to the radio and retrieves the state of the device.
// Mesh packets arriving before the configuration is complete are kept in the state backlog.
func (m *DeviceModuleConfig) GetState(ctx context.Context) (DeviceState, error) {
	configId := rand.Uint32()
	err := m.transport.SendToRadio(ctx, &pb.ToRadio{
		PayloadVariant: &pb.ToRadio_WantConfigId{
			WantConfigId: configId,
		},
	})
	if err != nil {
		return DeviceState{}, fmt.Errorf("failed to request configuration: %w", err)
	}

	var state DeviceState
	for {
		packet, err := m.transport.ReceiveFromRadio(ctx)
		if err != nil {
			return state, fmt.Errorf("failed to read response: %w", err)
		}

		switch payload := packet.PayloadVariant.(type) {
		case *pb.FromRadio_Packet:
			state.Backlog = append(state.Backlog, payload.Packet)
		case *pb.FromRadio_MyInfo:
			state.MyInfo = payload.MyInfo
		case *pb.FromRadio_NodeInfo:
			state.Nodes = append(state.Nodes, payload.NodeInfo)
		case *pb.FromRadio_Channel:
			state.Channels = append(state.Channels, payload.Channel)
		case *pb.FromRadio_Metadata:
			state.Device = payload.Metadata
		case *pb.FromRadio_ConfigCompleteId:
			if payload.ConfigCompleteId == configId {
				return state, nil
			}
		default:
			continue // unexpected payload. ignore it
		}
	}
}

// DeviceState is the configuration snapshot a device streams after want_config_id.
type DeviceState struct {
	MyInfo   *pb.MyNodeInfo
	Nodes    []*pb.NodeInfo
	Channels []*pb.Channel
	Device   *pb.DeviceMetadata
	// Backlog holds mesh packets received while the snapshot was streamed, oldest first.
	Backlog []*pb.MeshPacket
}

// CurrentNodeInfo returns the node info of the node the client is attached to.
func (s DeviceState) CurrentNodeInfo() (*pb.NodeInfo, bool) {
	if s.MyInfo == nil {
		return nil, false
	}
	return s.FindNode(NodeID(s.MyInfo.GetMyNodeNum()))
}

// FindNode looks a node up in the node database.
func (s DeviceState) FindNode(id NodeID) (*pb.NodeInfo, bool) {
	for _, node := range s.Nodes {
		if NodeID(node.GetNum()) == id {
			return node, true
		}
	}
	return nil, false
}
