package meshtastic

import (
	"context"
	"errors"
	"fmt"
	"io"

	pb "github.com/meshtastic/go/generated"
)

var _ MeshTransport = &Device{}

// Device represents a device, encapsulating the transport used to communicate with the hardware.
type Device struct {
	Transport Transport
	// State is the configuration snapshot read while connecting. It is empty for devices
	// created without NewConfiguredDevice.
	State DeviceState
}

// waker is implemented by transports that need a wake-up sequence before the first request.
type waker interface {
	Wake(ctx context.Context) error
}

// NewConfiguredDevice wakes the device if its transport supports it and performs the
// configuration handshake. Devices only start forwarding mesh packets once a client has
// requested their configuration.
//
// Transport reads do not observe ctx, so a closable transport is closed when ctx is done
// before the handshake completes.
func NewConfiguredDevice(ctx context.Context, transport Transport) (*Device, error) {
	stop := func() bool { return true }
	if c, ok := transport.(io.Closer); ok {
		stop = context.AfterFunc(ctx, func() { _ = c.Close() })
	}

	d := &Device{Transport: transport}
	state, err := d.handshake(ctx)
	if !stop() {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	d.State = state
	return d, nil
}

func (d *Device) handshake(ctx context.Context) (DeviceState, error) {
	if w, ok := d.Transport.(waker); ok {
		if err := w.Wake(ctx); err != nil {
			return DeviceState{}, err
		}
	}
	return d.Config().GetState(ctx)
}

// NodeNum returns the number of the node the client is attached to, or 0 if unknown.
func (d *Device) NodeNum() NodeID {
	return NodeID(d.State.MyInfo.GetMyNodeNum())
}

// SendToMesh sends a mesh packet over the device's transport.
// It converts the provided MeshPacket into a ToRadio message with the appropriate payload variant.
func (d *Device) SendToMesh(ctx context.Context, packet *pb.MeshPacket) error {
	return d.Transport.SendToRadio(ctx, &pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Packet{
			Packet: packet,
		},
	})
}

// ReceiveFromMesh blocks until a mesh packet is received from the device's transport.
// Packets held in the state backlog are returned first. Frames other than mesh packets
// are ignored.
func (d *Device) ReceiveFromMesh(ctx context.Context) (*pb.MeshPacket, error) {
	if len(d.State.Backlog) > 0 {
		packet := d.State.Backlog[0]
		d.State.Backlog = d.State.Backlog[1:]
		return packet, nil
	}

	for {
		frame, err := d.Transport.ReceiveFromRadio(ctx)
		if err != nil {
			return nil, err
		}

		if packet := frame.GetPacket(); packet != nil {
			return packet, nil
		}
	}
}

// Config returns a configuration module for the device.
func (d *Device) Config() *DeviceModuleConfig {
	return &DeviceModuleConfig{transport: d.Transport}
}

// Close tells the device the client is leaving and closes the transport if it can be closed.
func (d *Device) Close(ctx context.Context) error {
	err := d.Transport.SendToRadio(ctx, &pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Disconnect{Disconnect: true},
	})
	if err != nil {
		err = fmt.Errorf("failed to send disconnect: %w", err)
	}

	if c, ok := d.Transport.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
