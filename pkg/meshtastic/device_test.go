package meshtastic

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	pb "github.com/meshtastic/go/generated"
)

// fakeRadio answers a configuration request with a canned node database.
type fakeRadio struct {
	sent    []*pb.ToRadio
	pending []*pb.FromRadio
	woken   bool
	closed  bool
}

func (r *fakeRadio) Wake(context.Context) error {
	r.woken = true
	return nil
}

func (r *fakeRadio) SendToRadio(_ context.Context, packet *pb.ToRadio) error {
	r.sent = append(r.sent, packet)
	if id := packet.GetWantConfigId(); id != 0 {
		r.pending = append(r.pending,
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_Packet{Packet: &pb.MeshPacket{Id: 1}}},
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_MyInfo{MyInfo: &pb.MyNodeInfo{MyNodeNum: 42}}},
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_NodeInfo{NodeInfo: &pb.NodeInfo{Num: 42, User: &pb.User{ShortName: "ME"}}}},
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_NodeInfo{NodeInfo: &pb.NodeInfo{Num: 43}}},
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_ConfigCompleteId{ConfigCompleteId: id + 1}},
			&pb.FromRadio{PayloadVariant: &pb.FromRadio_ConfigCompleteId{ConfigCompleteId: id}},
		)
	}
	return nil
}

func (r *fakeRadio) ReceiveFromRadio(context.Context) (*pb.FromRadio, error) {
	if len(r.pending) == 0 {
		return nil, errors.New("no more frames")
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	return p, nil
}

func (r *fakeRadio) Close() error {
	r.closed = true
	return nil
}

func TestNewConfiguredDevice(t *testing.T) {
	radio := &fakeRadio{}
	dev, err := NewConfiguredDevice(context.Background(), radio)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !radio.woken {
		t.Fatalf("device was not woken")
	}
	if dev.NodeNum() != 42 {
		t.Fatalf("unexpected node num %d", dev.NodeNum())
	}
	if len(dev.State.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(dev.State.Nodes))
	}
	me, ok := dev.State.CurrentNodeInfo()
	if !ok || me.GetUser().GetShortName() != "ME" {
		t.Fatalf("current node not found")
	}
	if _, ok := dev.State.FindNode(43); !ok {
		t.Fatalf("node 43 not found")
	}

	packet, err := dev.ReceiveFromMesh(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if packet.Id != 1 || len(dev.State.Backlog) != 0 {
		t.Fatalf("packet received during handshake must be delivered first, got id %d", packet.Id)
	}
}

func TestNewConfiguredDeviceHonoursCancel(t *testing.T) {
	client, peer := net.Pipe()
	defer peer.Close()
	// The peer swallows the wake burst and the config request but never answers.
	go func() { _, _ = io.Copy(io.Discard, peer) }()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		_, err := NewConfiguredDevice(ctx, NewStreamTransport(client, nil))
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("handshake ignored cancellation")
	}

	if _, err := client.Write([]byte{0}); err == nil {
		t.Fatalf("transport left open after cancelled handshake")
	}
}

func TestNewConfiguredDeviceKeepsTransportOpen(t *testing.T) {
	radio := &fakeRadio{}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := NewConfiguredDevice(ctx, radio); err != nil {
		t.Fatalf("connect: %v", err)
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	if radio.closed {
		t.Fatalf("transport closed after a completed handshake")
	}
}

func TestDeviceSendReceive(t *testing.T) {
	radio := &fakeRadio{pending: []*pb.FromRadio{
		{PayloadVariant: &pb.FromRadio_Rebooted{Rebooted: true}},
		{PayloadVariant: &pb.FromRadio_Packet{Packet: &pb.MeshPacket{Id: 9}}},
	}}
	dev := &Device{Transport: radio}

	packet, err := dev.ReceiveFromMesh(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if packet.Id != 9 {
		t.Fatalf("non-packet frames must be skipped, got id %d", packet.Id)
	}

	if err := dev.SendToMesh(context.Background(), &pb.MeshPacket{Id: 10}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if radio.sent[0].GetPacket().GetId() != 10 {
		t.Fatalf("packet not wrapped into ToRadio")
	}

	if err := dev.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := radio.sent[1].PayloadVariant.(*pb.ToRadio_Disconnect); !ok || !radio.closed {
		t.Fatalf("close must send disconnect and close the transport")
	}
}
