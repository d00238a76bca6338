package meshtastic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/meshtastic/go/generated"
)

func TestMessengerSendText(t *testing.T) {
	mesh := &scriptedMesh{}
	m := &Messenger{Transport: mesh, Channel: 1}

	if err := m.SendText(context.Background(), "hello", BroadcastNum); err != nil {
		t.Fatalf("send: %v", err)
	}
	p := mesh.sent[0]
	if p.To != uint32(BroadcastNum) || p.Channel != 1 || p.HopLimit != DefaultHopLimit || p.Id == 0 {
		t.Fatalf("unexpected packet header %+v", p)
	}
	if p.GetDecoded().GetPortnum() != pb.PortNum_TEXT_MESSAGE_APP || string(p.GetDecoded().GetPayload()) != "hello" {
		t.Fatalf("unexpected payload %v", p.GetDecoded())
	}
}

func TestMessengerSendData(t *testing.T) {
	mesh := &scriptedMesh{}
	m := &Messenger{Transport: mesh, HopLimit: 5, From: 7}

	if err := m.SendData(context.Background(), []byte{0, 1, 2}, 42); err != nil {
		t.Fatalf("send: %v", err)
	}
	p := mesh.sent[0]
	if p.To != 42 || p.From != 7 || p.HopLimit != 5 {
		t.Fatalf("unexpected packet header %+v", p)
	}
	if p.GetDecoded().GetPortnum() != pb.PortNum_PRIVATE_APP {
		t.Fatalf("raw data must use PRIVATE_APP, got %v", p.GetDecoded().GetPortnum())
	}
}

func TestMessengerPayloadLimit(t *testing.T) {
	mesh := &scriptedMesh{}
	m := &Messenger{Transport: mesh}

	err := m.SendData(context.Background(), make([]byte, MaxPayloadLen+1), BroadcastNum)
	if !errors.Is(err, ErrPayloadTooBig) {
		t.Fatalf("expected ErrPayloadTooBig, got %v", err)
	}
	if len(mesh.sent) != 0 {
		t.Fatalf("oversized payload must not be sent")
	}
}
