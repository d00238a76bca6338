package mqtt

import (
	"context"
	"errors"
	"io"
	"testing"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/pkg/meshtastic"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func envelopeMessage(t *testing.T, env *pb.ServiceEnvelope) fakeMessage {
	t.Helper()
	buf, err := protobuf.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return fakeMessage{topic: "msh/2/e/LongFast/" + env.GatewayId, payload: buf}
}

func TestReceiveFromMeshDecryptsAndSkipsOwnPackets(t *testing.T) {
	key, err := meshtastic.DecodeCipherKeyBase64("AQ==")
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	mt := &Transport{RootTopic: "msh", ChannelName: "LongFast", GatewayID: 0x11, Key: key}
	mt.messagesCh = make(chan mqtt.Message, 4)

	plain := &pb.MeshPacket{From: 42, Id: 5, PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP, Payload: []byte("hi"),
	}}}
	encrypted, err := meshtastic.EncryptPSK(plain, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	mt.handleMessage(nil, envelopeMessage(t, &pb.ServiceEnvelope{Packet: plain, ChannelId: "LongFast", GatewayId: mt.GatewayID.String()}))
	mt.handleMessage(nil, fakeMessage{payload: []byte{0x0a, 0xff}})
	mt.handleMessage(nil, envelopeMessage(t, &pb.ServiceEnvelope{Packet: encrypted, ChannelId: "LongFast", GatewayId: "!0000002a"}))

	ctx := context.Background()
	if _, err := mt.ReceiveFromMesh(ctx); !errors.Is(err, meshtastic.ErrInvalidPacketFormat) {
		t.Fatalf("expected ErrInvalidPacketFormat, got %v", err)
	}
	packet, err := mt.ReceiveFromMesh(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(packet.GetDecoded().GetPayload()) != "hi" {
		t.Fatalf("packet not decrypted: %v", packet)
	}

	mt.Disconnect()
	if _, err := mt.ReceiveFromMesh(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after disconnect, got %v", err)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	mt := &Transport{RootTopic: "msh", ChannelName: "LongFast"}
	if err := mt.SendToMesh(context.Background(), &pb.MeshPacket{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if _, err := mt.ReceiveFromMesh(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestTopic(t *testing.T) {
	mt := &Transport{RootTopic: "msh/EU_868", ChannelName: "LongFast", GatewayID: 0xdeadbeef}
	if got := mt.Topic(); got != "msh/EU_868/2/e/LongFast/!deadbeef" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestTopicDefaultsToPresetChannel(t *testing.T) {
	mt := &Transport{RootTopic: "msh", GatewayID: 42}
	if got := mt.Topic(); got != "msh/2/e/LongFast/!0000002a" {
		t.Fatalf("unexpected topic %q", got)
	}
}
