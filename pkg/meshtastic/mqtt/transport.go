package mqtt

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

var _ meshtastic.MeshTransport = &Transport{}

// ErrNotConnected is returned when attempting to perform an operation on a client that is not connected to the broker.
var ErrNotConnected = errors.New("client is not connected to broker")

// Transport is an MQTT-based transport for Meshtastic communication.
type Transport struct {
	// BrokerURL is the URL of the MQTT broker to connect to.
	BrokerURL string
	// Username is the username for MQTT authentication.
	Username string
	// Password is the password for MQTT authentication.
	Password string
	// AppName is a unique identifier for the application, used in the MQTT client ID.
	AppName string
	// RootTopic is the base topic for all messages, e.g. "msh/EU_868".
	RootTopic string
	// ChannelName is the channel id used in topics and envelopes. Empty means the
	// default preset channel.
	ChannelName string
	// GatewayID is the node packets are published as. Envelopes published by this
	// gateway are not delivered back.
	GatewayID meshtastic.NodeID
	// Key encrypts outgoing and decrypts incoming packets. Nil sends packets in clear.
	Key cipher.Block
	// Logger receives connection events.
	Logger log.Logger

	client     mqtt.Client
	messagesCh chan mqtt.Message
	closeOnce  sync.Once
}

// Topic returns the topic envelopes of this gateway are published to.
func (mt *Transport) Topic() string {
	return fmt.Sprintf("%s/2/e/%s/%s", mt.RootTopic, mt.channel(), mt.GatewayID)
}

func (mt *Transport) subscription() string {
	return fmt.Sprintf("%s/2/e/%s/+", mt.RootTopic, mt.channel())
}

func (mt *Transport) channel() string {
	return meshtastic.ChannelName(mt.ChannelName, meshtastic.DefaultPreset)
}

// SendEnvelope sends an envelope to MQTT.
func (mt *Transport) SendEnvelope(ctx context.Context, envelope *pb.ServiceEnvelope) error {
	if mt.client == nil || !mt.client.IsConnected() {
		return ErrNotConnected
	}

	msgData, err := protobuf.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	topic := fmt.Sprintf("%s/2/e/%s/%s", mt.RootTopic, envelope.GetChannelId(), envelope.GetGatewayId())
	return wait(ctx, mt.client.Publish(topic, 0, false, msgData))
}

// SendToMesh publishes a mesh packet, encrypting it when a key is configured.
func (mt *Transport) SendToMesh(ctx context.Context, packet *pb.MeshPacket) error {
	if packet.From == 0 {
		p := protobuf.Clone(packet).(*pb.MeshPacket)
		p.From = uint32(mt.GatewayID)
		packet = p
	}
	if mt.Key != nil {
		encrypted, err := meshtastic.EncryptPSK(packet, mt.Key)
		if err != nil {
			return err
		}
		packet = encrypted
	}

	return mt.SendEnvelope(ctx, &pb.ServiceEnvelope{
		Packet:    packet,
		ChannelId: mt.channel(),
		GatewayId: mt.GatewayID.String(),
	})
}

// ReceiveEnvelope receives a envelope from MQTT.
func (mt *Transport) ReceiveEnvelope(ctx context.Context) (*pb.ServiceEnvelope, error) {
	if mt.messagesCh == nil {
		return nil, ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-mt.messagesCh:
		if !ok {
			return nil, io.EOF
		}

		envelope := new(pb.ServiceEnvelope)
		if err := protobuf.Unmarshal(msg.Payload(), envelope); err != nil {
			return nil, meshtastic.ErrInvalidPacketFormat
		}

		return envelope, nil
	}
}

// ReceiveFromMesh receives a mesh packet from the network via MQTT.
// Packets this gateway published itself are skipped.
func (mt *Transport) ReceiveFromMesh(ctx context.Context) (*pb.MeshPacket, error) {
	for {
		envelope, err := mt.ReceiveEnvelope(ctx)
		if err != nil {
			return nil, err
		}
		if envelope.GetGatewayId() == mt.GatewayID.String() || envelope.GetPacket() == nil {
			continue
		}
		return meshtastic.DecodePacket(envelope.GetPacket(), mt.Key), nil
	}
}

// Connect establishes an MQTT connection to the broker.
// It generates a random client ID, connects to the broker, and subscribes
// to the channel topic.
func (mt *Transport) Connect(ctx context.Context, buffer int) error {
	if mt.client != nil && mt.client.IsConnected() {
		return nil
	}

	randomId := make([]byte, 4)
	_, _ = rand.Read(randomId)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mt.BrokerURL)
	opts.SetUsername(mt.Username)
	opts.SetPassword(mt.Password)
	opts.SetClientID(fmt.Sprintf("%s-%x", mt.AppName, randomId))
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)

	mt.client = mqtt.NewClient(opts)

	if err := wait(ctx, mt.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect MQTT: %w", err)
	}

	mt.messagesCh = make(chan mqtt.Message, buffer)
	if err := wait(ctx, mt.client.Subscribe(mt.subscription(), 0, mt.handleMessage)); err != nil {
		mt.Disconnect()
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	log.OrNOOP(mt.Logger).Info("Connected to MQTT broker", "broker", mt.BrokerURL, "topic", mt.subscription())
	return nil
}

// Disconnect closes the MQTT connection and the message channel.
// It ensures that the client is disconnected and the channel is closed
// to prevent further message processing.
func (mt *Transport) Disconnect() {
	if mt.client != nil && mt.client.IsConnected() {
		mt.client.Disconnect(1000)
	}
	mt.closeOnce.Do(func() {
		if mt.messagesCh != nil {
			close(mt.messagesCh)
		}
	})
}

// Close implements io.Closer.
func (mt *Transport) Close() error {
	mt.Disconnect()
	return nil
}

func (mt *Transport) handleMessage(_ mqtt.Client, message mqtt.Message) {
	select {
	case mt.messagesCh <- message:
	default:
		log.OrNOOP(mt.Logger).Warn("Dropping MQTT message, receive buffer is full", "topic", message.Topic())
	}
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
