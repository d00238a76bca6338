package meshtastic

import (
	"context"
	"errors"
	"io"
	"sync"

	pb "github.com/meshtastic/go/generated"

	"github.com/exepirit/meshcat/internal/log"
)

// PacketPublisher implements part of the pubsub pattern allowing other parts of the system to subscribe and receive
// packets.
type PacketPublisher interface {
	Publish(packet *pb.MeshPacket)
}

// PacketSubscriber handles packets received from a publisher.
type PacketSubscriber interface {
	OnPacket(packet *pb.MeshPacket)
}

// PacketSubscriberFunc adapts an ordinary function to PacketSubscriber.
type PacketSubscriberFunc func(packet *pb.MeshPacket)

func (f PacketSubscriberFunc) OnPacket(packet *pb.MeshPacket) {
	f(packet)
}

// FanOutPacketPublisher delivers every packet to all subscribers. Publish returns once every
// subscriber has handled the packet, so packets reach each subscriber in arrival order.
type FanOutPacketPublisher struct {
	Subscribers []PacketSubscriber
	Logger      log.Logger
}

func (pub *FanOutPacketPublisher) Subscribe(subscriber PacketSubscriber) {
	pub.Subscribers = append(pub.Subscribers, subscriber)
}

func (pub *FanOutPacketPublisher) Publish(packet *pb.MeshPacket) {
	wg := sync.WaitGroup{}
	wg.Add(len(pub.Subscribers))
	for _, sub := range pub.Subscribers {
		go func() {
			defer wg.Done()
			sub.OnPacket(packet)
		}()
	}
	wg.Wait()
}

// PublishAll pumps packets from transport to the subscribers until ctx is done or the
// transport reaches end of stream. Malformed packets are logged and skipped; any other
// receive error is returned.
func (pub *FanOutPacketPublisher) PublishAll(ctx context.Context, transport MeshTransport) error {
	logger := log.OrNOOP(pub.Logger)
	for {
		packet, err := transport.ReceiveFromMesh(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrInvalidPacketFormat):
			logger.Warn("Cannot read next packet from stream", "error", err)
			continue
		case errors.Is(err, io.EOF):
			logger.Info("Device closed the connection")
			return nil
		case err != nil:
			return err
		case packet == nil:
			continue
		}
		pub.Publish(packet)
	}
}

// PacketQueue hands packets to a single consumer goroutine, decoupling the consumer from
// the goroutine that receives packets.
type PacketQueue struct {
	handler PacketSubscriber
	packets chan *pb.MeshPacket
	done    chan struct{}
}

var _ PacketSubscriber = &PacketQueue{}

// NewPacketQueue creates a queue that buffers up to size packets for handler.
func NewPacketQueue(handler PacketSubscriber, size int) *PacketQueue {
	return &PacketQueue{
		handler: handler,
		packets: make(chan *pb.MeshPacket, size),
		done:    make(chan struct{}),
	}
}

// OnPacket enqueues packet. It blocks while the queue is full and drops the packet once the
// consumer has stopped.
func (q *PacketQueue) OnPacket(packet *pb.MeshPacket) {
	select {
	case q.packets <- packet:
	case <-q.done:
	}
}

// Run consumes packets in order until ctx is done.
func (q *PacketQueue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case packet := <-q.packets:
			q.handler.OnPacket(packet)
		}
	}
}
