package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"
	"tinygo.org/x/bluetooth"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

const (
	packetsBufferSize = 120

	// maxPacketLen is the largest FromRadio characteristic value.
	maxPacketLen = 512
)

// errEmptyQueue is returned when no data is available in the packet queue.
var errEmptyQueue = errors.New("no data in queue")

var _ meshtastic.Transport = &Transport{}

// Transport represents a BLE-based transport layer for communication with a Meshtastic device.
// It manages the Bluetooth connection, data transmission, and reception via BLE characteristics.
type Transport struct {
	Logger log.Logger

	device    bluetooth.Device
	fromRadio bluetooth.DeviceCharacteristic
	fromNum   bluetooth.DeviceCharacteristic
	toRadio   bluetooth.DeviceCharacteristic

	packets   chan *pb.FromRadio
	pullLock  sync.Mutex
	closeLock sync.RWMutex
	closed    bool
}

// ReceiveFromRadio receives packet from radio via the BLE connection.
func (t *Transport) ReceiveFromRadio(ctx context.Context) (*pb.FromRadio, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-t.packets:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	}
}

// SendToRadio sends a packet to the radio via the BLE connection. Replies queued by the
// device are pulled right after the write.
func (t *Transport) SendToRadio(ctx context.Context, packet *pb.ToRadio) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := protobuf.Marshal(packet)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	if _, err = t.toRadio.WriteWithoutResponse(buf); err != nil {
		return err
	}
	go t.pullPackets()
	return nil
}

// Close disconnects the BLE device.
// After calling Close, the Transport instance must not be used again.
func (t *Transport) Close() error {
	t.closeLock.Lock()
	if t.closed {
		t.closeLock.Unlock()
		return nil
	}
	t.closed = true
	close(t.packets)
	t.closeLock.Unlock()

	_ = t.fromNum.EnableNotifications(nil)
	return t.device.Disconnect()
}

// start drains stale data from the device and subscribes to fromNum notifications.
func (t *Transport) start() error {
	var readErr error
	for {
		_, readErr = t.readPacket()
		if readErr != nil && !errors.Is(readErr, meshtastic.ErrInvalidPacketFormat) {
			break
		}
	}
	if !errors.Is(readErr, errEmptyQueue) {
		return fmt.Errorf("unexpected error while reading packets: %w", readErr)
	}

	return t.fromNum.EnableNotifications(func(_ []byte) {
		t.pullPackets()
	})
}

// pullPackets reads packets from the 'fromRadio' characteristic until the device queue is empty.
func (t *Transport) pullPackets() {
	t.pullLock.Lock()
	defer t.pullLock.Unlock()

	for {
		packet, err := t.readPacket()
		switch {
		case errors.Is(err, errEmptyQueue):
			return
		case errors.Is(err, meshtastic.ErrInvalidPacketFormat):
			log.OrNOOP(t.Logger).Warn("Dropping malformed packet from device")
		case err != nil:
			log.OrNOOP(t.Logger).Warn("Read packet from device error", "error", err)
			return
		default:
			t.enqueue(packet)
		}
	}
}

// enqueue delivers a packet, dropping the oldest queued one when the buffer is full.
func (t *Transport) enqueue(packet *pb.FromRadio) {
	t.closeLock.RLock()
	defer t.closeLock.RUnlock()
	if t.closed {
		return
	}

	for {
		select {
		case t.packets <- packet:
			return
		default:
		}
		select {
		case <-t.packets:
		default:
		}
	}
}

// readPacket reads a single packet from the 'fromRadio' characteristic.
func (t *Transport) readPacket() (*pb.FromRadio, error) {
	buf := make([]byte, maxPacketLen)
	n, err := t.fromRadio.Read(buf)
	switch {
	case err != nil:
		return nil, err
	case n < 1:
		return nil, errEmptyQueue
	}
	return decodeFromRadio(buf[:n])
}

func decodeFromRadio(buf []byte) (*pb.FromRadio, error) {
	packet := new(pb.FromRadio)
	if err := protobuf.Unmarshal(buf, packet); err != nil {
		return nil, meshtastic.ErrInvalidPacketFormat
	}
	return packet, nil
}
