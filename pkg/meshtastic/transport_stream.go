package meshtastic

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/internal/log"
)

const (
	streamStart1 = 0x94
	streamStart2 = 0xc3

	// MaxStreamFrameLen is the largest protobuf frame accepted on a stream.
	MaxStreamFrameLen = 512
)

var _ Transport = &StreamTransport{}

// StreamTransport represents a transport layer using a Stream (e.g., TCP connection or serial port).
// Every frame is prefixed with a 4 byte header: 0x94 0xc3 followed by the big-endian frame length.
type StreamTransport struct {
	Stream io.ReadWriteCloser
	Logger log.Logger

	readLock  sync.Mutex
	writeLock sync.Mutex
}

// NewStreamTransport wraps an already opened stream.
func NewStreamTransport(stream io.ReadWriteCloser, logger log.Logger) *StreamTransport {
	if logger == nil {
		logger = log.NOOPLogger{}
	}
	return &StreamTransport{Stream: stream, Logger: logger}
}

func (st *StreamTransport) logger() log.Logger {
	if st.Logger == nil {
		return log.NOOPLogger{}
	}
	return st.Logger
}

// Wake sends a burst of start bytes so a sleeping device switches its console to the protobuf API.
func (st *StreamTransport) Wake(ctx context.Context) error {
	wake := make([]byte, 32)
	for i := range wake {
		wake[i] = streamStart2
	}

	st.writeLock.Lock()
	_, err := st.Stream.Write(wake)
	st.writeLock.Unlock()
	if err != nil {
		return fmt.Errorf("failed to wake device: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// ReceiveFromRadio reads a single packet from the stream and returns it.
// A blocked read is released by closing the transport.
func (st *StreamTransport) ReceiveFromRadio(ctx context.Context) (*pb.FromRadio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st.readLock.Lock()
	buf, err := st.readBytes()
	st.readLock.Unlock()
	if err != nil {
		return nil, err
	}

	packet := new(pb.FromRadio)
	if err = protobuf.Unmarshal(buf, packet); err != nil {
		st.logger().Debug("Dropping malformed frame", "error", err, "length", len(buf))
		return nil, ErrInvalidPacketFormat
	}
	return packet, nil
}

func (st *StreamTransport) readBytes() ([]byte, error) {
	header := make([]byte, 4)

	for {
		_, err := io.ReadFull(st.Stream, header[:1])
		if err != nil {
			return nil, err
		}
		if header[0] != streamStart1 {
			continue // device console output between frames
		}

		_, err = io.ReadFull(st.Stream, header[1:2])
		if err != nil {
			return nil, err
		}
		if header[1] != streamStart2 {
			continue
		}

		_, err = io.ReadFull(st.Stream, header[2:])
		if err != nil {
			return nil, err
		}

		pduLen := int(binary.BigEndian.Uint16(header[2:4]))
		if pduLen > MaxStreamFrameLen {
			st.logger().Warn("Skipping oversized frame", "length", pduLen)
			continue
		}

		data := make([]byte, pduLen)
		_, err = io.ReadFull(st.Stream, data)
		return data, err
	}
}

// SendToRadio sends a protobuf message to the radio.
func (st *StreamTransport) SendToRadio(ctx context.Context, packet *pb.ToRadio) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf, err := protobuf.Marshal(packet)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	st.writeLock.Lock()
	defer st.writeLock.Unlock()
	return st.sendBytes(buf)
}

func (st *StreamTransport) sendBytes(data []byte) error {
	if len(data) > MaxStreamFrameLen {
		return ErrPacketTooLong
	}

	frame := make([]byte, 4, 4+len(data))
	frame[0], frame[1] = streamStart1, streamStart2
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(data)))
	frame = append(frame, data...)

	_, err := st.Stream.Write(frame)
	return err
}

func (st *StreamTransport) Close() error {
	return st.Stream.Close()
}
