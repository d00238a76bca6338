package meshcat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	pb "github.com/meshtastic/go/generated"

	"github.com/exepirit/meshcat/internal/config"
	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// chanMesh delivers packets pushed to in and records sent packets.
type chanMesh struct {
	in chan *pb.MeshPacket

	mu     sync.Mutex
	sent   []*pb.MeshPacket
	closed int
}

func newChanMesh() *chanMesh {
	return &chanMesh{in: make(chan *pb.MeshPacket, 8)}
}

func (m *chanMesh) SendToMesh(_ context.Context, packet *pb.MeshPacket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, packet)
	return nil
}

func (m *chanMesh) ReceiveFromMesh(ctx context.Context) (*pb.MeshPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case p, ok := <-m.in:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	}
}

func (m *chanMesh) close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *chanMesh) snapshot() ([]*pb.MeshPacket, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*pb.MeshPacket(nil), m.sent...), m.closed
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(cfg *config.Config, stdin io.Reader, mesh *chanMesh) (*App, *syncBuffer, *syncBuffer) {
	out, diag := &syncBuffer{}, &syncBuffer{}
	return &App{
		Config: cfg,
		Stdin:  stdin,
		Stdout: out,
		Stderr: diag,
		Logger: log.NOOPLogger{},
		Connect: func(context.Context, *config.Config, log.Logger) (*Connection, error) {
			return NewConnection(mesh, 0, mesh.close), nil
		},
	}, out, diag
}

func TestRunSendsLinesAndCloses(t *testing.T) {
	cfg := config.Default()
	cfg.Remote = "!2a"
	mesh := newChanMesh()
	app, _, _ := newTestApp(cfg, strings.NewReader("hello\n"), mesh)

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent, closed := mesh.snapshot()
	if closed != 1 {
		t.Fatalf("transport closed %d times", closed)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one packet, got %d", len(sent))
	}
	p := sent[0]
	if p.To != 42 || p.HopLimit != 3 {
		t.Fatalf("unexpected packet header %+v", p)
	}
	if d := p.GetDecoded(); d.GetPortnum() != pb.PortNum_TEXT_MESSAGE_APP || string(d.GetPayload()) != "hello" {
		t.Fatalf("unexpected payload %v", p)
	}
}

func TestRunBroadcastsBinaryChunks(t *testing.T) {
	cfg := config.Default()
	cfg.Binary = true
	mesh := newChanMesh()
	app, _, _ := newTestApp(cfg, bytes.NewReader(make([]byte, 250)), mesh)

	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	sent, _ := mesh.snapshot()
	if len(sent) != 2 {
		t.Fatalf("expected two packets, got %d", len(sent))
	}
	for _, p := range sent {
		if meshtastic.NodeID(p.To) != meshtastic.BroadcastNum || p.GetDecoded().GetPortnum() != pb.PortNum_PRIVATE_APP {
			t.Fatalf("unexpected packet %v", p)
		}
	}
}

func TestRunPrintsReceivedPackets(t *testing.T) {
	cfg := config.Default()
	cfg.Remote = "42"
	mesh := newChanMesh()
	stdin, stdinW := io.Pipe()
	app, out, _ := newTestApp(cfg, stdin, mesh)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	mesh.in <- &pb.MeshPacket{From: 43, PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP, Payload: []byte("ignored"),
	}}}
	mesh.in <- &pb.MeshPacket{From: 42, PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
		Portnum: pb.PortNum_TEXT_MESSAGE_APP, Payload: []byte("hi"),
	}}}

	deadline := time.Now().Add(2 * time.Second)
	for out.String() != "hi\n" {
		if time.Now().After(deadline) {
			t.Fatalf("unexpected stdout %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = stdinW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop at end of input")
	}
}

func TestRunStopsOnInterrupt(t *testing.T) {
	mesh := newChanMesh()
	stdin, stdinW := io.Pipe()
	defer stdinW.Close()
	app, _, _ := newTestApp(config.Default(), stdin, mesh)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on interrupt")
	}
	if _, closed := mesh.snapshot(); closed != 1 {
		t.Fatalf("transport closed %d times", closed)
	}
}

func TestRunFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Remote = "!nothex"
	connected := false
	app := &App{Config: cfg, Connect: func(context.Context, *config.Config, log.Logger) (*Connection, error) {
		connected = true
		return nil, nil
	}}
	if err := app.Run(context.Background()); !errors.Is(err, meshtastic.ErrInvalidNodeID) {
		t.Fatalf("expected ErrInvalidNodeID, got %v", err)
	}
	if connected {
		t.Fatalf("transport opened despite invalid remote")
	}

	app = &App{Config: config.Default(), Connect: func(context.Context, *config.Config, log.Logger) (*Connection, error) {
		return nil, meshtastic.ErrNoDevice
	}}
	if err := app.Run(context.Background()); !errors.Is(err, meshtastic.ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestRunFailsOnOversizedLine(t *testing.T) {
	mesh := newChanMesh()
	app, _, _ := newTestApp(config.Default(), strings.NewReader(strings.Repeat("x", meshtastic.MaxPayloadLen+1)+"\n"), mesh)

	if err := app.Run(context.Background()); !errors.Is(err, meshtastic.ErrPayloadTooBig) {
		t.Fatalf("expected ErrPayloadTooBig, got %v", err)
	}
	if _, closed := mesh.snapshot(); closed != 1 {
		t.Fatalf("transport closed %d times", closed)
	}
}
