package meshcat

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exepirit/meshcat/internal/config"
	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

const (
	// closeTimeout bounds the disconnect handshake on shutdown.
	closeTimeout = 2 * time.Second
	queueSize    = 32
)

// ConnectFunc opens the transport of the process.
type ConnectFunc func(ctx context.Context, cfg *config.Config, logger log.Logger) (*Connection, error)

// App bridges standard streams to the mesh.
type App struct {
	Config *config.Config
	Stdin  io.Reader
	Stdout io.Writer
	// Stderr is the diagnostic stream receiving node and position reports.
	Stderr io.Writer
	Logger log.Logger
	// Connect defaults to Connect.
	Connect ConnectFunc
}

// Run connects, forwards input until it ends or ctx is done, and closes the transport.
func (a *App) Run(ctx context.Context) error {
	logger := log.OrNOOP(a.Logger)

	remote, err := ParseRemote(a.Config.Remote)
	if err != nil {
		return fmt.Errorf("invalid remote: %w", err)
	}

	connect := a.Connect
	if connect == nil {
		connect = Connect
	}
	conn, err := connect(ctx, a.Config, logger)
	if err != nil {
		return err
	}
	defer a.close(conn, logger)

	filter := &Filter{Out: a.Stdout, Diag: a.Stderr, Remote: remote, Logger: logger}
	loop := &Loop{
		In:     a.Stdin,
		Binary: a.Config.Binary,
		Remote: remote,
		Sender: &meshtastic.Messenger{
			Transport: conn.Mesh,
			Channel:   a.Config.Channel,
			HopLimit:  a.Config.HopLimit,
		},
		Logger: logger,
	}
	return Serve(ctx, conn, filter, loop, logger)
}

func (a *App) close(conn *Connection, logger log.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.Warn("Failed to close transport", "error", err)
	}
}

// Serve runs the receive pump, the packet consumer and the input loop. It returns when
// the input loop ends, ctx is done or receiving fails; the connection is closed on the way
// out so blocked receives are released.
func Serve(ctx context.Context, conn *Connection, filter meshtastic.PacketSubscriber, loop *Loop, logger log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := meshtastic.NewPacketQueue(filter, queueSize)
	pub := &meshtastic.FanOutPacketPublisher{Logger: logger}
	pub.Subscribe(queue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pub.PublishAll(gctx, conn.Mesh)
	})
	g.Go(func() error {
		queue.Run(gctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		closeCtx, stop := context.WithTimeout(context.WithoutCancel(gctx), closeTimeout)
		defer stop()
		if err := conn.Close(closeCtx); err != nil {
			log.OrNOOP(logger).Warn("Failed to close transport", "error", err)
		}
		return nil
	})
	return g.Wait()
}
