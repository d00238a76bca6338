package meshcat

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// MaxBinaryReadBytes is the size of the chunks stdin is split into in binary mode.
const MaxBinaryReadBytes = 200

// Loop forwards input to the mesh until the input ends or the context is done.
type Loop struct {
	In io.Reader
	// Binary sends raw chunks of MaxBinaryReadBytes instead of text lines.
	Binary bool
	Remote meshtastic.NodeID
	Sender Interface
	Logger log.Logger
}

type chunk struct {
	data []byte
	ok   bool
	err  error
}

// Run reads input and sends it. It returns nil at end of input or when ctx is done; send
// failures are returned. Input is read one chunk at a time, only after the previous chunk
// has been sent, so nothing is consumed from In once Run has returned.
func (l *Loop) Run(ctx context.Context) error {
	next := lineReader(l.In)
	if l.Binary {
		next = chunkReader(l.In)
	}

	want := make(chan struct{})
	chunks := make(chan chunk)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-want:
			case <-done:
				return
			}
			c := next()
			select {
			case chunks <- c:
			case <-done:
				return
			}
		}
	}()

	logger := log.OrNOOP(l.Logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		case want <- struct{}{}:
		}

		var c chunk
		select {
		case <-ctx.Done():
			return nil
		case c = <-chunks:
		}

		if c.ok {
			var err error
			if l.Binary {
				err = SendData(ctx, l.Sender, c.data, l.Remote)
			} else {
				err = SendMessage(ctx, l.Sender, string(c.data), l.Remote)
			}
			if err != nil {
				return err
			}
			logger.Debug("Sent to mesh", "bytes", len(c.data), "remote", l.Remote)
		}

		switch {
		case c.err == nil:
		case errors.Is(c.err, io.EOF):
			return nil
		default:
			return c.err
		}
	}
}

// chunkReader reads blocks of MaxBinaryReadBytes. The last block may be shorter; a
// zero-length read ends the input.
func chunkReader(r io.Reader) func() chunk {
	return func() chunk {
		buf := make([]byte, MaxBinaryReadBytes)
		n, err := io.ReadFull(r, buf)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		if n == 0 {
			return chunk{err: err}
		}
		return chunk{data: buf[:n], ok: true, err: err}
	}
}

// lineReader reads lines without their terminator. Empty lines are kept; a final line
// without a newline is returned together with io.EOF.
func lineReader(r io.Reader) func() chunk {
	br := bufio.NewReader(r)
	return func() chunk {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			return chunk{err: err}
		}
		return chunk{data: []byte(TrimLine(line)), ok: true, err: err}
	}
}

// TrimLine strips the line terminator ("\n" or "\r\n").
func TrimLine(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
