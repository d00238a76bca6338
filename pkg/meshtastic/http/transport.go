package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"

	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// DefaultPollInterval is how long ReceiveFromRadio waits after an empty response.
const DefaultPollInterval = 500 * time.Millisecond

var _ meshtastic.HardwareTransport = &Transport{}

// Transport represents a transport mechanism over HTTP for communicating with a Meshtastic device.
type Transport struct {
	// URL is the base URL of the meshtastic API endpoint.
	URL string
	// Client is an HTTP client used to send requests.
	Client http.Client
	// PollInterval is the delay between polls while the device has nothing to send.
	PollInterval time.Duration
}

// SendToRadio sends a protobuf message to the radio through the Meshtastic API.
func (ht *Transport) SendToRadio(ctx context.Context, packet *pb.ToRadio) error {
	body, err := protobuf.Marshal(packet)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", ht.URL+"/api/v1/toradio", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/x-protobuf")

	response, err := ht.Client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status code %d", response.StatusCode)
	}
	return nil
}

// ReceiveFromRadio retrieves a protobuf message from the radio through the Meshtastic API.
// Empty responses mean the device queue is empty; the device is polled until a frame arrives.
func (ht *Transport) ReceiveFromRadio(ctx context.Context) (*pb.FromRadio, error) {
	interval := ht.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		body, err := ht.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			packet := new(pb.FromRadio)
			if err = protobuf.Unmarshal(body, packet); err != nil {
				return nil, meshtastic.ErrInvalidPacketFormat
			}
			return packet, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (ht *Transport) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", ht.URL+"/api/v1/fromradio?all=false", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Connection", "keep-alive")

	response, err := ht.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected response status code %d", response.StatusCode)
	}

	return io.ReadAll(response.Body)
}
