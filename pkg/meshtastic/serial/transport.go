package serial

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/exepirit/meshcat/internal/log"
	"github.com/exepirit/meshcat/pkg/meshtastic"
)

// BaudRate is the speed of the Meshtastic serial API.
const BaudRate = 115200

// vendorIDs lists USB vendors whose serial bridges are found on Meshtastic boards.
var vendorIDs = map[string]string{
	"10c4": "Silicon Labs CP210x",
	"1a86": "WCH CH340/CH9102",
	"303a": "Espressif",
	"239a": "Adafruit / RAK nRF52",
	"2886": "Seeed",
	"1915": "Nordic Semiconductor",
	"2e8a": "Raspberry Pi",
	"0403": "FTDI",
}

// NewTransport creates a new stream transport for the given serial port.
// It opens the specified serial port with default settings (115200 baud rate).
// An empty port selects the first detected Meshtastic device.
func NewTransport(port string, logger log.Logger) (*meshtastic.StreamTransport, error) {
	logger = log.OrNOOP(logger)
	if port == "" {
		ports, err := DetectPorts()
		if err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, meshtastic.ErrNoDevice
		}
		if len(ports) > 1 {
			logger.Warn("Several devices detected, using the first one", "ports", ports)
		}
		port = ports[0]
	}

	mode := &serial.Mode{
		BaudRate: BaudRate,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}

	logger.Info("Opened serial port", "port", port)
	return meshtastic.NewStreamTransport(p, logger), nil
}

// DetectPorts lists serial ports that look like Meshtastic devices.
func DetectPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	return matchPorts(ports), nil
}

func matchPorts(ports []*enumerator.PortDetails) []string {
	var names []string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if _, ok := vendorIDs[strings.ToLower(p.VID)]; ok {
			names = append(names, p.Name)
		}
	}
	return names
}
