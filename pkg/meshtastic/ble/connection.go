package ble

import (
	"context"
	"fmt"

	pb "github.com/meshtastic/go/generated"
	"tinygo.org/x/bluetooth"

	"github.com/exepirit/meshcat/internal/log"
)

// GATT identifiers of the Meshtastic service.
var (
	MeshBluetoothServiceID = mustParseUUID("6ba1b218-15a8-461f-9fa8-5dcae273eafd")
	FromRadioPropertyID    = mustParseUUID("2c55e69e-4993-11ed-b878-0242ac120002")
	ToRadioPropertyID      = mustParseUUID("f75c76d2-129e-4dad-a1dd-7866124401e7")
	FromNumPropertyID      = mustParseUUID("ed9da18c-a800-4f66-a670-aa7547e34453")
)

func mustParseUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return uuid
}

// Connect connects to a BLE device by MAC address, or by advertised name when target is not a MAC.
func Connect(ctx context.Context, target string, logger log.Logger) (*Transport, error) {
	if _, err := bluetooth.ParseMAC(target); err == nil {
		return ConnectMAC(ctx, target, logger)
	}
	return ConnectNamed(ctx, target, logger)
}

// ConnectMAC connects to a BLE device using the specified MAC address.
func ConnectMAC(ctx context.Context, address string, logger log.Logger) (*Transport, error) {
	return connect(ctx, bluetooth.DefaultAdapter, matchMacAddress(address), logger)
}

// ConnectNamed connects to a BLE device using the specified device name.
func ConnectNamed(ctx context.Context, deviceName string, logger log.Logger) (*Transport, error) {
	return connect(ctx, bluetooth.DefaultAdapter, matchName(deviceName), logger)
}

// connect scans for devices using the provided match function, connects to the
// first matching device, and initializes the Transport. Cancelling ctx stops the scan.
func connect(ctx context.Context, adapter *bluetooth.Adapter, matchFunc deviceMatchFunc, logger log.Logger) (*Transport, error) {
	logger = log.OrNOOP(logger)
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}

	candidate := make(chan bluetooth.ScanResult, 1)
	scanErr := make(chan error, 1)
	go func() {
		scanErr <- adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if matchFunc(result) {
				_ = adapter.StopScan()
				select {
				case candidate <- result:
				default:
				}
			}
		})
	}()

	var result bluetooth.ScanResult
	select {
	case <-ctx.Done():
		_ = adapter.StopScan()
		return nil, ctx.Err()
	case err := <-scanErr:
		if err != nil {
			return nil, fmt.Errorf("failed to seek device: %w", err)
		}
		select {
		case result = <-candidate:
		default:
			return nil, fmt.Errorf("scan stopped before a device was found")
		}
	case result = <-candidate:
	}
	logger.Info("Found BLE device", "address", result.Address.String())

	device, err := adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect device %s: %w", result.Address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{MeshBluetoothServiceID})
	switch {
	case err != nil:
		_ = device.Disconnect()
		return nil, fmt.Errorf("failed to search MeshBluetoothService: %w", err)
	case len(services) < 1:
		_ = device.Disconnect()
		return nil, fmt.Errorf("no MeshBluetoothService on device %s", result.Address)
	}
	service := services[0]

	properties, err := service.DiscoverCharacteristics([]bluetooth.UUID{
		FromRadioPropertyID, ToRadioPropertyID, FromNumPropertyID,
	})
	if err != nil || len(properties) < 3 {
		_ = device.Disconnect()
		return nil, fmt.Errorf("failed to discover BLE characteristics: %w", err)
	}

	t := &Transport{
		Logger:    logger,
		device:    device,
		fromRadio: properties[0],
		toRadio:   properties[1],
		fromNum:   properties[2],
		packets:   make(chan *pb.FromRadio, packetsBufferSize),
	}
	if err := t.start(); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

// deviceMatchFunc is a function that determines whether a given ScanResult matches a specific device.
type deviceMatchFunc func(result bluetooth.ScanResult) bool

func matchMacAddress(address string) deviceMatchFunc {
	mac, err := bluetooth.ParseMAC(address)
	if err != nil {
		return matchNoDevice
	}
	return func(result bluetooth.ScanResult) bool {
		return result.Address.MAC == mac
	}
}

func matchName(name string) deviceMatchFunc {
	return func(result bluetooth.ScanResult) bool {
		return result.LocalName() == name
	}
}

func matchNoDevice(_ bluetooth.ScanResult) bool {
	return false
}
