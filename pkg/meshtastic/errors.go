package meshtastic

import (
	"errors"
)

var (
	// ErrInvalidPacketFormat indicates a problem in structure of received packet.
	ErrInvalidPacketFormat = errors.New("invalid packet data format")
	// ErrPayloadTooBig is returned when a payload does not fit into a single mesh packet.
	ErrPayloadTooBig = errors.New("data payload too big")
	// ErrNoDevice is returned when no Meshtastic device could be found to connect to.
	ErrNoDevice = errors.New("no Meshtastic device detected")
	// ErrPacketTooLong is returned when a frame exceeds the stream protocol limit.
	ErrPacketTooLong = errors.New("packet too long")
)
