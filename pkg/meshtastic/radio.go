package meshtastic

// RadioPreset describes a LoRa modem preset. A primary channel without a name of its own
// is published under the preset name, e.g. "LongFast".
type RadioPreset struct {
	Name string
}

var (
	PresetShortTurbo   = RadioPreset{Name: "ShortTurbo"}
	PresetShortFast    = RadioPreset{Name: "ShortFast"}
	PresetShortSlow    = RadioPreset{Name: "ShortSlow"}
	PresetMediumFast   = RadioPreset{Name: "MediumFast"}
	PresetMediumSlow   = RadioPreset{Name: "MediumSlow"}
	PresetLongFast     = RadioPreset{Name: "LongFast"}
	PresetLongModerate = RadioPreset{Name: "LongModerate"}
	PresetLongSlow     = RadioPreset{Name: "LongSlow"}

	// DefaultPreset is the preset devices ship with.
	DefaultPreset = PresetLongFast
)

// ChannelName returns the name a channel is known by on the mesh and on MQTT.
func ChannelName(name string, preset RadioPreset) string {
	if name != "" {
		return name
	}
	return preset.Name
}
