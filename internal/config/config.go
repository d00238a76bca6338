// Package config provides configuration loading for meshcat: defaults, an optional
// YAML or TOML file, MESHCAT_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// Binary switches stdin handling to fixed-size raw chunks.
	Binary bool `mapstructure:"binary"`
	// Remote is the node to talk to: decimal node number or "!"-prefixed hex id.
	Remote string `mapstructure:"remote"`

	// Wifi is the hostname or IP of a network-attached device.
	Wifi string `mapstructure:"wifi"`
	// Bluetooth is the BLE address (or advertised name) of the device.
	Bluetooth string `mapstructure:"bluetooth"`
	// Device is a device URL, e.g. serial:/dev/ttyUSB0, tcp://host, http://host,
	// mqtt://broker:1883 or udp://host.
	Device string `mapstructure:"device"`

	// HopLimit is the hop limit of outgoing packets.
	HopLimit uint32 `mapstructure:"hop_limit"`
	// Channel is the channel index outgoing packets are sent on.
	Channel uint32 `mapstructure:"channel"`
	// PSK is the base64 channel key used by MQTT and UDP transports.
	PSK string `mapstructure:"psk"`

	MQTT MQTTConfig `mapstructure:"mqtt"`
	Log  LogConfig  `mapstructure:"log"`
}

// MQTTConfig defines the broker connection used by mqtt:// device URLs.
type MQTTConfig struct {
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	RootTopic string `mapstructure:"root_topic"`
	// ChannelName is the channel id used in topics and envelopes.
	ChannelName string `mapstructure:"channel_name"`
	// Node is the gateway node id ("!xxxxxxxx") packets are published as.
	Node string `mapstructure:"node"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// File is an optional log file path, written in addition to stderr.
	File string `mapstructure:"file"`

	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		HopLimit: 3,
		PSK:      "AQ==",
		MQTT: MQTTConfig{
			RootTopic:   "msh",
			ChannelName: "LongFast",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Rotation: RotationConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"binary":     "binary",
	"remote":     "remote",
	"wifi":       "wifi",
	"bluetooth":  "bluetooth",
	"device":     "device",
	"hop-limit":  "hop_limit",
	"channel":    "channel",
	"psk":        "psk",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
}

// Load reads configuration. path may be empty, in which case MESHCAT_CONFIG and the
// usual locations are tried; a missing file is not an error. Flags that were set
// on the command line override every other source.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("MESHCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("binary", cfg.Binary)
	v.SetDefault("remote", cfg.Remote)
	v.SetDefault("wifi", cfg.Wifi)
	v.SetDefault("bluetooth", cfg.Bluetooth)
	v.SetDefault("device", cfg.Device)
	v.SetDefault("hop_limit", cfg.HopLimit)
	v.SetDefault("channel", cfg.Channel)
	v.SetDefault("psk", cfg.PSK)
	v.SetDefault("mqtt.username", cfg.MQTT.Username)
	v.SetDefault("mqtt.password", cfg.MQTT.Password)
	v.SetDefault("mqtt.root_topic", cfg.MQTT.RootTopic)
	v.SetDefault("mqtt.channel_name", cfg.MQTT.ChannelName)
	v.SetDefault("mqtt.node", cfg.MQTT.Node)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path == "" {
		path = os.Getenv("MESHCAT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshcat")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "meshcat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.HopLimit > 7 {
		return fmt.Errorf("invalid hop_limit %d: must be at most 7", c.HopLimit)
	}
	return nil
}
