package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Options holds CLI options.
type Options struct {
	ConfigPath string
	// Flags carries the parsed flag set so explicitly set flags override the config file.
	Flags *pflag.FlagSet
}

// ParseFlags parses CLI flags from args.
func ParseFlags(args []string, output io.Writer) (Options, error) {
	fs := pflag.NewFlagSet("meshcat", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(output, "meshcat: passes stdin to a Meshtastic mesh and prints messages received from it to stdout.")
		_, _ = fmt.Fprintln(output)
		_, _ = fmt.Fprintln(output, "Usage: meshcat [flags]")
		fs.PrintDefaults()
	}

	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML or TOML config file")
	fs.BoolP("binary", "b", false, "Binary/raw input, sent in 200 byte chunks")
	fs.StringP("remote", "r", "", "Node to send to and receive from: node number, or node id such as '!2a'")
	fs.StringP("wifi", "w", "", "Hostname or IP of the Meshtastic radio when connecting over WiFi")
	fs.String("bluetooth", "", "Address or name of the Meshtastic radio when connecting over Bluetooth")
	fs.String("device", "", "Device URL: serial:PORT, tcp://HOST, http://HOST, mqtt://BROKER, udp://HOST or ble:ADDRESS")
	fs.Uint32("hop-limit", 3, "Hop limit of sent packets")
	fs.Uint32("channel", 0, "Channel index of sent packets")
	fs.String("psk", "AQ==", "Base64 channel key for MQTT and UDP transports")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Log format: console or json")
	fs.String("log-file", "", "Also write logs to this file")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	opts.Flags = fs
	return opts, nil
}
