// Command meshcat connects to a Meshtastic node, routes all incoming lines of text to it
// and prints messages coming back from the mesh.
//
//	meshcat                                   # serial device, auto-detected
//	meshcat -w 192.168.1.20                   # device reachable over WiFi
//	( echo 'Please reply with your names' ; sleep 60 ) | meshcat
package main

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	opts, err := ParseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		_, _ = os.Stderr.WriteString("meshcat: " + err.Error() + "\n")
		os.Exit(2)
	}
	os.Exit(run(opts))
}
