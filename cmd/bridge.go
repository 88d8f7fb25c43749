package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertexdbg/probeforge/pkg/probe"
)

var bridgeListenAddr string

// bridgeCmd serves a local probe over TCP using the probeforge bridge wire
// protocol, so a remote probeforge invocation can reach it with
// --port <host>:<port>. Grounded on the teacher's cmd/tcp-bridge.go, which
// served a local serial connection to a Foenix board the same way.
var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve a local probe over TCP for remote access",
	Long: `Open the probe on --port locally and serve it over TCP on
--listen, so a remote probeforge invocation can drive it with
--port <host>:<listen-port>.

Example:
  probeforge bridge --port /dev/ttyUSB0 --listen :4444`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if portFlag == "" {
			return fmt.Errorf("--port is required (the local probe to serve)")
		}

		transport, err := openTransport(portFlag)
		if err != nil {
			return fmt.Errorf("opening local probe on %q: %w", portFlag, err)
		}

		server := probe.NewBridgeServer(transport, log.WithField("bridge", bridgeListenAddr))
		printInfo("serving %s on %s\n", portFlag, bridgeListenAddr)
		return server.Listen(bridgeListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListenAddr, "listen", ":4444", "TCP address to listen on")
}
