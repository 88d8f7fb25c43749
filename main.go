// probeforge - command-line tool for driving an SWD/JTAG debug probe
//
// This tool enables halting/resuming/stepping a core, reading and writing
// target memory, and programming flash memory over a serial or TCP-bridged
// probe connection.
package main

import (
	"fmt"
	"os"

	"github.com/vertexdbg/probeforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
