// Package cmd implements probeforge's CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vertexdbg/probeforge/pkg/config"
)

var (
	// Global flags
	portFlag    string
	targetFlag  string // alias name or a path to a target description YAML
	variantFlag string
	coreFlag    string
	speedFlag   int
	quietFlag   bool

	aliases *config.AliasFile

	log = logrus.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "probeforge",
	Short: "probeforge - drive an SWD/JTAG debug probe and program flash memory",
	Long: `probeforge talks to a target microcontroller through a debug probe
(SWD or JTAG), letting you halt/resume/step a core, read and write memory,
and program flash memory from a target description plus a flash algorithm.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if quietFlag {
			log.SetLevel(logrus.WarnLevel)
		} else {
			log.SetLevel(logrus.InfoLevel)
		}

		a, err := config.LoadAliases()
		if err != nil {
			return fmt.Errorf("failed to load target aliases: %w", err)
		}
		aliases = a
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&portFlag, "port", "", "Probe port or address (e.g., /dev/ttyUSB0, tcp:192.168.1.20:4444)")
	rootCmd.PersistentFlags().StringVar(&targetFlag, "target", "", "Target alias (from probeforge.ini) or path to a target description YAML")
	rootCmd.PersistentFlags().StringVar(&variantFlag, "variant", "", "Chip variant name within the target description (defaults to the first one)")
	rootCmd.PersistentFlags().StringVar(&coreFlag, "core", "", "Core name to attach (defaults to the first core in the variant)")
	rootCmd.PersistentFlags().IntVar(&speedFlag, "speed", 0, "Wire speed in kHz (0 keeps the probe's current speed)")
	rootCmd.PersistentFlags().BoolVar(&quietFlag, "quiet", false, "Suppress informational output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// printInfo prints to stdout unless --quiet was given.
func printInfo(format string, args ...interface{}) {
	if !quietFlag {
		fmt.Printf(format, args...)
	}
}

// printError prints to stderr unconditionally.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
