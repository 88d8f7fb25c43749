package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var haltTimeout time.Duration

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt the attached core",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		info, err := c.Halt(haltTimeout)
		if err != nil {
			return err
		}
		printInfo("halted at PC=0x%08X\n", info.PC)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the attached core",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		if err := c.Run(); err != nil {
			return err
		}
		printInfo("resumed\n")
		return nil
	},
}

var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Single-step the attached core",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		info, err := c.Step()
		if err != nil {
			return err
		}
		printInfo("stepped to PC=0x%08X\n", info.PC)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the attached core",
	Long: `Reset the attached core. With --halt, the core is held halted
immediately out of reset instead of resuming execution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		if resetHalt {
			info, err := c.ResetAndHalt(haltTimeout)
			if err != nil {
				return err
			}
			printInfo("reset, halted at PC=0x%08X\n", info.PC)
			return nil
		}

		if err := c.Reset(); err != nil {
			return err
		}
		printInfo("reset\n")
		return nil
	},
}

var resetHalt bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the attached core's run state",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		status, err := c.Status()
		if err != nil {
			return err
		}
		printInfo("%s\n", status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(haltCmd, resumeCmd, stepCmd, resetCmd, statusCmd)

	haltCmd.Flags().DurationVar(&haltTimeout, "timeout", 2*time.Second, "How long to wait for the core to halt")
	resetCmd.Flags().DurationVar(&haltTimeout, "timeout", 2*time.Second, "How long to wait for the core to halt")
	resetCmd.Flags().BoolVar(&resetHalt, "halt", false, "Hold the core halted out of reset instead of resuming")
}
