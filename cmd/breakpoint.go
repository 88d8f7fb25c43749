package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertexdbg/probeforge/pkg/util"
)

var breakpointAddress string

var setBreakpointCmd = &cobra.Command{
	Use:   "break",
	Short: "Set a hardware breakpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := util.ParseHexAddress(breakpointAddress)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}

		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		if err := c.SetBreakpoint(addr); err != nil {
			return err
		}
		printInfo("breakpoint set at 0x%08X\n", addr)
		return nil
	},
}

var clearBreakpointCmd = &cobra.Command{
	Use:   "unbreak",
	Short: "Clear a hardware breakpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		if breakpointAddress == "" {
			if err := c.ClearAllBreakpoints(); err != nil {
				return err
			}
			printInfo("all breakpoints cleared\n")
			return nil
		}

		addr, err := util.ParseHexAddress(breakpointAddress)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		if err := c.ClearBreakpoint(addr); err != nil {
			return err
		}
		printInfo("breakpoint cleared at 0x%08X\n", addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setBreakpointCmd, clearBreakpointCmd)

	setBreakpointCmd.Flags().StringVar(&breakpointAddress, "address", "", "Breakpoint address (hex)")
	setBreakpointCmd.MarkFlagRequired("address")
	clearBreakpointCmd.Flags().StringVar(&breakpointAddress, "address", "", "Breakpoint address (hex); omit to clear all")
}
