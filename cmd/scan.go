package cmd

import (
	"github.com/spf13/cobra"
)

var scanChainCmd = &cobra.Command{
	Use:   "scan-chain",
	Short: "Interrogate the JTAG chain's TAPs and total IR length",
	Long: `Walk the JTAG chain with no prior knowledge of the boundary
scan configuration: decode each TAP's IDCODE or BYPASS bit, and report
the chain's total instruction register length. Only meaningful when the
probe's active protocol is JTAG.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		taps, irBits, err := sess.ScanChain()
		if err != nil {
			return err
		}

		printInfo("%d TAP(s) found, total IR length %d bits\n", len(taps), irBits)
		for i, t := range taps {
			if t.HasIDCode {
				printInfo("  TAP %d: IDCODE 0x%08X\n", i, t.IDCode)
			} else {
				printInfo("  TAP %d: BYPASS\n", i)
			}
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report wire-level retry/error counters for this session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, _, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		s := sess.Statistics()
		printInfo("transfers:        %d\n", s.NumTransfers)
		printInfo("extra transfers:  %d\n", s.NumExtraTransfers)
		printInfo("IO calls:         %d\n", s.NumIOCalls)
		printInfo("WAIT responses:   %d\n", s.NumWaitResponses)
		printInfo("faults:           %d\n", s.NumFaults)
		printInfo("line resets:      %d\n", s.NumLineResets)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanChainCmd, statsCmd)
}
