package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vertexdbg/probeforge/pkg/util"
)

var (
	readmemAddress  string
	readmemCount    string
	writememAddress string
)

var readmemCmd = &cobra.Command{
	Use:   "readmem",
	Short: "Read and hex-dump target memory",
	Long: `Read a block of memory from the target over the debug port's
memory access port and display it in hex dump format.

Example:
  probeforge readmem --address 20000000 --count 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := util.ParseHexAddress(readmemAddress)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}
		count, err := util.ParseHexSize(readmemCount)
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}

		sess, _, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		mem := sess.MemAP(0)
		words, err := mem.ReadMemory32(addr, (int(count)+3)/4)
		if err != nil {
			return fmt.Errorf("failed to read memory: %w", err)
		}

		data := make([]byte, 0, len(words)*4)
		for _, w := range words {
			data = append(data, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
		}
		if uint32(len(data)) > count {
			data = data[:count]
		}

		util.HexDump(data, addr)
		return nil
	},
}

var writememCmd = &cobra.Command{
	Use:   "writemem <binfile>",
	Short: "Write a binary file's contents to target memory",
	Long: `Write a binary file to the target's memory over the debug port's
memory access port, starting at --address.

Example:
  probeforge writemem image.bin --address 20000000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := util.ParseHexAddress(writememAddress)
		if err != nil {
			return fmt.Errorf("invalid address: %w", err)
		}

		data, err := util.ReadFile(args[0])
		if err != nil {
			return err
		}

		sess, _, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		mem := sess.MemAP(0)
		written := len(data)
		for len(data) > 0 {
			if err := mem.WriteMemory8(addr, data[0]); err != nil {
				return fmt.Errorf("failed to write memory at 0x%X: %w", addr, err)
			}
			addr++
			data = data[1:]
		}

		printInfo("wrote %d bytes\n", written)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readmemCmd, writememCmd)

	readmemCmd.Flags().StringVar(&readmemAddress, "address", "0", "Starting address (hex)")
	readmemCmd.Flags().StringVar(&readmemCount, "count", "10", "Number of bytes to read (hex)")
	writememCmd.Flags().StringVar(&writememAddress, "address", "0", "Starting address (hex)")
}
