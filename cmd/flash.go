package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vertexdbg/probeforge/pkg/flash"
	"github.com/vertexdbg/probeforge/pkg/loader"
	"github.com/vertexdbg/probeforge/pkg/util"
)

var (
	flashAlgorithm        string
	flashBaseAddress      string
	flashRestoreUnwritten bool
	flashDoubleBuffer     bool
	flashSkipErase        bool
)

var flashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Program flash memory from a firmware image",
	Long: `Load an Intel HEX or Motorola SREC image (or a raw binary at
--address) and program it into flash using --algorithm, a flash algorithm
named in the target description.

⚠️  This overwrites flash memory; it cannot be undone.

Example:
  probeforge flash firmware.hex --algorithm stm32f1_flash`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flashAlgorithm == "" {
			return fmt.Errorf("--algorithm is required")
		}

		builder := flash.NewFlashBuilder()
		ext := filepath.Ext(args[0])
		if l, lerr := loader.ForExtension(ext); lerr == nil {
			if err := loader.LoadInto(l, args[0], builder); err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}
		} else {
			addr, err := util.ParseHexAddress(flashBaseAddress)
			if err != nil {
				return fmt.Errorf("raw binary images need --address: %w", err)
			}
			data, err := util.ReadFile(args[0])
			if err != nil {
				return err
			}
			builder.AddData(addr, data)
		}

		if !util.ConfirmDanger(fmt.Sprintf("You are about to reprogram flash from %s", args[0])) {
			printInfo("Operation cancelled.\n")
			return nil
		}

		sess, c, family, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		coreName := coreFlag
		if coreName == "" {
			coreName = "main"
		}
		flasher, err := sess.NewFlasher(c, coreName, flashAlgorithm)
		if err != nil {
			return fmt.Errorf("preparing flash algorithm: %w", err)
		}

		algo, ok := family.Algorithm(flashAlgorithm)
		if !ok {
			return fmt.Errorf("unknown flash algorithm %q", flashAlgorithm)
		}

		opts := flash.ProgramOptions{
			RestoreUnwrittenBytes: flashRestoreUnwritten,
			EnableDoubleBuffering: flashDoubleBuffer,
			SkipErasing:           flashSkipErase,
		}
		printInfo("Programming flash...\n")
		if err := flasher.Program(algo.Properties, builder, opts, flash.NoProgress); err != nil {
			return fmt.Errorf("flash programming failed: %w", err)
		}

		printInfo("Flash programming complete.\n")
		return nil
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Chip-erase flash memory",
	Long: `Erase the target's entire flash memory using --algorithm's
EraseAll entry point.

⚠️  This is destructive and cannot be undone.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flashAlgorithm == "" {
			return fmt.Errorf("--algorithm is required")
		}
		if !util.ConfirmDanger("You are about to ERASE the entire flash memory") {
			printInfo("Operation cancelled.\n")
			return nil
		}

		sess, c, _, closeSession, err := openSession()
		if err != nil {
			return err
		}
		defer closeSession()

		coreName := coreFlag
		if coreName == "" {
			coreName = "main"
		}
		flasher, err := sess.NewFlasher(c, coreName, flashAlgorithm)
		if err != nil {
			return fmt.Errorf("preparing flash algorithm: %w", err)
		}
		if !flasher.ChipEraseSupported() {
			return fmt.Errorf("flash algorithm %q has no chip-erase entry point", flashAlgorithm)
		}

		printInfo("Erasing flash memory...\n")
		if err := flasher.EraseAll(); err != nil {
			return fmt.Errorf("flash erase failed: %w", err)
		}

		printInfo("Flash memory erased.\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flashCmd, eraseCmd)

	flashCmd.Flags().StringVar(&flashAlgorithm, "algorithm", "", "Flash algorithm name from the target description")
	flashCmd.Flags().StringVar(&flashBaseAddress, "address", "", "Base address for a raw binary image (hex)")
	flashCmd.Flags().BoolVar(&flashRestoreUnwritten, "restore-unwritten", false, "Read back and preserve bytes outside the written spans within a touched sector")
	flashCmd.Flags().BoolVar(&flashDoubleBuffer, "double-buffer", false, "Use the algorithm's double-buffered programming path if it supports one")
	flashCmd.Flags().BoolVar(&flashSkipErase, "skip-erase", false, "Assume flash is already erased")

	eraseCmd.Flags().StringVar(&flashAlgorithm, "algorithm", "", "Flash algorithm name from the target description")
}
