package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var idcodeCmd = &cobra.Command{
	Use:   "idcode",
	Short: "Read the IDCODE of the first device on the JTAG chain",
	Long: `Reset the TAP, shift out the 32-bit register selected after reset and decode
version, part number and JEP106 manufacturer.

Examples:
  blaster idcode                                  # In-process emulator and simulated target
  blaster idcode --cable usb                      # Real USB-Blaster
  blaster idcode --cable ws://127.0.0.1:8675/blaster`,
	Args: cobra.NoArgs,
	RunE: runIDCode,
}

func init() {
	rootCmd.AddCommand(idcodeCmd)
	addCableFlags(idcodeCmd)
}

func runIDCode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	c, closeCable, err := openCable(ctx, cfg, cableSpec)
	if err != nil {
		return fmt.Errorf("open cable: %w", err)
	}
	defer closeCable()

	if err := c.Init(ctx); err != nil {
		return err
	}
	id, err := c.ReadIDCode(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !id.Valid() {
		fmt.Fprintf(out, "No device: read %#08x\n", id.Raw)
		return nil
	}
	manufacturer := id.Manufacturer()
	if manufacturer == "" {
		manufacturer = fmt.Sprintf("unknown (bank %d, id 0x%02X)", id.Bank, id.ID)
	}
	fmt.Fprintf(out, "IDCODE:       0x%08X\n", id.Raw)
	fmt.Fprintf(out, "Version:      %d\n", id.Version)
	fmt.Fprintf(out, "Part number:  0x%04X\n", id.PartNumber)
	fmt.Fprintf(out, "Manufacturer: %s\n", manufacturer)
	return nil
}
