package cmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/pkg/eeprom"
)

var (
	eepromDump  bool
	eepromLocal bool
)

var eepromCmd = &cobra.Command{
	Use:   "eeprom",
	Short: "Read and decode the cable identification EEPROM",
	Long: `Read the 128-byte FT245 EEPROM image word by word with vendor request 0x90
and print the USB identity it carries. --local shows the image the emulator
serves without opening a cable.`,
	Args: cobra.NoArgs,
	RunE: runEEPROM,
}

func init() {
	rootCmd.AddCommand(eepromCmd)
	addCableFlags(eepromCmd)
	eepromCmd.Flags().BoolVar(&eepromDump, "dump", false, "print a hex dump of the image")
	eepromCmd.Flags().BoolVar(&eepromLocal, "local", false, "show the built-in image")
}

func runEEPROM(cmd *cobra.Command, args []string) error {
	var img eeprom.Image
	if eepromLocal {
		var err error
		if img, err = eeprom.Build(eeprom.Blaster()); err != nil {
			return err
		}
	} else {
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
		if img, err = c.ReadEEPROM(ctx); err != nil {
			return err
		}
	}
	return printEEPROM(cmd.OutOrStdout(), img)
}

func printEEPROM(out io.Writer, img eeprom.Image) error {
	if eepromDump {
		fmt.Fprint(out, hex.Dump(img[:]))
	}
	checksum := "ok"
	if !img.Valid() {
		checksum = fmt.Sprintf("BAD (stored 0x%04X, computed 0x%04X)", img.Word(eeprom.Words-1), img.Checksum())
	}
	id, err := eeprom.Parse(img)
	if err != nil {
		fmt.Fprintf(out, "Checksum:     %s\n", checksum)
		return fmt.Errorf("decode eeprom: %w", err)
	}
	fmt.Fprintf(out, "VID:PID:      %04X:%04X\n", id.VendorID, id.ProductID)
	fmt.Fprintf(out, "Release:      %04X\n", id.Release)
	fmt.Fprintf(out, "Manufacturer: %s\n", id.Manufacturer)
	fmt.Fprintf(out, "Product:      %s\n", id.Product)
	fmt.Fprintf(out, "Serial:       %s\n", id.Serial)
	fmt.Fprintf(out, "Max power:    %d mA\n", id.MaxPower)
	fmt.Fprintf(out, "Checksum:     %s\n", checksum)
	return nil
}
