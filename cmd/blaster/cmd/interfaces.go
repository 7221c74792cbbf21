package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/pkg/cable"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available download cables",
	Long: `Scan the USB bus for Blaster compatible cables (including emulators that
enumerate as 09FB:6001) and print a summary. The in-process simulator is always
listed.`,
	Args: cobra.NoArgs,
	RunE: runInterfaces,
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}

func runInterfaces(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	infos, err := cable.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover cables: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Detected cables:")
	for _, info := range infos {
		if info.Kind == cable.KindSim {
			fmt.Fprintf(out, "  - %s [%s] (--cable sim)\n", info.Label(), info.Kind)
			continue
		}
		fmt.Fprintf(out, "  - %s [%s] (VID:PID %04X:%04X, bus %d address %d)\n",
			info.Label(), info.Kind, info.VendorID, info.ProductID, info.Bus, info.Address)
	}
	return nil
}
