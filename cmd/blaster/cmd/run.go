package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/pkg/script"
)

var runDry bool

var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a cable script",
	Long: `Compile a cable script and execute it, printing the bytes every reading
statement returned.

Script statements:
  oe on|off                      drive or release the outputs
  set tck=0 tms=1 nce=0 ncs=1    change line levels
  read                           sample TDO and DATAOUT
  reset                          five TCK cycles with TMS high
  tms 0 1 0 0                    clock a TMS sequence
  clock 8 tms=0 tdi=1 read       clock TCK, optionally sampling
  shift [read] 0x12 0x34         byte shifter, LSB first
  sleep 10                       pause in milliseconds

Examples:
  blaster run idcode.bs                   # Against the in-process emulator
  blaster run --dry-run idcode.bs         # Print the encoded stream
  blaster run --cable usb program.bs`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addCableFlags(runCmd)
	runCmd.Flags().BoolVarP(&runDry, "dry-run", "n", false, "print the encoded stream without running it")
}

func runScript(cmd *cobra.Command, args []string) error {
	s, err := script.ParseFile(args[0])
	if err != nil {
		return err
	}
	prog, err := script.Compile(s)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runDry {
		data, expect := prog.Encode()
		fmt.Fprintf(out, "%d bytes, %d reply bytes\n", len(data), expect)
		fmt.Fprint(out, hex.Dump(data))
		return nil
	}

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

	results, err := prog.Run(ctx, c)
	for _, r := range results {
		fmt.Fprintln(out, r)
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	if verbose {
		fmt.Fprintf(out, "%d reading statements\n", len(results))
	}
	return nil
}
