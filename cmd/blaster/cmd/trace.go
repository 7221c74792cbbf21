package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/pkg/trace"
)

var traceLimit int

var traceCmd = &cobra.Command{
	Use:   "trace <file>",
	Short: "Print a recorded pin trace",
	Long: `Decode a CBOR pin trace written by "blaster serve --trace" and print one line
per pin operation with its offset from the start of the recording.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
	traceCmd.Flags().IntVarP(&traceLimit, "limit", "n", 0, "stop after this many records (0 for all)")
}

func runTrace(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	r := trace.NewReader(f)
	counts := make(map[trace.Op]int)
	n := 0
	for traceLimit == 0 || n < traceLimit {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		fmt.Fprintln(out, rec)
		counts[rec.Op]++
		n++
	}

	fmt.Fprintf(out, "%d records:", n)
	for _, op := range []trace.Op{trace.OpInit, trace.OpDirection, trace.OpRead, trace.OpWrite} {
		fmt.Fprintf(out, " %s=%d", op, counts[op])
	}
	fmt.Fprintln(out)
	return nil
}
