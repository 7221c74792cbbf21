package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/pkg/cable"
	"github.com/OpenTraceLab/picoblaster/pkg/config"
)

var (
	cableSpec  string
	cableBaud  int
	skipVerify bool
)

// addCableFlags registers the flags that select a cable.
func addCableFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cableSpec, "cable", "sim",
		"cable to use: sim, usb, ws://host:port/blaster or serial:/dev/ttyX")
	cmd.Flags().IntVar(&cableBaud, "baud", 0, "baud rate for serial cables")
	cmd.Flags().BoolVar(&skipVerify, "insecure", false, "skip TLS verification for wss:// cables")
}

// openCable connects to the cable named by spec. For "sim" an in-process
// emulator is started and stopped by the returned cleanup.
func openCable(ctx context.Context, cfg config.Config, spec string) (*cable.Cable, func(), error) {
	opts := []cable.Option{cable.WithLogger(logger)}

	switch {
	case spec == "sim":
		cfg.Pins = config.PinsSim
		cfg.TracePath = ""
		emu, err := buildEmulator(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		runCtx, cancel := context.WithCancel(ctx)
		done := emu.run(runCtx)
		c := cable.New(cable.NewMemConn(emu.dev), opts...)
		return c, func() {
			c.Close()
			cancel()
			<-done
			emu.Close()
		}, nil

	case spec == "usb":
		conn, err := cable.OpenUSB(cable.VendorIDAltera, cable.ProductIDBlaster)
		if err != nil {
			return nil, nil, err
		}
		c := cable.New(conn, opts...)
		return c, func() { c.Close() }, nil

	case strings.HasPrefix(spec, "ws://"), strings.HasPrefix(spec, "wss://"):
		conn, err := cable.DialWebSocket(ctx, spec, skipVerify)
		if err != nil {
			return nil, nil, err
		}
		c := cable.New(conn, opts...)
		return c, func() { c.Close() }, nil

	case strings.HasPrefix(spec, "serial:"):
		conn, err := cable.OpenSerial(strings.TrimPrefix(spec, "serial:"), cableBaud)
		if err != nil {
			return nil, nil, err
		}
		c := cable.New(conn, opts...)
		return c, func() { c.Close() }, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown cable %q", cable.ErrNotFound, spec)
}
