package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/internal/monitor"
	"github.com/OpenTraceLab/picoblaster/pkg/config"
	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// WebSocketPath is where the emulator accepts host connections.
const WebSocketPath = "/blaster"

var (
	serveListen  string
	serveSerial  string
	serveBaud    int
	servePins    string
	serveTrace   string
	serveMonitor bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cable emulator",
	Long: `Run the cable emulator and expose it to a host driver.

By default the emulator drives a simulated JTAG target and accepts one host over
WebSocket at ws://<listen>/blaster. With --serial it speaks the framed packet
stream on a serial line instead. With --pins gpio the seven signals are driven
on the host GPIO bank (Raspberry Pi) starting at base_pin.

Examples:
  blaster serve                                  # Simulated target on 127.0.0.1:8675
  blaster serve --monitor                        # Same, with a live pin view
  blaster serve --serial /dev/ttyGS0 --pins gpio # GPIO cable over a USB serial gadget
  blaster serve --trace pins.cbor                # Record every pin operation`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "WebSocket listen address")
	serveCmd.Flags().StringVarP(&serveSerial, "serial", "s", "", "serve on a serial port instead of WebSocket")
	serveCmd.Flags().IntVar(&serveBaud, "baud", 0, "serial baud rate")
	serveCmd.Flags().StringVar(&servePins, "pins", "", "pin backend (sim, gpio)")
	serveCmd.Flags().StringVar(&serveTrace, "trace", "", "write a CBOR pin trace to this file")
	serveCmd.Flags().BoolVarP(&serveMonitor, "monitor", "m", false, "show a live view of the cable")
}

// serveConfig applies the serve flags on top of the file configuration.
func serveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Transport.Kind = config.TransportWebSocket
		cfg.Transport.Listen = serveListen
	}
	if cmd.Flags().Changed("serial") {
		cfg.Transport.Kind = config.TransportSerial
		cfg.Transport.Port = serveSerial
	}
	if cmd.Flags().Changed("baud") {
		cfg.Transport.Baud = serveBaud
	}
	if cmd.Flags().Changed("pins") {
		cfg.Pins = servePins
	}
	if cmd.Flags().Changed("trace") {
		cfg.TracePath = serveTrace
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	emu, err := buildEmulator(cfg, logger)
	if err != nil {
		return fmt.Errorf("build emulator: %w", err)
	}
	defer emu.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devDone := emu.run(ctx)
	linkDone := make(chan error, 1)

	switch cfg.Transport.Kind {
	case config.TransportSerial:
		link := transport.SerialLink{Name: cfg.Transport.Port, Baud: cfg.Transport.Baud, Log: logger}
		go func() { linkDone <- link.Serve(ctx, emu.dev) }()
	default:
		ln, err := net.Listen("tcp", cfg.Transport.Listen)
		if err != nil {
			stop()
			<-devDone
			return fmt.Errorf("listen: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Emulator listening on ws://%s%s\n", ln.Addr(), WebSocketPath)
		go func() { linkDone <- serveWebSocket(ctx, ln, emu) }()
	}

	if serveMonitor {
		go func() {
			if err := monitor.Run(ctx, emu.dev, "BLASTER - "+cfg.Pins, time.Second); err != nil {
				logger.Error().Err(err).Msg("monitor failed")
			}
			stop()
		}()
	}

	select {
	case err = <-linkDone:
		stop()
		<-devDone
	case err = <-devDone:
		stop()
		<-linkDone
	}
	logger.Info().Msg("emulator stopped")
	return err
}

func serveWebSocket(ctx context.Context, ln net.Listener, emu *emulator) error {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, transport.NewWebSocketLink(emu.dev, logger))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Str("path", WebSocketPath).Msg("websocket link listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
