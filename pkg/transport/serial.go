package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// DefaultBaud is used when no baud rate is configured.
const DefaultBaud = 921600

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(name string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", name, err)
	}
	return port, nil
}

// SerialLink serves a Port over a serial line using the framed packet
// stream.
type SerialLink struct {
	Name string
	Baud int
	Log  zerolog.Logger
}

// Serve opens the port and runs ServeStream until ctx ends.
func (l SerialLink) Serve(ctx context.Context, port Port) error {
	p, err := OpenSerial(l.Name, l.Baud)
	if err != nil {
		return err
	}
	defer p.Close()

	go func() {
		<-ctx.Done()
		p.Close()
	}()

	l.Log.Info().Str("port", l.Name).Int("baud", l.Baud).Msg("serial link open")
	err = ServeStream(ctx, port, p, l.Log)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
