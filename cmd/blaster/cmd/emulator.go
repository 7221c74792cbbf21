package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/picoblaster/pkg/config"
	"github.com/OpenTraceLab/picoblaster/pkg/device"
	"github.com/OpenTraceLab/picoblaster/pkg/indicator"
	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/target"
	"github.com/OpenTraceLab/picoblaster/pkg/trace"
)

// emulator is a device wired to its pin bank, lights and optional trace.
type emulator struct {
	dev     *device.Device
	target  *target.Device
	tracer  *trace.Recorder
	closers []io.Closer
}

func buildEmulator(cfg config.Config, log zerolog.Logger) (*emulator, error) {
	m, err := cfg.Map()
	if err != nil {
		return nil, err
	}
	e := &emulator{}
	fail := func(err error) (*emulator, error) {
		e.Close()
		return nil, err
	}

	var pins signal.Pins
	switch cfg.Pins {
	case config.PinsSim:
		sim := signal.NewSimPins()
		if e.target, err = target.Attach(sim, m, cfg.Target); err != nil {
			return nil, err
		}
		pins = sim
		log.Info().Str("idcode", fmt.Sprintf("%#08x", cfg.Target.IDCode)).Msg("simulated target attached")
	case config.PinsGPIO:
		mask := m.SignalMask()
		if m.HasOEPin() {
			mask |= m.OEMask()
		}
		if cfg.Indicator == config.IndicatorLED {
			mask |= 1 << uint(cfg.LEDPin)
		}
		gp, err := signal.OpenPeriphPins(mask, m.Mask(signal.TCK))
		if err != nil {
			return nil, err
		}
		pins = gp
	default:
		return nil, fmt.Errorf("unknown pin backend %q", cfg.Pins)
	}

	if cfg.TracePath != "" {
		f, err := os.Create(cfg.TracePath)
		if err != nil {
			return fail(fmt.Errorf("create trace: %w", err))
		}
		e.closers = append(e.closers, f)
		e.tracer = trace.NewRecorder(pins, f)
		pins = e.tracer
		log.Info().Str("path", cfg.TracePath).Msg("tracing pin operations")
	}

	active, err := e.activity(cfg, pins, log)
	if err != nil {
		return fail(err)
	}

	opts := []signal.Option{signal.WithIndicator(active)}
	if cfg.Pins == config.PinsGPIO && cfg.DelayUnit > 0 {
		d := signal.Calibrate(cfg.DelayUnit)
		log.Debug().Int("loops", d.Loops()).Dur("unit", cfg.DelayUnit).Msg("delay calibrated")
		opts = append(opts, signal.WithDelay(d))
	}
	layer := signal.NewLayer(pins, m, opts...)

	var status signal.Indicator
	if cfg.Indicator != config.IndicatorNone {
		status = indicator.NewLog(log, "link")
	}
	e.dev, err = device.New(device.Config{
		Signals:       layer,
		Levels:        layer.Levels,
		Status:        status,
		FlushInterval: cfg.FlushInterval,
		PollInterval:  cfg.PollInterval,
		Log:           log,
	})
	if err != nil {
		return fail(err)
	}
	return e, nil
}

// activity builds the light that follows the output enable.
func (e *emulator) activity(cfg config.Config, pins signal.Pins, log zerolog.Logger) (signal.Indicator, error) {
	switch cfg.Indicator {
	case config.IndicatorLED:
		return indicator.Multi{indicator.NewLED(pins, cfg.LEDPin), indicator.NewLog(log, "active")}, nil
	case config.IndicatorRGB:
		if cfg.Pins == config.PinsSim {
			return indicator.NewLog(log, "rgb"), nil
		}
		px, err := indicator.OpenSPIPixel(cfg.RGBPort)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, px)
		return indicator.NewPixel(px, cfg.RGBOn, cfg.RGBOff, log), nil
	case config.IndicatorLog:
		return indicator.NewLog(log, "active"), nil
	}
	return nil, nil
}

// run services the device until ctx ends.
func (e *emulator) run(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.dev.Run(ctx) }()
	return done
}

func (e *emulator) Close() error {
	var first error
	if e.tracer != nil {
		first = e.tracer.Err()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
