// Package config loads the emulator settings from TOML.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/OpenTraceLab/picoblaster/pkg/indicator"
	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/target"
	"github.com/OpenTraceLab/picoblaster/pkg/transport"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Pin backends.
const (
	PinsSim  = "sim"
	PinsGPIO = "gpio"
)

// Indicator kinds.
const (
	IndicatorNone = "none"
	IndicatorLED  = "led"
	IndicatorRGB  = "rgb"
	IndicatorLog  = "log"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportSerial    = "serial"
)

// Transport selects the host link.
type Transport struct {
	Kind   string
	Listen string
	Port   string
	Baud   int
}

// Config is the resolved emulator configuration.
type Config struct {
	Pins    string
	BasePin int
	OEPin   int

	Indicator string
	LEDPin    int
	RGBPort   string
	RGBOn     uint32
	RGBOff    uint32

	DelayUnit     time.Duration
	FlushInterval time.Duration
	PollInterval  time.Duration

	Transport Transport
	TracePath string
	LogLevel  string
	LogJSON   bool
	Target    target.Config
}

// Default returns the settings of a stock board: signals on GPIO 11..17,
// no level shifter and the activity LED on GPIO 25.
func Default() Config {
	return Config{
		Pins:          PinsSim,
		BasePin:       11,
		OEPin:         signal.NoPin,
		Indicator:     IndicatorLog,
		LEDPin:        25,
		RGBOn:         indicator.ColorOn,
		RGBOff:        indicator.ColorOff,
		DelayUnit:     signal.DefaultUnit,
		FlushInterval: transport.DefaultFlushInterval,
		PollInterval:  time.Millisecond,
		Transport: Transport{
			Kind:   TransportWebSocket,
			Listen: "127.0.0.1:8675",
			Baud:   transport.DefaultBaud,
		},
		LogLevel: "info",
		Target:   target.DefaultConfig(),
	}
}

// Map returns the pin map of c.
func (c Config) Map() (signal.Map, error) {
	return signal.NewMap(c.BasePin, c.OEPin)
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
	}

	switch c.Pins {
	case PinsSim, PinsGPIO:
	default:
		return bad("pins %q (want sim or gpio)", c.Pins)
	}
	if _, err := c.Map(); err != nil {
		return bad("pin map: %v", err)
	}
	switch c.Indicator {
	case IndicatorNone, IndicatorLog:
	case IndicatorLED:
		if c.LEDPin < 0 || c.LEDPin >= signal.BankWidth {
			return bad("led_pin %d", c.LEDPin)
		}
		if m, _ := c.Map(); m.SignalMask()&(1<<uint(c.LEDPin)) != 0 {
			return bad("led_pin %d overlaps the signal pins", c.LEDPin)
		}
		if c.LEDPin == c.OEPin {
			return bad("led_pin %d is the oe_pin", c.LEDPin)
		}
	case IndicatorRGB:
		if c.RGBPort == "" && c.Pins == PinsGPIO {
			return bad("rgb indicator needs rgb_port")
		}
	default:
		return bad("indicator %q", c.Indicator)
	}
	if c.FlushInterval <= 0 || c.PollInterval <= 0 || c.DelayUnit < 0 {
		return bad("intervals must be positive")
	}
	switch c.Transport.Kind {
	case TransportWebSocket:
		if c.Transport.Listen == "" {
			return bad("transport.listen is empty")
		}
	case TransportSerial:
		if c.Transport.Port == "" {
			return bad("transport.port is empty")
		}
		if c.Transport.Baud <= 0 {
			return bad("transport.baud %d", c.Transport.Baud)
		}
	default:
		return bad("transport.kind %q", c.Transport.Kind)
	}
	if err := c.Target.Validate(); err != nil {
		return bad("%v", err)
	}
	return nil
}

type fileConfig struct {
	Pins          string `toml:"pins"`
	BasePin       int    `toml:"base_pin"`
	OEPin         int    `toml:"oe_pin"`
	Indicator     string `toml:"indicator"`
	LEDPin        int    `toml:"led_pin"`
	RGBPort       string `toml:"rgb_port"`
	RGBOn         uint32 `toml:"rgb_on"`
	RGBOff        uint32 `toml:"rgb_off"`
	DelayUnit     string `toml:"delay_unit"`
	FlushInterval string `toml:"flush_interval"`
	PollInterval  string `toml:"poll_interval"`

	Transport struct {
		Kind   string `toml:"kind"`
		Listen string `toml:"listen"`
		Port   string `toml:"port"`
		Baud   int    `toml:"baud"`
	} `toml:"transport"`

	Trace struct {
		Path string `toml:"path"`
	} `toml:"trace"`

	Log struct {
		Level string `toml:"level"`
		JSON  bool   `toml:"json"`
	} `toml:"log"`

	Target struct {
		IDCode      uint32 `toml:"idcode"`
		IRLength    int    `toml:"ir_length"`
		IDCodeInstr uint32 `toml:"idcode_instr"`
	} `toml:"target"`
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return resolve(raw, meta)
}

// Parse is Load for in-memory TOML.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undec := meta.Undecoded(); len(undec) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalid, undec[0])
	}
	cfg := Default()

	if meta.IsDefined("pins") {
		cfg.Pins = strings.ToLower(strings.TrimSpace(raw.Pins))
	}
	if meta.IsDefined("base_pin") {
		cfg.BasePin = raw.BasePin
	}
	if meta.IsDefined("oe_pin") {
		cfg.OEPin = raw.OEPin
	}
	if meta.IsDefined("indicator") {
		cfg.Indicator = strings.ToLower(strings.TrimSpace(raw.Indicator))
	}
	if meta.IsDefined("led_pin") {
		cfg.LEDPin = raw.LEDPin
	}
	if meta.IsDefined("rgb_port") {
		cfg.RGBPort = strings.TrimSpace(raw.RGBPort)
	}
	if meta.IsDefined("rgb_on") {
		cfg.RGBOn = raw.RGBOn
	}
	if meta.IsDefined("rgb_off") {
		cfg.RGBOff = raw.RGBOff
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"delay_unit", raw.DelayUnit, &cfg.DelayUnit},
		{"flush_interval", raw.FlushInterval, &cfg.FlushInterval},
		{"poll_interval", raw.PollInterval, &cfg.PollInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("transport", "kind") {
		cfg.Transport.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if meta.IsDefined("transport", "listen") {
		cfg.Transport.Listen = strings.TrimSpace(raw.Transport.Listen)
	}
	if meta.IsDefined("transport", "port") {
		cfg.Transport.Port = strings.TrimSpace(raw.Transport.Port)
	}
	if meta.IsDefined("transport", "baud") {
		cfg.Transport.Baud = raw.Transport.Baud
	}
	if meta.IsDefined("trace", "path") {
		cfg.TracePath = strings.TrimSpace(raw.Trace.Path)
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.LogJSON = raw.Log.JSON
	}
	if meta.IsDefined("target", "idcode") {
		cfg.Target.IDCode = raw.Target.IDCode
	}
	if meta.IsDefined("target", "ir_length") {
		cfg.Target.IRLength = raw.Target.IRLength
	}
	if meta.IsDefined("target", "idcode_instr") {
		cfg.Target.IDCodeInstr = raw.Target.IDCodeInstr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
