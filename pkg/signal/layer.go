package signal

// Delay lengths in units of Delay.
const (
	// settleUnits covers the level shifter enable time (~400 ns at 120 MHz).
	settleUnits = 8
	// sampleUnits separates input sampling from the following output write.
	sampleUnits = 1
	// clockHighUnits is the TCK/DCLK high time during shift mode.
	clockHighUnits = 2
)

// Option configures a Layer.
type Option func(*Layer)

// WithDelay sets the busy-wait primitive. The default is NopDelay.
func WithDelay(d Delay) Option {
	return func(l *Layer) { l.delay = d }
}

// WithIndicator sets the output-enable indicator. Nil keeps the default.
func WithIndicator(ind Indicator) Option {
	return func(l *Layer) {
		if ind != nil {
			l.indicator = ind
		}
	}
}

// Layer owns the physical signal lines of one cable. It is not safe for
// concurrent use; the protocol engine drives it from a single goroutine.
type Layer struct {
	pins      Pins
	m         Map
	delay     Delay
	indicator Indicator

	initialized bool
	oe          bool
}

// NewLayer binds a signal map to a pin bank.
func NewLayer(pins Pins, m Map, opts ...Option) *Layer {
	l := &Layer{
		pins:      pins,
		m:         m,
		delay:     NopDelay{},
		indicator: nopIndicator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Map returns the signal map the layer drives.
func (l *Layer) Map() Map { return l.m }

// Pins returns the underlying bank.
func (l *Layer) Pins() Pins { return l.pins }

// Initialize configures the seven signal pins as inputs and, with a level
// shifter, the enable pin and the five writable pins as outputs. Only the
// first call has any effect.
func (l *Layer) Initialize() {
	if l.initialized {
		return
	}
	l.pins.Init(l.m.SignalMask())
	if l.m.HasOEPin() {
		oe := l.m.OEMask()
		l.pins.Init(oe)
		l.pins.SetDirection(oe, oe)
		l.pins.SetDirection(l.m.WritableMask(), l.m.WritableMask())
	}
	l.indicator.SetActive(false)
	l.initialized = true
}

// Initialized reports whether Initialize ran.
func (l *Layer) Initialized() bool { return l.initialized }

// OutputEnabled reports the debounced output-enable state.
func (l *Layer) OutputEnabled() bool { return l.oe }

// SetOutputEnable gates the writable signals onto the bus. Redundant calls
// are no-ops. With a level shifter the enable pin is driven and the call
// waits for the shifter to settle before returning; otherwise the writable
// pins switch between output and high impedance.
func (l *Layer) SetOutputEnable(enable bool) {
	if l.oe == enable {
		return
	}
	l.oe = enable
	l.indicator.SetActive(enable)

	if l.m.HasOEPin() {
		var v uint32
		if enable {
			v = l.m.OEMask()
		}
		l.pins.Write(l.m.OEMask(), v)
		l.delay.Wait(settleUnits)
		return
	}

	var dir uint32
	if enable {
		dir = l.m.WritableMask()
	}
	l.pins.SetDirection(l.m.WritableMask(), dir)
}

// BitbangExchange samples both input signals, then drives all five writable
// signals from payload in one masked write. The returned value carries
// TDO/CONF_DONE in bit0 and DATAOUT/nSTATUS in bit1, as sampled before the
// new levels were applied.
func (l *Layer) BitbangExchange(payload uint8) uint8 {
	levels := l.pins.Read()
	var ret uint8
	if levels&l.m.Mask(TDO) != 0 {
		ret |= 0x01
	}
	if levels&l.m.Mask(DataOut) != 0 {
		ret |= 0x02
	}
	l.delay.Wait(sampleUnits)
	l.pins.Write(l.m.WritableMask(), l.m.Pack(payload))
	return ret
}

// ShiftExchange clocks one byte out on TDI, LSB first, while sampling one
// input into the result from the top bit down. nCS high selects TDO/CONF_DONE,
// nCS low selects DATAOUT/nSTATUS; the choice is made once per byte.
func (l *Layer) ShiftExchange(data uint8) uint8 {
	in := l.m.Mask(DataOut)
	if l.pins.OutputLevels()&l.m.Mask(NCS) != 0 {
		in = l.m.Mask(TDO)
	}
	tdi := l.m.Mask(TDI)
	tck := l.m.Mask(TCK)

	var ret uint8
	for i := 0; i < 8; i++ {
		var bit uint32
		if data&1 != 0 {
			bit = tdi
		}
		l.pins.Write(tdi, bit)

		ret >>= 1
		if l.pins.Read()&in != 0 {
			ret |= 0x80
		}

		l.pins.Write(tck, tck)
		l.delay.Wait(clockHighUnits)
		l.pins.Write(tck, 0)

		data >>= 1
	}
	return ret
}

// ClockLow forces TCK/DCLK low.
func (l *Layer) ClockLow() {
	l.pins.Write(l.m.Mask(TCK), 0)
}

// DriveLow forces all five writable signals low in one masked write.
func (l *Layer) DriveLow() {
	l.pins.Write(l.m.WritableMask(), 0)
}

// Levels returns the seven signal levels, bit0 = TCK.
func (l *Layer) Levels() uint8 {
	return l.m.Unpack(l.pins.Read())
}
