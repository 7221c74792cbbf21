package signal

import (
	"errors"
	"testing"
)

const testBase = 11

func newLoopbackLayer(t *testing.T, oePin int) (*Layer, *SimPins) {
	t.Helper()
	m, err := NewMap(testBase, oePin)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	pins := NewSimPins()
	pins.Connect(m.Pin(TDI), m.Pin(TDO))
	pins.Connect(m.Pin(TDI), m.Pin(DataOut))
	l := NewLayer(pins, m)
	l.Initialize()
	return l, pins
}

type countingIndicator struct {
	states []bool
}

func (c *countingIndicator) SetActive(on bool) { c.states = append(c.states, on) }

type countingDelay struct {
	units []int
}

func (c *countingDelay) Wait(n int) { c.units = append(c.units, n) }

func TestNewMapValidation(t *testing.T) {
	cases := []struct {
		name  string
		base  int
		oe    int
		valid bool
	}{
		{"default", 11, NoPin, true},
		{"with oe", 11, 15 + 5, true},
		{"top of bank", 25, NoPin, true},
		{"past bank", 26, NoPin, false},
		{"negative", -1, NoPin, false},
		{"oe overlaps", 11, 14, false},
		{"oe out of range", 0, 40, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMap(tc.base, tc.oe)
			if tc.valid && err != nil {
				t.Fatalf("NewMap(%d, %d) error = %v", tc.base, tc.oe, err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidMap) {
				t.Fatalf("NewMap(%d, %d) error = %v, want ErrInvalidMap", tc.base, tc.oe, err)
			}
		})
	}
}

func TestMapMasks(t *testing.T) {
	m := MustMap(11, NoPin)
	if got, want := m.WritableMask(), uint32(0x1F<<11); got != want {
		t.Fatalf("WritableMask = %#x, want %#x", got, want)
	}
	if got, want := m.Mask(TDO), uint32(1<<16); got != want {
		t.Fatalf("Mask(TDO) = %#x, want %#x", got, want)
	}
	if got := m.Unpack(m.Pack(0x15)); got != 0x15 {
		t.Fatalf("Unpack(Pack(0x15)) = %#x", got)
	}
	if TDO.Writable() || !TDI.Writable() {
		t.Fatalf("writable classification wrong")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	m := MustMap(testBase, 2)
	pins := NewSimPins()
	l := NewLayer(pins, m)
	l.Initialize()

	if got := pins.Directions(); got != m.WritableMask()|m.OEMask() {
		t.Fatalf("directions after init = %#x, want %#x", got, m.WritableMask()|m.OEMask())
	}

	pins.SetDirection(m.WritableMask(), 0)
	l.Initialize()
	if got := pins.Directions() & m.WritableMask(); got != 0 {
		t.Fatalf("second Initialize reconfigured pins: dir = %#x", got)
	}
}

func TestInitializeWithoutOEPinLeavesInputs(t *testing.T) {
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	NewLayer(pins, m).Initialize()
	if pins.Directions() != 0 {
		t.Fatalf("directions = %#x, want all inputs", pins.Directions())
	}
}

func TestSetOutputEnableTogglesDirection(t *testing.T) {
	ind := &countingIndicator{}
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	l := NewLayer(pins, m, WithIndicator(ind))
	l.Initialize()

	l.SetOutputEnable(true)
	if pins.Directions() != m.WritableMask() {
		t.Fatalf("dir = %#x, want %#x", pins.Directions(), m.WritableMask())
	}
	l.SetOutputEnable(true)
	l.SetOutputEnable(false)
	if pins.Directions() != 0 {
		t.Fatalf("dir = %#x, want 0", pins.Directions())
	}

	// init reports off, then one entry per real change.
	want := []bool{false, true, false}
	if len(ind.states) != len(want) {
		t.Fatalf("indicator calls = %v, want %v", ind.states, want)
	}
	for i := range want {
		if ind.states[i] != want[i] {
			t.Fatalf("indicator calls = %v, want %v", ind.states, want)
		}
	}
}

func TestSetOutputEnableDrivesShifterPin(t *testing.T) {
	delay := &countingDelay{}
	m := MustMap(testBase, 3)
	pins := NewSimPins()
	l := NewLayer(pins, m, WithDelay(delay))
	l.Initialize()
	pins.ClearHistory()

	l.SetOutputEnable(true)
	last, ok := pins.LastWrite()
	if !ok || last.Mask != m.OEMask() || last.Value != m.OEMask() {
		t.Fatalf("last write = %+v, want oe pin high", last)
	}
	if len(delay.units) != 1 || delay.units[0] != settleUnits {
		t.Fatalf("settle delay = %v, want [%d]", delay.units, settleUnits)
	}

	l.SetOutputEnable(true)
	if len(pins.Writes()) != 1 {
		t.Fatalf("redundant enable wrote %d times", len(pins.Writes()))
	}
}

func TestBitbangSamplesBeforeWrite(t *testing.T) {
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	l := NewLayer(pins, m)
	l.Initialize()
	l.SetOutputEnable(true)

	// The attached device raises TDO as soon as TDI goes high. The sample
	// must still reflect the level before the write.
	pins.Watch(WatcherFunc(func(levels uint32) {
		if levels&m.Mask(TDI) != 0 {
			pins.Drive(m.Mask(TDO), m.Mask(TDO))
		} else {
			pins.Drive(m.Mask(TDO), 0)
		}
	}))

	if got := l.BitbangExchange(0x10); got != 0 {
		t.Fatalf("first exchange = %#x, want 0", got)
	}
	if got := l.BitbangExchange(0x10); got != 0x01 {
		t.Fatalf("second exchange = %#x, want 0x01", got)
	}
}

func TestBitbangSingleMaskedWrite(t *testing.T) {
	l, pins := newLoopbackLayer(t, NoPin)
	pins.ClearHistory()

	l.BitbangExchange(0x05)

	writes := pins.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	m := l.Map()
	if writes[0].Mask != m.WritableMask() || writes[0].Value != 0x05<<testBase {
		t.Fatalf("write = %+v, want mask %#x value %#x", writes[0], m.WritableMask(), 0x05<<testBase)
	}
}

func TestBitbangPacksBothInputs(t *testing.T) {
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	l := NewLayer(pins, m)
	l.Initialize()

	pins.Drive(m.Mask(TDO)|m.Mask(DataOut), m.Mask(DataOut))
	if got := l.BitbangExchange(0); got != 0x02 {
		t.Fatalf("exchange = %#x, want 0x02", got)
	}
	pins.Drive(m.Mask(TDO)|m.Mask(DataOut), m.Mask(TDO)|m.Mask(DataOut))
	if got := l.BitbangExchange(0); got != 0x03 {
		t.Fatalf("exchange = %#x, want 0x03", got)
	}
}

func TestShiftLoopback(t *testing.T) {
	for _, nCS := range []bool{true, false} {
		l, _ := newLoopbackLayer(t, NoPin)
		l.SetOutputEnable(true)
		var payload uint8
		if nCS {
			payload = 0x08
		}
		l.BitbangExchange(payload)

		for _, v := range []uint8{0xA5, 0x00, 0xFF, 0x01, 0x80, 0x3C} {
			if got := l.ShiftExchange(v); got != v {
				t.Fatalf("nCS=%v ShiftExchange(%#02x) = %#02x", nCS, v, got)
			}
		}
	}
}

func TestShiftSelectsInputByNCS(t *testing.T) {
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	l := NewLayer(pins, m)
	l.Initialize()
	l.SetOutputEnable(true)

	pins.Drive(m.Mask(TDO)|m.Mask(DataOut), m.Mask(TDO))

	l.BitbangExchange(0x08) // nCS high -> TDO
	if got := l.ShiftExchange(0); got != 0xFF {
		t.Fatalf("nCS high shift = %#x, want 0xFF", got)
	}
	l.BitbangExchange(0x00) // nCS low -> DATAOUT
	if got := l.ShiftExchange(0); got != 0x00 {
		t.Fatalf("nCS low shift = %#x, want 0x00", got)
	}
}

func TestShiftClocksEightPulsesLSBFirst(t *testing.T) {
	m := MustMap(testBase, NoPin)
	pins := NewSimPins()
	l := NewLayer(pins, m)
	l.Initialize()
	l.SetOutputEnable(true)

	var tdiAtRise []bool
	prevTCK := false
	pins.Watch(WatcherFunc(func(levels uint32) {
		tck := levels&m.Mask(TCK) != 0
		if tck && !prevTCK {
			tdiAtRise = append(tdiAtRise, levels&m.Mask(TDI) != 0)
		}
		prevTCK = tck
	}))

	l.ShiftExchange(0x01)

	if len(tdiAtRise) != 8 {
		t.Fatalf("rising edges = %d, want 8", len(tdiAtRise))
	}
	if !tdiAtRise[0] {
		t.Fatalf("first bit on the wire must be the LSB")
	}
	for i, b := range tdiAtRise[1:] {
		if b {
			t.Fatalf("bit %d high, want low", i+1)
		}
	}
	if pins.OutputLevels()&m.Mask(TCK) != 0 {
		t.Fatalf("TCK left high after shift")
	}
}

func TestDriveLowSingleWrite(t *testing.T) {
	l, pins := newLoopbackLayer(t, NoPin)
	l.SetOutputEnable(true)
	l.BitbangExchange(0x1F)
	pins.ClearHistory()

	l.DriveLow()

	writes := pins.Writes()
	if len(writes) != 1 || writes[0].Mask != l.Map().WritableMask() || writes[0].Value != 0 {
		t.Fatalf("writes = %+v, want one masked write of zero", writes)
	}
	if pins.OutputLevels()&l.Map().WritableMask() != 0 {
		t.Fatalf("outputs still high: %#x", pins.OutputLevels())
	}
}

func TestCycleDelayCalibrate(t *testing.T) {
	d := Calibrate(DefaultUnit)
	if d.Loops() < 1 {
		t.Fatalf("Loops() = %d, want >= 1", d.Loops())
	}
	d.Wait(4)
	NewCycleDelay(0).Wait(1)
}
