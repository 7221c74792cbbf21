package script

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/OpenTraceLab/picoblaster/pkg/cable"
	"github.com/OpenTraceLab/picoblaster/pkg/device"
	"github.com/OpenTraceLab/picoblaster/pkg/signal"
	"github.com/OpenTraceLab/picoblaster/pkg/target"
)

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	s, err := ParseString("test", src)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	p, err := Compile(s)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return p
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		want   []byte
		expect int
	}{
		{"oe", "oe on\noe off", []byte{0x20, 0x00}, 0},
		{"set", "set ncs=1 tms=1; set tms=0", []byte{0x0A, 0x08}, 0},
		{"read", "# sample\nread\n", []byte{0x40}, 1},
		{"clock", "clock 2 tms=1 read", []byte{0x42, 0x03, 0x02, 0x42, 0x03, 0x02}, 2},
		{"clock tdi", "clock 1 tdi=1", []byte{0x10, 0x11, 0x10}, 0},
		{"tms", "tms 1 0", []byte{0x02, 0x03, 0x02, 0x00, 0x01, 0x00}, 0},
		{"shift", "shift 0xA5 0b11 7", []byte{0x83, 0xA5, 0x03, 0x07}, 0},
		{"shift read", "shift read 0xFF", []byte{0xC1, 0xFF}, 1},
		{"sleep ignored", "read\nsleep 5\nread", []byte{0x40, 0x40}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, expect := mustCompile(t, tt.src).Encode()
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("bytes = %x, want %x", got, tt.want)
			}
			if expect != tt.expect {
				t.Fatalf("expect = %d, want %d", expect, tt.expect)
			}
		})
	}
}

func TestResetStatement(t *testing.T) {
	got, _ := mustCompile(t, "reset").Encode()
	// Five TCK cycles with TMS high.
	if len(got) != 15 {
		t.Fatalf("len = %d, want 15", len(got))
	}
	for i := 0; i < 15; i += 3 {
		if got[i] != 0x02 || got[i+1] != 0x03 || got[i+2] != 0x02 {
			t.Fatalf("cycle %d = %x", i/3, got[i:i+3])
		}
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown signal", "set foo=1", "unknown signal"},
		{"missing value", "set tms", "needs a value"},
		{"bad level", "set tms=2", "not 0 or 1"},
		{"bad byte", "shift 0x100", "shift byte"},
		{"bad clock arg", "clock 1 tck=1", "unknown clock argument"},
		{"read value", "clock 1 read=1", "takes no value"},
		{"position", "read\nset bar=0", "test:2:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseString("test", tt.src)
			if err != nil {
				t.Fatalf("ParseString: %v", err)
			}
			_, err = Compile(s)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"bogus", "oe maybe", "shift", "clock tms=1"} {
		if _, err := ParseString("test", src); err == nil {
			t.Fatalf("%q parsed", src)
		}
	}
}

type fakeRunner struct {
	streams [][]byte
	fill    byte
}

func (f *fakeRunner) Run(_ context.Context, enc *cable.Encoder) ([]byte, error) {
	f.streams = append(f.streams, append([]byte(nil), enc.Bytes()...))
	f.fill++
	return bytes.Repeat([]byte{f.fill}, enc.Expect()), nil
}

func TestRunSplitsAtSleep(t *testing.T) {
	p := mustCompile(t, "read\nshift read 1 2\nsleep 1\noe on\nclock 1 read")
	r := &fakeRunner{}

	results, err := p.Run(context.Background(), r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.streams) != 2 {
		t.Fatalf("streams = %d, want 2", len(r.streams))
	}
	want := []Result{
		{Line: 1, Data: []byte{1}},
		{Line: 2, Data: []byte{1, 1}},
		{Line: 5, Data: []byte{2}},
	}
	if len(results) != len(want) {
		t.Fatalf("results = %v", results)
	}
	for i := range want {
		if results[i].Line != want[i].Line || !bytes.Equal(results[i].Data, want[i].Data) {
			t.Fatalf("result %d = %v, want %v", i, results[i], want[i])
		}
	}
}

func TestRunCancelledDuringSleep(t *testing.T) {
	p := mustCompile(t, "sleep 10000")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Run(ctx, &fakeRunner{}); err != context.DeadlineExceeded {
		t.Fatalf("err = %v", err)
	}
}

const idcodeScript = `
set ncs=1
oe on
reset
tms 0 1 0 0
shift read 0 0 0
clock 7 read
clock 1 tms=1 read
tms 1 0
oe off
`

func TestRunAgainstEmulator(t *testing.T) {
	m := signal.MustMap(11, signal.NoPin)
	pins := signal.NewSimPins()
	if _, err := target.Attach(pins, m, target.DefaultConfig()); err != nil {
		t.Fatalf("target.Attach: %v", err)
	}
	layer := signal.NewLayer(pins, m)
	dev, err := device.New(device.Config{Signals: layer, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("device.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		dev.Run(ctx)
	}()
	c := cable.New(cable.NewMemConn(dev), cable.WithTimeout(2*time.Second))
	defer func() {
		c.Close()
		cancel()
		<-done
	}()

	results, err := mustCompile(t, idcodeScript).Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var bits []byte
	for _, r := range results {
		bits = append(bits, r.Data...)
	}
	if len(bits) != 11 {
		t.Fatalf("reply = %x", bits)
	}
	id := uint32(bits[0]) | uint32(bits[1])<<8 | uint32(bits[2])<<16
	for i, b := range bits[3:] {
		id |= uint32(b&1) << uint(24+i)
	}
	if id != target.DefaultIDCode {
		t.Fatalf("IDCODE = %#08x, want %#08x", id, target.DefaultIDCode)
	}
}
