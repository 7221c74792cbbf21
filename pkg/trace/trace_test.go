package trace

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
)

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	c.t = c.t.Add(time.Microsecond)
	return c.t
}

func TestRecorderPassesThroughAndRecords(t *testing.T) {
	var buf bytes.Buffer
	pins := signal.NewSimPins()
	clock := &fixedClock{t: time.Unix(0, 0)}
	rec := NewRecorder(pins, &buf, WithClock(clock.now))

	m := signal.MustMap(11, signal.NoPin)
	layer := signal.NewLayer(rec, m)
	layer.Initialize()
	layer.SetOutputEnable(true)
	layer.BitbangExchange(0x1F)

	if pins.OutputLevels()&m.WritableMask() != m.WritableMask() {
		t.Fatalf("write not passed through: %#x", pins.OutputLevels())
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}

	recs, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if uint64(len(recs)) != rec.Count() {
		t.Fatalf("decoded %d records, recorder counted %d", len(recs), rec.Count())
	}
	wantOps := []Op{OpInit, OpDirection, OpRead, OpWrite}
	if len(recs) != len(wantOps) {
		t.Fatalf("records = %v", recs)
	}
	for i, op := range wantOps {
		if recs[i].Op != op {
			t.Fatalf("record %d op = %s, want %s", i, recs[i].Op, op)
		}
	}
	last := recs[len(recs)-1]
	if last.Mask != m.WritableMask() || last.Value != m.WritableMask() {
		t.Fatalf("write record = %s", last)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Elapsed() <= recs[i-1].Elapsed() {
			t.Fatalf("offsets not increasing: %v", recs)
		}
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorderStickyError(t *testing.T) {
	rec := NewRecorder(signal.NewSimPins(), failWriter{})
	rec.Write(1, 1)
	rec.Write(1, 0)
	if rec.Err() == nil {
		t.Fatalf("encode error not reported")
	}
	if rec.Count() != 0 {
		t.Fatalf("count = %d after failures", rec.Count())
	}
}

func TestReaderTruncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(signal.NewSimPins(), &buf)
	rec.Write(0xFF, 0x0F)
	data := buf.Bytes()

	r := NewReader(bytes.NewReader(data[:len(data)-1]))
	if _, err := r.Next(); err == nil || err == io.EOF {
		t.Fatalf("truncated record error = %v", err)
	}

	r = NewReader(bytes.NewReader(nil))
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("empty trace error = %v, want io.EOF", err)
	}
}
