// Package trace records every pin operation of a signal bank as a stream of
// CBOR records, for offline inspection of the waveforms a host produced.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/OpenTraceLab/picoblaster/pkg/signal"
)

// Op is the kind of pin operation.
type Op uint8

const (
	OpInit Op = iota + 1
	OpDirection
	OpRead
	OpWrite
)

func (o Op) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpDirection:
		return "dir"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Record is one pin operation. For OpDirection Value holds the output bits,
// for OpRead it holds the sampled levels.
type Record struct {
	_      struct{} `cbor:",toarray"`
	Offset int64
	Op     Op
	Mask   uint32
	Value  uint32
}

// Elapsed is the time since recording started.
func (r Record) Elapsed() time.Duration { return time.Duration(r.Offset) }

func (r Record) String() string {
	return fmt.Sprintf("%12s %-5s mask=%08x value=%08x", r.Elapsed(), r.Op, r.Mask, r.Value)
}

// Recorder wraps a signal bank and logs each operation before passing it
// through. Recording errors are sticky and stop further records.
type Recorder struct {
	pins  signal.Pins
	now   func() time.Time
	start time.Time

	mu    sync.Mutex
	enc   *cbor.Encoder
	count uint64
	err   error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder records the operations on pins to w.
func NewRecorder(pins signal.Pins, w io.Writer, opts ...RecorderOption) *Recorder {
	r := &Recorder{pins: pins, now: time.Now, enc: cbor.NewEncoder(w)}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	return r
}

// Err returns the first encoding error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Count returns the number of records written.
func (r *Recorder) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) record(op Op, mask, value uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return
	}
	rec := Record{Offset: int64(r.now().Sub(r.start)), Op: op, Mask: mask, Value: value}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("trace: encode record: %w", err)
		return
	}
	r.count++
}

func (r *Recorder) Init(mask uint32) {
	r.pins.Init(mask)
	r.record(OpInit, mask, 0)
}

func (r *Recorder) SetDirection(mask, outputs uint32) {
	r.pins.SetDirection(mask, outputs)
	r.record(OpDirection, mask, outputs&mask)
}

func (r *Recorder) Read() uint32 {
	v := r.pins.Read()
	r.record(OpRead, ^uint32(0), v)
	return v
}

func (r *Recorder) Write(mask, value uint32) {
	r.pins.Write(mask, value)
	r.record(OpWrite, mask, value&mask)
}

func (r *Recorder) OutputLevels() uint32 {
	return r.pins.OutputLevels()
}

// Reader decodes a recorded trace.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads records from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the trace.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("trace: decode record: %w", err)
	}
	return rec, nil
}

// ReadAll decodes every remaining record.
func (r *Reader) ReadAll() ([]Record, error) {
	var recs []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}
