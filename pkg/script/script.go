// Package script runs small line-oriented cable scripts:
//
//	# comments start with a hash
//	oe on
//	set ncs=1 tms=0
//	reset
//	tms 0 1 0 0
//	shift read 0x00 0x00 0x00 0x00
//	clock 3 tms=1 tdi=0 read
//	read
//	sleep 10
//
// Statements are separated by newlines or semicolons. Numbers are decimal,
// 0x hex or 0b binary.
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OpenTraceLab/picoblaster/pkg/cable"
	"github.com/OpenTraceLab/picoblaster/pkg/tap"
)

// Parse reads a script from r. name is used in error positions.
func Parse(name string, r io.Reader) (*Script, error) {
	s, err := parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return s, nil
}

// ParseString parses a script held in memory.
func ParseString(name, src string) (*Script, error) {
	return Parse(name, strings.NewReader(src))
}

// ParseFile parses a script file.
func ParseFile(filename string) (*Script, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return Parse(filename, f)
}

// signals maps set/clock argument names to bitbang bits.
var signals = map[string]uint8{
	"tck": cable.TCK,
	"tms": cable.TMS,
	"nce": cable.NCE,
	"ncs": cable.NCS,
	"tdi": cable.TDI,
}

// step is either a piece of the byte stream or a pause.
type step struct {
	line  int
	emit  func(*cable.Encoder)
	sleep time.Duration
}

// Program is a compiled script.
type Program struct {
	steps []step
}

// Compile checks s and turns it into a Program.
func Compile(s *Script) (*Program, error) {
	p := &Program{}
	for _, st := range s.Statements {
		fn, sleep, err := compile(st)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.Pos, err)
		}
		p.steps = append(p.steps, step{line: st.Pos.Line, emit: fn, sleep: sleep})
	}
	return p, nil
}

func compile(st *Statement) (func(*cable.Encoder), time.Duration, error) {
	switch {
	case st.OE != nil:
		on := *st.OE == "on"
		return func(e *cable.Encoder) { e.OutputEnable(on) }, 0, nil

	case st.Set != nil:
		var set, unset uint8
		for _, a := range st.Set {
			bit, ok := signals[strings.ToLower(a.Name)]
			if !ok {
				return nil, 0, fmt.Errorf("unknown signal %q", a.Name)
			}
			if a.Value == nil {
				return nil, 0, fmt.Errorf("signal %s needs a value", a.Name)
			}
			v, err := level(*a.Value)
			if err != nil {
				return nil, 0, err
			}
			if v {
				set |= bit
			} else {
				unset |= bit
			}
		}
		return func(e *cable.Encoder) { e.Set(e.Levels()&^unset | set) }, 0, nil

	case st.Read:
		return func(e *cable.Encoder) { e.Sample() }, 0, nil

	case st.Reset:
		return func(e *cable.Encoder) { e.TMS(tap.ResetPath()) }, 0, nil

	case st.TMS != nil:
		seq := make([]bool, len(st.TMS))
		for i, s := range st.TMS {
			v, err := level(s)
			if err != nil {
				return nil, 0, err
			}
			seq[i] = v
		}
		return func(e *cable.Encoder) { e.TMS(seq) }, 0, nil

	case st.Clock != nil:
		return compileClock(st.Clock)

	case st.Shift != nil:
		data := make([]byte, len(st.Shift.Data))
		for i, s := range st.Shift.Data {
			v, err := strconv.ParseUint(s, 0, 8)
			if err != nil {
				return nil, 0, fmt.Errorf("shift byte %q: %w", s, err)
			}
			data[i] = byte(v)
		}
		read := st.Shift.Read
		return func(e *cable.Encoder) { e.Shift(data, read) }, 0, nil

	case st.Sleep != nil:
		ms, err := strconv.ParseUint(*st.Sleep, 0, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("sleep %q: %w", *st.Sleep, err)
		}
		return nil, time.Duration(ms) * time.Millisecond, nil
	}
	return nil, 0, fmt.Errorf("empty statement")
}

func compileClock(c *Clock) (func(*cable.Encoder), time.Duration, error) {
	n, err := strconv.ParseUint(c.Count, 0, 16)
	if err != nil {
		return nil, 0, fmt.Errorf("clock count %q: %w", c.Count, err)
	}
	var tms, tdi, read bool
	for _, a := range c.Args {
		switch strings.ToLower(a.Name) {
		case "read":
			if a.Value != nil {
				return nil, 0, fmt.Errorf("read takes no value")
			}
			read = true
		case "tms", "tdi":
			if a.Value == nil {
				return nil, 0, fmt.Errorf("%s needs a value", a.Name)
			}
			v, err := level(*a.Value)
			if err != nil {
				return nil, 0, err
			}
			if strings.EqualFold(a.Name, "tms") {
				tms = v
			} else {
				tdi = v
			}
		default:
			return nil, 0, fmt.Errorf("unknown clock argument %q", a.Name)
		}
	}
	return func(e *cable.Encoder) {
		for i := uint64(0); i < n; i++ {
			e.Clock(tms, tdi, read)
		}
	}, 0, nil
}

func level(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("level %q is not 0 or 1", s)
}

// Encode returns the full byte stream of p, ignoring pauses.
func (p *Program) Encode() (data []byte, expect int) {
	enc := cable.NewEncoder()
	for _, st := range p.steps {
		if st.emit != nil {
			st.emit(enc)
		}
	}
	return enc.Bytes(), enc.Expect()
}

// Runner executes encoded streams. *cable.Cable implements it.
type Runner interface {
	Run(ctx context.Context, enc *cable.Encoder) ([]byte, error)
}

// Result holds the bytes one statement read back.
type Result struct {
	Line int
	Data []byte
}

func (r Result) String() string {
	return fmt.Sprintf("line %d: % x", r.Line, r.Data)
}

type span struct {
	line int
	n    int
}

// Run executes p on r. Statements between pauses go out as one stream.
func (p *Program) Run(ctx context.Context, r Runner) ([]Result, error) {
	var (
		results []Result
		spans   []span
	)
	enc := cable.NewEncoder()

	flush := func() error {
		if len(enc.Bytes()) == 0 {
			return nil
		}
		reply, err := r.Run(ctx, enc)
		if err != nil {
			return err
		}
		for _, s := range spans {
			if s.n > len(reply) {
				return fmt.Errorf("line %d: short reply", s.line)
			}
			results = append(results, Result{Line: s.line, Data: reply[:s.n]})
			reply = reply[s.n:]
		}
		spans = spans[:0]
		enc.Reset()
		return nil
	}

	for _, st := range p.steps {
		if st.emit == nil {
			if err := flush(); err != nil {
				return results, err
			}
			select {
			case <-time.After(st.sleep):
			case <-ctx.Done():
				return results, ctx.Err()
			}
			continue
		}
		before := enc.Expect()
		st.emit(enc)
		if n := enc.Expect() - before; n > 0 {
			spans = append(spans, span{line: st.line, n: n})
		}
	}
	return results, flush()
}
