// Package tap models the IEEE 1149.1 TAP controller: its sixteen states, the
// TMS-driven transitions between them and the shortest TMS paths from one
// state to another.
package tap

import "fmt"

// State is a TAP controller state.
type State uint8

const (
	TestLogicReset State = iota
	RunTestIdle
	SelectDRScan
	CaptureDR
	ShiftDR
	Exit1DR
	PauseDR
	Exit2DR
	UpdateDR
	SelectIRScan
	CaptureIR
	ShiftIR
	Exit1IR
	PauseIR
	Exit2IR
	UpdateIR

	numStates
)

var names = [numStates]string{
	"Test-Logic-Reset", "Run-Test/Idle",
	"Select-DR-Scan", "Capture-DR", "Shift-DR", "Exit1-DR", "Pause-DR", "Exit2-DR", "Update-DR",
	"Select-IR-Scan", "Capture-IR", "Shift-IR", "Exit1-IR", "Pause-IR", "Exit2-IR", "Update-IR",
}

// next[s][tms] is the state entered on the rising TCK edge.
var next = [numStates][2]State{
	TestLogicReset: {RunTestIdle, TestLogicReset},
	RunTestIdle:    {RunTestIdle, SelectDRScan},
	SelectDRScan:   {CaptureDR, SelectIRScan},
	CaptureDR:      {ShiftDR, Exit1DR},
	ShiftDR:        {ShiftDR, Exit1DR},
	Exit1DR:        {PauseDR, UpdateDR},
	PauseDR:        {PauseDR, Exit2DR},
	Exit2DR:        {ShiftDR, UpdateDR},
	UpdateDR:       {RunTestIdle, SelectDRScan},
	SelectIRScan:   {CaptureIR, TestLogicReset},
	CaptureIR:      {ShiftIR, Exit1IR},
	ShiftIR:        {ShiftIR, Exit1IR},
	Exit1IR:        {PauseIR, UpdateIR},
	PauseIR:        {PauseIR, Exit2IR},
	Exit2IR:        {ShiftIR, UpdateIR},
	UpdateIR:       {RunTestIdle, SelectDRScan},
}

func (s State) String() string {
	if s < numStates {
		return names[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Valid reports whether s is one of the sixteen states.
func (s State) Valid() bool { return s < numStates }

// Next returns the state after one TCK cycle with the given TMS level.
func (s State) Next(tms bool) State {
	if tms {
		return next[s][1]
	}
	return next[s][0]
}

// IsShift reports Shift-DR and Shift-IR, where TDO carries register data.
func (s State) IsShift() bool { return s == ShiftDR || s == ShiftIR }

// IsIR reports whether s is on the instruction register column.
func (s State) IsIR() bool { return s >= SelectIRScan && s <= UpdateIR }

// Stable reports the states a controller can idle in with TMS held.
func (s State) Stable() bool {
	switch s {
	case TestLogicReset, RunTestIdle, ShiftDR, PauseDR, ShiftIR, PauseIR:
		return true
	}
	return false
}

// ResetPath is the TMS sequence that reaches Test-Logic-Reset from any state.
func ResetPath() []bool {
	return []bool{true, true, true, true, true}
}

// Path returns the shortest TMS sequence leading from one state to another.
// It is empty when from == to.
func Path(from, to State) ([]bool, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("tap: invalid state in path %d -> %d", from, to)
	}
	if from == to {
		return nil, nil
	}

	var prev [numStates]State
	var bit [numStates]bool
	var seen [numStates]bool
	seen[from] = true
	queue := []State{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, tms := range []bool{false, true} {
			n := s.Next(tms)
			if seen[n] {
				continue
			}
			seen[n] = true
			prev[n] = s
			bit[n] = tms
			if n == to {
				var path []bool
				for c := to; c != from; c = prev[c] {
					path = append(path, bit[c])
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path, nil
			}
			queue = append(queue, n)
		}
	}
	// Every state is reachable from every other.
	return nil, fmt.Errorf("tap: no path %s -> %s", from, to)
}

// Controller follows a TAP controller through the TMS levels it is clocked
// with.
type Controller struct {
	state State
}

// NewController starts in Test-Logic-Reset.
func NewController() *Controller {
	return &Controller{state: TestLogicReset}
}

// State returns the tracked state.
func (c *Controller) State() State { return c.state }

// Clock applies one TCK cycle.
func (c *Controller) Clock(tms bool) State {
	c.state = c.state.Next(tms)
	return c.state
}

// Reset forces Test-Logic-Reset and returns the TMS sequence that does so.
func (c *Controller) Reset() []bool {
	c.state = TestLogicReset
	return ResetPath()
}

// GoTo moves to target and returns the TMS sequence applied.
func (c *Controller) GoTo(target State) ([]bool, error) {
	path, err := Path(c.state, target)
	if err != nil {
		return nil, err
	}
	c.state = target
	return path, nil
}
