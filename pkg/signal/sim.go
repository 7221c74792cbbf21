package signal

// Watcher is notified after every change of a SimPins output latch or
// direction, with the resulting pad levels.
type Watcher interface {
	PinsChanged(levels uint32)
}

// WatcherFunc adapts a function to Watcher.
type WatcherFunc func(levels uint32)

func (f WatcherFunc) PinsChanged(levels uint32) { f(levels) }

type wire struct {
	from, to uint32
}

// WriteOp captures one masked write for inspection within tests.
type WriteOp struct {
	Mask  uint32
	Value uint32
}

// SimPins is an in-memory pin bank. Inputs float low unless driven with
// Drive or connected to an output with Connect. It records the masked writes
// it receives so tests can assert on the exact operations issued.
type SimPins struct {
	out uint32
	dir uint32
	ext uint32

	wires    []wire
	watchers []Watcher

	writes []WriteOp
	reads  int
}

// NewSimPins returns an empty bank with every pin an input.
func NewSimPins() *SimPins {
	return &SimPins{}
}

// Connect wires pin from to pin to, so that to reads whatever level from
// carries. It models a loopback jumper on the cable header.
func (s *SimPins) Connect(from, to int) {
	s.wires = append(s.wires, wire{from: 1 << uint(from), to: 1 << uint(to)})
	s.propagate()
}

// Watch registers w for change notifications.
func (s *SimPins) Watch(w Watcher) {
	s.watchers = append(s.watchers, w)
}

// Drive sets the externally applied level of masked pins. It does not notify
// watchers; it is how attached devices answer.
func (s *SimPins) Drive(mask, value uint32) {
	s.ext = (s.ext &^ mask) | (value & mask)
}

func (s *SimPins) Init(mask uint32) {
	s.dir &^= mask
	s.out &^= mask
	s.changed()
}

func (s *SimPins) SetDirection(mask, outputs uint32) {
	s.dir = (s.dir &^ mask) | (outputs & mask)
	s.changed()
}

func (s *SimPins) Read() uint32 {
	s.reads++
	return s.levels()
}

func (s *SimPins) Write(mask, value uint32) {
	s.writes = append(s.writes, WriteOp{Mask: mask, Value: value & mask})
	s.out = (s.out &^ mask) | (value & mask)
	s.changed()
}

func (s *SimPins) OutputLevels() uint32 {
	return s.out
}

// Directions returns the direction word, set bits are outputs.
func (s *SimPins) Directions() uint32 {
	return s.dir
}

// Levels returns the pad levels without counting as a read.
func (s *SimPins) Levels() uint32 {
	return s.levels()
}

// Writes returns a copy of the recorded masked writes.
func (s *SimPins) Writes() []WriteOp {
	return append([]WriteOp(nil), s.writes...)
}

// LastWrite returns the most recent masked write.
func (s *SimPins) LastWrite() (WriteOp, bool) {
	if len(s.writes) == 0 {
		return WriteOp{}, false
	}
	return s.writes[len(s.writes)-1], true
}

// Reads reports how many times Read was called.
func (s *SimPins) Reads() int {
	return s.reads
}

// ClearHistory forgets recorded writes and reads.
func (s *SimPins) ClearHistory() {
	s.writes = s.writes[:0]
	s.reads = 0
}

func (s *SimPins) levels() uint32 {
	return (s.out & s.dir) | (s.ext &^ s.dir)
}

func (s *SimPins) propagate() {
	for _, w := range s.wires {
		var v uint32
		if s.levels()&w.from != 0 {
			v = w.to
		}
		s.ext = (s.ext &^ w.to) | v
	}
}

func (s *SimPins) changed() {
	s.propagate()
	if len(s.watchers) == 0 {
		return
	}
	levels := s.levels()
	for _, w := range s.watchers {
		w.PinsChanged(levels)
	}
}
