package stabilizer

import (
	"math"
	"time"

	"github.com/fako1024/scalebridge/pkg/scale"
)

// Phase denotes the coarse state of the stabilization state machine
type Phase int

const (

	// PhaseIdle is active while there is no weight on the scale (or after an error)
	PhaseIdle Phase = iota

	// PhaseAccumulating is active while consecutive samples are collected
	PhaseAccumulating

	// PhaseConfirmed is active while the current plateau has already been reported
	PhaseConfirmed
)

// String fulfils the Stringer interface
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Outcome denotes the effect of a single sample on the state machine
type Outcome int

const (

	// OutcomeEmpty denotes a sample at or below the weight threshold
	OutcomeEmpty Outcome = iota

	// OutcomeAccumulating denotes a sample that did not (yet) confirm a plateau
	OutcomeAccumulating

	// OutcomeEmitted denotes a sample that confirmed a new stable weight
	OutcomeEmitted

	// OutcomeDuplicate denotes a confirmed plateau suppressed by deduplication
	OutcomeDuplicate
)

// String fulfils the Stringer interface
func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "below_threshold"
	case OutcomeAccumulating:
		return "accumulating"
	case OutcomeEmitted:
		return "emitted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// State denotes the mutable stabilization state, owned by a single poll loop
type State struct {
	cfg Config

	lastWeight    float64
	hasLastWeight bool

	lastSentWeight    float64
	hasLastSentWeight bool

	stableCount  int
	plateauStart time.Time
}

// NewState instantiates a new, idle State
func NewState(cfg Config) State {
	return State{cfg: cfg}
}

// Observe feeds an accepted sample through threshold filter, stability debounce
// and change deduplication. If a new stable weight is confirmed, it is returned
// along with OutcomeEmitted
func (s *State) Observe(sample scale.Sample) (Outcome, scale.StableWeight) {

	// Nothing on the scale: forget everything, including the last sent weight,
	// so that placing the same object again is reported
	if sample.Weight <= s.cfg.WeightThreshold {
		s.Reset()
		return OutcomeEmpty, scale.StableWeight{}
	}

	if s.hasLastWeight && math.Abs(sample.Weight-s.lastWeight) < s.cfg.StabilityEpsilon {
		s.stableCount++
	} else {
		s.stableCount = 1
		s.plateauStart = sample.TimeStamp
	}
	s.lastWeight, s.hasLastWeight = sample.Weight, true

	if s.stableCount < s.cfg.StabilityThreshold {
		return OutcomeAccumulating, scale.StableWeight{}
	}

	// The count restarts in any case, preventing a re-check on every tick while
	// the object rests on the scale
	s.stableCount = 0

	if s.hasLastSentWeight && math.Abs(sample.Weight-s.lastSentWeight) <= s.cfg.DedupEpsilon {
		return OutcomeDuplicate, scale.StableWeight{}
	}
	s.lastSentWeight, s.hasLastSentWeight = sample.Weight, true

	return OutcomeEmitted, scale.StableWeight{
		TimeStamp:  sample.TimeStamp,
		Weight:     sample.Weight,
		SettleTime: sample.TimeStamp.Sub(s.plateauStart),
	}
}

// Fail accounts for a failed poll attempt. The last sent weight is retained, a
// transient error must not cause the same weight to be sent again
func (s *State) Fail() {
	s.hasLastWeight = false
	s.lastWeight = 0
	s.stableCount = 0
}

// Reset returns the State to idle, clearing the last sent weight as well
func (s *State) Reset() {
	s.Fail()
	s.hasLastSentWeight = false
	s.lastSentWeight = 0
}

// Phase returns the current phase of the state machine
func (s *State) Phase() Phase {
	if !s.hasLastWeight {
		return PhaseIdle
	}
	if s.hasLastSentWeight && math.Abs(s.lastWeight-s.lastSentWeight) <= s.cfg.DedupEpsilon {
		return PhaseConfirmed
	}
	return PhaseAccumulating
}

// StableCount returns the number of consecutive same-plateau samples collected
func (s *State) StableCount() int {
	return s.stableCount
}

// LastWeight returns the most recently accepted weight, if any
func (s *State) LastWeight() (float64, bool) {
	return s.lastWeight, s.hasLastWeight
}

// LastSentWeight returns the most recently emitted weight, if any
func (s *State) LastSentWeight() (float64, bool) {
	return s.lastSentWeight, s.hasLastSentWeight
}
