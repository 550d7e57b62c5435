package mark

import "sort"

// Trace is an immutable sequence of marks (§3.2). Append keeps the
// order marks are appended in; Merge returns a timestamp-ordered Trace.
// Every mutating method returns a new Trace; the receiver is untouched.
type Trace struct {
	marks []Mark
}

// NewTrace builds an empty trace.
func NewTrace() Trace {
	return Trace{}
}

// Append returns a new Trace with m appended. O(n) copy, matching the
// spec's "append returns a new value (functional)" invariant.
func (t Trace) Append(m Mark) Trace {
	next := make([]Mark, len(t.marks), len(t.marks)+1)
	copy(next, t.marks)
	next = append(next, m)
	return Trace{marks: next}
}

// Filter returns a new Trace containing only marks matching pred.
func (t Trace) Filter(pred func(Mark) bool) Trace {
	out := make([]Mark, 0, len(t.marks))
	for _, m := range t.marks {
		if pred(m) {
			out = append(out, m)
		}
	}
	return Trace{marks: out}
}

// Merge combines two traces, returning a new timestamp-ordered Trace.
// Ties are broken by id for determinism (§5 ordering guarantees).
func (t Trace) Merge(other Trace) Trace {
	out := make([]Mark, 0, len(t.marks)+len(other.marks))
	out = append(out, t.marks...)
	out = append(out, other.marks...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return Trace{marks: out}
}

// Len returns the number of marks in the trace.
func (t Trace) Len() int { return len(t.marks) }

// At returns the i-th mark (0-indexed).
func (t Trace) At(i int) Mark { return t.marks[i] }

// Last returns the most recently appended mark. Panics on an empty trace.
func (t Trace) Last() Mark { return t.marks[len(t.marks)-1] }

// Marks returns a defensive copy of the underlying slice.
func (t Trace) Marks() []Mark {
	out := make([]Mark, len(t.marks))
	copy(out, t.marks)
	return out
}

// WalkStatus is the lifecycle state of a Walk (§3.3).
type WalkStatus string

const (
	WalkActive    WalkStatus = "ACTIVE"
	WalkPaused    WalkStatus = "PAUSED"
	WalkCompleted WalkStatus = "COMPLETED"
)

// defaultPhaseGrammar is the SENSE->ACT->REFLECT->SENSE cycle §3.3
// declares as the default transition grammar.
var defaultPhaseGrammar = map[Phase]Phase{
	PhaseSense:   PhaseAct,
	PhaseAct:     PhaseReflect,
	PhaseReflect: PhaseSense,
}

// Walk is a named work-stream binding a trace to an optional external
// plan document and an N-Phase position (§3.3).
type Walk struct {
	ID           string
	RootPlan     string // optional; "" if absent
	Phase        Phase
	MarkIDs      []string
	Participants []Umwelt
	Status       WalkStatus
}

// CanTransition reports whether moving from the walk's current phase to
// next is legal under the default phase grammar.
func (w Walk) CanTransition(next Phase) bool {
	return defaultPhaseGrammar[w.Phase] == next
}

// AppendMark returns a new Walk with markID recorded (monotonic
// accumulation, §3.3 invariant).
func (w Walk) AppendMark(markID string) Walk {
	next := w
	next.MarkIDs = make([]string, len(w.MarkIDs), len(w.MarkIDs)+1)
	copy(next.MarkIDs, w.MarkIDs)
	next.MarkIDs = append(next.MarkIDs, markID)
	return next
}
