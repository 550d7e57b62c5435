package mark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTraceAppendIsFunctional(t *testing.T) {
	base := NewTrace()
	t1 := base.Append(newMark(time.Now().UTC()))

	require.Equal(t, 0, base.Len(), "original trace must be untouched")
	require.Equal(t, 1, t1.Len())
}

func TestTraceMonotonicity(t *testing.T) {
	tr := NewTrace()
	var last Mark
	for i := 0; i < 5; i++ {
		last = newMark(time.Now().UTC().Add(time.Duration(i) * time.Millisecond))
		tr = tr.Append(last)
	}
	require.Equal(t, 5, tr.Len())
	require.Equal(t, last.ID, tr.Last().ID)
}

func TestTraceMergeOrdersByTimestamp(t *testing.T) {
	base := time.Now().UTC()
	a := NewTrace().Append(newMark(base.Add(2 * time.Second)))
	b := NewTrace().Append(newMark(base))

	merged := a.Merge(b)
	require.Equal(t, 2, merged.Len())
	require.True(t, merged.At(0).Timestamp.Before(merged.At(1).Timestamp))
}

func TestTraceFilter(t *testing.T) {
	tr := NewTrace().
		Append(newMark(time.Now().UTC(), "keep")).
		Append(newMark(time.Now().UTC(), "drop"))

	filtered := tr.Filter(func(m Mark) bool { return m.HasTag("keep") })
	require.Equal(t, 1, filtered.Len())
}

func TestWalkPhaseGrammar(t *testing.T) {
	w := Walk{ID: "w1", Phase: PhaseSense, Status: WalkActive}
	require.True(t, w.CanTransition(PhaseAct))
	require.False(t, w.CanTransition(PhaseReflect))
}

func TestWalkAppendMarkIsFunctional(t *testing.T) {
	w := Walk{ID: "w1", Phase: PhaseSense}
	w2 := w.AppendMark("m1")

	require.Empty(t, w.MarkIDs)
	require.Equal(t, []string{"m1"}, w2.MarkIDs)
}
