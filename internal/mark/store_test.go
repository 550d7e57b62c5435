package mark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crucible/internal/xerrors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "marks.db"), 1000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMark(t time.Time, tags ...string) Mark {
	return Mark{
		ID:        uuid.NewString(),
		Timestamp: t,
		Phase:     PhaseSense,
		Stimulus:  Stimulus{Kind: "observation", Payload: map[string]any{"k": "v"}},
		Response:  Response{Action: "noop", Result: map[string]any{}},
		Tags:      tags,
	}
}

func TestAppendAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newMark(time.Now().UTC(), "file:spec/x.md")
	stored, err := s.Append(ctx, m)
	require.NoError(t, err)
	require.Equal(t, m.ID, stored.ID)

	got, err := s.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ID, got.ID)
	require.True(t, got.HasTagPrefix("file:"))
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestAppendRejectsBackwardCausality(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	parent := newMark(base)
	_, err := s.Append(ctx, parent)
	require.NoError(t, err)

	child := newMark(base.Add(-time.Hour)) // before parent: illegal
	child.Links = []MarkLink{{SourceID: parent.ID, TargetID: child.ID, Relation: RelationCauses}}

	_, err = s.Append(ctx, child)
	require.Error(t, err)
	require.True(t, errors.Is(err, xerrors.ErrInvariantViolation))

	// Failure must leave the store unchanged: child never appears.
	_, err = s.Get(ctx, child.ID)
	require.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestAppendRejectsSelfLink(t *testing.T) {
	s := openTestStore(t)
	m := newMark(time.Now().UTC())
	m.Links = []MarkLink{{SourceID: m.ID, TargetID: m.ID, Relation: RelationCauses}}

	_, err := s.Append(context.Background(), m)
	require.ErrorIs(t, err, xerrors.ErrInvariantViolation)
}

func TestAppendAllowsExternalPlanLink(t *testing.T) {
	s := openTestStore(t)
	m := newMark(time.Now().UTC())
	m.Links = []MarkLink{{PlanPath: "plans/x.md", TargetID: m.ID, Relation: RelationContinues}}

	_, err := s.Append(context.Background(), m)
	require.NoError(t, err)
}

func TestQueryOrdersByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	var ids []string
	for i := 2; i >= 0; i-- { // insert out of order
		m := newMark(base.Add(time.Duration(i) * time.Second))
		_, err := s.Append(ctx, m)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	require.True(t, got[1].Timestamp.Before(got[2].Timestamp))
}

func TestQueryByTagPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, newMark(time.Now().UTC(), "spec:a.md"))
	require.NoError(t, err)
	_, err = s.Append(ctx, newMark(time.Now().UTC(), "file:b.go"))
	require.NoError(t, err)

	got, err := s.Query(ctx, Filter{TagPrefix: "spec:"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestAncestorsWalksBackToRoot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	root := newMark(base)
	_, err := s.Append(ctx, root)
	require.NoError(t, err)

	mid := newMark(base.Add(time.Second))
	mid.Links = []MarkLink{{SourceID: root.ID, TargetID: mid.ID, Relation: RelationCauses}}
	_, err = s.Append(ctx, mid)
	require.NoError(t, err)

	leaf := newMark(base.Add(2 * time.Second))
	leaf.Links = []MarkLink{{SourceID: mid.ID, TargetID: leaf.ID, Relation: RelationContinues}}
	_, err = s.Append(ctx, leaf)
	require.NoError(t, err)

	ancestors, err := s.Ancestors(ctx, leaf.ID)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, root.ID, ancestors[0].ID)
	require.Equal(t, mid.ID, ancestors[1].ID)
}

func TestTreeBuildsCausalSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	root := newMark(base)
	_, err := s.Append(ctx, root)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		child := newMark(base.Add(time.Duration(i+1) * time.Second))
		child.Links = []MarkLink{{SourceID: root.ID, TargetID: child.ID, Relation: RelationCauses}}
		_, err := s.Append(ctx, child)
		require.NoError(t, err)
	}

	tree, err := s.Tree(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, tree.Mark.ID)
	require.Len(t, tree.Children, 2)
}

func TestBusyBackpressure(t *testing.T) {
	s := openTestStore(t)
	s.watermark = 0 // force immediate BUSY

	_, err := s.Append(context.Background(), newMark(time.Now().UTC()))
	require.ErrorIs(t, err, xerrors.ErrBusy)
}

func TestAppendIsAtomicOnFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newMark(time.Now().UTC())
	m.Links = []MarkLink{{SourceID: "does-not-exist", TargetID: m.ID, Relation: RelationCauses}}

	_, err := s.Append(ctx, m)
	require.Error(t, err)

	got, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMainCleanup(t *testing.T) {
	// sanity: the OS temp dir the tests' stores live under exists
	_, err := os.Stat(os.TempDir())
	require.NoError(t, err)
}
