package trust

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"crucible/internal/mark"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestGate(t *testing.T, level Level, ratePerHour map[Level]int) (*Gate, *mark.Store) {
	t.Helper()
	ms, err := mark.Open(filepath.Join(t.TempDir(), "marks.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ms.Close() })
	return NewGate(level, ratePerHour, ms), ms
}

func TestDenyProductionClusterDeletionAtL3(t *testing.T) {
	g, ms := newTestGate(t, LevelAutonomous, nil)
	ctx := context.Background()

	res, err := g.Decide(ctx, "delete production cluster us-east-1", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, res.Decision)
	require.Contains(t, res.Reason, "forbidden")

	m, err := ms.Get(ctx, res.MarkID)
	require.NoError(t, err)
	require.Equal(t, "DENY", m.Response.Action)
}

func TestL0AllowsReadDeniesWrite(t *testing.T) {
	g, _ := newTestGate(t, LevelReadOnly, nil)
	ctx := context.Background()

	allowed, err := g.Decide(ctx, "read:config.yaml", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, allowed.Decision)

	denied, err := g.Decide(ctx, "write:config.yaml", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, denied.Decision)
}

func TestL1AllowsOnlyDeclaredSandboxPrefix(t *testing.T) {
	g, _ := newTestGate(t, LevelBounded, nil)
	ctx := context.Background()

	allowed, err := g.Decide(ctx, "write:/sandbox/scratch/out.txt", []string{"write:/sandbox/"})
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, allowed.Decision)

	denied, err := g.Decide(ctx, "write:/etc/passwd", []string{"write:/sandbox/"})
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, denied.Decision)
}

func TestL2ConvertsProposalToConfirm(t *testing.T) {
	g, _ := newTestGate(t, LevelSuggestion, nil)
	ctx := context.Background()

	res, err := g.Decide(ctx, "refactor module x", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionConfirm, res.Decision)
	require.NotNil(t, res.Pending)

	err = g.Confirm(ctx, res.Pending.ID)
	require.NoError(t, err)

	p, ok := g.Pending(res.Pending.ID)
	require.True(t, ok)
	require.True(t, p.Resolved)
	require.True(t, p.Accepted)
}

func TestL3SensitiveActionLogsInsteadOfAllow(t *testing.T) {
	g, _ := newTestGate(t, LevelAutonomous, nil)
	ctx := context.Background()

	res, err := g.Decide(ctx, "deploy new schema migration", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionLog, res.Decision)
}

func TestRateLimitDeniesBeyondBudget(t *testing.T) {
	g, _ := newTestGate(t, LevelAutonomous, map[Level]int{LevelAutonomous: 1})
	ctx := context.Background()

	first, err := g.Decide(ctx, "run routine task", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionAllow, first.Decision)

	second, err := g.Decide(ctx, "run another routine task", nil)
	require.NoError(t, err)
	require.Equal(t, DecisionDeny, second.Decision)
	require.Equal(t, "rate limit", second.Reason)
}

func TestExpirePendingMarksAsNeutral(t *testing.T) {
	g, _ := newTestGate(t, LevelSuggestion, nil)
	ctx := context.Background()

	res, err := g.Decide(ctx, "propose something", nil)
	require.NoError(t, err)
	require.NotNil(t, res.Pending)

	expired, err := g.ExpirePending(ctx, res.Pending.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, []string{res.Pending.ID}, expired)

	p, ok := g.Pending(res.Pending.ID)
	require.True(t, ok)
	require.True(t, p.Expired)
}

func TestCheckEscalationThresholds(t *testing.T) {
	now := time.Now()

	r := CheckEscalation(LevelReadOnly, Metrics{ObservationCount: 150, ObservationWindowStart: now.Add(-48 * time.Hour), FalsePositiveRate: 0.002}, now)
	require.True(t, r.Eligible)
	require.Equal(t, LevelBounded, r.NextLevel)

	// Same observation count and rate, but the window hasn't spanned 24h yet.
	r3 := CheckEscalation(LevelReadOnly, Metrics{ObservationCount: 150, ObservationWindowStart: now.Add(-5 * time.Minute), FalsePositiveRate: 0.002}, now)
	require.False(t, r3.Eligible)

	r2 := CheckEscalation(LevelSuggestion, Metrics{ConfirmedSuggestions: 10, AcceptanceRate: 0.95, DaysAtCurrentLevel: 10, DistinctSuggestionKinds: 5}, now)
	require.False(t, r2.Eligible)
}
