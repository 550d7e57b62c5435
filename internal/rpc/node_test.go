package rpc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crucible/internal/crystal"
	"crucible/internal/edgegraph"
	"crucible/internal/mark"
	"crucible/internal/sovereign"
	"crucible/internal/trust"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	dir := t.TempDir()

	marks, err := mark.Open(filepath.Join(dir, "marks.db"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { marks.Close() })

	sov, err := sovereign.Open(filepath.Join(dir, "sovereign.db"), marks, sovereign.MarkdownLinkParser{})
	require.NoError(t, err)
	t.Cleanup(func() { sov.Close() })

	crystals, err := crystal.Open(filepath.Join(dir, "crystal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { crystals.Close() })

	graph := edgegraph.NewService(
		&edgegraph.SovereignAdapter{Store: sov},
		&edgegraph.WitnessAdapter{Store: marks},
	)

	crystallizer := crystal.NewCrystallizer(nil, 0.92)

	return NewNode(marks, sov, graph, crystals, crystallizer)
}

func TestWitnessCaptureAndActionRoundTrip(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	resp := n.WitnessCapture(ctx, "noticed the retry budget was exhausted")
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MarkID)

	resp = n.WitnessAction(ctx, "retry:flush", "SUCCEEDED")
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MarkID)

	resp = n.WitnessRollbackWindow(ctx, time.Hour)
	require.True(t, resp.Success)
	require.Equal(t, 2, resp.Data["count"])
}

func TestWitnessActionDeniedByGateProducesNoOutcomeMark(t *testing.T) {
	n := newTestNode(t)
	n.Gate = trust.NewGate(trust.LevelReadOnly, nil, n.Marks)
	ctx := context.Background()

	resp := n.WitnessAction(ctx, "write: patch the release branch", "n/a")
	require.False(t, resp.Success)
	require.Equal(t, "DENIED", resp.ErrorKind)
	require.NotEmpty(t, resp.MarkID)

	stored, err := n.Marks.Get(ctx, resp.MarkID)
	require.NoError(t, err)
	require.Equal(t, "DENY", stored.Response.Action)
}

func TestWitnessActionAllowedByGateRecordsOutcomeMark(t *testing.T) {
	n := newTestNode(t)
	n.Gate = trust.NewGate(trust.LevelReadOnly, nil, n.Marks)
	ctx := context.Background()

	resp := n.WitnessAction(ctx, "read: list sovereign entities", "SUCCEEDED")
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MarkID)

	stored, err := n.Marks.Get(ctx, resp.MarkID)
	require.NoError(t, err)
	require.Equal(t, "SUCCEEDED", stored.Response.Action)
}

func TestWitnessEscalateIsProposalOnly(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	resp := n.WitnessEscalate(ctx, "LEVEL_BOUNDED")
	require.True(t, resp.Success)
	require.Equal(t, "LEVEL_BOUNDED", resp.Data["target_level"])

	stored, err := n.Marks.Get(ctx, resp.MarkID)
	require.NoError(t, err)
	require.Equal(t, "PROPOSED", stored.Response.Action)
}

func TestSovereignIngestQueryDiffExportRoundTrip(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	content := []byte("# Title\nsee [glossary](spec/glossary.md)\n")
	ingestResp := n.SovereignIngest(ctx, "doc.md", content, "test")
	require.True(t, ingestResp.Success)
	require.EqualValues(t, 1, ingestResp.Data["version"])
	require.NotEmpty(t, ingestResp.MarkID)

	queryResp := n.SovereignQuery(ctx, "doc.md")
	require.True(t, queryResp.Success)
	require.EqualValues(t, 1, queryResp.Data["current_version"])

	sameResp := n.SovereignDiff(ctx, "doc.md", content)
	require.True(t, sameResp.Success)
	require.True(t, sameResp.Data["identical"].(bool))

	diffResp := n.SovereignDiff(ctx, "doc.md", []byte("different bytes"))
	require.True(t, diffResp.Success)
	require.False(t, diffResp.Data["identical"].(bool))

	exportResp := n.SovereignExport(ctx, "doc.md")
	require.True(t, exportResp.Success)
	require.Equal(t, content, exportResp.Data["content_bytes"])
}

func TestSovereignQueryUnknownPathReturnsNotFound(t *testing.T) {
	n := newTestNode(t)
	resp := n.SovereignQuery(context.Background(), "missing.md")
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.ErrorKind)
}

func TestGraphNeighborsSurfacesSovereignEdges(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	ingestResp := n.SovereignIngest(ctx, "a.md", []byte("see [b](b.md)\n"), "test")
	require.True(t, ingestResp.Success)

	resp := n.GraphNeighbors(ctx, "a.md")
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MarkID)
	outgoing := resp.Data["outgoing"].([]edgegraph.HyperEdge)
	require.Len(t, outgoing, 1)
	require.Equal(t, "b.md", outgoing[0].TargetPath)
}

func TestGraphEvidenceReportsStrengthFromBackingMarks(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.SovereignIngest(ctx, "a.md", []byte("see [b](b.md)\n"), "test").Success)

	resp := n.GraphEvidence(ctx, "b.md", []edgegraph.EdgeKind{edgegraph.EdgeReferences})
	require.True(t, resp.Success)
	require.Greater(t, resp.Data["strength"].(float64), 0.0)
}

func TestGraphSearchMatchesIngestedContent(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.SovereignIngest(ctx, "a.md", []byte("see [b](b.md)\n"), "test").Success)

	resp := n.GraphSearch(ctx, "b.md")
	require.True(t, resp.Success)
	edges := resp.Data["edges"].([]edgegraph.HyperEdge)
	require.NotEmpty(t, edges)
}

func TestGraphTraceFindsPath(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.SovereignIngest(ctx, "a.md", []byte("see [b](b.md)\n"), "test").Success)
	require.True(t, n.SovereignIngest(ctx, "b.md", []byte("see [c](c.md)\n"), "test").Success)

	resp := n.GraphTrace(ctx, "a.md", "c.md", 4)
	require.True(t, resp.Success)
	paths := resp.Data["paths"].([]edgegraph.Path)
	require.NotEmpty(t, paths)
}

func TestCrystalCrystallizeAndQuery(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.WitnessCapture(ctx, "first observation").Success)
	require.True(t, n.WitnessCapture(ctx, "second observation").Success)

	resp := n.CrystalCrystallize(ctx, crystal.LevelSession, time.Now().Add(-time.Hour))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.MarkID)
	require.NotEmpty(t, resp.Data["crystal_id"])

	queryResp := n.CrystalQuery(ctx, "observation", 500)
	require.True(t, queryResp.Success)
	require.NotEmpty(t, queryResp.MarkID)
}

func TestCrystalCrystallizeWithNoSourcesIsNotFound(t *testing.T) {
	n := newTestNode(t)
	resp := n.CrystalCrystallize(context.Background(), crystal.LevelSession, time.Now().Add(time.Hour))
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.ErrorKind)
}

func TestCrystalTimelineReturnsWrittenCrystal(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.WitnessCapture(ctx, "an observation worth remembering").Success)
	crystallizeResp := n.CrystalCrystallize(ctx, crystal.LevelSession, time.Now().Add(-time.Hour))
	require.True(t, crystallizeResp.Success)

	resp := n.CrystalTimeline(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.True(t, resp.Success)
	crystals := resp.Data["crystals"].([]crystal.Crystal)
	require.Len(t, crystals, 1)
}

func TestManifestsListVerbs(t *testing.T) {
	n := newTestNode(t)
	ctx := context.Background()

	require.True(t, n.WitnessManifest(ctx).Success)
	require.True(t, n.SovereignManifest(ctx).Success)
	require.True(t, n.GraphManifest(ctx).Success)
	require.True(t, n.CrystalManifest(ctx).Success)
}
