package edgegraph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"crucible/internal/mark"
	"crucible/internal/sovereign"
)

func TestSovereignAdapterExposesExtractedEdges(t *testing.T) {
	ctx := context.Background()
	ms, err := mark.Open(filepath.Join(t.TempDir(), "marks.db"), 0)
	require.NoError(t, err)
	defer ms.Close()

	ss, err := sovereign.Open(filepath.Join(t.TempDir(), "sov.db"), ms, sovereign.MarkdownLinkParser{})
	require.NoError(t, err)
	defer ss.Close()

	_, err = ss.Ingest(ctx, sovereign.IngestEvent{Path: "spec/x.md", ContentBytes: []byte("see [Y](spec/y.md)\n")})
	require.NoError(t, err)

	adapter := SovereignAdapter{Store: ss}
	out, err := adapter.EdgesFrom(ctx, "spec/x.md")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, EdgeReferences, out[0].Kind)
	require.Equal(t, "spec/y.md", out[0].TargetPath)
	require.Equal(t, "sovereign", out[0].Origin)
}

func TestWitnessAdapterInterpretsConventionalTags(t *testing.T) {
	ctx := context.Background()
	ms, err := mark.Open(filepath.Join(t.TempDir(), "marks.db"), 0)
	require.NoError(t, err)
	defer ms.Close()

	_, err = ms.Append(ctx, mark.Mark{
		ID:       uuid.NewString(),
		Phase:    mark.PhaseReflect,
		Stimulus: mark.Stimulus{Kind: "OBSERVATION"},
		Response: mark.Response{Action: "NOTED"},
		Tags:     []string{"file:a.go", "spec:b.md", "gotcha"},
	})
	require.NoError(t, err)

	adapter := WitnessAdapter{Store: ms}
	out, err := adapter.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, EdgeGotcha, out[0].Kind)
	require.Equal(t, "b.md", out[0].TargetPath)
}

func TestSpecLedgerAdapterProducesHarmonyAndContradiction(t *testing.T) {
	ctx := context.Background()
	adapter := SpecLedgerAdapter{Report: SpecReport{
		Harmonies:      []Harmony{{SpecA: "a.md", SpecB: "b.md", Relationship: "aligned", Strength: 0.9}},
		Contradictions: []Contradiction{{SpecA: "a.md", SpecB: "c.md", Severity: 0.7, ConflictType: "scope"}},
		References:     map[string][]string{"a.md": {"d.md"}},
	}}

	out, err := adapter.AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, out, 3)

	byKind := map[EdgeKind]int{}
	for _, e := range out {
		byKind[e.Kind]++
	}
	require.Equal(t, 1, byKind[EdgeHarmony])
	require.Equal(t, 1, byKind[EdgeContradiction])
	require.Equal(t, 1, byKind[EdgeReferences])
}
