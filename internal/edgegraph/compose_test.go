package edgegraph

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// fixedSource is a fixture Source backed by a static edge list, for
// property-testing Compose's identity and associativity laws.
type fixedSource struct {
	origin string
	edges  []HyperEdge
}

func (f fixedSource) Origin() string { return f.origin }
func (f fixedSource) AllEdges(context.Context) ([]HyperEdge, error) { return f.edges, nil }
func (f fixedSource) EdgesFrom(_ context.Context, path string) ([]HyperEdge, error) {
	var out []HyperEdge
	for _, e := range f.edges {
		if e.SourcePath == path {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f fixedSource) EdgesTo(_ context.Context, path string) ([]HyperEdge, error) {
	var out []HyperEdge
	for _, e := range f.edges {
		if e.TargetPath == path {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f fixedSource) Search(context.Context, string) ([]HyperEdge, error) { return f.edges, nil }

func sortedEdges(edges []HyperEdge) []HyperEdge {
	out := make([]HyperEdge, len(edges))
	copy(out, edges)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourcePath != out[j].SourcePath {
			return out[i].SourcePath < out[j].SourcePath
		}
		return out[i].TargetPath < out[j].TargetPath
	})
	return out
}

func sampleSources() (a, b, c Source) {
	a = fixedSource{origin: "a", edges: []HyperEdge{
		{Kind: EdgeReferences, SourcePath: "x", TargetPath: "y", Origin: "a"},
	}}
	b = fixedSource{origin: "b", edges: []HyperEdge{
		{Kind: EdgeImports, SourcePath: "y", TargetPath: "z", Origin: "b"},
	}}
	c = fixedSource{origin: "c", edges: []HyperEdge{
		{Kind: EdgeEvidence, SourcePath: "z", TargetPath: "x", Origin: "c"},
	}}
	return
}

func TestComposeIdentityLaw(t *testing.T) {
	ctx := context.Background()
	a, _, _ := sampleSources()

	plain, err := a.AllEdges(ctx)
	require.NoError(t, err)

	left, err := Compose(Identity(), a).AllEdges(ctx)
	require.NoError(t, err)

	right, err := Compose(a, Identity()).AllEdges(ctx)
	require.NoError(t, err)

	require.Equal(t, sortedEdges(plain), sortedEdges(left))
	require.Equal(t, sortedEdges(plain), sortedEdges(right))
}

func TestComposeAssociativityLaw(t *testing.T) {
	ctx := context.Background()
	a, b, c := sampleSources()

	leftAssoc, err := Compose(Compose(a, b), c).AllEdges(ctx)
	require.NoError(t, err)

	rightAssoc, err := Compose(a, Compose(b, c)).AllEdges(ctx)
	require.NoError(t, err)

	if diff := cmp.Diff(sortedEdges(leftAssoc), sortedEdges(rightAssoc)); diff != "" {
		t.Errorf("left/right associative composition diverged (-left +right):\n%s", diff)
	}
}

func TestComposeIsolatesFailingSource(t *testing.T) {
	ctx := context.Background()
	good := fixedSource{origin: "good", edges: []HyperEdge{{Kind: EdgeEvidence, SourcePath: "p", TargetPath: "q", Origin: "good"}}}
	bad := failingSource{}

	out, err := Compose(good, bad).AllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "p", out[0].SourcePath)
}

type failingSource struct{}

func (failingSource) Origin() string { return "bad" }
func (failingSource) AllEdges(context.Context) ([]HyperEdge, error) {
	return nil, errBoom
}
func (failingSource) EdgesFrom(context.Context, string) ([]HyperEdge, error) { return nil, errBoom }
func (failingSource) EdgesTo(context.Context, string) ([]HyperEdge, error)   { return nil, errBoom }
func (failingSource) Search(context.Context, string) ([]HyperEdge, error)    { return nil, errBoom }
