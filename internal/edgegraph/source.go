package edgegraph

import (
	"context"

	"go.uber.org/zap"

	"crucible/internal/logging"
)

// Source is the edge-source contract every adapter and composed view
// satisfies (§4.4). Missing data for a path is an empty slice, never
// an error.
type Source interface {
	EdgesFrom(ctx context.Context, path string) ([]HyperEdge, error)
	EdgesTo(ctx context.Context, path string) ([]HyperEdge, error)
	AllEdges(ctx context.Context) ([]HyperEdge, error)
	Search(ctx context.Context, query string) ([]HyperEdge, error)
	Origin() string
}

// identitySource emits nothing from every method; it is the identity
// element of Compose (§4.4's identity law).
type identitySource struct{}

// Identity returns the identity edge source.
func Identity() Source { return identitySource{} }

func (identitySource) EdgesFrom(context.Context, string) ([]HyperEdge, error) { return nil, nil }
func (identitySource) EdgesTo(context.Context, string) ([]HyperEdge, error)   { return nil, nil }
func (identitySource) AllEdges(context.Context) ([]HyperEdge, error)         { return nil, nil }
func (identitySource) Search(context.Context, string) ([]HyperEdge, error)   { return nil, nil }
func (identitySource) Origin() string                                       { return "identity" }

// composed is the source produced by Compose(a, b): for each method it
// emits a's output followed by b's output (§4.4).
type composed struct {
	a, b Source
	log  *zap.Logger
}

// Compose yields a >> b: a source that, for each method, concatenates
// a's results with b's results. A source that errors is isolated — its
// contribution for that call is dropped and a warning logged, but the
// other source's results are still returned.
func Compose(a, b Source) Source {
	return composed{a: a, b: b, log: logging.Get(logging.CategoryEdgeGraph)}
}

func (c composed) call(origin string, aErr error, aEdges []HyperEdge, bErr error, bEdges []HyperEdge) []HyperEdge {
	var out []HyperEdge
	if aErr != nil {
		c.log.Warn("edge source failed, isolating", zap.String("origin", c.a.Origin()), zap.Error(aErr))
	} else {
		out = append(out, aEdges...)
	}
	if bErr != nil {
		c.log.Warn("edge source failed, isolating", zap.String("origin", c.b.Origin()), zap.Error(bErr))
	} else {
		out = append(out, bEdges...)
	}
	return out
}

func (c composed) EdgesFrom(ctx context.Context, path string) ([]HyperEdge, error) {
	aEdges, aErr := c.a.EdgesFrom(ctx, path)
	bEdges, bErr := c.b.EdgesFrom(ctx, path)
	return c.call("EdgesFrom", aErr, aEdges, bErr, bEdges), nil
}

func (c composed) EdgesTo(ctx context.Context, path string) ([]HyperEdge, error) {
	aEdges, aErr := c.a.EdgesTo(ctx, path)
	bEdges, bErr := c.b.EdgesTo(ctx, path)
	return c.call("EdgesTo", aErr, aEdges, bErr, bEdges), nil
}

func (c composed) AllEdges(ctx context.Context) ([]HyperEdge, error) {
	aEdges, aErr := c.a.AllEdges(ctx)
	bEdges, bErr := c.b.AllEdges(ctx)
	return c.call("AllEdges", aErr, aEdges, bErr, bEdges), nil
}

func (c composed) Search(ctx context.Context, query string) ([]HyperEdge, error) {
	aEdges, aErr := c.a.Search(ctx, query)
	bEdges, bErr := c.b.Search(ctx, query)
	return c.call("Search", aErr, aEdges, bErr, bEdges), nil
}

func (c composed) Origin() string { return c.a.Origin() + "+" + c.b.Origin() }
