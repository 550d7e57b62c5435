package edgegraph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Neighborhood is the result of Service.Neighbors.
type Neighborhood struct {
	Incoming []HyperEdge
	Outgoing []HyperEdge
}

// Service answers graph queries over a composed Source (§4.4).
type Service struct {
	Source Source
}

// NewService composes sources in the given order (left to right, via
// Compose) and returns a query service over the result.
func NewService(sources ...Source) *Service {
	composed := Source(Identity())
	for _, s := range sources {
		composed = Compose(composed, s)
	}
	return &Service{Source: composed}
}

func dedupe(edges []HyperEdge) []HyperEdge {
	var out []HyperEdge
	for _, e := range edges {
		dup := false
		for _, o := range out {
			if e.Equal(o) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors merges edges_to and edges_from across all composed
// sources, deduplicated, grouped by origin then insertion order. The
// two directions are independent queries over the same composed
// source and run concurrently.
func (s *Service) Neighbors(ctx context.Context, path string) (Neighborhood, error) {
	var incoming, outgoing []HyperEdge
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		edges, err := s.Source.EdgesTo(gctx, path)
		if err != nil {
			return err
		}
		incoming = edges
		return nil
	})
	g.Go(func() error {
		edges, err := s.Source.EdgesFrom(gctx, path)
		if err != nil {
			return err
		}
		outgoing = edges
		return nil
	})
	if err := g.Wait(); err != nil {
		return Neighborhood{}, fmt.Errorf("neighbors(%s): %w", path, err)
	}
	return Neighborhood{Incoming: dedupe(incoming), Outgoing: dedupe(outgoing)}, nil
}

// EvidenceFor returns edges targeting path whose kind is in kinds
// (default EVIDENCE, IMPLEMENTS, HARMONY).
func (s *Service) EvidenceFor(ctx context.Context, path string, kinds []EdgeKind) ([]HyperEdge, error) {
	if len(kinds) == 0 {
		kinds = []EdgeKind{EdgeEvidence, EdgeImplements, EdgeHarmony}
	}
	allowed := make(map[EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	edges, err := s.Source.EdgesTo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("evidence_for(%s): %w", path, err)
	}
	var out []HyperEdge
	for _, e := range edges {
		if allowed[e.Kind] {
			out = append(out, e)
		}
	}
	return dedupe(out), nil
}

// Path is one simple path discovered by TracePath.
type Path struct {
	Edges []HyperEdge
}

const tracePathResultCap = 64

// TracePath performs a bounded BFS over outgoing edges from `from`,
// returning all simple paths to `to` up to length maxDepth, capped at
// tracePathResultCap results.
func (s *Service) TracePath(ctx context.Context, from, to string, maxDepth int) ([]Path, error) {
	var results []Path
	type frame struct {
		node  string
		path  []HyperEdge
		depth int
	}
	queue := []frame{{node: from, depth: 0}}

	for len(queue) > 0 && len(results) < tracePathResultCap {
		cur := queue[0]
		queue = queue[1:]

		if cur.node == to && cur.depth > 0 {
			results = append(results, Path{Edges: cur.path})
			continue
		}
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := s.Source.EdgesFrom(ctx, cur.node)
		if err != nil {
			return nil, fmt.Errorf("trace_path(%s,%s): %w", from, to, err)
		}
		for _, e := range edges {
			seen := e.TargetPath == from
			for _, pe := range cur.path {
				if pe.TargetPath == e.TargetPath {
					seen = true
					break
				}
			}
			if seen && e.TargetPath != to {
				continue
			}
			nextPath := make([]HyperEdge, len(cur.path), len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath = append(nextPath, e)
			queue = append(queue, frame{node: e.TargetPath, path: nextPath, depth: cur.depth + 1})
			if len(queue)+len(results) > tracePathResultCap*4 {
				break
			}
		}
	}
	return results, nil
}

// Search performs a substring match on paths and context across all
// composed sources.
func (s *Service) Search(ctx context.Context, query string) ([]HyperEdge, error) {
	edges, err := s.Source.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search(%s): %w", query, err)
	}
	return dedupe(edges), nil
}
