package rpc

import (
	"context"
	"fmt"

	"crucible/internal/edgegraph"
	"crucible/internal/evidence"
)

// GraphManifest lists the graph namespace's verbs.
func (n *Node) GraphManifest(ctx context.Context) Response {
	return Response{
		Success:   true,
		Data:      map[string]any{"verbs": []string{"manifest", "neighbors", "evidence", "trace", "search"}},
		Rendering: "graph: explore neighbors, evidence, traced paths, and full-text matches across every composed edge source",
	}
}

// GraphNeighbors returns path's incoming and outgoing edges across all
// composed sources.
func (n *Node) GraphNeighbors(ctx context.Context, path string) Response {
	neighborhood, err := n.Graph.Neighbors(ctx, path)
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "graph", "neighbors", map[string]any{"path": path})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success: true,
		MarkID:  markID,
		Data:    map[string]any{"incoming": neighborhood.Incoming, "outgoing": neighborhood.Outgoing},
		Rendering: fmt.Sprintf("%s has %d incoming and %d outgoing edges", path, len(neighborhood.Incoming), len(neighborhood.Outgoing)),
	}
}

// GraphEvidence returns edges targeting path whose kind is in kinds,
// plus the §3.5 evidence-ladder strength and WITNESSED status computed
// from the marks backing those edges.
func (n *Node) GraphEvidence(ctx context.Context, path string, kinds []edgegraph.EdgeKind) Response {
	edges, err := n.Graph.EvidenceFor(ctx, path, kinds)
	if err != nil {
		return errResponse(err)
	}

	var evs []evidence.Evidence
	hasImplements := false
	for _, e := range edges {
		if e.Kind == edgegraph.EdgeImplements {
			hasImplements = true
		}
		if e.MarkID == "" {
			continue
		}
		m, err := n.Marks.Get(ctx, e.MarkID)
		if err != nil || m.Proof == nil {
			continue
		}
		evs = append(evs, evidence.Evidence{ID: m.Proof.ID, Tier: m.Proof.Tier, RefID: m.ID, ClaimID: path})
	}

	markID, err := n.witnessQuery(ctx, "graph", "evidence", map[string]any{"path": path})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success: true,
		MarkID:  markID,
		Data: map[string]any{
			"edges":    edges,
			"strength": evidence.Strength(evs),
			"status":   string(evidence.EvaluateStatus(evs, hasImplements)),
		},
		Rendering: fmt.Sprintf("%d evidentiary edges target %s", len(edges), path),
	}
}

// GraphTrace returns bounded simple paths from `from` to `to`.
func (n *Node) GraphTrace(ctx context.Context, from, to string, maxDepth int) Response {
	paths, err := n.Graph.TracePath(ctx, from, to, maxDepth)
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "graph", "trace", map[string]any{"from": from, "to": to, "max_depth": maxDepth})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"paths": paths},
		Rendering: fmt.Sprintf("%d path(s) found from %s to %s within depth %d", len(paths), from, to, maxDepth),
	}
}

// GraphSearch performs a substring match across all composed sources.
func (n *Node) GraphSearch(ctx context.Context, query string) Response {
	edges, err := n.Graph.Search(ctx, query)
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "graph", "search", map[string]any{"query": query})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"edges": edges},
		Rendering: fmt.Sprintf("%d edge(s) matched %q", len(edges), query),
	}
}
