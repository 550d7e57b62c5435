package edgegraph

import (
	"context"
	"fmt"
	"strings"

	"crucible/internal/sovereign"
)

// sovereignKinds maps the lowercase kind strings the sovereign store's
// overlay records to the graph's EdgeKind variants (§4.4).
var sovereignKinds = map[string]EdgeKind{
	"imports":    EdgeImports,
	"references": EdgeReferences,
	"implements": EdgeImplements,
	"extends":    EdgeExtends,
}

// SovereignAdapter exposes a sovereign.Store's extracted structural
// edges as a graph Source, origin "sovereign".
type SovereignAdapter struct {
	Store *sovereign.Store
}

func (a SovereignAdapter) Origin() string { return "sovereign" }

func (a SovereignAdapter) allFromStore(ctx context.Context) ([]HyperEdge, error) {
	paths, err := a.Store.AllPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("sovereign adapter: %w", err)
	}
	var out []HyperEdge
	for _, p := range paths {
		entity, err := a.Store.Get(ctx, p)
		if err != nil {
			continue
		}
		rawEdges, _ := entity.Overlay["edges"].([]map[string]string)
		for _, e := range rawEdges {
			kind, ok := sovereignKinds[strings.ToLower(e["kind"])]
			if !ok {
				kind = EdgeKind(strings.ToUpper(e["kind"]))
			}
			out = append(out, HyperEdge{
				Kind:       kind,
				SourcePath: p,
				TargetPath: e["target"],
				Origin:     "sovereign",
				Confidence: 1,
				MarkID:     e["mark_id"],
			})
		}
	}
	return out, nil
}

func (a SovereignAdapter) AllEdges(ctx context.Context) ([]HyperEdge, error) {
	return a.allFromStore(ctx)
}

func (a SovereignAdapter) EdgesFrom(ctx context.Context, path string) ([]HyperEdge, error) {
	all, err := a.allFromStore(ctx)
	if err != nil {
		return nil, err
	}
	var out []HyperEdge
	for _, e := range all {
		if e.SourcePath == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a SovereignAdapter) EdgesTo(ctx context.Context, path string) ([]HyperEdge, error) {
	all, err := a.allFromStore(ctx)
	if err != nil {
		return nil, err
	}
	var out []HyperEdge
	for _, e := range all {
		if e.TargetPath == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a SovereignAdapter) Search(ctx context.Context, query string) ([]HyperEdge, error) {
	all, err := a.allFromStore(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []HyperEdge
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.SourcePath), q) || strings.Contains(strings.ToLower(e.TargetPath), q) || strings.Contains(strings.ToLower(e.Context), q) {
			out = append(out, e)
		}
	}
	return out, nil
}
