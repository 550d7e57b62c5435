package edgegraph

import (
	"context"
	"fmt"
	"strings"

	"crucible/internal/mark"
)

var sessionTagKinds = map[string]EdgeKind{
	"gotcha":   EdgeGotcha,
	"eureka":   EdgeEureka,
	"taste":    EdgeTaste,
	"friction": EdgeFriction,
	"decision": EdgeDecision,
}

// WitnessAdapter exposes the mark ledger's conventionally-tagged marks
// as a graph Source, origin "witness" (§4.4).
type WitnessAdapter struct {
	Store *mark.Store
}

func (a WitnessAdapter) Origin() string { return "witness" }

func pathTagsOf(m mark.Mark) []string {
	var paths []string
	for _, t := range m.Tags {
		switch {
		case strings.HasPrefix(t, "spec:"):
			paths = append(paths, strings.TrimPrefix(t, "spec:"))
		case strings.HasPrefix(t, "file:"):
			paths = append(paths, strings.TrimPrefix(t, "file:"))
		}
	}
	return paths
}

func kindOf(m mark.Mark) EdgeKind {
	for _, t := range m.Tags {
		if kind, ok := sessionTagKinds[t]; ok {
			return kind
		}
	}
	return EdgeEvidence
}

func edgeFromMark(m mark.Mark) (HyperEdge, bool) {
	paths := pathTagsOf(m)
	if len(paths) == 0 {
		return HyperEdge{}, false
	}
	source, target := m.WalkID, paths[0]
	if len(paths) >= 2 {
		source, target = paths[0], paths[1]
	}
	return HyperEdge{
		Kind:       kindOf(m),
		SourcePath: source,
		TargetPath: target,
		Origin:     "witness",
		Confidence: 1,
		Timestamp:  m.Timestamp,
		MarkID:     m.ID,
	}, true
}

func (a WitnessAdapter) AllEdges(ctx context.Context) ([]HyperEdge, error) {
	marks, err := a.Store.Query(ctx, mark.Filter{})
	if err != nil {
		return nil, fmt.Errorf("witness adapter: %w", err)
	}
	var out []HyperEdge
	for _, m := range marks {
		if e, ok := edgeFromMark(m); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a WitnessAdapter) EdgesFrom(ctx context.Context, path string) ([]HyperEdge, error) {
	all, err := a.AllEdges(ctx)
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

func (a WitnessAdapter) EdgesTo(ctx context.Context, path string) ([]HyperEdge, error) {
	all, err := a.AllEdges(ctx)
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

func (a WitnessAdapter) Search(ctx context.Context, query string) ([]HyperEdge, error) {
	all, err := a.AllEdges(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []HyperEdge
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.SourcePath), q) || strings.Contains(strings.ToLower(e.TargetPath), q) {
			out = append(out, e)
		}
	}
	return out, nil
}
