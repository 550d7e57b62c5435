package edgegraph

import (
	"context"
	"strings"
)

// Harmony is one harmony relationship from an external spec report.
type Harmony struct {
	SpecA, SpecB string
	Relationship string
	Strength     float64
}

// Contradiction is one contradiction relationship from an external
// spec report.
type Contradiction struct {
	SpecA, SpecB string
	Severity     float64
	ConflictType string
}

// SpecReport is the external report consumed by the spec-ledger
// adapter (§4.4): harmonies, contradictions, and per-spec reference
// lists produced by whatever process reconciles specs against each
// other and against the codebase.
type SpecReport struct {
	Harmonies      []Harmony
	Contradictions []Contradiction
	References     map[string][]string // spec path -> referenced paths
	Implements     map[string][]string // spec path -> implementing paths
	Dependencies   map[string][]string // spec path -> depended-on paths
	Evidence       map[string][]string // spec path -> evidencing paths
}

// SpecLedgerAdapter exposes a SpecReport as a graph Source, origin
// "spec_ledger" (§4.4).
type SpecLedgerAdapter struct {
	Report SpecReport
}

func (a SpecLedgerAdapter) Origin() string { return "spec_ledger" }

func (a SpecLedgerAdapter) AllEdges(ctx context.Context) ([]HyperEdge, error) {
	var out []HyperEdge
	for _, h := range a.Report.Harmonies {
		out = append(out, HyperEdge{Kind: EdgeHarmony, SourcePath: h.SpecA, TargetPath: h.SpecB, Origin: "spec_ledger", Confidence: h.Strength, Context: h.Relationship})
	}
	for _, c := range a.Report.Contradictions {
		out = append(out, HyperEdge{Kind: EdgeContradiction, SourcePath: c.SpecA, TargetPath: c.SpecB, Origin: "spec_ledger", Confidence: c.Severity, Context: c.ConflictType})
	}
	out = append(out, expand(a.Report.References, EdgeReferences)...)
	out = append(out, expand(a.Report.Implements, EdgeImplements)...)
	out = append(out, expand(a.Report.Dependencies, EdgeDependency)...)
	out = append(out, expand(a.Report.Evidence, EdgeEvidence)...)
	return out, nil
}

func expand(m map[string][]string, kind EdgeKind) []HyperEdge {
	var out []HyperEdge
	for source, targets := range m {
		for _, t := range targets {
			out = append(out, HyperEdge{Kind: kind, SourcePath: source, TargetPath: t, Origin: "spec_ledger", Confidence: 1})
		}
	}
	return out
}

func (a SpecLedgerAdapter) EdgesFrom(ctx context.Context, path string) ([]HyperEdge, error) {
	all, _ := a.AllEdges(ctx)
	var out []HyperEdge
	for _, e := range all {
		if e.SourcePath == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a SpecLedgerAdapter) EdgesTo(ctx context.Context, path string) ([]HyperEdge, error) {
	all, _ := a.AllEdges(ctx)
	var out []HyperEdge
	for _, e := range all {
		if e.TargetPath == path {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a SpecLedgerAdapter) Search(ctx context.Context, query string) ([]HyperEdge, error) {
	all, _ := a.AllEdges(ctx)
	q := strings.ToLower(query)
	var out []HyperEdge
	for _, e := range all {
		if strings.Contains(strings.ToLower(e.SourcePath), q) || strings.Contains(strings.ToLower(e.TargetPath), q) || strings.Contains(strings.ToLower(e.Context), q) {
			out = append(out, e)
		}
	}
	return out, nil
}
