// Package edgegraph unifies edges from the sovereign store, the mark
// ledger, and an external spec report into a single graph, composed
// from per-source adapters under a small category-law algebra (§4.4).
package edgegraph

import "time"

// EdgeKind is the tagged variant an edge carries.
type EdgeKind string

const (
	EdgeImports       EdgeKind = "IMPORTS"
	EdgeReferences    EdgeKind = "REFERENCES"
	EdgeImplements    EdgeKind = "IMPLEMENTS"
	EdgeExtends       EdgeKind = "EXTENDS"
	EdgeEvidence      EdgeKind = "EVIDENCE"
	EdgeHarmony       EdgeKind = "HARMONY"
	EdgeContradiction EdgeKind = "CONTRADICTION"
	EdgeDependency    EdgeKind = "DEPENDENCY"
	EdgeGotcha        EdgeKind = "GOTCHA"
	EdgeEureka        EdgeKind = "EUREKA"
	EdgeTaste         EdgeKind = "TASTE"
	EdgeFriction      EdgeKind = "FRICTION"
	EdgeDecision      EdgeKind = "DECISION"
)

// HyperEdge is the uniform edge type across all sources (§3.7). Two
// edges are equal iff all non-optional fields match; Context,
// LineNumber, Timestamp and MarkID are the optional provenance fields
// and are excluded from equality by Equal.
type HyperEdge struct {
	Kind       EdgeKind
	SourcePath string
	TargetPath string
	Origin     string
	Confidence float64
	Context    string
	LineNumber *int
	Timestamp  time.Time
	MarkID     string
}

// Equal reports structural equality on the edge's non-optional fields,
// per §3.7's immutable-and-hashable invariant.
func (e HyperEdge) Equal(o HyperEdge) bool {
	return e.Kind == o.Kind && e.SourcePath == o.SourcePath && e.TargetPath == o.TargetPath &&
		e.Origin == o.Origin && e.Confidence == o.Confidence
}
