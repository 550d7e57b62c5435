// Package mark implements the append-only mark/trace ledger of spec §4.1:
// atomic, immutable event records with causally-linked provenance.
package mark

import (
	"time"

	"crucible/internal/evidence"
)

// Phase is a position in the N-Phase cycle a walk moves through.
type Phase string

const (
	PhaseSense   Phase = "SENSE"
	PhaseAct     Phase = "ACT"
	PhaseReflect Phase = "REFLECT"
)

// Determinism classifies how reproducible a mark's stimulus/response
// pair is expected to be: whether a CONTINUES-linked retry of the same
// stimulus should reproduce the same response.
type Determinism string

const (
	DeterminismDeterministic  Determinism = "deterministic"
	DeterminismProbabilistic  Determinism = "probabilistic"
	DeterminismChaotic        Determinism = "chaotic"
)

// Relation names the causal/evidentiary relationship a MarkLink asserts.
type Relation string

const (
	RelationCauses     Relation = "CAUSES"
	RelationContinues  Relation = "CONTINUES"
	RelationRefutes    Relation = "REFUTES"
	RelationSupersedes Relation = "SUPERSEDES"
	RelationEvidences  Relation = "EVIDENCES"
)

// MarkLink is a directed edge between marks, or from a mark to an
// external plan path (PlanPath set, SourceID empty).
type MarkLink struct {
	SourceID string
	PlanPath string // set instead of SourceID when the source is external
	TargetID string
	Relation Relation
}

// IsExternal reports whether this link's source is an external plan
// path rather than a stored mark.
func (l MarkLink) IsExternal() bool {
	return l.SourceID == "" && l.PlanPath != ""
}

// Stimulus is the tagged variant describing what provoked a mark.
type Stimulus struct {
	Kind    string
	Payload map[string]any
}

// Response is the tagged variant describing what happened.
type Response struct {
	Action string
	Result map[string]any
}

// EvidenceRef is an optional pointer to supporting evidence (§3.5); the
// full evidence ladder lives in package evidence, this is just the
// foreign key a mark carries.
type EvidenceRef struct {
	ID   string
	Tier evidence.Tier
}

// Umwelt snapshots observer identity/context at mark-creation time.
type Umwelt struct {
	AgentID  string
	WalkID   string
	Location string
}

// Mark is an atomic, immutable record of one semantic event (§3.1).
type Mark struct {
	ID          string
	Timestamp   time.Time
	Phase       Phase
	Stimulus    Stimulus
	Response    Response
	Proof       *EvidenceRef
	Umwelt      Umwelt
	Tags        []string
	Links       []MarkLink
	WalkID      string
	Determinism Determinism
}

// HasTag reports whether the mark carries the exact tag t.
func (m Mark) HasTag(t string) bool {
	for _, tag := range m.Tags {
		if tag == t {
			return true
		}
	}
	return false
}

// HasTagPrefix reports whether any tag starts with prefix (e.g. "file:").
func (m Mark) HasTagPrefix(prefix string) bool {
	for _, tag := range m.Tags {
		if len(tag) >= len(prefix) && tag[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// normalizeTags deduplicates and sorts tags so equal tag sets compare
// equal regardless of insertion order (append's "tag-set normalization").
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
