package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crucible/internal/evidence"
	"crucible/internal/mark"
	"crucible/internal/trust"
)

// WitnessManifest lists the witness namespace's verbs.
func (n *Node) WitnessManifest(ctx context.Context) Response {
	return Response{
		Success: true,
		Data:    map[string]any{"verbs": []string{"manifest", "capture", "action", "rollback_window", "escalate"}},
		Rendering: "witness: capture thoughts and actions, inspect the recent rollback window, or request a trust escalation",
	}
}

// WitnessCapture records an observed thought as a mark. The mark is its
// own L0 evidence: a human/agent attention mark, per the evidence
// ladder's TierMark rung.
func (n *Node) WitnessCapture(ctx context.Context, thought string) Response {
	id := uuid.NewString()
	m := mark.Mark{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseSense,
		Stimulus:  mark.Stimulus{Kind: "THOUGHT", Payload: map[string]any{"thought": thought}},
		Response:  mark.Response{Action: "CAPTURED", Result: map[string]any{}},
		Proof:     &mark.EvidenceRef{ID: id, Tier: evidence.TierMark},
		Tags:      []string{"thought"},
	}
	stored, err := n.Marks.Append(ctx, m)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, MarkID: stored.ID, Data: map[string]any{"mark_id": stored.ID}, Rendering: "captured"}
}

// WitnessAction gates action through the trust gate (if one is
// configured) and, if permitted, records its result as a mark. The
// gate decision itself is the invocation's single audit mark when the
// action is denied or deferred for confirmation; an allowed or logged
// action gets an additional outcome mark recording what happened.
func (n *Node) WitnessAction(ctx context.Context, action, result string) Response {
	if n.Gate != nil {
		decision, err := n.Gate.Decide(ctx, action, n.SandboxPrefixes)
		if err != nil {
			return errResponse(err)
		}
		switch decision.Decision {
		case trust.DecisionDeny:
			return Response{Success: false, ErrorKind: "DENIED", MarkID: decision.MarkID, Rendering: decision.Reason}
		case trust.DecisionConfirm:
			data := map[string]any{}
			if decision.Pending != nil {
				data["pending_id"] = decision.Pending.ID
			}
			return Response{Success: false, ErrorKind: "CONFIRM_REQUIRED", MarkID: decision.MarkID, Data: data, Rendering: decision.Reason}
		}
	}

	id := uuid.NewString()
	m := mark.Mark{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseAct,
		Stimulus:  mark.Stimulus{Kind: "ACTION", Payload: map[string]any{"action": action}},
		Response:  mark.Response{Action: result, Result: map[string]any{}},
		Proof:     &mark.EvidenceRef{ID: id, Tier: evidence.TierMark},
		Tags:      []string{"action"},
	}
	stored, err := n.Marks.Append(ctx, m)
	if err != nil {
		return errResponse(err)
	}
	return Response{Success: true, MarkID: stored.ID, Data: map[string]any{"mark_id": stored.ID}, Rendering: fmt.Sprintf("recorded action %q -> %s", action, result)}
}

// WitnessRollbackWindow returns marks appended within the last window
// duration, for review before a rollback decision.
func (n *Node) WitnessRollbackWindow(ctx context.Context, window time.Duration) Response {
	now := time.Now().UTC()
	marks, err := n.Marks.Query(ctx, mark.Filter{From: now.Add(-window), To: now})
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "witness", "rollback_window", map[string]any{"window_seconds": window.Seconds()})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"marks": marks, "count": len(marks)},
		Rendering: fmt.Sprintf("%d marks in the last %s", len(marks), window),
	}
}

// WitnessEscalate records an escalation request as a proposal; it
// never applies the transition itself (§4.6).
func (n *Node) WitnessEscalate(ctx context.Context, targetLevel string) Response {
	m := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseReflect,
		Stimulus:  mark.Stimulus{Kind: "ESCALATION_REQUEST", Payload: map[string]any{"target_level": targetLevel}},
		Response:  mark.Response{Action: "PROPOSED", Result: map[string]any{}},
		Tags:      []string{"trust:escalation"},
	}
	stored, err := n.Marks.Append(ctx, m)
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    stored.ID,
		Data:      map[string]any{"mark_id": stored.ID, "target_level": targetLevel},
		Rendering: "escalation to " + targetLevel + " proposed; awaiting external confirmation",
	}
}
