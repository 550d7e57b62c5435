// Package rpc exposes the core's transport-agnostic verb surface
// (§6): four namespaces — witness, sovereign, graph, crystal — each
// producing a structured Response plus a human-oriented rendering,
// with exactly one mark witnessing every invocation that would
// otherwise leave no trace of its own.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crucible/internal/crystal"
	"crucible/internal/edgegraph"
	"crucible/internal/logging"
	"crucible/internal/mark"
	"crucible/internal/sovereign"
	"crucible/internal/trust"
	"crucible/internal/xerrors"
)

// Response is the uniform shape every verb returns (§6): a success
// flag, machine-readable data, and a human-oriented rendering.
type Response struct {
	Success   bool
	ErrorKind string
	Data      map[string]any
	Rendering string
	MarkID    string
}

// classify maps an internal error to the machine-readable taxonomy of
// §7.
func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, xerrors.ErrInvariantViolation):
		return "INVARIANT_VIOLATION"
	case errors.Is(err, xerrors.ErrUnstable):
		return "UNSTABLE"
	case errors.Is(err, xerrors.ErrDenied):
		return "DENIED"
	case errors.Is(err, xerrors.ErrConfirmRequired):
		return "CONFIRM_REQUIRED"
	case errors.Is(err, xerrors.ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, xerrors.ErrBusy):
		return "BUSY"
	case errors.Is(err, xerrors.ErrCorruption):
		return "CORRUPTION"
	case errors.Is(err, xerrors.ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, xerrors.ErrNotFound):
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

func errResponse(err error) Response {
	return Response{Success: false, ErrorKind: classify(err), Rendering: "that didn't go through: " + err.Error()}
}

// Node aggregates the core's stores and services behind the RPC verb
// surface.
type Node struct {
	Marks        *mark.Store
	Sovereign    *sovereign.Store
	Graph        *edgegraph.Service
	Crystals     *crystal.Store
	Crystallizer *crystal.Crystallizer
	// Gate is consulted by WitnessAction before an action is recorded
	// (§4.6); nil means every action is recorded unconditionally.
	Gate *trust.Gate
	// SandboxPrefixes are the L1 "bounded" path prefixes passed through
	// to Gate.Decide.
	SandboxPrefixes []string
	log             *zap.Logger
}

// NewNode wires a Node from its component stores/services.
func NewNode(marks *mark.Store, sov *sovereign.Store, graph *edgegraph.Service, crystals *crystal.Store, crystallizer *crystal.Crystallizer) *Node {
	return &Node{Marks: marks, Sovereign: sov, Graph: graph, Crystals: crystals, Crystallizer: crystallizer, log: logging.Get(logging.CategoryRPC)}
}

// witnessQuery records a mark for a read-only verb that would
// otherwise leave the mark ledger untouched, so that no invocation
// goes unwitnessed (§6).
func (n *Node) witnessQuery(ctx context.Context, namespace, verb string, payload map[string]any) (string, error) {
	m := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseSense,
		Stimulus:  mark.Stimulus{Kind: "RPC_QUERY", Payload: map[string]any{"namespace": namespace, "verb": verb, "args": payload}},
		Response:  mark.Response{Action: "QUERIED", Result: map[string]any{}},
		Tags:      []string{"rpc:" + namespace + ":" + verb},
	}
	stored, err := n.Marks.Append(ctx, m)
	if err != nil {
		return "", fmt.Errorf("witness rpc query %s.%s: %w", namespace, verb, err)
	}
	return stored.ID, nil
}
