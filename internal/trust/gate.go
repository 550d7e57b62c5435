package trust

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"crucible/internal/logging"
	"crucible/internal/mark"
	"crucible/internal/xerrors"
)

// forbiddenPatterns are never permitted regardless of trust level
// (§4.6): destructive VCS rewrites of protected branches, unrestricted
// filesystem destruction at root-like paths, database-wide deletion,
// production cluster deletion, secret exfiltration, financial
// transactions, external artifact publication.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)force[- ]?push.*\b(main|master|release)\b`),
	regexp.MustCompile(`(?i)rm\s+-rf\s+/($|\s)`),
	regexp.MustCompile(`(?i)drop\s+database`),
	regexp.MustCompile(`(?i)delete.*\bproduction\b.*\bcluster\b`),
	regexp.MustCompile(`(?i)\b(exfiltrat|dump)\b.*\b(secret|credential|token)\b`),
	regexp.MustCompile(`(?i)\b(wire transfer|financial transaction|pay\w*)\b.*\$`),
	regexp.MustCompile(`(?i)publish.*\b(artifact|package|release)\b.*\bexternal`),
}

// sensitivePatterns are a configured list that keep L3 actions at LOG
// instead of plain ALLOW, for heightened audit detail (§4.6).
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmigrat`),
	regexp.MustCompile(`(?i)\bschema\b`),
	regexp.MustCompile(`(?i)\bdeploy\b`),
}

func matchAny(patterns []*regexp.Regexp, action string) (*regexp.Regexp, bool) {
	for _, p := range patterns {
		if p.MatchString(action) {
			return p, true
		}
	}
	return nil, false
}

// MarkAppender is the subset of mark.Store the trust gate needs to
// witness its decisions.
type MarkAppender interface {
	Append(ctx context.Context, m mark.Mark) (mark.Mark, error)
}

// Gate is the trust gate service (§4.6). State transitions are
// serialized; Decide's forbidden-pattern and rate-limit checks are
// lock-free reads against per-level rate limiters.
type Gate struct {
	mu       sync.Mutex
	level    Level
	limiters map[Level]*rate.Limiter
	marks    MarkAppender
	pending  map[string]*PendingSuggestion
	log      *zap.Logger
}

// NewGate constructs a gate starting at level, with a per-hour action
// budget for each level (ratePerHour[lvl] == 0 means unlimited).
func NewGate(level Level, ratePerHour map[Level]int, marks MarkAppender) *Gate {
	limiters := make(map[Level]*rate.Limiter, 4)
	for lvl := LevelReadOnly; lvl <= LevelAutonomous; lvl++ {
		n := ratePerHour[lvl]
		if n <= 0 {
			limiters[lvl] = rate.NewLimiter(rate.Inf, 1)
			continue
		}
		limiters[lvl] = rate.NewLimiter(rate.Limit(float64(n)/3600.0), n)
	}
	return &Gate{level: level, limiters: limiters, marks: marks, pending: map[string]*PendingSuggestion{}, log: logging.Get(logging.CategoryTrust)}
}

// Level returns the gate's current trust level.
func (g *Gate) Level() Level {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// DecisionResult is what Decide returns: the verdict, a human-readable
// reason, and — for CONFIRM — the pending suggestion created.
type DecisionResult struct {
	Decision  Decision
	Reason    string
	Pending   *PendingSuggestion
	MarkID    string
}

// Decide evaluates action against the gate's current level and the
// set of sandbox path prefixes declared allowed at L1, producing
// exactly one audit mark regardless of outcome (§4.6).
func (g *Gate) Decide(ctx context.Context, action string, sandboxPrefixes []string) (DecisionResult, error) {
	g.mu.Lock()
	level := g.level
	limiter := g.limiters[level]
	g.mu.Unlock()

	decision, reason := g.evaluate(action, level, sandboxPrefixes)

	// A DENY verdict (forbidden pattern or level rule) does not consume
	// a rate token; every other verdict is still subject to the
	// per-level budget.
	if decision != DecisionDeny && !limiter.Allow() {
		decision, reason = DecisionDeny, "rate limit"
	}

	var pending *PendingSuggestion
	if decision == DecisionConfirm {
		pending = &PendingSuggestion{
			ID:         uuid.NewString(),
			Action:     action,
			ProposedAt: time.Now().UTC(),
			ExpiresAt:  time.Now().UTC().Add(time.Hour),
		}
		g.mu.Lock()
		g.pending[pending.ID] = pending
		g.mu.Unlock()
	}

	storedMark, err := g.witness(ctx, action, level, decision, reason, pending)
	if err != nil {
		return DecisionResult{}, err
	}
	return DecisionResult{Decision: decision, Reason: reason, Pending: pending, MarkID: storedMark}, nil
}

func (g *Gate) evaluate(action string, level Level, sandboxPrefixes []string) (Decision, string) {
	if p, ok := matchAny(forbiddenPatterns, action); ok {
		return DecisionDeny, fmt.Sprintf("forbidden action: matches %s", p.String())
	}

	switch level {
	case LevelReadOnly:
		if strings.HasPrefix(action, "read:") || strings.HasPrefix(action, "observe:") {
			return DecisionAllow, "read-only action permitted at L0"
		}
		return DecisionDeny, "L0 permits only read/observe actions"

	case LevelBounded:
		for _, prefix := range sandboxPrefixes {
			if strings.HasPrefix(action, prefix) {
				return DecisionAllow, "write under declared sandbox prefix permitted at L1"
			}
		}
		return DecisionDeny, "L1 permits only writes under a declared sandbox prefix"

	case LevelSuggestion:
		return DecisionConfirm, "L2 converts any proposal to a confirmation request"

	case LevelAutonomous:
		if _, sensitive := matchAny(sensitivePatterns, action); sensitive {
			return DecisionLog, "L3 sensitive action logged with heightened detail"
		}
		return DecisionAllow, "non-forbidden action permitted at L3"

	default:
		return DecisionDeny, "unknown trust level"
	}
}

func (g *Gate) witness(ctx context.Context, action string, level Level, decision Decision, reason string, pending *PendingSuggestion) (string, error) {
	m := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseAct,
		Stimulus:  mark.Stimulus{Kind: "GATE_DECISION", Payload: map[string]any{"action": action, "level": level.String()}},
		Response:  mark.Response{Action: string(decision), Result: map[string]any{"reason": reason}},
		Tags:      []string{"trust:" + strings.ToLower(string(decision))},
	}
	if pending != nil {
		m.Response.Result["pending_suggestion_id"] = pending.ID
	}
	stored, err := g.marks.Append(ctx, m)
	if err != nil {
		return "", fmt.Errorf("witness gate decision: %w", err)
	}
	return stored.ID, nil
}

// Confirm resolves a pending L2 suggestion as accepted, witnessing the
// resolution with a mark.
func (g *Gate) Confirm(ctx context.Context, id string) error {
	return g.resolve(ctx, id, true, "CONFIRMED")
}

// Reject resolves a pending L2 suggestion as rejected.
func (g *Gate) Reject(ctx context.Context, id string) error {
	return g.resolve(ctx, id, false, "REJECTED")
}

func (g *Gate) resolve(ctx context.Context, id string, accepted bool, action string) error {
	g.mu.Lock()
	p, ok := g.pending[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("pending suggestion %s: %w", id, xerrors.ErrNotFound)
	}
	if p.Resolved {
		return fmt.Errorf("pending suggestion %s already resolved: %w", id, xerrors.ErrInvariantViolation)
	}

	g.mu.Lock()
	p.Resolved = true
	p.Accepted = accepted
	g.mu.Unlock()

	_, err := g.marks.Append(ctx, mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseAct,
		Stimulus:  mark.Stimulus{Kind: "SUGGESTION_RESOLUTION", Payload: map[string]any{"pending_suggestion_id": id, "action": p.Action}},
		Response:  mark.Response{Action: action, Result: map[string]any{}},
		Tags:      []string{"trust:suggestion"},
	})
	if err != nil {
		return fmt.Errorf("witness suggestion resolution: %w", err)
	}
	return nil
}

// ExpirePending resolves every unresolved suggestion whose ExpiresAt
// is before now as NEUTRAL, per §4.6's acceptance-metric rule.
func (g *Gate) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	g.mu.Lock()
	var toExpire []*PendingSuggestion
	for _, p := range g.pending {
		if !p.Resolved && now.After(p.ExpiresAt) {
			toExpire = append(toExpire, p)
		}
	}
	g.mu.Unlock()

	var expiredIDs []string
	for _, p := range toExpire {
		g.mu.Lock()
		p.Resolved = true
		p.Expired = true
		g.mu.Unlock()

		_, err := g.marks.Append(ctx, mark.Mark{
			ID:        uuid.NewString(),
			Timestamp: now,
			Phase:     mark.PhaseReflect,
			Stimulus:  mark.Stimulus{Kind: "SUGGESTION_EXPIRY", Payload: map[string]any{"pending_suggestion_id": p.ID, "action": p.Action}},
			Response:  mark.Response{Action: "EXPIRED", Result: map[string]any{"counts_as": "NEUTRAL"}},
			Tags:      []string{"trust:suggestion"},
		})
		if err != nil {
			return expiredIDs, fmt.Errorf("witness suggestion expiry: %w", err)
		}
		expiredIDs = append(expiredIDs, p.ID)
	}
	return expiredIDs, nil
}

// Pending returns a pending suggestion by id, if it exists.
func (g *Gate) Pending(id string) (PendingSuggestion, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return PendingSuggestion{}, false
	}
	return *p, true
}
