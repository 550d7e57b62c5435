package trust

import "time"

// CheckEscalation evaluates whether metrics justify proposing a move
// from level to the next level (§4.6). It never applies the
// transition; callers must confirm it externally. now is the clock
// reading used to measure elapsed windows (e.g. the L0->L1 24h
// observation span); callers pass time.Now().UTC().
func CheckEscalation(level Level, m Metrics, now time.Time) EscalationResult {
	switch level {
	case LevelReadOnly:
		if m.ObservationCount >= 100 && !m.ObservationWindowStart.IsZero() &&
			now.Sub(m.ObservationWindowStart) >= 24*time.Hour && m.FalsePositiveRate < 0.01 {
			return EscalationResult{Eligible: true, NextLevel: LevelBounded, Reason: "100+ observation marks over 24h+ with false-positive rate under 1%"}
		}
		return EscalationResult{Eligible: false, NextLevel: level, Reason: "insufficient observation history"}

	case LevelBounded:
		if m.BoundedOpCount >= 100 && m.BoundedFailureRate < 0.05 && m.DistinctBoundedOpTypes >= 3 {
			return EscalationResult{Eligible: true, NextLevel: LevelSuggestion, Reason: "100+ bounded operations, failure rate under 5%, 3+ operation types"}
		}
		return EscalationResult{Eligible: false, NextLevel: level, Reason: "insufficient bounded-operation history"}

	case LevelSuggestion:
		if m.ConfirmedSuggestions >= 50 && m.AcceptanceRate > 0.90 && m.DaysAtCurrentLevel >= 7 && m.DistinctSuggestionKinds >= 5 {
			return EscalationResult{Eligible: true, NextLevel: LevelAutonomous, Reason: "50+ confirmed suggestions, acceptance rate over 90%, 7+ days at L2, 5+ suggestion kinds"}
		}
		return EscalationResult{Eligible: false, NextLevel: level, Reason: "insufficient suggestion-confirmation history"}

	default: // LevelAutonomous
		return EscalationResult{Eligible: false, NextLevel: level, Reason: "already at the highest trust level"}
	}
}
