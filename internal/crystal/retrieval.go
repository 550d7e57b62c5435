package crystal

import (
	"context"
	"sort"
	"strings"
	"time"
)

// RetrievalWeights are alpha/beta for budget-aware retrieval scoring
// (§4.2); they must sum to 1.
type RetrievalWeights struct {
	Recency   float64
	Relevance float64
}

// DefaultWeights is the even 0.5/0.5 recency/relevance split.
func DefaultWeights() RetrievalWeights { return RetrievalWeights{Recency: 0.5, Relevance: 0.5} }

// RetrievalItem is one entry in a budget-aware retrieval result, with
// the running cumulative-token column §4.2 requires.
type RetrievalItem struct {
	Crystal         Crystal
	Score           float64
	CumulativeTokens int
}

// Retrieve returns crystals across all levels (highest-level first, per
// §4.2), scored by alpha*recency + beta*relevance(q), greedily filling
// until the cumulative token estimate exceeds budget.
func (s *Store) Retrieve(ctx context.Context, budget int, query string, w RetrievalWeights) ([]RetrievalItem, error) {
	var all []Crystal
	for lvl := LevelEpoch; lvl >= LevelSession; lvl-- {
		batch, err := s.ByLevel(ctx, lvl)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	if len(all) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest, newest := all[0].CrystallizedAt, all[0].CrystallizedAt
	for _, c := range all {
		if c.CrystallizedAt.Before(oldest) {
			oldest = c.CrystallizedAt
		}
		if c.CrystallizedAt.After(newest) {
			newest = c.CrystallizedAt
		}
	}
	span := newest.Sub(oldest)
	if span <= 0 {
		span = time.Second
	}

	type scored struct {
		c     Crystal
		score float64
	}
	var candidates []scored
	for _, c := range all {
		recency := float64(c.CrystallizedAt.Sub(oldest)) / float64(span)
		relevance := relevanceScore(c, query)
		score := w.Recency*recency + w.Relevance*relevance
		candidates = append(candidates, scored{c, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].c.Level != candidates[j].c.Level {
			return candidates[i].c.Level > candidates[j].c.Level
		}
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		// Open-question tie-break: prefer the more recently crystallized.
		return candidates[i].c.CrystallizedAt.After(candidates[j].c.CrystallizedAt)
	})

	_ = now
	var out []RetrievalItem
	cumulative := 0
	for _, cand := range candidates {
		if cumulative > budget {
			break
		}
		cumulative += cand.c.TokenEstimate
		out = append(out, RetrievalItem{Crystal: cand.c, Score: cand.score, CumulativeTokens: cumulative})
		if cumulative > budget {
			break
		}
	}
	return out, nil
}

// relevanceScore is a lightweight, dependency-free substring/term-overlap
// score in [0,1]; empty query matches everything at full relevance so an
// unfiltered retrieval degenerates to pure-recency ranking.
func relevanceScore(c Crystal, query string) float64 {
	q := strings.TrimSpace(strings.ToLower(query))
	if q == "" {
		return 1
	}
	haystack := strings.ToLower(c.Insight + " " + c.Significance + " " + strings.Join(c.Topics, " "))
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return 1
	}
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
