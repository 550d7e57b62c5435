package crystal

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"crucible/internal/logging"
)

// Source is a mark or lower-level crystal fed into Crystallize. Text is
// the content used for prompt assembly, similarity dedup, and the
// semantic-distance honesty estimate.
type Source struct {
	ID        string
	Text      string
	Timestamp time.Time
}

// Crystallizer produces crystals from a batch of sources per §4.2's
// select -> assemble -> invoke -> parse -> honesty -> write pipeline.
type Crystallizer struct {
	provider            Provider
	similarityThreshold float64
	log                 *zap.Logger
}

// NewCrystallizer builds a Crystallizer. provider may be nil, in which
// case Crystallize always takes the LLM-free fallback path.
func NewCrystallizer(provider Provider, similarityThreshold float64) *Crystallizer {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.92
	}
	return &Crystallizer{
		provider:            provider,
		similarityThreshold: similarityThreshold,
		log:                 logging.Get(logging.CategoryCrystal),
	}
}

// Crystallize implements the full pipeline. level is the crystal's
// level; for level 0, sources are marks, for level N sources must be
// level N-1 crystals (the caller is responsible for that invariant —
// see Store.Crystallize which enforces it against real stored data).
func (c *Crystallizer) Crystallize(ctx context.Context, level Level, sources []Source) (*Crystal, error) {
	selected, droppedCount := dedupeSources(sources, c.similarityThreshold)

	prompt := assemblePrompt(level, selected)
	resp, usedFallback, status := c.invoke(ctx, prompt)

	crystal := c.build(level, selected, droppedCount, resp, usedFallback, status)
	return crystal, nil
}

// invoke calls the LLM provider, retrying once with a repair prompt on
// schema failure, falling back to the deterministic template path on
// timeout/unavailability/second failure. status is "" on success, or a
// short FAILED-audit description.
func (c *Crystallizer) invoke(ctx context.Context, prompt string) (*llmResponse, bool, string) {
	if c.provider == nil {
		return nil, true, "no provider configured"
	}

	raw, err := c.provider.Generate(ctx, prompt)
	if err != nil {
		c.log.Warn("llm provider unavailable, using fallback", zap.Error(err))
		return nil, true, "provider unavailable: " + err.Error()
	}

	resp, err := parseLLMResponse(raw)
	if err == nil {
		return resp, false, ""
	}

	c.log.Debug("llm response failed schema, retrying with repair prompt", zap.Error(err))
	raw2, err2 := c.provider.Generate(ctx, repairPrompt(prompt, raw, err.Error()))
	if err2 != nil {
		return nil, true, "repair attempt failed: " + err2.Error()
	}
	resp2, err2 := parseLLMResponse(raw2)
	if err2 != nil {
		return nil, true, "FAILED: second schema validation failure: " + err2.Error()
	}
	return resp2, false, ""
}

func (c *Crystallizer) build(level Level, sources []Source, droppedCount int, resp *llmResponse, usedFallback bool, failureNote string) *Crystal {
	now := time.Now().UTC()
	ids := make([]string, len(sources))
	var rangeStart, rangeEnd time.Time
	var sourceTextLen int
	for i, s := range sources {
		ids[i] = s.ID
		sourceTextLen += len(s.Text)
		if rangeStart.IsZero() || s.Timestamp.Before(rangeStart) {
			rangeStart = s.Timestamp
		}
		if rangeEnd.IsZero() || s.Timestamp.After(rangeEnd) {
			rangeEnd = s.Timestamp
		}
	}

	var insight, significance string
	var topics, principles []string
	var mood Mood
	var confidence float64

	if usedFallback || resp == nil {
		insight, significance, topics, confidence = templateFallback(sources)
	} else {
		insight = resp.Insight
		significance = resp.Significance
		topics = resp.Topics
		principles = resp.Principles
		mood = Mood{Valence: resp.Mood.Valence, Arousal: resp.Mood.Arousal, Curiosity: resp.Mood.Curiosity}
		confidence = resp.Confidence
	}

	crystalTextLen := len(insight) + len(significance)
	ratio := 0.0
	if sourceTextLen > 0 {
		ratio = float64(crystalTextLen) / float64(sourceTextLen)
	}
	undershot := ratio > 0.10
	if undershot && confidence > 0.5 {
		confidence = 0.5 // undershooting the compression target caps confidence
	}

	disclosure := warmthPhrase(droppedCount)
	if failureNote != "" {
		c.log.Info("crystallization fallback used", zap.String("reason", failureNote))
	}

	return &Crystal{
		ID:               uuid.NewString(),
		Level:            level,
		Insight:          insight,
		Significance:     significance,
		Topics:           topics,
		Principles:       principles,
		Mood:             mood,
		SourceIDs:        ids,
		CrystallizedAt:   now,
		TimeRangeStart:   rangeStart,
		TimeRangeEnd:     rangeEnd,
		Confidence:       confidence,
		TokenEstimate:    crystalTextLen / 4, // rough token heuristic, 4 chars/token
		CompressionRatio: ratio,
		Honesty: Honesty{
			DroppedCount:               droppedCount,
			SemanticDistanceEstimate:   semanticDistance(sources, insight+" "+significance),
			Disclosure:                 disclosure,
			UndershotCompressionTarget: undershot,
		},
	}
}

// templateFallback is the LLM-free path of §4.2: keyword extraction and
// statistical summary. Confidence is always <= 0.5 here.
func templateFallback(sources []Source) (insight, significance string, topics []string, confidence float64) {
	if len(sources) == 0 {
		return "no sources to summarize", "nothing to report", nil, 0.1
	}

	wordCounts := make(map[string]int)
	for _, s := range sources {
		for _, w := range strings.Fields(s.Text) {
			w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }))
			if len(w) < 4 {
				continue
			}
			wordCounts[w]++
		}
	}

	type kv struct {
		word  string
		count int
	}
	var ranked []kv
	for w, n := range wordCounts {
		ranked = append(ranked, kv{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count == ranked[j].count {
			return ranked[i].word < ranked[j].word
		}
		return ranked[i].count > ranked[j].count
	})

	limit := 5
	if len(ranked) < limit {
		limit = len(ranked)
	}
	for i := 0; i < limit; i++ {
		topics = append(topics, ranked[i].word)
	}

	insight = "recurring terms across " + strconv.Itoa(len(sources)) + " sources: " + strings.Join(topics, ", ")
	significance = "template summary; no LLM synthesis was available"
	return insight, significance, topics, 0.4
}

// dedupeSources removes near-identical sources (by normalized word-set
// Jaccard similarity above threshold), returning the survivors and how
// many were dropped — the honesty.dropped_count input.
func dedupeSources(sources []Source, threshold float64) ([]Source, int) {
	var kept []Source
	dropped := 0

	for _, s := range sources {
		duplicate := false
		for _, k := range kept {
			if jaccard(s.Text, k.Text) >= threshold {
				duplicate = true
				break
			}
		}
		if duplicate {
			dropped++
			continue
		}
		kept = append(kept, s)
	}
	return kept, dropped
}

func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

// semanticDistance is an L1-like distance between concatenated source
// text and crystal text: 1 - jaccard similarity, as a rough proxy for
// "how much meaning moved" (§4.2 step 5).
func semanticDistance(sources []Source, crystalText string) float64 {
	var all strings.Builder
	for _, s := range sources {
		all.WriteString(s.Text)
		all.WriteByte(' ')
	}
	return 1 - jaccard(all.String(), crystalText)
}
