package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crucible/internal/crystal"
	"crucible/internal/mark"
)

// CrystalManifest lists the crystal namespace's verbs.
func (n *Node) CrystalManifest(ctx context.Context) Response {
	return Response{
		Success:   true,
		Data:      map[string]any{"verbs": []string{"manifest", "crystallize", "query", "timeline"}},
		Rendering: "crystal: compress recent marks or crystals into a new crystal, retrieve within a token budget, or walk a time range",
	}
}

func markSources(marks []mark.Mark) []crystal.Source {
	out := make([]crystal.Source, len(marks))
	for i, m := range marks {
		out[i] = crystal.Source{
			ID:        m.ID,
			Text:      fmt.Sprintf("%s %s -> %s", m.Stimulus.Kind, m.Phase, m.Response.Action),
			Timestamp: m.Timestamp,
		}
	}
	return out
}

func crystalSources(crystals []crystal.Crystal) []crystal.Source {
	out := make([]crystal.Source, len(crystals))
	for i, c := range crystals {
		out[i] = crystal.Source{ID: c.ID, Text: c.Insight + " " + c.Significance, Timestamp: c.CrystallizedAt}
	}
	return out
}

// CrystalCrystallize gathers sources since `since` (marks for level 0,
// crystals one level down otherwise), crystallizes them, and appends
// the result. The crystal store does not itself emit marks, so the
// RPC layer witnesses the boundary here.
func (n *Node) CrystalCrystallize(ctx context.Context, level crystal.Level, since time.Time) Response {
	var sources []crystal.Source
	var err error

	if level == crystal.LevelSession {
		var rows []mark.Mark
		rows, err = n.Marks.Query(ctx, mark.Filter{From: since})
		sources = markSources(rows)
	} else {
		var rows []crystal.Crystal
		rows, err = n.Crystals.ByLevel(ctx, level-1)
		var filtered []crystal.Crystal
		for _, c := range rows {
			if !c.CrystallizedAt.Before(since) {
				filtered = append(filtered, c)
			}
		}
		sources = crystalSources(filtered)
	}
	if err != nil {
		return errResponse(err)
	}
	if len(sources) == 0 {
		return Response{Success: false, ErrorKind: "NOT_FOUND", Rendering: "no sources found since the requested time"}
	}

	c, err := n.Crystallizer.Crystallize(ctx, level, sources)
	if err != nil {
		return errResponse(err)
	}

	markExists := func(id string) (bool, error) {
		if level != crystal.LevelSession {
			return true, nil
		}
		_, err := n.Marks.Get(ctx, id)
		return err == nil, nil
	}
	if err := n.Crystals.Append(ctx, *c, markExists); err != nil {
		return errResponse(err)
	}

	rpcMark := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseReflect,
		Stimulus:  mark.Stimulus{Kind: "CRYSTALLIZE_REQUEST", Payload: map[string]any{"level": int(level), "since": since}},
		Response:  mark.Response{Action: "CRYSTAL_WRITTEN", Result: map[string]any{"crystal_id": c.ID}},
		Tags:      []string{"crystal:write"},
	}
	stored, err := n.Marks.Append(ctx, rpcMark)
	if err != nil {
		return errResponse(err)
	}

	return Response{
		Success:   true,
		MarkID:    stored.ID,
		Data:      map[string]any{"crystal_id": c.ID, "confidence": c.Confidence, "dropped_count": c.Honesty.DroppedCount},
		Rendering: c.Honesty.Disclosure,
	}
}

// CrystalQuery runs budget-aware retrieval for q.
func (n *Node) CrystalQuery(ctx context.Context, q string, budget int) Response {
	items, err := n.Crystals.Retrieve(ctx, budget, q, crystal.DefaultWeights())
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "crystal", "query", map[string]any{"q": q, "budget": budget})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"items": items},
		Rendering: fmt.Sprintf("%d crystals within budget %d", len(items), budget),
	}
}

// CrystalTimeline returns crystals across all levels whose
// CrystallizedAt falls within [from, to].
func (n *Node) CrystalTimeline(ctx context.Context, from, to time.Time) Response {
	var all []crystal.Crystal
	for lvl := crystal.LevelSession; lvl <= crystal.LevelEpoch; lvl++ {
		batch, err := n.Crystals.ByLevel(ctx, lvl)
		if err != nil {
			return errResponse(err)
		}
		for _, c := range batch {
			if !c.CrystallizedAt.Before(from) && !c.CrystallizedAt.After(to) {
				all = append(all, c)
			}
		}
	}
	markID, err := n.witnessQuery(ctx, "crystal", "timeline", map[string]any{"from": from, "to": to})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"crystals": all},
		Rendering: fmt.Sprintf("%d crystals between %s and %s", len(all), from.Format(time.RFC3339), to.Format(time.RFC3339)),
	}
}
