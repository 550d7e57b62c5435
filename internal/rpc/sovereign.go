package rpc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"crucible/internal/sovereign"
)

// SovereignManifest lists the sovereign namespace's verbs.
func (n *Node) SovereignManifest(ctx context.Context) Response {
	return Response{
		Success:   true,
		Data:      map[string]any{"verbs": []string{"manifest", "ingest", "query", "diff", "export"}},
		Rendering: "sovereign: ingest documents, inspect their versions, diff against external bytes, or export their current bytes",
	}
}

// SovereignIngest ingests event; the sovereign store's own ingest/edge
// marks satisfy the one-mark-per-invocation requirement, so no
// wrapper mark is added here.
func (n *Node) SovereignIngest(ctx context.Context, path string, content []byte, source string) Response {
	ingested, err := n.Sovereign.Ingest(ctx, sovereign.IngestEvent{Path: path, ContentBytes: content, Source: source})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success: true,
		MarkID:  ingested.IngestMarkID,
		Data: map[string]any{
			"path":          path,
			"version":       ingested.Entity.Current().Number,
			"ingest_mark_id": ingested.IngestMarkID,
			"edge_mark_ids": ingested.EdgeMarkIDs,
		},
		Rendering: fmt.Sprintf("ingested %s as version %d (%d edges discovered)", path, ingested.Entity.Current().Number, len(ingested.EdgeMarkIDs)),
	}
}

// SovereignQuery returns an entity's full version history.
func (n *Node) SovereignQuery(ctx context.Context, path string) Response {
	entity, err := n.Sovereign.Get(ctx, path)
	if err != nil {
		return errResponse(err)
	}
	markID, err := n.witnessQuery(ctx, "sovereign", "query", map[string]any{"path": path})
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"path": path, "current_version": entity.Current().Number, "version_count": len(entity.Versions)},
		Rendering: fmt.Sprintf("%s is at version %d of %d", path, entity.Current().Number, len(entity.Versions)),
	}
}

// SovereignDiff compares an entity's current bytes against externally
// supplied bytes by content hash, without ingesting anything.
func (n *Node) SovereignDiff(ctx context.Context, path string, externalBytes []byte) Response {
	entity, err := n.Sovereign.Get(ctx, path)
	if err != nil {
		return errResponse(err)
	}
	sum := sha256.Sum256(externalBytes)
	externalHash := hex.EncodeToString(sum[:])
	same := externalHash == entity.Current().ContentHash

	markID, err := n.witnessQuery(ctx, "sovereign", "diff", map[string]any{"path": path, "external_hash": externalHash})
	if err != nil {
		return errResponse(err)
	}
	rendering := fmt.Sprintf("%s matches the stored current version", path)
	if !same {
		rendering = fmt.Sprintf("%s differs from the stored current version", path)
	}
	return Response{
		Success:   true,
		MarkID:    markID,
		Data:      map[string]any{"path": path, "identical": same, "stored_hash": entity.Current().ContentHash, "external_hash": externalHash},
		Rendering: rendering,
	}
}

// SovereignExport returns an entity's current bytes; Export itself
// creates the witnessing mark before the bytes are handed back.
func (n *Node) SovereignExport(ctx context.Context, path string) Response {
	bundle, err := n.Sovereign.Export(ctx, path)
	if err != nil {
		return errResponse(err)
	}
	return Response{
		Success:   true,
		MarkID:    bundle.ExportMarkID,
		Data:      map[string]any{"path": path, "content_bytes": bundle.ContentBytes},
		Rendering: fmt.Sprintf("exported %d bytes from %s", len(bundle.ContentBytes), path),
	}
}
