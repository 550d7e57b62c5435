package sovereign

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"crucible/internal/evidence"
	"crucible/internal/logging"
	"crucible/internal/mark"
	"crucible/internal/xerrors"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sovereign_versions (
	path TEXT NOT NULL,
	version INTEGER NOT NULL,
	content_bytes BLOB NOT NULL,
	content_hash TEXT NOT NULL,
	ingest_mark_id TEXT NOT NULL,
	ingested_at_unix_nano INTEGER NOT NULL,
	PRIMARY KEY (path, version)
);
CREATE INDEX IF NOT EXISTS idx_sovereign_versions_path ON sovereign_versions(path);

CREATE TABLE IF NOT EXISTS sovereign_current (
	path TEXT PRIMARY KEY,
	current_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sovereign_overlay (
	path TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (path, key)
);

CREATE TABLE IF NOT EXISTS sovereign_edge_marks (
	path TEXT NOT NULL,
	version INTEGER NOT NULL,
	edge_mark_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	target TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sovereign_edge_marks_path ON sovereign_edge_marks(path, version);
`

// MarkAppender is the subset of mark.Store that the sovereign store
// needs in order to witness boundary crossings. mark.Store satisfies
// this directly.
type MarkAppender interface {
	Append(ctx context.Context, m mark.Mark) (mark.Mark, error)
}

// Store is the sovereign-document store of §4.3: every ingested byte
// sequence is kept verbatim and versioned, and every ingest/export is
// witnessed in the mark ledger.
type Store struct {
	db     *sql.DB
	marks  MarkAppender
	parser EdgeParser
	log    *zap.Logger
}

// Open opens (creating if necessary) a sovereign store backed by a
// SQLite file at path. marks receives one mark per ingest/export/edge
// discovery; parser extracts structural edges from ingested content
// (nil disables edge extraction).
func Open(path string, marks MarkAppender, parser EdgeParser) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sovereign store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sovereign schema: %w", err)
	}
	return &Store{db: db, marks: marks, parser: parser, log: logging.Get(logging.CategorySovereign)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func hashOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Ingest records event as the current version of its path, witnessing
// the crossing with an INGEST mark. Re-ingesting identical bytes is a
// no-op that returns the existing entity (idempotence, §3.6 Law 1).
// A failure in edge extraction degrades to an INGEST_PARTIAL mark
// rather than aborting the ingest itself.
func (s *Store) Ingest(ctx context.Context, event IngestEvent) (*IngestedEntity, error) {
	if event.Path == "" {
		return nil, fmt.Errorf("ingest requires a path: %w", xerrors.ErrInvariantViolation)
	}
	hash := hashOf(event.ContentBytes)
	now := time.Now().UTC()

	prior, err := s.latestVersion(ctx, event.Path)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if err == nil && prior.ContentHash == hash {
		entity, err := s.Get(ctx, event.Path)
		if err != nil {
			return nil, err
		}
		return &IngestedEntity{Entity: *entity, IngestMarkID: prior.IngestMarkID}, nil
	}

	nextVersion := 1
	var links []mark.MarkLink
	if err == nil {
		nextVersion = prior.Number + 1
		links = append(links, mark.MarkLink{SourceID: prior.IngestMarkID, Relation: mark.RelationContinues})
	}

	ingestMark := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: now,
		Phase:     mark.PhaseSense,
		Stimulus:  mark.Stimulus{Kind: "INGEST", Payload: map[string]any{"path": event.Path, "source": event.Source}},
		Response:  mark.Response{Action: "VERSION_STORED", Result: map[string]any{"version": nextVersion, "content_hash": hash}},
		Tags:      []string{"sovereign:" + event.Path},
		Links:     links,
	}
	stored, err := s.marks.Append(ctx, ingestMark)
	if err != nil {
		return nil, fmt.Errorf("witness ingest of %s: %w", event.Path, err)
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO sovereign_versions
		(path, version, content_bytes, content_hash, ingest_mark_id, ingested_at_unix_nano)
		VALUES (?,?,?,?,?,?)`,
		event.Path, nextVersion, event.ContentBytes, hash, stored.ID, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("store version %d of %s: %w", nextVersion, event.Path, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO sovereign_current (path, current_version) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET current_version = excluded.current_version`, event.Path, nextVersion); err != nil {
		return nil, fmt.Errorf("update current version of %s: %w", event.Path, err)
	}

	edgeMarkIDs, edgeErr := s.extractAndWitnessEdges(ctx, event.Path, nextVersion, event.ContentBytes, stored.ID)
	if edgeErr != nil {
		partial := mark.Mark{
			ID:        uuid.NewString(),
			Timestamp: now,
			Phase:     mark.PhaseReflect,
			Stimulus:  mark.Stimulus{Kind: "INGEST_EDGE_FAILURE", Payload: map[string]any{"path": event.Path, "error": edgeErr.Error()}},
			Response:  mark.Response{Action: "INGEST_PARTIAL", Result: map[string]any{"version": nextVersion}},
			Tags:      []string{"sovereign:" + event.Path},
			Links:     []mark.MarkLink{{SourceID: stored.ID, Relation: mark.RelationCauses}},
		}
		if _, werr := s.marks.Append(ctx, partial); werr != nil {
			s.log.Warn("failed to witness ingest partial", zap.Error(werr))
		}
		s.log.Warn("edge extraction failed during ingest", zap.String("path", event.Path), zap.Error(edgeErr))
	}

	entity, err := s.Get(ctx, event.Path)
	if err != nil {
		return nil, err
	}
	return &IngestedEntity{Entity: *entity, IngestMarkID: stored.ID, EdgeMarkIDs: edgeMarkIDs}, nil
}

func (s *Store) extractAndWitnessEdges(ctx context.Context, path string, version int, content []byte, ingestMarkID string) ([]string, error) {
	if s.parser == nil {
		return nil, nil
	}
	edges, err := s.parser.Parse(path, content)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range edges {
		edgeMarkID := uuid.NewString()
		edgeMark := mark.Mark{
			ID:        edgeMarkID,
			Timestamp: time.Now().UTC(),
			Phase:     mark.PhaseReflect,
			Stimulus:  mark.Stimulus{Kind: "EDGE_DISCOVERED", Payload: map[string]any{"path": path, "kind": e.Kind, "target": e.Target, "context": e.Context}},
			Response:  mark.Response{Action: "EDGE_RECORDED", Result: map[string]any{"target": e.Target}},
			Proof:     &mark.EvidenceRef{ID: edgeMarkID, Tier: evidence.TierTrace},
			Tags:      []string{"sovereign:" + path, "edge:" + e.Kind},
			Links:     []mark.MarkLink{{SourceID: ingestMarkID, Relation: mark.RelationCauses}},
		}
		stored, err := s.marks.Append(ctx, edgeMark)
		if err != nil {
			return ids, fmt.Errorf("witness edge %s->%s: %w", path, e.Target, err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO sovereign_edge_marks (path, version, edge_mark_id, kind, target) VALUES (?,?,?,?,?)`,
			path, version, stored.ID, e.Kind, e.Target); err != nil {
			return ids, fmt.Errorf("record edge mark for %s: %w", path, err)
		}
		ids = append(ids, stored.ID)
	}
	return ids, nil
}

func (s *Store) latestVersion(ctx context.Context, path string) (Version, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, content_bytes, content_hash, ingest_mark_id, ingested_at_unix_nano
		FROM sovereign_versions WHERE path = ? ORDER BY version DESC LIMIT 1`, path)
	return scanVersion(row)
}

func scanVersion(row *sql.Row) (Version, error) {
	var v Version
	var ingestedAtNano int64
	if err := row.Scan(&v.Number, &v.ContentBytes, &v.ContentHash, &v.IngestMarkID, &ingestedAtNano); err != nil {
		return Version{}, err
	}
	v.IngestedAt = time.Unix(0, ingestedAtNano).UTC()
	return v, nil
}

// Get returns the full version history and current overlay for path.
func (s *Store) Get(ctx context.Context, path string) (*Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version, content_bytes, content_hash, ingest_mark_id, ingested_at_unix_nano
		FROM sovereign_versions WHERE path = ? ORDER BY version ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("query versions of %s: %w", path, err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var ingestedAtNano int64
		if err := rows.Scan(&v.Number, &v.ContentBytes, &v.ContentHash, &v.IngestMarkID, &ingestedAtNano); err != nil {
			return nil, fmt.Errorf("scan version of %s: %w", path, err)
		}
		if hashOf(v.ContentBytes) != v.ContentHash {
			return nil, fmt.Errorf("entity %s version %d: stored bytes no longer match their hash: %w", path, v.Number, xerrors.ErrCorruption)
		}
		v.IngestedAt = time.Unix(0, ingestedAtNano).UTC()
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("entity %s: %w", path, xerrors.ErrNotFound)
	}

	overlay, err := s.overlayFor(ctx, path)
	if err != nil {
		return nil, err
	}

	var current int
	if err := s.db.QueryRowContext(ctx, `SELECT current_version FROM sovereign_current WHERE path = ?`, path).Scan(&current); err != nil {
		current = versions[len(versions)-1].Number
	}

	currentIdx := len(versions) - 1
	for i, v := range versions {
		if v.Number == current {
			currentIdx = i
			break
		}
	}

	return &Entity{Path: path, Versions: versions, CurrentVersion: currentIdx, Overlay: overlay}, nil
}

func (s *Store) overlayFor(ctx context.Context, path string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM sovereign_overlay WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("query overlay of %s: %w", path, err)
	}
	defer rows.Close()

	overlay := map[string]any{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		overlay[k] = v
	}

	edgeRows, err := s.db.QueryContext(ctx, `SELECT kind, target, edge_mark_id FROM sovereign_edge_marks WHERE path = ?`, path)
	if err != nil {
		return nil, fmt.Errorf("query edges of %s: %w", path, err)
	}
	defer edgeRows.Close()
	var edges []map[string]string
	for edgeRows.Next() {
		var kind, target, markID string
		if err := edgeRows.Scan(&kind, &target, &markID); err != nil {
			return nil, err
		}
		edges = append(edges, map[string]string{"kind": kind, "target": target, "mark_id": markID})
	}
	if len(edges) > 0 {
		overlay["edges"] = edges
	}
	return overlay, nil
}

// Export returns the current version's bytes, witnessed by an EXPORT
// mark created before the bytes are handed back (§3.6 Law 3).
func (s *Store) Export(ctx context.Context, path string) (*ExportBundle, error) {
	entity, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	current := entity.Current()

	exportMark := mark.Mark{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Phase:     mark.PhaseAct,
		Stimulus:  mark.Stimulus{Kind: "EXPORT_REQUEST", Payload: map[string]any{"path": path, "version": current.Number}},
		Response:  mark.Response{Action: "BYTES_RELEASED", Result: map[string]any{"version": current.Number}},
		Tags:      []string{"sovereign:" + path},
		Links:     []mark.MarkLink{{SourceID: current.IngestMarkID, Relation: mark.RelationEvidences}},
	}
	stored, err := s.marks.Append(ctx, exportMark)
	if err != nil {
		return nil, fmt.Errorf("witness export of %s: %w", path, err)
	}
	return &ExportBundle{Path: path, ContentBytes: current.ContentBytes, ExportMarkID: stored.ID}, nil
}

// Verify recomputes every version's content hash and compares it
// against the hash recorded at ingest time, detecting silent storage
// corruption.
func (s *Store) Verify(ctx context.Context, path string) error {
	entity, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	for _, v := range entity.Versions {
		if hashOf(v.ContentBytes) != v.ContentHash {
			return fmt.Errorf("entity %s version %d: stored bytes no longer match their hash: %w", path, v.Number, xerrors.ErrCorruption)
		}
	}
	return nil
}

// AllPaths returns every path that has at least one ingested version,
// for use by graph adapters that need to enumerate the whole store.
func (s *Store) AllPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT path FROM sovereign_versions ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list sovereign paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ProvenanceChain walks the version/edge mark ids for path into a
// linear, read-only account of its history, without re-touching the
// mark ledger itself.
func (s *Store) ProvenanceChain(ctx context.Context, path string) (*ProvenanceChain, error) {
	entity, err := s.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	chain := &ProvenanceChain{
		BirthIngestMarkID:           entity.Versions[0].IngestMarkID,
		ModificationMarksPerVersion: make([][]string, len(entity.Versions)),
		EdgeMarksPerVersion:         make([][]string, len(entity.Versions)),
	}
	for i, v := range entity.Versions {
		chain.ModificationMarksPerVersion[i] = []string{v.IngestMarkID}

		rows, err := s.db.QueryContext(ctx, `SELECT edge_mark_id FROM sovereign_edge_marks WHERE path = ? AND version = ? ORDER BY edge_mark_id`, path, v.Number)
		if err != nil {
			return nil, fmt.Errorf("query edge marks for %s v%d: %w", path, v.Number, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		chain.EdgeMarksPerVersion[i] = ids
	}
	return chain, nil
}
