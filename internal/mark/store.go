package mark

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"crucible/internal/evidence"
	"crucible/internal/logging"
	"crucible/internal/xerrors"
)

// schemaVersion tracks the mark store's on-disk schema so future
// migrations have a ledger to check against.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS marks (
	id TEXT PRIMARY KEY,
	timestamp_unix_nano INTEGER NOT NULL,
	phase TEXT NOT NULL,
	walk_id TEXT NOT NULL DEFAULT '',
	determinism TEXT NOT NULL DEFAULT '',
	stimulus_kind TEXT NOT NULL,
	stimulus_payload TEXT NOT NULL,
	response_action TEXT NOT NULL,
	response_result TEXT NOT NULL,
	proof_id TEXT NOT NULL DEFAULT '',
	proof_tier INTEGER NOT NULL DEFAULT 0,
	umwelt_agent TEXT NOT NULL DEFAULT '',
	umwelt_walk TEXT NOT NULL DEFAULT '',
	umwelt_location TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL,
	checksum TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_marks_timestamp ON marks(timestamp_unix_nano);
CREATE INDEX IF NOT EXISTS idx_marks_walk ON marks(walk_id);

CREATE TABLE IF NOT EXISTS mark_links (
	mark_id TEXT NOT NULL,
	source_id TEXT NOT NULL DEFAULT '',
	plan_path TEXT NOT NULL DEFAULT '',
	target_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	FOREIGN KEY(mark_id) REFERENCES marks(id)
);
CREATE INDEX IF NOT EXISTS idx_links_mark ON mark_links(mark_id);
CREATE INDEX IF NOT EXISTS idx_links_source ON mark_links(source_id);

CREATE TABLE IF NOT EXISTS mark_tags (
	mark_id TEXT NOT NULL,
	tag TEXT NOT NULL,
	FOREIGN KEY(mark_id) REFERENCES marks(id)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON mark_tags(tag);
CREATE INDEX IF NOT EXISTS idx_tags_mark ON mark_tags(mark_id);

CREATE TABLE IF NOT EXISTS schema_meta (version INTEGER NOT NULL);
`

// Store is the single-writer, append-only mark ledger of §4.1. Readers
// are unlimited; writers serialize on appendMu.
type Store struct {
	db        *sql.DB
	appendMu  sync.Mutex
	inFlight  atomic.Int64
	watermark int64
	log       *zap.Logger
}

// Open opens (creating if necessary) a mark store backed by a SQLite
// file at path, applying the schema if absent.
func Open(path string, busyWatermark int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mark store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer; sqlite3 driver is not safe for concurrent writers anyway

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply mark schema: %w", err)
	}
	if err := ensureSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	if busyWatermark <= 0 {
		busyWatermark = 1000
	}
	return &Store{db: db, watermark: int64(busyWatermark), log: logging.Get(logging.CategoryMark)}, nil
}

func ensureSchemaVersion(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return fmt.Errorf("read schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_meta(version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("seed schema_meta: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func checksumOf(m Mark, stimulusPayload, responseResult string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s|%s", m.ID, m.Timestamp.UnixNano(), m.Phase, m.Stimulus.Kind, stimulusPayload, m.Response.Action, responseResult, m.WalkID)
	return hex.EncodeToString(h.Sum(nil))
}

// Append validates and durably stores m, returning the stored mark with
// normalized tags. Any failure leaves the store unchanged.
func (s *Store) Append(ctx context.Context, m Mark) (Mark, error) {
	if s.inFlight.Load() >= s.watermark {
		return Mark{}, fmt.Errorf("mark ledger append queue saturated: %w", xerrors.ErrBusy)
	}
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if m.ID == "" {
		return Mark{}, fmt.Errorf("mark id required: %w", xerrors.ErrInvariantViolation)
	}
	m.Tags = normalizeTags(m.Tags)

	for _, l := range m.Links {
		if l.SourceID == m.ID {
			return Mark{}, fmt.Errorf("self-referential link on mark %s: %w", m.ID, xerrors.ErrInvariantViolation)
		}
		if l.IsExternal() {
			continue
		}
		if l.SourceID == "" {
			return Mark{}, fmt.Errorf("link missing source on mark %s: %w", m.ID, xerrors.ErrInvariantViolation)
		}
		src, err := s.getTx(ctx, l.SourceID)
		if err != nil {
			return Mark{}, fmt.Errorf("link source %s: %w", l.SourceID, xerrors.ErrInvariantViolation)
		}
		if src.Timestamp.After(m.Timestamp) {
			return Mark{}, fmt.Errorf("causality violation: link source %s (%s) is after target %s (%s): %w",
				l.SourceID, src.Timestamp, m.ID, m.Timestamp, xerrors.ErrInvariantViolation)
		}
	}

	stimulusPayload, err := json.Marshal(m.Stimulus.Payload)
	if err != nil {
		return Mark{}, fmt.Errorf("marshal stimulus payload: %w", xerrors.ErrInvariantViolation)
	}
	responseResult, err := json.Marshal(m.Response.Result)
	if err != nil {
		return Mark{}, fmt.Errorf("marshal response result: %w", xerrors.ErrInvariantViolation)
	}
	tagsJSON, _ := json.Marshal(m.Tags)

	var proofID string
	var proofTier int
	if m.Proof != nil {
		proofID, proofTier = m.Proof.ID, int(m.Proof.Tier)
	}

	checksum := checksumOf(m, string(stimulusPayload), string(responseResult))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Mark{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO marks
		(id, timestamp_unix_nano, phase, walk_id, determinism, stimulus_kind, stimulus_payload,
		 response_action, response_result, proof_id, proof_tier, umwelt_agent, umwelt_walk, umwelt_location, tags, checksum)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Timestamp.UnixNano(), string(m.Phase), m.WalkID, string(m.Determinism),
		m.Stimulus.Kind, string(stimulusPayload), m.Response.Action, string(responseResult),
		proofID, proofTier, m.Umwelt.AgentID, m.Umwelt.WalkID, m.Umwelt.Location, string(tagsJSON), checksum)
	if err != nil {
		return Mark{}, fmt.Errorf("insert mark %s: %w", m.ID, err)
	}

	for _, l := range m.Links {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mark_links (mark_id, source_id, plan_path, target_id, relation) VALUES (?,?,?,?,?)`,
			m.ID, l.SourceID, l.PlanPath, l.TargetID, string(l.Relation)); err != nil {
			return Mark{}, fmt.Errorf("insert link for mark %s: %w", m.ID, err)
		}
	}
	for _, t := range m.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT INTO mark_tags (mark_id, tag) VALUES (?,?)`, m.ID, t); err != nil {
			return Mark{}, fmt.Errorf("insert tag for mark %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Mark{}, fmt.Errorf("commit mark %s: %w", m.ID, err)
	}

	s.log.Debug("mark appended", zap.String("id", m.ID), zap.String("phase", string(m.Phase)))
	return m, nil
}

// Get retrieves a mark by id. Returns xerrors.ErrNotFound if absent, or
// xerrors.ErrCorruption if the stored checksum no longer matches.
func (s *Store) Get(ctx context.Context, id string) (*Mark, error) {
	return s.getTx(ctx, id)
}

func (s *Store) getTx(ctx context.Context, id string) (*Mark, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, timestamp_unix_nano, phase, walk_id, determinism,
		stimulus_kind, stimulus_payload, response_action, response_result,
		proof_id, proof_tier, umwelt_agent, umwelt_walk, umwelt_location, tags, checksum
		FROM marks WHERE id = ?`, id)

	m, storedChecksum, err := scanMark(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("mark %s: %w", id, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("scan mark %s: %w", id, err)
	}

	stimulusPayload, _ := json.Marshal(m.Stimulus.Payload)
	responseResult, _ := json.Marshal(m.Response.Result)
	if checksumOf(*m, string(stimulusPayload), string(responseResult)) != storedChecksum {
		return nil, fmt.Errorf("mark %s: %w", id, xerrors.ErrCorruption)
	}

	links, err := s.linksFor(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Links = links
	return m, nil
}

func (s *Store) linksFor(ctx context.Context, markID string) ([]MarkLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, plan_path, target_id, relation FROM mark_links WHERE mark_id = ?`, markID)
	if err != nil {
		return nil, fmt.Errorf("query links for %s: %w", markID, err)
	}
	defer rows.Close()

	var links []MarkLink
	for rows.Next() {
		var l MarkLink
		var relation string
		if err := rows.Scan(&l.SourceID, &l.PlanPath, &l.TargetID, &relation); err != nil {
			return nil, fmt.Errorf("scan link for %s: %w", markID, err)
		}
		l.Relation = Relation(relation)
		links = append(links, l)
	}
	return links, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMark(row scanner) (*Mark, string, error) {
	var m Mark
	var tsNano int64
	var phase, walkID, determinism, stimulusKind, stimulusPayload, responseAction, responseResult string
	var proofID string
	var proofTier int
	var umweltAgent, umweltWalk, umweltLocation, tagsJSON, checksum string

	if err := row.Scan(&m.ID, &tsNano, &phase, &walkID, &determinism,
		&stimulusKind, &stimulusPayload, &responseAction, &responseResult,
		&proofID, &proofTier, &umweltAgent, &umweltWalk, &umweltLocation, &tagsJSON, &checksum); err != nil {
		return nil, "", err
	}

	m.Timestamp = time.Unix(0, tsNano).UTC()
	m.Phase = Phase(phase)
	m.WalkID = walkID
	m.Determinism = Determinism(determinism)
	m.Stimulus.Kind = stimulusKind
	_ = json.Unmarshal([]byte(stimulusPayload), &m.Stimulus.Payload)
	m.Response.Action = responseAction
	_ = json.Unmarshal([]byte(responseResult), &m.Response.Result)
	if proofID != "" {
		m.Proof = &EvidenceRef{ID: proofID, Tier: evidence.Tier(proofTier)}
	}
	m.Umwelt = Umwelt{AgentID: umweltAgent, WalkID: umweltWalk, Location: umweltLocation}
	_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)

	return &m, checksum, nil
}

// Filter selects marks for Query. Zero-valued fields are unconstrained.
type Filter struct {
	WalkID    string
	Tag       string
	TagPrefix string
	Phase     Phase
	From, To  time.Time // zero Time = unbounded
}

// Query returns marks matching filter, timestamp-ordered.
func (s *Store) Query(ctx context.Context, f Filter) ([]Mark, error) {
	query := `SELECT id, timestamp_unix_nano, phase, walk_id, determinism,
		stimulus_kind, stimulus_payload, response_action, response_result,
		proof_id, proof_tier, umwelt_agent, umwelt_walk, umwelt_location, tags, checksum
		FROM marks WHERE 1=1`
	var args []any

	if f.WalkID != "" {
		query += " AND walk_id = ?"
		args = append(args, f.WalkID)
	}
	if f.Phase != "" {
		query += " AND phase = ?"
		args = append(args, string(f.Phase))
	}
	if !f.From.IsZero() {
		query += " AND timestamp_unix_nano >= ?"
		args = append(args, f.From.UnixNano())
	}
	if !f.To.IsZero() {
		query += " AND timestamp_unix_nano <= ?"
		args = append(args, f.To.UnixNano())
	}
	if f.Tag != "" {
		query += " AND id IN (SELECT mark_id FROM mark_tags WHERE tag = ?)"
		args = append(args, f.Tag)
	}
	if f.TagPrefix != "" {
		query += " AND id IN (SELECT mark_id FROM mark_tags WHERE tag LIKE ?)"
		args = append(args, f.TagPrefix+"%")
	}
	query += " ORDER BY timestamp_unix_nano ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query marks: %w", err)
	}
	defer rows.Close()

	var out []Mark
	var ids []string
	for rows.Next() {
		m, checksum, err := scanMark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mark row: %w", err)
		}
		stimulusPayload, _ := json.Marshal(m.Stimulus.Payload)
		responseResult, _ := json.Marshal(m.Response.Result)
		if checksumOf(*m, string(stimulusPayload), string(responseResult)) != checksum {
			return nil, fmt.Errorf("mark %s: %w", m.ID, xerrors.ErrCorruption)
		}
		out = append(out, *m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		links, err := s.linksFor(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		out[i].Links = links
	}
	return out, nil
}

// Ancestors walks a mark's links in reverse to its roots, breadth-first,
// and returns the ancestors sorted by timestamp, oldest first.
// Cycles are structurally impossible per the causality invariant, but
// a visited-set guards against it defensively.
func (s *Store) Ancestors(ctx context.Context, id string) ([]Mark, error) {
	visited := map[string]bool{id: true}
	var out []Mark

	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		m, err := s.getTx(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, l := range m.Links {
			if l.IsExternal() || visited[l.SourceID] {
				continue
			}
			visited[l.SourceID] = true
			queue = append(queue, l.SourceID)
			parent, err := s.getTx(ctx, l.SourceID)
			if err != nil {
				return nil, err
			}
			out = append(out, *parent)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// TreeNode is a node in a causal subtree produced by Tree.
type TreeNode struct {
	Mark     Mark
	Children []*TreeNode
}

// Tree produces the causal subtree rooted at rootID: root plus every
// mark that (transitively) names root as a link source.
func (s *Store) Tree(ctx context.Context, rootID string) (*TreeNode, error) {
	root, err := s.getTx(ctx, rootID)
	if err != nil {
		return nil, err
	}
	node := &TreeNode{Mark: *root}
	if err := s.attachChildren(ctx, node, map[string]bool{rootID: true}); err != nil {
		return nil, err
	}
	return node, nil
}

func (s *Store) attachChildren(ctx context.Context, node *TreeNode, visited map[string]bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT mark_id FROM mark_links WHERE source_id = ? ORDER BY mark_id`, node.Mark.ID)
	if err != nil {
		return fmt.Errorf("query children of %s: %w", node.Mark.ID, err)
	}
	var childIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		childIDs = append(childIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, cid := range childIDs {
		if visited[cid] {
			continue
		}
		visited[cid] = true
		child, err := s.getTx(ctx, cid)
		if err != nil {
			return err
		}
		childNode := &TreeNode{Mark: *child}
		if err := s.attachChildren(ctx, childNode, visited); err != nil {
			return err
		}
		node.Children = append(node.Children, childNode)
	}
	return nil
}
