package crystal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"crucible/internal/logging"
	"crucible/internal/xerrors"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS crystals (
	id TEXT PRIMARY KEY,
	level INTEGER NOT NULL,
	insight TEXT NOT NULL,
	significance TEXT NOT NULL,
	topics TEXT NOT NULL,
	principles TEXT NOT NULL,
	mood_valence REAL NOT NULL,
	mood_arousal REAL NOT NULL,
	mood_curiosity REAL NOT NULL,
	source_ids TEXT NOT NULL,
	crystallized_at_unix_nano INTEGER NOT NULL,
	time_range_start_unix_nano INTEGER NOT NULL,
	time_range_end_unix_nano INTEGER NOT NULL,
	confidence REAL NOT NULL,
	token_estimate INTEGER NOT NULL,
	compression_ratio REAL NOT NULL,
	honesty_dropped_count INTEGER NOT NULL,
	honesty_semantic_distance REAL NOT NULL,
	honesty_disclosure TEXT NOT NULL,
	honesty_undershot INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crystals_level ON crystals(level);
`

// Store is the append-only crystal store of §4.2, indexed by id and
// level, single-writer per level (writes overall serialize on storeMu;
// the per-level requirement is satisfied trivially by that).
type Store struct {
	db      *sql.DB
	storeMu sync.Mutex
	log     *zap.Logger
}

// Open opens (creating if necessary) a crystal store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open crystal store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply crystal schema: %w", err)
	}
	return &Store{db: db, log: logging.Get(logging.CategoryCrystal)}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append validates the provenance-chain invariant (§3.4: every crystal
// references concrete sources; a level-N crystal may reference only
// marks if N=0, or level-(N-1) crystals otherwise) and writes c.
// markExists is used only when c.Level == LevelSession to confirm each
// source id corresponds to an actual mark; pass nil to skip that check
// (e.g. in unit tests that synthesize sources).
func (s *Store) Append(ctx context.Context, c Crystal, markExists func(id string) (bool, error)) error {
	if len(c.SourceIDs) == 0 {
		return fmt.Errorf("crystal %s has no source ids: %w", c.ID, xerrors.ErrInvariantViolation)
	}

	if c.Level == LevelSession {
		if markExists != nil {
			for _, id := range c.SourceIDs {
				ok, err := markExists(id)
				if err != nil {
					return fmt.Errorf("check mark source %s: %w", id, err)
				}
				if !ok {
					return fmt.Errorf("level-0 crystal %s references unknown mark %s: %w", c.ID, id, xerrors.ErrInvariantViolation)
				}
			}
		}
	} else {
		for _, id := range c.SourceIDs {
			src, err := s.getTx(ctx, id)
			if err != nil {
				return fmt.Errorf("crystal %s source %s: %w", c.ID, id, xerrors.ErrInvariantViolation)
			}
			if src.Level != c.Level-1 {
				return fmt.Errorf("crystal %s (level %d) references source %s at level %d, want %d: %w",
					c.ID, c.Level, id, src.Level, c.Level-1, xerrors.ErrInvariantViolation)
			}
		}
	}

	if c.Honesty.DroppedCount < 0 {
		return fmt.Errorf("crystal %s has negative dropped_count: %w", c.ID, xerrors.ErrInvariantViolation)
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	topicsJSON, _ := json.Marshal(c.Topics)
	principlesJSON, _ := json.Marshal(c.Principles)
	sourceIDsJSON, _ := json.Marshal(c.SourceIDs)

	_, err := s.db.ExecContext(ctx, `INSERT INTO crystals
		(id, level, insight, significance, topics, principles, mood_valence, mood_arousal, mood_curiosity,
		 source_ids, crystallized_at_unix_nano, time_range_start_unix_nano, time_range_end_unix_nano,
		 confidence, token_estimate, compression_ratio,
		 honesty_dropped_count, honesty_semantic_distance, honesty_disclosure, honesty_undershot)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, int(c.Level), c.Insight, c.Significance, string(topicsJSON), string(principlesJSON),
		c.Mood.Valence, c.Mood.Arousal, c.Mood.Curiosity,
		string(sourceIDsJSON), c.CrystallizedAt.UnixNano(), c.TimeRangeStart.UnixNano(), c.TimeRangeEnd.UnixNano(),
		c.Confidence, c.TokenEstimate, c.CompressionRatio,
		c.Honesty.DroppedCount, c.Honesty.SemanticDistanceEstimate, c.Honesty.Disclosure, boolToInt(c.Honesty.UndershotCompressionTarget))
	if err != nil {
		return fmt.Errorf("insert crystal %s: %w", c.ID, err)
	}
	s.log.Debug("crystal appended", zap.String("id", c.ID), zap.Int("level", int(c.Level)))
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get retrieves a crystal by id.
func (s *Store) Get(ctx context.Context, id string) (*Crystal, error) {
	return s.getTx(ctx, id)
}

func (s *Store) getTx(ctx context.Context, id string) (*Crystal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, level, insight, significance, topics, principles,
		mood_valence, mood_arousal, mood_curiosity, source_ids, crystallized_at_unix_nano,
		time_range_start_unix_nano, time_range_end_unix_nano, confidence, token_estimate, compression_ratio,
		honesty_dropped_count, honesty_semantic_distance, honesty_disclosure, honesty_undershot
		FROM crystals WHERE id = ?`, id)

	c, err := scanCrystal(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("crystal %s: %w", id, xerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan crystal %s: %w", id, err)
	}
	return c, nil
}

// ByLevel returns all crystals at the given level, most-recent first.
func (s *Store) ByLevel(ctx context.Context, level Level) ([]Crystal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, level, insight, significance, topics, principles,
		mood_valence, mood_arousal, mood_curiosity, source_ids, crystallized_at_unix_nano,
		time_range_start_unix_nano, time_range_end_unix_nano, confidence, token_estimate, compression_ratio,
		honesty_dropped_count, honesty_semantic_distance, honesty_disclosure, honesty_undershot
		FROM crystals WHERE level = ? ORDER BY crystallized_at_unix_nano DESC`, int(level))
	if err != nil {
		return nil, fmt.Errorf("query crystals by level: %w", err)
	}
	defer rows.Close()

	var out []Crystal
	for rows.Next() {
		c, err := scanCrystal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crystal row: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCrystal(row scanner) (*Crystal, error) {
	var c Crystal
	var level int
	var topicsJSON, principlesJSON, sourceIDsJSON string
	var crystallizedAt, rangeStart, rangeEnd int64
	var undershot int

	if err := row.Scan(&c.ID, &level, &c.Insight, &c.Significance, &topicsJSON, &principlesJSON,
		&c.Mood.Valence, &c.Mood.Arousal, &c.Mood.Curiosity, &sourceIDsJSON, &crystallizedAt,
		&rangeStart, &rangeEnd, &c.Confidence, &c.TokenEstimate, &c.CompressionRatio,
		&c.Honesty.DroppedCount, &c.Honesty.SemanticDistanceEstimate, &c.Honesty.Disclosure, &undershot); err != nil {
		return nil, err
	}

	c.Level = Level(level)
	_ = json.Unmarshal([]byte(topicsJSON), &c.Topics)
	_ = json.Unmarshal([]byte(principlesJSON), &c.Principles)
	_ = json.Unmarshal([]byte(sourceIDsJSON), &c.SourceIDs)
	c.CrystallizedAt = time.Unix(0, crystallizedAt).UTC()
	c.TimeRangeStart = time.Unix(0, rangeStart).UTC()
	c.TimeRangeEnd = time.Unix(0, rangeEnd).UTC()
	c.Honesty.UndershotCompressionTarget = undershot != 0

	return &c, nil
}
