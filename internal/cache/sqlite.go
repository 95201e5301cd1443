package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS fixtures (
  fixture_id   INTEGER PRIMARY KEY,
  phase        INTEGER NOT NULL,
  status       TEXT NOT NULL DEFAULT '',
  kickoff      INTEGER NOT NULL DEFAULT 0,
  last_updated INTEGER NOT NULL,
  payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fixtures_phase ON fixtures(phase);`

type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create cache dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Upsert(ctx context.Context, f models.FixtureSnapshot) error {
	const q = `INSERT INTO fixtures (fixture_id, phase, status, kickoff, last_updated, payload)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(fixture_id) DO UPDATE SET
  phase = excluded.phase,
  status = excluded.status,
  kickoff = excluded.kickoff,
  last_updated = excluded.last_updated,
  payload = excluded.payload;`
	payload, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal fixture")
	}
	_, err = s.db.ExecContext(ctx, q, f.FixtureID, int(f.Phase), f.Status(), unixOrZero(f.Kickoff), f.LastUpdated.UnixNano(), string(payload))
	return errors.Wrap(err, "upsert fixture")
}

func (s *SQLite) All(ctx context.Context) ([]models.FixtureSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM fixtures ORDER BY fixture_id;`)
	if err != nil {
		return nil, errors.Wrap(err, "list fixtures")
	}
	defer rows.Close()

	out := []models.FixtureSnapshot{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan fixture")
		}
		var f models.FixtureSnapshot
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			return nil, errors.Wrap(err, "decode fixture payload")
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate fixtures")
	}
	return out, nil
}

// Retain removes fixtures not in keep. Used after a full resync.
func (s *SQLite) Retain(ctx context.Context, keep map[int]struct{}) error {
	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := keep[id]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM fixtures WHERE fixture_id = ?;`, id); err != nil {
			return errors.Wrap(err, "delete fixture")
		}
	}
	return nil
}

func (s *SQLite) ids(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fixture_id FROM fixtures;`)
	if err != nil {
		return nil, errors.Wrap(err, "list fixture ids")
	}
	defer rows.Close()
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan fixture id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate fixture ids")
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
