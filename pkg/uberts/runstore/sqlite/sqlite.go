package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/labels"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
)

// sqliteStore implements the runstore.Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// tables if needed.
func OpenSQLite(ctx context.Context, path string) (runstore.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	outcome TEXT NOT NULL,
	epoch INTEGER NOT NULL DEFAULT 0,
	commits INTEGER NOT NULL DEFAULT 0,
	steps INTEGER NOT NULL DEFAULT 0,
	started_at TEXT,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS runs_doc ON runs(doc_id);

CREATE TABLE IF NOT EXISTS run_facts (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	relation TEXT NOT NULL,
	args TEXT NOT NULL,
	score REAL NOT NULL,
	gold INTEGER NOT NULL,
	PRIMARY KEY(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_perf (
	run_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	tp INTEGER NOT NULL,
	fp INTEGER NOT NULL,
	fn INTEGER NOT NULL,
	PRIMARY KEY(run_id, relation),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveRun inserts or replaces a run with its facts and performance
func (s *sqliteStore) SaveRun(ctx context.Context, r runstore.Run) error {
	if r.ID == "" {
		return fmt.Errorf("run without id: %w", internalerr.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const stmt = `
INSERT INTO runs (id, doc_id, mode, outcome, epoch, commits, steps, started_at, duration_ns, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	doc_id=excluded.doc_id,
	mode=excluded.mode,
	outcome=excluded.outcome,
	epoch=excluded.epoch,
	commits=excluded.commits,
	steps=excluded.steps,
	started_at=excluded.started_at,
	duration_ns=excluded.duration_ns,
	error=excluded.error;
`
	_, err = tx.ExecContext(
		ctx,
		stmt,
		r.ID,
		r.DocID,
		r.Mode,
		r.Outcome,
		r.Epoch,
		r.Commits,
		r.Steps,
		r.StartedAt.UTC().Format(time.RFC3339Nano),
		int64(r.Duration),
		r.Error,
	)
	if err != nil {
		return err
	}

	if err := replaceRunFacts(ctx, tx, r.ID, r.Facts); err != nil {
		return err
	}
	if err := replaceRunPerf(ctx, tx, r.ID, r.Perf); err != nil {
		return err
	}

	return tx.Commit()
}

func replaceRunFacts(ctx context.Context, tx *sql.Tx, runID string, facts []runstore.Fact) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_facts WHERE run_id=?`, runID); err != nil {
		return err
	}
	if len(facts) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_facts (run_id, seq, relation, args, score, gold) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, f := range facts {
		args, err := json.Marshal(f.Args)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, i, f.Relation, string(args), f.Score, boolToInt(f.Gold)); err != nil {
			return err
		}
	}
	return nil
}

func replaceRunPerf(ctx context.Context, tx *sql.Tx, runID string, perf map[string]labels.Perf) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_perf WHERE run_id=?`, runID); err != nil {
		return err
	}
	if len(perf) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_perf (run_id, relation, tp, fp, fn) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for rel, p := range perf {
		if _, err := stmt.ExecContext(ctx, runID, rel, p.TP, p.FP, p.FN); err != nil {
			return err
		}
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *sqliteStore) GetRun(ctx context.Context, id string) (runstore.Run, bool, error) {
	runs, err := s.queryRuns(ctx, `WHERE id = ?`, []interface{}{id})
	if err != nil {
		return runstore.Run{}, false, err
	}
	if len(runs) == 0 {
		return runstore.Run{}, false, nil
	}
	return runs[0], true, nil
}

// ListRuns retrieves runs matching the filter, oldest first
func (s *sqliteStore) ListRuns(ctx context.Context, f runstore.Filter) ([]runstore.Run, error) {
	var conds []string
	var args []interface{}
	if f.DocID != "" {
		conds = append(conds, "doc_id = ?")
		args = append(args, f.DocID)
	}
	if f.Mode != "" {
		conds = append(conds, "mode = ?")
		args = append(args, f.Mode)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	where += " ORDER BY id"
	if f.Limit > 0 {
		where += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryRuns(ctx, where, args)
}

func (s *sqliteStore) queryRuns(ctx context.Context, where string, args []interface{}) ([]runstore.Run, error) {
	query := fmt.Sprintf(`
SELECT id, doc_id, mode, outcome, epoch, commits, steps, started_at, duration_ns, COALESCE(error, '')
FROM runs
%s;
`, where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []runstore.Run
	for rows.Next() {
		var r runstore.Run
		var started sql.NullString
		var dur int64
		if err := rows.Scan(&r.ID, &r.DocID, &r.Mode, &r.Outcome, &r.Epoch, &r.Commits, &r.Steps, &started, &dur, &r.Error); err != nil {
			return nil, err
		}
		if started.Valid && started.String != "" {
			t, err := time.Parse(time.RFC3339Nano, started.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
			}
			r.StartedAt = t
		}
		r.Duration = time.Duration(dur)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range runs {
		if err := s.loadChildren(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *sqliteStore) loadChildren(ctx context.Context, r *runstore.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relation, args, score, gold FROM run_facts WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var f runstore.Fact
		var args string
		var gold int
		if err := rows.Scan(&f.Relation, &args, &f.Score, &gold); err != nil {
			rows.Close()
			return err
		}
		if err := json.Unmarshal([]byte(args), &f.Args); err != nil {
			rows.Close()
			return fmt.Errorf("run %s: fact args: %w", r.ID, err)
		}
		f.Gold = gold != 0
		r.Facts = append(r.Facts, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT relation, tp, fp, fn FROM run_perf WHERE run_id = ?`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rel string
		var p labels.Perf
		if err := rows.Scan(&rel, &p.TP, &p.FP, &p.FN); err != nil {
			return err
		}
		if r.Perf == nil {
			r.Perf = map[string]labels.Perf{}
		}
		r.Perf[rel] = p
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
