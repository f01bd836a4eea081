// internal/dataset/store.go
package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/user/shadowshift/internal/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS training_examples (
	id TEXT PRIMARY KEY,
	seq INTEGER NOT NULL,
	thread_id TEXT NOT NULL,
	action TEXT NOT NULL,
	state TEXT NOT NULL,
	timestamp_utc TEXT NOT NULL
)`

// Store keeps the labeled dataset as a flat table keyed by example id.
type Store struct {
	db     *sql.DB
	driver string
}

// Stats summarizes the stored dataset.
type Stats struct {
	Rows    int
	Threads int
	Actions map[types.Action]int
	Digest  string
}

// Open connects to the dataset table, creating it when missing.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, &types.ValidationError{Field: "dataset.driver", Reason: fmt.Sprintf("unsupported driver %q", driver)}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open dataset db: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping dataset db: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Replace swaps the whole table for rows inside one transaction.
func (s *Store) Replace(ctx context.Context, rows []types.TrainingExample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM training_examples"); err != nil {
		return fmt.Errorf("clear dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO training_examples
		(id, seq, thread_id, action, state, timestamp_utc) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET seq = excluded.seq, thread_id = excluded.thread_id,
		action = excluded.action, state = excluded.state, timestamp_utc = excluded.timestamp_utc`))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		ts := row.Timestamp.UTC().Format(time.RFC3339Nano)
		if _, err := stmt.ExecContext(ctx, row.ID, i, row.ThreadID, string(row.Action), row.State, ts); err != nil {
			return fmt.Errorf("insert %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns all rows in insertion order.
func (s *Store) Load(ctx context.Context) ([]types.TrainingExample, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, thread_id, action, state, timestamp_utc FROM training_examples ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	defer rows.Close()

	var out []types.TrainingExample
	for rows.Next() {
		var (
			ex     types.TrainingExample
			action string
			ts     string
		)
		if err := rows.Scan(&ex.ID, &ex.ThreadID, &action, &ex.State, &ts); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ex.Action = types.Action(action)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ex.Timestamp = t
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Stats loads the table and summarizes it.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(rows), nil
}

// Summarize counts rows, threads and actions in rows.
func Summarize(rows []types.TrainingExample) Stats {
	st := Stats{Rows: len(rows), Actions: make(map[types.Action]int)}
	threads := make(map[string]struct{})
	for _, r := range rows {
		threads[r.ThreadID] = struct{}{}
		st.Actions[r.Action]++
	}
	st.Threads = len(threads)
	st.Digest = Digest(rows)
	return st
}

// SortedActions returns the distinct actions of a stats record in name order.
func (st Stats) SortedActions() []types.Action {
	out := make([]types.Action, 0, len(st.Actions))
	for a := range st.Actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
