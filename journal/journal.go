// Package journal records garbage collection cycles in a SQLite database so
// heap behaviour can be compared across runs.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/mote/vm"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	placement  TEXT NOT NULL,
	capacity   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS gc_cycles (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	cycle       INTEGER NOT NULL,
	roots       INTEGER NOT NULL,
	survivors   INTEGER NOT NULL,
	reclaimed   INTEGER NOT NULL,
	bytes_freed INTEGER NOT NULL,
	bytes_free  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	at          INTEGER NOT NULL,
	PRIMARY KEY (run_id, cycle)
);`

// RunInfo describes the heap a run was started with.
type RunInfo struct {
	Placement string
	Capacity  int
}

// Run is one recorded interpreter session.
type Run struct {
	ID        string
	StartedAt time.Time
	RunInfo
	Cycles int
}

// Journal appends collection summaries for one run.
type Journal struct {
	db    *sql.DB
	path  string
	runID string
	log   commonlog.Logger
	mu    sync.Mutex
}

// Open opens (creating if needed) the journal database at path and starts a
// new run identified by a fresh UUID.
func Open(path string, info RunInfo) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// In-memory databases exist per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	j := &Journal{
		db:    db,
		path:  path,
		runID: uuid.New().String(),
		log:   commonlog.GetLogger("mote.journal"),
	}
	_, err = db.Exec(
		"INSERT INTO runs (run_id, started_at, placement, capacity) VALUES (?, ?, ?, ?)",
		j.runID, time.Now().UnixNano(), info.Placement, info.Capacity,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("recording run: %w", err)
	}
	j.log.Infof("journal %s: run %s", path, j.runID)
	return j, nil
}

// RunID returns the UUID of the current run.
func (j *Journal) RunID() string {
	return j.runID
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record appends one cycle summary to the current run.
func (j *Journal) Record(s vm.CollectStats) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO gc_cycles (run_id, cycle, roots, survivors, reclaimed, bytes_freed, bytes_free, duration_ns, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, s.Cycle, s.Roots, s.Survivors, s.Reclaimed, s.BytesFreed, s.BytesFree,
		s.Duration.Nanoseconds(), s.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording cycle %d: %w", s.Cycle, err)
	}
	return nil
}

// Observer returns a collector observer that records every cycle. Failures
// are logged rather than interrupting the program.
func (j *Journal) Observer() func(vm.CollectStats) {
	return func(s vm.CollectStats) {
		if err := j.Record(s); err != nil {
			j.log.Errorf("%s", err)
		}
	}
}

// Cycles returns the recorded cycles of a run in order.
func (j *Journal) Cycles(runID string) ([]vm.CollectStats, error) {
	rows, err := j.db.Query(
		`SELECT cycle, roots, survivors, reclaimed, bytes_freed, bytes_free, duration_ns, at
		 FROM gc_cycles WHERE run_id = ? ORDER BY cycle`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	var out []vm.CollectStats
	for rows.Next() {
		var s vm.CollectStats
		var duration, at int64
		if err := rows.Scan(&s.Cycle, &s.Roots, &s.Survivors, &s.Reclaimed, &s.BytesFreed, &s.BytesFree, &duration, &at); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		s.Duration = time.Duration(duration)
		s.At = time.Unix(0, at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Run looks up a recorded run.
func (j *Journal) Run(runID string) (*Run, error) {
	var r Run
	var started int64
	err := j.db.QueryRow(
		`SELECT r.run_id, r.started_at, r.placement, r.capacity,
		        (SELECT COUNT(*) FROM gc_cycles c WHERE c.run_id = r.run_id)
		 FROM runs r WHERE r.run_id = ?`, runID,
	).Scan(&r.ID, &started, &r.Placement, &r.Capacity, &r.Cycles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	return &r, nil
}

// Runs lists every recorded run, oldest first.
func (j *Journal) Runs() ([]Run, error) {
	rows, err := j.db.Query(`SELECT run_id FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		r, err := j.Run(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, nil
}
