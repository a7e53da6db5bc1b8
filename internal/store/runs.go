package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mtzanidakis/conclave/internal/swarm"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed" // every task succeeded
	RunStatusPartial   = "partial"   // some tasks failed
	RunStatusFailed    = "failed"    // no task succeeded
)

type Run struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Kind        string        `json:"kind"` // batch, hybrid or pipeline
	Status      string        `json:"status"`
	Phases      []PhaseRecord `json:"phases,omitempty"`
	Report      string        `json:"report,omitempty"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// PhaseRecord is the stored outcome of one phase, raw results included.
type PhaseRecord struct {
	Name        string             `json:"name"`
	Mode        swarm.Mode         `json:"mode"`
	Aggregation swarm.Aggregation  `json:"aggregation"`
	Results     []swarm.TaskResult `json:"results"`
	Stats       swarm.Stats        `json:"stats"`
	Report      string             `json:"report"`
}

// RunStatus derives the final status of a run from its task counts.
func RunStatus(succeeded, failed int) string {
	switch {
	case failed == 0:
		return RunStatusCompleted
	case succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}, withPhases bool) (*Run, error) {
	r := &Run{}
	var report *string
	var phases []byte
	dest := []any{&r.ID, &r.Name, &r.Kind, &r.Status, &report, &r.Succeeded, &r.Failed, &r.StartedAt, &r.CompletedAt}
	if withPhases {
		dest = append(dest, &phases)
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}
	if report != nil {
		r.Report = *report
	}
	if withPhases {
		if err := decodeBlob(phases, &r.Phases); err != nil {
			return nil, fmt.Errorf("decode phases of run %s: %w", r.ID, err)
		}
	}
	return r, nil
}

const runColumns = `id, name, kind, status, report, succeeded, failed, started_at, completed_at`

func (s *Store) SaveRun(r *Run) error {
	phases, err := encodeBlob(r.Phases)
	if err != nil {
		return fmt.Errorf("encode phases: %w", err)
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	r.StartedAt = r.StartedAt.UTC()
	if r.Status != RunStatusRunning && r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, name, kind, status, phases, report, succeeded, failed, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phases = excluded.phases,
			report = excluded.report,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			completed_at = excluded.completed_at`,
		r.ID, r.Name, r.Kind, r.Status, phases, r.Report, r.Succeeded, r.Failed, r.StartedAt, r.CompletedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun returns nil, nil when no run has the given id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+`, phases FROM runs WHERE id = ?`, id)
	r, err := scanRun(row, true)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first, without phase details.
// A limit of zero or less returns every run.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

func (s *Store) CountRuns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}
