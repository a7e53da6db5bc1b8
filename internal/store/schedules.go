package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Schedule is the persisted state of one configured cron entry.
type Schedule struct {
	Name       string     `json:"name"`
	Cron       string     `json:"cron"`
	Pipeline   string     `json:"pipeline"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var lastStatus, lastError, lastRunID *string
	err := scanner.Scan(&sc.Name, &sc.Cron, &sc.Pipeline, &sc.NextRunAt, &sc.LastRunAt,
		&lastStatus, &lastError, &lastRunID, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastStatus != nil {
		sc.LastStatus = *lastStatus
	}
	if lastError != nil {
		sc.LastError = *lastError
	}
	if lastRunID != nil {
		sc.LastRunID = *lastRunID
	}
	return sc, nil
}

const scheduleColumns = `name, cron, pipeline, next_run_at, last_run_at, last_status, last_error, last_run_id, created_at`

// SyncSchedule inserts a configured schedule or updates its definition.
// The stored next run is kept unless the cron expression changed.
func (s *Store) SyncSchedule(sc *Schedule) error {
	_, err := s.db.Exec(`
		INSERT INTO schedules (name, cron, pipeline, next_run_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pipeline = excluded.pipeline,
			next_run_at = CASE WHEN schedules.cron = excluded.cron AND schedules.next_run_at IS NOT NULL
				THEN schedules.next_run_at ELSE excluded.next_run_at END,
			cron = excluded.cron`,
		sc.Name, sc.Cron, sc.Pipeline, utcPtr(sc.NextRunAt))
	if err != nil {
		return fmt.Errorf("sync schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(name string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	return s.querySchedules(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY name`)
}

func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	return s.querySchedules(`SELECT `+scheduleColumns+` FROM schedules
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now.UTC())
}

func (s *Store) querySchedules(query string, args ...any) ([]Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduleRun(name, lastStatus, lastError, runID string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, last_status = ?, last_error = ?, last_run_id = ?, next_run_at = ?
		WHERE name = ?`, time.Now().UTC(), lastStatus, lastError, runID, utcPtr(nextRunAt), name)
	return err
}

// PruneSchedules deletes every schedule whose name is not in keep.
func (s *Store) PruneSchedules(keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.Exec(`DELETE FROM schedules`)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",")
	args := make([]any, len(keep))
	for i, k := range keep {
		args[i] = k
	}
	_, err := s.db.Exec(`DELETE FROM schedules WHERE name NOT IN (`+placeholders+`)`, args...)
	return err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
