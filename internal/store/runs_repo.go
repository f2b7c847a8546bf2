package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autocall/internal/core"
)

var (
	ErrRunNotFound  = fmt.Errorf("run: %w", core.ErrNotFound)
	ErrRunFinalized = errors.New("run already reached a terminal status")
)

const runColumns = `id, settings_id, user_id, run_trigger, status, start_time, end_time,
	leads_processed, calls_initiated, calls_failed, error`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) InsertRun(ctx context.Context, run *core.Run) error {
	return insertRun(ctx, s.DB, run)
}

func insertRun(ctx context.Context, db execer, run *core.Run) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO automation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SettingsID, run.UserID, run.Trigger, run.Status, formatTime(run.StartTime),
		nullableTime(run.EndTime), run.LeadsProcessed, run.CallsInitiated, run.CallsFailed, nullableString(run.Error))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return expectInserted(res, "run")
}

// CompleteRun moves a running run to its terminal status. A run that already
// finished is left untouched and ErrRunFinalized is returned.
func (s *Store) CompleteRun(ctx context.Context, id string, status core.RunStatus, endTime time.Time, outcome core.RunOutcome, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("complete run: %q is not a terminal status", status)
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = ?, end_time = ?, leads_processed = ?, calls_initiated = ?, calls_failed = ?, error = ?
		WHERE id = ? AND status = ?
	`, status, formatTime(endTime), outcome.LeadsProcessed, outcome.CallsInitiated, outcome.CallsFailed,
		nullableString(errMsg), id, core.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run rows: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return ErrRunFinalized
}

func (s *Store) GetRun(ctx context.Context, id string) (*core.Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM automation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the history of settingsID for userID, newest first. The
// settings row itself may no longer exist.
func (s *Store) ListRuns(ctx context.Context, settingsID, userID string, limit, offset int) ([]*core.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM automation_runs
		WHERE settings_id = ? AND user_id = ?
		ORDER BY start_time DESC, id DESC
		LIMIT ? OFFSET ?
	`, settingsID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// FailStaleRuns marks runs left in running state by a previous process as failed.
func (s *Store) FailStaleRuns(ctx context.Context, endTime time.Time, reason string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = ?, end_time = ?, error = ?
		WHERE status = ?
	`, core.RunStatusFailed, formatTime(endTime), reason, core.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail stale runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.Run, error) {
	var (
		run       core.Run
		trigger   string
		status    string
		startTime string
		endTime   sql.NullString
		errMsg    sql.NullString
		err       error
	)
	if err := scanner.Scan(&run.ID, &run.SettingsID, &run.UserID, &trigger, &status, &startTime, &endTime,
		&run.LeadsProcessed, &run.CallsInitiated, &run.CallsFailed, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Trigger = core.RunTrigger(trigger)
	run.Status = core.RunStatus(status)
	if run.StartTime, err = parseTime(startTime); err != nil {
		return nil, err
	}
	if run.EndTime, err = parseNullTime(endTime); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}
