package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"autocall/internal/core"
	"autocall/internal/json"
)

var ErrSettingsNotFound = fmt.Errorf("settings: %w", core.ErrNotFound)

// ErrClaimLost is returned when a due settings row was advanced by someone else.
var ErrClaimLost = core.ErrClaimLost

const settingsColumns = `id, user_id, name, enabled, agent_id, lead_statuses, frequency, run_time, run_days,
	max_calls_per_run, last_run, next_run, created_at, updated_at`

func (s *Store) InsertSettings(ctx context.Context, settings *core.Settings) error {
	statuses, days, err := encodeSettingsLists(settings)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO automation_settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, settings.ID, settings.UserID, settings.Name, boolToInt(settings.Enabled), settings.AgentID, statuses,
		settings.Frequency, settings.RunTime, days, settings.MaxCallsPerRun,
		nullableTime(settings.LastRun), nullableTime(settings.NextRun),
		formatTime(settings.CreatedAt), formatTime(settings.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	return expectInserted(res, "settings")
}

func (s *Store) GetSettings(ctx context.Context, id, userID string) (*core.Settings, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`
		FROM automation_settings WHERE id = ? AND user_id = ?
	`, id, userID)
	return settingsOrNotFound(scanSettings(row))
}

func (s *Store) GetSettingsByID(ctx context.Context, id string) (*core.Settings, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+settingsColumns+`
		FROM automation_settings WHERE id = ?
	`, id)
	return settingsOrNotFound(scanSettings(row))
}

func (s *Store) ListSettings(ctx context.Context, userID string) ([]*core.Settings, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+settingsColumns+`
		FROM automation_settings
		WHERE user_id = ?
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return collectSettings(rows)
}

// UpdateSettings writes the definition fields of settings. last_run is owned by
// runs and never written here; next_run is written only when reschedule is set,
// so a definition-only edit cannot undo a concurrent claim.
func (s *Store) UpdateSettings(ctx context.Context, settings *core.Settings, reschedule bool) error {
	statuses, days, err := encodeSettingsLists(settings)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automation_settings
		SET name = ?, enabled = ?, agent_id = ?, lead_statuses = ?, frequency = ?, run_time = ?, run_days = ?,
			max_calls_per_run = ?, updated_at = ?,
			next_run = CASE WHEN ? THEN ? ELSE next_run END
		WHERE id = ? AND user_id = ?
	`, settings.Name, boolToInt(settings.Enabled), settings.AgentID, statuses, settings.Frequency,
		settings.RunTime, days, settings.MaxCallsPerRun, formatTime(settings.UpdatedAt),
		boolToInt(reschedule), nullableTime(settings.NextRun), settings.ID, settings.UserID)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return expectRows(res, ErrSettingsNotFound)
}

func (s *Store) DeleteSettings(ctx context.Context, id, userID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM automation_settings WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	return expectRows(res, ErrSettingsNotFound)
}

func (s *Store) ListDueSettings(ctx context.Context, now time.Time) ([]*core.Settings, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+settingsColumns+`
		FROM automation_settings
		WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?
		ORDER BY next_run ASC, id ASC
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due settings: %w", err)
	}
	return collectSettings(rows)
}

// ClaimAndStartRun advances a due settings row with a compare on next_run and
// records the run in the same transaction.
func (s *Store) ClaimAndStartRun(ctx context.Context, claim core.Claim, run *core.Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE automation_settings
		SET last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ? AND enabled = 1 AND next_run = ?
	`, formatTime(claim.LastRun), nullableTime(claim.NextRun), formatTime(claim.LastRun),
		claim.SettingsID, formatTime(claim.ExpectedNextRun))
	if err != nil {
		return fmt.Errorf("claim settings: %w", err)
	}
	if err := expectRows(res, ErrClaimLost); err != nil {
		return err
	}
	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

func (s *Store) UpdateSettingsSchedule(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automation_settings
		SET last_run = ?, next_run = ?, updated_at = ?
		WHERE id = ?
	`, nullableTime(lastRun), nullableTime(nextRun), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update settings schedule: %w", err)
	}
	return expectRows(res, ErrSettingsNotFound)
}

func (s *Store) UpdateSettingsLastRun(ctx context.Context, id string, lastRun time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE automation_settings
		SET last_run = ?, updated_at = ?
		WHERE id = ?
	`, formatTime(lastRun), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update settings last_run: %w", err)
	}
	return expectRows(res, ErrSettingsNotFound)
}

func settingsOrNotFound(settings *core.Settings, err error) (*core.Settings, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func collectSettings(rows *sql.Rows) ([]*core.Settings, error) {
	defer rows.Close()
	var out []*core.Settings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, settings)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeSettingsLists(settings *core.Settings) (string, any, error) {
	statuses, err := json.Marshal(settings.LeadStatuses)
	if err != nil {
		return "", nil, fmt.Errorf("encode lead_statuses: %w", err)
	}
	if settings.RunDays == nil {
		return string(statuses), nil, nil
	}
	days, err := json.Marshal(settings.RunDays)
	if err != nil {
		return "", nil, fmt.Errorf("encode run_days: %w", err)
	}
	return string(statuses), string(days), nil
}

func scanSettings(scanner interface {
	Scan(dest ...any) error
}) (*core.Settings, error) {
	var (
		settings  core.Settings
		enabled   int
		statuses  string
		frequency string
		runDays   sql.NullString
		lastRun   sql.NullString
		nextRun   sql.NullString
		createdAt string
		updatedAt string
		err       error
	)
	if err := scanner.Scan(&settings.ID, &settings.UserID, &settings.Name, &enabled, &settings.AgentID, &statuses,
		&frequency, &settings.RunTime, &runDays, &settings.MaxCallsPerRun, &lastRun, &nextRun,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}
	settings.Enabled = enabled != 0
	settings.Frequency = core.Frequency(frequency)
	if err := json.Unmarshal([]byte(statuses), &settings.LeadStatuses); err != nil {
		return nil, fmt.Errorf("decode lead_statuses: %w", err)
	}
	if runDays.Valid {
		if err := json.Unmarshal([]byte(runDays.String), &settings.RunDays); err != nil {
			return nil, fmt.Errorf("decode run_days: %w", err)
		}
	}
	if settings.LastRun, err = parseNullTime(lastRun); err != nil {
		return nil, err
	}
	if settings.NextRun, err = parseNullTime(nextRun); err != nil {
		return nil, err
	}
	if settings.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if settings.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &settings, nil
}
