package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"autocall/internal/core"
)

var ErrLeadNotFound = fmt.Errorf("lead: %w", core.ErrNotFound)

const leadColumns = `id, user_id, full_name, phone_number, status, last_contacted, created_at`

func (s *Store) InsertLead(ctx context.Context, lead *core.Lead) error {
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, lead.ID, lead.UserID, lead.FullName, lead.PhoneNumber, lead.Status,
		nullableTime(lead.LastContacted), formatTime(lead.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return expectInserted(res, "lead")
}

func (s *Store) ListLeads(ctx context.Context, userID string, limit, offset int) ([]*core.Lead, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	return collectLeads(rows)
}

// ListEligibleLeads returns leads of userID whose status is in statuses and that
// were never contacted or last contacted before contactedBefore. Never-contacted
// leads come first, then the longest waiting.
func (s *Store) ListEligibleLeads(ctx context.Context, userID string, statuses []core.LeadStatus, contactedBefore time.Time, limit int) ([]*core.Lead, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, 0, len(statuses)+3)
	args = append(args, userID)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, formatTime(contactedBefore), limit)
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE user_id = ? AND status IN (`+placeholders+`)
			AND (last_contacted IS NULL OR last_contacted < ?)
		ORDER BY last_contacted IS NOT NULL, last_contacted ASC, created_at ASC, id
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list eligible leads: %w", err)
	}
	return collectLeads(rows)
}

func (s *Store) MarkLeadContacted(ctx context.Context, id string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE leads SET status = ?, last_contacted = ? WHERE id = ?
	`, core.LeadStatusContacted, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark lead contacted: %w", err)
	}
	return expectRows(res, ErrLeadNotFound)
}

func collectLeads(rows *sql.Rows) ([]*core.Lead, error) {
	defer rows.Close()
	var out []*core.Lead
	for rows.Next() {
		var (
			lead      core.Lead
			status    string
			contacted sql.NullString
			createdAt string
			err       error
		)
		if err := rows.Scan(&lead.ID, &lead.UserID, &lead.FullName, &lead.PhoneNumber, &status, &contacted, &createdAt); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		lead.Status = core.LeadStatus(status)
		if lead.LastContacted, err = parseNullTime(contacted); err != nil {
			return nil, err
		}
		if lead.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &lead)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
