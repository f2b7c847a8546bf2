package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store and LeadRepository for tests.
type memStore struct {
	mu       sync.Mutex
	settings map[string]Settings
	runs     map[string]Run
	leads    map[string]Lead

	insertRunErr error
	listDueErr   error
	// beforeUpdate runs at the start of UpdateSettings, outside the lock.
	beforeUpdate func()
}

func newMemStore() *memStore {
	return &memStore{
		settings: map[string]Settings{},
		runs:     map[string]Run{},
		leads:    map[string]Lead{},
	}
}

func (m *memStore) InsertSettings(_ context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.ID] = *s
	return nil
}

func (m *memStore) GetSettings(_ context.Context, id, userID string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("settings: %w", ErrNotFound)
	}
	return &s, nil
}

func (m *memStore) GetSettingsByID(_ context.Context, id string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok {
		return nil, fmt.Errorf("settings: %w", ErrNotFound)
	}
	return &s, nil
}

func (m *memStore) ListSettings(_ context.Context, userID string) ([]*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Settings
	for _, s := range m.settings {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) UpdateSettings(_ context.Context, s *Settings, reschedule bool) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.settings[s.ID]
	if !ok || current.UserID != s.UserID {
		return fmt.Errorf("settings: %w", ErrNotFound)
	}
	updated := *s
	updated.LastRun = current.LastRun
	if !reschedule {
		updated.NextRun = current.NextRun
	}
	m.settings[s.ID] = updated
	return nil
}

func (m *memStore) DeleteSettings(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok || s.UserID != userID {
		return fmt.Errorf("settings: %w", ErrNotFound)
	}
	delete(m.settings, id)
	return nil
}

func (m *memStore) ListDueSettings(_ context.Context, now time.Time) ([]*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDueErr != nil {
		return nil, m.listDueErr
	}
	var out []*Settings
	for _, s := range m.settings {
		if s.Enabled && s.NextRun != nil && !s.NextRun.After(now) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(*out[j].NextRun) {
			return out[i].NextRun.Before(*out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) ClaimAndStartRun(_ context.Context, claim Claim, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[claim.SettingsID]
	if !ok || !s.Enabled || s.NextRun == nil || !s.NextRun.Equal(claim.ExpectedNextRun) {
		return ErrClaimLost
	}
	if m.insertRunErr != nil {
		return m.insertRunErr
	}
	last := claim.LastRun
	s.LastRun = &last
	s.NextRun = claim.NextRun
	m.settings[s.ID] = s
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) UpdateSettingsSchedule(ctx context.Context, id string, lastRun, nextRun *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok {
		return fmt.Errorf("settings: %w", ErrNotFound)
	}
	s.LastRun = lastRun
	s.NextRun = nextRun
	m.settings[id] = s
	return nil
}

func (m *memStore) UpdateSettingsLastRun(_ context.Context, id string, lastRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	if !ok {
		return fmt.Errorf("settings: %w", ErrNotFound)
	}
	s.LastRun = &lastRun
	m.settings[id] = s
	return nil
}

func (m *memStore) InsertRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertRunErr != nil {
		return m.insertRunErr
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *memStore) CompleteRun(ctx context.Context, id string, status RunStatus, endTime time.Time, outcome RunOutcome, errMsg *string) error {
	// Like a database driver, refuse work on a cancelled context.
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run: %w", ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s already finished", id)
	}
	run.Status = status
	run.EndTime = &endTime
	run.LeadsProcessed = outcome.LeadsProcessed
	run.CallsInitiated = outcome.CallsInitiated
	run.CallsFailed = outcome.CallsFailed
	run.Error = errMsg
	m.runs[id] = run
	return nil
}

func (m *memStore) GetRun(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("run: %w", ErrNotFound)
	}
	return &run, nil
}

func (m *memStore) ListRuns(_ context.Context, settingsID, userID string, limit, offset int) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Run
	for _, r := range m.runs {
		if r.SettingsID == settingsID && r.UserID == userID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListEligibleLeads(_ context.Context, userID string, statuses []LeadStatus, contactedBefore time.Time, limit int) ([]*Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := map[LeadStatus]bool{}
	for _, st := range statuses {
		allowed[st] = true
	}
	var out []*Lead
	for _, l := range m.leads {
		if l.UserID != userID || !allowed[l.Status] {
			continue
		}
		if l.LastContacted != nil && !l.LastContacted.Before(contactedBefore) {
			continue
		}
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) MarkLeadContacted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return fmt.Errorf("lead: %w", ErrNotFound)
	}
	l.Status = LeadStatusContacted
	l.LastContacted = &at
	m.leads[id] = l
	return nil
}

func (m *memStore) InsertLead(_ context.Context, lead *Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = *lead
	return nil
}

func (m *memStore) ListLeads(_ context.Context, userID string, limit, offset int) ([]*Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Lead
	for _, l := range m.leads {
		if l.UserID == userID {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) settingsSnapshot(id string) (Settings, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[id]
	return s, ok
}

func (m *memStore) runSnapshot(id string) (Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	return r, ok
}
