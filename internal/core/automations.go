package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultMaxCallsPerRun = 5
	MaxCallsPerRunLimit   = 100
	DefaultRunsPageSize   = 50
	MaxPreviewCount       = 10
)

// Dispatcher starts runs outside of the request path.
type Dispatcher interface {
	RunNow(ctx context.Context, settings *Settings) (*Run, error)
	TriggerSweep()
}

// SettingsInput is the payload accepted when creating a settings entity.
type SettingsInput struct {
	Name           string
	Enabled        *bool
	AgentID        string
	LeadStatuses   []LeadStatus
	Frequency      Frequency
	RunTime        string
	RunDays        []string
	MaxCallsPerRun *int
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	Name           *string
	Enabled        *bool
	AgentID        *string
	LeadStatuses   *[]LeadStatus
	Frequency      *Frequency
	RunTime        *string
	RunDays        *[]string
	MaxCallsPerRun *int
}

func (p SettingsPatch) touchesSchedule() bool {
	return p.Enabled != nil || p.Frequency != nil || p.RunTime != nil || p.RunDays != nil
}

// LeadInput is the payload accepted when creating a lead.
type LeadInput struct {
	FullName    string
	PhoneNumber string
	Status      LeadStatus
}

// ServiceOptions configure a Service.
type ServiceOptions struct {
	Location     *time.Location
	Now          func() time.Time
	RunsPageSize int
}

// Service implements the automation operations on behalf of an authenticated principal.
type Service struct {
	store      Store
	leads      LeadRepository
	dispatcher Dispatcher
	logger     *slog.Logger
	location   *time.Location
	now        func() time.Time
	pageSize   int
}

// NewService wires the service with its collaborators.
func NewService(store Store, leads LeadRepository, dispatcher Dispatcher, logger *slog.Logger, opts ServiceOptions) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunsPageSize <= 0 {
		opts.RunsPageSize = DefaultRunsPageSize
	}
	return &Service{
		store:      store,
		leads:      leads,
		dispatcher: dispatcher,
		logger:     logger,
		location:   opts.Location,
		now:        opts.Now,
		pageSize:   opts.RunsPageSize,
	}
}

// Location is the timezone schedules are evaluated in.
func (s *Service) Location() *time.Location {
	return s.location
}

func (s *Service) clock() time.Time {
	return s.now().In(s.location)
}

// CreateSettings validates in, computes next_run and persists the entity.
func (s *Service) CreateSettings(ctx context.Context, p Principal, in SettingsInput) (*Settings, error) {
	now := s.clock()
	settings := &Settings{
		ID:             NewID(),
		UserID:         p.UserID,
		Name:           strings.TrimSpace(in.Name),
		Enabled:        true,
		AgentID:        strings.TrimSpace(in.AgentID),
		LeadStatuses:   in.LeadStatuses,
		Frequency:      in.Frequency,
		RunTime:        strings.TrimSpace(in.RunTime),
		RunDays:        normalizeDays(in.RunDays),
		MaxCallsPerRun: DefaultMaxCallsPerRun,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Enabled != nil {
		settings.Enabled = *in.Enabled
	}
	if in.MaxCallsPerRun != nil {
		settings.MaxCallsPerRun = *in.MaxCallsPerRun
	}
	if len(settings.LeadStatuses) == 0 {
		settings.LeadStatuses = []LeadStatus{LeadStatusNew}
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	settings.NextRun = nextRunFor(now, settings)
	if err := s.store.InsertSettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	s.logger.Info("settings created", "settings_id", settings.ID, "user_id", p.UserID, "next_run", settings.NextRun)
	return settings, nil
}

// GetSettings returns the entity if it exists and is owned by p.
func (s *Service) GetSettings(ctx context.Context, p Principal, id string) (*Settings, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.store.GetSettings(ctx, id, p.UserID)
}

// ListSettings returns p's entities, newest first.
func (s *Service) ListSettings(ctx context.Context, p Principal) ([]*Settings, error) {
	return s.store.ListSettings(ctx, p.UserID)
}

// UpdateSettings applies patch. next_run is recomputed only when the patch touches
// enabled, frequency, run_time or run_days.
func (s *Service) UpdateSettings(ctx context.Context, p Principal, id string, patch SettingsPatch) (*Settings, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	settings, err := s.store.GetSettings(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		settings.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Enabled != nil {
		settings.Enabled = *patch.Enabled
	}
	if patch.AgentID != nil {
		settings.AgentID = strings.TrimSpace(*patch.AgentID)
	}
	if patch.LeadStatuses != nil {
		settings.LeadStatuses = *patch.LeadStatuses
		if len(settings.LeadStatuses) == 0 {
			settings.LeadStatuses = []LeadStatus{LeadStatusNew}
		}
	}
	if patch.Frequency != nil {
		settings.Frequency = *patch.Frequency
	}
	if patch.RunTime != nil {
		settings.RunTime = strings.TrimSpace(*patch.RunTime)
	}
	if patch.RunDays != nil {
		settings.RunDays = normalizeDays(*patch.RunDays)
	}
	if patch.MaxCallsPerRun != nil {
		settings.MaxCallsPerRun = *patch.MaxCallsPerRun
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	now := s.clock()
	reschedule := patch.touchesSchedule()
	if reschedule {
		settings.NextRun = nextRunFor(now, settings)
	}
	settings.UpdatedAt = now
	if err := s.store.UpdateSettings(ctx, settings, reschedule); err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return s.store.GetSettings(ctx, id, p.UserID)
}

// DeleteSettings removes the entity. Its run history is kept.
func (s *Service) DeleteSettings(ctx context.Context, p Principal, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.store.DeleteSettings(ctx, id, p.UserID); err != nil {
		return err
	}
	s.logger.Info("settings deleted", "settings_id", id, "user_id", p.UserID)
	return nil
}

// ListRuns returns run history for id, newest first. History of a deleted entity
// stays visible to its former owner; ErrNotFound is returned only when neither the
// entity nor any run of it exists for p.
func (s *Service) ListRuns(ctx context.Context, p Principal, id string, limit, offset int) ([]*Run, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	runs, err := s.store.ListRuns(ctx, id, p.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) > 0 || offset > 0 {
		return runs, nil
	}
	if _, err := s.store.GetSettings(ctx, id, p.UserID); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunNow dispatches a manual run of id even if it is disabled.
func (s *Service) RunNow(ctx context.Context, p Principal, id string) (*Run, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	settings, err := s.store.GetSettings(ctx, id, p.UserID)
	if err != nil {
		return nil, err
	}
	run, err := s.dispatcher.RunNow(ctx, settings)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manual run dispatched", "settings_id", id, "run_id", run.ID, "user_id", p.UserID)
	return run, nil
}

// RunScheduler starts a full sweep. Only administrators may call it.
func (s *Service) RunScheduler(ctx context.Context, p Principal) error {
	if !p.IsAdmin {
		return ErrForbidden
	}
	s.dispatcher.TriggerSweep()
	s.logger.Info("sweep triggered", "user_id", p.UserID)
	return nil
}

// PreviewSchedule returns up to count upcoming fire times of a prospective schedule.
func (s *Service) PreviewSchedule(_ context.Context, sched Schedule, count int) ([]time.Time, error) {
	if count <= 0 {
		count = 5
	}
	if count > MaxPreviewCount {
		count = MaxPreviewCount
	}
	probe := &Settings{
		Frequency:      sched.Frequency,
		RunTime:        strings.TrimSpace(sched.RunTime),
		RunDays:        normalizeDays(sched.RunDays),
		LeadStatuses:   []LeadStatus{LeadStatusNew},
		MaxCallsPerRun: DefaultMaxCallsPerRun,
	}
	if err := validateSettings(probe); err != nil {
		return nil, err
	}
	return PreviewRuns(s.clock(), probe.Schedule(), count), nil
}

// CreateLead stores a lead for p.
func (s *Service) CreateLead(ctx context.Context, p Principal, in LeadInput) (*Lead, error) {
	lead := &Lead{
		ID:          NewID(),
		UserID:      p.UserID,
		FullName:    strings.TrimSpace(in.FullName),
		PhoneNumber: strings.TrimSpace(in.PhoneNumber),
		Status:      in.Status,
		CreatedAt:   s.clock(),
	}
	if lead.Status == "" {
		lead.Status = LeadStatusNew
	}
	if lead.FullName == "" {
		return nil, invalid("full_name", "is required")
	}
	if lead.PhoneNumber == "" {
		return nil, invalid("phone_number", "is required")
	}
	if !lead.Status.Valid() {
		return nil, invalid("status", "unknown lead status %q", lead.Status)
	}
	if err := s.leads.InsertLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("insert lead: %w", err)
	}
	return lead, nil
}

// ListLeads returns p's leads, newest first.
func (s *Service) ListLeads(ctx context.Context, p Principal, limit, offset int) ([]*Lead, error) {
	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.leads.ListLeads(ctx, p.UserID, limit, offset)
}

func nextRunFor(now time.Time, settings *Settings) *time.Time {
	if !settings.Enabled {
		return nil
	}
	return ComputeNextRun(now, settings.Schedule())
}

func validateID(id string) error {
	if !ValidID(id) {
		return invalid("id", "invalid id format")
	}
	return nil
}

func validateSettings(settings *Settings) error {
	if !settings.Frequency.Valid() {
		if settings.Frequency == "" {
			return invalid("frequency", "is required")
		}
		return invalid("frequency", "must be one of daily, weekly, once")
	}
	if settings.RunTime == "" {
		return invalid("run_time", "is required")
	}
	if _, _, err := ParseRunTime(settings.RunTime); err != nil {
		return &ValidationError{Field: "run_time", Message: err.Error()}
	}
	if settings.Frequency == FrequencyWeekly {
		if len(settings.RunDays) == 0 {
			return invalid("run_days", "at least one day is required for weekly automations")
		}
		if len(RunDayIndices(settings.RunDays)) != len(settings.RunDays) {
			return invalid("run_days", "must contain only sun, mon, tue, wed, thu, fri or sat")
		}
	}
	if settings.MaxCallsPerRun < 1 || settings.MaxCallsPerRun > MaxCallsPerRunLimit {
		return invalid("max_calls_per_run", "must be between 1 and %d", MaxCallsPerRunLimit)
	}
	for _, st := range settings.LeadStatuses {
		if !st.Valid() {
			return invalid("lead_statuses", "unknown lead status %q", st)
		}
	}
	return nil
}

// normalizeDays lowercases and de-duplicates codes while keeping their order.
func normalizeDays(days []string) []string {
	if days == nil {
		return nil
	}
	out := make([]string, 0, len(days))
	seen := make(map[string]struct{}, len(days))
	for _, d := range days {
		d = strings.ToLower(strings.TrimSpace(d))
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}

// IsNotFound reports whether err classifies as a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
