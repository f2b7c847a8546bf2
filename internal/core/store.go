package core

import (
	"context"
	"time"
)

// SettingsStore persists automation definitions. Every user-facing lookup is
// scoped by both id and owner.
type SettingsStore interface {
	InsertSettings(ctx context.Context, s *Settings) error
	GetSettings(ctx context.Context, id, userID string) (*Settings, error)
	GetSettingsByID(ctx context.Context, id string) (*Settings, error)
	ListSettings(ctx context.Context, userID string) ([]*Settings, error)
	// UpdateSettings writes the definition fields. next_run is written only when
	// reschedule is true and last_run is never written.
	UpdateSettings(ctx context.Context, s *Settings, reschedule bool) error
	DeleteSettings(ctx context.Context, id, userID string) error

	// ListDueSettings returns enabled settings with next_run <= now ordered by next_run, id.
	ListDueSettings(ctx context.Context, now time.Time) ([]*Settings, error)
	// ClaimAndStartRun advances the settings schedule only if next_run still equals
	// claim.ExpectedNextRun, and inserts run in the same transaction. It returns
	// ErrClaimLost when the compare fails.
	ClaimAndStartRun(ctx context.Context, claim Claim, run *Run) error
	UpdateSettingsSchedule(ctx context.Context, id string, lastRun, nextRun *time.Time) error
	UpdateSettingsLastRun(ctx context.Context, id string, lastRun time.Time) error
}

// RunStore persists run records.
type RunStore interface {
	InsertRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, id string, status RunStatus, endTime time.Time, outcome RunOutcome, errMsg *string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs of settingsID owned by userID, newest first. It does not
	// require the settings row to still exist.
	ListRuns(ctx context.Context, settingsID, userID string, limit, offset int) ([]*Run, error)
}

// LeadStore is what the call executor needs from lead persistence.
type LeadStore interface {
	ListEligibleLeads(ctx context.Context, userID string, statuses []LeadStatus, contactedBefore time.Time, limit int) ([]*Lead, error)
	MarkLeadContacted(ctx context.Context, id string, at time.Time) error
}

// Store abstracts the persistence layer used by the service, driver and executor.
type Store interface {
	SettingsStore
	RunStore
}

// Claim is a compare-and-swap on a due settings entity.
type Claim struct {
	SettingsID      string
	ExpectedNextRun time.Time
	LastRun         time.Time
	NextRun         *time.Time
}

// LeadRepository is the full lead persistence used by the lead endpoints.
type LeadRepository interface {
	LeadStore
	InsertLead(ctx context.Context, lead *Lead) error
	ListLeads(ctx context.Context, userID string, limit, offset int) ([]*Lead, error)
}
