package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autocall/internal/metrics"

	"golang.org/x/time/rate"
)

// CallRequest is a single outbound call placed on behalf of an automation.
type CallRequest struct {
	AgentID     string
	LeadID      string
	PhoneNumber string
}

// Dialer places outbound calls and returns the provider call id.
type Dialer interface {
	Dial(ctx context.Context, req CallRequest) (string, error)
}

// CallExecutorOptions configure a CallExecutor.
type CallExecutorOptions struct {
	// CallSpacing is the minimum delay between two calls across all runs.
	CallSpacing time.Duration
	// RecontactAfter skips leads contacted more recently than this.
	RecontactAfter time.Duration
	Now            func() time.Time
}

// CallExecutor is the default automation: it calls eligible leads of the
// settings owner through a Dialer.
type CallExecutor struct {
	leads          LeadStore
	dialer         Dialer
	logger         *slog.Logger
	pacer          *rate.Limiter
	recontactAfter time.Duration
	now            func() time.Time
}

// NewCallExecutor creates a new executor.
func NewCallExecutor(leads LeadStore, dialer Dialer, logger *slog.Logger, opts CallExecutorOptions) *CallExecutor {
	if opts.RecontactAfter <= 0 {
		opts.RecontactAfter = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limit := rate.Inf
	if opts.CallSpacing > 0 {
		limit = rate.Every(opts.CallSpacing)
	}
	return &CallExecutor{
		leads:          leads,
		dialer:         dialer,
		logger:         logger,
		pacer:          rate.NewLimiter(limit, 1),
		recontactAfter: opts.RecontactAfter,
		now:            opts.Now,
	}
}

// Execute dials up to MaxCallsPerRun eligible leads. Individual call failures are
// counted; only a failure to load leads fails the run.
func (e *CallExecutor) Execute(ctx context.Context, settings *Settings, run *Run) (RunOutcome, error) {
	var outcome RunOutcome
	statuses := settings.LeadStatuses
	if len(statuses) == 0 {
		statuses = []LeadStatus{LeadStatusNew}
	}
	limit := settings.MaxCallsPerRun
	if limit <= 0 {
		limit = DefaultMaxCallsPerRun
	}
	cutoff := e.now().Add(-e.recontactAfter)
	leads, err := e.leads.ListEligibleLeads(ctx, settings.UserID, statuses, cutoff, limit)
	if err != nil {
		return outcome, fmt.Errorf("list eligible leads: %w", err)
	}
	e.logger.Info("automation started", "settings_id", settings.ID, "run_id", run.ID, "leads", len(leads))

	for _, lead := range leads {
		if err := e.pacer.Wait(ctx); err != nil {
			return outcome, fmt.Errorf("wait for call slot: %w", err)
		}
		outcome.LeadsProcessed++
		sid, err := e.dialer.Dial(ctx, CallRequest{
			AgentID:     settings.AgentID,
			LeadID:      lead.ID,
			PhoneNumber: lead.PhoneNumber,
		})
		if err != nil {
			outcome.CallsFailed++
			metrics.CallsPlaced.WithLabelValues("failed").Inc()
			e.logger.Warn("call failed", "run_id", run.ID, "lead_id", lead.ID, "err", err)
			continue
		}
		outcome.CallsInitiated++
		metrics.CallsPlaced.WithLabelValues("initiated").Inc()
		e.logger.Debug("call initiated", "run_id", run.ID, "lead_id", lead.ID, "call_sid", sid)
		if err := e.leads.MarkLeadContacted(ctx, lead.ID, e.now()); err != nil {
			e.logger.Warn("mark lead contacted", "lead_id", lead.ID, "err", err)
		}
	}
	e.logger.Info("automation finished", "settings_id", settings.ID, "run_id", run.ID,
		"calls_initiated", outcome.CallsInitiated, "calls_failed", outcome.CallsFailed)
	return outcome, nil
}
