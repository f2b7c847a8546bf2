package core

import (
	"time"
)

// Frequency describes how often an automation fires.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyOnce   Frequency = "once"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyOnce:
		return true
	default:
		return false
	}
}

// RunStatus describes the state of an individual execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// RunTrigger records what caused a run to be created.
type RunTrigger string

const (
	RunTriggerSchedule RunTrigger = "schedule"
	RunTriggerManual   RunTrigger = "manual"
)

// LeadStatus mirrors the lifecycle of a lead in the calling pipeline.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusQualified LeadStatus = "qualified"
	LeadStatusConverted LeadStatus = "converted"
	LeadStatusRejected  LeadStatus = "rejected"
)

// Valid reports whether s is one of the known lead statuses.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusQualified, LeadStatusConverted, LeadStatusRejected:
		return true
	default:
		return false
	}
}

// Settings is an automated call job definition owned by a single user.
type Settings struct {
	ID             string
	UserID         string
	Name           string
	Enabled        bool
	AgentID        string
	LeadStatuses   []LeadStatus
	Frequency      Frequency
	RunTime        string
	RunDays        []string
	MaxCallsPerRun int
	LastRun        *time.Time
	NextRun        *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedule extracts the fields the calculator needs.
func (s *Settings) Schedule() Schedule {
	return Schedule{
		Frequency: s.Frequency,
		RunTime:   s.RunTime,
		RunDays:   s.RunDays,
		LastRun:   s.LastRun,
	}
}

// Run captures a single execution attempt of a settings entity.
type Run struct {
	ID             string
	SettingsID     string
	UserID         string
	Trigger        RunTrigger
	Status         RunStatus
	StartTime      time.Time
	EndTime        *time.Time
	LeadsProcessed int
	CallsInitiated int
	CallsFailed    int
	Error          *string
}

// RunOutcome is what an executor reports back once a run is finished.
type RunOutcome struct {
	LeadsProcessed int
	CallsInitiated int
	CallsFailed    int
}

// Lead is a contact that automations may call.
type Lead struct {
	ID            string
	UserID        string
	FullName      string
	PhoneNumber   string
	Status        LeadStatus
	LastContacted *time.Time
	CreatedAt     time.Time
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID  string
	IsAdmin bool
}
