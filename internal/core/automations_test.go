package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	store    *memStore
	now      time.Time
	manual   []string
	sweeps   int
	runNowFn func(*Settings) error
}

func (d *fakeDispatcher) RunNow(ctx context.Context, settings *Settings) (*Run, error) {
	if d.runNowFn != nil {
		if err := d.runNowFn(settings); err != nil {
			return nil, err
		}
	}
	run := &Run{
		ID:         NewID(),
		SettingsID: settings.ID,
		UserID:     settings.UserID,
		Trigger:    RunTriggerManual,
		Status:     RunStatusRunning,
		StartTime:  d.now,
	}
	if err := d.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	d.manual = append(d.manual, settings.ID)
	return run, nil
}

func (d *fakeDispatcher) TriggerSweep() { d.sweeps++ }

var (
	owner    = Principal{UserID: "owner"}
	stranger = Principal{UserID: "stranger"}
	admin    = Principal{UserID: "root", IsAdmin: true}
)

func newTestService(t *testing.T, now time.Time) (*Service, *memStore, *fakeDispatcher) {
	t.Helper()
	store := newMemStore()
	dispatcher := &fakeDispatcher{store: store, now: now}
	svc := NewService(store, store, dispatcher, testLogger(), ServiceOptions{
		Location: time.UTC,
		Now:      func() time.Time { return now },
	})
	return svc, store, dispatcher
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func freqPtr(v Frequency) *Frequency { return &v }

func TestCreateSettingsComputesNextRun(t *testing.T) {
	tests := []struct {
		name string
		now  string
		in   SettingsInput
		want *string
	}{
		{
			name: "daily already passed",
			now:  "2024-01-01T10:00:00",
			in:   SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"},
			want: strPtr("2024-01-02T09:00:00"),
		},
		{
			name: "daily later today",
			now:  "2024-01-01T08:00:00",
			in:   SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"},
			want: strPtr("2024-01-01T09:00:00"),
		},
		{
			name: "weekly wrap",
			now:  "2024-01-04T10:00:00",
			in:   SettingsInput{Frequency: FrequencyWeekly, RunTime: "12:00", RunDays: []string{"mon", "wed"}},
			want: strPtr("2024-01-08T12:00:00"),
		},
		{
			name: "once fires at next check",
			now:  "2024-01-04T10:00:00",
			in:   SettingsInput{Frequency: FrequencyOnce, RunTime: "12:00"},
			want: strPtr("2024-01-04T10:00:00"),
		},
		{
			name: "disabled has no next run",
			now:  "2024-01-04T10:00:00",
			in:   SettingsInput{Frequency: FrequencyDaily, RunTime: "12:00", Enabled: boolPtr(false)},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t, at(t, tt.now))
			got, err := svc.CreateSettings(context.Background(), owner, tt.in)
			require.NoError(t, err)
			assert.Equal(t, owner.UserID, got.UserID)
			assert.Equal(t, []LeadStatus{LeadStatusNew}, got.LeadStatuses)
			assert.Equal(t, DefaultMaxCallsPerRun, got.MaxCallsPerRun)
			if tt.want == nil {
				assert.Nil(t, got.NextRun)
			} else {
				require.NotNil(t, got.NextRun)
				assert.Equal(t, at(t, *tt.want), *got.NextRun)
			}
			stored, ok := store.settingsSnapshot(got.ID)
			require.True(t, ok)
			assert.Equal(t, got.NextRun, stored.NextRun)
		})
	}
}

func TestCreateSettingsValidation(t *testing.T) {
	svc, _, _ := newTestService(t, at(t, "2024-01-01T10:00:00"))
	tests := []struct {
		name  string
		in    SettingsInput
		field string
	}{
		{name: "missing frequency", in: SettingsInput{RunTime: "09:00"}, field: "frequency"},
		{name: "unknown frequency", in: SettingsInput{Frequency: "hourly", RunTime: "09:00"}, field: "frequency"},
		{name: "missing run time", in: SettingsInput{Frequency: FrequencyDaily}, field: "run_time"},
		{name: "non numeric run time", in: SettingsInput{Frequency: FrequencyDaily, RunTime: "ab:cd"}, field: "run_time"},
		{name: "weekly without days", in: SettingsInput{Frequency: FrequencyWeekly, RunTime: "09:00"}, field: "run_days"},
		{name: "weekly with bad day", in: SettingsInput{Frequency: FrequencyWeekly, RunTime: "09:00", RunDays: []string{"mon", "someday"}}, field: "run_days"},
		{name: "too many calls", in: SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00", MaxCallsPerRun: intPtr(101)}, field: "max_calls_per_run"},
		{name: "zero calls", in: SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00", MaxCallsPerRun: intPtr(0)}, field: "max_calls_per_run"},
		{name: "bad lead status", in: SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00", LeadStatuses: []LeadStatus{"cold"}}, field: "lead_statuses"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSettings(context.Background(), owner, tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSettingsAreScopedToOwner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"})
	require.NoError(t, err)

	_, err = svc.GetSettings(ctx, stranger, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.UpdateSettings(ctx, stranger, created.ID, SettingsPatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.DeleteSettings(ctx, stranger, created.ID), ErrNotFound)
	_, err = svc.RunNow(ctx, stranger, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := svc.ListSettings(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.GetSettings(ctx, owner, "not-a-uuid")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateSettingsRecomputesOnlyWhenScheduleChanges(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"})
	require.NoError(t, err)

	pinned := at(t, "2030-01-01T00:00:00")
	require.NoError(t, store.UpdateSettingsSchedule(ctx, created.ID, nil, &pinned))

	updated, err := svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{Name: strPtr("renamed"), MaxCallsPerRun: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, pinned, *updated.NextRun)

	updated, err = svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{RunTime: strPtr("11:15")})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, at(t, "2024-01-01T11:15:00"), *updated.NextRun)

	updated, err = svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	assert.Nil(t, updated.NextRun)

	updated, err = svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{
		Enabled:   boolPtr(true),
		Frequency: freqPtr(FrequencyWeekly),
		RunDays:   &[]string{"fri"},
	})
	require.NoError(t, err)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, at(t, "2024-01-05T11:15:00"), *updated.NextRun)

	_, err = svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{RunDays: &[]string{}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDefinitionUpdateDoesNotUndoConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"})
	require.NoError(t, err)
	require.NotNil(t, created.NextRun)

	claimedAt := at(t, "2024-01-02T09:00:00")
	advanced := at(t, "2024-01-03T09:00:00")
	store.beforeUpdate = func() {
		run := &Run{ID: NewID(), SettingsID: created.ID, UserID: owner.UserID, Trigger: RunTriggerSchedule,
			Status: RunStatusRunning, StartTime: claimedAt}
		claim := Claim{SettingsID: created.ID, ExpectedNextRun: *created.NextRun, LastRun: claimedAt, NextRun: &advanced}
		require.NoError(t, store.ClaimAndStartRun(ctx, claim, run))
	}

	updated, err := svc.UpdateSettings(ctx, owner, created.ID, SettingsPatch{Name: strPtr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.NextRun)
	assert.Equal(t, advanced, *updated.NextRun)
	require.NotNil(t, updated.LastRun)
	assert.Equal(t, claimedAt, *updated.LastRun)
}

func TestRunHistorySurvivesDeletion(t *testing.T) {
	ctx := context.Background()
	svc, _, dispatcher := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"})
	require.NoError(t, err)

	run, err := svc.RunNow(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, dispatcher.manual)

	require.NoError(t, svc.DeleteSettings(ctx, owner, created.ID))
	_, err = svc.GetSettings(ctx, owner, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := svc.ListRuns(ctx, owner, created.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	_, err = svc.ListRuns(ctx, stranger, created.ID, 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ListRuns(ctx, owner, NewID(), 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsOfSettingsWithoutHistory(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00"})
	require.NoError(t, err)

	runs, err := svc.ListRuns(ctx, owner, created.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunNowOnDisabledSettings(t *testing.T) {
	ctx := context.Background()
	svc, store, dispatcher := newTestService(t, at(t, "2024-01-01T10:00:00"))
	created, err := svc.CreateSettings(ctx, owner, SettingsInput{Frequency: FrequencyDaily, RunTime: "09:00", Enabled: boolPtr(false)})
	require.NoError(t, err)

	run, err := svc.RunNow(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, run.Status)
	assert.Len(t, dispatcher.manual, 1)
	_, ok := store.runSnapshot(run.ID)
	assert.True(t, ok)
}

func TestRunSchedulerRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	svc, _, dispatcher := newTestService(t, at(t, "2024-01-01T10:00:00"))

	assert.ErrorIs(t, svc.RunScheduler(ctx, owner), ErrForbidden)
	assert.Zero(t, dispatcher.sweeps)

	require.NoError(t, svc.RunScheduler(ctx, admin))
	assert.Equal(t, 1, dispatcher.sweeps)
}

func TestPreviewSchedule(t *testing.T) {
	svc, _, _ := newTestService(t, at(t, "2024-01-04T10:00:00"))
	times, err := svc.PreviewSchedule(context.Background(), Schedule{
		Frequency: FrequencyWeekly,
		RunTime:   "12:00",
		RunDays:   []string{"mon", "wed"},
	}, 50)
	require.NoError(t, err)
	assert.Len(t, times, MaxPreviewCount)
	assert.Equal(t, at(t, "2024-01-08T12:00:00"), times[0])
	assert.Equal(t, at(t, "2024-01-10T12:00:00"), times[1])

	_, err = svc.PreviewSchedule(context.Background(), Schedule{Frequency: FrequencyDaily, RunTime: "25:00"}, 3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLeads(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, at(t, "2024-01-04T10:00:00"))

	lead, err := svc.CreateLead(ctx, owner, LeadInput{FullName: "Ada Lovelace", PhoneNumber: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, LeadStatusNew, lead.Status)

	_, err = svc.CreateLead(ctx, owner, LeadInput{FullName: "No Phone"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.CreateLead(ctx, owner, LeadInput{FullName: "Bad", PhoneNumber: "1", Status: "cold"})
	assert.ErrorIs(t, err, ErrValidation)

	leads, err := svc.ListLeads(ctx, owner, 0, 0)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, lead.ID, leads[0].ID)

	leads, err = svc.ListLeads(ctx, stranger, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, leads)
}
