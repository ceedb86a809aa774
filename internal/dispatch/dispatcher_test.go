package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
	"github.com/sentra-lab/project-sentra/internal/notify"
	"github.com/sentra-lab/project-sentra/internal/rules"
	"github.com/sentra-lab/project-sentra/internal/workflow"
)

type memEntityStore struct {
	states map[string]string
	audit  []*v1.AuditEntry
}

func newMemEntityStore() *memEntityStore {
	return &memEntityStore{states: make(map[string]string)}
}

func (m *memEntityStore) key(kind v1.RefKind, id string) string { return string(kind) + "/" + id }

func (m *memEntityStore) FindEntity(_ context.Context, kind v1.RefKind, id string) (*v1.Entity, error) {
	state, ok := m.states[m.key(kind, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v1.Entity{Kind: kind, ID: id, State: state}, nil
}

func (m *memEntityStore) ApplyTransition(_ context.Context, kind v1.RefKind, id, fromState, toState string, entry *v1.AuditEntry) error {
	if m.states[m.key(kind, id)] != fromState {
		return storage.ErrStateConflict
	}
	m.states[m.key(kind, id)] = toState
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memEntityStore) ListAudit(_ context.Context, _ v1.RefKind, _ string, _ int) ([]*v1.AuditEntry, error) {
	return m.audit, nil
}

type memDirectory struct {
	users map[string]*v1.User
}

func (m *memDirectory) FindUser(_ context.Context, id string) (*v1.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, storage.ErrNotFound
}

func (m *memDirectory) FindListing(_ context.Context, _ string) (*v1.Listing, error) {
	return nil, storage.ErrNotFound
}

func (m *memDirectory) FindAccount(_ context.Context, _ string) (*v1.Account, error) {
	return nil, storage.ErrNotFound
}

type memJobStore struct {
	jobs []*v1.DeliveryJob
}

func (m *memJobStore) EnqueueJob(_ context.Context, job *v1.DeliveryJob) error {
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memJobStore) ClaimDueJobs(_ context.Context, _ time.Time, _ int) ([]*v1.DeliveryJob, error) {
	return nil, nil
}
func (m *memJobStore) CompleteJob(_ context.Context, _ string) error { return nil }
func (m *memJobStore) FailJob(_ context.Context, _ string, _ string, _ *time.Time) error {
	return nil
}

type memNotificationStore struct {
	saved []*v1.InAppNotification
}

func (m *memNotificationStore) SaveNotification(_ context.Context, n *v1.InAppNotification) error {
	m.saved = append(m.saved, n)
	return nil
}

type fixture struct {
	dispatcher    *Dispatcher
	entities      *memEntityStore
	jobs          *memJobStore
	notifications *memNotificationStore
}

func newFixture() *fixture {
	entities := newMemEntityStore()
	jobs := &memJobStore{}
	notifications := &memNotificationStore{}
	dir := &memDirectory{users: map[string]*v1.User{
		"U1": {ID: "U1", Email: "u1@example.com"},
	}}

	engine := workflow.NewEngine(entities, nil)
	notifier := notify.NewDispatcher(dir, jobs, notify.NewInAppSender(notifications))

	return &fixture{
		dispatcher:    NewDispatcher(engine, notifier),
		entities:      entities,
		jobs:          jobs,
		notifications: notifications,
	}
}

func reportEvent() *v1.Event {
	return &v1.Event{
		ID:            "evt-1",
		Source:        "admin-api",
		Module:        "reports",
		Type:          "user.report",
		Subject:       v1.Ref{Kind: v1.KindUser, ID: "U1"},
		CorrelationID: "corr-1",
	}
}

func TestProcessResults_TransitionExecuted(t *testing.T) {
	f := newFixture()
	f.entities.states["user/U1"] = v1.UserActive

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{Type: "user.block", Rule: "block-after-reports"},
	}, reportEvent())

	require.Equal(t, 1, outcome.Executed)
	require.Empty(t, outcome.Errors)
	require.Equal(t, v1.UserBlocked, f.entities.states["user/U1"])

	require.Len(t, f.entities.audit, 1)
	entry := f.entities.audit[0]
	require.Equal(t, "Автоматическая блокировка по правилам", entry.Reason, "default reason per verb")
	require.Equal(t, "system", entry.ActorID, "actor defaults to system")
	require.Equal(t, "rules-engine", entry.Metadata["triggeredBy"])
	require.Equal(t, "evt-1", entry.Metadata["originalEventId"])
	require.Equal(t, "block-after-reports", entry.Metadata["ruleType"])
}

func TestProcessResults_ExplicitReasonAndActor(t *testing.T) {
	f := newFixture()
	f.entities.states["account/A1"] = v1.AccountActive

	event := &v1.Event{
		ID:      "evt-2",
		Source:  "billing",
		Type:    "account.tariff-expiry",
		Subject: v1.Ref{Kind: v1.KindAccount, ID: "A1"},
		Actor:   v1.Ref{Kind: v1.KindUser, ID: "admin-7"},
	}

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{Type: "account.suspend", Rule: "suspend-expired", Params: map[string]interface{}{"reason": "Тариф истёк"}},
	}, event)

	require.Equal(t, 1, outcome.Executed)
	require.Equal(t, v1.AccountSuspended, f.entities.states["account/A1"])
	require.Equal(t, "Тариф истёк", f.entities.audit[0].Reason)
	require.Equal(t, "admin-7", f.entities.audit[0].ActorID)
}

func TestProcessResults_KindMismatchIsSilentNoOp(t *testing.T) {
	f := newFixture()
	f.entities.states["user/U1"] = v1.UserActive

	// listing result against a user subject: no transition attempted
	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{Type: "listing.archive", Rule: "archive-reported"},
	}, reportEvent())

	require.Equal(t, 0, outcome.Executed)
	require.Equal(t, 1, outcome.Skipped)
	require.Empty(t, outcome.Errors)
	require.Equal(t, v1.UserActive, f.entities.states["user/U1"])
	require.Empty(t, f.entities.audit)
}

func TestProcessResults_FailureIsolation(t *testing.T) {
	f := newFixture()
	f.entities.states["user/U1"] = v1.UserBlocked // BLOCK not defined from BLOCKED

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{Type: "user.block", Rule: "block-again"},
		{Type: "notification.send", Rule: "notify-user"},
	}, reportEvent())

	require.Equal(t, 1, outcome.Executed, "notification still processed after failed transition")
	require.Len(t, outcome.Errors, 1)
	require.ErrorIs(t, outcome.Errors[0].Err, workflow.ErrInvalidTransition)
	require.Len(t, f.notifications.saved, 1)
}

func TestProcessResults_NotificationParams(t *testing.T) {
	f := newFixture()

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{
			Type: "notification.send",
			Rule: "warn-user",
			Params: map[string]interface{}{
				"channels":   []interface{}{"in-app", "carrier-pigeon"},
				"templateId": "report-warning",
				"variables":  map[string]interface{}{"count": 5},
			},
		},
	}, reportEvent())

	require.Equal(t, 1, outcome.Executed)
	require.Len(t, f.notifications.saved, 1)
	require.Equal(t, "report-warning", f.notifications.saved[0].TemplateID)
	require.Equal(t, "5", f.notifications.saved[0].Variables["count"])
	require.Equal(t, "evt-1", f.notifications.saved[0].EventID)
}

func TestProcessResults_DelayedNotificationEnqueues(t *testing.T) {
	f := newFixture()

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{
			Type: "notification.send",
			Rule: "remind-later",
			Params: map[string]interface{}{
				"channels": []interface{}{"email"},
				"delay":    3600,
			},
		},
	}, reportEvent())

	require.Equal(t, 1, outcome.Executed)
	require.Empty(t, f.notifications.saved)
	require.Len(t, f.jobs.jobs, 1)
	require.Equal(t, v1.ChannelEmail, f.jobs.jobs[0].Channel)
	require.Equal(t, "evt-1", f.jobs.jobs[0].EventID)
}

func TestProcessResults_UnknownTypeSkipped(t *testing.T) {
	f := newFixture()

	outcome := f.dispatcher.ProcessResults(context.Background(), []rules.Result{
		{Type: "unknown", Rule: "r1"},
		{Type: "robot.block", Rule: "r2"},
	}, reportEvent())

	require.Equal(t, 0, outcome.Executed)
	require.Equal(t, 2, outcome.Skipped)
	require.Empty(t, outcome.Errors)
}

func TestDurationParam(t *testing.T) {
	require.Equal(t, time.Hour, durationParam(map[string]interface{}{"delay": 3600}, "delay"))
	require.Equal(t, 90*time.Second, durationParam(map[string]interface{}{"delay": 90.0}, "delay"))
	require.Equal(t, 5*time.Minute, durationParam(map[string]interface{}{"delay": "5m"}, "delay"))
	require.Equal(t, time.Duration(0), durationParam(map[string]interface{}{"delay": "soon"}, "delay"))
	require.Equal(t, time.Duration(0), durationParam(map[string]interface{}{}, "delay"))
}
