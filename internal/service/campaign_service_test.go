package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/model"
)

func newCampaignFixture() (*CampaignService, *memCampaignStore, *memAudit) {
	store := newMemCampaignStore()
	audit := &memAudit{}
	return NewCampaignService(store, audit, logger.Nop()), store, audit
}

func testFields() model.CampaignFields {
	return model.CampaignFields{Subject: "October update", Content: "Hello readers"}
}

func TestCampaignCreate(t *testing.T) {
	svc, _, audit := newCampaignFixture()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Second)

	tests := []struct {
		name        string
		status      model.CampaignStatus
		scheduledAt *time.Time
		fields      model.CampaignFields
		wantErr     error
	}{
		{name: "draft", status: model.CampaignStatusDraft, fields: testFields()},
		{name: "default status is draft", fields: testFields()},
		{name: "scheduled in the future", status: model.CampaignStatusScheduled, scheduledAt: &future, fields: testFields()},
		{name: "scheduled without time", status: model.CampaignStatusScheduled, fields: testFields(), wantErr: ErrInvalidSchedule},
		{name: "scheduled in the past", status: model.CampaignStatusScheduled, scheduledAt: &past, fields: testFields(), wantErr: ErrInvalidSchedule},
		{name: "draft with time", status: model.CampaignStatusDraft, scheduledAt: &future, fields: testFields(), wantErr: ErrInvalidSchedule},
		{name: "sending is not creatable", status: model.CampaignStatusSending, fields: testFields(), wantErr: ErrInvalidStatusChange},
		{name: "sent is not creatable", status: model.CampaignStatusSent, fields: testFields(), wantErr: ErrInvalidStatusChange},
		{name: "missing subject", fields: model.CampaignFields{Content: "body"}, wantErr: ErrInvalidCampaign},
		{name: "missing content", fields: model.CampaignFields{Subject: "subject", Content: "  "}, wantErr: ErrInvalidCampaign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := svc.Create(ctx, tt.fields, tt.status, tt.scheduledAt)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, c.RecipientCount)
			assert.Zero(t, c.OpenCount)
			assert.Zero(t, c.ClickCount)
			assert.Nil(t, c.SentAt)
			if c.Status == model.CampaignStatusScheduled {
				assert.NotNil(t, c.ScheduledAt)
			} else {
				assert.Equal(t, model.CampaignStatusDraft, c.Status)
				assert.Nil(t, c.ScheduledAt)
			}
		})
	}

	assert.Contains(t, audit.actions(), model.AuditActionCampaignCreated)
}

func TestCampaignGet_NotFound(t *testing.T) {
	svc, _, _ := newCampaignFixture()
	_, err := svc.Get(context.Background(), "cmp_missing")
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestCampaignUpdate_KeepsStatusUnlessAsked(t *testing.T) {
	svc, _, _ := newCampaignFixture()
	ctx := context.Background()

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	updated, err := svc.Update(ctx, c.ID, model.CampaignUpdate{Subject: ptr("New subject")})
	require.NoError(t, err)
	assert.Equal(t, "New subject", updated.Subject)
	assert.Equal(t, model.CampaignStatusDraft, updated.Status)
}

func TestCampaignUpdate_Schedule(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	_, err = svc.Update(ctx, c.ID, model.CampaignUpdate{Status: ptr(model.CampaignStatusScheduled)})
	assert.ErrorIs(t, err, ErrInvalidSchedule, "scheduling needs a time")

	past := time.Now().Add(-time.Minute)
	_, err = svc.Update(ctx, c.ID, model.CampaignUpdate{Status: ptr(model.CampaignStatusScheduled), ScheduledAt: &past})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	future := time.Now().Add(time.Hour)
	_, err = svc.Update(ctx, c.ID, model.CampaignUpdate{ScheduledAt: &future})
	assert.ErrorIs(t, err, ErrInvalidSchedule, "a draft cannot carry a schedule")

	updated, err := svc.Update(ctx, c.ID, model.CampaignUpdate{Status: ptr(model.CampaignStatusScheduled), ScheduledAt: &future})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusScheduled, updated.Status)
	assert.Equal(t, model.CampaignStatusScheduled, store.get(c.ID).Status)

	back, err := svc.Update(ctx, c.ID, model.CampaignUpdate{Status: ptr(model.CampaignStatusDraft)})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusDraft, back.Status)
	assert.False(t, back.IsDue(time.Now().Add(2*time.Hour)), "a historical schedule is never due")
}

func TestCampaignUpdate_RejectsDirectSending(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	for _, status := range []model.CampaignStatus{model.CampaignStatusSending, model.CampaignStatusSent, model.CampaignStatusFailed} {
		_, err = svc.Update(ctx, c.ID, model.CampaignUpdate{Status: ptr(status)})
		assert.ErrorIs(t, err, ErrInvalidStatusChange)
	}
	assert.Equal(t, model.CampaignStatusDraft, store.get(c.ID).Status)
}

func TestCampaign_SentIsLocked(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	sentAt := time.Now().UTC()
	store.put(&model.Campaign{ID: "cmp_sent", Subject: "s", Content: "c", Status: model.CampaignStatusSent, SentAt: &sentAt, RecipientCount: 5})

	_, err := svc.Update(ctx, "cmp_sent", model.CampaignUpdate{Subject: ptr("changed")})
	assert.ErrorIs(t, err, ErrCampaignLocked)

	deleted, err := svc.Delete(ctx, "cmp_sent")
	assert.ErrorIs(t, err, ErrCampaignLocked)
	assert.False(t, deleted)

	c := store.get("cmp_sent")
	require.NotNil(t, c)
	assert.Equal(t, "s", c.Subject)
	assert.Equal(t, 5, c.RecipientCount)
}

func TestCampaign_SendingIsLocked(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	store.put(&model.Campaign{ID: "cmp_busy", Subject: "s", Content: "c", Status: model.CampaignStatusSending})

	_, err := svc.Update(ctx, "cmp_busy", model.CampaignUpdate{Subject: ptr("changed")})
	assert.ErrorIs(t, err, ErrCampaignLocked)

	_, err = svc.Delete(ctx, "cmp_busy")
	assert.ErrorIs(t, err, ErrCampaignLocked)
}

func TestCampaignDelete(t *testing.T) {
	svc, store, audit := newCampaignFixture()
	ctx := context.Background()

	failedReason := "all deliveries failed"
	store.put(&model.Campaign{ID: "cmp_failed", Subject: "s", Content: "c", Status: model.CampaignStatusFailed, FailureReason: &failedReason})

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	for _, id := range []string{c.ID, "cmp_failed"} {
		deleted, err := svc.Delete(ctx, id)
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Nil(t, store.get(id))
	}

	deleted, err := svc.Delete(ctx, "cmp_missing")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Contains(t, audit.actions(), model.AuditActionCampaignDeleted)
}

func TestCampaignUpdate_FailedCanBeRescheduled(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	reason := "all deliveries failed"
	store.put(&model.Campaign{ID: "cmp_failed", Subject: "s", Content: "c", Status: model.CampaignStatusFailed, FailureReason: &reason})

	future := time.Now().Add(time.Hour)
	updated, err := svc.Update(ctx, "cmp_failed", model.CampaignUpdate{Status: ptr(model.CampaignStatusScheduled), ScheduledAt: &future})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusScheduled, updated.Status)
	assert.Nil(t, updated.FailureReason)
}

func TestCampaignTransition_IsCompareAndSet(t *testing.T) {
	svc, _, _ := newCampaignFixture()
	ctx := context.Background()

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	ok, err := svc.Transition(ctx, c.ID, model.CampaignStatusScheduled, model.CampaignStatusSending)
	require.NoError(t, err)
	assert.False(t, ok, "wrong from status")

	ok, err = svc.Transition(ctx, c.ID, model.CampaignStatusDraft, model.CampaignStatusSending)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Transition(ctx, c.ID, model.CampaignStatusDraft, model.CampaignStatusSending)
	require.NoError(t, err)
	assert.False(t, ok, "already claimed")

	require.NoError(t, svc.MarkSent(ctx, c.ID, 3))
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusSent, got.Status)
	assert.Equal(t, 3, got.RecipientCount)
	assert.NotNil(t, got.SentAt)
}

func TestCampaignList(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, status := range []model.CampaignStatus{model.CampaignStatusDraft, model.CampaignStatusSent, model.CampaignStatusDraft} {
		store.put(&model.Campaign{
			ID:        "cmp_" + string(rune('a'+i)),
			Subject:   "s",
			Content:   "c",
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	all, total, err := svc.List(ctx, model.CampaignFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, "cmp_c", all[0].ID, "newest first")

	drafts, total, err := svc.List(ctx, model.CampaignFilter{Status: model.CampaignStatusDraft, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, drafts, 1)

	_, _, err = svc.List(ctx, model.CampaignFilter{Status: "bogus"})
	assert.Error(t, err)
}

func TestRecordOpenAndClick_OnlyForSent(t *testing.T) {
	svc, store, _ := newCampaignFixture()
	ctx := context.Background()

	store.put(&model.Campaign{ID: "cmp_sent", Status: model.CampaignStatusSent})
	store.put(&model.Campaign{ID: "cmp_draft", Status: model.CampaignStatusDraft})

	ok, err := svc.RecordOpen(ctx, "cmp_sent")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.RecordClick(ctx, "cmp_sent")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.RecordOpen(ctx, "cmp_draft")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, store.get("cmp_sent").OpenCount)
	assert.Equal(t, 1, store.get("cmp_sent").ClickCount)
	assert.Zero(t, store.get("cmp_draft").OpenCount)
}

func TestCampaignHistory(t *testing.T) {
	svc, _, _ := newCampaignFixture()
	ctx := context.Background()

	c, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)
	_, err = svc.Update(ctx, c.ID, model.CampaignUpdate{Subject: ptr("Renamed")})
	require.NoError(t, err)
	other, err := svc.Create(ctx, testFields(), model.CampaignStatusDraft, nil)
	require.NoError(t, err)

	entries, err := svc.History(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.AuditActionCampaignUpdated, entries[0].Action)
	assert.Equal(t, model.AuditActionCampaignCreated, entries[1].Action)

	entries, err = svc.History(ctx, other.ID, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = svc.History(ctx, "cmp_missing", 0)
	assert.ErrorIs(t, err, ErrCampaignNotFound)
}
