package handler

import (
	"context"
	"io"
	"time"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/logger"
	"github.com/circlehub/newsletter/internal/model"
)

type mockSubscribers struct {
	SubscribeFunc          func(ctx context.Context, email string, name *string) (*model.Subscriber, error)
	ConfirmFunc            func(ctx context.Context, token string) (bool, error)
	ResendConfirmationFunc func(ctx context.Context, email string) error
	UnsubscribeFunc        func(ctx context.Context, email string) (bool, error)
	StatsFunc              func(ctx context.Context) (*model.SubscriberStats, error)
	ExportFunc             func(ctx context.Context, w io.Writer) (int, error)
}

func (m *mockSubscribers) Subscribe(ctx context.Context, email string, name *string) (*model.Subscriber, error) {
	return m.SubscribeFunc(ctx, email, name)
}

func (m *mockSubscribers) Confirm(ctx context.Context, token string) (bool, error) {
	return m.ConfirmFunc(ctx, token)
}

func (m *mockSubscribers) ResendConfirmation(ctx context.Context, email string) error {
	return m.ResendConfirmationFunc(ctx, email)
}

func (m *mockSubscribers) Unsubscribe(ctx context.Context, email string) (bool, error) {
	return m.UnsubscribeFunc(ctx, email)
}

func (m *mockSubscribers) Stats(ctx context.Context) (*model.SubscriberStats, error) {
	return m.StatsFunc(ctx)
}

func (m *mockSubscribers) Export(ctx context.Context, w io.Writer) (int, error) {
	return m.ExportFunc(ctx, w)
}

type mockCampaigns struct {
	CreateFunc      func(ctx context.Context, fields model.CampaignFields, status model.CampaignStatus, scheduledAt *time.Time) (*model.Campaign, error)
	GetFunc         func(ctx context.Context, id string) (*model.Campaign, error)
	ListFunc        func(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error)
	UpdateFunc      func(ctx context.Context, id string, upd model.CampaignUpdate) (*model.Campaign, error)
	DeleteFunc      func(ctx context.Context, id string) (bool, error)
	HistoryFunc     func(ctx context.Context, id string, limit int) ([]*model.AuditLog, error)
	RecordOpenFunc  func(ctx context.Context, id string) (bool, error)
	RecordClickFunc func(ctx context.Context, id string) (bool, error)
}

func (m *mockCampaigns) Create(ctx context.Context, fields model.CampaignFields, status model.CampaignStatus, scheduledAt *time.Time) (*model.Campaign, error) {
	return m.CreateFunc(ctx, fields, status, scheduledAt)
}

func (m *mockCampaigns) Get(ctx context.Context, id string) (*model.Campaign, error) {
	return m.GetFunc(ctx, id)
}

func (m *mockCampaigns) List(ctx context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error) {
	return m.ListFunc(ctx, filter)
}

func (m *mockCampaigns) Update(ctx context.Context, id string, upd model.CampaignUpdate) (*model.Campaign, error) {
	return m.UpdateFunc(ctx, id, upd)
}

func (m *mockCampaigns) Delete(ctx context.Context, id string) (bool, error) {
	return m.DeleteFunc(ctx, id)
}

func (m *mockCampaigns) History(ctx context.Context, id string, limit int) ([]*model.AuditLog, error) {
	return m.HistoryFunc(ctx, id, limit)
}

func (m *mockCampaigns) RecordOpen(ctx context.Context, id string) (bool, error) {
	return m.RecordOpenFunc(ctx, id)
}

func (m *mockCampaigns) RecordClick(ctx context.Context, id string) (bool, error) {
	return m.RecordClickFunc(ctx, id)
}

type mockDispatcher struct {
	SendCampaignFunc func(ctx context.Context, id string) (*model.DispatchSummary, error)
}

func (m *mockDispatcher) SendCampaign(ctx context.Context, id string) (*model.DispatchSummary, error) {
	return m.SendCampaignFunc(ctx, id)
}

type mockScheduler struct {
	ForceCheckFunc func(ctx context.Context) (*model.ScanResult, error)
}

func (m *mockScheduler) ForceCheck(ctx context.Context) (*model.ScanResult, error) {
	return m.ForceCheckFunc(ctx)
}

type mockMailer struct {
	SendTestFunc func(ctx context.Context, to string) error
}

func (m *mockMailer) SendTest(ctx context.Context, to string) error {
	return m.SendTestFunc(ctx, to)
}

type mockHealth struct {
	err error
}

func (m mockHealth) HealthCheck(ctx context.Context) error {
	return m.err
}

func newTestHandler(subs Subscribers, campaigns Campaigns, dispatcher Dispatcher) *Handler {
	if subs == nil {
		subs = &mockSubscribers{}
	}
	if campaigns == nil {
		campaigns = &mockCampaigns{}
	}
	if dispatcher == nil {
		dispatcher = &mockDispatcher{}
	}
	return New(mockHealth{}, mockHealth{}, logger.Nop(), &config.Config{}, subs, campaigns, dispatcher, &mockScheduler{}, &mockMailer{})
}
