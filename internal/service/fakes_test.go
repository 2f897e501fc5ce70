package service

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/circlehub/newsletter/internal/config"
	"github.com/circlehub/newsletter/internal/email"
	"github.com/circlehub/newsletter/internal/model"
	"github.com/circlehub/newsletter/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		Email: config.EmailConfig{
			AppName:       "Test Newsletter",
			PublicBaseURL: "https://news.example.org",
		},
		Confirmation: config.ConfirmationConfig{ResendCooldown: time.Minute},
		Dispatch: config.DispatchConfig{
			Concurrency:           4,
			MaxAttempts:           3,
			BaseBackoff:           time.Millisecond,
			MaxBackoff:            4 * time.Millisecond,
			SendTimeout:           time.Second,
			TerminalWriteAttempts: 2,
		},
		Scheduler: config.SchedulerConfig{
			Interval:    time.Minute,
			Concurrency: 2,
			StaleAfter:  30 * time.Minute,
		},
	}
}

// memSubscriberStore mirrors the guarded statements of SubscriberRepository
type memSubscriberStore struct {
	mu      sync.Mutex
	byID    map[string]*model.Subscriber
	listErr error
}

func newMemSubscriberStore() *memSubscriberStore {
	return &memSubscriberStore{byID: map[string]*model.Subscriber{}}
}

func (m *memSubscriberStore) findByEmail(email string) *model.Subscriber {
	for _, s := range m.byID {
		if s.Email == email {
			return s
		}
	}
	return nil
}

func (m *memSubscriberStore) Create(_ context.Context, sub *model.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findByEmail(sub.Email) != nil {
		return repository.ErrDuplicate
	}
	cp := *sub
	m.byID[sub.ID] = &cp
	return nil
}

func (m *memSubscriberStore) GetByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findByEmail(email)
	if s == nil {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriberStore) Reactivate(_ context.Context, id string, name *string, tokenHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.IsActive {
		return repository.ErrConflict
	}
	s.IsActive = true
	s.ConfirmedAt = nil
	s.UnsubscribedAt = nil
	s.TokenHash = tokenHash
	s.SubscribedAt = now
	s.UpdatedAt = now
	if name != nil {
		s.Name = name
	}
	return nil
}

func (m *memSubscriberStore) RotateToken(_ context.Context, email, tokenHash string, now time.Time) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findByEmail(email)
	if s == nil || !s.IsActive || s.ConfirmedAt != nil {
		return nil, repository.ErrNotFound
	}
	s.TokenHash = tokenHash
	s.UpdatedAt = now
	cp := *s
	return &cp, nil
}

func (m *memSubscriberStore) Confirm(_ context.Context, tokenHash string, now time.Time) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.TokenHash != "" && s.TokenHash == tokenHash && s.ConfirmedAt == nil {
			at := now
			s.ConfirmedAt = &at
			s.TokenHash = ""
			s.UpdatedAt = now
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memSubscriberStore) Deactivate(_ context.Context, email string, now time.Time) (*model.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findByEmail(email)
	if s == nil || !s.IsActive {
		return nil, repository.ErrNotFound
	}
	at := now
	s.IsActive = false
	s.TokenHash = ""
	s.UnsubscribedAt = &at
	s.UpdatedAt = now
	cp := *s
	return &cp, nil
}

func (m *memSubscriberStore) snapshot(keep func(*model.Subscriber) bool) []*model.Subscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Subscriber{}
	for _, s := range m.byID {
		if keep(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubscribedAt.Equal(out[j].SubscribedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubscribedAt.Before(out[j].SubscribedAt)
	})
	return out
}

func (m *memSubscriberStore) seq(keep func(*model.Subscriber) bool) iter.Seq2[*model.Subscriber, error] {
	return func(yield func(*model.Subscriber, error) bool) {
		for _, s := range m.snapshot(keep) {
			if !yield(s, nil) {
				return
			}
		}
		if m.listErr != nil {
			yield(nil, m.listErr)
		}
	}
}

func (m *memSubscriberStore) ListDeliverable(context.Context) iter.Seq2[*model.Subscriber, error] {
	return m.seq(func(s *model.Subscriber) bool { return s.IsDeliverable() })
}

func (m *memSubscriberStore) ListAll(context.Context) iter.Seq2[*model.Subscriber, error] {
	return m.seq(func(*model.Subscriber) bool { return true })
}

func (m *memSubscriberStore) Stats(_ context.Context, since time.Time) (*model.SubscriberStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st model.SubscriberStats
	for _, s := range m.byID {
		st.Total++
		if s.IsActive {
			st.Active++
			if s.ConfirmedAt == nil {
				st.Pending++
			}
		}
		if !s.SubscribedAt.Before(since) {
			st.Recent++
		}
	}
	return &st, nil
}

// add inserts a subscriber directly, bypassing the service
func (m *memSubscriberStore) add(id, email string, subscribedAt time.Time, active, confirmed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &model.Subscriber{ID: id, Email: email, SubscribedAt: subscribedAt, IsActive: active, UpdatedAt: subscribedAt}
	if confirmed {
		at := subscribedAt
		s.ConfirmedAt = &at
	}
	m.byID[id] = s
}

// memCampaignStore mirrors the compare-and-set statements of CampaignRepository
type memCampaignStore struct {
	mu          sync.Mutex
	byID        map[string]*model.Campaign
	terminalErr error
	terminalN   int // number of terminal writes that fail with terminalErr
	touches     int

	// beforeTransition runs under the lock before a Transition is applied
	beforeTransition func(*model.Campaign)
}

func newMemCampaignStore() *memCampaignStore {
	return &memCampaignStore{byID: map[string]*model.Campaign{}}
}

func (m *memCampaignStore) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[c.ID]; ok {
		return repository.ErrDuplicate
	}
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *memCampaignStore) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaignStore) List(_ context.Context, filter model.CampaignFilter) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range m.byID {
		if filter.Status == "" || c.Status == filter.Status {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if filter.Offset >= len(all) {
		return []*model.Campaign{}, total, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func (m *memCampaignStore) Update(_ context.Context, c *model.Campaign, expected model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[c.ID]
	if !ok || cur.Status != expected {
		return repository.ErrConflict
	}
	cur.Subject = c.Subject
	cur.Content = c.Content
	cur.HTMLContent = c.HTMLContent
	cur.Status = c.Status
	cur.ScheduledAt = c.ScheduledAt
	cur.FailureReason = c.FailureReason
	cur.UpdatedAt = c.UpdatedAt
	return nil
}

func (m *memCampaignStore) Delete(_ context.Context, id string, expected model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || cur.Status != expected {
		return repository.ErrConflict
	}
	delete(m.byID, id)
	return nil
}

func (m *memCampaignStore) Transition(_ context.Context, id string, from, to model.CampaignStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || cur.Status != from {
		return false, nil
	}
	if m.beforeTransition != nil {
		m.beforeTransition(cur)
	}
	cur.Status = to
	cur.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memCampaignStore) ClaimDue(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || !cur.IsDue(now) {
		return false, nil
	}
	cur.Status = model.CampaignStatusSending
	cur.UpdatedAt = now
	return true, nil
}

func (m *memCampaignStore) Touch(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || cur.Status != model.CampaignStatusSending {
		return false, nil
	}
	cur.UpdatedAt = time.Now().UTC()
	m.touches++
	return true, nil
}

func (m *memCampaignStore) ReplaceInterrupted(_ context.Context, outcome model.DispatchOutcome, interruptedReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[outcome.CampaignID]
	if !ok || cur.Status != model.CampaignStatusFailed || cur.FailureReason == nil || *cur.FailureReason != interruptedReason {
		return repository.ErrConflict
	}
	cur.Status = outcome.Status
	cur.RecipientCount = outcome.RecipientCount
	cur.SentAt = nil
	cur.FailureReason = nil
	if outcome.Status == model.CampaignStatusSent {
		at := outcome.DecidedAt
		cur.SentAt = &at
	} else {
		reason := outcome.Reason
		cur.FailureReason = &reason
	}
	cur.UpdatedAt = outcome.DecidedAt
	return nil
}

func (m *memCampaignStore) touchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touches
}

func (m *memCampaignStore) failTerminal() error {
	if m.terminalN > 0 {
		m.terminalN--
		return m.terminalErr
	}
	return nil
}

func (m *memCampaignStore) MarkSent(_ context.Context, id string, recipientCount int, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTerminal(); err != nil {
		return err
	}
	cur, ok := m.byID[id]
	if !ok || cur.Status != model.CampaignStatusSending {
		return repository.ErrConflict
	}
	at := sentAt
	cur.Status = model.CampaignStatusSent
	cur.SentAt = &at
	cur.RecipientCount = recipientCount
	cur.FailureReason = nil
	cur.UpdatedAt = sentAt
	return nil
}

func (m *memCampaignStore) MarkFailed(_ context.Context, id string, reason string, failedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failTerminal(); err != nil {
		return err
	}
	cur, ok := m.byID[id]
	if !ok || cur.Status != model.CampaignStatusSending {
		return repository.ErrConflict
	}
	cur.Status = model.CampaignStatusFailed
	cur.FailureReason = &reason
	cur.UpdatedAt = failedAt
	return nil
}

func (m *memCampaignStore) FindDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.byID {
		if c.IsDue(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (m *memCampaignStore) FindStale(_ context.Context, before time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.byID {
		if c.Status == model.CampaignStatusSending && c.UpdatedAt.Before(before) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCampaignStore) increment(id string, field func(*model.Campaign) *int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[id]
	if !ok || cur.Status != model.CampaignStatusSent {
		return false, nil
	}
	*field(cur)++
	return true, nil
}

func (m *memCampaignStore) IncrementOpens(_ context.Context, id string) (bool, error) {
	return m.increment(id, func(c *model.Campaign) *int { return &c.OpenCount })
}

func (m *memCampaignStore) IncrementClicks(_ context.Context, id string) (bool, error) {
	return m.increment(id, func(c *model.Campaign) *int { return &c.ClickCount })
}

// put stores a campaign directly, bypassing the service
func (m *memCampaignStore) put(c *model.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.byID[c.ID] = &cp
}

func (m *memCampaignStore) get(id string) *model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// fakeGateway records calls and fails recipients on demand
type fakeGateway struct {
	mu        sync.Mutex
	calls     map[string]int
	permanent map[string]bool
	// transient fails the first n attempts for a recipient; -1 fails forever
	transient map[string]int
	messages  []email.Message
	testSent  []string
	delay     time.Duration
	// onSend runs before every provider call
	onSend    func(email.Message)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		calls:     map[string]int{},
		permanent: map[string]bool{},
		transient: map[string]int{},
	}
}

func (g *fakeGateway) SendOne(ctx context.Context, msg email.Message) (*email.Receipt, error) {
	if g.onSend != nil {
		g.onSend(msg)
	}
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, email.AsDeliveryError(ctx.Err())
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[msg.To]++
	g.messages = append(g.messages, msg)

	if g.permanent[msg.To] {
		return nil, email.NewPermanentError("invalid_recipient", "mailbox does not exist", nil)
	}
	if n, ok := g.transient[msg.To]; ok && (n < 0 || g.calls[msg.To] <= n) {
		return nil, email.NewTransientError("rate_limited", "provider rate limit exceeded", nil)
	}
	return &email.Receipt{Provider: "fake", MessageID: msg.To, AcceptedAt: time.Now()}, nil
}

func (g *fakeGateway) SendTest(_ context.Context, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.testSent = append(g.testSent, to)
	return nil
}

func (g *fakeGateway) totalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

func (g *fakeGateway) callsTo(to string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[to]
}

func (g *fakeGateway) lastMessage() email.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.messages[len(g.messages)-1]
}

type memJournal struct {
	mu       sync.Mutex
	outcomes map[string]model.DispatchOutcome
}

func newMemJournal() *memJournal {
	return &memJournal{outcomes: map[string]model.DispatchOutcome{}}
}

func (j *memJournal) Record(_ context.Context, outcome model.DispatchOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.outcomes[outcome.CampaignID] = outcome
	return nil
}

func (j *memJournal) Lookup(_ context.Context, id string) (*model.DispatchOutcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	o, ok := j.outcomes[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (j *memJournal) Clear(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.outcomes, id)
	return nil
}

type memCooldown struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemCooldown() *memCooldown {
	return &memCooldown{keys: map[string]bool{}}
}

func (c *memCooldown) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memCooldown) Release(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*model.AuditLog
}

func (a *memAudit) Create(_ context.Context, entry *model.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) ListByResource(_ context.Context, resourceType, resourceID string, limit int) ([]*model.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := []*model.AuditLog{}
	for i := len(a.entries) - 1; i >= 0; i-- {
		e := a.entries[i]
		if e.ResourceType == nil || e.ResourceID == nil {
			continue
		}
		if *e.ResourceType == resourceType && *e.ResourceID == resourceID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// find returns the most recent entry with the given action
func (a *memAudit) find(action string) *model.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action == action {
			return a.entries[i]
		}
	}
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

var errStoreDown = errors.New("store unavailable")

func noSleep(context.Context, time.Duration) error { return nil }

func ptr[T any](v T) *T { return &v }
