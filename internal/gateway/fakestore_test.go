package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

// fakeStore is an in-memory store.Store double used by gateway tests so they
// exercise real dispatch/fan-out/auto-restart logic without a database.

type fakeStore struct {
	nodes    *fakeNodeStore
	servers  *fakeServerStore
	access   *fakeAccessStore
	logs     *fakeLogStore
	srvm     *fakeServerMetricsStore
	nodem    *fakeNodeMetricsStore
	backups  *fakeBackupStore
	tasks    *fakeTaskStore
	rules    *fakeRuleStore
	alerts   *fakeAlertStore
	delivery *fakeDeliveryStore
	tmpl     *fakeTemplateStore
	settings *fakeSettingStore
	pingErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes:    &fakeNodeStore{m: map[string]*model.Node{}},
		servers:  &fakeServerStore{m: map[string]*model.Server{}},
		access:   &fakeAccessStore{m: map[string][]model.ServerAccess{}},
		logs:     &fakeLogStore{},
		srvm:     &fakeServerMetricsStore{},
		nodem:    &fakeNodeMetricsStore{},
		backups:  &fakeBackupStore{byID: map[string]*model.Backup{}},
		tasks:    &fakeTaskStore{m: map[string]*model.ScheduledTask{}},
		rules:    &fakeRuleStore{m: map[string]*model.AlertRule{}},
		alerts:   &fakeAlertStore{m: map[string]*model.Alert{}},
		delivery: &fakeDeliveryStore{m: map[string]*model.AlertDelivery{}},
		tmpl:     &fakeTemplateStore{m: map[string]*model.ServerTemplate{}},
		settings: &fakeSettingStore{m: map[string]string{}},
	}
}

func (s *fakeStore) Nodes() store.NodeStore                     { return s.nodes }
func (s *fakeStore) Servers() store.ServerStore                 { return s.servers }
func (s *fakeStore) ServerAccess() store.ServerAccessStore       { return s.access }
func (s *fakeStore) ServerLogs() store.ServerLogStore           { return s.logs }
func (s *fakeStore) ServerMetrics() store.ServerMetricsStore     { return s.srvm }
func (s *fakeStore) NodeMetrics() store.NodeMetricsStore         { return s.nodem }
func (s *fakeStore) Backups() store.BackupStore                 { return s.backups }
func (s *fakeStore) ScheduledTasks() store.ScheduledTaskStore    { return s.tasks }
func (s *fakeStore) AlertRules() store.AlertRuleStore            { return s.rules }
func (s *fakeStore) Alerts() store.AlertStore                    { return s.alerts }
func (s *fakeStore) AlertDeliveries() store.AlertDeliveryStore   { return s.delivery }
func (s *fakeStore) ServerTemplates() store.ServerTemplateStore  { return s.tmpl }
func (s *fakeStore) Settings() store.SettingStore                { return s.settings }
func (s *fakeStore) Ping(ctx context.Context) error              { return s.pingErr }
func (s *fakeStore) Close() error                                { return nil }

// --- nodes -------------------------------------------------------------------

type fakeNodeStore struct {
	mu sync.Mutex
	m  map[string]*model.Node
}

func (f *fakeNodeStore) Create(ctx context.Context, n *model.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.m[n.ID] = &cp
	return nil
}

func (f *fakeNodeStore) GetByID(ctx context.Context, id string) (*model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNodeStore) Update(ctx context.Context, n *model.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[n.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *n
	f.m[n.ID] = &cp
	return nil
}

func (f *fakeNodeStore) SetOnline(ctx context.Context, id string, online bool, lastSeenAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	n.IsOnline = online
	n.LastSeenAt = lastSeenAt
	return nil
}

func (f *fakeNodeStore) List(ctx context.Context, opts store.ListOptions) ([]model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Node
	for _, n := range f.m {
		out = append(out, *n)
	}
	return out, nil
}

func (f *fakeNodeStore) ListOfflineSince(ctx context.Context, cutoff time.Time) ([]model.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Node
	for _, n := range f.m {
		if !n.IsOnline && n.LastSeenAt.Before(cutoff) {
			out = append(out, *n)
		}
	}
	return out, nil
}

// --- servers -----------------------------------------------------------------

type fakeServerStore struct {
	mu sync.Mutex
	m  map[string]*model.Server
}

func (f *fakeServerStore) Create(ctx context.Context, s *model.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.m[s.ID] = &cp
	return nil
}

func (f *fakeServerStore) GetByID(ctx context.Context, id string) (*model.Server, error) {
	return f.GetByUUIDOrID(ctx, id)
}

func (f *fakeServerStore) GetByUUIDOrID(ctx context.Context, x string) (*model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.m[x]; ok {
		cp := *s
		return &cp, nil
	}
	for _, s := range f.m {
		if s.UUID == x {
			cp := *s
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeServerStore) Update(ctx context.Context, s *model.Server) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[s.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	f.m[s.ID] = &cp
	return nil
}

func (f *fakeServerStore) UpdateStatus(ctx context.Context, id string, status model.ServerStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeServerStore) RecordCrash(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	s.CrashCount++
	s.LastCrashAt = &at
	return nil
}

func (f *fakeServerStore) ListByNode(ctx context.Context, nodeID string) ([]model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Server
	for _, s := range f.m {
		if s.NodeID == nodeID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeServerStore) ListByStatus(ctx context.Context, status model.ServerStatus) ([]model.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Server
	for _, s := range f.m {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out, nil
}

// --- server access -------------------------------------------------------------

type fakeAccessStore struct {
	mu sync.Mutex
	m  map[string][]model.ServerAccess // keyed by serverID
}

func (f *fakeAccessStore) Grant(ctx context.Context, a model.ServerAccess) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[a.ServerID] = append(f.m[a.ServerID], a)
	return nil
}

func (f *fakeAccessStore) Revoke(ctx context.Context, userID, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	grants := f.m[serverID]
	for i, g := range grants {
		if g.UserID == userID {
			f.m[serverID] = append(grants[:i], grants[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAccessStore) ListByServer(ctx context.Context, serverID string) ([]model.ServerAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ServerAccess(nil), f.m[serverID]...), nil
}

func (f *fakeAccessStore) HasAccess(ctx context.Context, userID, serverID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.m[serverID] {
		if g.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// --- logs/metrics (unexercised by these tests beyond append) -------------------

type fakeLogStore struct {
	mu   sync.Mutex
	logs []model.ServerLog
}

func (f *fakeLogStore) Append(ctx context.Context, l model.ServerLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
	return nil
}

func (f *fakeLogStore) List(ctx context.Context, serverID string, opts store.ListOptions) ([]model.ServerLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ServerLog
	for _, l := range f.logs {
		if l.ServerID == serverID {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeServerMetricsStore struct {
	mu      sync.Mutex
	samples []model.ServerMetrics
}

func (f *fakeServerMetricsStore) Append(ctx context.Context, m model.ServerMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, m)
	return nil
}

func (f *fakeServerMetricsStore) Latest(ctx context.Context, serverID string) (*model.ServerMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].ServerID == serverID {
			s := f.samples[i]
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeNodeMetricsStore struct {
	mu      sync.Mutex
	samples []model.NodeMetrics
}

func (f *fakeNodeMetricsStore) Append(ctx context.Context, m model.NodeMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, m)
	return nil
}

func (f *fakeNodeMetricsStore) Latest(ctx context.Context, nodeID string) (*model.NodeMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].NodeID == nodeID {
			s := f.samples[i]
			return &s, nil
		}
	}
	return nil, store.ErrNotFound
}

// --- backups -------------------------------------------------------------------

type fakeBackupStore struct {
	mu   sync.Mutex
	byID map[string]*model.Backup
}

func (f *fakeBackupStore) Upsert(ctx context.Context, b *model.Backup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.ID == "" {
		for _, existing := range f.byID {
			if existing.ServerID == b.ServerID && existing.Name == b.Name {
				b.ID = existing.ID
				break
			}
		}
	}
	if b.ID == "" {
		b.ID = b.ServerID + "-" + b.Name
	}
	cp := *b
	f.byID[b.ID] = &cp
	return nil
}

func (f *fakeBackupStore) GetByID(ctx context.Context, id string) (*model.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBackupStore) GetByServerAndName(ctx context.Context, serverID, name string) (*model.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.byID {
		if b.ServerID == serverID && b.Name == name {
			cp := *b
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeBackupStore) ListByServer(ctx context.Context, serverID string, opts store.ListOptions) ([]model.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Backup
	for _, b := range f.byID {
		if b.ServerID == serverID {
			out = append(out, *b)
		}
	}
	return out, nil
}

// --- scheduled tasks -------------------------------------------------------------

type fakeTaskStore struct {
	mu sync.Mutex
	m  map[string]*model.ScheduledTask
}

func (f *fakeTaskStore) Create(ctx context.Context, t *model.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.m[t.ID] = &cp
	return nil
}

func (f *fakeTaskStore) GetByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) Update(ctx context.Context, t *model.ScheduledTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[t.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *t
	f.m[t.ID] = &cp
	return nil
}

func (f *fakeTaskStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

func (f *fakeTaskStore) ListEnabled(ctx context.Context) ([]model.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ScheduledTask
	for _, t := range f.m {
		if t.Enabled {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) RecordRun(ctx context.Context, id string, ranAt time.Time, status model.TaskStatus, errMsg string, nextRunAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastRunAt = &ranAt
	t.RunCount++
	t.LastStatus = status
	t.LastError = errMsg
	next := nextRunAt
	t.NextRunAt = &next
	return nil
}

// --- alert rules / alerts / deliveries -------------------------------------------

type fakeRuleStore struct {
	mu sync.Mutex
	m  map[string]*model.AlertRule
}

func (f *fakeRuleStore) Create(ctx context.Context, r *model.AlertRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.m[r.ID] = &cp
	return nil
}

func (f *fakeRuleStore) GetByID(ctx context.Context, id string) (*model.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRuleStore) Update(ctx context.Context, r *model.AlertRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.m[r.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	f.m[r.ID] = &cp
	return nil
}

func (f *fakeRuleStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

func (f *fakeRuleStore) ListEnabled(ctx context.Context) ([]model.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AlertRule
	for _, r := range f.m {
		if r.Enabled {
			out = append(out, *r)
		}
	}
	return out, nil
}

type fakeAlertStore struct {
	mu sync.Mutex
	m  map[string]*model.Alert
}

func (f *fakeAlertStore) Create(ctx context.Context, a *model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = a.RuleID + "-" + time.Now().UTC().String()
	}
	cp := *a
	f.m[a.ID] = &cp
	return nil
}

func (f *fakeAlertStore) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAlertStore) FindUnresolvedSince(ctx context.Context, ruleID, serverID, nodeID string, typ model.AlertRuleType, title string, since time.Time) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.m {
		if a.RuleID == ruleID && a.ServerID == serverID && a.NodeID == nodeID && a.Type == typ && a.Title == title && !a.Resolved && !a.CreatedAt.Before(since) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeAlertStore) FindUnresolvedByType(ctx context.Context, serverID, nodeID string, typ model.AlertRuleType) (*model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.m {
		if a.ServerID == serverID && a.NodeID == nodeID && a.Type == typ && !a.Resolved {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeAlertStore) Resolve(ctx context.Context, id string, by string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Resolved = true
	a.ResolvedAt = &at
	a.ResolvedBy = by
	return nil
}

type fakeDeliveryStore struct {
	mu sync.Mutex
	m  map[string]*model.AlertDelivery
}

func (f *fakeDeliveryStore) Create(ctx context.Context, d *model.AlertDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = d.AlertID + "-" + string(d.Channel)
	}
	cp := *d
	f.m[d.ID] = &cp
	return nil
}

func (f *fakeDeliveryStore) UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, attempts int, at time.Time, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.m[id]
	if !ok {
		return store.ErrNotFound
	}
	d.Status = status
	d.Attempts = attempts
	d.LastAttemptAt = &at
	d.LastError = errMsg
	return nil
}

func (f *fakeDeliveryStore) ListRetryable(ctx context.Context, maxAttempts int, cutoff time.Time, limit int) ([]model.AlertDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AlertDelivery
	for _, d := range f.m {
		if d.Status == model.DeliveryFailed && d.Attempts < maxAttempts && (d.LastAttemptAt == nil || d.LastAttemptAt.Before(cutoff)) {
			out = append(out, *d)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDeliveryStore) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	return nil, store.ErrNotFound
}

// --- templates / settings -------------------------------------------------------

type fakeTemplateStore struct {
	mu sync.Mutex
	m  map[string]*model.ServerTemplate
}

func (f *fakeTemplateStore) put(t *model.ServerTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[t.ID] = t
	return nil
}

func (f *fakeTemplateStore) GetByID(ctx context.Context, id string) (*model.ServerTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

type fakeSettingStore struct {
	mu sync.Mutex
	m  map[string]string
}

func (f *fakeSettingStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeSettingStore) GetMany(ctx context.Context, prefix string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeSettingStore) Set(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = value
	return nil
}
