// Package store defines the Persistence Port (spec §6): the abstract
// contract every core component depends on. internal/store/sqlstore is the
// reference adapter; nothing outside that package may import gorm.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/timmy-time/catalyst/internal/model"
)

// ErrNotFound is returned by any lookup that finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ListOptions carries pagination for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// NodeStore covers Node CRUD and the online/offline flip the gateway applies
// on connect/disconnect.
type NodeStore interface {
	Create(ctx context.Context, n *model.Node) error
	GetByID(ctx context.Context, id string) (*model.Node, error)
	Update(ctx context.Context, n *model.Node) error
	SetOnline(ctx context.Context, id string, online bool, lastSeenAt time.Time) error
	List(ctx context.Context, opts ListOptions) ([]model.Node, error)
	ListOfflineSince(ctx context.Context, cutoff time.Time) ([]model.Node, error)
}

// ServerStore covers Server CRUD, lookup by either primary id or the
// externally-visible uuid, and the status/crash bookkeeping fields the
// gateway mutates on every server_state_update.
type ServerStore interface {
	Create(ctx context.Context, s *model.Server) error
	GetByID(ctx context.Context, id string) (*model.Server, error)
	GetByUUIDOrID(ctx context.Context, x string) (*model.Server, error)
	Update(ctx context.Context, s *model.Server) error
	UpdateStatus(ctx context.Context, id string, status model.ServerStatus) error
	RecordCrash(ctx context.Context, id string, at time.Time) error
	ListByNode(ctx context.Context, nodeID string) ([]model.Server, error)
	ListByStatus(ctx context.Context, status model.ServerStatus) ([]model.Server, error)
}

// ServerAccessStore resolves the authorized-audience set for a server.
type ServerAccessStore interface {
	Grant(ctx context.Context, a model.ServerAccess) error
	Revoke(ctx context.Context, userID, serverID string) error
	ListByServer(ctx context.Context, serverID string) ([]model.ServerAccess, error)
	HasAccess(ctx context.Context, userID, serverID string) (bool, error)
}

// ServerLogStore appends console/system log lines.
type ServerLogStore interface {
	Append(ctx context.Context, l model.ServerLog) error
	List(ctx context.Context, serverID string, opts ListOptions) ([]model.ServerLog, error)
}

// ServerMetricsStore appends and reads server resource samples.
type ServerMetricsStore interface {
	Append(ctx context.Context, m model.ServerMetrics) error
	Latest(ctx context.Context, serverID string) (*model.ServerMetrics, error)
}

// NodeMetricsStore appends and reads node resource samples.
type NodeMetricsStore interface {
	Append(ctx context.Context, m model.NodeMetrics) error
	Latest(ctx context.Context, nodeID string) (*model.NodeMetrics, error)
}

// BackupStore covers backup metadata upsert-by-id-or-name semantics
// (spec §4.1 backup_complete handling).
type BackupStore interface {
	Upsert(ctx context.Context, b *model.Backup) error
	GetByID(ctx context.Context, id string) (*model.Backup, error)
	GetByServerAndName(ctx context.Context, serverID, name string) (*model.Backup, error)
	ListByServer(ctx context.Context, serverID string, opts ListOptions) ([]model.Backup, error)
}

// ScheduledTaskStore covers task CRUD plus the reconciliation and post-run
// bookkeeping fields the scheduler mutates every fire (spec §4.3).
type ScheduledTaskStore interface {
	Create(ctx context.Context, t *model.ScheduledTask) error
	GetByID(ctx context.Context, id string) (*model.ScheduledTask, error)
	Update(ctx context.Context, t *model.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	ListEnabled(ctx context.Context) ([]model.ScheduledTask, error)
	RecordRun(ctx context.Context, id string, ranAt time.Time, status model.TaskStatus, errMsg string, nextRunAt time.Time) error
}

// AlertRuleStore covers rule CRUD and the enabled-rule scan the engine runs
// every evaluate pass.
type AlertRuleStore interface {
	Create(ctx context.Context, r *model.AlertRule) error
	GetByID(ctx context.Context, id string) (*model.AlertRule, error)
	Update(ctx context.Context, r *model.AlertRule) error
	Delete(ctx context.Context, id string) error
	ListEnabled(ctx context.Context) ([]model.AlertRule, error)
}

// AlertStore covers alert creation, cooldown-dedup lookup, and resolution.
type AlertStore interface {
	Create(ctx context.Context, a *model.Alert) error
	GetByID(ctx context.Context, id string) (*model.Alert, error)
	// FindUnresolvedSince finds an unresolved alert matching the given
	// dedup key created at or after "since" (spec §4.4 cooldown rule).
	FindUnresolvedSince(ctx context.Context, ruleID, serverID, nodeID string, typ model.AlertRuleType, title string, since time.Time) (*model.Alert, error)
	// FindUnresolvedByType finds any unresolved alert of the given type for
	// the given server or node, regardless of title (used by node_offline
	// and server_crashed, whose titles don't vary).
	FindUnresolvedByType(ctx context.Context, serverID, nodeID string, typ model.AlertRuleType) (*model.Alert, error)
	Resolve(ctx context.Context, id string, by string, at time.Time) error
}

// AlertDeliveryStore covers delivery creation, status updates, and the
// retry-candidate scan.
type AlertDeliveryStore interface {
	Create(ctx context.Context, d *model.AlertDelivery) error
	UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, attempts int, at time.Time, errMsg string) error
	ListRetryable(ctx context.Context, maxAttempts int, cutoff time.Time, limit int) ([]model.AlertDelivery, error)
	GetAlert(ctx context.Context, alertID string) (*model.Alert, error)
}

// ServerTemplateStore is a read-only lookup (spec §3.1); mutation is owned
// by the external REST CRUD surface.
type ServerTemplateStore interface {
	GetByID(ctx context.Context, id string) (*model.ServerTemplate, error)
}

// SettingStore backs the alert engine's webhook/SMTP transport configuration.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetMany(ctx context.Context, prefix string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Store aggregates every port the core depends on. Components take the
// narrowest interface they need rather than this aggregate where practical;
// Store exists so main.go can wire one concrete adapter in one call.
type Store interface {
	Nodes() NodeStore
	Servers() ServerStore
	ServerAccess() ServerAccessStore
	ServerLogs() ServerLogStore
	ServerMetrics() ServerMetricsStore
	NodeMetrics() NodeMetricsStore
	Backups() BackupStore
	ScheduledTasks() ScheduledTaskStore
	AlertRules() AlertRuleStore
	Alerts() AlertStore
	AlertDeliveries() AlertDeliveryStore
	ServerTemplates() ServerTemplateStore
	Settings() SettingStore
	Ping(ctx context.Context) error
	Close() error
}
