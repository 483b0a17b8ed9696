// Package model defines the entities of the Catalyst data model (spec §3).
// These types are transport- and storage-agnostic: the gateway, scheduler,
// and alert engine all operate on them directly, and internal/store/sqlstore
// is the only package that knows how they map onto a relational schema.
package model

import "time"

// ServerStatus is one of the states in the server lifecycle state machine.
type ServerStatus string

const (
	StatusStopped     ServerStatus = "STOPPED"
	StatusInstalling  ServerStatus = "INSTALLING"
	StatusStarting    ServerStatus = "STARTING"
	StatusRunning     ServerStatus = "RUNNING"
	StatusStopping    ServerStatus = "STOPPING"
	StatusCrashed     ServerStatus = "CRASHED"
	StatusError       ServerStatus = "ERROR"
)

// RestartPolicy governs whether a crashed server is automatically restarted.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartAlways    RestartPolicy = "always"
)

// Permission is a single grant held by a ServerAccess row.
type Permission string

const (
	PermissionServerRead    Permission = "server.read"
	PermissionServerControl Permission = "server.control"
	PermissionServerConsole Permission = "server.console"
)

// LogStream identifies the origin of a ServerLog line.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
	StreamSystem LogStream = "system"
)

// StorageMode identifies where a Backup's payload physically lives.
type StorageMode string

const (
	StorageLocal StorageMode = "local"
	StorageS3    StorageMode = "s3"
	StorageSFTP  StorageMode = "sftp"
)

// TaskAction is the action a ScheduledTask performs when it fires.
type TaskAction string

const (
	ActionStart   TaskAction = "start"
	ActionStop    TaskAction = "stop"
	ActionRestart TaskAction = "restart"
	ActionBackup  TaskAction = "backup"
	ActionCommand TaskAction = "command"
)

// TaskStatus records the outcome of the most recent ScheduledTask run.
type TaskStatus string

const (
	TaskStatusNone    TaskStatus = ""
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
)

// AlertRuleType selects which evaluator handles a rule.
type AlertRuleType string

const (
	AlertTypeResourceThreshold AlertRuleType = "resource_threshold"
	AlertTypeNodeOffline       AlertRuleType = "node_offline"
	AlertTypeServerCrashed     AlertRuleType = "server_crashed"
)

// AlertTarget scopes an AlertRule to the fleet, a single node, or a single server.
type AlertTarget string

const (
	TargetGlobal AlertTarget = "global"
	TargetServer AlertTarget = "server"
	TargetNode   AlertTarget = "node"
)

// AlertSeverity classifies an Alert for display and routing purposes.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// DeliveryChannel is the transport an AlertDelivery was sent over.
type DeliveryChannel string

const (
	ChannelWebhook DeliveryChannel = "webhook"
	ChannelEmail   DeliveryChannel = "email"
)

// DeliveryStatus tracks an individual AlertDelivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Node is a worker host running the Catalyst agent (spec §3).
type Node struct {
	ID              string
	Hostname        string
	PublicAddress   string
	Secret          string
	IsOnline        bool
	LastSeenAt      time.Time
	MaxMemoryMB     int64
	MaxCPUCores     float64
	LocationID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Server is a managed, containerized workload (spec §3).
type Server struct {
	ID                  string
	UUID                string
	OwnerID             string
	NodeID              string
	TemplateID          string
	Status              ServerStatus
	AllocatedMemoryMB   int64
	AllocatedCPUCores   float64
	AllocatedDiskMB     int64
	PrimaryIP           string
	PrimaryPort         int
	PortBindings        map[string]string
	NetworkMode         string
	Environment         map[string]string
	RestartPolicy       RestartPolicy
	CrashCount          int
	MaxCrashCount       int
	LastCrashAt         *time.Time
	SuspendedAt         *time.Time
	SuspensionReason    string
	ContainerID         string
	ContainerName       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ServerAccess grants a non-owner user permissions on a server.
type ServerAccess struct {
	UserID      string
	ServerID    string
	Permissions []Permission
}

// ServerLog is one append-only console/system log line.
type ServerLog struct {
	ID       string
	ServerID string
	Stream   LogStream
	Data     string
	Ts       time.Time
}

// ServerMetrics is one sample of a server's resource usage.
type ServerMetrics struct {
	ServerID        string
	Ts              time.Time
	CPUPercent      float64
	MemoryUsageMB   int64
	DiskUsageMB     int64
	DiskIOMB        int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
}

// NodeMetrics is one sample of a node's aggregate resource usage.
type NodeMetrics struct {
	NodeID          string
	Ts              time.Time
	CPUPercent      float64
	MemoryUsageMB   int64
	MemoryTotalMB   int64
	DiskUsageMB     int64
	DiskTotalMB     int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
	ContainerCount  int
}

// Backup records the metadata of one server backup artifact.
type Backup struct {
	ID         string
	ServerID   string
	Name       string
	Path       string
	SizeMB     int64
	Checksum   string
	Storage    StorageMode
	Metadata   map[string]any
	CreatedAt  time.Time
	RestoredAt *time.Time
}

// ScheduledTask is a cron-driven action against a single server.
type ScheduledTask struct {
	ID         string
	ServerID   string
	Name       string
	Schedule   string
	Action     TaskAction
	Payload    map[string]any
	Enabled    bool
	LastRunAt  *time.Time
	NextRunAt  *time.Time
	RunCount   int
	LastStatus TaskStatus
	LastError  string
}

// AlertRuleConditions holds the threshold fields a resource_threshold rule
// may set. A zero value means "not configured" for that dimension.
type AlertRuleConditions struct {
	CPUThreshold      float64
	MemoryThreshold   float64
	DiskThreshold     float64
	OfflineThresholdS int64
	CooldownMinutes   int
}

// AlertRuleActions lists the delivery targets a triggered rule dispatches to.
type AlertRuleActions struct {
	Webhooks    []string
	Emails      []string
	NotifyOwner bool
}

// AlertRule is a user-managed condition that the alert engine evaluates periodically.
type AlertRule struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Type        AlertRuleType
	Target      AlertTarget
	TargetID    string
	Conditions  AlertRuleConditions
	Actions     AlertRuleActions
	Enabled     bool
}

// Alert is one materialized rule violation.
type Alert struct {
	ID         string
	RuleID     string
	UserID     string
	ServerID   string
	NodeID     string
	Type       AlertRuleType
	Severity   AlertSeverity
	Title      string
	Message    string
	Metadata   map[string]any
	CreatedAt  time.Time
	Resolved   bool
	ResolvedAt *time.Time
	ResolvedBy string
}

// AlertDelivery is the durable record of one attempted alert emission.
type AlertDelivery struct {
	ID            string
	AlertID       string
	Channel       DeliveryChannel
	Target        string
	Status        DeliveryStatus
	Attempts      int
	LastAttemptAt *time.Time
	LastError     string
}

// ServerTemplate is the read-only lookup used to resurrect a crashed server
// (spec §3.1); mutation of templates is owned by the external REST surface.
type ServerTemplate struct {
	ID              string
	Image           string
	StartupCommand  string
	DefaultMemoryMB int64
	DefaultCPUCores float64
	DefaultDiskMB   int64
}

// Setting is a generic namespaced key-value row (spec §3.1), used by the
// alert engine's webhook/SMTP transports so configuration changes take
// effect without a restart.
type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
