// Package sqlstore is the reference Persistence Port adapter (spec §6),
// implemented against GORM over SQLite (default, pure Go) or PostgreSQL.
// Every other package imports internal/store, never this one directly,
// except main.go which wires the concrete adapter in.
package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base is embedded by every row type: a UUIDv7 primary key generated on
// insert if unset, so rows sort chronologically by id without a separate
// created_at index scan.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// stringMap is a map[string]string column stored as JSON text.
type stringMap map[string]string

func (m stringMap) Value() (interface{}, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *stringMap) Scan(value interface{}) error {
	*m = stringMap{}
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, m)
}

// anyMap is a map[string]any column stored as JSON text, used for the free-form
// payload/metadata fields on ScheduledTask, Backup, and Alert.
type anyMap map[string]any

func (m anyMap) Value() (interface{}, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func (m *anyMap) Scan(value interface{}) error {
	*m = anyMap{}
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, m)
}

// stringSlice is a []string column stored as JSON text, used for ServerAccess
// permission grants.
type stringSlice []string

func (s stringSlice) Value() (interface{}, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

func (s *stringSlice) Scan(value interface{}) error {
	*s = stringSlice{}
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Node mirrors model.Node; Secret is encrypted at rest.
type Node struct {
	base
	Hostname      string `gorm:"uniqueIndex;not null"`
	PublicAddress string
	Secret        EncryptedString `gorm:"type:text;not null"`
	IsOnline      bool            `gorm:"not null;default:false"`
	LastSeenAt    time.Time
	MaxMemoryMB   int64
	MaxCPUCores   float64
	LocationID    string
}

// Server mirrors model.Server.
type Server struct {
	base
	UUID              string `gorm:"uniqueIndex;not null"`
	OwnerID           string `gorm:"index;not null"`
	NodeID            string `gorm:"index;not null"`
	TemplateID        string
	Status            string `gorm:"not null;default:'STOPPED'"`
	AllocatedMemoryMB int64
	AllocatedCPUCores float64
	AllocatedDiskMB   int64
	PrimaryIP         string
	PrimaryPort       int
	PortBindings      stringMap `gorm:"type:text"`
	NetworkMode       string
	Environment       stringMap `gorm:"type:text"`
	RestartPolicy     string    `gorm:"not null;default:'on-failure'"`
	CrashCount        int
	MaxCrashCount     int `gorm:"not null;default:5"`
	LastCrashAt       *time.Time
	SuspendedAt       *time.Time
	SuspensionReason  string
	ContainerID       string
	ContainerName     string
}

// ServerAccess grants a non-owner user permissions on a server.
type ServerAccess struct {
	UserID      string      `gorm:"primaryKey"`
	ServerID    string      `gorm:"primaryKey;index"`
	Permissions stringSlice `gorm:"type:text"`
}

// ServerLog is one append-only console/system log line.
type ServerLog struct {
	ID       uuid.UUID `gorm:"type:text;primaryKey"`
	ServerID string    `gorm:"index;not null"`
	Stream   string    `gorm:"not null"`
	Data     string
	Ts       time.Time `gorm:"index;not null"`
}

func (l *ServerLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		l.ID = id
	}
	return nil
}

// ServerMetrics is one sample of a server's resource usage.
type ServerMetrics struct {
	ID             uuid.UUID `gorm:"type:text;primaryKey"`
	ServerID       string    `gorm:"index;not null"`
	Ts             time.Time `gorm:"index;not null"`
	CPUPercent     float64
	MemoryUsageMB  int64
	DiskUsageMB    int64
	DiskIOMB       int64
	NetworkRxBytes int64
	NetworkTxBytes int64
}

func (m *ServerMetrics) BeforeCreate(tx *gorm.DB) error {
	if m.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id
	}
	return nil
}

// NodeMetrics is one sample of a node's aggregate resource usage.
type NodeMetrics struct {
	ID             uuid.UUID `gorm:"type:text;primaryKey"`
	NodeID         string    `gorm:"index;not null"`
	Ts             time.Time `gorm:"index;not null"`
	CPUPercent     float64
	MemoryUsageMB  int64
	MemoryTotalMB  int64
	DiskUsageMB    int64
	DiskTotalMB    int64
	NetworkRxBytes int64
	NetworkTxBytes int64
	ContainerCount int
}

func (m *NodeMetrics) BeforeCreate(tx *gorm.DB) error {
	if m.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id
	}
	return nil
}

// Backup records the metadata of one server backup artifact.
type Backup struct {
	base
	ServerID   string `gorm:"index;not null"`
	Name       string `gorm:"not null"`
	Path       string
	SizeMB     int64
	Checksum   string
	Storage    string `gorm:"not null;default:'local'"`
	Metadata   anyMap `gorm:"type:text"`
	RestoredAt *time.Time
}

// ScheduledTask is a cron-driven action against a single server.
type ScheduledTask struct {
	base
	ServerID   string `gorm:"index;not null"`
	Name       string `gorm:"not null"`
	Schedule   string `gorm:"not null"`
	Action     string `gorm:"not null"`
	Payload    anyMap `gorm:"type:text"`
	Enabled    bool   `gorm:"not null;default:true"`
	LastRunAt  *time.Time
	NextRunAt  *time.Time `gorm:"index"`
	RunCount   int
	LastStatus string
	LastError  string
}

// AlertRule is a user-managed condition the alert engine evaluates periodically.
type AlertRule struct {
	base
	UserID            string `gorm:"index"`
	Name              string `gorm:"not null"`
	Description       string
	Type              string `gorm:"not null"`
	Target            string `gorm:"not null"`
	TargetID          string `gorm:"index"`
	CPUThreshold      float64
	MemoryThreshold   float64
	DiskThreshold     float64
	OfflineThresholdS int64
	CooldownMinutes   int `gorm:"not null;default:5"`
	ActionWebhooks    stringSlice `gorm:"type:text"`
	ActionEmails      stringSlice `gorm:"type:text"`
	ActionNotifyOwner bool
	Enabled           bool `gorm:"not null;default:true"`
}

// Alert is one materialized rule violation.
type Alert struct {
	base
	RuleID     string `gorm:"index"`
	UserID     string `gorm:"index"`
	ServerID   string `gorm:"index"`
	NodeID     string `gorm:"index"`
	Type       string `gorm:"not null"`
	Severity   string `gorm:"not null"`
	Title      string `gorm:"not null"`
	Message    string
	Metadata   anyMap `gorm:"type:text"`
	Resolved   bool   `gorm:"index;not null;default:false"`
	ResolvedAt *time.Time
	ResolvedBy string
}

// AlertDelivery is the durable record of one attempted alert emission.
type AlertDelivery struct {
	base
	AlertID       string `gorm:"index;not null"`
	Channel       string `gorm:"not null"`
	Target        string `gorm:"not null"`
	Status        string `gorm:"index;not null;default:'pending'"`
	Attempts      int
	LastAttemptAt *time.Time
	LastError     string
}

// ServerTemplate is the read-only lookup used to resurrect a crashed server.
type ServerTemplate struct {
	ID              string `gorm:"type:text;primaryKey"`
	Image           string `gorm:"not null"`
	StartupCommand  string
	DefaultMemoryMB int64
	DefaultCPUCores float64
	DefaultDiskMB   int64
}

// Setting is a generic namespaced key-value row; Value is encrypted at rest
// since it carries webhook secrets and SMTP credentials.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     EncryptedString `gorm:"type:text"`
	UpdatedAt time.Time
}
