package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

// -----------------------------------------------------------------------------
// ServerAccess
// -----------------------------------------------------------------------------

type serverAccessRepo struct{ db *gorm.DB }

func (s *gormStore) ServerAccess() store.ServerAccessStore { return &serverAccessRepo{s.db} }

func (r *serverAccessRepo) Grant(ctx context.Context, a model.ServerAccess) error {
	row := ServerAccess{UserID: a.UserID, ServerID: a.ServerID, Permissions: permsToStrings(a.Permissions)}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return translate("server_access: grant", err)
	}
	return nil
}

func (r *serverAccessRepo) Revoke(ctx context.Context, userID, serverID string) error {
	if err := r.db.WithContext(ctx).
		Delete(&ServerAccess{}, "user_id = ? AND server_id = ?", userID, serverID).Error; err != nil {
		return translate("server_access: revoke", err)
	}
	return nil
}

func (r *serverAccessRepo) ListByServer(ctx context.Context, serverID string) ([]model.ServerAccess, error) {
	var rows []ServerAccess
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&rows).Error; err != nil {
		return nil, translate("server_access: list by server", err)
	}
	out := make([]model.ServerAccess, len(rows))
	for i, row := range rows {
		out[i] = model.ServerAccess{UserID: row.UserID, ServerID: row.ServerID, Permissions: stringsToPerms(row.Permissions)}
	}
	return out, nil
}

func (r *serverAccessRepo) HasAccess(ctx context.Context, userID, serverID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&ServerAccess{}).
		Where("user_id = ? AND server_id = ?", userID, serverID).Count(&count).Error; err != nil {
		return false, translate("server_access: has access", err)
	}
	return count > 0, nil
}

func permsToStrings(p []model.Permission) stringSlice {
	out := make(stringSlice, len(p))
	for i, v := range p {
		out[i] = string(v)
	}
	return out
}

func stringsToPerms(s stringSlice) []model.Permission {
	out := make([]model.Permission, len(s))
	for i, v := range s {
		out[i] = model.Permission(v)
	}
	return out
}

// -----------------------------------------------------------------------------
// ServerLog
// -----------------------------------------------------------------------------

type serverLogRepo struct{ db *gorm.DB }

func (s *gormStore) ServerLogs() store.ServerLogStore { return &serverLogRepo{s.db} }

func (r *serverLogRepo) Append(ctx context.Context, l model.ServerLog) error {
	row := ServerLog{ServerID: l.ServerID, Stream: string(l.Stream), Data: l.Data, Ts: l.Ts}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("server_logs: append", err)
	}
	return nil
}

func (r *serverLogRepo) List(ctx context.Context, serverID string, opts store.ListOptions) ([]model.ServerLog, error) {
	var rows []ServerLog
	q := r.db.WithContext(ctx).Where("server_id = ?", serverID).Order("ts ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("server_logs: list", err)
	}
	out := make([]model.ServerLog, len(rows))
	for i, row := range rows {
		out[i] = model.ServerLog{ID: row.ID.String(), ServerID: row.ServerID, Stream: model.LogStream(row.Stream), Data: row.Data, Ts: row.Ts}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// ServerMetrics
// -----------------------------------------------------------------------------

type serverMetricsRepo struct{ db *gorm.DB }

func (s *gormStore) ServerMetrics() store.ServerMetricsStore { return &serverMetricsRepo{s.db} }

func (r *serverMetricsRepo) Append(ctx context.Context, m model.ServerMetrics) error {
	row := ServerMetrics{
		ServerID: m.ServerID, Ts: m.Ts, CPUPercent: m.CPUPercent, MemoryUsageMB: m.MemoryUsageMB,
		DiskUsageMB: m.DiskUsageMB, DiskIOMB: m.DiskIOMB, NetworkRxBytes: m.NetworkRxBytes, NetworkTxBytes: m.NetworkTxBytes,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("server_metrics: append", err)
	}
	return nil
}

func (r *serverMetricsRepo) Latest(ctx context.Context, serverID string) (*model.ServerMetrics, error) {
	var row ServerMetrics
	if err := r.db.WithContext(ctx).Where("server_id = ?", serverID).Order("ts DESC").First(&row).Error; err != nil {
		return nil, translate("server_metrics: latest", err)
	}
	return &model.ServerMetrics{
		ServerID: row.ServerID, Ts: row.Ts, CPUPercent: row.CPUPercent, MemoryUsageMB: row.MemoryUsageMB,
		DiskUsageMB: row.DiskUsageMB, DiskIOMB: row.DiskIOMB, NetworkRxBytes: row.NetworkRxBytes, NetworkTxBytes: row.NetworkTxBytes,
	}, nil
}

// -----------------------------------------------------------------------------
// NodeMetrics
// -----------------------------------------------------------------------------

type nodeMetricsRepo struct{ db *gorm.DB }

func (s *gormStore) NodeMetrics() store.NodeMetricsStore { return &nodeMetricsRepo{s.db} }

func (r *nodeMetricsRepo) Append(ctx context.Context, m model.NodeMetrics) error {
	row := NodeMetrics{
		NodeID: m.NodeID, Ts: m.Ts, CPUPercent: m.CPUPercent, MemoryUsageMB: m.MemoryUsageMB, MemoryTotalMB: m.MemoryTotalMB,
		DiskUsageMB: m.DiskUsageMB, DiskTotalMB: m.DiskTotalMB, NetworkRxBytes: m.NetworkRxBytes, NetworkTxBytes: m.NetworkTxBytes,
		ContainerCount: m.ContainerCount,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("node_metrics: append", err)
	}
	return nil
}

func (r *nodeMetricsRepo) Latest(ctx context.Context, nodeID string) (*model.NodeMetrics, error) {
	var row NodeMetrics
	if err := r.db.WithContext(ctx).Where("node_id = ?", nodeID).Order("ts DESC").First(&row).Error; err != nil {
		return nil, translate("node_metrics: latest", err)
	}
	return &model.NodeMetrics{
		NodeID: row.NodeID, Ts: row.Ts, CPUPercent: row.CPUPercent, MemoryUsageMB: row.MemoryUsageMB, MemoryTotalMB: row.MemoryTotalMB,
		DiskUsageMB: row.DiskUsageMB, DiskTotalMB: row.DiskTotalMB, NetworkRxBytes: row.NetworkRxBytes, NetworkTxBytes: row.NetworkTxBytes,
		ContainerCount: row.ContainerCount,
	}, nil
}

// -----------------------------------------------------------------------------
// ServerTemplate (read-only lookup)
// -----------------------------------------------------------------------------

type serverTemplateRepo struct{ db *gorm.DB }

func (s *gormStore) ServerTemplates() store.ServerTemplateStore { return &serverTemplateRepo{s.db} }

func (r *serverTemplateRepo) GetByID(ctx context.Context, id string) (*model.ServerTemplate, error) {
	var row ServerTemplate
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("server_templates: get by id", err)
	}
	return &model.ServerTemplate{
		ID: row.ID, Image: row.Image, StartupCommand: row.StartupCommand,
		DefaultMemoryMB: row.DefaultMemoryMB, DefaultCPUCores: row.DefaultCPUCores, DefaultDiskMB: row.DefaultDiskMB,
	}, nil
}

// -----------------------------------------------------------------------------
// Setting
// -----------------------------------------------------------------------------

type settingRepo struct{ db *gorm.DB }

func (s *gormStore) Settings() store.SettingStore { return &settingRepo{s.db} }

func (r *settingRepo) Get(ctx context.Context, key string) (string, error) {
	var row Setting
	if err := r.db.WithContext(ctx).First(&row, "key = ?", key).Error; err != nil {
		return "", translate("settings: get", err)
	}
	return string(row.Value), nil
}

func (r *settingRepo) GetMany(ctx context.Context, prefix string) (map[string]string, error) {
	var rows []Setting
	if err := r.db.WithContext(ctx).Where("key LIKE ?", prefix+"%").Find(&rows).Error; err != nil {
		return nil, translate("settings: get many", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = string(row.Value)
	}
	return out, nil
}

func (r *settingRepo) Set(ctx context.Context, key, value string) error {
	row := Setting{Key: key, Value: EncryptedString(value), UpdatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return translate("settings: set", err)
	}
	return nil
}
