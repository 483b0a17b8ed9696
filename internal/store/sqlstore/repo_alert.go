package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

// -----------------------------------------------------------------------------
// AlertRule
// -----------------------------------------------------------------------------

type alertRuleRepo struct{ db *gorm.DB }

func (s *gormStore) AlertRules() store.AlertRuleStore { return &alertRuleRepo{s.db} }

func (r *alertRuleRepo) Create(ctx context.Context, rule *model.AlertRule) error {
	row := AlertRule{
		UserID: rule.UserID, Name: rule.Name, Description: rule.Description,
		Type: string(rule.Type), Target: string(rule.Target), TargetID: rule.TargetID,
		CPUThreshold: rule.Conditions.CPUThreshold, MemoryThreshold: rule.Conditions.MemoryThreshold,
		DiskThreshold: rule.Conditions.DiskThreshold, OfflineThresholdS: rule.Conditions.OfflineThresholdS,
		CooldownMinutes: rule.Conditions.CooldownMinutes, ActionWebhooks: stringSlice(rule.Actions.Webhooks),
		ActionEmails: stringSlice(rule.Actions.Emails), ActionNotifyOwner: rule.Actions.NotifyOwner,
		Enabled: rule.Enabled,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate("alert_rules: create", err)
	}
	rule.ID = row.ID.String()
	return nil
}

func (r *alertRuleRepo) GetByID(ctx context.Context, id string) (*model.AlertRule, error) {
	var row AlertRule
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("alert_rules: get by id", err)
	}
	return ruleToModel(&row), nil
}

func (r *alertRuleRepo) Update(ctx context.Context, rule *model.AlertRule) error {
	id, err := parseUUID(rule.ID)
	if err != nil {
		return store.ErrNotFound
	}
	row := AlertRule{
		UserID: rule.UserID, Name: rule.Name, Description: rule.Description,
		Type: string(rule.Type), Target: string(rule.Target), TargetID: rule.TargetID,
		CPUThreshold: rule.Conditions.CPUThreshold, MemoryThreshold: rule.Conditions.MemoryThreshold,
		DiskThreshold: rule.Conditions.DiskThreshold, OfflineThresholdS: rule.Conditions.OfflineThresholdS,
		CooldownMinutes: rule.Conditions.CooldownMinutes, ActionWebhooks: stringSlice(rule.Actions.Webhooks),
		ActionEmails: stringSlice(rule.Actions.Emails), ActionNotifyOwner: rule.Actions.NotifyOwner,
		Enabled: rule.Enabled,
	}
	row.ID = id
	result := r.db.WithContext(ctx).Save(&row)
	if result.Error != nil {
		return translate("alert_rules: update", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *alertRuleRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&AlertRule{}, "id = ?", id)
	if result.Error != nil {
		return translate("alert_rules: delete", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *alertRuleRepo) ListEnabled(ctx context.Context) ([]model.AlertRule, error) {
	var rows []AlertRule
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, translate("alert_rules: list enabled", err)
	}
	out := make([]model.AlertRule, len(rows))
	for i := range rows {
		out[i] = *ruleToModel(&rows[i])
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Alert
// -----------------------------------------------------------------------------

type alertRepo struct{ db *gorm.DB }

func (s *gormStore) Alerts() store.AlertStore { return &alertRepo{s.db} }

func (r *alertRepo) Create(ctx context.Context, a *model.Alert) error {
	row := alertFromModel(a)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("alerts: create", err)
	}
	a.ID = row.ID.String()
	a.CreatedAt = row.CreatedAt
	return nil
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	var row Alert
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, translate("alerts: get by id", err)
	}
	return alertToModel(&row), nil
}

func (r *alertRepo) FindUnresolvedSince(ctx context.Context, ruleID, serverID, nodeID string, typ model.AlertRuleType, title string, since time.Time) (*model.Alert, error) {
	var row Alert
	q := r.db.WithContext(ctx).Where("resolved = ? AND type = ? AND title = ? AND created_at >= ?", false, string(typ), title, since)
	if ruleID != "" {
		q = q.Where("rule_id = ?", ruleID)
	}
	if serverID != "" {
		q = q.Where("server_id = ?", serverID)
	}
	if nodeID != "" {
		q = q.Where("node_id = ?", nodeID)
	}
	if err := q.Order("created_at DESC").First(&row).Error; err != nil {
		return nil, translate("alerts: find unresolved since", err)
	}
	return alertToModel(&row), nil
}

func (r *alertRepo) FindUnresolvedByType(ctx context.Context, serverID, nodeID string, typ model.AlertRuleType) (*model.Alert, error) {
	var row Alert
	q := r.db.WithContext(ctx).Where("resolved = ? AND type = ?", false, string(typ))
	if serverID != "" {
		q = q.Where("server_id = ?", serverID)
	}
	if nodeID != "" {
		q = q.Where("node_id = ?", nodeID)
	}
	if err := q.Order("created_at DESC").First(&row).Error; err != nil {
		return nil, translate("alerts: find unresolved by type", err)
	}
	return alertToModel(&row), nil
}

func (r *alertRepo) Resolve(ctx context.Context, id string, by string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&Alert{}).Where("id = ?", id).Updates(map[string]any{
		"resolved":    true,
		"resolved_at": at,
		"resolved_by": by,
	})
	if result.Error != nil {
		return translate("alerts: resolve", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// AlertDelivery
// -----------------------------------------------------------------------------

type alertDeliveryRepo struct{ db *gorm.DB }

func (s *gormStore) AlertDeliveries() store.AlertDeliveryStore { return &alertDeliveryRepo{s.db} }

func (r *alertDeliveryRepo) Create(ctx context.Context, d *model.AlertDelivery) error {
	row := deliveryFromModel(d)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return translate("alert_deliveries: create", err)
	}
	d.ID = row.ID.String()
	return nil
}

func (r *alertDeliveryRepo) UpdateStatus(ctx context.Context, id string, status model.DeliveryStatus, attempts int, at time.Time, errMsg string) error {
	result := r.db.WithContext(ctx).Model(&AlertDelivery{}).Where("id = ?", id).Updates(map[string]any{
		"status":          string(status),
		"attempts":        attempts,
		"last_attempt_at": at,
		"last_error":      errMsg,
	})
	if result.Error != nil {
		return translate("alert_deliveries: update status", result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *alertDeliveryRepo) ListRetryable(ctx context.Context, maxAttempts int, cutoff time.Time, limit int) ([]model.AlertDelivery, error) {
	var rows []AlertDelivery
	q := r.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", string(model.DeliveryFailed), maxAttempts).
		Where("last_attempt_at IS NULL OR last_attempt_at < ?", cutoff).
		Limit(limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate("alert_deliveries: list retryable", err)
	}
	out := make([]model.AlertDelivery, len(rows))
	for i := range rows {
		out[i] = *deliveryToModel(&rows[i])
	}
	return out, nil
}

func (r *alertDeliveryRepo) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	var row Alert
	if err := r.db.WithContext(ctx).First(&row, "id = ?", alertID).Error; err != nil {
		return nil, translate("alert_deliveries: get alert", err)
	}
	return alertToModel(&row), nil
}
