// Package alerts implements the Alert Engine (spec §4.4): periodic
// evaluation of alert rules against live metrics and fleet state, cooldown
// dedup, multi-channel dispatch, and durable per-delivery retry.
package alerts

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/timmy-time/catalyst/internal/clock"
	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/store"
)

const (
	evaluateInterval       = 30 * time.Second
	defaultCooldown        = 5 * time.Minute
	defaultOfflineCutoff   = 5 * time.Minute
	retryMaxAttempts       = 3
	retryBackoff           = 5 * time.Minute
	retryBatchSize         = 50
)

// ClientNotifier is the narrow capability the engine needs to deliver an
// alert over a user's connected clients (spec §4.4.1), implemented by the
// Gateway and supplied here to avoid a cyclic package dependency.
type ClientNotifier interface {
	NotifyOwner(ctx context.Context, userID, title, message string) error
}

// Engine evaluates AlertRules and dispatches/retries AlertDeliveries.
type Engine struct {
	rules    store.AlertRuleStore
	alerts   store.AlertStore
	delivery store.AlertDeliveryStore
	servers  store.ServerStore
	nodes    store.NodeStore
	srvm     store.ServerMetricsStore
	nodem    store.NodeMetricsStore
	settings store.SettingStore
	notifier ClientNotifier
	clk      clock.Clock
	log      *zap.Logger

	webhook *webhookSender
	email   *emailSender

	lastCycle atomic.Int64 // unix nanos of the last completed evaluate+retry cycle
}

// Alive reports whether the engine has completed an evaluate/retry cycle
// recently, for the gateway's /healthz endpoint.
func (e *Engine) Alive() bool {
	last := e.lastCycle.Load()
	if last == 0 {
		return false
	}
	return e.clk.Now().Sub(time.Unix(0, last)) < 3*evaluateInterval
}

// Deps bundles the Engine's persistence and collaborator dependencies.
type Deps struct {
	Rules    store.AlertRuleStore
	Alerts   store.AlertStore
	Delivery store.AlertDeliveryStore
	Servers  store.ServerStore
	Nodes    store.NodeStore
	ServerMx store.ServerMetricsStore
	NodeMx   store.NodeMetricsStore
	Settings store.SettingStore
	Notifier ClientNotifier
}

// New constructs an Engine ready to Start.
func New(d Deps, clk clock.Clock, log *zap.Logger) *Engine {
	e := &Engine{
		rules: d.Rules, alerts: d.Alerts, delivery: d.Delivery,
		servers: d.Servers, nodes: d.Nodes, srvm: d.ServerMx, nodem: d.NodeMx,
		settings: d.Settings, notifier: d.Notifier, clk: clk, log: log.Named("alerts"),
		webhook: newWebhookSender(), email: newEmailSender(),
	}
	e.lastCycle.Store(clk.Now().UnixNano())
	return e
}

// Start runs the evaluate-then-retry cycle every 30s until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	ticker := e.clk.NewTicker(evaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.evaluate(ctx)
			e.retry(ctx)
			e.lastCycle.Store(e.clk.Now().UnixNano())
		}
	}
}

// evaluate implements spec §4.4's Evaluate pass over every enabled rule.
func (e *Engine) evaluate(ctx context.Context) {
	rules, err := e.rules.ListEnabled(ctx)
	if err != nil {
		e.log.Error("failed to list enabled alert rules", zap.Error(err))
		return
	}

	for _, r := range rules {
		switch r.Type {
		case model.AlertTypeResourceThreshold:
			e.evaluateResourceThreshold(ctx, r)
		case model.AlertTypeNodeOffline:
			e.evaluateNodeOffline(ctx, r)
		case model.AlertTypeServerCrashed:
			e.evaluateServerCrashed(ctx, r)
		default:
			e.log.Warn("unknown alert rule type", zap.String("rule_id", r.ID), zap.String("type", string(r.Type)))
		}
	}
}

func (e *Engine) evaluateResourceThreshold(ctx context.Context, r model.AlertRule) {
	switch r.Target {
	case model.TargetServer:
		e.evaluateServerThreshold(ctx, r)
	case model.TargetNode:
		e.evaluateNodeThreshold(ctx, r)
	case model.TargetGlobal:
		servers, err := e.servers.ListByStatus(ctx, model.StatusRunning)
		if err != nil {
			e.log.Warn("failed to list running servers for global threshold rule", zap.Error(err))
			return
		}
		for _, sv := range servers {
			scoped := r
			scoped.TargetID = sv.ID
			e.evaluateServerThreshold(ctx, scoped)
		}
	}
}

func (e *Engine) evaluateServerThreshold(ctx context.Context, r model.AlertRule) {
	sv, err := e.servers.GetByUUIDOrID(ctx, r.TargetID)
	if err != nil {
		return
	}
	m, err := e.srvm.Latest(ctx, sv.ID)
	if err != nil {
		return
	}

	check := func(dimension string, threshold, value float64, used int64) {
		if threshold <= 0 || value < threshold {
			return
		}
		title := fmt.Sprintf("%s threshold exceeded on server %s", dimension, sv.ID)
		msg := fmt.Sprintf("%s usage is %.1f%% (%s), threshold is %.1f%%", dimension, value, humanize.Bytes(uint64(used)*1024*1024), threshold)
		e.createAlert(ctx, r, model.SeverityWarning, sv.ID, "", title, msg, map[string]any{"value": value, "threshold": threshold})
	}

	memPct, diskPct := 0.0, 0.0
	if sv.AllocatedMemoryMB > 0 {
		memPct = float64(m.MemoryUsageMB) / float64(sv.AllocatedMemoryMB) * 100
	}
	if sv.AllocatedDiskMB > 0 {
		diskPct = float64(m.DiskUsageMB) / float64(sv.AllocatedDiskMB) * 100
	}

	check("cpu", r.Conditions.CPUThreshold, m.CPUPercent, 0)
	check("memory", r.Conditions.MemoryThreshold, memPct, m.MemoryUsageMB)
	check("disk", r.Conditions.DiskThreshold, diskPct, m.DiskUsageMB)
}

func (e *Engine) evaluateNodeThreshold(ctx context.Context, r model.AlertRule) {
	n, err := e.nodes.GetByID(ctx, r.TargetID)
	if err != nil {
		return
	}
	m, err := e.nodem.Latest(ctx, n.ID)
	if err != nil {
		return
	}

	check := func(dimension string, threshold, value float64, used int64) {
		if threshold <= 0 || value < threshold {
			return
		}
		title := fmt.Sprintf("%s threshold exceeded on node %s", dimension, n.Hostname)
		msg := fmt.Sprintf("%s usage is %.1f%% (%s), threshold is %.1f%%", dimension, value, humanize.Bytes(uint64(used)*1024*1024), threshold)
		e.createAlert(ctx, r, model.SeverityCritical, "", n.ID, title, msg, map[string]any{"value": value, "threshold": threshold})
	}

	memPct, diskPct := 0.0, 0.0
	if m.MemoryTotalMB > 0 {
		memPct = float64(m.MemoryUsageMB) / float64(m.MemoryTotalMB) * 100
	}
	if m.DiskTotalMB > 0 {
		diskPct = float64(m.DiskUsageMB) / float64(m.DiskTotalMB) * 100
	}

	check("cpu", r.Conditions.CPUThreshold, m.CPUPercent, 0)
	check("memory", r.Conditions.MemoryThreshold, memPct, m.MemoryUsageMB)
	check("disk", r.Conditions.DiskThreshold, diskPct, m.DiskUsageMB)
}

func (e *Engine) evaluateNodeOffline(ctx context.Context, r model.AlertRule) {
	cutoff := defaultOfflineCutoff
	if r.Conditions.OfflineThresholdS > 0 {
		cutoff = time.Duration(r.Conditions.OfflineThresholdS) * time.Second
	}

	offline, err := e.nodes.ListOfflineSince(ctx, e.clk.Now().Add(-cutoff))
	if err != nil {
		e.log.Warn("failed to list offline nodes", zap.Error(err))
		return
	}

	for _, n := range offline {
		if r.TargetID != "" && r.TargetID != n.ID {
			continue
		}
		if existing, err := e.alerts.FindUnresolvedByType(ctx, "", n.ID, model.AlertTypeNodeOffline); err == nil && existing != nil {
			continue
		}
		title := fmt.Sprintf("Node offline: %s", n.Hostname)
		msg := fmt.Sprintf("Node %s has not been seen since %s", n.Hostname, humanize.Time(n.LastSeenAt))
		e.createAlert(ctx, r, model.SeverityCritical, "", n.ID, title, msg, nil)
	}
}

func (e *Engine) evaluateServerCrashed(ctx context.Context, r model.AlertRule) {
	crashed, err := e.servers.ListByStatus(ctx, model.StatusCrashed)
	if err != nil {
		e.log.Warn("failed to list crashed servers", zap.Error(err))
		return
	}

	for _, sv := range crashed {
		if r.TargetID != "" && r.TargetID != sv.ID {
			continue
		}
		if existing, err := e.alerts.FindUnresolvedByType(ctx, sv.ID, "", model.AlertTypeServerCrashed); err == nil && existing != nil {
			if sv.LastCrashAt == nil || !existing.CreatedAt.Before(*sv.LastCrashAt) {
				continue
			}
		}
		title := fmt.Sprintf("Server crashed: %s", sv.ID)
		msg := "server transitioned to CRASHED"
		if sv.LastCrashAt != nil {
			msg = fmt.Sprintf("server crashed %s", humanize.Time(*sv.LastCrashAt))
		}
		e.createAlert(ctx, r, model.SeverityCritical, sv.ID, sv.NodeID, title, msg, nil)
	}
}

// createAlert applies the cooldown/dedup rule (spec §4.4) before persisting
// a new Alert and dispatching its rule's configured actions.
func (e *Engine) createAlert(ctx context.Context, r model.AlertRule, severity model.AlertSeverity, serverID, nodeID, title, message string, metadata map[string]any) {
	cooldown := defaultCooldown
	if r.Conditions.CooldownMinutes > 0 {
		cooldown = time.Duration(r.Conditions.CooldownMinutes) * time.Minute
	}

	since := e.clk.Now().Add(-cooldown)
	if existing, err := e.alerts.FindUnresolvedSince(ctx, r.ID, serverID, nodeID, r.Type, title, since); err == nil && existing != nil {
		return
	}

	a := &model.Alert{
		RuleID: r.ID, UserID: r.UserID, ServerID: serverID, NodeID: nodeID,
		Type: r.Type, Severity: severity, Title: title, Message: message,
		Metadata: metadata, CreatedAt: e.clk.Now(),
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		e.log.Error("failed to persist alert", zap.Error(err))
		return
	}

	e.dispatch(ctx, r, a)
}

// dispatch implements spec §4.4's Dispatch pass: one AlertDelivery row per
// configured action, sent and recorded independently of its siblings.
func (e *Engine) dispatch(ctx context.Context, r model.AlertRule, a *model.Alert) {
	for _, url := range r.Actions.Webhooks {
		e.deliverWebhook(ctx, a, url)
	}
	for _, addr := range r.Actions.Emails {
		e.deliverEmail(ctx, a, addr)
	}
	if r.Actions.NotifyOwner && e.notifier != nil {
		if err := e.notifier.NotifyOwner(ctx, r.UserID, a.Title, a.Message); err != nil {
			e.log.Warn("owner notification failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}

func (e *Engine) deliverWebhook(ctx context.Context, a *model.Alert, url string) {
	d := &model.AlertDelivery{AlertID: a.ID, Channel: model.ChannelWebhook, Target: url, Status: model.DeliveryPending}
	if err := e.delivery.Create(ctx, d); err != nil {
		e.log.Error("failed to create webhook delivery record", zap.Error(err))
		return
	}

	secret := loadWebhookSecret(ctx, e.settings)
	err := e.webhook.Send(ctx, url, secret, *a)
	e.recordDeliveryOutcome(ctx, d, err)
}

func (e *Engine) deliverEmail(ctx context.Context, a *model.Alert, addr string) {
	d := &model.AlertDelivery{AlertID: a.ID, Channel: model.ChannelEmail, Target: addr, Status: model.DeliveryPending}
	if err := e.delivery.Create(ctx, d); err != nil {
		e.log.Error("failed to create email delivery record", zap.Error(err))
		return
	}

	cfg, err := loadSMTPConfig(ctx, e.settings)
	if err != nil {
		if err == ErrConfigNotFound {
			e.recordDeliveryOutcome(ctx, d, nil)
			return
		}
		e.recordDeliveryOutcome(ctx, d, err)
		return
	}

	body := a.Message
	if v, ok := a.Metadata["value"].(float64); ok {
		body = fmt.Sprintf("%s (observed %s)", body, humanize.Ftoa(v))
	}
	err = e.email.Send(cfg, []string{addr}, a.Title, body)
	e.recordDeliveryOutcome(ctx, d, err)
}

func (e *Engine) recordDeliveryOutcome(ctx context.Context, d *model.AlertDelivery, sendErr error) {
	status := model.DeliverySent
	errMsg := ""
	if sendErr != nil {
		status = model.DeliveryFailed
		errMsg = sendErr.Error()
	}
	if err := e.delivery.UpdateStatus(ctx, d.ID, status, d.Attempts+1, e.clk.Now(), errMsg); err != nil {
		e.log.Error("failed to update delivery status", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

// retry implements spec §4.4's Retry pass over failed, not-yet-exhausted deliveries.
func (e *Engine) retry(ctx context.Context) {
	cutoff := e.clk.Now().Add(-retryBackoff)
	candidates, err := e.delivery.ListRetryable(ctx, retryMaxAttempts, cutoff, retryBatchSize)
	if err != nil {
		e.log.Error("failed to list retryable deliveries", zap.Error(err))
		return
	}

	for i := range candidates {
		d := candidates[i]
		a, err := e.delivery.GetAlert(ctx, d.AlertID)
		if err != nil {
			e.log.Warn("retry: alert not found for delivery", zap.String("delivery_id", d.ID), zap.Error(err))
			continue
		}

		var sendErr error
		switch d.Channel {
		case model.ChannelWebhook:
			secret := loadWebhookSecret(ctx, e.settings)
			sendErr = e.webhook.Send(ctx, d.Target, secret, *a)
		case model.ChannelEmail:
			cfg, cfgErr := loadSMTPConfig(ctx, e.settings)
			if cfgErr != nil {
				sendErr = cfgErr
				break
			}
			sendErr = e.email.Send(cfg, []string{d.Target}, a.Title, a.Message)
		}

		status := model.DeliverySent
		errMsg := ""
		if sendErr != nil {
			status = model.DeliveryFailed
			errMsg = sendErr.Error()
		}
		if err := e.delivery.UpdateStatus(ctx, d.ID, status, d.Attempts+1, e.clk.Now(), errMsg); err != nil {
			e.log.Error("failed to update delivery status on retry", zap.String("delivery_id", d.ID), zap.Error(err))
		}
	}
}
