package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/timmy-time/catalyst/internal/model"
)

// errAgentOffline is returned by SendToAgent when the target node has no
// live connection in the registry.
var errAgentOffline = errors.New("gateway: agent offline")

// maybeAutoRestart implements the crash auto-restart policy (spec §4.2):
// a crashed server is resurrected after CrashRestartDelay if its restart
// policy allows it and it hasn't exceeded its crash budget.
func (g *Gateway) maybeAutoRestart(ctx context.Context, sv *model.Server) {
	if sv.RestartPolicy == model.RestartNever {
		return
	}
	if sv.MaxCrashCount > 0 && sv.CrashCount >= sv.MaxCrashCount {
		g.log.Warn("crash budget exhausted, not auto-restarting",
			zap.String("server_id", sv.ID), zap.Int("crash_count", sv.CrashCount))
		_ = g.store.ServerLogs().Append(ctx, model.ServerLog{
			ServerID: sv.ID, Stream: model.StreamSystem,
			Data: "auto-restart suppressed: crash budget exhausted", Ts: g.clk.Now(),
		})
		return
	}
	if sv.SuspendedAt != nil && g.cfg.SuspensionEnforced {
		return
	}

	g.scheduleRestart(ctx, sv.ID, g.cfg.CrashRestartDelay)
}

// scheduleRestart arms a cancellable timer for serverID. A second call for
// the same server id replaces the prior timer rather than stacking two.
func (g *Gateway) scheduleRestart(ctx context.Context, serverID string, delay time.Duration) {
	g.restartMu.Lock()
	if t, ok := g.restartTimers[serverID]; ok {
		t.Stop()
	}
	timer := g.clk.NewTimer(delay)
	g.restartTimers[serverID] = timer
	g.restartMu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			g.restartMu.Lock()
			delete(g.restartTimers, serverID)
			g.restartMu.Unlock()
			g.fireRestart(context.Background(), serverID)
		}
	}()
}

// cancelPendingRestart stops and forgets any armed restart timer for
// serverID, used when the server recovers or transitions away from
// CRASHED before the delay elapses.
func (g *Gateway) cancelPendingRestart(serverID string) {
	g.restartMu.Lock()
	defer g.restartMu.Unlock()
	if t, ok := g.restartTimers[serverID]; ok {
		t.Stop()
		delete(g.restartTimers, serverID)
	}
}

func (g *Gateway) fireRestart(ctx context.Context, serverID string) {
	sv, err := g.store.Servers().GetByUUIDOrID(ctx, serverID)
	if err != nil {
		return
	}
	if sv.Status != model.StatusCrashed {
		return
	}

	tmpl, err := g.store.ServerTemplates().GetByID(ctx, sv.TemplateID)
	if err != nil {
		g.log.Error("auto-restart: template lookup failed, cannot resurrect server",
			zap.String("server_id", sv.ID), zap.Error(err))
		return
	}

	if !g.AgentOnline(sv.NodeID) {
		g.log.Warn("auto-restart: node offline, deferring", zap.String("server_id", sv.ID))
		return
	}

	extra := map[string]any{
		"image":       tmpl.Image,
		"startupCmd":  tmpl.StartupCommand,
		"environment": sv.Environment,
		"memoryMb":    sv.AllocatedMemoryMB,
		"cpuCores":    sv.AllocatedCPUCores,
		"diskMb":      sv.AllocatedDiskMB,
		"ports":       sv.PortBindings,
		"networkMode": sv.NetworkMode,
	}
	if err := g.SendToAgent(sv.NodeID, TypeStartServer, sv.UUID, "", extra); err != nil {
		g.log.Error("auto-restart: dispatch failed", zap.String("server_id", sv.ID), zap.Error(err))
		return
	}
	_ = g.store.ServerLogs().Append(ctx, model.ServerLog{
		ServerID: sv.ID, Stream: model.StreamSystem, Data: "auto-restart dispatched after crash", Ts: g.clk.Now(),
	})
}
