package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/timmy-time/catalyst/internal/model"
	"github.com/timmy-time/catalyst/internal/statemachine"
)

// handleAgentMessage routes one inbound agent frame per the table in spec §4.1.
func (g *Gateway) handleAgentMessage(ctx context.Context, nodeID string, raw []byte) {
	typ, err := decodeEnvelope(raw)
	if err != nil {
		g.log.Warn("dropping malformed agent frame", zap.String("node_id", nodeID), zap.Error(err))
		return
	}

	switch typ {
	case TypeHeartbeat:
		g.reg.TouchHeartbeat(nodeID, g.clk.Now())
		if err := g.store.Nodes().SetOnline(ctx, nodeID, true, g.clk.Now()); err != nil {
			g.log.Warn("heartbeat: failed to persist last_seen_at", zap.Error(err))
		}

	case TypeConsoleOutput:
		var m consoleOutputMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed console_output", zap.Error(err))
			return
		}
		if err := g.store.ServerLogs().Append(ctx, model.ServerLog{
			ServerID: m.ServerID, Stream: model.LogStream(m.Stream), Data: m.Data, Ts: g.clk.Now(),
		}); err != nil {
			g.log.Warn("failed to append server log", zap.Error(err))
		}
		g.fanOutServerEvent(ctx, m.ServerID, raw)

	case TypeServerStateUpdate:
		g.handleServerStateUpdate(ctx, nodeID, raw)

	case TypeResourceStats:
		var m resourceStatsMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed resource_stats", zap.Error(err))
			return
		}
		if _, err := g.store.Servers().GetByUUIDOrID(ctx, m.ServerID); err != nil {
			g.log.Warn("resource_stats for unknown server, dropping", zap.String("server_id", m.ServerID))
			return
		}
		if err := g.store.ServerMetrics().Append(ctx, model.ServerMetrics{
			ServerID: m.ServerID, Ts: g.clk.Now(), CPUPercent: m.CPUPercent, MemoryUsageMB: m.MemoryUsageMB,
			DiskUsageMB: m.DiskUsageMB, DiskIOMB: m.DiskIOMB, NetworkRxBytes: m.NetworkRxBytes, NetworkTxBytes: m.NetworkTxBytes,
		}); err != nil {
			g.log.Warn("failed to append server metrics", zap.Error(err))
		}
		g.fanOutServerEvent(ctx, m.ServerID, raw)

	case TypeHealthReport:
		var m healthReportMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed health_report", zap.Error(err))
			return
		}
		if err := g.store.NodeMetrics().Append(ctx, model.NodeMetrics{
			NodeID: nodeID, Ts: g.clk.Now(), CPUPercent: m.CPUPercent, MemoryUsageMB: m.MemoryUsageMB,
			MemoryTotalMB: m.MemoryTotalMB, DiskUsageMB: m.DiskUsageMB, DiskTotalMB: m.DiskTotalMB,
			NetworkRxBytes: m.NetworkRxBytes, NetworkTxBytes: m.NetworkTxBytes, ContainerCount: m.ContainerCount,
		}); err != nil {
			g.log.Warn("failed to append node metrics", zap.Error(err))
		}

	case TypeBackupComplete:
		var m backupCompleteMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed backup_complete", zap.Error(err))
			return
		}
		b := &model.Backup{
			ID: m.BackupID, ServerID: m.ServerID, Name: m.Name, Path: m.Path,
			SizeMB: m.SizeMB, Checksum: m.Checksum, Storage: model.StorageLocal, Metadata: m.Metadata,
		}
		if err := g.store.Backups().Upsert(ctx, b); err != nil {
			g.log.Warn("failed to upsert backup", zap.Error(err))
			return
		}
		_ = g.store.ServerLogs().Append(ctx, model.ServerLog{
			ServerID: m.ServerID, Stream: model.StreamSystem, Data: "backup completed: " + m.Name, Ts: g.clk.Now(),
		})
		g.fanOutServerEvent(ctx, m.ServerID, raw)

	case TypeBackupRestoreComplete, TypeBackupDeleteComplete:
		var m struct {
			ServerID string `json:"serverId"`
		}
		if err := json.Unmarshal(raw, &m); err == nil {
			g.fanOutServerEvent(ctx, m.ServerID, raw)
		}

	case TypeCommandResponse:
		var m responseMsg
		if err := json.Unmarshal(raw, &m); err == nil && m.RequestID != "" {
			g.corr.ResolveJSON(m.RequestID, raw)
		}

	case TypeBackupDownloadResponse:
		var m responseMsg
		if err := json.Unmarshal(raw, &m); err == nil && m.RequestID != "" && !m.Success {
			g.corr.ResolveError(m.RequestID)
		}

	case TypeBackupDownloadChunk:
		var m chunkMsg
		if err := json.Unmarshal(raw, &m); err != nil || m.RequestID == "" {
			return
		}
		if m.Error != "" {
			g.corr.ResolveError(m.RequestID)
			return
		}
		g.corr.ResolveChunk(m.RequestID, []byte(m.Data), m.Done)

	default:
		g.log.Warn("unknown agent message type, dropping", zap.String("type", string(typ)))
	}
}

func (g *Gateway) handleServerStateUpdate(ctx context.Context, nodeID string, raw []byte) {
	var m serverStateUpdateMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		g.log.Warn("malformed server_state_update", zap.Error(err))
		return
	}

	sv, err := g.store.Servers().GetByUUIDOrID(ctx, m.ServerID)
	if err != nil {
		g.log.Warn("server_state_update for unknown server, dropping", zap.String("server_id", m.ServerID))
		return
	}

	newState := model.ServerStatus(m.State)
	reason := m.Reason
	if !statemachine.CanTransition(sv.Status, newState) {
		// Trust-with-audit (spec §9 open question decision): the agent is
		// the source of truth for current reality, so the new state is
		// still applied, but the invalidity is logged and recorded.
		g.log.Warn("invalid state transition reported by agent",
			zap.String("server_id", sv.ID), zap.String("from", string(sv.Status)), zap.String("to", string(newState)))
		invalid := "Cannot transition from " + string(sv.Status) + " to " + string(newState)
		if reason == "" {
			reason = invalid
		} else {
			reason = invalid + " (" + reason + ")"
		}
	}

	if err := g.store.Servers().UpdateStatus(ctx, sv.ID, newState); err != nil {
		g.log.Error("failed to persist server status, not applying in memory", zap.Error(err))
		return
	}
	if m.ContainerID != "" || m.ContainerName != "" {
		sv.ContainerID, sv.ContainerName = m.ContainerID, m.ContainerName
		_ = g.store.Servers().Update(ctx, sv)
	}

	logLine := "state changed to " + string(newState)
	if reason != "" {
		logLine += ": " + reason
	}
	_ = g.store.ServerLogs().Append(ctx, model.ServerLog{ServerID: sv.ID, Stream: model.StreamSystem, Data: logLine, Ts: g.clk.Now()})

	if newState == model.StatusCrashed {
		at := g.clk.Now()
		if err := g.store.Servers().RecordCrash(ctx, sv.ID, at); err != nil {
			g.log.Error("failed to record crash", zap.Error(err))
		} else {
			sv.CrashCount++
			sv.LastCrashAt = &at
		}
		g.maybeAutoRestart(ctx, sv)
	} else {
		g.cancelPendingRestart(sv.ID)
	}

	g.fanOutServerEvent(ctx, sv.ID, raw)
}

// fanOutServerEvent delivers payload to every client authorized for serverID
// (owner or grantee), computing the audience fresh on every call (spec §4.1
// Fan-out, §8 property 2).
func (g *Gateway) fanOutServerEvent(ctx context.Context, serverID string, payload []byte) {
	sv, err := g.store.Servers().GetByUUIDOrID(ctx, serverID)
	if err != nil {
		return
	}
	audience := map[string]bool{sv.OwnerID: true}
	grants, err := g.store.ServerAccess().ListByServer(ctx, sv.ID)
	if err != nil {
		g.log.Warn("failed to list server access for fan-out", zap.Error(err))
	}
	for _, grant := range grants {
		audience[grant.UserID] = true
	}

	for _, conn := range g.reg.ClientsForUsers(audience) {
		_ = conn.Send(payload)
	}
}

// handleClientMessage routes one inbound client frame per spec §4.1.
func (g *Gateway) handleClientMessage(ctx context.Context, sessionID, userID string, raw []byte) {
	typ, err := decodeEnvelope(raw)
	if err != nil {
		g.log.Warn("dropping malformed client frame", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	switch typ {
	case TypeServerControl:
		var m serverControlMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed server_control", zap.Error(err))
			return
		}
		g.handleServerControl(ctx, sessionID, userID, m)

	case TypeConsoleInput:
		var m consoleInputMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			g.log.Warn("malformed console_input", zap.Error(err))
			return
		}
		g.handleConsoleInput(ctx, sessionID, userID, m)

	default:
		g.log.Warn("unknown client message type, dropping", zap.String("type", string(typ)))
	}
}

func (g *Gateway) authorizeServerAccess(ctx context.Context, userID string, sv *model.Server) bool {
	if sv.OwnerID == userID {
		return true
	}
	ok, err := g.store.ServerAccess().HasAccess(ctx, userID, sv.ID)
	if err != nil {
		g.log.Warn("server access lookup failed", zap.Error(err))
		return false
	}
	return ok
}

func (g *Gateway) replyError(sessionID, code, message string) {
	conn, ok := g.reg.ClientConn(sessionID)
	if !ok {
		return
	}
	_ = conn.Send(mustMarshal(clientErrorMsg{Type: TypeDenied, Code: code, Message: message}))
	g.log.Warn("client request denied", zap.String("session_id", sessionID), zap.String("code", code), zap.String("message", message))
}

func (g *Gateway) handleServerControl(ctx context.Context, sessionID, userID string, m serverControlMsg) {
	sv, err := g.store.Servers().GetByUUIDOrID(ctx, m.ServerID)
	if err != nil {
		g.replyError(sessionID, ErrCodeServerNotFound, "server not found")
		return
	}
	if !g.authorizeServerAccess(ctx, userID, sv) {
		g.replyError(sessionID, ErrCodePermissionDenied, "not authorized for this server")
		return
	}
	if !g.AgentOnline(sv.NodeID) {
		g.replyError(sessionID, ErrCodeNodeOffline, "node is offline")
		return
	}

	var msgType MessageType
	switch m.Action {
	case "start":
		msgType = TypeStartServer
	case "stop":
		msgType = TypeStopServer
	case "restart":
		msgType = TypeRestartServer
	default:
		g.log.Warn("unknown server_control action", zap.String("action", m.Action))
		return
	}

	if err := g.SendToAgent(sv.NodeID, msgType, sv.UUID, "", nil); err != nil {
		g.log.Warn("failed to forward server_control to agent", zap.Error(err))
	}
}

func (g *Gateway) handleConsoleInput(ctx context.Context, sessionID, userID string, m consoleInputMsg) {
	sv, err := g.store.Servers().GetByUUIDOrID(ctx, m.ServerID)
	if err != nil {
		g.replyError(sessionID, ErrCodeServerNotFound, "server not found")
		return
	}
	if !g.authorizeServerAccess(ctx, userID, sv) {
		g.replyError(sessionID, ErrCodePermissionDenied, "not authorized for this server")
		return
	}
	if !g.AgentOnline(sv.NodeID) {
		g.replyError(sessionID, ErrCodeNodeOffline, "node is offline")
		return
	}

	conn, ok := g.reg.AgentConn(sv.NodeID)
	if !ok {
		return
	}
	_ = conn.Send(mustMarshal(consoleInputRelayMsg{Type: TypeConsoleInputRelay, ServerID: sv.UUID, Data: m.Data}))
}

// SendToAgent implements AgentSender: a fire-and-forget command dispatch to
// a node's agent, used by the Task Scheduler and the crash auto-restart policy.
func (g *Gateway) SendToAgent(nodeID string, msgType MessageType, serverID, requestID string, extra map[string]any) error {
	conn, ok := g.reg.AgentConn(nodeID)
	if !ok {
		return errAgentOffline
	}
	msg := serverCommandMsg{Type: msgType, ServerID: serverID, RequestID: requestID, Payload: extra}
	if extra != nil {
		if cmd, ok := extra["command"].(string); ok {
			msg.Command = cmd
		}
	}
	return conn.Send(mustMarshal(msg))
}

// NotifyOwner implements ClientNotifier: fans an alert out to a user's
// connected clients through the existing audience/fan-out path.
func (g *Gateway) NotifyOwner(ctx context.Context, userID, title, message string) error {
	payload := mustMarshal(struct {
		Type    MessageType `json:"type"`
		Title   string      `json:"title"`
		Message string      `json:"message"`
	}{Type: "alert_notification", Title: title, Message: message})

	for _, conn := range g.reg.ClientsForUsers(map[string]bool{userID: true}) {
		_ = conn.Send(payload)
	}
	return nil
}
