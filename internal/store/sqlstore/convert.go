package sqlstore

import (
	"github.com/timmy-time/catalyst/internal/model"
)

func nodeToModel(n *Node) *model.Node {
	return &model.Node{
		ID:            n.ID.String(),
		Hostname:      n.Hostname,
		PublicAddress: n.PublicAddress,
		Secret:        string(n.Secret),
		IsOnline:      n.IsOnline,
		LastSeenAt:    n.LastSeenAt,
		MaxMemoryMB:   n.MaxMemoryMB,
		MaxCPUCores:   n.MaxCPUCores,
		LocationID:    n.LocationID,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func nodeFromModel(m *model.Node) *Node {
	n := &Node{
		Hostname:      m.Hostname,
		PublicAddress: m.PublicAddress,
		Secret:        EncryptedString(m.Secret),
		IsOnline:      m.IsOnline,
		LastSeenAt:    m.LastSeenAt,
		MaxMemoryMB:   m.MaxMemoryMB,
		MaxCPUCores:   m.MaxCPUCores,
		LocationID:    m.LocationID,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			n.ID = id
		}
	}
	return n
}

func serverToModel(s *Server) *model.Server {
	return &model.Server{
		ID:                s.ID.String(),
		UUID:              s.UUID,
		OwnerID:           s.OwnerID,
		NodeID:            s.NodeID,
		TemplateID:        s.TemplateID,
		Status:            model.ServerStatus(s.Status),
		AllocatedMemoryMB: s.AllocatedMemoryMB,
		AllocatedCPUCores: s.AllocatedCPUCores,
		AllocatedDiskMB:   s.AllocatedDiskMB,
		PrimaryIP:         s.PrimaryIP,
		PrimaryPort:       s.PrimaryPort,
		PortBindings:      map[string]string(s.PortBindings),
		NetworkMode:       s.NetworkMode,
		Environment:       map[string]string(s.Environment),
		RestartPolicy:     model.RestartPolicy(s.RestartPolicy),
		CrashCount:        s.CrashCount,
		MaxCrashCount:     s.MaxCrashCount,
		LastCrashAt:       s.LastCrashAt,
		SuspendedAt:       s.SuspendedAt,
		SuspensionReason:  s.SuspensionReason,
		ContainerID:       s.ContainerID,
		ContainerName:     s.ContainerName,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func serverFromModel(m *model.Server) *Server {
	s := &Server{
		UUID:              m.UUID,
		OwnerID:           m.OwnerID,
		NodeID:            m.NodeID,
		TemplateID:        m.TemplateID,
		Status:            string(m.Status),
		AllocatedMemoryMB: m.AllocatedMemoryMB,
		AllocatedCPUCores: m.AllocatedCPUCores,
		AllocatedDiskMB:   m.AllocatedDiskMB,
		PrimaryIP:         m.PrimaryIP,
		PrimaryPort:       m.PrimaryPort,
		PortBindings:      stringMap(m.PortBindings),
		NetworkMode:       m.NetworkMode,
		Environment:       stringMap(m.Environment),
		RestartPolicy:     string(m.RestartPolicy),
		CrashCount:        m.CrashCount,
		MaxCrashCount:     m.MaxCrashCount,
		LastCrashAt:       m.LastCrashAt,
		SuspendedAt:       m.SuspendedAt,
		SuspensionReason:  m.SuspensionReason,
		ContainerID:       m.ContainerID,
		ContainerName:     m.ContainerName,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			s.ID = id
		}
	}
	return s
}

func backupToModel(b *Backup) *model.Backup {
	return &model.Backup{
		ID:         b.ID.String(),
		ServerID:   b.ServerID,
		Name:       b.Name,
		Path:       b.Path,
		SizeMB:     b.SizeMB,
		Checksum:   b.Checksum,
		Storage:    model.StorageMode(b.Storage),
		Metadata:   map[string]any(b.Metadata),
		CreatedAt:  b.CreatedAt,
		RestoredAt: b.RestoredAt,
	}
}

func backupFromModel(m *model.Backup) *Backup {
	b := &Backup{
		ServerID:   m.ServerID,
		Name:       m.Name,
		Path:       m.Path,
		SizeMB:     m.SizeMB,
		Checksum:   m.Checksum,
		Storage:    string(m.Storage),
		Metadata:   anyMap(m.Metadata),
		RestoredAt: m.RestoredAt,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			b.ID = id
		}
	}
	return b
}

func taskToModel(t *ScheduledTask) *model.ScheduledTask {
	return &model.ScheduledTask{
		ID:         t.ID.String(),
		ServerID:   t.ServerID,
		Name:       t.Name,
		Schedule:   t.Schedule,
		Action:     model.TaskAction(t.Action),
		Payload:    map[string]any(t.Payload),
		Enabled:    t.Enabled,
		LastRunAt:  t.LastRunAt,
		NextRunAt:  t.NextRunAt,
		RunCount:   t.RunCount,
		LastStatus: model.TaskStatus(t.LastStatus),
		LastError:  t.LastError,
	}
}

func taskFromModel(m *model.ScheduledTask) *ScheduledTask {
	t := &ScheduledTask{
		ServerID:   m.ServerID,
		Name:       m.Name,
		Schedule:   m.Schedule,
		Action:     string(m.Action),
		Payload:    anyMap(m.Payload),
		Enabled:    m.Enabled,
		LastRunAt:  m.LastRunAt,
		NextRunAt:  m.NextRunAt,
		RunCount:   m.RunCount,
		LastStatus: string(m.LastStatus),
		LastError:  m.LastError,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			t.ID = id
		}
	}
	return t
}

func ruleToModel(r *AlertRule) *model.AlertRule {
	return &model.AlertRule{
		ID:          r.ID.String(),
		UserID:      r.UserID,
		Name:        r.Name,
		Description: r.Description,
		Type:        model.AlertRuleType(r.Type),
		Target:      model.AlertTarget(r.Target),
		TargetID:    r.TargetID,
		Conditions: model.AlertRuleConditions{
			CPUThreshold:      r.CPUThreshold,
			MemoryThreshold:   r.MemoryThreshold,
			DiskThreshold:     r.DiskThreshold,
			OfflineThresholdS: r.OfflineThresholdS,
			CooldownMinutes:   r.CooldownMinutes,
		},
		Actions: model.AlertRuleActions{
			Webhooks:    []string(r.ActionWebhooks),
			Emails:      []string(r.ActionEmails),
			NotifyOwner: r.ActionNotifyOwner,
		},
		Enabled: r.Enabled,
	}
}

func alertToModel(a *Alert) *model.Alert {
	return &model.Alert{
		ID:         a.ID.String(),
		RuleID:     a.RuleID,
		UserID:     a.UserID,
		ServerID:   a.ServerID,
		NodeID:     a.NodeID,
		Type:       model.AlertRuleType(a.Type),
		Severity:   model.AlertSeverity(a.Severity),
		Title:      a.Title,
		Message:    a.Message,
		Metadata:   map[string]any(a.Metadata),
		CreatedAt:  a.CreatedAt,
		Resolved:   a.Resolved,
		ResolvedAt: a.ResolvedAt,
		ResolvedBy: a.ResolvedBy,
	}
}

func alertFromModel(m *model.Alert) *Alert {
	a := &Alert{
		RuleID:     m.RuleID,
		UserID:     m.UserID,
		ServerID:   m.ServerID,
		NodeID:     m.NodeID,
		Type:       string(m.Type),
		Severity:   string(m.Severity),
		Title:      m.Title,
		Message:    m.Message,
		Metadata:   anyMap(m.Metadata),
		Resolved:   m.Resolved,
		ResolvedAt: m.ResolvedAt,
		ResolvedBy: m.ResolvedBy,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			a.ID = id
		}
	}
	return a
}

func deliveryToModel(d *AlertDelivery) *model.AlertDelivery {
	return &model.AlertDelivery{
		ID:            d.ID.String(),
		AlertID:       d.AlertID,
		Channel:       model.DeliveryChannel(d.Channel),
		Target:        d.Target,
		Status:        model.DeliveryStatus(d.Status),
		Attempts:      d.Attempts,
		LastAttemptAt: d.LastAttemptAt,
		LastError:     d.LastError,
	}
}

func deliveryFromModel(m *model.AlertDelivery) *AlertDelivery {
	d := &AlertDelivery{
		AlertID:       m.AlertID,
		Channel:       string(m.Channel),
		Target:        m.Target,
		Status:        string(m.Status),
		Attempts:      m.Attempts,
		LastAttemptAt: m.LastAttemptAt,
		LastError:     m.LastError,
	}
	if m.ID != "" {
		if id, err := parseUUID(m.ID); err == nil {
			d.ID = id
		}
	}
	return d
}
