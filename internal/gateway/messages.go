package gateway

import (
	"encoding/json"
	"fmt"
)

// MessageType is the discriminator tag carried by every wire frame
// (spec §4.1, §6). Unknown tags are rejected outright, never silently
// ignored and never processed as an untyped payload (spec §9 design note).
type MessageType string

const (
	// Agent → backend
	TypeHeartbeat               MessageType = "heartbeat"
	TypeConsoleOutput           MessageType = "console_output"
	TypeServerStateUpdate       MessageType = "server_state_update"
	TypeResourceStats           MessageType = "resource_stats"
	TypeHealthReport            MessageType = "health_report"
	TypeBackupComplete          MessageType = "backup_complete"
	TypeBackupRestoreComplete   MessageType = "backup_restore_complete"
	TypeBackupDeleteComplete    MessageType = "backup_delete_complete"
	TypeCommandResponse         MessageType = "command_response"
	TypeBackupDownloadResponse  MessageType = "backup_download_response"
	TypeBackupDownloadChunk     MessageType = "backup_download_chunk"

	// Backend → agent
	TypeNodeHandshakeResponse MessageType = "node_handshake_response"
	TypeStartServer           MessageType = "start_server"
	TypeStopServer            MessageType = "stop_server"
	TypeRestartServer         MessageType = "restart_server"
	TypeRunCommand            MessageType = "run_command"
	TypeRunBackup             MessageType = "run_backup"
	TypeConsoleInputRelay     MessageType = "console_input"

	// Client → backend
	TypeServerControl MessageType = "server_control"
	TypeConsoleInput  MessageType = "console_input"

	// Backend → client
	TypeDenied MessageType = "denied"
	TypeError  MessageType = "error"
)

// envelope is the wire shape every frame shares: a type tag plus whatever
// fields that type defines, deferred via RawMessage until the type is known.
type envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"-"`
}

// ErrUnknownMessageType is returned by decodeEnvelope for a frame whose
// "type" field is missing or empty. A non-empty type that matches no known
// MessageType is not an error here; the dispatch switch logs and drops it.
// Neither case is propagated to the remote peer (spec §7).
type ErrUnknownMessageType struct{ Type string }

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("gateway: unknown message type %q", e.Type)
}

// decodeEnvelope extracts the type tag from a raw frame without consuming
// the rest of the payload, so the caller can re-unmarshal into the concrete
// type once it is known.
func decodeEnvelope(raw []byte) (MessageType, error) {
	var e struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", fmt.Errorf("gateway: decode envelope: %w", err)
	}
	if e.Type == "" {
		return "", &ErrUnknownMessageType{Type: ""}
	}
	return e.Type, nil
}

// --- Agent → backend payloads -----------------------------------------------

type heartbeatMsg struct {
	Type MessageType `json:"type"`
}

type consoleOutputMsg struct {
	Type     MessageType `json:"type"`
	ServerID string      `json:"serverId"`
	Stream   string      `json:"stream"`
	Data     string      `json:"data"`
}

type serverStateUpdateMsg struct {
	Type          MessageType `json:"type"`
	ServerID      string      `json:"serverId"`
	State         string      `json:"state"`
	Reason        string      `json:"reason,omitempty"`
	ContainerID   string      `json:"containerId,omitempty"`
	ContainerName string      `json:"containerName,omitempty"`
}

type resourceStatsMsg struct {
	Type           MessageType `json:"type"`
	ServerID       string      `json:"serverId"`
	CPUPercent     float64     `json:"cpuPercent"`
	MemoryUsageMB  int64       `json:"memoryUsageMb"`
	DiskUsageMB    int64       `json:"diskUsageMb"`
	DiskIOMB       int64       `json:"diskIoMb"`
	NetworkRxBytes int64       `json:"networkRxBytes"`
	NetworkTxBytes int64       `json:"networkTxBytes"`
}

type healthReportMsg struct {
	Type           MessageType `json:"type"`
	CPUPercent     float64     `json:"cpuPercent"`
	MemoryUsageMB  int64       `json:"memoryUsageMb"`
	MemoryTotalMB  int64       `json:"memoryTotalMb"`
	DiskUsageMB    int64       `json:"diskUsageMb"`
	DiskTotalMB    int64       `json:"diskTotalMb"`
	NetworkRxBytes int64       `json:"networkRxBytes"`
	NetworkTxBytes int64       `json:"networkTxBytes"`
	ContainerCount int         `json:"containerCount"`
}

type backupCompleteMsg struct {
	Type       MessageType    `json:"type"`
	ServerID   string         `json:"serverId"`
	BackupID   string         `json:"backupId,omitempty"`
	Name       string         `json:"backupName"`
	Path       string         `json:"backupPath"`
	SizeMB     int64          `json:"sizeMb"`
	Checksum   string         `json:"checksum"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type chunkMsg struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	Data      string      `json:"data,omitempty"`
	Done      bool        `json:"done,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type responseMsg struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// --- Backend → agent payloads ------------------------------------------------

type handshakeResponseMsg struct {
	Type           MessageType `json:"type"`
	Success        bool        `json:"success"`
	BackendAddress string      `json:"backendAddress"`
}

type serverCommandMsg struct {
	Type          MessageType       `json:"type"`
	ServerID      string            `json:"serverId"`
	RequestID     string            `json:"requestId,omitempty"`
	Image         string            `json:"image,omitempty"`
	StartupCmd    string            `json:"startupCommand,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`
	MemoryMB      int64             `json:"memoryMb,omitempty"`
	CPUCores      float64           `json:"cpuCores,omitempty"`
	DiskMB        int64             `json:"diskMb,omitempty"`
	Ports         map[string]string `json:"ports,omitempty"`
	NetworkMode   string            `json:"networkMode,omitempty"`
	Command       string            `json:"command,omitempty"`
	Payload       map[string]any    `json:"payload,omitempty"`
}

type consoleInputRelayMsg struct {
	Type     MessageType `json:"type"`
	ServerID string      `json:"serverId"`
	Data     string      `json:"data"`
}

// --- Client → backend payloads -----------------------------------------------

type serverControlMsg struct {
	Type     MessageType `json:"type"`
	ServerID string      `json:"serverId"`
	Action   string      `json:"action"`
}

type consoleInputMsg struct {
	Type     MessageType `json:"type"`
	ServerID string      `json:"serverId"`
	Data     string      `json:"data"`
}

// --- Backend → client payloads -----------------------------------------------

type clientErrorMsg struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// Stable error codes surfaced to clients (spec §6).
const (
	ErrCodeServerNotFound   = "SERVER_NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeNodeOffline      = "NODE_OFFLINE"
)

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every payload above is a plain struct of strings/numbers/maps;
		// a marshal failure here means a logic bug, not a runtime condition.
		panic(fmt.Sprintf("gateway: marshal outbound message: %v", err))
	}
	return b
}
