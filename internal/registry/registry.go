// Package registry implements the Connection Registry (spec §2, §5): two
// indexed, concurrency-safe tables tracking which agents and which clients
// currently hold a live duplex connection. It holds socket handles behind a
// narrow Sender interface so it never depends on the gateway's transport.
package registry

import (
	"sync"
	"time"
)

// Sender is the narrow capability the registry needs from a live connection
// to forward a frame, without depending on the concrete transport (spec §9
// design note on narrow interfaces to break cyclic coupling).
type Sender interface {
	// Send enqueues payload for delivery on this connection's write pump.
	// It must never block the caller on a slow peer; implementations return
	// immediately and drop/disconnect on overflow.
	Send(payload []byte) error
	Close() error
}

// AgentEntry is one connected node agent.
type AgentEntry struct {
	NodeID        string
	Conn          Sender
	LastHeartbeat time.Time
}

// ClientEntry is one connected user client.
type ClientEntry struct {
	SessionID string
	UserID    string
	Conn      Sender
}

// Registry holds the agent and client connection tables. Reads (fan-out
// audience computation, heartbeat sweep) take an RLock and copy only what
// they need before releasing it; writes (register/unregister) take the
// full Lock — mirroring the single-writer Hub pattern this package is
// grounded on.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]*AgentEntry  // keyed by node id
	clients map[string]*ClientEntry // keyed by ephemeral session id
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		agents:  make(map[string]*AgentEntry),
		clients: make(map[string]*ClientEntry),
	}
}

// RegisterAgent records a live agent connection for a node, superseding
// (closing) any prior connection for the same node id (spec §3 invariant 2:
// at most one live agent connection per node).
func (r *Registry) RegisterAgent(nodeID string, conn Sender, now time.Time) {
	r.mu.Lock()
	prev := r.agents[nodeID]
	r.agents[nodeID] = &AgentEntry{NodeID: nodeID, Conn: conn, LastHeartbeat: now}
	r.mu.Unlock()

	if prev != nil && prev.Conn != conn {
		_ = prev.Conn.Close()
	}
}

// UnregisterAgent removes the agent entry for nodeID if it is still the one
// holding conn (a stale unregister from a superseded connection is a no-op).
func (r *Registry) UnregisterAgent(nodeID string, conn Sender) (removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[nodeID]; ok && e.Conn == conn {
		delete(r.agents, nodeID)
		return true
	}
	return false
}

// TouchHeartbeat updates the last-heartbeat timestamp for a connected agent.
func (r *Registry) TouchHeartbeat(nodeID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[nodeID]; ok {
		e.LastHeartbeat = at
	}
}

// AgentConn returns the live connection for nodeID, if any.
func (r *Registry) AgentConn(nodeID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[nodeID]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// StaleAgents returns the node ids of every agent whose last heartbeat is
// older than cutoff, for the periodic sweep to close and flag offline.
func (r *Registry) StaleAgents(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []string
	for nodeID, e := range r.agents {
		if e.LastHeartbeat.Before(cutoff) {
			stale = append(stale, nodeID)
		}
	}
	return stale
}

// RegisterClient records a live client connection under its ephemeral session id.
func (r *Registry) RegisterClient(sessionID, userID string, conn Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[sessionID] = &ClientEntry{SessionID: sessionID, UserID: userID, Conn: conn}
}

// UnregisterClient removes a client connection.
func (r *Registry) UnregisterClient(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, sessionID)
}

// ClientConn returns the live connection for a specific client session, if any.
func (r *Registry) ClientConn(sessionID string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[sessionID]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// ClientsForUsers returns the live connections belonging to any of the given
// user ids. It copies the slice under RLock and releases the lock before
// returning, so sends to individual clients never hold the registry lock
// (spec §5: fan-out MUST NOT block other fan-out targets).
func (r *Registry) ClientsForUsers(userIDs map[string]bool) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Sender
	for _, c := range r.clients {
		if userIDs[c.UserID] {
			out = append(out, c.Conn)
		}
	}
	return out
}

// AgentCount and ClientCount back the ambient connection-count gauges.
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
