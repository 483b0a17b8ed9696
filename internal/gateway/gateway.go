// Package gateway implements the Gateway (spec §4.1): the component that
// terminates every agent and client duplex connection, authenticates,
// routes messages, authorizes per-server access, and supervises liveness.
package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/timmy-time/catalyst/internal/clock"
	"github.com/timmy-time/catalyst/internal/correlator"
	"github.com/timmy-time/catalyst/internal/registry"
	"github.com/timmy-time/catalyst/internal/statemachine"
	"github.com/timmy-time/catalyst/internal/store"
)

var errSendBufferFull = errors.New("gateway: send buffer full")

// AgentSender is the narrow capability the Task Scheduler needs from the
// Gateway — dispatch one fire-and-forget command to a node's
// agent — without depending on the concrete Gateway type (spec §9 design
// note on breaking cyclic coupling with narrow interfaces).
type AgentSender interface {
	SendToAgent(nodeID string, msgType MessageType, serverID, requestID string, extra map[string]any) error
	AgentOnline(nodeID string) bool
}

// ClientNotifier is the narrow capability the Alert Engine needs to deliver
// an alert over the existing client fan-out path (spec §4.4.1) instead of
// opening a second delivery mechanism.
type ClientNotifier interface {
	NotifyOwner(ctx context.Context, userID, title, message string) error
}

// LivenessChecker reports whether a supervised subsystem (the Task
// Scheduler, the Alert Engine) has run recently, for /healthz (spec §2.1).
type LivenessChecker interface {
	Alive() bool
}

// Config holds the gateway's tunables (spec §6).
type Config struct {
	HeartbeatTimeout    time.Duration
	HeartbeatSweep      time.Duration
	CrashRestartDelay   time.Duration
	SuspensionEnforced  bool
	BackendExternalAddr string
	ClientJWTPublicKey  any // *rsa.PublicKey, parsed by the caller
	RequestTimeout      time.Duration
}

// Gateway wires the Connection Registry, Request Correlator, Persistence
// Port, and State Machine together behind the wire protocol in spec §4.1.
type Gateway struct {
	cfg   Config
	reg   *registry.Registry
	corr  *correlator.Correlator
	store store.Store
	clk   clock.Clock
	log   *zap.Logger
	mx    *metrics

	restartMu     sync.Mutex
	restartTimers map[string]clock.Timer // keyed by server id, cancellable on early recovery

	livenessMu sync.RWMutex
	liveness   map[string]LivenessChecker // keyed by subsystem name, reported on /healthz

	lastSweep atomic.Int64 // unix nanos of the last completed heartbeat sweep, for /healthz
}

// RegisterLiveness attaches a named subsystem liveness check (e.g. the Task
// Scheduler, the Alert Engine) so /healthz reports it alongside the
// database reachability check.
func (g *Gateway) RegisterLiveness(name string, c LivenessChecker) {
	g.livenessMu.Lock()
	defer g.livenessMu.Unlock()
	g.liveness[name] = c
}

// New constructs a Gateway ready to Start.
func New(cfg Config, st store.Store, clk clock.Clock, log *zap.Logger) *Gateway {
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.HeartbeatSweep == 0 {
		cfg.HeartbeatSweep = 30 * time.Second
	}
	if cfg.CrashRestartDelay == 0 {
		cfg.CrashRestartDelay = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	g := &Gateway{
		cfg:           cfg,
		reg:           registry.New(),
		corr:          correlator.New(),
		store:         st,
		clk:           clk,
		log:           log.Named("gateway"),
		mx:            newMetrics(),
		restartTimers: make(map[string]clock.Timer),
		liveness:      make(map[string]LivenessChecker),
	}
	g.lastSweep.Store(clk.Now().UnixNano())
	return g
}

// Start launches the heartbeat supervision sweep. It returns once ctx is
// cancelled; callers run it in a goroutine.
func (g *Gateway) Start(ctx context.Context) {
	ticker := g.clk.NewTicker(g.cfg.HeartbeatSweep)
	defer ticker.Stop()
	g.lastSweep.Store(g.clk.Now().UnixNano())

	for {
		select {
		case <-ctx.Done():
			g.restartMu.Lock()
			for id, t := range g.restartTimers {
				t.Stop()
				delete(g.restartTimers, id)
			}
			g.restartMu.Unlock()
			return
		case <-ticker.Chan():
			g.sweepHeartbeats(ctx)
			g.lastSweep.Store(g.clk.Now().UnixNano())
		}
	}
}

// agentSupervisionAlive reports whether the heartbeat sweep loop (which
// detects and evicts stale agent connections) has run recently, for
// /healthz's "agent" check.
func (g *Gateway) agentSupervisionAlive() bool {
	last := g.lastSweep.Load()
	if last == 0 {
		return false
	}
	return g.clk.Now().Sub(time.Unix(0, last)) < 3*g.cfg.HeartbeatSweep
}

func (g *Gateway) sweepHeartbeats(ctx context.Context) {
	cutoff := g.clk.Now().Add(-g.cfg.HeartbeatTimeout)
	for _, nodeID := range g.reg.StaleAgents(cutoff) {
		if conn, ok := g.reg.AgentConn(nodeID); ok {
			_ = conn.Close()
			g.reg.UnregisterAgent(nodeID, conn)
		}
		if err := g.store.Nodes().SetOnline(ctx, nodeID, false, g.clk.Now()); err != nil {
			g.log.Warn("failed to mark node offline", zap.String("node_id", nodeID), zap.Error(err))
		}
		g.mx.heartbeatTimeouts.Inc()
		g.log.Warn("agent heartbeat timed out", zap.String("node_id", nodeID))
	}
}

// --- HTTP surface ------------------------------------------------------------

// ServeAgentWS handles GET /ws/agent: admits a node agent connection.
func (g *Gateway) ServeAgentWS(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("nodeId")
	secret := bearerToken(r)
	if nodeID == "" || secret == "" {
		http.Error(w, "missing nodeId or credential", http.StatusUnauthorized)
		return
	}

	node, err := g.store.Nodes().GetByID(r.Context(), nodeID)
	if err != nil {
		http.Error(w, "denied", http.StatusUnauthorized)
		return
	}
	if subtle.ConstantTimeCompare([]byte(node.Secret), []byte(secret)) != 1 {
		http.Error(w, "denied", http.StatusUnauthorized)
		return
	}

	c, err := newConn(w, r, g.log)
	if err != nil {
		g.log.Warn("agent ws upgrade failed", zap.Error(err))
		return
	}

	now := g.clk.Now()
	g.reg.RegisterAgent(nodeID, c, now)
	g.mx.agentsConnected.Set(float64(g.reg.AgentCount()))
	if err := g.store.Nodes().SetOnline(r.Context(), nodeID, true, now); err != nil {
		g.log.Warn("failed to mark node online", zap.String("node_id", nodeID), zap.Error(err))
	}

	c.onMessage = func(data []byte, isBinary bool) {
		g.handleAgentMessage(context.Background(), nodeID, data)
	}
	c.onClose = func() {
		if g.reg.UnregisterAgent(nodeID, c) {
			g.mx.agentsConnected.Set(float64(g.reg.AgentCount()))
			if err := g.store.Nodes().SetOnline(context.Background(), nodeID, false, g.clk.Now()); err != nil {
				g.log.Warn("failed to mark node offline on disconnect", zap.Error(err))
			}
		}
	}

	_ = c.Send(mustMarshal(handshakeResponseMsg{
		Type:           TypeNodeHandshakeResponse,
		Success:        true,
		BackendAddress: g.cfg.BackendExternalAddr,
	}))

	c.run()
}

// ServeClientWS handles GET /ws/client: admits a user client connection.
// The bearer credential is a session JWT issued by the external auth
// provider; the gateway only verifies it (spec §1, §4.1).
func (g *Gateway) ServeClientWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	userID, err := g.verifyClientToken(token)
	if err != nil {
		http.Error(w, "denied", http.StatusUnauthorized)
		return
	}

	c, err := newConn(w, r, g.log)
	if err != nil {
		g.log.Warn("client ws upgrade failed", zap.Error(err))
		return
	}

	sessionID := fmt.Sprintf("%s-%d", userID, g.clk.Now().UnixNano())
	g.reg.RegisterClient(sessionID, userID, c)
	g.mx.clientsConnected.Set(float64(g.reg.ClientCount()))

	c.onMessage = func(data []byte, isBinary bool) {
		g.handleClientMessage(context.Background(), sessionID, userID, data)
	}
	c.onClose = func() {
		g.reg.UnregisterClient(sessionID)
		g.mx.clientsConnected.Set(float64(g.reg.ClientCount()))
	}

	c.run()
}

func (g *Gateway) verifyClientToken(token string) (userID string, err error) {
	if token == "" {
		return "", errors.New("gateway: empty token")
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("gateway: unexpected signing method %v", t.Header["alg"])
		}
		return g.cfg.ClientJWTPublicKey, nil
	})
	if err != nil {
		return "", err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("gateway: token missing subject claim")
	}
	return sub, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// AgentOnline reports whether nodeID currently has a live connection.
func (g *Gateway) AgentOnline(nodeID string) bool {
	_, ok := g.reg.AgentConn(nodeID)
	return ok
}
