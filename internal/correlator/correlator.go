// Package correlator implements the Request Correlator (spec §4.1, §8
// property 8): matching an agent's reply or binary chunk stream back to the
// outstanding request that triggered it, with per-request timeout.
package correlator

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrTimeout is returned when a pending request's reply does not arrive
// before its deadline.
var ErrTimeout = errors.New("correlator: request timed out")

// ErrAborted is returned when the agent sends an explicit error frame for a
// pending binary stream.
var ErrAborted = errors.New("correlator: remote aborted the request")

type pending struct {
	reply  chan json
	chunks chan chunk
	done   chan struct{}
}

// json is an opaque reply payload; the correlator never inspects its
// contents, only routes it to the waiter that registered the request id.
type json = []byte

type chunk struct {
	data  []byte
	done  bool
	err   error
}

// Correlator tracks pending request ids and resolves them as replies arrive.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
}

// New returns an empty Correlator.
func New() *Correlator {
	return &Correlator{pending: make(map[string]*pending)}
}

// NewRequestID generates a fresh request id for an outgoing message.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestJSON registers requestID as pending and blocks until a matching
// reply arrives via ResolveJSON, ctx is cancelled, or ctx's deadline passes.
// The pending entry is always removed before returning.
func (c *Correlator) RequestJSON(ctx context.Context, requestID string) ([]byte, error) {
	p := &pending{reply: make(chan json, 1), done: make(chan struct{})}

	c.mu.Lock()
	c.pending[requestID] = p
	c.mu.Unlock()

	defer c.remove(requestID)

	select {
	case payload := <-p.reply:
		return payload, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

// RequestBinary registers requestID as pending and delivers each chunk to
// onChunk in arrival order until a terminal chunk (done=true) or error
// arrives, ctx is cancelled, or ctx's deadline passes.
func (c *Correlator) RequestBinary(ctx context.Context, requestID string, onChunk func([]byte) error) error {
	p := &pending{chunks: make(chan chunk, 16), done: make(chan struct{})}

	c.mu.Lock()
	c.pending[requestID] = p
	c.mu.Unlock()

	defer c.remove(requestID)

	for {
		select {
		case ch := <-p.chunks:
			if ch.err != nil {
				return ch.err
			}
			if len(ch.data) > 0 {
				if err := onChunk(ch.data); err != nil {
					return err
				}
			}
			if ch.done {
				return nil
			}
		case <-ctx.Done():
			return ErrTimeout
		}
	}
}

// ResolveJSON delivers payload to the waiter registered for requestID, if any.
func (c *Correlator) ResolveJSON(requestID string, payload []byte) bool {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok || p.reply == nil {
		return false
	}
	select {
	case p.reply <- payload:
		return true
	default:
		return false
	}
}

// ResolveChunk delivers one binary chunk to the waiter registered for requestID.
func (c *Correlator) ResolveChunk(requestID string, data []byte, done bool) bool {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok || p.chunks == nil {
		return false
	}
	select {
	case p.chunks <- chunk{data: data, done: done}:
		return true
	default:
		return false
	}
}

// ResolveError aborts a pending binary stream with ErrAborted.
func (c *Correlator) ResolveError(requestID string) bool {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok || p.chunks == nil {
		return false
	}
	select {
	case p.chunks <- chunk{err: ErrAborted}:
		return true
	default:
		return false
	}
}

// Pending reports whether requestID currently has a registered waiter.
func (c *Correlator) Pending(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[requestID]
	return ok
}

func (c *Correlator) remove(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}
