package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	closed bool
	sent   [][]byte
}

func (f *fakeSender) Send(payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func TestRegisterAgentSupersedesPrior(t *testing.T) {
	r := New()
	first := &fakeSender{}
	second := &fakeSender{}

	r.RegisterAgent("node-1", first, time.Unix(0, 0))
	r.RegisterAgent("node-1", second, time.Unix(1, 0))

	assert.True(t, first.closed, "superseded connection should be closed")
	assert.False(t, second.closed)

	conn, ok := r.AgentConn("node-1")
	require.True(t, ok)
	assert.Same(t, second, conn)
}

func TestUnregisterAgentIgnoresStaleConnection(t *testing.T) {
	r := New()
	first := &fakeSender{}
	second := &fakeSender{}

	r.RegisterAgent("node-1", first, time.Unix(0, 0))
	r.RegisterAgent("node-1", second, time.Unix(1, 0))

	removed := r.UnregisterAgent("node-1", first)
	assert.False(t, removed)

	_, ok := r.AgentConn("node-1")
	assert.True(t, ok, "second connection should still be registered")
}

// TestAudienceExactness verifies property 2 from spec §8: fan-out reaches
// exactly the authorized client set, no superset, no subset.
func TestAudienceExactness(t *testing.T) {
	r := New()
	owner := &fakeSender{}
	grantee := &fakeSender{}
	stranger := &fakeSender{}

	r.RegisterClient("s1", "owner-1", owner)
	r.RegisterClient("s2", "grantee-1", grantee)
	r.RegisterClient("s3", "stranger-1", stranger)

	audience := r.ClientsForUsers(map[string]bool{"owner-1": true, "grantee-1": true})

	assert.Len(t, audience, 2)
	assert.Contains(t, audience, Sender(owner))
	assert.Contains(t, audience, Sender(grantee))
	assert.NotContains(t, audience, Sender(stranger))
}

func TestClientConnLookupBySession(t *testing.T) {
	r := New()
	conn := &fakeSender{}
	r.RegisterClient("s1", "owner-1", conn)

	got, ok := r.ClientConn("s1")
	require.True(t, ok)
	assert.Same(t, conn, got)

	r.UnregisterClient("s1")
	_, ok = r.ClientConn("s1")
	assert.False(t, ok)
}

func TestStaleAgents(t *testing.T) {
	r := New()
	r.RegisterAgent("fresh", &fakeSender{}, time.Unix(100, 0))
	r.RegisterAgent("stale", &fakeSender{}, time.Unix(0, 0))

	stale := r.StaleAgents(time.Unix(50, 0))
	assert.Equal(t, []string{"stale"}, stale)
}
