package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRequestJSONResolves verifies property 8 from spec §8: a request whose
// reply arrives within the timeout resolves with the payload.
func TestRequestJSONResolves(t *testing.T) {
	c := New()
	id := NewRequestID()

	go func() {
		time.Sleep(5 * time.Millisecond)
		ok := c.ResolveJSON(id, []byte(`{"ok":true}`))
		assert.True(t, ok)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	payload, err := c.RequestJSON(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(payload))
	assert.False(t, c.Pending(id))
}

// TestRequestJSONTimesOut verifies the no-reply half of property 8: the
// entry is removed and the caller observes ErrTimeout.
func TestRequestJSONTimesOut(t *testing.T) {
	c := New()
	id := NewRequestID()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.RequestJSON(ctx, id)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.Pending(id))
}

func TestRequestBinaryDeliversChunksInOrder(t *testing.T) {
	c := New()
	id := NewRequestID()

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.ResolveChunk(id, []byte("a"), false)
		c.ResolveChunk(id, []byte("b"), false)
		c.ResolveChunk(id, nil, true)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []byte
	err := c.RequestBinary(ctx, id, func(b []byte) error {
		got = append(got, b...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ab", string(got))
}

func TestRequestBinaryAbortsOnError(t *testing.T) {
	c := New()
	id := NewRequestID()

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.ResolveError(id)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := c.RequestBinary(ctx, id, func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrAborted)
}

func TestResolveUnknownRequestIDIsNoop(t *testing.T) {
	c := New()
	assert.False(t, c.ResolveJSON("missing", []byte("x")))
	assert.False(t, c.ResolveChunk("missing", []byte("x"), true))
}
