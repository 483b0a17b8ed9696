package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/timmy-time/catalyst/internal/model"
)

var allStates = []model.ServerStatus{
	model.StatusStopped,
	model.StatusInstalling,
	model.StatusStarting,
	model.StatusRunning,
	model.StatusStopping,
	model.StatusCrashed,
	model.StatusError,
}

// TestTransitionClosure verifies property 1 from spec §8: for every state s
// and every s' in TRANSITIONS[s], CanTransition allows it, and for every s'
// not in TRANSITIONS[s], CanTransition rejects it.
func TestTransitionClosure(t *testing.T) {
	for _, from := range allStates {
		allowed := transitions[from]
		for _, to := range allStates {
			want := allowed[to]
			got := CanTransition(from, to)
			assert.Equalf(t, want, got, "CanTransition(%s, %s)", from, to)
		}
	}
}

func TestCanTransitionRejectsSelfLoop(t *testing.T) {
	for _, s := range allStates {
		assert.False(t, CanTransition(s, s))
	}
}

func TestDerivedPredicates(t *testing.T) {
	assert.True(t, CanStart(model.StatusStopped))
	assert.True(t, CanStart(model.StatusCrashed))
	assert.False(t, CanStart(model.StatusRunning))

	assert.True(t, CanStop(model.StatusRunning))
	assert.True(t, CanStop(model.StatusStarting))
	assert.False(t, CanStop(model.StatusStopped))

	assert.True(t, CanRestart(model.StatusRunning))
	assert.True(t, CanRestart(model.StatusStopped))
	assert.False(t, CanRestart(model.StatusCrashed))

	assert.True(t, IsTerminal(model.StatusCrashed))
	assert.True(t, IsTerminal(model.StatusError))
	assert.False(t, IsTerminal(model.StatusRunning))

	assert.True(t, IsTransitioning(model.StatusStarting))
	assert.True(t, IsTransitioning(model.StatusStopping))
	assert.False(t, IsTransitioning(model.StatusRunning))
}
