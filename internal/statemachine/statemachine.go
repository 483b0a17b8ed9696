// Package statemachine implements the server lifecycle transition table
// (spec §4.2) as a pure, side-effect-free function of current and proposed
// state. It holds no reference to storage, the gateway, or the clock.
package statemachine

import "github.com/timmy-time/catalyst/internal/model"

var transitions = map[model.ServerStatus]map[model.ServerStatus]bool{
	model.StatusStopped: {
		model.StatusInstalling: true,
		model.StatusStarting:   true,
		model.StatusError:      true,
	},
	model.StatusInstalling: {
		model.StatusStopped: true,
		model.StatusError:   true,
	},
	model.StatusStarting: {
		model.StatusRunning: true,
		model.StatusError:   true,
		model.StatusStopped: true,
	},
	model.StatusRunning: {
		model.StatusStopping: true,
		model.StatusCrashed:  true,
		model.StatusError:    true,
	},
	model.StatusStopping: {
		model.StatusStopped: true,
		model.StatusError:   true,
	},
	model.StatusCrashed: {
		model.StatusStarting: true,
		model.StatusStopped:  true,
	},
	model.StatusError: {
		model.StatusStopped: true,
	},
}

// CanTransition reports whether moving a server from "from" to "to" is a
// legal transition per the table in spec §4.2.
func CanTransition(from, to model.ServerStatus) bool {
	if from == to {
		return false
	}
	return transitions[from][to]
}

// CanStart reports whether a server in the given state may receive a start command.
func CanStart(s model.ServerStatus) bool {
	return s == model.StatusStopped || s == model.StatusCrashed
}

// CanStop reports whether a server in the given state may receive a stop command.
func CanStop(s model.ServerStatus) bool {
	return s == model.StatusRunning || s == model.StatusStarting
}

// CanRestart reports whether a server in the given state may receive a restart command.
func CanRestart(s model.ServerStatus) bool {
	return s == model.StatusRunning || s == model.StatusStopped
}

// IsTerminal reports whether a server in the given state requires operator
// or auto-restart intervention to move again.
func IsTerminal(s model.ServerStatus) bool {
	return s == model.StatusError || s == model.StatusCrashed
}

// IsTransitioning reports whether a server is mid-flight between stable states.
func IsTransitioning(s model.ServerStatus) bool {
	return s == model.StatusStarting || s == model.StatusStopping
}
