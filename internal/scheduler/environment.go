package scheduler

import "github.com/timmy-time/catalyst/internal/model"

// serverDir is the agent-side working directory convention for a server,
// keyed by its externally-visible uuid.
func serverDir(sv *model.Server) string {
	return "/srv/catalyst/" + sv.UUID
}

// networkModeNeedsIP reports whether NetworkMode places the server on its
// own address that the agent must be told about explicitly. "host" (and the
// zero value, meaning the agent's default) share the node's network
// namespace and already know their own address.
func networkModeNeedsIP(networkMode string) bool {
	return networkMode != "" && networkMode != "host"
}

// buildTaskEnvironment constructs the environment map sent with every
// dispatched action (spec §4.3): the server's configured environment merged
// with SERVER_DIR, and CATALYST_NETWORK_IP where the network mode requires
// a dedicated address.
func buildTaskEnvironment(sv *model.Server) map[string]string {
	env := make(map[string]string, len(sv.Environment)+2)
	for k, v := range sv.Environment {
		env[k] = v
	}
	env["SERVER_DIR"] = serverDir(sv)
	if networkModeNeedsIP(sv.NetworkMode) && sv.PrimaryIP != "" {
		env["CATALYST_NETWORK_IP"] = sv.PrimaryIP
	}
	return env
}
