// Package dockpot holds constants shared across the honeypot frontend
// and the sandbox backend.
package dockpot

// Version is the semver of the honeypot, suffixed onto operator-facing logs.
// It is never leaked into the SSH banner, that one is configurable and
// masquerades as a stock server.
const Version = "0.4.2"

const (
	// Component is the name of the logrus field carrying the name of the
	// subsystem that emitted an entry.
	Component = "component"

	// ComponentSessionManager is the accept loop that turns TCP
	// connections into SSH state machines.
	ComponentSessionManager = "ssh:listen"

	// ComponentSSHServer is the per-connection SSH server state machine.
	ComponentSSHServer = "ssh:server"

	// ComponentProxy is the attacker-to-sandbox channel proxy.
	ComponentProxy = "ssh:proxy"

	// ComponentSupervisor is the periodic transport sweep.
	ComponentSupervisor = "ssh:supervisor"

	// ComponentLogger is the event store writer.
	ComponentLogger = "honeylog"

	// ComponentProvider is the target system provider RPC client.
	ComponentProvider = "tsp:client"

	// ComponentBackend is the sandbox orchestrator.
	ComponentBackend = "backend"

	// ComponentNetlog is the pcap harvest pipeline.
	ComponentNetlog = "backend:netlog"
)
