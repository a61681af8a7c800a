// Package defaults contains default constants for the honeypot frontend
// and the sandbox backend. Everything here can be overridden through the
// environment, see lib/config.
package defaults

import "time"

const (
	// SSHServerPort is the port the honeypot listens on for attackers.
	SSHServerPort = 22

	// SSHLocalVersion is the version banner presented to attackers. It
	// masquerades as dropbear to hide the Go implementation underneath.
	SSHLocalVersion = "SSH-2.0-dropbear_2019.78"

	// SessionTimeout is how long a session with zero open channels may
	// stay idle before the supervisor reaps it.
	SessionTimeout = 600 * time.Second

	// SocketTimeout is the accept loop tick. The listener wakes up this
	// often to observe a cooperative shutdown.
	SocketTimeout = 5 * time.Second

	// MaxUnacceptedConnections is the TCP listen backlog.
	MaxUnacceptedConnections = 100

	// SupervisorPeriod is how often the supervisor sweeps registered
	// sessions for dead transports and idle timeouts.
	SupervisorPeriod = 300 * time.Millisecond

	// ChannelIOBufferSize is the read chunk used by the channel pump in
	// both directions. Channel output events carry at most this many
	// bytes each.
	ChannelIOBufferSize = 1024

	// SandboxConnectRetries is how many times the proxy handler attempts
	// the SSH dial to a freshly acquired sandbox before giving up and
	// yielding it back.
	SandboxConnectRetries = 10

	// BackoffBase is the base duration for exponential backoff. Attempt
	// i sleeps 2^i * BackoffBase.
	BackoffBase = 100 * time.Millisecond

	// HostKeyPath is where the frontend looks for its SSH host key.
	HostKeyPath = "./host.key"
)

const (
	// DBAcquireRetries is how many times the event logger retries
	// borrowing a store connection for a session.
	DBAcquireRetries = 10

	// DBAcquireDeadline is the wall clock bound on connection
	// acquisition, retries included.
	DBAcquireDeadline = 30 * time.Second

	// DBMinConnections is the lower bound of the store connection pool.
	DBMinConnections = 1

	// DBMaxConnections is the upper bound of the store connection pool,
	// and therefore the number of concurrently persisted sessions.
	DBMaxConnections = 10
)

const (
	// HTTPAPIBindAddress is where the backend serves the target system
	// provider RPC.
	HTTPAPIBindAddress = "0.0.0.0:80"

	// TargetSystemImage is the SSH server image run inside each sandbox.
	// It accepts USER_NAME/USER_PASSWORD environment variables.
	TargetSystemImage = "ghcr.io/linuxserver/openssh-server:latest"

	// NetlogImage is the packet capture sidecar image attached to each
	// sandbox's network namespace.
	NetlogImage = "dockpot/netlog:latest"

	// TargetSystemIDPrefix prefixes every sandbox container name.
	TargetSystemIDPrefix = "openssh-server"

	// TargetSystemSSHPort is the in-container SSH port of the sandbox
	// image, mapped to an ephemeral host port by the runtime.
	TargetSystemSSHPort = "2222/tcp"

	// RoleLabel marks every container created by the orchestrator so
	// leaked sandboxes can be found and force removed at shutdown.
	RoleLabel = "se.dockpot.role"

	// RoleTargetSystem is the RoleLabel value of sandbox containers.
	RoleTargetSystem = "target-system"

	// RoleNetlog is the RoleLabel value of capture sidecars.
	RoleNetlog = "netlog"

	// NetlogVolumeSuffix is appended to the sandbox id to name the
	// volume holding the capture file.
	NetlogVolumeSuffix = "_netlog"

	// NetlogPcapPath is where the sidecar writes its capture inside the
	// volume mount.
	NetlogPcapPath = "/netlog/log.pcap"

	// ReadinessProbeCommand reports whether the sandbox's SSH service is
	// up under its s6 init.
	ReadinessProbeCommand = "s6-svstat -u /run/s6/services/openssh-server"

	// ReadinessProbeRetries bounds the readiness poll of a new sandbox.
	ReadinessProbeRetries = 30

	// ReadinessProbePeriod is the delay between readiness probes.
	ReadinessProbePeriod = time.Second
)
