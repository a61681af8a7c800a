// Package honeylog records everything observable about an attacker
// session: login attempts, channel requests, reconstructed commands,
// channel output and harvested downloads.
//
// A Session wraps one attacker connection from Begin to End. Stores hand
// out sessions; the console store prints events to the operator log, the
// postgres subpackage persists them transactionally.
package honeylog

import (
	"net"
	"time"
)

// Endpoint identifies the two ends of an attacker connection. Immutable
// for the connection's lifetime.
type Endpoint struct {
	// SrcAddress is the attacker's IP address, v4 or v6.
	SrcAddress net.IP
	// SrcPort is the attacker's TCP port.
	SrcPort int
	// DstAddress is the honeypot's public IP address.
	DstAddress net.IP
	// DstPort is the honeypot's SSH port.
	DstPort int
}

// Download describes a file captured on the sandbox's network, usually
// harvested from the pcap sidecar at yield time.
type Download struct {
	// Timestamp is when the download was observed. Zero means now.
	Timestamp time.Time
	// Data is the file contents.
	Data []byte
	// FileType is the MIME type, application/octet-stream if unknown.
	FileType string
	// SourceAddress is where the file came from.
	SourceAddress net.IP
	// SourceURL is the origin URL when known.
	SourceURL string
	// SaveData stores the bytes themselves; when false only the hash and
	// metadata are kept.
	SaveData bool
}

// Session records the events of one attacker connection. Implementations
// serialize calls internally; callers may log from multiple goroutines.
//
// Lifecycle: SetRemoteVersion must precede Begin, every Log call requires
// a running session, End transitions to ended exactly once. A session
// that is discarded while running is a bug; stores report it as lost
// data when they find out.
type Session interface {
	// SetRemoteVersion records the attacker's SSH version string. Must be
	// called before Begin.
	SetRemoteVersion(version string)

	// Begin starts the logging session. The session id is assigned by the
	// store on first commit.
	Begin() error

	// LogLoginAttempt records a password auth attempt, successful or not.
	LogLoginAttempt(username, password string) error

	// LogPTYRequest records a pty-req with its terminal geometry.
	LogPTYRequest(term string, widthCols, heightRows, widthPx, heightPx uint32) error

	// LogEnvRequest records an env request on a channel.
	LogEnvRequest(channel uint32, name, value string) error

	// LogDirectTCPIPRequest records a direct-tcpip channel open attempt.
	LogDirectTCPIPRequest(channel uint32, originIP net.IP, originPort uint32, destination string, destinationPort uint32) error

	// LogX11Request records an x11-req on a channel.
	LogX11Request(channel uint32, singleConnection bool, authProtocol string, authCookie []byte, screenNumber uint32) error

	// LogPortForwardRequest records a tcpip-forward global request.
	LogPortForwardRequest(address string, port uint32) error

	// LogCommand records one logical command line reconstructed from the
	// attacker's input.
	LogCommand(input string) error

	// LogChannelOutput records bytes the sandbox sent on a channel.
	LogChannelOutput(channel uint32, data []byte) error

	// LogDownload records a file captured on the sandbox's network.
	LogDownload(d Download) error

	// End closes the session and commits it to the store.
	End() error
}

// Store hands out logging sessions.
type Store interface {
	// NewSession creates a session for one attacker connection.
	NewSession(e Endpoint) Session

	// Close releases store resources. Sessions still running at close
	// time are aborted and reported as lost data.
	Close() error
}
