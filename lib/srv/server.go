package srv

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/config"
	"github.com/dockpot/dockpot/lib/honeylog"
)

// Wire formats of the channel and global requests the honeypot
// understands, per RFC 4254.
type ptyRequest struct {
	Term     string
	Cols     uint32
	Rows     uint32
	WidthPx  uint32
	HeightPx uint32
	Modes    string
}

type envRequest struct {
	Name  string
	Value string
}

type execRequest struct {
	Command string
}

type subsystemRequest struct {
	Name string
}

type x11Request struct {
	SingleConnection bool
	AuthProtocol     string
	AuthCookie       string
	ScreenNumber     uint32
}

type directTCPIPOpen struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

type portForwardRequest struct {
	Address string
	Port    uint32
}

// connConfig configures one attacker connection's state machine.
type connConfig struct {
	// Config is the frontend configuration.
	Config *config.SSH
	// Conn is the accepted TCP connection.
	Conn net.Conn
	// HostSigner presents the honeypot's host key.
	HostSigner ssh.Signer
	// Session is the logging session of this connection.
	Session honeylog.Session
	// Proxy owns the sandbox side of this connection.
	Proxy *ProxyHandler
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Rand draws the probabilistic auth verdict, defaults to math/rand.
	Rand func(n int) int
	// Log is the logger, defaults to the SSH server component.
	Log *log.Entry
	// HandshakeDone is invoked once the SSH handshake has resolved
	// either way. Used to bound handshake concurrency.
	HandshakeDone func()
}

func (c *connConfig) checkAndSetDefaults() error {
	if c.Config == nil {
		return trace.BadParameter("missing frontend configuration")
	}
	if c.Conn == nil {
		return trace.BadParameter("missing TCP connection")
	}
	if c.HostSigner == nil {
		return trace.BadParameter("missing host signer")
	}
	if c.Session == nil {
		return trace.BadParameter("missing logging session")
	}
	if c.Proxy == nil {
		return trace.BadParameter("missing proxy handler")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Rand == nil {
		c.Rand = rand.Intn
	}
	if c.Log == nil {
		c.Log = log.WithField(dockpot.Component, dockpot.ComponentSSHServer)
	}
	if c.HandshakeDone == nil {
		c.HandshakeDone = func() {}
	}
	return nil
}

// conn is the SSH server state machine of one attacker connection. It
// performs the handshake, gates password auth, dispatches channels and
// requests, and mirrors everything worth mirroring onto the proxy
// handler. The supervisor observes it through Active, OpenChannels and
// LastActivity and tears it down through CloseTransport and Close.
type conn struct {
	cfg connConfig

	mu       sync.Mutex
	sconn    *ssh.ServerConn
	user     string
	password string
	begun    bool

	active       atomic.Bool
	lastActivity atomic.Int64
	openChannels atomic.Int32
	nextChannel  atomic.Uint32
}

func newConn(cfg connConfig) (*conn, error) {
	if err := cfg.checkAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	c := &conn{cfg: cfg}
	c.active.Store(true)
	c.stampActivity()
	// Pump traffic counts as session activity.
	cfg.Proxy.cfg.OnActivity = c.stampActivity
	return c, nil
}

// serve runs the connection to completion: handshake, then channel and
// request dispatch until the transport dies. Blocks for the connection's
// lifetime; session teardown is left to the supervisor, which notices
// the inactive transport.
func (c *conn) serve() {
	serverConfig := &ssh.ServerConfig{
		ServerVersion:    c.cfg.Config.LocalVersion,
		PasswordCallback: c.passwordCallback,
	}
	serverConfig.AddHostKey(c.cfg.HostSigner)

	sconn, chans, reqs, err := ssh.NewServerConn(c.cfg.Conn, serverConfig)
	c.cfg.HandshakeDone()
	if err != nil {
		// Auth attempts before the failure are already in the session,
		// the supervisor commits it when it collects this connection.
		c.cfg.Log.WithError(err).Debug("SSH handshake failed.")
		c.cfg.Conn.Close()
		c.active.Store(false)
		return
	}
	c.mu.Lock()
	c.sconn = sconn
	c.mu.Unlock()
	c.stampActivity()
	c.cfg.Log.Infof("Attacker authenticated as %q with client version %q.",
		sconn.User(), string(sconn.ClientVersion()))

	go c.serveGlobalRequests(reqs)
	for nc := range chans {
		c.stampActivity()
		go c.handleNewChannel(nc)
	}
	sconn.Wait()
	c.active.Store(false)
}

// passwordCallback is invoked by the SSH library for every password auth
// attempt. The first attempt starts the logging session; every attempt
// is recorded whether it passes the gates or not.
func (c *conn) passwordCallback(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	c.stampActivity()
	user, pass := meta.User(), string(password)

	c.mu.Lock()
	if !c.begun {
		c.cfg.Session.SetRemoteVersion(string(meta.ClientVersion()))
		if err := c.cfg.Session.Begin(); err != nil {
			c.mu.Unlock()
			c.cfg.Log.WithError(err).Error("Failed to begin the logging session.")
			return nil, trace.Wrap(err)
		}
		c.begun = true
		c.cfg.Proxy.SessionBegun()
	}
	c.mu.Unlock()

	if err := c.cfg.Session.LogLoginAttempt(user, pass); err != nil {
		c.cfg.Log.WithError(err).Warn("Failed to log a login attempt.")
	}

	if !c.cfg.Config.UsernameAllowed(user) || !c.cfg.Config.PasswordAllowed(pass) {
		c.cfg.Log.Debugf("Rejecting login of %q, credentials fail the allowlist.", user)
		return nil, trace.AccessDenied("permission denied")
	}
	if rate := c.cfg.Config.LoginSuccessRate; rate != -1 {
		if c.cfg.Rand(100) >= rate {
			c.cfg.Log.Debugf("Rejecting login of %q by the success rate draw.", user)
			return nil, trace.AccessDenied("permission denied")
		}
	}

	c.mu.Lock()
	c.user, c.password = user, pass
	c.mu.Unlock()
	return nil, nil
}

func (c *conn) handleNewChannel(nc ssh.NewChannel) {
	switch nc.ChannelType() {
	case "session":
		c.handleSessionChannel(nc)
	case "direct-tcpip":
		c.handleDirectTCPIP(nc)
	default:
		c.cfg.Log.Debugf("Rejecting channel of unsupported type %q.", nc.ChannelType())
		nc.Reject(ssh.Prohibited, "channel type is not supported")
	}
}

func (c *conn) handleSessionChannel(nc ssh.NewChannel) {
	id := c.nextChannel.Add(1) - 1

	c.mu.Lock()
	user, password := c.user, c.password
	c.mu.Unlock()

	if err := c.cfg.Proxy.Connect(context.Background(), user, password); err != nil {
		if trace.IsLimitExceeded(err) {
			c.cfg.Log.Warn("No target system is available, rejecting the session channel.")
		} else {
			c.cfg.Log.WithError(err).Error("Failed to connect to a target system.")
		}
		nc.Reject(ssh.Prohibited, "open failed")
		return
	}
	if err := c.cfg.Proxy.OpenChannel(id); err != nil {
		c.cfg.Log.WithError(err).Error("Failed to open a channel on the target system.")
		nc.Reject(ssh.Prohibited, "open failed")
		return
	}

	ch, reqs, err := nc.Accept()
	if err != nil {
		c.cfg.Log.WithError(err).Warn("Failed to accept a session channel.")
		return
	}
	c.openChannels.Add(1)
	defer func() {
		c.openChannels.Add(-1)
		c.stampActivity()
	}()

	for req := range reqs {
		c.stampActivity()
		ok := c.handleChannelRequest(id, ch, req)
		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

// handleChannelRequest records a channel request and mirrors it onto the
// target system. Returns the verdict to send back to the attacker.
func (c *conn) handleChannelRequest(id uint32, ch ssh.Channel, req *ssh.Request) bool {
	switch req.Type {
	case "pty-req":
		var r ptyRequest
		if err := ssh.Unmarshal(req.Payload, &r); err != nil || !utf8.ValidString(r.Term) {
			c.cfg.Log.Warnf("Discarding a malformed pty-req on channel %v.", id)
			return false
		}
		if err := c.cfg.Session.LogPTYRequest(r.Term, r.Cols, r.Rows, r.WidthPx, r.HeightPx); err != nil {
			c.cfg.Log.WithError(err).Warn("Failed to log a pty request.")
		}
		return c.forward(id, req)

	case "env":
		var r envRequest
		if err := ssh.Unmarshal(req.Payload, &r); err != nil ||
			!utf8.ValidString(r.Name) || !utf8.ValidString(r.Value) {
			c.cfg.Log.Warnf("Discarding a malformed env request on channel %v.", id)
			return false
		}
		if err := c.cfg.Session.LogEnvRequest(id, r.Name, r.Value); err != nil {
			c.cfg.Log.WithError(err).Warn("Failed to log an env request.")
		}
		return c.forward(id, req)

	case "shell":
		if err := c.cfg.Proxy.StartShell(id, ch); err != nil {
			c.cfg.Log.WithError(err).Warn("Failed to start a shell on the target system.")
			return false
		}
		return true

	case "exec":
		var r execRequest
		if err := ssh.Unmarshal(req.Payload, &r); err != nil || !utf8.ValidString(r.Command) {
			c.cfg.Log.Warnf("Discarding a malformed exec request on channel %v.", id)
			return false
		}
		if err := c.cfg.Proxy.StartExec(id, ch, r.Command); err != nil {
			c.cfg.Log.WithError(err).Warn("Failed to run a command on the target system.")
			return false
		}
		return true

	case "subsystem":
		var r subsystemRequest
		if err := ssh.Unmarshal(req.Payload, &r); err != nil || !utf8.ValidString(r.Name) {
			c.cfg.Log.Warnf("Discarding a malformed subsystem request on channel %v.", id)
			return false
		}
		if err := c.cfg.Proxy.StartSubsystem(id, ch, r.Name); err != nil {
			c.cfg.Log.WithError(err).Warnf("Failed to start subsystem %q on the target system.", r.Name)
			return false
		}
		return true

	case "x11-req":
		var r x11Request
		if err := ssh.Unmarshal(req.Payload, &r); err != nil || !utf8.ValidString(r.AuthProtocol) {
			c.cfg.Log.Warnf("Discarding a malformed x11-req on channel %v.", id)
			return false
		}
		if err := c.cfg.Session.LogX11Request(id, r.SingleConnection, r.AuthProtocol,
			[]byte(r.AuthCookie), r.ScreenNumber); err != nil {
			c.cfg.Log.WithError(err).Warn("Failed to log an x11 request.")
		}
		return c.forward(id, req)

	case "window-change", "signal":
		return c.forward(id, req)

	default:
		c.cfg.Log.Debugf("Ignoring channel request of unsupported type %q.", req.Type)
		return false
	}
}

func (c *conn) forward(id uint32, req *ssh.Request) bool {
	ok, err := c.cfg.Proxy.Forward(id, req.Type, req.WantReply, req.Payload)
	if err != nil {
		c.cfg.Log.WithError(err).Warnf("Failed to forward a %v request to the target system.", req.Type)
		return false
	}
	return ok
}

func (c *conn) handleDirectTCPIP(nc ssh.NewChannel) {
	id := c.nextChannel.Add(1) - 1
	var r directTCPIPOpen
	if err := ssh.Unmarshal(nc.ExtraData(), &r); err != nil {
		c.cfg.Log.Warn("Discarding a malformed direct-tcpip open request.")
	} else if err := c.cfg.Session.LogDirectTCPIPRequest(id, net.ParseIP(r.OrigAddr),
		r.OrigPort, r.DestAddr, r.DestPort); err != nil {
		c.cfg.Log.WithError(err).Warn("Failed to log a direct-tcpip request.")
	}
	// Recorded but never granted. A sandbox that relays attacker
	// traffic would make the honeypot an open proxy.
	nc.Reject(ssh.Prohibited, "forwarding is not allowed")
}

func (c *conn) serveGlobalRequests(reqs <-chan *ssh.Request) {
	for req := range reqs {
		c.stampActivity()
		switch req.Type {
		case "tcpip-forward":
			var r portForwardRequest
			if err := ssh.Unmarshal(req.Payload, &r); err != nil {
				c.cfg.Log.Warn("Discarding a malformed tcpip-forward request.")
			} else if err := c.cfg.Session.LogPortForwardRequest(r.Address, r.Port); err != nil {
				c.cfg.Log.WithError(err).Warn("Failed to log a port forward request.")
			}
		default:
			c.cfg.Log.Debugf("Refusing global request of type %q.", req.Type)
		}
		if req.WantReply {
			req.Reply(false, nil)
		}
	}
}

func (c *conn) stampActivity() {
	c.lastActivity.Store(c.cfg.Clock.Now().UnixNano())
}

// Active reports whether the SSH transport is still alive.
func (c *conn) Active() bool {
	return c.active.Load()
}

// OpenChannels returns the number of currently open session channels.
func (c *conn) OpenChannels() int {
	return int(c.openChannels.Load())
}

// LastActivity returns the time of the last observed attacker or target
// system activity.
func (c *conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// CloseTransport severs the TCP connection underneath the SSH transport.
func (c *conn) CloseTransport() error {
	return trace.Wrap(c.cfg.Conn.Close())
}

// Close releases the sandbox side of the connection: the target system
// is yielded and the logging session ended. Idempotent.
func (c *conn) Close() {
	c.cfg.Proxy.Close()
}
