package srv

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/config"
	"github.com/dockpot/dockpot/lib/defaults"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/tsp"
)

var activeSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "dockpot_active_sessions",
		Help: "Number of attacker sessions currently registered",
	},
)

func init() {
	prometheus.MustRegister(activeSessions)
}

// ServerConfig configures the session manager.
type ServerConfig struct {
	// Config is the frontend configuration.
	Config *config.SSH
	// HostSigner presents the honeypot's host key.
	HostSigner ssh.Signer
	// Provider hands out target systems.
	Provider tsp.Provider
	// Store hands out logging sessions.
	Store honeylog.Store
	// PublicAddress is the honeypot's address as attackers see it,
	// recorded as the destination of every session. Defaults to the
	// local address of each connection.
	PublicAddress net.IP
	// Listener overrides the TCP listener, used in tests. When nil the
	// server listens on the configured port.
	Listener net.Listener
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *ServerConfig) CheckAndSetDefaults() error {
	if c.Config == nil {
		return trace.BadParameter("missing frontend configuration")
	}
	if c.HostSigner == nil {
		return trace.BadParameter("missing host signer")
	}
	if c.Provider == nil {
		return trace.BadParameter("missing target system provider")
	}
	if c.Store == nil {
		return trace.BadParameter("missing event store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Server accepts attacker connections and turns each one into a
// supervised SSH state machine wired to its own logging session and
// proxy handler.
type Server struct {
	cfg      ServerConfig
	registry *Registry
	listener net.Listener
	log      *log.Entry

	// semaphore bounds the number of connections in handshake at once.
	semaphore    chan struct{}
	askedToClose atomic.Bool
	wg           sync.WaitGroup
}

// NewServer returns an unstarted session manager.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	registry := NewRegistry(RegistryConfig{
		Clock:          cfg.Clock,
		SessionTimeout: cfg.Config.SessionTimeout(),
	})
	return &Server{
		cfg:       cfg,
		registry:  registry,
		log:       log.WithField(dockpot.Component, dockpot.ComponentSessionManager),
		semaphore: make(chan struct{}, cfg.Config.MaxUnacceptedConnections),
	}, nil
}

// Start begins listening for attackers and starts the supervisor.
func (s *Server) Start() error {
	if s.cfg.Listener != nil {
		s.listener = s.cfg.Listener
	} else {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%v", s.cfg.Config.ServerPort))
		if err != nil {
			return trace.Wrap(err, "failed to listen on port %v", s.cfg.Config.ServerPort)
		}
		s.listener = listener
	}
	s.registry.Start()
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Infof("Listening for attackers on %v.", s.listener.Addr())
	return nil
}

// Addr returns the listening address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close asks the accept loop to stop, tears every live session down and
// waits for all of it to finish.
func (s *Server) Close() {
	s.askedToClose.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	s.registry.Stop()
	s.wg.Wait()
}

// acceptLoop accepts connections until asked to close. The listener
// deadline makes the loop wake up periodically so a close request is
// observed even when no attacker ever connects.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		if s.askedToClose.Load() {
			return
		}
		if tcp, ok := s.listener.(*net.TCPListener); ok {
			tcp.SetDeadline(s.cfg.Clock.Now().Add(s.cfg.Config.SocketTimeout()))
		}
		tcpConn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.askedToClose.Load() {
				return
			}
			s.log.WithError(err).Error("Failed to accept a connection.")
			return
		}

		select {
		case s.semaphore <- struct{}{}:
		default:
			s.log.Warnf("Too many connections in handshake, dropping %v.", tcpConn.RemoteAddr())
			tcpConn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(tcpConn)
	}
}

// handleConnection wires one accepted connection to a fresh logging
// session and proxy handler and runs it under supervision.
func (s *Server) handleConnection(tcpConn net.Conn) {
	defer s.wg.Done()
	remote := tcpConn.RemoteAddr().String()
	s.log.Infof("Connection from %v.", remote)

	session := s.cfg.Store.NewSession(s.endpointFor(tcpConn))
	proxy, err := NewProxyHandler(ProxyHandlerConfig{
		Provider: s.cfg.Provider,
		Session:  session,
		Clock:    s.cfg.Clock,
		Log:      log.WithField(dockpot.Component, dockpot.ComponentProxy).WithField("remote", remote),
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to set up a proxy handler.")
		tcpConn.Close()
		<-s.semaphore
		return
	}

	released := false
	release := func() {
		if !released {
			released = true
			<-s.semaphore
		}
	}

	c, err := newConn(connConfig{
		Config:        s.cfg.Config,
		Conn:          tcpConn,
		HostSigner:    s.cfg.HostSigner,
		Session:       session,
		Proxy:         proxy,
		Clock:         s.cfg.Clock,
		Log:           log.WithField(dockpot.Component, dockpot.ComponentSSHServer).WithField("remote", remote),
		HandshakeDone: release,
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to set up a connection state machine.")
		tcpConn.Close()
		release()
		return
	}

	s.registry.Register(c)
	c.serve()
	release()
}

func (s *Server) endpointFor(tcpConn net.Conn) honeylog.Endpoint {
	var e honeylog.Endpoint
	if remote, ok := tcpConn.RemoteAddr().(*net.TCPAddr); ok {
		e.SrcAddress, e.SrcPort = remote.IP, remote.Port
	}
	if local, ok := tcpConn.LocalAddr().(*net.TCPAddr); ok {
		e.DstAddress, e.DstPort = local.IP, local.Port
	}
	if s.cfg.PublicAddress != nil {
		e.DstAddress = s.cfg.PublicAddress
	}
	return e
}

// supervisedSession is what the supervisor needs to know about a live
// connection to decide its fate.
type supervisedSession interface {
	// Active reports whether the transport is still alive.
	Active() bool
	// OpenChannels returns the number of open session channels.
	OpenChannels() int
	// LastActivity returns the time of the last observed activity.
	LastActivity() time.Time
	// CloseTransport severs the transport.
	CloseTransport() error
	// Close releases everything behind the transport. Idempotent.
	Close()
}

// RegistryConfig configures the supervisor.
type RegistryConfig struct {
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Period is how often registered sessions are swept.
	Period time.Duration
	// SessionTimeout is the idle threshold beyond which a session with
	// no open channels is reaped.
	SessionTimeout time.Duration
	// Log is the logger, defaults to the supervisor component.
	Log *log.Entry
}

// Registry supervises live sessions. It periodically collects sessions
// whose transport has died and reaps sessions that have sat idle with
// no open channels for too long. Teardown runs on worker goroutines so
// a slow yield cannot stall the sweep.
type Registry struct {
	cfg RegistryConfig

	mu       sync.Mutex
	sessions map[supervisedSession]struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stopC    chan struct{}
	loopDone chan struct{}
	workers  sync.WaitGroup
}

// NewRegistry returns an unstarted supervisor.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Period <= 0 {
		cfg.Period = defaults.SupervisorPeriod
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaults.SessionTimeout
	}
	if cfg.Log == nil {
		cfg.Log = log.WithField(dockpot.Component, dockpot.ComponentSupervisor)
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[supervisedSession]struct{}),
		stopC:    make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Register puts a session under supervision.
func (r *Registry) Register(s supervisedSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s] = struct{}{}
	activeSessions.Inc()
}

// Start launches the sweep loop.
func (r *Registry) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.loop()
}

func (r *Registry) loop() {
	defer close(r.loopDone)
	ticker := r.cfg.Clock.NewTicker(r.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopC:
			return
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := r.cfg.Clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for s := range r.sessions {
		switch {
		case !s.Active():
			r.cfg.Log.Debug("Collecting a session with a dead transport.")
			r.removeLocked(s)
		case s.OpenChannels() == 0 && now.Sub(s.LastActivity()) > r.cfg.SessionTimeout:
			r.cfg.Log.Infof("Reaping a session idle for over %v.", r.cfg.SessionTimeout)
			r.removeLocked(s)
		}
	}
}

// removeLocked deregisters the session and tears it down on a worker.
func (r *Registry) removeLocked(s supervisedSession) {
	delete(r.sessions, s)
	activeSessions.Dec()
	r.workers.Add(1)
	go func() {
		defer r.workers.Done()
		s.CloseTransport()
		s.Close()
	}()
}

// Stop halts the sweep loop, tears every remaining session down and
// waits for all teardown workers to finish.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopC)
	})
	if r.started.Load() {
		<-r.loopDone
	}

	r.mu.Lock()
	for s := range r.sessions {
		r.removeLocked(s)
	}
	r.mu.Unlock()
	r.workers.Wait()
}
