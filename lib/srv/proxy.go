package srv

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/defaults"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/tsp"
	"github.com/dockpot/dockpot/lib/utils"
)

var (
	targetSystemsAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dockpot_target_systems_acquired_total",
			Help: "Number of target systems acquired from the provider",
		},
	)
	targetSystemsYielded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dockpot_target_systems_yielded_total",
			Help: "Number of target systems yielded back to the provider",
		},
	)
)

func init() {
	prometheus.MustRegister(targetSystemsAcquired)
	prometheus.MustRegister(targetSystemsYielded)
}

// yieldTimeout bounds the yield RPC at session teardown, pcap harvest
// included.
const yieldTimeout = time.Minute

// ProxyHandlerConfig configures a ProxyHandler.
type ProxyHandlerConfig struct {
	// Provider hands out target systems.
	Provider tsp.Provider
	// Session is the logging session of the attacker connection this
	// handler serves.
	Session honeylog.Session
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// ConnectRetries bounds the SSH dial attempts to a fresh target
	// system.
	ConnectRetries int
	// BackoffBase is the base delay between dial attempts.
	BackoffBase time.Duration
	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration
	// OnActivity is invoked whenever attacker or target system bytes
	// move through a pumped channel.
	OnActivity func()
	// Log is the logger, defaults to the proxy component.
	Log *log.Entry
}

// CheckAndSetDefaults validates the config.
func (c *ProxyHandlerConfig) CheckAndSetDefaults() error {
	if c.Provider == nil {
		return trace.BadParameter("missing target system provider")
	}
	if c.Session == nil {
		return trace.BadParameter("missing logging session")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = defaults.SandboxConnectRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaults.SocketTimeout
	}
	if c.OnActivity == nil {
		c.OnActivity = func() {}
	}
	if c.Log == nil {
		c.Log = log.WithField(dockpot.Component, dockpot.ComponentProxy)
	}
	return nil
}

// ProxyHandler owns the sandbox side of one attacker connection. It
// acquires a target system on demand, mirrors the attacker's session
// channels onto it, pumps bytes both ways and gives the target system
// back exactly once when the connection ends.
type ProxyHandler struct {
	cfg ProxyHandlerConfig

	mu       sync.Mutex
	client   *ssh.Client
	targetID string
	channels map[uint32]*proxiedChannel
	begun    bool
	closed   bool

	closeOnce sync.Once
}

// NewProxyHandler returns an unconnected handler.
func NewProxyHandler(cfg ProxyHandlerConfig) (*ProxyHandler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &ProxyHandler{
		cfg:      cfg,
		channels: make(map[uint32]*proxiedChannel),
	}, nil
}

// SessionBegun tells the handler that the logging session has started
// and must be ended at close time.
func (h *ProxyHandler) SessionBegun() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.begun = true
}

// Connect acquires a target system provisioned with the attacker's
// credentials and establishes the SSH connection to it. Subsequent calls
// are no-ops. Returns a limit exceeded error when no target system is
// free.
func (h *ProxyHandler) Connect(ctx context.Context, user, password string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return trace.ConnectionProblem(nil, "proxy handler is closed")
	}
	if h.client != nil {
		return nil
	}

	ts, ok, err := h.cfg.Provider.Acquire(ctx, user, password)
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		return trace.LimitExceeded("no target system is available")
	}
	targetSystemsAcquired.Inc()
	h.cfg.Log.Infof("Acquired target system %v at %v:%v.", ts.ID, ts.Address, ts.Port)

	client, err := h.dial(ctx, ts, user, password)
	if err != nil {
		// The target system is unusable, give it back right away. Any
		// downloads it may have seen still end up in the session.
		h.yield(ts.ID)
		return trace.Wrap(err)
	}
	h.client = client
	h.targetID = ts.ID
	return nil
}

func (h *ProxyHandler) dial(ctx context.Context, ts *tsp.TargetSystem, user, password string) (*ssh.Client, error) {
	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         h.cfg.DialTimeout,
	}
	address := fmt.Sprintf("%v:%v", ts.Address, ts.Port)

	retry, err := utils.NewExponential(utils.ExponentialConfig{
		Base:    h.cfg.BackoffBase,
		Retries: h.cfg.ConnectRetries,
		Clock:   h.cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err == nil {
			return client, nil
		}
		h.cfg.Log.WithError(err).Debugf("Failed to connect to target system %v, attempt %v.",
			ts.ID, retry.Attempt()+1)
		if werr := retry.Wait(ctx); werr != nil {
			return nil, trace.ConnectionProblem(err, "failed to connect to target system %v at %v", ts.ID, address)
		}
	}
}

// OpenChannel opens the session channel mirroring the attacker channel
// with the given id on the target system.
func (h *ProxyHandler) OpenChannel(id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return trace.ConnectionProblem(nil, "no target system connection")
	}
	if _, ok := h.channels[id]; ok {
		return trace.AlreadyExists("channel %v is already open", id)
	}
	sandbox, reqs, err := h.client.OpenChannel("session", nil)
	if err != nil {
		return trace.Wrap(err, "failed to open a channel on the target system")
	}
	h.channels[id] = &proxiedChannel{id: id, sandbox: sandbox, reqs: reqs}
	return nil
}

func (h *ProxyHandler) channel(id uint32) (*proxiedChannel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.channels[id]
	if !ok {
		return nil, trace.NotFound("channel %v is not proxied", id)
	}
	return pc, nil
}

// Forward relays a channel request to the target system verbatim and
// returns its verdict.
func (h *ProxyHandler) Forward(id uint32, reqType string, wantReply bool, payload []byte) (bool, error) {
	pc, err := h.channel(id)
	if err != nil {
		return false, trace.Wrap(err)
	}
	ok, err := pc.sandbox.SendRequest(reqType, wantReply, payload)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return ok, nil
}

// StartShell requests a shell on the proxied channel and starts pumping
// bytes between the attacker and the target system.
func (h *ProxyHandler) StartShell(id uint32, attacker ssh.Channel) error {
	return h.start(id, attacker, "shell", nil, true)
}

// StartExec runs a single command on the proxied channel. The command is
// recorded directly since it never passes through the input stream.
func (h *ProxyHandler) StartExec(id uint32, attacker ssh.Channel, command string) error {
	if err := h.cfg.Session.LogCommand(command); err != nil {
		h.cfg.Log.WithError(err).Warn("Failed to log an exec command.")
	}
	// Record the command where it would have appeared in an interactive
	// stream, so session replays stay coherent.
	if err := h.cfg.Session.LogChannelOutput(id, []byte(command+"\r\n")); err != nil {
		h.cfg.Log.WithError(err).Warn("Failed to log an exec command echo.")
	}
	return h.start(id, attacker, "exec", ssh.Marshal(execRequest{Command: command}), true)
}

// StartSubsystem starts a subsystem such as sftp on the proxied channel.
// Subsystem streams are binary protocols, no command parsing happens.
func (h *ProxyHandler) StartSubsystem(id uint32, attacker ssh.Channel, name string) error {
	return h.start(id, attacker, "subsystem", ssh.Marshal(subsystemRequest{Name: name}), false)
}

func (h *ProxyHandler) start(id uint32, attacker ssh.Channel, reqType string, payload []byte, parseInput bool) error {
	pc, err := h.channel(id)
	if err != nil {
		return trace.Wrap(err)
	}
	pc.mu.Lock()
	if pc.started {
		pc.mu.Unlock()
		return trace.BadParameter("channel %v already runs a program", id)
	}
	pc.started = true
	pc.mu.Unlock()

	ok, err := pc.sandbox.SendRequest(reqType, true, payload)
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		return trace.ConnectionProblem(nil, "target system refused the %v request", reqType)
	}
	go h.pump(pc, attacker, parseInput)
	return nil
}

// pump moves bytes between the attacker channel and its proxied twin
// until either side goes away, recording output and reconstructed
// commands along the way. The attacker channel is closed when the target
// system side is fully drained, exit status forwarded last.
func (h *ProxyHandler) pump(pc *proxiedChannel, attacker ssh.Channel, parseInput bool) {
	var wg sync.WaitGroup

	go h.pumpInput(pc, attacker, parseInput)

	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pumpOutput(pc, attacker, pc.sandbox)
	}()
	go func() {
		defer wg.Done()
		h.pumpOutput(pc, attacker.Stderr(), pc.sandbox.Stderr())
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for req := range pc.reqs {
			if req.Type == "exit-status" {
				pc.setExitStatus(req.Payload)
			}
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}()

	wg.Wait()
	if payload, ok := pc.exitStatus(); ok {
		if _, err := attacker.SendRequest("exit-status", false, payload); err != nil {
			h.cfg.Log.WithError(err).Debug("Failed to forward the exit status to the attacker.")
		}
	}
	attacker.Close()
}

// pumpInput relays attacker keystrokes to the target system unmodified
// and feeds a decoded copy to the command parser. Bytes cut in the
// middle of a UTF-8 sequence are carried over to the next read; bytes
// that are not UTF-8 at all are skipped with a diagnostic.
func (h *ProxyHandler) pumpInput(pc *proxiedChannel, attacker ssh.Channel, parseInput bool) {
	var parser *commandParser
	if parseInput {
		parser = newCommandParser(h.cfg.Log)
	}
	buf := make([]byte, defaults.ChannelIOBufferSize)
	var carry []byte
	for {
		n, err := attacker.Read(buf)
		if n > 0 {
			h.cfg.OnActivity()
			if parser != nil {
				data := append(carry, buf[:n]...)
				cut := completeRunes(data)
				fragment, dropped := dropInvalidRunes(data[:cut])
				if dropped > 0 {
					h.cfg.Log.Debugf("Skipped %v bytes of invalid UTF-8 in the input stream.", dropped)
				}
				parser.Write(fragment)
				carry = append([]byte(nil), data[cut:]...)
				for _, command := range parser.Commands() {
					if lerr := h.cfg.Session.LogCommand(command); lerr != nil {
						h.cfg.Log.WithError(lerr).Warn("Failed to log a command.")
					}
				}
			}
			if _, werr := pc.sandbox.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			// The attacker is done typing. Half close so the program on
			// the target system sees EOF but can still produce output.
			pc.sandbox.CloseWrite()
			return
		}
	}
}

// pumpOutput relays one target system output stream to the attacker,
// recording every chunk.
func (h *ProxyHandler) pumpOutput(pc *proxiedChannel, dst io.Writer, src io.Reader) {
	buf := make([]byte, defaults.ChannelIOBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			h.cfg.OnActivity()
			data := append([]byte(nil), buf[:n]...)
			if lerr := h.cfg.Session.LogChannelOutput(pc.id, data); lerr != nil {
				h.cfg.Log.WithError(lerr).Warn("Failed to log channel output.")
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// dropInvalidRunes returns data with the bytes that do not decode as
// UTF-8 removed, and how many were dropped.
func dropInvalidRunes(data []byte) (string, int) {
	if utf8.Valid(data) {
		return string(data), 0
	}
	var b strings.Builder
	dropped := 0
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			dropped++
			i++
			continue
		}
		b.Write(data[i : i+size])
		i += size
	}
	return b.String(), dropped
}

// completeRunes returns the length of the longest prefix of data that
// does not end in a truncated UTF-8 sequence.
func completeRunes(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				return i
			}
			break
		}
	}
	return len(data)
}

// Close tears the handler down exactly once: the target system is
// yielded back with its downloads harvested into the session, the
// session is ended, then the SSH connection is closed. Safe to call
// multiple times and before Connect.
func (h *ProxyHandler) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		client := h.client
		targetID := h.targetID
		begun := h.begun
		h.client = nil
		h.targetID = ""
		h.mu.Unlock()

		if targetID != "" {
			h.yield(targetID)
		}
		if begun {
			if err := h.cfg.Session.End(); err != nil {
				h.cfg.Log.WithError(err).Error("Failed to end the logging session.")
			}
		}
		if client != nil {
			client.Close()
		}
	})
}

func (h *ProxyHandler) yield(targetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), yieldTimeout)
	defer cancel()
	err := h.cfg.Provider.Yield(ctx, targetID, func(d honeylog.Download) {
		if lerr := h.cfg.Session.LogDownload(d); lerr != nil {
			h.cfg.Log.WithError(lerr).Warn("Failed to log a harvested download.")
		}
	})
	if err != nil {
		h.cfg.Log.WithError(err).Errorf("Failed to yield target system %v.", targetID)
		return
	}
	targetSystemsYielded.Inc()
	h.cfg.Log.Infof("Yielded target system %v.", targetID)
}

// proxiedChannel pairs an attacker channel id with its twin on the
// target system.
type proxiedChannel struct {
	id      uint32
	sandbox ssh.Channel
	reqs    <-chan *ssh.Request

	mu      sync.Mutex
	started bool
	exit    []byte
	sawExit bool
}

func (pc *proxiedChannel) setExitStatus(payload []byte) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.sawExit {
		pc.sawExit = true
		pc.exit = append([]byte(nil), payload...)
	}
}

func (pc *proxiedChannel) exitStatus() ([]byte, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.exit, pc.sawExit
}
