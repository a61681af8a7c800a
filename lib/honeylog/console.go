package honeylog

import (
	"crypto/sha256"
	"net"
	"sync"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot"
)

// ConsoleStore prints every event to the operator log. Used when no
// database is configured; the honeypot still has value without a store.
type ConsoleStore struct{}

// NewConsoleStore returns a store that logs events to the console.
func NewConsoleStore() *ConsoleStore {
	return &ConsoleStore{}
}

// NewSession creates a console-backed logging session.
func (s *ConsoleStore) NewSession(e Endpoint) Session {
	return &consoleSession{
		log: log.WithFields(log.Fields{
			dockpot.Component: dockpot.ComponentLogger,
			"src":             e.SrcAddress.String(),
			"src_port":        e.SrcPort,
		}),
	}
}

// Close implements Store. The console holds nothing to release.
func (s *ConsoleStore) Close() error {
	return nil
}

type consoleSession struct {
	mu      sync.Mutex
	log     *log.Entry
	version string
	begun   bool
	ended   bool
}

func (s *consoleSession) SetRemoteVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

func (s *consoleSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun {
		return trace.BadParameter("logging session was already started")
	}
	s.begun = true
	s.log.WithField("version", s.version).Info("SSH session started")
	return nil
}

// running must be called with the mutex held.
func (s *consoleSession) running() error {
	if !s.begun {
		return trace.BadParameter("logging session was not started")
	}
	if s.ended {
		return trace.BadParameter("logging session has ended")
	}
	return nil
}

func (s *consoleSession) LogLoginAttempt(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("Login attempt %q/%q", username, password)
	return nil
}

func (s *consoleSession) LogPTYRequest(term string, widthCols, heightRows, widthPx, heightPx uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("PTY request term=%q %vx%v cols/rows, %vx%v px", term, widthCols, heightRows, widthPx, heightPx)
	return nil
}

func (s *consoleSession) LogEnvRequest(channel uint32, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("Env request on channel %v: %v=%q", channel, name, value)
	return nil
}

func (s *consoleSession) LogDirectTCPIPRequest(channel uint32, originIP net.IP, originPort uint32, destination string, destinationPort uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("direct-tcpip request on channel %v: %v:%v -> %v:%v",
		channel, originIP, originPort, destination, destinationPort)
	return nil
}

func (s *consoleSession) LogX11Request(channel uint32, singleConnection bool, authProtocol string, authCookie []byte, screenNumber uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("X11 request on channel %v: single=%v proto=%v screen=%v",
		channel, singleConnection, authProtocol, screenNumber)
	return nil
}

func (s *consoleSession) LogPortForwardRequest(address string, port uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("Port forward request for %v:%v", address, port)
	return nil
}

func (s *consoleSession) LogCommand(input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Infof("Command %q", input)
	return nil
}

func (s *consoleSession) LogChannelOutput(channel uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.log.Debugf("Channel %v output: %q", channel, data)
	return nil
}

func (s *consoleSession) LogDownload(d Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	hash := sha256.Sum256(d.Data)
	s.log.Infof("Download from %v url=%q type=%v sha256=%x size=%v",
		d.SourceAddress, d.SourceURL, d.FileType, hash, len(d.Data))
	return nil
}

func (s *consoleSession) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.running(); err != nil {
		return trace.Wrap(err)
	}
	s.ended = true
	s.log.Info("SSH session ended")
	return nil
}
