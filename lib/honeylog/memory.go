package honeylog

import (
	"net"
	"sync"

	"github.com/gravitational/trace"
)

// Recorder is an in-memory Store used by tests to assert on the exact
// event stream a component produced.
type Recorder struct {
	mu       sync.Mutex
	sessions []*RecordedSession
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// NewSession implements Store.
func (r *Recorder) NewSession(e Endpoint) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &RecordedSession{Endpoint: e}
	r.sessions = append(r.sessions, s)
	return s
}

// Close implements Store.
func (r *Recorder) Close() error {
	return nil
}

// Sessions returns all sessions handed out so far.
func (r *Recorder) Sessions() []*RecordedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RecordedSession(nil), r.sessions...)
}

// RecordedEvent is one logged event with its variant-specific fields.
type RecordedEvent struct {
	// Type is the event variant: login_attempt, pty_request, env_request,
	// direct_tcpip_request, x_eleven_request, port_forward_request,
	// command, ssh_channel_output or download.
	Type     string
	Channel  uint32
	Username string
	Password string
	Term     string
	Cols     uint32
	Rows     uint32
	Input    string
	Data     []byte
	Name     string
	Value    string
	Address  string
	Port     uint32
	Download Download
}

// RecordedSession is an in-memory Session.
type RecordedSession struct {
	mu sync.Mutex

	Endpoint Endpoint

	remoteVersion string
	begun         bool
	ended         bool

	events []RecordedEvent
}

// RemoteVersion returns the recorded attacker SSH version string.
func (s *RecordedSession) RemoteVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteVersion
}

// HasBegun reports whether Begin has been called.
func (s *RecordedSession) HasBegun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

// HasEnded reports whether End has been called.
func (s *RecordedSession) HasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Events returns the events logged so far, in order.
func (s *RecordedSession) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedEvent(nil), s.events...)
}

// EventsOfType returns the logged events with the given type, in order.
func (s *RecordedSession) EventsOfType(eventType string) []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedEvent
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *RecordedSession) append(e RecordedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		return trace.BadParameter("logging session was not started")
	}
	if s.ended {
		return trace.BadParameter("logging session has ended")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *RecordedSession) SetRemoteVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteVersion = version
}

func (s *RecordedSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.begun {
		return trace.BadParameter("logging session was already started")
	}
	s.begun = true
	return nil
}

func (s *RecordedSession) LogLoginAttempt(username, password string) error {
	return s.append(RecordedEvent{Type: "login_attempt", Username: username, Password: password})
}

func (s *RecordedSession) LogPTYRequest(term string, widthCols, heightRows, widthPx, heightPx uint32) error {
	return s.append(RecordedEvent{Type: "pty_request", Term: term, Cols: widthCols, Rows: heightRows})
}

func (s *RecordedSession) LogEnvRequest(channel uint32, name, value string) error {
	return s.append(RecordedEvent{Type: "env_request", Channel: channel, Name: name, Value: value})
}

func (s *RecordedSession) LogDirectTCPIPRequest(channel uint32, originIP net.IP, originPort uint32, destination string, destinationPort uint32) error {
	return s.append(RecordedEvent{
		Type: "direct_tcpip_request", Channel: channel,
		Address: destination, Port: destinationPort,
	})
}

func (s *RecordedSession) LogX11Request(channel uint32, singleConnection bool, authProtocol string, authCookie []byte, screenNumber uint32) error {
	return s.append(RecordedEvent{Type: "x_eleven_request", Channel: channel, Name: authProtocol})
}

func (s *RecordedSession) LogPortForwardRequest(address string, port uint32) error {
	return s.append(RecordedEvent{Type: "port_forward_request", Address: address, Port: port})
}

func (s *RecordedSession) LogCommand(input string) error {
	return s.append(RecordedEvent{Type: "command", Input: input})
}

func (s *RecordedSession) LogChannelOutput(channel uint32, data []byte) error {
	return s.append(RecordedEvent{Type: "ssh_channel_output", Channel: channel, Data: append([]byte(nil), data...)})
}

func (s *RecordedSession) LogDownload(d Download) error {
	return s.append(RecordedEvent{Type: "download", Download: d})
}

func (s *RecordedSession) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.begun {
		return trace.BadParameter("logging session was not started")
	}
	if s.ended {
		return trace.BadParameter("logging session has already ended")
	}
	s.ended = true
	return nil
}
