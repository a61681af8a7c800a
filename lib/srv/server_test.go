package srv

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/dockpot/dockpot/lib/config"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/tsp"
)

func newTestSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)
	return signer
}

// fakeSandbox is an in-process SSH server standing in for a target
// system container. It accepts any password, echoes shell input back
// verbatim and answers "id" over exec.
type fakeSandbox struct {
	listener net.Listener
	config   *ssh.ServerConfig
}

func startFakeSandbox(t *testing.T) *fakeSandbox {
	t.Helper()
	serverConfig := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	serverConfig.AddHostKey(newTestSigner(t))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	s := &fakeSandbox{listener: listener, config: serverConfig}
	go s.acceptLoop()
	return s
}

func (s *fakeSandbox) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSandbox) acceptLoop() {
	for {
		c, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(c)
	}
}

func (s *fakeSandbox) handleConn(c net.Conn) {
	sconn, chans, reqs, err := ssh.NewServerConn(c, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, chReqs)
	}
}

func (s *fakeSandbox) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	for req := range reqs {
		switch req.Type {
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			go func() {
				io.Copy(ch, ch)
				sendExitStatus(ch, 0)
				ch.Close()
			}()
		case "exec":
			var r execRequest
			if err := ssh.Unmarshal(req.Payload, &r); err != nil {
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			go func() {
				if r.Command == "id" {
					ch.Write([]byte("uid=0(root) gid=0(root) groups=0(root)\n"))
				}
				sendExitStatus(ch, 0)
				ch.Close()
			}()
		case "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func sendExitStatus(ch ssh.Channel, code uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Code uint32 }{Code: code}))
}

// fakeProvider is an in-memory tsp.Provider pointing every acquisition
// at the same fake sandbox.
type fakeProvider struct {
	mu          sync.Mutex
	address     string
	port        int
	unavailable bool
	downloads   []honeylog.Download
	acquired    int
	yielded     []string
}

func (p *fakeProvider) Acquire(ctx context.Context, user, password string) (*tsp.TargetSystem, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable {
		return nil, false, nil
	}
	p.acquired++
	return &tsp.TargetSystem{
		ID:      fmt.Sprintf("openssh-server%v", p.acquired),
		Address: p.address,
		Port:    p.port,
	}, true, nil
}

func (p *fakeProvider) Yield(ctx context.Context, id string, harvest func(honeylog.Download)) error {
	p.mu.Lock()
	p.yielded = append(p.yielded, id)
	downloads := p.downloads
	p.mu.Unlock()
	for _, d := range downloads {
		harvest(d)
	}
	return nil
}

func (p *fakeProvider) setUnavailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = v
}

func (p *fakeProvider) acquireCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquired
}

func (p *fakeProvider) yieldCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.yielded)
}

type testEnv struct {
	provider *fakeProvider
	recorder *honeylog.Recorder
	server   *Server
	addr     string
}

func newTestEnv(t *testing.T, mutate func(*config.SSH)) *testEnv {
	t.Helper()
	sandbox := startFakeSandbox(t)
	provider := &fakeProvider{address: "127.0.0.1", port: sandbox.port()}
	recorder := honeylog.NewRecorder()

	cfg := &config.SSH{
		ServerPort:               22,
		LocalVersion:             "SSH-2.0-dropbear_2019.78",
		LoginSuccessRate:         -1,
		SessionTimeoutSeconds:    600,
		SocketTimeoutSeconds:     1,
		MaxUnacceptedConnections: 10,
		BackendAddress:           "127.0.0.1:1",
		Database: config.Database{
			MinConnections: 1,
			MaxConnections: 10,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.CheckAndSetDefaults())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server, err := NewServer(ServerConfig{
		Config:     cfg,
		HostSigner: newTestSigner(t),
		Provider:   provider,
		Store:      recorder,
		Listener:   listener,
	})
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)

	return &testEnv{
		provider: provider,
		recorder: recorder,
		server:   server,
		addr:     listener.Addr().String(),
	}
}

func clientConfig(user, password string) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
}

func (e *testEnv) dial(t *testing.T, user, password string) *ssh.Client {
	t.Helper()
	client, err := ssh.Dial("tcp", e.addr, clientConfig(user, password))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func (e *testEnv) recordedSession(t *testing.T) *honeylog.RecordedSession {
	t.Helper()
	var session *honeylog.RecordedSession
	require.Eventually(t, func() bool {
		sessions := e.recorder.Sessions()
		if len(sessions) == 0 {
			return false
		}
		session = sessions[len(sessions)-1]
		return true
	}, time.Second, 10*time.Millisecond)
	return session
}

func TestExecProxied(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.dial(t, "root", "123456")

	sess, err := client.NewSession()
	require.NoError(t, err)
	out, err := sess.Output("id")
	require.NoError(t, err)
	require.Equal(t, "uid=0(root) gid=0(root) groups=0(root)\n", string(out))

	recorded := env.recordedSession(t)
	require.Contains(t, recorded.RemoteVersion(), "SSH-2.0")

	logins := recorded.EventsOfType("login_attempt")
	require.Len(t, logins, 1)
	require.Equal(t, "root", logins[0].Username)
	require.Equal(t, "123456", logins[0].Password)

	commands := recorded.EventsOfType("command")
	require.Len(t, commands, 1)
	require.Equal(t, "id", commands[0].Input)

	outputs := recorded.EventsOfType("ssh_channel_output")
	require.NotEmpty(t, outputs)
	require.Equal(t, []byte("id\r\n"), outputs[0].Data)
	var all []byte
	for _, e := range outputs {
		all = append(all, e.Data...)
	}
	require.Contains(t, string(all), "uid=0(root)")

	client.Close()
	require.Eventually(t, func() bool {
		return env.provider.yieldCount() == 1 && recorded.HasEnded()
	}, 3*time.Second, 50*time.Millisecond)
	require.Equal(t, 1, env.provider.acquireCount())
}

func TestShellByteFidelity(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.dial(t, "root", "123456")

	sess, err := client.NewSession()
	require.NoError(t, err)
	stdin, err := sess.StdinPipe()
	require.NoError(t, err)
	stdout, err := sess.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, sess.Shell())

	// The payload has a command, a raw fragment and bytes that are not
	// valid UTF-8. The sandbox echo must see all of it unmodified.
	payload := []byte("echo hi\rraw\xff\xfe")
	_, err = stdin.Write(payload)
	require.NoError(t, err)

	echoed := make([]byte, len(payload))
	_, err = io.ReadFull(stdout, echoed)
	require.NoError(t, err)
	require.Equal(t, payload, echoed)

	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		commands := recorded.EventsOfType("command")
		return len(commands) == 1 && commands[0].Input == "echo hi"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, stdin.Close())
	require.NoError(t, sess.Wait())

	client.Close()
	require.Eventually(t, func() bool {
		return env.provider.yieldCount() == 1 && recorded.HasEnded()
	}, 3*time.Second, 50*time.Millisecond)
}

func TestPTYAndEnvLogged(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.dial(t, "root", "123456")

	sess, err := client.NewSession()
	require.NoError(t, err)
	require.NoError(t, sess.Setenv("LANG", "C.UTF-8"))
	require.NoError(t, sess.RequestPty("xterm", 24, 80, ssh.TerminalModes{}))
	require.NoError(t, sess.Shell())

	recorded := env.recordedSession(t)
	envs := recorded.EventsOfType("env_request")
	require.Len(t, envs, 1)
	require.Equal(t, "LANG", envs[0].Name)
	require.Equal(t, "C.UTF-8", envs[0].Value)

	ptys := recorded.EventsOfType("pty_request")
	require.Len(t, ptys, 1)
	require.Equal(t, "xterm", ptys[0].Term)
	require.Equal(t, uint32(80), ptys[0].Cols)
	require.Equal(t, uint32(24), ptys[0].Rows)
}

func TestDirectTCPIPRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.dial(t, "root", "123456")

	_, err := client.Dial("tcp", "10.0.0.1:80")
	require.Error(t, err)

	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		return len(recorded.EventsOfType("direct_tcpip_request")) == 1
	}, time.Second, 10*time.Millisecond)
	events := recorded.EventsOfType("direct_tcpip_request")
	require.Equal(t, "10.0.0.1", events[0].Address)
	require.Equal(t, uint32(80), events[0].Port)

	// No session channel was ever opened, nothing to acquire.
	require.Zero(t, env.provider.acquireCount())
}

func TestPortForwardRefused(t *testing.T) {
	env := newTestEnv(t, nil)
	client := env.dial(t, "root", "123456")

	_, err := client.Listen("tcp", "0.0.0.0:8080")
	require.Error(t, err)

	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		return len(recorded.EventsOfType("port_forward_request")) == 1
	}, time.Second, 10*time.Millisecond)
	events := recorded.EventsOfType("port_forward_request")
	require.Equal(t, "0.0.0.0", events[0].Address)
	require.Equal(t, uint32(8080), events[0].Port)
}

func TestAuthAllowlist(t *testing.T) {
	env := newTestEnv(t, func(c *config.SSH) {
		c.AllowedUsernamesRegex = "^root$"
	})

	_, err := ssh.Dial("tcp", env.addr, clientConfig("admin", "123456"))
	require.Error(t, err)

	// The refused attempt still produced a full session record.
	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		return len(recorded.EventsOfType("login_attempt")) > 0
	}, time.Second, 10*time.Millisecond)
	attempt := recorded.EventsOfType("login_attempt")[0]
	require.Equal(t, "admin", attempt.Username)
	require.Eventually(t, func() bool {
		return recorded.HasEnded()
	}, 3*time.Second, 50*time.Millisecond)

	env.dial(t, "root", "123456")
}

func TestLoginSuccessRate(t *testing.T) {
	env := newTestEnv(t, func(c *config.SSH) {
		c.LoginSuccessRate = 0
	})
	_, err := ssh.Dial("tcp", env.addr, clientConfig("root", "123456"))
	require.Error(t, err)

	env = newTestEnv(t, func(c *config.SSH) {
		c.LoginSuccessRate = 100
	})
	env.dial(t, "root", "123456")
}

func TestUnavailableRejectsSessionChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.setUnavailable(true)
	client := env.dial(t, "root", "123456")

	_, err := client.NewSession()
	require.Error(t, err)

	recorded := env.recordedSession(t)
	client.Close()
	require.Eventually(t, func() bool {
		return recorded.HasEnded()
	}, 3*time.Second, 50*time.Millisecond)
	require.Zero(t, env.provider.yieldCount())
}

func TestIdleSessionReaped(t *testing.T) {
	env := newTestEnv(t, func(c *config.SSH) {
		c.SessionTimeoutSeconds = 1
	})
	env.dial(t, "root", "123456")

	// No channel is ever opened; the supervisor reaps the connection
	// once it has sat idle past the timeout.
	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		return recorded.HasEnded()
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDownloadsHarvestedAtYield(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.downloads = []honeylog.Download{{
		FileType:      "text/x-shellscript",
		SourceURL:     "http://192.0.2.44/dropper.sh",
		SourceAddress: net.ParseIP("192.0.2.44"),
		Data:          []byte("#!/bin/sh\n"),
		SaveData:      true,
	}}
	client := env.dial(t, "root", "123456")

	sess, err := client.NewSession()
	require.NoError(t, err)
	_, err = sess.Output("id")
	require.NoError(t, err)
	client.Close()

	recorded := env.recordedSession(t)
	require.Eventually(t, func() bool {
		return recorded.HasEnded()
	}, 3*time.Second, 50*time.Millisecond)
	downloads := recorded.EventsOfType("download")
	require.Len(t, downloads, 1)
	require.Equal(t, "http://192.0.2.44/dropper.sh", downloads[0].Download.SourceURL)
}
