package honeylog

import (
	"net"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func testEndpoint() Endpoint {
	return Endpoint{
		SrcAddress: net.ParseIP("198.51.100.7"),
		SrcPort:    40312,
		DstAddress: net.ParseIP("203.0.113.5"),
		DstPort:    22,
	}
}

func TestSessionLifecycle(t *testing.T) {
	stores := map[string]Store{
		"console":  NewConsoleStore(),
		"recorder": NewRecorder(),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			s := store.NewSession(testEndpoint())
			s.SetRemoteVersion("SSH-2.0-libssh_0.9.6")

			// Events before Begin are refused.
			err := s.LogLoginAttempt("root", "123")
			require.True(t, trace.IsBadParameter(err))

			require.NoError(t, s.Begin())
			require.True(t, trace.IsBadParameter(s.Begin()))

			require.NoError(t, s.LogLoginAttempt("root", "123"))
			require.NoError(t, s.LogPTYRequest("xterm", 80, 24, 640, 480))
			require.NoError(t, s.LogCommand("ls"))
			require.NoError(t, s.LogChannelOutput(0, []byte("bin etc\r\n")))

			require.NoError(t, s.End())
			require.True(t, trace.IsBadParameter(s.End()))
			require.True(t, trace.IsBadParameter(s.LogCommand("late")))
		})
	}
}

func TestRecorderEventOrder(t *testing.T) {
	rec := NewRecorder()
	s := rec.NewSession(testEndpoint())
	require.NoError(t, s.Begin())
	require.NoError(t, s.LogLoginAttempt("u", "p"))
	require.NoError(t, s.LogCommand("id"))
	require.NoError(t, s.LogChannelOutput(2, []byte("uid=0")))
	require.NoError(t, s.End())

	sessions := rec.Sessions()
	require.Len(t, sessions, 1)
	events := sessions[0].Events()
	require.Len(t, events, 3)
	require.Equal(t, "login_attempt", events[0].Type)
	require.Equal(t, "command", events[1].Type)
	require.Equal(t, "ssh_channel_output", events[2].Type)
	require.Equal(t, uint32(2), events[2].Channel)
	require.True(t, sessions[0].HasEnded())
}
