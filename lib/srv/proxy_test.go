package srv

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/dockpot/dockpot/lib/honeylog"
)

// deadPort returns a port nothing listens on.
func deadPort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestProxyConnectUnavailable(t *testing.T) {
	recorder := honeylog.NewRecorder()
	session := recorder.NewSession(honeylog.Endpoint{})
	h, err := NewProxyHandler(ProxyHandlerConfig{
		Provider: &fakeProvider{unavailable: true},
		Session:  session,
	})
	require.NoError(t, err)

	err = h.Connect(context.Background(), "root", "123")
	require.Error(t, err)
	require.True(t, trace.IsLimitExceeded(err))
}

func TestProxyConnectFailureYieldsOnce(t *testing.T) {
	recorder := honeylog.NewRecorder()
	session := recorder.NewSession(honeylog.Endpoint{}).(*honeylog.RecordedSession)
	require.NoError(t, session.Begin())

	provider := &fakeProvider{
		address:   "127.0.0.1",
		port:      deadPort(t),
		downloads: []honeylog.Download{{FileType: "application/octet-stream"}},
	}
	h, err := NewProxyHandler(ProxyHandlerConfig{
		Provider:       provider,
		Session:        session,
		ConnectRetries: 2,
		BackoffBase:    time.Millisecond,
		DialTimeout:    time.Second,
	})
	require.NoError(t, err)
	h.SessionBegun()

	err = h.Connect(context.Background(), "root", "123")
	require.Error(t, err)
	require.Equal(t, 1, provider.acquireCount())
	// The unusable target system went straight back, downloads harvested.
	require.Equal(t, 1, provider.yieldCount())
	require.Len(t, session.EventsOfType("download"), 1)

	h.Close()
	h.Close()
	require.Equal(t, 1, provider.yieldCount())
	require.True(t, session.HasEnded())
}

func TestProxyCloseWithoutConnect(t *testing.T) {
	recorder := honeylog.NewRecorder()
	session := recorder.NewSession(honeylog.Endpoint{}).(*honeylog.RecordedSession)
	provider := &fakeProvider{}
	h, err := NewProxyHandler(ProxyHandlerConfig{Provider: provider, Session: session})
	require.NoError(t, err)

	// Nothing was begun or acquired, closing must touch nothing.
	h.Close()
	require.Zero(t, provider.yieldCount())
	require.False(t, session.HasEnded())

	err = h.Connect(context.Background(), "root", "123")
	require.Error(t, err)
}

func TestCompleteRunes(t *testing.T) {
	tests := []struct {
		data []byte
		cut  int
	}{
		{[]byte("plain"), 5},
		{[]byte{}, 0},
		{[]byte("ok\xc3"), 2},                    // truncated two-byte rune
		{[]byte("ok\xc3\xa9"), 4},                // complete two-byte rune
		{[]byte("ok\xe2\x82"), 2},                // truncated three-byte rune
		{[]byte{0xff, 0xfe}, 2},                  // invalid bytes pass through
		{[]byte("ab\xf0\x9f\x99\x82"), 6},        // complete four-byte rune
		{[]byte("ab\xf0\x9f"), 2},                // truncated four-byte rune
	}
	for _, tt := range tests {
		require.Equal(t, tt.cut, completeRunes(tt.data), "data %q", tt.data)
	}
}

func TestDropInvalidRunes(t *testing.T) {
	tests := []struct {
		data    []byte
		want    string
		dropped int
	}{
		{[]byte("plain"), "plain", 0},
		{[]byte{}, "", 0},
		{[]byte("caf\xc3\xa9"), "caf\xc3\xa9", 0},
		{[]byte("\xffid"), "id", 1},
		{[]byte("a\xff\xfeb"), "ab", 2},
		{[]byte{0x80, 0x80}, "", 2},
		{[]byte("ok\xe2\x82!"), "ok!", 2}, // truncated rune mid-stream
	}
	for _, tt := range tests {
		got, dropped := dropInvalidRunes(tt.data)
		require.Equal(t, tt.want, got, "data %q", tt.data)
		require.Equal(t, tt.dropped, dropped, "data %q", tt.data)
	}
}

// Invalid bytes must never surface as replacement characters inside a
// reconstructed command.
func TestInvalidInputBytesSkipped(t *testing.T) {
	parser := newTestParser()
	// The same per-fragment sequence the input pump applies.
	data := []byte("\xffid\r")
	cut := completeRunes(data)
	fragment, dropped := dropInvalidRunes(data[:cut])
	require.Equal(t, 1, dropped)
	parser.Write(fragment)
	require.Equal(t, []string{"id"}, parser.Commands())
}
