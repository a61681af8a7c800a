package postgres

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dockpot/dockpot/lib/honeylog"
)

// fakePool implements the pool interface, handing out fakeConns and
// optionally failing the first few acquisitions.
type fakePool struct {
	failures int
	acquired int
	closed   bool
	conns    []*fakeConn
}

func (p *fakePool) Acquire(ctx context.Context) (poolConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.acquired++
	if p.failures > 0 {
		p.failures--
		return nil, trace.LimitExceeded("pool exhausted")
	}
	conn := &fakeConn{}
	p.conns = append(p.conns, conn)
	return conn, nil
}

func (p *fakePool) Close() {
	p.closed = true
}

type fakeConn struct {
	tx       *fakeTx
	released bool
}

func (c *fakeConn) Begin(ctx context.Context) (pgx.Tx, error) {
	c.tx = &fakeTx{}
	return c.tx, nil
}

func (c *fakeConn) Release() {
	c.released = true
}

type statement struct {
	sql  string
	args []any
}

// fakeTx implements pgx.Tx, recording every statement.
type fakeTx struct {
	statements []statement
	committed  bool
	rolledBack bool
	nextID     int64
	execErr    error
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, trace.NotImplemented("nested tx") }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, trace.NotImplemented("copy from")
}

func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                              { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, trace.NotImplemented("prepare")
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.statements = append(t.statements, statement{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, trace.NotImplemented("query")
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.statements = append(t.statements, statement{sql: sql, args: args})
	t.nextID++
	return fakeRow{id: t.nextID}
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeRow struct {
	id int64
}

func (r fakeRow) Scan(dest ...any) error {
	if len(dest) == 1 {
		if id, ok := dest[0].(*int64); ok {
			*id = r.id
		}
	}
	return nil
}

func (t *fakeTx) sqlContaining(fragment string) []statement {
	var out []statement
	for _, st := range t.statements {
		if strings.Contains(st.sql, fragment) {
			out = append(out, st)
		}
	}
	return out
}

func testConfig(clock clockwork.Clock) Config {
	return Config{
		Hostname:        "db",
		Database:        "dockpot",
		Username:        "dockpot",
		AcquireRetries:  3,
		AcquireDeadline: 30 * time.Second,
		Clock:           clock,
	}
}

func testEndpoint() honeylog.Endpoint {
	return honeylog.Endpoint{
		SrcAddress: net.ParseIP("198.51.100.7"),
		SrcPort:    40312,
		DstAddress: net.ParseIP("203.0.113.5"),
		DstPort:    22,
	}
}

func TestSessionCommit(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	session.SetRemoteVersion("SSH-2.0-libssh_0.9.6")
	require.NoError(t, session.Begin())
	require.NoError(t, session.LogLoginAttempt("root", "123"))
	require.NoError(t, session.LogPTYRequest("xterm", 80, 24, 640, 480))
	require.NoError(t, session.LogCommand("ls"))
	require.NoError(t, session.LogChannelOutput(0, []byte("bin etc\r\n")))
	require.NoError(t, session.End())

	require.Len(t, pool.conns, 1)
	tx := pool.conns[0].tx
	require.True(t, tx.committed)
	require.False(t, tx.rolledBack)
	require.True(t, pool.conns[0].released)

	// Header rows: network source, session with version, SSHSession.
	require.Len(t, tx.sqlContaining("INSERT INTO NetworkSource"), 1)
	sessions := tx.sqlContaining("INSERT INTO Session ")
	require.Len(t, sessions, 1)
	require.Equal(t, "SSH-2.0-libssh_0.9.6", sessions[0].args[0])
	require.Len(t, tx.sqlContaining("INSERT INTO SSHSession"), 1)

	// One Event row per event, plus the per-type rows.
	require.Len(t, tx.sqlContaining("INSERT INTO Event "), 4)
	require.Len(t, tx.sqlContaining("INSERT INTO LoginAttempt"), 1)
	require.Len(t, tx.sqlContaining("INSERT INTO PTYRequest"), 1)
	require.Len(t, tx.sqlContaining("INSERT INTO Command"), 1)
	require.Len(t, tx.sqlContaining("INSERT INTO SSHChannelOutput"), 1)
	require.Len(t, tx.sqlContaining("UPDATE Session"), 1)
}

func TestDownloadFileModes(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	require.NoError(t, session.Begin())
	require.NoError(t, session.LogDownload(honeylog.Download{
		Data:          []byte("malware"),
		FileType:      "application/octet-stream",
		SourceAddress: net.ParseIP("192.0.2.4"),
		SourceURL:     "http://192.0.2.4/dropper.sh",
		SaveData:      true,
	}))
	require.NoError(t, session.LogDownload(honeylog.Download{
		Data:          []byte("malware"),
		FileType:      "application/octet-stream",
		SourceAddress: net.ParseIP("192.0.2.4"),
		SaveData:      false,
	}))
	require.NoError(t, session.End())

	tx := pool.conns[0].tx
	files := tx.sqlContaining("INSERT INTO File")
	require.Len(t, files, 2)
	require.Contains(t, files[0].sql, "DO UPDATE SET data")
	require.Contains(t, files[1].sql, "NULL")
	require.Contains(t, files[1].sql, "DO NOTHING")
	downloads := tx.sqlContaining("INSERT INTO Download")
	require.Len(t, downloads, 2)
	// Second download carries no URL.
	require.Nil(t, downloads[1].args[3])
}

func TestDownloadWithoutSourceAddress(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	require.NoError(t, session.Begin())
	require.NoError(t, session.LogDownload(honeylog.Download{
		Data:     []byte("malware"),
		FileType: "application/octet-stream",
		SaveData: true,
	}))
	require.NoError(t, session.End())

	tx := pool.conns[0].tx
	// Only the session header row, no extra source for the download.
	require.Len(t, tx.sqlContaining("INSERT INTO NetworkSource"), 1)
	downloads := tx.sqlContaining("INSERT INTO Download")
	require.Len(t, downloads, 1)
	require.Nil(t, downloads[0].args[2])
	require.Nil(t, downloads[0].args[3])
}

func TestEventsRequireRunningSession(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	err := session.LogCommand("too early")
	require.True(t, trace.IsBadParameter(err))

	require.NoError(t, session.Begin())
	require.True(t, trace.IsBadParameter(session.Begin()))
	require.NoError(t, session.End())
	require.True(t, trace.IsBadParameter(session.LogCommand("too late")))
}

func TestInsertFailureAbortsSession(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	require.NoError(t, session.Begin())

	tx := pool.conns[0].tx
	tx.execErr = trace.ConnectionProblem(nil, "connection reset")
	require.Error(t, session.LogCommand("ls"))
	require.True(t, tx.rolledBack)
	require.True(t, pool.conns[0].released)

	// The session is aborted, further calls are refused.
	require.True(t, trace.IsBadParameter(session.LogCommand("ls")))
	require.True(t, trace.IsBadParameter(session.End()))
}

func TestAcquireBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pool := &fakePool{failures: 2}
	store := newStore(testConfig(clock), pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	done := make(chan error, 1)
	go func() {
		done <- session.Begin()
	}()

	// Two failed acquisitions mean two backoff sleeps: 100ms then 200ms.
	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, <-done)
	require.Equal(t, 3, pool.acquired)
}

func TestAcquireGivesUpAtDeadline(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := testConfig(clock)
	cfg.AcquireRetries = 100
	cfg.AcquireDeadline = 250 * time.Millisecond
	pool := &fakePool{failures: 100}
	store := newStore(cfg, pool)
	defer store.Close()

	session := store.NewSession(testEndpoint())
	done := make(chan error, 1)
	go func() {
		done <- session.Begin()
	}()

	// Each advance moves past the deadline check's budget; the third
	// acquisition attempt lands past the deadline and gives up.
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(200 * time.Millisecond)
	}
	err := <-done
	require.Error(t, err)
	require.True(t, trace.IsLimitExceeded(err))

	// The aborted session refuses further calls.
	require.True(t, trace.IsBadParameter(session.LogCommand("ls")))
}

func TestCloseAbortsRunningSessions(t *testing.T) {
	pool := &fakePool{}
	store := newStore(testConfig(clockwork.NewFakeClock()), pool)

	session := store.NewSession(testEndpoint())
	require.NoError(t, session.Begin())
	require.NoError(t, store.Close())

	tx := pool.conns[0].tx
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
	require.True(t, pool.conns[0].released)
	require.True(t, pool.closed)

	// Closing twice is fine.
	require.NoError(t, store.Close())
}
