// Package postgres persists honeylog sessions to a Postgres event store.
//
// Every running session owns one pooled connection with one open
// transaction; events are applied eagerly against it and become visible
// at End, which commits. The pool is bounded, so the number of
// concurrently persisted sessions is bounded too; acquisition retries
// with exponential backoff up to a wall clock deadline.
package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/defaults"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/utils"
)

var sessionsAborted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dockpot_logging_sessions_aborted_total",
		Help: "Number of logging sessions aborted before commit, each one lost data",
	},
)

func init() {
	prometheus.MustRegister(sessionsAborted)
}

// Config holds event store connection parameters.
type Config struct {
	// Hostname of the Postgres server.
	Hostname string
	// Database name.
	Database string
	// Username and Password authenticate the store connection.
	Username string
	Password string
	// MinConnections and MaxConnections bound the pool.
	MinConnections int
	MaxConnections int
	// AcquireRetries bounds connection acquisition attempts per session.
	AcquireRetries int
	// AcquireDeadline bounds connection acquisition in wall clock time.
	AcquireDeadline time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Hostname == "" {
		return trace.BadParameter("missing store hostname")
	}
	if c.Database == "" {
		return trace.BadParameter("missing database name")
	}
	if c.MinConnections <= 0 {
		c.MinConnections = defaults.DBMinConnections
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaults.DBMaxConnections
	}
	if c.AcquireRetries <= 0 {
		c.AcquireRetries = defaults.DBAcquireRetries
	}
	if c.AcquireDeadline <= 0 {
		c.AcquireDeadline = defaults.DBAcquireDeadline
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// pool abstracts pgxpool.Pool so tests can inject a fake.
type pool interface {
	Acquire(ctx context.Context) (poolConn, error)
	Close()
}

// poolConn abstracts one borrowed pool connection.
type poolConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (poolConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return conn, nil
}

func (p pgxPool) Close() {
	p.pool.Close()
}

// Store is a honeylog.Store writing to Postgres.
type Store struct {
	cfg   Config
	pool  pool
	clock clockwork.Clock
	log   *log.Entry

	// closeCtx cancels in-flight SQL when the store shuts down.
	closeCtx context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	running map[*LogSession]struct{}
	closed  bool
}

// NewStore connects the bounded pool and returns the store.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	connString := fmt.Sprintf(
		"postgres://%s:%s@%s/%s?pool_min_conns=%d&pool_max_conns=%d",
		cfg.Username, cfg.Password, cfg.Hostname, cfg.Database,
		cfg.MinConnections, cfg.MaxConnections)
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to connect to event store at %v", cfg.Hostname)
	}
	return newStore(cfg, pgxPool{pool: p}), nil
}

func newStore(cfg Config, p pool) *Store {
	closeCtx, cancel := context.WithCancel(context.Background())
	return &Store{
		cfg:      cfg,
		pool:     p,
		clock:    cfg.Clock,
		log:      log.WithField(dockpot.Component, dockpot.ComponentLogger),
		closeCtx: closeCtx,
		cancel:   cancel,
		running:  make(map[*LogSession]struct{}),
	}
}

// NewSession implements honeylog.Store.
func (s *Store) NewSession(e honeylog.Endpoint) honeylog.Session {
	return &LogSession{
		store:    s,
		endpoint: e,
		log: s.log.WithFields(log.Fields{
			"src":      e.SrcAddress.String(),
			"src_port": e.SrcPort,
		}),
	}
}

// Close aborts any session still running and shuts the pool down. A
// session running at close time is a bug somewhere upstream; its events
// are lost and reported as such.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	leaked := make([]*LogSession, 0, len(s.running))
	for sess := range s.running {
		leaked = append(leaked, sess)
	}
	s.mu.Unlock()

	for _, sess := range leaked {
		sess.log.Error("DATA LOST: logging session was still running at store shutdown")
		sess.abort()
	}
	s.cancel()
	s.pool.Close()
	return nil
}

func (s *Store) track(sess *LogSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[sess] = struct{}{}
}

func (s *Store) forget(sess *LogSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, sess)
}

// sessionState is the begin state of a logging session.
type sessionState int

const (
	stateUnset sessionState = iota
	stateRunning
	stateEnded
	stateAborted
)

// LogSession is one attacker session's transaction against the store.
type LogSession struct {
	store    *Store
	endpoint honeylog.Endpoint
	log      *log.Entry

	mu      sync.Mutex
	version string
	state   sessionState
	conn    poolConn
	tx      pgx.Tx
	id      int64
}

// SetRemoteVersion implements honeylog.Session. Must precede Begin so
// every persisted session carries a version string.
func (s *LogSession) SetRemoteVersion(version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
}

// Begin borrows a connection from the pool, opens the transaction and
// inserts the session header rows.
func (s *LogSession) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateUnset {
		return trace.BadParameter("logging session was already started")
	}
	timestamp := s.store.clock.Now().UTC()

	conn, err := s.acquireLocked()
	if err != nil {
		s.state = stateAborted
		sessionsAborted.Inc()
		s.log.WithError(err).Error("DATA LOST: failed to acquire an event store connection")
		return trace.Wrap(err)
	}
	tx, err := conn.Begin(s.store.closeCtx)
	if err != nil {
		conn.Release()
		s.state = stateAborted
		sessionsAborted.Inc()
		return trace.Wrap(err)
	}
	s.conn, s.tx = conn, tx
	s.state = stateRunning
	s.store.track(s)

	if err := s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		if err := insertNetworkSource(ctx, tx, s.endpoint.SrcAddress); err != nil {
			return trace.Wrap(err)
		}
		return tx.QueryRow(ctx, `
			INSERT INTO Session (ssh_version, attack_src, protocol, src_port, dst_ip, dst_port, start_timestamp)
				VALUES ($1, $2, 'ssh', $3, $4, $5, $6)
				RETURNING id`,
			s.version, s.endpoint.SrcAddress.String(), s.endpoint.SrcPort,
			s.endpoint.DstAddress.String(), s.endpoint.DstPort, timestamp,
		).Scan(&s.id)
	}); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO SSHSession (session_id, version)
				VALUES ($1, $2)`,
			s.id, s.version)
		return trace.Wrap(err)
	}))
}

// acquireLocked borrows a pool connection, retrying with exponential
// backoff until the retry or deadline budget runs out.
func (s *LogSession) acquireLocked() (poolConn, error) {
	backoff, err := utils.NewExponential(utils.ExponentialConfig{
		Base:    defaults.BackoffBase,
		Retries: s.store.cfg.AcquireRetries,
		Clock:   s.store.clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	deadline := s.store.clock.Now().Add(s.store.cfg.AcquireDeadline)
	for {
		conn, err := s.store.pool.Acquire(s.store.closeCtx)
		if err == nil {
			return conn, nil
		}
		s.log.WithError(err).Debug("Event store connection not available, backing off")
		if s.store.clock.Now().After(deadline) {
			return nil, trace.LimitExceeded("gave up acquiring an event store connection after %v", s.store.cfg.AcquireDeadline)
		}
		if err := backoff.Wait(s.store.closeCtx); err != nil {
			return nil, trace.Wrap(err)
		}
	}
}

// applyLocked runs one insert against the open transaction. Any failure
// aborts the session: the transaction is dead at that point and every
// buffered event in it is lost.
func (s *LogSession) applyLocked(fn func(ctx context.Context, tx pgx.Tx) error) error {
	if s.state != stateRunning {
		return trace.BadParameter("logging session is not running")
	}
	if err := fn(s.store.closeCtx, s.tx); err != nil {
		s.log.WithError(err).Error("DATA LOST: event store insert failed, aborting logging session")
		s.abortLocked()
		return trace.Wrap(err)
	}
	return nil
}

// insertEventLocked writes the Event row and returns its id.
func (s *LogSession) insertEventLocked(ctx context.Context, tx pgx.Tx, eventType string, timestamp time.Time) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO Event (session_id, session_protocol, type, timestamp)
			VALUES ($1, 'ssh', $2, $3)
			RETURNING id`,
		s.id, eventType, timestamp).Scan(&id)
	return id, trace.Wrap(err)
}

func insertNetworkSource(ctx context.Context, tx pgx.Tx, ip net.IP) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO NetworkSource (ip_address)
			VALUES ($1)
			ON CONFLICT (ip_address) DO NOTHING`,
		ip.String())
	return trace.Wrap(err)
}

func (s *LogSession) LogLoginAttempt(username, password string) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "login_attempt", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO LoginAttempt (event_id, username, password)
				VALUES ($1, $2, $3)`,
			eventID, username, password)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogPTYRequest(term string, widthCols, heightRows, widthPx, heightPx uint32) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "pty_request", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO PTYRequest (event_id, event_type, session_protocol, term, term_width_cols,
				term_height_rows, term_width_pixels, term_height_pixels)
				VALUES ($1, 'pty_request', 'ssh', $2, $3, $4, $5, $6)`,
			eventID, term, widthCols, heightRows, widthPx, heightPx)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogEnvRequest(channel uint32, name, value string) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "env_request", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO EnvRequest (event_id, event_type, session_protocol, channel_id, name, value)
				VALUES ($1, 'env_request', 'ssh', $2, $3, $4)`,
			eventID, channel, name, value)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogDirectTCPIPRequest(channel uint32, originIP net.IP, originPort uint32, destination string, destinationPort uint32) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "direct_tcpip_request", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO DirectTCPIPRequest (event_id, event_type, session_protocol, channel_id,
				origin_ip, origin_port, destination, destination_port)
				VALUES ($1, 'direct_tcpip_request', 'ssh', $2, $3, $4, $5, $6)`,
			eventID, channel, originIP.String(), originPort, destination, destinationPort)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogX11Request(channel uint32, singleConnection bool, authProtocol string, authCookie []byte, screenNumber uint32) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "x_eleven_request", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO XElevenRequest (event_id, event_type, session_protocol, channel_id,
				single_connection, auth_protocol, auth_cookie, screen_number)
				VALUES ($1, 'x_eleven_request', 'ssh', $2, $3, $4, $5, $6)`,
			eventID, channel, singleConnection, authProtocol, authCookie, screenNumber)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogPortForwardRequest(address string, port uint32) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "port_forward_request", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO PortForwardRequest (event_id, event_type, session_protocol, address, port)
				VALUES ($1, 'port_forward_request', 'ssh', $2, $3)`,
			eventID, address, port)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogCommand(input string) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "command", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO Command (event_id, input)
				VALUES ($1, $2)`,
			eventID, input)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogChannelOutput(channel uint32, data []byte) error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "ssh_channel_output", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO SSHChannelOutput (event_id, data, channel)
				VALUES ($1, $2, $3)`,
			eventID, data, channel)
		return trace.Wrap(err)
	}))
}

func (s *LogSession) LogDownload(d honeylog.Download) error {
	timestamp := d.Timestamp
	if timestamp.IsZero() {
		timestamp = s.store.clock.Now()
	}
	timestamp = timestamp.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	return trace.Wrap(s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		eventID, err := s.insertEventLocked(ctx, tx, "download", timestamp)
		if err != nil {
			return trace.Wrap(err)
		}
		// File is content addressed by sha256; identical downloads share
		// one row, bytes are upserted only in save mode.
		if d.SaveData {
			_, err = tx.Exec(ctx, `
				INSERT INTO File (hash, data, type)
					VALUES (sha256($1), $1, $2)
					ON CONFLICT (hash) DO UPDATE SET data = $1`,
				d.Data, d.FileType)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO File (hash, data, type)
					VALUES (sha256($1), NULL, $2)
					ON CONFLICT (hash) DO NOTHING`,
				d.Data, d.FileType)
		}
		if err != nil {
			return trace.Wrap(err)
		}
		// A capture without the request half carries no source address.
		var src *string
		if d.SourceAddress != nil {
			if err := insertNetworkSource(ctx, tx, d.SourceAddress); err != nil {
				return trace.Wrap(err)
			}
			addr := d.SourceAddress.String()
			src = &addr
		}
		hash := sha256.Sum256(d.Data)
		var url *string
		if d.SourceURL != "" {
			url = &d.SourceURL
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO Download (event_id, hash, src, url)
				VALUES ($1, $2, $3, $4)`,
			eventID, hash[:], src, url)
		return trace.Wrap(err)
	}))
}

// End stamps the session's end, commits the transaction and returns the
// connection to the pool.
func (s *LogSession) End() error {
	timestamp := s.store.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.applyLocked(func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE Session
				SET end_timestamp = $1
				WHERE id = $2`,
			timestamp, s.id)
		return trace.Wrap(err)
	}); err != nil {
		return trace.Wrap(err)
	}
	if err := s.tx.Commit(s.store.closeCtx); err != nil {
		s.log.WithError(err).Error("DATA LOST: failed to commit logging session")
		s.abortLocked()
		return trace.Wrap(err)
	}
	s.state = stateEnded
	s.conn.Release()
	s.conn, s.tx = nil, nil
	s.store.forget(s)
	s.log.Debug("Logging session committed")
	return nil
}

func (s *LogSession) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
}

// abortLocked rolls the transaction back and releases the connection.
// Safe to call in any state.
func (s *LogSession) abortLocked() {
	if s.state != stateRunning {
		return
	}
	s.state = stateAborted
	sessionsAborted.Inc()
	if s.tx != nil {
		if err := s.tx.Rollback(s.store.closeCtx); err != nil && err != pgx.ErrTxClosed {
			s.log.WithError(err).Warn("Failed to roll back logging session transaction")
		}
	}
	if s.conn != nil {
		s.conn.Release()
	}
	s.conn, s.tx = nil, nil
	s.store.forget(s)
}
