// Package config loads honeypot configuration from the environment.
//
// Two processes read from here: the frontend (SSH listener, proxy, event
// logger) and the backend (sandbox orchestrator). Each gets its own struct
// so the binaries only validate what they actually use.
package config

import (
	"regexp"
	"time"

	"github.com/gravitational/trace"
	"github.com/kelseyhightower/envconfig"

	"github.com/dockpot/dockpot/lib/defaults"
)

// SSH is the frontend configuration.
type SSH struct {
	// ServerPort is the TCP port the honeypot listens on.
	ServerPort int `envconfig:"SSH_SERVER_PORT" default:"22"`
	// LocalVersion is the advertised SSH version banner.
	LocalVersion string `envconfig:"SSH_LOCAL_VERSION" default:"SSH-2.0-dropbear_2019.78"`
	// AllowedUsernamesRegex gates password auth on the username when
	// non-empty.
	AllowedUsernamesRegex string `envconfig:"SSH_ALLOWED_USERNAMES_REGEX"`
	// AllowedPasswordsRegex gates password auth on the password when
	// non-empty.
	AllowedPasswordsRegex string `envconfig:"SSH_ALLOWED_PASSWORDS_REGEX"`
	// LoginSuccessRate accepts a login with probability rate/100 after the
	// regex gates pass. -1 disables the probabilistic gate.
	LoginSuccessRate int `envconfig:"SSH_LOGIN_SUCCESS_RATE" default:"-1"`
	// SessionTimeoutSeconds is the idle reap threshold.
	SessionTimeoutSeconds int `envconfig:"SSH_SESSION_TIMEOUT" default:"600"`
	// SocketTimeoutSeconds is the accept loop tick.
	SocketTimeoutSeconds float64 `envconfig:"SSH_SOCKET_TIMEOUT" default:"5"`
	// MaxUnacceptedConnections is the TCP listen backlog.
	MaxUnacceptedConnections int `envconfig:"SSH_MAX_UNACCEPTED_CONNECTIONS" default:"100"`
	// BackendAddress is the orchestrator RPC endpoint.
	BackendAddress string `envconfig:"BACKEND_ADDRESS"`
	// LogFile receives a copy of operator logs when set.
	LogFile string `envconfig:"LOG_FILE"`
	// EnableDebugLogging raises the operator log level to debug.
	EnableDebugLogging bool `envconfig:"ENABLE_DEBUG_LOGGING"`

	// Database holds the event store connection parameters. The store is
	// optional: with an empty hostname events go to the console sink.
	Database Database

	// usernames and passwords hold the compiled auth gates.
	usernames *regexp.Regexp
	passwords *regexp.Regexp
}

// Database holds event store connection parameters.
type Database struct {
	Hostname       string `envconfig:"DB_HOSTNAME"`
	Database       string `envconfig:"DB_DATABASE" default:"dockpot"`
	Username       string `envconfig:"DB_USERNAME"`
	Password       string `envconfig:"DB_PASSWORD"`
	MinConnections int    `envconfig:"DB_MIN_CONNECTIONS" default:"1"`
	MaxConnections int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
}

// Backend is the sandbox orchestrator configuration.
type Backend struct {
	// TargetSystemAddress is the address attacker sessions use to reach
	// sandboxes, i.e. the docker host as seen from the frontend.
	TargetSystemAddress string `envconfig:"TARGET_SYSTEM_ADDRESS"`
	// HTTPAPIBindAddress is where the provider RPC is served.
	HTTPAPIBindAddress string `envconfig:"HTTP_API_BIND_ADDRESS" default:"0.0.0.0:80"`
	// EnableIsolatedNetworks puts every sandbox on its own labeled
	// virtual network.
	EnableIsolatedNetworks bool `envconfig:"ENABLE_ISOLATED_TARGET_CONTAINER_NETWORKS"`
	// KeepVolumes disables volume pruning after sandbox teardown.
	KeepVolumes bool `envconfig:"KEEP_TARGET_SYSTEM_VOLUMES"`
	// MaxTargetSystems bounds concurrently acquired sandboxes; further
	// acquisitions are answered with UNAVAILABLE. 0 means unbounded.
	MaxTargetSystems int `envconfig:"MAX_TARGET_SYSTEMS"`
	// LogFile receives a copy of operator logs when set.
	LogFile string `envconfig:"LOG_FILE"`
	// EnableDebugLogging raises the operator log level to debug.
	EnableDebugLogging bool `envconfig:"ENABLE_DEBUG_LOGGING"`
}

// LoadSSH reads the frontend configuration from the environment.
func LoadSSH() (*SSH, error) {
	var cfg SSH
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// LoadBackend reads the orchestrator configuration from the environment.
func LoadBackend() (*Backend, error) {
	var cfg Backend
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &cfg, nil
}

// CheckAndSetDefaults validates the frontend configuration and compiles
// the auth gates.
func (c *SSH) CheckAndSetDefaults() error {
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return trace.BadParameter("SSH_SERVER_PORT %v is out of range", c.ServerPort)
	}
	if c.BackendAddress == "" {
		return trace.BadParameter("BACKEND_ADDRESS is required")
	}
	if c.LoginSuccessRate != -1 && (c.LoginSuccessRate < 0 || c.LoginSuccessRate > 100) {
		return trace.BadParameter("SSH_LOGIN_SUCCESS_RATE %v must be -1 or within [0, 100]", c.LoginSuccessRate)
	}
	if c.SessionTimeoutSeconds <= 0 {
		return trace.BadParameter("SSH_SESSION_TIMEOUT must be positive")
	}
	if c.SocketTimeoutSeconds <= 0 {
		return trace.BadParameter("SSH_SOCKET_TIMEOUT must be positive")
	}
	if c.MaxUnacceptedConnections <= 0 {
		c.MaxUnacceptedConnections = defaults.MaxUnacceptedConnections
	}
	if c.Database.MinConnections <= 0 {
		c.Database.MinConnections = defaults.DBMinConnections
	}
	if c.Database.MaxConnections < c.Database.MinConnections {
		return trace.BadParameter("DB_MAX_CONNECTIONS %v is below DB_MIN_CONNECTIONS %v",
			c.Database.MaxConnections, c.Database.MinConnections)
	}
	var err error
	if c.AllowedUsernamesRegex != "" {
		if c.usernames, err = regexp.Compile(c.AllowedUsernamesRegex); err != nil {
			return trace.BadParameter("SSH_ALLOWED_USERNAMES_REGEX does not compile: %v", err)
		}
	}
	if c.AllowedPasswordsRegex != "" {
		if c.passwords, err = regexp.Compile(c.AllowedPasswordsRegex); err != nil {
			return trace.BadParameter("SSH_ALLOWED_PASSWORDS_REGEX does not compile: %v", err)
		}
	}
	return nil
}

// UsernameAllowed reports whether the username passes the regex gate.
// An unset gate allows everything.
func (c *SSH) UsernameAllowed(username string) bool {
	return c.usernames == nil || c.usernames.MatchString(username)
}

// PasswordAllowed reports whether the password passes the regex gate.
// An unset gate allows everything.
func (c *SSH) PasswordAllowed(password string) bool {
	return c.passwords == nil || c.passwords.MatchString(password)
}

// SessionTimeout returns the idle reap threshold as a duration.
func (c *SSH) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SocketTimeout returns the accept loop tick as a duration.
func (c *SSH) SocketTimeout() time.Duration {
	return time.Duration(c.SocketTimeoutSeconds * float64(time.Second))
}

// CheckAndSetDefaults validates the orchestrator configuration.
func (c *Backend) CheckAndSetDefaults() error {
	if c.TargetSystemAddress == "" {
		return trace.BadParameter("TARGET_SYSTEM_ADDRESS is required")
	}
	if c.HTTPAPIBindAddress == "" {
		c.HTTPAPIBindAddress = defaults.HTTPAPIBindAddress
	}
	if c.MaxTargetSystems < 0 {
		return trace.BadParameter("MAX_TARGET_SYSTEMS may not be negative")
	}
	return nil
}
