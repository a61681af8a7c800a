package config

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func validSSH() SSH {
	return SSH{
		ServerPort:               22,
		LocalVersion:             "SSH-2.0-dropbear_2019.78",
		LoginSuccessRate:         -1,
		SessionTimeoutSeconds:    600,
		SocketTimeoutSeconds:     5,
		MaxUnacceptedConnections: 100,
		BackendAddress:           "backend:80",
		Database: Database{
			MinConnections: 1,
			MaxConnections: 10,
		},
	}
}

func TestSSHCheckAndSetDefaults(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SSH)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *SSH) {}},
		{name: "port out of range", mutate: func(c *SSH) { c.ServerPort = 70000 }, wantErr: true},
		{name: "missing backend address", mutate: func(c *SSH) { c.BackendAddress = "" }, wantErr: true},
		{name: "success rate below range", mutate: func(c *SSH) { c.LoginSuccessRate = -2 }, wantErr: true},
		{name: "success rate above range", mutate: func(c *SSH) { c.LoginSuccessRate = 101 }, wantErr: true},
		{name: "success rate zero is valid", mutate: func(c *SSH) { c.LoginSuccessRate = 0 }},
		{name: "success rate hundred is valid", mutate: func(c *SSH) { c.LoginSuccessRate = 100 }},
		{name: "bad username regex", mutate: func(c *SSH) { c.AllowedUsernamesRegex = "[" }, wantErr: true},
		{name: "bad password regex", mutate: func(c *SSH) { c.AllowedPasswordsRegex = "(" }, wantErr: true},
		{name: "pool bounds inverted", mutate: func(c *SSH) { c.Database.MaxConnections = 0 }, wantErr: true},
		{name: "zero session timeout", mutate: func(c *SSH) { c.SessionTimeoutSeconds = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSSH()
			tt.mutate(&cfg)
			err := cfg.CheckAndSetDefaults()
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, trace.IsBadParameter(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAuthGates(t *testing.T) {
	cfg := validSSH()
	cfg.AllowedUsernamesRegex = "^root$"
	cfg.AllowedPasswordsRegex = "^123$"
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.True(t, cfg.UsernameAllowed("root"))
	require.False(t, cfg.UsernameAllowed("r00t"))
	require.True(t, cfg.PasswordAllowed("123"))
	require.False(t, cfg.PasswordAllowed("bad"))

	// Unset gates allow everything.
	open := validSSH()
	require.NoError(t, open.CheckAndSetDefaults())
	require.True(t, open.UsernameAllowed("anything"))
	require.True(t, open.PasswordAllowed(""))
}

func TestTimeouts(t *testing.T) {
	cfg := validSSH()
	cfg.SessionTimeoutSeconds = 1
	cfg.SocketTimeoutSeconds = 0.5
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, time.Second, cfg.SessionTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.SocketTimeout())
}

func TestBackendCheckAndSetDefaults(t *testing.T) {
	cfg := Backend{TargetSystemAddress: "203.0.113.5"}
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "0.0.0.0:80", cfg.HTTPAPIBindAddress)

	missing := Backend{}
	require.Error(t, missing.CheckAndSetDefaults())

	negative := Backend{TargetSystemAddress: "203.0.113.5", MaxTargetSystems: -1}
	require.Error(t, negative.CheckAndSetDefaults())
}
