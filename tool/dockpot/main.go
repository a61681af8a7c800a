// Command dockpot is the honeypot frontend: it accepts attacker SSH
// sessions, proxies them into disposable sandboxes obtained from the
// backend and logs everything the attacker does.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/config"
	"github.com/dockpot/dockpot/lib/defaults"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/honeylog/postgres"
	"github.com/dockpot/dockpot/lib/srv"
	"github.com/dockpot/dockpot/lib/tsp"
	"github.com/dockpot/dockpot/lib/utils"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("Dockpot exited with an error.")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadSSH()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := utils.InitLogger(cfg.LogFile, cfg.EnableDebugLogging); err != nil {
		return trace.Wrap(err)
	}
	log.Infof("Starting dockpot %v.", dockpot.Version)

	hostSigner, err := utils.ReadHostKey(defaults.HostKeyPath)
	if err != nil {
		return trace.Wrap(err)
	}

	// Without a public address sessions record the local socket address
	// as their destination, which is good enough behind NAT.
	publicIP, err := utils.PublicIP(context.Background())
	if err != nil {
		log.WithError(err).Warn("Failed to discover the public IP address.")
	}

	provider, err := tsp.NewClient(cfg.BackendAddress)
	if err != nil {
		return trace.Wrap(err)
	}
	defer provider.Close()

	var store honeylog.Store
	if cfg.Database.Hostname != "" {
		store, err = postgres.NewStore(context.Background(), postgres.Config{
			Hostname:       cfg.Database.Hostname,
			Database:       cfg.Database.Database,
			Username:       cfg.Database.Username,
			Password:       cfg.Database.Password,
			MinConnections: cfg.Database.MinConnections,
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	} else {
		log.Warn("DB_HOSTNAME is not set, events go to the console only.")
		store = honeylog.NewConsoleStore()
	}
	defer store.Close()

	server, err := srv.NewServer(srv.ServerConfig{
		Config:        cfg,
		HostSigner:    hostSigner,
		Provider:      provider,
		Store:         store,
		PublicAddress: publicIP,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := server.Start(); err != nil {
		return trace.Wrap(err)
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	log.Infof("Received %v, shutting down.", sig)

	server.Close()
	return nil
}
