// Command dockpot-backend is the sandbox orchestrator: it provisions one
// disposable SSH container per acquisition and serves the target system
// provider RPC consumed by the frontend.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/client"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/backend"
	"github.com/dockpot/dockpot/lib/config"
	"github.com/dockpot/dockpot/lib/utils"
)

func main() {
	if err := run(); err != nil {
		log.WithError(err).Error("Dockpot backend exited with an error.")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadBackend()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := utils.InitLogger(cfg.LogFile, cfg.EnableDebugLogging); err != nil {
		return trace.Wrap(err)
	}
	log.Infof("Starting dockpot backend %v.", dockpot.Version)

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return trace.Wrap(err, "failed to connect to the container runtime")
	}
	defer docker.Close()

	sandboxes, err := backend.NewSandboxes(backend.SandboxesConfig{
		Docker:              docker,
		TargetSystemAddress: cfg.TargetSystemAddress,
		IsolatedNetworks:    cfg.EnableIsolatedNetworks,
		KeepVolumes:         cfg.KeepVolumes,
		MaxTargetSystems:    cfg.MaxTargetSystems,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := sandboxes.PullImages(context.Background()); err != nil {
		return trace.Wrap(err)
	}

	listener, err := net.Listen("tcp", cfg.HTTPAPIBindAddress)
	if err != nil {
		return trace.Wrap(err, "failed to listen on %v", cfg.HTTPAPIBindAddress)
	}

	service := backend.NewService(sandboxes)
	errC := make(chan error, 1)
	go func() {
		errC <- service.Serve(listener)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		log.Infof("Received %v, shutting down.", sig)
		service.Stop()
		<-errC
	case err := <-errC:
		return trace.Wrap(err)
	}

	// Sandboxes survive the process, reap whatever is still labeled ours.
	if err := sandboxes.Reap(context.Background()); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
