// Package backend is the sandbox orchestrator: the server side of the
// target system provider protocol. It provisions one disposable SSH
// container per acquisition, pairs it with a packet capture sidecar and
// recovers the capture as download events when the sandbox is yielded.
package backend

import (
	"archive/tar"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	log "github.com/sirupsen/logrus"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/lib/backend/netlog"
	"github.com/dockpot/dockpot/lib/defaults"
	"github.com/dockpot/dockpot/lib/honeylog"
	"github.com/dockpot/dockpot/lib/tsp"
)

// targetHostname is what the sandbox reports as its machine name. A
// plausible workstation name, not a container id.
const targetHostname = "Dell-T140"

// containerAPI is the slice of the docker client the orchestrator uses.
// *client.Client satisfies it; tests substitute a fake.
type containerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerExecCreate(ctx context.Context, container string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecStart(ctx context.Context, execID string, options container.ExecStartOptions) error
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	NetworkRemove(ctx context.Context, networkID string) error
	VolumeRemove(ctx context.Context, volumeID string, force bool) error
}

// SandboxesConfig configures the orchestrator.
type SandboxesConfig struct {
	// Docker is the container runtime client.
	Docker containerAPI
	// TargetSystemAddress is the address attacker sessions use to reach
	// sandboxes, typically the docker host as seen from the frontend.
	TargetSystemAddress string
	// TargetSystemImage is the SSH server image run inside sandboxes.
	TargetSystemImage string
	// NetlogImage is the packet capture sidecar image.
	NetlogImage string
	// IsolatedNetworks puts every sandbox on its own virtual network.
	IsolatedNetworks bool
	// KeepVolumes disables capture volume removal at teardown.
	KeepVolumes bool
	// MaxTargetSystems bounds concurrently acquired sandboxes, 0 means
	// unbounded.
	MaxTargetSystems int
	// ReadinessRetries bounds the readiness poll of a new sandbox.
	ReadinessRetries int
	// ReadinessPeriod is the delay between readiness probes.
	ReadinessPeriod time.Duration
	// Clock overrides the wall clock in tests.
	Clock clockwork.Clock
	// Log is the logger, defaults to the backend component.
	Log *log.Entry
}

// CheckAndSetDefaults validates the config.
func (c *SandboxesConfig) CheckAndSetDefaults() error {
	if c.Docker == nil {
		return trace.BadParameter("missing docker client")
	}
	if c.TargetSystemAddress == "" {
		return trace.BadParameter("missing target system address")
	}
	if c.TargetSystemImage == "" {
		c.TargetSystemImage = defaults.TargetSystemImage
	}
	if c.NetlogImage == "" {
		c.NetlogImage = defaults.NetlogImage
	}
	if c.ReadinessRetries <= 0 {
		c.ReadinessRetries = defaults.ReadinessProbeRetries
	}
	if c.ReadinessPeriod <= 0 {
		c.ReadinessPeriod = defaults.ReadinessProbePeriod
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = log.WithField(dockpot.Component, dockpot.ComponentBackend)
	}
	return nil
}

// sandbox tracks the runtime resources behind one acquisition.
type sandbox struct {
	id      string
	sidecar string
	volume  string
	network string
}

// Sandboxes provisions and reclaims target systems.
type Sandboxes struct {
	cfg SandboxesConfig

	mu     sync.Mutex
	active map[string]*sandbox
}

// NewSandboxes returns an orchestrator with no active sandboxes.
func NewSandboxes(cfg SandboxesConfig) (*Sandboxes, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Sandboxes{
		cfg:    cfg,
		active: make(map[string]*sandbox),
	}, nil
}

// PullImages fetches the sandbox and sidecar images so acquisitions do
// not pay the pull latency. Called once at startup.
func (s *Sandboxes) PullImages(ctx context.Context) error {
	for _, ref := range []string{s.cfg.TargetSystemImage, s.cfg.NetlogImage} {
		s.cfg.Log.Infof("Pulling image %v.", ref)
		rc, err := s.cfg.Docker.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return trace.Wrap(err, "failed to pull image %v", ref)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return trace.Wrap(err, "failed to pull image %v", ref)
		}
	}
	return nil
}

// Acquire provisions a sandbox with the attacker's credentials and
// returns its SSH endpoint. Returns a limit exceeded error when all
// sandbox slots are in use.
func (s *Sandboxes) Acquire(ctx context.Context, user, password string) (*tsp.TargetSystem, error) {
	s.mu.Lock()
	if s.cfg.MaxTargetSystems > 0 && len(s.active) >= s.cfg.MaxTargetSystems {
		s.mu.Unlock()
		return nil, trace.LimitExceeded("all %v target system slots are in use", s.cfg.MaxTargetSystems)
	}
	sb := &sandbox{id: newSandboxID()}
	sb.sidecar = sb.id + "-netlog"
	sb.volume = sb.id + defaults.NetlogVolumeSuffix
	s.active[sb.id] = sb
	s.mu.Unlock()

	ts, err := s.provision(ctx, sb, user, password)
	if err != nil {
		// No orphans: whatever half of the sandbox came up goes away.
		s.teardown(context.Background(), sb)
		s.mu.Lock()
		delete(s.active, sb.id)
		s.mu.Unlock()
		return nil, trace.Wrap(err)
	}
	s.cfg.Log.Infof("Acquired target system %v on port %v.", ts.ID, ts.Port)
	return ts, nil
}

// newSandboxID mints a container name with a random 32 bit suffix.
func newSandboxID() string {
	u := uuid.New()
	return fmt.Sprintf("%s%d", defaults.TargetSystemIDPrefix, binary.BigEndian.Uint32(u[:4]))
}

func (s *Sandboxes) provision(ctx context.Context, sb *sandbox, user, password string) (*tsp.TargetSystem, error) {
	if s.cfg.IsolatedNetworks {
		resp, err := s.cfg.Docker.NetworkCreate(ctx, sb.id+"-net", network.CreateOptions{
			Labels: map[string]string{defaults.RoleLabel: defaults.RoleTargetSystem},
		})
		if err != nil {
			return nil, trace.Wrap(err, "failed to create an isolated network for %v", sb.id)
		}
		sb.network = resp.ID
	}

	sshPort := nat.Port(defaults.TargetSystemSSHPort)
	targetConfig := &container.Config{
		Image:    s.cfg.TargetSystemImage,
		Hostname: targetHostname,
		Env: []string{
			"PUID=1000",
			"PGID=1000",
			"TZ=Europe/London",
			"SUDO_ACCESS=true",
			"PASSWORD_ACCESS=true",
			"USER_PASSWORD=" + password,
			"USER_NAME=" + user,
		},
		ExposedPorts: nat.PortSet{sshPort: struct{}{}},
		Labels:       map[string]string{defaults.RoleLabel: defaults.RoleTargetSystem},
	}
	targetHost := &container.HostConfig{
		PortBindings: nat.PortMap{
			sshPort: []nat.PortBinding{{HostIP: "0.0.0.0"}},
		},
	}
	if sb.network != "" {
		targetHost.NetworkMode = container.NetworkMode(sb.id + "-net")
	}
	if _, err := s.cfg.Docker.ContainerCreate(ctx, targetConfig, targetHost, nil, nil, sb.id); err != nil {
		return nil, trace.Wrap(err, "failed to create target system %v", sb.id)
	}
	if err := s.cfg.Docker.ContainerStart(ctx, sb.id, container.StartOptions{}); err != nil {
		return nil, trace.Wrap(err, "failed to start target system %v", sb.id)
	}

	// The sidecar joins the target's network namespace so it sees the
	// exact packets the sandbox sends and receives.
	sidecarConfig := &container.Config{
		Image:  s.cfg.NetlogImage,
		Labels: map[string]string{defaults.RoleLabel: defaults.RoleNetlog},
	}
	sidecarHost := &container.HostConfig{
		NetworkMode: container.NetworkMode("container:" + sb.id),
		Binds:       []string{sb.volume + ":" + path.Dir(defaults.NetlogPcapPath)},
	}
	if _, err := s.cfg.Docker.ContainerCreate(ctx, sidecarConfig, sidecarHost, nil, nil, sb.sidecar); err != nil {
		return nil, trace.Wrap(err, "failed to create the capture sidecar of %v", sb.id)
	}
	if err := s.cfg.Docker.ContainerStart(ctx, sb.sidecar, container.StartOptions{}); err != nil {
		return nil, trace.Wrap(err, "failed to start the capture sidecar of %v", sb.id)
	}

	if err := s.waitReady(ctx, sb.id); err != nil {
		return nil, trace.Wrap(err)
	}

	port, err := s.hostPort(ctx, sb.id, sshPort)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &tsp.TargetSystem{
		ID:      sb.id,
		Address: s.cfg.TargetSystemAddress,
		Port:    port,
	}, nil
}

// waitReady polls the sandbox's init supervisor until the SSH service
// reports up.
func (s *Sandboxes) waitReady(ctx context.Context, id string) error {
	probe := strings.Fields(defaults.ReadinessProbeCommand)
	for attempt := 0; attempt < s.cfg.ReadinessRetries; attempt++ {
		ready, err := s.runProbe(ctx, id, probe)
		if err != nil {
			return trace.Wrap(err)
		}
		if ready {
			return nil
		}
		select {
		case <-s.cfg.Clock.After(s.cfg.ReadinessPeriod):
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
	return trace.ConnectionProblem(nil, "target system %v did not become ready after %v probes",
		id, s.cfg.ReadinessRetries)
}

func (s *Sandboxes) runProbe(ctx context.Context, id string, probe []string) (bool, error) {
	exec, err := s.cfg.Docker.ContainerExecCreate(ctx, id, container.ExecOptions{Cmd: probe})
	if err != nil {
		return false, trace.Wrap(err, "failed to probe target system %v", id)
	}
	if err := s.cfg.Docker.ContainerExecStart(ctx, exec.ID, container.ExecStartOptions{}); err != nil {
		return false, trace.Wrap(err, "failed to probe target system %v", id)
	}
	for {
		info, err := s.cfg.Docker.ContainerExecInspect(ctx, exec.ID)
		if err != nil {
			return false, trace.Wrap(err, "failed to probe target system %v", id)
		}
		if !info.Running {
			return info.ExitCode == 0, nil
		}
		select {
		case <-s.cfg.Clock.After(100 * time.Millisecond):
		case <-ctx.Done():
			return false, trace.Wrap(ctx.Err())
		}
	}
}

func (s *Sandboxes) hostPort(ctx context.Context, id string, sshPort nat.Port) (int, error) {
	info, err := s.cfg.Docker.ContainerInspect(ctx, id)
	if err != nil {
		return 0, trace.Wrap(err, "failed to inspect target system %v", id)
	}
	if info.NetworkSettings == nil || len(info.NetworkSettings.Ports[sshPort]) == 0 {
		return 0, trace.NotFound("target system %v has no host binding for %v", id, sshPort)
	}
	port, err := strconv.Atoi(info.NetworkSettings.Ports[sshPort][0].HostPort)
	if err != nil {
		return 0, trace.BadParameter("target system %v has a malformed host port: %v", id, err)
	}
	return port, nil
}

// Yield reclaims a sandbox: the target is stopped, the capture sidecar
// drained, every HTTP object reconstructed from the capture is handed to
// harvest, then all runtime resources are removed. Returns a not found
// error for ids that are not active, double yields included.
func (s *Sandboxes) Yield(ctx context.Context, id string, harvest func(honeylog.Download)) error {
	s.mu.Lock()
	sb, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return trace.NotFound("target system %v is not active", id)
	}
	delete(s.active, id)
	s.mu.Unlock()

	if err := s.cfg.Docker.ContainerStop(ctx, sb.id, container.StopOptions{}); err != nil {
		s.cfg.Log.WithError(err).Warnf("Failed to stop target system %v.", sb.id)
	}
	// The capture file is only safe to read once the sandbox cannot
	// produce more traffic.
	if err := s.waitExited(ctx, sb.id); err != nil {
		s.cfg.Log.WithError(err).Warnf("Target system %v did not reach the exited state.", sb.id)
	}
	if err := s.cfg.Docker.ContainerStop(ctx, sb.sidecar, container.StopOptions{}); err != nil {
		s.cfg.Log.WithError(err).Warnf("Failed to stop the capture sidecar of %v.", sb.id)
	}

	if capture, err := s.readCapture(ctx, sb); err != nil {
		s.cfg.Log.WithError(err).Warnf("Failed to recover the network capture of %v.", sb.id)
	} else {
		downloads, err := netlog.ExtractDownloads(capture, s.cfg.Log)
		if err != nil {
			s.cfg.Log.WithError(err).Warnf("Failed to parse the network capture of %v.", sb.id)
		}
		for _, d := range downloads {
			harvest(d)
		}
	}

	s.teardown(ctx, sb)
	s.cfg.Log.Infof("Yielded target system %v.", sb.id)
	return nil
}

func (s *Sandboxes) waitExited(ctx context.Context, id string) error {
	for attempt := 0; attempt < s.cfg.ReadinessRetries; attempt++ {
		info, err := s.cfg.Docker.ContainerInspect(ctx, id)
		if err != nil {
			return trace.Wrap(err)
		}
		if info.State != nil && info.State.Status == "exited" {
			return nil
		}
		select {
		case <-s.cfg.Clock.After(s.cfg.ReadinessPeriod):
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
	return trace.ConnectionProblem(nil, "target system %v is still not exited", id)
}

// readCapture pulls the pcap out of the sidecar as a tar stream and
// returns the file's bytes.
func (s *Sandboxes) readCapture(ctx context.Context, sb *sandbox) ([]byte, error) {
	rc, _, err := s.cfg.Docker.CopyFromContainer(ctx, sb.sidecar, defaults.NetlogPcapPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil, trace.NotFound("capture archive of %v contains no %v",
				sb.id, path.Base(defaults.NetlogPcapPath))
		}
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if header.Typeflag == tar.TypeReg && path.Base(header.Name) == path.Base(defaults.NetlogPcapPath) {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			return data, nil
		}
	}
}

// teardown force removes whatever parts of the sandbox exist. Errors are
// logged, not returned; teardown runs on paths that are already failing.
func (s *Sandboxes) teardown(ctx context.Context, sb *sandbox) {
	removeOpts := container.RemoveOptions{Force: true}
	if err := s.cfg.Docker.ContainerRemove(ctx, sb.sidecar, removeOpts); err != nil {
		s.cfg.Log.WithError(err).Debugf("Failed to remove the capture sidecar of %v.", sb.id)
	}
	if err := s.cfg.Docker.ContainerRemove(ctx, sb.id, removeOpts); err != nil {
		s.cfg.Log.WithError(err).Debugf("Failed to remove target system %v.", sb.id)
	}
	if sb.network != "" {
		if err := s.cfg.Docker.NetworkRemove(ctx, sb.network); err != nil {
			s.cfg.Log.WithError(err).Debugf("Failed to remove the network of %v.", sb.id)
		}
	}
	if !s.cfg.KeepVolumes {
		if err := s.cfg.Docker.VolumeRemove(ctx, sb.volume, true); err != nil {
			s.cfg.Log.WithError(err).Debugf("Failed to remove the capture volume of %v.", sb.id)
		}
	}
}

// Reap force removes every container carrying the orchestrator's role
// label, whether this process created it or a crashed predecessor did.
// Called at shutdown.
func (s *Sandboxes) Reap(ctx context.Context) error {
	list, err := s.cfg.Docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", defaults.RoleLabel)),
	})
	if err != nil {
		return trace.Wrap(err, "failed to list orchestrator containers")
	}
	for _, summary := range list {
		if err := s.cfg.Docker.ContainerRemove(ctx, summary.ID, container.RemoveOptions{Force: true}); err != nil {
			s.cfg.Log.WithError(err).Warnf("Failed to remove container %v.", summary.ID)
			continue
		}
		s.cfg.Log.Infof("Removed container %v.", summary.ID)
	}
	s.mu.Lock()
	s.active = make(map[string]*sandbox)
	s.mu.Unlock()
	return nil
}

// ActiveCount returns the number of currently acquired sandboxes.
func (s *Sandboxes) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
