// Package tsp is the client side of the target system provider protocol:
// the frontend's window into the sandbox orchestrator.
package tsp

import (
	"context"
	"io"
	"net"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/gen/tspb"
	"github.com/dockpot/dockpot/lib/honeylog"
)

// TargetSystem is an acquired sandbox's SSH endpoint.
type TargetSystem struct {
	// ID identifies the sandbox for the later yield.
	ID string
	// Address is the sandbox host as reachable from the frontend.
	Address string
	// Port is the ephemeral host port mapped to the sandbox's SSH port.
	Port int
}

// Provider hands out sandboxes. One shared instance serves all proxy
// handlers; implementations are safe for concurrent use.
type Provider interface {
	// Acquire requests a sandbox provisioned with the attacker's
	// credentials. Returns ok=false without error when no sandbox is
	// currently free; any error is a hard failure.
	Acquire(ctx context.Context, user, password string) (ts *TargetSystem, ok bool, err error)

	// Yield gives the sandbox back and invokes harvest for every
	// download event recovered from its network capture.
	Yield(ctx context.Context, id string, harvest func(honeylog.Download)) error
}

// Client is a Provider backed by one long lived gRPC connection to the
// orchestrator.
type Client struct {
	conn   *grpc.ClientConn
	client tspb.TargetSystemProviderClient
	log    *log.Entry
}

// NewClient connects to the orchestrator at the given address.
func NewClient(address string) (*Client, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{
		conn:   conn,
		client: tspb.NewTargetSystemProviderClient(conn),
		log:    log.WithField(dockpot.Component, dockpot.ComponentProvider),
	}, nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return trace.Wrap(c.conn.Close())
}

// Acquire implements Provider.
func (c *Client) Acquire(ctx context.Context, user, password string) (*TargetSystem, bool, error) {
	resp, err := c.client.AcquireTargetSystem(ctx, &tspb.AcquisitionRequest{
		User:     user,
		Password: password,
	})
	if err != nil {
		if status.Code(err) == codes.Unavailable {
			c.log.WithError(err).Debug("No target system is available right now")
			return nil, false, nil
		}
		return nil, false, trace.Wrap(err, "failed to acquire a target system")
	}
	return &TargetSystem{
		ID:      resp.GetId(),
		Address: resp.GetAddress(),
		Port:    int(resp.GetPort()),
	}, true, nil
}

// Yield implements Provider.
func (c *Client) Yield(ctx context.Context, id string, harvest func(honeylog.Download)) error {
	stream, err := c.client.YieldTargetSystem(ctx, &tspb.YieldRequest{Id: id})
	if err != nil {
		return trace.Wrap(err, "failed to yield target system %v", id)
	}
	for {
		result, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return trace.NotFound("target system %v is not known to the provider", id)
			}
			return trace.Wrap(err, "failed to yield target system %v", id)
		}
		event := result.GetEvent()
		download := event.GetDownload()
		if download == nil {
			c.log.Warn("Unhandled event type received from the target system provider")
			continue
		}
		d, err := downloadFromEvent(event, download)
		if err != nil {
			c.log.WithError(err).Warn("Discarding malformed download event")
			continue
		}
		harvest(d)
	}
}

func downloadFromEvent(event *tspb.Event, download *tspb.Event_Download) (honeylog.Download, error) {
	var addr string
	switch src := download.GetSrcAddress().(type) {
	case *tspb.Event_Download_SrcAddressV4:
		addr = src.SrcAddressV4
	case *tspb.Event_Download_SrcAddressV6:
		addr = src.SrcAddressV6
	default:
		return honeylog.Download{}, trace.BadParameter("download event carries no source address")
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return honeylog.Download{}, trace.BadParameter("download event source %q is not an IP address", addr)
	}
	d := honeylog.Download{
		Data:          download.GetData(),
		FileType:      download.GetType(),
		SourceAddress: ip,
		SourceURL:     download.GetUrl(),
		SaveData:      true,
	}
	if ts := event.GetTimestamp(); ts != nil {
		d.Timestamp = ts.AsTime()
	}
	return d, nil
}
