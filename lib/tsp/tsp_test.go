package tsp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/gen/tspb"
	"github.com/dockpot/dockpot/lib/honeylog"
)

// fakeProviderServer serves the provider protocol in-process.
type fakeProviderServer struct {
	tspb.UnimplementedTargetSystemProviderServer
	unavailable bool
	knownID     string
	downloads   []*tspb.Event
}

func (s *fakeProviderServer) AcquireTargetSystem(ctx context.Context, req *tspb.AcquisitionRequest) (*tspb.AcquisitionResult, error) {
	if s.unavailable {
		return nil, status.Error(codes.Unavailable, "no target system is free")
	}
	return &tspb.AcquisitionResult{
		Id:      "openssh-server1234",
		Address: "203.0.113.9",
		Port:    49152,
	}, nil
}

func (s *fakeProviderServer) YieldTargetSystem(req *tspb.YieldRequest, stream tspb.TargetSystemProvider_YieldTargetSystemServer) error {
	if req.GetId() != s.knownID {
		return status.Errorf(codes.NotFound, "target system %v was never acquired", req.GetId())
	}
	for _, event := range s.downloads {
		if err := stream.Send(&tspb.YieldResult{Event: event}); err != nil {
			return err
		}
	}
	return nil
}

func startFakeProvider(t *testing.T, srv *fakeProviderServer) *Client {
	t.Helper()
	listener := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	tspb.RegisterTargetSystemProviderServer(server, srv)
	go server.Serve(listener)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &Client{
		conn:   conn,
		client: tspb.NewTargetSystemProviderClient(conn),
		log:    log.WithField(dockpot.Component, dockpot.ComponentProvider),
	}
}

func TestAcquire(t *testing.T) {
	client := startFakeProvider(t, &fakeProviderServer{})
	ts, ok, err := client.Acquire(context.Background(), "root", "123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "openssh-server1234", ts.ID)
	require.Equal(t, "203.0.113.9", ts.Address)
	require.Equal(t, 49152, ts.Port)
}

func TestAcquireUnavailable(t *testing.T) {
	client := startFakeProvider(t, &fakeProviderServer{unavailable: true})
	ts, ok, err := client.Acquire(context.Background(), "root", "123")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, ts)
}

func TestYieldStreamsDownloads(t *testing.T) {
	observed := time.Date(2026, 8, 20, 12, 30, 0, 0, time.UTC)
	srv := &fakeProviderServer{
		knownID: "openssh-server1234",
		downloads: []*tspb.Event{
			{
				Timestamp: timestamppb.New(observed),
				Type: &tspb.Event_Download_{Download: &tspb.Event_Download{
					SrcAddress: &tspb.Event_Download_SrcAddressV4{SrcAddressV4: "192.0.2.44"},
					Url:        "http://192.0.2.44/dropper.sh",
					Type:       "text/x-shellscript",
					Data:       []byte("#!/bin/sh\n"),
				}},
			},
			{
				Type: &tspb.Event_Download_{Download: &tspb.Event_Download{
					SrcAddress: &tspb.Event_Download_SrcAddressV6{SrcAddressV6: "2001:db8::7"},
					Type:       "application/octet-stream",
					Data:       []byte{0x7f, 'E', 'L', 'F'},
				}},
			},
		},
	}
	client := startFakeProvider(t, srv)

	var harvested []honeylog.Download
	err := client.Yield(context.Background(), "openssh-server1234", func(d honeylog.Download) {
		harvested = append(harvested, d)
	})
	require.NoError(t, err)
	require.Len(t, harvested, 2)
	require.Equal(t, observed, harvested[0].Timestamp)
	require.Equal(t, "http://192.0.2.44/dropper.sh", harvested[0].SourceURL)
	require.Equal(t, net.ParseIP("192.0.2.44"), harvested[0].SourceAddress)
	require.Equal(t, net.ParseIP("2001:db8::7"), harvested[1].SourceAddress)
	require.True(t, harvested[0].SaveData)
}

func TestYieldNotFound(t *testing.T) {
	client := startFakeProvider(t, &fakeProviderServer{knownID: "other"})
	err := client.Yield(context.Background(), "openssh-server1234", func(honeylog.Download) {})
	require.Error(t, err)
	require.True(t, trace.IsNotFound(err))
}
