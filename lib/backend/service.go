package backend

import (
	"context"
	"net"

	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/dockpot/dockpot"
	"github.com/dockpot/dockpot/gen/tspb"
	"github.com/dockpot/dockpot/lib/honeylog"
)

// Service exposes the orchestrator over the target system provider RPC.
type Service struct {
	tspb.UnimplementedTargetSystemProviderServer

	sandboxes *Sandboxes
	server    *grpc.Server
	log       *log.Entry
}

// NewService wraps the orchestrator in the provider protocol.
func NewService(sandboxes *Sandboxes) *Service {
	s := &Service{
		sandboxes: sandboxes,
		server:    grpc.NewServer(),
		log:       log.WithField(dockpot.Component, dockpot.ComponentBackend),
	}
	tspb.RegisterTargetSystemProviderServer(s.server, s)
	return s
}

// Serve runs the RPC server on the listener until Stop is called.
func (s *Service) Serve(listener net.Listener) error {
	s.log.Infof("Serving the target system provider on %v.", listener.Addr())
	return trace.Wrap(s.server.Serve(listener))
}

// Stop drains in-flight RPCs and stops the server.
func (s *Service) Stop() {
	s.server.GracefulStop()
}

// AcquireTargetSystem implements the provider protocol.
func (s *Service) AcquireTargetSystem(ctx context.Context, req *tspb.AcquisitionRequest) (*tspb.AcquisitionResult, error) {
	ts, err := s.sandboxes.Acquire(ctx, req.GetUser(), req.GetPassword())
	if err != nil {
		if trace.IsLimitExceeded(err) {
			return nil, status.Error(codes.Unavailable, "no target system is available to be acquired")
		}
		s.log.WithError(err).Error("Failed to acquire a target system.")
		return nil, status.Error(codes.Internal, "failed to acquire a target system")
	}
	return &tspb.AcquisitionResult{
		Id:      ts.ID,
		Address: ts.Address,
		Port:    uint32(ts.Port),
	}, nil
}

// YieldTargetSystem implements the provider protocol. Downloads
// recovered from the sandbox's network capture are streamed back before
// the call completes.
func (s *Service) YieldTargetSystem(req *tspb.YieldRequest, stream tspb.TargetSystemProvider_YieldTargetSystemServer) error {
	var sendErr error
	err := s.sandboxes.Yield(stream.Context(), req.GetId(), func(d honeylog.Download) {
		if sendErr != nil {
			return
		}
		sendErr = stream.Send(&tspb.YieldResult{Event: downloadEvent(d)})
	})
	if err != nil {
		if trace.IsNotFound(err) {
			return status.Errorf(codes.NotFound, "target system %v was never acquired", req.GetId())
		}
		s.log.WithError(err).Errorf("Failed to yield target system %v.", req.GetId())
		return status.Error(codes.Internal, "failed to yield the target system")
	}
	return sendErr
}

func downloadEvent(d honeylog.Download) *tspb.Event {
	download := &tspb.Event_Download{
		Url:  d.SourceURL,
		Type: d.FileType,
		Data: d.Data,
	}
	if v4 := d.SourceAddress.To4(); v4 != nil {
		download.SrcAddress = &tspb.Event_Download_SrcAddressV4{SrcAddressV4: v4.String()}
	} else if d.SourceAddress != nil {
		download.SrcAddress = &tspb.Event_Download_SrcAddressV6{SrcAddressV6: d.SourceAddress.String()}
	}
	return &tspb.Event{
		Timestamp: timestamppb.New(d.Timestamp),
		Type:      &tspb.Event_Download_{Download: download},
	}
}
