package server

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       *LedgerService
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// FullMethod returns the gRPC method path of a ledger RPC.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// NewGRPCServer creates a gRPC server with the ledger, health and reflection
// services registered.
func NewGRPCServer(grpcAddr, httpAddr string, service *LedgerService, healthChecker *observability.HealthChecker, logger zerolog.Logger) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       service,
		healthChecker: healthChecker,
		logger:        logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	desc := ledgerServiceDesc()
	s.grpcServer.RegisterService(&desc, service)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	reflection.Register(s.grpcServer)
	return s
}

// SetServing flips the gRPC health status of the ledger service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus(ServiceName, st)
	s.healthServer.SetServingStatus("", st)
}

// Server exposes the underlying grpc.Server, e.g. for in-memory listeners.
func (s *GRPCServer) Server() *grpc.Server {
	return s.grpcServer
}

// StartGRPC serves until ctx is cancelled.
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil {
		return err
	}
	// Serve returns as soon as stopping begins; in-flight RPCs may still
	// be running.
	<-stopped
	return nil
}

// StartHTTPGateway serves the HTTP/JSON routes until ctx is cancelled.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.HTTPHandler()
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-stopped
	return nil
}

// HTTPHandler builds the gateway mux plus the health endpoints.
// The gateway calls the ledger service in-process.
func (s *GRPCServer) HTTPHandler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	for _, r := range httpRoutes(s.service) {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Info().Err(err)
	}
	ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc")
	return resp, err
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary adapts a typed method to grpc's untyped handler signature and
// converts domain errors to status errors with details.
func unary[Req any](name string, fn func(*LedgerService, context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, errs.ToStatus(errs.ErrMalformed.Wrap(err))
			}
			s := srv.(*LedgerService)
			invoke := func(ctx context.Context, req any) (any, error) {
				resp, err := fn(s, ctx, req.(*Req))
				if err != nil {
					return nil, errs.ToStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, invoke)
		},
	}
}

func submitMethod(t command.Type) grpc.MethodDesc {
	name := t.String()
	return unary(name, func(s *LedgerService, ctx context.Context, req *json.RawMessage) (any, error) {
		return s.Submit(ctx, name, *req)
	})
}

// ledgerServiceDesc lists every RPC. Mutating RPCs are named after their
// command type and take the same JSON body as the NATS subject.
func ledgerServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(command.AllTypes)+24)
	for _, t := range command.AllTypes {
		methods = append(methods, submitMethod(t))
	}
	methods = append(methods,
		unary("GetEventDetails", (*LedgerService).getEventDetails),
		unary("GetPoolAmount", (*LedgerService).getPoolAmount),
		unary("GetUserPrediction", (*LedgerService).getUserPrediction),
		unary("GetPoolParticipants", (*LedgerService).getPoolParticipants),
		unary("CalculatePotentialPayout", (*LedgerService).calculatePotentialPayout),
		unary("GetEventResolutionInfo", (*LedgerService).getEventResolutionInfo),
		unary("GetUserClaimInfo", (*LedgerService).getUserClaimInfo),
		unary("NextEventID", (*LedgerService).nextEventID),
		unary("ListEvents", (*LedgerService).listEvents),
		unary("GetPlatformFeeBalance", (*LedgerService).getPlatformFeeBalance),
		unary("GetCreatorFeeBalance", (*LedgerService).getCreatorFeeBalance),
		unary("IsAuthorizedOracle", (*LedgerService).isAuthorizedOracle),
		unary("GetOracleAddress", (*LedgerService).getOracleAddress),
		unary("ListOracles", (*LedgerService).listOracles),
		unary("GetUserEventIDs", (*LedgerService).getUserEventIDs),
		unary("GetUserEventPredictions", (*LedgerService).getUserEventPredictions),
		unary("ListPendingResolutions", (*LedgerService).listPendingResolutions),
		unary("GetUserActivity", (*LedgerService).getUserActivity),
		unary("GetJournalHistory", (*LedgerService).getJournalHistory),
		unary("TakeSnapshot", (*LedgerService).takeSnapshot),
		unary("RebuildProjections", (*LedgerService).rebuildProjections),
		unary("GetEventLogInfo", (*LedgerService).getEventLogInfo),
		unary("VerifyIntegrity", (*LedgerService).verifyIntegrity),
	)
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*LedgerServer)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "predictledger/v1/ledger",
	}
}
