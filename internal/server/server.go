package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/executor"
	"github.com/matthewmarion/batchboy/internal/state"
)

type Options struct {
	// WorkDir holds one directory per job.
	WorkDir     string
	AccountName string
	AccountKey  string
	// RateLimit is in requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

type Server struct {
	grpcServer *grpc.Server
	service    *Service
}

func New(store *state.Store, exec executor.Executor, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		store:    store,
		executor: exec,
		workDir:  opts.WorkDir,
		runCtx:   ctx,
		stopRuns: cancel,
	}

	interceptors := []grpc.UnaryServerInterceptor{
		loggingInterceptor(),
		authInterceptor(opts.AccountName, []byte(opts.AccountKey), time.Now),
	}
	if opts.RateLimit > 0 {
		interceptors = append(interceptors, rateLimitInterceptor(rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)))
	}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	batch.RegisterBatchServer(gs, svc)

	return &Server{grpcServer: gs, service: svc}
}

func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", port, err)
	}

	slog.Info("starting gRPC server", "port", port)
	return s.grpcServer.Serve(lis)
}

// Serve starts the server on an existing listener.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop terminates running tasks, then drains in-flight calls.
func (s *Server) Stop() {
	s.service.stop()
	s.grpcServer.GracefulStop()
}

// Service implements batch.BatchServer on top of the in-memory store.
type Service struct {
	store    *state.Store
	executor executor.Executor
	workDir  string

	// runCtx is the parent of every task execution.
	runCtx   context.Context
	stopRuns context.CancelFunc
	wg       sync.WaitGroup
}

var _ batch.BatchServer = (*Service)(nil)

func (s *Service) stop() {
	s.stopRuns()
	s.wg.Wait()
}
