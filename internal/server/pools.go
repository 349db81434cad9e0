package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/matthewmarion/batchboy/internal/batch"
	"github.com/matthewmarion/batchboy/internal/metrics"
	"github.com/matthewmarion/batchboy/internal/state"
)

func (s *Service) CreatePool(ctx context.Context, req *batch.CreatePoolRequest) (*batch.Pool, error) {
	p := req.Pool
	slog.Info("CreatePool called", "pool", p.ID, "vm_size", p.VMSize, "nodes", p.TargetNodes)

	if err := validateID("pool", p.ID); err != nil {
		return nil, err
	}
	if p.VMSize == "" {
		return nil, status.Error(codes.InvalidArgument, "pool vmSize is required")
	}
	if p.TargetNodes <= 0 {
		return nil, status.Errorf(codes.InvalidArgument, "pool targetNodes must be positive, got %d", p.TargetNodes)
	}

	pool := &state.Pool{
		ID:          p.ID,
		VMSize:      p.VMSize,
		TargetNodes: p.TargetNodes,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreatePool(pool); err != nil {
		return nil, storeError(err)
	}
	metrics.PoolsCreated.Inc()

	return poolToWire(pool), nil
}

func (s *Service) GetPool(ctx context.Context, req *batch.GetPoolRequest) (*batch.Pool, error) {
	pool, err := s.store.GetPool(req.PoolID)
	if err != nil {
		return nil, storeError(err)
	}
	return poolToWire(pool), nil
}

func poolToWire(p *state.Pool) *batch.Pool {
	return &batch.Pool{
		ID:          p.ID,
		VMSize:      p.VMSize,
		TargetNodes: p.TargetNodes,
		CreatedAt:   p.CreatedAt,
	}
}

func validateID(kind, id string) error {
	if !batch.ValidID(id) {
		return status.Errorf(codes.InvalidArgument, "invalid %s id %q", kind, id)
	}
	return nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, state.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
