package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
)

// DefaultConcurrency is the number of RPC handlers allowed to run at once.
const DefaultConcurrency = 10

// healthPrefix marks methods that bypass the pool so health checks keep answering
// while every slot is busy.
const healthPrefix = "/grpc.health.v1.Health/"

// ErrNoSlot is returned by Do when the context ends before a slot frees up.
var ErrNoSlot = errors.New("worker: no slot available")

// Pool bounds the number of concurrently executing handlers. Callers waiting
// for a slot give up when their context ends.
type Pool struct {
	logger   zerolog.Logger
	sem      *semaphore.Weighted
	size     int
	inFlight atomic.Int64
}

// NewPool constructs a pool with the given number of slots.
func NewPool(concurrency int, log zerolog.Logger) (*Pool, error) {
	if concurrency < 1 {
		return nil, errors.New("worker: worker concurrency must be >= 1")
	}
	return &Pool{
		logger: logger.OrNop(log).With().Str("component", "worker_pool").Logger(),
		sem:    semaphore.NewWeighted(int64(concurrency)),
		size:   concurrency,
	}, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of slots currently held.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Do runs fn while holding a slot.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		metrics.WorkerRejected.Inc()
		return fmt.Errorf("%w: %w", ErrNoSlot, err)
	}
	p.inFlight.Add(1)
	metrics.WorkersBusy.Inc()
	defer func() {
		metrics.WorkersBusy.Dec()
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()

	return fn(ctx)
}

// UnaryServerInterceptor runs every unary handler, except health checks,
// inside a pool slot.
func (p *Pool) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthPrefix) {
			return handler(ctx, req)
		}

		var resp any
		err := p.Do(ctx, func(ctx context.Context) error {
			var herr error
			resp, herr = handler(ctx, req)
			return herr
		})
		if errors.Is(err, ErrNoSlot) {
			p.logger.Warn().
				Str("method", info.FullMethod).
				Err(err).
				Msg("worker: request abandoned while waiting for a slot")
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return resp, err
	}
}
