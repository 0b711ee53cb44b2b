package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"nearEventStreamer/internal/metrics"
	"nearEventStreamer/internal/model"
	"nearEventStreamer/internal/stats"
)

// Handler processes one block.
type Handler interface {
	Handle(ctx context.Context, msg model.StreamerMessage) error
}

// Source streams blocks into out in chain order and closes out when it
// returns.
type Source interface {
	Stream(ctx context.Context, out chan<- model.StreamerMessage) error
}

// RunConfig holds runtime settings for the driver.
type RunConfig struct {
	Concurrency int
}

// Runner feeds blocks to a Handler with at most Concurrency blocks in
// flight.
type Runner struct {
	cfg     RunConfig
	handler Handler
	tracker *stats.Tracker
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, handler Handler, tracker *stats.Tracker, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = stats.NewTracker()
	}
	return &Runner{cfg: cfg, handler: handler, tracker: tracker, logger: logger, metrics: m}
}

// Run handles blocks until the channel closes, a block fails, or ctx is
// done. The next block is not read while Concurrency blocks are in flight.
// After a failure no new block is dispatched; blocks already in flight run
// to completion and the first failure is returned.
func (r *Runner) Run(ctx context.Context, blocks <-chan model.StreamerMessage) error {
	if r.handler == nil {
		return fmt.Errorf("block handler is nil")
	}
	if r.cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", r.cfg.Concurrency)
	}

	dispatch, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	// In-flight blocks are not interrupted by a stop or by shutdown.
	work := context.WithoutCancel(ctx)

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	var g errgroup.Group

	// failed is set under mu by a failing block; dispatch checks it under mu,
	// so no block starts once a failure is recorded.
	var (
		mu     sync.Mutex
		failed bool
	)

loop:
	for {
		if err := sem.Acquire(dispatch, 1); err != nil {
			break
		}

		var (
			msg model.StreamerMessage
			ok  bool
		)
		select {
		case <-dispatch.Done():
			sem.Release(1)
			break loop
		case msg, ok = <-blocks:
		}
		if !ok {
			sem.Release(1)
			break
		}

		mu.Lock()
		if failed || dispatch.Err() != nil {
			mu.Unlock()
			sem.Release(1)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := r.handle(work, msg); err != nil {
				mu.Lock()
				failed = true
				mu.Unlock()
				stop(err)
				return err
			}
			return nil
		})
		mu.Unlock()
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (r *Runner) handle(ctx context.Context, msg model.StreamerMessage) error {
	height := msg.Block.Header.Height
	r.tracker.StartBlock(height)
	r.metrics.BlockStarted()
	start := time.Now()

	if err := r.handler.Handle(ctx, msg); err != nil {
		r.tracker.AbortBlock(height)
		r.metrics.BlockFailed()
		r.logger.Error("block failed", zap.Uint64("height", height), zap.Error(err))
		return err
	}

	last := r.tracker.EndBlock(height)
	r.metrics.BlockFinished(time.Since(start), last)
	return nil
}

// RunSource connects src to the driver. A failing block stops the source;
// a failing source stops dispatch once the blocks it already sent are
// handled. The first error wins.
func (r *Runner) RunSource(ctx context.Context, src Source) error {
	sourceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks := make(chan model.StreamerMessage, r.cfg.Concurrency)
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Stream(sourceCtx, blocks)
	}()

	runErr := r.Run(ctx, blocks)
	cancel()
	// drain so a source blocked on send can observe cancellation
	go func() {
		for range blocks {
		}
	}()
	streamErr := <-srcErr

	if runErr != nil {
		return runErr
	}
	if streamErr != nil && !errors.Is(streamErr, context.Canceled) {
		return fmt.Errorf("block source: %w", streamErr)
	}
	return nil
}
