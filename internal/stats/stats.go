// Package stats tracks blocks in flight and completed, and periodically
// logs throughput and time to catch up with the chain head.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is a point-in-time copy of the tracker. It is owned by the
// caller and never changes after Snapshot returns.
type Snapshot struct {
	Processing          []uint64
	ProcessedCount      uint64
	LastProcessedHeight uint64
}

// Tracker records block entry and exit. The lock is held only for the
// counter update itself.
type Tracker struct {
	mu                  sync.Mutex
	processing          map[uint64]struct{}
	processedCount      uint64
	lastProcessedHeight uint64
}

func NewTracker() *Tracker {
	return &Tracker{processing: make(map[uint64]struct{})}
}

// StartBlock marks height as in flight.
func (t *Tracker) StartBlock(height uint64) {
	t.mu.Lock()
	t.processing[height] = struct{}{}
	t.mu.Unlock()
}

// EndBlock marks height as done and returns the highest completed height.
func (t *Tracker) EndBlock(height uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.processing, height)
	t.processedCount++
	if height > t.lastProcessedHeight {
		t.lastProcessedHeight = height
	}
	return t.lastProcessedHeight
}

// AbortBlock drops height from the in-flight set without counting it.
func (t *Tracker) AbortBlock(height uint64) {
	t.mu.Lock()
	delete(t.processing, height)
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	s := Snapshot{
		Processing:          make([]uint64, 0, len(t.processing)),
		ProcessedCount:      t.processedCount,
		LastProcessedHeight: t.lastProcessedHeight,
	}
	for h := range t.processing {
		s.Processing = append(s.Processing, h)
	}
	t.mu.Unlock()

	sort.Slice(s.Processing, func(i, j int) bool { return s.Processing[i] < s.Processing[j] })
	return s
}

// HeightFetcher returns the chain head height.
type HeightFetcher interface {
	LatestBlockHeight(ctx context.Context) (uint64, error)
}

// Run logs one progress line per interval until ctx is done. A failing
// fetcher only drops the eta field.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, fetcher HeightFetcher, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var prevCount uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prevCount = t.report(ctx, prevCount, interval, fetcher, logger)
		}
	}
}

func (t *Tracker) report(ctx context.Context, prevCount uint64, interval time.Duration, fetcher HeightFetcher, logger *zap.Logger) uint64 {
	snap := t.Snapshot()
	bps := float64(snap.ProcessedCount-prevCount) / interval.Seconds()

	fields := []zap.Field{
		zap.Uint64("last_processed", snap.LastProcessedHeight),
		zap.Int("processing", len(snap.Processing)),
		zap.Uint64("done", snap.ProcessedCount),
		zap.Float64("bps", bps),
	}
	if bps > 0 && fetcher != nil {
		head, err := fetcher.LatestBlockHeight(ctx)
		if err != nil {
			logger.Debug("chain head height unavailable", zap.Error(err))
		} else {
			fields = append(fields, zap.Duration("eta", eta(head, snap.LastProcessedHeight, bps)))
		}
	}

	logger.Info("stats", fields...)
	return snap.ProcessedCount
}

func eta(head, last uint64, bps float64) time.Duration {
	if head <= last || bps <= 0 {
		return 0
	}
	secs := float64(head-last) / bps
	return time.Duration(secs * float64(time.Second)).Round(time.Second)
}
