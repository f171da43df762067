package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/adscreen/internal/table"
	"golang.org/x/sync/errgroup"
)

// Scheduling defaults.
const (
	DefaultChunkSize    = 50000
	DefaultChunkWorkers = 16
	MaxPartitions       = 8
)

// PartitionError reports an identifier split that cannot produce any partition.
type PartitionError struct {
	Identifiers int
	Parts       int
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("cannot split %d identifiers into %d partitions", e.Identifiers, e.Parts)
}

// Partition splits ids round-robin into parts sub-lists: sub-list i holds
// ids[i], ids[i+parts], ... Every identifier lands in exactly one sub-list.
func Partition(ids []string, parts int) ([][]string, error) {
	if parts <= 0 {
		return nil, &PartitionError{Identifiers: len(ids), Parts: parts}
	}
	out := make([][]string, parts)
	for i, id := range ids {
		out[i%parts] = append(out[i%parts], id)
	}
	return out, nil
}

// FilterPartitioned runs Filter once per identifier partition on at most
// min(len(ids), workers) goroutines and concatenates the non-empty results.
// workers <= 0 means MaxPartitions. With no identifiers it runs a single
// unpartitioned Filter.
func FilterPartitioned(ctx context.Context, t *table.Table, ids []string, workers int, cond Condition, entityLevel string, gate Gate) (*table.Table, error) {
	if len(ids) == 0 {
		return Filter(t, nil, cond, entityLevel, gate)
	}
	if workers <= 0 {
		workers = MaxPartitions
	}

	parts, err := Partition(ids, min(len(ids), workers))
	if err != nil {
		return nil, err
	}

	results := make([]*table.Table, len(parts))
	errs := make([]error, len(parts))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, workers)

	for i, part := range parts {
		wg.Add(1)
		go func(idx int, subset []string) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = Filter(t, subset, cond, entityLevel, gate)
		}(i, part)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return table.Concat(t.Schema(), results...)
}

// ChunkFunc evaluates one chunk and returns its matched rows.
type ChunkFunc func(ctx context.Context, chunk *table.Table) (*table.Table, error)

// ChunkOptions configures EvaluateChunks.
type ChunkOptions struct {
	Size        int
	Workers     int
	TaskTimeout time.Duration

	// OnChunk, when set, is called after each chunk completes.
	OnChunk func(done, total int)
}

// EvaluateChunks splits t into contiguous chunks and runs fn on each from
// a bounded pool. Results are concatenated in completion order. The first
// failing chunk cancels the rest and its error is returned.
func EvaluateChunks(ctx context.Context, t *table.Table, opts ChunkOptions, fn ChunkFunc) (*table.Table, error) {
	if opts.Size <= 0 {
		opts.Size = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultChunkWorkers
	}

	chunks := t.Chunks(opts.Size)
	if len(chunks) == 0 {
		return table.New(t.Schema()), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	done := make(chan *table.Table, len(chunks))

	var mu sync.Mutex
	completed := 0

	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			taskCtx := gctx
			if opts.TaskTimeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(gctx, opts.TaskTimeout)
				defer cancel()
			}
			if err := taskCtx.Err(); err != nil {
				return err
			}

			matched, err := fn(taskCtx, chunk)
			if err != nil {
				return err
			}
			if err := taskCtx.Err(); err != nil {
				return fmt.Errorf("chunk of %d rows: %w", chunk.Len(), err)
			}
			done <- matched

			if opts.OnChunk != nil {
				mu.Lock()
				completed++
				opts.OnChunk(completed, len(chunks))
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(done)

	parts := make([]*table.Table, 0, len(chunks))
	for matched := range done {
		parts = append(parts, matched)
	}
	return table.Concat(t.Schema(), parts...)
}
