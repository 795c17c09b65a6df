// Package batch writes large item sets in fixed-size chunks with per-item
// failure isolation.
package batch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/pkg/log"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 100

// maxFailureLogsPerChunk caps the per-item failure lines of one chunk.
// The chunk summary always carries the full count.
const maxFailureLogsPerChunk = 10

// Options tunes a Process call.
type Options struct {
	// ChunkSize is the number of items per chunk.
	ChunkSize int

	// Concurrency is the number of writes in flight inside one chunk.
	// Chunks themselves always run one after another.
	Concurrency int
}

// Result is the tally of a Process call. Updated+Errors always equals TotalSize.
type Result struct {
	Updated   int `json:"updated"`
	Errors    int `json:"errors"`
	TotalSize int `json:"totalSize"`
}

// WriteFunc persists a single item.
type WriteFunc[T any] func(ctx context.Context, item T) error

// Process splits items into chunks and calls write once per item. A failing
// write is counted and never aborts its chunk or the chunks after it. Items
// not attempted because ctx was cancelled are counted as errors.
func Process[T any](ctx context.Context, items []T, opts Options, write WriteFunc[T]) Result {
	res := Result{TotalSize: len(items)}
	if len(items) == 0 {
		return res
	}

	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	logger := log.WithName("batch")

	var updated, failed atomic.Int64
	for start, chunk := 0, 0; start < len(items); start, chunk = start+size, chunk+1 {
		end := min(start+size, len(items))

		if ctx.Err() != nil {
			failed.Add(int64(len(items) - start))
			logger.Warn("Batch cancelled, remaining items skipped", "chunk", chunk, "skipped", len(items)-start)
			break
		}

		before := failed.Load()
		c := &chunkRun[T]{
			logger:  logger.WithValues("chunk", chunk),
			write:   write,
			updated: &updated,
			failed:  &failed,
		}
		c.run(ctx, items[start:end], workers)

		if n := failed.Load() - before; n > 0 {
			logger.Warn("Chunk finished with failures", "chunk", chunk, "size", end-start, "failed", n)
		}
	}

	res.Updated = int(updated.Load())
	res.Errors = int(failed.Load())
	return res
}

type chunkRun[T any] struct {
	logger  log.Logger
	write   WriteFunc[T]
	updated *atomic.Int64
	failed  *atomic.Int64
	logged  atomic.Int32
}

func (c *chunkRun[T]) run(ctx context.Context, chunk []T, workers int) {
	if workers == 1 {
		for _, item := range chunk {
			c.tally(ctx, item)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range chunk {
		g.Go(func() error {
			c.tally(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *chunkRun[T]) tally(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			c.failed.Add(1)
			c.logger.Error(nil, "Item write panicked", "panic", r)
		}
	}()

	if err := c.write(ctx, item); err != nil {
		c.failed.Add(1)
		if c.logged.Add(1) <= maxFailureLogsPerChunk {
			c.logger.Warn("Item write failed", "kind", core.KindOf(err), err)
		}
		return
	}
	c.updated.Add(1)
}
