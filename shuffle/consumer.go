// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package shuffle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/sortshuffle/diskmgr"
	"github.com/SnellerInc/sortshuffle/memmgr"
	"github.com/SnellerInc/sortshuffle/partitioning"
	"github.com/SnellerInc/sortshuffle/rowbatch"
	"github.com/SnellerInc/sortshuffle/shufflemetrics"
)

// Options configures a Repartitioner.
type Options struct {
	NumPartitions              int
	Schema                     rowbatch.Schema
	Rule                       partitioning.Rule
	Compress                   bool
	BatchSize                  int
	DiskSpillBufferedSizeLimit int64 // 0 means DefaultDiskSpillBufferedSizeLimit

	Manager    *memmgr.Manager
	DiskMgr    diskmgr.Manager
	Metrics    *shufflemetrics.Metrics // nil means a fresh Metrics is created
	Logger     *slog.Logger           // nil means slog.Default()
	ConsumerID memmgr.ConsumerID
}

// Repartitioner is the sort-based shuffle repartitioner: the C7 memory
// consumer adapter wired to the ingest buffer, spill promoter and merge
// writer that together implement insert_batch/shuffle_write/spill.
//
// Three mutually exclusive locks guard the ingest buffer, the in-memory
// spill list, and the file spill list; both Spill and ShuffleWrite
// acquire them in the fixed order in_mem_spills -> file_spills ->
// buffered_batches whenever more than one is needed together, and never
// hold one across a call that could block on acquiring another.
type Repartitioner struct {
	id            memmgr.ConsumerID
	numPartitions int
	schema        rowbatch.Schema

	mgr      *memmgr.Manager
	diskMgr  diskmgr.Manager
	promoter *spillPromoter
	metrics  *shufflemetrics.Metrics
	logger   *slog.Logger

	diskSpillBufferedSizeLimit int64

	buf *IngestBuffer

	inMemMu     sync.Mutex
	inMemSpills []*Spill

	fileMu     sync.Mutex
	fileSpills []*Spill

	written bool
}

// New creates a Repartitioner and registers it with opts.Manager as a
// requesting consumer.
func New(opts Options) (*Repartitioner, error) {
	if opts.NumPartitions <= 0 {
		return nil, ErrInvalidPartitionCount
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("shuffle: Options.Manager is required")
	}
	if opts.DiskMgr == nil {
		return nil, fmt.Errorf("shuffle: Options.DiskMgr is required")
	}
	if opts.Rule == nil {
		return nil, fmt.Errorf("shuffle: Options.Rule is required")
	}
	limit := opts.DiskSpillBufferedSizeLimit
	if limit <= 0 {
		limit = DefaultDiskSpillBufferedSizeLimit
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 4096
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &shufflemetrics.Metrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Repartitioner{
		id:            opts.ConsumerID,
		numPartitions: opts.NumPartitions,
		schema:        opts.Schema,
		mgr:           opts.Manager,
		diskMgr:       opts.DiskMgr,
		metrics:       metrics,
		logger:        logger.With("component", "shuffle", "consumer_id", opts.ConsumerID.String()),
		promoter: &spillPromoter{
			numPartitions: opts.NumPartitions,
			batchSize:     batchSize,
			rule:          opts.Rule,
			codec:         rowbatch.Codec{Schema: opts.Schema},
			compress:      opts.Compress,
		},
		diskSpillBufferedSizeLimit: limit,
	}
	r.buf = newIngestBuffer(
		func(ctx context.Context, n int64) error {
			if err := r.mgr.TryGrow(ctx, r.id, n); err != nil {
				if errors.Is(err, memmgr.ErrResourcesExhausted) {
					return fmt.Errorf("%w: %v", ErrResourcesExhausted, err)
				}
				return err
			}
			r.metrics.AddMemUsed(n)
			return nil
		},
		func(n int64) {
			r.mgr.Shrink(r.id, n)
			r.metrics.AddMemUsed(-n)
		},
	)
	r.mgr.RegisterRequester(r.id, r)
	return r, nil
}

// InsertBatch ingests b, reserving 2x its mem_size from the memory
// manager before appending. A reservation failure rejects the batch.
func (r *Repartitioner) InsertBatch(ctx context.Context, b *rowbatch.ColumnBatch) error {
	if r.written {
		return fmt.Errorf("shuffle: insert_batch after shuffle_write")
	}
	if !b.Schema().Equal(r.schema) {
		return fmt.Errorf("shuffle: batch schema does not match repartitioner schema")
	}
	return r.buf.Push(ctx, b)
}

// Spill implements memmgr.Spillable: the eviction strategy. It
// freezes the ingest buffer if no InMemSpill exists yet or the buffer
// has grown past the configured threshold; otherwise it promotes the
// largest InMemSpill to disk; if neither frees anything it fails with
// ErrResourcesExhausted.
func (r *Repartitioner) Spill(ctx context.Context) (int64, error) {
	r.inMemMu.Lock()
	noInMem := len(r.inMemSpills) == 0
	r.inMemMu.Unlock()

	if noInMem || r.buf.MemSize() > r.diskSpillBufferedSizeLimit {
		freed, err := r.freezeAndAccount(ctx)
		if err != nil {
			return 0, err
		}
		if freed > 0 {
			return freed, nil
		}
	}

	r.inMemMu.Lock()
	if len(r.inMemSpills) == 0 {
		r.inMemMu.Unlock()
		return 0, ErrResourcesExhausted
	}
	var best int64
	for _, s := range r.inMemSpills {
		if sz := s.MemSize(); sz > best {
			best = sz
		}
	}
	bestIdx := slices.IndexFunc(r.inMemSpills, func(s *Spill) bool { return s.MemSize() == best })
	spill := r.inMemSpills[bestIdx]
	r.inMemSpills = append(r.inMemSpills[:bestIdx], r.inMemSpills[bestIdx+1:]...)
	r.inMemMu.Unlock()

	before := spill.MemSize()
	if err := spill.Promote(r.diskMgr); err != nil {
		r.inMemMu.Lock()
		r.inMemSpills = append(r.inMemSpills, spill)
		r.inMemMu.Unlock()
		return 0, err
	}
	freed := before - spill.MemSize()

	r.fileMu.Lock()
	r.fileSpills = append(r.fileSpills, spill)
	r.fileMu.Unlock()

	if freed > 0 {
		r.mgr.Shrink(r.id, freed)
		r.metrics.AddMemUsed(-freed)
	}
	r.metrics.RecordSpill(freed)
	r.logger.Info("promoted in-memory spill to disk", "freed_bytes", freed)
	if freed <= 0 {
		return 0, ErrResourcesExhausted
	}
	return freed, nil
}

// freezeAndAccount drains the ingest buffer, freezes it into a new
// InMemSpill, and reconciles the 2x buffer reservation against the
// spill's (normally much smaller) mem_size. It returns 0, nil if the
// buffer was empty.
func (r *Repartitioner) freezeAndAccount(ctx context.Context) (int64, error) {
	batches, totalRows, _, reserved := r.buf.Drain()
	if len(batches) == 0 {
		return 0, nil
	}
	spill, err := r.promoter.freeze(batches, totalRows)
	if err != nil {
		return 0, err
	}
	newSize := spill.MemSize()

	r.inMemMu.Lock()
	r.inMemSpills = append(r.inMemSpills, spill)
	r.inMemMu.Unlock()

	r.mgr.Shrink(r.id, reserved)
	r.metrics.AddMemUsed(-reserved)
	if err := r.mgr.TryGrow(ctx, r.id, newSize); err != nil {
		return 0, err
	}
	r.metrics.AddMemUsed(newSize)

	freed := reserved - newSize
	r.logger.Info("froze ingest buffer into in-memory spill", "rows", totalRows, "freed_bytes", freed)
	return freed, nil
}

// ShuffleWrite finalizes the repartitioner: any remaining buffered
// batches are frozen, every spill (in-memory and on-disk) is merged into
// dataFile and indexFile in partition order, and all accounted memory is
// released. Calling it a second time is undefined.
func (r *Repartitioner) ShuffleWrite(ctx context.Context, dataFile, indexFile io.Writer) error {
	r.written = true
	if !r.buf.Empty() {
		if _, err := r.freezeAndAccount(ctx); err != nil {
			return err
		}
	}

	r.inMemMu.Lock()
	inMem := r.inMemSpills
	r.inMemSpills = nil
	r.inMemMu.Unlock()

	r.fileMu.Lock()
	files := r.fileSpills
	r.fileSpills = nil
	r.fileMu.Unlock()

	all := make([]*Spill, 0, len(inMem)+len(files))
	all = append(all, inMem...)
	all = append(all, files...)

	w := MergeWriter{NumPartitions: r.numPartitions}
	if err := w.Write(ctx, all, dataFile, indexFile); err != nil {
		return err
	}

	var released int64
	for _, s := range all {
		released += s.MemSize()
		s.Close()
	}
	if released > 0 {
		r.mgr.Shrink(r.id, released)
		r.metrics.AddMemUsed(-released)
	}
	r.logger.Info("shuffle write complete", "spills", len(all))
	return nil
}

// MemUsed returns the repartitioner's currently accounted memory usage.
func (r *Repartitioner) MemUsed() int64 {
	return r.metrics.MemUsed()
}

// Name returns the consumer's name, scoped by its upstream partition.
func (r *Repartitioner) Name() string {
	return r.id.String()
}

// ID returns the repartitioner's memory-manager consumer identity.
func (r *Repartitioner) ID() memmgr.ConsumerID {
	return r.id
}

// Close releases every reservation, deletes any outstanding temp files,
// and deregisters from the memory manager. Call it on cancellation or
// when the repartitioner is no longer needed without having called
// ShuffleWrite.
func (r *Repartitioner) Close() {
	r.inMemMu.Lock()
	inMem := r.inMemSpills
	r.inMemSpills = nil
	r.inMemMu.Unlock()

	r.fileMu.Lock()
	files := r.fileSpills
	r.fileSpills = nil
	r.fileMu.Unlock()

	for _, s := range inMem {
		s.Close()
	}
	for _, s := range files {
		s.Close()
	}
	r.mgr.DropConsumer(r.id, r.metrics.MemUsed())
}
