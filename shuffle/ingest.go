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
	"sync"

	"github.com/SnellerInc/sortshuffle/rowbatch"
)

// IngestBuffer accumulates batches between freezes and tracks their
// resident bytes. Each push reserves 2x the batch's mem_size from the
// memory manager, covering the transient coexistence of the live batch
// and its frozen serialized form during promotion (spec's MemoryCharge).
type IngestBuffer struct {
	mu       sync.Mutex
	batches  []*rowbatch.ColumnBatch
	memSize  int64 // sum of batch.MemSize(), unmultiplied
	reserved int64 // sum of charges actually reserved (2x memSize)

	reserve func(ctx context.Context, n int64) error
	release func(n int64)
}

func newIngestBuffer(reserve func(ctx context.Context, n int64) error, release func(n int64)) *IngestBuffer {
	return &IngestBuffer{reserve: reserve, release: release}
}

// Push reserves 2*b.MemSize() bytes before appending b. If the
// reservation fails, b is not appended and the reservation error
// (typically ErrResourcesExhausted) is returned.
func (ib *IngestBuffer) Push(ctx context.Context, b *rowbatch.ColumnBatch) error {
	charge := 2 * b.MemSize()
	if err := ib.reserve(ctx, charge); err != nil {
		return err
	}
	ib.mu.Lock()
	ib.batches = append(ib.batches, b)
	ib.memSize += b.MemSize()
	ib.reserved += charge
	ib.mu.Unlock()
	return nil
}

// Drain returns the accumulated batches, their total row count, their
// total mem size, and the total amount reserved on their behalf, and
// resets the buffer. It is called only by the SpillPromoter's Freeze
// step; the caller is responsible for reconciling the returned
// reservation against the resulting spill's (typically much smaller)
// mem_size via release/reserve.
func (ib *IngestBuffer) Drain() (batches []*rowbatch.ColumnBatch, totalRows int, memSize int64, reserved int64) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	batches = ib.batches
	memSize = ib.memSize
	reserved = ib.reserved
	for _, b := range batches {
		totalRows += b.NumRows()
	}
	ib.batches = nil
	ib.memSize = 0
	ib.reserved = 0
	return batches, totalRows, memSize, reserved
}

// MemSize returns the running sum of mem_size() across buffered batches
// (not the 2x reservation).
func (ib *IngestBuffer) MemSize() int64 {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.memSize
}

// Empty reports whether the buffer currently holds no batches.
func (ib *IngestBuffer) Empty() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.batches) == 0
}
