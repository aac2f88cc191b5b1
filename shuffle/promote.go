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
	"bytes"
	"fmt"

	"github.com/SnellerInc/sortshuffle/partitioning"
	"github.com/SnellerInc/sortshuffle/rowbatch"
)

// DefaultDiskSpillBufferedSizeLimit is the freeze-vs-promote threshold
// used by the eviction strategy when the caller doesn't configure one.
const DefaultDiskSpillBufferedSizeLimit = 16 << 20

// spillPromoter implements the freeze half of spill promotion: turning
// the ingest buffer's batches into one InMemSpill. The evict half
// (deciding whether to freeze or promote an existing InMemSpill to disk)
// needs the repartitioner's lock-protected spill lists, so it lives on
// Repartitioner in consumer.go instead.
type spillPromoter struct {
	numPartitions int
	batchSize     int
	rule          partitioning.Rule
	codec         rowbatch.Codec
	compress      bool
}

// freeze concatenates batches into one logical batch of totalRows rows,
// evaluates the partitioning rule, sorts the resulting PI pairs, and
// emits framed sub-batches into a new InMemSpill. A sub-batch boundary is
// cut whenever the partition id changes or the current run reaches
// batchSize rows; the offsets table only gets a new entry on the former.
func (p *spillPromoter) freeze(batches []*rowbatch.ColumnBatch, totalRows int) (*Spill, error) {
	if len(batches) == 0 || totalRows == 0 {
		return nil, nil
	}
	merged, err := rowbatch.Concat(p.codec.Schema, batches, totalRows)
	if err != nil {
		return nil, err
	}
	pids, err := p.rule.Evaluate(merged, p.numPartitions)
	if err != nil {
		return nil, err
	}
	pis := make([]PI, len(pids))
	for i, pid := range pids {
		if int(pid) >= p.numPartitions {
			return nil, fmt.Errorf("%w: partition id %d out of range for N=%d", ErrInvalidPartitionCount, pid, p.numPartitions)
		}
		pis[i] = PI{PartitionID: pid, RowIndex: uint32(i)}
	}
	if err := sortPIs(pis, p.numPartitions); err != nil {
		return nil, err
	}

	offsets := make([]int64, p.numPartitions+1)
	var buf bytes.Buffer
	nextIdx := 0
	i := 0
	for i < len(pis) {
		part := int(pis[i].PartitionID)
		for ; nextIdx <= part; nextIdx++ {
			offsets[nextIdx] = int64(buf.Len())
		}

		end := i
		runIdx := make([]uint32, 0, p.batchSize)
		for end < len(pis) && int(pis[end].PartitionID) == part {
			runIdx = append(runIdx, pis[end].RowIndex)
			end++
			if len(runIdx) == p.batchSize {
				sub := rowbatch.Take(merged, runIdx)
				if _, err := p.codec.WriteOne(&buf, sub, p.compress); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrCodecFailure, err)
				}
				runIdx = runIdx[:0]
			}
		}
		if len(runIdx) > 0 {
			sub := rowbatch.Take(merged, runIdx)
			if _, err := p.codec.WriteOne(&buf, sub, p.compress); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCodecFailure, err)
			}
		}
		i = end
	}
	for ; nextIdx <= p.numPartitions; nextIdx++ {
		offsets[nextIdx] = int64(buf.Len())
	}
	return NewInMemSpill(buf.Bytes(), offsets), nil
}
