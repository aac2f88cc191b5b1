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

// Package partitioning provides the partitioning-rule evaluator the
// shuffle repartitioner treats as an external collaborator: given a rule
// and a batch, it produces one partition id per row.
package partitioning

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/SnellerInc/sortshuffle/rowbatch"
	"github.com/dchest/siphash"
)

// Rule maps each row of a batch to a partition id in [0, N).
type Rule interface {
	// Evaluate returns one partition id per row of b, in row order.
	Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error)
}

// Hash partitions rows by hashing the named key columns with SipHash,
// keyed so that the same row always lands in the same partition across
// a shuffle's lifetime.
type Hash struct {
	Keys [2]uint64 // siphash k0, k1
	By   []string  // key column names, in order
}

// NewHash returns a Hash rule with a fixed key, keyed by the named
// columns.
func NewHash(by ...string) Hash {
	return Hash{
		Keys: [2]uint64{0x5d1ec810febed702, 0x40fd7fee17262f71},
		By:   by,
	}
}

func (h Hash) Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("partitioning: numPartitions must be > 0")
	}
	n := b.NumRows()
	out := make([]uint32, n)
	if n == 0 {
		return out, nil
	}
	clamp := ^uint64(0)
	bucket := clamp / uint64(numPartitions)
	if bucket == 0 {
		bucket = 1
	}
	var tmp []byte
	for row := 0; row < n; row++ {
		tmp = tmp[:0]
		for _, name := range h.By {
			tmp = appendKeyBytes(tmp, b, name, row)
		}
		h64 := siphash.Hash(h.Keys[0], h.Keys[1], tmp)
		p := h64 / bucket
		if p >= uint64(numPartitions) {
			p = uint64(numPartitions) - 1
		}
		out[row] = uint32(p)
	}
	return out, nil
}

func appendKeyBytes(dst []byte, b *rowbatch.ColumnBatch, name string, row int) []byte {
	for _, f := range b.Schema().Fields {
		if f.Name != name {
			continue
		}
		switch f.Type {
		case rowbatch.Int64:
			return binary.LittleEndian.AppendUint64(dst, uint64(b.Int64Column(name)[row]))
		case rowbatch.Float64:
			return binary.LittleEndian.AppendUint64(dst, math.Float64bits(b.Float64Column(name)[row]))
		case rowbatch.String:
			return append(dst, b.StringColumn(name)[row]...)
		case rowbatch.Bool:
			if b.BoolColumn(name)[row] {
				return append(dst, 1)
			}
			return append(dst, 0)
		}
	}
	return dst
}

// RoundRobin assigns rows to partitions in sequence, ignoring row
// contents; useful for load-balancing shuffles that don't need a
// deterministic key.
type RoundRobin struct{}

func (RoundRobin) Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("partitioning: numPartitions must be > 0")
	}
	n := b.NumRows()
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(i % numPartitions)
	}
	return out, nil
}

// Range partitions rows by comparing an int64 key column against a sorted
// set of upper bounds: row i lands in the first partition p such that
// key <= Bounds[p], or the last partition if it exceeds every bound.
type Range struct {
	By     string
	Bounds []int64 // ascending, len == numPartitions-1
}

func (r Range) Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("partitioning: numPartitions must be > 0")
	}
	keys := b.Int64Column(r.By)
	out := make([]uint32, len(keys))
	for i, k := range keys {
		p := 0
		for p < len(r.Bounds) && k > r.Bounds[p] {
			p++
		}
		out[i] = uint32(p)
	}
	return out, nil
}
