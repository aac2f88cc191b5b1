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
	"errors"
	"fmt"
	"io"

	"github.com/SnellerInc/sortshuffle/rowbatch"
)

func testSchema() rowbatch.Schema {
	return rowbatch.Schema{Fields: []rowbatch.Field{{Name: "v", Type: rowbatch.Int64}}}
}

func buildBatch(schema rowbatch.Schema, n int, start int64) *rowbatch.ColumnBatch {
	b := rowbatch.NewBuilder(schema)
	for i := 0; i < n; i++ {
		b.AppendInt64("v", start+int64(i)).Row()
	}
	batch, err := b.Batch()
	if err != nil {
		panic(err)
	}
	return batch
}

// fixedRule assigns a predetermined partition id to each row, in row
// order, so tests can exercise exact scenarios instead of depending on
// a hash function's output.
type fixedRule struct {
	pids []uint32
}

func (f fixedRule) Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error) {
	if len(f.pids) != b.NumRows() {
		return nil, fmt.Errorf("fixedRule: have %d pids for %d rows", len(f.pids), b.NumRows())
	}
	return append([]uint32(nil), f.pids...), nil
}

// cyclicRule assigns partition i%numPartitions to row i; it is used
// where the exact row-to-partition mapping doesn't need to be pinned,
// only that rows spread across all partitions.
type cyclicRule struct{}

func (cyclicRule) Evaluate(b *rowbatch.ColumnBatch, numPartitions int) ([]uint32, error) {
	out := make([]uint32, b.NumRows())
	for i := range out {
		out[i] = uint32(i % numPartitions)
	}
	return out, nil
}

// decodeAllRows decodes a concatenated stream of framed sub-batches
// (one output partition's worth of bytes, or an entire spill) and
// returns the total row count and every decoded int64 "v" value in
// frame order.
func decodeAllRows(schema rowbatch.Schema, data []byte) ([]int64, error) {
	codec := rowbatch.Codec{Schema: schema}
	r := bytes.NewReader(data)
	var values []int64
	for {
		b, _, err := codec.ReadOne(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return values, err
		}
		values = append(values, b.Int64Column("v")...)
	}
	return values, nil
}
