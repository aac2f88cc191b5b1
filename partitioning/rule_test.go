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

package partitioning

import (
	"testing"

	"github.com/SnellerInc/sortshuffle/rowbatch"
)

func schema() rowbatch.Schema {
	return rowbatch.Schema{Fields: []rowbatch.Field{{Name: "id", Type: rowbatch.Int64}}}
}

func batch(n int) *rowbatch.ColumnBatch {
	b := rowbatch.NewBuilder(schema())
	for i := 0; i < n; i++ {
		b.AppendInt64("id", int64(i)).Row()
	}
	out, err := b.Batch()
	if err != nil {
		panic(err)
	}
	return out
}

func TestHashDeterministic(t *testing.T) {
	r := NewHash("id")
	b := batch(50)
	a, err := r.Evaluate(b, 4)
	if err != nil {
		t.Fatal(err)
	}
	c, err := r.Evaluate(b, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("row %d: hash not deterministic: %d vs %d", i, a[i], c[i])
		}
		if a[i] >= 4 {
			t.Fatalf("row %d: partition %d out of range", i, a[i])
		}
	}
}

func TestRoundRobin(t *testing.T) {
	r := RoundRobin{}
	ids, err := r.Evaluate(batch(7), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{0, 1, 2, 0, 1, 2, 0}
	for i, v := range ids {
		if v != want[i] {
			t.Fatalf("row %d: got %d, want %d", i, v, want[i])
		}
	}
}

func TestRange(t *testing.T) {
	r := Range{By: "id", Bounds: []int64{2, 5}}
	ids, err := r.Evaluate(batch(8), 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{0, 0, 0, 1, 1, 1, 2, 2}
	for i, v := range ids {
		if v != want[i] {
			t.Fatalf("row %d (id=%d): got %d, want %d", i, i, v, want[i])
		}
	}
}
