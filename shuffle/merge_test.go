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
	"context"
	"testing"
)

// fixedBytes returns n bytes of filler content; the merge only cares
// about lengths and relative order, never interprets the payload.
func fixedBytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func offsetsFromCounts(counts []int) []int64 {
	offsets := make([]int64, len(counts)+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + int64(c)
	}
	return offsets
}

func TestMergeThreeSpills(t *testing.T) {
	s1 := NewInMemSpill(fixedBytes(8, 'a'), offsetsFromCounts([]int{5, 0, 3, 0}))
	s2 := NewInMemSpill(fixedBytes(9, 'b'), offsetsFromCounts([]int{0, 7, 0, 2}))
	s3 := NewInMemSpill(fixedBytes(4, 'c'), offsetsFromCounts([]int{1, 1, 1, 1}))

	var buf bytes.Buffer
	offsets, err := mergeSpills([]*Spill{s1, s2, s3}, 4, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 5 {
		t.Fatalf("expected 5 offsets, got %d", len(offsets))
	}
	if offsets[0] != 0 {
		t.Fatalf("offsets[0] = %d, want 0", offsets[0])
	}
	wantDiffs := []int64{6, 8, 4, 3}
	for p := 0; p < 4; p++ {
		diff := offsets[p+1] - offsets[p]
		if diff != wantDiffs[p] {
			t.Fatalf("partition %d: diff = %d, want %d", p, diff, wantDiffs[p])
		}
	}
	if int64(buf.Len()) != offsets[4] {
		t.Fatalf("data written (%d) does not match final offset (%d)", buf.Len(), offsets[4])
	}
}

func TestMergeWriterWritesIndexFile(t *testing.T) {
	s := NewInMemSpill([]byte("xy"), []int64{0, 1, 2})
	var data, index bytes.Buffer
	w := MergeWriter{NumPartitions: 2}
	if err := w.Write(context.Background(), []*Spill{s}, &data, &index); err != nil {
		t.Fatal(err)
	}
	if data.String() != "xy" {
		t.Fatalf("data = %q, want %q", data.String(), "xy")
	}
	if index.Len() != 8*3 {
		t.Fatalf("index length = %d, want %d", index.Len(), 24)
	}
}

func TestMergeEmptySpillList(t *testing.T) {
	var buf bytes.Buffer
	offsets, err := mergeSpills(nil, 3, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 4 {
		t.Fatalf("expected 4 offsets, got %d", len(offsets))
	}
	for _, o := range offsets {
		if o != 0 {
			t.Fatalf("expected all-zero offsets for empty merge, got %v", offsets)
		}
	}
}
