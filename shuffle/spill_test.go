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
	"testing"

	"github.com/SnellerInc/sortshuffle/diskmgr"
)

func TestSpillMemSize(t *testing.T) {
	data := []byte("hello world")
	offsets := []int64{0, 3, 11}
	s := NewInMemSpill(data, offsets)
	want := int64(len(data)) + int64(len(offsets))*8
	if got := s.MemSize(); got != want {
		t.Fatalf("MemSize() = %d, want %d", got, want)
	}
}

func TestSpillWriteRangeInMem(t *testing.T) {
	s := NewInMemSpill([]byte("0123456789"), []int64{0, 10})
	var buf bytes.Buffer
	if err := s.WriteRange(&buf, 2, 5); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "234" {
		t.Fatalf("got %q, want %q", buf.String(), "234")
	}
}

func TestSpillPromote(t *testing.T) {
	dm := diskmgr.NewLocalManager(t.TempDir())
	s := NewInMemSpill([]byte("abcdef"), []int64{0, 2, 6})
	before := s.MemSize()
	if err := s.Promote(dm); err != nil {
		t.Fatal(err)
	}
	if !s.IsFile() {
		t.Fatal("expected spill to be promoted to a file spill")
	}
	after := s.MemSize()
	if after >= before {
		t.Fatalf("promoted mem size %d should be smaller than %d", after, before)
	}
	var buf bytes.Buffer
	if err := s.WriteRange(&buf, 2, 6); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "cdef" {
		t.Fatalf("got %q, want %q", buf.String(), "cdef")
	}
	s.Close()
}

func TestSpillPromoteIsIdempotent(t *testing.T) {
	dm := diskmgr.NewLocalManager(t.TempDir())
	s := NewInMemSpill([]byte("abc"), []int64{0, 3})
	if err := s.Promote(dm); err != nil {
		t.Fatal(err)
	}
	if err := s.Promote(dm); err != nil {
		t.Fatalf("promoting an already-promoted spill should be a no-op, got %v", err)
	}
	s.Close()
}
