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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/SnellerInc/sortshuffle/heap"
)

// spillCursor pairs a Spill with the current output partition it has not
// yet fully emitted, the unit the merge's min-heap orders by.
type spillCursor struct {
	spill *Spill
	cur   int
}

func newSpillCursor(s *Spill) *spillCursor {
	c := &spillCursor{spill: s}
	c.skipEmpty()
	return c
}

func (c *spillCursor) finished() bool {
	return c.cur+1 >= len(c.spill.Offsets())
}

func (c *spillCursor) skipEmpty() {
	offs := c.spill.Offsets()
	for c.cur+1 < len(offs) && offs[c.cur] == offs[c.cur+1] {
		c.cur++
	}
}

func lessCursor(a, b *spillCursor) bool {
	return a.cur < b.cur
}

// MergeWriter performs the k-way merge of spill cursors into the data and
// index files. The heap is this module's own generic heap package,
// parameterized over *spillCursor, kept to avoid reimplementing
// container/heap's callback interface.
type MergeWriter struct {
	NumPartitions int
}

// Write merges spills into dataFile and indexFile. The merge itself runs
// on a separate goroutine standing in for a blocking file-I/O worker;
// Write waits for it, returning early if ctx is cancelled. ctx
// cancellation or a panic inside the worker both surface as
// ErrJoinFailure.
func (w MergeWriter) Write(ctx context.Context, spills []*Spill, dataFile, indexFile io.Writer) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrJoinFailure, r)
			}
		}()
		done <- w.run(spills, dataFile, indexFile)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrJoinFailure, ctx.Err())
	case err := <-done:
		return err
	}
}

func (w MergeWriter) run(spills []*Spill, dataFile, indexFile io.Writer) error {
	offsets, err := mergeSpills(spills, w.NumPartitions, dataFile)
	if err != nil {
		return err
	}
	return writeIndex(indexFile, offsets)
}

// mergeSpills writes every spill's bytes to dataW, grouped by output
// partition, and returns the resulting N+1 output offsets.
func mergeSpills(spills []*Spill, numPartitions int, dataW io.Writer) ([]int64, error) {
	cursors := make([]*spillCursor, 0, len(spills))
	for _, s := range spills {
		c := newSpillCursor(s)
		if !c.finished() {
			cursors = append(cursors, c)
		}
	}
	heap.OrderSlice(cursors, lessCursor)

	outOffsets := []int64{0}
	curOutPartition := 0
	var pos int64

	for len(cursors) > 0 {
		c := cursors[0]
		for curOutPartition < c.cur {
			outOffsets = append(outOffsets, pos)
			curOutPartition++
		}
		offs := c.spill.Offsets()
		lo, hi := offs[c.cur], offs[c.cur+1]
		if err := c.spill.WriteRange(dataW, lo, hi); err != nil {
			return nil, err
		}
		pos += hi - lo
		c.cur++
		c.skipEmpty()
		if c.finished() {
			heap.PopSlice(&cursors, lessCursor)
		} else {
			heap.FixSlice(cursors, 0, lessCursor)
		}
	}
	for len(outOffsets) <= numPartitions {
		outOffsets = append(outOffsets, pos)
	}
	return outOffsets, nil
}

func writeIndex(w io.Writer, offsets []int64) error {
	buf := make([]byte, 8*len(offsets))
	for i, o := range offsets {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(o))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	return nil
}
