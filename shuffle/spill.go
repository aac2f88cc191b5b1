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
	"fmt"
	"io"
	"os"

	"github.com/SnellerInc/sortshuffle/diskmgr"
)

// spillKind distinguishes the two Spill variants. Spill is a tagged union
// rather than an interface so the merge hot loop can branch on the tag
// instead of going through dynamic dispatch.
type spillKind int

const (
	spillInMem spillKind = iota
	spillFile
)

// Spill is an immutable artifact produced by the SpillPromoter: a
// concatenation of zero or more codec-framed sub-batches, plus an offsets
// table of length N+1 locating each output partition's bytes within the
// stream. InMem spills hold the bytes directly; File spills hold an open
// file handle and stream ranged reads from it.
type Spill struct {
	kind    spillKind
	offsets []int64 // length N+1, monotonically non-decreasing

	bytes []byte // valid when kind == spillInMem

	file         *os.File // valid when kind == spillFile
	diskManager  diskmgr.Manager
	fileReleased bool
}

// NewInMemSpill wraps bytes and an N+1 offsets table as an in-memory Spill.
func NewInMemSpill(bytes []byte, offsets []int64) *Spill {
	return &Spill{kind: spillInMem, bytes: bytes, offsets: offsets}
}

// Offsets returns the spill's N+1 offset table. Callers must not mutate it.
func (s *Spill) Offsets() []int64 {
	return s.offsets
}

// IsFile reports whether the spill has already been promoted to disk.
func (s *Spill) IsFile() bool {
	return s.kind == spillFile
}

// MemSize is the accounted resident-memory cost of the spill: for an
// InMemSpill, the byte buffer plus the offsets table; for a FileSpill,
// only the offsets table, since the byte data itself lives on disk.
func (s *Spill) MemSize() int64 {
	tableBytes := int64(len(s.offsets)) * 8
	if s.kind == spillInMem {
		return int64(len(s.bytes)) + tableBytes
	}
	return tableBytes
}

// WriteRange copies the spill's bytes in [lo, hi) to dst. For a FileSpill
// this is a positioned, length-bounded read directly from the backing
// file; nothing is buffered beyond the copy itself.
func (s *Spill) WriteRange(dst io.Writer, lo, hi int64) error {
	if hi < lo {
		return fmt.Errorf("shuffle: invalid range [%d, %d)", lo, hi)
	}
	if lo == hi {
		return nil
	}
	switch s.kind {
	case spillInMem:
		if hi > int64(len(s.bytes)) {
			return fmt.Errorf("shuffle: range [%d, %d) exceeds in-mem spill length %d", lo, hi, len(s.bytes))
		}
		if _, err := dst.Write(s.bytes[lo:hi]); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
		return nil
	case spillFile:
		r := io.NewSectionReader(s.file, lo, hi-lo)
		if _, err := io.Copy(dst, r); err != nil {
			return fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
		return nil
	default:
		return fmt.Errorf("shuffle: unknown spill kind %d", s.kind)
	}
}

// Promote writes an InMemSpill's byte buffer to a temp file obtained from
// dm and drops the in-memory buffer, converting the receiver into a
// FileSpill in place. The offsets table is unchanged. Promoting an
// already-promoted spill is a no-op.
func (s *Spill) Promote(dm diskmgr.Manager) error {
	if s.kind == spillFile {
		return nil
	}
	f, err := dm.CreateTempFile()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if _, err := f.Write(s.bytes); err != nil {
		dm.Release(f)
		f.Close()
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	if err := f.Sync(); err != nil {
		dm.Release(f)
		f.Close()
		return fmt.Errorf("%w: %v", ErrIoFailure, err)
	}
	s.kind = spillFile
	s.file = f
	s.diskManager = dm
	s.bytes = nil
	return nil
}

// Close releases any file resources the spill holds: it stops the disk
// manager it was promoted through from tracking the backing temp file,
// then closes and deletes that file itself.
func (s *Spill) Close() {
	if s.kind != spillFile || s.fileReleased || s.file == nil {
		return
	}
	s.fileReleased = true
	if s.diskManager != nil {
		s.diskManager.Release(s.file)
	}
	name := s.file.Name()
	s.file.Close()
	os.Remove(name)
}
