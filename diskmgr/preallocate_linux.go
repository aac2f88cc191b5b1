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

//go:build linux

package diskmgr

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocatedBytes is a conservative guess at typical spill size; a
// failed or partial fallocate is not an error; it is purely an attempt
// to reduce fragmentation for the sequential writes a FileSpill does.
const preallocatedBytes = 4 << 20

func preallocate(f *os.File) {
	// best-effort: spills are written sequentially and grow far beyond
	// this hint in the common case, so ignore all errors here (e.g.
	// ENOSYS on filesystems that don't support fallocate).
	_ = unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, preallocatedBytes)
}
