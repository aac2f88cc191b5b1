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

import "errors"

// Error kinds the repartitioner can return, distinguished with sentinel
// errors and errors.Is.
var (
	// ErrResourcesExhausted means the memory manager denied a
	// reservation and no spill could free enough memory.
	ErrResourcesExhausted = errors.New("shuffle: resources exhausted")
	// ErrCodecFailure means serialization or deserialization of a
	// sub-batch failed.
	ErrCodecFailure = errors.New("shuffle: codec failure")
	// ErrIoFailure means a file open/read/write/seek/flush call failed.
	ErrIoFailure = errors.New("shuffle: io failure")
	// ErrJoinFailure means the blocking merge worker panicked or was
	// cancelled before completing.
	ErrJoinFailure = errors.New("shuffle: merge worker join failure")
	// ErrInvalidPartitionCount is a configuration error: N must be >= 1.
	ErrInvalidPartitionCount = errors.New("shuffle: num_output_partitions must be >= 1")
)
