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

// Package shufflemetrics holds the small set of counters a shuffle
// repartitioner reports through: mem_used, spilled_bytes, spill_count,
// elapsed_compute. Each is a plain atomic.Int64, the idiomatic Go shape
// for monotone byte/count/duration counters.
package shufflemetrics

import (
	"sync/atomic"
	"time"
)

// Metrics is a set of counters for one repartitioner instance.
type Metrics struct {
	memUsed      atomic.Int64
	spilledBytes atomic.Int64
	spillCount   atomic.Int64
	elapsed      atomic.Int64 // nanoseconds
}

func (m *Metrics) AddMemUsed(n int64)  { m.memUsed.Add(n) }
func (m *Metrics) SetMemUsed(n int64)  { m.memUsed.Store(n) }
func (m *Metrics) MemUsed() int64      { return m.memUsed.Load() }

func (m *Metrics) RecordSpill(freed int64) {
	m.spilledBytes.Add(freed)
	m.spillCount.Add(1)
}

func (m *Metrics) SpilledBytes() int64 { return m.spilledBytes.Load() }
func (m *Metrics) SpillCount() int64   { return m.spillCount.Load() }

func (m *Metrics) AddElapsed(d time.Duration) { m.elapsed.Add(int64(d)) }
func (m *Metrics) Elapsed() time.Duration     { return time.Duration(m.elapsed.Load()) }
