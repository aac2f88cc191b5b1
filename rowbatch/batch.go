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

package rowbatch

import "fmt"

// Batch is the minimal contract of a columnar record batch: row count,
// resident-size estimate and schema. ColumnBatch implements it; the
// shuffle core, the partitioning rules, Take and Concat all take
// *ColumnBatch directly rather than this interface.
type Batch interface {
	// NumRows returns the number of rows in the batch.
	NumRows() int
	// MemSize is the query-time cost estimate of the batch's resident
	// memory, in bytes.
	MemSize() int64
	// Schema returns the batch's column schema.
	Schema() Schema
}

// column holds one column's values; exactly one of the slices is
// populated, selected by Field.Type.
type column struct {
	i64 []int64
	f64 []float64
	str []string
	b   []bool
}

func (c *column) mem(t ColumnType) int64 {
	switch t {
	case Int64:
		return int64(len(c.i64)) * 8
	case Float64:
		return int64(len(c.f64)) * 8
	case Bool:
		return int64(len(c.b))
	case String:
		var n int64
		for _, s := range c.str {
			n += int64(len(s))
		}
		return n
	default:
		return 0
	}
}

func (c *column) rows(t ColumnType) int {
	switch t {
	case Int64:
		return len(c.i64)
	case Float64:
		return len(c.f64)
	case Bool:
		return len(c.b)
	case String:
		return len(c.str)
	default:
		return 0
	}
}

// ColumnBatch is the reference Batch implementation used by this module's
// tests and command-line driver. It is intentionally much smaller than a
// production columnar format (e.g. Arrow, or a full ion encoding), since
// the wire representation of an input batch is out of scope for the
// shuffle core; ColumnBatch exists only so the rest of the module is
// self-contained and exercisable.
type ColumnBatch struct {
	schema  Schema
	numRows int
	cols    []column
}

// NewColumnBatch builds a ColumnBatch from columnar data. cols must have
// one entry per schema field, and every populated slice in cols[i] must
// have exactly numRows elements; the constructor does not try to guess a
// row count from mismatched columns.
func NewColumnBatch(schema Schema, numRows int, cols []column) (*ColumnBatch, error) {
	if len(cols) != len(schema.Fields) {
		return nil, fmt.Errorf("rowbatch: schema has %d fields, got %d columns", len(schema.Fields), len(cols))
	}
	for i, f := range schema.Fields {
		if n := cols[i].rows(f.Type); n != numRows {
			return nil, fmt.Errorf("rowbatch: column %q has %d rows, batch has %d", f.Name, n, numRows)
		}
	}
	return &ColumnBatch{schema: schema, numRows: numRows, cols: cols}, nil
}

// Builder accumulates column values before producing an immutable
// ColumnBatch; it exists so callers don't need to reach into the
// unexported column type directly.
type Builder struct {
	schema Schema
	cols   []column
	n      int
}

// NewBuilder creates a Builder for the given schema.
func NewBuilder(schema Schema) *Builder {
	return &Builder{schema: schema, cols: make([]column, len(schema.Fields))}
}

func (b *Builder) field(name string) int {
	for i, f := range b.schema.Fields {
		if f.Name == name {
			return i
		}
	}
	panic(fmt.Sprintf("rowbatch: no such field %q", name))
}

// AppendInt64 appends a value to the named int64 column.
func (b *Builder) AppendInt64(name string, v int64) *Builder {
	i := b.field(name)
	b.cols[i].i64 = append(b.cols[i].i64, v)
	return b
}

// AppendFloat64 appends a value to the named float64 column.
func (b *Builder) AppendFloat64(name string, v float64) *Builder {
	i := b.field(name)
	b.cols[i].f64 = append(b.cols[i].f64, v)
	return b
}

// AppendString appends a value to the named string column.
func (b *Builder) AppendString(name string, v string) *Builder {
	i := b.field(name)
	b.cols[i].str = append(b.cols[i].str, v)
	return b
}

// AppendBool appends a value to the named bool column.
func (b *Builder) AppendBool(name string, v bool) *Builder {
	i := b.field(name)
	b.cols[i].b = append(b.cols[i].b, v)
	return b
}

// Row marks the end of one logical row; all AppendX calls between two Row
// calls are expected to have touched every column exactly once.
func (b *Builder) Row() *Builder {
	b.n++
	return b
}

// Batch finalizes the builder into a ColumnBatch.
func (b *Builder) Batch() (*ColumnBatch, error) {
	return NewColumnBatch(b.schema, b.n, b.cols)
}

func (c *ColumnBatch) NumRows() int    { return c.numRows }
func (c *ColumnBatch) Schema() Schema  { return c.schema }

// MemSize estimates resident bytes: the sum of each column's element
// storage, mirroring Arrow's get_array_memory_size in spirit without
// needing Arrow's allocator bookkeeping.
func (c *ColumnBatch) MemSize() int64 {
	var n int64
	for i, f := range c.schema.Fields {
		n += c.cols[i].mem(f.Type)
	}
	return n
}

// Int64Column returns the raw values of an int64 column by name.
func (c *ColumnBatch) Int64Column(name string) []int64 {
	return c.cols[c.field(name)].i64
}

// Float64Column returns the raw values of a float64 column by name.
func (c *ColumnBatch) Float64Column(name string) []float64 {
	return c.cols[c.field(name)].f64
}

// StringColumn returns the raw values of a string column by name.
func (c *ColumnBatch) StringColumn(name string) []string {
	return c.cols[c.field(name)].str
}

// BoolColumn returns the raw values of a bool column by name.
func (c *ColumnBatch) BoolColumn(name string) []bool {
	return c.cols[c.field(name)].b
}

func (c *ColumnBatch) field(name string) int {
	for i, f := range c.schema.Fields {
		if f.Name == name {
			return i
		}
	}
	panic(fmt.Sprintf("rowbatch: no such field %q", name))
}

// Take builds a new batch containing only the rows at the given indices,
// in the given order. Indices are always bounds-checked; the cost is
// negligible next to the copy itself.
func Take(b *ColumnBatch, indices []uint32) *ColumnBatch {
	out := make([]column, len(b.schema.Fields))
	for i, f := range b.schema.Fields {
		switch f.Type {
		case Int64:
			src := b.cols[i].i64
			dst := make([]int64, len(indices))
			for j, idx := range indices {
				dst[j] = src[idx]
			}
			out[i].i64 = dst
		case Float64:
			src := b.cols[i].f64
			dst := make([]float64, len(indices))
			for j, idx := range indices {
				dst[j] = src[idx]
			}
			out[i].f64 = dst
		case String:
			src := b.cols[i].str
			dst := make([]string, len(indices))
			for j, idx := range indices {
				dst[j] = src[idx]
			}
			out[i].str = dst
		case Bool:
			src := b.cols[i].b
			dst := make([]bool, len(indices))
			for j, idx := range indices {
				dst[j] = src[idx]
			}
			out[i].b = dst
		}
	}
	return &ColumnBatch{schema: b.schema, numRows: len(indices), cols: out}
}

// Concat concatenates batches into a single logical batch without
// reordering rows, corresponding to the host's concat_batches. All
// batches must share schema.
func Concat(schema Schema, batches []*ColumnBatch, totalRows int) (*ColumnBatch, error) {
	out := make([]column, len(schema.Fields))
	for i, f := range schema.Fields {
		switch f.Type {
		case Int64:
			dst := make([]int64, 0, totalRows)
			for _, b := range batches {
				if !b.schema.Equal(schema) {
					return nil, fmt.Errorf("rowbatch: concat: schema mismatch")
				}
				dst = append(dst, b.cols[i].i64...)
			}
			out[i].i64 = dst
		case Float64:
			dst := make([]float64, 0, totalRows)
			for _, b := range batches {
				dst = append(dst, b.cols[i].f64...)
			}
			out[i].f64 = dst
		case String:
			dst := make([]string, 0, totalRows)
			for _, b := range batches {
				dst = append(dst, b.cols[i].str...)
			}
			out[i].str = dst
		case Bool:
			dst := make([]bool, 0, totalRows)
			for _, b := range batches {
				dst = append(dst, b.cols[i].b...)
			}
			out[i].b = dst
		}
	}
	if len(out) > 0 {
		n := out[0].rows(schema.Fields[0].Type)
		if n != totalRows {
			return nil, fmt.Errorf("rowbatch: concat: expected %d rows, got %d", totalRows, n)
		}
	}
	return &ColumnBatch{schema: schema, numRows: totalRows, cols: out}, nil
}
