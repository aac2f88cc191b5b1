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

// Package rowbatch provides a reference implementation of the columnar
// batch representation and wire codec that the shuffle repartitioner
// treats as an external collaborator: the core works with the ColumnBatch
// type and the Codec declared in this package.
package rowbatch

import "fmt"

// ColumnType identifies the Go type backing a Column's values.
type ColumnType int

const (
	Int64 ColumnType = iota
	Float64
	String
	Bool
)

func (t ColumnType) String() string {
	switch t {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Field describes one column of a Schema.
type Field struct {
	Name string
	Type ColumnType
}

// Schema is the fixed, ordered set of columns shared by every Batch
// flowing through one repartitioner instance.
type Schema struct {
	Fields []Field
}

// Equal reports whether two schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}
