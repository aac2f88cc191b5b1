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

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/SnellerInc/sortshuffle/compr"
)

// frame header layout, all little-endian:
//
//	numRows  uint32
//	flags    uint8   (bit 0: payload is compressed)
//	rawLen   uint32  (length of the uncompressed payload)
//	encLen   uint32  (length of the bytes immediately following the header)
const frameHeaderLen = 4 + 1 + 4 + 4

const flagCompressed = 1 << 0

// Codec writes and reads the framed sub-batches that make up a Spill's
// byte stream, corresponding to the host's write_one_batch and its
// inverse. The framing itself (length-prefixed, optionally compressed)
// is a compact replacement for a full ion encoding -- see DESIGN.md for
// why ion was not vendored wholesale.
type Codec struct {
	Schema Schema
}

// WriteOne serializes b and appends the resulting frame to dst, returning
// the number of bytes written. When compress is true the payload is
// zstd-compressed via the compr package.
func (c Codec) WriteOne(dst io.Writer, b *ColumnBatch, compress bool) (int, error) {
	if !b.Schema().Equal(c.Schema) {
		return 0, fmt.Errorf("rowbatch: codec schema mismatch")
	}
	payload := encodeColumns(c.Schema, b)
	flags := byte(0)
	enc := payload
	if compress {
		if z := compr.Compression("zstd"); z != nil {
			enc = z.Compress(payload, nil)
			flags |= flagCompressed
		}
	}
	var hdr [frameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(b.NumRows()))
	hdr[4] = flags
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(enc)))
	if _, err := dst.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("rowbatch: write frame header: %w", err)
	}
	if _, err := dst.Write(enc); err != nil {
		return 0, fmt.Errorf("rowbatch: write frame payload: %w", err)
	}
	return frameHeaderLen + len(enc), nil
}

// ReadOne decodes one frame from src. It returns io.EOF only if zero bytes
// could be read at the start of a frame; a short read partway through a
// frame is a CodecFailure-class error.
func (c Codec) ReadOne(src io.Reader) (*ColumnBatch, int, error) {
	var hdr [frameHeaderLen]byte
	n, err := io.ReadFull(src, hdr[:])
	if err == io.EOF && n == 0 {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, fmt.Errorf("rowbatch: read frame header: %w", err)
	}
	numRows := int(binary.LittleEndian.Uint32(hdr[0:4]))
	flags := hdr[4]
	rawLen := int(binary.LittleEndian.Uint32(hdr[5:9]))
	encLen := int(binary.LittleEndian.Uint32(hdr[9:13]))

	enc := make([]byte, encLen)
	if _, err := io.ReadFull(src, enc); err != nil {
		return nil, 0, fmt.Errorf("rowbatch: read frame payload: %w", err)
	}
	payload := enc
	if flags&flagCompressed != 0 {
		if z := compr.Decompression("zstd"); z != nil {
			payload = make([]byte, rawLen)
			if err := z.Decompress(enc, payload); err != nil {
				return nil, 0, fmt.Errorf("rowbatch: decompress frame: %w", err)
			}
		}
	}
	b, err := decodeColumns(c.Schema, numRows, payload)
	if err != nil {
		return nil, 0, err
	}
	return b, frameHeaderLen + encLen, nil
}

func encodeColumns(schema Schema, b *ColumnBatch) []byte {
	var buf []byte
	for _, f := range schema.Fields {
		switch f.Type {
		case Int64:
			vals := b.Int64Column(f.Name)
			for _, v := range vals {
				buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
			}
		case Float64:
			vals := b.Float64Column(f.Name)
			for _, v := range vals {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		case Bool:
			vals := b.BoolColumn(f.Name)
			for _, v := range vals {
				if v {
					buf = append(buf, 1)
				} else {
					buf = append(buf, 0)
				}
			}
		case String:
			vals := b.StringColumn(f.Name)
			for _, v := range vals {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
				buf = append(buf, v...)
			}
		}
	}
	return buf
}

func decodeColumns(schema Schema, numRows int, payload []byte) (*ColumnBatch, error) {
	cols := make([]column, len(schema.Fields))
	off := 0
	need := func(n int) error {
		if off+n > len(payload) {
			return fmt.Errorf("rowbatch: truncated frame payload")
		}
		return nil
	}
	for i, f := range schema.Fields {
		switch f.Type {
		case Int64:
			vals := make([]int64, numRows)
			for r := 0; r < numRows; r++ {
				if err := need(8); err != nil {
					return nil, err
				}
				vals[r] = int64(binary.LittleEndian.Uint64(payload[off : off+8]))
				off += 8
			}
			cols[i].i64 = vals
		case Float64:
			vals := make([]float64, numRows)
			for r := 0; r < numRows; r++ {
				if err := need(8); err != nil {
					return nil, err
				}
				vals[r] = math.Float64frombits(binary.LittleEndian.Uint64(payload[off : off+8]))
				off += 8
			}
			cols[i].f64 = vals
		case Bool:
			vals := make([]bool, numRows)
			for r := 0; r < numRows; r++ {
				if err := need(1); err != nil {
					return nil, err
				}
				vals[r] = payload[off] != 0
				off++
			}
			cols[i].b = vals
		case String:
			vals := make([]string, numRows)
			for r := 0; r < numRows; r++ {
				if err := need(4); err != nil {
					return nil, err
				}
				l := int(binary.LittleEndian.Uint32(payload[off : off+4]))
				off += 4
				if err := need(l); err != nil {
					return nil, err
				}
				vals[r] = string(payload[off : off+l])
				off += l
			}
			cols[i].str = vals
		}
	}
	return &ColumnBatch{schema: schema, numRows: numRows, cols: cols}, nil
}
