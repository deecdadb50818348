// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dng

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"dualcam/pkg/raw"

	"github.com/icza/bitio"
)

const (
	headerSize = 8
	entrySize  = 12
)

// ErrInvalidBitDepth unsupported bits per sample.
var ErrInvalidBitDepth = errors.New("invalid bit depth")

// TileSize returns the number of bytes of a single tile.
// Rows are padded to a byte boundary.
func TileSize(width int, height int, bitsPerSample int) int {
	return (width*bitsPerSample + 7) / 8 * height
}

// Write encodes frame as a DNG with a single IFD and one tile.
// Image and tile dimensions are taken from the frame.
func Write(w io.Writer, frame *raw.Frame, tags Tags) error {
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Pix) < frame.Width*frame.Height {
		return fmt.Errorf("invalid frame %dx%d", frame.Width, frame.Height)
	}

	t := Tags{}
	for k, v := range tags {
		t[k] = v
	}

	bps := 10
	if v, ok := t.Uint(TagBitsPerSample); ok {
		bps = int(v)
	}
	if bps < 8 || bps > 16 {
		return fmt.Errorf("%w: %d", ErrInvalidBitDepth, bps)
	}
	t.SetShort(TagBitsPerSample, uint16(bps))

	t.SetLong(TagImageWidth, uint32(frame.Width))
	t.SetLong(TagImageLength, uint32(frame.Height))
	t.SetLong(TagTileWidth, uint32(frame.Width))
	t.SetLong(TagTileLength, uint32(frame.Height))

	tileSize := TileSize(frame.Width, frame.Height, bps)
	t.SetLong(TagTileByteCounts, uint32(tileSize))
	t.SetLong(TagTileOffsets, 0)

	entries := t.Sorted()
	ifdSize := 2 + len(entries)*entrySize + 4

	// Values that don't fit in the entry are stored after the IFD.
	dataOffset := headerSize + ifdSize
	extSize := 0
	for _, e := range entries {
		if len(e.Value) > 4 {
			extSize += pad2(len(e.Value))
		}
	}
	tileOffset := dataOffset + extSize
	t.SetLong(TagTileOffsets, uint32(tileOffset))
	entries = t.Sorted()

	var buf bytes.Buffer
	buf.Grow(tileOffset)

	// Header.
	buf.WriteString("II")
	writeUint16(&buf, 42)
	writeUint32(&buf, headerSize)

	// IFD.
	var ext bytes.Buffer
	writeUint16(&buf, uint16(len(entries)))
	for _, e := range entries {
		writeUint16(&buf, uint16(e.Tag))
		writeUint16(&buf, uint16(e.Type))
		writeUint32(&buf, e.Count)

		if len(e.Value) <= 4 {
			var inline [4]byte
			copy(inline[:], e.Value)
			buf.Write(inline[:])
			continue
		}
		writeUint32(&buf, uint32(dataOffset+ext.Len()))
		ext.Write(e.Value)
		if len(e.Value)%2 != 0 {
			ext.WriteByte(0)
		}
	}
	writeUint32(&buf, 0) // Next IFD.
	buf.Write(ext.Bytes())

	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	return writeTile(w, frame, bps)
}

// writeTile writes the samples MSB first with bps bits each.
func writeTile(w io.Writer, frame *raw.Frame, bps int) error {
	bw := bitio.NewWriter(w)
	mask := uint64(1)<<bps - 1
	rowPadding := frame.Width*bps%8 != 0

	for y := 0; y < frame.Height; y++ {
		row := frame.Pix[y*frame.Width : (y+1)*frame.Width]
		for _, s := range row {
			bw.TryWriteBits(uint64(s)&mask, uint8(bps))
		}
		if rowPadding {
			bw.TryAlign()
		}
	}
	if bw.TryError != nil {
		return fmt.Errorf("write tile: %w", bw.TryError)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("flush tile: %w", err)
	}
	return nil
}

func pad2(n int) int {
	return n + n%2
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
