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

// Package raw reads frames recorded by the raw camera app.
//
// Unpacked frames store every 10 bit sample in a little endian
// 16 bit word, rows are stored top to bottom.
// Packed frames use the CSI-2 RAW10 layout, 4 samples in 5 bytes.
package raw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Packing sample packing.
type Packing string

// Packings.
const (
	Unpacked Packing = "U"
	Packed   Packing = "P"
)

// ErrTruncated the input is shorter than a single frame.
var ErrTruncated = errors.New("raw frame truncated")

// ErrInvalidFormat invalid frame format.
var ErrInvalidFormat = errors.New("invalid format")

// Format frame geometry.
type Format struct {
	Width   int
	Height  int
	Packing Packing

	// Stride bytes per row, zero means no row padding.
	Stride int
}

// Validate format.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidFormat, f.Width, f.Height)
	}
	switch f.Packing {
	case Unpacked:
	case Packed:
		if f.Width%4 != 0 {
			return fmt.Errorf("%w: packed width %d is not a multiple of 4", ErrInvalidFormat, f.Width)
		}
	default:
		return fmt.Errorf("%w: packing %q", ErrInvalidFormat, f.Packing)
	}
	if f.Stride != 0 && f.Stride < f.rowBytes() {
		return fmt.Errorf("%w: stride %d < %d", ErrInvalidFormat, f.Stride, f.rowBytes())
	}
	return nil
}

func (f Format) rowBytes() int {
	if f.Packing == Packed {
		return f.Width * 5 / 4
	}
	return f.Width * 2
}

// RowSize bytes per row including padding.
func (f Format) RowSize() int {
	if f.Stride != 0 {
		return f.Stride
	}
	return f.rowBytes()
}

// FrameSize bytes per frame.
func (f Format) FrameSize() int {
	return f.RowSize() * f.Height
}

// Frame single Bayer frame.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16 // Row major.
}

// At returns the sample at x, y.
func (f *Frame) At(x int, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// ReadFrame reads exactly one frame.
// Returns ErrTruncated if the reader ends before a full frame.
func ReadFrame(r io.Reader, f Format) (*Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, f.FrameSize())
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read %d of %d bytes", ErrTruncated, n, len(buf))
	}
	if err != nil {
		return nil, err
	}

	frame := &Frame{
		Width:  f.Width,
		Height: f.Height,
		Pix:    make([]uint16, f.Width*f.Height),
	}
	rowSize := f.RowSize()
	for y := 0; y < f.Height; y++ {
		row := buf[y*rowSize : y*rowSize+f.rowBytes()]
		out := frame.Pix[y*f.Width : (y+1)*f.Width]
		if f.Packing == Packed {
			UnpackRAW10(out, row)
		} else {
			unpack16(out, row)
		}
	}
	return frame, nil
}

// ReadFirstFrame reads the first frame of a raw recording.
// Any following frames are ignored.
func ReadFirstFrame(path string, f Format) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frame, err := ReadFrame(file, f)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return frame, nil
}

// CountFrames returns the number of complete frames in a
// raw recording and the number of trailing bytes.
func CountFrames(path string, f Format) (int, int64, error) {
	if err := f.Validate(); err != nil {
		return 0, 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	size := int64(f.FrameSize())
	return int(info.Size() / size), info.Size() % size, nil
}

func unpack16(out []uint16, in []byte) {
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(in[i*2:])
	}
}

// UnpackRAW10 unpacks CSI-2 RAW10. Every 5 bytes hold the 8 high bits
// of 4 samples followed by a byte with their 2 low bits, first sample
// in the least significant bits.
func UnpackRAW10(out []uint16, in []byte) {
	for i := 0; i+3 < len(out); i += 4 {
		group := in[i/4*5 : i/4*5+5]
		low := group[4]
		for j := 0; j < 4; j++ {
			out[i+j] = uint16(group[j])<<2 | uint16(low>>(2*j))&0x3
		}
	}
}

// PackRAW10 is the inverse of UnpackRAW10.
func PackRAW10(in []uint16) []byte {
	out := make([]byte, len(in)*5/4)
	for i := 0; i+3 < len(in); i += 4 {
		group := out[i/4*5 : i/4*5+5]
		for j := 0; j < 4; j++ {
			group[j] = byte(in[i+j] >> 2)
			group[4] |= byte(in[i+j]&0x3) << (2 * j)
		}
	}
	return out
}
