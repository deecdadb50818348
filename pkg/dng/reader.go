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
	"os"

	"dualcam/pkg/raw"

	"github.com/icza/bitio"
)

// ErrNotDNG the input is not a little endian DNG.
var ErrNotDNG = errors.New("not a DNG file")

// Info image summary.
type Info struct {
	Width         int
	Height        int
	BitsPerSample int
	CFAPattern    []byte
	Tags          Tags
}

// ReadInfo parses the first IFD of a DNG file.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info, err := ParseInfo(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return info, nil
}

// ParseInfo parses the first IFD.
func ParseInfo(data []byte) (*Info, error) {
	tags, err := parseIFD(data)
	if err != nil {
		return nil, err
	}

	info := &Info{Tags: tags, BitsPerSample: 10}
	width, ok := tags.Uint(TagImageWidth)
	if !ok {
		return nil, fmt.Errorf("%w: missing %v", ErrNotDNG, TagImageWidth)
	}
	height, ok := tags.Uint(TagImageLength)
	if !ok {
		return nil, fmt.Errorf("%w: missing %v", ErrNotDNG, TagImageLength)
	}
	info.Width, info.Height = int(width), int(height)

	if bps, ok := tags.Uint(TagBitsPerSample); ok {
		info.BitsPerSample = int(bps)
	}
	if e, ok := tags[TagCFAPattern]; ok {
		info.CFAPattern = e.Value
	}
	return info, nil
}

func parseIFD(data []byte) (Tags, error) {
	if len(data) < headerSize ||
		string(data[:2]) != "II" ||
		binary.LittleEndian.Uint16(data[2:]) != 42 {
		return nil, ErrNotDNG
	}

	offset := int(binary.LittleEndian.Uint32(data[4:]))
	if offset+2 > len(data) {
		return nil, fmt.Errorf("%w: IFD offset %d out of range", ErrNotDNG, offset)
	}
	n := int(binary.LittleEndian.Uint16(data[offset:]))
	if offset+2+n*entrySize > len(data) {
		return nil, fmt.Errorf("%w: IFD truncated", ErrNotDNG)
	}

	tags := Tags{}
	for i := 0; i < n; i++ {
		entry := data[offset+2+i*entrySize:]
		e := Entry{
			Tag:   Tag(binary.LittleEndian.Uint16(entry[0:])),
			Type:  Type(binary.LittleEndian.Uint16(entry[2:])),
			Count: binary.LittleEndian.Uint32(entry[4:]),
		}
		size := int(e.Count) * e.Type.size()
		if size <= 4 {
			e.Value = append([]byte(nil), entry[8:8+size]...)
		} else {
			valueOffset := int(binary.LittleEndian.Uint32(entry[8:]))
			if valueOffset+size > len(data) {
				return nil, fmt.Errorf("%w: %v value out of range", ErrNotDNG, e.Tag)
			}
			e.Value = append([]byte(nil), data[valueOffset:valueOffset+size]...)
		}
		tags[e.Tag] = e
	}
	return tags, nil
}

// Decode reads the image data of a file written by Write.
func Decode(data []byte) (*raw.Frame, *Info, error) {
	info, err := ParseInfo(data)
	if err != nil {
		return nil, nil, err
	}

	offset, ok := info.Tags.Uint(TagTileOffsets)
	if !ok {
		return nil, nil, fmt.Errorf("%w: missing %v", ErrNotDNG, TagTileOffsets)
	}
	size := TileSize(info.Width, info.Height, info.BitsPerSample)
	if int(offset)+size > len(data) {
		return nil, nil, fmt.Errorf("%w: tile truncated", ErrNotDNG)
	}

	frame := &raw.Frame{
		Width:  info.Width,
		Height: info.Height,
		Pix:    make([]uint16, info.Width*info.Height),
	}
	br := bitio.NewReader(bytes.NewReader(data[offset : int(offset)+size]))
	bps := uint8(info.BitsPerSample)
	for y := 0; y < info.Height; y++ {
		row := frame.Pix[y*info.Width : (y+1)*info.Width]
		for x := range row {
			row[x] = uint16(br.TryReadBits(bps))
		}
		br.Align()
	}
	if br.TryError != nil {
		return nil, nil, fmt.Errorf("read tile: %w", br.TryError)
	}
	return frame, info, nil
}
