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

// Package dng writes and inspects single frame, uncompressed DNG files.
package dng

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Tag TIFF/DNG tag ID.
type Tag uint16

// Tags used by the encoder.
const (
	TagNewSubfileType            Tag = 254
	TagImageWidth                Tag = 256
	TagImageLength               Tag = 257
	TagBitsPerSample             Tag = 258
	TagCompression               Tag = 259
	TagPhotometricInterpretation Tag = 262
	TagMake                      Tag = 271
	TagModel                     Tag = 272
	TagOrientation               Tag = 274
	TagSamplesPerPixel           Tag = 277
	TagPlanarConfiguration       Tag = 284
	TagSoftware                  Tag = 305
	TagDateTime                  Tag = 306
	TagTileWidth                 Tag = 322
	TagTileLength                Tag = 323
	TagTileOffsets               Tag = 324
	TagTileByteCounts            Tag = 325
	TagCFARepeatPatternDim       Tag = 33421
	TagCFAPattern                Tag = 33422
	TagDNGVersion                Tag = 50706
	TagDNGBackwardVersion        Tag = 50707
	TagUniqueCameraModel         Tag = 50708
	TagWhiteLevel                Tag = 50717
)

var tagNames = map[Tag]string{
	TagNewSubfileType:            "NewSubfileType",
	TagImageWidth:                "ImageWidth",
	TagImageLength:               "ImageLength",
	TagBitsPerSample:             "BitsPerSample",
	TagCompression:               "Compression",
	TagPhotometricInterpretation: "PhotometricInterpretation",
	TagMake:                      "Make",
	TagModel:                     "Model",
	TagOrientation:               "Orientation",
	TagSamplesPerPixel:           "SamplesPerPixel",
	TagPlanarConfiguration:       "PlanarConfiguration",
	TagSoftware:                  "Software",
	TagDateTime:                  "DateTime",
	TagTileWidth:                 "TileWidth",
	TagTileLength:                "TileLength",
	TagTileOffsets:               "TileOffsets",
	TagTileByteCounts:            "TileByteCounts",
	TagCFARepeatPatternDim:       "CFARepeatPatternDim",
	TagCFAPattern:                "CFAPattern",
	TagDNGVersion:                "DNGVersion",
	TagDNGBackwardVersion:        "DNGBackwardVersion",
	TagUniqueCameraModel:         "UniqueCameraModel",
	TagWhiteLevel:                "WhiteLevel",
}

func (t Tag) String() string {
	if name, exist := tagNames[t]; exist {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint16(t))
}

// Type TIFF field type.
type Type uint16

// Field types.
const (
	TypeByte  Type = 1
	TypeASCII Type = 2
	TypeShort Type = 3
	TypeLong  Type = 4

	typeRational  Type = 5
	typeSRational Type = 10
)

func (t Type) size() int {
	switch t {
	case TypeShort:
		return 2
	case TypeLong:
		return 4
	case typeRational, typeSRational:
		return 8
	}
	return 1
}

// Common values.
const (
	OrientationHorizontal = 1
	PhotometricCFA        = 32803
	CompressionNone       = 1
	PlanarChunky          = 1
)

// CFA colors.
const (
	Red   = 0
	Green = 1
	Blue  = 2
)

// CFA patterns.
var (
	CFAPatternRGGB = []byte{Red, Green, Green, Blue}
	CFAPatternGRBG = []byte{Green, Red, Blue, Green}
	CFAPatternGBRG = []byte{Green, Blue, Red, Green}
	CFAPatternBGGR = []byte{Blue, Green, Green, Red}
)

// DNG versions.
var (
	DNGVersion12 = []byte{1, 2, 0, 0}
	DNGVersion14 = []byte{1, 4, 0, 0}
)

// Entry single IFD entry.
type Entry struct {
	Tag   Tag
	Type  Type
	Count uint32
	Value []byte // Little endian encoded values.
}

// Uints decodes BYTE, SHORT and LONG values.
func (e Entry) Uints() []uint32 {
	size := e.Type.size()
	out := make([]uint32, 0, e.Count)
	for i := 0; i+size <= len(e.Value) && len(out) < int(e.Count); i += size {
		switch e.Type {
		case TypeShort:
			out = append(out, uint32(binary.LittleEndian.Uint16(e.Value[i:])))
		case TypeLong:
			out = append(out, binary.LittleEndian.Uint32(e.Value[i:]))
		default:
			out = append(out, uint32(e.Value[i]))
		}
	}
	return out
}

// String formats the value.
func (e Entry) String() string {
	if e.Type == TypeASCII {
		v := e.Value
		if len(v) != 0 && v[len(v)-1] == 0 {
			v = v[:len(v)-1]
		}
		return string(v)
	}
	values := e.Uints()
	if len(values) == 1 {
		return fmt.Sprint(values[0])
	}
	return fmt.Sprint(values)
}

// Tags tag set, encoded in ascending tag order.
type Tags map[Tag]Entry

// SetByte sets a BYTE tag.
func (t Tags) SetByte(tag Tag, values ...byte) {
	t[tag] = Entry{
		Tag:   tag,
		Type:  TypeByte,
		Count: uint32(len(values)),
		Value: append([]byte(nil), values...),
	}
}

// SetShort sets a SHORT tag.
func (t Tags) SetShort(tag Tag, values ...uint16) {
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	t[tag] = Entry{Tag: tag, Type: TypeShort, Count: uint32(len(values)), Value: buf}
}

// SetLong sets a LONG tag.
func (t Tags) SetLong(tag Tag, values ...uint32) {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	t[tag] = Entry{Tag: tag, Type: TypeLong, Count: uint32(len(values)), Value: buf}
}

// SetASCII sets a NUL terminated ASCII tag.
func (t Tags) SetASCII(tag Tag, value string) {
	buf := append([]byte(value), 0)
	t[tag] = Entry{Tag: tag, Type: TypeASCII, Count: uint32(len(buf)), Value: buf}
}

// Uint returns the first value of a numeric tag.
func (t Tags) Uint(tag Tag) (uint32, bool) {
	e, exist := t[tag]
	if !exist {
		return 0, false
	}
	values := e.Uints()
	if len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// Sorted returns the entries in ascending tag order.
func (t Tags) Sorted() []Entry {
	entries := make([]Entry, 0, len(t))
	for _, e := range t {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Tag < entries[j].Tag
	})
	return entries
}

// BayerTags returns the tags for a single 10 bit GBRG frame
// stored as one tile covering the whole image.
func BayerTags(width int, height int) Tags {
	t := Tags{}
	t.SetLong(TagNewSubfileType, 0)
	t.SetLong(TagImageWidth, uint32(width))
	t.SetLong(TagImageLength, uint32(height))
	t.SetLong(TagTileWidth, uint32(width))
	t.SetLong(TagTileLength, uint32(height))
	t.SetShort(TagOrientation, OrientationHorizontal)
	t.SetShort(TagPhotometricInterpretation, PhotometricCFA)
	t.SetShort(TagSamplesPerPixel, 1)
	t.SetShort(TagBitsPerSample, 10)
	t.SetShort(TagCompression, CompressionNone)
	t.SetShort(TagPlanarConfiguration, PlanarChunky)
	t.SetShort(TagCFARepeatPatternDim, 2, 2)
	t.SetByte(TagCFAPattern, CFAPatternGBRG...)
	t.SetByte(TagDNGVersion, DNGVersion14...)
	t.SetByte(TagDNGBackwardVersion, DNGVersion12...)
	t.SetLong(TagWhiteLevel, 1023)
	t.SetASCII(TagUniqueCameraModel, "dualcam")
	return t
}
