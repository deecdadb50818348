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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dualcam/pkg/raw"
)

// Filename returns the output file name for a camera.
func Filename(camera int) string {
	return fmt.Sprintf("camera%d.dng", camera)
}

// Metadata optional descriptive tags.
type Metadata struct {
	Make     string
	Model    string
	Software string
	Time     time.Time
}

func (m Metadata) apply(t Tags) {
	if m.Make != "" {
		t.SetASCII(TagMake, m.Make)
	}
	if m.Model != "" {
		t.SetASCII(TagModel, m.Model)
	}
	if m.Software != "" {
		t.SetASCII(TagSoftware, m.Software)
	}
	if !m.Time.IsZero() {
		t.SetASCII(TagDateTime, m.Time.Format("2006:01:02 15:04:05"))
	}
}

// Convert reads the first frame of a raw recording and writes
// it to "<outDir>/camera<N>.dng". Returns the output path.
func Convert(rawPath string, f raw.Format, camera int, outDir string, meta Metadata) (string, error) {
	frame, err := raw.ReadFirstFrame(rawPath, f)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}

	tags := BayerTags(frame.Width, frame.Height)
	meta.apply(tags)

	path := filepath.Join(outDir, Filename(camera))
	if err := WriteFile(path, frame, tags); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes the DNG to a temporary file and renames it into place.
func WriteFile(path string, frame *raw.Frame, tags Tags) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	if err := Write(w, frame, tags); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode %v: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// ChannelStats sample statistics of one CFA position.
type ChannelStats struct {
	Color byte
	Min   uint16
	Max   uint16
	Mean  float64
}

// Stats returns statistics for each position of a 2x2 CFA pattern.
func Stats(frame *raw.Frame, pattern []byte) [4]ChannelStats {
	var stats [4]ChannelStats
	var sums [4]float64
	var counts [4]int
	for i := range stats {
		stats[i].Min = 0xffff
		if i < len(pattern) {
			stats[i].Color = pattern[i]
		}
	}

	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			i := (y%2)*2 + x%2
			s := frame.At(x, y)
			if s < stats[i].Min {
				stats[i].Min = s
			}
			if s > stats[i].Max {
				stats[i].Max = s
			}
			sums[i] += float64(s)
			counts[i]++
		}
	}

	for i := range stats {
		if counts[i] == 0 {
			stats[i].Min = 0
			continue
		}
		stats[i].Mean = sums[i] / float64(counts[i])
	}
	return stats
}

// ColorName returns the name of a CFA color.
func ColorName(c byte) string {
	switch c {
	case Red:
		return "R"
	case Green:
		return "G"
	case Blue:
		return "B"
	}
	return "?"
}
