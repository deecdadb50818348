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

package raw

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timestamps frame timestamps in milliseconds.
type Timestamps []float64

// ParsePTS parses a timestamp sidecar file.
func ParsePTS(r io.Reader) (Timestamps, error) {
	/* INPUT
	   # timecode format v2
	   0.000
	   33.365
	   66.730
	*/
	var ts Timestamps
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts = append(ts, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ts, nil
}

// ReadPTS reads a timestamp sidecar file.
func ReadPTS(path string) (Timestamps, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ts, err := ParsePTS(file)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return ts, nil
}

// First returns the first timestamp.
func (ts Timestamps) First() (time.Duration, bool) {
	if len(ts) == 0 {
		return 0, false
	}
	return msToDuration(ts[0]), true
}

// Duration between the first and the last frame.
func (ts Timestamps) Duration() time.Duration {
	if len(ts) < 2 {
		return 0
	}
	return msToDuration(ts[len(ts)-1] - ts[0])
}

// FrameRate average frames per second.
func (ts Timestamps) FrameRate() float64 {
	d := ts.Duration()
	if d == 0 {
		return 0
	}
	return float64(len(ts)-1) / d.Seconds()
}

// Dropped estimates the number of dropped frames by counting
// gaps longer than 1.5 times the median frame interval.
func (ts Timestamps) Dropped() int {
	if len(ts) < 3 {
		return 0
	}
	intervals := make([]float64, len(ts)-1)
	for i := 1; i < len(ts); i++ {
		intervals[i-1] = ts[i] - ts[i-1]
	}
	median := medianOf(intervals)
	if median <= 0 {
		return 0
	}

	dropped := 0
	for _, iv := range intervals {
		if iv > median*1.5 {
			dropped += int(iv/median+0.5) - 1
		}
	}
	return dropped
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
