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

package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// AfterFunc is time.After, used for mocking.
type AfterFunc func(time.Duration) <-chan time.Time

// RenderFunc is called with the remaining seconds.
type RenderFunc func(remaining int)

// Countdown blocks for the given number of one second ticks and calls
// render before every tick and once more with zero when done.
// Returns the number of completed ticks.
func Countdown(ctx context.Context, seconds int, after AfterFunc, render RenderFunc) (int, error) {
	ticks := 0
	for remaining := seconds; remaining > 0; remaining-- {
		render(remaining)
		select {
		case <-after(time.Second):
			ticks++
		case <-ctx.Done():
			return ticks, ctx.Err()
		}
	}
	render(0)
	return ticks, nil
}

// FormatClock formats seconds as "mm:ss". Negative values are clamped to zero.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Bar renders the countdown as a progress bar.
type Bar struct {
	bar   *progressbar.ProgressBar
	w     io.Writer
	total int
}

// NewBar returns a bar for a countdown of seconds.
func NewBar(w io.Writer, seconds int) *Bar {
	bar := progressbar.NewOptions(seconds,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Recording "+FormatClock(seconds)),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))
	return &Bar{bar: bar, w: w, total: seconds}
}

// Render implements RenderFunc.
func (b *Bar) Render(remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	b.bar.Describe("Recording " + FormatClock(remaining))
	_ = b.bar.Set(b.total - remaining)
}

// Finish leaves the bar at its current state and ends the line.
func (b *Bar) Finish() {
	_ = b.bar.Exit()
	fmt.Fprintln(b.w)
}
