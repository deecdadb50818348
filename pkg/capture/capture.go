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

// Package capture records both cameras for a fixed duration.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dualcam/pkg/camera"
	"dualcam/pkg/log"
)

// Errors.
var (
	ErrInvalidDuration = errors.New("duration must be a positive number of seconds")
	ErrCameraExited    = errors.New("camera stopped during recording")
)

// Recorder is implemented by *camera.Camera.
type Recorder interface {
	StartRecording(context.Context, camera.Output) error
	StopRecording() error
	Exited() <-chan struct{}
}

// Channel one camera of a dual recording.
type Channel struct {
	Index    int
	Recorder Recorder
	Output   camera.Output
}

// Config recording config.
type Config struct {
	Seconds int
	Log     *log.Logger

	// Optional.
	After  AfterFunc
	Render RenderFunc
}

// Result recording timings.
type Result struct {
	Start   time.Time
	End     time.Time
	Started [2]time.Time // Start confirmation of each camera.
	Skew    time.Duration
	Ticks   int
}

// RecordDual starts both cameras concurrently, waits until both
// have started, counts down and stops both cameras concurrently.
// Canceling the context ends the countdown early, both
// cameras are still stopped and the context error is returned.
func RecordDual(ctx context.Context, channels [2]Channel, c Config) (*Result, error) {
	if c.Seconds <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDuration, c.Seconds)
	}
	if c.After == nil {
		c.After = time.After
	}
	if c.Render == nil {
		c.Render = func(int) {}
	}

	result := &Result{Start: time.Now()}

	var startErrs [2]error
	parallel(func(i int) {
		ch := channels[i]
		startErrs[i] = ch.Recorder.StartRecording(ctx, ch.Output)
		result.Started[i] = time.Now()
	})

	if startErrs[0] != nil || startErrs[1] != nil {
		// Stop the camera that did start.
		for i, err := range startErrs {
			if err == nil {
				channels[i].Recorder.StopRecording() //nolint:errcheck
			}
		}
		for i, err := range startErrs {
			if err != nil {
				return nil, fmt.Errorf("start camera %d: %w", channels[i].Index, err)
			}
		}
	}

	result.Skew = result.Started[1].Sub(result.Started[0])
	if result.Skew < 0 {
		result.Skew = -result.Skew
	}
	c.Log.Info().Src("capture").Msgf("both cameras started, skew %v", result.Skew)

	countdownCtx, cancelCountdown := context.WithCancel(ctx)
	defer cancelCountdown()

	// A camera app that exits ends the countdown.
	var exitedCamera = -1
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		select {
		case <-channels[0].Recorder.Exited():
			exitedCamera = channels[0].Index
		case <-channels[1].Recorder.Exited():
			exitedCamera = channels[1].Index
		case <-countdownCtx.Done():
			return
		}
		cancelCountdown()
	}()

	ticks, countdownErr := Countdown(countdownCtx, c.Seconds, c.After, c.Render)
	cancelCountdown()
	<-watchDone
	result.Ticks = ticks

	if countdownErr == nil {
		c.Log.Info().Src("capture").Msg("recording complete")
	}

	var stopErrs [2]error
	parallel(func(i int) {
		stopErrs[i] = channels[i].Recorder.StopRecording()
	})
	result.End = time.Now()

	for i, err := range stopErrs {
		if err != nil {
			return result, fmt.Errorf("stop camera %d: %w", channels[i].Index, err)
		}
	}
	if exitedCamera != -1 {
		return result, fmt.Errorf("%w: camera %d", ErrCameraExited, exitedCamera)
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// parallel calls fn for both channels concurrently and waits for both.
func parallel(fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn(i)
		}(i)
	}
	wg.Wait()
}
