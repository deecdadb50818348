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

// Package camera controls a single camera through the camera apps.
package camera

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"dualcam/pkg/log"
	"dualcam/pkg/raw"
	"dualcam/pkg/rpicam"
)

// Errors.
var (
	ErrNotFound     = errors.New("camera not found")
	ErrBusy         = errors.New("camera busy")
	ErrNotRunning   = errors.New("camera not running")
	ErrExited       = errors.New("camera app exited")
	ErrInvalidVideo = errors.New("invalid video config")
)

// State camera state.
type State int

// States.
const (
	StateIdle State = iota
	StatePreviewing
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewing:
		return "previewing"
	case StateRecording:
		return "recording"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// VideoConfig raw video configuration.
type VideoConfig struct {
	Width       int
	Height      int
	PixelFormat string // Bayer order and bit depth, "SGBRG10".
	Packing     raw.Packing
	Stride      int     // Zero means no row padding.
	Framerate   float64 // Zero uses the sensor default.
}

// DefaultVideoConfig 1920x1080 unpacked 10 bit GBRG.
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		Width:       1920,
		Height:      1080,
		PixelFormat: "SGBRG10",
		Packing:     raw.Unpacked,
	}
}

// BitDepth parses the bit depth from the pixel format.
func (c VideoConfig) BitDepth() (int, error) {
	digits := strings.TrimLeft(c.PixelFormat, "SRGB")
	if !strings.HasPrefix(c.PixelFormat, "S") || len(c.PixelFormat)-len(digits) != 5 {
		return 0, fmt.Errorf("%w: pixel format '%v'", ErrInvalidVideo, c.PixelFormat)
	}
	depth, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("%w: pixel format '%v'", ErrInvalidVideo, c.PixelFormat)
	}
	return depth, nil
}

// Format returns the raw frame format.
func (c VideoConfig) Format() raw.Format {
	return raw.Format{
		Width:   c.Width,
		Height:  c.Height,
		Packing: c.Packing,
		Stride:  c.Stride,
	}
}

// Validate config.
func (c VideoConfig) Validate() error {
	if _, err := c.BitDepth(); err != nil {
		return err
	}
	if err := c.Format().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVideo, err)
	}
	if c.Framerate < 0 {
		return fmt.Errorf("%w: framerate %v", ErrInvalidVideo, c.Framerate)
	}
	return nil
}

// Output recording destination.
type Output struct {
	RawPath string
	PTSPath string
}

// WaitStartedFunc blocks until the recording has produced data.
type WaitStartedFunc func(ctx context.Context, rawPath string, timeout time.Duration) error

// Camera single camera handle.
type Camera struct {
	Index  int
	Name   string
	Sensor string

	rpicam       *rpicam.RPiCam
	newProcess   rpicam.NewProcessFunc
	waitStarted  WaitStartedFunc
	startTimeout time.Duration
	stallTimeout time.Duration
	stopTimeout  time.Duration
	log          *log.Logger

	mu      sync.Mutex
	config  VideoConfig
	state   State
	run     *run
	started time.Time
}

// run a single camera app process.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	exited  chan struct{}
	exitErr error
}

// Configure applies the video configuration.
// Returns ErrBusy if the camera is running.
func (c *Camera) Configure(config VideoConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %v", ErrBusy, c.state)
	}
	c.config = config
	return nil
}

// Config returns the active video configuration.
func (c *Camera) Config() VideoConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// State returns the current state.
func (c *Camera) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Started returns the time the recording was confirmed.
func (c *Camera) Started() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Camera) start(ctx context.Context, cmd *exec.Cmd) *run {
	logFunc := c.log.LineLogger(log.LevelDebug, "camera", c.Index)
	process := c.newProcess(cmd).
		Timeout(c.stopTimeout).
		StdoutLogger(logFunc).
		StderrLogger(logFunc)

	procCtx, cancel := context.WithCancel(ctx)
	r := &run{
		ctx:    procCtx,
		cancel: cancel,
		exited: make(chan struct{}),
	}
	go func() {
		r.exitErr = process.Start(procCtx)
		close(r.exited)
	}()
	return r
}

// StartPreview opens a preview window.
func (c *Camera) StartPreview(ctx context.Context, w rpicam.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %v", ErrBusy, c.state)
	}

	cmd := c.rpicam.PreviewCmd(c.Index, w)
	c.log.Info().Src("camera").Camera(c.Index).Msgf("starting preview: %v", cmd)

	c.run = c.start(ctx, cmd)
	c.state = StatePreviewing
	return nil
}

// StopPreview closes the preview window.
func (c *Camera) StopPreview() error {
	return c.stop(StatePreviewing)
}

// StartRecording starts the raw recorder and blocks
// until the first frame has been written.
func (c *Camera) StartRecording(ctx context.Context, out Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("%w: %v", ErrBusy, c.state)
	}

	bitDepth, err := c.config.BitDepth()
	if err != nil {
		return err
	}
	cmd := c.rpicam.RawCmd(rpicam.RawOptions{
		Camera:    c.Index,
		Width:     c.config.Width,
		Height:    c.config.Height,
		BitDepth:  bitDepth,
		Packing:   string(c.config.Packing),
		Framerate: c.config.Framerate,
		RawPath:   out.RawPath,
		PTSPath:   out.PTSPath,
	})
	c.log.Info().Src("camera").Camera(c.Index).Msgf("starting recording: %v", cmd)

	r := c.start(ctx, cmd)

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	started := make(chan error, 1)
	go func() {
		started <- c.waitStarted(waitCtx, out.RawPath, c.startTimeout)
	}()

	select {
	case err := <-started:
		if err != nil {
			r.cancel()
			<-r.exited
			return fmt.Errorf("wait for first frame: %w", err)
		}
	case <-r.exited:
		r.cancel()
		if r.exitErr != nil {
			return fmt.Errorf("%w: %v", ErrExited, r.exitErr)
		}
		return ErrExited
	}

	c.run = r
	c.state = StateRecording
	c.started = time.Now()

	if c.stallTimeout > 0 {
		d := &watchdog{
			path:     out.RawPath,
			interval: c.stallTimeout,
			onStall: func(err error) {
				c.log.Warn().Src("watchdog").Camera(c.Index).Msgf("recording: %v", err)
			},
		}
		go d.start(ctx, r.exited)
	}
	return nil
}

// StopRecording interrupts the recorder and waits for it to exit.
func (c *Camera) StopRecording() error {
	return c.stop(StateRecording)
}

func (c *Camera) stop(expected State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != expected {
		return fmt.Errorf("%w: %v", ErrNotRunning, c.state)
	}

	// Exited without being canceled.
	exitedEarly := false
	select {
	case <-c.run.exited:
		exitedEarly = c.run.ctx.Err() == nil
	default:
	}

	c.run.cancel()
	<-c.run.exited
	err := c.run.exitErr

	c.run = nil
	c.state = StateIdle
	c.log.Info().Src("camera").Camera(c.Index).Msgf("%v stopped", expected)

	if exitedEarly {
		if err != nil {
			return fmt.Errorf("%w early: %v", ErrExited, err)
		}
		return fmt.Errorf("%w early", ErrExited)
	}
	return err
}

// Exited returns a channel that is closed if the camera app exits.
// Returns nil when the camera is idle.
func (c *Camera) Exited() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.exited
}
