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

package camera

import (
	"context"
	"fmt"
	"time"

	"dualcam/pkg/log"
	"dualcam/pkg/rpicam"
)

// RigConfig rig dependencies and timeouts.
type RigConfig struct {
	RPiCam *rpicam.RPiCam
	Log    *log.Logger

	// Check camera indexes against the camera list on open.
	VerifyIndex bool

	StartTimeout time.Duration
	StallTimeout time.Duration // Zero disables the watchdog.
	StopTimeout  time.Duration

	// Optional, used for testing.
	NewProcess  rpicam.NewProcessFunc
	ListCameras rpicam.ListCamerasFunc
	WaitStarted WaitStartedFunc
}

// Rig opens the cameras of a single host.
type Rig struct {
	c RigConfig
}

// NewRig returns a new rig.
func NewRig(c RigConfig) *Rig {
	if c.NewProcess == nil {
		c.NewProcess = rpicam.NewProcess
	}
	if c.ListCameras == nil {
		c.ListCameras = c.RPiCam.ListCameras
	}
	if c.WaitStarted == nil {
		c.WaitStarted = WaitForFirstWrite
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 5 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	return &Rig{c: c}
}

// List returns the connected cameras.
func (r *Rig) List(ctx context.Context) ([]rpicam.CameraInfo, error) {
	cameras, err := r.c.ListCameras(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	return cameras, nil
}

// Open returns an idle camera with the default video config.
func (r *Rig) Open(ctx context.Context, index int, name string) (*Camera, error) {
	cam := &Camera{
		Index: index,
		Name:  name,

		rpicam:       r.c.RPiCam,
		newProcess:   r.c.NewProcess,
		waitStarted:  r.c.WaitStarted,
		startTimeout: r.c.StartTimeout,
		stallTimeout: r.c.StallTimeout,
		stopTimeout:  r.c.StopTimeout,
		log:          r.c.Log,

		config: DefaultVideoConfig(),
	}

	if !r.c.VerifyIndex {
		return cam, nil
	}

	cameras, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range cameras {
		if info.Index == index {
			cam.Sensor = info.Sensor
			r.c.Log.Info().Src("camera").Camera(index).
				Msgf("opened %v %dx%d %v", info.Sensor, info.Width, info.Height, info.Bayer)
			return cam, nil
		}
	}
	return nil, fmt.Errorf("%w: index %d, %d cameras connected", ErrNotFound, index, len(cameras))
}
