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

// Package rpicam builds and supervises the Raspberry Pi camera apps.
package rpicam

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// RPiCam stores the camera app binary locations.
type RPiCam struct {
	command func(bin string, args ...string) *exec.Cmd

	rawBin   string
	helloBin string
}

// New returns RPiCam.
// rawBin records raw frames, usually "rpicam-raw".
// helloBin previews and lists cameras, usually "rpicam-hello".
func New(rawBin string, helloBin string) *RPiCam {
	return &RPiCam{
		command:  exec.Command,
		rawBin:   rawBin,
		helloBin: helloBin,
	}
}

// RawOptions raw recording options.
type RawOptions struct {
	Camera    int
	Width     int
	Height    int
	BitDepth  int
	Packing   string // "U" unpacked or "P" packed.
	Framerate float64
	RawPath   string
	PTSPath   string
}

// RawArgs generates the raw recorder arguments.
func RawArgs(o RawOptions) []string {
	mode := fmt.Sprintf("%d:%d:%d:%s", o.Width, o.Height, o.BitDepth, o.Packing)
	args := []string{
		"--camera", strconv.Itoa(o.Camera),
		"--width", strconv.Itoa(o.Width),
		"--height", strconv.Itoa(o.Height),
		"--mode", mode,
		"--timeout", "0", // Record until interrupted.
		"--nopreview",
		"--flush",
	}
	if o.Framerate > 0 {
		args = append(args, "--framerate", strconv.FormatFloat(o.Framerate, 'f', -1, 64))
	}
	if o.PTSPath != "" {
		args = append(args, "--save-pts", o.PTSPath)
	}
	return append(args, "--output", o.RawPath)
}

// RawCmd returns the raw recorder command.
func (r *RPiCam) RawCmd(o RawOptions) *exec.Cmd {
	return r.command(r.rawBin, RawArgs(o)...)
}

// Window preview window position and size.
type Window struct {
	X      int
	Y      int
	Width  int
	Height int
}

func (w Window) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", w.X, w.Y, w.Width, w.Height)
}

// PreviewArgs generates the preview arguments.
func PreviewArgs(camera int, w Window) []string {
	return []string{
		"--camera", strconv.Itoa(camera),
		"--timeout", "0",
		"--preview", w.String(),
	}
}

// PreviewCmd returns the preview command.
func (r *RPiCam) PreviewCmd(camera int, w Window) *exec.Cmd {
	return r.command(r.helloBin, PreviewArgs(camera, w)...)
}

// CameraInfo is one entry of the camera list.
type CameraInfo struct {
	Index    int
	Sensor   string
	Width    int
	Height   int
	BitDepth int
	Bayer    string
	Path     string
}

// ListCamerasFunc is used for mocking.
type ListCamerasFunc func(context.Context) ([]CameraInfo, error)

// ListCameras uses the preview app to list the connected cameras.
func (r *RPiCam) ListCameras(ctx context.Context) ([]CameraInfo, error) {
	cmd := r.command(r.helloBin, "--list-cameras")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := runContext(ctx, cmd); err != nil {
		return nil, fmt.Errorf("%v: %w: %s", cmd, err, stderr.String())
	}
	return ParseCameraList(stdout.String())
}

func runContext(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			cmd.Process.Kill() //nolint:errcheck
		}
	}()
	return cmd.Wait()
}

var cameraLineRegex = regexp.MustCompile(
	`^\s*(\d+)\s*:\s*(\S+)\s*\[(\d+)x(\d+)(?:\s+(\d+)-bit)?(?:\s+(\w+))?\]\s*(?:\((.*)\))?`)

// ParseCameraList parses the output of "--list-cameras".
func ParseCameraList(output string) ([]CameraInfo, error) {
	/* INPUT
	   Available cameras
	   -----------------
	   0 : imx219 [3280x2464 10-bit RGGB] (/base/soc/i2c0mux/i2c@1/imx219@10)
	       Modes: 'SRGGB10_CSI2P' : 640x480 [206.65 fps - (1000, 752)/1280x960 crop]
	   1 : ov5647 [2592x1944 10-bit GBRG] (/base/soc/i2c0mux/i2c@0/ov5647@36)
	*/
	var cameras []CameraInfo
	for _, line := range strings.Split(output, "\n") {
		m := cameraLineRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		width, _ := strconv.Atoi(m[3])
		height, _ := strconv.Atoi(m[4])
		bitDepth, _ := strconv.Atoi(m[5])
		cameras = append(cameras, CameraInfo{
			Index:    index,
			Sensor:   m[2],
			Width:    width,
			Height:   height,
			BitDepth: bitDepth,
			Bayer:    m[6],
			Path:     m[7],
		})
	}
	if len(cameras) == 0 && !strings.Contains(output, "No cameras available") &&
		!strings.Contains(output, "Available cameras") {
		return nil, fmt.Errorf("unexpected camera list: %q", output) //nolint:goerr113
	}
	return cameras, nil
}
