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

package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		env, err := NewConfigEnv("/home/pi/dualcam/env.yaml", nil)
		require.NoError(t, err)

		expected := &ConfigEnv{
			OutputDir:     "/home/pi/dualcam/recordings",
			RawBin:        "/usr/bin/rpicam-raw",
			PreviewBin:    "/usr/bin/rpicam-hello",
			Width:         1920,
			Height:        1080,
			Packing:       "U",
			Cameras:       DefaultCameras(),
			PreviewSettle: 1 * time.Second,
			StartTimeout:  5 * time.Second,
			StallTimeout:  3 * time.Second,
			ConfigDir:     "/home/pi/dualcam",
		}
		require.Equal(t, expected, env)
	})
	t.Run("custom", func(t *testing.T) {
		envYAML := []byte(`
outputDir: /mnt/ssd/captures
rawBin: /opt/bin/rpicam-raw
width: 1280
height: 720
packing: P
framerate: 30
stride: 1600
previewSettle: 2s
transferScript: /home/pi/transfer.sh
cameras:
  - index: 1
    name: left
    ptsName: leftPTS
  - index: 0
    name: right
    ptsName: rightPTS
`)
		env, err := NewConfigEnv("/home/pi/env.yaml", envYAML)
		require.NoError(t, err)

		require.Equal(t, "/mnt/ssd/captures", env.OutputDir)
		require.Equal(t, "/opt/bin/rpicam-raw", env.RawBin)
		require.Equal(t, "/usr/bin/rpicam-hello", env.PreviewBin)
		require.Equal(t, 1280, env.Width)
		require.Equal(t, 720, env.Height)
		require.Equal(t, "P", env.Packing)
		require.Equal(t, float64(30), env.Framerate)
		require.Equal(t, 1600, env.Stride)
		require.Equal(t, 2*time.Second, env.PreviewSettle)
		require.Equal(t, "/home/pi/transfer.sh", env.TransferScript)

		c, ok := env.CameraByIndex(1)
		require.True(t, ok)
		require.Equal(t, CameraEnv{Index: 1, Name: "left", PTSName: "leftPTS"}, c)

		_, ok = env.CameraByIndex(2)
		require.False(t, ok)
	})

	notAbsCases := map[string]string{
		"outputDir":      "outputDir: captures",
		"rawBin":         "rawBin: rpicam-raw",
		"previewBin":     "previewBin: ./rpicam-hello",
		"transferScript": "transferScript: transfer.sh",
	}
	for name, input := range notAbsCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigEnv("/home/pi/env.yaml", []byte(input))
			require.ErrorIs(t, err, ErrPathNotAbsolute)
		})
	}

	invalidCases := map[string]string{
		"packing":   "packing: X",
		"framerate": "framerate: -1",
		"width":     "width: -5",
		"stride":    "stride: -1",
		"oneCamera": "cameras: [{index: 0, name: a, ptsName: b}]",
		"sameIndex": "cameras: [{index: 0, name: a, ptsName: b}, {index: 0, name: c, ptsName: d}]",
		"sameName":  "cameras: [{index: 0, name: a, ptsName: b}, {index: 1, name: a, ptsName: d}]",
		"noName":    "cameras: [{index: 0, name: a, ptsName: b}, {index: 1, ptsName: d}]",
	}
	for name, input := range invalidCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfigEnv("/home/pi/env.yaml", []byte(input))
			require.ErrorIs(t, err, ErrInvalidEnv)
		})
	}

	t.Run("unmarshalErr", func(t *testing.T) {
		_, err := NewConfigEnv("/home/pi/env.yaml", []byte("width: [1"))
		require.Error(t, err)
	})
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, EnsureDir(dir))
	file := filepath.Join(dir, "keep.raw")
	require.NoError(t, os.WriteFile(file, []byte{1, 2}, 0o600))

	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = os.Stat(file)
	require.NoError(t, err, "existing files must be kept")

	t.Run("fileInTheWay", func(t *testing.T) {
		require.Error(t, EnsureDir(file))
	})
}

func TestPrepareEnvironment(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	env := ConfigEnv{OutputDir: dir}

	require.NoError(t, env.PrepareEnvironment())
	require.NoError(t, env.PrepareEnvironment())
	require.DirExists(t, dir)
}

func TestDirUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.raw"), make([]byte, 1000), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), make([]byte, 24), 0o600))

	usage := DirUsage(dir)
	require.Equal(t, DiskUsage{Used: 1024, Files: 2, Formatted: "0MB"}, usage)
}

func TestFormatBytes(t *testing.T) {
	cases := map[string]struct {
		input    float64
		expected string
	}{
		"MB":      {10 * megabyte, "10MB"},
		"GB2":     {2 * gigabyte, "2.00GB"},
		"GB1":     {20 * gigabyte, "20.0GB"},
		"GB0":     {200 * gigabyte, "200GB"},
		"TB2":     {2 * terabyte, "2.00TB"},
		"TB1":     {20 * terabyte, "20.0TB"},
		"default": {200 * terabyte, "200TB"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.expected, FormatBytes(int64(tc.input)))
		})
	}
}
