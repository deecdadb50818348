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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraEnv per camera configuration.
type CameraEnv struct {
	Index   int    `yaml:"index"`
	Name    string `yaml:"name"`
	PTSName string `yaml:"ptsName"`
}

// ConfigEnv stores system configuration.
type ConfigEnv struct {
	OutputDir  string `yaml:"outputDir"`
	RawBin     string `yaml:"rawBin"`
	PreviewBin string `yaml:"previewBin"`

	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Packing   string  `yaml:"packing"`
	Framerate float64 `yaml:"framerate"`

	// Bytes per row in the raw file, zero means no row padding.
	Stride int `yaml:"stride"`

	Cameras []CameraEnv `yaml:"cameras"`

	PreviewSettle time.Duration `yaml:"previewSettle"`
	StartTimeout  time.Duration `yaml:"startTimeout"`
	StallTimeout  time.Duration `yaml:"stallTimeout"`

	// Optional script executed with bash after conversion.
	TransferScript string `yaml:"transferScript"`

	ConfigDir string `yaml:"-"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrInvalidEnv      = errors.New("invalid env")
)

// DefaultCameras visible camera on index 0 and IR camera on index 1.
func DefaultCameras() []CameraEnv {
	return []CameraEnv{
		{Index: 0, Name: "visibleCamera", PTSName: "visibleTimeStamps"},
		{Index: 1, Name: "irCamera", PTSName: "irTimeStamps"},
	}
}

// NewConfigEnv return new environment configuration.
// envYAML may be empty, all fields have defaults.
func NewConfigEnv(envPath string, envYAML []byte) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	if env.OutputDir == "" {
		env.OutputDir = filepath.Join(env.ConfigDir, "recordings")
	}
	if env.RawBin == "" {
		env.RawBin = "/usr/bin/rpicam-raw"
	}
	if env.PreviewBin == "" {
		env.PreviewBin = "/usr/bin/rpicam-hello"
	}
	if env.Width == 0 {
		env.Width = 1920
	}
	if env.Height == 0 {
		env.Height = 1080
	}
	if env.Packing == "" {
		env.Packing = "U"
	}
	if len(env.Cameras) == 0 {
		env.Cameras = DefaultCameras()
	}
	if env.PreviewSettle == 0 {
		env.PreviewSettle = 1 * time.Second
	}
	if env.StartTimeout == 0 {
		env.StartTimeout = 5 * time.Second
	}
	if env.StallTimeout == 0 {
		env.StallTimeout = 3 * time.Second
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (env *ConfigEnv) validate() error {
	if !filepath.IsAbs(env.OutputDir) {
		return fmt.Errorf("outputDir '%v': %w", env.OutputDir, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.RawBin) {
		return fmt.Errorf("rawBin '%v': %w", env.RawBin, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.PreviewBin) {
		return fmt.Errorf("previewBin '%v': %w", env.PreviewBin, ErrPathNotAbsolute)
	}
	if env.TransferScript != "" && !filepath.IsAbs(env.TransferScript) {
		return fmt.Errorf("transferScript '%v': %w", env.TransferScript, ErrPathNotAbsolute)
	}

	if env.Width < 0 || env.Height < 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidEnv, env.Width, env.Height)
	}
	if env.Packing != "U" && env.Packing != "P" {
		return fmt.Errorf("%w: packing '%v'", ErrInvalidEnv, env.Packing)
	}
	if env.Framerate < 0 {
		return fmt.Errorf("%w: framerate %v", ErrInvalidEnv, env.Framerate)
	}
	if env.Stride < 0 {
		return fmt.Errorf("%w: stride %d", ErrInvalidEnv, env.Stride)
	}

	if len(env.Cameras) != 2 {
		return fmt.Errorf("%w: expected 2 cameras, got %d", ErrInvalidEnv, len(env.Cameras))
	}
	a, b := env.Cameras[0], env.Cameras[1]
	for _, c := range env.Cameras {
		if c.Name == "" || c.PTSName == "" {
			return fmt.Errorf("%w: camera %d: missing name", ErrInvalidEnv, c.Index)
		}
		if c.Index < 0 {
			return fmt.Errorf("%w: camera index %d", ErrInvalidEnv, c.Index)
		}
	}
	if a.Index == b.Index || a.Name == b.Name || a.PTSName == b.PTSName {
		return fmt.Errorf("%w: cameras must have unique indexes and names", ErrInvalidEnv)
	}
	return nil
}

// CameraByIndex returns the configuration of a camera.
func (env *ConfigEnv) CameraByIndex(index int) (CameraEnv, bool) {
	for _, c := range env.Cameras {
		if c.Index == index {
			return c, true
		}
	}
	return CameraEnv{}, false
}

// PrepareEnvironment prepares directories.
func (env ConfigEnv) PrepareEnvironment() error {
	if err := EnsureDir(env.OutputDir); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

// EnsureDir creates the directory and any missing parents.
// Existing directories are left untouched.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%v: %w", path, err)
	}
	return nil
}

// DiskUsage in Bytes.
type DiskUsage struct {
	Used      int64
	Files     int
	Formatted string
}

// DirUsage returns the total size of all files in a directory.
func DirUsage(dir string) DiskUsage {
	used, files := diskUsageBytes(os.DirFS(dir))
	return DiskUsage{
		Used:      used,
		Files:     files,
		Formatted: FormatBytes(used),
	}
}

const (
	kilobyte float64 = 1000
	megabyte         = kilobyte * 1000
	gigabyte         = megabyte * 1000
	terabyte         = gigabyte * 1000
)

// FormatBytes formats size in human readable form.
func FormatBytes(size int64) string {
	used := float64(size)
	switch {
	case used < 1000*megabyte:
		return fmt.Sprintf("%.0fMB", used/megabyte)
	case used < 10*gigabyte:
		return fmt.Sprintf("%.2fGB", used/gigabyte)
	case used < 100*gigabyte:
		return fmt.Sprintf("%.1fGB", used/gigabyte)
	case used < 1000*gigabyte:
		return fmt.Sprintf("%.0fGB", used/gigabyte)
	case used < 10*terabyte:
		return fmt.Sprintf("%.2fTB", used/terabyte)
	case used < 100*terabyte:
		return fmt.Sprintf("%.1fTB", used/terabyte)
	default:
		return fmt.Sprintf("%.0fTB", used/terabyte)
	}
}

func diskUsageBytes(fileSystem fs.FS) (int64, int) {
	var used int64
	var files int
	fs.WalkDir(fileSystem, ".", func(_ string, d fs.DirEntry, err error) error { //nolint:errcheck
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		used += info.Size()
		files++

		return nil
	})
	return used, files
}
