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
	"fmt"
	"path/filepath"

	"dualcam/pkg/camera"
	"dualcam/pkg/storage"
)

// Session file names of a single recording.
type Session struct {
	OutputDir string
	Counter   int
}

// RawPath returns "<dir>/<name>_<counter>.raw".
func (s Session) RawPath(c storage.CameraEnv) string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("%s_%d.raw", c.Name, s.Counter))
}

// PTSPath returns "<dir>/<ptsName>_<counter>.txt".
func (s Session) PTSPath(c storage.CameraEnv) string {
	return filepath.Join(s.OutputDir, fmt.Sprintf("%s_%d.txt", c.PTSName, s.Counter))
}

// Output returns the recording destination of a camera.
func (s Session) Output(c storage.CameraEnv) camera.Output {
	return camera.Output{
		RawPath: s.RawPath(c),
		PTSPath: s.PTSPath(c),
	}
}

// ManifestPath returns "<dir>/session_<counter>.json".
func (s Session) ManifestPath() string {
	return storage.ManifestPath(s.OutputDir, s.Counter)
}
