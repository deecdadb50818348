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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Artifact single output file.
type Artifact struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"blake2b"`
}

// CameraManifest per camera result.
type CameraManifest struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Sensor string `json:"sensor,omitempty"`

	Raw Artifact  `json:"raw"`
	PTS Artifact  `json:"pts"`
	DNG *Artifact `json:"dng,omitempty"`

	Frames     int       `json:"frames"`
	Dropped    int       `json:"dropped"`
	FrameRate  float64   `json:"frameRate"`
	FirstFrame Duration  `json:"firstFrame"`
	Started    time.Time `json:"started"`
}

// Manifest recording session summary.
type Manifest struct {
	Counter   int       `json:"counter"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Requested Duration  `json:"requested"`

	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Packing string `json:"packing"`

	// Difference between the start confirmation of the two cameras.
	StartSkew Duration `json:"startSkew"`

	Cameras []CameraManifest `json:"cameras"`

	Transfer string `json:"transfer,omitempty"`
}

// Duration JSON encoded as a string like "1.5s".
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ManifestPath returns "<dir>/session_<counter>.json".
func ManifestPath(dir string, counter int) string {
	return filepath.Join(dir, fmt.Sprintf("session_%d.json", counter))
}

// SaveManifest writes the manifest as indented JSON.
func SaveManifest(path string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// NewArtifact stats and checksums a file.
func NewArtifact(path string) (Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return Artifact{}, err
	}
	defer file.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return Artifact{}, err
	}
	n, err := io.Copy(h, file)
	if err != nil {
		return Artifact{}, fmt.Errorf("checksum %v: %w", path, err)
	}
	return Artifact{
		Path:     path,
		Size:     n,
		Checksum: hex.EncodeToString(h.Sum(nil)),
	}, nil
}

// Verify recomputes the checksum and compares it.
func (a Artifact) Verify() (bool, error) {
	actual, err := NewArtifact(a.Path)
	if err != nil {
		return false, err
	}
	return actual.Checksum == a.Checksum && actual.Size == a.Size, nil
}
