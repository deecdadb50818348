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

package dualcam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dualcam/pkg/dng"
	"dualcam/pkg/log"
	"dualcam/pkg/storage"
)

// ErrChecksumMismatch an artifact has changed since it was recorded.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Convert converts the first frame of a raw recording to
// "<outDir>/camera<N>.dng" using the configured frame format.
func (app *App) Convert(rawPath string, cameraIndex int, outDir string) (string, error) {
	if outDir == "" {
		outDir = app.Env.OutputDir
	}
	if err := storage.EnsureDir(outDir); err != nil {
		return "", err
	}

	info, err := os.Stat(rawPath)
	if err != nil {
		return "", err
	}

	meta := dng.Metadata{
		Make:     "Raspberry Pi",
		Software: "dualcam",
		Time:     info.ModTime(),
	}
	if cam, ok := app.Env.CameraByIndex(cameraIndex); ok {
		meta.Model = cam.Name
	}
	path, err := dng.Convert(rawPath, app.videoConfig().Format(), cameraIndex, outDir, meta)
	if err != nil {
		return "", err
	}
	app.Logger.Info().Src("dng").Camera(cameraIndex).Msgf("saved %v", path)
	return path, nil
}

// Inspect prints the tags and per channel statistics of a DNG file.
func (app *App) Inspect(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	frame, info, err := dng.Decode(data)
	if err != nil {
		return fmt.Errorf("%v: %w", path, err)
	}

	var pattern strings.Builder
	for _, c := range info.CFAPattern {
		pattern.WriteString(dng.ColorName(c))
	}
	fmt.Fprintf(app.stdout, "%v: %dx%d, %d bit, CFA %v\n",
		path, info.Width, info.Height, info.BitsPerSample, pattern.String())

	for _, e := range info.Tags.Sorted() {
		if e.Tag == dng.TagTileOffsets || e.Tag == dng.TagTileByteCounts {
			continue
		}
		fmt.Fprintf(app.stdout, "  %v: %v\n", e.Tag, e)
	}

	for _, s := range dng.Stats(frame, info.CFAPattern) {
		fmt.Fprintf(app.stdout, "  %v min %d max %d mean %.1f\n",
			dng.ColorName(s.Color), s.Min, s.Max, s.Mean)
	}
	return nil
}

// List prints the connected cameras.
func (app *App) List(ctx context.Context) error {
	cameras, err := app.rig.List(ctx)
	if err != nil {
		return err
	}
	if len(cameras) == 0 {
		fmt.Fprintln(app.stdout, "no cameras available")
		return nil
	}
	for _, c := range cameras {
		fmt.Fprintf(app.stdout, "%d: %v [%dx%d %d-bit %v] (%v)\n",
			c.Index, c.Sensor, c.Width, c.Height, c.BitDepth, c.Bayer, c.Path)
	}
	return nil
}

// Sessions prints the newest recording sessions and the output directory size.
func (app *App) Sessions(limit int) error {
	sessions, err := app.index.Sessions(limit)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		fmt.Fprintf(app.stdout, "%d  %v  %v  skew %v\n",
			s.Counter,
			s.Start.Format("2006-01-02 15:04:05"),
			time.Duration(s.Requested),
			time.Duration(s.StartSkew))
		for _, c := range s.Cameras {
			fmt.Fprintf(app.stdout, "    %v: %d frames, %d dropped\n", c.Name, c.Frames, c.Dropped)
		}
	}

	usage := storage.DirUsage(app.Env.OutputDir)
	fmt.Fprintf(app.stdout, "%v: %v in %d files\n", app.Env.OutputDir, usage.Formatted, usage.Files)
	return nil
}

// Verify compares the checksums of a session with the files on disk.
// Sessions missing from the index are read from their manifest file.
func (app *App) Verify(counter int) error {
	m, err := app.session(counter)
	if err != nil {
		return err
	}

	var failed []string
	check := func(a storage.Artifact) {
		if a.Path == "" {
			return
		}
		ok, err := a.Verify()
		switch {
		case err != nil:
			fmt.Fprintf(app.stdout, "%v: %v\n", a.Path, err)
			failed = append(failed, a.Path)
		case !ok:
			fmt.Fprintf(app.stdout, "%v: changed\n", a.Path)
			failed = append(failed, a.Path)
		default:
			fmt.Fprintf(app.stdout, "%v: ok\n", a.Path)
		}
	}
	for _, c := range m.Cameras {
		check(c.Raw)
		check(c.PTS)
		if c.DNG != nil {
			check(*c.DNG)
		}
	}

	if len(failed) != 0 {
		return fmt.Errorf("%w: %v", ErrChecksumMismatch, strings.Join(failed, ", "))
	}
	return nil
}

func (app *App) session(counter int) (*storage.Manifest, error) {
	m, err := app.index.Session(counter)
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return m, err
	}
	m, err = storage.ReadManifest(storage.ManifestPath(app.Env.OutputDir, counter))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", storage.ErrSessionNotFound, counter)
	}
	return m, err
}

// Logs prints stored logs, oldest first.
func (app *App) Logs(q log.Query) error {
	logs, err := app.logDB.Query(q)
	if err != nil {
		return err
	}
	for i := len(logs) - 1; i >= 0; i-- {
		t := time.Unix(0, int64(logs[i].Time)*1000)
		fmt.Fprintf(app.stdout, "%v %v\n", t.Format("2006-01-02 15:04:05"), logs[i])
	}
	return nil
}
