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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"dualcam/pkg/camera"
	"dualcam/pkg/capture"
	"dualcam/pkg/dng"
	"dualcam/pkg/raw"
	"dualcam/pkg/rpicam"
	"dualcam/pkg/storage"
	"dualcam/pkg/system"
)

// Preview window of each camera.
var previewWindows = [2]rpicam.Window{
	{X: 100, Y: 100, Width: 640, Height: 480},
	{X: 800, Y: 100, Width: 640, Height: 480},
}

// RecordOptions record command options.
type RecordOptions struct {
	Seconds int
	Prompt  bool // Read the duration from stdin instead of Seconds.
	Preview bool
}

// Record opens both cameras, optionally previews them, records
// for the given duration and converts the first frame of each
// recording to DNG. The session manifest is returned.
func (app *App) Record(ctx context.Context, o RecordOptions) (*storage.Manifest, error) { //nolint:funlen
	seconds := o.Seconds
	if o.Prompt {
		var err error
		if seconds, err = app.promptDuration(ctx); err != nil {
			return nil, err
		}
	}
	if seconds <= 0 {
		return nil, fmt.Errorf("%w: %d", capture.ErrInvalidDuration, seconds)
	}
	duration := time.Duration(seconds) * time.Second

	video := app.videoConfig()
	cameras, err := app.openCameras(ctx, video)
	if err != nil {
		return nil, err
	}

	if o.Preview {
		if err := app.preview(ctx, cameras, "Press Enter to start recording"); err != nil {
			return nil, err
		}
		app.Logger.Info().Src("app").
			Msgf("waiting %v for the cameras to settle", app.Env.PreviewSettle)
		if err := app.sleep(ctx, app.Env.PreviewSettle); err != nil {
			return nil, err
		}
	}

	format := video.Format()
	required := system.EstimateBytes(format.FrameSize(), video.Framerate, duration, len(cameras))
	status, err := app.system.Preflight(ctx, app.Env.OutputDir, required)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	app.Logger.Info().Src("system").
		Msgf("%v, recording needs about %v", status, storage.FormatBytes(required))

	counter, err := app.index.NextCounter()
	if err != nil {
		return nil, err
	}
	session := capture.Session{OutputDir: app.Env.OutputDir, Counter: counter}

	var channels [2]capture.Channel
	for i, cam := range cameras {
		channels[i] = capture.Channel{
			Index:    cam.Index,
			Recorder: cam,
			Output:   session.Output(app.Env.Cameras[i]),
		}
	}

	app.Logger.Info().Src("app").Msgf("recording %d for %v", counter, duration)
	bar := capture.NewBar(app.stdout, seconds)
	result, err := capture.RecordDual(ctx, channels, capture.Config{
		Seconds: seconds,
		Log:     app.Logger,
		After:   app.after,
		Render:  bar.Render,
	})
	bar.Finish()
	if err != nil {
		return nil, fmt.Errorf("recording %d: %w", counter, err)
	}
	app.Logger.Info().Src("app").Msgf("recording %d complete", counter)

	manifest := &storage.Manifest{
		Counter:   counter,
		Start:     result.Start,
		End:       result.End,
		Requested: storage.Duration(duration),
		Width:     video.Width,
		Height:    video.Height,
		Packing:   string(video.Packing),
		StartSkew: storage.Duration(result.Skew),
	}
	for i, cam := range cameras {
		c, err := app.finishCamera(cam, channels[i].Output, format, result)
		if err != nil {
			return nil, err
		}
		manifest.Cameras = append(manifest.Cameras, c)
	}

	if app.Env.TransferScript != "" {
		manifest.Transfer = app.transfer(ctx, app.Env.TransferScript)
	}

	if err := storage.SaveManifest(session.ManifestPath(), manifest); err != nil {
		return nil, err
	}
	if err := app.index.SaveSession(manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// Preview opens both preview windows until Enter is pressed.
func (app *App) Preview(ctx context.Context) error {
	cameras, err := app.openCameras(ctx, app.videoConfig())
	if err != nil {
		return err
	}
	return app.preview(ctx, cameras, "Press Enter to stop the preview")
}

func (app *App) promptDuration(ctx context.Context) (int, error) {
	fmt.Fprint(app.stdout, "Enter recording duration in seconds: ")
	line, err := app.readLine(ctx)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", capture.ErrInvalidDuration, strings.TrimSpace(line))
	}
	return seconds, nil
}

func (app *App) videoConfig() camera.VideoConfig {
	c := camera.DefaultVideoConfig()
	c.Width = app.Env.Width
	c.Height = app.Env.Height
	c.Packing = raw.Packing(app.Env.Packing)
	c.Stride = app.Env.Stride
	c.Framerate = app.Env.Framerate
	return c
}

func (app *App) openCameras(ctx context.Context, video camera.VideoConfig) ([2]*camera.Camera, error) {
	var cameras [2]*camera.Camera
	for i, c := range app.Env.Cameras {
		cam, err := app.rig.Open(ctx, c.Index, c.Name)
		if err != nil {
			return cameras, fmt.Errorf("open %v: %w", c.Name, err)
		}
		if err := cam.Configure(video); err != nil {
			return cameras, fmt.Errorf("configure %v: %w", c.Name, err)
		}
		cameras[i] = cam
	}
	return cameras, nil
}

func (app *App) preview(ctx context.Context, cameras [2]*camera.Camera, prompt string) error {
	for i, cam := range cameras {
		if err := cam.StartPreview(ctx, previewWindows[i]); err != nil {
			for _, started := range cameras[:i] {
				started.StopPreview() //nolint:errcheck
			}
			return fmt.Errorf("start preview: %w", err)
		}
	}

	fmt.Fprintln(app.stdout, prompt)
	_, waitErr := app.readLine(ctx)

	for _, cam := range cameras {
		if err := cam.StopPreview(); err != nil {
			app.Logger.Warn().Src("camera").Camera(cam.Index).Msgf("preview: %v", err)
		}
	}
	return waitErr
}

func (app *App) finishCamera(
	cam *camera.Camera,
	out camera.Output,
	format raw.Format,
	result *capture.Result,
) (storage.CameraManifest, error) {
	c := storage.CameraManifest{
		Index:   cam.Index,
		Name:    cam.Name,
		Sensor:  cam.Sensor,
		Started: cam.Started(),
	}

	model := cam.Sensor
	if model == "" {
		model = cam.Name
	}
	dngPath, err := dng.Convert(out.RawPath, format, cam.Index, app.Env.OutputDir, dng.Metadata{
		Make:     "Raspberry Pi",
		Model:    model,
		Software: "dualcam",
		Time:     result.Start,
	})
	if err != nil {
		return c, fmt.Errorf("convert camera %d: %w", cam.Index, err)
	}
	app.Logger.Info().Src("dng").Camera(cam.Index).Msgf("saved %v", dngPath)

	frames, trailing, err := raw.CountFrames(out.RawPath, format)
	if err != nil {
		return c, err
	}
	if trailing != 0 {
		app.Logger.Warn().Src("app").Camera(cam.Index).
			Msgf("%v ends with a partial frame of %d bytes", out.RawPath, trailing)
	}
	c.Frames = frames

	if c.Raw, err = storage.NewArtifact(out.RawPath); err != nil {
		return c, err
	}
	dngArtifact, err := storage.NewArtifact(dngPath)
	if err != nil {
		return c, err
	}
	c.DNG = &dngArtifact

	timestamps, err := raw.ReadPTS(out.PTSPath)
	if err != nil {
		app.Logger.Warn().Src("app").Camera(cam.Index).Msgf("timestamps: %v", err)
		return c, nil
	}
	if c.PTS, err = storage.NewArtifact(out.PTSPath); err != nil {
		return c, err
	}
	if first, ok := timestamps.First(); ok {
		c.FirstFrame = storage.Duration(first)
	}
	c.FrameRate = timestamps.FrameRate()
	c.Dropped = timestamps.Dropped()
	if c.Dropped != 0 {
		app.Logger.Warn().Src("app").Camera(cam.Index).
			Msgf("%d dropped frames", c.Dropped)
	}
	app.Logger.Info().Src("app").Camera(cam.Index).
		Msgf("%d frames, %d timestamps, %.2f fps", frames, len(timestamps), c.FrameRate)
	return c, nil
}

type scriptFunc func(ctx context.Context, script string) ([]byte, error)

func runBash(ctx context.Context, script string) ([]byte, error) {
	return exec.CommandContext(ctx, "bash", script).CombinedOutput()
}

// transfer runs the transfer script. Failures are logged and not returned.
func (app *App) transfer(ctx context.Context, script string) string {
	app.Logger.Info().Src("transfer").Msgf("running %v", script)
	output, err := app.runScript(ctx, script)
	if err != nil {
		app.Logger.Error().Src("transfer").
			Msgf("%v: %v: %s", script, err, bytes.TrimSpace(output))
		return "failed: " + err.Error()
	}
	app.Logger.Info().Src("transfer").Msg("done")
	return "ok"
}
