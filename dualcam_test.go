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
	"encoding/binary"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dualcam/pkg/camera"
	"dualcam/pkg/capture"
	"dualcam/pkg/dng"
	"dualcam/pkg/log"
	"dualcam/pkg/rpicam"
	"dualcam/pkg/rpicam/rpimock"
	"dualcam/pkg/storage"
	"dualcam/pkg/system"

	"github.com/stretchr/testify/require"
)

const (
	testWidth     = 4
	testHeight    = 2
	testFrameSize = testWidth * testHeight * 2
	testPTS       = "# timecode format v2\n0.000\n33.333\n"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stubSystem struct {
	err error
}

func (s stubSystem) Preflight(context.Context, string, int64) (system.Status, error) {
	return system.Status{DiskFree: 1 << 30, DiskTotal: 1 << 31}, s.err
}

func instantAfter(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func rawFrames(n int) []byte {
	data := make([]byte, n*testFrameSize)
	for i := 0; i < len(data)/2; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(i*10%1024))
	}
	return data
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writeRecording writes two frames and their timestamps
// to the paths of a raw recording command.
func writeRecording(cmd *exec.Cmd) {
	rawPath := argValue(cmd.Args, "--output")
	if rawPath == "" {
		return
	}
	_ = os.WriteFile(rawPath, rawFrames(2), 0o600)
	_ = os.WriteFile(argValue(cmd.Args, "--save-pts"), []byte(testPTS), 0o600)
}

func listCameras(indexes ...int) rpicam.ListCamerasFunc {
	return func(context.Context) ([]rpicam.CameraInfo, error) {
		var cameras []rpicam.CameraInfo
		for _, i := range indexes {
			cameras = append(cameras, rpicam.CameraInfo{
				Index:  i,
				Sensor: "imx219",
				Width:  3280,
				Height: 2464,
				Bayer:  "GBRG",
			})
		}
		return cameras, nil
	}
}

func newTestApp(t *testing.T, stdin string) (*App, *syncBuffer) {
	t.Helper()
	dir := t.TempDir()
	env, err := storage.NewConfigEnv(
		filepath.Join(dir, "env.yaml"),
		[]byte("width: 4\nheight: 2\n"),
	)
	require.NoError(t, err)

	out := &syncBuffer{}
	app, err := newApp(*env, Options{
		Stdin:  strings.NewReader(stdin),
		Stdout: out,
	}, &sync.WaitGroup{})
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	app.rig = camera.NewRig(camera.RigConfig{
		RPiCam:      rpicam.New("/usr/bin/rpicam-raw", "/usr/bin/rpicam-hello"),
		Log:         app.Logger,
		VerifyIndex: true,
		NewProcess: rpimock.NewProcessMocker(rpimock.MockProcessConfig{
			Sleep:   time.Hour,
			OnStart: writeRecording,
		}),
		ListCameras: listCameras(0, 1),
		WaitStarted: func(context.Context, string, time.Duration) error {
			return nil
		},
	})
	app.system = stubSystem{}
	app.after = instantAfter
	app.runScript = func(context.Context, string) ([]byte, error) {
		return nil, errors.New("unexpected script")
	}
	return app, out
}

func TestRecord(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		app, _ := newTestApp(t, "")

		m, err := app.Record(context.Background(), RecordOptions{Seconds: 2})
		require.NoError(t, err)
		require.Equal(t, 1, m.Counter)
		require.Equal(t, storage.Duration(2*time.Second), m.Requested)
		require.Equal(t, testWidth, m.Width)
		require.Equal(t, "U", m.Packing)
		require.Empty(t, m.Transfer)
		require.Len(t, m.Cameras, 2)

		dir := app.Env.OutputDir
		for i, c := range m.Cameras {
			require.Equal(t, i, c.Index)
			require.Equal(t, "imx219", c.Sensor)
			require.Equal(t, 2, c.Frames)
			require.Equal(t, 0, c.Dropped)
			require.InDelta(t, 30, c.FrameRate, 0.1)
			require.Equal(t, int64(2*testFrameSize), c.Raw.Size)
			require.NotEmpty(t, c.PTS.Checksum)
			require.NotNil(t, c.DNG)
			require.False(t, c.Started.IsZero())
		}
		require.Equal(t, filepath.Join(dir, "visibleCamera_1.raw"), m.Cameras[0].Raw.Path)
		require.Equal(t, filepath.Join(dir, "irTimeStamps_1.txt"), m.Cameras[1].PTS.Path)
		require.Equal(t, filepath.Join(dir, "camera1.dng"), m.Cameras[1].DNG.Path)

		info, err := dng.ReadInfo(filepath.Join(dir, "camera0.dng"))
		require.NoError(t, err)
		require.Equal(t, testWidth, info.Width)
		require.Equal(t, testHeight, info.Height)
		require.Equal(t, 10, info.BitsPerSample)

		saved, err := storage.ReadManifest(filepath.Join(dir, "session_1.json"))
		require.NoError(t, err)
		require.Equal(t, m.Counter, saved.Counter)
		require.Equal(t, m.Cameras[0].Raw, saved.Cameras[0].Raw)

		indexed, err := app.index.Session(1)
		require.NoError(t, err)
		require.Equal(t, m.Cameras[1].DNG, indexed.Cameras[1].DNG)

		m2, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
		require.NoError(t, err)
		require.Equal(t, 2, m2.Counter)
		require.Equal(t, filepath.Join(dir, "visibleCamera_2.raw"), m2.Cameras[0].Raw.Path)
	})
	t.Run("prompt", func(t *testing.T) {
		app, out := newTestApp(t, "3\n")

		m, err := app.Record(context.Background(), RecordOptions{Prompt: true})
		require.NoError(t, err)
		require.Equal(t, storage.Duration(3*time.Second), m.Requested)
		require.Contains(t, out.String(), "Enter recording duration in seconds: ")
	})
	t.Run("invalidDuration", func(t *testing.T) {
		cases := map[string]struct {
			stdin   string
			seconds int
			prompt  bool
		}{
			"text":       {"abc\n", 0, true},
			"negative":   {"-1\n", 0, true},
			"zero":       {"0\n", 0, true},
			"option":     {"", -5, false},
			"optionZero": {"10\n", 0, false},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				app, out := newTestApp(t, tc.stdin)
				_, err := app.Record(context.Background(), RecordOptions{
					Seconds: tc.seconds,
					Prompt:  tc.prompt,
				})
				require.ErrorIs(t, err, capture.ErrInvalidDuration)
				if !tc.prompt {
					require.NotContains(t, out.String(), "Enter recording duration")
				}

				files, err := filepath.Glob(filepath.Join(app.Env.OutputDir, "*.raw"))
				require.NoError(t, err)
				require.Empty(t, files)
			})
		}
	})
	t.Run("emptyStdin", func(t *testing.T) {
		app, _ := newTestApp(t, "")
		_, err := app.Record(context.Background(), RecordOptions{Prompt: true})
		require.Error(t, err)
	})
	t.Run("preview", func(t *testing.T) {
		app, out := newTestApp(t, "\n")

		m, err := app.Record(context.Background(), RecordOptions{Seconds: 1, Preview: true})
		require.NoError(t, err)
		require.Equal(t, 1, m.Counter)
		require.Contains(t, out.String(), "Press Enter to start recording")
	})
	t.Run("cameraNotFound", func(t *testing.T) {
		app, _ := newTestApp(t, "")
		app.rig = camera.NewRig(camera.RigConfig{
			RPiCam:      rpicam.New("/usr/bin/rpicam-raw", "/usr/bin/rpicam-hello"),
			Log:         app.Logger,
			VerifyIndex: true,
			NewProcess:  rpimock.NewProcess,
			ListCameras: listCameras(0),
		})

		_, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
		require.ErrorIs(t, err, camera.ErrNotFound)
	})
	t.Run("insufficientSpace", func(t *testing.T) {
		app, _ := newTestApp(t, "")
		app.system = stubSystem{err: system.ErrInsufficientSpace}

		_, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
		require.ErrorIs(t, err, system.ErrInsufficientSpace)

		// The counter is only used by recordings that started.
		counter, err := app.index.NextCounter()
		require.NoError(t, err)
		require.Equal(t, 1, counter)
	})
	t.Run("transfer", func(t *testing.T) {
		app, _ := newTestApp(t, "")
		app.Env.TransferScript = "/home/pi/transfer.sh"

		var called string
		app.runScript = func(_ context.Context, script string) ([]byte, error) {
			called = script
			return nil, nil
		}
		m, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
		require.NoError(t, err)
		require.Equal(t, "/home/pi/transfer.sh", called)
		require.Equal(t, "ok", m.Transfer)
	})
	t.Run("transferErr", func(t *testing.T) {
		app, _ := newTestApp(t, "")
		app.Env.TransferScript = "/home/pi/transfer.sh"
		app.runScript = func(context.Context, string) ([]byte, error) {
			return []byte("no route to host\n"), errors.New("exit status 1")
		}

		m, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
		require.NoError(t, err)
		require.Equal(t, "failed: exit status 1", m.Transfer)
	})
}

func TestPreview(t *testing.T) {
	app, out := newTestApp(t, "\n")
	require.NoError(t, app.Preview(context.Background()))
	require.Contains(t, out.String(), "Press Enter to stop the preview")
}

func TestVerify(t *testing.T) {
	app, out := newTestApp(t, "")
	m, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
	require.NoError(t, err)

	require.NoError(t, app.Verify(1))
	require.Contains(t, out.String(), m.Cameras[0].Raw.Path+": ok")

	err = os.WriteFile(m.Cameras[0].Raw.Path, rawFrames(1), 0o600)
	require.NoError(t, err)
	require.ErrorIs(t, app.Verify(1), ErrChecksumMismatch)

	require.ErrorIs(t, app.Verify(99), storage.ErrSessionNotFound)

	t.Run("manifestOnly", func(t *testing.T) {
		rawPath := filepath.Join(app.Env.OutputDir, "visibleCamera_5.raw")
		require.NoError(t, os.WriteFile(rawPath, rawFrames(1), 0o600))
		artifact, err := storage.NewArtifact(rawPath)
		require.NoError(t, err)

		manifest := &storage.Manifest{
			Counter: 5,
			Cameras: []storage.CameraManifest{{Name: "visibleCamera", Raw: artifact}},
		}
		path := storage.ManifestPath(app.Env.OutputDir, 5)
		require.NoError(t, storage.SaveManifest(path, manifest))

		require.NoError(t, app.Verify(5))
		require.Contains(t, out.String(), rawPath+": ok")
	})
}

func TestConvertAndInspect(t *testing.T) {
	app, out := newTestApp(t, "")

	rawPath := filepath.Join(t.TempDir(), "irCamera_7.raw")
	require.NoError(t, os.WriteFile(rawPath, rawFrames(1), 0o600))

	path, err := app.Convert(rawPath, 1, "")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(app.Env.OutputDir, "camera1.dng"), path)

	require.NoError(t, app.Inspect(path))
	output := out.String()
	require.Contains(t, output, "4x2, 10 bit, CFA GBRG")
	require.Contains(t, output, "Software: dualcam")
	require.Contains(t, output, "Model: irCamera")

	t.Run("stride", func(t *testing.T) {
		// Two rows of 8 pixel bytes padded to 16.
		app.Env.Stride = 16
		defer func() { app.Env.Stride = 0 }()
		require.Equal(t, 2*16, app.videoConfig().Format().FrameSize())

		rawPath := filepath.Join(t.TempDir(), "padded.raw")
		require.NoError(t, os.WriteFile(rawPath, rawFrames(2), 0o600))

		path, err := app.Convert(rawPath, 0, t.TempDir())
		require.NoError(t, err)
		info, err := dng.ReadInfo(path)
		require.NoError(t, err)
		require.Equal(t, testWidth, info.Width)
		require.Equal(t, testHeight, info.Height)
	})
	t.Run("truncated", func(t *testing.T) {
		rawPath := filepath.Join(t.TempDir(), "short.raw")
		require.NoError(t, os.WriteFile(rawPath, rawFrames(1)[:testFrameSize-2], 0o600))

		outDir := t.TempDir()
		_, err := app.Convert(rawPath, 0, outDir)
		require.Error(t, err)

		_, err = os.Stat(filepath.Join(outDir, "camera0.dng"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestList(t *testing.T) {
	app, out := newTestApp(t, "")
	require.NoError(t, app.List(context.Background()))
	require.Contains(t, out.String(), "0: imx219 [3280x2464 0-bit GBRG]")
	require.Contains(t, out.String(), "1: imx219")
}

func TestSessions(t *testing.T) {
	app, out := newTestApp(t, "")
	_, err := app.Record(context.Background(), RecordOptions{Seconds: 1})
	require.NoError(t, err)

	require.NoError(t, app.Sessions(10))
	output := out.String()
	require.Contains(t, output, "visibleCamera: 2 frames, 0 dropped")
	require.Contains(t, output, "irCamera: 2 frames, 0 dropped")
	require.Contains(t, output, app.Env.OutputDir+": ")
}

func TestLogs(t *testing.T) {
	app, out := newTestApp(t, "")
	app.Logger.Info().Src("test").Msg("stored message")

	require.Eventually(t, func() bool {
		logs, err := app.logDB.Query(log.Query{Sources: []string{"test"}})
		return err == nil && len(logs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, app.Logs(log.Query{Sources: []string{"test"}}))
	require.Contains(t, out.String(), "[INFO] Test: stored message")
}

func TestNewApp(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		dir := t.TempDir()
		envPath := filepath.Join(dir, "env.yaml")
		outputDir := filepath.Join(dir, "out")
		require.NoError(t, os.WriteFile(envPath, []byte("outputDir: "+outputDir+"\n"), 0o600))

		app, err := NewApp(Options{EnvPath: envPath, Stdout: &syncBuffer{}})
		require.NoError(t, err)
		require.Equal(t, outputDir, app.Env.OutputDir)
		require.NoError(t, app.Close())

		_, err = os.Stat(filepath.Join(outputDir, storage.DBFile))
		require.NoError(t, err)
	})
	t.Run("missingEnv", func(t *testing.T) {
		_, err := NewApp(Options{EnvPath: filepath.Join(t.TempDir(), "env.yaml")})
		require.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("invalidEnv", func(t *testing.T) {
		envPath := filepath.Join(t.TempDir(), "env.yaml")
		require.NoError(t, os.WriteFile(envPath, []byte("packing: X\n"), 0o600))

		_, err := NewApp(Options{EnvPath: envPath})
		require.ErrorIs(t, err, storage.ErrInvalidEnv)
	})
}
