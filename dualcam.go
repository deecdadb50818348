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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"dualcam/pkg/camera"
	"dualcam/pkg/capture"
	"dualcam/pkg/log"
	"dualcam/pkg/rpicam"
	"dualcam/pkg/storage"
	"dualcam/pkg/system"

	bolt "go.etcd.io/bbolt"
)

// Options common command options.
type Options struct {
	EnvPath string // Defaults to "./env.yaml", the file is optional.
	Debug   bool

	Stdin  io.Reader
	Stdout io.Writer
}

// App is the main application struct.
type App struct {
	Env    storage.ConfigEnv
	Logger *log.Logger

	wg        *sync.WaitGroup
	cancelLog context.CancelFunc
	db        *bolt.DB
	logDB     *log.DB
	index     *storage.Index
	rig       *camera.Rig
	system    preflighter
	runScript scriptFunc
	after     capture.AfterFunc

	stdin  io.Reader
	stdout io.Writer
	lines  chan lineResult
}

type preflighter interface {
	Preflight(ctx context.Context, dir string, required int64) (system.Status, error)
}

// NewApp reads env.yaml, opens the index and starts the logger.
// Close must be called when done.
func NewApp(o Options) (*App, error) {
	envPath := o.EnvPath
	if envPath == "" {
		envPath = "env.yaml"
	}
	envPath, err := filepath.Abs(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	envYAML, err := os.ReadFile(envPath)
	if err != nil {
		// The default env.yaml is optional.
		if o.EnvPath != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not read env.yaml: %w", err)
		}
	}

	env, err := storage.NewConfigEnv(envPath, envYAML)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	return newApp(*env, o, &sync.WaitGroup{})
}

func newApp(env storage.ConfigEnv, o Options, wg *sync.WaitGroup) (*App, error) {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}

	if err := env.PrepareEnvironment(); err != nil {
		return nil, err
	}

	// Index.
	db, err := storage.OpenDB(env.OutputDir, time.Second)
	if err != nil {
		return nil, err
	}
	index, err := storage.NewIndex(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	// Logs.
	logDB, err := log.NewDB(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create log database: %w", err)
	}

	logger := log.NewLogger(wg)
	logCtx, cancelLog := context.WithCancel(context.Background())
	logger.Start(logCtx)

	maxLevel := log.LevelInfo
	if o.Debug {
		maxLevel = log.LevelDebug
	}
	logger.LogToWriter(o.Stdout, maxLevel)
	logDB.SaveLogs(logger)

	rig := camera.NewRig(camera.RigConfig{
		RPiCam:       rpicam.New(env.RawBin, env.PreviewBin),
		Log:          logger,
		VerifyIndex:  true,
		StartTimeout: env.StartTimeout,
		StallTimeout: env.StallTimeout,
	})

	return &App{
		Env:    env,
		Logger: logger,

		wg:        wg,
		cancelLog: cancelLog,
		db:        db,
		logDB:     logDB,
		index:     index,
		rig:       rig,
		system:    system.New(),
		runScript: runBash,
		after:     time.After,

		stdin:  o.Stdin,
		stdout: o.Stdout,
	}, nil
}

// Close stops the logger and closes the index.
func (app *App) Close() error {
	app.cancelLog()
	app.wg.Wait()
	app.logDB.Wait()
	return app.db.Close()
}

// SignalContext returns a context that is canceled on SIGINT or SIGTERM.
func (app *App) SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(stop)
		select {
		case s := <-stop:
			fmt.Fprintln(app.stdout) // New line.
			app.Logger.Info().Src("app").Msgf("received %v, stopping", s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

type lineResult struct {
	line string
	err  error
}

// readLine reads a line from stdin. A single reader goroutine is
// shared between calls so a canceled read doesn't lose input.
func (app *App) readLine(ctx context.Context) (string, error) {
	if app.lines == nil {
		app.lines = make(chan lineResult)
		go func() {
			r := bufio.NewReader(app.stdin)
			for {
				line, err := r.ReadString('\n')
				if err != nil && line != "" {
					err = nil
				}
				app.lines <- lineResult{line: line, err: err}
				if err != nil {
					close(app.lines)
					return
				}
			}
		}()
	}

	select {
	case res, ok := <-app.lines:
		if !ok {
			return "", fmt.Errorf("read stdin: %w", io.EOF)
		}
		if res.err != nil {
			return "", fmt.Errorf("read stdin: %w", res.err)
		}
		return res.line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (app *App) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-app.after(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
