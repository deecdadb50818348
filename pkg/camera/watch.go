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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Errors.
var (
	ErrStartTimeout = errors.New("no data written")
	ErrStall        = errors.New("possible stall detected")
)

// WaitForFirstWrite blocks until the file exists and is not empty.
func WaitForFirstWrite(ctx context.Context, path string, timeout time.Duration) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// The file doesn't exist before the recorder creates it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	if hasData(path) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed: %w", ErrStartTimeout)
			}
			if event.Name != path || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if hasData(path) {
				return nil
			}
		case err := <-watcher.Errors:
			return err
		case <-timer.C:
			return fmt.Errorf("%w after %v: %v", ErrStartTimeout, timeout, path)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func hasData(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// watchdog reports when a file stops growing.
type watchdog struct {
	path     string
	interval time.Duration
	onStall  func(error)
}

func (d *watchdog) start(ctx context.Context, exited <-chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.onStall(err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(d.path); err != nil {
		d.onStall(err)
		return
	}

	timer := time.NewTimer(d.interval)
	defer timer.Stop()
	stalled := false
	for {
		select {
		case <-watcher.Events: // File updated, not stalled.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.interval)
			stalled = false
		case <-timer.C:
			// Report once per stall.
			if !stalled {
				d.onStall(fmt.Errorf("%w: no data for %v", ErrStall, d.interval))
			}
			stalled = true
			timer.Reset(d.interval)
		case err := <-watcher.Errors:
			d.onStall(err)
			return
		case <-exited:
			return
		case <-ctx.Done():
			return
		}
	}
}
