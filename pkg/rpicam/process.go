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

package rpicam

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process interface only used for testing.
type Process interface {
	// Timeout sets how long to wait for the process
	// to exit after an interrupt before killing it.
	Timeout(time.Duration) Process

	// StdoutLogger sets a function that is called on every stdout line.
	StdoutLogger(func(string)) Process

	// StderrLogger sets a function that is called on every stderr line.
	StderrLogger(func(string)) Process

	// Start starts the process and blocks until it exits.
	// Canceling the context stops the process.
	Start(ctx context.Context) error
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger func(string)
	stderrLogger func(string)

	done chan struct{}
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

func (p process) StdoutLogger(l func(string)) Process {
	p.stdoutLogger = l
	return p
}

func (p process) StderrLogger(l func(string)) Process {
	p.stderrLogger = l
	return p
}

func (p process) attachLogger(
	wg *sync.WaitGroup,
	l func(string),
	label string,
	stdPipe func() (io.ReadCloser, error),
) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for scanner.Scan() {
			l(label + ": " + scanner.Text())
		}
	}()
	return nil
}

// Start starts process with context.
func (p process) Start(ctx context.Context) error {
	var scanners sync.WaitGroup
	if p.stdoutLogger != nil {
		if err := p.attachLogger(&scanners, p.stdoutLogger, "stdout", p.cmd.StdoutPipe); err != nil {
			return err
		}
	}
	if p.stderrLogger != nil {
		if err := p.attachLogger(&scanners, p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	p.done = make(chan struct{})

	go func() {
		select {
		case <-p.done:
		case <-ctx.Done():
			p.stop()
		}
	}()

	// Wait closes the pipes, every line must be read first.
	scanners.Wait()
	err := p.cmd.Wait()
	close(p.done)

	// An interrupted camera app is a normal stop.
	if ctx.Err() != nil && isInterrupted(err) {
		return nil
	}

	return err
}

// exec.CommandContext is not used to stop the process as it would
// kill it before it has a chance to close the output files.
func (p process) stop() {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-p.done:
	case <-time.After(p.timeout):
		p.cmd.Process.Signal(os.Kill) //nolint:errcheck
		<-p.done
	}
}

func isInterrupted(err error) bool {
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	if status.Signaled() && status.Signal() == syscall.SIGINT {
		return true
	}
	// rpicam apps exit with status 255 when interrupted.
	return status.ExitStatus() == 255 || status.ExitStatus() == 130
}
