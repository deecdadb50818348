// Package rpimock mocks camera app processes.
package rpimock

import (
	"context"
	"dualcam/pkg/rpicam"
	"errors"
	"os/exec"
	"time"
)

// MockProcessConfig ProcessMocker config.
type MockProcessConfig struct {
	ReturnErr bool
	Sleep     time.Duration

	// OnStart is called with the command when the process starts.
	OnStart func(*exec.Cmd)
	// OnStop is called when the context is canceled.
	OnStop func()
}

// NewProcessMocker creates process mocker from config.
func NewProcessMocker(c MockProcessConfig) rpicam.NewProcessFunc {
	return func(cmd *exec.Cmd) rpicam.Process {
		return mockProcess{c: c, cmd: cmd}
	}
}

type mockProcess struct {
	c   MockProcessConfig
	cmd *exec.Cmd
}

func (m mockProcess) Start(ctx context.Context) error {
	if m.c.OnStart != nil {
		m.c.OnStart(m.cmd)
	}
	if m.c.Sleep != 0 {
		select {
		case <-time.After(m.c.Sleep):
		case <-ctx.Done():
			if m.c.OnStop != nil {
				m.c.OnStop()
			}
		}
	}
	if m.c.ReturnErr {
		return errors.New("mock")
	}
	return nil
}

func (m mockProcess) Timeout(time.Duration) rpicam.Process      { return m }
func (m mockProcess) StdoutLogger(func(string)) rpicam.Process { return m }
func (m mockProcess) StderrLogger(func(string)) rpicam.Process { return m }

// NewProcess runs until canceled.
var NewProcess = NewProcessMocker(MockProcessConfig{
	Sleep: 1 * time.Hour,
})

// NewProcessNil returns nil immediately.
var NewProcessNil = NewProcessMocker(MockProcessConfig{})

// NewProcessErr returns error immediately.
var NewProcessErr = NewProcessMocker(MockProcessConfig{
	ReturnErr: true,
})
