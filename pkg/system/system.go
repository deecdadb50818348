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

// Package system checks host resources before a recording.
package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dualcam/pkg/storage"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ErrInsufficientSpace the output filesystem is too small for the recording.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// Frame rate used for estimates when none is configured.
const defaultFramerate = 30

// Status stores system status.
type Status struct {
	CPUUsage  int
	RAMUsage  int
	DiskFree  uint64
	DiskTotal uint64
}

func (s Status) String() string {
	return fmt.Sprintf("cpu %d%%, ram %d%%, disk %v free of %v",
		s.CPUUsage, s.RAMUsage,
		storage.FormatBytes(int64(s.DiskFree)),
		storage.FormatBytes(int64(s.DiskTotal)))
}

type (
	cpuFunc  func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc  func(context.Context) (*mem.VirtualMemoryStat, error)
	diskFunc func(context.Context, string) (*disk.UsageStat, error)
)

// System .
type System struct {
	cpu  cpuFunc
	ram  ramFunc
	disk diskFunc

	duration time.Duration
}

// New returns new System.
func New() *System {
	return &System{
		cpu:  cpu.PercentWithContext,
		ram:  mem.VirtualMemoryWithContext,
		disk: disk.UsageWithContext,

		duration: 200 * time.Millisecond,
	}
}

// Status returns cpu, ram and disk usage of the filesystem containing dir.
func (s *System) Status(ctx context.Context, dir string) (Status, error) {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return Status{}, fmt.Errorf("cpu usage: %w", err)
	}
	ramUsage, err := s.ram(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("ram usage: %w", err)
	}
	diskUsage, err := s.disk(ctx, dir)
	if err != nil {
		return Status{}, fmt.Errorf("disk usage: %w", err)
	}

	status := Status{
		RAMUsage:  int(ramUsage.UsedPercent),
		DiskFree:  diskUsage.Free,
		DiskTotal: diskUsage.Total,
	}
	if len(cpuUsage) != 0 {
		status.CPUUsage = int(cpuUsage[0])
	}
	return status, nil
}

// Preflight returns ErrInsufficientSpace if the filesystem
// containing dir has less than required bytes free.
func (s *System) Preflight(ctx context.Context, dir string, required int64) (Status, error) {
	status, err := s.Status(ctx, dir)
	if err != nil {
		return Status{}, err
	}
	if required > 0 && status.DiskFree < uint64(required) {
		return status, fmt.Errorf("%w: need %v, have %v",
			ErrInsufficientSpace,
			storage.FormatBytes(required),
			storage.FormatBytes(int64(status.DiskFree)))
	}
	return status, nil
}

// EstimateBytes returns the size of a recording.
func EstimateBytes(frameSize int, framerate float64, duration time.Duration, cameras int) int64 {
	if framerate <= 0 {
		framerate = defaultFramerate
	}
	frames := framerate * duration.Seconds()
	return int64(float64(frameSize)*frames) * int64(cameras)
}
