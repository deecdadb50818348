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

package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/require"
)

func mockSystem(free uint64) *System {
	return &System{
		cpu: func(context.Context, time.Duration, bool) ([]float64, error) {
			return []float64{11}, nil
		},
		ram: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{UsedPercent: 22}, nil
		},
		disk: func(_ context.Context, path string) (*disk.UsageStat, error) {
			return &disk.UsageStat{Path: path, Free: free, Total: 64000000000}, nil
		},
	}
}

func TestStatus(t *testing.T) {
	s := mockSystem(2000000000)
	status, err := s.Status(context.Background(), "/home/pi")
	require.NoError(t, err)
	require.Equal(t, Status{
		CPUUsage:  11,
		RAMUsage:  22,
		DiskFree:  2000000000,
		DiskTotal: 64000000000,
	}, status)
	require.Equal(t, "cpu 11%, ram 22%, disk 2.00GB free of 64.0GB", status.String())

	errCases := map[string]func(*System){
		"cpu": func(s *System) {
			s.cpu = func(context.Context, time.Duration, bool) ([]float64, error) {
				return nil, errors.New("mock")
			}
		},
		"ram": func(s *System) {
			s.ram = func(context.Context) (*mem.VirtualMemoryStat, error) {
				return nil, errors.New("mock")
			}
		},
		"disk": func(s *System) {
			s.disk = func(context.Context, string) (*disk.UsageStat, error) {
				return nil, errors.New("mock")
			}
		},
	}
	for name, modify := range errCases {
		t.Run(name, func(t *testing.T) {
			s := mockSystem(0)
			modify(s)
			_, err := s.Status(context.Background(), "/")
			require.Error(t, err)
		})
	}
}

func TestPreflight(t *testing.T) {
	cases := map[string]struct {
		free      uint64
		required  int64
		expectErr bool
	}{
		"enough":   {free: 1000, required: 999},
		"exact":    {free: 1000, required: 1000},
		"tooSmall": {free: 1000, required: 1001, expectErr: true},
		"noLimit":  {free: 0, required: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := mockSystem(tc.free).Preflight(context.Background(), "/", tc.required)
			if tc.expectErr {
				require.ErrorIs(t, err, ErrInsufficientSpace)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestEstimateBytes(t *testing.T) {
	frameSize := 1920 * 1080 * 2
	require.Equal(t, int64(frameSize*30*10*2), EstimateBytes(frameSize, 30, 10*time.Second, 2))
	require.Equal(t, int64(frameSize*30*2), EstimateBytes(frameSize, 0, time.Second, 2))
	require.Equal(t, int64(0), EstimateBytes(frameSize, 30, 0, 2))
}
