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

package main

import (
	"flag"
	"testing"

	"dualcam"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func TestCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
		require.NotNil(t, c.Action, c.Name)
	}
	require.Equal(t, []string{
		"record", "preview", "convert", "inspect",
		"list", "sessions", "verify", "logs",
	}, names)

	record := app.Command("r")
	require.NotNil(t, record)
	require.Equal(t, "record", record.Name)
}

func TestGetArg(t *testing.T) {
	cases := map[string]struct {
		args     []string
		expected string
		err      error
	}{
		"ok":      {[]string{"camera0.dng"}, "camera0.dng", nil},
		"missing": {nil, "", errMissingArgument},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			set := flag.NewFlagSet("test", flag.ContinueOnError)
			require.NoError(t, set.Parse(tc.args))
			c := cli.NewContext(cli.NewApp(), set, nil)

			arg, err := getArg(c, "dng file")
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.expected, arg)
		})
	}
}

func TestRecordOptions(t *testing.T) {
	cases := map[string]struct {
		args     []string
		expected dualcam.RecordOptions
	}{
		"unset":   {nil, dualcam.RecordOptions{Prompt: true}},
		"zero":    {[]string{"--duration", "0"}, dualcam.RecordOptions{}},
		"seconds": {[]string{"--duration", "5"}, dualcam.RecordOptions{Seconds: 5}},
		"preview": {
			[]string{"--duration", "5", "--preview"},
			dualcam.RecordOptions{Seconds: 5, Preview: true},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			set := flag.NewFlagSet("test", flag.ContinueOnError)
			set.Int("duration", 0, "")
			set.Bool("preview", false, "")
			require.NoError(t, set.Parse(tc.args))
			c := cli.NewContext(cli.NewApp(), set, nil)

			require.Equal(t, tc.expected, recordOptions(c))
		})
	}
}
