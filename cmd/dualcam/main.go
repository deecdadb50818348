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
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"dualcam"
	"dualcam/pkg/log"

	"github.com/urfave/cli"
)

var errMissingArgument = errors.New("missing argument")

var commonFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "env",
		Usage: "path to env.yaml, defaults to ./env.yaml",
	},
	cli.BoolFlag{
		Name:   "debug",
		Usage:  "print debug logs",
		EnvVar: "DEBUG",
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dualcam"
	app.Usage = "Dual camera raw recorder"
	app.UsageText = "dualcam [command] [arguments]"
	app.HideVersion = true
	app.Commands = []cli.Command{
		{
			Name:    "record",
			Aliases: []string{"r"},
			Usage:   "Record both cameras and convert the first frames to DNG",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "duration, d",
					Usage: "recording duration in seconds, prompted for if unset",
				},
				cli.BoolFlag{
					Name:  "preview, p",
					Usage: "preview both cameras until Enter is pressed",
				},
			}, commonFlags...),
			Action: withApp(func(ctx context.Context, app *dualcam.App, c *cli.Context) error {
				m, err := app.Record(ctx, recordOptions(c))
				if err != nil {
					return err
				}
				for _, cam := range m.Cameras {
					fmt.Printf("%v: %v\n", cam.Name, cam.Raw.Path)
					if cam.DNG != nil {
						fmt.Printf("%v: %v\n", cam.Name, cam.DNG.Path)
					}
				}
				return nil
			}),
		},
		{
			Name:  "preview",
			Usage: "Preview both cameras until Enter is pressed",
			Flags: commonFlags,
			Action: withApp(func(ctx context.Context, app *dualcam.App, _ *cli.Context) error {
				return app.Preview(ctx)
			}),
		},
		{
			Name:      "convert",
			Aliases:   []string{"c"},
			Usage:     "Convert the first frame of a raw recording to DNG",
			ArgsUsage: "file.raw",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "camera",
					Usage: "camera index used in the output file name",
				},
				cli.StringFlag{
					Name:  "out, o",
					Usage: "output directory, defaults to outputDir",
				},
			}, commonFlags...),
			Action: withApp(func(_ context.Context, app *dualcam.App, c *cli.Context) error {
				rawPath, err := getArg(c, "raw file")
				if err != nil {
					return err
				}
				path, err := app.Convert(rawPath, c.Int("camera"), c.String("out"))
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			}),
		},
		{
			Name:      "inspect",
			Aliases:   []string{"i"},
			Usage:     "Print the tags and channel statistics of a DNG file",
			ArgsUsage: "file.dng",
			Flags:     commonFlags,
			Action: withApp(func(_ context.Context, app *dualcam.App, c *cli.Context) error {
				path, err := getArg(c, "dng file")
				if err != nil {
					return err
				}
				return app.Inspect(path)
			}),
		},
		{
			Name:  "list",
			Usage: "List the connected cameras",
			Flags: commonFlags,
			Action: withApp(func(ctx context.Context, app *dualcam.App, _ *cli.Context) error {
				return app.List(ctx)
			}),
		},
		{
			Name:  "sessions",
			Usage: "List recording sessions, newest first",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "limit, n",
					Value: 10,
					Usage: "number of sessions, 0 for all",
				},
			}, commonFlags...),
			Action: withApp(func(_ context.Context, app *dualcam.App, c *cli.Context) error {
				return app.Sessions(c.Int("limit"))
			}),
		},
		{
			Name:      "verify",
			Usage:     "Compare the checksums of a session with the files on disk",
			ArgsUsage: "counter",
			Flags:     commonFlags,
			Action: withApp(func(_ context.Context, app *dualcam.App, c *cli.Context) error {
				arg, err := getArg(c, "session counter")
				if err != nil {
					return err
				}
				counter, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid session counter: %w", err)
				}
				return app.Verify(counter)
			}),
		},
		{
			Name:  "logs",
			Usage: "Print stored logs",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "level",
					Value: "debug",
					Usage: "most verbose level: error, warning, info or debug",
				},
				cli.StringSliceFlag{
					Name:  "source",
					Usage: "only logs from source, can be repeated",
				},
				cli.IntSliceFlag{
					Name:  "camera",
					Usage: "only logs from camera index, can be repeated",
				},
				cli.IntFlag{
					Name:  "limit, n",
					Value: 100,
				},
			}, commonFlags...),
			Action: withApp(func(_ context.Context, app *dualcam.App, c *cli.Context) error {
				maxLevel, err := log.ParseLevel(c.String("level"))
				if err != nil {
					return err
				}
				var levels []log.Level
				for _, l := range []log.Level{
					log.LevelError, log.LevelWarning, log.LevelInfo, log.LevelDebug,
				} {
					if l <= maxLevel {
						levels = append(levels, l)
					}
				}
				return app.Logs(log.Query{
					Levels:  levels,
					Sources: c.StringSlice("source"),
					Cameras: c.IntSlice("camera"),
					Limit:   c.Int("limit"),
				})
			}),
		},
	}
	return app
}

// recordOptions prompts for the duration only if the flag is unset.
// An explicit zero is passed on and rejected.
func recordOptions(c *cli.Context) dualcam.RecordOptions {
	return dualcam.RecordOptions{
		Seconds: c.Int("duration"),
		Prompt:  !c.IsSet("duration"),
		Preview: c.Bool("preview"),
	}
}

type actionFunc func(context.Context, *dualcam.App, *cli.Context) error

// withApp creates the app before the action and closes it after.
func withApp(action actionFunc) func(*cli.Context) error {
	return func(c *cli.Context) error {
		app, err := dualcam.NewApp(dualcam.Options{
			EnvPath: c.String("env"),
			Debug:   c.Bool("debug"),
		})
		if err != nil {
			return err
		}

		ctx, cancel := app.SignalContext(context.Background())
		defer cancel()

		err = action(ctx, app, c)
		if err != nil {
			app.Logger.Error().Src("app").Msgf("%v", err)
		}
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		return err
	}
}

func getArg(c *cli.Context, name string) (string, error) {
	arg := c.Args().Get(0)
	if arg == "" {
		return "", fmt.Errorf("%w: %v", errMissingArgument, name)
	}
	return arg, nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
