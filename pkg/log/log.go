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

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMicro time in microseconds.
type UnixMicro uint64

// NoCamera marks a log entry that does not belong to a camera.
const NoCamera = -1

// Event defines log event.
type Event struct {
	level  Level
	time   UnixMicro
	src    string
	camera int

	logger *Logger
}

// Log defines log entry.
type Log struct {
	Level  Level
	Time   UnixMicro // Timestamp.
	Msg    string    // Message
	Src    string    // Source.
	Camera int       // Source camera index, NoCamera if unset.
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Camera sets the camera index of the event.
func (e *Event) Camera(index int) *Event {
	e.camera = index
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMicro(t.UnixNano() / 1000)
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	log := Log{
		Time:   e.time,
		Level:  e.level,
		Msg:    msg,
		Src:    e.src,
		Camera: e.camera,
	}

	select {
	case e.logger.feed <- log:
	case <-e.logger.done:
	}
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	done chan struct{} // Closed when the hub exits.
	wg   *sync.WaitGroup
}

// NewLogger returns a Logger, Start must be called before use.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
		wg:    wg,
	}
}

// NewMockLogger returns a started logger without subscribers.
func NewMockLogger() *Logger {
	l := NewLogger(&sync.WaitGroup{})
	l.Start(context.Background())
	return l
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)

		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				for ch := range subs {
					close(ch)
				}
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
// The feed is closed when the logger stops.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case _, ok := <-feed:
			if !ok {
				return
			}
		case <-l.done:
			return
		}
	}
}

// LogToWriter subscribes to the logger and prints every log at
// or below maxLevel to w until the logger stops. Logs sent after
// LogToWriter returns are always printed.
func (l *Logger) LogToWriter(w io.Writer, maxLevel Level) {
	feed, cancel := l.Subscribe()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		for log := range feed {
			if log.Level > maxLevel {
				continue
			}
			fmt.Fprintln(w, formatLog(log))
		}
	}()
}

// String formats the log like LogToWriter does.
func (log Log) String() string {
	return formatLog(log)
}

func formatLog(log Log) string {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Camera != NoCamera {
		output += "camera" + strconv.Itoa(log.Camera) + ": "
	}
	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}

	output += log.Msg
	return output
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixNano() / 1000),
		camera: NoCamera,
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}

// LineLogger returns a function that logs every line
// with the given level, source and camera.
// Used to forward subprocess output.
func (l *Logger) LineLogger(level Level, src string, camera int) func(string) {
	return func(msg string) {
		l.newEvent(level).Src(src).Camera(camera).Msg(msg)
	}
}

// ParseLevel parses "error", "warning", "info" or "debug".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("invalid log level: %q", s) //nolint:goerr113
}
