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

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// Bucket name inside the shared database.
var logBucket = []byte("logs")

const defaultMaxKeys = 100000

// DB stores logs in a bucket of an already open bolt database.
type DB struct {
	db      *bolt.DB
	maxKeys int

	// Previous key, keys must be unique.
	prevKey uint64

	// Wait for last log to be saved before closing db.
	saveWG *sync.WaitGroup
}

// NewDB creates the log bucket if it doesn't exist.
func NewDB(db *bolt.DB) (*DB, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(logBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &DB{
		db:      db,
		maxKeys: defaultMaxKeys,
		saveWG:  &sync.WaitGroup{},
	}, nil
}

// SaveLogs subscribes to the logger and saves every log into the
// database until the logger stops. Logs sent after SaveLogs returns
// are always saved.
func (logDB *DB) SaveLogs(l *Logger) {
	feed, cancel := l.Subscribe()

	logDB.saveWG.Add(1)
	go func() {
		defer logDB.saveWG.Done()
		defer cancel()
		for log := range feed {
			// Logging the error here would deadlock the feed.
			if err := logDB.saveLog(log); err != nil {
				fmt.Fprintf(os.Stderr, "could not save log: %v %v\n", log.Msg, err)
			}
		}
	}()
}

// Wait blocks until the logger has stopped and every log is saved.
func (logDB *DB) Wait() {
	logDB.saveWG.Wait()
}

func (logDB *DB) saveLog(log Log) error {
	key := uint64(log.Time)
	if key <= logDB.prevKey {
		key = logDB.prevKey + 1
	}
	logDB.prevKey = key

	return logDB.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logBucket)

		if b.Stats().KeyN >= logDB.maxKeys {
			if err := deleteFirstKey(b); err != nil {
				return fmt.Errorf("could not delete first key: %w", err)
			}
		}
		return b.Put(encodeKey(key), encodeValue(log))
	})
}

func deleteFirstKey(b *bolt.Bucket) error {
	k, _ := b.Cursor().First()
	return b.Delete(k)
}

// Query database query.
type Query struct {
	Levels  []Level
	Sources []string
	Cameras []int
	Limit   int
}

// Query returns matching logs, newest first.
func (logDB *DB) Query(q Query) ([]Log, error) {
	var logs []Log

	limit := q.Limit
	if limit == 0 {
		limit = defaultMaxKeys
	}

	err := logDB.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()

		for key, value := c.Last(); key != nil && len(logs) < limit; key, value = c.Prev() {
			var log Log
			if err := json.Unmarshal(value, &log); err != nil {
				return fmt.Errorf("could not unmarshal log: %w", err)
			}

			if !levelInLevels(log.Level, q.Levels) {
				continue
			}
			if !stringInStrings(log.Src, q.Sources) {
				continue
			}
			if !intInInts(log.Camera, q.Cameras) {
				continue
			}
			logs = append(logs, log)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

func levelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

func stringInStrings(source string, sources []string) bool {
	if sources == nil {
		return true
	}
	for _, src := range sources {
		if src == source {
			return true
		}
	}
	return false
}

func intInInts(v int, values []int) bool {
	if values == nil {
		return true
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func encodeKey(key uint64) []byte {
	output := make([]byte, 8)
	binary.BigEndian.PutUint64(output, key)
	return output
}

func encodeValue(log Log) []byte {
	value, _ := json.Marshal(log)
	return value
}
