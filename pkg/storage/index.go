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

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DBFile database file name inside the output directory.
const DBFile = "dualcam.db"

var sessionBucket = []byte("sessions")

// Errors.
var (
	ErrIndexLocked     = errors.New("session index is locked by another process")
	ErrSessionNotFound = errors.New("session not found")
)

// OpenDB opens the database in the output directory. The file is
// locked until closed, a second process gets ErrIndexLocked after timeout.
func OpenDB(dir string, timeout time.Duration) (*bolt.DB, error) {
	path := filepath.Join(dir, DBFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("%v: %w", path, ErrIndexLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", path, err)
	}
	return db, nil
}

// Index recording session index.
type Index struct {
	db *bolt.DB
}

// NewIndex creates the session bucket if it doesn't exist.
func NewIndex(db *bolt.DB) (*Index, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Index{db: db}, nil
}

// NextCounter allocates the next recording counter, starting at 1.
func (i *Index) NextCounter() (int, error) {
	var counter uint64
	err := i.db.Update(func(tx *bolt.Tx) error {
		var err error
		counter, err = tx.Bucket(sessionBucket).NextSequence()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return int(counter), nil
}

// SaveSession stores the manifest under its counter.
func (i *Index) SaveSession(m *Manifest) error {
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(encodeCounter(m.Counter), value)
	})
}

// Session returns a single session.
func (i *Index) Session(counter int) (*Manifest, error) {
	var m *Manifest
	err := i.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(sessionBucket).Get(encodeCounter(counter))
		if value == nil {
			return fmt.Errorf("%w: %d", ErrSessionNotFound, counter)
		}
		m = &Manifest{}
		return json.Unmarshal(value, m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Sessions returns up to limit sessions, newest first.
// Zero limit returns all sessions.
func (i *Index) Sessions(limit int) ([]Manifest, error) {
	var sessions []Manifest
	err := i.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(sessionBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit != 0 && len(sessions) >= limit {
				return nil
			}
			var m Manifest
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshal session %d: %w", decodeCounter(k), err)
			}
			sessions = append(sessions, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func encodeCounter(counter int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(counter))
	return key
}

func decodeCounter(key []byte) int {
	return int(binary.BigEndian.Uint64(key))
}
