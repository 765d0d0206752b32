// Package audit persists a log of dispatched commands in a bbolt file.
// Request payloads such as inline file content are never stored.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const sessionsBucket = "sessions"

// ErrClosed is returned by operations on a closed Log.
var ErrClosed = errors.New("audit: log is closed")

// Entry is one audited request.
type Entry struct {
	Seq     uint64    `json:"seq"`
	Session string    `json:"session"`
	Remote  string    `json:"remote,omitempty"`
	Command string    `json:"command"`
	Args    []string  `json:"args,omitempty"`
	OK      bool      `json:"ok"`
	Time    time.Time `json:"time"`
}

// Log is an append-only audit log. Entries are grouped in one bucket per
// session and keyed by a per-session sequence number.
type Log struct {
	db *bbolt.DB
}

// Open opens or creates the audit log at path.
func Open(path string) (*Log, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &Log{db: db}, nil
}

// Path returns the database file path.
func (l *Log) Path() string {
	return l.db.Path()
}

// Record appends e. Seq is assigned by the log; a zero Time is set to now.
func (l *Log) Record(e Entry) error {
	if l.db == nil {
		return ErrClosed
	}
	if e.Session == "" {
		return errors.New("audit: entry has no session")
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	return l.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket([]byte(sessionsBucket)).CreateBucketIfNotExists([]byte(e.Session))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// Recent returns up to n entries of session, newest first.
func (l *Log) Recent(session string, n int) ([]Entry, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	var entries []Entry
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket)).Bucket([]byte(session))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Sessions returns the ids of all sessions with at least one entry.
func (l *Log) Sessions() ([]string, error) {
	if l.db == nil {
		return nil, ErrClosed
	}
	var ids []string
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

// Close closes the database. It is safe to call more than once.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
