// Package store persists outgoing message records and their open events on
// a shared filesystem. Layout is part of the external contract: one
// directory per message id holding headers.txt, body.txt and meta.json,
// plus a chronological requests.log of newline delimited JSON open events.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound means no record exists for given message id
var ErrNotFound = errors.New("message not found")

// Names of per message files, external collaborators inspect them directly
const (
	headersFile = "headers.txt"
	bodyFile    = "body.txt"
	metaFile    = "meta.json"
	logFile     = "requests.log"
)

// OpenEvent is one beacon fetch, an append only fact
type OpenEvent struct {
	MessageID string    `json:"message_id"`
	At        time.Time `json:"at"`
	Addr      string    `json:"addr"`
	UserAgent string    `json:"user_agent"`
	Referer   string    `json:"referer,omitempty"`
}

// Meta is the mutable JSON metadata record of one message
type Meta struct {
	ID              string      `json:"id"`
	CreatedAt       time.Time   `json:"created_at"`
	Sender          string      `json:"sender"`
	TrackingEnabled bool        `json:"tracking_enabled"`
	Opens           int         `json:"opens"`
	FirstOpen       *time.Time  `json:"first_open"`
	LastOpen        *time.Time  `json:"last_open"`
	Events          []OpenEvent `json:"events"`
}

// Store keeps message records under a root directory. Safe for concurrent
// use, open events for the same message id are serialized.
type Store struct {
	root string

	// logMu makes requests.log appends whole lines
	logMu sync.Mutex
	// locks holds one mutex per message id being updated
	locks sync.Map
}

// New prepares a store rooted at directory, creating it if needed
func New(root string) (*Store, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("%s : while making store root at %s", err, root)
	}
	return &Store{root: root}, nil
}

// Root returns store root directory
func (st *Store) Root() string {
	return st.root
}

func (st *Store) dir(id string) string {
	return filepath.Join(st.root, id)
}

// Create writes the full record of a freshly filtered message. It is called
// exactly once per message, at end-of-message, so a record never exists in
// a partially accumulated state.
func (st *Store) Create(id, sender string, headers, body []byte, tracking bool) error {
	dir := st.dir(id)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("%s : while making message directory at %s", err, dir)
	}
	err = writeFileAtomic(filepath.Join(dir, headersFile), headers)
	if err != nil {
		return fmt.Errorf("%s : while writing %s for message %s", err, headersFile, id)
	}
	err = writeFileAtomic(filepath.Join(dir, bodyFile), body)
	if err != nil {
		return fmt.Errorf("%s : while writing %s for message %s", err, bodyFile, id)
	}
	meta := Meta{
		ID:              id,
		CreatedAt:       time.Now().UTC(),
		Sender:          sender,
		TrackingEnabled: tracking,
	}
	raw, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("%s : while encoding metadata for message %s", err, id)
	}
	return writeFileAtomic(filepath.Join(dir, metaFile), raw)
}

// RecordOpen applies one beacon fetch to the message record and appends it
// to the chronological log. Concurrent opens of the same id are serialized
// by a per id mutex, so the opens counter never loses updates.
func (st *Store) RecordOpen(id string, ev OpenEvent) (Meta, error) {
	ev.MessageID = id
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	mu := st.lockFor(id)
	mu.Lock()
	meta, err := st.ReadMeta(id)
	if err != nil {
		mu.Unlock()
		return Meta{}, err
	}
	meta.Opens++
	if meta.FirstOpen == nil {
		first := ev.At
		meta.FirstOpen = &first
	}
	last := ev.At
	meta.LastOpen = &last
	meta.Events = append(meta.Events, ev)
	raw, err := json.Marshal(&meta)
	if err != nil {
		mu.Unlock()
		return Meta{}, fmt.Errorf("%s : while encoding metadata for message %s", err, id)
	}
	err = writeFileAtomic(filepath.Join(st.dir(id), metaFile), raw)
	mu.Unlock()
	if err != nil {
		return Meta{}, err
	}
	err = st.appendEvent(ev)
	if err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// ReadMeta returns metadata record of a message
func (st *Store) ReadMeta(id string) (Meta, error) {
	raw, err := os.ReadFile(filepath.Join(st.dir(id), metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, ErrNotFound
		}
		return Meta{}, fmt.Errorf("%s : while reading metadata of message %s", err, id)
	}
	var meta Meta
	err = json.Unmarshal(raw, &meta)
	if err != nil {
		return Meta{}, fmt.Errorf("%s : while decoding metadata of message %s", err, id)
	}
	return meta, nil
}

// ReadBody returns raw body block of a message
func (st *Store) ReadBody(id string) ([]byte, error) {
	return st.readRaw(id, bodyFile)
}

// ReadHeaders returns raw header block of a message
func (st *Store) ReadHeaders(id string) ([]byte, error) {
	return st.readRaw(id, headersFile)
}

func (st *Store) readRaw(id, name string) ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(st.dir(id), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%s : while reading %s of message %s", err, name, id)
	}
	return raw, nil
}

func (st *Store) lockFor(id string) *sync.Mutex {
	mu, _ := st.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// writeFileAtomic writes via temp file + rename, so a concurrent reader
// never observes a half written file
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%s : while creating temp file for %s", err, path)
	}
	name := f.Name()
	_, err = f.Write(data)
	if err != nil {
		f.Close()
		os.Remove(name)
		return fmt.Errorf("%s : while writing temp file for %s", err, path)
	}
	err = f.Close()
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("%s : while closing temp file for %s", err, path)
	}
	err = os.Rename(name, path)
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("%s : while renaming temp file into %s", err, path)
	}
	return nil
}
