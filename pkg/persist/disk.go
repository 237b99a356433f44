package persist

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultQuota bounds the bytes a Disk holds (64MB).
const DefaultQuota = 64 << 20

type entry struct {
	data     []byte
	modified time.Time
}

// Disk is an in-memory store with a byte quota. When Dir is set, every
// change is written through to files below Dir, one file per key.
type Disk struct {
	mu    sync.RWMutex
	files map[string]*entry
	dirty map[string]bool
	used  int
	quota int
	dir   string
}

// NewDisk creates an empty disk. quota <= 0 selects DefaultQuota; an empty
// dir keeps everything in memory.
func NewDisk(dir string, quota int) *Disk {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Disk{
		files: make(map[string]*entry),
		dirty: make(map[string]bool),
		quota: quota,
		dir:   dir,
	}
}

// OpenDisk creates a disk over dir and reads the files already there.
func OpenDisk(dir string, quota int) (*Disk, error) {
	d := NewDisk(dir, quota)
	if err := d.LoadFrom(dir); err != nil {
		return nil, err
	}
	return d, nil
}

// Write stores a copy of data under key. Overwriting a key frees the
// space of the old value first.
func (d *Disk) Write(key string, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	oldSize := 0
	if existing, ok := d.files[key]; ok {
		oldSize = len(existing.data)
	}
	if d.used-oldSize+len(data) > d.quota {
		return fmt.Errorf("%w: %q needs %d bytes, %d free", ErrQuotaExceeded, key, len(data), d.quota-d.used+oldSize)
	}

	d.files[key] = &entry{data: append([]byte(nil), data...), modified: time.Now()}
	d.used += len(data) - oldSize
	d.dirty[key] = true
	return nil
}

// Read returns the value stored under key.
func (d *Disk) Read(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.files[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return append([]byte(nil), e.data...), nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (d *Disk) Remove(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.files[key]; ok {
		d.used -= len(e.data)
		delete(d.files, key)
	}
	// marked dirty so the host copy goes too
	d.dirty[key] = true
	return nil
}

// Used returns the bytes currently stored.
func (d *Disk) Used() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.used
}

// List returns the stored keys in sorted order.
func (d *Disk) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.files))
	for k := range d.files {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Disk) Load(_ context.Context, key string) ([]byte, error) {
	return d.Read(key)
}

func (d *Disk) Save(_ context.Context, key string, value []byte) error {
	if err := d.Write(key, value); err != nil {
		return err
	}
	return d.sync()
}

func (d *Disk) Delete(_ context.Context, key string) error {
	if err := d.Remove(key); err != nil {
		return err
	}
	return d.sync()
}

func (d *Disk) sync() error {
	if d.dir == "" {
		return nil
	}
	return d.PersistTo(d.dir)
}

// LoadFrom reads every file below path whose relative name is a valid key.
// A missing directory is an empty disk.
func (d *Disk) LoadFrom(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return filepath.WalkDir(path, func(p string, de fs.DirEntry, err error) error {
		if err != nil || de.IsDir() {
			return err
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if checkKey(key) != nil {
			return nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		e := &entry{data: raw, modified: time.Now()}
		if info, err := de.Info(); err == nil {
			e.modified = info.ModTime()
		}
		if old, ok := d.files[key]; ok {
			d.used -= len(old.data)
		}
		d.files[key] = e
		d.used += len(raw)
		return nil
	})
}

// PersistTo writes the keys changed since the last call to files below
// path and removes the files of deleted keys. It returns the first error;
// keys that failed stay dirty.
func (d *Disk) PersistTo(path string) error {
	// snapshot under the lock, then do the I/O without it
	d.mu.Lock()
	writes := make(map[string]*entry)
	var deletes []string
	for key := range d.dirty {
		if e, ok := d.files[key]; ok {
			writes[key] = &entry{data: append([]byte(nil), e.data...), modified: e.modified}
		} else {
			deletes = append(deletes, key)
		}
		delete(d.dirty, key)
	}
	d.mu.Unlock()

	var firstErr error
	fail := func(key string, err error) {
		d.mu.Lock()
		d.dirty[key] = true
		d.mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, key := range deletes {
		err := os.Remove(hostPath(path, key))
		if err != nil && !os.IsNotExist(err) {
			fail(key, err)
		}
	}
	for key, e := range writes {
		full := hostPath(path, key)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			fail(key, err)
			continue
		}
		if err := os.WriteFile(full, e.data, 0644); err != nil {
			fail(key, err)
			continue
		}
		_ = os.Chtimes(full, time.Now(), e.modified)
	}
	return firstErr
}

func hostPath(root, key string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}
