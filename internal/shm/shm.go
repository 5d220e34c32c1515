// SPDX-License-Identifier: MIT

// Package shm implements the named, cross-process frame buffer pool that
// hands raw camera frames from the capture stage to the process and
// object-detection stages without copying them through a queue.
//
// Regions are backed by files under a shared-memory mount (/dev/shm on
// Linux) and mapped with golang.org/x/sys/unix.Mmap. This is a pure-Go
// substitute for the POSIX shm_open+mmap pattern: os.OpenFile with
// O_CREATE|O_EXCL gives create's "fails if exists" semantics, unix.Mmap
// gives the zero-copy view, and os.Remove gives delete's unlink.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDir is the default shared-memory mount used when Manager is
// constructed with New(). Tests typically pass a temp directory instead.
const DefaultDir = "/dev/shm"

// Region is a process-local handle to one named shared region. Close
// releases the handle; the backing bytes remain addressable by name until
// Delete is called by the logical owner.
type Region struct {
	name string
	data []byte
	path string
}

// Name returns the region's key.
func (r *Region) Name() string { return r.name }

// Bytes returns the mapped bytes. Valid until Close or Delete is called.
func (r *Region) Bytes() []byte { return r.data }

// Manager is a process-local cache of open shared-memory region handles.
// Exactly one logical owner calls Delete for a given name; Close may be
// called independently by any process holding a handle.
type Manager struct {
	dir     string
	mu      sync.Mutex
	opened  map[string]*Region
	stopped bool
}

// New creates a manager rooted at dir (e.g. "/dev/shm"). The directory must
// already exist and be writable.
func New(dir string) *Manager {
	return &Manager{
		dir:    dir,
		opened: make(map[string]*Region),
	}
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name)
}

// Create allocates a new named region of size bytes and returns a writable
// view. It fails if the name already exists in the backing store.
func (m *Manager) Create(name string, size int) (*Region, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, fmt.Errorf("shm: manager stopped")
	}
	m.mu.Unlock()

	path := m.path(name)
	// #nosec G304 -- path is built from a caller-controlled frame key under a fixed directory
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %q: %w", name, err)
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: truncate %q: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}

	r := &Region{name: name, data: data, path: path}
	m.mu.Lock()
	m.opened[name] = r
	m.mu.Unlock()
	return r, nil
}

// Attach opens an existing region of the given size and returns a view onto
// it. Repeated Attach calls for a name already opened by this manager return
// the same cached handle (idempotent attach, per the "shared region name
// collision" error kind).
func (m *Manager) Attach(name string, size int) (*Region, error) {
	m.mu.Lock()
	if r, ok := m.opened[name]; ok {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	path := m.path(name)
	// #nosec G304 -- path is built from a caller-controlled frame key under a fixed directory
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: attach %q: %w", name, err)
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %q: %w", name, err)
	}

	r := &Region{name: name, data: data, path: path}
	m.mu.Lock()
	m.opened[name] = r
	m.mu.Unlock()
	return r, nil
}

// Close releases this process's local handle to name. The backing region
// persists for other attachers; it is not unlinked.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	r, ok := m.opened[name]
	if ok {
		delete(m.opened, name)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return unix.Munmap(r.data)
}

// Delete releases this process's local handle (if any) and unlinks the
// backing region globally. Exactly one logical owner should call this per
// name; calling it again for an already-deleted name is a no-op.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	r, ok := m.opened[name]
	if ok {
		delete(m.opened, name)
	}
	m.mu.Unlock()

	if ok {
		_ = unix.Munmap(r.data)
	}

	path := m.path(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: delete %q: %w", name, err)
	}
	return nil
}

// Clean marks the manager stopped (further Create calls fail) and unlinks
// every region it still holds a local handle to. It does not touch regions
// opened only by other processes.
func (m *Manager) Clean() error {
	m.mu.Lock()
	m.stopped = true
	names := make([]string, 0, len(m.opened))
	for name := range m.opened {
		names = append(names, name)
	}
	m.mu.Unlock()

	var firstErr error
	for _, name := range names {
		if err := m.Delete(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// OpenCount returns the number of regions this manager currently holds a
// local handle to. Used by tests and leak-detection sweeps to assert that
// no orphan region survives clean shutdown.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opened)
}
