// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package diskmgr provides the host's disk-manager collaborator: a
// place to create and track temp files used for spills, so they can be
// cleaned up in bulk if the owning task is cancelled.
package diskmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Manager hands out temp files for spills and remembers them so Cleanup
// can remove anything still outstanding when a task is torn down or
// cancelled.
type Manager interface {
	// CreateTempFile returns a newly created, empty temp file open for
	// read and write.
	CreateTempFile() (*os.File, error)
	// Cleanup removes every temp file this manager has created that
	// hasn't already been explicitly released, and returns the first
	// error encountered, if any.
	Cleanup() error
	// Release tells the manager it no longer needs to track f, e.g.
	// because the caller deleted it itself.
	Release(f *os.File)
}

// LocalManager creates temp files in a single directory (os.TempDir by
// default) and best-effort preallocates their backing extents with
// unix.Fallocate.
type LocalManager struct {
	Dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewLocalManager returns a Manager rooted at dir. If dir is empty,
// os.TempDir() is used.
func NewLocalManager(dir string) *LocalManager {
	return &LocalManager{Dir: dir, files: make(map[string]*os.File)}
}

// CreateTempFile creates a new spill file named with a random UUID
// rather than relying on os.CreateTemp's internal counter, so spill
// files can be correlated with log output across a distributed job
// without leaking any ordering information about creation time.
func (m *LocalManager) CreateTempFile() (*os.File, error) {
	dir := m.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	name := filepath.Join(dir, fmt.Sprintf("shuffle-spill-%s.tmp", uuid.NewString()))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: create temp file: %w", err)
	}
	m.mu.Lock()
	m.files[f.Name()] = f
	m.mu.Unlock()
	preallocate(f)
	return f, nil
}

func (m *LocalManager) Release(f *os.File) {
	m.mu.Lock()
	delete(m.files, f.Name())
	m.mu.Unlock()
}

func (m *LocalManager) Cleanup() error {
	m.mu.Lock()
	files := m.files
	m.files = make(map[string]*os.File)
	m.mu.Unlock()

	var first error
	for name, f := range files {
		f.Close()
		if err := os.Remove(name); err != nil && first == nil {
			first = fmt.Errorf("diskmgr: remove %s: %w", name, err)
		}
	}
	return first
}
