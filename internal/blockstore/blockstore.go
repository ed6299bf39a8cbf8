// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package blockstore is the local block manager: it allocates BlockIds,
// durably materializes block contents under a root directory, and keeps a
// small durable index of what it has allocated so the blocks can be found
// again after a restart. It plays the role of the "block manager" that the
// remote bootstrap client's Local Materializer hands fetched bytes to.
package blockstore

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gosigar "github.com/cloudfoundry/gosigar"
	log "github.com/golang/glog"
	_ "github.com/mattn/go-sqlite3"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/disk"
)

// Sink is what the Chunk Fetcher appends bytes to. Sinks are one-shot: a
// fresh Sink is created for every block, and writing through it twice (or
// to a closed/abandoned sink) is a programming error.
type Sink interface {
	// Append adds b to the end of the sink's contents.
	Append(b []byte) error

	// Close commits the sink: contents and any container metadata needed
	// to locate the block after a restart are made durable.
	Close() error

	// Abandon discards the sink without committing. Used on the error path
	// of a bootstrap: whatever was written so far is left unreferenced for
	// garbage collection on a future attempt.
	Abandon()
}

// Manager allocates and durably materializes local blocks.
type Manager interface {
	// CreateBlock allocates a new, locally-unique BlockId and returns a
	// Sink to write its contents through.
	CreateBlock() (Sink, core.BlockId, error)

	// Delete removes a previously committed block. Used for garbage
	// collecting orphans left by a prior, failed bootstrap attempt.
	Delete(id core.BlockId) error

	// Stat reports free/used space on the filesystem backing the store.
	Stat() (core.Error, DiskStatus)

	// Close releases resources held by the manager (its index database).
	Close() error
}

// DiskStatus is lightweight, point-in-time information about the block
// store's backing filesystem.
type DiskStatus struct {
	Root      string
	Healthy   bool
	TotalSize uint64
	FreeSize  uint64
}

// FileManager is the real Manager, backed by flat files under Root and a
// sqlite index of allocated block ids.
type FileManager struct {
	root string

	lock sync.Mutex
	db   *sql.DB
}

// NewFileManager opens (creating if necessary) a block store rooted at
// root, with its allocation index in indexPath.
func NewFileManager(root, indexPath string) (*FileManager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", indexPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blocks (
		id BLOB PRIMARY KEY,
		path TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &FileManager{root: root, db: db}, nil
}

func (m *FileManager) pathFor(id core.BlockId) string {
	return filepath.Join(m.root, id.String()+".blk")
}

// CreateBlock implements Manager.
func (m *FileManager) CreateBlock() (Sink, core.BlockId, error) {
	for attempt := 0; attempt < 8; attempt++ {
		var id core.BlockId
		if _, err := rand.Read(id[:]); err != nil {
			return nil, core.ZeroBlockId, err
		}
		path := m.pathFor(id)
		f, err := disk.NewChecksumFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR)
		if err == nil {
			return &fileSink{mgr: m, id: id, path: path, f: f}, id, nil
		}
		if !os.IsExist(err) {
			return nil, core.ZeroBlockId, err
		}
		log.Warningf("blockstore: id collision for %s, retrying", id)
	}
	return nil, core.ZeroBlockId, fmt.Errorf("blockstore: failed to allocate a fresh block id")
}

// Delete implements Manager.
func (m *FileManager) Delete(id core.BlockId) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err := os.Remove(m.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	_, err := m.db.Exec(`DELETE FROM blocks WHERE id = ?`, id[:])
	return err
}

// Stat implements Manager.
func (m *FileManager) Stat() (core.Error, DiskStatus) {
	var fs gosigar.FileSystemUsage
	if err := fs.Get(m.root); err != nil {
		return core.ErrIO, DiskStatus{Root: m.root}
	}
	return core.NoError, DiskStatus{
		Root:      m.root,
		Healthy:   true,
		TotalSize: fs.Total * 1024,
		FreeSize:  fs.Free * 1024,
	}
}

// Close implements Manager.
func (m *FileManager) Close() error {
	return m.db.Close()
}

func (m *FileManager) commit(id core.BlockId, path string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	_, err := m.db.Exec(`INSERT OR REPLACE INTO blocks (id, path) VALUES (?, ?)`, id[:], path)
	return err
}

type fileSink struct {
	mgr  *FileManager
	id   core.BlockId
	path string
	f    *disk.ChecksumFile
	done bool
}

func (s *fileSink) Append(b []byte) error {
	_, err := s.f.Write(b)
	return err
}

func (s *fileSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := disk.SyncDir(s.mgr.root); err != nil {
		return err
	}
	return s.mgr.commit(s.id, s.path)
}

func (s *fileSink) Abandon() {
	if s.done {
		return
	}
	s.done = true
	s.f.Close()
	os.Remove(s.path)
}
