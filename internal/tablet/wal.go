// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tablet adapts a tablet's on-disk layout (WAL directory, consensus
// metadata, superblock) to the remote bootstrap client's Local Materializer
// and final-swap collaborators.
package tablet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/disk"
)

// WALStore materializes WAL segment files for a tablet under a root
// directory, one subdirectory per tablet.
type WALStore struct {
	root string
}

// NewWALStore returns a WALStore rooted at root (e.g. "/var/tabletd/data").
func NewWALStore(root string) *WALStore {
	return &WALStore{root: root}
}

func (w *WALStore) tabletDir(id core.TabletID) string {
	return filepath.Join(w.root, string(id))
}

func (w *WALStore) walDir(id core.TabletID) string {
	return filepath.Join(w.tabletDir(id), "wal")
}

// ResetDir deletes the tablet's WAL directory if it exists, recreates it,
// and fsyncs the parent (tablet) directory, so that no stray segments from
// a prior failed bootstrap remain. Must be called once, before the first
// call to OpenSegment for a given bootstrap.
func (w *WALStore) ResetDir(id core.TabletID) error {
	tabletDir := w.tabletDir(id)
	if err := os.MkdirAll(tabletDir, 0755); err != nil {
		return err
	}
	walDir := w.walDir(id)
	if err := os.RemoveAll(walDir); err != nil {
		return err
	}
	if err := os.Mkdir(walDir, 0755); err != nil {
		return err
	}
	return disk.SyncDir(tabletDir)
}

// OpenSegment opens the sink for WAL segment seq of tablet id. ResetDir must
// have been called first in this bootstrap. The file is created exclusively:
// a repeated bootstrap always writes a fresh segment. It is written through
// disk.ChecksumFile, so each 64 KiB block on disk carries a trailing CRC.
func (w *WALStore) OpenSegment(id core.TabletID, seq core.SeqNo) (blockstore.Sink, error) {
	path := filepath.Join(w.walDir(id), fmt.Sprintf("%020d.wal", seq))
	f, err := disk.NewChecksumFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR)
	if err != nil {
		return nil, err
	}
	return &segmentSink{store: w, tabletID: id, f: f, path: path}, nil
}

type segmentSink struct {
	store    *WALStore
	tabletID core.TabletID
	f        *disk.ChecksumFile
	path     string
	done     bool
}

func (s *segmentSink) Append(b []byte) error {
	_, err := s.f.Write(b)
	return err
}

func (s *segmentSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.f.Close(); err != nil {
		return err
	}
	return disk.SyncDir(s.store.walDir(s.tabletID))
}

func (s *segmentSink) Abandon() {
	if s.done {
		return
	}
	s.done = true
	s.f.Close()
	os.Remove(s.path)
}
