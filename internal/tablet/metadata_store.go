// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tablet

import (
	"bytes"
	"encoding/gob"

	"github.com/boltdb/bolt"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

var superblockBucket = []byte("superblocks")

// MetadataStore is the tablet metadata store: it holds each tablet's
// current superblock and accepts the atomic replace that makes a freshly
// bootstrapped tablet live. A bolt transaction is the commit point: readers
// never observe a partially-written superblock.
type MetadataStore struct {
	db *bolt.DB
}

// OpenMetadataStore opens (creating if necessary) the metadata store at path.
func OpenMetadataStore(path string) (*MetadataStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(superblockBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MetadataStore{db: db}, nil
}

// Close closes the underlying database.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}

// Seed writes sb as the current superblock for its tablet, overwriting
// whatever was there. Used by callers to establish the REMOTE_BOOTSTRAP_COPYING
// precondition before invoking the bootstrap orchestrator; not part of the
// bootstrap client itself.
func (s *MetadataStore) Seed(sb core.Superblock) error {
	return s.put(sb)
}

// Get returns the current superblock for id.
func (s *MetadataStore) Get(id core.TabletID) (core.Superblock, core.Error) {
	var sb core.Superblock
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(superblockBucket).Get([]byte(id))
		if v == nil {
			return errNotFound
		}
		return gob.NewDecoder(bytes.NewReader(v)).Decode(&sb)
	})
	if err == errNotFound {
		return core.Superblock{}, core.ErrNotFound
	}
	if err != nil {
		return core.Superblock{}, core.ErrIO
	}
	return sb, core.NoError
}

// ReplaceSuperblock atomically swaps the stored superblock for local.TabletID
// with local, and sets its state to RemoteBootstrapDone. This is the commit
// point of a bootstrap: before this call returns, the tablet is still
// described by its old superblock; after it returns, every reader of Get
// observes the new one.
func (s *MetadataStore) ReplaceSuperblock(local core.LocalSuperblock) core.Error {
	local.State = core.RemoteBootstrapDone
	if err := s.put(local); err != nil {
		return core.ErrIO
	}
	return core.NoError
}

func (s *MetadataStore) put(sb core.Superblock) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(sb); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(superblockBucket).Put([]byte(sb.TabletID), buf.Bytes())
	})
}

var errNotFound = boltNotFoundError{}

type boltNotFoundError struct{}

func (boltNotFoundError) Error() string { return "tablet not found" }
