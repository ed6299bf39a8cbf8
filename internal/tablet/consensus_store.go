// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tablet

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/disk"
)

// ConsensusStore durably records each tablet's consensus metadata (the
// config and term it should start participating in consensus with) as a
// JSON file on disk. Writes go to a temp file in the same directory, fsync,
// rename over the real path, then fsync the directory, so a crash never
// leaves a torn file in place of a good one.
type ConsensusStore struct {
	root string
}

// NewConsensusStore returns a ConsensusStore rooted at root.
func NewConsensusStore(root string) *ConsensusStore {
	return &ConsensusStore{root: root}
}

func (s *ConsensusStore) path(id core.TabletID) string {
	return filepath.Join(s.root, string(id)+".cmeta")
}

// Write durably persists meta, replacing any prior consensus metadata for
// the same tablet. Must complete before the superblock swap that marks the
// tablet's bootstrap done.
func (s *ConsensusStore) Write(meta core.ConsensusMetadata) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	final := s.path(meta.TabletID)
	tmp := final + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_RDWR, 0644)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return disk.Rename(tmp, final)
}

// Read loads the consensus metadata previously written for id.
func (s *ConsensusStore) Read(id core.TabletID) (core.ConsensusMetadata, error) {
	var meta core.ConsensusMetadata
	data, err := ioutil.ReadFile(s.path(id))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("consensus metadata for %s is corrupt: %v", id, err)
	}
	return meta, nil
}
