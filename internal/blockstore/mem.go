// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package blockstore

import (
	"bytes"
	"crypto/rand"
	"sync"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

// MemManager is an in-memory Manager implementation useful for testing the
// components that sit on top of the local block manager.
type MemManager struct {
	lock   sync.Mutex
	blocks map[core.BlockId][]byte

	// FailNext, if set, is returned by the next CreateBlock call (and reset
	// to core.NoError), letting tests exercise block-creation error paths.
	// A sink's Close never fails.
	FailNext core.Error
}

// NewMemManager returns an empty MemManager.
func NewMemManager() *MemManager {
	return &MemManager{blocks: make(map[core.BlockId][]byte)}
}

// CreateBlock implements Manager.
func (m *MemManager) CreateBlock() (Sink, core.BlockId, error) {
	m.lock.Lock()
	fail := m.FailNext
	m.FailNext = core.NoError
	m.lock.Unlock()

	if fail != core.NoError {
		return nil, core.ZeroBlockId, fail.Error()
	}

	var id core.BlockId
	rand.Read(id[:])
	return &memSink{mgr: m, id: id}, id, nil
}

// Delete implements Manager.
func (m *MemManager) Delete(id core.BlockId) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.blocks, id)
	return nil
}

// Stat implements Manager.
func (m *MemManager) Stat() (core.Error, DiskStatus) {
	return core.NoError, DiskStatus{Root: "mem", Healthy: true, TotalSize: 1 << 40, FreeSize: 1 << 40}
}

// Close implements Manager.
func (m *MemManager) Close() error { return nil }

// Contents returns the committed contents of block id, for test assertions.
func (m *MemManager) Contents(id core.BlockId) ([]byte, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	b, ok := m.blocks[id]
	return b, ok
}

// Count returns the number of committed blocks.
func (m *MemManager) Count() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.blocks)
}

type memSink struct {
	mgr  *MemManager
	id   core.BlockId
	buf  bytes.Buffer
	done bool
}

func (s *memSink) Append(b []byte) error {
	s.buf.Write(b)
	return nil
}

func (s *memSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.mgr.lock.Lock()
	defer s.mgr.lock.Unlock()
	s.mgr.blocks[s.id] = append([]byte(nil), s.buf.Bytes()...)
	return nil
}

func (s *memSink) Abandon() {
	s.done = true
}
