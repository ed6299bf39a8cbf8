// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

// RemoteBootstrapState records where a tablet is in the remote bootstrap
// lifecycle, as carried in a superblock.
type RemoteBootstrapState int

const (
	// RemoteBootstrapDone means the tablet's on-disk state is complete and
	// consistent; it is safe to bootstrap a new follower from this replica.
	RemoteBootstrapDone RemoteBootstrapState = iota

	// RemoteBootstrapCopying means the tablet is itself mid-bootstrap and is
	// not a valid source for another bootstrap.
	RemoteBootstrapCopying
)

// BlockRef is one block reference inside a superblock: a column block, a
// delta block, a bloom filter block, or an ad-hoc index block. Wire holds
// the wire-form projection of a BlockId (see BlockId.ToWire); it names a
// remote block until the Superblock Rewriter overwrites it with a locally
// fetched one.
type BlockRef struct {
	Wire []byte
}

// BlockID parses the reference's wire form back into a BlockId.
func (r BlockRef) BlockID() (BlockId, error) {
	return BlockIdFromWire(r.Wire)
}

// SetBlockID overwrites the reference in place with the wire form of id.
func (r *BlockRef) SetBlockID(id BlockId) {
	r.Wire = id.ToWire()
}

// RowsetData is a disk-resident subset of a tablet's rows: base columnar
// data plus delta updates, described here only by the block references it
// contains, not the rows themselves.
type RowsetData struct {
	Columns    []BlockRef
	RedoDeltas []BlockRef
	UndoDeltas []BlockRef
	Bloom      *BlockRef // nil if this rowset has no bloom filter block
	AdHocIndex *BlockRef // nil if this rowset has no ad-hoc index block
}

// NumBlocks returns the number of block references in this rowset.
func (r RowsetData) NumBlocks() int {
	n := len(r.Columns) + len(r.RedoDeltas) + len(r.UndoDeltas)
	if r.Bloom != nil {
		n++
	}
	if r.AdHocIndex != nil {
		n++
	}
	return n
}

// Superblock is the root metadata record describing a tablet's on-disk
// layout: its schema, its rowsets, the WAL segments that make up its log,
// and the consensus state in effect when the superblock was produced.
//
// A RemoteSuperblock is the authoritative description of the tablet as held
// by the remote, received once at session begin and treated as immutable
// thereafter. A LocalSuperblock is a deep copy of a RemoteSuperblock with
// every block identifier replaced by a locally-allocated one and the
// orphaned-blocks list cleared; it is built incrementally by the Superblock
// Rewriter as blocks are fetched.
type Superblock struct {
	TabletID       TabletID
	Schema         []byte
	Rowsets        []RowsetData
	WALSeqNos      []SeqNo
	InitialCState  ConsensusSnapshot
	OrphanedBlocks []BlockRef
	State          RemoteBootstrapState
}

// RemoteSuperblock is the superblock as received from the remote leader at
// session begin. Treat it as read-only; use Clone to produce a working copy.
type RemoteSuperblock = Superblock

// LocalSuperblock is the rewritten superblock, built by the Superblock
// Rewriter and handed to the tablet metadata store in the final swap.
type LocalSuperblock = Superblock

// NumBlocks returns the total number of block references reachable from the
// superblock's rowsets, in traversal order: rowsets in their given order,
// and within each rowset columns, redo deltas, undo deltas, bloom, and
// ad-hoc index.
func (s Superblock) NumBlocks() int {
	n := 0
	for _, rs := range s.Rowsets {
		n += rs.NumBlocks()
	}
	return n
}

// Clone returns a deep copy of s suitable for use as a mutable working copy
// during block-identifier rewriting. Rowset block references and WALSeqNos
// are deep-copied, and OrphanedBlocks is nil in the copy; Schema and
// InitialCState are immutable values and are shared by reference.
func (s Superblock) Clone() Superblock {
	out := s
	out.Rowsets = make([]RowsetData, len(s.Rowsets))
	for i, rs := range s.Rowsets {
		out.Rowsets[i] = rs.clone()
	}
	out.OrphanedBlocks = nil
	out.WALSeqNos = append([]SeqNo(nil), s.WALSeqNos...)
	return out
}

func (r RowsetData) clone() RowsetData {
	out := RowsetData{
		Columns:    cloneRefs(r.Columns),
		RedoDeltas: cloneRefs(r.RedoDeltas),
		UndoDeltas: cloneRefs(r.UndoDeltas),
	}
	if r.Bloom != nil {
		b := *r.Bloom
		out.Bloom = &b
	}
	if r.AdHocIndex != nil {
		a := *r.AdHocIndex
		out.AdHocIndex = &a
	}
	return out
}

func cloneRefs(in []BlockRef) []BlockRef {
	if in == nil {
		return nil
	}
	out := make([]BlockRef, len(in))
	for i, r := range in {
		w := make([]byte, len(r.Wire))
		copy(w, r.Wire)
		out[i] = BlockRef{Wire: w}
	}
	return out
}

// Walk calls visit once per block reference reachable from the superblock,
// in the deterministic traversal order the Superblock Rewriter relies on:
// rowsets in their given order; within each rowset, columns, redo deltas,
// undo deltas, bloom, then ad-hoc index.
func (s *Superblock) Walk(visit func(ref *BlockRef)) {
	for i := range s.Rowsets {
		rs := &s.Rowsets[i]
		for j := range rs.Columns {
			visit(&rs.Columns[j])
		}
		for j := range rs.RedoDeltas {
			visit(&rs.RedoDeltas[j])
		}
		for j := range rs.UndoDeltas {
			visit(&rs.UndoDeltas[j])
		}
		if rs.Bloom != nil {
			visit(rs.Bloom)
		}
		if rs.AdHocIndex != nil {
			visit(rs.AdHocIndex)
		}
	}
}
