// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tablet

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/disk"
)

func tempDir(t *testing.T) string {
	d, err := ioutil.TempDir("", "tablet_test")
	if err != nil {
		t.Fatalf("TempDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(d) })
	return d
}

func TestWALStoreResetAndSegments(t *testing.T) {
	root := tempDir(t)
	w := NewWALStore(root)
	id := core.TabletID("t1")

	if err := w.ResetDir(id); err != nil {
		t.Fatalf("ResetDir: %v", err)
	}

	stray := filepath.Join(w.walDir(id), "stray.txt")
	if err := ioutil.WriteFile(stray, []byte("x"), 0644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	// A second ResetDir (as happens at the start of a repeated bootstrap
	// attempt) must clear out anything left by a prior attempt.
	if err := w.ResetDir(id); err != nil {
		t.Fatalf("ResetDir (again): %v", err)
	}
	if _, err := os.Stat(stray); !os.IsNotExist(err) {
		t.Fatalf("stray file survived ResetDir")
	}

	sink, err := w.OpenSegment(id, core.SeqNo(1))
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	if err := sink.Append([]byte("segment-1-contents")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Opening the same sequence number again must fail: OpenSegment creates
	// exclusively.
	if _, err := w.OpenSegment(id, core.SeqNo(1)); err == nil {
		t.Fatalf("expected error reopening existing segment")
	}

	// Segments are stored as checksummed files, so read the data back
	// through disk.ChecksumFile rather than as raw bytes.
	cf, err := disk.NewChecksumFile(filepath.Join(w.walDir(id), "00000000000000000001.wal"), os.O_RDONLY)
	if err != nil {
		t.Fatalf("open segment file: %v", err)
	}
	defer cf.Close()
	size, err := cf.Size()
	if err != nil {
		t.Fatalf("segment size: %v", err)
	}
	data := make([]byte, size)
	if _, err := cf.ReadAt(data, 0); err != nil {
		t.Fatalf("read segment file: %v", err)
	}
	if string(data) != "segment-1-contents" {
		t.Fatalf("segment contents = %q", data)
	}
}

func TestWALStoreAbandonRemovesFile(t *testing.T) {
	root := tempDir(t)
	w := NewWALStore(root)
	id := core.TabletID("t2")
	if err := w.ResetDir(id); err != nil {
		t.Fatalf("ResetDir: %v", err)
	}

	sink, err := w.OpenSegment(id, core.SeqNo(5))
	if err != nil {
		t.Fatalf("OpenSegment: %v", err)
	}
	sink.Append([]byte("partial"))
	sink.Abandon()

	entries, err := ioutil.ReadDir(w.walDir(id))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files after Abandon, got %v", entries)
	}
}

func TestMetadataStoreReplaceSuperblockIsAtomic(t *testing.T) {
	root := tempDir(t)
	store, err := OpenMetadataStore(filepath.Join(root, "meta.db"))
	if err != nil {
		t.Fatalf("OpenMetadataStore: %v", err)
	}
	defer store.Close()

	id := core.TabletID("tablet-a")
	initial := core.Superblock{TabletID: id, State: core.RemoteBootstrapCopying}
	if err := store.Seed(initial); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	got, cerr := store.Get(id)
	if cerr != core.NoError {
		t.Fatalf("Get: %v", cerr)
	}
	if got.State != core.RemoteBootstrapCopying {
		t.Fatalf("State = %v, want RemoteBootstrapCopying", got.State)
	}

	local := initial.Clone()
	local.Rowsets = []core.RowsetData{{Columns: []core.BlockRef{{Wire: []byte{1, 2, 3}}}}}
	if cerr := store.ReplaceSuperblock(local); cerr != core.NoError {
		t.Fatalf("ReplaceSuperblock: %v", cerr)
	}

	got, cerr = store.Get(id)
	if cerr != core.NoError {
		t.Fatalf("Get after replace: %v", cerr)
	}
	if got.State != core.RemoteBootstrapDone {
		t.Fatalf("State after replace = %v, want RemoteBootstrapDone", got.State)
	}
	if len(got.Rowsets) != 1 || len(got.Rowsets[0].Columns) != 1 {
		t.Fatalf("rowsets not persisted: %+v", got.Rowsets)
	}
}

func TestMetadataStoreGetMissing(t *testing.T) {
	root := tempDir(t)
	store, err := OpenMetadataStore(filepath.Join(root, "meta.db"))
	if err != nil {
		t.Fatalf("OpenMetadataStore: %v", err)
	}
	defer store.Close()

	if _, cerr := store.Get(core.TabletID("nope")); cerr != core.ErrNotFound {
		t.Fatalf("Get on missing tablet = %v, want ErrNotFound", cerr)
	}
}

func TestConsensusStoreWriteRead(t *testing.T) {
	root := tempDir(t)
	store := NewConsensusStore(root)

	meta := core.ConsensusMetadata{
		TabletID:  core.TabletID("t1"),
		LocalUUID: core.PeerUUID("uuid-1"),
		Config: core.RaftConfig{Peers: []core.RaftPeer{
			{PermanentUUID: "uuid-1", LastKnownAddress: "host1:1234"},
			{PermanentUUID: "uuid-2", LastKnownAddress: "host2:1234"},
		}},
		Term: 7,
	}
	if err := store.Write(meta); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(meta.TabletID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Term != 7 || got.LocalUUID != "uuid-1" || len(got.Config.Peers) != 2 {
		t.Fatalf("Read returned %+v", got)
	}

	// A second write (as happens on a repeated bootstrap attempt) replaces
	// the prior record rather than merging with it.
	meta.Term = 8
	if err := store.Write(meta); err != nil {
		t.Fatalf("Write (again): %v", err)
	}
	got, err = store.Read(meta.TabletID)
	if err != nil {
		t.Fatalf("Read after second write: %v", err)
	}
	if got.Term != 8 {
		t.Fatalf("Term after second write = %d, want 8", got.Term)
	}
}
