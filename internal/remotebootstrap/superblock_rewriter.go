// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

// RewriteSuperblock walks remote's block references in deterministic
// traversal order, fetches each block's contents through fetcher into a
// freshly allocated local block, and overwrites the reference with the
// local block's id. It returns a LocalSuperblock with every reference
// rewritten and OrphanedBlocks cleared: the remote's own orphan list names
// blocks on the remote side, which have no local counterpart to preserve.
func RewriteSuperblock(ctx context.Context, fetcher *Fetcher, sessionID string, idleTimeout time.Duration, mgr blockstore.Manager, remote core.RemoteSuperblock, listener StatusListener) (core.LocalSuperblock, error) {
	local := remote.Clone()
	total := remote.NumBlocks()
	done := 0

	var walkErr error
	local.Walk(func(ref *core.BlockRef) {
		if walkErr != nil {
			return
		}
		remoteID, err := ref.BlockID()
		if err != nil {
			walkErr = core.Errorf(core.ErrCorruption, "superblock contains an invalid remote block id: %v", err)
			return
		}

		sink, localID, err := mgr.CreateBlock()
		if err != nil {
			walkErr = err
			return
		}

		done++
		reportStatus(listener, fmt.Sprintf("Downloading block %s (%d/%d)", remoteID, done, total))

		if err := fetcher.Fetch(ctx, sessionID, core.BlockDataItem(remoteID), idleTimeout, sink); err != nil {
			sink.Abandon()
			walkErr = err
			return
		}
		if err := sink.Close(); err != nil {
			walkErr = err
			return
		}

		ref.SetBlockID(localID)
	})
	if walkErr != nil {
		return core.LocalSuperblock{}, walkErr
	}

	local.OrphanedBlocks = nil
	return local, nil
}

func reportStatus(listener StatusListener, message string) {
	if listener != nil {
		listener.UpdateStatus("RemoteBootstrap: " + message)
	}
}
