// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"fmt"
	"time"

	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/internal/server"
	"github.com/westerndigitalcorporation/tabletboot/internal/tablet"
	"github.com/westerndigitalcorporation/tabletboot/pkg/slices"
)

// OpFailureKey is the operation name under which a bootstrap fault can be
// injected via the failure service: a registered error is returned in place
// of whatever BeginSession would otherwise have done, before anything is
// written to disk.
const OpFailureKey = "remote_bootstrap"

// MetadataStore is what the orchestrator needs from the tablet metadata
// store: reading the precondition state and performing the atomic swap that
// is the bootstrap's commit point.
type MetadataStore interface {
	Get(id core.TabletID) (core.Superblock, core.Error)
	ReplaceSuperblock(local core.LocalSuperblock) core.Error
}

// Orchestrator sequences the session, fetch, and materialization
// collaborators into one bootstrap run for a single tablet: begin session,
// download WAL segments, download and rewrite blocks, persist consensus
// metadata, swap the superblock, end session — strictly in that order.
type Orchestrator struct {
	Proxy    Proxy
	Blocks   blockstore.Manager
	WAL      *tablet.WALStore
	Meta     MetadataStore
	Cstate   *tablet.ConsensusStore
	Listener StatusListener

	// BeginTimeout bounds BeginSession/EndSession; zero selects
	// core.DefaultBeginSessionTimeout.
	BeginTimeout time.Duration

	// MaxChunkLength bounds every FetchData request; it should already have
	// the transport's header margin subtracted out (core.RPCHeaderMargin).
	MaxChunkLength uint64

	// ThrottleBytesPerSec, if non-zero, bounds the rate at which the fetcher
	// pulls chunk data, so one bootstrap cannot saturate the link to the
	// remote replica.
	ThrottleBytesPerSec float32

	// Locks serializes concurrent Run calls for the same tablet, if set.
	Locks server.LockManager

	// Metrics tracks bootstrap counts and latencies under the "tablet" label,
	// if set.
	Metrics *server.OpMetric

	// Failures is consulted for an injected fault after the lock and metric
	// start and before any RPC or disk I/O, if set.
	Failures *server.OpFailure
}

// Run executes one full bootstrap of tabletID as localID. It fatally aborts
// the process if the tablet's current superblock is not in
// REMOTE_BOOTSTRAP_COPYING state when called: that precondition must already
// hold by the time an orchestrator is started, and proceeding past it would
// silently corrupt a tablet that is not actually mid-bootstrap.
func (o *Orchestrator) Run(ctx context.Context, tabletID core.TabletID, localID core.PeerUUID) (err error) {
	attempt := core.GenRequestID()
	log.Infof("remote bootstrap: attempt %s starting for tablet %s as %s", attempt, tabletID, localID)
	defer func() {
		if err != nil {
			log.Errorf("remote bootstrap: attempt %s for tablet %s failed: %v", attempt, tabletID, err)
		} else {
			log.Infof("remote bootstrap: attempt %s for tablet %s succeeded", attempt, tabletID)
		}
	}()

	if o.Locks != nil {
		o.Locks.LockTablet(tabletID)
		defer o.Locks.UnlockTablet(tabletID)
	}

	if o.Metrics != nil {
		op := o.Metrics.Start(string(tabletID))
		defer func() {
			if err != nil {
				op.Failed()
			}
			op.End()
		}()
	}

	if o.Failures != nil {
		if failErr := o.Failures.Get(OpFailureKey); failErr != core.NoError {
			return failErr.Error()
		}
	}

	current, cerr := o.Meta.Get(tabletID)
	if cerr != core.NoError {
		return cerr.Error()
	}
	if current.State != core.RemoteBootstrapCopying {
		log.Fatalf("remote bootstrap: tablet %s superblock is not REMOTE_BOOTSTRAP_COPYING (got %v); aborting", tabletID, current.State)
	}

	session := NewSession(o.Proxy, o.BeginTimeout, o.Listener)
	reply, err := session.Begin(ctx, tabletID, localID)
	if err != nil {
		return err
	}

	fetcher := NewFetcher(o.Proxy, o.MaxChunkLength)
	if o.ThrottleBytesPerSec > 0 {
		fetcher.Throttle(o.ThrottleBytesPerSec, o.ThrottleBytesPerSec)
	}
	idle := idleTimeout(reply)

	if err := o.downloadWALs(ctx, fetcher, session.SessionID(), idle, tabletID, reply.WALSegmentSeqNos); err != nil {
		o.endQuietly(ctx, session, false)
		return err
	}

	local, err := RewriteSuperblock(ctx, fetcher, session.SessionID(), idle, o.Blocks, reply.Superblock, o.Listener)
	if err != nil {
		o.endQuietly(ctx, session, false)
		return err
	}
	local.TabletID = tabletID

	var peerUUIDs []string
	for _, p := range reply.InitialCState.Config.Peers {
		peerUUIDs = append(peerUUIDs, string(p.PermanentUUID))
	}
	if !slices.ContainsString(peerUUIDs, string(localID)) {
		o.endQuietly(ctx, session, false)
		return core.Errorf(core.ErrInvalidArgument, "local peer %s is not a member of the consensus configuration returned for tablet %s", localID, tabletID)
	}

	meta := core.ConsensusMetadata{
		TabletID:  tabletID,
		LocalUUID: localID,
		Config:    reply.InitialCState.Config,
		Term:      reply.InitialCState.CurrentTerm,
	}
	if err := o.Cstate.Write(meta); err != nil {
		o.endQuietly(ctx, session, false)
		return core.Errorf(core.ErrIO, "writing consensus metadata: %v", err)
	}

	if cerr := o.Meta.ReplaceSuperblock(local); cerr != core.NoError {
		o.endQuietly(ctx, session, false)
		return cerr.Error()
	}

	// The tablet is live under its new superblock from this point on. A
	// failure ending the session now is logged but does not invalidate it.
	if err := session.End(ctx, true); err != nil {
		log.Errorf("remote bootstrap: EndSession for tablet %s, session %s failed after a successful swap: %v", tabletID, session.SessionID(), err)
	}
	return nil
}

func (o *Orchestrator) downloadWALs(ctx context.Context, fetcher *Fetcher, sessionID string, idle time.Duration, tabletID core.TabletID, seqnos []core.SeqNo) error {
	if err := o.WAL.ResetDir(tabletID); err != nil {
		return core.Errorf(core.ErrIO, "resetting WAL directory for tablet %s: %v", tabletID, err)
	}
	for i, seq := range seqnos {
		reportStatus(o.Listener, fmt.Sprintf("Downloading WAL segment with seq. number %d (%d/%d)", seq, i+1, len(seqnos)))

		sink, err := o.WAL.OpenSegment(tabletID, seq)
		if err != nil {
			return core.Errorf(core.ErrIO, "opening WAL segment %d: %v", seq, err)
		}
		if err := fetcher.Fetch(ctx, sessionID, core.WalSegmentDataItem(seq), idle, sink); err != nil {
			sink.Abandon()
			return err
		}
		if err := sink.Close(); err != nil {
			return core.Errorf(core.ErrIO, "closing WAL segment %d: %v", seq, err)
		}
	}
	return nil
}

// endQuietly issues EndSession(is_success=false) on a local-error path and
// logs, rather than returns, any failure doing so: the original error from
// the failed step is what the caller should see.
func (o *Orchestrator) endQuietly(ctx context.Context, session *Session, success bool) {
	if session.Phase() != SessionStarted {
		return
	}
	if err := session.End(ctx, success); err != nil {
		log.Errorf("remote bootstrap: EndSession(is_success=%v) for session %s: %v", success, session.SessionID(), err)
	}
}
