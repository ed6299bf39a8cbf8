// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"time"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

// Phase is where a Session sits in its lifecycle.
type Phase int

const (
	// NoSession means Begin has not yet been called, or failed.
	NoSession Phase = iota
	// SessionStarted means Begin succeeded and End has not yet been called.
	SessionStarted
	// SessionEnded means End has completed; the session must not be reused.
	SessionEnded
)

// StatusListener receives human-readable progress strings during a
// bootstrap. Callers that don't care about progress reporting may leave it
// nil; every call site in this package tolerates its absence.
type StatusListener interface {
	UpdateStatus(message string)
}

// Session drives the three-RPC session protocol (begin, fetch*, end) against
// a single remote leader replica, tracking the session id and phase needed
// to keep later calls well-formed.
type Session struct {
	proxy   Proxy
	localID core.PeerUUID

	beginTimeout time.Duration

	phase     Phase
	sessionID string
	listener  StatusListener
}

// NewSession returns a Session that will issue RPCs through proxy and report
// progress to listener. beginTimeout bounds BeginSession and EndSession; zero
// selects core.DefaultBeginSessionTimeout.
func NewSession(proxy Proxy, beginTimeout time.Duration, listener StatusListener) *Session {
	if beginTimeout <= 0 {
		beginTimeout = core.DefaultBeginSessionTimeout
	}
	return &Session{proxy: proxy, beginTimeout: beginTimeout, listener: listener}
}

// updateStatus reports message to the configured listener, if any, with the
// component prefix the remote bootstrap client always uses.
func (s *Session) updateStatus(message string) {
	if s.listener != nil {
		s.listener.UpdateStatus("RemoteBootstrap: " + message)
	}
}

// ResolveLeader picks the peer to bootstrap from out of snap: the peer whose
// permanent uuid matches the snapshot's current leader. It fails with
// ErrNotFound if there is no known leader or no configured peer matches, and
// ErrInvalidArgument if the matched peer has no usable address.
func ResolveLeader(snap core.ConsensusSnapshot) (core.RaftPeer, error) {
	peer, ok := snap.FindLeader()
	if !ok {
		return core.RaftPeer{}, core.Errorf(core.ErrNotFound, "No leader found in config")
	}
	if peer.LastKnownAddress == "" {
		return core.RaftPeer{}, core.Errorf(core.ErrInvalidArgument, "leader %s has no known address", peer.PermanentUUID)
	}
	return peer, nil
}

// Begin starts a session for tabletID, requested as localID, against
// whichever replica the Session's Proxy targets. The replica's own
// superblock must show REMOTE_BOOTSTRAP_DONE: if it is itself mid-bootstrap
// (REMOTE_BOOTSTRAP_COPYING), it is not a valid source to copy from, and
// Begin fails ErrIllegalState without advancing the phase.
func (s *Session) Begin(ctx context.Context, tabletID core.TabletID, localID core.PeerUUID) (core.BeginRemoteBootstrapSessionReply, error) {
	var reply core.BeginRemoteBootstrapSessionReply

	s.updateStatus("Beginning remote bootstrap session")
	bctx, cancel := context.WithTimeout(ctx, s.beginTimeout)
	defer cancel()

	reply, err := s.proxy.BeginSession(bctx, core.BeginRemoteBootstrapSessionReq{
		RequestorUUID: localID,
		TabletID:      tabletID,
	})
	if err != nil {
		return reply, wrapBeginError(err)
	}
	if err := replyErr(reply.Err, reply.RemoteErr); err != nil {
		return reply, wrapBeginError(err)
	}
	if reply.Superblock.State != core.RemoteBootstrapDone {
		return reply, core.Errorf(core.ErrIllegalState, "Unable to begin remote bootstrap session: remote tablet %s is itself mid-bootstrap (state %v)", tabletID, reply.Superblock.State)
	}

	s.localID = localID
	s.sessionID = reply.SessionID
	s.phase = SessionStarted
	s.updateStatus("Session " + reply.SessionID + " established")
	return reply, nil
}

// wrapBeginError prepends the "Unable to begin remote bootstrap session"
// context to err while preserving its underlying core.Error kind, so callers
// can still distinguish e.g. a RemoteError-derived status from a plain one.
func wrapBeginError(err error) error {
	e, ok := core.AsError(err)
	if !ok {
		return core.Errorf(core.ErrIO, "Unable to begin remote bootstrap session: %v", err)
	}
	return core.Errorf(e, "Unable to begin remote bootstrap session: %v", err)
}

// idleTimeout returns the idle timeout the remote granted for a session, as
// supplied on Begin's reply.
func idleTimeout(reply core.BeginRemoteBootstrapSessionReply) time.Duration {
	return time.Duration(reply.SessionIdleTimeoutMs) * time.Millisecond
}

// SessionID returns the id assigned by Begin. Valid only once the session
// has entered SessionStarted.
func (s *Session) SessionID() string { return s.sessionID }

// Phase returns the session's current lifecycle phase.
func (s *Session) Phase() Phase { return s.phase }

// UpdateStatus reports message to the configured listener with the session's
// standard prefix, for callers outside this package that share one
// Session's listener.
func (s *Session) UpdateStatus(message string) { s.updateStatus(message) }

// End releases the session's remote anchors. isSuccess tells the remote
// whether the bootstrap completed; it does not affect what End itself does
// locally, since the local swap has already happened (or not) by the time
// End is called.
func (s *Session) End(ctx context.Context, isSuccess bool) error {
	if s.phase != SessionStarted {
		return core.Errorf(core.ErrIllegalState, "EndSession called with no active session")
	}

	ectx, cancel := context.WithTimeout(ctx, s.beginTimeout)
	defer cancel()
	reply, err := s.proxy.EndSession(ectx, core.EndRemoteBootstrapSessionReq{
		SessionID: s.sessionID,
		IsSuccess: isSuccess,
	})
	s.phase = SessionEnded
	if err != nil {
		return err
	}
	return replyErr(reply.Err, reply.RemoteErr)
}
