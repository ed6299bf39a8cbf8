// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

type scriptedSessionProxy struct {
	beginReply core.BeginRemoteBootstrapSessionReply
	beginErr   error
	endReply   core.EndRemoteBootstrapSessionReply
	endErr     error
	endReq     core.EndRemoteBootstrapSessionReq
}

func (p *scriptedSessionProxy) BeginSession(context.Context, core.BeginRemoteBootstrapSessionReq) (core.BeginRemoteBootstrapSessionReply, error) {
	return p.beginReply, p.beginErr
}
func (p *scriptedSessionProxy) FetchData(context.Context, core.FetchDataReq) (core.FetchDataReply, error) {
	panic("not used by session tests")
}
func (p *scriptedSessionProxy) EndSession(ctx context.Context, req core.EndRemoteBootstrapSessionReq) (core.EndRemoteBootstrapSessionReply, error) {
	p.endReq = req
	return p.endReply, p.endErr
}

func TestResolveLeaderNoLeaderKnown(t *testing.T) {
	snap := core.ConsensusSnapshot{Config: core.RaftConfig{Peers: []core.RaftPeer{
		{PermanentUUID: "p1", LastKnownAddress: "h1:1"},
	}}}
	_, err := ResolveLeader(snap)
	if e, ok := core.AsError(err); !ok || e != core.ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestResolveLeaderNoMatchingPeer(t *testing.T) {
	snap := core.ConsensusSnapshot{
		Config:     core.RaftConfig{Peers: []core.RaftPeer{{PermanentUUID: "p1", LastKnownAddress: "h1:1"}}},
		LeaderUUID: "p2",
	}
	_, err := ResolveLeader(snap)
	if e, ok := core.AsError(err); !ok || e != core.ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestResolveLeaderNoAddress(t *testing.T) {
	snap := core.ConsensusSnapshot{
		Config:     core.RaftConfig{Peers: []core.RaftPeer{{PermanentUUID: "p1"}}},
		LeaderUUID: "p1",
	}
	_, err := ResolveLeader(snap)
	if e, ok := core.AsError(err); !ok || e != core.ErrInvalidArgument {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestResolveLeaderSuccess(t *testing.T) {
	snap := core.ConsensusSnapshot{
		Config: core.RaftConfig{Peers: []core.RaftPeer{
			{PermanentUUID: "p1", LastKnownAddress: "h1:1"},
			{PermanentUUID: "p2", LastKnownAddress: "h2:2"},
		}},
		LeaderUUID: "p2",
	}
	peer, err := ResolveLeader(snap)
	if err != nil {
		t.Fatalf("ResolveLeader: %v", err)
	}
	if peer.PermanentUUID != "p2" || peer.LastKnownAddress != "h2:2" {
		t.Fatalf("peer = %+v", peer)
	}
}

func TestSessionBeginRemoteIllegalState(t *testing.T) {
	proxy := &scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{Err: core.ErrIllegalState}}
	s := NewSession(proxy, time.Second, nil)
	_, err := s.Begin(context.Background(), core.TabletID("t1"), core.PeerUUID("me"))
	if e, ok := core.AsError(err); !ok || e != core.ErrIllegalState {
		t.Fatalf("error = %v, want ErrIllegalState", err)
	}
	if s.Phase() != NoSession {
		t.Fatalf("phase = %v, want NoSession after a failed Begin", s.Phase())
	}
}

func TestSessionBeginRemoteErrorIsWrappedAndUnwound(t *testing.T) {
	proxy := &scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{
		Err: core.ErrRemoteError,
		RemoteErr: &core.RemoteError{
			Code:    core.UnknownTablet,
			Status:  core.ErrNotFound,
			Message: "no such tablet",
		},
	}}
	s := NewSession(proxy, time.Second, nil)
	_, err := s.Begin(context.Background(), core.TabletID("t1"), core.PeerUUID("me"))
	if err == nil {
		t.Fatalf("expected an error")
	}
	if e, ok := core.AsError(err); !ok || e != core.ErrNotFound {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	msg := err.Error()
	const prefix = "Unable to begin remote bootstrap session"
	if len(msg) < len(prefix) || msg[:len(prefix)] != prefix {
		t.Fatalf("error = %q, want prefix %q", msg, prefix)
	}
	if !strings.Contains(msg, "Received error code UNKNOWN_TABLET from remote service") || !strings.Contains(msg, "no such tablet") {
		t.Fatalf("error = %q, missing unwound remote detail", msg)
	}
}

func TestSessionBeginLeaderMidBootstrapFailsIllegalState(t *testing.T) {
	proxy := &scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{
		Superblock: core.RemoteSuperblock{State: core.RemoteBootstrapCopying},
	}}
	s := NewSession(proxy, time.Second, nil)
	_, err := s.Begin(context.Background(), core.TabletID("t1"), core.PeerUUID("me"))
	if e, ok := core.AsError(err); !ok || e != core.ErrIllegalState {
		t.Fatalf("error = %v, want ErrIllegalState", err)
	}
	if s.Phase() != NoSession {
		t.Fatalf("phase = %v, want NoSession after a failed Begin", s.Phase())
	}
}

func TestSessionBeginSuccessThenEnd(t *testing.T) {
	proxy := &scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{SessionID: "sess-1"}}
	s := NewSession(proxy, time.Second, nil)
	reply, err := s.Begin(context.Background(), core.TabletID("t1"), core.PeerUUID("me"))
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if reply.SessionID != "sess-1" || s.SessionID() != "sess-1" || s.Phase() != SessionStarted {
		t.Fatalf("unexpected post-Begin state: %+v phase=%v", reply, s.Phase())
	}

	if err := s.End(context.Background(), true); err != nil {
		t.Fatalf("End: %v", err)
	}
	if s.Phase() != SessionEnded {
		t.Fatalf("phase = %v, want SessionEnded", s.Phase())
	}
	if !proxy.endReq.IsSuccess || proxy.endReq.SessionID != "sess-1" {
		t.Fatalf("EndSession request = %+v", proxy.endReq)
	}
}

func TestSessionEndWithoutActiveSessionFails(t *testing.T) {
	s := NewSession(&scriptedSessionProxy{}, time.Second, nil)
	err := s.End(context.Background(), true)
	if e, ok := core.AsError(err); !ok || e != core.ErrIllegalState {
		t.Fatalf("error = %v, want ErrIllegalState", err)
	}
}

type recordingListener struct {
	messages []string
}

func (l *recordingListener) UpdateStatus(msg string) {
	l.messages = append(l.messages, msg)
}

func TestSessionStatusPrefixedAndTolerant(t *testing.T) {
	// A nil listener must not panic.
	s := NewSession(&scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{SessionID: "s"}}, time.Second, nil)
	if _, err := s.Begin(context.Background(), core.TabletID("t"), core.PeerUUID("me")); err != nil {
		t.Fatalf("Begin with nil listener: %v", err)
	}

	l := &recordingListener{}
	s2 := NewSession(&scriptedSessionProxy{beginReply: core.BeginRemoteBootstrapSessionReply{SessionID: "s"}}, time.Second, l)
	if _, err := s2.Begin(context.Background(), core.TabletID("t"), core.PeerUUID("me")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, m := range l.messages {
		if len(m) < len("RemoteBootstrap: ") || m[:len("RemoteBootstrap: ")] != "RemoteBootstrap: " {
			t.Fatalf("status message missing prefix: %q", m)
		}
	}
	if len(l.messages) == 0 {
		t.Fatalf("expected at least one status message")
	}
}
