// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package remotebootstrap implements the remote tablet bootstrap client: the
// session state machine, chunked fetch protocol, local materialization, and
// the orchestrator that sequences them into one bootstrap run. The remote
// session-serving service on the other end of the wire, the tablet metadata
// store's persistence internals, and cluster-membership/leader-resolution
// machinery are all external collaborators, out of scope here.
package remotebootstrap

import (
	"context"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/rpc"
)

// Proxy is everything the bootstrap client needs from the remote
// session-serving service.
type Proxy interface {
	BeginSession(ctx context.Context, req core.BeginRemoteBootstrapSessionReq) (core.BeginRemoteBootstrapSessionReply, error)
	FetchData(ctx context.Context, req core.FetchDataReq) (core.FetchDataReply, error)
	EndSession(ctx context.Context, req core.EndRemoteBootstrapSessionReq) (core.EndRemoteBootstrapSessionReply, error)
}

// RemoteProxy is the real Proxy, issuing RPCs against a single fixed address
// (the leader replica resolved by the caller) over a shared ConnectionCache.
type RemoteProxy struct {
	cc   *rpc.ConnectionCache
	addr string
}

// NewRemoteProxy returns a Proxy that sends every RPC to addr.
func NewRemoteProxy(cc *rpc.ConnectionCache, addr string) *RemoteProxy {
	return &RemoteProxy{cc: cc, addr: addr}
}

// BeginSession implements Proxy.
func (p *RemoteProxy) BeginSession(ctx context.Context, req core.BeginRemoteBootstrapSessionReq) (core.BeginRemoteBootstrapSessionReply, error) {
	var reply core.BeginRemoteBootstrapSessionReply
	err := p.cc.Send(ctx, p.addr, core.BeginRemoteBootstrapSessionMethod, &req, &reply)
	return reply, translateTransportErr(err)
}

// FetchData implements Proxy.
func (p *RemoteProxy) FetchData(ctx context.Context, req core.FetchDataReq) (core.FetchDataReply, error) {
	var reply core.FetchDataReply
	err := p.cc.Send(ctx, p.addr, core.FetchDataMethod, &req, &reply)
	return reply, translateTransportErr(err)
}

// EndSession implements Proxy.
func (p *RemoteProxy) EndSession(ctx context.Context, req core.EndRemoteBootstrapSessionReq) (core.EndRemoteBootstrapSessionReply, error) {
	var reply core.EndRemoteBootstrapSessionReply
	err := p.cc.Send(ctx, p.addr, core.EndRemoteBootstrapSessionMethod, &req, &reply)
	return reply, translateTransportErr(err)
}

// translateTransportErr maps a transport-level failure (dial failure,
// connection reset, deadline exceeded) to a classifiable core error. RPCs
// that reach the remote and come back with a reply-level core.Error are not
// translated here; see UnwindRemoteError.
func translateTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded {
		return core.ErrTimedOut.Error()
	}
	return core.Errorf(core.ErrNetworkError, "remote bootstrap RPC failed: %v", err)
}

// UnwindRemoteError turns a reply carrying Err == core.ErrRemoteError into a
// single error describing the remote service's structured complaint. It
// fails with ErrInvalidArgument if remoteErr is nil: the remote signalled a
// structured error but the extension carrying its detail didn't make it
// across the wire.
func UnwindRemoteError(remoteErr *core.RemoteError) error {
	if remoteErr == nil {
		return core.Errorf(core.ErrInvalidArgument, "Unable to decode remote bootstrap RPC error message")
	}
	return core.Errorf(remoteErr.Status, "Received error code %v from remote service: %s", remoteErr.Code, remoteErr.Message)
}

// replyErr converts a reply's Err/RemoteErr pair into a single error, or nil
// if the reply indicates success. Shared by every call site that issues an
// RPC and then inspects its reply-level status.
func replyErr(e core.Error, remoteErr *core.RemoteError) error {
	switch e {
	case core.NoError:
		return nil
	case core.ErrRemoteError:
		return UnwindRemoteError(remoteErr)
	default:
		return e.Error()
	}
}
