// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import "github.com/westerndigitalcorporation/tabletboot/pkg/rpc"

// This file describes the three RPCs the remote bootstrap client issues
// against the remote session-serving service. The service itself (disk
// reading, anchoring, idle-timeout enforcement) is an external collaborator;
// only the wire shapes live here.

// BeginRemoteBootstrapSessionMethod begins a bootstrap session on the remote.
const BeginRemoteBootstrapSessionMethod = "RemoteBootstrapHandler.BeginSession"

// BeginRemoteBootstrapSessionReq is sent to start a session for a tablet.
type BeginRemoteBootstrapSessionReq struct {
	RequestorUUID PeerUUID
	TabletID      TabletID
}

// BeginRemoteBootstrapSessionReply carries everything the client needs to
// drive the rest of the bootstrap: the session handle, the authoritative
// superblock, the WAL segments to fetch, and the consensus state to persist
// before the local superblock swap.
type BeginRemoteBootstrapSessionReply struct {
	Err Error

	SessionID            string
	SessionIdleTimeoutMs int64
	Superblock           RemoteSuperblock
	WALSegmentSeqNos     []SeqNo
	InitialCState        ConsensusSnapshot

	// RemoteErr carries the structured remote-service error extension when
	// Err == ErrRemoteError; see UnwindRemoteError.
	RemoteErr *RemoteError
}

// FetchDataMethod fetches one chunk of one data item within a session.
const FetchDataMethod = "RemoteBootstrapHandler.FetchData"

// FetchDataReq requests up to MaxLength bytes of DataID starting at Offset.
type FetchDataReq struct {
	SessionID string
	DataID    DataItemId
	Offset    uint64
	MaxLength uint64
}

// Chunk is one piece of a transferable data item, as returned by FetchData.
type Chunk struct {
	Offset          uint64
	Data            []byte
	TotalDataLength uint64
	Crc32C          uint32
}

// FetchDataReply carries the fetched chunk.
type FetchDataReply struct {
	Err       Error
	RemoteErr *RemoteError

	Chunk Chunk

	// bExclusive records whether Chunk.Data was exclusively owned by the
	// sender when Get() was called, for the bulk RPC codec.
	bExclusive bool
}

// EndRemoteBootstrapSessionMethod releases a session's remote anchors.
const EndRemoteBootstrapSessionMethod = "RemoteBootstrapHandler.EndSession"

// EndRemoteBootstrapSessionReq ends a previously begun session.
type EndRemoteBootstrapSessionReq struct {
	SessionID string
	IsSuccess bool
}

// EndRemoteBootstrapSessionReply is the (empty) reply to EndSession.
type EndRemoteBootstrapSessionReply struct {
	Err       Error
	RemoteErr *RemoteError
}

// RemoteErrorCode enumerates the service-specific error codes that can ride
// the remote error extension on an RPC error envelope.
type RemoteErrorCode int

const (
	// UnknownError is the zero value; should not appear on the wire.
	UnknownError RemoteErrorCode = iota
	// UnknownTablet means the remote has no record of the requested tablet.
	UnknownTablet
	// NoSuchSession means the session id did not match an active session.
	NoSuchSession
	// InvalidRemoteBootstrapState means the remote rejected the request
	// because of its own bootstrap/tablet state.
	InvalidRemoteBootstrapState
)

var remoteErrorCodeNames = map[RemoteErrorCode]string{
	UnknownError:                "UNKNOWN_ERROR",
	UnknownTablet:               "UNKNOWN_TABLET",
	NoSuchSession:               "NO_SUCH_SESSION",
	InvalidRemoteBootstrapState: "INVALID_REMOTE_BOOTSTRAP_STATE",
}

// String returns the wire name of the error code, as it would appear in a
// remote service's diagnostic text.
func (c RemoteErrorCode) String() string {
	if s, ok := remoteErrorCodeNames[c]; ok {
		return s
	}
	return "UNKNOWN_ERROR"
}

// RemoteError is the structured service-specific error extension that can
// ride the generic RPC error envelope: (code, status). It is decoded by
// UnwindRemoteError and its text appended to the caller's error message.
type RemoteError struct {
	Code    RemoteErrorCode
	Status  Error
	Message string
}

// The following implement the rpc.BulkData interface so that large chunk
// payloads avoid an extra copy through gob:
func (r *FetchDataReply) Get() ([]byte, bool) {
	b := r.Chunk.Data
	r.Chunk.Data = nil
	return b, r.bExclusive
}
func (r *FetchDataReply) Set(b []byte, e bool) { r.Chunk.Data, r.bExclusive = b, e }

var (
	// Assert that this implements rpc.BulkData.
	_ rpc.BulkData = (*FetchDataReply)(nil)
)
