// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"hash/crc32"
	"time"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
	"github.com/westerndigitalcorporation/tabletboot/pkg/tokenbucket"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Fetcher pulls one data item (a WAL segment or a block) from the remote in
// a sequence of bounded chunks and appends each to a local sink, verifying
// the wire-level invariants along the way: a chunk must start exactly where
// the running total left off, and its checksum must verify.
type Fetcher struct {
	proxy Proxy

	// maxChunkLength is M in the fetch protocol: the largest payload asked
	// for per RPC, already reduced by the transport's header margin.
	maxChunkLength uint64

	// throttle bounds how fast chunk bytes are pulled, if set. A nil
	// throttle means unbounded.
	throttle *tokenbucket.TokenBucket
}

// NewFetcher returns a Fetcher issuing RPCs through proxy, requesting at most
// maxChunkLength bytes per FetchData call.
func NewFetcher(proxy Proxy, maxChunkLength uint64) *Fetcher {
	return &Fetcher{proxy: proxy, maxChunkLength: maxChunkLength}
}

// Throttle bounds the rate, in bytes per second, at which Fetch pulls chunk
// data, with capacity burst headroom. It must be called before Fetch starts.
func (f *Fetcher) Throttle(bytesPerSecond, burst float32) {
	f.throttle = tokenbucket.New(bytesPerSecond, burst)
}

// Fetch downloads dataID in full, appending each verified chunk to sink. It
// stops as soon as the running offset reaches the item's total length, which
// may be zero (in which case a single, empty chunk is still fetched and
// verified). Each RPC is bounded by idleTimeout; there is no overall deadline
// and no retry of a failed chunk within this call.
func (f *Fetcher) Fetch(ctx context.Context, sessionID string, dataID core.DataItemId, idleTimeout time.Duration, sink blockstore.Sink) error {
	var offset uint64
	for {
		rctx, cancel := context.WithTimeout(ctx, idleTimeout)
		reply, err := f.proxy.FetchData(rctx, core.FetchDataReq{
			SessionID: sessionID,
			DataID:    dataID,
			Offset:    offset,
			MaxLength: f.maxChunkLength,
		})
		cancel()
		if err != nil {
			return err
		}
		if err := replyErr(reply.Err, reply.RemoteErr); err != nil {
			return err
		}

		chunk := reply.Chunk
		if chunk.Offset != offset {
			return core.Errorf(core.ErrInvalidArgument, "%d vs %d", offset, chunk.Offset)
		}
		if got := crc32.Checksum(chunk.Data, crcTable); got != chunk.Crc32C {
			return core.Errorf(core.ErrCorruption, "chunk at offset %d of %s failed checksum verification: got crc32c %d, want %d", offset, dataID, got, chunk.Crc32C)
		}
		if offset+uint64(len(chunk.Data)) > chunk.TotalDataLength {
			return core.Errorf(core.ErrInvalidArgument, "chunk of %s overruns its reported total length %d", dataID, chunk.TotalDataLength)
		}

		if len(chunk.Data) > 0 {
			if err := sink.Append(chunk.Data); err != nil {
				return err
			}
			if f.throttle != nil {
				f.throttle.Take(float32(len(chunk.Data)))
			}
		}
		offset += uint64(len(chunk.Data))

		if offset == chunk.TotalDataLength {
			return nil
		}
	}
}
