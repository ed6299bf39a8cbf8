// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package remotebootstrap

import (
	"context"
	"hash/crc32"
	"testing"
	"time"

	"github.com/westerndigitalcorporation/tabletboot/internal/blockstore"
	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

// scriptedProxy replays a fixed sequence of FetchDataReply values, one per
// call, ignoring everything else about the request. It lets fetcher tests
// drive exact wire-level scenarios (corrupt chunk, skewed offset) without a
// real remote.
type scriptedProxy struct {
	replies []core.FetchDataReply
	errs    []error
	calls   int
}

func (p *scriptedProxy) BeginSession(context.Context, core.BeginRemoteBootstrapSessionReq) (core.BeginRemoteBootstrapSessionReply, error) {
	panic("not used by fetcher tests")
}
func (p *scriptedProxy) EndSession(context.Context, core.EndRemoteBootstrapSessionReq) (core.EndRemoteBootstrapSessionReply, error) {
	panic("not used by fetcher tests")
}

func (p *scriptedProxy) FetchData(ctx context.Context, req core.FetchDataReq) (core.FetchDataReply, error) {
	i := p.calls
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], err
	}
	return core.FetchDataReply{}, err
}

func chunkOf(offset uint64, data []byte, total uint64) core.Chunk {
	return core.Chunk{
		Offset:          offset,
		Data:            data,
		TotalDataLength: total,
		Crc32C:          crc32.Checksum(data, crcTable),
	}
}

func TestFetcherHappyPathMultiChunk(t *testing.T) {
	proxy := &scriptedProxy{replies: []core.FetchDataReply{
		{Chunk: chunkOf(0, []byte("hello "), 11)},
		{Chunk: chunkOf(6, []byte("world"), 11)},
	}}
	f := NewFetcher(proxy, 6)
	mgr := blockstore.NewMemManager()
	sink, id, err := mgr.CreateBlock()
	if err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	sink.Close()

	got, _ := mgr.Contents(id)
	if string(got) != "hello world" {
		t.Fatalf("contents = %q", got)
	}
	if proxy.calls != 2 {
		t.Fatalf("calls = %d, want 2", proxy.calls)
	}
}

func TestFetcherZeroLengthItem(t *testing.T) {
	proxy := &scriptedProxy{replies: []core.FetchDataReply{
		{Chunk: chunkOf(0, nil, 0)},
	}}
	f := NewFetcher(proxy, 1024)
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	if err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	sink.Close()
	got, _ := mgr.Contents(id)
	if len(got) != 0 {
		t.Fatalf("expected empty block, got %q", got)
	}
}

func TestFetcherCrcMismatchFailsAsCorruption(t *testing.T) {
	chunk := chunkOf(0, []byte("hello"), 5)
	chunk.Crc32C ^= 0xffffffff // corrupt it
	proxy := &scriptedProxy{replies: []core.FetchDataReply{{Chunk: chunk}}}
	f := NewFetcher(proxy, 1024)
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if e, ok := core.AsError(err); !ok || e != core.ErrCorruption {
		t.Fatalf("error = %v, want ErrCorruption", err)
	}
}

func TestFetcherOffsetSkewFailsAsInvalidArgument(t *testing.T) {
	// First chunk reports offset 0 correctly and advances the running
	// offset to 1024; the second chunk then claims to start at 2048,
	// skipping a region the fetcher never saw.
	first := chunkOf(0, make([]byte, 1024), 4096)
	second := chunkOf(2048, make([]byte, 1024), 4096)
	proxy := &scriptedProxy{replies: []core.FetchDataReply{{Chunk: first}, {Chunk: second}}}
	f := NewFetcher(proxy, 1024)
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if e, ok := core.AsError(err); !ok || e != core.ErrInvalidArgument {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if err.Error() != "1024 vs 2048" {
		t.Fatalf("error text = %q, want %q", err.Error(), "1024 vs 2048")
	}
}

func TestFetcherRemoteErrorIsUnwound(t *testing.T) {
	proxy := &scriptedProxy{replies: []core.FetchDataReply{
		{Err: core.ErrRemoteError, RemoteErr: &core.RemoteError{
			Code:    core.UnknownTablet,
			Status:  core.ErrNotFound,
			Message: "tablet not found",
		}},
	}}
	f := NewFetcher(proxy, 1024)
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink)
	if err == nil {
		t.Fatalf("expected an error")
	}
	want := "Received error code UNKNOWN_TABLET from remote service: tablet not found"
	if err.Error() != want {
		t.Fatalf("error text = %q, want %q", err.Error(), want)
	}
}

func TestFetcherThrottleDelaysAppend(t *testing.T) {
	proxy := &scriptedProxy{replies: []core.FetchDataReply{
		{Chunk: chunkOf(0, []byte("hello world"), 11)},
	}}
	f := NewFetcher(proxy, 1024)
	f.Throttle(1000, 1) // 1000 bytes/sec, capacity 1 byte: an 11 byte chunk must wait ~10ms.
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	start := time.Now()
	if err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("Fetch returned after %v, want a throttled delay", elapsed)
	}
}

func TestFetcherRemoteErrorWithoutExtensionIsInvalidArgument(t *testing.T) {
	proxy := &scriptedProxy{replies: []core.FetchDataReply{
		{Err: core.ErrRemoteError, RemoteErr: nil},
	}}
	f := NewFetcher(proxy, 1024)
	mgr := blockstore.NewMemManager()
	sink, id, _ := mgr.CreateBlock()

	err := f.Fetch(context.Background(), "sess", core.BlockDataItem(id), time.Second, sink)
	if e, ok := core.AsError(err); !ok || e != core.ErrInvalidArgument {
		t.Fatalf("error = %v, want ErrInvalidArgument", err)
	}
	if err.Error() != "Unable to decode remote bootstrap RPC error message" {
		t.Fatalf("error text = %q", err.Error())
	}
}
