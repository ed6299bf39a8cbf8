// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package core

import (
	"time"
)

// Global constants that several components need to agree on are defined here.
// If a constant is only needed for a single component, probably it should not
// be placed here.
const (
	// DefaultBeginSessionTimeout is the per-RPC deadline for BeginSession and
	// EndSession, absent an explicit override.
	DefaultBeginSessionTimeout = 10 * time.Second

	// RPCHeaderMargin is subtracted from the transport's maximum message size
	// to get the maximum chunk payload length offered to the fetcher, leaving
	// room for the envelope (session id, offsets, checksums).
	RPCHeaderMargin = 1024
)
