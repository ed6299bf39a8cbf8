// Copyright (c) 2016 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"testing"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

func TestOpFailureGetDefaultsToNoError(t *testing.T) {
	f := NewOpFailure()
	if got := f.Get("remote_bootstrap"); got != core.NoError {
		t.Fatalf("Get on an unconfigured op = %v, want NoError", got)
	}
}

func TestOpFailureHandlerConfiguresAndClears(t *testing.T) {
	f := NewOpFailure()

	if err := f.Handler([]byte(`{"remote_bootstrap": 6, "other_op": 1}`)); err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if got := f.Get("remote_bootstrap"); got != core.ErrIO {
		t.Fatalf("Get(remote_bootstrap) = %v, want ErrIO", got)
	}
	if got := f.Get("other_op"); got != core.ErrNotFound {
		t.Fatalf("Get(other_op) = %v, want ErrNotFound", got)
	}

	if err := f.Handler(nil); err != nil {
		t.Fatalf("Handler(nil): %v", err)
	}
	if got := f.Get("remote_bootstrap"); got != core.NoError {
		t.Fatalf("Get after clearing = %v, want NoError", got)
	}
}

func TestOpFailureHandlerRejectsMalformedConfig(t *testing.T) {
	f := NewOpFailure()
	if err := f.Handler([]byte(`not json`)); err == nil {
		t.Fatalf("expected an error unmarshaling malformed config")
	}
}
