// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package server

import (
	"testing"

	"github.com/westerndigitalcorporation/tabletboot/internal/core"
)

func TestOpMetricCountsAllAndFailed(t *testing.T) {
	m := NewOpMetric("test_op_metric_counts", "tablet")

	op := m.Start("t1")
	op.End()

	op = m.Start("t1")
	op.Failed()
	op.End()

	if n := m.Count("all", "t1"); n != 2 {
		t.Fatalf("Count(all) = %d, want 2", n)
	}
	if n := m.Count("failed", "t1"); n != 1 {
		t.Fatalf("Count(failed) = %d, want 1", n)
	}
}

func TestOpMetricEndWithError(t *testing.T) {
	m := NewOpMetric("test_op_metric_end_with_error", "tablet")

	op := m.Start("t1")
	cerr := core.NoError
	op.EndWithError(&cerr)
	if n := m.Count("failed", "t1"); n != 0 {
		t.Fatalf("Count(failed) = %d, want 0 on success", n)
	}

	op = m.Start("t1")
	cerr = core.ErrIO
	op.EndWithError(&cerr)
	if n := m.Count("failed", "t1"); n != 1 {
		t.Fatalf("Count(failed) = %d, want 1 after a failing op", n)
	}
}
