// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics_test

import (
	"context"
	"testing"

	"github.com/grailbio/purify/metrics"
)

func TestCounter(t *testing.T) {
	var (
		a, b metrics.Scope
		c    = metrics.NewCounter("test.counter")
	)
	c.Incr(&a, 2)
	if got, want := c.Value(&a), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	c.Incr(&b, 123)
	if got, want := c.Value(&a), int64(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Value(&b), int64(123); got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	a.Merge(&b)
	if got, want := c.Value(&a), int64(125); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := c.Name(), "test.counter"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNilScope(t *testing.T) {
	c := metrics.NewCounter("nil")
	c.Incr(nil, 1)
	if got, want := c.Value(nil), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if metrics.ContextScope(context.Background()) != nil {
		t.Error("expected nil scope")
	}
}

func TestScopedContext(t *testing.T) {
	var (
		scope metrics.Scope
		c     = metrics.NewCounter("ctx")
		ctx   = metrics.ScopedContext(context.Background(), &scope)
	)
	c.Incr(metrics.ContextScope(ctx), 7)
	if got, want := c.Value(&scope), int64(7); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
