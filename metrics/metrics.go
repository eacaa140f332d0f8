// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics provides named counters whose values are kept in
// scopes. A scope is typically attached to a context so that
// operator applications and collective calls made on behalf of one
// rank can be accounted separately, and later merged.
package metrics

import (
	"sync"
)

var (
	mu sync.Mutex
	// names maps all registered counters by id. We reserve index 0 to
	// minimize the chances of zero-valued counters being used
	// uninitialized.
	names = []string{""}
)

// A Counter is a monotonically increasing value, registered once
// (typically as a package-level variable) and instantiated lazily in
// each scope it is incremented in.
type Counter struct {
	id int
}

// NewCounter registers and returns a new counter with the provided
// name. Names are used only for reporting; they need not be unique.
func NewCounter(name string) Counter {
	mu.Lock()
	defer mu.Unlock()
	names = append(names, name)
	return Counter{id: len(names) - 1}
}

// Name returns the name the counter was registered with.
func (c Counter) Name() string {
	mu.Lock()
	defer mu.Unlock()
	return names[c.id]
}

// Incr increments the counter's value in scope by n. Incr is a no-op
// on a nil scope.
func (c Counter) Incr(scope *Scope, n int64) {
	if scope == nil {
		return
	}
	scope.add(c.id, n)
}

// Value returns the counter's value in scope.
func (c Counter) Value(scope *Scope) int64 {
	if scope == nil {
		return 0
	}
	return scope.get(c.id)
}
