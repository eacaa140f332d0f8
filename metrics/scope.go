// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Scope is a collection of counter instances. The zero Scope is
// empty and ready to use.
type Scope struct {
	mu     sync.Mutex
	values map[int]int64
}

func (s *Scope) add(id int, n int64) {
	s.mu.Lock()
	if s.values == nil {
		s.values = make(map[int]int64)
	}
	s.values[id] += n
	s.mu.Unlock()
}

func (s *Scope) get(id int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[id]
}

// Merge adds the instances of scope u into scope s.
func (s *Scope) Merge(u *Scope) {
	if u == nil || u == s {
		return
	}
	u.mu.Lock()
	values := make(map[int]int64, len(u.values))
	for id, v := range u.values {
		values[id] = v
	}
	u.mu.Unlock()
	for id, v := range values {
		s.add(id, v)
	}
}

// Reset resets the scope s to a copy of u. It is reset to its
// initial (zero) state if u is nil.
func (s *Scope) Reset(u *Scope) {
	var values map[int]int64
	if u != nil {
		u.mu.Lock()
		values = make(map[int]int64, len(u.values))
		for id, v := range u.values {
			values[id] = v
		}
		u.mu.Unlock()
	}
	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
}

// Snapshot returns the values of all counters instantiated in s,
// keyed by counter name. Values of counters sharing a name are
// summed.
func (s *Scope) Snapshot() map[string]int64 {
	s.mu.Lock()
	ids := make(map[int]int64, len(s.values))
	for id, v := range s.values {
		ids[id] = v
	}
	s.mu.Unlock()
	snap := make(map[string]int64, len(ids))
	mu.Lock()
	for id, v := range ids {
		snap[names[id]] += v
	}
	mu.Unlock()
	return snap
}

// String returns an abbreviated string with the values in this scope
// sorted by counter name.
func (s *Scope) String() string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for key := range snap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, snap[key])
	}
	return strings.Join(keys, " ")
}

// contextKeyType is used to create unique context key for scopes,
// available only to code in this package.
type contextKeyType struct{}

// contextKey is the key used to attach scopes to contexts.
var contextKey contextKeyType

// ScopedContext returns a context with the provided scope attached.
// The scope may be retrieved by ContextScope.
func ScopedContext(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, contextKey, scope)
}

// ContextScope returns the scope attached to the provided context, or
// nil if there is none. Counters ignore increments to a nil scope.
func ContextScope(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextKey).(*Scope)
	return s
}
