// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package purify

import (
	"fmt"

	"github.com/grailbio/base/log"
)

// EventKind enumerates the kinds of progress events reported by the
// algorithms in this module.
type EventKind int

const (
	// IterationStarted is reported at the top of each k-means iteration.
	IterationStarted EventKind = iota
	// ClusterUpdated is reported when a k-means center moves.
	ClusterUpdated
	// ClusterEmpty is reported when no w value is nearest to a center.
	ClusterEmpty
	// Converged is reported when k-means stops early.
	Converged
	// StageBuilt is reported when an operator stage is constructed.
	StageBuilt
)

// Event describes a single step of an algorithm's progress. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	// Stage names the operator stage for StageBuilt events.
	Stage string
	// Iteration is the zero-based k-means iteration.
	Iteration int
	// Cluster is the k-means cluster index.
	Cluster int
	// Count is the number of members of a cluster, or the number of
	// nonzeros of a stage.
	Count int
	// Value is the new center of a cluster, or the convergence metric.
	Value float64
}

// String returns a human readable description of the event.
func (e Event) String() string {
	switch e.Kind {
	case IterationStarted:
		return fmt.Sprintf("k-means: iteration %d", e.Iteration)
	case ClusterUpdated:
		return fmt.Sprintf("k-means: iteration %d: cluster %d has %d members, center %g", e.Iteration, e.Cluster, e.Count, e.Value)
	case ClusterEmpty:
		return fmt.Sprintf("k-means: iteration %d: cluster %d is empty", e.Iteration, e.Cluster)
	case Converged:
		return fmt.Sprintf("k-means: converged after %d iterations, metric %g", e.Iteration+1, e.Value)
	case StageBuilt:
		if e.Count > 0 {
			return fmt.Sprintf("operator: built %s (%d nonzeros)", e.Stage, e.Count)
		}
		return fmt.Sprintf("operator: built %s", e.Stage)
	default:
		return fmt.Sprintf("Event(%d)", int(e.Kind))
	}
}

// An Observer receives progress events. Observers must be safe to
// call from the goroutine running the algorithm; they should not
// block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

var (
	// NopObserver discards all events.
	NopObserver Observer = ObserverFunc(func(Event) {})
	// LogObserver writes events to the debug log.
	LogObserver Observer = ObserverFunc(func(e Event) { log.Debug.Printf("%v", e) })
)

func observerOrNop(obs Observer) Observer {
	if obs == nil {
		return NopObserver
	}
	return obs
}
