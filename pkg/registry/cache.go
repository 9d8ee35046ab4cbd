/*
Package registry implements the in-memory Spec and State caches and
the Node Registry's liveness watchdog. Instead of one bespoke
Create/Get/List/Update/Delete method set per resource type, a single
generic cache is parameterized over the four Spec kinds (pools,
replicas, nexuses, volumes; nodes live in NodeRegistry), with each
kind's filtered iterators (ByNode, ByPool, ...) layered on top where
the fields differ.
*/
package registry

import (
	"sync"

	"github.com/noriteio/norite/pkg/sequencer"
)

// entry pairs a resource's current Spec value with the per-resource
// sequencer slot serializing mutations against it.
type entry[T any] struct {
	spec    T
	seq     *sequencer.Sequencer
	present bool
}

// specCache is a concurrency-safe, UUID-keyed table of one resource
// kind's Spec values. Readers take a brief RLock to copy a snapshot
// out; writers take a brief Lock to swap an entry, never waiting on
// the slower per-resource sequencer lock while the cache lock is held.
type specCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
}

func newSpecCache[T any]() *specCache[T] {
	return &specCache[T]{entries: make(map[string]*entry[T])}
}

// get returns a copy of the stored Spec and its sequencer.
func (c *specCache[T]) get(uuid string) (T, *sequencer.Sequencer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uuid]
	if !ok || !e.present {
		var zero T
		return zero, nil, false
	}
	return e.spec, e.seq, true
}

// sequencer returns the resource's sequencer, creating the slot if
// this is the first time it has been seen. Used so a Create RPC can
// acquire serialization before the Spec exists; get and list keep
// treating the Spec as absent until put stores one.
func (c *specCache[T]) sequencer(uuid string) *sequencer.Sequencer {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uuid]
	if !ok {
		e = &entry[T]{seq: sequencer.New("")}
		c.entries[uuid] = e
	}
	return e.seq
}

// put writes or replaces a Spec's value, preserving its sequencer if
// one already exists.
func (c *specCache[T]) put(uuid string, spec T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uuid]
	if !ok {
		e = &entry[T]{seq: sequencer.New("")}
		c.entries[uuid] = e
	}
	e.spec = spec
	e.present = true
}

// delete removes a resource entirely, dropping its sequencer along
// with it. Only safe to call once the resource is proven quiesced.
func (c *specCache[T]) delete(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uuid)
}

// list returns a snapshot slice of every stored Spec; no internal
// reference leaks.
func (c *specCache[T]) list() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.entries))
	for _, e := range c.entries {
		if e.present {
			out = append(out, e.spec)
		}
	}
	return out
}

func (c *specCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// filter returns the snapshot of Specs matching pred, used by each
// kind's ByNode/ByPool/ByVolume iterators.
func filter[T any](all []T, pred func(T) bool) []T {
	out := make([]T, 0, len(all))
	for _, v := range all {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

// stateCache is a concurrency-safe, UUID-keyed table of one resource
// kind's latest observed State. Unlike specCache it carries no
// sequencer: State is repopulated wholesale from node polls and never
// itself serialized against.
type stateCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

func newStateCache[T any]() *stateCache[T] {
	return &stateCache[T]{entries: make(map[string]T)}
}

func (c *stateCache[T]) get(uuid string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[uuid]
	return v, ok
}

func (c *stateCache[T]) put(uuid string, state T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uuid] = state
}

func (c *stateCache[T]) delete(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uuid)
}

func (c *stateCache[T]) list() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]T, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
