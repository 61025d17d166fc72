// Package services defines the business logic for dispatch, matching, and
// intake management. This file provides per-entity serialization.
//
// SQLite has no row-level SELECT … FOR UPDATE, so mutating operations on a
// given load or intake are serialized in-process with a keyed mutex held for
// the duration of the operation (including, for match runs, the network
// call — the idempotency check and the emit must be one critical section).
// Operations on different entities never contend.
package services

import "sync"

// keyedLocks hands out one mutex per entity key. Entries are retained for
// the process lifetime; the map is bounded by the number of distinct
// entities touched, which is broker-scale, not traffic-scale.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &sync.Mutex{}
		k.m[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
