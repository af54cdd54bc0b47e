// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

// Package correlation carries structured side-channel payloads produced
// during a conversation. Tools append machine-readable results under an
// opaque reference id while the model narrates; at the end of the
// conversation the caller drains the slot and pairs the payloads with the
// narrative.
package correlation

import (
	"sync"

	"github.com/google/uuid"
)

// Payload is one structured result captured during a conversation, typically
// the expression that produced it alongside its normalized result.
type Payload struct {
	Query  string      `json:"query"`
	Result interface{} `json:"result"`
}

// Store maps reference ids to ordered payload slots. Slots are created
// implicitly on first append and destroyed atomically on drain. Safe for
// concurrent use; locking is per slot, so traffic under distinct reference
// ids never contends.
type Store struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu       sync.Mutex
	payloads []Payload
	drained  bool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{slots: make(map[string]*slot)}
}

// NewReference returns a fresh 128-bit random reference id. Collision within
// a process lifetime is not a practical concern.
func NewReference() string {
	return uuid.NewString()
}

// Append records payload under referenceID, creating the slot if needed.
// Appends preserve arrival order within a slot.
func (s *Store) Append(referenceID string, payload Payload) {
	for {
		s.mu.Lock()
		sl, ok := s.slots[referenceID]
		if !ok {
			sl = &slot{}
			s.slots[referenceID] = sl
		}
		s.mu.Unlock()

		sl.mu.Lock()
		if sl.drained {
			// Lost the race with Drain; the slot is gone from the map,
			// start a fresh one.
			sl.mu.Unlock()
			continue
		}
		sl.payloads = append(sl.payloads, payload)
		sl.mu.Unlock()
		return
	}
}

// Drain atomically removes the slot for referenceID and returns its payloads
// in append order. An unknown id or an already-drained slot yields an empty
// slice. An append racing a drain either lands wholly in the drained slice
// or starts a fresh slot; it is never lost.
func (s *Store) Drain(referenceID string) []Payload {
	s.mu.Lock()
	sl, ok := s.slots[referenceID]
	if ok {
		delete(s.slots, referenceID)
	}
	s.mu.Unlock()

	if !ok {
		return []Payload{}
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.drained = true
	return sl.payloads
}
