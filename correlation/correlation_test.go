// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package correlation

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReferenceIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		ref := NewReference()
		require.False(t, seen[ref], "duplicate reference id %s", ref)
		seen[ref] = true
	}
}

func TestDrainUnknownReference(t *testing.T) {
	s := NewStore()

	got := s.Drain("no-such-reference")
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAppendDrainOrder(t *testing.T) {
	s := NewStore()
	ref := NewReference()

	for i := 0; i < 5; i++ {
		s.Append(ref, Payload{Query: fmt.Sprintf("q%d", i), Result: i})
	}

	got := s.Drain(ref)
	require.Len(t, got, 5)
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("q%d", i), p.Query)
		assert.Equal(t, i, p.Result)
	}
}

func TestDrainIsSingleUse(t *testing.T) {
	s := NewStore()
	ref := NewReference()
	s.Append(ref, Payload{Query: "q"})

	first := s.Drain(ref)
	assert.Len(t, first, 1)

	second := s.Drain(ref)
	assert.Empty(t, second)
}

func TestSlotsAreIndependent(t *testing.T) {
	s := NewStore()
	a, b := NewReference(), NewReference()

	s.Append(a, Payload{Query: "for-a"})
	s.Append(b, Payload{Query: "for-b"})

	gotA := s.Drain(a)
	require.Len(t, gotA, 1)
	assert.Equal(t, "for-a", gotA[0].Query)

	gotB := s.Drain(b)
	require.Len(t, gotB, 1)
	assert.Equal(t, "for-b", gotB[0].Query)
}

// TestConcurrentAppendDrain checks that appends racing drains are never
// lost: every payload shows up in exactly one drained batch.
func TestConcurrentAppendDrain(t *testing.T) {
	s := NewStore()
	ref := NewReference()

	const appenders = 8
	const perAppender = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	collected := 0

	for i := 0; i < appenders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < perAppender; j++ {
				s.Append(ref, Payload{Query: fmt.Sprintf("a%d-%d", n, j)})
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			batch := s.Drain(ref)
			mu.Lock()
			collected += len(batch)
			mu.Unlock()
		}
	}()

	wg.Wait()

	collected += len(s.Drain(ref))
	assert.Equal(t, appenders*perAppender, collected)
}
