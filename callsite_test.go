package bitlog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCallsiteAssignsDenseIds(t *testing.T) {
	a := RegisterCallsite("a.go", 10, "fa", LevelInfo, "a {}", TypeInt)
	b := RegisterCallsite("b.go", 20, "fb", LevelDebug, "b")

	assert.Equal(t, a.ID()+1, b.ID())
	assert.Equal(t, LevelInfo, a.Level())
	assert.Equal(t, []TypeDescriptor{TypeInt}, a.Types())
}

func TestSnapshotSortedById(t *testing.T) {
	RegisterCallsite("c.go", 1, "f", LevelInfo, "x")
	RegisterCallsite("c.go", 2, "f", LevelInfo, "y")

	snap := snapshotCallsites()
	require.NotEmpty(t, snap)
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i-1].id+1, snap[i].id)
	}
	assert.Equal(t, uint32(0), snap[0].id)
}

func TestConcurrentRegistration(t *testing.T) {
	const n = 64
	var wg sync.WaitGroup
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = RegisterCallsite("p.go", uint32(i), "f", LevelInfo, "p {}", TypeInt).ID()
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}

	// every registered site shows up exactly once in the snapshot
	snap := snapshotCallsites()
	found := 0
	for _, cs := range snap {
		if seen[cs.id] {
			found++
		}
	}
	assert.Equal(t, n, found)
}

func TestRegisterCallsiteHere(t *testing.T) {
	cs := RegisterCallsiteHere(LevelWarning, "here {}", TypeStdString)
	assert.Contains(t, cs.file, "callsite_test.go")
	assert.NotZero(t, cs.line)
}

func TestTooManyStringArgsPanics(t *testing.T) {
	types := make([]TypeDescriptor, maxStringArgs+1)
	for i := range types {
		types[i] = TypeStdString
	}
	assert.Panics(t, func() {
		RegisterCallsite("x.go", 1, "f", LevelInfo, "x", types...)
	})
}
