package coldstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"civsense.world/internal/sim/chunk"
	"civsense.world/internal/sim/civcache"
)

func testSnapshot() civcache.RegionSnapshot {
	key := chunk.RegionKey{}
	snap := civcache.RegionSnapshot{
		Scores:   make([]float64, key.Cells()),
		States:   make([]byte, key.Cells()),
		Presence: time.UnixMilli(1_700_000_000_000),
		Touched:  time.UnixMilli(1_700_000_123_000),
	}
	snap.Scores[17] = 0.625
	snap.States[17] = civcache.CellValid
	snap.States[42] = civcache.CellDirty
	snap.States[99] = civcache.CellForce
	return snap
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.db")
	key := chunk.RegionKey{RX: -3, RZ: 7, RY: 1}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := testSnapshot()
	s.Persist("overworld", key, want)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, ok := s.Load(context.Background(), "overworld", key)
	if !ok {
		t.Fatalf("row not found after reopen")
	}
	if got.Scores[17] != 0.625 || got.States[17] != civcache.CellValid {
		t.Fatalf("valid cell lost: score=%v state=%d", got.Scores[17], got.States[17])
	}
	if got.States[42] != civcache.CellDirty || got.States[99] != civcache.CellForce {
		t.Fatalf("states lost: %d %d", got.States[42], got.States[99])
	}
	if !got.Presence.Equal(want.Presence) || !got.Touched.Equal(want.Touched) {
		t.Fatalf("timestamps lost: %v %v", got.Presence, got.Touched)
	}
}

func TestStore_MissingRowIsAMiss(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cold.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Load(context.Background(), "overworld", chunk.RegionKey{RX: 9}); ok {
		t.Fatalf("absent row must be a miss, not an error")
	}
}

func TestStore_DropWorldShortCircuitsReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.db")
	key := chunk.RegionKey{}

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Persist("overworld", key, testSnapshot())
	s.DropWorld("overworld")
	if _, ok := s.Load(context.Background(), "overworld", key); ok {
		t.Fatalf("reads for a dropped world must miss immediately")
	}
	s.AdmitWorld("overworld")
	// The row may or may not be flushed yet; only the short-circuit is
	// under test here, so just verify the call path is open again.
	_, _ = s.Load(context.Background(), "overworld", key)
}

func TestStore_ClosedStoreIsInert(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cold.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s.Persist("overworld", chunk.RegionKey{}, testSnapshot()) // must not panic
	if _, ok := s.Load(context.Background(), "overworld", chunk.RegionKey{}); ok {
		t.Fatalf("closed store must miss")
	}
}

func TestStore_PersistRacingCloseDoesNotPanic(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "cold.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	snap := testSnapshot()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(rx int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.Persist("overworld", chunk.RegionKey{RX: rx}, snap)
			}
		}(i)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
}
