package civcache

import (
	"sync"
	"time"
)

// Per-cell state codes. These also appear verbatim in cold-store rows.
const (
	CellEmpty byte = iota
	CellValid
	CellDirty
	// CellForce is a valid cell carrying the force-allow sentinel. Its
	// recorded score is always 0 so the sentinel never enters scoreSum.
	CellForce
)

// Aggregate is one coarse cache entry: per-cell scores and states over a
// fixed grid of sections, with a running sum maintained by delta
// propagation. Region-tier aggregates additionally carry the presence
// timestamps driving decay and recovery.
type Aggregate struct {
	mu sync.Mutex

	states []byte
	scores []float64

	scoreSum   float64
	validCount int
	dirtyCount int
	forceCount int

	presence     time.Time
	lastRecovery time.Time
	touched      time.Time
}

func newAggregate(cells int, now time.Time) *Aggregate {
	return &Aggregate{
		states:   make([]byte, cells),
		scores:   make([]float64, cells),
		presence: now,
		touched:  now,
	}
}

// apply records a section score in the given slot and adjusts the running
// aggregate by the signed delta. Safe to call for any prior cell state.
func (a *Aggregate) apply(slot int, score float64, force bool, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.states[slot] {
	case CellValid, CellForce:
		a.scoreSum -= a.scores[slot]
	case CellDirty:
		a.dirtyCount--
		a.validCount++
	case CellEmpty:
		a.validCount++
	}
	if a.states[slot] == CellForce {
		a.forceCount--
	}

	if force {
		a.states[slot] = CellForce
		a.scores[slot] = 0
		a.forceCount++
	} else {
		a.states[slot] = CellValid
		a.scores[slot] = score
		a.scoreSum += score
	}
	a.touched = now
}

// markDirty flags a slot for repair. Marking an already-dirty or empty slot
// is a no-op; the recorded score of a newly-dirty cell leaves scoreSum so the
// sum invariant holds over valid cells only.
func (a *Aggregate) markDirty(slot int, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.states[slot] {
	case CellEmpty, CellDirty:
		return
	case CellForce:
		a.forceCount--
	}
	a.scoreSum -= a.scores[slot]
	a.scores[slot] = 0
	a.states[slot] = CellDirty
	a.validCount--
	a.dirtyCount++
	a.touched = now
}

// View is a consistent copy of an aggregate's readable state. A view with
// dirty or empty slots must not be trusted until those cells are repaired.
type View struct {
	Sum        float64
	ValidCount int
	ForceSlots []int
	DirtySlots []int
	EmptySlots []int
	Presence   time.Time
	Touched    time.Time
}

func (a *Aggregate) view() View {
	a.mu.Lock()
	defer a.mu.Unlock()

	v := View{
		Sum:        a.scoreSum,
		ValidCount: a.validCount,
		Presence:   a.presence,
		Touched:    a.touched,
	}
	if a.forceCount > 0 || a.dirtyCount > 0 || a.validCount < len(a.states) {
		for slot, st := range a.states {
			switch st {
			case CellForce:
				v.ForceSlots = append(v.ForceSlots, slot)
			case CellDirty:
				v.DirtySlots = append(v.DirtySlots, slot)
			case CellEmpty:
				v.EmptySlots = append(v.EmptySlots, slot)
			}
		}
	}
	return v
}

func (a *Aggregate) touchedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.touched
}

// RegionSnapshot is the persisted form of a region aggregate: one cold-store
// row. Fine entries are never persisted.
type RegionSnapshot struct {
	Scores   []float64
	States   []byte
	Presence time.Time
	Touched  time.Time
}

func (a *Aggregate) snapshot() RegionSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := RegionSnapshot{
		Scores:   make([]float64, len(a.scores)),
		States:   make([]byte, len(a.states)),
		Presence: a.presence,
		Touched:  a.touched,
	}
	copy(snap.Scores, a.scores)
	copy(snap.States, a.states)
	return snap
}

// withDirty returns a copy of the snapshot with the given cells demoted to
// dirty. Applied on restore to sections invalidated while the region sat in
// the cold store; never-scored cells stay empty.
func (snap RegionSnapshot) withDirty(slots []int) RegionSnapshot {
	out := RegionSnapshot{
		Scores:   make([]float64, len(snap.Scores)),
		States:   make([]byte, len(snap.States)),
		Presence: snap.Presence,
		Touched:  snap.Touched,
	}
	copy(out.Scores, snap.Scores)
	copy(out.States, snap.States)
	for _, slot := range slots {
		if slot < 0 || slot >= len(out.States) || out.States[slot] == CellEmpty {
			continue
		}
		out.States[slot] = CellDirty
		out.Scores[slot] = 0
	}
	return out
}

func aggregateFromSnapshot(snap RegionSnapshot) *Aggregate {
	a := &Aggregate{
		states:   make([]byte, len(snap.States)),
		scores:   make([]float64, len(snap.Scores)),
		presence: snap.Presence,
		touched:  snap.Touched,
	}
	copy(a.states, snap.States)
	copy(a.scores, snap.Scores)
	for slot, st := range a.states {
		switch st {
		case CellValid:
			a.validCount++
			a.scoreSum += a.scores[slot]
		case CellForce:
			a.validCount++
			a.forceCount++
			a.scores[slot] = 0
		case CellDirty:
			a.dirtyCount++
			a.scores[slot] = 0
		}
	}
	return a
}
