package totem

import (
	"math"
	"sync"

	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
)

// Entry is one placed totem. A totem occupies a unit cube at its block
// position. Whether it is active is derived from its kind's head-type row:
// inactive kinds are invisible to every query.
type Entry struct {
	World string
	X     int
	Y     int
	Z     int
	Kind  string
}

type pos3 struct{ x, y, z int }

// Index is the secondary spatial index over totems, per world. The set is
// small and dynamic; a guarded map plus linear scans beats tree maintenance
// at these sizes.
type Index struct {
	mu      sync.RWMutex
	byWorld map[string]map[pos3]Entry
}

func NewIndex() *Index {
	return &Index{byWorld: map[string]map[pos3]Entry{}}
}

// Put inserts or replaces the totem at the entry's position.
func (ix *Index) Put(e Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	m := ix.byWorld[e.World]
	if m == nil {
		m = map[pos3]Entry{}
		ix.byWorld[e.World] = m
	}
	m[pos3{e.X, e.Y, e.Z}] = e
}

// Remove deletes the totem at the position, if any.
func (ix *Index) Remove(world string, x, y, z int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if m := ix.byWorld[world]; m != nil {
		delete(m, pos3{x, y, z})
	}
}

// Size is the total totem count across worlds.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, m := range ix.byWorld {
		n += len(m)
	}
	return n
}

func (ix *Index) DropWorld(world string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.byWorld, world)
}

// Hit is one windowed-query result. NX/NY/NZ is the point of the totem's
// unit cube nearest to the query position (edge-clamped), so the exact
// Euclidean distance falls out without a second pass.
type Hit struct {
	Entry      Entry
	NX, NY, NZ float64
}

func (h Hit) Dist(x, y, z float64) float64 {
	dx := h.NX - x
	dy := h.NY - y
	dz := h.NZ - z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Window returns all active totems within the section-radius box around the
// position: rx/ry/rz are whole-section radii per axis.
func (ix *Index) Window(tbl *catalogs.Table, world string, x, y, z float64, rx, ry, rz int) []Hit {
	center := chunk.SectionOf(int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z)))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []Hit
	for _, e := range ix.byWorld[world] {
		if !tbl.HeadActive(e.Kind, world) {
			continue
		}
		sec := chunk.SectionOf(e.X, e.Y, e.Z)
		if abs(sec.CX-center.CX) > rx || abs(sec.CZ-center.CZ) > rz || abs(sec.SY-center.SY) > ry {
			continue
		}
		hits = append(hits, Hit{
			Entry: e,
			NX:    clamp(x, float64(e.X), float64(e.X+1)),
			NY:    clamp(y, float64(e.Y), float64(e.Y+1)),
			NZ:    clamp(z, float64(e.Z), float64(e.Z+1)),
		})
	}
	return hits
}

// Nearest returns the minimum 3D and minimum horizontal distance from the
// position to any active totem in the world, plus the active count. ok is
// false when the world has no active totems.
func (ix *Index) Nearest(tbl *catalogs.Table, world string, x, y, z float64) (d3, dxz float64, count int, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	d3 = math.Inf(1)
	dxz = math.Inf(1)
	for _, e := range ix.byWorld[world] {
		if !tbl.HeadActive(e.Kind, world) {
			continue
		}
		count++
		nx := clamp(x, float64(e.X), float64(e.X+1))
		ny := clamp(y, float64(e.Y), float64(e.Y+1))
		nz := clamp(z, float64(e.Z), float64(e.Z+1))
		dx, dy, dz := nx-x, ny-y, nz-z
		if d := math.Sqrt(dx*dx + dy*dy + dz*dz); d < d3 {
			d3 = d
		}
		if d := math.Sqrt(dx*dx + dz*dz); d < dxz {
			dxz = d
		}
	}
	return d3, dxz, count, count > 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
