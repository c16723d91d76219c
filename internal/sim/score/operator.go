package score

import (
	"sort"

	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
)

// Result is the outcome of scoring one section grid.
//
// ForceAllow is the reserved sentinel: a head kind was observed, the section
// unconditionally lets spawns through and Score is meaningless. Heads is the
// multiset of observed head kinds, duplicates preserved, row-major order.
type Result struct {
	Score      float64
	ForceAllow bool
	Heads      []string
}

// Operator scores a raw section grid. ForceAllow and Heads are strategy
// independent; Score may differ where a strategy prunes (see Subdivision).
// A nil grid (pre-filtered section) scores zero.
type Operator interface {
	Score(g *Grid, tbl *catalogs.Table) Result
}

// collectHeads is the common head path of both strategies. Head presence
// outranks weight accumulation: as soon as any strategy sees a head cell it
// abandons scoring and switches to this single deterministic pass, so the
// strategies stay equivalent even on head-bearing grids.
func collectHeads(g *Grid, tbl *catalogs.Table) Result {
	var heads []string
	for _, id := range g.Cells {
		if h := tbl.HeadKindAt(id); h != nil {
			heads = append(heads, h.ID)
		}
	}
	return Result{ForceAllow: true, Heads: heads}
}

// Exhaustive visits every cell. Reference semantics.
type Exhaustive struct {
	norm float64
}

func NewExhaustive(normalization float64) *Exhaustive {
	return &Exhaustive{norm: normalization}
}

func (e *Exhaustive) Score(g *Grid, tbl *catalogs.Table) Result {
	if g == nil {
		return Result{}
	}
	sum := 0.0
	for _, id := range g.Cells {
		if id == catalogs.Unknown {
			continue
		}
		if tbl.HeadKindAt(id) != nil {
			return collectHeads(g, tbl)
		}
		sum += tbl.WeightAt(id)
	}
	return Result{Score: normalize(sum, e.norm)}
}

// Subdivision recursively splits the section into octants, inspecting only
// the 8 corner cells of each box to decide whether to descend. Corner
// priority: half-occupied boxes rank highest, fully occupied second, empty
// boxes are pruned. Cells are only accumulated at the minimum granularity.
//
// The corner test makes this an approximation: occupancy strictly interior
// to a box whose eight corners are all unweighted is pruned, so Score can
// fall below Exhaustive on such grids. The strategies agree whenever every
// weighted structure touches a corner of each box enclosing it. ForceAllow
// and Heads come from collectHeads and never diverge.
type Subdivision struct {
	norm float64
}

// Boxes are never split below this edge length; a 2-cube's corners are
// exactly its cells, so leaf accumulation is exact.
const minBox = 2

func NewSubdivision(normalization float64) *Subdivision {
	return &Subdivision{norm: normalization}
}

func (s *Subdivision) Score(g *Grid, tbl *catalogs.Table) Result {
	if g == nil {
		return Result{}
	}
	sum, force := s.walk(g, tbl, 0, 0, 0, chunk.SectionSize)
	if force {
		return collectHeads(g, tbl)
	}
	return Result{Score: normalize(sum, s.norm)}
}

// walk returns the accumulated weight of the box and whether a head cell was
// observed. Visit order is deterministic: octants by descending priority,
// ties by octant index.
func (s *Subdivision) walk(g *Grid, tbl *catalogs.Table, x0, y0, z0, size int) (float64, bool) {
	if size <= minBox {
		sum := 0.0
		for y := y0; y < y0+size; y++ {
			for z := z0; z < z0+size; z++ {
				for x := x0; x < x0+size; x++ {
					id := g.At(x, y, z)
					if id == catalogs.Unknown {
						continue
					}
					if tbl.HeadKindAt(id) != nil {
						return 0, true
					}
					sum += tbl.WeightAt(id)
				}
			}
		}
		return sum, false
	}

	half := size / 2
	type oct struct {
		idx      int
		x, y, z  int
		priority int
	}
	octs := make([]oct, 0, 8)
	for i := 0; i < 8; i++ {
		ox := x0 + (i&1)*half
		oy := y0 + ((i>>2)&1)*half
		oz := z0 + ((i>>1)&1)*half
		pri, force := s.cornerPriority(g, tbl, ox, oy, oz, half)
		if force {
			return 0, true
		}
		if pri == 0 {
			continue
		}
		octs = append(octs, oct{idx: i, x: ox, y: oy, z: oz, priority: pri})
	}
	sort.Slice(octs, func(i, j int) bool {
		if octs[i].priority != octs[j].priority {
			return octs[i].priority > octs[j].priority
		}
		return octs[i].idx < octs[j].idx
	})

	sum := 0.0
	for _, o := range octs {
		v, force := s.walk(g, tbl, o.x, o.y, o.z, half)
		if force {
			return 0, true
		}
		sum += v
	}
	return sum, false
}

func (s *Subdivision) cornerPriority(g *Grid, tbl *catalogs.Table, x0, y0, z0, size int) (int, bool) {
	occupied := 0
	for i := 0; i < 8; i++ {
		x := x0 + (i&1)*(size-1)
		z := z0 + ((i>>1)&1)*(size-1)
		y := y0 + ((i>>2)&1)*(size-1)
		id := g.At(x, y, z)
		if id == catalogs.Unknown {
			continue
		}
		if tbl.HeadKindAt(id) != nil {
			return 0, true
		}
		if tbl.WeightAt(id) > 0 {
			occupied++
		}
	}
	switch {
	case occupied == 0:
		return 0, false
	case occupied == 4:
		return 3, false
	case occupied == 8:
		return 2, false
	default:
		return 1, false
	}
}

func normalize(sum, norm float64) float64 {
	if sum <= 0 {
		return 0
	}
	if norm <= 0 {
		norm = 1
	}
	v := sum / norm
	if v > 1.0 {
		return 1.0
	}
	return v
}
