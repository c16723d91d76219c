package score

import (
	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
)

// RegionReader supplies raw block kinds for the sampler. Implementations must
// tolerate any coordinate; out-of-range reads return "".
type RegionReader interface {
	BlockAt(world string, x, y, z int) string
	// WorldBounds returns the inclusive vertical block range of the world.
	WorldBounds(world string) (minY, maxY int)
}

// PaletteReader is an optional fast path: the set of kinds present anywhere
// in a section, without per-cell access. Readers that track per-section
// palettes implement it; the sampler then skips sections with no
// recognized kind entirely.
type PaletteReader interface {
	SectionKinds(world string, key chunk.SectionKey) []string
}

// Grid is the materialized kind data of one section. Cells hold palette ids
// against the weight table, catalogs.Unknown for unrecognized or out-of-range
// cells. Row-major: x fastest, then z, then y.
type Grid struct {
	Key   chunk.SectionKey
	Cells [chunk.SectionSize * chunk.SectionSize * chunk.SectionSize]uint16
}

func cellIndex(x, y, z int) int {
	return (y*chunk.SectionSize+z)*chunk.SectionSize + x
}

func (g *Grid) At(x, y, z int) uint16 {
	return g.Cells[cellIndex(x, y, z)]
}

// Sampler materializes grids from a RegionReader.
type Sampler struct {
	reader RegionReader
}

func NewSampler(r RegionReader) *Sampler {
	return &Sampler{reader: r}
}

// Sample reads the section's cells, clamped to the world's vertical bounds.
// Returns nil when the palette pre-filter proves no recognized kind is
// present; the section's contribution is then exactly zero.
func (s *Sampler) Sample(world string, key chunk.SectionKey, tbl *catalogs.Table) *Grid {
	if pr, ok := s.reader.(PaletteReader); ok {
		if !anyRecognized(pr.SectionKinds(world, key), tbl) {
			return nil
		}
	}

	minY, maxY := s.reader.WorldBounds(world)
	ox, oy, oz := key.Origin()

	g := &Grid{Key: key}
	for i := range g.Cells {
		g.Cells[i] = catalogs.Unknown
	}
	for y := 0; y < chunk.SectionSize; y++ {
		wy := oy + y
		if wy < minY || wy > maxY {
			continue
		}
		for z := 0; z < chunk.SectionSize; z++ {
			for x := 0; x < chunk.SectionSize; x++ {
				kind := s.reader.BlockAt(world, ox+x, wy, oz+z)
				if kind == "" {
					continue
				}
				if id, ok := tbl.IDOf(kind); ok {
					g.Cells[cellIndex(x, y, z)] = id
				}
			}
		}
	}
	return g
}

func anyRecognized(kinds []string, tbl *catalogs.Table) bool {
	for _, k := range kinds {
		if _, ok := tbl.IDOf(k); ok {
			return true
		}
	}
	return false
}
