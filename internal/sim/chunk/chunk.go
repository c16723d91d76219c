package chunk

// Side length of a section in blocks, per axis.
const SectionSize = 16

// Cluster groups 3x3 sections on the same vertical slice.
const ClusterSpan = 3

// Region groups 9x9 sections horizontally and 3 slices vertically.
const (
	RegionSpan  = 9
	RegionDepth = 3
)

func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func Mod(a, b int) int {
	m := a % b
	if m != 0 && ((a < 0) != (b < 0)) {
		m += b
	}
	return m
}

// SectionKey addresses one 16x16x16 block section.
type SectionKey struct {
	CX int
	CZ int
	SY int
}

func SectionOf(x, y, z int) SectionKey {
	return SectionKey{
		CX: FloorDiv(x, SectionSize),
		CZ: FloorDiv(z, SectionSize),
		SY: FloorDiv(y, SectionSize),
	}
}

// Origin returns the minimum block coordinate contained in the section.
func (k SectionKey) Origin() (x, y, z int) {
	return k.CX * SectionSize, k.SY * SectionSize, k.CZ * SectionSize
}

// ClusterKey addresses a 3x3 group of sections on one vertical slice.
type ClusterKey struct {
	KX int
	KZ int
	SY int
}

func ClusterOf(k SectionKey) ClusterKey {
	return ClusterKey{
		KX: FloorDiv(k.CX, ClusterSpan),
		KZ: FloorDiv(k.CZ, ClusterSpan),
		SY: k.SY,
	}
}

func (c ClusterKey) Cells() int { return ClusterSpan * ClusterSpan }

// Contains reports whether the section falls inside this cluster.
func (c ClusterKey) Contains(k SectionKey) bool {
	return ClusterOf(k) == c
}

// SlotOf maps a contained section to its row-major cell slot.
// The mapping is total over contained sections and inverse to SectionAt.
func (c ClusterKey) SlotOf(k SectionKey) int {
	dx := k.CX - c.KX*ClusterSpan
	dz := k.CZ - c.KZ*ClusterSpan
	return dz*ClusterSpan + dx
}

func (c ClusterKey) SectionAt(slot int) SectionKey {
	return SectionKey{
		CX: c.KX*ClusterSpan + slot%ClusterSpan,
		CZ: c.KZ*ClusterSpan + slot/ClusterSpan,
		SY: c.SY,
	}
}

// RegionKey addresses a 9x9x3 group of sections.
type RegionKey struct {
	RX int
	RZ int
	RY int
}

func RegionOf(k SectionKey) RegionKey {
	return RegionKey{
		RX: FloorDiv(k.CX, RegionSpan),
		RZ: FloorDiv(k.CZ, RegionSpan),
		RY: FloorDiv(k.SY, RegionDepth),
	}
}

func (r RegionKey) Cells() int { return RegionSpan * RegionSpan * RegionDepth }

func (r RegionKey) Contains(k SectionKey) bool {
	return RegionOf(k) == r
}

// SlotOf maps a contained section to its cell slot, y-major then row-major.
func (r RegionKey) SlotOf(k SectionKey) int {
	dx := k.CX - r.RX*RegionSpan
	dz := k.CZ - r.RZ*RegionSpan
	dy := k.SY - r.RY*RegionDepth
	return (dy*RegionSpan+dz)*RegionSpan + dx
}

func (r RegionKey) SectionAt(slot int) SectionKey {
	dx := slot % RegionSpan
	dz := (slot / RegionSpan) % RegionSpan
	dy := slot / (RegionSpan * RegionSpan)
	return SectionKey{
		CX: r.RX*RegionSpan + dx,
		CZ: r.RZ*RegionSpan + dz,
		SY: r.RY*RegionDepth + dy,
	}
}

// SectionRange returns the inclusive bounds of sections in the region.
func (r RegionKey) SectionRange() (min, max SectionKey) {
	min = SectionKey{CX: r.RX * RegionSpan, CZ: r.RZ * RegionSpan, SY: r.RY * RegionDepth}
	max = SectionKey{
		CX: min.CX + RegionSpan - 1,
		CZ: min.CZ + RegionSpan - 1,
		SY: min.SY + RegionDepth - 1,
	}
	return min, max
}
