package chunk

import "testing"

func TestFloorDiv_Negative(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{0, 16, 0},
		{15, 16, 0},
		{16, 16, 1},
		{-1, 16, -1},
		{-16, 16, -1},
		{-17, 16, -2},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestSectionOf_NegativeCoords(t *testing.T) {
	k := SectionOf(-1, -1, -1)
	if k != (SectionKey{CX: -1, CZ: -1, SY: -1}) {
		t.Fatalf("SectionOf(-1,-1,-1) = %+v", k)
	}
	k = SectionOf(31, 0, -33)
	if k != (SectionKey{CX: 1, CZ: -3, SY: 0}) {
		t.Fatalf("SectionOf(31,0,-33) = %+v", k)
	}
}

func TestClusterSlot_RoundTrip(t *testing.T) {
	for cx := -7; cx <= 7; cx++ {
		for cz := -7; cz <= 7; cz++ {
			for sy := -2; sy <= 2; sy++ {
				k := SectionKey{CX: cx, CZ: cz, SY: sy}
				c := ClusterOf(k)
				if !c.Contains(k) {
					t.Fatalf("cluster %+v does not contain %+v", c, k)
				}
				slot := c.SlotOf(k)
				if slot < 0 || slot >= c.Cells() {
					t.Fatalf("slot %d out of range for %+v", slot, k)
				}
				if got := c.SectionAt(slot); got != k {
					t.Fatalf("SectionAt(SlotOf(%+v)) = %+v", k, got)
				}
			}
		}
	}
}

func TestRegionSlot_RoundTrip(t *testing.T) {
	for cx := -19; cx <= 19; cx += 3 {
		for cz := -19; cz <= 19; cz += 3 {
			for sy := -4; sy <= 4; sy++ {
				k := SectionKey{CX: cx, CZ: cz, SY: sy}
				r := RegionOf(k)
				if !r.Contains(k) {
					t.Fatalf("region %+v does not contain %+v", r, k)
				}
				slot := r.SlotOf(k)
				if slot < 0 || slot >= r.Cells() {
					t.Fatalf("slot %d out of range for %+v", slot, k)
				}
				if got := r.SectionAt(slot); got != k {
					t.Fatalf("SectionAt(SlotOf(%+v)) = %+v", k, got)
				}
			}
		}
	}
}

func TestRegionSlot_Distinct(t *testing.T) {
	r := RegionKey{RX: -1, RZ: 2, RY: 0}
	seen := make(map[int]SectionKey, r.Cells())
	min, max := r.SectionRange()
	for sy := min.SY; sy <= max.SY; sy++ {
		for cz := min.CZ; cz <= max.CZ; cz++ {
			for cx := min.CX; cx <= max.CX; cx++ {
				k := SectionKey{CX: cx, CZ: cz, SY: sy}
				slot := r.SlotOf(k)
				if prev, dup := seen[slot]; dup {
					t.Fatalf("slot %d assigned to both %+v and %+v", slot, prev, k)
				}
				seen[slot] = k
			}
		}
	}
	if len(seen) != r.Cells() {
		t.Fatalf("covered %d slots, want %d", len(seen), r.Cells())
	}
}
