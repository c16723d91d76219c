package totem

import (
	"math"
	"testing"

	"civsense.world/internal/sim/catalogs"
)

func testTable() *catalogs.Table {
	return catalogs.FromDefs(nil, []catalogs.HeadDef{
		{ID: "ZOMBIE_HEAD", Target: "ZOMBIE", Enabled: true, Convertible: true},
		{ID: "CREEPER_HEAD", Target: "CREEPER", Enabled: false},
		{ID: "WITHER_SKULL", Target: "WITHER_SKELETON", Enabled: true, Worlds: []string{"nether"}},
	})
}

func TestIndex_WindowFiltersInactive(t *testing.T) {
	tbl := testTable()
	ix := NewIndex()
	ix.Put(Entry{World: "overworld", X: 5, Y: 10, Z: 5, Kind: "ZOMBIE_HEAD"})
	ix.Put(Entry{World: "overworld", X: 6, Y: 10, Z: 5, Kind: "CREEPER_HEAD"}) // disabled
	ix.Put(Entry{World: "overworld", X: 7, Y: 10, Z: 5, Kind: "WITHER_SKULL"}) // wrong world
	ix.Put(Entry{World: "nether", X: 8, Y: 10, Z: 5, Kind: "ZOMBIE_HEAD"})     // other world

	hits := ix.Window(tbl, "overworld", 5, 10, 5, 2, 1, 2)
	if len(hits) != 1 || hits[0].Entry.Kind != "ZOMBIE_HEAD" {
		t.Fatalf("hits = %+v, want the single active zombie head", hits)
	}
}

func TestIndex_WindowSectionRadius(t *testing.T) {
	tbl := testTable()
	ix := NewIndex()
	ix.Put(Entry{World: "overworld", X: 0, Y: 0, Z: 0, Kind: "ZOMBIE_HEAD"})
	ix.Put(Entry{World: "overworld", X: 40, Y: 0, Z: 0, Kind: "ZOMBIE_HEAD"}) // section CX=2
	ix.Put(Entry{World: "overworld", X: 90, Y: 0, Z: 0, Kind: "ZOMBIE_HEAD"}) // section CX=5

	hits := ix.Window(tbl, "overworld", 8, 8, 8, 2, 1, 2)
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (radius 2 sections)", len(hits))
	}
}

func TestIndex_EdgeClampedNearestPoint(t *testing.T) {
	tbl := testTable()
	ix := NewIndex()
	ix.Put(Entry{World: "overworld", X: 10, Y: 10, Z: 10, Kind: "ZOMBIE_HEAD"})

	hits := ix.Window(tbl, "overworld", 5.0, 10.5, 10.5, 2, 1, 2)
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	h := hits[0]
	// Query is level with the cube on y/z; nearest point is the near face.
	if h.NX != 10.0 || h.NY != 10.5 || h.NZ != 10.5 {
		t.Fatalf("nearest point = (%v,%v,%v)", h.NX, h.NY, h.NZ)
	}
	if d := h.Dist(5.0, 10.5, 10.5); d != 5.0 {
		t.Fatalf("dist = %v, want 5.0", d)
	}
}

func TestIndex_Nearest(t *testing.T) {
	tbl := testTable()
	ix := NewIndex()

	if _, _, _, ok := ix.Nearest(tbl, "overworld", 0, 0, 0); ok {
		t.Fatalf("empty world must report no totems")
	}

	ix.Put(Entry{World: "overworld", X: 30, Y: 64, Z: 0, Kind: "ZOMBIE_HEAD"})
	ix.Put(Entry{World: "overworld", X: 0, Y: 0, Z: 50, Kind: "ZOMBIE_HEAD"})

	d3, dxz, count, ok := ix.Nearest(tbl, "overworld", 0.5, 64.5, 0.5)
	if !ok || count != 2 {
		t.Fatalf("ok=%v count=%d", ok, count)
	}
	if math.Abs(d3-29.5) > 1e-9 {
		t.Fatalf("d3 = %v, want 29.5 (near face of the level totem)", d3)
	}
	if math.Abs(dxz-29.5) > 1e-9 {
		t.Fatalf("dxz = %v, want 29.5", dxz)
	}
}

func TestIndex_RemoveAndDropWorld(t *testing.T) {
	tbl := testTable()
	ix := NewIndex()
	ix.Put(Entry{World: "overworld", X: 1, Y: 1, Z: 1, Kind: "ZOMBIE_HEAD"})
	ix.Put(Entry{World: "nether", X: 1, Y: 1, Z: 1, Kind: "ZOMBIE_HEAD"})

	ix.Remove("overworld", 1, 1, 1)
	if _, _, _, ok := ix.Nearest(tbl, "overworld", 0, 0, 0); ok {
		t.Fatalf("removed totem still visible")
	}

	ix.DropWorld("nether")
	if _, _, _, ok := ix.Nearest(tbl, "nether", 0, 0, 0); ok {
		t.Fatalf("dropped world still has totems")
	}
}
