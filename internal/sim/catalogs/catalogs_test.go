package catalogs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newTestRegistry(t *testing.T, weights, heads string) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "weights.json"), weights)
	if heads != "" {
		writeFile(t, filepath.Join(dir, "head_types.json"), heads)
	}
	r, err := NewRegistry(dir, "../../../schemas", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, dir
}

func TestRegistry_LoadAndLookup(t *testing.T) {
	r, _ := newTestRegistry(t,
		`[{"id":"COBBLESTONE","weight":1.0},{"id":"DOOR","weight":5.0}]`,
		`[{"id":"ZOMBIE_HEAD","target":"ZOMBIE","enabled":true,"convertible":true}]`)

	tbl := r.Table()
	id, ok := tbl.IDOf("DOOR")
	if !ok {
		t.Fatalf("DOOR missing from palette")
	}
	if w := tbl.WeightAt(id); w != 5.0 {
		t.Fatalf("DOOR weight = %v, want 5.0", w)
	}
	hid, ok := tbl.IDOf("ZOMBIE_HEAD")
	if !ok {
		t.Fatalf("ZOMBIE_HEAD missing from palette")
	}
	h := tbl.HeadKindAt(hid)
	if h == nil || h.Target != "ZOMBIE" {
		t.Fatalf("HeadKindAt = %+v", h)
	}
	if !tbl.HeadActive("ZOMBIE_HEAD", "overworld") {
		t.Fatalf("ZOMBIE_HEAD should be active everywhere")
	}
}

func TestRegistry_WorldWhitelist(t *testing.T) {
	r, _ := newTestRegistry(t,
		`[]`,
		`[{"id":"WITHER_SKULL","target":"WITHER_SKELETON","enabled":true,"worlds":["nether"]},
		  {"id":"CREEPER_HEAD","target":"CREEPER","enabled":false}]`)

	tbl := r.Table()
	if tbl.HeadActive("WITHER_SKULL", "overworld") {
		t.Fatalf("whitelisted kind visible in wrong world")
	}
	if !tbl.HeadActive("WITHER_SKULL", "nether") {
		t.Fatalf("whitelisted kind invisible in its own world")
	}
	if tbl.HeadActive("CREEPER_HEAD", "overworld") {
		t.Fatalf("disabled kind should be inactive")
	}
}

func TestRegistry_ReloadKeepsOldTableOnParseFailure(t *testing.T) {
	r, dir := newTestRegistry(t,
		`[{"id":"COBBLESTONE","weight":1.0}]`, "")

	old := r.Table()
	writeFile(t, filepath.Join(dir, "weights.json"), `{not json`)
	if err := r.Reload(); err == nil {
		t.Fatalf("Reload should fail on malformed file")
	}
	if r.Table() != old {
		t.Fatalf("failed reload must leave previous table in effect")
	}
}

func TestRegistry_ReloadSkipsBadEntries(t *testing.T) {
	r, dir := newTestRegistry(t,
		`[{"id":"COBBLESTONE","weight":1.0}]`, "")

	writeFile(t, filepath.Join(dir, "weights.json"),
		`[{"id":"COBBLESTONE","weight":1.0},{"id":"","weight":2.0},{"id":"PIT","weight":-3.0}]`)
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	tbl := r.Table()
	if len(tbl.Palette) != 1 || tbl.Palette[0] != "COBBLESTONE" {
		t.Fatalf("palette = %v, want only COBBLESTONE", tbl.Palette)
	}
}

func TestFromDefs_UnknownID(t *testing.T) {
	tbl := FromDefs([]WeightDef{{ID: "PLANKS", Weight: 1.5}}, nil)
	if _, ok := tbl.IDOf("GLASS"); ok {
		t.Fatalf("GLASS should be absent")
	}
	if w := tbl.WeightAt(Unknown); w != 0 {
		t.Fatalf("unknown id weight = %v, want 0", w)
	}
}
