package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// WeightDef is one row of weights.json.
type WeightDef struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// HeadDef is one row of head_types.json. A head kind placed in the world
// forces spawns through locally; totem entries reference the same kinds.
type HeadDef struct {
	ID          string   `json:"id"`
	Target      string   `json:"target"`
	Enabled     bool     `json:"enabled"`
	Convertible bool     `json:"convertible"`
	Worlds      []string `json:"worlds,omitempty"`
}

// Table is one immutable snapshot of both catalogs. Reload swaps the whole
// table; readers holding an old pointer keep a consistent view.
type Table struct {
	Palette []string
	Index   map[string]uint16

	// Indexed by palette id. HeadAt[i] is nil for plain weighted kinds.
	Weights []float64
	HeadAt  []*HeadDef

	Heads map[string]HeadDef

	WeightsDigest string
	HeadsDigest   string
}

// Unknown is the grid value for kinds absent from the table.
const Unknown uint16 = 0xFFFF

func (t *Table) IDOf(kind string) (uint16, bool) {
	id, ok := t.Index[kind]
	return id, ok
}

func (t *Table) WeightAt(id uint16) float64 {
	if t == nil || int(id) >= len(t.Weights) {
		return 0
	}
	return t.Weights[id]
}

// HeadKindAt returns the head definition for a palette id, nil otherwise.
func (t *Table) HeadKindAt(id uint16) *HeadDef {
	if t == nil || int(id) >= len(t.HeadAt) {
		return nil
	}
	return t.HeadAt[id]
}

// HeadActive reports whether the kind is an enabled head kind visible from
// the given world. Kinds with a world whitelist are invisible elsewhere.
func (t *Table) HeadActive(kind, world string) bool {
	h, ok := t.Heads[kind]
	if !ok || !h.Enabled {
		return false
	}
	if len(h.Worlds) == 0 {
		return true
	}
	for _, w := range h.Worlds {
		if w == world {
			return true
		}
	}
	return false
}

// Registry owns the live table and performs hot reloads.
type Registry struct {
	configDir string
	log       *log.Logger

	weightsSchema *jsonschema.Schema
	headsSchema   *jsonschema.Schema

	table atomic.Pointer[Table]
}

func NewRegistry(configDir, schemaDir string, logger *log.Logger) (*Registry, error) {
	r := &Registry{configDir: configDir, log: logger}

	var err error
	r.weightsSchema, err = jsonschema.Compile(filepath.Join(schemaDir, "weights.schema.json"))
	if err != nil {
		return nil, fmt.Errorf("compile weights schema: %w", err)
	}
	r.headsSchema, err = jsonschema.Compile(filepath.Join(schemaDir, "head_types.schema.json"))
	if err != nil {
		return nil, fmt.Errorf("compile head_types schema: %w", err)
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Table returns the current snapshot. Never nil after NewRegistry succeeds.
func (r *Registry) Table() *Table { return r.table.Load() }

// Reload re-reads both catalog files and swaps the table atomically. A parse
// or schema failure on either file leaves the previous table in effect.
// Individually malformed rows are skipped with a diagnostic.
func (r *Registry) Reload() error {
	weights, wdigest, err := r.loadWeights(filepath.Join(r.configDir, "weights.json"))
	if err != nil {
		return err
	}
	heads, hdigest, err := r.loadHeads(filepath.Join(r.configDir, "head_types.json"))
	if err != nil {
		return err
	}

	t := build(weights, heads)
	t.WeightsDigest = wdigest
	t.HeadsDigest = hdigest
	r.table.Store(t)
	if r.log != nil {
		r.log.Printf("catalogs reloaded: %d kinds (%d heads) weights=%.8s heads=%.8s",
			len(t.Palette), len(t.Heads), wdigest, hdigest)
	}
	return nil
}

func (r *Registry) loadWeights(path string) ([]WeightDef, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("weights.json: %w", err)
	}
	if err := r.weightsSchema.Validate(doc); err != nil {
		return nil, "", fmt.Errorf("weights.json: %w", err)
	}
	var defs []WeightDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, "", fmt.Errorf("weights.json: %w", err)
	}
	out := defs[:0]
	for _, d := range defs {
		if d.ID == "" || d.Weight < 0 {
			if r.log != nil {
				r.log.Printf("weights.json: skipping entry %q (weight %v)", d.ID, d.Weight)
			}
			continue
		}
		out = append(out, d)
	}
	return out, sha256Hex(raw), nil
}

func (r *Registry) loadHeads(path string) ([]HeadDef, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// The head catalog is optional; an absent file means no head kinds.
		if os.IsNotExist(err) {
			return nil, sha256Hex(nil), nil
		}
		return nil, "", err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", fmt.Errorf("head_types.json: %w", err)
	}
	if err := r.headsSchema.Validate(doc); err != nil {
		return nil, "", fmt.Errorf("head_types.json: %w", err)
	}
	var defs []HeadDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, "", fmt.Errorf("head_types.json: %w", err)
	}
	out := defs[:0]
	for _, d := range defs {
		if d.ID == "" || d.Target == "" {
			if r.log != nil {
				r.log.Printf("head_types.json: skipping entry %q (target %q)", d.ID, d.Target)
			}
			continue
		}
		out = append(out, d)
	}
	return out, sha256Hex(raw), nil
}

// build assembles the palette over the union of weighted and head kinds.
func build(weights []WeightDef, heads []HeadDef) *Table {
	byID := make(map[string]float64, len(weights))
	for _, d := range weights {
		byID[d.ID] = d.Weight
	}
	headByID := make(map[string]HeadDef, len(heads))
	for _, d := range heads {
		headByID[d.ID] = d
	}

	ids := make([]string, 0, len(byID)+len(headByID))
	for id := range byID {
		ids = append(ids, id)
	}
	for id := range headByID {
		if _, dup := byID[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	t := &Table{
		Palette: ids,
		Index:   make(map[string]uint16, len(ids)),
		Weights: make([]float64, len(ids)),
		HeadAt:  make([]*HeadDef, len(ids)),
		Heads:   headByID,
	}
	for i, id := range ids {
		t.Index[id] = uint16(i)
		t.Weights[i] = byID[id]
		if h, ok := headByID[id]; ok {
			hc := h
			t.HeadAt[i] = &hc
		}
	}
	return t
}

// FromDefs builds a table directly, bypassing files. Test helper and fallback
// for embedding callers that manage their own config plumbing.
func FromDefs(weights []WeightDef, heads []HeadDef) *Table {
	return build(weights, heads)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
