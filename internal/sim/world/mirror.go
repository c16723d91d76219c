package world

import (
	"sync"

	"civsense.world/internal/sim/chunk"
)

// Mirror is the in-process copy of the scoring-relevant blocks of each
// world, fed by mutation reports. Only kinds the caller chooses to report
// are stored; everything else reads as empty. Implements the region reader
// and palette reader interfaces of the sampler.
type Mirror struct {
	mu     sync.RWMutex
	worlds map[string]*worldBlocks

	minY, maxY int
}

type worldBlocks struct {
	sections map[chunk.SectionKey]*section
}

type section struct {
	kinds map[int]string // local cell index -> kind
}

func cellIndex(x, y, z int) int {
	lx := chunk.Mod(x, chunk.SectionSize)
	ly := chunk.Mod(y, chunk.SectionSize)
	lz := chunk.Mod(z, chunk.SectionSize)
	return (ly*chunk.SectionSize+lz)*chunk.SectionSize + lx
}

func NewMirror(minY, maxY int) *Mirror {
	return &Mirror{
		worlds: map[string]*worldBlocks{},
		minY:   minY,
		maxY:   maxY,
	}
}

// Set records the kind at a block position. An empty kind clears the cell;
// emptied sections are pruned.
func (m *Mirror) Set(world string, x, y, z int, kind string) {
	key := chunk.SectionOf(x, y, z)
	idx := cellIndex(x, y, z)

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.worlds[world]
	if w == nil {
		if kind == "" {
			return
		}
		w = &worldBlocks{sections: map[chunk.SectionKey]*section{}}
		m.worlds[world] = w
	}
	s := w.sections[key]
	if s == nil {
		if kind == "" {
			return
		}
		s = &section{kinds: map[int]string{}}
		w.sections[key] = s
	}
	if kind == "" {
		delete(s.kinds, idx)
		if len(s.kinds) == 0 {
			delete(w.sections, key)
		}
		return
	}
	s.kinds[idx] = kind
}

// Drop forgets all blocks of a world.
func (m *Mirror) Drop(world string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.worlds, world)
}

func (m *Mirror) BlockAt(world string, x, y, z int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := m.worlds[world]
	if w == nil {
		return ""
	}
	s := w.sections[chunk.SectionOf(x, y, z)]
	if s == nil {
		return ""
	}
	return s.kinds[cellIndex(x, y, z)]
}

func (m *Mirror) WorldBounds(world string) (int, int) {
	return m.minY, m.maxY
}

// SectionKinds reports the distinct kinds present in a section, in no
// particular order. Nil means the section holds nothing of interest.
func (m *Mirror) SectionKinds(world string, key chunk.SectionKey) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := m.worlds[world]
	if w == nil {
		return nil
	}
	s := w.sections[key]
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, 4)
	var kinds []string
	for _, k := range s.kinds {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kinds = append(kinds, k)
	}
	return kinds
}
