package civcache

import (
	"sync"
	"time"

	"civsense.world/internal/sim/chunk"
	"civsense.world/internal/sim/tuning"
)

// SectionScore is the fine-tier cached value of one section.
type SectionScore struct {
	Score      float64
	ForceAllow bool
	Heads      []string
}

type sectionRecord struct {
	val  SectionScore
	born time.Time
}

type sectionID struct {
	world string
	key   chunk.SectionKey
}

type clusterID struct {
	world string
	key   chunk.ClusterKey
}

type regionID struct {
	world string
	key   chunk.RegionKey
}

// ColdSink receives evicted region aggregates. Persist must not block.
type ColdSink interface {
	Persist(world string, key chunk.RegionKey, snap RegionSnapshot)
}

// Cache is the two-tier score cache: fine per-section scores with a short
// TTL, plus cluster and region aggregates maintained by delta propagation.
// All methods are safe for concurrent use; racing creators of the same
// aggregate resolve by first-writer-wins.
type Cache struct {
	tun  tuning.Tuning
	sink ColdSink
	now  func() time.Time

	fine     sync.Map // sectionID -> *sectionRecord
	clusters sync.Map // clusterID -> *Aggregate
	regions  sync.Map // regionID -> *Aggregate
	pending  sync.Map // regionID -> *pendingDirty
}

// pendingDirty records invalidations that arrived while the region was not
// resident. Notes are consumed when the region is restored from the cold
// store, or superseded when a fresh aggregate is created for the region.
type pendingDirty struct {
	mu    sync.Mutex
	slots map[int]struct{}
}

func (p *pendingDirty) add(slot int) {
	p.mu.Lock()
	p.slots[slot] = struct{}{}
	p.mu.Unlock()
}

func (p *pendingDirty) take() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	slots := make([]int, 0, len(p.slots))
	for slot := range p.slots {
		slots = append(slots, slot)
	}
	return slots
}

func New(tun tuning.Tuning, sink ColdSink) *Cache {
	return &Cache{tun: tun, sink: sink, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// GetSection returns the fine-tier value for a section. Expired entries are
// removed eagerly and reported as a miss.
func (c *Cache) GetSection(world string, key chunk.SectionKey) (SectionScore, bool) {
	id := sectionID{world, key}
	v, ok := c.fine.Load(id)
	if !ok {
		return SectionScore{}, false
	}
	rec := v.(*sectionRecord)
	if c.now().Sub(rec.born) > c.tun.FineTTL() {
		c.fine.Delete(id)
		return SectionScore{}, false
	}
	return rec.val, true
}

// PutSection inserts or replaces the fine entry and applies the signed score
// delta to the section's cluster and region aggregates. Aggregates are never
// recomputed in full here.
func (c *Cache) PutSection(world string, key chunk.SectionKey, val SectionScore) {
	now := c.now()
	c.fine.Store(sectionID{world, key}, &sectionRecord{val: val, born: now})

	ck := chunk.ClusterOf(key)
	c.cluster(world, ck).apply(ck.SlotOf(key), val.Score, val.ForceAllow, now)

	rk := chunk.RegionOf(key)
	c.region(world, rk).apply(rk.SlotOf(key), val.Score, val.ForceAllow, now)
}

// Invalidate drops the fine entry and marks the section's slot dirty in each
// existing ancestor aggregate. When the region aggregate has been evicted to
// the cold store, the invalidation is noted instead so the cell comes back
// dirty on restore. Idempotent.
func (c *Cache) Invalidate(world string, key chunk.SectionKey) {
	now := c.now()
	c.fine.Delete(sectionID{world, key})

	ck := chunk.ClusterOf(key)
	if v, ok := c.clusters.Load(clusterID{world, ck}); ok {
		v.(*Aggregate).markDirty(ck.SlotOf(key), now)
	}
	rk := chunk.RegionOf(key)
	rid := regionID{world, rk}
	if v, ok := c.regions.Load(rid); ok {
		v.(*Aggregate).markDirty(rk.SlotOf(key), now)
		return
	}
	c.notePending(rid, rk.SlotOf(key))
	// The region may have been restored between the miss and the note. Mark
	// the live aggregate too; the leftover note only costs a spare repair.
	if v, ok := c.regions.Load(rid); ok {
		v.(*Aggregate).markDirty(rk.SlotOf(key), now)
	}
}

func (c *Cache) notePending(id regionID, slot int) {
	v, ok := c.pending.Load(id)
	if !ok {
		v, _ = c.pending.LoadOrStore(id, &pendingDirty{slots: make(map[int]struct{})})
	}
	v.(*pendingDirty).add(slot)
}

// ClusterView reads a cluster aggregate. known is false when the cluster has
// never been scored; callers fall through to recomputation. A view carrying
// dirty slots must be repaired (recompute + PutSection each dirty section)
// before its Sum is trusted.
func (c *Cache) ClusterView(world string, key chunk.ClusterKey) (View, bool) {
	v, ok := c.clusters.Load(clusterID{world, key})
	if !ok {
		return View{}, false
	}
	agg := v.(*Aggregate)
	if c.now().Sub(agg.touchedAt()) > c.tun.CoarseTTL() {
		c.clusters.Delete(clusterID{world, key})
		return View{}, false
	}
	return agg.view(), true
}

// RegionView reads a region aggregate without creating it.
func (c *Cache) RegionView(world string, key chunk.RegionKey) (View, bool) {
	v, ok := c.regions.Load(regionID{world, key})
	if !ok {
		return View{}, false
	}
	return v.(*Aggregate).view(), true
}

func (c *Cache) HasRegion(world string, key chunk.RegionKey) bool {
	_, ok := c.regions.Load(regionID{world, key})
	return ok
}

// PresenceFactor is the decay factor for the region containing the queried
// position. Unknown regions decay at 1.0; their score is zero anyway.
func (c *Cache) PresenceFactor(world string, key chunk.RegionKey) float64 {
	v, ok := c.regions.Load(regionID{world, key})
	if !ok {
		return 1.0
	}
	agg := v.(*Aggregate)
	agg.mu.Lock()
	presence := agg.presence
	agg.mu.Unlock()
	return DecayFactor(c.now().Sub(presence), c.tun.DecayGrace(), c.tun.DecayLambda(), c.tun.DecayFloor)
}

// Recover applies one rate-limited recovery step to the region's presence
// timestamp. Steps closer together than the cooldown are dropped. Regions
// that were never scored are left alone.
func (c *Cache) Recover(world string, key chunk.RegionKey) {
	v, ok := c.regions.Load(regionID{world, key})
	if !ok {
		return
	}
	agg := v.(*Aggregate)
	now := c.now()

	agg.mu.Lock()
	defer agg.mu.Unlock()
	if !agg.lastRecovery.IsZero() && now.Sub(agg.lastRecovery) < c.tun.RecoveryCooldown() {
		return
	}
	agg.presence = RecoveryStep(agg.presence, now, c.tun.RecoveryFraction, c.tun.RecoveryMinStep())
	agg.lastRecovery = now
}

// RestoreRegion reinserts a cold-store row, honoring its original
// timestamps. Cells invalidated while the region was cold come back dirty.
// Restoration is rejected when the row's age already exceeds the cold TTL,
// or when a live aggregate exists (first writer wins).
func (c *Cache) RestoreRegion(world string, key chunk.RegionKey, snap RegionSnapshot) bool {
	if len(snap.States) != key.Cells() || len(snap.Scores) != key.Cells() {
		return false
	}
	if c.now().Sub(snap.Touched) > c.tun.ColdTTL() {
		return false
	}
	if v, ok := c.pending.LoadAndDelete(regionID{world, key}); ok {
		snap = snap.withDirty(v.(*pendingDirty).take())
	}
	agg := aggregateFromSnapshot(snap)
	if _, loaded := c.regions.LoadOrStore(regionID{world, key}, agg); loaded {
		return false
	}
	c.seedClusters(world, key, snap)
	return true
}

// seedClusters projects a restored region's cells into cluster aggregates so
// neighborhood queries warm up without rescanning. Only empty slots are
// seeded; live cluster data wins.
func (c *Cache) seedClusters(world string, key chunk.RegionKey, snap RegionSnapshot) {
	now := c.now()
	for slot, st := range snap.States {
		if st == CellEmpty {
			continue
		}
		sec := key.SectionAt(slot)
		ck := chunk.ClusterOf(sec)
		agg := c.cluster(world, ck)
		cslot := ck.SlotOf(sec)

		agg.mu.Lock()
		if agg.states[cslot] == CellEmpty {
			switch st {
			case CellValid:
				agg.states[cslot] = CellValid
				agg.scores[cslot] = snap.Scores[slot]
				agg.scoreSum += snap.Scores[slot]
				agg.validCount++
			case CellForce:
				agg.states[cslot] = CellForce
				agg.validCount++
				agg.forceCount++
			case CellDirty:
				agg.states[cslot] = CellDirty
				agg.dirtyCount++
			}
			agg.touched = now
		}
		agg.mu.Unlock()
	}
}

// Sweep evicts expired entries from all tiers. Expired region aggregates are
// handed to the cold sink with their true last-touch timestamps before
// removal. Returns evicted counts per tier.
func (c *Cache) Sweep() (fine, coarse, persisted int) {
	now := c.now()

	c.fine.Range(func(k, v any) bool {
		if now.Sub(v.(*sectionRecord).born) > c.tun.FineTTL() {
			c.fine.Delete(k)
			fine++
		}
		return true
	})
	c.clusters.Range(func(k, v any) bool {
		if now.Sub(v.(*Aggregate).touchedAt()) > c.tun.CoarseTTL() {
			c.clusters.Delete(k)
			coarse++
		}
		return true
	})
	c.regions.Range(func(k, v any) bool {
		agg := v.(*Aggregate)
		if now.Sub(agg.touchedAt()) > c.tun.CoarseTTL() {
			id := k.(regionID)
			if c.sink != nil {
				c.sink.Persist(id.world, id.key, agg.snapshot())
			}
			c.regions.Delete(k)
			coarse++
			persisted++
		}
		return true
	})
	return fine, coarse, persisted
}

// FlushWorld persists every region aggregate of a world and drops all of the
// world's entries from every tier. Used on world unload and shutdown.
func (c *Cache) FlushWorld(world string) int {
	persisted := 0
	c.regions.Range(func(k, v any) bool {
		id := k.(regionID)
		if id.world != world {
			return true
		}
		if c.sink != nil {
			c.sink.Persist(id.world, id.key, v.(*Aggregate).snapshot())
			persisted++
		}
		c.regions.Delete(k)
		return true
	})
	c.clusters.Range(func(k, v any) bool {
		if k.(clusterID).world == world {
			c.clusters.Delete(k)
		}
		return true
	})
	c.fine.Range(func(k, v any) bool {
		if k.(sectionID).world == world {
			c.fine.Delete(k)
		}
		return true
	})
	return persisted
}

// FlushAll persists every region aggregate. Shutdown path.
func (c *Cache) FlushAll() int {
	persisted := 0
	c.regions.Range(func(k, v any) bool {
		id := k.(regionID)
		if c.sink != nil {
			c.sink.Persist(id.world, id.key, v.(*Aggregate).snapshot())
			persisted++
		}
		return true
	})
	return persisted
}

func (c *Cache) cluster(world string, key chunk.ClusterKey) *Aggregate {
	id := clusterID{world, key}
	if v, ok := c.clusters.Load(id); ok {
		return v.(*Aggregate)
	}
	v, _ := c.clusters.LoadOrStore(id, newAggregate(key.Cells(), c.now()))
	return v.(*Aggregate)
}

func (c *Cache) region(world string, key chunk.RegionKey) *Aggregate {
	id := regionID{world, key}
	if v, ok := c.regions.Load(id); ok {
		return v.(*Aggregate)
	}
	v, loaded := c.regions.LoadOrStore(id, newAggregate(key.Cells(), c.now()))
	if !loaded {
		// A fresh aggregate starts all-empty; older pending notes for this
		// region have nothing left to mark.
		c.pending.Delete(id)
	}
	return v.(*Aggregate)
}
