package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
	"civsense.world/internal/sim/civcache"
	"civsense.world/internal/sim/score"
	"civsense.world/internal/sim/totem"
	"civsense.world/internal/sim/tuning"
)

// TableSource yields the live catalog table. catalogs.Registry implements it.
type TableSource interface {
	Table() *catalogs.Table
}

// ColdStore is the optional persistence tier for evicted region aggregates.
type ColdStore interface {
	Persist(world string, key chunk.RegionKey, snap civcache.RegionSnapshot)
	Load(ctx context.Context, world string, key chunk.RegionKey) (civcache.RegionSnapshot, bool)
	DropWorld(world string)
	AdmitWorld(world string)
}

// DecisionAuditor receives every spawn decision, best-effort.
type DecisionAuditor interface {
	WriteDecision(DecisionRecord) error
}

// DecisionRecord mirrors the audit row for one decision.
type DecisionRecord struct {
	World          string
	Pos            [3]int
	Kind           string
	Natural        bool
	Outcome        string
	Branch         string
	Score          float64
	ConversionKind string
	Pool           []string
}

type Config struct {
	Tuning tuning.Tuning
	Tables TableSource
	Reader score.RegionReader

	// Scoring strategy, chosen at construction.
	Subdivide bool

	Cold  ColdStore       // optional
	Audit DecisionAuditor // optional
	Log   *log.Logger     // optional

	// Seed for decision rolls; 0 seeds from the clock.
	Seed int64
}

// Engine owns the scoring caches, the totem index and the decision pipeline
// for the lifetime of a process. Init on world load, Close on unload; never
// an ambient singleton.
type Engine struct {
	tun    tuning.Tuning
	tables TableSource
	cache  *civcache.Cache
	totems *totem.Index

	sampler *score.Sampler
	op      score.Operator

	cold  ColdStore
	audit DecisionAuditor
	log   *log.Logger

	sf  singleflight.Group
	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	queries   atomic.Uint64
	decisions atomic.Uint64
	blocked   atomic.Uint64

	pendMu  sync.Mutex
	pending map[presenceKey]struct{}

	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

type presenceKey struct {
	world string
	key   chunk.RegionKey
}

func New(cfg Config) (*Engine, error) {
	if cfg.Tables == nil {
		return nil, fmt.Errorf("engine: nil table source")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("engine: nil region reader")
	}

	var op score.Operator
	if cfg.Subdivide {
		op = score.NewSubdivision(cfg.Tuning.Normalization)
	} else {
		op = score.NewExhaustive(cfg.Tuning.Normalization)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	e := &Engine{
		tun:     cfg.Tuning,
		tables:  cfg.Tables,
		totems:  totem.NewIndex(),
		sampler: score.NewSampler(cfg.Reader),
		op:      op,
		cold:    cfg.Cold,
		audit:   cfg.Audit,
		log:     cfg.Log,
		now:     time.Now,
		rng:     rand.New(rand.NewSource(seed)),
		pending: map[presenceKey]struct{}{},
		stop:    make(chan struct{}),
	}
	var sink civcache.ColdSink
	if cfg.Cold != nil {
		sink = cfg.Cold
	}
	e.cache = civcache.New(cfg.Tuning, sink)
	return e, nil
}

// SetClock overrides the time source for the engine and its cache. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.cache.SetClock(now)
}

// Start launches the maintenance worker: presence-driven recovery plus
// periodic TTL sweeps.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		t := time.NewTicker(e.tun.MaintenanceEvery())
		defer t.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-t.C:
				e.maintain()
			}
		}
	}()
}

// Close stops maintenance and persists every live region aggregate.
func (e *Engine) Close() {
	if e.started {
		close(e.stop)
		e.wg.Wait()
	}
	n := e.cache.FlushAll()
	if e.log != nil {
		e.log.Printf("engine: shutdown, %d region aggregates persisted", n)
	}
}

// UnloadWorld flushes and drops all state of one world. Subsequent cold
// reads for it short-circuit until AdmitWorld.
func (e *Engine) UnloadWorld(world string) {
	n := e.cache.FlushWorld(world)
	e.totems.DropWorld(world)
	if e.cold != nil {
		e.cold.DropWorld(world)
	}
	if e.log != nil {
		e.log.Printf("engine: world %s unloaded, %d regions persisted", world, n)
	}
}

func (e *Engine) AdmitWorld(world string) {
	if e.cold != nil {
		e.cold.AdmitWorld(world)
	}
}

// NotifyMutation invalidates the mutated block's section. O(1): the fine
// entry is dropped and the ancestor aggregates only flip a dirty bit.
func (e *Engine) NotifyMutation(world string, x, y, z int) {
	e.cache.Invalidate(world, chunk.SectionOf(x, y, z))
}

// NotifyPresence records a presence signal covering the block-radius box
// around the position. Signals are coalesced per region and consumed at most
// once per maintenance tick.
func (e *Engine) NotifyPresence(world string, x, y, z, radius int) {
	if radius < 0 {
		radius = 0
	}
	lo := chunk.RegionOf(chunk.SectionOf(x-radius, y-radius, z-radius))
	hi := chunk.RegionOf(chunk.SectionOf(x+radius, y+radius, z+radius))

	e.pendMu.Lock()
	for rx := lo.RX; rx <= hi.RX; rx++ {
		for rz := lo.RZ; rz <= hi.RZ; rz++ {
			for ry := lo.RY; ry <= hi.RY; ry++ {
				e.pending[presenceKey{world, chunk.RegionKey{RX: rx, RZ: rz, RY: ry}}] = struct{}{}
			}
		}
	}
	e.pendMu.Unlock()
}

// PutTotem registers a totem; RemoveTotem retires it.
func (e *Engine) PutTotem(t totem.Entry)                { e.totems.Put(t) }
func (e *Engine) RemoveTotem(world string, x, y, z int) { e.totems.Remove(world, x, y, z) }

// QueryScore returns the decayed neighborhood score at a position, in
// [0,1]. Unseen terrain scores 0; a force-allow section in the window also
// yields 0.
func (e *Engine) QueryScore(world string, x, y, z int) float64 {
	e.queries.Add(1)
	sum, force, _ := e.windowScore(world, chunk.SectionOf(x, y, z))
	if force {
		return 0
	}
	if sum > 1.0 {
		sum = 1.0
	}
	if sum <= 0 {
		return 0
	}
	factor := e.cache.PresenceFactor(world, chunk.RegionOf(chunk.SectionOf(x, y, z)))
	return sum * factor
}

// maintain runs one tick of background work on the maintenance goroutine.
func (e *Engine) maintain() {
	e.pendMu.Lock()
	batch := e.pending
	e.pending = map[presenceKey]struct{}{}
	e.pendMu.Unlock()

	for pk := range batch {
		e.cache.Recover(pk.world, pk.key)
	}

	fine, coarse, persisted := e.cache.Sweep()
	if e.log != nil && (fine > 0 || coarse > 0) {
		e.log.Printf("engine: sweep evicted fine=%d coarse=%d persisted=%d", fine, coarse, persisted)
	}
}

// windowScore sums the cluster aggregates of the neighborhood window around
// the section, repairing or computing entries as needed. Also reports the
// sections currently carrying the force-allow sentinel.
func (e *Engine) windowScore(world string, sec chunk.SectionKey) (sum float64, force bool, forced []chunk.SectionKey) {
	cc := chunk.ClusterOf(sec)
	for dx := -e.tun.CivWindowX; dx <= e.tun.CivWindowX; dx++ {
		for dz := -e.tun.CivWindowZ; dz <= e.tun.CivWindowZ; dz++ {
			for dy := -e.tun.CivWindowY; dy <= e.tun.CivWindowY; dy++ {
				ck := chunk.ClusterKey{KX: cc.KX + dx, KZ: cc.KZ + dz, SY: cc.SY + dy}
				v := e.ensureCluster(world, ck)
				sum += v.Sum
				for _, slot := range v.ForceSlots {
					force = true
					forced = append(forced, ck.SectionAt(slot))
				}
			}
		}
	}
	return sum, force, forced
}

// ensureCluster returns a trustworthy cluster view: unknown clusters are
// scored section by section, dirty and never-scored cells are repaired in
// place.
func (e *Engine) ensureCluster(world string, key chunk.ClusterKey) civcache.View {
	v, ok := e.cache.ClusterView(world, key)
	if !ok {
		e.tryRestore(world, chunk.RegionOf(key.SectionAt(0)))
		v, ok = e.cache.ClusterView(world, key)
	}
	if !ok {
		for slot := 0; slot < key.Cells(); slot++ {
			e.repairSection(world, key.SectionAt(slot))
		}
		v, _ = e.cache.ClusterView(world, key)
		return v
	}
	if len(v.DirtySlots) > 0 || len(v.EmptySlots) > 0 {
		for _, slot := range v.DirtySlots {
			e.repairSection(world, key.SectionAt(slot))
		}
		for _, slot := range v.EmptySlots {
			e.repairSection(world, key.SectionAt(slot))
		}
		v, _ = e.cache.ClusterView(world, key)
	}
	return v
}

// repairSection makes the section's aggregate cell valid again: a live fine
// entry is re-applied, anything else is recomputed.
func (e *Engine) repairSection(world string, sec chunk.SectionKey) {
	if v, ok := e.cache.GetSection(world, sec); ok {
		e.cache.PutSection(world, sec, v)
		return
	}
	e.sectionScore(world, sec)
}

// tryRestore warms a missing region from the cold store. Best effort with a
// short deadline; any miss or timeout falls through to recomputation.
func (e *Engine) tryRestore(world string, key chunk.RegionKey) {
	if e.cold == nil || e.cache.HasRegion(world, key) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	snap, ok := e.cold.Load(ctx, world, key)
	if !ok {
		return
	}
	if e.cache.RestoreRegion(world, key, snap) && e.log != nil {
		e.log.Printf("engine: region %+v of %s restored from cold store", key, world)
	}
}

// sectionScore returns the cached fine score of a section, computing and
// inserting it on a miss. Concurrent misses of the same section collapse
// into one computation.
func (e *Engine) sectionScore(world string, sec chunk.SectionKey) civcache.SectionScore {
	if v, ok := e.cache.GetSection(world, sec); ok {
		return v
	}
	key := fmt.Sprintf("%s/%d/%d/%d", world, sec.CX, sec.CZ, sec.SY)
	v, _, _ := e.sf.Do(key, func() (any, error) {
		if v, ok := e.cache.GetSection(world, sec); ok {
			return v, nil
		}
		tbl := e.tables.Table()
		g := e.sampler.Sample(world, sec, tbl)
		r := e.op.Score(g, tbl)
		val := civcache.SectionScore{Score: r.Score, ForceAllow: r.ForceAllow, Heads: r.Heads}
		e.cache.PutSection(world, sec, val)
		return val, nil
	})
	return v.(civcache.SectionScore)
}

// Metrics is a point-in-time counter snapshot for the debug endpoint.
type Metrics struct {
	Queries   uint64
	Decisions uint64
	Blocked   uint64
	Totems    int
}

func (e *Engine) Metrics() Metrics {
	return Metrics{
		Queries:   e.queries.Load(),
		Decisions: e.decisions.Load(),
		Blocked:   e.blocked.Load(),
		Totems:    e.totems.Size(),
	}
}

func (e *Engine) roll() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}
