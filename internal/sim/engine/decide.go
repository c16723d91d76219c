package engine

import (
	"math"

	"civsense.world/internal/sim/catalogs"
	"civsense.world/internal/sim/chunk"
)

type Outcome string

const (
	Allow Outcome = "ALLOW"
	Block Outcome = "BLOCK"
)

// Decision branch labels, carried on every outcome for observability.
const (
	BranchTotemBypass    = "totem-bypass"
	BranchTotemConverted = "totem-converted"
	BranchUnnatural      = "unnatural"
	BranchAttraction     = "attraction-suppressed"
	BranchHeadOverride   = "head-override"
	BranchCivLow         = "civ-low"
	BranchCivHigh        = "civ-high"
	BranchCivRoll        = "civ-roll"
)

// Decision is the full outcome of one spawn attempt.
type Decision struct {
	Outcome Outcome
	Branch  string

	// Decayed neighborhood score, meaningful on the civ branches.
	Score float64

	// Conversion pool and pick, set on totem/head allow branches.
	ConversionKind string
	Pool           []string
}

// Decide gates one spawn attempt. natural distinguishes organic attempts
// from scripted ones; only natural attempts are subject to attraction and
// civilization gating. All state lives in the caches; the call itself is
// stateless.
func (e *Engine) Decide(world string, x, y, z float64, kind string, natural bool) Decision {
	d := e.decide(world, x, y, z, kind, natural)
	e.decisions.Add(1)
	if d.Outcome == Block {
		e.blocked.Add(1)
	}
	if e.audit != nil {
		_ = e.audit.WriteDecision(DecisionRecord{
			World:          world,
			Pos:            [3]int{int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))},
			Kind:           kind,
			Natural:        natural,
			Outcome:        string(d.Outcome),
			Branch:         d.Branch,
			Score:          d.Score,
			ConversionKind: d.ConversionKind,
			Pool:           d.Pool,
		})
	}
	return d
}

func (e *Engine) decide(world string, x, y, z float64, kind string, natural bool) Decision {
	tbl := e.tables.Table()

	// Branch 1: totems in the local bypass window let the attempt through
	// outright, never consulting the civilization cache. Enough of them may
	// additionally convert the spawned kind.
	hits := e.totems.Window(tbl, world, x, y, z,
		e.tun.BypassWindowX, e.tun.BypassWindowY, e.tun.BypassWindowZ)
	if len(hits) > 0 {
		pool := make([]string, 0, len(hits))
		for _, h := range hits {
			pool = append(pool, h.Entry.Kind)
		}
		d := Decision{Outcome: Allow, Branch: BranchTotemBypass, Pool: pool}
		if conv, ok := e.convert(tbl, world, pool); ok {
			d.Branch = BranchTotemConverted
			d.ConversionKind = conv
		}
		return d
	}

	if !natural {
		return Decision{Outcome: Allow, Branch: BranchUnnatural}
	}

	// Branch 2: a totem farther out attracts spawns toward itself by
	// probabilistically suppressing them here.
	if e.tun.AttractionOn {
		d3, _, count, ok := e.totems.Nearest(tbl, world, x, y, z)
		if ok && d3 <= e.tun.TotemMaxRadius && d3 > e.tun.TotemNearDist {
			scale := e.tun.TotemMaxRadius - e.tun.TotemNearDist
			if scale <= 0 {
				scale = 1
			}
			lambda := e.tun.TotemRate * math.Log1p(float64(count))
			p := 1 - math.Exp(-lambda*(d3-e.tun.TotemNearDist)/scale)
			if e.roll() < p {
				return Decision{Outcome: Block, Branch: BranchAttraction}
			}
		}
	}

	// Branch 3: the decayed civilization score.
	sec := chunk.SectionOf(int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z)))
	sum, force, forced := e.windowScore(world, sec)
	if force {
		d := Decision{Outcome: Allow, Branch: BranchHeadOverride}
		d.Pool = e.headPool(world, forced)
		if conv, ok := e.convert(tbl, world, d.Pool); ok {
			d.ConversionKind = conv
		}
		return d
	}

	if sum > 1.0 {
		sum = 1.0
	}
	scoreV := sum * e.cache.PresenceFactor(world, chunk.RegionOf(sec))

	switch {
	case scoreV <= e.tun.SpawnLow:
		return Decision{Outcome: Allow, Branch: BranchCivLow, Score: scoreV}
	case scoreV >= e.tun.SpawnMid:
		return Decision{Outcome: Block, Branch: BranchCivHigh, Score: scoreV}
	default:
		p := (scoreV - e.tun.SpawnLow) / (e.tun.SpawnMid - e.tun.SpawnLow)
		if e.roll() < p {
			return Decision{Outcome: Block, Branch: BranchCivRoll, Score: scoreV}
		}
		return Decision{Outcome: Allow, Branch: BranchCivRoll, Score: scoreV}
	}
}

// convert rolls the piecewise-linear conversion probability over the pool
// size and, on success, picks a replacement kind weighted by repetition in
// the pool. Only convertible, active kinds participate.
func (e *Engine) convert(tbl *catalogs.Table, world string, pool []string) (string, bool) {
	eligible := pool[:0:0]
	for _, k := range pool {
		if h, ok := tbl.Heads[k]; ok && h.Convertible && tbl.HeadActive(k, world) {
			eligible = append(eligible, k)
		}
	}
	thr, sat := e.tun.ConvertThreshold, e.tun.ConvertSaturation
	if thr <= 0 || len(eligible) < thr {
		return "", false
	}
	p := 1.0
	if sat > thr && len(eligible) < sat {
		p = float64(len(eligible)-thr+1) / float64(sat-thr+1)
	}
	if e.roll() >= p {
		return "", false
	}
	pick := eligible[int(e.roll()*float64(len(eligible)))%len(eligible)]
	return tbl.Heads[pick].Target, true
}

// headPool collects the observed head kinds of the sections that forced the
// window open, duplicates preserved.
func (e *Engine) headPool(world string, forced []chunk.SectionKey) []string {
	var pool []string
	for _, sec := range forced {
		v := e.sectionScore(world, sec)
		pool = append(pool, v.Heads...)
	}
	return pool
}
