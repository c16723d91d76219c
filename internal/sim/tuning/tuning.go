package tuning

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning is the full quantitative surface of the engine. Every knob is a
// number; no setting changes structural behavior.
type Tuning struct {
	// Score normalization: a section's weight sum is divided by this before
	// clamping to 1.0.
	Normalization float64 `yaml:"normalization"`

	// Decision thresholds on the decayed neighborhood score.
	SpawnLow float64 `yaml:"spawn_low"`
	SpawnMid float64 `yaml:"spawn_mid"`

	// Cache TTLs, seconds. ColdTTL bounds restoration from the cold store.
	FineTTLSec   int `yaml:"fine_ttl_s"`
	CoarseTTLSec int `yaml:"coarse_ttl_s"`
	ColdTTLSec   int `yaml:"cold_ttl_s"`

	// Decay: factor 1.0 within grace, then exponential with the given
	// half-life down to the floor.
	DecayGraceSec    int     `yaml:"decay_grace_s"`
	DecayHalfLifeSec int     `yaml:"decay_half_life_s"`
	DecayFloor       float64 `yaml:"decay_floor"`

	// Recovery of the presence timestamp toward now.
	RecoveryCooldownSec int     `yaml:"recovery_cooldown_s"`
	RecoveryFraction    float64 `yaml:"recovery_fraction"`
	RecoveryMinStepSec  int     `yaml:"recovery_min_step_s"`

	// Totem attraction. Distances in blocks.
	TotemNearDist  float64 `yaml:"totem_near_dist"`
	TotemMaxRadius float64 `yaml:"totem_max_radius"`
	TotemRate      float64 `yaml:"totem_rate"`
	AttractionOn   bool    `yaml:"attraction_on"`

	// Neighborhood window, in cluster steps horizontally and section steps
	// vertically, around the queried position.
	CivWindowX int `yaml:"civ_window_x"`
	CivWindowZ int `yaml:"civ_window_z"`
	CivWindowY int `yaml:"civ_window_y"`

	// Totem bypass window, in section steps per axis.
	BypassWindowX int `yaml:"bypass_window_x"`
	BypassWindowZ int `yaml:"bypass_window_z"`
	BypassWindowY int `yaml:"bypass_window_y"`

	// Conversion roll: 0% below Threshold totems in the bypass window,
	// linear up to 100% at Saturation.
	ConvertThreshold  int `yaml:"convert_threshold"`
	ConvertSaturation int `yaml:"convert_saturation"`

	MaintenanceSec int `yaml:"maintenance_s"`
}

// Defaults are the documented fallback used when no tuning.yaml is supplied.
func Defaults() Tuning {
	return Tuning{
		Normalization: 50.0,
		SpawnLow:      0.15,
		SpawnMid:      0.50,

		FineTTLSec:   45,
		CoarseTTLSec: 600,
		ColdTTLSec:   72 * 3600,

		DecayGraceSec:    6 * 3600,
		DecayHalfLifeSec: 10 * 3600,
		DecayFloor:       0.35,

		RecoveryCooldownSec: 30,
		RecoveryFraction:    0.25,
		RecoveryMinStepSec:  15 * 60,

		TotemNearDist:  12.0,
		TotemMaxRadius: 96.0,
		TotemRate:      0.35,
		AttractionOn:   true,

		CivWindowX: 2,
		CivWindowZ: 2,
		CivWindowY: 1,

		BypassWindowX: 2,
		BypassWindowZ: 2,
		BypassWindowY: 1,

		ConvertThreshold:  3,
		ConvertSaturation: 6,

		MaintenanceSec: 5,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) FineTTL() time.Duration   { return time.Duration(t.FineTTLSec) * time.Second }
func (t Tuning) CoarseTTL() time.Duration { return time.Duration(t.CoarseTTLSec) * time.Second }
func (t Tuning) ColdTTL() time.Duration   { return time.Duration(t.ColdTTLSec) * time.Second }

func (t Tuning) DecayGrace() time.Duration {
	return time.Duration(t.DecayGraceSec) * time.Second
}

// DecayLambda is the exponential rate derived from the configured half-life.
func (t Tuning) DecayLambda() float64 {
	hl := t.DecayHalfLifeSec
	if hl <= 0 {
		hl = Defaults().DecayHalfLifeSec
	}
	return math.Ln2 / (time.Duration(hl) * time.Second).Seconds()
}

func (t Tuning) RecoveryCooldown() time.Duration {
	return time.Duration(t.RecoveryCooldownSec) * time.Second
}

func (t Tuning) RecoveryMinStep() time.Duration {
	return time.Duration(t.RecoveryMinStepSec) * time.Second
}

func (t Tuning) MaintenanceEvery() time.Duration {
	return time.Duration(t.MaintenanceSec) * time.Second
}
