package war

import (
	"maps"
	"math"
	"slices"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/mathx"
)

// Battle tunables.
const (
	TerrainBonus     = 1.2
	EpochBonus       = 0.05
	ObsoletePenalty  = 0.25
	MaxObsolete      = 0.75
	DefaultObsolete  = 2
	DecisiveMargin   = 0.3
	DecisiveLoot     = 0.08
	OrdinaryLoot     = 0.04
	PowerVariance    = 0.15
	LossVarianceLow  = 0.9
	LossVarianceHigh = 1.1
)

// LootShares splits the loot value across resources.
var LootShares = map[string]float64{
	"food":   0.25,
	"wood":   0.12,
	"stone":  0.08,
	"silver": 0.30,
	"iron":   0.10,
	"copper": 0.05,
	"cloth":  0.05,
	"tools":  0.05,
}

// Side is one army entering a battle.
type Side struct {
	Army   map[string]int
	Epoch  int
	Buff   float64 // flat power modifier, 0.1 = +10%
	Wealth float64 // only the defender's matters; it sizes the loot
}

// Result is the outcome of one battle, seen from the attacker.
type Result struct {
	Victory          bool               `json:"victory"`
	Decisive         bool               `json:"decisive"`
	AttackerPower    float64            `json:"attacker_power"`
	DefenderPower    float64            `json:"defender_power"`
	Advantage        float64            `json:"advantage"`
	AttackerLosses   map[string]int     `json:"attacker_losses"`
	DefenderLosses   map[string]int     `json:"defender_losses"`
	AttackerCounters int                `json:"attacker_counters"`
	DefenderCounters int                `json:"defender_counters"`
	Loot             map[string]float64 `json:"loot,omitempty"`
	LootValue        float64            `json:"loot_value"`
}

// Power is the raw strength of an army fielded in epoch: (attack+defense)
// per unit, with a bonus for units a few epochs old and a growing penalty
// once they are obsolete.
func Power(cat *catalog.Catalog, army map[string]int, epoch int, buff float64) float64 {
	total := 0.0
	for _, k := range sortedUnits(army) {
		count := army[k]
		u, ok := cat.Units[k]
		if !ok || count <= 0 {
			continue
		}
		p := (u.Attack + u.Defense) * float64(count)
		limit := u.ObsoleteAfter
		if limit <= 0 {
			limit = DefaultObsolete
		}
		diff := epoch - u.Epoch
		switch {
		case diff > limit:
			p *= 1 - math.Min(MaxObsolete, float64(diff-limit)*ObsoletePenalty)
		case diff > 0:
			p *= 1 + float64(diff)*EpochBonus
		}
		total += p
	}
	return total * math.Max(0, 1+buff)
}

// CounterBonus is the multiplier army a earns against army d from category
// counters. Each matching pair contributes (counter-1) weighted by both
// sides' share of their army, so the bonus is bounded by the largest
// counter regardless of army size.
func CounterBonus(cat *catalog.Catalog, a, d map[string]int) (float64, int) {
	aTotal, dTotal := headcount(a), headcount(d)
	if aTotal == 0 || dTotal == 0 {
		return 1, 0
	}
	mult, count := 1.0, 0
	for _, ak := range sortedUnits(a) {
		au, ok := cat.Units[ak]
		if !ok || a[ak] <= 0 {
			continue
		}
		for _, dk := range sortedUnits(d) {
			du, ok := cat.Units[dk]
			if !ok || d[dk] <= 0 {
				continue
			}
			c, ok := au.Counters[du.Category]
			if !ok {
				continue
			}
			mult += (c - 1) * float64(a[ak]) / float64(aTotal) * float64(d[dk]) / float64(dTotal)
			count++
		}
	}
	return mult, count
}

// Resolve fights a battle between two rosters. The defender holds the
// ground and gets the terrain bonus.
func Resolve(cat *catalog.Catalog, att, def Side, rng entropy.Source) Result {
	aMult, aCount := CounterBonus(cat, att.Army, def.Army)
	dMult, dCount := CounterBonus(cat, def.Army, att.Army)
	ap := Power(cat, att.Army, att.Epoch, att.Buff) * aMult
	dp := Power(cat, def.Army, def.Epoch, def.Buff) * dMult * TerrainBonus

	res := ResolvePowers(ap, dp, att.Army, def.Army, def.Wealth, rng)
	res.AttackerCounters = aCount
	res.DefenderCounters = dCount
	return res
}

// ResolvePowers decides a battle from already-modified side powers. Both
// powers are perturbed by up to ±15%; losses follow the power ratio and
// never exceed the units present.
func ResolvePowers(attPower, defPower float64, attArmy, defArmy map[string]int, defWealth float64, rng entropy.Source) Result {
	ap := mathx.NonNeg(attPower) * entropy.Range(rng, 1-PowerVariance, 1+PowerVariance)
	dp := mathx.NonNeg(defPower) * entropy.Range(rng, 1-PowerVariance, 1+PowerVariance)

	adv := mathx.SafeDiv(ap, ap+dp, 0.5)
	res := Result{
		Victory:       adv > 0.5,
		Decisive:      math.Abs(adv-0.5) > DecisiveMargin,
		AttackerPower: math.Floor(ap),
		DefenderPower: math.Floor(dp),
		Advantage:     adv,
	}

	ratio := 3.0
	if dp > 0 {
		ratio = ap / dp
	}
	ratio = math.Max(0.1, ratio)

	var attRate, defRate float64
	if res.Victory {
		f := math.Max(1, ratio)
		attRate = mathx.Clamp(0.08/f+0.03, 0.03, 0.45)
		defRate = mathx.Clamp(0.35+math.Log10(f+1)*0.45, 0.3, 0.95)
	} else {
		inv := math.Max(1, 1/ratio)
		attRate = mathx.Clamp(0.32+math.Log10(inv+1)*0.55, 0.25, 0.95)
		defRate = mathx.Clamp(0.12/inv+0.18, 0.12, 0.6)
	}
	spread := entropy.Range(rng, LossVarianceLow, LossVarianceHigh)
	res.AttackerLosses = casualties(attArmy, attRate*spread)
	res.DefenderLosses = casualties(defArmy, defRate*spread)

	if res.Victory {
		share := OrdinaryLoot
		if res.Decisive {
			share = DecisiveLoot
		}
		res.Loot = lootSplit(mathx.NonNeg(defWealth) * share)
		for _, r := range sortedKeys(res.Loot) {
			res.LootValue += res.Loot[r]
		}
	}
	return res
}

func casualties(army map[string]int, rate float64) map[string]int {
	rate = mathx.Clamp(rate, 0, 1)
	out := make(map[string]int, len(army))
	for k, c := range army {
		if c <= 0 {
			continue
		}
		out[k] = min(c, int(math.Floor(float64(c)*rate)))
	}
	return out
}

func lootSplit(value float64) map[string]float64 {
	loot := make(map[string]float64, len(LootShares))
	for r, share := range LootShares {
		if v := math.Floor(value * share); v > 0 {
			loot[r] = v
		}
	}
	return loot
}

// ApplyLosses removes casualties from army and returns the units removed.
func ApplyLosses(army map[string]int, losses map[string]int) int {
	removed := 0
	for k, n := range losses {
		n = min(n, army[k])
		if n <= 0 {
			continue
		}
		army[k] -= n
		removed += n
	}
	return removed
}

func headcount(army map[string]int) int {
	total := 0
	for _, c := range army {
		if c > 0 {
			total += c
		}
	}
	return total
}

func sortedUnits(army map[string]int) []string {
	return slices.Sorted(maps.Keys(army))
}
