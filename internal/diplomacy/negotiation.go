// Package diplomacy scores treaty proposals, applies standing treaty effects
// and computes war settlements. It reads and writes world state but never
// logs; callers turn its results into events.
package diplomacy

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/economy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Negotiation tunables.
const (
	DealWeight        = 1.6  // logit units per unit of deal score
	RelationScale     = 25.0 // relation points per logit unit
	AggressionWeight  = 1.5
	DesiredShare      = 0.2 // share of treaty value the target wants compensated
	GateChance        = 0.05
	GateFactor        = 0.1
	MaxRounds         = 3
	MaxCounterChance  = 0.65
	CounterGiftMarkup = 1.15
	ShortageValueMul  = 2.0
	SurplusValueMul   = 0.5
)

// PeaceTreaty is the treaty type exempt from the at-war gate.
const PeaceTreaty = "peace_treaty"

// Stance is the tone a proposal is delivered with.
type Stance string

const (
	Normal     Stance = "normal"
	Friendly   Stance = "friendly"
	Aggressive Stance = "aggressive"
	Threat     Stance = "threat"
)

// Proposal is a treaty offer from the player.
type Proposal struct {
	Type        string  `json:"type"`
	Duration    int     `json:"duration_days"`
	Gift        float64 `json:"signing_gift"`
	Maintenance float64 `json:"maintenance_per_day"`

	Resource       string  `json:"resource_key,omitempty"`
	ResourceAmount float64 `json:"resource_amount,omitempty"`

	DemandSilver   float64 `json:"demand_silver,omitempty"`
	DemandResource string  `json:"demand_resource_key,omitempty"`
	DemandAmount   float64 `json:"demand_resource_amount,omitempty"`

	Stance Stance `json:"stance,omitempty"`
	Round  int    `json:"round,omitempty"`
}

// Context carries the proposer-side figures the target weighs.
type Context struct {
	Day              int
	PlayerWealth     float64
	PlayerPower      float64
	PlayerProduction float64
	TargetPower      float64
	TargetProduction float64
}

// Assessment is the full breakdown of how a target judges a proposal.
type Assessment struct {
	Benefit     float64 `json:"benefit"`
	Risk        float64 `json:"risk"`
	Strategic   float64 `json:"strategic"`
	Structural  float64 `json:"structural"`
	TreatyValue float64 `json:"treaty_value"`
	OfferValue  float64 `json:"offer_value"`
	DemandValue float64 `json:"demand_value"`
	Normalizer  float64 `json:"normalizer"`
	DealScore   float64 `json:"deal_score"`
	StanceBonus float64 `json:"stance_bonus"`
	Logit       float64 `json:"logit"`
	Chance      float64 `json:"chance"`
	Gated       bool    `json:"gated"`
	GateReason  string  `json:"gate_reason,omitempty"`
}

// WealthScale grows logarithmically with combined wealth: 1 at 1k and
// below, 2 at 10k, 3 at 100k.
func WealthScale(combined float64) float64 {
	return math.Max(1, math.Log10(math.Max(1000, combined))-2)
}

// Evaluate scores proposal p as seen by target.
func Evaluate(cat *catalog.Catalog, p Proposal, target *world.Nation, ctx Context) Assessment {
	def, ok := cat.Treaties[p.Type]
	if !ok {
		def = catalog.Treaty{Type: p.Type, BaseChance: 0.25, BaseDuration: 365, Value: 500}
	}
	baseDuration := max(def.BaseDuration, 1)
	duration := p.Duration
	if duration <= 0 {
		duration = baseDuration
	}

	var a Assessment
	targetWealth := mathx.NonNeg(target.Wealth)
	scale := WealthScale(ctx.PlayerWealth + targetWealth)

	a.Benefit, a.Risk, a.Strategic = structural(def, target, ctx)
	durFactor := mathx.Clamp(float64(duration)/float64(baseDuration), 0.25, 3)
	a.Structural = (a.Benefit - a.Risk + a.Strategic) * durFactor

	a.TreatyValue = math.Floor(def.Value * scale)
	a.OfferValue = mathx.NonNeg(p.Gift) +
		resourceValue(cat, p.Resource, p.ResourceAmount, target, ctx.Day) +
		mathx.NonNeg(p.Maintenance)*float64(min(365, duration))
	a.DemandValue = mathx.NonNeg(p.DemandSilver) +
		resourceValue(cat, p.DemandResource, p.DemandAmount, target, ctx.Day)

	a.Normalizer = math.Max(1000, targetWealth*0.1) * scale
	desired := a.TreatyValue / a.Normalizer * DesiredShare
	a.DealScore = a.Structural + (a.OfferValue-a.DemandValue)/a.Normalizer - desired

	a.StanceBonus = stanceBonus(p.Stance, target.Relation, ctx.PlayerPower, ctx.TargetPower, ctx.PlayerWealth, targetWealth)

	base := def.BaseChance
	if base <= 0 {
		base = 0.25
	}
	a.Logit = mathx.Logit(base) +
		DealWeight*a.DealScore +
		(target.Relation-50)/RelationScale -
		target.Aggression*AggressionWeight +
		a.StanceBonus
	a.Chance = mathx.Clamp(mathx.Finite(mathx.Logistic(a.Logit), 0), 0, 1)

	switch {
	case target.Annexed:
		a.Gated, a.GateReason = true, "annexed"
		a.Chance = 0
	case target.Relation < def.MinRelation:
		a.Gated, a.GateReason = true, "relation below minimum"
	case p.Type != PeaceTreaty && target.AtWarWith(world.PlayerID):
		a.Gated, a.GateReason = true, "at war"
	}
	if a.Gated {
		a.Chance = math.Min(GateChance, a.Chance*GateFactor)
	}
	return a
}

// structural derives the benefit/risk/strategic triple from relative
// wealth, power and production.
func structural(def catalog.Treaty, target *world.Nation, ctx Context) (benefit, risk, strategic float64) {
	wealthRatio := mathx.Clamp(mathx.SafeDiv(ctx.PlayerWealth, target.Wealth, 2), 0, 4)
	powerRatio := mathx.Clamp(mathx.SafeDiv(ctx.PlayerPower, ctx.TargetPower, 2), 0, 4)
	prodRatio := mathx.Clamp(mathx.SafeDiv(ctx.PlayerProduction, ctx.TargetProduction, 1), 0, 4)

	switch def.Category {
	case "economic":
		benefit = 0.35 * math.Min(prodRatio, 2)
		risk = 0.15 * math.Max(0, wealthRatio-1)
		if def.PriceConvergence {
			risk += 0.1
		}
	case "military":
		benefit = 0.4 * math.Min(powerRatio, 2)
		risk = 0.2 + 0.25*target.Aggression
		if def.Alliance {
			risk += 0.05 * float64(target.ActiveWars())
		}
	case "peace":
		if target.AtWarWith(world.PlayerID) {
			benefit = 0.6
			if w, ok := target.Wars[world.PlayerID].(world.AtWar); ok && w.Score < 0 {
				benefit += math.Min(0.6, -w.Score/100)
			}
		} else {
			benefit = 0.2
		}
	default:
		benefit = 0.25
		risk = 0.1
	}
	// Partners of comparable standing are worth more.
	strategic = 0.15 * (1 - math.Min(1, math.Abs(math.Log(math.Max(wealthRatio, 0.01)))))
	return benefit, risk, strategic
}

func stanceBonus(s Stance, relation, playerPower, targetPower, playerWealth, targetWealth float64) float64 {
	powerRatio := mathx.SafeDiv(playerPower, targetPower, 2)
	wealthRatio := mathx.SafeDiv(playerWealth, targetWealth, 2)
	switch s {
	case Friendly:
		if relation > 20 {
			return (relation - 20) / 160
		}
	case Aggressive:
		bonus := 0.0
		if powerRatio > 1 {
			bonus += math.Min(1, powerRatio-1) * 0.6
		}
		if wealthRatio > 1 {
			bonus += math.Min(1, wealthRatio-1) * 0.3
		}
		return bonus - 0.2
	case Threat:
		if powerRatio > 1.2 {
			return math.Min(1.5, powerRatio-1)
		}
		return -1
	}
	return 0
}

// resourceValue prices a resource offer at base price, doubled when the
// target is short of it and halved when it has a surplus.
func resourceValue(cat *catalog.Catalog, resource string, amount float64, target *world.Nation, day int) float64 {
	if resource == "" || amount <= 0 || mathx.Finite(amount, 0) == 0 {
		return 0
	}
	v := cat.BasePrice(resource) * amount
	st := economy.Status(resource, target, day)
	switch {
	case st.Shortage:
		v *= ShortageValueMul
	case st.Surplus:
		v *= SurplusValueMul
	}
	return v
}

// Shortfall is how many deal-score units the proposal lacks for an even
// chance of acceptance.
func (a Assessment) Shortfall() float64 {
	return math.Max(0, -a.Logit) / DealWeight
}

// CounterChance is the probability the target answers a rejection with a
// counter-proposal in the given round.
func CounterChance(relation, aggression float64, round int) float64 {
	return math.Max(0, math.Min(MaxCounterChance, 0.25+relation/200-aggression*0.1+float64(round)*0.08))
}

// Counter builds the target's counter-proposal for a rejected, ungated
// proposal, or returns false when none is offered.
func Counter(cat *catalog.Catalog, p Proposal, target *world.Nation, a Assessment, rng entropy.Source) (Proposal, bool) {
	if a.Gated || p.Round >= MaxRounds {
		return Proposal{}, false
	}
	if !entropy.Chance(rng, CounterChance(target.Relation, target.Aggression, p.Round)) {
		return Proposal{}, false
	}

	def := cat.Treaties[p.Type]
	baseDuration := max(def.BaseDuration, 1)
	duration := p.Duration
	if duration <= 0 {
		duration = baseDuration
	}

	shortfall := a.Shortfall()
	floor := 120 + (1-target.Relation/100)*600
	next := p
	next.Gift = math.Ceil(mathx.NonNeg(p.Gift) + math.Max(floor, shortfall*a.Normalizer*CounterGiftMarkup))
	if shortfall > 1 {
		next.Duration = max(1, int(math.Ceil(float64(duration)*0.75)))
	} else {
		next.Duration = min(int(math.Ceil(float64(duration)*1.25)), 2*baseDuration)
	}
	next.Round = p.Round + 1
	return next, true
}

// Outcome is the resolved result of one negotiation round.
type Outcome struct {
	Assessment Assessment
	Accepted   bool
	Counter    *Proposal
}

// Negotiate rolls acceptance for p and, on rejection, a possible counter.
func Negotiate(cat *catalog.Catalog, p Proposal, target *world.Nation, ctx Context, rng entropy.Source) Outcome {
	a := Evaluate(cat, p, target, ctx)
	out := Outcome{Assessment: a}
	if rng.Float64() < a.Chance {
		out.Accepted = true
		return out
	}
	if c, ok := Counter(cat, p, target, a, rng); ok {
		out.Counter = &c
	}
	return out
}
