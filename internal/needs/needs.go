// Package needs evaluates what each stratum consumes, what it lacks, and
// how it lives: unlocked luxury tiers, shortages with reasons, living
// standard, approval, starvation and emigration.
package needs

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Tunables.
const (
	ShortageRatio         = 0.99
	SatisfactionSmoothing = 0.2
	ApprovalDrift         = 0.1
	StarvationThreshold   = 0.5
	StarvationDays        = 3
	StarvationRate        = 0.05
	ExodusApproval        = 25.0
	ExodusInfluenceShare  = 0.1
	EmigrationRate        = 0.02
	MinUnlockMultiplier   = 0.3
	MaxUnlockMultiplier   = 10.0
)

// Input is what an evaluation reads besides the player.
type Input struct {
	Prices      map[string]float64
	ResourceTax map[string]float64
	Income      map[string]float64 // total daily income per stratum
	Epoch       int
	Day         int
}

// Result summarizes one evaluation.
type Result struct {
	Consumed         map[string]float64 // resource → amount bought or used
	Wanted           map[string]float64 // resource → requirement
	Deaths           int
	Emigrants        int
	StabilityPenalty float64
	Events           []events.Event
}

// Evaluate runs consumption and living-standard evaluation for every
// stratum of p, paying through l. Strata are processed in sorted order.
func Evaluate(cat *catalog.Catalog, p *world.Player, l *ledger.Ledger, in Input) Result {
	res := Result{
		Consumed: make(map[string]float64),
		Wanted:   make(map[string]float64),
	}

	totalInfluence := 0.0
	for _, key := range cat.StratumKeys() {
		totalInfluence += cat.Strata[key].Influence * float64(p.Strata[key].Count)
	}

	weighted, employed := 0.0, 0
	for _, key := range cat.StratumKeys() {
		st := p.Strata[key]
		if st.Count <= 0 {
			st.Shortages = nil
			st.StarvationStreak = 0
			p.Strata[key] = st
			continue
		}
		def := cat.Strata[key]
		consume(cat, def, p, l, in, &res)
		st = p.Strata[key]

		// Starvation.
		if st.EssentialSatisfaction < StarvationThreshold {
			st.StarvationStreak++
		} else {
			st.StarvationStreak = 0
		}
		if st.StarvationStreak >= StarvationDays {
			deaths := max(1, int(math.Floor(float64(st.Count)*(1-st.EssentialSatisfaction)*StarvationRate)))
			deaths = min(deaths, st.Count)
			st.Count -= deaths
			res.Deaths += deaths
			res.Events = append(res.Events, events.Starvation{Day: in.Day, Stratum: key, Deaths: deaths})
		}

		// Living standard and approval.
		st.Living = Living(def, st, st.Living.UnlockMultiplier)
		target := math.Min(st.Satisfaction*100, st.Living.ApprovalCap)
		st.Approval = mathx.Clamp(mathx.Approach(st.Approval, target, ApprovalDrift), 0, world.MaxApproval)
		p.Strata[key] = st

		// Exodus.
		if st.Approval < ExodusApproval && st.Count > 0 && totalInfluence > 0 {
			share := def.Influence * float64(st.Count) / totalInfluence
			if share < ExodusInfluenceShare {
				res.Emigrants += emigrate(p, l, key, in.Day, &res)
			} else {
				res.StabilityPenalty += math.Min(2, 0.5+share*1.5)
			}
		}

		if key != world.Unemployed {
			weighted += p.Strata[key].Satisfaction * float64(p.Strata[key].Count)
			employed += p.Strata[key].Count
		}
	}

	p.LaborEfficiency = 1
	if employed > 0 {
		p.LaborEfficiency = LaborEfficiency(weighted / float64(employed))
	}
	return res
}

func consume(cat *catalog.Catalog, def catalog.Stratum, p *world.Player, l *ledger.Ledger, in Input, res *Result) {
	key := def.Key
	st := p.Strata[key]
	count := float64(st.Count)
	perCapWealth := st.Wealth / count

	essentialCost := 0.0
	for _, r := range mergedKeys(def.Needs, nil) {
		essentialCost += def.Needs[r] * price(cat, in.Prices, r)
	}
	incomeRatio := mathx.SafeDiv(in.Income[key]/count, essentialCost, 1)
	wealthRatio := mathx.SafeDiv(perCapWealth, def.StartingWealth, 1)
	mult := UnlockMultiplier(incomeRatio, wealthRatio, def.WealthElasticity)

	base, luxury, unlocked := EffectiveNeeds(cat, def, mult, in.Epoch)

	var shortages []world.Shortage
	essentialSum, essentialN, allSum, allN := 0.0, 0, 0.0, 0
	subsidyFailed := false

	for _, r := range mergedKeys(base, luxury) {
		perCap := base[r] + luxury[r]
		need := perCap * count
		if need <= 0 {
			continue
		}
		res.Wanted[r] += need
		stock := p.Inventory[r]

		var got float64
		reason := world.OutOfStock
		if cat.Tradable(r) {
			pr := price(cat, in.Prices, r)
			wealth := p.Strata[key].Wealth
			affordable := wealth / pr
			got = math.Min(need, math.Min(stock, affordable))
			if got > 0 {
				p.Inventory[r] = stock - got
				res.Consumed[r] += got
				cost := got * pr
				sub := ledger.EssentialNeeds
				if base[r] == 0 {
					sub = ledger.LuxuryNeeds
				}
				l.Transfer(ledger.Stratum(key), ledger.Void, cost, ledger.CategoryExpense, sub,
					ledger.Meta{"resource": r, "quantity": got, "price": pr})

				tax := cost * in.ResourceTax[r]
				switch {
				case tax > 0:
					l.Transfer(ledger.Stratum(key), ledger.Treasury, tax, ledger.CategoryTax, ledger.TransactionTax,
						ledger.Meta{"resource": r})
				case tax < 0:
					if !l.Pay(ledger.Treasury, ledger.Stratum(key), -tax, ledger.CategoryIncome, ledger.Subsidy,
						ledger.Meta{"resource": r}) {
						subsidyFailed = true
					}
				}
			}
			canAfford := affordable >= need*ShortageRatio
			inStock := stock >= need*ShortageRatio
			switch {
			case canAfford && !inStock:
				reason = world.OutOfStock
			case !canAfford && inStock:
				reason = world.Unaffordable
			default:
				reason = world.Both
			}
		} else {
			got = math.Min(need, stock)
			if got > 0 {
				p.Inventory[r] = stock - got
				res.Consumed[r] += got
			}
		}

		ratio := got / need
		allSum += ratio
		allN++
		if base[r] > 0 {
			essentialSum += ratio
			essentialN++
		}
		if ratio < ShortageRatio {
			shortages = append(shortages, world.Shortage{Resource: r, Ratio: ratio, Reason: reason})
		}
	}

	st = p.Strata[key]
	sat, essential := 1.0, 1.0
	if allN > 0 {
		sat = allSum / float64(allN)
	}
	if essentialN > 0 {
		essential = essentialSum / float64(essentialN)
	}
	st.EssentialSatisfaction = essential
	st.Satisfaction = mathx.Clamp(mathx.Approach(st.Satisfaction, sat, SatisfactionSmoothing), 0, 1)
	st.Shortages = shortages
	st.Living.UnlockMultiplier = mult
	st.Living.UnlockedTiers = unlocked
	p.Strata[key] = st

	if len(shortages) > 0 {
		names := make([]string, len(shortages))
		for i, s := range shortages {
			names[i] = s.Resource
		}
		res.Events = append(res.Events, events.Shortage{
			Day: in.Day, Stratum: key, Resources: names, Reason: string(shortages[0].Reason),
		})
	}
	if subsidyFailed {
		res.Events = append(res.Events, events.Notice{
			Day:     in.Day,
			Message: fmt.Sprintf("treasury empty, cannot pay %s consumption subsidy", strings.ToLower(def.Name)),
		})
	}
}

func emigrate(p *world.Player, l *ledger.Ledger, key string, day int, res *Result) int {
	st := p.Strata[key]
	leaving := min(st.Count, max(1, int(math.Floor(float64(st.Count)*EmigrationRate))))
	capital := st.Wealth / float64(st.Count) * float64(leaving)
	moved := l.Transfer(ledger.Stratum(key), ledger.Void, capital, ledger.CategoryExpense, ledger.CapitalFlight,
		ledger.Meta{"people": leaving})
	st = p.Strata[key]
	st.Count -= leaving
	p.Strata[key] = st
	res.Events = append(res.Events, events.Emigration{Day: day, Stratum: key, People: leaving, Capital: moved})
	return leaving
}

// EffectiveNeeds splits per-capita needs into base needs and the luxury
// tiers unlocked at mult, skipping resources not yet available in epoch.
func EffectiveNeeds(cat *catalog.Catalog, def catalog.Stratum, mult float64, epoch int) (base, luxury map[string]float64, unlocked int) {
	base = make(map[string]float64, len(def.Needs))
	luxury = make(map[string]float64)
	for r, v := range def.Needs {
		if available(cat, r, epoch) {
			base[r] = v
		}
	}
	tiers := append([]catalog.LuxuryTier(nil), def.Luxury...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	for _, t := range tiers {
		if mult < t.Threshold {
			break
		}
		unlocked++
		for r, v := range t.Needs {
			if available(cat, r, epoch) {
				luxury[r] += v
			}
		}
	}
	return base, luxury, unlocked
}

// UnlockMultiplier combines earning power (income over essential cost,
// scaled by elasticity) with willingness to spend (wealth over starting
// wealth). The result is clamped to [0.3, 10].
func UnlockMultiplier(incomeRatio, wealthRatio, elasticity float64) float64 {
	var income float64
	switch {
	case incomeRatio <= 0:
		income = 0.3
	case incomeRatio < 1:
		income = 0.3 + incomeRatio*0.7*math.Min(1.2, elasticity)
	default:
		growth := math.Sqrt(incomeRatio) * (1 + math.Log(incomeRatio)*0.25)
		income = 1 + (growth-1)*elasticity
	}

	var wealth float64
	switch {
	case wealthRatio < 0.3:
		wealth = 0.4
	case wealthRatio < 1:
		wealth = 0.4 + (wealthRatio-0.3)*0.86
	case wealthRatio < 2:
		wealth = 1
	default:
		wealth = math.Min(1.3+(elasticity-1)*0.1, 1+(wealthRatio-2)*0.05*elasticity)
	}
	return mathx.Clamp(mathx.Finite(income*wealth, MinUnlockMultiplier), MinUnlockMultiplier, MaxUnlockMultiplier)
}

// Tier is one living-standard band.
type Tier struct {
	Name        string
	Below       float64 // score upper bound (exclusive)
	ApprovalCap float64
}

// Tiers lists living-standard bands in ascending order.
var Tiers = []Tier{
	{"destitute", 20, 30},
	{"poor", 40, 50},
	{"subsistence", 55, 70},
	{"comfortable", 70, 85},
	{"prosperous", 85, 95},
	{"luxurious", math.Inf(1), 100},
}

// Living scores a stratum's living standard from wealth, satisfaction and
// the share of luxury tiers unlocked.
func Living(def catalog.Stratum, st world.Stratum, mult float64) world.LivingStandard {
	wealthRatio := 0.0
	if st.Count > 0 && def.StartingWealth > 0 {
		wealthRatio = st.Wealth / float64(st.Count) / def.StartingWealth
	}
	lux := 0.0
	if n := len(def.Luxury); n > 0 {
		lux = float64(st.Living.UnlockedTiers) / float64(n)
	}
	score := mathx.Clamp(math.Min(40, wealthRatio*4)+st.Satisfaction*30+lux*30, 0, 100)
	tier := Tiers[len(Tiers)-1]
	for _, t := range Tiers {
		if score < t.Below {
			tier = t
			break
		}
	}
	return world.LivingStandard{
		Score:            score,
		Tier:             tier.Name,
		ApprovalCap:      tier.ApprovalCap,
		UnlockMultiplier: mult,
		UnlockedTiers:    st.Living.UnlockedTiers,
	}
}

// LaborEfficiency maps average satisfaction to production efficiency.
func LaborEfficiency(avgSatisfaction float64) float64 {
	return 0.3 + 0.7*mathx.Clamp(avgSatisfaction, 0, 1)
}

func available(cat *catalog.Catalog, r string, epoch int) bool {
	res, ok := cat.Resources[r]
	return ok && res.Epoch <= epoch
}

func price(cat *catalog.Catalog, prices map[string]float64, r string) float64 {
	if p := prices[r]; p > 0 {
		return p
	}
	return math.Max(0.0001, cat.BasePrice(r))
}

func mergedKeys(a, b map[string]float64) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var keys []string
	for k := range a {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for k := range b {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
