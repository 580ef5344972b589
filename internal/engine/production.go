package engine

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/labor"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// militaryRole is paid as military pay rather than salary.
const militaryRole = "soldier"

// Output is what one production pass made and used.
type Output struct {
	Produced map[string]float64
	Used     map[string]float64
}

// StaffingRatio is the share of a building's job slots that are filled,
// given each role's fill rate across all its buildings.
func StaffingRatio(b catalog.Building, fill map[string]float64) float64 {
	total, filled := 0, 0.0
	for _, role := range sortedKeys(b.Jobs) {
		jobs := b.Jobs[role]
		total += jobs
		filled += float64(jobs) * fill[role]
	}
	if total == 0 {
		return 1
	}
	return filled / float64(total)
}

// FillRates returns, per role, employed people over job slots, capped at 1.
func FillRates(p *world.Player, capacity map[string]int) map[string]float64 {
	out := make(map[string]float64, len(capacity))
	for role, slots := range capacity {
		if slots <= 0 {
			continue
		}
		out[role] = math.Min(1, float64(p.Strata[role].Count)/float64(slots))
	}
	return out
}

// produce runs every building in catalog order. A building works at its
// staffing ratio scaled by labor efficiency; when inputs are short it runs
// at the fraction the stockpile allows. Owners are credited the market
// value of output, pay for inputs and wages, and pay business tax on what
// is left.
func produce(cat *catalog.Catalog, s *world.State, l *ledger.Ledger) Output {
	p := &s.Player
	out := Output{Produced: make(map[string]float64), Used: make(map[string]float64)}
	capacity := labor.Capacity(cat, p.Buildings)
	fill := FillRates(p, capacity)
	eff := mathx.Clamp(p.LaborEfficiency, 0, 1)

	for _, key := range cat.BuildingKeys() {
		count := p.Buildings[key]
		if count <= 0 {
			continue
		}
		b := cat.Buildings[key]
		mult := float64(count) * StaffingRatio(b, fill) * eff
		if mult <= 0 {
			continue
		}
		for _, res := range sortedKeys(b.Inputs) {
			need := b.Inputs[res] * mult
			if need <= 0 {
				continue
			}
			if have := p.Inventory[res]; have < need {
				mult *= have / need
			}
		}
		if mult <= 0 {
			continue
		}

		cost := 0.0
		for _, res := range sortedKeys(b.Inputs) {
			used := b.Inputs[res] * mult
			p.Inventory[res] = mathx.NonNeg(p.Inventory[res] - used)
			out.Used[res] += used
			cost += used * s.Market[res].Price
		}
		revenue := 0.0
		for _, res := range sortedKeys(b.Outputs) {
			made := b.Outputs[res] * mult
			p.Inventory[res] += made
			out.Produced[res] += made
			revenue += made * s.Market[res].Price
		}

		owner := ledger.Stratum(b.Owner)
		_, owned := p.Strata[b.Owner]
		meta := ledger.Meta{"building": key, "count": count}
		l.Transfer(ledger.Void, owner, revenue, ledger.CategoryIncome, ledger.OwnerRevenue, meta)
		spent := l.Transfer(owner, ledger.Void, cost, ledger.CategoryExpense, ledger.ProductionCosts, meta)
		spent += payWorkers(cat, p, l, b, count, fill, owner)
		if profit := revenue - spent; owned && profit > 0 && p.Tax.BusinessTax > 0 {
			l.Transfer(owner, ledger.Treasury, profit*p.Tax.BusinessTax, ledger.CategoryTax, ledger.BusinessTax, meta)
		}
	}
	return out
}

// payWorkers pays the building's private roles out of the owner's purse.
// The owner's own slots and state-paid roles draw nothing here.
func payWorkers(cat *catalog.Catalog, p *world.Player, l *ledger.Ledger, b catalog.Building, count int, fill map[string]float64, owner ledger.Entity) float64 {
	paid := 0.0
	for _, role := range sortedKeys(b.Jobs) {
		if role == b.Owner || cat.Strata[role].StatePaid {
			continue
		}
		workers := float64(b.Jobs[role]*count) * fill[role]
		wage := labor.ExpectedWage(p, cat, role)
		paid += l.Transfer(owner, ledger.Stratum(role), workers*wage, ledger.CategoryIncome, ledger.Wage,
			ledger.Meta{"building": b.Key, "workers": workers})
	}
	return paid
}

// payStateSalaries pays state-paid strata from the treasury. Whatever the
// treasury cannot cover goes unpaid.
func payStateSalaries(cat *catalog.Catalog, p *world.Player, l *ledger.Ledger) {
	for _, key := range cat.StratumKeys() {
		def := cat.Strata[key]
		st := p.Strata[key]
		if !def.StatePaid || st.Count <= 0 {
			continue
		}
		sub := ledger.Salary
		if key == militaryRole {
			sub = ledger.MilitaryPay
		}
		amount := float64(st.Count) * labor.ExpectedWage(p, cat, key)
		l.Transfer(ledger.Treasury, ledger.Stratum(key), amount, ledger.CategoryState, sub, ledger.Meta{"people": st.Count})
	}
}

// collectHeadTax charges each stratum count × base × rate. A negative rate
// is a per-head subsidy, paid only if the treasury can cover it in full.
func collectHeadTax(cat *catalog.Catalog, p *world.Player, l *ledger.Ledger) {
	for _, key := range cat.StratumKeys() {
		st := p.Strata[key]
		if st.Count <= 0 {
			continue
		}
		rate, ok := p.Tax.HeadTax[key]
		if !ok {
			rate = 1
		}
		due := float64(st.Count) * cat.Strata[key].HeadTaxBase * rate
		meta := ledger.Meta{"people": st.Count, "rate": rate}
		switch {
		case due > 0:
			l.Transfer(ledger.Stratum(key), ledger.Treasury, due, ledger.CategoryTax, ledger.HeadTax, meta)
		case due < 0:
			l.Pay(ledger.Treasury, ledger.Stratum(key), -due, ledger.CategoryState, ledger.Subsidy, meta)
		}
	}
}

// updateWages moves each role's wage toward what its members actually took
// home today, floored at the cost of living.
func updateWages(cat *catalog.Catalog, s *world.State, l *ledger.Ledger) {
	p := &s.Player
	prices := s.Prices()
	counts := make(map[string]int, len(p.Strata))
	income := make(map[string]float64, len(p.Strata))
	expense := make(map[string]float64, len(p.Strata))
	floor := make(map[string]float64, len(p.Strata))
	prev := make(map[string]float64, len(p.Strata))
	for _, key := range cat.StratumKeys() {
		if key == world.Unemployed {
			continue
		}
		counts[key] = p.Strata[key].Count
		income[key] = l.Stats().IncomeOf(key, ledger.Wage, ledger.Salary, ledger.MilitaryPay, ledger.OwnerRevenue)
		expense[key] = l.Stats().ExpenseOf(key, ledger.HeadTax, ledger.ProductionCosts, ledger.Wage, ledger.BusinessTax)
		floor[key] = labor.LivingCostFloor(cat, key, prices, p.Tax.HeadTax)
		prev[key] = labor.ExpectedWage(p, cat, key)
	}
	p.Wages = labor.UpdateWages(prev, counts, income, expense, floor)
}

// perCapitaIncome is each stratum's total income today divided by its size.
func perCapitaIncome(cat *catalog.Catalog, p *world.Player, stats *ledger.Stats) map[string]float64 {
	out := make(map[string]float64, len(p.Strata))
	for _, key := range cat.StratumKeys() {
		c := p.Strata[key].Count
		if c <= 0 {
			continue
		}
		out[key] = stats.TotalIncome(key) / float64(c)
	}
	return out
}

func totalIncome(cat *catalog.Catalog, stats *ledger.Stats) map[string]float64 {
	out := make(map[string]float64, len(cat.Strata))
	for _, key := range cat.StratumKeys() {
		out[key] = stats.TotalIncome(key)
	}
	return out
}
