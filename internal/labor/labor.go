// Package labor allocates the player's population across job roles: growth
// and decline, layoffs when slots disappear, hiring into vacancies with
// tier gating, income-driven migration between roles, and wage updates.
//
// Population always moves together with its per-capita share of the source
// role's wealth, via the ledger.
package labor

import (
	"math"
	"sort"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Tunables.
const (
	VacancyFillRatio        = 0.5  // share of a role's vacancy filled per tick
	MigrationRatio          = 0.02 // share of the source role that migrates
	LowPopGuarantee         = 0.2  // migration ratio below LowPopThreshold
	LowPopThreshold         = 20
	MigrationCooldownDays   = 5
	SameTierResistance      = 1.5
	DowngradeResistance     = 2.0
	MultiTierDowngrade      = 1.5
	UpgradeBonus            = 0.8
	StruggleRatio           = 0.7 // source income below this share of the average
	OpportunityThreshold    = 1.3 // target income above source × this × resistance
	TierSeekWealthThreshold = 2.0
	TierUpgradeAttraction   = 0.2
	WageSmoothing           = 0.35
	BaseWageReference       = 1.0
	PriceFloor              = 0.0001
)

// TierPromotionWealthRatio is the share of a role's starting wealth a
// lower-tier candidate needs per capita to be hired into it.
var TierPromotionWealthRatio = map[int]float64{0: 0, 1: 0, 2: 0.8, 3: 0.8}

// soldiers never leave for other jobs.
const soldier = "soldier"

// Capacity returns job slots per role for the given buildings.
func Capacity(cat *catalog.Catalog, buildings map[string]int) map[string]int {
	slots := make(map[string]int)
	for _, key := range sortedKeys(buildings) {
		n := buildings[key]
		if n <= 0 {
			continue
		}
		b, ok := cat.Buildings[key]
		if !ok {
			continue
		}
		for role, per := range b.Jobs {
			slots[role] += per * n
		}
	}
	return slots
}

// Housing returns total housing capacity of the given buildings.
func Housing(cat *catalog.Catalog, buildings map[string]int) int {
	total := 0
	for key, n := range buildings {
		if n > 0 {
			total += cat.Buildings[key].Housing * n
		}
	}
	return total
}

// AllocatePopulation reconciles role counts with a new total. Growth joins
// the unemployed pool; decline drains unemployed first and then every role
// proportionally, largest remainder first.
func AllocatePopulation(p *world.Player, cat *catalog.Catalog, target int) {
	if target < 0 {
		target = 0
	}
	diff := target - p.TotalPopulation()
	if diff == 0 {
		return
	}
	unemp := p.Strata[world.Unemployed]
	if diff > 0 {
		unemp.Count += diff
		p.Strata[world.Unemployed] = unemp
		return
	}

	need := -diff
	take := min(unemp.Count, need)
	unemp.Count -= take
	p.Strata[world.Unemployed] = unemp
	need -= take
	if need <= 0 {
		return
	}

	employed := 0
	for _, role := range cat.RolePriority {
		employed += p.Strata[role].Count
	}
	if employed == 0 {
		return
	}

	type share struct {
		role      string
		remove    int
		remainder float64
	}
	shares := make([]share, 0, len(cat.RolePriority))
	assigned := 0
	for _, role := range cat.RolePriority {
		c := p.Strata[role].Count
		if c <= 0 {
			continue
		}
		exact := float64(need) * float64(c) / float64(employed)
		rm := min(int(math.Floor(exact)), c)
		assigned += rm
		shares = append(shares, share{role: role, remove: rm, remainder: exact - math.Floor(exact)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].remainder > shares[j].remainder })
	for i := 0; assigned < need && i < len(shares)*2; i++ {
		sh := &shares[i%len(shares)]
		if sh.remove < p.Strata[sh.role].Count {
			sh.remove++
			assigned++
		}
	}
	for _, sh := range shares {
		st := p.Strata[sh.role]
		st.Count -= sh.remove
		p.Strata[sh.role] = st
	}
}

// HandleLayoffs moves workers in excess of capacity to the unemployed pool,
// carrying their per-capita wealth.
func HandleLayoffs(p *world.Player, cat *catalog.Catalog, l *ledger.Ledger, capacity map[string]int) int {
	total := 0
	for _, role := range cat.RolePriority {
		st := p.Strata[role]
		slots := max(0, capacity[role])
		if st.Count <= slots {
			continue
		}
		laid := st.Count - slots
		move(p, l, role, world.Unemployed, laid, "layoff")
		total += laid
	}
	return total
}

type vacancy struct {
	role     string
	open     int
	net      float64
	priority int
	tier     int
	required float64
}

// FillVacancies hires into open slots, highest net income first. Tier 0/1
// roles hire from the unemployed directly. Higher tiers take the unemployed
// only when they meet the wealth requirement and otherwise promote from
// wealthy lower-tier roles or same-tier roles with surplus workers.
func FillVacancies(p *world.Player, cat *catalog.Catalog, l *ledger.Ledger, capacity map[string]int) int {
	var open []vacancy
	for i, role := range cat.RolePriority {
		v := max(0, capacity[role]) - p.Strata[role].Count
		if v <= 0 {
			continue
		}
		def := cat.Strata[role]
		open = append(open, vacancy{
			role:     role,
			open:     v,
			net:      NetIncome(p, cat, role),
			priority: i,
			tier:     def.Tier,
			required: def.StartingWealth * TierPromotionWealthRatio[def.Tier],
		})
	}
	sort.SliceStable(open, func(i, j int) bool {
		if open[i].net != open[j].net {
			return open[i].net > open[j].net
		}
		return open[i].priority < open[j].priority
	})

	hired := 0
	for _, v := range open {
		remaining := min(v.open, max(1, int(math.Floor(float64(v.open)*VacancyFillRatio))))

		if v.tier <= 1 {
			n := min(remaining, p.Strata[world.Unemployed].Count)
			if n > 0 {
				move(p, l, world.Unemployed, v.role, n, "hire")
				hired += n
			}
			continue
		}

		for _, src := range candidates(p, cat, capacity, v) {
			if remaining <= 0 {
				break
			}
			st := p.Strata[src]
			if cat.Tier(src) < v.tier && perCapita(st) < v.required {
				continue
			}
			n := min(remaining, st.Count)
			move(p, l, src, v.role, n, "promotion")
			remaining -= n
			hired += n
		}
	}
	return hired
}

func candidates(p *world.Player, cat *catalog.Catalog, capacity map[string]int, v vacancy) []string {
	var out []string
	for _, role := range cat.StratumKeys() {
		if role == v.role || role == soldier || p.Strata[role].Count <= 0 {
			continue
		}
		tier := cat.Tier(role)
		if v.tier >= 3 && tier != v.tier && tier != v.tier-1 && role != world.Unemployed {
			continue
		}
		if tier > v.tier {
			continue
		}
		if tier == v.tier && role != world.Unemployed && p.Strata[role].Count <= capacity[role] {
			continue
		}
		out = append(out, role)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i] == world.Unemployed {
			return out[j] != world.Unemployed
		}
		if out[j] == world.Unemployed {
			return false
		}
		ti, tj := cat.Tier(out[i]), cat.Tier(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i] < out[j]
	})
	return out
}

// Move describes one migration.
type Move struct {
	From, To string
	People   int
}

// Migrate moves workers from the worst-earning role to a clearly better one
// with open slots. income is per-capita daily income by role. At most one
// migration happens per call; both roles then cool down.
func Migrate(p *world.Player, cat *catalog.Catalog, l *ledger.Ledger, capacity map[string]int, income map[string]float64, day int) *Move {
	totalIncome, totalPop := 0.0, 0
	for _, role := range cat.RolePriority {
		c := p.Strata[role].Count
		totalIncome += income[role] * float64(c)
		totalPop += c
	}
	if totalPop == 0 {
		return nil
	}
	avg := totalIncome / float64(totalPop)

	src := ""
	for _, role := range cat.RolePriority {
		st := p.Strata[role]
		if st.Count <= 0 || role == soldier || p.Cooldowns[role] > day {
			continue
		}
		if income[role] >= avg*StruggleRatio {
			continue
		}
		if src == "" || income[role] < income[src] {
			src = role
		}
	}
	if src == "" {
		return nil
	}

	srcTier := cat.Tier(src)
	srcStratum := p.Strata[src]
	wealthy := perCapita(srcStratum) >= cat.Strata[src].StartingWealth*TierSeekWealthThreshold

	attraction := func(role string) float64 {
		a := income[role]
		if d := cat.Tier(role) - srcTier; wealthy && d > 0 {
			a += a * TierUpgradeAttraction * float64(d)
		}
		return a
	}

	dst, best := "", 0.0
	for _, role := range cat.RolePriority {
		if role == src || p.Cooldowns[role] > day {
			continue
		}
		open := capacity[role] - p.Strata[role].Count
		if open <= 0 {
			continue
		}
		threshold := OpportunityThreshold * Resistance(srcTier, cat.Tier(role))
		a := attraction(role)
		if a <= income[src]*threshold {
			continue
		}
		if dst == "" || a > best {
			dst, best = role, a
		}
	}
	if dst == "" {
		return nil
	}

	ratio := MigrationRatio
	if srcStratum.Count < LowPopThreshold {
		ratio = LowPopGuarantee
	}
	n := int(math.Floor(float64(srcStratum.Count) * ratio))
	if n <= 0 {
		n = 1
	}
	n = min(n, capacity[dst]-p.Strata[dst].Count)
	if n <= 0 {
		return nil
	}

	move(p, l, src, dst, n, "migration")
	p.Cooldowns[src] = day + MigrationCooldownDays
	p.Cooldowns[dst] = day + MigrationCooldownDays
	return &Move{From: src, To: dst, People: n}
}

// Resistance is the income multiple a move between tiers must clear.
func Resistance(fromTier, toTier int) float64 {
	switch d := toTier - fromTier; {
	case d > 0:
		return UpgradeBonus
	case d == 0:
		return SameTierResistance
	default:
		return DowngradeResistance * math.Pow(MultiTierDowngrade, float64(-d-1))
	}
}

// NetIncome estimates a role's per-capita take-home: wage less head tax.
func NetIncome(p *world.Player, cat *catalog.Catalog, role string) float64 {
	wage := ExpectedWage(p, cat, role)
	rate, ok := p.Tax.HeadTax[role]
	if !ok {
		rate = 1
	}
	return wage - math.Max(0, cat.Strata[role].HeadTaxBase*rate)
}

// ExpectedWage is the last realized wage, or an estimate from starting wealth.
func ExpectedWage(p *world.Player, cat *catalog.Catalog, role string) float64 {
	if w := p.Wages[role]; w > 0 && !math.IsInf(w, 0) {
		return math.Max(PriceFloor, w)
	}
	return math.Max(BaseWageReference*0.5, cat.Strata[role].StartingWealth/40)
}

// LivingCostFloor is the minimum wage a role accepts: its essential needs at
// current prices plus head tax, with a 10% margin.
func LivingCostFloor(cat *catalog.Catalog, role string, prices map[string]float64, headTax map[string]float64) float64 {
	def := cat.Strata[role]
	cost := 0.0
	for _, res := range sortedKeys(def.Needs) {
		per := def.Needs[res]
		price := prices[res]
		if price <= 0 {
			price = cat.BasePrice(res)
		}
		cost += per * price
	}
	rate, ok := headTax[role]
	if !ok {
		rate = 1
	}
	cost += def.HeadTaxBase * math.Max(0, rate)
	if cost <= 0 {
		return BaseWageReference * 0.8
	}
	return math.Max(BaseWageReference*0.8, cost*1.1)
}

// UpdateWages smooths each role's wage toward its realized per-capita net
// income. Roles with nobody employed keep their previous wage. The result
// is floored at floor[role] when present.
func UpdateWages(prev map[string]float64, counts map[string]int, income, expense map[string]float64, floor map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(prev))
	for role, w := range prev {
		signal := w
		if c := counts[role]; c > 0 {
			signal = math.Max(0, (income[role]-expense[role])/float64(c))
		}
		next := mathx.Approach(w, signal, WageSmoothing)
		if f := floor[role]; next < f {
			next = f
		}
		out[role] = math.Round(mathx.Finite(next, w)*100) / 100
	}
	return out
}

func move(p *world.Player, l *ledger.Ledger, from, to string, n int, reason string) {
	src := p.Strata[from]
	if n <= 0 || src.Count <= 0 {
		return
	}
	n = min(n, src.Count)
	share := perCapita(src) * float64(n)
	src.Count -= n
	p.Strata[from] = src
	dst := p.Strata[to]
	dst.Count += n
	p.Strata[to] = dst
	if share > 0 {
		l.Transfer(ledger.Stratum(from), ledger.Stratum(to), share, ledger.CategoryIncome, ledger.LayoffTransfer,
			ledger.Meta{"reason": reason, "people": n})
	}
}

func perCapita(st world.Stratum) float64 {
	if st.Count <= 0 {
		return 0
	}
	return st.Wealth / float64(st.Count)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
