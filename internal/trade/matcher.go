// Package trade runs the player's merchant class against foreign markets:
// scoring import/export opportunities per assigned partner, locking capital
// into pending trades, settling them after transit, and driving standing
// manual trade routes.
package trade

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/economy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Merchant is the stratum that carries foreign trade.
const Merchant = "merchant"

// Matcher tunables.
const (
	DefaultTopN        = 5
	DefaultMaxPartners = 20
	DefaultMinMargin   = 0.10
	MaxBatches         = 10
	SettlementDays     = 3
	MaxBatchAmount     = 20.0
	MaxInventoryRatio  = 0.3
	MinAmount          = 0.1
)

// Config holds the tunables a deployment may override.
type Config struct {
	TopN        int     `yaml:"top_n"`
	MaxPartners int     `yaml:"max_partners"`
	MinMargin   float64 `yaml:"min_margin"`
}

// DefaultConfig returns the standard matcher settings.
func DefaultConfig() Config {
	return Config{TopN: DefaultTopN, MaxPartners: DefaultMaxPartners, MinMargin: DefaultMinMargin}
}

func (c Config) withDefaults() Config {
	if c.TopN <= 0 {
		c.TopN = DefaultTopN
	}
	if c.MaxPartners <= 0 {
		c.MaxPartners = DefaultMaxPartners
	}
	if c.MinMargin <= 0 {
		c.MinMargin = DefaultMinMargin
	}
	return c
}

// Candidate is one scored trade opportunity with a partner.
type Candidate struct {
	Partner  string
	Resource string
	Type     world.TradeType
	Score    float64
}

// NormalizeAssignments drops partners that are unknown, annexed or at war
// with the player and scales the rest down so no more merchants are
// assigned than exist. Leftover merchants from flooring go to the largest
// fractional shares.
func NormalizeAssignments(s *world.State, merchants int) map[string]int {
	out := make(map[string]int, len(s.Assignments))
	total := 0
	for id, n := range s.Assignments {
		p := s.ActiveNation(id)
		if p == nil || n <= 0 || p.AtWarWith(world.PlayerID) {
			continue
		}
		out[id] = n
		total += n
	}
	if total <= merchants {
		return out
	}
	if merchants <= 0 {
		return map[string]int{}
	}

	type share struct {
		id   string
		frac float64
	}
	shares := make([]share, 0, len(out))
	scale := float64(merchants) / float64(total)
	used := 0
	for _, id := range sortedIDs(out) {
		exact := float64(out[id]) * scale
		out[id] = int(math.Floor(exact))
		used += out[id]
		shares = append(shares, share{id: id, frac: exact - math.Floor(exact)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })
	for i := 0; used < merchants && i < len(shares); i++ {
		out[shares[i].id]++
		used++
	}
	for id, n := range out {
		if n <= 0 {
			delete(out, id)
		}
	}
	return out
}

// ImportScore rates buying abroad at foreign and selling at home at local.
// urgency ≥ 1 grows with the home shortage; surplus weighs the partner's
// excess stock.
func ImportScore(local, foreign, tariff, urgency, surplus, pref float64) float64 {
	if local <= 0 || foreign <= 0 {
		return 0
	}
	margin := (local - foreign*(1+tariff)) / local
	return mathx.Finite(margin*urgency*surplus*mathx.Clamp(pref, 0, world.MaxPref), 0)
}

// ExportScore rates buying at home at local and selling abroad at foreign.
// An export is never positive unless the foreign price beats the local one.
func ExportScore(local, foreign, levy, surplus, shortage, pref float64) float64 {
	if local <= 0 || foreign <= 0 {
		return 0
	}
	margin := (foreign - local*(1+levy)) / local
	score := mathx.Finite(margin*surplus*shortage*mathx.Clamp(pref, 0, world.MaxPref), 0)
	if foreign <= local {
		return math.Min(0, score)
	}
	return score
}

// Rank keeps the n best positive candidates, highest score first.
func Rank(cands []Candidate, n int) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Type < out[j].Type
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Candidates scores every tradable resource in both directions with partner.
func Candidates(cat *catalog.Catalog, s *world.State, partner *world.Nation, eff diplomacy.Effects) []Candidate {
	var out []Candidate
	for _, r := range cat.TradableKeys() {
		if cat.Resources[r].Epoch > s.Epoch {
			continue
		}
		m := s.Market[r]
		local := m.Price
		foreign := economy.ForeignPrice(cat, r, partner)
		st := economy.Status(r, partner, s.Day)
		pref := preference(s, r)

		stock := s.Player.Inventory[r]
		target := m.Demand * economy.InventoryTargetDays
		urgency, homeSurplus := 1.0, 0.5
		if target > 0 {
			urgency = 1 + mathx.Clamp((target-stock)/target, 0, 1)
			homeSurplus = 0.5 + mathx.Clamp((stock-target)/target, 0, 1)
		} else if stock > 0 {
			homeSurplus = 1.5
		}

		partnerSurplus, partnerShortage := 0.5, 0.5
		if st.Target > 0 {
			if st.Surplus {
				partnerSurplus = 1 + math.Min(1, st.SurplusAmount/st.Target)
			}
			if st.Shortage {
				partnerShortage = 1 + math.Min(1, st.ShortageAmount/st.Target)
			}
		}

		tax := s.Player.Tax.ResourceTax[r]
		importTariff := s.Player.Tax.ImportTariff[r] * eff.TariffMultiplier
		exportTariff := s.Player.Tax.ExportTariff[r] * eff.TariffMultiplier

		out = append(out,
			Candidate{Partner: partner.ID, Resource: r, Type: world.Import,
				Score: ImportScore(local, foreign, importTariff, urgency, partnerSurplus, pref)},
			Candidate{Partner: partner.ID, Resource: r, Type: world.Export,
				Score: ExportScore(local, foreign, tax+exportTariff, homeSurplus, partnerShortage, pref)},
		)
	}
	return out
}

// Match runs one day of merchant trading. Capital is locked into pending
// trades that settle after SettlementDays.
func Match(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, cfg Config) []events.Event {
	cfg = cfg.withDefaults()
	merchants := s.Player.Strata[Merchant].Count
	s.Assignments = NormalizeAssignments(s, merchants)
	if merchants <= 0 || len(s.Assignments) == 0 {
		return nil
	}

	partners := rotate(sortedIDs(s.Assignments), cfg.MaxPartners, s.Day)

	type plan struct {
		partner *world.Nation
		eff     diplomacy.Effects
		cands   []Candidate
		batches int
	}
	var plans []plan
	totalBatches := 0
	for _, id := range partners {
		n := s.ActiveNation(id)
		eff := diplomacy.EffectsWith(cat, s, id)
		slots := diplomacy.MerchantSlots(eff, n.Relation, merchants)
		batches := min(s.Assignments[id], slots, MaxBatches)
		if batches <= 0 {
			continue
		}
		cands := Rank(Candidates(cat, s, n, eff), cfg.TopN)
		if len(cands) == 0 {
			continue
		}
		plans = append(plans, plan{partner: n, eff: eff, cands: cands, batches: batches})
		totalBatches += batches
	}
	if totalBatches == 0 {
		return nil
	}

	x := executor{cat: cat, s: s, l: l, minMargin: cfg.MinMargin}
	perBatch := l.Balance(ledger.Stratum(Merchant)) / float64(totalBatches)
	var fresh []world.Trade
	for _, p := range plans {
		for i := 0; i < p.batches; i++ {
			c := p.cands[i%len(p.cands)]
			var t world.Trade
			var ok bool
			if c.Type == world.Import {
				t, ok = x.importBatch(p.partner, p.eff, c.Resource, perBatch)
			} else {
				t, ok = x.exportBatch(p.partner, p.eff, c.Resource, perBatch)
			}
			if ok {
				t.ID = world.NewID("trade", s.Day, p.partner.ID, c.Resource, c.Type, i)
				fresh = append(fresh, t)
			}
		}
	}

	fresh = Merge(fresh)
	evs := x.notices
	for _, t := range fresh {
		evs = append(evs, events.TradeEvent{
			Day:      s.Day,
			Nation:   t.Partner,
			Resource: t.Resource,
			Amount:   t.Amount,
			Price:    mathx.SafeDiv(t.Revenue, t.Amount, 0),
			Import:   t.Type == world.Import,
		})
	}
	s.PendingTrades = Merge(append(s.PendingTrades, fresh...))
	return evs
}

type executor struct {
	cat       *catalog.Catalog
	s         *world.State
	l         *ledger.Ledger
	minMargin float64
	notices   []events.Event
	warned    map[string]bool
}

// exportBatch buys stock at home and ships it. The goods leave now; the
// foreign revenue arrives at settlement.
func (x *executor) exportBatch(n *world.Nation, eff diplomacy.Effects, r string, budget float64) (world.Trade, bool) {
	s := x.s
	local := s.Market[r].Price
	foreign := economy.ForeignPrice(x.cat, r, n)
	if local <= 0 || foreign <= local {
		return world.Trade{}, false
	}
	tax := s.Player.Tax.ResourceTax[r]
	tariff := s.Player.Tax.ExportTariff[r] * eff.TariffMultiplier

	unitOutlay := local * (1 + math.Max(0, tax+tariff))
	amount := math.Min(MaxBatchAmount, math.Min(budget/unitOutlay, s.Player.Inventory[r]*MaxInventoryRatio))
	if !(amount > MinAmount) {
		return world.Trade{}, false
	}

	cost := local * amount
	taxDue, tariffDue := cost*tax, cost*tariff
	subsidy := x.subsidy(r, -(taxDue + tariffDue))
	outlay := cost + math.Max(0, taxDue) + math.Max(0, tariffDue) - subsidy
	revenue := foreign * amount
	if outlay <= 0 || (revenue-outlay)/outlay < x.minMargin {
		return world.Trade{}, false
	}
	if x.l.Balance(ledger.Stratum(Merchant)) < outlay {
		return world.Trade{}, false
	}

	meta := ledger.Meta{"resource": r, "quantity": amount, "price": local, "partner": n.ID}
	merchant := ledger.Stratum(Merchant)
	x.l.Transfer(merchant, ledger.Void, cost, ledger.CategoryTrade, ledger.TradeExportPurchase, meta)
	x.levy(merchant, taxDue, tariffDue, subsidy, meta)
	s.Player.Inventory[r] = mathx.NonNeg(s.Player.Inventory[r] - amount)

	return world.Trade{
		Partner:       n.ID,
		Resource:      r,
		Type:          world.Export,
		Amount:        amount,
		Revenue:       revenue,
		Profit:        revenue - outlay,
		DaysRemaining: SettlementDays,
		CapitalLocked: outlay,
	}, true
}

// importBatch pays the foreign seller now; the goods and their home sale
// value arrive at settlement.
func (x *executor) importBatch(n *world.Nation, eff diplomacy.Effects, r string, budget float64) (world.Trade, bool) {
	s := x.s
	local := s.Market[r].Price
	foreign := economy.ForeignPrice(x.cat, r, n)
	if foreign <= 0 || foreign >= local {
		return world.Trade{}, false
	}
	tax := s.Player.Tax.ResourceTax[r]
	tariff := s.Player.Tax.ImportTariff[r] * eff.TariffMultiplier

	amount := math.Min(MaxBatchAmount, math.Min(budget/foreign, n.Inventory[r]*MaxInventoryRatio))
	if !(amount > MinAmount) {
		return world.Trade{}, false
	}

	cost := foreign * amount
	gross := local * amount
	taxDue, tariffDue := gross*tax, cost*tariff
	subsidy := x.subsidy(r, -(taxDue + tariffDue))
	outlay := cost + math.Max(0, taxDue) + math.Max(0, tariffDue) - subsidy
	if outlay <= 0 || (gross-outlay)/outlay < x.minMargin {
		return world.Trade{}, false
	}
	if x.l.Balance(ledger.Stratum(Merchant)) < cost+math.Max(0, taxDue)+math.Max(0, tariffDue) {
		return world.Trade{}, false
	}

	meta := ledger.Meta{"resource": r, "quantity": amount, "price": foreign, "partner": n.ID}
	merchant := ledger.Stratum(Merchant)
	x.l.Transfer(merchant, ledger.Void, cost, ledger.CategoryTrade, ledger.ProductionCosts, meta)
	x.levy(merchant, taxDue, tariffDue, subsidy, meta)

	return world.Trade{
		Partner:       n.ID,
		Resource:      r,
		Type:          world.Import,
		Amount:        amount,
		Revenue:       gross,
		Profit:        gross - outlay,
		DaysRemaining: SettlementDays,
		CapitalLocked: cost,
	}, true
}

// subsidy returns how much of a negative levy the treasury can pay. An
// empty treasury pays nothing and is reported once per resource.
func (x *executor) subsidy(r string, want float64) float64 {
	if want <= 0 {
		return 0
	}
	if x.l.Balance(ledger.Treasury) >= want {
		return want
	}
	if x.warned == nil {
		x.warned = make(map[string]bool)
	}
	if !x.warned[r] {
		x.warned[r] = true
		x.notices = append(x.notices, events.Notice{
			Day:     x.s.Day,
			Message: fmt.Sprintf("treasury empty, cannot pay trade subsidy for %s", x.cat.Resources[r].Name),
		})
	}
	return 0
}

func (x *executor) levy(merchant ledger.Entity, taxDue, tariffDue, subsidy float64, meta ledger.Meta) {
	if taxDue > 0 {
		x.l.Transfer(merchant, ledger.Treasury, taxDue, ledger.CategoryTax, ledger.TransactionTax, meta)
	}
	if tariffDue > 0 {
		x.l.Transfer(merchant, ledger.Treasury, tariffDue, ledger.CategoryTax, ledger.Tariffs, meta)
	}
	if subsidy > 0 {
		x.l.Transfer(ledger.Treasury, merchant, subsidy, ledger.CategoryIncome, ledger.Subsidy, meta)
	}
}

// Merge folds trades sharing partner, resource, type and days remaining.
// The first trade's id is kept; order follows first occurrence.
func Merge(trades []world.Trade) []world.Trade {
	type key struct {
		partner, resource string
		typ               world.TradeType
		days              int
	}
	idx := make(map[key]int, len(trades))
	out := make([]world.Trade, 0, len(trades))
	for _, t := range trades {
		k := key{t.Partner, t.Resource, t.Type, t.DaysRemaining}
		if i, ok := idx[k]; ok {
			out[i].Amount += t.Amount
			out[i].Revenue += t.Revenue
			out[i].Profit += t.Profit
			out[i].CapitalLocked += t.CapitalLocked
			continue
		}
		idx[k] = len(out)
		out = append(out, t)
	}
	return out
}

func preference(s *world.State, r string) float64 {
	if p, ok := s.Preferences[r]; ok {
		return mathx.Clamp(p, 0, world.MaxPref)
	}
	return 1
}

// rotate returns at most limit ids, starting at an offset that advances
// each day so every partner is eventually served.
func rotate(ids []string, limit, day int) []string {
	if len(ids) <= limit {
		return ids
	}
	start := (day * limit) % len(ids)
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, ids[(start+i)%len(ids)])
	}
	return out
}

func sortedIDs(m map[string]int) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
