package trade

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/economy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Manual route tunables.
const (
	RouteSpeed       = 0.05 // share of the gap moved per day
	RouteStockTarget = 500.0
	DumpDiscount     = 0.6
	ForcedPremium    = 1.3
	RouteGoodwill    = 0.2
	CoercionPenalty  = -0.6
	MinForcedBase    = 10.0
)

// ProcessRoutes runs every standing manual route for one day. Routes to
// unknown or annexed partners are removed; routes beyond the merchant
// count or to partners at war are paused.
func ProcessRoutes(cat *catalog.Catalog, s *world.State, l *ledger.Ledger) []events.Event {
	if len(s.Routes) == 0 {
		return nil
	}
	merchants := s.Player.Strata[Merchant].Count
	var evs []events.Event

	kept := make([]world.Route, 0, len(s.Routes))
	for _, r := range s.Routes {
		if s.ActiveNation(r.Partner) != nil {
			kept = append(kept, r)
		}
	}
	s.Routes = kept

	for i, r := range s.Routes {
		if i >= merchants {
			break
		}
		n := s.ActiveNation(r.Partner)
		if n.AtWarWith(world.PlayerID) {
			continue
		}
		eff := diplomacy.EffectsWith(cat, s, n.ID)
		open := s.Day < n.OpenMarketUntil || eff.AllowForceTrade || eff.BypassRelationCap

		var ev events.Event
		switch r.Type {
		case world.Export:
			ev = exportRoute(cat, s, l, n, eff, r, open)
		case world.Import:
			ev = importRoute(cat, s, l, n, eff, r, open)
		}
		if ev != nil {
			evs = append(evs, ev)
		}
	}
	return evs
}

func exportRoute(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, n *world.Nation, eff diplomacy.Effects, r world.Route, open bool) events.Event {
	forced := r.Mode == world.RouteForceSell
	st := economy.Status(r.Resource, n, s.Day)
	if !forced && (!st.Shortage || st.ShortageAmount <= 0) {
		return nil
	}
	surplus := math.Max(0, s.Player.Inventory[r.Resource]-RouteStockTarget)
	if surplus <= MinAmount {
		return nil
	}
	capAmount := surplus
	if !forced {
		capAmount = math.Min(surplus, st.ShortageAmount)
	}
	amount := capAmount * RouteSpeed
	if amount < MinAmount {
		return nil
	}

	local := s.Market[r.Resource].Price
	foreign := economy.ForeignPrice(cat, r.Resource, n)
	if forced {
		foreign *= DumpDiscount
	}
	cost := local * amount
	levy := cost * (s.Player.Tax.ResourceTax[r.Resource] + s.Player.Tax.ExportTariff[r.Resource]*eff.TariffMultiplier)
	revenue := foreign * amount
	profit := revenue - cost - levy
	if profit <= 0 {
		return nil
	}

	s.Player.Inventory[r.Resource] -= amount
	n.Inventory[r.Resource] += amount
	n.Wealth = mathx.NonNeg(n.Wealth - revenue)
	settleRoute(l, r, profit, levy)
	diplomacy.AdjustRelation(n, routeRelation(forced, open))
	return events.TradeEvent{Day: s.Day, Nation: n.ID, Resource: r.Resource, Amount: amount, Price: foreign}
}

func importRoute(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, n *world.Nation, eff diplomacy.Effects, r world.Route, open bool) events.Event {
	forced := r.Mode == world.RouteForceBuy
	st := economy.Status(r.Resource, n, s.Day)
	if !forced && (!st.Surplus || st.SurplusAmount <= 0) {
		return nil
	}
	capAmount := st.SurplusAmount
	if forced {
		capAmount = math.Max(MinForcedBase, st.Target)
	}
	amount := math.Min(capAmount*RouteSpeed, n.Inventory[r.Resource])
	if amount < MinAmount {
		return nil
	}

	local := s.Market[r.Resource].Price
	foreign := economy.ForeignPrice(cat, r.Resource, n)
	if forced {
		foreign *= ForcedPremium
	}
	cost := foreign * amount
	sale := local * amount
	levy := sale * (s.Player.Tax.ResourceTax[r.Resource] + s.Player.Tax.ImportTariff[r.Resource]*eff.TariffMultiplier)
	profit := sale - cost - levy
	if profit <= 0 {
		return nil
	}

	s.Player.Inventory[r.Resource] += amount
	n.Inventory[r.Resource] = mathx.NonNeg(n.Inventory[r.Resource] - amount)
	n.Wealth += cost
	settleRoute(l, r, profit, levy)
	diplomacy.AdjustRelation(n, routeRelation(forced, open))
	return events.TradeEvent{Day: s.Day, Nation: n.ID, Resource: r.Resource, Amount: amount, Price: foreign, Import: true}
}

// settleRoute books a route's merchant profit and the state's cut. Both
// come from outside the realm; a negative levy is a subsidy the treasury
// pays the merchants.
func settleRoute(l *ledger.Ledger, r world.Route, profit, levy float64) {
	meta := ledger.Meta{"resource": r.Resource, "partner": r.Partner, "route": r.ID}
	sub := ledger.TradeExport
	if r.Type == world.Import {
		sub = ledger.TradeImportRevenue
	}
	earned := profit
	if levy < 0 {
		earned += levy
	}
	l.Transfer(ledger.Void, ledger.Stratum(Merchant), earned, ledger.CategoryIncome, sub, meta)
	switch {
	case levy > 0:
		l.Transfer(ledger.Void, ledger.Treasury, levy, ledger.CategoryTax, ledger.Tariffs, meta)
	case levy < 0:
		l.Transfer(ledger.Treasury, ledger.Stratum(Merchant), -levy, ledger.CategoryIncome, ledger.Subsidy, meta)
	}
}

func routeRelation(forced, open bool) float64 {
	if forced && !open {
		return CoercionPenalty
	}
	return RouteGoodwill
}
