package trade

import (
	"fmt"

	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Settle advances every pending trade by one day and completes those that
// arrive. A completed trade is removed as it is applied, so a trade already
// due on entry is applied exactly once.
func Settle(s *world.State, l *ledger.Ledger) []events.Event {
	if len(s.PendingTrades) == 0 {
		return nil
	}
	var evs []events.Event
	kept := make([]world.Trade, 0, len(s.PendingTrades))
	for _, t := range s.PendingTrades {
		if t.DaysRemaining > 0 {
			t.DaysRemaining--
		}
		if t.DaysRemaining > 0 {
			kept = append(kept, t)
			continue
		}
		complete(s, l, t)
		if t.Amount >= 1 {
			evs = append(evs, events.Notice{
				Day: s.Day,
				Message: fmt.Sprintf("merchants completed %s of %.1f %s with %s for %.1f silver",
					t.Type, t.Amount, t.Resource, t.Partner, t.Revenue),
			})
		}
	}
	s.PendingTrades = kept
	return evs
}

func complete(s *world.State, l *ledger.Ledger, t world.Trade) {
	meta := ledger.Meta{"resource": t.Resource, "quantity": t.Amount, "partner": t.Partner}
	partner := s.ActiveNation(t.Partner)

	switch t.Type {
	case world.Import:
		l.Transfer(ledger.Void, ledger.Stratum(Merchant), t.Revenue, ledger.CategoryIncome, ledger.TradeImportRevenue, meta)
		s.Player.Inventory[t.Resource] += t.Amount
		if partner != nil {
			partner.Inventory[t.Resource] = mathx.NonNeg(partner.Inventory[t.Resource] - t.Amount)
			partner.Wealth += t.CapitalLocked
		}
	case world.Export:
		l.Transfer(ledger.Void, ledger.Stratum(Merchant), t.Revenue, ledger.CategoryIncome, ledger.TradeExport, meta)
		if partner != nil {
			partner.Inventory[t.Resource] += t.Amount
			partner.Wealth = mathx.NonNeg(partner.Wealth - t.Revenue)
		}
	}
}

// PayInvestments credits each foreign investment's daily return to the
// treasury. Investments in annexed or vanished nations are written off.
func PayInvestments(s *world.State, l *ledger.Ledger) []events.Event {
	var evs []events.Event
	kept := s.Investments[:0]
	for _, inv := range s.Investments {
		n := s.ActiveNation(inv.Partner)
		if n == nil {
			evs = append(evs, events.Notice{
				Day:     s.Day,
				Message: fmt.Sprintf("investment of %.0f silver in %s was lost", inv.Amount, inv.Partner),
			})
			continue
		}
		kept = append(kept, inv)
		paid := mathx.Clamp(inv.DailyReturn, 0, n.Wealth)
		if paid <= 0 {
			continue
		}
		n.Wealth -= paid
		l.Transfer(ledger.Void, ledger.Treasury, paid, ledger.CategoryIncome, ledger.Investment,
			ledger.Meta{"partner": inv.Partner})
	}
	s.Investments = kept
	return evs
}
