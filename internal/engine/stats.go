package engine

import (
	"maps"
	"slices"

	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/world"
)

// Report is the aggregate picture of one snapshot.
type Report struct {
	Day           int                `json:"day"`
	Population    int                `json:"population"`
	Treasury      float64            `json:"treasury"`
	PrivateWealth float64            `json:"private_wealth"`
	Stability     float64            `json:"stability"`
	Approval      float64            `json:"approval"`
	TaxIncome     float64            `json:"tax_income"`
	StateSpending float64            `json:"state_spending"`
	Wars          int                `json:"wars"`
	Nations       int                `json:"nations"`
	PendingTrades int                `json:"pending_trades"`
	Prices        map[string]float64 `json:"prices"`
}

// Summarize builds a Report from s and its books.
func Summarize(s *world.State) Report {
	r := Report{
		Day:           s.Day,
		Population:    s.Player.TotalPopulation(),
		Treasury:      s.Player.Treasury,
		Stability:     s.Player.Stability,
		Approval:      AverageApproval(&s.Player),
		PendingTrades: len(s.PendingTrades),
		Prices:        s.Prices(),
	}
	for _, key := range sortedKeys(s.Player.Strata) {
		r.PrivateWealth += s.Player.Strata[key].Wealth
	}
	treasury := ledger.Treasury.Key()
	r.TaxIncome = s.Books.IncomeOf(treasury, ledger.HeadTax, ledger.BusinessTax, ledger.TransactionTax, ledger.Tariffs)
	r.StateSpending = s.Books.TotalExpense(treasury)
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		r.Nations++
		if n.AtWarWith(world.PlayerID) {
			r.Wars++
		}
	}
	return r
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
