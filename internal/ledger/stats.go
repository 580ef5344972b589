package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// maxChanges bounds the per-entity change log.
const maxChanges = 30

// Change is one audit line in an entity's change log.
type Change struct {
	Day     int     `json:"day"`
	Amount  float64 `json:"amount"`
	Reason  string  `json:"reason"`
	Balance float64 `json:"balance"`
}

// Stats accumulates one day of transfer statistics. Sums are kept as exact
// decimals so thousands of small transfers add up without float drift.
type Stats struct {
	Income       map[string]map[string]decimal.Decimal `json:"income"`  // entity → subcategory → total
	Expense      map[string]map[string]decimal.Decimal `json:"expense"` // entity → subcategory → total
	TaxBreakdown map[string]decimal.Decimal            `json:"tax_breakdown"`
	Changes      map[string][]Change                   `json:"changes"`
}

// NewStats returns empty statistics.
func NewStats() Stats {
	return Stats{
		Income:       make(map[string]map[string]decimal.Decimal),
		Expense:      make(map[string]map[string]decimal.Decimal),
		TaxBreakdown: make(map[string]decimal.Decimal),
		Changes:      make(map[string][]Change),
	}
}

// Reset clears the daily accumulators but keeps the change logs.
func (s *Stats) Reset() {
	s.Income = make(map[string]map[string]decimal.Decimal)
	s.Expense = make(map[string]map[string]decimal.Decimal)
	s.TaxBreakdown = make(map[string]decimal.Decimal)
	if s.Changes == nil {
		s.Changes = make(map[string][]Change)
	}
}

// Clone deep-copies the statistics.
func (s Stats) Clone() Stats {
	out := NewStats()
	for e, m := range s.Income {
		out.Income[e] = copyDec(m)
	}
	for e, m := range s.Expense {
		out.Expense[e] = copyDec(m)
	}
	out.TaxBreakdown = copyDec(s.TaxBreakdown)
	for e, c := range s.Changes {
		out.Changes[e] = append([]Change(nil), c...)
	}
	return out
}

func copyDec(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Stats) record(l *Ledger, from, to Entity, amount float64, category, sub string, meta Meta) {
	if s.Income == nil || s.Expense == nil || s.TaxBreakdown == nil || s.Changes == nil {
		*s = s.Clone()
	}
	d := decimal.NewFromFloat(amount)
	if !from.IsVoid() {
		add(s.Expense, from.Key(), sub, d)
		s.log(from.Key(), Change{Day: l.day, Amount: -amount, Reason: sub, Balance: l.Balance(from)})
	}
	if !to.IsVoid() {
		add(s.Income, to.Key(), sub, d)
		s.log(to.Key(), Change{Day: l.day, Amount: amount, Reason: sub, Balance: l.Balance(to)})
	}

	switch {
	case to.IsTreasury():
		switch sub {
		case HeadTax:
			s.TaxBreakdown["headTax"] = s.TaxBreakdown["headTax"].Add(d)
		case BusinessTax:
			s.TaxBreakdown["businessTax"] = s.TaxBreakdown["businessTax"].Add(d)
		case TransactionTax:
			s.TaxBreakdown["industryTax"] = s.TaxBreakdown["industryTax"].Add(d)
		case Tariffs:
			s.TaxBreakdown["tariffs"] = s.TaxBreakdown["tariffs"].Add(d)
		}
	case from.IsTreasury() && sub == Subsidy:
		s.TaxBreakdown["subsidy"] = s.TaxBreakdown["subsidy"].Add(d)
	}
}

func add(m map[string]map[string]decimal.Decimal, entity, sub string, d decimal.Decimal) {
	inner, ok := m[entity]
	if !ok {
		inner = make(map[string]decimal.Decimal)
		m[entity] = inner
	}
	inner[sub] = inner[sub].Add(d)
}

func (s *Stats) log(entity string, c Change) {
	lst := append(s.Changes[entity], c)
	if len(lst) > maxChanges {
		lst = lst[len(lst)-maxChanges:]
	}
	s.Changes[entity] = lst
}

// TotalIncome returns an entity's total income for the day.
func (s *Stats) TotalIncome(entity string) float64 {
	return sum(s.Income[entity], nil)
}

// TotalExpense returns an entity's total expense for the day.
func (s *Stats) TotalExpense(entity string) float64 {
	return sum(s.Expense[entity], nil)
}

// IncomeOf returns the sum of the named income subcategories.
func (s *Stats) IncomeOf(entity string, subs ...string) float64 {
	return sum(s.Income[entity], subs)
}

// ExpenseOf returns the sum of the named expense subcategories.
func (s *Stats) ExpenseOf(entity string, subs ...string) float64 {
	return sum(s.Expense[entity], subs)
}

// Tax returns one tax breakdown bucket.
func (s *Stats) Tax(bucket string) float64 {
	f, _ := s.TaxBreakdown[bucket].Float64()
	return f
}

// TaxBuckets returns the tax breakdown bucket names, sorted.
func (s *Stats) TaxBuckets() []string {
	keys := make([]string, 0, len(s.TaxBreakdown))
	for k := range s.TaxBreakdown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sum(m map[string]decimal.Decimal, only []string) float64 {
	total := decimal.Zero
	if only == nil {
		for _, v := range m {
			total = total.Add(v)
		}
	} else {
		for _, k := range only {
			total = total.Add(m[k])
		}
	}
	f, _ := total.Float64()
	return f
}
