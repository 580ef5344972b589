package world

import (
	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
)

// Bounds shared by every stage.
const (
	MinRelation = 0.0
	MaxRelation = 100.0
	MaxApproval = 100.0
	MaxWarScore = 500.0
	MaxPref     = 3.0
)

// Normalize repairs a snapshot in place so downstream stages can assume
// well-formed data: every map exists, every catalog stratum and resource has
// an entry, balances are finite and non-negative, and bounded scores are
// within range. It is run once at the start of every tick and on ingestion.
func Normalize(s *State, cat *catalog.Catalog) {
	if s.Market == nil {
		s.Market = make(map[string]MarketEntry)
	}
	if s.Assignments == nil {
		s.Assignments = make(map[string]int)
	}
	if s.Preferences == nil {
		s.Preferences = make(map[string]float64)
	}
	if s.Books.Income == nil || s.Books.Expense == nil || s.Books.TaxBreakdown == nil || s.Books.Changes == nil {
		s.Books = s.Books.Clone()
	}

	normalizePlayer(&s.Player, cat)

	for key, r := range cat.Resources {
		m := s.Market[key]
		m.Price = mathx.Finite(m.Price, 0)
		if m.Price <= 0 {
			m.Price = r.BasePrice
		}
		m.Supply = mathx.NonNeg(m.Supply)
		m.Demand = mathx.NonNeg(m.Demand)
		m.CostFloor = mathx.NonNeg(m.CostFloor)
		if m.Multiplier <= 0 || mathx.Finite(m.Multiplier, 0) == 0 {
			m.Multiplier = 1
		}
		s.Market[key] = m
	}

	for i := range s.Nations {
		normalizeNation(&s.Nations[i], s.Day)
	}

	for id, n := range s.Assignments {
		if n <= 0 || s.ActiveNation(id) == nil {
			delete(s.Assignments, id)
		}
	}
	for k, v := range s.Preferences {
		s.Preferences[k] = mathx.Clamp(mathx.Finite(v, 1), 0, MaxPref)
	}
}

func normalizePlayer(p *Player, cat *catalog.Catalog) {
	p.Treasury = mathx.NonNeg(p.Treasury)
	if p.Inventory == nil {
		p.Inventory = make(map[string]float64)
	}
	for k, v := range p.Inventory {
		p.Inventory[k] = mathx.NonNeg(v)
	}
	if p.Strata == nil {
		p.Strata = make(map[string]Stratum)
	}
	for _, key := range cat.StratumKeys() {
		st, ok := p.Strata[key]
		if !ok {
			st = Stratum{Approval: 50, Satisfaction: 1, EssentialSatisfaction: 1}
		}
		if st.Count < 0 {
			st.Count = 0
		}
		st.Wealth = mathx.NonNeg(st.Wealth)
		st.Approval = mathx.Clamp(mathx.Finite(st.Approval, 50), 0, MaxApproval)
		st.Satisfaction = mathx.Clamp(mathx.Finite(st.Satisfaction, 1), 0, 1)
		st.EssentialSatisfaction = mathx.Clamp(mathx.Finite(st.EssentialSatisfaction, 1), 0, 1)
		p.Strata[key] = st
	}
	if p.Buildings == nil {
		p.Buildings = make(map[string]int)
	}
	for k, v := range p.Buildings {
		if v < 0 {
			p.Buildings[k] = 0
		}
	}
	if p.Wages == nil {
		p.Wages = make(map[string]float64)
	}
	for _, key := range cat.StratumKeys() {
		if key == Unemployed {
			continue
		}
		w := mathx.Finite(p.Wages[key], 0)
		if w <= 0 {
			w = defaultWage(cat.Strata[key])
		}
		p.Wages[key] = w
	}
	if p.Army == nil {
		p.Army = make(map[string]int)
	}
	for k, v := range p.Army {
		if v < 0 {
			p.Army[k] = 0
		}
	}
	if p.Cooldowns == nil {
		p.Cooldowns = make(map[string]int)
	}
	if p.Tax.HeadTax == nil {
		p.Tax.HeadTax = make(map[string]float64)
	}
	if p.Tax.ResourceTax == nil {
		p.Tax.ResourceTax = make(map[string]float64)
	}
	if p.Tax.ImportTariff == nil {
		p.Tax.ImportTariff = make(map[string]float64)
	}
	if p.Tax.ExportTariff == nil {
		p.Tax.ExportTariff = make(map[string]float64)
	}
	for k, v := range p.Tax.ResourceTax {
		p.Tax.ResourceTax[k] = mathx.Clamp(mathx.Finite(v, 0), -1, 5)
	}
	p.Tax.BusinessTax = mathx.Clamp(mathx.Finite(p.Tax.BusinessTax, 0), 0, 1)
	p.Stability = mathx.Clamp(mathx.Finite(p.Stability, 50), 0, 100)
	p.LaborEfficiency = mathx.Finite(p.LaborEfficiency, 1)
	if p.LaborEfficiency <= 0 {
		p.LaborEfficiency = 1
	}
}

func defaultWage(st catalog.Stratum) float64 {
	return 0.5 + float64(st.Tier)*0.5
}

func normalizeNation(n *Nation, day int) {
	if n.Inventory == nil {
		n.Inventory = make(map[string]float64)
	}
	for k, v := range n.Inventory {
		n.Inventory[k] = mathx.NonNeg(v)
	}
	if n.Army == nil {
		n.Army = make(map[string]int)
	}
	if n.Relations == nil {
		n.Relations = make(map[string]float64)
	}
	if n.Traits.ResourceBias == nil {
		n.Traits.ResourceBias = make(map[string]float64)
	}
	if n.Wars == nil {
		n.Wars = make(WarMap)
	}
	n.Relation = mathx.Clamp(mathx.Finite(n.Relation, 50), MinRelation, MaxRelation)
	for k, v := range n.Relations {
		n.Relations[k] = mathx.Clamp(mathx.Finite(v, 50), MinRelation, MaxRelation)
	}
	n.Aggression = mathx.Clamp(mathx.Finite(n.Aggression, 0.2), 0, 1)
	n.Unrest = mathx.Clamp(mathx.Finite(n.Unrest, 0), 0, 1)
	n.Wealth = mathx.NonNeg(n.Wealth)
	n.Budget = mathx.NonNeg(n.Budget)
	if n.Population < 0 {
		n.Population = 0
	}

	for id, w := range n.Wars {
		switch v := w.(type) {
		case nil:
			delete(n.Wars, id)
		case AtPeace:
			delete(n.Wars, id)
		case AtWar:
			v.Score = mathx.Clamp(mathx.Finite(v.Score, 0), -MaxWarScore, MaxWarScore)
			n.Wars[id] = v
		case Armistice:
			if v.Until <= day {
				delete(n.Wars, id)
			}
		}
	}

	if n.Annexed {
		n.Population = 0
		n.Wealth = 0
		n.Budget = 0
		n.Wars = make(WarMap)
		n.Allies = nil
	}
}

// Balance implements ledger.Accounts for the player realm.
func (p *Player) Balance(e ledger.Entity) (float64, bool) {
	if e.IsTreasury() {
		return p.Treasury, true
	}
	if key, ok := e.StratumKey(); ok {
		st, exists := p.Strata[key]
		return st.Wealth, exists
	}
	return 0, false
}

// SetBalance implements ledger.Accounts for the player realm.
func (p *Player) SetBalance(e ledger.Entity, v float64) {
	v = mathx.NonNeg(v)
	if e.IsTreasury() {
		p.Treasury = v
		return
	}
	if key, ok := e.StratumKey(); ok {
		if st, exists := p.Strata[key]; exists {
			st.Wealth = v
			p.Strata[key] = st
		}
	}
}

// Ledger returns a ledger bound to the player's accounts and the state's books.
func (s *State) Ledger() *ledger.Ledger {
	return ledger.New(&s.Player, &s.Books, s.Day)
}
