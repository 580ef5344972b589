package world

// Clone returns a deep copy of s. No map or slice is shared with the original.
func (s State) Clone() State {
	out := s
	out.Player = s.Player.clone()
	out.Market = make(map[string]MarketEntry, len(s.Market))
	for k, v := range s.Market {
		out.Market[k] = v
	}
	out.Nations = make([]Nation, len(s.Nations))
	for i, n := range s.Nations {
		out.Nations[i] = n.Clone()
	}
	out.Treaties = append([]Treaty(nil), s.Treaties...)
	out.PendingTrades = append([]Trade(nil), s.PendingTrades...)
	out.Routes = append([]Route(nil), s.Routes...)
	out.Investments = append([]Investment(nil), s.Investments...)
	out.Installments = append([]Installment(nil), s.Installments...)
	out.Assignments = copyInts(s.Assignments)
	out.Preferences = copyFloats(s.Preferences)
	out.Books = s.Books.Clone()
	return out
}

func (p Player) clone() Player {
	out := p
	out.Inventory = copyFloats(p.Inventory)
	out.Strata = make(map[string]Stratum, len(p.Strata))
	for k, st := range p.Strata {
		st.Shortages = append([]Shortage(nil), st.Shortages...)
		out.Strata[k] = st
	}
	out.Buildings = copyInts(p.Buildings)
	out.Wages = copyFloats(p.Wages)
	out.Army = copyInts(p.Army)
	out.Cooldowns = copyInts(p.Cooldowns)
	out.Tax = TaxPolicy{
		HeadTax:      copyFloats(p.Tax.HeadTax),
		ResourceTax:  copyFloats(p.Tax.ResourceTax),
		BusinessTax:  p.Tax.BusinessTax,
		ImportTariff: copyFloats(p.Tax.ImportTariff),
		ExportTariff: copyFloats(p.Tax.ExportTariff),
	}
	return out
}

// Clone returns a deep copy of the nation.
func (n Nation) Clone() Nation {
	out := n
	out.Inventory = copyFloats(n.Inventory)
	out.Army = copyInts(n.Army)
	out.Relations = copyFloats(n.Relations)
	out.Traits.ResourceBias = copyFloats(n.Traits.ResourceBias)
	out.Allies = append([]string(nil), n.Allies...)
	out.Wars = make(WarMap, len(n.Wars))
	for k, w := range n.Wars {
		out.Wars[k] = w
	}
	return out
}

func copyFloats(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
