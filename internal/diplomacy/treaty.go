package diplomacy

import (
	"fmt"
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// RelationDrift is the daily pull of every relation toward neutral.
const (
	RelationDrift   = 0.05
	NeutralRelation = 50.0
)

// Effects is the combined standing effect of every active treaty with one
// partner. Tariff takes the best (lowest) multiplier, slots add up, flags
// OR together and the decay cut takes the largest.
type Effects struct {
	TariffMultiplier  float64
	MerchantPercent   float64
	MerchantExtra     int
	UnlimitedMerchant bool
	AllowForceTrade   bool
	BypassRelationCap bool
	PriceConvergence  bool
	Alliance          bool
	DecayCut          float64
	Types             []string
}

// EffectsWith combines the active treaties between the player and partner.
func EffectsWith(cat *catalog.Catalog, s *world.State, partner string) Effects {
	e := Effects{TariffMultiplier: 1}
	for _, t := range s.TreatiesWith(partner) {
		def, ok := cat.Treaties[t.Type]
		if !ok {
			continue
		}
		e.Types = append(e.Types, t.Type)
		e.TariffMultiplier = math.Min(e.TariffMultiplier, def.TariffMultiplier)
		e.MerchantPercent += def.MerchantPercent
		e.MerchantExtra += def.MerchantExtra
		e.UnlimitedMerchant = e.UnlimitedMerchant || def.UnlimitedMerchant
		e.AllowForceTrade = e.AllowForceTrade || def.AllowForceTrade
		e.BypassRelationCap = e.BypassRelationCap || def.BypassRelationCap
		e.PriceConvergence = e.PriceConvergence || def.PriceConvergence
		e.Alliance = e.Alliance || def.Alliance
		e.DecayCut = math.Max(e.DecayCut, def.RelationDecayCut)
	}
	e.TariffMultiplier = mathx.Clamp(e.TariffMultiplier, 0, 1)
	e.DecayCut = mathx.Clamp(e.DecayCut, 0, 1)
	return e
}

// MerchantSlots is how many merchants may trade with a partner at once.
// The base grows with relation; treaties add a percentage and a fixed
// bonus, and an open market lifts the cap to the whole merchant pool.
func MerchantSlots(e Effects, relation float64, merchants int) int {
	if merchants <= 0 {
		return 0
	}
	if e.UnlimitedMerchant || e.BypassRelationCap {
		return merchants
	}
	base := math.Ceil(float64(merchants) * (0.2 + mathx.Clamp(relation, 0, 100)/250))
	slots := int(math.Floor(base*(1+e.MerchantPercent))) + e.MerchantExtra
	return mathx.Clamp(slots, 0, merchants)
}

// Sign records a new treaty with partner starting today. Alliance treaties
// also enter the partner's ally list.
func Sign(cat *catalog.Catalog, s *world.State, partner, typ string, dir world.TreatyDirection, duration int, maintenance float64) world.Treaty {
	def := cat.Treaties[typ]
	if duration <= 0 {
		duration = max(def.BaseDuration, 1)
	}
	t := world.Treaty{
		ID:          world.NewID("treaty", s.Day, partner, typ, len(s.Treaties)),
		Type:        typ,
		Partner:     partner,
		Direction:   dir,
		StartDay:    s.Day,
		EndDay:      s.Day + duration,
		Maintenance: math.Max(mathx.NonNeg(maintenance), def.Maintenance),
	}
	s.Treaties = append(s.Treaties, t)
	if def.Alliance {
		if n := s.ActiveNation(partner); n != nil && !n.AlliedWith(world.PlayerID) {
			n.Allies = append(n.Allies, world.PlayerID)
		}
	}
	return t
}

// Expire drops treaties that ended and unwinds alliances no longer backed
// by any active treaty.
func Expire(cat *catalog.Catalog, s *world.State) []events.Event {
	var evs []events.Event
	kept := s.Treaties[:0]
	for _, t := range s.Treaties {
		if t.EndDay > s.Day && s.ActiveNation(t.Partner) != nil {
			kept = append(kept, t)
			continue
		}
		evs = append(evs, events.TreatyExpired{Day: s.Day, Nation: t.Partner, Treaty: t.Type})
	}
	s.Treaties = kept

	for i := range s.Nations {
		n := &s.Nations[i]
		if !n.AlliedWith(world.PlayerID) || EffectsWith(cat, s, n.ID).Alliance {
			continue
		}
		n.Allies = removeID(n.Allies, world.PlayerID)
	}
	return evs
}

// PayMaintenance charges each active treaty's daily upkeep to the
// treasury. A treaty the treasury cannot cover costs relation instead.
func PayMaintenance(s *world.State, l *ledger.Ledger) []events.Event {
	var evs []events.Event
	for _, t := range s.Treaties {
		if t.Maintenance <= 0 || !t.Active(s.Day) {
			continue
		}
		meta := ledger.Meta{"partner": t.Partner, "treaty": t.Type}
		if l.Pay(ledger.Treasury, ledger.Void, t.Maintenance, ledger.CategoryState, ledger.Maintenance, meta) {
			continue
		}
		if n := s.ActiveNation(t.Partner); n != nil {
			n.Relation = mathx.Clamp(n.Relation-0.5, world.MinRelation, world.MaxRelation)
		}
		evs = append(evs, events.Notice{
			Day:     s.Day,
			Message: fmt.Sprintf("treasury empty, cannot pay %s upkeep to %s", t.Type, t.Partner),
		})
	}
	return evs
}

// RelationDecay drifts every relation toward neutral. Treaties with the
// player slow the drift of that nation's standing.
func RelationDecay(cat *catalog.Catalog, s *world.State) {
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		cut := EffectsWith(cat, s, n.ID).DecayCut
		n.Relation = drift(n.Relation, RelationDrift*(1-cut))
		for id, r := range n.Relations {
			n.Relations[id] = drift(r, RelationDrift)
		}
	}
}

func drift(r, step float64) float64 {
	switch {
	case r > NeutralRelation:
		r = math.Max(NeutralRelation, r-step)
	case r < NeutralRelation:
		r = math.Min(NeutralRelation, r+step)
	}
	return mathx.Clamp(r, world.MinRelation, world.MaxRelation)
}

// AdjustRelation shifts n's standing toward the player by delta.
func AdjustRelation(n *world.Nation, delta float64) {
	n.Relation = mathx.Clamp(mathx.Finite(n.Relation+delta, n.Relation), world.MinRelation, world.MaxRelation)
}

// AdjustMutual shifts the relation between two AI nations symmetrically.
func AdjustMutual(a, b *world.Nation, delta float64) {
	a.Relations[b.ID] = mathx.Clamp(a.RelationTo(b.ID)+delta, world.MinRelation, world.MaxRelation)
	b.Relations[a.ID] = mathx.Clamp(b.RelationTo(a.ID)+delta, world.MinRelation, world.MaxRelation)
}

// BlocPartners returns the active nations sharing a price-converging
// treaty with the player.
func BlocPartners(cat *catalog.Catalog, s *world.State) []*world.Nation {
	var out []*world.Nation
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		if EffectsWith(cat, s, n.ID).PriceConvergence {
			out = append(out, n)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
