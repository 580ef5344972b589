package dispatch

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/economy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/war"
	"github.com/talgya/statecraft/internal/world"
)

// Action tunables.
const (
	AcceptGoodwill = 5.0

	ProvokeShare      = 0.03
	ProvokeMinCost    = 150.0
	ProvokeMaxCost    = 300000.0
	ProvokeDamage     = 15.0
	ProvokeDiscovery  = 0.5
	ProvokeBacklash   = 10.0
	MinInvestment     = 100.0
	InvestmentBase    = 0.10 // annual return at relation 0
	InvestmentBonus   = 0.15 // extra annual return at relation 100
	InvestmentWarmth  = 1.0
	NationStockTurn   = 0.1 // share of a nation's stockpile value produced per day
	DaysPerInvestYear = 360
)

// negotiate proposes a treaty. An accepted proposal pays the gift and
// resource offer, collects the demands and signs the treaty. A rejection
// may carry a counter-proposal in the result event.
func negotiate(c *call) ([]events.Event, error) {
	p, err := decode[diplomacy.Proposal](c.payload)
	if err != nil {
		return nil, err
	}
	if err := validateProposal(c, p); err != nil {
		return nil, err
	}

	s, n := c.s, c.nation
	out := diplomacy.Negotiate(c.cat, p, n, diplomacy.Context{
		Day:              s.Day,
		PlayerWealth:     s.Player.Treasury,
		PlayerPower:      war.Power(c.cat, s.Player.Army, s.Epoch, 0),
		PlayerProduction: playerProduction(c.cat, s),
		TargetPower:      war.Power(c.cat, n.Army, n.Epoch, 0),
		TargetProduction: nationProduction(c.cat, n),
	}, c.rng)

	res := events.NegotiationResult{
		Day:      s.Day,
		Nation:   n.ID,
		Treaty:   p.Type,
		Accepted: out.Accepted,
		Chance:   out.Assessment.Chance,
		Reason:   out.Assessment.GateReason,
	}
	if !out.Accepted {
		if out.Counter != nil {
			res.CounterGift = out.Counter.Gift
			res.CounterDays = out.Counter.Duration
		}
		return []events.Event{res}, nil
	}

	settleProposal(c, p)
	t := diplomacy.Sign(c.cat, s, n.ID, p.Type, world.ProposedByPlayer, p.Duration, p.Maintenance)
	diplomacy.AdjustRelation(n, AcceptGoodwill)
	return []events.Event{res, events.TreatySigned{
		Day:     s.Day,
		Nation:  n.ID,
		Treaty:  t.Type,
		EndDay:  t.EndDay,
		Counter: p.Round > 0,
	}}, nil
}

func validateProposal(c *call, p diplomacy.Proposal) error {
	inv := c.s.Player.Inventory
	switch {
	case p.Type == "":
		return fmt.Errorf("%w: treaty type is required", ErrInvalidPayload)
	case p.Type == diplomacy.PeaceTreaty:
		return fmt.Errorf("%w: peace is concluded with the peace action", ErrInvalidPayload)
	case p.Duration < 0, p.Gift < 0, p.Maintenance < 0, p.ResourceAmount < 0, p.DemandSilver < 0, p.DemandAmount < 0:
		return fmt.Errorf("%w: negative amount", ErrInvalidPayload)
	case p.Round < 0 || p.Round > diplomacy.MaxRounds:
		return fmt.Errorf("%w: round %d outside 0..%d", ErrInvalidPayload, p.Round, diplomacy.MaxRounds)
	case p.Gift > c.s.Player.Treasury:
		return fmt.Errorf("%w: gift of %.0f exceeds treasury", ErrInsufficientFunds, p.Gift)
	case p.ResourceAmount > 0 && inv[p.Resource] < p.ResourceAmount:
		return fmt.Errorf("%w: only %.0f %s in stock", ErrInsufficientFunds, inv[p.Resource], p.Resource)
	case p.DemandAmount > 0 && !c.cat.Tradable(p.DemandResource):
		return fmt.Errorf("%w: %q is not tradable", ErrInvalidPayload, p.DemandResource)
	}
	if _, ok := c.cat.Treaties[p.Type]; !ok {
		return fmt.Errorf("%w: unknown treaty type %q", ErrInvalidPayload, p.Type)
	}
	if p.ResourceAmount > 0 && !c.cat.Tradable(p.Resource) {
		return fmt.Errorf("%w: %q is not tradable", ErrInvalidPayload, p.Resource)
	}
	return nil
}

// settleProposal moves everything an accepted proposal promised.
func settleProposal(c *call, p diplomacy.Proposal) {
	s, l, n := c.s, c.l, c.nation
	meta := ledger.Meta{"partner": n.ID, "treaty": p.Type}

	if p.Gift > 0 {
		n.Wealth += l.Transfer(ledger.Treasury, ledger.Void, p.Gift, ledger.CategoryExpense, ledger.Gift, meta)
	}
	if p.ResourceAmount > 0 {
		moved := math.Min(p.ResourceAmount, s.Player.Inventory[p.Resource])
		s.Player.Inventory[p.Resource] -= moved
		n.Inventory[p.Resource] += moved
	}
	if p.DemandSilver > 0 {
		paid := math.Min(p.DemandSilver, mathx.NonNeg(n.Wealth))
		n.Wealth -= paid
		l.Transfer(ledger.Void, ledger.Treasury, paid, ledger.CategoryIncome, ledger.Tribute, meta)
	}
	if p.DemandAmount > 0 {
		moved := math.Min(p.DemandAmount, mathx.NonNeg(n.Inventory[p.DemandResource]))
		n.Inventory[p.DemandResource] -= moved
		s.Player.Inventory[p.DemandResource] += moved
	}
}

// playerProduction is the market value of one day's output.
func playerProduction(cat *catalog.Catalog, s *world.State) float64 {
	total := 0.0
	for _, key := range cat.TradableKeys() {
		m := s.Market[key]
		total += mathx.NonNeg(m.Supply) * mathx.NonNeg(m.Price)
	}
	return total
}

// nationProduction estimates a nation's daily output from the value of
// its stockpile.
func nationProduction(cat *catalog.Catalog, n *world.Nation) float64 {
	total := 0.0
	for _, key := range cat.TradableKeys() {
		total += mathx.NonNeg(n.Inventory[key]) * economy.ForeignPrice(cat, key, n)
	}
	return total * NationStockTurn
}

type declarePayload struct {
	Reason string `json:"reason"`
}

func declareWar(c *call) ([]events.Event, error) {
	p, err := decode[declarePayload](c.payload)
	if err != nil {
		return nil, err
	}
	if p.Reason == "" {
		p.Reason = "declared by the player"
	}
	return war.Declare(c.s, world.PlayerID, c.nation.ID, p.Reason)
}

type provokePayload struct {
	Target string `json:"target_nation_id"`
}

// ProvokeCost is the bribe needed to sow discord: a share of the poorer
// side's purse, bounded.
func ProvokeCost(treasury, targetWealth float64) float64 {
	base := math.Floor(math.Min(mathx.NonNeg(treasury), mathx.NonNeg(targetWealth)) * ProvokeShare)
	return mathx.Clamp(base, ProvokeMinCost, ProvokeMaxCost)
}

// ProvokeChance is the chance a provocation takes hold. Nations trust
// rumours from friends.
func ProvokeChance(relation float64) float64 {
	return mathx.Clamp(0.35+relation/200, 0.1, 0.85)
}

// provoke pays agents to turn the acting nation against a third nation.
// A failed attempt may be discovered and cost the player standing.
func provoke(c *call) ([]events.Event, error) {
	p, err := decode[provokePayload](c.payload)
	if err != nil {
		return nil, err
	}
	n := c.nation
	target := c.s.ActiveNation(p.Target)
	switch {
	case p.Target == "":
		return nil, fmt.Errorf("%w: target_nation_id is required", ErrInvalidPayload)
	case p.Target == n.ID:
		return nil, fmt.Errorf("%w: a nation cannot be provoked against itself", ErrInvalidPayload)
	case target == nil:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNation, p.Target)
	}

	cost := ProvokeCost(c.s.Player.Treasury, target.Wealth)
	meta := ledger.Meta{"partner": n.ID, "target": target.ID}
	if !c.l.Pay(ledger.Treasury, ledger.Void, cost, ledger.CategoryExpense, ledger.Provocation, meta) {
		return nil, fmt.Errorf("%w: provocation costs %.0f", ErrInsufficientFunds, cost)
	}

	day := c.s.Day
	if entropy.Chance(c.rng, ProvokeChance(n.Relation)) {
		diplomacy.AdjustMutual(n, target, -ProvokeDamage)
		return []events.Event{events.Notice{
			Day:     day,
			Message: fmt.Sprintf("agents turned %s against %s for %.0f silver", n.Name, target.Name, cost),
		}}, nil
	}
	if entropy.Chance(c.rng, ProvokeDiscovery) {
		diplomacy.AdjustRelation(n, -ProvokeBacklash)
		return []events.Event{events.Notice{
			Day:     day,
			Message: fmt.Sprintf("%s uncovered our agents sowing discord with %s", n.Name, target.Name),
		}}, nil
	}
	return []events.Event{events.Notice{
		Day:     day,
		Message: fmt.Sprintf("provocation in %s came to nothing", n.Name),
	}}, nil
}

type routePayload struct {
	Resource string          `json:"resource"`
	Type     world.TradeType `json:"type"`
	Mode     world.RouteMode `json:"mode"`
	Remove   bool            `json:"remove"`
}

// tradeRoute opens or closes a standing manual route with the nation.
// Coercive modes need a treaty that allows them.
func tradeRoute(c *call) ([]events.Event, error) {
	p, err := decode[routePayload](c.payload)
	if err != nil {
		return nil, err
	}
	if p.Mode == "" {
		p.Mode = world.RouteNormal
	}
	switch {
	case !c.cat.Tradable(p.Resource):
		return nil, fmt.Errorf("%w: %q is not tradable", ErrInvalidPayload, p.Resource)
	case p.Type != world.Import && p.Type != world.Export:
		return nil, fmt.Errorf("%w: route type %q", ErrInvalidPayload, p.Type)
	case p.Mode != world.RouteNormal && p.Mode != world.RouteForceSell && p.Mode != world.RouteForceBuy:
		return nil, fmt.Errorf("%w: route mode %q", ErrInvalidPayload, p.Mode)
	}

	s, n := c.s, c.nation
	idx := -1
	for i, r := range s.Routes {
		if r.Partner == n.ID && r.Resource == p.Resource && r.Type == p.Type {
			idx = i
			break
		}
	}

	if p.Remove {
		if idx < 0 {
			return nil, fmt.Errorf("%w: no %s route for %s", ErrInvalidPayload, p.Type, p.Resource)
		}
		s.Routes = append(s.Routes[:idx], s.Routes[idx+1:]...)
		return []events.Event{events.Notice{
			Day:     s.Day,
			Message: fmt.Sprintf("closed %s route for %s with %s", p.Type, p.Resource, n.Name),
		}}, nil
	}

	if n.AtWarWith(world.PlayerID) {
		return nil, fmt.Errorf("%w: %s", ErrAtWar, n.Name)
	}

	if idx >= 0 {
		s.Routes[idx].Mode = p.Mode
	} else {
		s.Routes = append(s.Routes, world.Route{
			ID:       world.NewID("route", s.Day, n.ID, p.Resource, p.Type, len(s.Routes)),
			Partner:  n.ID,
			Resource: p.Resource,
			Type:     p.Type,
			Mode:     p.Mode,
		})
	}
	return []events.Event{events.Notice{
		Day:     s.Day,
		Message: fmt.Sprintf("opened %s %s route for %s with %s", p.Mode, p.Type, p.Resource, n.Name),
	}}, nil
}

type investPayload struct {
	Amount float64 `json:"amount"`
}

// DailyReturn is the daily yield on amount invested in a nation the
// player stands at relation with.
func DailyReturn(amount, relation float64) float64 {
	annual := InvestmentBase + mathx.Clamp(relation, 0, 100)/100*InvestmentBonus
	return mathx.NonNeg(amount) * annual / DaysPerInvestYear
}

func invest(c *call) ([]events.Event, error) {
	p, err := decode[investPayload](c.payload)
	if err != nil {
		return nil, err
	}
	n := c.nation
	switch {
	case !(p.Amount >= MinInvestment):
		return nil, fmt.Errorf("%w: investments start at %.0f silver", ErrInvalidPayload, MinInvestment)
	case n.AtWarWith(world.PlayerID):
		return nil, fmt.Errorf("%w: %s", ErrAtWar, n.Name)
	}
	amount := math.Floor(p.Amount)
	if !c.l.Pay(ledger.Treasury, ledger.Void, amount, ledger.CategoryExpense, ledger.Investment, ledger.Meta{"partner": n.ID}) {
		return nil, fmt.Errorf("%w: investment of %.0f", ErrInsufficientFunds, amount)
	}
	n.Wealth += amount
	inv := world.Investment{
		ID:          world.NewID("investment", c.s.Day, n.ID, len(c.s.Investments)),
		Partner:     n.ID,
		Amount:      amount,
		DailyReturn: DailyReturn(amount, n.Relation),
		StartDay:    c.s.Day,
	}
	c.s.Investments = append(c.s.Investments, inv)
	diplomacy.AdjustRelation(n, InvestmentWarmth)
	return []events.Event{events.Notice{
		Day:     c.s.Day,
		Message: fmt.Sprintf("invested %.0f silver in %s for %.2f a day", amount, n.Name, inv.DailyReturn),
	}}, nil
}

func peace(c *call) ([]events.Event, error) {
	t, err := decode[war.Terms](c.payload)
	if err != nil {
		return nil, err
	}
	if t.Payment < 0 || t.OpenMarketDays < 0 {
		return nil, fmt.Errorf("%w: negative payment or open market period", ErrInvalidPayload)
	}
	evs, err := war.MakePeace(c.s, c.l, c.nation.ID, t)
	if errors.Is(err, war.ErrInsufficientFunds) {
		return nil, fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return evs, err
}

func attack(c *call) ([]events.Event, error) {
	return war.Attack(c.cat, c.s, c.l, c.nation.ID, c.rng)
}
