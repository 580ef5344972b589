package engine

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/economy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/labor"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/needs"
	"github.com/talgya/statecraft/internal/trade"
	"github.com/talgya/statecraft/internal/war"
	"github.com/talgya/statecraft/internal/world"
)

// Stage names, in execution order.
const (
	StageNormalize  = "normalize"
	StageSettlement = "settlement"
	StageAllocation = "allocation"
	StagePricing    = "pricing"
	StageNeeds      = "needs"
	StageTrade      = "trade"
	StageDiplomacy  = "diplomacy"
	StageStats      = "stats"
)

// StabilityDrift is how fast stability follows average approval.
const StabilityDrift = 0.05

// Stage is one step of a tick. Stages share a tickContext and run strictly
// in order.
type Stage struct {
	Name string
	Run  func(c *tickContext)
}

// Options tune a Pipeline.
type Options struct {
	Trade trade.Config
	// Disabled names stages to skip. The normalize stage always runs.
	Disabled []string
}

// Pipeline advances a snapshot by one day through a fixed stage list.
type Pipeline struct {
	cat      *catalog.Catalog
	trade    trade.Config
	stages   []Stage
	disabled map[string]bool
}

type tickContext struct {
	cat    *catalog.Catalog
	s      *world.State
	l      *ledger.Ledger
	rng    entropy.Source
	trade  trade.Config
	out    Output
	wanted map[string]float64
	events []events.Event
}

func (c *tickContext) emit(evs ...events.Event) {
	c.events = append(c.events, evs...)
}

// NewPipeline builds the standard pipeline over cat.
func NewPipeline(cat *catalog.Catalog, opts Options) *Pipeline {
	p := &Pipeline{
		cat:      cat,
		trade:    opts.Trade,
		disabled: make(map[string]bool, len(opts.Disabled)),
	}
	for _, name := range opts.Disabled {
		if name != StageNormalize {
			p.disabled[name] = true
		}
	}
	p.stages = []Stage{
		{StageNormalize, normalizeStage},
		{StageSettlement, settlementStage},
		{StageAllocation, allocationStage},
		{StagePricing, pricingStage},
		{StageNeeds, needsStage},
		{StageTrade, tradeStage},
		{StageDiplomacy, diplomacyStage},
		{StageStats, statsStage},
	}
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name
	}
	return names
}

// Catalog returns the catalog the pipeline runs against.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.cat }

// Tick advances in by one day and returns the new snapshot with the
// events it produced, in order. in is never modified. A nil rng uses the
// snapshot's seed for the new day, so replays are reproducible.
//
// A stage that panics is abandoned where it stopped and reported as a
// StageSkipped event; later stages still run. Once ctx is done every
// remaining stage is skipped the same way.
func (p *Pipeline) Tick(ctx context.Context, in world.State, rng entropy.Source) (world.State, []events.Event) {
	s := in.Clone()
	s.Day++
	s.Books.Reset()
	if rng == nil {
		rng = entropy.ForDay(s.Seed, s.Day)
	}
	c := &tickContext{
		cat:   p.cat,
		s:     &s,
		l:     s.Ledger(),
		rng:   rng,
		trade: p.trade,
	}

	for _, st := range p.stages {
		if p.disabled[st.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.emit(events.StageSkipped{Day: s.Day, Stage: st.Name, Error: err.Error()})
			continue
		}
		p.run(st, c)
	}
	return s, c.events
}

func (p *Pipeline) run(st Stage, c *tickContext) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("stage", st.Name).
				Int("day", c.s.Day).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("stage panicked, skipping")
			c.emit(events.StageSkipped{Day: c.s.Day, Stage: st.Name, Error: fmt.Sprint(r)})
		}
	}()
	st.Run(c)
}

func normalizeStage(c *tickContext) {
	world.Normalize(c.s, c.cat)
}

// settlementStage clears everything that comes due today before anyone
// works: trades arriving, investment returns, peace installments, treaty
// upkeep, head tax, and treaties running out.
func settlementStage(c *tickContext) {
	s, l := c.s, c.l
	c.emit(trade.Settle(s, l)...)
	c.emit(trade.PayInvestments(s, l)...)
	c.emit(diplomacy.PayInstallments(s, l)...)
	c.emit(diplomacy.PayMaintenance(s, l)...)
	collectHeadTax(c.cat, &s.Player, l)
	c.emit(diplomacy.Expire(c.cat, s)...)
}

func allocationStage(c *tickContext) {
	s, l, cat := c.s, c.l, c.cat
	p := &s.Player

	in := labor.GrowthInput{
		FoodProduction: s.Market["food"].Supply,
		FoodStock:      p.Inventory["food"],
		AtWar:          war.WarsWithPlayer(s) > 0,
	}
	labor.AllocatePopulation(p, cat, labor.TargetPopulation(cat, p, in, c.rng))

	capacity := labor.Capacity(cat, p.Buildings)
	labor.HandleLayoffs(p, cat, l, capacity)
	labor.FillVacancies(p, cat, l, capacity)

	c.out = produce(cat, s, l)
	payStateSalaries(cat, p, l)

	if mv := labor.Migrate(p, cat, l, capacity, perCapitaIncome(cat, p, l.Stats()), s.Day); mv != nil {
		c.emit(events.Notice{Day: s.Day, Message: fmt.Sprintf("%d %s left for work as %s", mv.People, mv.From, mv.To)})
	}
	updateWages(cat, s, l)
}

func pricingStage(c *tickContext) {
	s, cat := c.s, c.cat
	p := &s.Player

	demand := make(map[string]float64, len(s.Market))
	for k, m := range s.Market {
		demand[k] = m.Demand
	}
	s.Market = economy.UpdatePrices(cat, s.Market, economy.PriceInput{
		Stock:       p.Inventory,
		Supply:      c.out.Produced,
		Demand:      demand,
		Buildings:   p.Buildings,
		Wages:       p.Wages,
		ResourceTax: p.Tax.ResourceTax,
	})

	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		economy.UpdateAIInventory(cat, n, c.rng)
		labor.GrowNation(n, c.rng)
	}
	economy.ConvergePrices(cat, s.Market, diplomacy.BlocPartners(cat, s))
}

func needsStage(c *tickContext) {
	s, cat := c.s, c.cat
	p := &s.Player
	res := needs.Evaluate(cat, p, c.l, needs.Input{
		Prices:      s.Prices(),
		ResourceTax: p.Tax.ResourceTax,
		Income:      totalIncome(cat, c.l.Stats()),
		Epoch:       s.Epoch,
		Day:         s.Day,
	})
	c.wanted = res.Wanted
	c.emit(res.Events...)

	target := AverageApproval(p)
	p.Stability = mathx.Clamp(mathx.Approach(p.Stability, target, StabilityDrift)-res.StabilityPenalty, 0, 100)
}

func tradeStage(c *tickContext) {
	c.emit(trade.Match(c.cat, c.s, c.l, c.trade)...)
	c.emit(trade.ProcessRoutes(c.cat, c.s, c.l)...)
}

func diplomacyStage(c *tickContext) {
	diplomacy.RelationDecay(c.cat, c.s)
	c.emit(war.Step(c.cat, c.s, c.l, c.rng)...)
}

// statsStage records today's supply and demand on the market for the next
// day's pricing and growth, and rounds off float noise in stockpiles.
func statsStage(c *tickContext) {
	s := c.s
	for _, key := range c.cat.TradableKeys() {
		m := s.Market[key]
		m.Supply = mathx.NonNeg(c.out.Produced[key])
		m.Demand = mathx.NonNeg(c.wanted[key] + c.out.Used[key])
		s.Market[key] = m
	}
	for k, v := range s.Player.Inventory {
		s.Player.Inventory[k] = math.Round(mathx.NonNeg(v)*1e6) / 1e6
	}
}

// AverageApproval is the population-weighted approval of the player's strata.
func AverageApproval(p *world.Player) float64 {
	sum, n := 0.0, 0
	for _, key := range sortedKeys(p.Strata) {
		st := p.Strata[key]
		sum += st.Approval * float64(st.Count)
		n += st.Count
	}
	if n == 0 {
		return 50
	}
	return sum / float64(n)
}
