package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/world"
)

func newWorld(t *testing.T, seed int64) (*catalog.Catalog, world.State) {
	t.Helper()
	cat := catalog.Default()
	return cat, world.Generate(world.GenConfig{Seed: seed, Nations: 6}, cat)
}

func snapshot(t *testing.T, s world.State) string {
	t.Helper()
	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func run(p *Pipeline, s world.State, days int) (world.State, []string) {
	var lines []string
	for i := 0; i < days; i++ {
		var evs []events.Event
		s, evs = p.Tick(context.Background(), s, nil)
		lines = append(lines, events.Lines(evs)...)
	}
	return s, lines
}

func TestTickIsDeterministic(t *testing.T) {
	cat, s := newWorld(t, 42)
	p := NewPipeline(cat, Options{})

	a, aLines := run(p, s, 30)
	b, bLines := run(p, s, 30)
	if snapshot(t, a) != snapshot(t, b) {
		t.Fatal("same seed and input produced different snapshots")
	}
	if len(aLines) != len(bLines) {
		t.Fatalf("event counts differ: %d vs %d", len(aLines), len(bLines))
	}
	for i := range aLines {
		if aLines[i] != bLines[i] {
			t.Fatalf("event %d differs:\n%s\n%s", i, aLines[i], bLines[i])
		}
	}
	if a.Day != s.Day+30 {
		t.Errorf("day = %d, want %d", a.Day, s.Day+30)
	}
}

func TestTickDoesNotMutateInput(t *testing.T) {
	cat, s := newWorld(t, 7)
	before := snapshot(t, s)
	NewPipeline(cat, Options{}).Tick(context.Background(), s, nil)
	if snapshot(t, s) != before {
		t.Fatal("Tick modified its input")
	}
}

func TestTickStaysFinite(t *testing.T) {
	cat, s := newWorld(t, 99)
	out, _ := run(NewPipeline(cat, Options{}), s, 120)

	if bad(out.Player.Treasury) || out.Player.Treasury < 0 {
		t.Errorf("treasury = %v", out.Player.Treasury)
	}
	for k, st := range out.Player.Strata {
		if bad(st.Wealth) || st.Wealth < 0 || st.Count < 0 {
			t.Errorf("stratum %s = %+v", k, st)
		}
	}
	for k, m := range out.Market {
		if bad(m.Price) || m.Price <= 0 {
			t.Errorf("price %s = %v", k, m.Price)
		}
	}
	for k, v := range out.Player.Inventory {
		if bad(v) || v < 0 {
			t.Errorf("inventory %s = %v", k, v)
		}
	}
	if out.Player.Stability < 0 || out.Player.Stability > 100 {
		t.Errorf("stability = %v", out.Player.Stability)
	}
}

func bad(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }

func TestAnnexedNationIsInert(t *testing.T) {
	cat, s := newWorld(t, 5)
	gone := &s.Nations[0]
	gone.Annexed = true
	gone.Population = 0
	gone.Wealth = 0
	s.Assignments = map[string]int{gone.ID: 5}
	inv := gone.Inventory["food"]

	out, _ := run(NewPipeline(cat, Options{}), s, 10)
	n := out.Nation(gone.ID)
	if n.Inventory["food"] != inv || n.Population != 0 {
		t.Errorf("annexed nation changed: food %v→%v, pop %d", inv, n.Inventory["food"], n.Population)
	}
	for _, tr := range out.PendingTrades {
		if tr.Partner == gone.ID {
			t.Errorf("trade %s with annexed nation", tr.ID)
		}
	}
	for i := range out.Nations {
		if out.Nations[i].AtWarWith(gone.ID) {
			t.Errorf("%s at war with annexed nation", out.Nations[i].ID)
		}
	}
}

func TestStagePanicIsRecovered(t *testing.T) {
	cat, s := newWorld(t, 1)
	p := NewPipeline(cat, Options{})
	ran := false
	for i := range p.stages {
		switch p.stages[i].Name {
		case StageTrade:
			p.stages[i].Run = func(*tickContext) { panic("boom") }
		case StageStats:
			p.stages[i].Run = func(*tickContext) { ran = true }
		}
	}

	out, evs := p.Tick(context.Background(), s, nil)
	if out.Day != s.Day+1 {
		t.Errorf("day = %d, want %d", out.Day, s.Day+1)
	}
	if !ran {
		t.Error("stages after the panic did not run")
	}
	found := false
	for _, e := range evs {
		if sk, ok := e.(events.StageSkipped); ok {
			if sk.Stage != StageTrade || sk.Error != "boom" {
				t.Errorf("unexpected skip %+v", sk)
			}
			found = true
		}
	}
	if !found {
		t.Error("no StageSkipped event")
	}
}

func TestCancelledContextSkipsStages(t *testing.T) {
	cat, s := newWorld(t, 2)
	p := NewPipeline(cat, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, evs := p.Tick(ctx, s, nil)
	if len(evs) != len(p.Stages()) {
		t.Fatalf("events = %d, want %d", len(evs), len(p.Stages()))
	}
	for _, e := range evs {
		if _, ok := e.(events.StageSkipped); !ok {
			t.Errorf("unexpected event %T", e)
		}
	}
	if out.Player.Treasury != s.Player.Treasury {
		t.Error("a skipped tick moved money")
	}
}

func TestDisabledStages(t *testing.T) {
	cat, s := newWorld(t, 3)
	p := NewPipeline(cat, Options{Disabled: []string{
		StageNormalize, StageSettlement, StageAllocation, StagePricing,
		StageNeeds, StageTrade, StageDiplomacy, StageStats,
	}})
	if len(p.Stages()) != 8 {
		t.Fatalf("stages = %v", p.Stages())
	}
	out, evs := p.Tick(context.Background(), s, nil)
	if len(evs) != 0 {
		t.Errorf("events = %v", events.Lines(evs))
	}
	if out.Player.Treasury != s.Player.Treasury || out.Player.TotalPopulation() != s.Player.TotalPopulation() {
		t.Error("disabled stages still changed the realm")
	}
}

// smallRealm is a normalized state with one farm and one brewery.
func smallRealm(cat *catalog.Catalog) world.State {
	s := world.State{
		Day: 1,
		Player: world.Player{
			Treasury:  100,
			Inventory: map[string]float64{"food": 1.5},
			Strata: map[string]world.Stratum{
				"peasant":    {Count: 3},
				"worker":     {Count: 2},
				"landowner":  {Count: 1, Wealth: 100},
				"capitalist": {Count: 1, Wealth: 100},
			},
			Buildings:       map[string]int{"farm": 1, "brewery": 1},
			LaborEfficiency: 1,
		},
	}
	world.Normalize(&s, cat)
	for k, m := range s.Market {
		m.Price = cat.BasePrice(k)
		s.Market[k] = m
	}
	return s
}

func TestProductionFollowsStaffing(t *testing.T) {
	cat := catalog.Default()
	s := smallRealm(cat)
	l := s.Ledger()

	// Brewery runs first: food 1.5 of the 3 needed halves it.
	out := produce(cat, &s, l)
	if got := out.Produced["ale"]; math.Abs(got-2) > 1e-9 {
		t.Errorf("ale = %v, want 2", got)
	}
	if got := out.Used["food"]; math.Abs(got-1.5) > 1e-9 {
		t.Errorf("food used = %v, want 1.5", got)
	}
	// Farm: 3 of 6 peasants, 0 of 2 serfs → 3/8 staffed.
	if got := out.Produced["food"]; math.Abs(got-12*3.0/8) > 1e-9 {
		t.Errorf("food = %v, want 4.5", got)
	}
	if got := s.Books.IncomeOf("landowner", ledger.OwnerRevenue); math.Abs(got-4.5) > 1e-9 {
		t.Errorf("landowner revenue = %v, want 4.5", got)
	}
	if s.Books.IncomeOf("peasant", ledger.Wage) <= 0 {
		t.Error("peasants were not paid")
	}
	if s.Books.ExpenseOf("capitalist", ledger.ProductionCosts) <= 0 {
		t.Error("brewery inputs were not paid for")
	}
}

func TestStaffingRatio(t *testing.T) {
	b := catalog.Building{Jobs: map[string]int{"a": 6, "b": 2}}
	tests := []struct {
		fill map[string]float64
		want float64
	}{
		{map[string]float64{"a": 1, "b": 1}, 1},
		{map[string]float64{"a": 0.5}, 0.375},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := StaffingRatio(b, tt.fill); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("StaffingRatio(%v) = %v, want %v", tt.fill, got, tt.want)
		}
	}
	if got := StaffingRatio(catalog.Building{}, nil); got != 1 {
		t.Errorf("jobless building = %v, want 1", got)
	}
}

func TestHeadTax(t *testing.T) {
	cat := catalog.Default()
	s := smallRealm(cat)
	st := s.Player.Strata["peasant"]
	st.Count = 100
	st.Wealth = 3
	s.Player.Strata["peasant"] = st

	// 100 × 0.05 = 5 due, only 3 held.
	collectHeadTax(cat, &s.Player, s.Ledger())
	if got := s.Books.ExpenseOf("peasant", ledger.HeadTax); math.Abs(got-3) > 1e-9 {
		t.Errorf("peasant head tax = %v, want 3", got)
	}
	if s.Player.Strata["peasant"].Wealth != 0 {
		t.Errorf("peasant wealth = %v, want 0", s.Player.Strata["peasant"].Wealth)
	}
}

func TestHeadTaxSubsidy(t *testing.T) {
	cat := catalog.Default()
	s := smallRealm(cat)
	for _, key := range cat.StratumKeys() {
		s.Player.Tax.HeadTax[key] = 0
	}
	s.Player.Tax.HeadTax["worker"] = -1
	s.Player.Treasury = 0

	// 2 workers × 0.1 cannot be paid from an empty treasury.
	collectHeadTax(cat, &s.Player, s.Ledger())
	if got := s.Books.Tax("subsidy"); got != 0 {
		t.Errorf("subsidy from empty treasury = %v", got)
	}

	s.Player.Treasury = 1
	collectHeadTax(cat, &s.Player, s.Ledger())
	if got := s.Books.Tax("subsidy"); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("subsidy = %v, want 0.2", got)
	}
	if math.Abs(s.Player.Treasury-0.8) > 1e-9 {
		t.Errorf("treasury = %v, want 0.8", s.Player.Treasury)
	}
}

func TestSummarize(t *testing.T) {
	_, s := newWorld(t, 8)
	s.Nations[0].Annexed = true
	s.Nations[1].Wars = world.WarMap{world.PlayerID: world.AtWar{StartDay: 1}}
	r := Summarize(&s)
	if r.Nations != 5 || r.Wars != 1 {
		t.Errorf("nations = %d wars = %d, want 5 and 1", r.Nations, r.Wars)
	}
	if r.Population != s.Player.TotalPopulation() || r.Treasury != s.Player.Treasury {
		t.Errorf("report %+v does not match the realm", r)
	}
}

func TestCalendar(t *testing.T) {
	tests := []struct {
		day  int
		want string
	}{
		{0, "Spring Day 1, Year 1"},
		{89, "Spring Day 90, Year 1"},
		{90, "Summer Day 1, Year 1"},
		{360, "Spring Day 1, Year 2"},
		{-5, "Spring Day 1, Year 1"},
	}
	for _, tt := range tests {
		if got := Calendar(tt.day); got != tt.want {
			t.Errorf("Calendar(%d) = %q, want %q", tt.day, got, tt.want)
		}
	}
}

func TestEngineStepDiscardsCancelledDay(t *testing.T) {
	cat, s := newWorld(t, 3)
	e := NewEngine(NewPipeline(cat, Options{}), s)
	called := false
	e.OnDay = func(world.State, []events.Event) { called = true }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, evs := e.Step(ctx)
	if got.Day != s.Day || e.State().Day != s.Day {
		t.Errorf("day = %d (engine %d), want %d", got.Day, e.State().Day, s.Day)
	}
	if len(evs) != 0 || called {
		t.Errorf("cancelled day published: %d events, OnDay called %v", len(evs), called)
	}

	next, _ := e.Step(context.Background())
	if next.Day != s.Day+1 || !called {
		t.Errorf("day after cancel = %d, OnDay called %v", next.Day, called)
	}
}

func TestEngineStepAndApply(t *testing.T) {
	cat, s := newWorld(t, 4)
	e := NewEngine(NewPipeline(cat, Options{}), s)

	var seen int
	e.OnDay = func(s world.State, _ []events.Event) { seen = s.Day }
	next, _ := e.Step(context.Background())
	if next.Day != s.Day+1 || seen != next.Day {
		t.Errorf("day = %d, callback saw %d", next.Day, seen)
	}

	err := e.Apply(func(s world.State) (world.State, error) {
		s.Player.Treasury = -1
		return s, errors.New("rejected")
	})
	if err == nil || e.State().Player.Treasury == -1 {
		t.Error("failed Apply changed the snapshot")
	}
	if err := e.Apply(func(s world.State) (world.State, error) {
		s.Player.Treasury = 1234
		return s, nil
	}); err != nil {
		t.Fatal(err)
	}
	if e.State().Player.Treasury != 1234 {
		t.Error("Apply did not replace the snapshot")
	}

	e.SetSpeed(-3)
	if e.Speed() != 0 {
		t.Errorf("speed = %v, want 0", e.Speed())
	}
}
