package needs

import (
	"math"
	"testing"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/world"
)

func setup(strata map[string]world.Stratum, stock map[string]float64) *world.State {
	s := &world.State{}
	world.Normalize(s, catalog.Default())
	for k, st := range strata {
		if st.Approval == 0 {
			st.Approval = 50
		}
		if st.Satisfaction == 0 {
			st.Satisfaction = 1
		}
		s.Player.Strata[k] = st
	}
	for k, v := range stock {
		s.Player.Inventory[k] = v
	}
	return s
}

func TestConsumptionPaysPriceAndTax(t *testing.T) {
	cat := catalog.Default()
	s := setup(map[string]world.Stratum{"peasant": {Count: 10, Wealth: 100}}, map[string]float64{"food": 1000})
	l := s.Ledger()

	res := Evaluate(cat, &s.Player, l, Input{
		Prices:      map[string]float64{"food": 1, "cloth": 3},
		ResourceTax: map[string]float64{"food": 0.1},
	})

	p := s.Player.Strata["peasant"]
	if math.Abs(p.Wealth-94.5) > 1e-9 {
		t.Errorf("peasant wealth = %v, want 94.5", p.Wealth)
	}
	if math.Abs(s.Player.Treasury-0.5) > 1e-9 {
		t.Errorf("treasury = %v, want 0.5", s.Player.Treasury)
	}
	if s.Player.Inventory["food"] != 995 {
		t.Errorf("food stock = %v, want 995", s.Player.Inventory["food"])
	}
	if res.Consumed["food"] != 5 || math.Abs(res.Wanted["cloth"]-0.3) > 1e-9 {
		t.Errorf("consumed = %v wanted = %v", res.Consumed, res.Wanted)
	}
	if len(p.Shortages) != 1 || p.Shortages[0].Resource != "cloth" || p.Shortages[0].Reason != world.OutOfStock {
		t.Errorf("shortages = %+v, want cloth outOfStock", p.Shortages)
	}
	if got := l.Stats().Tax("industryTax"); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("industry tax = %v, want 0.5", got)
	}
}

func TestShortageReasons(t *testing.T) {
	cat := catalog.Default()
	tests := []struct {
		name   string
		wealth float64
		stock  float64
		want   world.ShortageReason
	}{
		{"broke with stock", 0, 1000, world.Unaffordable},
		{"rich without stock", 1000, 0, world.OutOfStock},
		{"broke without stock", 0, 0, world.Both},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setup(map[string]world.Stratum{"serf": {Count: 10, Wealth: tt.wealth}},
				map[string]float64{"food": tt.stock, "cloth": 1000})
			Evaluate(cat, &s.Player, s.Ledger(), Input{Prices: map[string]float64{"food": 1, "cloth": 3}})
			var got world.ShortageReason
			for _, sh := range s.Player.Strata["serf"].Shortages {
				if sh.Resource == "food" {
					got = sh.Reason
				}
			}
			if got != tt.want {
				t.Errorf("food reason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubsidyWithEmptyTreasury(t *testing.T) {
	cat := catalog.Default()
	s := setup(map[string]world.Stratum{"peasant": {Count: 10, Wealth: 100}}, map[string]float64{"food": 1000})
	res := Evaluate(cat, &s.Player, s.Ledger(), Input{
		Prices:      map[string]float64{"food": 1},
		ResourceTax: map[string]float64{"food": -0.5},
	})
	found := false
	for _, e := range res.Events {
		if n, ok := e.(events.Notice); ok && n.Message == "treasury empty, cannot pay peasants consumption subsidy" {
			found = true
		}
	}
	if !found {
		t.Errorf("no empty-treasury notice in %v", res.Events)
	}

	s = setup(map[string]world.Stratum{"peasant": {Count: 10, Wealth: 100}}, map[string]float64{"food": 1000})
	s.Player.Treasury = 100
	l := s.Ledger()
	Evaluate(cat, &s.Player, l, Input{Prices: map[string]float64{"food": 1}, ResourceTax: map[string]float64{"food": -0.5}})
	if got := l.Stats().Tax(ledger.Subsidy); math.Abs(got-2.5) > 1e-9 {
		t.Errorf("subsidy = %v, want 2.5", got)
	}
}

func TestStarvationAfterStreak(t *testing.T) {
	cat := catalog.Default()
	s := setup(map[string]world.Stratum{"serf": {Count: 100, Wealth: 1000}}, nil)
	var deaths []int
	for day := 1; day <= 3; day++ {
		res := Evaluate(cat, &s.Player, s.Ledger(), Input{Day: day})
		deaths = append(deaths, res.Deaths)
	}
	if deaths[0] != 0 || deaths[1] != 0 || deaths[2] != 5 {
		t.Errorf("deaths = %v, want [0 0 5]", deaths)
	}
	if got := s.Player.Strata["serf"].Count; got != 95 {
		t.Errorf("serfs = %d, want 95", got)
	}
	if got := s.Player.Strata["serf"].StarvationStreak; got != 3 {
		t.Errorf("streak = %d, want 3", got)
	}
}

func TestExodusAndStabilityPenalty(t *testing.T) {
	cat := catalog.Default()
	s := setup(map[string]world.Stratum{
		"serf":       {Count: 100, Wealth: 300, Approval: 10},
		"capitalist": {Count: 100, Wealth: 50000, Approval: 10},
	}, map[string]float64{"food": 10000, "cloth": 10000})
	l := s.Ledger()
	res := Evaluate(cat, &s.Player, l, Input{Prices: map[string]float64{"food": 1, "cloth": 3}})

	if res.Emigrants != 2 {
		t.Errorf("emigrants = %d, want 2 serfs", res.Emigrants)
	}
	if res.StabilityPenalty <= 0 {
		t.Error("influential capitalists should cost stability")
	}
	if l.Stats().TotalExpense("serf") <= 0 {
		t.Error("no serf expenses recorded")
	}
	if got := l.Stats().ExpenseOf("serf", ledger.CapitalFlight); got <= 0 {
		t.Errorf("serf capital flight = %v", got)
	}
}

func TestUnlockMultiplier(t *testing.T) {
	tests := []struct {
		name                  string
		income, wealth, elast float64
		want                  float64
	}{
		{"no income poor", 0, 0, 1, MinUnlockMultiplier},
		{"break even", 1, 1, 1, 1},
		{"capped", 1e9, 100, 1.4, MaxUnlockMultiplier},
		{"nan guarded", math.NaN(), 1, 1, MinUnlockMultiplier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnlockMultiplier(tt.income, tt.wealth, tt.elast)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("UnlockMultiplier = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLivingTiers(t *testing.T) {
	def := catalog.Default().Strata["peasant"]
	tests := []struct {
		st       world.Stratum
		wantTier string
		wantCap  float64
	}{
		{world.Stratum{Count: 10, Wealth: 0, Satisfaction: 0}, "destitute", 30},
		{world.Stratum{Count: 10, Wealth: 50, Satisfaction: 1}, "poor", 50},
		{world.Stratum{Count: 10, Wealth: 500, Satisfaction: 0.9}, "comfortable", 85},
		{world.Stratum{Count: 10, Wealth: 500, Satisfaction: 1, Living: world.LivingStandard{UnlockedTiers: 2}}, "luxurious", 100},
	}
	for _, tt := range tests {
		got := Living(def, tt.st, 1)
		if got.Tier != tt.wantTier || got.ApprovalCap != tt.wantCap {
			t.Errorf("Living(%+v) = %s/%v, want %s/%v", tt.st, got.Tier, got.ApprovalCap, tt.wantTier, tt.wantCap)
		}
	}
}

func TestEffectiveNeedsRespectsEpoch(t *testing.T) {
	cat := catalog.Default()
	def := cat.Strata["peasant"]
	_, lux, unlocked := EffectiveNeeds(cat, def, 3, 0)
	if unlocked != 2 {
		t.Errorf("unlocked = %d, want 2", unlocked)
	}
	if _, ok := lux["furniture"]; ok {
		t.Error("furniture is an epoch 1 resource")
	}
	if lux["ale"] != 0.05 {
		t.Errorf("ale luxury = %v, want 0.05", lux["ale"])
	}
}
