package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/trade"
	"github.com/talgya/statecraft/internal/war"
	"github.com/talgya/statecraft/internal/world"
)

func setup(t *testing.T, roll float64) (*Dispatcher, world.State) {
	t.Helper()
	cat := catalog.Default()
	s := world.Generate(world.GenConfig{Seed: 7, Nations: 4}, cat)
	s.Player.Treasury = 10000
	for i := range s.Nations {
		s.Nations[i].Relation = 90
		s.Nations[i].Wealth = 50000
	}
	d := New(cat)
	d.Source = entropy.Fixed(roll)
	return d, s
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestResolve(t *testing.T) {
	d := New(catalog.Default())
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"negotiate", Negotiate, false},
		{"Negotiate ", Negotiate, false},
		{"negotaite", Negotiate, false},
		{"declare-war", DeclareWar, false},
		{"peac", Peace, false},
		{"atack", Attack, false},
		{"investmnet", Investment, false},
		{"launch_missiles", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := d.Resolve(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnknownAction) {
				t.Errorf("Resolve(%q) error = %v, want ErrUnknownAction", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestDoRejectsUnknownAndAnnexedNations(t *testing.T) {
	d, s := setup(t, 0)
	ctx := context.Background()

	if _, _, err := d.Do(ctx, s, "nowhere", Attack, nil); !errors.Is(err, ErrUnknownNation) {
		t.Errorf("unknown nation error = %v", err)
	}

	s.Nations[0].Annexed = true
	got, evs, err := d.Do(ctx, s, s.Nations[0].ID, Investment, payload(t, investPayload{Amount: 500}))
	if !errors.Is(err, ErrNationAnnexed) {
		t.Errorf("annexed nation error = %v", err)
	}
	if evs != nil || got.Player.Treasury != s.Player.Treasury {
		t.Error("rejected action changed the state")
	}
}

func TestDoLeavesInputUntouched(t *testing.T) {
	d, s := setup(t, 0)
	id := s.Nations[1].ID

	next, evs, err := d.Do(context.Background(), s, id, Investment, payload(t, investPayload{Amount: 1000}))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if s.Player.Treasury != 10000 || len(s.Investments) != 0 {
		t.Error("input state was mutated")
	}
	if next.Player.Treasury != 9000 {
		t.Errorf("treasury = %v, want 9000", next.Player.Treasury)
	}
	if len(next.Investments) != 1 {
		t.Fatalf("investments = %d, want 1", len(next.Investments))
	}
	inv := next.Investments[0]
	if want := DailyReturn(1000, 90); math.Abs(inv.DailyReturn-want) > 1e-9 {
		t.Errorf("daily return = %v, want %v", inv.DailyReturn, want)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	d, s := setup(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := d.Do(ctx, s, s.Nations[0].ID, Attack, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDailyReturn(t *testing.T) {
	tests := []struct {
		amount, relation, want float64
	}{
		{3600, 0, 1},
		{3600, 100, 2.5},
		{3600, 150, 2.5},
		{-10, 50, 0},
	}
	for _, tt := range tests {
		if got := DailyReturn(tt.amount, tt.relation); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("DailyReturn(%v, %v) = %v, want %v", tt.amount, tt.relation, got, tt.want)
		}
	}
}

func TestInvestmentMinimum(t *testing.T) {
	d, s := setup(t, 0)
	_, _, err := d.Do(context.Background(), s, s.Nations[0].ID, Investment, payload(t, investPayload{Amount: 50}))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("error = %v, want ErrInvalidPayload", err)
	}
	s.Player.Treasury = 200
	_, _, err = d.Do(context.Background(), s, s.Nations[0].ID, Investment, payload(t, investPayload{Amount: 500}))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("error = %v, want ErrInsufficientFunds", err)
	}
}

func TestNegotiateAccepted(t *testing.T) {
	d, s := setup(t, 0)
	n := s.Nations[0]
	p := map[string]any{"type": "trade_agreement", "duration_days": 200, "signing_gift": 100}

	next, evs, err := d.Do(context.Background(), s, n.ID, Negotiate, payload(t, p))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	res, ok := evs[0].(events.NegotiationResult)
	if !ok || !res.Accepted {
		t.Fatalf("first event = %#v, want accepted NegotiationResult", evs[0])
	}
	signed, ok := evs[1].(events.TreatySigned)
	if !ok || signed.EndDay != s.Day+200 {
		t.Errorf("second event = %#v, want TreatySigned ending day %d", evs[1], s.Day+200)
	}
	if !next.HasTreaty(n.ID, "trade_agreement") {
		t.Error("treaty not recorded")
	}
	if next.Player.Treasury != 9900 {
		t.Errorf("treasury = %v, want 9900", next.Player.Treasury)
	}
	if got := next.Nation(n.ID).Wealth; got != n.Wealth+100 {
		t.Errorf("partner wealth = %v, want %v", got, n.Wealth+100)
	}
}

func TestNegotiateRejected(t *testing.T) {
	d, s := setup(t, 0.999)
	s.Nations[0].Relation = 10
	n := s.Nations[0]
	p := map[string]any{"type": "military_alliance", "signing_gift": 100}

	next, evs, err := d.Do(context.Background(), s, n.ID, Negotiate, payload(t, p))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	res := evs[0].(events.NegotiationResult)
	if res.Accepted || res.Chance > 0.05 || res.Reason == "" {
		t.Errorf("result = %+v, want a gated rejection", res)
	}
	if next.Player.Treasury != s.Player.Treasury || len(next.Treaties) != len(s.Treaties) {
		t.Error("rejected proposal moved silver or signed a treaty")
	}
}

func TestNegotiateValidation(t *testing.T) {
	d, s := setup(t, 0)
	id := s.Nations[0].ID
	tests := []struct {
		name    string
		payload map[string]any
		want    error
	}{
		{"missing type", map[string]any{}, ErrInvalidPayload},
		{"unknown type", map[string]any{"type": "eternal_friendship"}, ErrInvalidPayload},
		{"peace treaty", map[string]any{"type": "peace_treaty"}, ErrInvalidPayload},
		{"negative gift", map[string]any{"type": "trade_agreement", "signing_gift": -5}, ErrInvalidPayload},
		{"gift over treasury", map[string]any{"type": "trade_agreement", "signing_gift": 20000}, ErrInsufficientFunds},
		{"round past the last", map[string]any{"type": "trade_agreement", "round": diplomacy.MaxRounds + 1}, ErrInvalidPayload},
		{"negative round", map[string]any{"type": "trade_agreement", "round": -1}, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := d.Do(context.Background(), s, id, Negotiate, payload(t, tt.payload))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, _, err := d.Do(context.Background(), s, id, Negotiate, json.RawMessage(`{"type":`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("malformed payload error = %v", err)
	}
}

func TestProvokeCost(t *testing.T) {
	tests := []struct {
		treasury, wealth, want float64
	}{
		{0, 0, 150},
		{100000, 50000, 1500},
		{50000, 100000, 1500},
		{1e9, 1e9, 300000},
	}
	for _, tt := range tests {
		if got := ProvokeCost(tt.treasury, tt.wealth); got != tt.want {
			t.Errorf("ProvokeCost(%v, %v) = %v, want %v", tt.treasury, tt.wealth, got, tt.want)
		}
	}
}

func TestProvoke(t *testing.T) {
	d, s := setup(t, 0)
	a, b := s.Nations[0], s.Nations[1]
	before := a.RelationTo(b.ID)

	next, evs, err := d.Do(context.Background(), s, a.ID, Provoke, payload(t, provokePayload{Target: b.ID}))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	cost := ProvokeCost(10000, 50000)
	if next.Player.Treasury != 10000-cost {
		t.Errorf("treasury = %v, want %v", next.Player.Treasury, 10000-cost)
	}
	want := mathx.Clamp(before-ProvokeDamage, world.MinRelation, world.MaxRelation)
	if got := next.Nation(a.ID).RelationTo(b.ID); got != want {
		t.Errorf("relation %s→%s = %v, want %v", a.ID, b.ID, got, want)
	}
	if got := next.Nation(b.ID).RelationTo(a.ID); got > b.RelationTo(a.ID) {
		t.Errorf("relation %s→%s rose to %v", b.ID, a.ID, got)
	}

	if _, _, err := d.Do(context.Background(), s, a.ID, Provoke, payload(t, provokePayload{Target: a.ID})); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("self provocation error = %v", err)
	}
	if _, _, err := d.Do(context.Background(), s, a.ID, Provoke, payload(t, provokePayload{Target: "ghost"})); !errors.Is(err, ErrUnknownNation) {
		t.Errorf("unknown target error = %v", err)
	}
}

func TestTradeRoute(t *testing.T) {
	d, s := setup(t, 0)
	id := s.Nations[2].ID
	ctx := context.Background()

	open := routePayload{Resource: "food", Type: world.Export}
	next, _, err := d.Do(ctx, s, id, TradeRoute, payload(t, open))
	if err != nil {
		t.Fatalf("open route: %v", err)
	}
	if len(next.Routes) != 1 || next.Routes[0].Mode != world.RouteNormal {
		t.Fatalf("routes = %+v, want one normal route", next.Routes)
	}

	// Forcing trade needs no treaty; it costs relation when routes run.
	forced := routePayload{Resource: "food", Type: world.Export, Mode: world.RouteForceSell}
	coerced, _, err := d.Do(ctx, next, id, TradeRoute, payload(t, forced))
	if err != nil {
		t.Fatalf("forced route without treaty: %v", err)
	}
	if len(coerced.Routes) != 1 || coerced.Routes[0].Mode != world.RouteForceSell {
		t.Errorf("routes = %+v, want the route switched to force_sell", coerced.Routes)
	}
	bogus := routePayload{Resource: "food", Type: world.Export, Mode: "plunder"}
	if _, _, err := d.Do(ctx, next, id, TradeRoute, payload(t, bogus)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("unknown mode error = %v", err)
	}

	open.Remove = true
	closed, _, err := d.Do(ctx, next, id, TradeRoute, payload(t, open))
	if err != nil {
		t.Fatalf("remove route: %v", err)
	}
	if len(closed.Routes) != 0 {
		t.Errorf("routes = %+v, want none", closed.Routes)
	}
	if _, _, err := d.Do(ctx, closed, id, TradeRoute, payload(t, open)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("removing a missing route error = %v", err)
	}
}

func TestDeclareWarAndPeace(t *testing.T) {
	d, s := setup(t, 0)
	id := s.Nations[3].ID
	ctx := context.Background()

	atWar, evs, err := d.Do(ctx, s, id, DeclareWar, nil)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if _, ok := evs[0].(events.WarDeclaration); !ok {
		t.Errorf("first event = %#v, want WarDeclaration", evs[0])
	}
	if !atWar.Nation(id).AtWarWith(world.PlayerID) {
		t.Fatal("nation not at war after declaration")
	}
	if _, _, err := d.Do(ctx, atWar, id, TradeRoute, payload(t, routePayload{Resource: "food", Type: world.Import})); !errors.Is(err, ErrAtWar) {
		t.Errorf("route to enemy error = %v", err)
	}

	if _, _, err := d.Do(ctx, atWar, id, Peace, nil); !errors.Is(err, war.ErrPeaceRefused) {
		t.Errorf("peace in an undecided war error = %v", err)
	}
	enemy := atWar.Nation(id)
	w := enemy.Wars[world.PlayerID].(world.AtWar)
	w.Score = -60
	enemy.Wars[world.PlayerID] = w

	settled, evs, err := d.Do(ctx, atWar, id, Peace, payload(t, war.Terms{OpenMarketDays: 30}))
	if err != nil {
		t.Fatalf("peace: %v", err)
	}
	if got := settled.Nation(id).OpenMarketUntil; got != settled.Day+30 {
		t.Errorf("open market until %d, want %d", got, settled.Day+30)
	}
	if _, ok := evs[0].(events.PeaceConcluded); !ok {
		t.Errorf("first event = %#v, want PeaceConcluded", evs[0])
	}
	if settled.Nation(id).AtWarWith(world.PlayerID) {
		t.Error("still at war after peace")
	}
}

func TestPeaceRefusedWhileLosing(t *testing.T) {
	d, s := setup(t, 0)
	id := s.Nations[1].ID
	ctx := context.Background()
	atWar, _, err := d.Do(ctx, s, id, DeclareWar, nil)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	enemy := atWar.Nation(id)
	w := enemy.Wars[world.PlayerID].(world.AtWar)
	w.Score = 150
	enemy.Wars[world.PlayerID] = w
	treasury := atWar.Player.Treasury

	demand := payload(t, war.Terms{Payment: 40000})
	if _, _, err := d.Do(ctx, atWar, id, Peace, demand); !errors.Is(err, war.ErrPeaceRefused) {
		t.Fatalf("tribute from the winning side: err = %v", err)
	}
	if atWar.Player.Treasury != treasury || !atWar.Nation(id).AtWarWith(world.PlayerID) {
		t.Errorf("refused peace changed state: treasury %v, at war %v", atWar.Player.Treasury, atWar.Nation(id).AtWarWith(world.PlayerID))
	}
	if _, _, err := d.Do(ctx, atWar, id, Peace, payload(t, war.Terms{Payment: 1, PlayerPays: true, OpenMarketDays: -1})); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("negative open market error = %v", err)
	}
}

func TestSetMerchantAssignment(t *testing.T) {
	_, s := setup(t, 0)
	s.Player.Strata[trade.Merchant] = world.Stratum{Count: 10}
	a, b := s.Nations[0].ID, s.Nations[1].ID

	s1, err := SetMerchantAssignment(s, a, 6)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := SetMerchantAssignment(s1, b, 5); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("over-assignment error = %v", err)
	}
	s2, err := SetMerchantAssignment(s1, b, 4)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if s2.Assignments[a] != 6 || s2.Assignments[b] != 4 {
		t.Errorf("assignments = %v", s2.Assignments)
	}
	s3, err := SetMerchantAssignment(s2, a, 0)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s3.Assignments[a]; ok {
		t.Error("zero assignment was kept")
	}
	if s2.Assignments[a] != 6 {
		t.Error("clearing mutated the earlier snapshot")
	}
}

func TestSetTradePreference(t *testing.T) {
	cat := catalog.Default()
	_, s := setup(t, 0)
	tests := []struct {
		mult    float64
		want    float64
		present bool
	}{
		{2, 2, true},
		{9, world.MaxPref, true},
		{-1, 0, true},
		{1, 0, false},
	}
	for _, tt := range tests {
		next, err := SetTradePreference(cat, s, "food", tt.mult)
		if err != nil {
			t.Fatalf("SetTradePreference(%v): %v", tt.mult, err)
		}
		got, ok := next.Preferences["food"]
		if ok != tt.present || got != tt.want {
			t.Errorf("SetTradePreference(%v) = %v (present %v), want %v (present %v)", tt.mult, got, ok, tt.want, tt.present)
		}
	}
	if _, err := SetTradePreference(cat, s, "nothing", 2); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("unknown resource error = %v", err)
	}
}
