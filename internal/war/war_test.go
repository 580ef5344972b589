package war

import (
	"errors"
	"math"
	"testing"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/world"
)

func nation(id string, pop int, wealth float64) world.Nation {
	return world.Nation{
		ID:         id,
		Name:       id,
		Population: pop,
		Wealth:     wealth,
		Aggression: 0.5,
		Relation:   50,
		Army:       map[string]int{"militia": 40, "spearman": 20},
	}
}

func newState(nations ...world.Nation) *world.State {
	s := &world.State{Day: 100, Nations: nations}
	world.Normalize(s, catalog.Default())
	return s
}

func TestWeakerAttackerLoses(t *testing.T) {
	att := map[string]int{"militia": 100, "spearman": 50}
	def := map[string]int{"militia": 120, "archer": 30}
	sources := map[string]entropy.Source{
		"low":  entropy.Fixed(0),
		"mid":  entropy.Fixed(0.5),
		"high": entropy.Fixed(0.999),
	}
	for seed := int64(1); seed <= 20; seed++ {
		sources["seeded"+string(rune('a'+seed))] = entropy.NewSeeded(seed)
	}

	for name, src := range sources {
		res := ResolvePowers(1000, 1500, att, def, 1000, src)
		if res.Victory {
			t.Errorf("%s: attacker won at 1000 vs 1500", name)
		}
		for k, lost := range res.AttackerLosses {
			if lost < 0 || lost > att[k] {
				t.Errorf("%s: attacker lost %d of %d %s", name, lost, att[k], k)
			}
		}
		for k, lost := range res.DefenderLosses {
			if lost < 0 || lost > def[k] {
				t.Errorf("%s: defender lost %d of %d %s", name, lost, def[k], k)
			}
		}
		if len(res.Loot) != 0 {
			t.Errorf("%s: loser took loot %v", name, res.Loot)
		}
	}
}

func TestDecisiveVictoryLoot(t *testing.T) {
	att := map[string]int{"militia": 100}
	def := map[string]int{"militia": 100}
	res := ResolvePowers(10000, 100, att, def, 1000, entropy.Fixed(0.5))
	if !res.Victory || !res.Decisive {
		t.Fatalf("result = %+v, want decisive victory", res)
	}
	if res.Loot["food"] != 20 || res.Loot["silver"] != 24 || res.Loot["stone"] != 6 {
		t.Errorf("loot = %v", res.Loot)
	}
	if res.AttackerLosses["militia"] != 3 {
		t.Errorf("attacker losses = %v, want 3", res.AttackerLosses)
	}
	if lost := res.DefenderLosses["militia"]; lost < 90 || lost > 100 {
		t.Errorf("defender losses = %d", lost)
	}
}

func TestPowerEpochModifiers(t *testing.T) {
	cat := catalog.Default()
	army := map[string]int{"spearman": 10}
	tests := []struct {
		epoch int
		want  float64
	}{
		{0, 160},
		{1, 168},
		{2, 176},
		{3, 120},
		{6, 40},
	}
	for _, tt := range tests {
		if got := Power(cat, army, tt.epoch, 0); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("epoch %d: power = %v, want %v", tt.epoch, got, tt.want)
		}
	}
	if got := Power(cat, map[string]int{"spearman": 10, "unknown": 99}, 0, 0.5); math.Abs(got-240) > 1e-9 {
		t.Errorf("buffed power = %v, want 240", got)
	}
}

func TestCounterBonus(t *testing.T) {
	cat := catalog.Default()
	tests := []struct {
		name  string
		a, d  map[string]int
		want  float64
		count int
	}{
		{"spear vs cavalry", map[string]int{"spearman": 10}, map[string]int{"horseman": 10}, 1.5, 1},
		{"cavalry vs spear", map[string]int{"horseman": 10}, map[string]int{"spearman": 10}, 1, 0},
		{"mixed defenders", map[string]int{"spearman": 10}, map[string]int{"horseman": 5, "archer": 5}, 1.25, 1},
		{"empty", map[string]int{}, map[string]int{"horseman": 5}, 1, 0},
	}
	for _, tt := range tests {
		got, n := CounterBonus(cat, tt.a, tt.d)
		if math.Abs(got-tt.want) > 1e-9 || n != tt.count {
			t.Errorf("%s: bonus = %v (%d), want %v (%d)", tt.name, got, n, tt.want, tt.count)
		}
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{250, "overwhelming"},
		{-120, "major"},
		{50, "minor"},
		{-30, "pyrrhic"},
		{24.9, "draw"},
		{math.NaN(), "draw"},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score).Name; got != tt.want {
			t.Errorf("TierFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestPropagation(t *testing.T) {
	ally := nation("ally", 500, 1000)
	ally.Allies = []string{world.PlayerID}
	torn := nation("torn", 500, 1000)
	torn.Allies = []string{world.PlayerID, "aggr"}
	vassal := nation("vassal", 300, 500)
	vassal.VassalOf = world.PlayerID
	vassal.AutoJoinWars = true
	theirs := nation("theirs", 300, 500)
	theirs.VassalOf = "aggr"
	theirs.AutoJoinWars = true
	bound := nation("bound", 300, 500)
	bound.VassalOf = "aggr"
	bound.Allies = []string{world.PlayerID}

	s := newState(nation("aggr", 1000, 3000), ally, torn, vassal, theirs, bound)
	evs, err := Declare(s, "aggr", world.PlayerID, "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 4 {
		t.Errorf("events = %v, want declaration plus three joins", evs)
	}

	if !s.Nation("aggr").AtWarWith(world.PlayerID) {
		t.Fatal("aggressor not at war with player")
	}
	if !s.Nation("ally").AtWarWith("aggr") {
		t.Error("ally did not join")
	}
	if s.Nation("torn").AtWarWith("aggr") {
		t.Error("nation allied to both sides joined")
	}
	if w, ok := s.Nation("vassal").Wars["aggr"].(world.AtWar); !ok || w.FollowedLeader != world.PlayerID {
		t.Errorf("vassal war = %+v", s.Nation("vassal").Wars["aggr"])
	}
	if !s.Nation("theirs").AtWarWith(world.PlayerID) {
		t.Error("attacker's vassal did not follow")
	}
	if s.Nation("bound").AtWarWith("aggr") {
		t.Error("vassal fought its overlord")
	}
	if s.WarCooldownUntil != 130 {
		t.Errorf("cooldown = %d, want 130", s.WarCooldownUntil)
	}

	aggr := s.Nation("aggr")
	w := aggr.Wars[world.PlayerID].(world.AtWar)
	w.Score = -30
	aggr.Wars[world.PlayerID] = w
	if _, err := MakePeace(s, s.Ledger(), "aggr", Terms{}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Nation("vassal").Wars["aggr"].(world.Armistice); !ok {
		t.Errorf("follower still at war: %+v", s.Nation("vassal").Wars["aggr"])
	}
	if !s.Nation("ally").AtWarWith("aggr") {
		t.Error("ally's own war should continue")
	}
}

func TestDeclareRejects(t *testing.T) {
	friend := nation("friend", 500, 1000)
	friend.Allies = []string{world.PlayerID}
	calm := nation("calm", 500, 1000)
	calm.Wars = world.WarMap{world.PlayerID: world.Armistice{Until: 200}}
	gone := nation("gone", 500, 1000)
	gone.Annexed = true
	s := newState(friend, calm, gone)

	tests := []struct {
		target string
		want   error
	}{
		{"friend", ErrAllied},
		{"calm", ErrArmistice},
		{"gone", ErrUnknownParty},
		{"nobody", ErrUnknownParty},
	}
	for _, tt := range tests {
		if _, err := Declare(s, world.PlayerID, tt.target, ""); !errors.Is(err, tt.want) {
			t.Errorf("declare on %s: err = %v, want %v", tt.target, err, tt.want)
		}
	}
}

func TestDeclarationChance(t *testing.T) {
	base := nation("n", 500, 1000)
	base.Relation = 10

	if got := DeclarationChance(&base, 100, 0); math.Abs(got-(0.02+40.0/70*0.025)) > 1e-12 {
		t.Errorf("chance = %v", got)
	}
	if got, one := DeclarationChance(&base, 100, 1), DeclarationChance(&base, 100, 0); math.Abs(got-one*0.3) > 1e-12 {
		t.Errorf("one war: chance = %v, want %v", got, one*0.3)
	}

	tests := []struct {
		name string
		edit func(n *world.Nation)
		wars int
	}{
		{"friendly", func(n *world.Nation) { n.Relation = 30 }, 0},
		{"vassal", func(n *world.Nation) { n.VassalOf = world.PlayerID }, 0},
		{"ally", func(n *world.Nation) { n.Allies = []string{world.PlayerID} }, 0},
		{"armistice", func(n *world.Nation) { n.Wars = world.WarMap{world.PlayerID: world.Armistice{Until: 150}} }, 0},
		{"annexed", func(n *world.Nation) { n.Annexed = true }, 0},
		{"busy", func(n *world.Nation) {}, MaxPlayerWars},
	}
	for _, tt := range tests {
		n := base.Clone()
		tt.edit(&n)
		if got := DeclarationChance(&n, 100, tt.wars); got != 0 {
			t.Errorf("%s: chance = %v, want 0", tt.name, got)
		}
	}
}

func TestAnnexedNeverDeclares(t *testing.T) {
	dead := nation("dead", 0, 0)
	dead.Relation = 0
	dead.Annexed = true
	s := newState(dead)
	if evs := declarations(s, entropy.Fixed(0)); len(evs) != 0 {
		t.Fatalf("annexed nation declared: %v", evs)
	}

	live := nation("live", 500, 1000)
	live.Relation = 0
	s = newState(dead, live)
	evs := declarations(s, entropy.Fixed(0))
	if len(evs) != 1 {
		t.Fatalf("events = %v, want one declaration", evs)
	}
	if d, ok := evs[0].(events.WarDeclaration); !ok || d.Attacker != "live" {
		t.Errorf("declaration = %+v", evs[0])
	}
	if evs := declarations(s, entropy.Fixed(0)); len(evs) != 0 {
		t.Errorf("declared again during cooldown: %v", evs)
	}
}

func TestMakePeaceWithTribute(t *testing.T) {
	n := nation("n", 800, 3000)
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{Score: -60, StartDay: 10}}
	s := newState(n)

	evs, err := MakePeace(s, s.Ledger(), "n", Terms{Payment: 500})
	if err != nil {
		t.Fatal(err)
	}
	peace, ok := evs[0].(events.PeaceConcluded)
	if !ok || peace.Winner != world.PlayerID || peace.Tier != "minor" || peace.ArmisticeUntil != 830 {
		t.Errorf("peace = %+v", evs[0])
	}
	if s.Player.Treasury != 500 || s.Nation("n").Wealth != 2500 {
		t.Errorf("treasury = %v, nation wealth = %v", s.Player.Treasury, s.Nation("n").Wealth)
	}
	if _, ok := s.Nation("n").Wars[world.PlayerID].(world.Armistice); !ok {
		t.Error("no armistice after peace")
	}
	if _, err := MakePeace(s, s.Ledger(), "n", Terms{}); !errors.Is(err, ErrNotAtWar) {
		t.Errorf("second peace: err = %v", err)
	}
}

func TestMakePeacePlayerCannotPay(t *testing.T) {
	n := nation("n", 800, 3000)
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{Score: 80}}
	s := newState(n)
	s.Player.Treasury = 100

	// score 80 over 100 days prices the minimum at 80*50 + 100*12.
	if _, err := MakePeace(s, s.Ledger(), "n", Terms{Payment: 6000, PlayerPays: true}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}
	if !s.Nation("n").AtWarWith(world.PlayerID) {
		t.Error("war ended without payment")
	}

	if _, err := MakePeace(s, s.Ledger(), "n", Terms{Payment: 6000, PlayerPays: true, Installments: true}); err != nil {
		t.Fatal(err)
	}
	if len(s.Installments) != 1 || !s.Installments[0].PlayerPays || s.Installments[0].Daily != 20 {
		t.Errorf("installments = %+v", s.Installments)
	}
}

func TestMakePeaceRefusesTerms(t *testing.T) {
	tests := []struct {
		name  string
		war   world.AtWar
		terms Terms
	}{
		{"undecided", world.AtWar{Score: 10}, Terms{}},
		{"undecided with payment", world.AtWar{Score: -20}, Terms{Payment: 1000, PlayerPays: true}},
		{"winner asked for tribute", world.AtWar{Score: 150}, Terms{Payment: 40000}},
		{"winner offered white peace", world.AtWar{Score: 150}, Terms{}},
		{"winner underpaid", world.AtWar{Score: 150}, Terms{Payment: 7000, PlayerPays: true}},
		{"winner underpaid in installments", world.AtWar{Score: 150}, Terms{Payment: 7000, PlayerPays: true, Installments: true}},
		{"loser demands open market", world.AtWar{Score: 150}, Terms{Payment: 9000, PlayerPays: true, OpenMarketDays: 100}},
		{"fresh loser asked for tribute", world.AtWar{Score: -30, StartDay: 100}, Terms{Payment: 500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := nation("n", 800, 3000)
			n.Wars = world.WarMap{world.PlayerID: tt.war}
			s := newState(n)
			s.Player.Treasury = 10000

			_, err := MakePeace(s, s.Ledger(), "n", tt.terms)
			if !errors.Is(err, ErrPeaceRefused) {
				t.Fatalf("err = %v, want ErrPeaceRefused", err)
			}
			if s.Player.Treasury != 10000 || s.Nation("n").Wealth != 3000 || len(s.Installments) != 0 {
				t.Errorf("refused terms moved money: treasury %v, wealth %v", s.Player.Treasury, s.Nation("n").Wealth)
			}
			if !s.Nation("n").AtWarWith(world.PlayerID) {
				t.Error("war ended on refused terms")
			}
		})
	}
}

func TestMakePeaceWinnerPaid(t *testing.T) {
	n := nation("n", 800, 3000)
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{Score: 150}}
	s := newState(n)
	s.Player.Treasury = 10000

	q, err := QuotePeace(s, s.Nation("n"))
	if err != nil {
		t.Fatal(err)
	}
	// 150*50 + 100 days*12
	if q.PlayerWins || q.Minimum != 8700 {
		t.Fatalf("quote = %+v", q)
	}
	evs, err := MakePeace(s, s.Ledger(), "n", Terms{Payment: q.Minimum, PlayerPays: true})
	if err != nil {
		t.Fatal(err)
	}
	if p := evs[0].(events.PeaceConcluded); p.Winner != "n" || p.Tier != "major" {
		t.Errorf("peace = %+v", p)
	}
	if s.Player.Treasury != 1300 || s.Nation("n").Wealth != 11700 {
		t.Errorf("treasury = %v, nation wealth = %v", s.Player.Treasury, s.Nation("n").Wealth)
	}
}

func TestMakePeaceTributeCapped(t *testing.T) {
	n := nation("n", 800, 3000)
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{Score: -30, Losses: 100}}
	s := newState(n)

	q, err := QuotePeace(s, s.Nation("n"))
	if err != nil {
		t.Fatal(err)
	}
	// pyrrhic: Low tier of 30*50 + 100*35 + 100*12 = 6200, then the nation's wealth.
	if !q.PlayerWins || !q.Willing || q.MaxTribute != 3000 {
		t.Fatalf("quote = %+v", q)
	}
	evs, err := MakePeace(s, s.Ledger(), "n", Terms{Payment: 50000, OpenMarketDays: 2000})
	if err != nil {
		t.Fatal(err)
	}
	if p := evs[0].(events.PeaceConcluded); p.Payment != 3000 || p.Winner != world.PlayerID {
		t.Errorf("peace = %+v", p)
	}
	if s.Player.Treasury != 3000 || s.Nation("n").Wealth != 0 {
		t.Errorf("treasury = %v, nation wealth = %v", s.Player.Treasury, s.Nation("n").Wealth)
	}
	if got := s.Nation("n").OpenMarketUntil; got != 100+547 {
		t.Errorf("open market until %d, want the armistice end 647", got)
	}
}

func TestMakePeaceAnnexes(t *testing.T) {
	n := nation("n", 20, 200)
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{Score: -250}}
	other := nation("o", 500, 1000)
	other.Wars = world.WarMap{"n": world.AtWar{}}
	other.Allies = []string{"n"}
	s := newState(n, other)
	before := s.Player.Strata[world.Unemployed].Count

	evs, err := MakePeace(s, s.Ledger(), "n", Terms{})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events = %v", evs)
	}
	if _, ok := evs[1].(events.Annexation); !ok {
		t.Errorf("second event = %T, want annexation", evs[1])
	}
	if !s.Nation("n").Annexed || s.ActiveNation("n") != nil {
		t.Error("nation not annexed")
	}
	if s.Player.Treasury != 200 || s.Player.Strata[world.Unemployed].Count != before+20 {
		t.Errorf("treasury = %v, unemployed = %d", s.Player.Treasury, s.Player.Strata[world.Unemployed].Count)
	}
	if _, ok := s.Nation("o").Wars["n"]; ok || len(s.Nation("o").Allies) != 0 {
		t.Errorf("annexed nation still referenced: %+v %v", s.Nation("o").Wars, s.Nation("o").Allies)
	}
}

func TestSettleAIWar(t *testing.T) {
	s := newState(nation("a", 1000, 5000), nation("b", 1000, 5000))
	a, b := s.Nation("a"), s.Nation("b")
	a.Wars["b"] = world.AtWar{Score: 60}
	b.Wars["a"] = world.AtWar{Score: -60}

	evs := settleAIWar(s, s.Ledger(), a, b, 60)
	peace := evs[0].(events.PeaceConcluded)
	if peace.Winner != "a" || peace.Tier != "minor" || peace.Payment != 600 {
		t.Errorf("peace = %+v", peace)
	}
	if a.Population != 1080 || b.Population != 920 || b.Wealth != 4400 {
		t.Errorf("a pop %d, b pop %d, b wealth %v", a.Population, b.Population, b.Wealth)
	}
	if a.RelationTo("b") != 34 || b.RelationTo("a") != 34 {
		t.Errorf("relations = %v / %v, want 34", a.RelationTo("b"), b.RelationTo("a"))
	}
	if _, ok := a.Wars["b"].(world.Armistice); !ok {
		t.Error("no armistice")
	}
}

func TestAttackErrors(t *testing.T) {
	cat := catalog.Default()
	s := newState(nation("n", 500, 1000))
	if _, err := Attack(cat, s, s.Ledger(), "n", entropy.Fixed(0.5)); !errors.Is(err, ErrNotAtWar) {
		t.Errorf("err = %v, want ErrNotAtWar", err)
	}
	s.Nation("n").Wars[world.PlayerID] = world.AtWar{}
	s.Player.Army = map[string]int{}
	if _, err := Attack(cat, s, s.Ledger(), "n", entropy.Fixed(0.5)); !errors.Is(err, ErrNoArmy) {
		t.Errorf("err = %v, want ErrNoArmy", err)
	}
}

func TestAttackAppliesLosses(t *testing.T) {
	cat := catalog.Default()
	n := nation("n", 500, 1000)
	n.Army = map[string]int{"militia": 5}
	n.Wars = world.WarMap{world.PlayerID: world.AtWar{}}
	s := newState(n)
	s.Player.Army = map[string]int{"spearman": 200}

	evs, err := Attack(cat, s, s.Ledger(), "n", entropy.Fixed(0.5))
	if err != nil {
		t.Fatal(err)
	}
	b := evs[0].(events.BattleEvent)
	if !b.AttackerWon {
		t.Fatalf("battle = %+v, want player victory", b)
	}
	w := s.Nation("n").Wars[world.PlayerID].(world.AtWar)
	if w.Score >= 0 || w.Losses == 0 {
		t.Errorf("war = %+v", w)
	}
	if s.Player.Treasury <= 0 || s.Nation("n").Wealth >= 1000 {
		t.Errorf("treasury = %v, nation wealth = %v", s.Player.Treasury, s.Nation("n").Wealth)
	}
}

func TestPeaceWillingnessBounded(t *testing.T) {
	if got := PeaceWillingness(-400, 10000, 10000); math.Abs(got-0.65) > 1e-12 {
		t.Errorf("willingness = %v, want 0.65", got)
	}
	if got := PeaceWillingness(-12, 0, 0); math.Abs(got-0.13) > 1e-12 {
		t.Errorf("willingness = %v, want 0.13", got)
	}
}
