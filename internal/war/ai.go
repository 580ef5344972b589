package war

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// AI war tunables.
const (
	DeclareRelation = 25.0
	MaxPlayerWars   = 3
	WarCooldown     = 30 // days between AI declarations on the player
	MaxDeclareP     = 0.08

	ActionInterval = 7 // minimum days between AI attacks on the player
	MaxActionP     = 0.18
	RaidScore      = 8.0
	RepelScore     = 6.0
	RaidBuff       = 0.1

	PeaceRequestScore    = 12.0
	PeaceRequestCooldown = 30
	SurrenderScore       = 25.0
	SurrenderMinDuration = 30
	SurrenderCooldown    = 60
	SurrenderChance      = 0.03

	RivalryRelation = 15.0
	MaxAIWars       = 2
	MaxRivalryP     = 0.01

	AIBattleInterval = 10
	AIBattleScore    = 5.0
	AILootShare      = 0.08
	PopulationFloor  = 10
	WealthFloor      = 100.0
)

// Step runs one day of AI war behavior in a fixed order: declarations on
// the player, attacks on the player, wars among AI nations, then peace
// requests and surrender demands.
func Step(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, rng entropy.Source) []events.Event {
	var evs []events.Event
	evs = append(evs, declarations(s, rng)...)
	evs = append(evs, assaults(cat, s, l, rng)...)
	evs = append(evs, rivalries(s, rng)...)
	evs = append(evs, aiWars(s, l, rng)...)
	evs = append(evs, peaceRequests(s, rng)...)
	evs = append(evs, surrenderDemands(s, l, rng)...)
	return evs
}

// DeclarationChance is the daily probability that n declares war on the
// player, given how many wars the player already fights. It is zero for
// nations that may not declare.
func DeclarationChance(n *world.Nation, day, wars int) float64 {
	if n.Annexed || n.Population <= 0 || n.VassalOf == world.PlayerID || n.AlliedWith(world.PlayerID) {
		return 0
	}
	if n.Relation >= DeclareRelation || wars >= MaxPlayerWars {
		return 0
	}
	switch w := n.Wars.Get(world.PlayerID).(type) {
	case world.AtWar:
		return 0
	case world.Armistice:
		if w.Until > day {
			return 0
		}
	}
	hostility := math.Max(0, (50-n.Relation)/70)
	p := math.Min(MaxDeclareP, n.Aggression*0.04+hostility*0.025)
	return p * math.Pow(0.3, float64(wars))
}

// WarsWithPlayer counts active nations at war with the player.
func WarsWithPlayer(s *world.State) int {
	count := 0
	for i := range s.Nations {
		if !s.Nations[i].Annexed && s.Nations[i].AtWarWith(world.PlayerID) {
			count++
		}
	}
	return count
}

func declarations(s *world.State, rng entropy.Source) []events.Event {
	if s.Day < s.WarCooldownUntil {
		return nil
	}
	wars := WarsWithPlayer(s)
	for i := range s.Nations {
		n := &s.Nations[i]
		p := DeclarationChance(n, s.Day, wars)
		if !entropy.Chance(rng, p) {
			continue
		}
		evs, err := Declare(s, n.ID, world.PlayerID, "hostility")
		if err != nil {
			continue
		}
		return evs
	}
	return nil
}

func assaults(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, rng entropy.Source) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		w, ok := n.Wars[world.PlayerID].(world.AtWar)
		if !ok || s.Day-w.LastBattleDay < ActionInterval {
			continue
		}
		adv := math.Max(0, w.Score)
		if !entropy.Chance(rng, math.Min(MaxActionP, 0.02+n.Aggression*0.04+adv/400)) {
			continue
		}
		if ev := assault(cat, s, l, n, w, rng); ev != nil {
			evs = append(evs, ev)
		}
	}
	return evs
}

// assault is one AI attack on the player. An undefended realm is simply
// raided; otherwise a detachment fights the player's army and plunders
// only if it wins.
func assault(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, n *world.Nation, w world.AtWar, rng entropy.Source) events.Event {
	detachment := sortie(n.Army, rng)
	if headcount(detachment) == 0 {
		return nil
	}
	strength := mathx.Clamp(0.05+n.Aggression*0.05+math.Max(0, w.Score)/1200, 0, 0.5)
	w.LastBattleDay = s.Day

	var ev events.Event
	if headcount(s.Player.Army) == 0 {
		stolen := plunder(s, l, n, strength)
		w.Score += RaidScore
		ev = events.RaidEvent{Day: s.Day, Nation: n.ID, Stolen: stolen}
	} else {
		res := Resolve(cat,
			Side{Army: detachment, Epoch: n.Epoch, Buff: RaidBuff},
			Side{Army: s.Player.Army, Epoch: s.Epoch, Wealth: l.Balance(ledger.Treasury)},
			rng)
		w.EnemyLosses += ApplyLosses(s.Player.Army, res.DefenderLosses)
		w.Losses += ApplyLosses(n.Army, res.AttackerLosses)
		stolen := 0.0
		if res.Victory {
			stolen = plunder(s, l, n, strength)
			w.Score += RaidScore
		} else {
			w.Score -= RepelScore
		}
		ev = events.BattleEvent{
			Day:            s.Day,
			Attacker:       n.ID,
			Defender:       world.PlayerID,
			AttackerWon:    res.Victory,
			Decisive:       res.Decisive,
			AttackerLosses: res.AttackerLosses,
			DefenderLosses: res.DefenderLosses,
			Loot:           stolen,
		}
	}
	w.Score = mathx.Clamp(w.Score, -world.MaxWarScore, world.MaxWarScore)
	n.Wars[world.PlayerID] = w
	if b, ok := ev.(events.BattleEvent); ok {
		b.WarScore = w.Score
		ev = b
	}
	return ev
}

// plunder takes food, silver and a few lives from the player and returns
// the silver taken. The raider banks a share of the haul.
func plunder(s *world.State, l *ledger.Ledger, n *world.Nation, strength float64) float64 {
	food := math.Floor(s.Player.Inventory["food"] * strength)
	s.Player.Inventory["food"] -= food
	silver := l.Transfer(ledger.Treasury, ledger.Void, math.Floor(l.Balance(ledger.Treasury)*strength/2),
		ledger.CategoryExpense, ledger.WarLosses, ledger.Meta{"raider": n.ID})
	removePopulation(&s.Player, min(3, max(1, int(strength*20))))
	n.Wealth += math.Floor((food + silver) * AILootShare)
	return silver
}

// sortie picks the share of an army sent on one attack.
func sortie(army map[string]int, rng entropy.Source) map[string]int {
	share := entropy.Range(rng, 0.25, 0.5)
	out := make(map[string]int, len(army))
	for _, k := range sortedUnits(army) {
		if c := army[k]; c > 0 {
			out[k] = int(math.Ceil(float64(c) * share))
		}
	}
	return out
}

// RivalryChance is the daily probability that two hostile AI nations go to
// war with each other.
func RivalryChance(a, b *world.Nation) float64 {
	rel := a.RelationTo(b.ID)
	if rel >= RivalryRelation {
		return 0
	}
	return math.Min(MaxRivalryP, (a.Aggression+b.Aggression)*0.0025+(RivalryRelation-rel)/RivalryRelation*0.005)
}

func rivalries(s *world.State, rng entropy.Source) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		a := &s.Nations[i]
		if a.Annexed || a.Population <= 0 {
			continue
		}
		for j := i + 1; j < len(s.Nations); j++ {
			b := &s.Nations[j]
			if b.Annexed || b.Population <= 0 || a.ActiveWars() >= MaxAIWars || b.ActiveWars() >= MaxAIWars {
				continue
			}
			if canFight(s, a.ID, b.ID) != nil || !entropy.Chance(rng, RivalryChance(a, b)) {
				continue
			}
			attacker, defender := a, b
			if b.Aggression > a.Aggression {
				attacker, defender = b, a
			}
			out, err := Declare(s, attacker.ID, defender.ID, "rivalry")
			if err == nil {
				evs = append(evs, out...)
			}
		}
	}
	return evs
}

// aiWars advances every war between AI nations. Each pair is handled once,
// from the side with the smaller id.
func aiWars(s *world.State, l *ledger.Ledger, rng entropy.Source) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		a := &s.Nations[i]
		if a.Annexed {
			continue
		}
		for _, id := range a.Wars.Opponents() {
			if id == world.PlayerID {
				continue
			}
			b := s.ActiveNation(id)
			if b == nil {
				delete(a.Wars, id)
				continue
			}
			if a.ID > b.ID {
				continue
			}
			w, ok := a.Wars[id].(world.AtWar)
			if !ok {
				continue
			}
			evs = append(evs, aiBattle(s, l, a, b, w, rng)...)
		}
	}
	return evs
}

func aiBattle(s *world.State, l *ledger.Ledger, a, b *world.Nation, w world.AtWar, rng entropy.Source) []events.Event {
	elapsed := s.Day - w.StartDay
	if elapsed <= 0 || elapsed%AIBattleInterval != 0 {
		return nil
	}
	sa := float64(a.Population) * (1 + a.Aggression)
	sb := float64(b.Population) * (1 + b.Aggression)
	chance := mathx.SafeDiv(sa, sa+sb, 0.5)

	casualty := entropy.Range(rng, 0.02, 0.05)
	a.Population = shrink(a.Population, casualty*(1-chance))
	b.Population = shrink(b.Population, casualty*chance)

	winner, loser := a, b
	if entropy.Chance(rng, chance) {
		w.Score += AIBattleScore
	} else {
		w.Score -= AIBattleScore
		winner, loser = b, a
	}
	loot := math.Floor(loser.Wealth * AILootShare)
	winner.Wealth += loot
	loser.Wealth = math.Max(math.Min(loser.Wealth, WealthFloor), loser.Wealth-loot)

	if w.EndThreshold == 0 {
		w.EndThreshold = 25 + math.Floor(rng.Float64()*56)
	}
	w.Score = mathx.Clamp(w.Score, -world.MaxWarScore, world.MaxWarScore)
	w.LastBattleDay = s.Day
	a.Wars[b.ID] = w
	mirror, _ := b.Wars[a.ID].(world.AtWar)
	mirror.StartDay, mirror.Score, mirror.EndThreshold, mirror.LastBattleDay = w.StartDay, -w.Score, w.EndThreshold, s.Day
	b.Wars[a.ID] = mirror

	evs := []events.Event{events.BattleEvent{
		Day:         s.Day,
		Attacker:    a.ID,
		Defender:    b.ID,
		AttackerWon: winner == a,
		Loot:        loot,
		WarScore:    w.Score,
	}}

	exhausted := a.Population < AnnexPopulation || b.Population < AnnexPopulation || a.Wealth < 2*WealthFloor || b.Wealth < 2*WealthFloor
	endP := 0.005
	if exhausted {
		endP = 0.03
	}
	if math.Abs(w.Score) >= w.EndThreshold || entropy.Chance(rng, endP) {
		evs = append(evs, settleAIWar(s, l, a, b, w.Score)...)
	}
	return evs
}

// settleAIWar ends a war between two AI nations on the terms of its tier.
// score is a's advantage over b.
func settleAIWar(s *world.State, l *ledger.Ledger, a, b *world.Nation, score float64) []events.Event {
	tier := TierFor(score)
	winner, loser := a, b
	if score < 0 {
		winner, loser = b, a
	}
	peace := events.PeaceConcluded{Day: s.Day, Tier: tier.Name}
	if tier != Draw {
		peace.Winner, peace.Loser = winner.ID, loser.ID
		people := int(math.Floor(float64(loser.Population) * tier.Population))
		wealth := math.Floor(loser.Wealth * tier.Wealth)
		winner.Population += people
		winner.Wealth += wealth
		loser.Population = max(min(loser.Population, PopulationFloor), loser.Population-people)
		loser.Wealth = math.Max(math.Min(loser.Wealth, WealthFloor), loser.Wealth-wealth)
		peace.Payment = wealth
	}
	diplomacy.AdjustMutual(a, b, -(10 + math.Floor(math.Abs(score)/10)))

	if tier.Overwhelming() && loser.Population < AnnexPopulation && loser.Wealth < AnnexWealth {
		return []events.Event{peace, Annex(s, l, loser, winner.ID)}
	}
	peace.ArmisticeUntil = s.Day + tier.Armistice
	endWar(s, a.ID, b.ID, peace.ArmisticeUntil)
	return []events.Event{peace}
}

func shrink(pop int, rate float64) int {
	next := int(float64(pop) * (1 - mathx.Clamp(rate, 0, 1)))
	return max(min(pop, PopulationFloor), next)
}

// PeaceWillingness is the daily chance a losing AI asks the player for
// peace. score is the AI's own (negative) war score.
func PeaceWillingness(score float64, duration, losses int) float64 {
	return math.Min(0.5, 0.03+math.Abs(score)/120+float64(max(duration, 0))/400) +
		math.Min(0.15, float64(max(losses, 0))/500)
}

func peaceRequests(s *world.State, rng entropy.Source) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		w, ok := n.Wars[world.PlayerID].(world.AtWar)
		if !ok || w.Score >= -PeaceRequestScore || s.Day-n.LastPeaceRequestDay < PeaceRequestCooldown {
			continue
		}
		dur := s.Day - w.StartDay
		if !entropy.Chance(rng, PeaceWillingness(w.Score, dur, w.Losses)) {
			continue
		}
		n.LastPeaceRequestDay = s.Day
		evs = append(evs, events.PeaceRequest{
			Day:     s.Day,
			Nation:  n.ID,
			Tribute: diplomacy.AIPeaceTribute(w.Score, w.Losses, dur, n.Wealth),
		})
	}
	return evs
}

func surrenderDemands(s *world.State, l *ledger.Ledger, rng entropy.Source) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed {
			continue
		}
		w, ok := n.Wars[world.PlayerID].(world.AtWar)
		if !ok || w.Score <= SurrenderScore {
			continue
		}
		dur := s.Day - w.StartDay
		if dur <= SurrenderMinDuration || s.Day-n.LastSurrenderDemandDay < SurrenderCooldown {
			continue
		}
		if !entropy.Chance(rng, SurrenderChance) {
			continue
		}
		n.LastSurrenderDemandDay = s.Day
		evs = append(evs, events.SurrenderDemand{
			Day:    s.Day,
			Nation: n.ID,
			Demand: diplomacy.AISurrenderDemand(w.Score, dur, l.Balance(ledger.Treasury)),
		})
	}
	return evs
}
