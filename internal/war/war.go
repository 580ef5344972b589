// Package war resolves battles and runs the war state machine between the
// player and AI nations and among AI nations: declaration, alliance and
// vassal propagation, peace terms, armistice and annexation.
//
// A war is recorded on the nation side only. For a war with the player the
// nation's AtWar.Score is the nation's advantage, so a negative score means
// the player is winning.
package war

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/diplomacy"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

var (
	ErrNotAtWar          = errors.New("not at war")
	ErrAlreadyAtWar      = errors.New("already at war")
	ErrArmistice         = errors.New("armistice in force")
	ErrAllied            = errors.New("cannot attack an ally")
	ErrOverlord          = errors.New("vassal and overlord cannot fight")
	ErrNoArmy            = errors.New("no army to attack with")
	ErrInsufficientFunds = errors.New("treasury cannot cover payment")
	ErrUnknownParty      = errors.New("unknown or annexed nation")
	ErrPeaceRefused      = errors.New("peace terms refused")
)

// Annexation thresholds on the loser after an overwhelming defeat.
const (
	AnnexPopulation = 30
	AnnexWealth     = 300.0
)

// DeclarationPenalty is the relation cost of the player declaring war.
const DeclarationPenalty = 30.0

// Score swings for battles the player starts.
const (
	PlayerWinScore      = 10.0
	PlayerDecisiveScore = 20.0
	PlayerLossScore     = 8.0
)

// Tier is a victory tier and the terms it imposes on the loser.
type Tier struct {
	Name       string
	MinScore   float64
	Population float64 // share of the loser's population transferred
	Wealth     float64 // share of the loser's wealth transferred
	Armistice  int     // days
}

// Tiers lists the victory tiers from strongest to weakest.
var Tiers = []Tier{
	{Name: "overwhelming", MinScore: 200, Population: 0.25, Wealth: 0.35, Armistice: 365 * 3},
	{Name: "major", MinScore: 100, Population: 0.15, Wealth: 0.25, Armistice: 912},
	{Name: "minor", MinScore: 50, Population: 0.08, Wealth: 0.12, Armistice: 365 * 2},
	{Name: "pyrrhic", MinScore: 25, Population: 0.03, Wealth: 0.05, Armistice: 547},
}

// Draw ends a war with no transfer.
var Draw = Tier{Name: "draw", Armistice: 365}

// TierFor classifies a final war score by magnitude.
func TierFor(score float64) Tier {
	abs := math.Abs(mathx.Finite(score, 0))
	for _, t := range Tiers {
		if abs >= t.MinScore {
			return t
		}
	}
	return Draw
}

// Overwhelming reports whether t is the top tier.
func (t Tier) Overwhelming() bool { return t.Name == Tiers[0].Name }

// Declare starts a war between two parties (either may be the player) and
// drags in allies and vassals.
func Declare(s *world.State, attacker, defender string, reason string) ([]events.Event, error) {
	if err := canFight(s, attacker, defender); err != nil {
		return nil, err
	}
	startWar(s, attacker, defender, "")
	evs := []events.Event{events.WarDeclaration{Day: s.Day, Attacker: attacker, Defender: defender, Reason: reason}}
	if attacker == world.PlayerID {
		diplomacy.AdjustRelation(s.Nation(defender), -DeclarationPenalty)
	}
	if defender == world.PlayerID {
		s.WarCooldownUntil = s.Day + WarCooldown
	}
	return append(evs, Propagate(s, attacker, defender)...), nil
}

// Propagate brings third parties into a new war. Allies of the defender
// and vassals that follow their suzerain join. A nation allied to both
// sides stays out, and a vassal never fights its overlord.
func Propagate(s *world.State, attacker, defender string) []events.Event {
	var evs []events.Event
	for i := range s.Nations {
		n := &s.Nations[i]
		if n.Annexed || n.ID == attacker || n.ID == defender {
			continue
		}
		switch {
		case n.VassalOf == defender && n.AutoJoinWars:
			evs = append(evs, join(s, n, attacker, defender)...)
		case n.VassalOf == attacker && n.AutoJoinWars:
			evs = append(evs, join(s, n, defender, attacker)...)
		case allied(s, n.ID, defender):
			evs = append(evs, join(s, n, attacker, "")...)
		}
	}
	return evs
}

func join(s *world.State, n *world.Nation, enemy, leader string) []events.Event {
	if canFight(s, n.ID, enemy) != nil {
		return nil
	}
	startWar(s, n.ID, enemy, leader)
	return []events.Event{events.WarDeclaration{Day: s.Day, Attacker: n.ID, Defender: enemy, Joined: true}}
}

// canFight checks that a war between a and b is allowed to start.
func canFight(s *world.State, a, b string) error {
	if a == b || !exists(s, a) || !exists(s, b) {
		return ErrUnknownParty
	}
	switch w := between(s, a, b).(type) {
	case world.AtWar:
		return ErrAlreadyAtWar
	case world.Armistice:
		if w.Until > s.Day {
			return ErrArmistice
		}
	}
	if allied(s, a, b) {
		return ErrAllied
	}
	if overlord(s, a, b) {
		return ErrOverlord
	}
	return nil
}

func exists(s *world.State, id string) bool {
	return id == world.PlayerID || s.ActiveNation(id) != nil
}

// between returns the war state between a and b as held by a nation side.
func between(s *world.State, a, b string) world.WarState {
	if n := s.Nation(a); n != nil {
		return n.Wars.Get(b)
	}
	if n := s.Nation(b); n != nil {
		return n.Wars.Get(a)
	}
	return world.AtPeace{}
}

func allied(s *world.State, a, b string) bool {
	na, nb := s.Nation(a), s.Nation(b)
	return (na != nil && na.AlliedWith(b)) || (nb != nil && nb.AlliedWith(a))
}

func overlord(s *world.State, a, b string) bool {
	na, nb := s.Nation(a), s.Nation(b)
	return (na != nil && na.VassalOf == b) || (nb != nil && nb.VassalOf == a)
}

// startWar records a fresh war on both nation sides. leader marks a
// follower's record so it makes peace with its suzerain.
func startWar(s *world.State, a, b, leader string) {
	if n := s.Nation(a); n != nil {
		n.Wars[b] = world.AtWar{StartDay: s.Day, LastBattleDay: s.Day, FollowedLeader: leader}
	}
	if n := s.Nation(b); n != nil {
		n.Wars[a] = world.AtWar{StartDay: s.Day, LastBattleDay: s.Day}
	}
}

// endWar replaces the war between a and b with an armistice, and ends the
// wars of any vassals that followed either side into it.
func endWar(s *world.State, a, b string, until int) {
	for _, id := range []string{a, b} {
		other := b
		if id == b {
			other = a
		}
		if n := s.Nation(id); n != nil {
			n.Wars[other] = world.Armistice{Until: until}
		}
	}
	for i := range s.Nations {
		v := &s.Nations[i]
		if v.Annexed {
			continue
		}
		for _, enemy := range v.Wars.Opponents() {
			w, ok := v.Wars[enemy].(world.AtWar)
			if !ok {
				continue
			}
			if (w.FollowedLeader == a && enemy == b) || (w.FollowedLeader == b && enemy == a) {
				endWar(s, v.ID, enemy, until)
			}
		}
	}
}

// Terms are the conditions a player-AI war ends on. OpenMarketDays is a
// victor's demand that the loser lift its route cap for that long.
type Terms struct {
	Payment        float64 `json:"payment"`
	PlayerPays     bool    `json:"player_pays"`
	Installments   bool    `json:"installments"`
	OpenMarketDays int     `json:"open_market_days"`
}

// TributeWillingness is the readiness a losing nation needs before it pays
// the player anything to end a war.
const TributeWillingness = 0.8

// SettlementWillingness is how ready a nation losing to the player is to
// pay for peace, from the player's lead, its own losses and the war's
// length.
func SettlementWillingness(playerLead float64, losses, duration int) float64 {
	return mathx.NonNeg(playerLead)/80 +
		math.Min(0.5, float64(max(losses, 0))/200) +
		math.Min(0.3, float64(max(duration, 0))/200)
}

// Quote is what a nation at war with the player will settle for. When the
// nation leads, the player must pay at least Minimum; when the player
// leads, the nation pays at most MaxTribute, and nothing at all unless
// Willing.
type Quote struct {
	Tier       string  `json:"tier"`
	PlayerWins bool    `json:"player_wins"`
	Minimum    float64 `json:"minimum"`
	MaxTribute float64 `json:"max_tribute"`
	Willing    bool    `json:"willing"`
}

// QuotePeace prices peace with n from its current war with the player.
func QuotePeace(s *world.State, n *world.Nation) (Quote, error) {
	w, ok := n.Wars[world.PlayerID].(world.AtWar)
	if !ok {
		return Quote{}, ErrNotAtWar
	}
	tier := TierFor(w.Score)
	q := Quote{Tier: tier.Name, PlayerWins: w.Score < 0}
	if tier == Draw {
		return q, nil
	}
	duration := s.Day - w.StartDay
	if !q.PlayerWins {
		q.Minimum = diplomacy.PeacePayment(w.Score, w.EnemyLosses, duration, s.Player.Treasury, diplomacy.Demanding).Low
		return q, nil
	}
	prices := diplomacy.PeacePayment(w.Score, w.Losses, duration, n.Wealth, diplomacy.Demanding)
	switch tier.Name {
	case "overwhelming", "major":
		q.MaxTribute = prices.High
	case "minor":
		q.MaxTribute = prices.Standard
	default:
		q.MaxTribute = prices.Low
	}
	q.MaxTribute = math.Min(q.MaxTribute, mathx.NonNeg(n.Wealth))
	q.Willing = n.Wealth <= 0 || SettlementWillingness(-w.Score, w.Losses, duration) > TributeWillingness
	return q, nil
}

// MakePeace ends the player's war with nationID on terms. The tier comes
// from the current war score; an overwhelming player victory over a nation
// already bled below the annexation thresholds absorbs it.
//
// An undecided war cannot be settled. A leading nation refuses anything
// below its quoted minimum, and a losing one pays tribute only when
// willing, never above its quoted maximum.
func MakePeace(s *world.State, l *ledger.Ledger, nationID string, t Terms) ([]events.Event, error) {
	n := s.ActiveNation(nationID)
	if n == nil {
		return nil, ErrUnknownParty
	}
	w, ok := n.Wars[world.PlayerID].(world.AtWar)
	if !ok {
		return nil, ErrNotAtWar
	}
	q, err := QuotePeace(s, n)
	if err != nil {
		return nil, err
	}
	if err := q.check(t); err != nil {
		return nil, err
	}
	meta := ledger.Meta{"partner": n.ID}
	amount := math.Ceil(mathx.NonNeg(t.Payment))
	if !t.PlayerPays {
		amount = math.Min(amount, q.MaxTribute)
	}

	switch {
	case amount <= 0:
	case t.Installments:
		plan := diplomacy.InstallmentPlan(amount)
		s.Installments = append(s.Installments, world.Installment{
			Partner: n.ID, Daily: plan.Daily, DaysLeft: plan.Days, PlayerPays: t.PlayerPays,
		})
	case t.PlayerPays:
		if !l.Pay(ledger.Treasury, ledger.Void, amount, ledger.CategoryState, ledger.Reparations, meta) {
			return nil, ErrInsufficientFunds
		}
		n.Wealth += amount
	default:
		paid := math.Min(amount, n.Wealth)
		n.Wealth -= paid
		l.Transfer(ledger.Void, ledger.Treasury, paid, ledger.CategoryIncome, ledger.Tribute, meta)
	}

	tier := TierFor(w.Score)
	peace := events.PeaceConcluded{Day: s.Day, Tier: tier.Name, Payment: amount}
	switch {
	case tier == Draw:
	case w.Score < 0:
		peace.Winner, peace.Loser = world.PlayerID, n.ID
	default:
		peace.Winner, peace.Loser = n.ID, world.PlayerID
	}

	if peace.Winner == world.PlayerID && tier.Overwhelming() && n.Population < AnnexPopulation && n.Wealth < AnnexWealth {
		return []events.Event{peace, Annex(s, l, n, world.PlayerID)}, nil
	}
	peace.ArmisticeUntil = s.Day + tier.Armistice
	endWar(s, world.PlayerID, n.ID, peace.ArmisticeUntil)
	if peace.Winner == world.PlayerID && t.OpenMarketDays > 0 {
		n.OpenMarketUntil = max(n.OpenMarketUntil, s.Day+min(t.OpenMarketDays, tier.Armistice))
	}
	n.LastPeaceRequestDay = s.Day
	return []events.Event{peace}, nil
}

func (q Quote) check(t Terms) error {
	switch {
	case q.Tier == Draw.Name:
		return fmt.Errorf("%w: the war is undecided", ErrPeaceRefused)
	case t.OpenMarketDays < 0:
		return fmt.Errorf("%w: negative open market period", ErrPeaceRefused)
	case !q.PlayerWins && t.OpenMarketDays > 0:
		return fmt.Errorf("%w: only the victor can demand an open market", ErrPeaceRefused)
	case !q.PlayerWins && (!t.PlayerPays || math.Ceil(mathx.NonNeg(t.Payment)) < q.Minimum):
		return fmt.Errorf("%w: at least %.0f silver is demanded", ErrPeaceRefused, q.Minimum)
	case q.PlayerWins && !t.PlayerPays && t.Payment > 0 && !q.Willing:
		return fmt.Errorf("%w: not yet willing to pay tribute", ErrPeaceRefused)
	}
	return nil
}

// Annex absorbs n into by (the player or another nation). The loser's
// people and wealth move to the winner and it drops out of every war and
// alliance.
func Annex(s *world.State, l *ledger.Ledger, n *world.Nation, by string) events.Event {
	if by == world.PlayerID {
		l.Transfer(ledger.Void, ledger.Treasury, n.Wealth, ledger.CategoryIncome, ledger.Tribute, ledger.Meta{"annexed": n.ID})
		addPopulation(&s.Player, n.Population)
	} else if w := s.Nation(by); w != nil {
		w.Population += n.Population
		w.Wealth += n.Wealth
	}
	n.Annexed = true
	n.Population = 0
	n.Wealth = 0
	n.Budget = 0
	n.Wars = make(world.WarMap)
	n.Allies = nil
	for i := range s.Nations {
		o := &s.Nations[i]
		delete(o.Wars, n.ID)
		o.Allies = without(o.Allies, n.ID)
		if o.VassalOf == n.ID {
			o.VassalOf = ""
		}
	}
	return events.Annexation{Day: s.Day, Nation: n.ID, By: by}
}

// Attack sends the player's army against a nation the player is at war
// with. Victory loots the enemy; silver goes to the treasury and goods to
// the national stockpile.
func Attack(cat *catalog.Catalog, s *world.State, l *ledger.Ledger, nationID string, rng entropy.Source) ([]events.Event, error) {
	n := s.ActiveNation(nationID)
	if n == nil {
		return nil, ErrUnknownParty
	}
	w, ok := n.Wars[world.PlayerID].(world.AtWar)
	if !ok {
		return nil, ErrNotAtWar
	}
	if headcount(s.Player.Army) == 0 {
		return nil, ErrNoArmy
	}

	res := Resolve(cat,
		Side{Army: s.Player.Army, Epoch: s.Epoch},
		Side{Army: n.Army, Epoch: n.Epoch, Wealth: n.Wealth},
		rng)
	w.EnemyLosses += ApplyLosses(s.Player.Army, res.AttackerLosses)
	w.Losses += ApplyLosses(n.Army, res.DefenderLosses)

	switch {
	case res.Victory && res.Decisive:
		w.Score -= PlayerDecisiveScore
	case res.Victory:
		w.Score -= PlayerWinScore
	default:
		w.Score += PlayerLossScore
	}
	w.Score = mathx.Clamp(w.Score, -world.MaxWarScore, world.MaxWarScore)
	w.LastBattleDay = s.Day
	n.Wars[world.PlayerID] = w

	taken := 0.0
	if res.Victory {
		taken = math.Min(res.LootValue, n.Wealth)
		scale := mathx.SafeDiv(taken, res.LootValue, 0)
		for _, r := range sortedKeys(res.Loot) {
			v := math.Floor(res.Loot[r] * scale)
			if v <= 0 {
				continue
			}
			if r == "silver" {
				l.Transfer(ledger.Void, ledger.Treasury, v, ledger.CategoryIncome, ledger.Loot, ledger.Meta{"partner": n.ID})
				continue
			}
			s.Player.Inventory[r] += v
		}
		n.Wealth = mathx.NonNeg(n.Wealth - taken)
	}

	return []events.Event{events.BattleEvent{
		Day:            s.Day,
		Attacker:       world.PlayerID,
		Defender:       n.ID,
		AttackerWon:    res.Victory,
		Decisive:       res.Decisive,
		AttackerLosses: res.AttackerLosses,
		DefenderLosses: res.DefenderLosses,
		Loot:           taken,
		WarScore:       w.Score,
	}}, nil
}

// addPopulation settles newcomers in the unemployed pool.
func addPopulation(p *world.Player, k int) {
	if k <= 0 {
		return
	}
	st := p.Strata[world.Unemployed]
	st.Count += k
	p.Strata[world.Unemployed] = st
}

// removePopulation takes k people from the unemployed pool first and then
// from the largest strata. It returns how many were removed.
func removePopulation(p *world.Player, k int) int {
	removed := 0
	take := func(key string) {
		st := p.Strata[key]
		n := min(st.Count, k-removed)
		if n <= 0 {
			return
		}
		st.Count -= n
		p.Strata[key] = st
		removed += n
	}
	take(world.Unemployed)
	keys := sortedKeys(p.Strata)
	sort.SliceStable(keys, func(i, j int) bool { return p.Strata[keys[i]].Count > p.Strata[keys[j]].Count })
	for _, key := range keys {
		if removed >= k {
			break
		}
		take(key)
	}
	return removed
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
