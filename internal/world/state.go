// Package world defines the simulation snapshot: the player realm, its
// markets, the roster of AI nations and every pending obligation between
// them. A State is a plain value; the engine clones it on entry to a tick
// and returns a new one.
package world

import (
	"github.com/talgya/statecraft/internal/ledger"
)

// PlayerID is the key AI nations use for the player in relation and war maps.
const PlayerID = "player"

// Unemployed is the stratum key of the unassigned labor pool.
const Unemployed = "unemployed"

// State is one complete simulation snapshot.
type State struct {
	Seed  int64 `json:"seed"`
	Day   int   `json:"day"`
	Epoch int   `json:"epoch"`

	Player  Player                 `json:"player"`
	Market  map[string]MarketEntry `json:"market"`
	Nations []Nation               `json:"nations"`

	Treaties      []Treaty      `json:"treaties"`
	PendingTrades []Trade       `json:"pending_trades"`
	Routes        []Route       `json:"routes"`
	Investments   []Investment  `json:"investments"`
	Installments  []Installment `json:"installments"`

	// Assignments maps partner nation id → merchants assigned.
	Assignments map[string]int `json:"merchant_assignments"`
	// Preferences maps resource → player trade preference multiplier.
	Preferences map[string]float64 `json:"trade_preferences"`

	// WarCooldownUntil blocks new AI war declarations against the player.
	WarCooldownUntil int `json:"war_cooldown_until"`

	// Books holds the current day's ledger statistics.
	Books ledger.Stats `json:"books"`
}

// Player is the player realm.
type Player struct {
	Treasury  float64            `json:"treasury"`
	Inventory map[string]float64 `json:"inventory"`
	Strata    map[string]Stratum `json:"strata"` // role key → stratum; counts are job assignments
	Buildings map[string]int     `json:"buildings"`
	Wages     map[string]float64 `json:"wages"`
	Tax       TaxPolicy          `json:"tax"`
	Army      map[string]int     `json:"army"`

	// Cooldowns maps role → first day it may take part in job migration again.
	Cooldowns map[string]int `json:"cooldowns"`

	Stability       float64 `json:"stability"`
	LaborEfficiency float64 `json:"labor_efficiency"`
}

// TaxPolicy holds the player's tax configuration. Rates are fractions;
// negative resource rates are subsidies.
type TaxPolicy struct {
	HeadTax      map[string]float64 `json:"head_tax"` // multiplier on the stratum's head tax base
	ResourceTax  map[string]float64 `json:"resource_tax"`
	BusinessTax  float64            `json:"business_tax"`
	ImportTariff map[string]float64 `json:"import_tariff"`
	ExportTariff map[string]float64 `json:"export_tariff"`
}

// Stratum is the runtime state of one population class.
type Stratum struct {
	Count    int     `json:"count"`
	Wealth   float64 `json:"wealth"`
	Approval float64 `json:"approval"`

	Satisfaction          float64 `json:"satisfaction"`           // rolling average
	EssentialSatisfaction float64 `json:"essential_satisfaction"` // last tick
	StarvationStreak      int     `json:"starvation_streak"`
	PovertyStreak         int     `json:"poverty_streak"`

	Living    LivingStandard `json:"living"`
	Shortages []Shortage     `json:"shortages,omitempty"`
}

// LivingStandard is the evaluated living standard of a stratum.
type LivingStandard struct {
	Score            float64 `json:"score"`
	Tier             string  `json:"tier"`
	ApprovalCap      float64 `json:"approval_cap"`
	UnlockMultiplier float64 `json:"unlock_multiplier"`
	UnlockedTiers    int     `json:"unlocked_tiers"`
}

// ShortageReason explains an unmet need.
type ShortageReason string

const (
	OutOfStock   ShortageReason = "outOfStock"
	Unaffordable ShortageReason = "unaffordable"
	Both         ShortageReason = "both"
)

// Shortage records one unmet need.
type Shortage struct {
	Resource string         `json:"resource"`
	Ratio    float64        `json:"ratio"`
	Reason   ShortageReason `json:"reason"`
}

// MarketEntry is the runtime market state of one resource.
type MarketEntry struct {
	Price      float64 `json:"price"`
	Supply     float64 `json:"supply"`
	Demand     float64 `json:"demand"`
	CostFloor  float64 `json:"cost_floor"`
	Multiplier float64 `json:"multiplier"`
}

// Nation is an AI-controlled nation.
type Nation struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Population int     `json:"population"`
	Wealth     float64 `json:"wealth"`
	Budget     float64 `json:"budget"`
	Epoch      int     `json:"epoch"`
	Aggression float64 `json:"aggression"`
	Unrest     float64 `json:"unrest"`

	Inventory map[string]float64 `json:"inventory"`
	Army      map[string]int     `json:"army"`
	Traits    EconomyTraits      `json:"traits"`

	// Relation is the 0–100 standing toward the player.
	Relation float64 `json:"relation"`
	// Relations is the standing toward other AI nations.
	Relations map[string]float64 `json:"relations"`
	// Wars holds the war state toward each opponent (PlayerID or a nation id).
	Wars WarMap `json:"wars"`
	// Allies lists nation ids (and possibly PlayerID) bound by alliance.
	Allies []string `json:"allies,omitempty"`

	VassalOf     string `json:"vassal_of,omitempty"`
	AutoJoinWars bool   `json:"auto_join_wars,omitempty"`

	OpenMarketUntil        int `json:"open_market_until"`
	LastPeaceRequestDay    int `json:"last_peace_request_day"`
	LastSurrenderDemandDay int `json:"last_surrender_demand_day"`

	Annexed bool `json:"annexed"`
}

// EconomyTraits are the fixed economic leanings of a nation.
type EconomyTraits struct {
	ResourceBias map[string]float64 `json:"resource_bias"`
	GrowthBase   float64            `json:"growth_base"`
}

// TreatyDirection records who proposed a treaty.
type TreatyDirection string

const (
	ProposedByPlayer TreatyDirection = "player"
	ProposedByAI     TreatyDirection = "ai"
)

// Treaty is an active bilateral agreement between the player and a nation.
type Treaty struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Partner     string          `json:"partner"`
	Direction   TreatyDirection `json:"direction"`
	StartDay    int             `json:"start_day"`
	EndDay      int             `json:"end_day"`
	Maintenance float64         `json:"maintenance"`
}

// Active reports whether the treaty is in force on day.
func (t Treaty) Active(day int) bool {
	return day >= t.StartDay && day < t.EndDay
}

// TradeType is import or export.
type TradeType string

const (
	Import TradeType = "import"
	Export TradeType = "export"
)

// Trade is a pending merchant trade awaiting settlement.
type Trade struct {
	ID            string    `json:"id"`
	Partner       string    `json:"partner"`
	Resource      string    `json:"resource"`
	Type          TradeType `json:"type"`
	Amount        float64   `json:"amount"`
	Revenue       float64   `json:"revenue"`
	Profit        float64   `json:"profit"`
	DaysRemaining int       `json:"days_remaining"`
	CapitalLocked float64   `json:"capital_locked"`
}

// RouteMode selects normal or coercive manual trade.
type RouteMode string

const (
	RouteNormal    RouteMode = "normal"
	RouteForceSell RouteMode = "force_sell"
	RouteForceBuy  RouteMode = "force_buy"
)

// Route is a standing manual trade route.
type Route struct {
	ID       string    `json:"id"`
	Partner  string    `json:"partner"`
	Resource string    `json:"resource"`
	Type     TradeType `json:"type"`
	Mode     RouteMode `json:"mode"`
}

// Investment is capital placed in a foreign nation paying a daily return.
type Investment struct {
	ID          string  `json:"id"`
	Partner     string  `json:"partner"`
	Amount      float64 `json:"amount"`
	DailyReturn float64 `json:"daily_return"`
	StartDay    int     `json:"start_day"`
}

// Installment is a daily payment stream from a peace settlement.
type Installment struct {
	Partner    string  `json:"partner"`
	Daily      float64 `json:"daily"`
	DaysLeft   int     `json:"days_left"`
	PlayerPays bool    `json:"player_pays"`
}

// Nation returns a pointer to the nation with id, or nil.
func (s *State) Nation(id string) *Nation {
	for i := range s.Nations {
		if s.Nations[i].ID == id {
			return &s.Nations[i]
		}
	}
	return nil
}

// ActiveNation returns the nation with id unless it is missing or annexed.
func (s *State) ActiveNation(id string) *Nation {
	n := s.Nation(id)
	if n == nil || n.Annexed {
		return nil
	}
	return n
}

// TreatiesWith returns the treaties with partner active on the current day.
func (s *State) TreatiesWith(partner string) []Treaty {
	var out []Treaty
	for _, t := range s.Treaties {
		if t.Partner == partner && t.Active(s.Day) {
			out = append(out, t)
		}
	}
	return out
}

// HasTreaty reports whether a treaty of type with partner is active.
func (s *State) HasTreaty(partner, typ string) bool {
	for _, t := range s.TreatiesWith(partner) {
		if t.Type == typ {
			return true
		}
	}
	return false
}

// TotalPopulation sums all player strata.
func (p *Player) TotalPopulation() int {
	total := 0
	for _, st := range p.Strata {
		total += st.Count
	}
	return total
}

// AlliedWith reports whether the nation lists other as an ally.
func (n *Nation) AlliedWith(other string) bool {
	for _, a := range n.Allies {
		if a == other {
			return true
		}
	}
	return false
}

// ActiveWars counts opponents the nation is at war with.
func (n *Nation) ActiveWars() int {
	count := 0
	for _, w := range n.Wars {
		if _, ok := w.(AtWar); ok {
			count++
		}
	}
	return count
}

// AtWarWith reports whether the nation is at war with opponent.
func (n *Nation) AtWarWith(opponent string) bool {
	_, ok := n.Wars[opponent].(AtWar)
	return ok
}

// RelationTo returns the standing toward id (the player or another nation).
func (n *Nation) RelationTo(id string) float64 {
	if id == PlayerID {
		return n.Relation
	}
	if r, ok := n.Relations[id]; ok {
		return r
	}
	return 50
}

// Prices returns the current market price of every resource.
func (s *State) Prices() map[string]float64 {
	out := make(map[string]float64, len(s.Market))
	for k, m := range s.Market {
		out[k] = m.Price
	}
	return out
}
