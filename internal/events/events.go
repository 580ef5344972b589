// Package events defines the closed set of typed events a tick produces and
// the TAG:json wire form collaborators consume.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event is implemented by every event variant.
type Event interface {
	Tag() string
	Summary() string
}

// ErrUnknownTag is returned by Decode for unregistered tags.
var ErrUnknownTag = errors.New("unknown event tag")

// TradeEvent is an AI nation proposing or completing a trade with the player.
type TradeEvent struct {
	Day      int     `json:"day"`
	Nation   string  `json:"nation"`
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
	Price    float64 `json:"price"`
	Import   bool    `json:"import"`
}

// RaidEvent is a border raid that did not escalate to war.
type RaidEvent struct {
	Day    int     `json:"day"`
	Nation string  `json:"nation"`
	Stolen float64 `json:"stolen"`
}

// BattleEvent reports one resolved battle.
type BattleEvent struct {
	Day            int            `json:"day"`
	Attacker       string         `json:"attacker"`
	Defender       string         `json:"defender"`
	AttackerWon    bool           `json:"attacker_won"`
	Decisive       bool           `json:"decisive"`
	AttackerLosses map[string]int `json:"attacker_losses"`
	DefenderLosses map[string]int `json:"defender_losses"`
	Loot           float64        `json:"loot"`
	WarScore       float64        `json:"war_score"`
}

// WarDeclaration reports a new war.
type WarDeclaration struct {
	Day      int    `json:"day"`
	Attacker string `json:"attacker"`
	Defender string `json:"defender"`
	Reason   string `json:"reason,omitempty"`
	Joined   bool   `json:"joined,omitempty"` // ally or vassal entering an existing war
}

// PeaceRequest is an AI nation offering to end a war it is losing.
type PeaceRequest struct {
	Day     int     `json:"day"`
	Nation  string  `json:"nation"`
	Tribute float64 `json:"tribute"`
}

// SurrenderDemand is an AI nation demanding the player's surrender.
type SurrenderDemand struct {
	Day    int     `json:"day"`
	Nation string  `json:"nation"`
	Demand float64 `json:"demand"`
}

// PeaceConcluded reports the end of a war.
type PeaceConcluded struct {
	Day            int     `json:"day"`
	Winner         string  `json:"winner,omitempty"`
	Loser          string  `json:"loser,omitempty"`
	Tier           string  `json:"tier"`
	Payment        float64 `json:"payment"`
	ArmisticeUntil int     `json:"armistice_until"`
}

// Annexation reports a nation absorbed after overwhelming defeat.
type Annexation struct {
	Day    int    `json:"day"`
	Nation string `json:"nation"`
	By     string `json:"by"`
}

// TreatySigned reports a concluded treaty.
type TreatySigned struct {
	Day     int    `json:"day"`
	Nation  string `json:"nation"`
	Treaty  string `json:"treaty"`
	EndDay  int    `json:"end_day"`
	Counter bool   `json:"counter,omitempty"`
}

// TreatyExpired reports a treaty reaching its end day.
type TreatyExpired struct {
	Day    int    `json:"day"`
	Nation string `json:"nation"`
	Treaty string `json:"treaty"`
}

// NegotiationResult is the outcome of a player proposal.
type NegotiationResult struct {
	Day         int     `json:"day"`
	Nation      string  `json:"nation"`
	Treaty      string  `json:"treaty"`
	Accepted    bool    `json:"accepted"`
	Chance      float64 `json:"chance"`
	CounterGift float64 `json:"counter_gift,omitempty"`
	CounterDays int     `json:"counter_days,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Shortage reports unmet needs for one stratum.
type Shortage struct {
	Day       int      `json:"day"`
	Stratum   string   `json:"stratum"`
	Resources []string `json:"resources"`
	Reason    string   `json:"reason"`
}

// Starvation reports deaths from sustained hunger.
type Starvation struct {
	Day     int    `json:"day"`
	Stratum string `json:"stratum"`
	Deaths  int    `json:"deaths"`
}

// Emigration reports people leaving with their capital.
type Emigration struct {
	Day     int     `json:"day"`
	Stratum string  `json:"stratum"`
	People  int     `json:"people"`
	Capital float64 `json:"capital"`
}

// Notice is a free-form log line.
type Notice struct {
	Day     int    `json:"day"`
	Message string `json:"message"`
}

// StageSkipped reports a tick stage that failed and was skipped.
type StageSkipped struct {
	Day   int    `json:"day"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

func (TradeEvent) Tag() string        { return "AI_TRADE_EVENT" }
func (RaidEvent) Tag() string         { return "RAID_EVENT" }
func (BattleEvent) Tag() string       { return "BATTLE_EVENT" }
func (WarDeclaration) Tag() string    { return "WAR_DECLARATION_EVENT" }
func (PeaceRequest) Tag() string      { return "AI_PEACE_REQUEST" }
func (SurrenderDemand) Tag() string   { return "AI_DEMAND_SURRENDER" }
func (PeaceConcluded) Tag() string    { return "PEACE_EVENT" }
func (Annexation) Tag() string        { return "ANNEXATION_EVENT" }
func (TreatySigned) Tag() string      { return "TREATY_EVENT" }
func (TreatyExpired) Tag() string     { return "TREATY_EXPIRED" }
func (NegotiationResult) Tag() string { return "NEGOTIATION_EVENT" }
func (Shortage) Tag() string          { return "SHORTAGE_EVENT" }
func (Starvation) Tag() string        { return "STARVATION_EVENT" }
func (Emigration) Tag() string        { return "EMIGRATION_EVENT" }
func (Notice) Tag() string            { return "NOTICE" }
func (StageSkipped) Tag() string      { return "STAGE_SKIPPED" }

func (e TradeEvent) Summary() string {
	dir := "sold"
	if e.Import {
		dir = "bought"
	}
	return fmt.Sprintf("%s %s %.0f %s at %.2f", e.Nation, dir, e.Amount, e.Resource, e.Price)
}

func (e RaidEvent) Summary() string {
	return fmt.Sprintf("%s raided the border and took %.0f silver", e.Nation, e.Stolen)
}

func (e BattleEvent) Summary() string {
	winner := e.Defender
	if e.AttackerWon {
		winner = e.Attacker
	}
	kind := "battle"
	if e.Decisive {
		kind = "decisive battle"
	}
	return fmt.Sprintf("%s won a %s between %s and %s", winner, kind, e.Attacker, e.Defender)
}

func (e WarDeclaration) Summary() string {
	if e.Joined {
		return fmt.Sprintf("%s joined the war against %s", e.Attacker, e.Defender)
	}
	return fmt.Sprintf("%s declared war on %s", e.Attacker, e.Defender)
}

func (e PeaceRequest) Summary() string {
	return fmt.Sprintf("%s asks for peace and offers %.0f silver", e.Nation, e.Tribute)
}

func (e SurrenderDemand) Summary() string {
	return fmt.Sprintf("%s demands surrender and %.0f silver", e.Nation, e.Demand)
}

func (e PeaceConcluded) Summary() string {
	if e.Winner == "" {
		return fmt.Sprintf("war ended in a draw (%s)", e.Tier)
	}
	return fmt.Sprintf("%s defeated %s (%s victory)", e.Winner, e.Loser, e.Tier)
}

func (e Annexation) Summary() string {
	return fmt.Sprintf("%s was annexed by %s", e.Nation, e.By)
}

func (e TreatySigned) Summary() string {
	return fmt.Sprintf("signed %s with %s until day %d", e.Treaty, e.Nation, e.EndDay)
}

func (e TreatyExpired) Summary() string {
	return fmt.Sprintf("%s with %s expired", e.Treaty, e.Nation)
}

func (e NegotiationResult) Summary() string {
	switch {
	case e.Accepted:
		return fmt.Sprintf("%s accepted %s", e.Nation, e.Treaty)
	case e.CounterGift > 0:
		return fmt.Sprintf("%s countered %s asking %.0f silver", e.Nation, e.Treaty, e.CounterGift)
	}
	return fmt.Sprintf("%s rejected %s", e.Nation, e.Treaty)
}

func (e Shortage) Summary() string {
	return fmt.Sprintf("%s lack %s (%s)", e.Stratum, strings.Join(e.Resources, ", "), e.Reason)
}

func (e Starvation) Summary() string {
	return fmt.Sprintf("%d %s starved", e.Deaths, e.Stratum)
}

func (e Emigration) Summary() string {
	return fmt.Sprintf("%d %s emigrated with %.0f silver", e.People, e.Stratum, e.Capital)
}

func (e Notice) Summary() string { return e.Message }

func (e StageSkipped) Summary() string {
	return fmt.Sprintf("stage %s skipped: %s", e.Stage, e.Error)
}

var registry = map[string]func() Event{}

func register(fn func() Event) {
	registry[fn().Tag()] = fn
}

func init() {
	register(func() Event { return &TradeEvent{} })
	register(func() Event { return &RaidEvent{} })
	register(func() Event { return &BattleEvent{} })
	register(func() Event { return &WarDeclaration{} })
	register(func() Event { return &PeaceRequest{} })
	register(func() Event { return &SurrenderDemand{} })
	register(func() Event { return &PeaceConcluded{} })
	register(func() Event { return &Annexation{} })
	register(func() Event { return &TreatySigned{} })
	register(func() Event { return &TreatyExpired{} })
	register(func() Event { return &NegotiationResult{} })
	register(func() Event { return &Shortage{} })
	register(func() Event { return &Starvation{} })
	register(func() Event { return &Emigration{} })
	register(func() Event { return &Notice{} })
	register(func() Event { return &StageSkipped{} })
}

// Encode renders e as TAG:json. A Notice is rendered as its bare message.
func Encode(e Event) (string, error) {
	if n, ok := e.(Notice); ok {
		return n.Message, nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", e.Tag(), err)
	}
	return e.Tag() + ":" + string(raw), nil
}

// Decode parses the TAG:json form. A line without a registered tag prefix
// and JSON payload decodes as a Notice.
func Decode(s string) (Event, error) {
	tag, payload, ok := strings.Cut(s, ":")
	if !ok || !strings.HasPrefix(strings.TrimSpace(payload), "{") {
		return Notice{Message: s}, nil
	}
	fn, found := registry[tag]
	if !found {
		if isTag(tag) {
			return nil, fmt.Errorf("decode %q: %w", tag, ErrUnknownTag)
		}
		return Notice{Message: s}, nil
	}
	ptr := fn()
	if err := json.Unmarshal([]byte(payload), ptr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return deref(ptr), nil
}

// isTag reports whether s looks like an upper-snake event tag.
func isTag(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && r != '_' {
			return false
		}
	}
	return true
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *TradeEvent:
		return *v
	case *RaidEvent:
		return *v
	case *BattleEvent:
		return *v
	case *WarDeclaration:
		return *v
	case *PeaceRequest:
		return *v
	case *SurrenderDemand:
		return *v
	case *PeaceConcluded:
		return *v
	case *Annexation:
		return *v
	case *TreatySigned:
		return *v
	case *TreatyExpired:
		return *v
	case *NegotiationResult:
		return *v
	case *Shortage:
		return *v
	case *Starvation:
		return *v
	case *Emigration:
		return *v
	case *Notice:
		return *v
	case *StageSkipped:
		return *v
	}
	return e
}

// Lines encodes a batch, skipping events that fail to encode.
func Lines(evs []Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		if line, err := Encode(e); err == nil {
			out = append(out, line)
		}
	}
	return out
}
