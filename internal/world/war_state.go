package world

import (
	"encoding/json"
	"fmt"
	"sort"
)

// WarState is the diplomatic-military state toward one opponent. It is a
// closed set: AtPeace, AtWar or Armistice.
type WarState interface {
	warState()
	Kind() string
}

// AtPeace is the default state.
type AtPeace struct{}

// AtWar is an ongoing war. Score is the holder's advantage: positive means
// the nation holding this record is winning.
type AtWar struct {
	Score          float64 `json:"score"`
	StartDay       int     `json:"start_day"`
	Losses         int     `json:"losses"`        // units the holder has lost
	EnemyLosses    int     `json:"enemy_losses"`  // units the opponent has lost
	EndThreshold   float64 `json:"end_threshold"` // score at which an AI-vs-AI war resolves
	LastBattleDay  int     `json:"last_battle_day"`
	FollowedLeader string  `json:"followed_leader,omitempty"` // suzerain this vassal followed in
}

// Armistice forbids war until Until.
type Armistice struct {
	Until int `json:"until"`
}

func (AtPeace) warState()   {}
func (AtWar) warState()     {}
func (Armistice) warState() {}

func (AtPeace) Kind() string   { return "peace" }
func (AtWar) Kind() string     { return "war" }
func (Armistice) Kind() string { return "armistice" }

// WarMap maps opponent id → WarState. Missing keys mean AtPeace.
type WarMap map[string]WarState

// Get returns the state toward opponent, AtPeace when absent.
func (m WarMap) Get(opponent string) WarState {
	if w, ok := m[opponent]; ok && w != nil {
		return w
	}
	return AtPeace{}
}

// Opponents returns the ids the holder is at war with, sorted.
func (m WarMap) Opponents() []string {
	var ids []string
	for id, w := range m {
		if _, ok := w.(AtWar); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

type warEnvelope struct {
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state,omitempty"`
}

// MarshalJSON encodes each entry as {"kind":..., "state":...}.
func (m WarMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]warEnvelope, len(m))
	for id, w := range m {
		if w == nil {
			w = AtPeace{}
		}
		raw, err := json.Marshal(w)
		if err != nil {
			return nil, fmt.Errorf("encode war state %s: %w", id, err)
		}
		out[id] = warEnvelope{Kind: w.Kind(), State: raw}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the envelope form.
func (m *WarMap) UnmarshalJSON(data []byte) error {
	var in map[string]warEnvelope
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	res := make(WarMap, len(in))
	for id, env := range in {
		switch env.Kind {
		case "peace", "":
			res[id] = AtPeace{}
		case "war":
			var w AtWar
			if err := json.Unmarshal(env.State, &w); err != nil {
				return fmt.Errorf("decode war state %s: %w", id, err)
			}
			res[id] = w
		case "armistice":
			var a Armistice
			if err := json.Unmarshal(env.State, &a); err != nil {
				return fmt.Errorf("decode armistice %s: %w", id, err)
			}
			res[id] = a
		default:
			return fmt.Errorf("war state %s: unknown kind %q", id, env.Kind)
		}
	}
	*m = res
	return nil
}
