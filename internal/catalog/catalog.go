// Package catalog holds the read-only lookup tables the simulation consumes:
// resources, population strata, buildings, military units and treaty effects.
// Defaults are embedded as YAML; a file may override any table.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Resource is an immutable catalog entry for one good.
type Resource struct {
	Key       string  `yaml:"key" json:"key"`
	Name      string  `yaml:"name" json:"name"`
	BasePrice float64 `yaml:"base_price" json:"base_price"`
	Tradable  bool    `yaml:"tradable" json:"tradable"`
	Epoch     int     `yaml:"epoch" json:"epoch"`
}

// LuxuryTier is a bundle of extra needs unlocked once a stratum's unlock
// multiplier reaches Threshold.
type LuxuryTier struct {
	Threshold float64            `yaml:"threshold" json:"threshold"`
	Needs     map[string]float64 `yaml:"needs" json:"needs"`
}

// Stratum describes one population class / job role.
type Stratum struct {
	Key              string             `yaml:"key" json:"key"`
	Name             string             `yaml:"name" json:"name"`
	Tier             int                `yaml:"tier" json:"tier"`
	Needs            map[string]float64 `yaml:"needs" json:"needs"` // per capita per day
	Luxury           []LuxuryTier       `yaml:"luxury" json:"luxury"`
	Influence        float64            `yaml:"influence" json:"influence"`
	WealthElasticity float64            `yaml:"wealth_elasticity" json:"wealth_elasticity"`
	StartingWealth   float64            `yaml:"starting_wealth" json:"starting_wealth"` // per capita
	HeadTaxBase      float64            `yaml:"head_tax_base" json:"head_tax_base"`
	StatePaid        bool               `yaml:"state_paid" json:"state_paid"` // wage comes from the treasury
}

// Building is a production or employment site.
type Building struct {
	Key     string             `yaml:"key" json:"key"`
	Name    string             `yaml:"name" json:"name"`
	Inputs  map[string]float64 `yaml:"inputs" json:"inputs"`
	Outputs map[string]float64 `yaml:"outputs" json:"outputs"`
	Jobs    map[string]int     `yaml:"jobs" json:"jobs"`
	Owner   string             `yaml:"owner" json:"owner"`
	Housing int                `yaml:"housing" json:"housing"`
}

// Unit is a military unit type.
type Unit struct {
	Key           string             `yaml:"key" json:"key"`
	Name          string             `yaml:"name" json:"name"`
	Epoch         int                `yaml:"epoch" json:"epoch"`
	Category      string             `yaml:"category" json:"category"`
	Attack        float64            `yaml:"attack" json:"attack"`
	Defense       float64            `yaml:"defense" json:"defense"`
	Speed         float64            `yaml:"speed" json:"speed"`
	Range         float64            `yaml:"range" json:"range"`
	Counters      map[string]float64 `yaml:"counters" json:"counters"` // category → multiplier
	ObsoleteAfter int                `yaml:"obsolete_after" json:"obsolete_after"`
}

// Treaty carries both the negotiation parameters and the standing effects of
// one treaty type.
type Treaty struct {
	Type              string  `yaml:"type" json:"type"`
	Name              string  `yaml:"name" json:"name"`
	BaseChance        float64 `yaml:"base_chance" json:"base_chance"`
	BaseDuration      int     `yaml:"base_duration" json:"base_duration"`
	MinRelation       float64 `yaml:"min_relation" json:"min_relation"`
	Value             float64 `yaml:"value" json:"value"`
	Maintenance       float64 `yaml:"maintenance" json:"maintenance"`
	Category          string  `yaml:"category" json:"category"` // economic, military, peace, cultural
	TariffMultiplier  float64 `yaml:"tariff_multiplier" json:"tariff_multiplier"`
	MerchantPercent   float64 `yaml:"merchant_percent" json:"merchant_percent"`
	MerchantExtra     int     `yaml:"merchant_extra" json:"merchant_extra"`
	UnlimitedMerchant bool    `yaml:"unlimited_merchants" json:"unlimited_merchants"`
	AllowForceTrade   bool    `yaml:"allow_force_trade" json:"allow_force_trade"`
	BypassRelationCap bool    `yaml:"bypass_relation_cap" json:"bypass_relation_cap"`
	RelationDecayCut  float64 `yaml:"relation_decay_reduction" json:"relation_decay_reduction"`
	PriceConvergence  bool    `yaml:"price_convergence" json:"price_convergence"`
	Alliance          bool    `yaml:"alliance" json:"alliance"`
}

// Catalog is the full set of static tables.
type Catalog struct {
	Resources map[string]Resource
	Strata    map[string]Stratum
	Buildings map[string]Building
	Units     map[string]Unit
	Treaties  map[string]Treaty

	// RolePriority breaks vacancy ties; earlier roles fill first.
	RolePriority []string

	tradable []string
}

type file struct {
	Resources    []Resource `yaml:"resources"`
	Strata       []Stratum  `yaml:"strata"`
	Buildings    []Building `yaml:"buildings"`
	Units        []Unit     `yaml:"units"`
	Treaties     []Treaty   `yaml:"treaties"`
	RolePriority []string   `yaml:"role_priority"`
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics only if the embedded
// YAML is malformed, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(defaultsYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded catalog: %v", err))
		}
		defaultCat = c
	})
	return defaultCat
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	c := &Catalog{
		Resources:    make(map[string]Resource, len(f.Resources)),
		Strata:       make(map[string]Stratum, len(f.Strata)),
		Buildings:    make(map[string]Building, len(f.Buildings)),
		Units:        make(map[string]Unit, len(f.Units)),
		Treaties:     make(map[string]Treaty, len(f.Treaties)),
		RolePriority: f.RolePriority,
	}
	c.merge(&f)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the embedded defaults and overlays the YAML file at path.
// Entries in the file replace defaults with the same key.
func Load(path string) (*Catalog, error) {
	base, err := Parse(defaultsYAML)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	base.merge(&f)
	if len(f.RolePriority) > 0 {
		base.RolePriority = f.RolePriority
	}
	if err := base.validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func (c *Catalog) merge(f *file) {
	for _, r := range f.Resources {
		c.Resources[r.Key] = r
	}
	for _, s := range f.Strata {
		c.Strata[s.Key] = s
	}
	for _, b := range f.Buildings {
		c.Buildings[b.Key] = b
	}
	for _, u := range f.Units {
		if u.ObsoleteAfter <= 0 {
			u.ObsoleteAfter = 2
		}
		c.Units[u.Key] = u
	}
	for _, t := range f.Treaties {
		c.Treaties[t.Type] = t
	}
	c.tradable = c.tradable[:0]
	for k, r := range c.Resources {
		if r.Tradable {
			c.tradable = append(c.tradable, k)
		}
	}
	sort.Strings(c.tradable)
}

func (c *Catalog) validate() error {
	for k, r := range c.Resources {
		if r.BasePrice <= 0 {
			return fmt.Errorf("resource %s: base price must be positive", k)
		}
	}
	for k, b := range c.Buildings {
		for role := range b.Jobs {
			if _, ok := c.Strata[role]; !ok {
				return fmt.Errorf("building %s: unknown job role %s", k, role)
			}
		}
		for res := range b.Outputs {
			if _, ok := c.Resources[res]; !ok {
				return fmt.Errorf("building %s: unknown output %s", k, res)
			}
		}
		for res := range b.Inputs {
			if _, ok := c.Resources[res]; !ok {
				return fmt.Errorf("building %s: unknown input %s", k, res)
			}
		}
	}
	for _, role := range c.RolePriority {
		if _, ok := c.Strata[role]; !ok {
			return fmt.Errorf("role priority: unknown role %s", role)
		}
	}
	return nil
}

// BasePrice returns the base price of a resource, or 1 for unknown keys.
func (c *Catalog) BasePrice(key string) float64 {
	if r, ok := c.Resources[key]; ok {
		return r.BasePrice
	}
	return 1
}

// Tradable reports whether key names a tradable resource.
func (c *Catalog) Tradable(key string) bool {
	r, ok := c.Resources[key]
	return ok && r.Tradable
}

// TradableKeys returns the tradable resource keys in sorted order.
func (c *Catalog) TradableKeys() []string {
	return c.tradable
}

// Tier returns the social tier of a role (0 for unknown roles).
func (c *Catalog) Tier(role string) int {
	return c.Strata[role].Tier
}

// PriorityIndex returns the position of role in RolePriority, or len when absent.
func (c *Catalog) PriorityIndex(role string) int {
	for i, r := range c.RolePriority {
		if r == role {
			return i
		}
	}
	return len(c.RolePriority)
}

// StratumKeys returns all stratum keys sorted.
func (c *Catalog) StratumKeys() []string {
	keys := make([]string, 0, len(c.Strata))
	for k := range c.Strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildingKeys returns all building keys sorted.
func (c *Catalog) BuildingKeys() []string {
	keys := make([]string, 0, len(c.Buildings))
	for k := range c.Buildings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnitKeys returns all unit keys sorted.
func (c *Catalog) UnitKeys() []string {
	keys := make([]string, 0, len(c.Units))
	for k := range c.Units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Producers returns the keys of buildings that output resource, sorted.
func (c *Catalog) Producers(resource string) []string {
	var keys []string
	for k, b := range c.Buildings {
		if b.Outputs[resource] > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
