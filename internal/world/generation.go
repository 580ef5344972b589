// Roster generation using layered simplex noise.
// Neighbouring nations get correlated resource leanings, the way adjacent
// regions share climate, and aggression varies smoothly across the roster.
package world

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/ledger"
)

// GenConfig holds roster generation parameters.
type GenConfig struct {
	Seed    int64 // Random seed (0 = random)
	Nations int   // AI nations to generate
	Epoch   int   // Starting epoch
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:    0,
		Nations: 8,
		Epoch:   0,
	}
}

// Generate creates a fresh game: the player realm with a starting economy and
// a roster of AI nations.
func Generate(cfg GenConfig, cat *catalog.Catalog) State {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	s := State{
		Seed:   seed,
		Day:    0,
		Epoch:  cfg.Epoch,
		Player: startingPlayer(cat),
		Books:  ledger.NewStats(),
	}
	s.Nations = GenerateRoster(seed, cfg.Nations, cfg.Epoch, cat)
	Normalize(&s, cat)
	return s
}

// GenerateRoster creates n AI nations deterministically from seed.
func GenerateRoster(seed int64, n, epoch int, cat *catalog.Catalog) []Nation {
	// Independent noise layers for economy and temperament.
	biasNoise := opensimplex.NewNormalized(seed)
	tempNoise := opensimplex.NewNormalized(seed + 1)
	sizeNoise := opensimplex.NewNormalized(seed + 2)
	rng := rand.New(rand.NewSource(seed + 400))

	names := generateNames(rng, n)
	resources := cat.TradableKeys()

	nations := make([]Nation, 0, n)
	for i := 0; i < n; i++ {
		// Nations sit on a ring; adjacent indices sample nearby noise.
		angle := 2 * math.Pi * float64(i) / float64(max(n, 1))
		x, y := math.Cos(angle)*3, math.Sin(angle)*3

		bias := make(map[string]float64, len(resources))
		for j, key := range resources {
			v := octaveNoise(biasNoise, x+float64(j)*1.7, y-float64(j)*0.9, 3, 0.6, 0.5)
			bias[key] = round2(0.5 + v*1.1) // 0.5–1.6
		}

		temper := octaveNoise(tempNoise, x, y, 2, 0.5, 0.5)
		size := octaveNoise(sizeNoise, x, y, 2, 0.4, 0.5)

		pop := 200 + int(size*1800)
		wealth := math.Round(600 + size*2400 + rng.Float64()*200)

		inventory := make(map[string]float64, len(resources))
		for _, key := range resources {
			inventory[key] = math.Round(500 * math.Pow(bias[key], 1.2))
		}

		nations = append(nations, Nation{
			ID:         fmt.Sprintf("n%02d", i+1),
			Name:       names[i],
			Population: pop,
			Wealth:     wealth,
			Budget:     wealth * 0.5,
			Epoch:      epoch,
			Aggression: round2(0.05 + temper*0.7),
			Inventory:  inventory,
			Army:       startingArmy(pop, temper),
			Traits:     EconomyTraits{ResourceBias: bias, GrowthBase: round2(0.001 + size*0.002)},
			Relation:   round2(35 + rng.Float64()*30),
			Relations:  make(map[string]float64),
			Wars:       make(WarMap),
		})
	}

	// Pairwise relations are symmetric and start around neutral.
	for i := range nations {
		for j := i + 1; j < len(nations); j++ {
			r := round2(30 + rng.Float64()*40)
			nations[i].Relations[nations[j].ID] = r
			nations[j].Relations[nations[i].ID] = r
		}
	}
	return nations
}

func startingArmy(pop int, temper float64) map[string]int {
	base := float64(pop) * (0.02 + temper*0.03)
	return map[string]int{
		"militia":  int(base * 0.5),
		"spearman": int(base * 0.3),
		"archer":   int(base * 0.2),
	}
}

func startingPlayer(cat *catalog.Catalog) Player {
	buildings := map[string]int{
		"farm":         40,
		"manor":        6,
		"lumber_camp":  8,
		"quarry":       4,
		"iron_mine":    3,
		"copper_mine":  2,
		"loom":         6,
		"brewery":      4,
		"smithy":       3,
		"workshop":     3,
		"temple":       3,
		"barracks":     2,
		"trading_post": 5,
		"town_hall":    2,
		"academy":      1,
		"house":        10,
	}

	strata := make(map[string]Stratum)
	keys := cat.StratumKeys()
	sort.Strings(keys)
	for _, key := range keys {
		count := 0
		for bk, n := range buildings {
			count += cat.Buildings[bk].Jobs[key] * n
		}
		if key == Unemployed {
			count = 40
		}
		def := cat.Strata[key]
		strata[key] = Stratum{
			Count:                 count,
			Wealth:                float64(count) * def.StartingWealth,
			Approval:              60,
			Satisfaction:          1,
			EssentialSatisfaction: 1,
		}
	}

	inventory := make(map[string]float64)
	for key := range cat.Resources {
		inventory[key] = 200
	}
	inventory["food"] = 1500

	return Player{
		Treasury:  5000,
		Inventory: inventory,
		Strata:    strata,
		Buildings: buildings,
		Wages:     make(map[string]float64),
		Tax: TaxPolicy{
			HeadTax:      make(map[string]float64),
			ResourceTax:  map[string]float64{"spice": 0.1, "furniture": 0.05},
			BusinessTax:  0.05,
			ImportTariff: make(map[string]float64),
			ExportTariff: make(map[string]float64),
		},
		Army:            map[string]int{"militia": 20, "spearman": 10, "archer": 8},
		Cooldowns:       make(map[string]int),
		Stability:       60,
		LaborEfficiency: 1,
	}
}

// octaveNoise samples multi-octave normalized noise in [0, 1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// generateNames produces procedural nation names by combining syllables.
func generateNames(rng *rand.Rand, count int) []string {
	prefixes := []string{
		"Ar", "Bel", "Cor", "Dra", "El", "Fen", "Gal", "Hal", "Ist",
		"Kar", "Lor", "Mar", "Nor", "Os", "Pel", "Quar", "Ros", "Sar",
		"Tor", "Ul", "Val", "Wes", "Yr", "Zan",
	}
	suffixes := []string{
		"avia", "eth", "gard", "heim", "ia", "ion", "istan", "mark",
		"mor", "ondor", "oria", "os", "rath", "ria", "thal", "ura",
	}

	used := make(map[string]bool)
	names := make([]string, 0, count)

	for len(names) < count {
		name := prefixes[rng.Intn(len(prefixes))] + suffixes[rng.Intn(len(suffixes))]
		if !used[name] {
			used[name] = true
			names = append(names, name)
		} else if len(used) >= len(prefixes)*len(suffixes) {
			names = append(names, fmt.Sprintf("%s %d", name, len(names)+1))
		}
	}

	return names
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
