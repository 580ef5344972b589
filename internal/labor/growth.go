package labor

import (
	"math"

	"github.com/talgya/statecraft/internal/catalog"
	"github.com/talgya/statecraft/internal/entropy"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// Growth tunables.
const (
	IntrinsicGrowth = 0.03
	FoodPerCapita   = 0.5
	WealthBaseline  = 10.0
)

// GrowthInput is what the player's population growth depends on.
type GrowthInput struct {
	FoodProduction float64
	FoodStock      float64
	AtWar          bool
}

// CarryingCapacity is the sustainable population given food and housing.
func CarryingCapacity(cat *catalog.Catalog, p *world.Player, in GrowthInput) int {
	food := (in.FoodProduction + in.FoodStock*0.1) / FoodPerCapita
	housing := float64(Housing(cat, p.Buildings))
	return max(10, int(math.Floor(math.Min(food*1.2, housing*1.5))))
}

// TargetPopulation returns next tick's total population from a logistic
// model over carrying capacity, scaled by food, wealth, approval and war.
func TargetPopulation(cat *catalog.Catalog, p *world.Player, in GrowthInput, rng entropy.Source) int {
	pop := p.TotalPopulation()
	if pop <= 0 {
		return 0
	}
	k := CarryingCapacity(cat, p, in)
	ratio := float64(pop) / float64(k)
	logistic := math.Max(0, 1-ratio)
	over := 1.0
	if ratio > 1 {
		over = math.Exp(-(ratio - 1) * 2)
	}

	wealth, approval := 0.0, 0.0
	for _, key := range sortedKeys(p.Strata) {
		st := p.Strata[key]
		wealth += st.Wealth
		approval += st.Approval * float64(st.Count)
	}
	factor := resourceFactor(
		(in.FoodStock+in.FoodProduction)/(float64(pop)*FoodPerCapita),
		wealth/float64(pop),
		approval/float64(pop),
		in.AtWar,
	)

	change := float64(pop) * IntrinsicGrowth * logistic * factor * over
	next := math.Floor(float64(pop) + change*entropy.Range(rng, 0.9, 1.1))
	return max(1, int(mathx.Finite(next, float64(pop))))
}

func resourceFactor(foodRatio, wealthPerCapita, approval float64, atWar bool) float64 {
	var food float64
	switch {
	case foodRatio >= 1.5:
		food = 1.3
	case foodRatio >= 1:
		food = 1 + (foodRatio-1)*0.6
	case foodRatio >= 0.7:
		food = 0.5 + foodRatio*0.5
	default:
		food = math.Max(0.2, foodRatio)
	}
	wealth := 0.7 + math.Min(3, wealthPerCapita/WealthBaseline)*0.3
	appr := mathx.Clamp(approval/50, 0.5, 1.5)
	war := 1.0
	if atWar {
		war = 0.7
	}
	return food * wealth * appr * war
}

// GrowNation advances an AI nation's population one day. Capacity scales
// with its food stock and wealth; wars slow growth.
func GrowNation(n *world.Nation, rng entropy.Source) {
	if n.Annexed || n.Population <= 0 {
		return
	}
	k := math.Max(50, n.Inventory["food"]/FoodPerCapita*1.2+n.Wealth*0.3)
	ratio := float64(n.Population) / k
	rate := n.Traits.GrowthBase
	if rate <= 0 {
		rate = 0.002
	}
	rate *= 1 - ratio
	if n.ActiveWars() > 0 {
		rate *= 0.7
	}
	rate *= 1 - n.Unrest*0.5
	change := float64(n.Population) * rate * entropy.Range(rng, 0.9, 1.1)
	n.Population = max(1, n.Population+int(math.Round(change)))
}
