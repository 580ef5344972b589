package diplomacy

import (
	"fmt"
	"math"

	"github.com/talgya/statecraft/internal/events"
	"github.com/talgya/statecraft/internal/ledger"
	"github.com/talgya/statecraft/internal/mathx"
	"github.com/talgya/statecraft/internal/world"
)

// PaymentMode selects the coefficient table for a settlement.
type PaymentMode int

const (
	// Demanding is the winner naming its price.
	Demanding PaymentMode = iota
	// Offering is the loser volunteering a tribute.
	Offering
)

type coefficients struct{ high, standard, low float64 }

var paymentCoefficients = map[PaymentMode]coefficients{
	Demanding: {high: 120, standard: 80, low: 50},
	Offering:  {high: 60, standard: 40, low: 25},
}

// PaymentHardCap bounds any single settlement.
const PaymentHardCap = 200_000_000

// Installment terms.
const (
	InstallmentMultiplier = 1.2
	InstallmentDays       = 365
)

// PeaceTiers are the three settlement sizes offered at the table.
type PeaceTiers struct {
	High     float64 `json:"high"`
	Standard float64 `json:"standard"`
	Low      float64 `json:"low"`
}

// PeacePayment prices a war settlement from the winner's score, the
// loser's losses, the war's length and the paying side's wealth. Each tier
// has a minimum and a wealth floor; none may exceed half the payer's
// wealth (at least 50k headroom) or the hard cap.
func PeacePayment(warScore float64, losses, duration int, wealth float64, mode PaymentMode) PeaceTiers {
	abs := math.Abs(mathx.Finite(warScore, 0))
	l := float64(max(losses, 0))
	d := float64(max(duration, 0))
	w := mathx.NonNeg(wealth)
	c, ok := paymentCoefficients[mode]
	if !ok {
		c = paymentCoefficients[Demanding]
	}

	rawHigh := math.Ceil(abs*c.high + l*80 + d*25)
	rawStd := math.Ceil(abs*c.standard + l*50 + d*18)
	rawLow := math.Ceil(abs*c.low + l*35 + d*12)

	limit := math.Min(PaymentHardCap, math.Max(50_000, w*0.5))
	tier := func(raw, share, minimum float64) float64 {
		floor := math.Min(limit, math.Floor(w*share))
		return math.Max(minimum, math.Max(floor, math.Min(limit, raw)))
	}
	return PeaceTiers{
		High:     tier(rawHigh, 0.18, 600),
		Standard: tier(rawStd, 0.12, 400),
		Low:      tier(rawLow, 0.06, 200),
	}
}

// AIPeaceTribute is what a losing AI offers to end a war.
func AIPeaceTribute(warScore float64, losses, duration int, aiWealth float64) float64 {
	return PeacePayment(warScore, losses, duration, aiWealth, Offering).Standard
}

// AISurrenderDemand is what a winning AI demands from the player.
func AISurrenderDemand(aiScore float64, duration int, playerWealth float64) float64 {
	return PeacePayment(aiScore, 0, duration, playerWealth, Offering).Standard
}

// Installments splits a settlement into daily payments.
type Installments struct {
	Total float64 `json:"total"`
	Daily float64 `json:"daily"`
	Days  int     `json:"days"`
}

// InstallmentPlan spreads amount over a year at a 20% premium.
func InstallmentPlan(amount float64) Installments {
	total := math.Ceil(mathx.NonNeg(amount) * InstallmentMultiplier)
	return Installments{
		Total: total,
		Daily: math.Ceil(total / InstallmentDays),
		Days:  InstallmentDays,
	}
}

// PayInstallments settles one day of every peace installment. A payment
// the treasury cannot cover is skipped and sours relations; installments
// owed by an annexed nation lapse.
func PayInstallments(s *world.State, l *ledger.Ledger) []events.Event {
	var evs []events.Event
	kept := s.Installments[:0]
	for _, in := range s.Installments {
		n := s.ActiveNation(in.Partner)
		if n == nil || in.DaysLeft <= 0 {
			continue
		}
		meta := ledger.Meta{"partner": in.Partner, "days_left": in.DaysLeft}
		if in.PlayerPays {
			if l.Pay(ledger.Treasury, ledger.Void, in.Daily, ledger.CategoryState, ledger.Reparations, meta) {
				n.Wealth += in.Daily
			} else {
				AdjustRelation(n, -1)
				evs = append(evs, events.Notice{
					Day:     s.Day,
					Message: fmt.Sprintf("treasury empty, missed installment to %s", in.Partner),
				})
			}
		} else {
			paid := math.Min(in.Daily, n.Wealth)
			n.Wealth -= paid
			l.Transfer(ledger.Void, ledger.Treasury, paid, ledger.CategoryIncome, ledger.Tribute, meta)
		}
		in.DaysLeft--
		if in.DaysLeft > 0 {
			kept = append(kept, in)
		}
	}
	s.Installments = kept
	return evs
}
