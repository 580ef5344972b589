// Package ledger is the single transaction primitive for moving silver
// between the treasury, population strata and the void (external sources
// and sinks such as foreign buyers or destroyed production).
//
// Every transfer runs debit, then credit, then statistics. A non-void source
// can never go below zero: the moved amount is capped at its balance, so the
// credit always equals the debit. Only the void creates or destroys value.
package ledger

import (
	"math"
)

type kind uint8

const (
	kindVoid kind = iota
	kindTreasury
	kindStratum
)

// Entity identifies one side of a transfer.
type Entity struct {
	kind kind
	key  string
}

var (
	// Treasury is the state purse.
	Treasury = Entity{kind: kindTreasury}
	// Void is the outside world.
	Void = Entity{kind: kindVoid}
)

// Stratum returns the entity for a population stratum.
func Stratum(key string) Entity {
	if key == "" {
		return Void
	}
	return Entity{kind: kindStratum, key: key}
}

// IsVoid reports whether e is the void.
func (e Entity) IsVoid() bool { return e.kind == kindVoid }

// IsTreasury reports whether e is the treasury.
func (e Entity) IsTreasury() bool { return e.kind == kindTreasury }

// Key returns the stratum key, "state" for the treasury, or "void".
func (e Entity) Key() string {
	switch e.kind {
	case kindTreasury:
		return "state"
	case kindStratum:
		return e.key
	}
	return "void"
}

// StratumKey returns the stratum key and whether e is a stratum.
func (e Entity) StratumKey() (string, bool) {
	return e.key, e.kind == kindStratum
}

// Accounts is the balance store a Ledger mutates.
type Accounts interface {
	// Balance returns the balance of e and whether e exists.
	Balance(e Entity) (float64, bool)
	// SetBalance overwrites the balance of an existing entity.
	SetBalance(e Entity, v float64)
}

// Income subcategories.
const (
	Wage               = "wage"
	Salary             = "salary"
	MilitaryPay        = "militaryPay"
	OwnerRevenue       = "ownerRevenue"
	Subsidy            = "subsidy"
	Corruption         = "corruption"
	TradeImportRevenue = "tradeImportRevenue"
	LayoffTransfer     = "layoffTransfer"
	Tribute            = "tribute"
	Loot               = "loot"
)

// Expense subcategories.
const (
	HeadTax             = "headTax"
	BusinessTax         = "businessTax"
	TransactionTax      = "transactionTax"
	Tariffs             = "tariffs"
	ProductionCosts     = "productionCosts"
	Wages               = "wages"
	EssentialNeeds      = "essentialNeeds"
	LuxuryNeeds         = "luxuryNeeds"
	Decay               = "decay"
	Maintenance         = "maintenance"
	TradeExport         = "tradeExport"
	TradeExportPurchase = "tradeExportPurchase"
	CapitalFlight       = "capitalFlight"
	BuildingCost        = "buildingCost"
	Investment          = "investment"
	Reparations         = "reparations"
	WarLosses           = "warLosses"
	Gift                = "gift"
	Provocation         = "provocation"
)

// Broad categories.
const (
	CategoryIncome  = "income"
	CategoryExpense = "expense"
	CategoryTax     = "tax"
	CategoryTrade   = "trade"
	CategoryState   = "state"
)

// Meta carries optional transfer annotations (resource, quantity, price, partner).
type Meta map[string]any

// Ledger applies transfers against Accounts and records statistics.
type Ledger struct {
	acc   Accounts
	stats *Stats
	day   int
}

// New creates a Ledger. stats may be nil to skip bookkeeping.
func New(acc Accounts, stats *Stats, day int) *Ledger {
	return &Ledger{acc: acc, stats: stats, day: day}
}

// Stats returns the statistics the ledger records into.
func (l *Ledger) Stats() *Stats { return l.stats }

// Balance returns the balance of e (0 for void or unknown entities).
func (l *Ledger) Balance(e Entity) float64 {
	if e.IsVoid() {
		return 0
	}
	b, ok := l.acc.Balance(e)
	if !ok {
		return 0
	}
	return b
}

// Transfer moves amount from one entity to another and returns the amount
// actually moved. Non-positive or non-finite amounts are a no-op. Unknown
// stratum keys are treated as void.
func (l *Ledger) Transfer(from, to Entity, amount float64, category, sub string, meta Meta) float64 {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return 0
	}
	from = l.resolve(from)
	to = l.resolve(to)
	if from == to {
		return 0
	}

	// Debit.
	if !from.IsVoid() {
		bal, _ := l.acc.Balance(from)
		if amount > bal {
			amount = bal
		}
		if amount <= 0 {
			return 0
		}
		l.acc.SetBalance(from, bal-amount)
	}

	// Credit.
	if !to.IsVoid() {
		bal, _ := l.acc.Balance(to)
		l.acc.SetBalance(to, bal+amount)
	}

	// Statistics.
	if l.stats != nil {
		l.stats.record(l, from, to, amount, category, sub, meta)
	}
	return amount
}

// Pay is Transfer for callers that need the full amount or nothing.
// It reports false without moving anything when the source cannot cover it.
func (l *Ledger) Pay(from, to Entity, amount float64, category, sub string, meta Meta) bool {
	if !(amount > 0) {
		return true
	}
	if !from.IsVoid() && l.Balance(l.resolve(from)) < amount {
		return false
	}
	l.Transfer(from, to, amount, category, sub, meta)
	return true
}

func (l *Ledger) resolve(e Entity) Entity {
	if e.IsVoid() {
		return e
	}
	if _, ok := l.acc.Balance(e); !ok {
		return Void
	}
	return e
}
