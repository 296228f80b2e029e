// profit/accounting.go
package profit

import (
	"math"
	"sync"

	"github.com/shopspring/decimal"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
	"zone_recovery_go/logs"
	"zone_recovery_go/utils"
)

// PositionState is the per-symbol aggregate the accountant maintains: signed
// net exposure in lots, its weighted average cost, and money P&L.
type PositionState struct {
	TotalLots        float64         // negative for net short
	AverageCost      float64         // weighted average cost of the open exposure
	RealizedProfit   decimal.Decimal // cumulative money P&L from closing fills
	UnrealizedProfit decimal.Decimal // floating P&L at the last marked price
}

// Accountant tracks fills per symbol with the weighted average cost method
// and routes a tithe slice of every profitable realization into the bad bank.
type Accountant struct {
	mu        sync.Mutex
	titheRate decimal.Decimal
	bank      *badbank.Bank

	states      map[string]*PositionState
	totalTithed decimal.Decimal
}

// NewAccountant creates the accounting core. A nil bank or zero rate disables
// tithing; everything else keeps working.
func NewAccountant(titheRate float64, bank *badbank.Bank) *Accountant {
	return &Accountant{
		titheRate: decimal.NewFromFloat(titheRate),
		bank:      bank,
		states:    make(map[string]*PositionState),
	}
}

func (a *Accountant) state(symbol string) *PositionState {
	st, ok := a.states[symbol]
	if !ok {
		st = &PositionState{}
		a.states[symbol] = st
	}
	return st
}

// RecordFill applies one fill to the symbol's aggregate. A fill against the
// current exposure direction realizes P&L for the overlapping lots; the
// remainder (if any) flips the position and re-anchors the average cost.
// Returns the realized money P&L of this fill.
func (a *Accountant) RecordFill(symbol string, side broker.Side, price, lots float64) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(symbol)
	isBuy := side == broker.Buy
	currentLots := st.TotalLots
	avgCost := st.AverageCost
	contractSize := broker.DefaultContractSize(symbol)

	realized := decimal.Zero
	isClosing := (currentLots > 0 && !isBuy) || (currentLots < 0 && isBuy)
	if isClosing {
		lotsToClose := math.Min(math.Abs(currentLots), lots)
		var pnl float64
		if isBuy {
			pnl = (avgCost - price) * lotsToClose * contractSize
		} else {
			pnl = (price - avgCost) * lotsToClose * contractSize
		}
		realized = decimal.NewFromFloat(pnl)
		st.RealizedProfit = st.RealizedProfit.Add(realized)
	}

	signedLots := lots
	if !isBuy {
		signedLots = -lots
	}

	if (currentLots >= 0 && isBuy) || (currentLots <= 0 && !isBuy) {
		// Same direction: plain position increase.
		oldValue := avgCost * math.Abs(currentLots)
		newValue := oldValue + price*lots
		st.TotalLots += signedLots
		if !utils.FloatEquals(st.TotalLots, 0) {
			st.AverageCost = newValue / math.Abs(st.TotalLots)
		}
	} else {
		st.TotalLots += signedLots
		if currentLots*st.TotalLots < 0 {
			// Direction flipped: the surviving exposure was opened here.
			st.AverageCost = price
		}
	}

	// Lot arithmetic leaves binary dust; a flat book must read exactly flat.
	if utils.FloatEquals(st.TotalLots, 0) {
		st.TotalLots = 0
		st.AverageCost = 0
	}

	a.titheLocked(symbol, realized)
	return realized
}

// titheLocked routes the tithe slice of a profitable realization to the bad
// bank. Caller holds mu.
func (a *Accountant) titheLocked(symbol string, realized decimal.Decimal) {
	if a.bank == nil || a.titheRate.LessThanOrEqual(decimal.Zero) {
		return
	}
	if realized.LessThanOrEqual(decimal.Zero) {
		return
	}
	tithe := realized.Mul(a.titheRate).Round(2)
	if tithe.LessThanOrEqual(decimal.Zero) {
		return
	}
	accepted := a.bank.DepositTithe(tithe, symbol)
	a.totalTithed = a.totalTithed.Add(accepted)
	logs.Debugf("[Profit] Tithed $%s of $%s realized on %s",
		accepted.StringFixed(2), realized.StringFixed(2), symbol)
}

// MarkPrice refreshes the symbol's floating P&L at the given price.
func (a *Accountant) MarkPrice(symbol string, currentPrice float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(symbol)
	if utils.FloatEquals(st.TotalLots, 0) {
		st.UnrealizedProfit = decimal.Zero
		return
	}
	contractSize := broker.DefaultContractSize(symbol)
	var floating float64
	if st.TotalLots > 0 {
		floating = (currentPrice - st.AverageCost) * st.TotalLots * contractSize
	} else {
		floating = (st.AverageCost - currentPrice) * math.Abs(st.TotalLots) * contractSize
	}
	st.UnrealizedProfit = decimal.NewFromFloat(floating)
}

// State returns a copy of the symbol's aggregate.
func (a *Accountant) State(symbol string) PositionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.state(symbol)
}

// TotalTithed reports the lifetime amount routed to the bad bank.
func (a *Accountant) TotalTithed() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalTithed
}
