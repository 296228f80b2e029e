package broker

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Side defines the order/position direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ErrPositionNotFound is returned when the target position no longer exists
// on the terminal (it was closed or stopped out between decision and action).
// Retry wrappers must treat it as non-retryable.
var ErrPositionNotFound = errors.New("position no longer exists")

// Position is the canonical read snapshot of a broker-side position. Any
// external representation is normalized into this type at the boundary.
type Position struct {
	Ticket    int64
	Symbol    string
	Side      Side
	Volume    float64 // lots
	PriceOpen float64
	OpenTime  time.Time
}

// Tick is a single quote/trade update for a symbol.
type Tick struct {
	Bid    float64
	Ask    float64
	Last   float64 // last traded price; zero means a pure quote update
	Volume float64
	Spread float64 // in points
	Time   time.Time
}

// Mid returns the quote midpoint.
func (t *Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// AccountInfo holds the account-level figures used for drawdown estimation.
type AccountInfo struct {
	Balance float64
	Equity  float64
}

// Candle is one OHLC bar, consumed by the liquidity mapper.
type Candle struct {
	Open  float64
	High  float64
	Low   float64
	Close float64
	Time  time.Time
}

// SymbolSpec carries the instrument metadata the core needs for price and
// volume arithmetic.
type SymbolSpec struct {
	Symbol       string
	Point        float64 // smallest price increment
	MinLot       float64 // minimum tradable volume increment
	ContractSize float64
	Digits       int
}

// OrderRequest describes an order submission.
type OrderRequest struct {
	Symbol  string
	Side    Side
	Price   float64
	Volume  float64
	SL      float64
	TP      float64
	Comment string
}

// OrderResult is the confirmed outcome of a submission.
type OrderResult struct {
	Ticket int64
	Price  float64
	Volume float64
}

// Client is the order-execution / market-data gateway consumed by the core.
// Implementations perform blocking I/O; callers must not hold decision-state
// locks across these calls.
type Client interface {
	// GetPositions returns snapshots of all open positions across symbols.
	GetPositions() ([]Position, error)

	// GetTick returns the current tick for a symbol.
	GetTick(symbol string) (*Tick, error)

	// LastTick returns the most recent known tick without forcing a refresh.
	LastTick(symbol string) (*Tick, error)

	// IsTradeAllowed reports whether the terminal currently accepts orders.
	IsTradeAllowed() bool

	// ExecuteOrder submits a market order and returns the confirmed fill.
	ExecuteOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)

	// ClosePosition closes volume lots of the given position (partial close
	// when volume is below the position size).
	ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) error

	// GetAccountInfo returns balance and equity.
	GetAccountInfo() (*AccountInfo, error)

	// GetSymbolSpec returns instrument metadata from cache.
	GetSymbolSpec(symbol string) (SymbolSpec, bool)
}

// IsMetal reports whether the symbol is a gold-class instrument. Metals use
// wider distance floors and a 100x pip multiplier.
func IsMetal(symbol string) bool {
	u := strings.ToUpper(symbol)
	return strings.Contains(u, "XAU") || strings.Contains(u, "GOLD")
}

// PipMultiplier converts a raw price delta into pips for the symbol class.
func PipMultiplier(symbol string) float64 {
	u := strings.ToUpper(symbol)
	if IsMetal(symbol) || strings.Contains(u, "JPY") {
		return 100
	}
	return 10000
}

// MinDistanceFloor is the instrument-class floor for the hedge distance gate.
func MinDistanceFloor(symbol string) float64 {
	if IsMetal(symbol) {
		return 2.0
	}
	return 0.0020
}

// DefaultContractSize returns the conventional contract size for the class.
func DefaultContractSize(symbol string) float64 {
	if IsMetal(symbol) {
		return 100
	}
	return 100000
}
