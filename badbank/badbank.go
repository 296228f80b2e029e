// badbank/badbank.go
//
// The toxic-asset ledger. Frozen position buckets are handed over here and
// paid off chunk by chunk out of a tithe pool funded from profitable closes.
// All money amounts are decimal to keep the pool audit-exact.
package badbank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"zone_recovery_go/broker"
	"zone_recovery_go/logs"
	"zone_recovery_go/risk"
	"zone_recovery_go/utils"
)

// ToxicPosition is the ledger's own snapshot of a frozen position. It is
// decoupled from the live broker book on purpose: the bank tracks what it
// still owes, the broker tracks what actually exists.
type ToxicPosition struct {
	Ticket    int64
	Symbol    string
	Side      broker.Side
	Volume    float64
	PriceOpen float64
}

type toxicAsset struct {
	bucketID      string
	positions     []*ToxicPosition
	frozenAt      time.Time
	initialVolume float64
}

// Stats is the observability read of the ledger.
type Stats struct {
	AssetCount     int     `json:"assets_count"`
	TithePool      float64 `json:"tithe_pool"`
	TotalCollected float64 `json:"total_collected"`
	TotalRepaid    float64 `json:"total_debt_repaid"`
}

// Bank owns the frozen buckets and the tithe pool.
type Bank struct {
	mu             sync.Mutex
	assets         map[string]*toxicAsset
	titheBalance   decimal.Decimal
	totalCollected decimal.Decimal
	totalRepaid    decimal.Decimal

	retryCfg risk.RetryConfig
}

func NewBank() *Bank {
	return &Bank{
		assets:   make(map[string]*toxicAsset),
		retryCfg: risk.DefaultRetryConfig(),
	}
}

// RegisterToxicAsset takes ownership of a frozen bucket. Re-registering an
// already-held bucket is a no-op.
func (b *Bank) RegisterToxicAsset(bucketID string, positions []broker.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.assets[bucketID]; ok {
		logs.Warnf("[BadBank] Asset %s is already registered", bucketID)
		return
	}

	asset := &toxicAsset{
		bucketID: bucketID,
		frozenAt: time.Now(),
	}
	for _, p := range positions {
		asset.positions = append(asset.positions, &ToxicPosition{
			Ticket:    p.Ticket,
			Symbol:    p.Symbol,
			Side:      p.Side,
			Volume:    p.Volume,
			PriceOpen: p.PriceOpen,
		})
		asset.initialVolume += p.Volume
	}
	b.assets[bucketID] = asset

	logs.Warnf("[BadBank] Acquired toxic asset %s | Vol: %.2f lots", bucketID, asset.initialVolume)
}

// DepositTithe adds a slice of realized profit to the pool and returns the
// accepted amount. Non-positive deposits are rejected wholesale.
func (b *Bank) DepositTithe(amount decimal.Decimal, sourceSymbol string) decimal.Decimal {
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.titheBalance = b.titheBalance.Add(amount)
	b.totalCollected = b.totalCollected.Add(amount)

	logs.Infof("[BadBank] Deposit received: $%s from %s | Balance: $%s",
		amount.StringFixed(2), sourceSymbol, b.titheBalance.StringFixed(2))
	return amount
}

// IsToxic reports whether a ticket belongs to a frozen bucket.
func (b *Bank) IsToxic(ticket int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, asset := range b.assets {
		for _, p := range asset.positions {
			if p.Ticket == ticket {
				return true
			}
		}
	}
	return false
}

// AttemptDebtReduction tries to close one minimum-size chunk of toxic debt.
// A chunk that happens to be in profit closes for free; otherwise the pool
// must fully cover the realized loss, keeping the balance non-negative at all
// times. At most one nibble is executed per call.
func (b *Bank) AttemptDebtReduction(ctx context.Context, client broker.Client) bool {
	target, nibble, required := b.pickNibble(client)
	if target == nil {
		return false
	}

	comment := "CHRONOS_NIBBLE"
	err := risk.RetryWithBackoff("debt nibble close", b.retryCfg, func() error {
		return client.ClosePosition(ctx, target.Ticket, nibble, comment)
	})
	if err != nil {
		if errors.Is(err, broker.ErrPositionNotFound) {
			// The position vanished out from under us; write off what we
			// were still tracking.
			b.removePosition(target.Ticket)
			return false
		}
		logs.Warnf("[BadBank] Nibble execution failed for #%d: %v", target.Ticket, err)
		return false
	}

	b.commitNibble(target.Ticket, nibble, required)
	return true
}

// pickNibble selects the next position to shrink and prices the chunk. The
// broker reads happen with the ledger unlocked.
func (b *Bank) pickNibble(client broker.Client) (target *ToxicPosition, nibble float64, required decimal.Decimal) {
	b.mu.Lock()
	candidates := make([]*ToxicPosition, 0)
	for _, asset := range b.assets {
		for _, p := range asset.positions {
			if p.Volume > 0 {
				candidates = append(candidates, p)
				break
			}
		}
	}
	balance := b.titheBalance
	b.mu.Unlock()

	for _, p := range candidates {
		nibble = 0.01
		if spec, ok := client.GetSymbolSpec(p.Symbol); ok && spec.MinLot > 0 {
			nibble = spec.MinLot
		}
		if p.Volume < nibble {
			continue
		}

		tick, err := client.LastTick(p.Symbol)
		if err != nil || tick == nil {
			continue
		}

		closePrice := tick.Bid
		if p.Side == broker.Sell {
			closePrice = tick.Ask
		}

		contractSize := broker.DefaultContractSize(p.Symbol)
		if spec, ok := client.GetSymbolSpec(p.Symbol); ok && spec.ContractSize > 0 {
			contractSize = spec.ContractSize
		}

		diff := closePrice - p.PriceOpen
		if p.Side == broker.Sell {
			diff = p.PriceOpen - closePrice
		}
		estimated := diff * nibble * contractSize

		if estimated >= 0 {
			logs.Infof("[BadBank] Found profitable toxic chunk #%d, closing free of charge", p.Ticket)
			return p, nibble, decimal.Zero
		}

		required = decimal.NewFromFloat(math.Abs(estimated))
		if balance.GreaterThanOrEqual(required) {
			logs.Infof("[BadBank] Nibbling %.2f lots from #%d. Cost: $%s", nibble, p.Ticket, required.StringFixed(2))
			return p, nibble, required
		}
		// Pool cannot cover this one; wait for more tithes.
	}
	return nil, 0, decimal.Zero
}

// commitNibble applies a successful partial close to the ledger.
func (b *Bank) commitNibble(ticket int64, nibble float64, required decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.titheBalance = b.titheBalance.Sub(required)
	b.totalRepaid = b.totalRepaid.Add(required)

	for bucketID, asset := range b.assets {
		for i, p := range asset.positions {
			if p.Ticket != ticket {
				continue
			}
			p.Volume = utils.RoundToPrecision(p.Volume-nibble, 2)
			if p.Volume < nibble {
				asset.positions = append(asset.positions[:i], asset.positions[i+1:]...)
			}
			if len(asset.positions) == 0 {
				logs.Warnf("[BadBank] Toxic asset %s fully liquidated", bucketID)
				delete(b.assets, bucketID)
			}
			logs.Infof("[BadBank] Nibble successful. Remaining tithe: $%s", b.titheBalance.StringFixed(2))
			return
		}
	}
}

func (b *Bank) removePosition(ticket int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bucketID, asset := range b.assets {
		for i, p := range asset.positions {
			if p.Ticket != ticket {
				continue
			}
			asset.positions = append(asset.positions[:i], asset.positions[i+1:]...)
			if len(asset.positions) == 0 {
				delete(b.assets, bucketID)
			}
			return
		}
	}
}

// Stats returns the ledger counters.
func (b *Bank) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		AssetCount:     len(b.assets),
		TithePool:      b.titheBalance.InexactFloat64(),
		TotalCollected: b.totalCollected.InexactFloat64(),
		TotalRepaid:    b.totalRepaid.InexactFloat64(),
	}
}

// StatusText renders the human-readable summary for heartbeat logs.
func (b *Bank) StatusText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("Bad Bank Status:\n  Assets: %d\n  Cash Ratio: $%s available\n  Lifetime Collection: $%s",
		len(b.assets), b.titheBalance.StringFixed(2), b.totalCollected.StringFixed(2))
}
