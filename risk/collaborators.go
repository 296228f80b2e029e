// risk/collaborators.go
package risk

import (
	"zone_recovery_go/broker"
	"zone_recovery_go/microstructure"
)

// Prediction is the output of the external price-direction model.
type Prediction struct {
	DirectionClass int // -1 sell, 0 neutral, 1 buy
	Confidence     float64
}

// Predictor is the external price-direction model. Implementations may be
// remote; errors are tolerated and degrade to a neutral prediction.
type Predictor interface {
	Predict(symbol string, snap *microstructure.Snapshot) (Prediction, error)
}

// MarketSnapshot is the market context handed to the sizing collaborator.
type MarketSnapshot struct {
	Symbol          string
	CurrentPrice    float64
	ATR             float64
	RSI             float64
	TrendStrength   float64
	VolatilityRatio float64
	Micro           *microstructure.Snapshot
}

// SizingDecision is the sizing collaborator's verdict.
type SizingDecision struct {
	ShouldHedge bool
	HedgeSize   float64 // total target volume on the hedging side, in lots
}

// HedgeSizer decides whether and how large to hedge. The manager computes
// the incremental lot from the returned target size.
type HedgeSizer interface {
	AnalyzeHedgeDecision(positions []broker.Position, targetPrice float64,
		market *MarketSnapshot, pred Prediction, drawdownPct float64) (SizingDecision, error)
}

// EntryVeto is consulted once the trigger side is known, before sizing.
// The liquidity wall check plugs in here.
type EntryVeto interface {
	ShouldAvoidEntry(symbol string, side broker.Side, price float64) (bool, string)
}

// Coordinator is the cross-process hedge coordinator.
type Coordinator interface {
	CanHedgeBucket(bucketID string) (bool, string)
	RecordHedge(bucketID string, side broker.Side, volume, price float64)
}

// PlanStore is the injected (bucket id, hedge level) -> trigger price lookup
// plus the bucket's hedge-level counter and entry ATR. Absence of a stored
// trigger means "use the computed boundary".
type PlanStore interface {
	HedgeLevel(bucketID string) int
	SetHedgeLevel(bucketID string, level int)
	TriggerPrice(bucketID string, level int) (float64, bool)
	EntryATR(bucketID string) (float64, bool)
}
