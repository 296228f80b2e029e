// risk/state.go
package risk

import (
	"sync"
	"time"
)

// hedgeState is the per-symbol mutable decision state. Every field is guarded
// by mu; created lazily on first reference, reset back to defaults but never
// destroyed during a run.
type hedgeState struct {
	mu sync.Mutex

	lastHedgeTime      time.Time
	activeHedges       int
	zoneWidthPrice     float64
	tpWidthPrice       float64
	highVolMode        bool
	volatilityScale    float64
	lastVolScaleUpdate time.Time
}

func newHedgeState() *hedgeState {
	return &hedgeState{volatilityScale: 1.0}
}

// resetLocked restores defaults. Caller holds mu.
func (s *hedgeState) resetLocked() {
	s.lastHedgeTime = time.Time{}
	s.activeHedges = 0
	s.zoneWidthPrice = 0
	s.tpWidthPrice = 0
	s.highVolMode = false
	s.volatilityScale = 1.0
	s.lastVolScaleUpdate = time.Time{}
}

// Status is the observability read of one symbol's risk state.
type Status struct {
	Symbol             string  `json:"symbol"`
	ActiveHedges       int     `json:"active_hedges"`
	LastHedgeTime      string  `json:"last_hedge_time"`
	SecondsSinceHedge  float64 `json:"time_since_last_hedge"`
	ZoneWidthPrice     float64 `json:"zone_width"`
	TakeProfitWidth    float64 `json:"tp_width"`
	HighVolatilityMode bool    `json:"high_vol_mode"`
	VolatilityScale    float64 `json:"volatility_scale"`
}
