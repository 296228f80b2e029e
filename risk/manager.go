// risk/manager.go
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"zone_recovery_go/broker"
	"zone_recovery_go/config"
	"zone_recovery_go/logs"
	"zone_recovery_go/microstructure"
	"zone_recovery_go/utils"
)

// Adaptive scheduling constants. The volatility baseline is the fixed ATR
// reference every ratio is computed against.
const (
	volBaseline     = 2.0
	volRatioLow     = 0.5
	volRatioHigh    = 2.0
	volRatioExtreme = 3.0

	cooldownMinSeconds  = 5.0
	cooldownHighSeconds = 15.0
	cooldownMaxSeconds  = 90.0

	adaptiveZoneMaxPips = 100.0

	spreadHistoryCap    = 50
	maxSpreadMultiplier = 2.5

	// Hedge-veto operating point. Deliberately different from the 0.4
	// toxic label the analyzer puts on its snapshots.
	vpinVetoThreshold      = 0.6
	reynoldsWidenThreshold = 2000.0

	rsiOversold   = 30.0
	rsiOverbought = 70.0

	highVolEnterRatio = 2.5
	highVolExitRatio  = 2.0

	pendingWindow = 10 * time.Second

	// Server-clock skew beyond this is treated as a timezone offset rather
	// than staleness.
	clockSkewFloorSeconds = 600.0
	offsetRecalcInterval  = time.Hour
)

// EvaluationInput carries one zone-recovery evaluation request.
type EvaluationInput struct {
	Symbol            string
	Positions         []broker.Position
	Tick              *broker.Tick
	Point             float64
	ATR               float64
	VolatilityRatio   float64
	RSI               *float64 // nil when the oscillator is unavailable
	TrendStrength     float64
	StrictEntry       bool
	MaxHedgesOverride int // 0 means no override
	Micro             *microstructure.Snapshot
}

// Collaborators groups the external decision modules the manager consumes.
// OnFill fires after every confirmed execution so downstream accounting sees
// the fill; it runs on the evaluation goroutine and must not block.
type Collaborators struct {
	Predictor   Predictor
	Sizer       HedgeSizer
	Coordinator Coordinator
	Plans       PlanStore
	EntryVeto   EntryVeto
	OnFill      func(symbol string, side broker.Side, price, lots float64)
}

// Manager is the zone-recovery decision core: per-symbol state, the ordered
// admission gate, adaptive zone/cooldown scheduling, trigger evaluation and
// order submission.
type Manager struct {
	cfg    *config.ZoneConfig
	env    *config.EnvConfig
	client broker.Client
	collab Collaborators

	statesMu sync.Mutex
	states   map[string]*hedgeState

	pendingMu sync.Mutex
	pending   map[string]time.Time

	spreadMu         sync.Mutex
	spreadHistory    []float64
	lastSpreadUpdate time.Time

	offsetMu       sync.Mutex
	timeOffset     *float64
	lastOffsetCalc time.Time

	retryCfg RetryConfig
}

// NewManager creates a risk manager bound to one broker client.
func NewManager(cfg *config.ZoneConfig, env *config.EnvConfig, client broker.Client, collab Collaborators) *Manager {
	m := &Manager{
		cfg:      cfg,
		env:      env,
		client:   client,
		collab:   collab,
		states:   make(map[string]*hedgeState),
		pending:  make(map[string]time.Time),
		retryCfg: DefaultRetryConfig(),
	}
	logs.Infof("RiskManager initialized with zone: %.1fpips, TP: %.1fpips", cfg.ZonePips, cfg.TPPips)
	return m
}

func (m *Manager) getHedgeState(symbol string) *hedgeState {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	st, ok := m.states[symbol]
	if !ok {
		st = newHedgeState()
		m.states[symbol] = st
	}
	return st
}

// isSpreadHealthy compares the current spread against the rolling average of
// up to the last 50 one-per-second samples. The very first sample seeds the
// average and always passes.
func (m *Manager) isSpreadHealthy(currentSpread float64) bool {
	m.spreadMu.Lock()
	defer m.spreadMu.Unlock()

	now := time.Now()
	if len(m.spreadHistory) == 0 {
		m.spreadHistory = append(m.spreadHistory, currentSpread)
		m.lastSpreadUpdate = now
		return true
	}

	var sum float64
	for _, s := range m.spreadHistory {
		sum += s
	}
	avg := sum / float64(len(m.spreadHistory))

	// Record at most one sample per second so the average tracks real time.
	if now.Sub(m.lastSpreadUpdate) > time.Second {
		m.spreadHistory = append(m.spreadHistory, currentSpread)
		if len(m.spreadHistory) > spreadHistoryCap {
			m.spreadHistory = m.spreadHistory[1:]
		}
		m.lastSpreadUpdate = now
	}

	if currentSpread > avg*maxSpreadMultiplier {
		logs.Warnf("[Spread Veto] Anomaly: %.2f > %.2f", currentSpread, avg*maxSpreadMultiplier)
		return false
	}
	return true
}

// adaptiveFactors derives the hedge cooldown and the zone multiplier from the
// ratio of current ATR to the fixed baseline.
func (m *Manager) adaptiveFactors(atrVal float64) (cooldownSeconds, zoneMult float64) {
	if atrVal <= 0 {
		return m.cfg.HedgeCooldownSeconds, 1.0
	}
	ratio := atrVal / volBaseline
	switch {
	case ratio < volRatioLow:
		cooldownSeconds = cooldownMinSeconds
	case ratio > volRatioExtreme:
		cooldownSeconds = cooldownMaxSeconds
	case ratio > volRatioHigh:
		cooldownSeconds = cooldownHighSeconds
	default:
		cooldownSeconds = m.cfg.HedgeCooldownSeconds
	}
	zoneMult = 1.0
	if ratio > 1.0 {
		zoneMult = ratio
	}
	return cooldownSeconds, zoneMult
}

// ValidateHedgeConditions runs the six admission checks in their fixed order;
// the first failure short-circuits with its reason. Broker reads happen
// before the symbol lock is taken so the lock never spans I/O.
func (m *Manager) ValidateHedgeConditions(symbol string, positions []broker.Position,
	tick *broker.Tick, atrVal float64, maxHedgesOverride int) error {

	if len(positions) == 0 {
		return &GateRejectedError{Reason: "No positions to hedge"}
	}

	allPositions, err := m.client.GetPositions()
	if err != nil {
		return fmt.Errorf("failed to fetch global positions: %w", ErrBrokerUnavailable)
	}

	state := m.getHedgeState(symbol)
	state.mu.Lock()
	defer state.mu.Unlock()

	// 1. Spread health.
	if tick.Spread > 0 && !m.isSpreadHealthy(tick.Spread) {
		return &GateRejectedError{Reason: fmt.Sprintf("Spread unhealthy (%.1f)", tick.Spread)}
	}

	// 2. Per-symbol hedge cap.
	limit := m.cfg.MaxHedges
	if maxHedgesOverride > 0 {
		limit = maxHedgesOverride
	}
	if len(positions) >= limit {
		logs.Infof("[Hedge Check] Max hedges reached (%d/%d)", len(positions), limit)
		return &GateRejectedError{Reason: fmt.Sprintf("Max hedges reached (%d/%d)", len(positions), limit)}
	}

	// 3. Global cap across all symbols.
	if len(allPositions) >= m.cfg.GlobalPositionCap {
		return &GateRejectedError{Reason: fmt.Sprintf("Global position cap reached (%d/%d)", len(allPositions), m.cfg.GlobalPositionCap)}
	}

	// 4. Minimum age of the newest group member, against server time.
	sorted := sortByOpenTime(positions)
	last := sorted[len(sorted)-1]
	age := tick.Time.Sub(last.OpenTime).Seconds()
	if age < m.cfg.MinAgeSeconds {
		return &GateRejectedError{Reason: fmt.Sprintf("Position too young (%.1fs < %.1fs)", age, m.cfg.MinAgeSeconds)}
	}

	// 5. Minimum distance from the last position.
	currentPrice := tick.Bid
	if last.Side == broker.Sell {
		currentPrice = tick.Ask
	}
	dist := math.Abs(currentPrice - last.PriceOpen)
	atrPrice := atrVal
	if atrPrice <= 0 {
		atrPrice = volBaseline
	}
	minDist := math.Max(broker.MinDistanceFloor(symbol), atrPrice*0.25)
	if dist < minDist {
		return &GateRejectedError{Reason: fmt.Sprintf("Distance too small (%.2f < %.2f)", dist, minDist)}
	}

	// 6. Adaptive cooldown since the symbol's last hedge.
	cooldown, _ := m.adaptiveFactors(atrVal)
	sinceHedge := time.Since(state.lastHedgeTime).Seconds()
	if !state.lastHedgeTime.IsZero() && sinceHedge < cooldown {
		return &GateRejectedError{Reason: fmt.Sprintf("Hedge cooldown active (%.1fs < %.1fs)", sinceHedge, cooldown)}
	}

	return nil
}

// CalculateZoneParameters returns the zone and take-profit widths in raw
// price units, scaled by group size, volatility and ATR.
func (m *Manager) CalculateZoneParameters(positions []broker.Position, point, atrVal float64) (zoneWidthPrice, tpWidthPrice float64) {
	symbol := ""
	if len(positions) > 0 {
		symbol = positions[0].Symbol
	}
	pipMult := broker.PipMultiplier(symbol)

	zonePips := 20.0
	switch {
	case len(positions) == 2:
		zonePips = 30.0
	case len(positions) >= 3:
		zonePips = 50.0
	}

	_, zoneMult := m.adaptiveFactors(atrVal)
	if zoneMult > 1.1 {
		zonePips = math.Min(zonePips*zoneMult, adaptiveZoneMaxPips)
	}

	atrPips := atrVal * pipMult
	if atrPips > 50.0 {
		zonePips = math.Max(zonePips, atrPips*0.8)
	}

	slippagePadPips := 0.0
	if atrPips > 20.0 {
		slippagePadPips = atrPips * 0.10
	}

	tpPips := zonePips + slippagePadPips
	return zonePips * point, tpPips * point
}

// updateVolatilityScale applies the hysteresis band: high-volatility mode
// engages at ratio 2.5 and only releases at 2.0 or below, so the scale does
// not oscillate at the boundary. Returns the smoothed scale factor.
func (m *Manager) updateVolatilityScale(state *hedgeState, volatilityRatio float64) float64 {
	state.mu.Lock()
	defer state.mu.Unlock()

	if volatilityRatio >= highVolEnterRatio {
		state.highVolMode = true
		logScale := 1.0 + math.Log(math.Max(volatilityRatio, 2.0)/2.0)*0.5
		state.volatilityScale = math.Max(1.0, math.Min(logScale, 1.25))
		state.lastVolScaleUpdate = time.Now()
	} else if volatilityRatio <= highVolExitRatio {
		state.highVolMode = false
		state.volatilityScale = 1.0
		state.lastVolScaleUpdate = time.Now()
	}
	return state.volatilityScale
}

// tickFresh checks the tick's age against the configured tolerance, after
// compensating a persistent server-clock offset (recalculated hourly).
func (m *Manager) tickFresh(tick *broker.Tick) bool {
	if !m.env.FreshnessGateEnabled || m.env.FreshTickMaxAgeSec <= 0 {
		return true
	}
	tickTs := float64(tick.Time.Unix())
	if tick.Time.IsZero() || tickTs <= 0 {
		return false
	}

	now := time.Now()
	m.offsetMu.Lock()
	if m.timeOffset == nil || now.Sub(m.lastOffsetCalc) > offsetRecalcInterval {
		rawDiff := now.Sub(tick.Time).Seconds()
		offset := 0.0
		if math.Abs(rawDiff) > clockSkewFloorSeconds {
			offset = rawDiff
		}
		m.timeOffset = &offset
		m.lastOffsetCalc = now
	}
	offset := *m.timeOffset
	m.offsetMu.Unlock()

	age := math.Abs(now.Sub(tick.Time).Seconds() - offset)
	return age <= m.env.FreshTickMaxAgeSec
}

func (m *Manager) setPending(symbol string) bool {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if t, ok := m.pending[symbol]; ok && time.Since(t) < pendingWindow {
		return false
	}
	m.pending[symbol] = time.Now()
	return true
}

func (m *Manager) clearPending(symbol string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	delete(m.pending, symbol)
}

// ExecuteZoneRecovery evaluates one symbol's position group against its zone
// boundaries and submits the hedge order when a trigger fires. Returns true
// when the zone is satisfied (an order was filled, or the required increment
// was already covered). Unexpected panics are contained here and reported as
// a safe no-op.
func (m *Manager) ExecuteZoneRecovery(ctx context.Context, in *EvaluationInput) (hedged bool, err error) {
	if !m.setPending(in.Symbol) {
		return false, nil
	}
	defer m.clearPending(in.Symbol)

	traceID := uuid.NewString()[:8]
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("[Risk-%s] Internal fault during zone recovery for %s: %v", traceID, in.Symbol, r)
			hedged, err = false, nil
		}
	}()

	if len(in.Positions) == 0 || in.Tick == nil || in.Point <= 0 {
		return false, &GateRejectedError{Reason: "Incomplete evaluation input"}
	}
	if in.StrictEntry && (in.RSI == nil || in.ATR <= 0) {
		return false, &GateRejectedError{Reason: "Strict entry requires RSI and ATR"}
	}

	if !m.tickFresh(in.Tick) {
		return false, &GateRejectedError{Reason: "Tick beyond freshness threshold", Stale: true}
	}

	if !m.client.IsTradeAllowed() {
		return false, fmt.Errorf("trading disabled: %w", ErrBrokerUnavailable)
	}

	sorted := sortByOpenTime(in.Positions)
	first := sorted[0]
	last := sorted[len(sorted)-1]
	bucketID := fmt.Sprintf("%s_%d", in.Symbol, first.Ticket)

	if m.collab.Coordinator != nil {
		if ok, reason := m.collab.Coordinator.CanHedgeBucket(bucketID); !ok {
			return false, &GateRejectedError{Reason: fmt.Sprintf("Coordinator veto: %s", reason)}
		}
	}

	if err := m.ValidateHedgeConditions(in.Symbol, in.Positions, in.Tick, in.ATR, in.MaxHedgesOverride); err != nil {
		return false, err
	}

	// Resolve the working ATR: live value first, entry ATR fallback.
	currentATR := in.ATR
	if currentATR <= 0 && m.collab.Plans != nil {
		if entryATR, ok := m.collab.Plans.EntryATR(bucketID); ok && entryATR > 0 {
			currentATR = entryATR
		}
	}
	if currentATR <= 0 {
		return false, &GateRejectedError{Reason: "No usable ATR for zone computation"}
	}

	hedgeLevel := 0
	if m.collab.Plans != nil {
		hedgeLevel = m.collab.Plans.HedgeLevel(bucketID)
	}
	if hedgeLevel == 0 {
		hedgeLevel = max(0, len(in.Positions)-1)
	}

	storedTrigger := 0.0
	if m.collab.Plans != nil {
		if p, ok := m.collab.Plans.TriggerPrice(bucketID, hedgeLevel); ok && p > 0 {
			storedTrigger = p
		}
	}

	zoneWidth, tpWidth := m.CalculateZoneParameters(in.Positions, in.Point, currentATR)

	// Microstructure vetoes ahead of sizing.
	if in.Micro != nil {
		if in.Micro.VPIN > vpinVetoThreshold {
			return false, &GateRejectedError{Reason: fmt.Sprintf("VPIN elevated (%.2f > %.2f)", in.Micro.VPIN, vpinVetoThreshold)}
		}
		if in.Micro.Reynolds > reynoldsWidenThreshold {
			logs.Infof("[Risk-%s] Turbulent regime (Re=%.0f), widening zone 25%%", traceID, in.Micro.Reynolds)
			zoneWidth *= 1.25
		}
	}

	state := m.getHedgeState(in.Symbol)
	if scale := m.updateVolatilityScale(state, in.VolatilityRatio); scale > 1.0 {
		zoneWidth *= scale
	}

	state.mu.Lock()
	state.zoneWidthPrice = zoneWidth
	state.tpWidthPrice = tpWidth
	state.mu.Unlock()

	// Zone boundaries from the anchor position, oriented by its side; a
	// stored plan trigger for the current level overrides the computed
	// boundary so an already-communicated plan replays deterministically.
	anchorBuy := first.Side == broker.Buy
	var upper, lower float64
	if anchorBuy {
		upper = first.PriceOpen
		lower = first.PriceOpen - zoneWidth
	} else {
		lower = first.PriceOpen
		upper = first.PriceOpen + zoneWidth
	}
	if storedTrigger > 0 {
		if anchorBuy {
			if hedgeLevel%2 != 0 {
				lower = storedTrigger
			} else {
				upper = storedTrigger
			}
		} else {
			if hedgeLevel%2 != 0 {
				upper = storedTrigger
			} else {
				lower = storedTrigger
			}
		}
	}

	epsilon := in.Point * 0.1
	var action broker.Side
	var targetPrice float64
	triggered := false

	if in.Tick.Bid <= lower+epsilon {
		if anchorBuy || len(in.Positions)%2 == 0 {
			action = broker.Sell
			targetPrice = in.Tick.Bid
			triggered = true
		}
	} else if in.Tick.Ask >= upper-epsilon {
		if !anchorBuy || len(in.Positions)%2 == 0 {
			action = broker.Buy
			targetPrice = in.Tick.Ask
			triggered = true
		}
	}
	if !triggered {
		return false, nil
	}

	// Elastic defense: never chase an oscillator extreme.
	if in.RSI != nil {
		if action == broker.Buy && *in.RSI < rsiOversold {
			return false, &GateRejectedError{Reason: fmt.Sprintf("Elastic defense: buying into oversold RSI %.1f", *in.RSI)}
		}
		if action == broker.Sell && *in.RSI > rsiOverbought {
			return false, &GateRejectedError{Reason: fmt.Sprintf("Elastic defense: selling into overbought RSI %.1f", *in.RSI)}
		}
	}

	// Never add to the side of the most recent position.
	if action == last.Side {
		return false, &GateRejectedError{Reason: "Trigger would double down on last position side"}
	}

	if m.collab.EntryVeto != nil {
		if avoid, reason := m.collab.EntryVeto.ShouldAvoidEntry(in.Symbol, action, targetPrice); avoid {
			return false, &GateRejectedError{Reason: reason}
		}
	}

	var pred Prediction
	if m.collab.Predictor != nil {
		if p, perr := m.collab.Predictor.Predict(in.Symbol, in.Micro); perr == nil {
			pred = p
		}
	}

	drawdownPct := 0.0
	if acc, accErr := m.client.GetAccountInfo(); accErr == nil && acc != nil && acc.Balance > 0 {
		drawdownPct = math.Max(0, (acc.Balance-acc.Equity)/acc.Balance)
	}

	rsi := 50.0
	if in.RSI != nil {
		rsi = *in.RSI
	}
	market := &MarketSnapshot{
		Symbol:          in.Symbol,
		CurrentPrice:    targetPrice,
		ATR:             currentATR,
		RSI:             rsi,
		TrendStrength:   in.TrendStrength,
		VolatilityRatio: in.VolatilityRatio,
		Micro:           in.Micro,
	}

	decision, sizeErr := m.collab.Sizer.AnalyzeHedgeDecision(in.Positions, targetPrice, market, pred, drawdownPct)
	if sizeErr != nil {
		return false, fmt.Errorf("sizing collaborator failed: %w", ErrBrokerUnavailable)
	}
	if !decision.ShouldHedge {
		return false, &GateRejectedError{Reason: "Sizer declined hedge"}
	}

	var friendlyVolume float64
	for _, p := range in.Positions {
		if p.Side == action {
			friendlyVolume += p.Volume
		}
	}
	hedgeLot := decision.HedgeSize - friendlyVolume

	minLot := 0.01
	if spec, ok := m.client.GetSymbolSpec(in.Symbol); ok && spec.MinLot > 0 {
		minLot = spec.MinLot
	}
	if hedgeLot < minLot {
		// The opposite side already covers the target: zone satisfied.
		return true, nil
	}
	hedgeLot = utils.RoundToStep(hedgeLot, minLot)

	// Broker comments are capped at 31 chars on the terminal side.
	comment := fmt.Sprintf("HDG_Z%d", int(zoneWidth/in.Point))
	if len(comment) > 31 {
		comment = comment[:31]
	}
	req := &broker.OrderRequest{
		Symbol:  in.Symbol,
		Side:    action,
		Price:   targetPrice,
		Volume:  hedgeLot,
		Comment: comment,
	}

	var result *broker.OrderResult
	execErr := RetryWithBackoff("zone recovery order", m.retryCfg, func() error {
		r, e := m.client.ExecuteOrder(ctx, req)
		if e != nil {
			return e
		}
		result = r
		return nil
	})
	if execErr != nil || result == nil || result.Ticket == 0 {
		logs.Errorf("[Risk-%s] Hedge order failed for %s: %v", traceID, in.Symbol, execErr)
		return false, ErrExecutionFailed
	}

	if m.collab.Coordinator != nil {
		m.collab.Coordinator.RecordHedge(bucketID, action, hedgeLot, targetPrice)
	}
	if m.collab.Plans != nil {
		m.collab.Plans.SetHedgeLevel(bucketID, hedgeLevel+1)
	}
	if m.collab.OnFill != nil {
		m.collab.OnFill(in.Symbol, action, targetPrice, hedgeLot)
	}

	state.mu.Lock()
	state.lastHedgeTime = time.Now()
	state.activeHedges++
	state.mu.Unlock()

	logs.Infof("[Risk-%s] Hedge executed: %s %s %.2f lots @ %.5f (ticket %d, level %d)",
		traceID, action, in.Symbol, hedgeLot, targetPrice, result.Ticket, hedgeLevel+1)
	return true, nil
}

// RiskStatus returns the observability snapshot for one symbol.
func (m *Manager) RiskStatus(symbol string) Status {
	state := m.getHedgeState(symbol)
	state.mu.Lock()
	defer state.mu.Unlock()

	since := 0.0
	lastHedge := ""
	if !state.lastHedgeTime.IsZero() {
		since = time.Since(state.lastHedgeTime).Seconds()
		lastHedge = state.lastHedgeTime.Format(time.RFC3339)
	}
	return Status{
		Symbol:             symbol,
		ActiveHedges:       state.activeHedges,
		LastHedgeTime:      lastHedge,
		SecondsSinceHedge:  since,
		ZoneWidthPrice:     state.zoneWidthPrice,
		TakeProfitWidth:    state.tpWidthPrice,
		HighVolatilityMode: state.highVolMode,
		VolatilityScale:    state.volatilityScale,
	}
}

// ResetSymbolState clears a symbol's state back to defaults. The entry itself
// survives for the rest of the run.
func (m *Manager) ResetSymbolState(symbol string) {
	state := m.getHedgeState(symbol)
	state.mu.Lock()
	state.resetLocked()
	state.mu.Unlock()
	logs.Infof("Reset risk state for %s", symbol)
}

// EmergencyStatus reports (but does not act on) the account-wide emergency
// threshold breach.
func (m *Manager) EmergencyStatus(totalPositions int) (bool, string) {
	if totalPositions >= m.cfg.EmergencyHedgeThreshold {
		return true, fmt.Sprintf("Emergency: %d positions >= threshold of %d", totalPositions, m.cfg.EmergencyHedgeThreshold)
	}
	return false, "Normal operations"
}

func sortByOpenTime(positions []broker.Position) []broker.Position {
	out := make([]broker.Position, len(positions))
	copy(out, positions)
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}
