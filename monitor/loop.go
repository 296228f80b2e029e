// monitor/loop.go
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
	"zone_recovery_go/config"
	"zone_recovery_go/indicators"
	"zone_recovery_go/liquidity"
	"zone_recovery_go/logs"
	"zone_recovery_go/microstructure"
	"zone_recovery_go/plan"
	"zone_recovery_go/profit"
	"zone_recovery_go/risk"
)

const (
	atrPeriod     = 14
	rsiPeriod     = 14
	fastATRPeriod = 7
	slowATRPeriod = 28
)

// WallVeto bridges the liquidity mapper into the risk manager's entry-veto
// slot. The loop refreshes the map each cycle; the manager consults it at
// trigger time.
type WallVeto struct {
	mu      sync.RWMutex
	mapper  *liquidity.Mapper
	current liquidity.Map
}

func NewWallVeto(mapper *liquidity.Mapper) *WallVeto {
	return &WallVeto{mapper: mapper}
}

func (w *WallVeto) Update(m liquidity.Map) {
	w.mu.Lock()
	w.current = m
	w.mu.Unlock()
}

func (w *WallVeto) ShouldAvoidEntry(symbol string, side broker.Side, price float64) (bool, string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mapper.ShouldAvoidEntry(price, side, w.current)
}

// Deps bundles everything the monitor loop drives.
type Deps struct {
	Client     broker.Client
	Risk       *risk.Manager
	Analyzer   *microstructure.Analyzer
	Mapper     *liquidity.Mapper
	Veto       *WallVeto
	Bank       *badbank.Bank
	Accountant *profit.Accountant
	Plans      *plan.Store
	Candles    *indicators.Builder
	Cfg        *config.Config
}

// Start runs the main loop: feed the analyzers on every tick, evaluate zone
// recovery when positions are open, and run the bad-bank cleanup on its own
// slower cadence. Blocks until stopChan closes.
func Start(deps *Deps, stopChan <-chan struct{}) {
	symbol := deps.Cfg.Symbol

	ticker := time.NewTicker(time.Duration(deps.Cfg.Normal.MonitorIntervalSeconds) * time.Second)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Duration(deps.Cfg.Normal.CleanupIntervalSeconds) * time.Second)
	defer cleanup.Stop()

	heartbeatInterval := time.Duration(deps.Cfg.Normal.HeartbeatIntervalMinutes) * time.Minute
	lastHeartbeat := time.Now()

	point := 0.0001
	if spec, ok := deps.Client.GetSymbolSpec(symbol); ok && spec.Point > 0 {
		point = spec.Point
	}

	for {
		select {
		case <-stopChan:
			logs.Info("Monitor received stop signal, exiting.")
			return

		case <-ticker.C:
			tick, err := deps.Client.GetTick(symbol)
			if err != nil {
				logs.Errorf("[Monitor] Failed to get tick: %v", err)
				continue
			}

			deps.Analyzer.AddTick(tick)
			deps.Candles.Add(tick.Mid(), tick.Time)
			deps.Accountant.MarkPrice(symbol, tick.Mid())

			candles := deps.Candles.Candles()
			if deps.Veto != nil && deps.Mapper != nil {
				deps.Veto.Update(deps.Mapper.MapLiquidity(candles))
			}

			evaluate(deps, symbol, tick, candles, point)

			if time.Since(lastHeartbeat) >= heartbeatInterval {
				heartbeat(deps, symbol)
				lastHeartbeat = time.Now()
			}

		case <-cleanup.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if deps.Bank.AttemptDebtReduction(ctx, deps.Client) {
				debtNibblesTotal.Inc()
			}
			cancel()

			stats := deps.Bank.Stats()
			tithePoolGauge.Set(stats.TithePool)
			toxicAssetsGauge.Set(float64(stats.AssetCount))
		}
	}
}

// evaluate runs one zone-recovery pass over the symbol's live position group.
func evaluate(deps *Deps, symbol string, tick *broker.Tick, candles []broker.Candle, point float64) {
	allPositions, err := deps.Client.GetPositions()
	if err != nil {
		logs.Errorf("[Monitor] Failed to get positions: %v", err)
		return
	}

	// Reported only; the global-cap gate is what actually blocks new hedges.
	if emergency, msg := deps.Risk.EmergencyStatus(len(allPositions)); emergency {
		logs.Warnf("[Monitor] %s", msg)
	}

	// Frozen tickets belong to the bad bank, not the recovery engine.
	group := make([]broker.Position, 0, len(allPositions))
	for _, p := range allPositions {
		if p.Symbol == symbol && !deps.Bank.IsToxic(p.Ticket) {
			group = append(group, p)
		}
	}
	if len(group) == 0 {
		return
	}

	// A group that exhausted its hedge budget and is still underwater cannot
	// be recovered by more hedging; hand it to the bad bank and start fresh.
	if deps.Cfg.Zone.MaxHedges > 0 && len(group) >= deps.Cfg.Zone.MaxHedges &&
		groupFloating(deps.Client, group, tick) < 0 {
		freezeGroup(deps, symbol, group)
		return
	}

	atr := indicators.ATR(candles, atrPeriod)
	volRatio := 1.0
	if slow := indicators.ATR(candles, slowATRPeriod); slow > 0 {
		volRatio = indicators.ATR(candles, fastATRPeriod) / slow
	}

	var rsiPtr *float64
	if rsi, ok := indicators.RSI(deps.Candles.Closes(), rsiPeriod); ok {
		rsiPtr = &rsi
	}

	snap := deps.Analyzer.Combined(tick, point)

	in := &risk.EvaluationInput{
		Symbol:          symbol,
		Positions:       group,
		Tick:            tick,
		Point:           point,
		ATR:             atr,
		VolatilityRatio: volRatio,
		RSI:             rsiPtr,
		Micro:           &snap,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	hedged, err := deps.Risk.ExecuteZoneRecovery(ctx, in)
	cancel()

	switch {
	case err == nil && hedged:
		evaluationsTotal.WithLabelValues(symbol, "hedged").Inc()
		hedgesExecutedTotal.WithLabelValues(symbol).Inc()
	case err == nil:
		evaluationsTotal.WithLabelValues(symbol, "idle").Inc()
	case risk.IsGateRejected(err):
		evaluationsTotal.WithLabelValues(symbol, "rejected").Inc()
		gateRejectionsTotal.WithLabelValues(symbol).Inc()
		logs.Debugf("[Monitor] Hedge rejected: %v", err)
	default:
		evaluationsTotal.WithLabelValues(symbol, "error").Inc()
		logs.Errorf("[Monitor] Zone recovery error: %v", err)
	}
}

func heartbeat(deps *Deps, symbol string) {
	status := deps.Risk.RiskStatus(symbol)
	state := deps.Accountant.State(symbol)
	logs.Infof("[Heartbeat] %s | hedges: %d | exposure: %.2f lots @ %.5f | realized: $%s | floating: $%s",
		symbol, status.ActiveHedges, state.TotalLots, state.AverageCost,
		state.RealizedProfit.StringFixed(2), state.UnrealizedProfit.StringFixed(2))
	logs.Info(deps.Bank.StatusText())
}

// freezeGroup transfers an irrecoverable bucket to the bad bank and clears
// the recovery bookkeeping so the symbol can anchor a new group.
func freezeGroup(deps *Deps, symbol string, group []broker.Position) {
	anchor := group[0]
	for _, p := range group[1:] {
		if p.OpenTime.Before(anchor.OpenTime) {
			anchor = p
		}
	}
	bucketID := fmt.Sprintf("%s_%d", symbol, anchor.Ticket)

	logs.Warnf("[Monitor] Hedge budget exhausted on losing group %s (%d positions), transferring to bad bank",
		bucketID, len(group))
	deps.Bank.RegisterToxicAsset(bucketID, group)
	if deps.Plans != nil {
		deps.Plans.Remove(bucketID)
	}
	deps.Risk.ResetSymbolState(symbol)

	stats := deps.Bank.Stats()
	toxicAssetsGauge.Set(float64(stats.AssetCount))
}

// groupFloating sums the group's floating P&L at the quoted close prices.
func groupFloating(client broker.Client, group []broker.Position, tick *broker.Tick) float64 {
	var total float64
	for _, p := range group {
		contractSize := broker.DefaultContractSize(p.Symbol)
		if spec, ok := client.GetSymbolSpec(p.Symbol); ok && spec.ContractSize > 0 {
			contractSize = spec.ContractSize
		}
		if p.Side == broker.Buy {
			total += (tick.Bid - p.PriceOpen) * p.Volume * contractSize
		} else {
			total += (p.PriceOpen - tick.Ask) * p.Volume * contractSize
		}
	}
	return total
}
