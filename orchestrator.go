// orchestrator.go
package main

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
	"zone_recovery_go/config"
	"zone_recovery_go/indicators"
	"zone_recovery_go/liquidity"
	"zone_recovery_go/logs"
	"zone_recovery_go/microstructure"
	"zone_recovery_go/monitor"
	"zone_recovery_go/plan"
	"zone_recovery_go/profit"
	"zone_recovery_go/risk"
	"zone_recovery_go/utils"
)

// Orchestrator wires the engine together and owns its lifecycle.
type Orchestrator struct {
	client     broker.Client
	riskMgr    *risk.Manager
	bank       *badbank.Bank
	accountant *profit.Accountant
	plans      *plan.Store
	httpSrv    *monitor.Server
	deps       *monitor.Deps

	stopChan chan struct{}
	wg       sync.WaitGroup
	cfg      *config.Config
}

func NewOrchestrator(cfg *config.Config, envCfg *config.EnvConfig) (*Orchestrator, error) {
	var client broker.Client
	if cfg.UseSimulation {
		mockClient := broker.NewMockClient()
		seedSimulation(mockClient, cfg.Symbol)
		client = mockClient
		logs.Warnf("<<<<<<<<<< WARNING: Running in simulation mode >>>>>>>>>>")
	} else {
		// The terminal bridge is deployment-specific and injected at build
		// time; the open-source tree ships with the simulator only.
		return nil, fmt.Errorf("no live terminal bridge configured; set use_simulation: true")
	}

	bank := badbank.NewBank()
	accountant := profit.NewAccountant(cfg.BadBank.TitheRate, bank)
	plans := plan.NewStore()

	analyzer := microstructure.NewAnalyzer(cfg.Micro.WindowSeconds, cfg.Micro.VolumeBufferSize)
	mapper := liquidity.NewMapper(cfg.Liquidity)
	veto := monitor.NewWallVeto(mapper)

	riskMgr := risk.NewManager(cfg.Zone, envCfg, client, risk.Collaborators{
		Predictor:   flowPredictor{},
		Sizer:       &recoverySizer{maxDrawdownPct: 0.50},
		Coordinator: newLocalCoordinator(time.Duration(cfg.Zone.BucketCloseCooldownSeconds * float64(time.Second))),
		Plans:       plans,
		EntryVeto:   veto,
		OnFill: func(symbol string, side broker.Side, price, lots float64) {
			accountant.RecordFill(symbol, side, price, lots)
		},
	})

	o := &Orchestrator{
		client:     client,
		riskMgr:    riskMgr,
		bank:       bank,
		accountant: accountant,
		plans:      plans,
		stopChan:   make(chan struct{}),
		cfg:        cfg,
	}

	o.deps = &monitor.Deps{
		Client:     client,
		Risk:       riskMgr,
		Analyzer:   analyzer,
		Mapper:     mapper,
		Veto:       veto,
		Bank:       bank,
		Accountant: accountant,
		Plans:      plans,
		Candles:    indicators.NewBuilder(time.Minute, 240),
		Cfg:        cfg,
	}

	if cfg.Normal.HTTPListenAddr != "" {
		o.httpSrv = monitor.NewServer(cfg.Normal.HTTPListenAddr, riskMgr, bank, accountant)
	}

	return o, nil
}

// Start launches the monitor loop and the status server.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		monitor.Start(o.deps, o.stopChan)
	}()

	if o.httpSrv != nil {
		o.httpSrv.Start()
	}
	logs.Infof("[Orchestrator] Engine started for %s", o.cfg.Symbol)
}

// Stop shuts everything down in order: loop first, then the HTTP surface.
func (o *Orchestrator) Stop() {
	logs.Info("[Orchestrator] Shutting down...")
	close(o.stopChan)
	o.wg.Wait()

	if o.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.httpSrv.Shutdown(ctx); err != nil {
			logs.Errorf("[Orchestrator] HTTP shutdown error: %v", err)
		}
	}
	logs.Info("[Orchestrator] Shutdown complete.")
}

// seedSimulation gives the mock terminal an instrument and an opening quote
// so the loop has something to chew on immediately.
func seedSimulation(client *broker.MockClient, symbol string) {
	point := 0.0001
	digits := 5
	bid := 1.1000
	if broker.IsMetal(symbol) {
		point = 0.01
		digits = 2
		bid = 2400.00
	}
	client.SetSymbolSpec(broker.SymbolSpec{
		Symbol:       symbol,
		Point:        point,
		MinLot:       0.01,
		ContractSize: broker.DefaultContractSize(symbol),
		Digits:       digits,
	})
	client.SetTick(symbol, &broker.Tick{
		Bid:  bid,
		Ask:  bid + 2*point,
		Time: time.Now(),
	})
}

//
// Default in-process collaborators. Deployments with an external model, sizer
// or coordinator swap these out at wiring time.
//

// flowPredictor derives a direction hint from the tick analyzer's net force.
type flowPredictor struct{}

func (flowPredictor) Predict(_ string, snap *microstructure.Snapshot) (risk.Prediction, error) {
	if snap == nil {
		return risk.Prediction{}, nil
	}
	p := risk.Prediction{Confidence: math.Min(1.0, math.Abs(snap.NetForce)/100.0)}
	switch {
	case snap.NetForce > 0:
		p.DirectionClass = 1
	case snap.NetForce < 0:
		p.DirectionClass = -1
	}
	return p, nil
}

// recoverySizer targets 1.5x the dominant side's exposure, declining outright
// when the account drawdown is past its limit.
type recoverySizer struct {
	maxDrawdownPct float64
}

func (s *recoverySizer) AnalyzeHedgeDecision(positions []broker.Position, _ float64,
	_ *risk.MarketSnapshot, _ risk.Prediction, drawdownPct float64) (risk.SizingDecision, error) {

	if drawdownPct >= s.maxDrawdownPct {
		return risk.SizingDecision{ShouldHedge: false}, nil
	}

	var buyVol, sellVol float64
	for _, p := range positions {
		if p.Side == broker.Buy {
			buyVol += p.Volume
		} else {
			sellVol += p.Volume
		}
	}
	target := utils.RoundToStep(math.Max(buyVol, sellVol)*1.5, 0.01)
	if target < 0.01 {
		target = 0.01
	}
	return risk.SizingDecision{ShouldHedge: true, HedgeSize: target}, nil
}

// localCoordinator is the single-process stand-in for the cross-strategy
// coordinator: one hedge per bucket per cooldown window.
type localCoordinator struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
}

func newLocalCoordinator(cooldown time.Duration) *localCoordinator {
	return &localCoordinator{cooldown: cooldown, last: make(map[string]time.Time)}
}

func (c *localCoordinator) CanHedgeBucket(bucketID string) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.last[bucketID]; ok && time.Since(t) < c.cooldown {
		return false, fmt.Sprintf("bucket %s hedged %.1fs ago", bucketID, time.Since(t).Seconds())
	}
	return true, ""
}

func (c *localCoordinator) RecordHedge(bucketID string, _ broker.Side, _, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[bucketID] = time.Now()
}
