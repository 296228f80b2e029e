package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
	"zone_recovery_go/config"
	"zone_recovery_go/indicators"
	"zone_recovery_go/microstructure"
	"zone_recovery_go/plan"
	"zone_recovery_go/risk"
)

func newEvaluateDeps(client *broker.MockClient) *Deps {
	cfg := &config.Config{
		Symbol: "EURUSD",
		Zone: &config.ZoneConfig{
			ZonePips: 20, TPPips: 30, MaxHedges: 3,
			MinAgeSeconds: 3, HedgeCooldownSeconds: 15,
			EmergencyHedgeThreshold: 10, GlobalPositionCap: 10,
		},
	}
	riskMgr := risk.NewManager(cfg.Zone,
		&config.EnvConfig{FreshnessGateEnabled: false},
		client, risk.Collaborators{})

	return &Deps{
		Client:   client,
		Risk:     riskMgr,
		Analyzer: microstructure.NewAnalyzer(60, 100),
		Bank:     badbank.NewBank(),
		Plans:    plan.NewStore(),
		Candles:  indicators.NewBuilder(time.Minute, 240),
		Cfg:      cfg,
	}
}

func TestEvaluateFreezesExhaustedLosingGroup(t *testing.T) {
	client := broker.NewMockClient()
	client.SetSymbolSpec(broker.SymbolSpec{
		Symbol: "EURUSD", Point: 0.0001, MinLot: 0.01, ContractSize: 100000, Digits: 5,
	})
	deps := newEvaluateDeps(client)

	// Three positions hit the hedge budget; the alternating book is locked
	// into a structural loss at the collapsed price.
	now := time.Now()
	group := []broker.Position{
		{Ticket: 1, Symbol: "EURUSD", Side: broker.Buy, Volume: 0.01, PriceOpen: 1.1000, OpenTime: now.Add(-time.Hour)},
		{Ticket: 2, Symbol: "EURUSD", Side: broker.Sell, Volume: 0.02, PriceOpen: 1.0970, OpenTime: now.Add(-30 * time.Minute)},
		{Ticket: 3, Symbol: "EURUSD", Side: broker.Buy, Volume: 0.04, PriceOpen: 1.1000, OpenTime: now.Add(-10 * time.Minute)},
	}
	for _, p := range group {
		client.SeedPosition(p)
	}
	tick := &broker.Tick{Bid: 1.0900, Ask: 1.0901, Time: now}

	evaluate(deps, "EURUSD", tick, nil, 0.0001)

	require.Equal(t, 1, deps.Bank.Stats().AssetCount)
	for _, p := range group {
		require.True(t, deps.Bank.IsToxic(p.Ticket), "ticket %d", p.Ticket)
	}
	require.Empty(t, client.ExecutedOrders())
	require.Equal(t, 0, deps.Risk.RiskStatus("EURUSD").ActiveHedges)

	// The frozen tickets no longer form a group; another pass is a no-op.
	evaluate(deps, "EURUSD", tick, nil, 0.0001)
	require.Equal(t, 1, deps.Bank.Stats().AssetCount)
	require.Empty(t, client.ExecutedOrders())
}

func TestEvaluateKeepsProfitableGroupAtCap(t *testing.T) {
	client := broker.NewMockClient()
	client.SetSymbolSpec(broker.SymbolSpec{
		Symbol: "EURUSD", Point: 0.0001, MinLot: 0.01, ContractSize: 100000, Digits: 5,
	})
	deps := newEvaluateDeps(client)

	now := time.Now()
	for i := 0; i < 3; i++ {
		client.SeedPosition(broker.Position{
			Ticket: int64(i + 1), Symbol: "EURUSD", Side: broker.Buy,
			Volume: 0.01, PriceOpen: 1.0800, OpenTime: now.Add(-time.Hour),
		})
	}
	// Well above every open: the group floats in profit, so the bank stays
	// out of it even though the hedge budget is spent.
	tick := &broker.Tick{Bid: 1.0900, Ask: 1.0901, Time: now}

	evaluate(deps, "EURUSD", tick, nil, 0.0001)

	require.Equal(t, 0, deps.Bank.Stats().AssetCount)
	require.False(t, deps.Bank.IsToxic(1))
	require.Empty(t, client.ExecutedOrders())
}
