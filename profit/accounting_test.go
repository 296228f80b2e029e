package profit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"zone_recovery_go/badbank"
	"zone_recovery_go/broker"
)

func TestWeightedAverageCost(t *testing.T) {
	acc := NewAccountant(0, nil)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.01)
	acc.RecordFill("EURUSD", broker.Buy, 1.1020, 0.01)

	st := acc.State("EURUSD")
	require.InDelta(t, 0.02, st.TotalLots, 1e-9)
	require.InDelta(t, 1.1010, st.AverageCost, 1e-9)
}

func TestRealizedProfitOnClose(t *testing.T) {
	acc := NewAccountant(0, nil)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.02)
	realized := acc.RecordFill("EURUSD", broker.Sell, 1.1010, 0.02)

	// 10 pips on 0.02 lots of a 100k contract.
	require.InDelta(t, 2.00, realized.InexactFloat64(), 1e-6)

	st := acc.State("EURUSD")
	require.InDelta(t, 0.0, st.TotalLots, 1e-9)
	require.InDelta(t, 0.0, st.AverageCost, 1e-9)
	require.InDelta(t, 2.00, st.RealizedProfit.InexactFloat64(), 1e-6)
}

func TestProfitableCloseTithesBank(t *testing.T) {
	bank := badbank.NewBank()
	acc := NewAccountant(0.10, bank)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.02)
	acc.RecordFill("EURUSD", broker.Sell, 1.1010, 0.02)

	require.InDelta(t, 0.20, bank.Stats().TithePool, 1e-9)
	require.InDelta(t, 0.20, acc.TotalTithed().InexactFloat64(), 1e-9)
}

func TestLosingCloseDoesNotTithe(t *testing.T) {
	bank := badbank.NewBank()
	acc := NewAccountant(0.10, bank)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.02)
	realized := acc.RecordFill("EURUSD", broker.Sell, 1.0990, 0.02)

	require.Negative(t, realized.InexactFloat64())
	require.Equal(t, 0.0, bank.Stats().TithePool)
	require.True(t, acc.TotalTithed().IsZero())
}

func TestDirectionFlipReanchorsCost(t *testing.T) {
	acc := NewAccountant(0, nil)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.01)
	acc.RecordFill("EURUSD", broker.Sell, 1.1010, 0.02)

	st := acc.State("EURUSD")
	require.InDelta(t, -0.01, st.TotalLots, 1e-9)
	require.InDelta(t, 1.1010, st.AverageCost, 1e-9, "surviving short anchors at the flip price")
	// Only the overlapping 0.01 lots realized.
	require.InDelta(t, 1.00, st.RealizedProfit.InexactFloat64(), 1e-6)
}

func TestChunkedCloseLeavesBookExactlyFlat(t *testing.T) {
	acc := NewAccountant(0, nil)

	// Closing in uneven chunks accumulates binary dust in the lot total;
	// the book must still come out exactly flat, not microscopically short.
	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.03)
	acc.RecordFill("EURUSD", broker.Sell, 1.1010, 0.01)
	acc.RecordFill("EURUSD", broker.Sell, 1.1010, 0.02)

	st := acc.State("EURUSD")
	require.Equal(t, 0.0, st.TotalLots)
	require.Equal(t, 0.0, st.AverageCost)

	acc.MarkPrice("EURUSD", 1.1050)
	require.True(t, acc.State("EURUSD").UnrealizedProfit.IsZero())
}

func TestMarkPriceFloatingPnL(t *testing.T) {
	acc := NewAccountant(0, nil)

	acc.RecordFill("EURUSD", broker.Buy, 1.1000, 0.01)
	acc.MarkPrice("EURUSD", 1.1020)
	require.InDelta(t, 2.00, acc.State("EURUSD").UnrealizedProfit.InexactFloat64(), 1e-6)

	acc.RecordFill("EURUSD", broker.Sell, 1.1020, 0.01)
	acc.MarkPrice("EURUSD", 1.1050)
	require.True(t, acc.State("EURUSD").UnrealizedProfit.IsZero(), "flat position carries no floating P&L")
}
