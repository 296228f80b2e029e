package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zone_recovery_go/broker"
)

func TestATRInsufficientData(t *testing.T) {
	candles := []broker.Candle{
		{High: 10, Low: 9, Close: 9.5},
		{High: 11, Low: 10, Close: 10.5},
	}
	require.Equal(t, 0.0, ATR(candles, 14))
}

func TestATRConstantRange(t *testing.T) {
	// Identical candles: every true range equals high-low, so the ATR must
	// converge to exactly that.
	candles := make([]broker.Candle, 20)
	for i := range candles {
		candles[i] = broker.Candle{Open: 10, High: 11, Low: 9, Close: 10}
	}
	require.InDelta(t, 2.0, ATR(candles, 14), 1e-9)
}

func TestRSIAllGains(t *testing.T) {
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	rsi, ok := RSI(closes, 14)
	require.True(t, ok)
	require.InDelta(t, 100.0, rsi, 1e-9)
}

func TestRSIBalanced(t *testing.T) {
	// Alternating +1/-1 moves: equal average gain and loss puts RSI at 50.
	closes := []float64{100}
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]+1)
		} else {
			closes = append(closes, closes[len(closes)-1]-1)
		}
	}
	rsi, ok := RSI(closes, 14)
	require.True(t, ok)
	require.InDelta(t, 50.0, rsi, 1.0)
}

func TestRSINotReady(t *testing.T) {
	_, ok := RSI([]float64{1, 2, 3}, 14)
	require.False(t, ok)
}

func TestBuilderAggregation(t *testing.T) {
	b := NewBuilder(time.Minute, 100)
	t0 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	b.Add(100, t0)
	b.Add(103, t0.Add(10*time.Second))
	b.Add(99, t0.Add(30*time.Second))
	b.Add(101, t0.Add(50*time.Second))
	b.Add(102, t0.Add(70*time.Second)) // next bucket

	candles := b.Candles()
	require.Len(t, candles, 2)

	first := candles[0]
	require.Equal(t, 100.0, first.Open)
	require.Equal(t, 103.0, first.High)
	require.Equal(t, 99.0, first.Low)
	require.Equal(t, 101.0, first.Close)
	require.Equal(t, t0, first.Time)

	require.Equal(t, 102.0, candles[1].Open)
}

func TestBuilderBoundedWindow(t *testing.T) {
	b := NewBuilder(time.Minute, 3)
	t0 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		b.Add(float64(100+i), t0.Add(time.Duration(i)*time.Minute))
	}
	candles := b.Candles()
	require.Len(t, candles, 4) // 3 completed + forming
	require.Equal(t, 106.0, candles[0].Open)
}

func TestBuilderCloses(t *testing.T) {
	b := NewBuilder(time.Minute, 10)
	t0 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	b.Add(100, t0)
	b.Add(105, t0.Add(time.Minute))
	require.Equal(t, []float64{100, 105}, b.Closes())
}
