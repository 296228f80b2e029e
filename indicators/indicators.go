// indicators/indicators.go
//
// Minimal indicator set consumed by the risk loop: Wilder ATR and RSI over
// candles built in-process from the tick stream.
package indicators

import (
	"math"
	"sync"
	"time"

	"zone_recovery_go/broker"
)

// ATR computes the Wilder average true range over the candle series. Returns
// zero when fewer than period+1 candles are available.
func ATR(candles []broker.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		h, l, prevC := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-prevC), math.Abs(l-prevC)))
		trs = append(trs, tr)
	}

	var atr float64
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// RSI computes the Wilder relative strength index over closing prices.
// ok is false until period+1 closes exist.
func RSI(closes []float64, period int) (rsi float64, ok bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Builder aggregates a price stream into fixed-interval candles, keeping a
// bounded rolling window.
type Builder struct {
	mu          sync.Mutex
	interval    time.Duration
	max         int
	completed   []broker.Candle
	current     *broker.Candle
	bucketStart time.Time
}

func NewBuilder(interval time.Duration, maxCandles int) *Builder {
	return &Builder{interval: interval, max: maxCandles}
}

// Add folds one price observation into the candle series.
func (b *Builder) Add(price float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket := at.Truncate(b.interval)
	if b.current == nil || !bucket.Equal(b.bucketStart) {
		if b.current != nil {
			b.completed = append(b.completed, *b.current)
			if len(b.completed) > b.max {
				b.completed = b.completed[1:]
			}
		}
		b.current = &broker.Candle{Open: price, High: price, Low: price, Close: price, Time: bucket}
		b.bucketStart = bucket
		return
	}

	if price > b.current.High {
		b.current.High = price
	}
	if price < b.current.Low {
		b.current.Low = price
	}
	b.current.Close = price
}

// Candles returns the completed candles plus the forming one.
func (b *Builder) Candles() []broker.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broker.Candle, len(b.completed), len(b.completed)+1)
	copy(out, b.completed)
	if b.current != nil {
		out = append(out, *b.current)
	}
	return out
}

// Closes returns the closing prices of the series, forming candle included.
func (b *Builder) Closes() []float64 {
	candles := b.Candles()
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
