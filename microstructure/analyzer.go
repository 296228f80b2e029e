package microstructure

import (
	"math"
	"sync"
	"time"

	"zone_recovery_go/broker"
	"zone_recovery_go/utils"
)

// Pressure states, first match wins during classification.
const (
	StateInstitutionalBuy  = "INSTITUTIONAL_BUY"
	StateStrongBuy         = "STRONG_BUY"
	StateInstitutionalSell = "INSTITUTIONAL_SELL"
	StateStrongSell        = "STRONG_SELL"
	StateAbsorptionFight   = "ABSORPTION_FIGHT"
	StateLowLiquidity      = "LOW_LIQUIDITY"
	StateNeutral           = "NEUTRAL"
	StateInsufficientData  = "INSUFFICIENT_DATA"
)

const (
	RegimeTurbulent = "TURBULENT"
	RegimeLaminar   = "LAMINAR"
)

const (
	minPressureSamples = 5
	minVPINSamples     = 15
	vpinToxicThreshold = 0.4 // snapshot label only; the hedge veto uses its own operating point
	reynoldsTurbulent  = 500.0
)

// PressureMetrics is the aggression read over the current tick window.
type PressureMetrics struct {
	Score     float64
	Intensity string // LOW / NORMAL / MEDIUM / HIGH
	Dominance string // BUY / SELL / NEUTRAL
	State     string
	Velocity  float64 // ticks per second
}

// OrderFlow is the classified buy/sell volume balance.
type OrderFlow struct {
	Imbalance    float64 // (buy - sell) / total, in [-1, 1]
	BuyPressure  float64
	SellPressure float64
	BuyVolume    float64
	SellVolume   float64
}

// Snapshot merges every derived metric into one read.
type Snapshot struct {
	Pressure     PressureMetrics
	Flow         OrderFlow
	Reynolds     float64
	Regime       string
	NetForce     float64
	VPIN         float64
	ReactionRate float64
	Toxic        bool
}

type tickSample struct {
	price float64
	at    time.Time
}

// volumeRing is a bounded FIFO of classified volumes; pushes past capacity
// silently evict the oldest entry.
type volumeRing struct {
	data []float64
	cap  int
}

func newVolumeRing(capacity int) *volumeRing {
	return &volumeRing{data: make([]float64, 0, capacity), cap: capacity}
}

func (r *volumeRing) push(v float64) {
	if len(r.data) == r.cap {
		copy(r.data, r.data[1:])
		r.data = r.data[:len(r.data)-1]
	}
	r.data = append(r.data, v)
}

func (r *volumeRing) sum() float64 {
	var s float64
	for _, v := range r.data {
		s += v
	}
	return s
}

func (r *volumeRing) count() int { return len(r.data) }

// Analyzer maintains a sliding tick window and classified order-flow buffers
// for one symbol. Safe for interleaved feed/reader access.
type Analyzer struct {
	mu sync.Mutex

	window      time.Duration
	ticks       []tickSample
	buyVolumes  *volumeRing
	sellVolumes *volumeRing

	prevMid    float64
	hasPrevMid bool
}

// NewAnalyzer creates an analyzer with the given window length and order-flow
// buffer capacity.
func NewAnalyzer(windowSeconds float64, bufferSize int) *Analyzer {
	return &Analyzer{
		window:      time.Duration(windowSeconds * float64(time.Second)),
		buyVolumes:  newVolumeRing(bufferSize),
		sellVolumes: newVolumeRing(bufferSize),
	}
}

// AddTick records the tick's bid price into the window, stamped with the
// current wall clock.
func (a *Analyzer) AddTick(tick *broker.Tick) {
	if tick == nil || tick.Bid <= 0 {
		return
	}
	a.AddTickAt(tick.Bid, time.Now())
}

// AddTickAt records a price sample at an explicit time.
func (a *Analyzer) AddTickAt(price float64, at time.Time) {
	if price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ticks = append(a.ticks, tickSample{price: price, at: at})
	a.prune(at)
}

// prune drops samples that have aged out of the window. Caller holds the lock.
func (a *Analyzer) prune(now time.Time) {
	i := 0
	for i < len(a.ticks) && now.Sub(a.ticks[i].at) > a.window {
		i++
	}
	if i > 0 {
		a.ticks = a.ticks[i:]
	}
}

// PressureMetrics derives the aggression score from the current window.
func (a *Analyzer) PressureMetrics(pointValue float64) PressureMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pressureLocked(pointValue)
}

func (a *Analyzer) pressureLocked(pointValue float64) PressureMetrics {
	if len(a.ticks) < minPressureSamples {
		return PressureMetrics{Intensity: "LOW", Dominance: "NEUTRAL", State: StateInsufficientData}
	}

	first := a.ticks[0]
	last := a.ticks[len(a.ticks)-1]

	duration := last.at.Sub(first.at).Seconds()
	if duration <= 0 {
		duration = 0.001
	}
	velocity := float64(len(a.ticks)) / duration
	priceDeltaPoints := (last.price - first.price) / pointValue
	pressure := priceDeltaPoints * velocity

	state, intensity, dominance := StateNeutral, "NORMAL", "NEUTRAL"
	switch {
	case pressure > 50.0:
		state, intensity, dominance = StateInstitutionalBuy, "HIGH", "BUY"
	case pressure > 15.0:
		state, intensity, dominance = StateStrongBuy, "MEDIUM", "BUY"
	case pressure < -50.0:
		state, intensity, dominance = StateInstitutionalSell, "HIGH", "SELL"
	case pressure < -15.0:
		state, intensity, dominance = StateStrongSell, "MEDIUM", "SELL"
	case velocity > 10.0 && math.Abs(priceDeltaPoints) < 2.0:
		// High activity with no displacement: the trap signature.
		state, intensity = StateAbsorptionFight, "HIGH"
	case velocity < 1.0:
		state, intensity = StateLowLiquidity, "LOW"
	}

	return PressureMetrics{
		Score:     pressure,
		Intensity: intensity,
		Dominance: dominance,
		State:     state,
		Velocity:  velocity,
	}
}

// AnalyzeOrderFlow classifies the tick's volume as buyer- or seller-initiated
// and returns the running imbalance.
func (a *Analyzer) AnalyzeOrderFlow(tick *broker.Tick) OrderFlow {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tick == nil {
		return a.flowLocked()
	}

	volume := tick.Volume
	if volume <= 0 {
		volume = 1.0
	}
	mid := tick.Mid()
	if !a.hasPrevMid {
		a.prevMid = mid
		a.hasPrevMid = true
	}

	isQuoteUpdate := math.Abs(tick.Last) < utils.Epsilon
	if !isQuoteUpdate {
		// Real trade: classify against the touch.
		switch {
		case tick.Last >= tick.Ask:
			a.buyVolumes.push(volume)
		case tick.Last <= tick.Bid:
			a.sellVolumes.push(volume)
		default:
			a.buyVolumes.push(volume / 2)
			a.sellVolumes.push(volume / 2)
		}
	} else {
		// Quote update: classify by mid-price drift.
		switch {
		case mid > a.prevMid:
			a.buyVolumes.push(volume)
		case mid < a.prevMid:
			a.sellVolumes.push(volume)
		default:
			a.buyVolumes.push(volume / 2)
			a.sellVolumes.push(volume / 2)
		}
	}
	a.prevMid = mid

	return a.flowLocked()
}

func (a *Analyzer) flowLocked() OrderFlow {
	buyVol := a.buyVolumes.sum()
	sellVol := a.sellVolumes.sum()
	totalVol := buyVol + sellVol

	if totalVol <= 0 {
		return OrderFlow{BuyPressure: 0.5, SellPressure: 0.5}
	}
	return OrderFlow{
		Imbalance:    (buyVol - sellVol) / totalVol,
		BuyPressure:  buyVol / totalVol,
		SellPressure: sellVol / totalVol,
		BuyVolume:    buyVol,
		SellVolume:   sellVol,
	}
}

// VPIN is the volume-synchronized informed-trading proxy:
// |buy - sell| / total. Suppressed to 0 below the sample floor to avoid
// reacting to noise.
func (a *Analyzer) VPIN() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.vpinLocked()
}

func (a *Analyzer) vpinLocked() float64 {
	buyVol := a.buyVolumes.sum()
	sellVol := a.sellVolumes.sum()
	totalVol := buyVol + sellVol
	if totalVol <= 0 {
		return 0
	}
	if a.buyVolumes.count()+a.sellVolumes.count() < minVPINSamples {
		return 0
	}
	return math.Abs(buyVol-sellVol) / totalVol
}

// ReynoldsNumber is the turbulence proxy: velocity * volatility(points) * 100
// divided by the spread (viscosity). A scoring heuristic, not a fluid model.
func (a *Analyzer) ReynoldsNumber(spreadPoints, pointValue float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reynoldsLocked(spreadPoints, pointValue)
}

func (a *Analyzer) reynoldsLocked(spreadPoints, pointValue float64) float64 {
	if spreadPoints <= 0 || len(a.ticks) == 0 {
		return 0
	}
	duration := a.ticks[len(a.ticks)-1].at.Sub(a.ticks[0].at).Seconds()
	if duration <= 0 {
		duration = 0.001
	}
	velocity := float64(len(a.ticks)) / duration

	var volatility float64
	if len(a.ticks) > 2 {
		prices := make([]float64, len(a.ticks))
		for i, s := range a.ticks {
			prices[i] = s.price
		}
		volatility = utils.StdDev(prices) / pointValue
	}

	return (velocity * volatility * 100) / spreadPoints
}

// NetForce is the directional-momentum scalar imbalance * velocity.
func NetForce(imbalance, velocity float64) float64 {
	return imbalance * velocity
}

// ReactionRate reports ticks per second over the window. Numerically equal to
// velocity; exposed under its own name for caller convenience.
func (a *Analyzer) ReactionRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ticks) < 2 {
		return 0
	}
	duration := a.ticks[len(a.ticks)-1].at.Sub(a.ticks[0].at).Seconds()
	if duration <= 0 {
		return 0
	}
	return float64(len(a.ticks)) / duration
}

// Combined classifies the tick's order flow and returns every metric merged
// into one snapshot.
func (a *Analyzer) Combined(tick *broker.Tick, pointValue float64) Snapshot {
	flow := a.AnalyzeOrderFlow(tick)

	a.mu.Lock()
	defer a.mu.Unlock()

	pressure := a.pressureLocked(pointValue)

	spread := 0.0001
	if tick != nil && tick.Ask > 0 && tick.Bid > 0 {
		spread = tick.Ask - tick.Bid
	}
	spreadPoints := spread / pointValue

	re := a.reynoldsLocked(spreadPoints, pointValue)
	regime := RegimeLaminar
	if re > reynoldsTurbulent {
		regime = RegimeTurbulent
	}

	vpin := a.vpinLocked()

	reaction := 0.0
	if len(a.ticks) >= 2 {
		if duration := a.ticks[len(a.ticks)-1].at.Sub(a.ticks[0].at).Seconds(); duration > 0 {
			reaction = float64(len(a.ticks)) / duration
		}
	}

	return Snapshot{
		Pressure:     pressure,
		Flow:         flow,
		Reynolds:     re,
		Regime:       regime,
		NetForce:     NetForce(flow.Imbalance, pressure.Velocity),
		VPIN:         vpin,
		ReactionRate: reaction,
		Toxic:        vpin > vpinToxicThreshold,
	}
}
