// plan/store.go
//
// In-memory store of per-bucket recovery plans: the hedge-level counter,
// the pre-communicated trigger prices per level, and the ATR captured at
// bucket entry. A bucket is one anchor position plus its hedges, keyed
// "SYMBOL_firstTicket".
package plan

import (
	"sync"

	"zone_recovery_go/logs"
)

type bucketPlan struct {
	hedgeLevel int
	triggers   map[int]float64
	entryATR   float64
	hasATR     bool
}

// Store holds every active bucket's plan. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*bucketPlan
}

func NewStore() *Store {
	return &Store{buckets: make(map[string]*bucketPlan)}
}

func (s *Store) get(bucketID string) *bucketPlan {
	p, ok := s.buckets[bucketID]
	if !ok {
		p = &bucketPlan{triggers: make(map[int]float64)}
		s.buckets[bucketID] = p
	}
	return p
}

// HedgeLevel returns the bucket's current hedge level, zero for unknown buckets.
func (s *Store) HedgeLevel(bucketID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.buckets[bucketID]; ok {
		return p.hedgeLevel
	}
	return 0
}

// SetHedgeLevel records the bucket's hedge level after a fill.
func (s *Store) SetHedgeLevel(bucketID string, level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(bucketID).hedgeLevel = level
}

// TriggerPrice returns the stored trigger for a bucket level, if one was set.
func (s *Store) TriggerPrice(bucketID string, level int) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.buckets[bucketID]; ok {
		v, ok := p.triggers[level]
		return v, ok
	}
	return 0, false
}

// SetTriggerPrice stores a pre-communicated trigger for a bucket level.
func (s *Store) SetTriggerPrice(bucketID string, level int, price float64) {
	if price <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(bucketID).triggers[level] = price
	logs.Debugf("[Plan] %s level %d trigger stored @ %.5f", bucketID, level, price)
}

// EntryATR returns the ATR captured when the bucket was opened.
func (s *Store) EntryATR(bucketID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.buckets[bucketID]; ok && p.hasATR {
		return p.entryATR, true
	}
	return 0, false
}

// SetEntryATR records the entry ATR once; later calls are ignored so the
// fallback stays anchored to the bucket's opening conditions.
func (s *Store) SetEntryATR(bucketID string, atr float64) {
	if atr <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.get(bucketID)
	if !p.hasATR {
		p.entryATR = atr
		p.hasATR = true
	}
}

// Remove drops a bucket's plan once the bucket is fully closed.
func (s *Store) Remove(bucketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, bucketID)
}

// Buckets lists the bucket ids with live plans.
func (s *Store) Buckets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buckets))
	for id := range s.buckets {
		out = append(out, id)
	}
	return out
}
