package domain

import (
	"sync"
	"time"
)

type Side int

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// Orderbook mirrors one symbol's level-2 book. Both sides are keyed by
// PriceRoundKey; every mutation of a side bumps that side's version counter so
// sorted views can detect concurrent writes.
//
// A single mutex guards compound operations. lastUpdateID is the highest
// sequence number ever applied, except after ApplySnapshot, which is
// authoritative at fetch time and assigns it outright.
type Orderbook struct {
	symbol string
	scale  int32

	mu           sync.Mutex
	bids         map[PriceRoundKey]*BookEntry
	asks         map[PriceRoundKey]*BookEntry
	bidsVersion  uint64
	asksVersion  uint64
	lastUpdateID int64
}

func NewOrderbook(symbol string, scale int32) *Orderbook {
	return &Orderbook{
		symbol: symbol,
		scale:  scale,
		bids:   make(map[PriceRoundKey]*BookEntry),
		asks:   make(map[PriceRoundKey]*BookEntry),
	}
}

func (ob *Orderbook) Symbol() string { return ob.symbol }
func (ob *Orderbook) Scale() int32   { return ob.scale }

func (ob *Orderbook) LastUpdateID() int64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.lastUpdateID
}

func (ob *Orderbook) IsEmpty() bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.bids) == 0 && len(ob.asks) == 0
}

// ApplyDiff applies one depth update and reports whether it gapped: the diff
// does not continue the applied sequence, or the book had no levels at all.
// The diff is applied regardless; gap repair happens via snapshot reconciliation.
func (ob *Orderbook) ApplyDiff(d *DiffEnvelope) (gapped bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	gapped = d.FirstID > ob.lastUpdateID+1 || (len(ob.bids) == 0 && len(ob.asks) == 0)

	if ob.applyLevels(ob.bids, d.Bids, d.FinalID, d.EventTime) {
		ob.bidsVersion++
	}
	if ob.applyLevels(ob.asks, d.Asks, d.FinalID, d.EventTime) {
		ob.asksVersion++
	}

	if d.FinalID > ob.lastUpdateID {
		ob.lastUpdateID = d.FinalID
	}

	return gapped
}

func (ob *Orderbook) applyLevels(side map[PriceRoundKey]*BookEntry, changes []PriceLevel, finalID int64, eventTime time.Time) bool {
	mutated := false

	for _, level := range changes {
		key := NewPriceRoundKey(level.Price, ob.scale)

		if level.Quantity.IsZero() {
			if _, ok := side[key]; ok {
				delete(side, key)
				mutated = true
			}
			continue
		}

		if entry, ok := side[key]; ok {
			entry.Quantity = level.Quantity
			entry.Time = eventTime
			entry.UpdateCount++
			entry.LastUpdateID = finalID
		} else {
			side[key] = &BookEntry{
				Price:        level.Price,
				Quantity:     level.Quantity,
				Time:         eventTime,
				UpdateCount:  1,
				LastUpdateID: finalID,
			}
		}
		mutated = true
	}

	return mutated
}

// ApplySnapshot reseeds the book from an authoritative snapshot. Levels whose
// lastUpdateID is strictly older than the snapshot and whose price is absent
// from it are dropped; levels present in the snapshot are overwritten. The
// book's lastUpdateID becomes the snapshot's, even when lower.
func (ob *Orderbook) ApplySnapshot(s *SnapshotResponse, now time.Time) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.reseedSide(ob.bids, s.Bids, s.LastUpdateID, now)
	ob.reseedSide(ob.asks, s.Asks, s.LastUpdateID, now)

	ob.bidsVersion++
	ob.asksVersion++
	ob.lastUpdateID = s.LastUpdateID
}

func (ob *Orderbook) reseedSide(side map[PriceRoundKey]*BookEntry, levels []PriceLevel, snapshotID int64, now time.Time) {
	incoming := make(map[PriceRoundKey]PriceLevel, len(levels))
	for _, level := range levels {
		if level.Quantity.IsZero() {
			continue
		}
		incoming[NewPriceRoundKey(level.Price, ob.scale)] = level
	}

	for key, entry := range side {
		if entry.LastUpdateID < snapshotID {
			if _, present := incoming[key]; !present {
				delete(side, key)
			}
		}
	}

	for key, level := range incoming {
		if entry, ok := side[key]; ok {
			entry.Quantity = level.Quantity
			entry.Time = now
			entry.UpdateCount++
			entry.LastUpdateID = snapshotID
		} else {
			side[key] = &BookEntry{
				Price:        level.Price,
				Quantity:     level.Quantity,
				Time:         now,
				UpdateCount:  1,
				LastUpdateID: snapshotID,
			}
		}
	}
}

// DropOutdated removes levels whose last event time is before cutoff.
func (ob *Orderbook) DropOutdated(cutoff time.Time) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if dropOlderThan(ob.bids, cutoff) {
		ob.bidsVersion++
	}
	if dropOlderThan(ob.asks, cutoff) {
		ob.asksVersion++
	}
}

func dropOlderThan(side map[PriceRoundKey]*BookEntry, cutoff time.Time) bool {
	mutated := false
	for key, entry := range side {
		if entry.Time.Before(cutoff) {
			delete(side, key)
			mutated = true
		}
	}
	return mutated
}

// ResetStatistics zeroes per-level update counters. Quantities and side
// versions are untouched.
func (ob *Orderbook) ResetStatistics() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for _, entry := range ob.bids {
		entry.UpdateCount = 0
	}
	for _, entry := range ob.asks {
		entry.UpdateCount = 0
	}
}

// Views returns fresh, unmaterialized sorted views over both sides.
func (ob *Orderbook) Views() (bids *SortedView, asks *SortedView) {
	return newSortedView(ob, SideBid), newSortedView(ob, SideAsk)
}

func (ob *Orderbook) sideMap(side Side) map[PriceRoundKey]*BookEntry {
	if side == SideBid {
		return ob.bids
	}
	return ob.asks
}

func (ob *Orderbook) sideVersionLocked(side Side) uint64 {
	if side == SideBid {
		return ob.bidsVersion
	}
	return ob.asksVersion
}

// SideVersion reads one side's version counter.
func (ob *Orderbook) SideVersion(side Side) uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.sideVersionLocked(side)
}

// Depth reports the number of levels per side.
func (ob *Orderbook) Depth() (bids int, asks int) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.bids), len(ob.asks)
}
