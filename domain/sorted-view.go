package domain

import (
	"sort"
	"time"
)

// Materialization retries before falling back to sorting under the book lock.
const sortedViewMaxRetries = 8

// SortedView is a lazy, snapshot-consistent sorted projection over one side of
// a book. It captures the side's version counter at materialization time and a
// sorted copy of the side's keys; the sort runs outside the write lock and is
// retried while writers race it.
//
// Views are borrowed by handlers for the duration of one dispatch and must not
// be retained past the call.
type SortedView struct {
	book *Orderbook
	side Side

	materialized    bool
	capturedVersion uint64
	keys            []PriceRoundKey
}

func newSortedView(book *Orderbook, side Side) *SortedView {
	return &SortedView{book: book, side: side}
}

func (v *SortedView) Side() Side { return v.side }

// Materialize copies the side's non-empty keys under the book lock, then sorts
// them outside it: ascending for asks, descending for bids.
func (v *SortedView) Materialize() {
	v.book.mu.Lock()
	side := v.book.sideMap(v.side)
	keys := make([]PriceRoundKey, 0, len(side))
	for key, entry := range side {
		if entry.Quantity.Sign() > 0 {
			keys = append(keys, key)
		}
	}
	version := v.book.sideVersionLocked(v.side)
	v.book.mu.Unlock()

	v.sortKeys(keys)
	v.keys = keys
	v.capturedVersion = version
	v.materialized = true
}

func (v *SortedView) sortKeys(keys []PriceRoundKey) {
	if v.side == SideAsk {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	} else {
		sort.Slice(keys, func(i, j int) bool { return keys[i] > keys[j] })
	}
}

// Enforce materializes until the captured version still matches the side
// version after the sort, guaranteeing snapshot consistency against concurrent
// writers without holding the write lock through the sort. The retry count is
// bounded; past it the whole materialization runs under the lock.
func (v *SortedView) Enforce() {
	for i := 0; i < sortedViewMaxRetries; i++ {
		v.Materialize()
		if v.capturedVersion == v.book.SideVersion(v.side) {
			return
		}
	}

	v.materializeLocked()
}

func (v *SortedView) materializeLocked() {
	v.book.mu.Lock()
	defer v.book.mu.Unlock()

	side := v.book.sideMap(v.side)
	keys := make([]PriceRoundKey, 0, len(side))
	for key, entry := range side {
		if entry.Quantity.Sign() > 0 {
			keys = append(keys, key)
		}
	}
	v.sortKeys(keys)
	v.keys = keys
	v.capturedVersion = v.book.sideVersionLocked(v.side)
	v.materialized = true
}

// Len reports the number of cached keys. Zero before materialization.
func (v *SortedView) Len() int { return len(v.keys) }

// Entries resolves the cached keys to book entries in sorted order. A key
// removed since materialization yields a synthetic zero-quantity entry carrying
// the key's price and now, which consumers treat as "level vanished mid-view".
func (v *SortedView) Entries(now time.Time) []BookEntry {
	if !v.materialized {
		v.Enforce()
	}

	entries := make([]BookEntry, 0, len(v.keys))

	v.book.mu.Lock()
	side := v.book.sideMap(v.side)
	for _, key := range v.keys {
		if entry, ok := side[key]; ok {
			entries = append(entries, *entry)
		} else {
			entries = append(entries, BookEntry{
				Price: key.Price(v.book.scale),
				Time:  now,
			})
		}
	}
	v.book.mu.Unlock()

	return entries
}

// CheckConcurrentModification reports ErrConcurrentModification when the side
// has been mutated since the view was materialized. For callers that demand
// strict consistency over their iteration.
func (v *SortedView) CheckConcurrentModification() error {
	if !v.materialized {
		return nil
	}
	if v.capturedVersion != v.book.SideVersion(v.side) {
		return ErrConcurrentModification
	}
	return nil
}
