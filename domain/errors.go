package domain

import "errors"

var (
	// ErrConcurrentModification signals that a sorted view observed a version
	// change since it was materialized.
	ErrConcurrentModification = errors.New("order book side modified since view was materialized")

	// ErrOverCapacity signals that a stream pool could not place every symbol.
	ErrOverCapacity = errors.New("no stream in the pool accepted the symbol")

	ErrOrderBookNotFound = errors.New("order book not found")
)
