package domain

import "sync"

// OrderbookStore keeps the per-symbol books. The collector exclusively owns
// the store; ingestor and repairer reach books through it.
type OrderbookStore struct {
	mu    sync.RWMutex
	books map[string]*Orderbook
	scale int32
}

func NewOrderbookStore(scale int32) *OrderbookStore {
	return &OrderbookStore{
		books: make(map[string]*Orderbook),
		scale: scale,
	}
}

func (s *OrderbookStore) Get(symbol string) (*Orderbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[symbol]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	return book, nil
}

func (s *OrderbookStore) GetOrCreate(symbol string) *Orderbook {
	s.mu.RLock()
	book, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return book
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok = s.books[symbol]; ok {
		return book
	}
	book = NewOrderbook(symbol, s.scale)
	s.books[symbol] = book
	return book
}

// NonEmpty returns every book currently holding at least one level.
func (s *OrderbookStore) NonEmpty() []*Orderbook {
	s.mu.RLock()
	books := make([]*Orderbook, 0, len(s.books))
	for _, book := range s.books {
		books = append(books, book)
	}
	s.mu.RUnlock()

	filtered := books[:0]
	for _, book := range books {
		if !book.IsEmpty() {
			filtered = append(filtered, book)
		}
	}
	return filtered
}

func (s *OrderbookStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
