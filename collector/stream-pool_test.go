package collector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-collector/domain"
)

func symbolList(n int) []string {
	symbols := make([]string, n)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%dUSDT", i)
	}
	return symbols
}

func fakeFactory(capacity int) (domain.StreamFactory, *[]*fakeStream) {
	created := &[]*fakeStream{}
	factory := func(sink domain.DiffSink) (domain.DiffStream, error) {
		s := newFakeStream(capacity)
		*created = append(*created, s)
		return s, nil
	}
	return factory, created
}

func TestStreamCount(t *testing.T) {
	assert.Equal(t, 1, StreamCount(1, 256))
	assert.Equal(t, 1, StreamCount(9, 256))
	assert.Equal(t, 4, StreamCount(10, 256))
	assert.Equal(t, 11, StreamCount(1024, 256))
	assert.Equal(t, 8, StreamCount(1024, 8))
}

func TestHashSymbols_OrderSensitive(t *testing.T) {
	a := HashSymbols([]string{"BTCUSDT", "ETHUSDT"})
	b := HashSymbols([]string{"ETHUSDT", "BTCUSDT"})
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, HashSymbols([]string{"BTCUSDT", "ETHUSDT"}))
}

func TestStreamPool_EverySymbolAssignedOnce(t *testing.T) {
	symbols := symbolList(100)
	factory, created := fakeFactory(1000)

	pool, err := NewStreamPool(symbols, factory, nullSink{}, PoolOptions{})
	require.NoError(t, err)

	assert.Equal(t, StreamCount(100, 256), pool.StreamLen())
	assert.Equal(t, HashSymbols(symbols), pool.SymbolsHash())

	seen := make(map[string]int)
	for _, s := range *created {
		for _, symbol := range s.Symbols() {
			seen[symbol]++
		}
	}
	for _, symbol := range symbols {
		assert.Equal(t, 1, seen[symbol], "symbol %s must be registered exactly once", symbol)
	}
}

func TestStreamPool_OverCapacity(t *testing.T) {
	// 12 symbols shard over 4 streams of capacity 1: placement must fail.
	factory, _ := fakeFactory(1)

	_, err := NewStreamPool(symbolList(12), factory, nullSink{}, PoolOptions{})
	assert.ErrorIs(t, err, domain.ErrOverCapacity)
}

func TestStreamPool_IdleStreamIsStopped(t *testing.T) {
	factory, created := fakeFactory(10)

	pool, err := NewStreamPool([]string{"BTCUSDT"}, factory, nullSink{}, PoolOptions{
		IdleGlobal:      50 * time.Millisecond,
		MonitorInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, *created, 1)

	(*created)[0].setLastEvent(time.Now().Add(-time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = pool.Run(ctx)
	assert.False(t, errors.Is(err, context.DeadlineExceeded), "monitor should stop the idle stream before the deadline")
	assert.True(t, pool.Exited())
}

func TestStreamPool_DisposeClearsBookkeeping(t *testing.T) {
	factory, _ := fakeFactory(10)

	pool, err := NewStreamPool([]string{"BTCUSDT"}, factory, nullSink{}, PoolOptions{})
	require.NoError(t, err)

	pool.Dispose()
	assert.Zero(t, pool.SymbolsHash())
	_, ok := pool.StreamIndex("BTCUSDT")
	assert.False(t, ok)
}
