package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Exchange)
	assert.Equal(t, 5*time.Minute, cfg.SymbolsExpiry())
	assert.Equal(t, 240*time.Hour, cfg.EntryExpiry())
	assert.Equal(t, 8192, cfg.DiffQueueCapacity)
	assert.Equal(t, 32, cfg.ParallelBatchThreshold)
	assert.Equal(t, 10*time.Millisecond, cfg.PostBatchSleep())
	assert.Equal(t, 5*time.Second, cfg.RepairPoll())
	assert.Equal(t, 20*time.Second, cfg.StreamIdleGlobal())
	assert.Equal(t, time.Minute, cfg.StreamIdleSymbol())
	assert.Equal(t, 2*time.Minute, cfg.StreamWarmup())
	assert.Equal(t, 256, cfg.MaxStreams)
	assert.Equal(t, 5000, cfg.SnapshotDepthLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("EXCHANGE", "kucoin")
	t.Setenv("REPAIR_POLL_MS", "1000")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "kucoin", cfg.Exchange)
	assert.Equal(t, time.Second, cfg.RepairPoll())
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
}

func TestTickQueueLimit(t *testing.T) {
	cfg := &Config{MaxTickQueue: 7}
	assert.Equal(t, 7, cfg.TickQueueLimit())

	cfg = &Config{}
	limit := cfg.TickQueueLimit()
	assert.GreaterOrEqual(t, limit, 2)
	assert.LessOrEqual(t, limit, 32)
}
