package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-orderbook-collector/collector"
	"github.com/spooky-finn/go-orderbook-collector/config"
	"github.com/spooky-finn/go-orderbook-collector/domain"
	"github.com/spooky-finn/go-orderbook-collector/handler"
	promclient "github.com/spooky-finn/go-orderbook-collector/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-collector/provider/binance"
	"github.com/spooky-finn/go-orderbook-collector/provider/kucoin"
	"github.com/spooky-finn/go-orderbook-collector/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %s", err)
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.DebugMode {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := domain.NewPairFilter()
	if cfg.PairRules != "" {
		filter.AddRules(cfg.PairRules)
	}

	var httpClient domain.HttpClient
	var factory domain.StreamFactory
	switch cfg.Exchange {
	case "kucoin":
		httpClient = kucoin.NewSyncAPI(cfg)
		factory = kucoin.NewStreamFactory(cfg)
	case "binance":
		httpClient = binance.NewSyncAPI(cfg.BinanceRestEndpoint)
		factory = binance.NewStreamFactory(cfg)
	default:
		logrus.Fatalf("unknown exchange: %s", cfg.Exchange)
	}

	handlers := collector.Handlers{}
	if len(cfg.KafkaBrokers) > 0 {
		snapshotHandler := handler.NewKafkaSnapshotHandler(cfg.KafkaBrokers, cfg.KafkaSnapshotTopic, cfg.KafkaSnapshotDepth)
		defer snapshotHandler.Close()
		featureHandler := handler.NewKafkaFeatureHandler(cfg.KafkaBrokers, cfg.KafkaFeaturesTopic)
		defer featureHandler.Close()

		handlers.Raw = append(handlers.Raw, snapshotHandler)
		handlers.Aggregator = handler.NewFeatureAggregator(5)
		handlers.Aggregate = append(handlers.Aggregate, featureHandler)
	} else {
		logrus.Warn("no kafka brokers configured, running without outbound handlers")
	}

	col := collector.New(cfg, httpClient, factory, filter, handlers)

	sched := scheduler.New(cfg.TickQueueLimit())
	sched.Add(&scheduler.Task{
		Name:   "collect-orderbooks",
		Period: cfg.CollectPeriod(),
		Execute: func(ctx context.Context) error {
			return col.Collect(ctx)
		},
	})

	go promclient.StartPromClientServer(cfg.MetricsAddr)

	logrus.Infof("orderbook collector started, exchange=%s", cfg.Exchange)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("shutting down")
			return
		case <-ticker.C:
			sched.Tick(ctx)
		}
	}
}
