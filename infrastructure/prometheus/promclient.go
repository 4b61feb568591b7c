package promclient

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var OpenOrderBooksGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "collector_open_order_books",
		Help: "number of symbols with a live in-memory book",
	},
)

var PendingRepairsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "collector_pending_repairs",
		Help: "symbols flagged for http snapshot resync",
	},
)

var DiffQueueDepthGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "collector_diff_queue_depth",
		Help: "depth updates waiting in the ingest queue",
	},
)

var AppliedDiffsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "collector_applied_diffs_total",
		Help: "depth updates applied to books",
	},
)

var DetectedGapsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "collector_detected_gaps_total",
		Help: "sequence gaps flagged during ingest",
	},
)

var AppliedSnapshotsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "collector_applied_snapshots_total",
		Help: "http snapshots applied during repair",
	},
)

var DroppedEnvelopesCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "collector_dropped_envelopes_total",
		Help: "depth updates dropped because the ingest queue was full",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(OpenOrderBooksGauge)
	reg.MustRegister(PendingRepairsGauge)
	reg.MustRegister(DiffQueueDepthGauge)
	reg.MustRegister(AppliedDiffsCounter)
	reg.MustRegister(DetectedGapsCounter)
	reg.MustRegister(AppliedSnapshotsCounter)
	reg.MustRegister(DroppedEnvelopesCounter)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	logrus.Printf("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		logrus.Fatalf("failed to serve: %v", err)
	}
}
