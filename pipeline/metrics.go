// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package pipeline

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricRuns             = "runs_total"
	MetricRecords          = "records_total"
	MetricBulkRequests     = "bulk_requests_total"
	MetricIndexedDocuments = "indexed_documents_total"
	MetricFailedItems      = "failed_items_total"
	MetricRunDuration      = "run_duration_seconds"
)

var CounterRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "esload",
		Name:      MetricRuns,
		Help:      "Runs by action and outcome code.",
	},
	[]string{
		"action",
		"result",
	},
)

var CounterRecords = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "esload",
		Name:      MetricRecords,
		Help:      "Lines read from source objects, headers included.",
	},
)

var CounterBulkRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "esload",
		Name:      MetricBulkRequests,
		Help:      "Bulk requests by outcome.",
	},
	[]string{
		"result",
	},
)

var CounterIndexedDocuments = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "esload",
		Name:      MetricIndexedDocuments,
		Help:      "Bulk items accepted by the search endpoint.",
	},
)

var CounterFailedItems = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "esload",
		Name:      MetricFailedItems,
		Help:      "Bulk items rejected by the search endpoint.",
	},
)

var HistogramRunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "esload",
		Name:      MetricRunDuration,
		Help:      "Wall time of a run.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	},
	[]string{
		"action",
	},
)

func init() {
	prometheus.MustRegister(CounterRuns)
	prometheus.MustRegister(CounterRecords)
	prometheus.MustRegister(CounterBulkRequests)
	prometheus.MustRegister(CounterIndexedDocuments)
	prometheus.MustRegister(CounterFailedItems)
	prometheus.MustRegister(HistogramRunDuration)
}
