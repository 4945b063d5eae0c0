// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package pipeline_test

import (
	"context"
	"testing"

	"github.com/crayon13/aws-lambda/pipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics(t *testing.T) {
	f := newFixture(t)
	f.runner.BatchSize = 4
	f.put(t, "data/users/prod/config.json", usersConfig)
	f.put(t, "data/users/prod/20201201093000.update.csv", "id,name\n1,a\n2,b\n3,c\n")
	f.put(t, "data/users/prod/20201202093000.update.csv", "id,email\n1,a@example.com\n")
	f.srv.ItemStatus["3"] = 400

	runsOK := testutil.ToFloat64(pipeline.CounterRuns.WithLabelValues("update", "ok"))
	runsSchema := testutil.ToFloat64(pipeline.CounterRuns.WithLabelValues("update", "SchemaError"))
	records := testutil.ToFloat64(pipeline.CounterRecords)
	bulkOK := testutil.ToFloat64(pipeline.CounterBulkRequests.WithLabelValues("ok"))
	indexed := testutil.ToFloat64(pipeline.CounterIndexedDocuments)
	failed := testutil.ToFloat64(pipeline.CounterFailedItems)

	_, err := f.runner.Run(context.Background(), bucket, "data/users/prod/20201201093000.update.csv")
	require.NoError(t, err)
	_, err = f.runner.Run(context.Background(), bucket, "data/users/prod/20201202093000.update.csv")
	require.Error(t, err)

	assert.Equal(t, runsOK+1, testutil.ToFloat64(pipeline.CounterRuns.WithLabelValues("update", "ok")))
	assert.Equal(t, runsSchema+1, testutil.ToFloat64(pipeline.CounterRuns.WithLabelValues("update", "SchemaError")))
	assert.Equal(t, bulkOK+2, testutil.ToFloat64(pipeline.CounterBulkRequests.WithLabelValues("ok")))
	assert.Equal(t, indexed+2, testutil.ToFloat64(pipeline.CounterIndexedDocuments))
	assert.Equal(t, failed+1, testutil.ToFloat64(pipeline.CounterFailedItems))
	assert.GreaterOrEqual(t, testutil.ToFloat64(pipeline.CounterRecords), records+4)
}
