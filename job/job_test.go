// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package job_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/event"
	"github.com/crayon13/aws-lambda/job"
	"github.com/crayon13/aws-lambda/objstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configJSON = `{
	"fileFieldDelemeter": "|",
	"indexMappings": {"mappings": {"properties": {"id": {"type": "keyword"}, "name": {"type": "text"}}}},
	"indexSettings": {"number_of_shards": 1},
	"profiles": {"prod": {"indexSettings": {"settings": {"number_of_shards": 5, "number_of_replicas": 2}}}}
}`

const configYAML = `
fileFieldDelemeter: "\t"
indexMappings:
  mappings:
    properties:
      id:
        type: keyword
indexSettings:
  number_of_shards: 3
`

func writeObject(t *testing.T, root, key, data string) {
	t.Helper()
	p := filepath.Join(root, "loader", filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
	require.NoError(t, os.WriteFile(p, []byte(data), 0600))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeObject(t, root, "data/users/prod/config.json", configJSON)
	writeObject(t, root, "data/users/devel/config.json", configJSON)
	store := objstore.NewFileStore(root)

	cfg, err := job.Resolve(ctx, store, "loader", "data/users/prod/20201201093000.create.csv", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, "users", cfg.Index)
	assert.Equal(t, "users-20201201093000", cfg.RealIndex)
	assert.Equal(t, "prod", cfg.Profile)
	assert.Equal(t, "|", cfg.Delimiter)
	assert.Equal(t, event.ActionCreate, cfg.Action)
	assert.Equal(t, time.Date(2020, 12, 1, 9, 30, 0, 0, time.UTC), cfg.Time)
	assert.Equal(t, "data/users/prod/config.json", cfg.ConfigKey)
	assert.Equal(t, []string{"id", "name"}, cfg.Mapping.Fields())
	assert.Equal(t, map[string]interface{}{"number_of_shards": float64(5), "number_of_replicas": float64(2)}, cfg.Settings)

	// devel has no profile entry and gets the shared settings.
	cfg, err = job.Resolve(ctx, store, "loader", "data/users/devel/20201201093000.update.csv", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, "users", cfg.RealIndex)
	assert.Equal(t, map[string]interface{}{"number_of_shards": float64(1)}, cfg.Settings)
}

func TestResolveYAML(t *testing.T) {
	root := t.TempDir()
	writeObject(t, root, "data/logs/prod/config.yaml", configYAML)
	store := objstore.NewFileStore(root)

	cfg, err := job.Resolve(context.Background(), store, "loader", "data/logs/prod/20210101000000.create.tsv", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, "\t", cfg.Delimiter)
	assert.Equal(t, "data/logs/prod/config.yaml", cfg.ConfigKey)
	assert.Equal(t, []string{"id"}, cfg.Mapping.Fields())
	assert.Equal(t, map[string]interface{}{"number_of_shards": 3}, cfg.Settings)
}

func TestResolveErrors(t *testing.T) {
	root := t.TempDir()
	writeObject(t, root, "data/users/prod/config.json", configJSON)
	writeObject(t, root, "data/nodelim/prod/config.json", `{"indexMappings":{"mappings":{"properties":{"id":{}}}},"fileFieldDelemeter":",,"}`)
	writeObject(t, root, "data/nomap/prod/config.json", `{"fileFieldDelemeter":","}`)
	writeObject(t, root, "data/noprops/prod/config.json", `{"indexMappings":{"settings":{}},"fileFieldDelemeter":","}`)
	writeObject(t, root, "data/broken/prod/config.json", `{"indexMappings":`)
	store := objstore.NewFileStore(root)

	tests := []struct {
		name string
		key  string
		opts job.Options
		code errors.Code
	}{
		{name: "bad key", key: "data/users/20201201093000.create.csv", code: errors.ErrConfig},
		{name: "bad action", key: "data/users/prod/20201201093000.merge.csv", code: errors.ErrConfig},
		{name: "no config object", key: "data/orders/prod/20201201093000.create.csv", code: errors.ErrConfig},
		{name: "named config object missing", key: "data/users/prod/20201201093000.create.csv", opts: job.Options{ConfigFileName: "loader.yaml"}, code: errors.ErrConfig},
		{name: "delimiter", key: "data/nodelim/prod/20201201093000.create.csv", code: errors.ErrConfig},
		{name: "no mapping", key: "data/nomap/prod/20201201093000.create.csv", code: errors.ErrConfig},
		{name: "no properties", key: "data/noprops/prod/20201201093000.create.csv", code: errors.ErrConfig},
		{name: "broken json", key: "data/broken/prod/20201201093000.create.csv", code: errors.ErrConfig},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := job.Resolve(context.Background(), store, "loader", test.key, test.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, test.code), "%v", err)
		})
	}

	_, err := job.Resolve(context.Background(), store, "", "data/users/prod/20201201093000.create.csv", job.Options{})
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestSetFieldNamesOnce(t *testing.T) {
	cfg := &job.Config{}
	assert.Nil(t, cfg.FieldNames())
	require.NoError(t, cfg.SetFieldNames([]string{"id", "name"}))
	assert.Equal(t, []string{"id", "name"}, cfg.FieldNames())

	err := cfg.SetFieldNames([]string{"other"})
	assert.True(t, errors.Is(err, errors.ErrSchema))
	assert.Equal(t, []string{"id", "name"}, cfg.FieldNames())
}

func TestResultMarshalJSON(t *testing.T) {
	r := &job.Result{
		RunID:    "run-1",
		Index:    "users",
		Total:    3,
		Indexed:  2,
		Batches:  1,
		Duration: 1500 * time.Millisecond,
		Err:      errors.New(errors.ErrAlias, "alias users is bound to 2 indices"),
	}
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "run-1", m["runId"])
	assert.Equal(t, float64(2), m["indexed"])
	assert.Equal(t, "1.5s", m["duration"])
	assert.Equal(t, "AliasError", m["errorCode"])
	assert.Equal(t, "alias users is bound to 2 indices", m["error"])
	assert.NotContains(t, m, "warningCode")
	assert.False(t, r.OK())
	assert.Equal(t, "total=3 indexed=2 batches=1 batchesFailed=0 failedItems=0", r.String())
}

func TestResultWarningCode(t *testing.T) {
	r := &job.Result{RunID: "run-2", Total: 6, Indexed: 3, FailedItems: 2, Batches: 3}
	assert.Equal(t, errors.ErrPartialBulk, r.WarningCode())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "PartialBulkFailure", m["warningCode"])
	assert.NotContains(t, m, "errorCode")

	r.FailedItems = 0
	assert.Equal(t, errors.Code(""), r.WarningCode())

	r.FailedItems = 2
	r.Err = errors.New(errors.ErrTransport, "POST /_bulk: 503")
	assert.Equal(t, errors.Code(""), r.WarningCode())
}
