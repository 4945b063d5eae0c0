// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/estest"
	"github.com/crayon13/aws-lambda/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `fileFieldDelemeter: ","
indexMappings:
  mappings:
    properties:
      id: {type: keyword}
      name: {type: text}
`

// writeObjects lays out bucket "loader" under a temporary file store root.
func writeObjects(t *testing.T, objects map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for key, data := range objects {
		p := filepath.Join(root, "loader", filepath.FromSlash(key))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0700))
		require.NoError(t, os.WriteFile(p, []byte(data), 0600))
	}
	return root
}

func testOptions(root string, es *estest.Server) LoadOptions {
	o := NewLoadOptions()
	o.ObjectStore = StoreFile
	o.FileRoot = root
	o.AccessKey = estest.Credentials.AccessKey
	o.SecretKey = estest.Credentials.SecretKey
	if es != nil {
		o.Endpoints = []string{"http://" + es.Host()}
	}
	return o
}

func newTestRunCommand(o LoadOptions) (*RunCommand, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRunCommand(strings.NewReader(""), stdout, stderr)
	cmd.LoadOptions = o
	return cmd, stdout, stderr
}

func decodeResults(t *testing.T, out *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var results []map[string]interface{}
	dec := json.NewDecoder(out)
	for dec.More() {
		var r map[string]interface{}
		require.NoError(t, dec.Decode(&r))
		results = append(results, r)
	}
	return results
}

func TestRunCommand(t *testing.T) {
	es := estest.NewServer(t)
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.create.csv": "id,name\n1,Alice\n2,Bob\n",
	})
	cmd, stdout, stderr := newTestRunCommand(testOptions(root, es))
	cmd.Objects = []string{"s3://loader/data/users/prod/20201201093000.create.csv"}

	require.NoError(t, cmd.Run(context.Background()))
	results := decodeResults(t, stdout)
	require.Len(t, results, 1)
	assert.EqualValues(t, 3, results[0]["total"])
	assert.EqualValues(t, 2, results[0]["indexed"])
	assert.Equal(t, []string{"users-20201201093000"}, es.Aliased("users"))
	assert.Contains(t, stderr.String(), "run finished")
}

func TestRunCommandEvent(t *testing.T) {
	es := estest.NewServer(t)
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.update.csv": "id,name\n1,Alice\n",
	})
	cmd, stdout, _ := newTestRunCommand(testOptions(root, es))
	cmd.CmdIO.Stdin = strings.NewReader(`{"Records":[{"eventName":"ObjectCreated:Put",
		"s3":{"bucket":{"name":"loader"},"object":{"key":"data/users/prod/20201201093000.update.csv"}}}]}`)
	cmd.EventPath = "-"

	require.NoError(t, cmd.Run(context.Background()))
	results := decodeResults(t, stdout)
	require.Len(t, results, 1)
	assert.Equal(t, "update", results[0]["action"])
	assert.Equal(t, []string{"POST /_bulk"}, es.Calls())
}

func TestRunCommandStopsAtFailure(t *testing.T) {
	es := estest.NewServer(t)
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.update.csv": "id,email\n1,a@example.com\n",
		"data/users/prod/20201202093000.update.csv": "id,name\n1,Alice\n",
	})
	cmd, stdout, _ := newTestRunCommand(testOptions(root, es))
	cmd.Objects = []string{
		"s3://loader/data/users/prod/20201201093000.update.csv",
		"s3://loader/data/users/prod/20201202093000.update.csv",
	}

	err := cmd.Run(context.Background())
	assert.True(t, errors.Is(err, errors.ErrSchema), "%v", err)
	results := decodeResults(t, stdout)
	require.Len(t, results, 1)
	assert.Equal(t, "SchemaError", results[0]["errorCode"])
	assert.Empty(t, es.Calls())
}

func TestRunCommandDryRun(t *testing.T) {
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.create.csv": "id,name\n1,Alice\n",
	})
	o := testOptions(root, nil)
	o.DryRun = true
	cmd, stdout, _ := newTestRunCommand(o)
	cmd.Objects = []string{"s3://loader/data/users/prod/20201201093000.create.csv"}

	require.NoError(t, cmd.Run(context.Background()))
	results := decodeResults(t, stdout)
	require.Len(t, results, 1)
	assert.Equal(t, "users-20201201093000", results[0]["realIndex"])
	assert.EqualValues(t, 0, results[0]["batches"])
}

func TestRunCommandConfigErrors(t *testing.T) {
	root := t.TempDir()
	for name, tc := range map[string]struct {
		objects []string
		mutate  func(o *LoadOptions)
	}{
		"no objects":     {mutate: func(o *LoadOptions) {}},
		"bad url":        {objects: []string{"loader/data/users/prod/20201201093000.create.csv"}, mutate: func(o *LoadOptions) {}},
		"unknown store":  {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.ObjectStore = "gcs" }},
		"no file root":   {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.FileRoot = "" }},
		"no endpoints":   {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.Endpoints = nil }},
		"half keys":      {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.SecretKey = "" }},
		"bad sampler":    {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.Tracing.SamplerType = "always" }},
		"topic only":     {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.KafkaTopic = "esload-runs" }},
		"minio no host":  {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.ObjectStore = StoreMinio }},
		"bad endpoint":   {objects: []string{"s3://loader/k"}, mutate: func(o *LoadOptions) { o.Endpoints = []string{"prod="} }},
		"missing bucket": {objects: []string{"s3:///k"}, mutate: func(o *LoadOptions) {}},
	} {
		t.Run(name, func(t *testing.T) {
			o := testOptions(root, nil)
			o.Endpoints = []string{"localhost:9200"}
			tc.mutate(&o)
			cmd, _, _ := newTestRunCommand(o)
			cmd.Objects = tc.objects
			err := cmd.Run(context.Background())
			assert.True(t, errors.Is(err, errors.ErrConfig), "%v", err)
		})
	}
}

func TestParseObjectURL(t *testing.T) {
	obj, err := ParseObjectURL("s3://loader/data/users/prod/20201201093000.create.csv")
	require.NoError(t, err)
	assert.Equal(t, event.Object{Bucket: "loader", Key: "data/users/prod/20201201093000.create.csv"}, obj)

	for _, u := range []string{"", "s3://", "s3://loader", "s3://loader/", "https://loader/key"} {
		_, err := ParseObjectURL(u)
		assert.Error(t, err, u)
	}
}

func TestRunCommandLogPath(t *testing.T) {
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.update.csv": "id,name\n1,Alice\n",
	})
	o := testOptions(root, nil)
	o.DryRun = true
	o.Verbose = true
	o.LogPath = filepath.Join(t.TempDir(), "esload.log")
	cmd, _, stderr := newTestRunCommand(o)
	cmd.Objects = []string{"s3://loader/data/users/prod/20201201093000.update.csv"}

	require.NoError(t, cmd.Run(context.Background()))
	data, err := os.ReadFile(o.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DEBUG: header: id,name")
	assert.Contains(t, string(data), "run finished")
	assert.Empty(t, stderr.String())
}
