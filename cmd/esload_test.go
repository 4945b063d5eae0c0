// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crayon13/aws-lambda/cmd"
	"github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRoot runs the root command with args and returns its stdout and
// stderr.
func execRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	rc := cmd.NewRootCommand(strings.NewReader(""), stdout, stderr)
	rc.SetArgs(args)
	err := rc.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))
}

func TestRootCommand(t *testing.T) {
	out, _, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "serve")
	assert.NotContains(t, out, "dry-run")
}

func TestRunCommandFlags(t *testing.T) {
	out, _, err := execRoot(t, "run", "--help")
	require.NoError(t, err)
	for _, flag := range []string{"--endpoints", "--batch-size", "--object-store", "--kafka-topic", "--event", "--tracing.sampler-type"} {
		assert.Contains(t, out, flag)
	}
}

func TestRunCommandConfigSources(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "loader", "data", "users", "prod", "config.json"),
		`{"fileFieldDelemeter": "|", "indexMappings": {"mappings": {"properties": {"id": {}, "name": {}}}}}`)
	writeFile(t, filepath.Join(root, "loader", "data", "users", "prod", "20201201093000.update.csv"), "id|name\n1|Alice\n")

	conf := filepath.Join(t.TempDir(), "esload.toml")
	writeFile(t, conf, `
object-store = "s3"
file-root = "`+filepath.ToSlash(root)+`"
batch-size = 10
endpoints = ["prod=localhost:9200"]

[tracing]
sampler-type = "off"
`)
	t.Setenv("ESLOAD_BATCH_SIZE", "20")

	out, _, err := execRoot(t, "run", "--config", conf, "--object-store", "file", "--dry-run",
		"s3://loader/data/users/prod/20201201093000.update.csv")
	require.NoError(t, err)
	assert.Contains(t, out, `"indexed": 0`)
	assert.Contains(t, out, `"total": 2`)

	// flag > env > config file
	assert.Equal(t, "file", cmd.Runner.ObjectStore)
	assert.Equal(t, 20, cmd.Runner.BatchSize)
	assert.Equal(t, []string{"prod=localhost:9200"}, cmd.Runner.Endpoints)
	assert.Equal(t, 60*time.Second, cmd.Runner.Timeout)
	assert.True(t, cmd.Runner.DryRun)
}

func TestRunCommandInvalidConfigFile(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "esload.toml")
	writeFile(t, conf, `bulk-size = 10`)

	_, _, err := execRoot(t, "run", "--config", conf, "s3://loader/key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid option in configuration file: bulk-size")
}

func TestRunCommandUsageOnConfigError(t *testing.T) {
	out, _, err := execRoot(t, "run", "--object-store", "gcs", "s3://loader/key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown object store "gcs"`)
	assert.Contains(t, out, "Usage:")
}

func TestServeCommandFlags(t *testing.T) {
	out, _, err := execRoot(t, "serve", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--bind")
	assert.Contains(t, out, "--handler.allowed-origins")
	assert.Equal(t, ":8080", cmd.Server.Bind)
}

func TestConfigCommandEnv(t *testing.T) {
	t.Setenv("ESLOAD_ENDPOINTS", "prod=a:9200,devel=b:9200")
	t.Setenv("ESLOAD_TRACING_SAMPLER_TYPE", "const")

	out, _, err := execRoot(t, "config", "--kafka-topic", "esload-runs")
	require.NoError(t, err)
	tree, err := toml.Load(out)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"prod=a:9200", "devel=b:9200"}, tree.Get("endpoints"))
	assert.Equal(t, "esload-runs", tree.Get("kafka-topic"))
	assert.Equal(t, "const", tree.Get("tracing.sampler-type"))
}
