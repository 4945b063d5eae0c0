// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/crayon13/aws-lambda/estest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCommand(t *testing.T) {
	es := estest.NewServer(t)
	root := writeObjects(t, map[string]string{
		"data/users/prod/config.yaml":               testConfig,
		"data/users/prod/20201201093000.create.csv": "id,name\n1,Alice\n2,Bob\n",
	})
	stderr := &bytes.Buffer{}
	cmd := NewServeCommand(strings.NewReader(""), &bytes.Buffer{}, stderr)
	cmd.LoadOptions = testOptions(root, es)
	cmd.Bind = "127.0.0.1:0"
	cmd.CloseTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.Run(ctx) }()

	select {
	case <-cmd.Started:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Post("http://"+cmd.Addr().String()+"/events", "application/json", strings.NewReader(`{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"loader"},"object":{"key":"data/users/prod/20201201093000.create.csv"}}}]}`))
	require.NoError(t, err)
	var out struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, out.Results, 1)
	assert.EqualValues(t, 2, out.Results[0]["indexed"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Contains(t, stderr.String(), "listening on 127.0.0.1:")
	assert.Contains(t, stderr.String(), "shutting down")
}

func TestServeCommandBindError(t *testing.T) {
	cmd := NewServeCommand(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	cmd.LoadOptions = testOptions(t.TempDir(), nil)
	cmd.Endpoints = []string{"localhost:9200"}
	cmd.Bind = "256.0.0.1:0"
	assert.Error(t, cmd.Run(context.Background()))
}
