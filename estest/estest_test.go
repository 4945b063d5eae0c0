// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package estest_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/crayon13/aws-lambda/esclient"
	"github.com/crayon13/aws-lambda/estest"
	"github.com/crayon13/aws-lambda/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerAcceptsSignedRequests(t *testing.T) {
	srv := estest.NewServer(t)
	c := srv.ESClient()
	ctx := context.Background()

	resp, err := c.Send(ctx, http.MethodPut, "/users-20201201093000", nil, "application/json", []byte(`{"mappings":{}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))

	q := url.Values{"format": []string{"json"}, "h": []string{"index,health"}}
	resp, err = c.Send(ctx, http.MethodGet, "/_cat/indices", q, "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))

	// Session tokens and other regions are signed too.
	creds := estest.Credentials
	creds.SessionToken = "token"
	c = esclient.NewClient(signer.New(creds, "ap-northeast-2", "es", srv.Host()), esclient.NewTransport("http", srv.Host(), 0, nil))
	resp, err = c.Send(ctx, http.MethodDelete, "/users-20201201093000", nil, "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))
}

func TestServerRejectsBadSignatures(t *testing.T) {
	srv := estest.NewServer(t)
	ctx := context.Background()
	body := []byte("{\"index\":{\"_index\":\"users\",\"_id\":\"1\"}}\n{\"id\":\"1\"}\n")

	wrong := estest.Credentials
	wrong.SecretKey = "not-the-secret"
	c := esclient.NewClient(signer.New(wrong, "us-east-1", "es", srv.Host()), esclient.NewTransport("http", srv.Host(), 0, nil))
	resp, err := c.Send(ctx, http.MethodPost, "/_bulk", nil, "application/x-ndjson", body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(resp.Body), "signature_does_not_match")

	// A body changed after signing, with the signed length kept.
	req, err := signer.New(estest.Credentials, "us-east-1", "es", srv.Host()).NewRequest(ctx, http.MethodPost, "/_bulk", nil, "application/x-ndjson", body)
	require.NoError(t, err)
	tampered := bytes.Replace(body, []byte(`"1"}`), []byte(`"2"}`), -1)
	hreq, err := http.NewRequest(http.MethodPost, srv.URL+"/_bulk", bytes.NewReader(tampered))
	require.NoError(t, err)
	for _, h := range req.Headers() {
		if h.Name != signer.HeaderHost && h.Name != signer.HeaderContentLength {
			hreq.Header.Set(h.Name, h.Value)
		}
	}
	hresp, err := http.DefaultClient.Do(hreq)
	require.NoError(t, err)
	out, _ := io.ReadAll(hresp.Body)
	hresp.Body.Close()
	assert.Equal(t, http.StatusForbidden, hresp.StatusCode)
	assert.Contains(t, string(out), "signature_does_not_match")

	hresp, err = http.Post(srv.URL+"/_bulk", "application/x-ndjson", bytes.NewReader(body))
	require.NoError(t, err)
	out, _ = io.ReadAll(hresp.Body)
	hresp.Body.Close()
	assert.Equal(t, http.StatusForbidden, hresp.StatusCode)
	assert.Contains(t, string(out), "missing_authentication_token")
}
