// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package esclient sends signed requests to a search endpoint.
package esclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	esload "github.com/crayon13/aws-lambda"
	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/signer"
	"github.com/crayon13/aws-lambda/tracing"
)

// DefaultTimeout bounds a single round trip.
const DefaultTimeout = 60 * time.Second

const maxErrorBody = 512

// Response is the answer to a request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a transport error for a non-2xx response, nil otherwise.
func (r *Response) Err(what string) error {
	if r.OK() {
		return nil
	}
	body := string(r.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return errors.Newf(errors.ErrTransport, "%s: status %d: %s", what, r.StatusCode, strings.TrimSpace(body))
}

// Doer performs signed requests.
type Doer interface {
	Do(ctx context.Context, req *signer.Request) (*Response, error)
}

// Transport performs signed requests over HTTP. It never retries.
type Transport struct {
	Scheme string
	Host   string
	HTTP   *http.Client
	Logger logger.Logger
}

// NewTransport returns a Transport for scheme://host.
func NewTransport(scheme, host string, timeout time.Duration, log logger.Logger) *Transport {
	if scheme == "" {
		scheme = "https"
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Transport{
		Scheme: scheme,
		Host:   host,
		HTTP:   &http.Client{Timeout: timeout},
		Logger: log,
	}
}

// Do sends req. A network failure is a transport error; a non-2xx status
// is returned as a Response for the caller to judge.
func (t *Transport) Do(ctx context.Context, req *signer.Request) (*Response, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Transport.Do")
	defer span.Finish()
	span.LogKV("method", req.Method(), "path", req.Path())

	if err := req.MarkSent(); err != nil {
		return nil, err
	}

	u := &url.URL{Scheme: t.Scheme, Host: t.Host, Path: req.Path()}
	// The query is sent exactly as it was signed.
	u.RawQuery = signer.CanonicalQuery(req.Query())

	var body io.Reader = http.NoBody
	if req.Len() > 0 {
		body = bytes.NewReader(req.Body())
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method(), u.String(), body)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrTransport, "creating request")
	}
	for _, h := range req.Headers() {
		switch http.CanonicalHeaderKey(h.Name) {
		case signer.HeaderHost:
			hreq.Host = h.Value
		case signer.HeaderContentLength:
			// Set from the body.
		default:
			hreq.Header.Set(h.Name, h.Value)
		}
	}
	hreq.ContentLength = int64(req.Len())
	hreq.Header.Set("User-Agent", esload.UserAgent())
	hreq.Header.Set("Accept", "application/json")
	tracing.GlobalTracer.InjectHTTPHeaders(hreq)

	start := time.Now()
	resp, err := t.HTTP.Do(hreq)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrTransport, fmt.Sprintf("%s %s", req.Method(), req.Path()))
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrTransport, "reading response body")
	}
	t.Logger.Debugf("%s %s: %d in %v", req.Method(), req.URI(), resp.StatusCode, time.Since(start))
	span.LogKV("status", resp.StatusCode)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       buf,
	}, nil
}

// Client signs and sends requests.
type Client struct {
	Signer *signer.Signer
	Doer   Doer
}

// NewClient returns a Client.
func NewClient(s *signer.Signer, d Doer) *Client {
	return &Client{Signer: s, Doer: d}
}

// Send signs a request and performs it.
func (c *Client) Send(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) (*Response, error) {
	req, err := c.Signer.NewRequest(ctx, method, path, query, contentType, body)
	if err != nil {
		return nil, err
	}
	return c.Doer.Do(ctx, req)
}
