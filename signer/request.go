// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package signer

import (
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/crayon13/aws-lambda/errors"
)

// Request is a signed request. None of its parts can change after signing,
// and it can be sent only once.
type Request struct {
	method        string
	path          string
	query         url.Values
	body          []byte
	headers       []Header
	signedHeaders string

	sent int32
}

func (r *Request) Method() string { return r.method }
func (r *Request) Path() string   { return r.path }

// Query returns a copy of the query parameters.
func (r *Request) Query() url.Values { return cloneValues(r.query) }

// Body returns a copy of the body.
func (r *Request) Body() []byte { return append([]byte(nil), r.body...) }

// Len is the body length in bytes.
func (r *Request) Len() int { return len(r.body) }

// SignedHeaders is the semicolon separated list of signed header names.
func (r *Request) SignedHeaders() string { return r.signedHeaders }

// Header returns the value of the named header, matched case-insensitively.
func (r *Request) Header(name string) string {
	for _, h := range r.headers {
		if http.CanonicalHeaderKey(h.Name) == http.CanonicalHeaderKey(name) {
			return h.Value
		}
	}
	return ""
}

// Headers returns a copy of every header, Authorization included.
func (r *Request) Headers() []Header {
	return append([]Header(nil), r.headers...)
}

// URI is the path plus the encoded query, if any.
func (r *Request) URI() string {
	if len(r.query) == 0 {
		return r.path
	}
	return r.path + "?" + r.query.Encode()
}

// MarkSent records that the request is being sent. It fails for a request
// which was already sent.
func (r *Request) MarkSent() error {
	if !atomic.CompareAndSwapInt32(&r.sent, 0, 1) {
		return errors.Newf(errors.ErrTransport, "request %s %s was already sent", r.method, r.path)
	}
	return nil
}
