// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package signer builds requests for the search endpoint, signed with the
// AWS Signature Version 4 HMAC chain.
package signer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/crayon13/aws-lambda/errors"
)

const (
	// Algorithm is the algorithm tag of the string to sign and of the
	// Authorization header.
	Algorithm = "AWS4-HMAC-SHA256"

	// TimeFormat is the layout of the X-Amz-Date header.
	TimeFormat = "20060102T150405Z"

	// DateFormat is the layout of the date in the credential scope.
	DateFormat = "20060102"

	terminator = "aws4_request"

	HeaderAuthorization = "Authorization"
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderHost          = "Host"
	HeaderDate          = "X-Amz-Date"
	HeaderSecurityToken = "X-Amz-Security-Token"
)

// Credentials is the identity a request is signed with.
type Credentials struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
}

// Header is one request header, kept with the casing it was given.
type Header struct {
	Name  string
	Value string
}

// Sign computes the Authorization value for a request made of method, path,
// query, headers and body at time t, and returns it together with the
// signed header names. headers must already hold every header which is to
// be signed, including the date and security token headers.
func Sign(method, path string, query url.Values, headers []Header, body []byte, creds Credentials, region, service string, t time.Time) (authorization string, signedHeaders string) {
	t = t.UTC()
	date := t.Format(DateFormat)
	scope := strings.Join([]string{date, region, service, terminator}, "/")

	canonical, signedHeaders := CanonicalRequest(method, path, query, headers, body)

	stringToSign := strings.Join([]string{
		Algorithm,
		t.Format(TimeFormat),
		scope,
		hashHex([]byte(canonical)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(SigningKey(creds.SecretKey, date, region, service), stringToSign))

	authorization = strings.Join([]string{
		Algorithm + " Credential=" + creds.AccessKey + "/" + scope,
		"SignedHeaders=" + signedHeaders,
		"Signature=" + signature,
	}, ", ")
	return authorization, signedHeaders
}

// SigningKey derives the date, region and service scoped signing key from
// the secret key.
func SigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, terminator)
}

// CanonicalRequest returns the canonical form of a request and its signed
// header list. Header names are lower-cased and ordered case-insensitively;
// values are used as given.
func CanonicalRequest(method, path string, query url.Values, headers []Header, body []byte) (canonical string, signedHeaders string) {
	sorted := make([]Header, len(headers))
	copy(sorted, headers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})

	lines := make([]string, len(sorted))
	names := make([]string, len(sorted))
	for i, h := range sorted {
		names[i] = strings.ToLower(h.Name)
		lines[i] = names[i] + ":" + h.Value
	}
	signedHeaders = strings.Join(names, ";")

	canonical = strings.Join([]string{
		method,
		path,
		CanonicalQuery(query),
		strings.Join(lines, "\n"),
		"",
		signedHeaders,
		hashHex(body),
	}, "\n")
	return canonical, signedHeaders
}

// CanonicalQuery encodes query sorted by key then value, with spaces as %20.
// It is empty when there is no query.
func CanonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Signer creates signed requests against one host.
type Signer struct {
	Provider Provider
	Region   string
	Service  string
	Host     string

	// Now returns the signing time. It defaults to time.Now.
	Now func() time.Time
}

// New returns a Signer for host which always signs with creds.
func New(creds Credentials, region, service, host string) *Signer {
	return NewWithProvider(StaticProvider(creds), region, service, host)
}

// NewWithProvider returns a Signer for host which asks p for credentials on
// every request.
func NewWithProvider(p Provider, region, service, host string) *Signer {
	return &Signer{
		Provider: p,
		Region:   region,
		Service:  service,
		Host:     host,
		Now:      time.Now,
	}
}

// NewRequest retrieves the current credentials, fixes the Content-Type, Host, Content-Length, X-Amz-Date and,
// when a session token is present, X-Amz-Security-Token headers, then signs
// the request. Content-Length is left out of body-less GET and HEAD requests.
func (s *Signer) NewRequest(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) (*Request, error) {
	if s.Provider == nil {
		return nil, errors.New(errors.ErrConfig, "signing credentials are required")
	}
	creds, err := s.Provider.Retrieve(ctx)
	if err != nil {
		return nil, err
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, errors.New(errors.ErrConfig, "signing credentials are required")
	}
	if s.Region == "" || s.Service == "" {
		return nil, errors.New(errors.ErrConfig, "signing region and service are required")
	}
	if s.Host == "" {
		return nil, errors.New(errors.ErrConfig, "endpoint host is required")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if body == nil {
		body = []byte{}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	t := now().UTC()

	headers := []Header{
		{Name: HeaderContentType, Value: contentType},
		{Name: HeaderHost, Value: s.Host},
	}
	// net/http never sends a zero Content-Length for GET and HEAD, and a
	// signed header must be sent.
	if len(body) > 0 || (method != "GET" && method != "HEAD") {
		headers = append(headers, Header{Name: HeaderContentLength, Value: strconv.Itoa(len(body))})
	}
	headers = append(headers, Header{Name: HeaderDate, Value: t.Format(TimeFormat)})
	if creds.SessionToken != "" {
		headers = append(headers, Header{Name: HeaderSecurityToken, Value: creds.SessionToken})
	}

	auth, signed := Sign(method, path, query, headers, body, creds, s.Region, s.Service, t)

	return &Request{
		method:        method,
		path:          path,
		query:         cloneValues(query),
		body:          append([]byte(nil), body...),
		headers:       append(headers, Header{Name: HeaderAuthorization, Value: auth}),
		signedHeaders: signed,
	}, nil
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
