// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package estest provides an in-memory search endpoint for tests. It speaks
// just enough of the index, alias and bulk APIs to load and inspect data.
package estest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crayon13/aws-lambda/esclient"
	"github.com/crayon13/aws-lambda/signer"
	"github.com/gorilla/mux"
)

// Credentials are accepted by every Server.
var Credentials = signer.Credentials{AccessKey: "AKIDTEST", SecretKey: "secret"}

// Request is a request the server received.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Server is a fake search endpoint.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	requests []Request
	indices  map[string]map[string]json.RawMessage
	settings map[string]json.RawMessage
	aliases  map[string][]string

	// Status overrides the status of requests whose "METHOD /path" prefix
	// matches a key, e.g. "PUT /users" or "POST /_bulk".
	Status map[string]int

	// ItemStatus rejects bulk items with the given ids.
	ItemStatus map[string]int
}

// NewServer starts a Server. It is closed when t ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		indices:    make(map[string]map[string]json.RawMessage),
		settings:   make(map[string]json.RawMessage),
		aliases:    make(map[string][]string),
		Status:     make(map[string]int),
		ItemStatus: make(map[string]int),
	}
	r := mux.NewRouter()
	r.HandleFunc("/_bulk", s.handleBulk).Methods(http.MethodPost)
	r.HandleFunc("/_aliases", s.handleAliases).Methods(http.MethodPost)
	r.HandleFunc("/_cat/aliases/{alias}", s.handleCatAliases).Methods(http.MethodGet)
	r.HandleFunc("/_cat/indices", s.handleCatIndices).Methods(http.MethodGet)
	r.HandleFunc("/{index}", s.handleCreate).Methods(http.MethodPut)
	r.HandleFunc("/{index}", s.handleDelete).Methods(http.MethodDelete)
	s.Server = httptest.NewServer(s.record(r))
	t.Cleanup(s.Close)
	return s
}

// Host is the host:port of the server.
func (s *Server) Host() string {
	u, _ := url.Parse(s.URL)
	return u.Host
}

// ESClient returns a signing client for the server.
func (s *Server) ESClient() *esclient.Client {
	sg := signer.New(Credentials, "us-east-1", "es", s.Host())
	return esclient.NewClient(sg, esclient.NewTransport("http", s.Host(), 0, nil))
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
		status := 0
		for prefix, st := range s.Status {
			if strings.HasPrefix(r.Method+" "+r.URL.Path, prefix) {
				status = st
			}
		}
		s.mu.Unlock()

		if err := verify(r, body); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		if status != 0 {
			writeError(w, status, "injected_failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verify recomputes the signature of r from what arrived on the wire and
// compares it with its Authorization header.
func verify(r *http.Request, body []byte) error {
	auth := r.Header.Get(signer.HeaderAuthorization)
	if auth == "" {
		return fmt.Errorf("missing_authentication_token")
	}
	prefix := signer.Algorithm + " Credential="
	if !strings.HasPrefix(auth, prefix) {
		return fmt.Errorf("unsupported_algorithm")
	}
	var credential, signedHeaders string
	for _, part := range strings.Split(strings.TrimPrefix(auth, signer.Algorithm+" "), ", ") {
		switch {
		case strings.HasPrefix(part, "Credential="):
			credential = strings.TrimPrefix(part, "Credential=")
		case strings.HasPrefix(part, "SignedHeaders="):
			signedHeaders = strings.TrimPrefix(part, "SignedHeaders=")
		}
	}
	scope := strings.Split(credential, "/")
	if len(scope) != 5 || scope[0] != Credentials.AccessKey {
		return fmt.Errorf("invalid_credential")
	}
	t, err := time.Parse(signer.TimeFormat, r.Header.Get(signer.HeaderDate))
	if err != nil || t.Format(signer.DateFormat) != scope[1] {
		return fmt.Errorf("invalid_date")
	}

	var headers []signer.Header
	for _, name := range strings.Split(signedHeaders, ";") {
		var value string
		switch http.CanonicalHeaderKey(name) {
		case signer.HeaderHost:
			value = r.Host
		case signer.HeaderContentLength:
			value = strconv.FormatInt(r.ContentLength, 10)
		default:
			value = r.Header.Get(name)
		}
		headers = append(headers, signer.Header{Name: name, Value: value})
	}
	want, _ := signer.Sign(r.Method, r.URL.Path, r.URL.Query(), headers, body, Credentials, scope[2], scope[3], t)
	if want != auth {
		return fmt.Errorf("signature_does_not_match")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":%q,"reason":%q},"status":%d}`, typ, typ, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns "METHOD /path" for every request received so far.
func (s *Server) Calls() []string {
	var out []string
	for _, r := range s.Requests() {
		out = append(out, r.Method+" "+r.Path)
	}
	return out
}

// BulkBodies returns the bodies of the bulk requests received so far.
func (s *Server) BulkBodies() [][]byte {
	var out [][]byte
	for _, r := range s.Requests() {
		if r.Path == "/_bulk" {
			out = append(out, r.Body)
		}
	}
	return out
}

// AddIndex creates index directly.
func (s *Server) AddIndex(index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indices[index] == nil {
		s.indices[index] = make(map[string]json.RawMessage)
	}
}

// BindAlias points alias at index in addition to its other indices.
func (s *Server) BindAlias(alias, index string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = append(s.aliases[alias], index)
}

// Aliased returns the indices alias points to, sorted.
func (s *Server) Aliased(alias string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.aliases[alias]...)
	sort.Strings(out)
	return out
}

// Indices returns the existing index names, sorted.
func (s *Server) Indices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.indices {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Doc returns the stored source of id in index.
func (s *Server) Doc(index, id string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.indices[index][id]
	return d, ok
}

// Count is the number of documents in index.
func (s *Server) Count(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indices[index])
}

// Settings returns the body index was created with.
func (s *Server) Settings(index string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[index]
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	index := mux.Vars(r)["index"]
	body, _ := io.ReadAll(r.Body)
	var v struct {
		Mappings map[string]interface{} `json:"mappings"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[index]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception")
		return
	}
	s.indices[index] = make(map[string]json.RawMessage)
	s.settings[index] = body
	writeJSON(w, map[string]interface{}{"acknowledged": true, "index": index})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	index := mux.Vars(r)["index"]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[index]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception")
		return
	}
	delete(s.indices, index)
	writeJSON(w, map[string]interface{}{"acknowledged": true})
}

func (s *Server) handleCatAliases(w http.ResponseWriter, r *http.Request) {
	alias := mux.Vars(r)["alias"]
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := []map[string]string{}
	for _, index := range s.aliases[alias] {
		rows = append(rows, map[string]string{"alias": alias, "index": index, "filter": "-"})
	}
	writeJSON(w, rows)
}

func (s *Server) handleCatIndices(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := []map[string]string{}
	for name := range s.indices {
		rows = append(rows, map[string]string{"index": name})
	}
	writeJSON(w, rows)
}

func (s *Server) handleAliases(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "parse_exception")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range body.Actions {
		for _, t := range a {
			if _, ok := s.indices[t.Index]; !ok {
				writeError(w, http.StatusNotFound, "index_not_found_exception")
				return
			}
		}
	}
	for _, a := range body.Actions {
		for op, t := range a {
			switch op {
			case "add":
				s.aliases[t.Alias] = append(s.aliases[t.Alias], t.Index)
			case "remove":
				var kept []string
				for _, idx := range s.aliases[t.Alias] {
					if idx != t.Index {
						kept = append(kept, idx)
					}
				}
				s.aliases[t.Alias] = kept
			}
		}
	}
	writeJSON(w, map[string]interface{}{"acknowledged": true})
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		writeError(w, http.StatusNotAcceptable, "content_type_"+ct)
		return
	}
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<24)

	s.mu.Lock()
	defer s.mu.Unlock()
	var items []map[string]interface{}
	failed := false
	for sc.Scan() {
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(sc.Bytes(), &action); err != nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception")
			return
		}
		if !sc.Scan() {
			writeError(w, http.StatusBadRequest, "action_without_source")
			return
		}
		src := append(json.RawMessage(nil), sc.Bytes()...)
		meta := action["index"]
		index := meta.Index
		if bound := s.aliases[index]; len(bound) == 1 {
			index = bound[0]
		}
		item := map[string]interface{}{"_index": index, "_id": meta.ID}
		if st, ok := s.ItemStatus[meta.ID]; ok {
			failed = true
			item["status"] = st
			item["error"] = map[string]string{"type": "mapper_parsing_exception", "reason": "rejected " + meta.ID}
		} else {
			if s.indices[index] == nil {
				s.indices[index] = make(map[string]json.RawMessage)
			}
			s.indices[index][meta.ID] = src
			item["status"] = http.StatusCreated
		}
		items = append(items, map[string]interface{}{"index": item})
	}
	writeJSON(w, map[string]interface{}{"took": 1, "errors": failed, "items": items})
}
