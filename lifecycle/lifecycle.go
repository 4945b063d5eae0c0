// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package lifecycle creates versioned indices and moves their alias.
//
// A create run builds a new index named <alias>-<timestamp>, loads it, and
// then moves the alias from the previously bound index to the new one. The
// previous index is left in place so the alias can be moved back. An update
// run writes straight into the alias and does none of this.
package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/esclient"
	"github.com/crayon13/aws-lambda/event"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/schema"
	"github.com/crayon13/aws-lambda/tracing"
)

const contentTypeJSON = "application/json"

// Manager issues the index lifecycle requests.
type Manager struct {
	client *esclient.Client
	log    logger.Logger
}

// New returns a Manager sending through client.
func New(client *esclient.Client, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NopLogger
	}
	return &Manager{client: client, log: log}
}

// WithLogger returns a copy of m logging to log.
func (m *Manager) WithLogger(log logger.Logger) *Manager {
	return &Manager{client: m.client, log: log}
}

// NeedsIndex reports whether action creates a new index and rebinds its alias.
func NeedsIndex(action event.Action) bool {
	return action == event.ActionCreate
}

type createBody struct {
	Settings map[string]interface{} `json:"settings,omitempty"`
	Mappings map[string]interface{} `json:"mappings"`
}

// CreateIndex creates index with settings and the "mappings" section of
// mapping. Anything but a 2xx answer is an error.
func (m *Manager) CreateIndex(ctx context.Context, index string, settings map[string]interface{}, mapping schema.Mapping) error {
	span, ctx := tracing.StartSpanFromContext(ctx, "Manager.CreateIndex")
	defer span.Finish()

	mappings := mapping.Mappings()
	if mappings == nil {
		return errors.Newf(errors.ErrConfig, "mapping for %s has no mappings section", index)
	}
	body, err := json.Marshal(createBody{Settings: settings, Mappings: mappings})
	if err != nil {
		return errors.WithCode(err, errors.ErrConfig, "marshaling index settings")
	}

	m.log.Infof("creating index %s", index)
	resp, err := m.client.Send(ctx, http.MethodPut, "/"+index, nil, contentTypeJSON, body)
	if err != nil {
		return errors.Wrapf(err, "creating index %s", index)
	}
	return resp.Err("creating index " + index)
}

type catAlias struct {
	Alias string `json:"alias"`
	Index string `json:"index"`
}

// BoundIndices returns the indices alias currently points to, sorted.
func (m *Manager) BoundIndices(ctx context.Context, alias string) ([]string, error) {
	resp, err := m.client.Send(ctx, http.MethodGet, "/_cat/aliases/"+alias, url.Values{"format": {"json"}}, contentTypeJSON, nil)
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrAlias, "looking up alias "+alias)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := resp.Err("looking up alias " + alias); err != nil {
		return nil, errors.WithCode(err, errors.ErrAlias, "looking up alias "+alias)
	}

	var rows []catAlias
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, errors.WithCode(err, errors.ErrAlias, "decoding aliases of "+alias)
	}
	var indices []string
	for _, r := range rows {
		if r.Alias == alias {
			indices = append(indices, r.Index)
		}
	}
	sort.Strings(indices)
	return indices, nil
}

type aliasAction struct {
	Add    *aliasTarget `json:"add,omitempty"`
	Remove *aliasTarget `json:"remove,omitempty"`
}

type aliasTarget struct {
	Index string `json:"index"`
	Alias string `json:"alias"`
}

// Rebind points alias at index, removing it from the index it was bound to,
// in one request. It returns that previous index, empty if there was none.
// More than one bound index is an error and nothing is changed. A failed
// rebind is never retried.
func (m *Manager) Rebind(ctx context.Context, alias, index string) (previous string, err error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Manager.Rebind")
	defer span.Finish()

	bound, err := m.BoundIndices(ctx, alias)
	if err != nil {
		return "", err
	}
	if len(bound) > 1 {
		return "", errors.Newf(errors.ErrAlias, "alias %s is bound to %d indices (%s), refusing to rebind", alias, len(bound), strings.Join(bound, ", "))
	}

	var actions []aliasAction
	if len(bound) == 1 {
		previous = bound[0]
		if previous == index {
			m.log.Infof("alias %s already points to %s", alias, index)
			return previous, nil
		}
		actions = append(actions, aliasAction{Remove: &aliasTarget{Index: previous, Alias: alias}})
	}
	actions = append(actions, aliasAction{Add: &aliasTarget{Index: index, Alias: alias}})

	body, err := json.Marshal(map[string]interface{}{"actions": actions})
	if err != nil {
		return "", errors.WithCode(err, errors.ErrAlias, "marshaling alias actions")
	}
	m.log.Infof("moving alias %s from %q to %s", alias, previous, index)
	resp, err := m.client.Send(ctx, http.MethodPost, "/_aliases", nil, contentTypeJSON, body)
	if err != nil {
		return previous, errors.WithCode(err, errors.ErrAlias, "rebinding alias "+alias)
	}
	if err := resp.Err("rebinding alias " + alias); err != nil {
		return previous, errors.WithCode(err, errors.ErrAlias, "rebinding alias "+alias)
	}
	return previous, nil
}

// Versions returns the names of the versioned indices of alias, sorted.
func (m *Manager) Versions(ctx context.Context, alias string) ([]string, error) {
	q := url.Values{"format": {"json"}, "h": {"index"}}
	resp, err := m.client.Send(ctx, http.MethodGet, "/_cat/indices", q, contentTypeJSON, nil)
	if err != nil {
		return nil, errors.Wrap(err, "listing indices")
	}
	if err := resp.Err("listing indices"); err != nil {
		return nil, err
	}
	var rows []struct {
		Index string `json:"index"`
	}
	if err := json.Unmarshal(resp.Body, &rows); err != nil {
		return nil, errors.WithCode(err, errors.ErrTransport, "decoding index list")
	}
	var out []string
	for _, r := range rows {
		if IsVersionOf(r.Index, alias) {
			out = append(out, r.Index)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsVersionOf reports whether index is named <alias>-YYYYMMDDhhmmss.
func IsVersionOf(index, alias string) bool {
	ts := strings.TrimPrefix(index, alias+"-")
	if ts == index || len(ts) != len(event.TimestampFormat) {
		return false
	}
	for _, c := range ts {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Prune deletes the versioned indices of alias except those in keep, and
// returns the deleted names. It stops at the first failure.
func (m *Manager) Prune(ctx context.Context, alias string, keep ...string) ([]string, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "Manager.Prune")
	defer span.Finish()

	versions, err := m.Versions(ctx, alias)
	if err != nil {
		return nil, err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		kept[k] = struct{}{}
	}

	var deleted []string
	for _, index := range versions {
		if _, ok := kept[index]; ok {
			continue
		}
		m.log.Infof("deleting old index %s", index)
		resp, err := m.client.Send(ctx, http.MethodDelete, "/"+index, nil, contentTypeJSON, nil)
		if err != nil {
			return deleted, errors.Wrapf(err, "deleting index %s", index)
		}
		if err := resp.Err("deleting index " + index); err != nil {
			return deleted, err
		}
		deleted = append(deleted, index)
	}
	return deleted, nil
}
