// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package bulk

import (
	"encoding/json"
	"fmt"

	"github.com/crayon13/aws-lambda/errors"
)

// Response is the body of a bulk response.
type Response struct {
	Took   int64  `json:"took"`
	Errors bool   `json:"errors"`
	Items  []Item `json:"items"`
}

// Item is the outcome of a single operation.
type Item struct {
	Op     string
	Index  string
	ID     string
	Status int
	Error  *ItemError
}

// ItemError is the failure reported for an item.
type ItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *ItemError) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

type itemResult struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// UnmarshalJSON decodes the single-key {"<op>": {...}} form of an item.
func (it *Item) UnmarshalJSON(data []byte) error {
	var m map[string]itemResult
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("bulk item has %d operations", len(m))
	}
	for op, r := range m {
		*it = Item{Op: op, Index: r.Index, ID: r.ID, Status: r.Status}
		if len(r.Error) > 0 && string(r.Error) != "null" {
			it.Error = decodeItemError(r.Error)
		}
	}
	return nil
}

// decodeItemError accepts both the object and the plain string error forms.
func decodeItemError(raw json.RawMessage) *ItemError {
	var e ItemError
	if err := json.Unmarshal(raw, &e); err == nil {
		return &e
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &ItemError{Reason: s}
	}
	return &ItemError{Reason: string(raw)}
}

// Failed reports whether the item was rejected.
func (it Item) Failed() bool {
	return it.Status >= 300 || it.Error != nil
}

// ParseResponse decodes a bulk response body.
func ParseResponse(body []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.WithCode(err, errors.ErrTransport, "decoding bulk response")
	}
	return &resp, nil
}

// Failed returns the rejected items in response order.
func (r *Response) Failed() []Item {
	var failed []Item
	for _, it := range r.Items {
		if it.Failed() {
			failed = append(failed, it)
		}
	}
	return failed
}

// Counts returns the number of attempted and failed items.
func (r *Response) Counts() (attempted, failed int) {
	for _, it := range r.Items {
		if it.Failed() {
			failed++
		}
	}
	return len(r.Items), failed
}
