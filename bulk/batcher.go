// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package bulk builds and reads the newline delimited JSON bulk format.
package bulk

import (
	"bytes"
	"encoding/json"

	"github.com/crayon13/aws-lambda/errors"
)

// DefaultMaxBatchSize is the default number of lines in one bulk request.
// Each record takes two lines, an action and a source.
const DefaultMaxBatchSize = 1000

// ContentType is the content type of a bulk request body.
const ContentType = "application/x-ndjson"

type action struct {
	Index actionMeta `json:"index"`
}

type actionMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// Batcher accumulates index operations for one index until they are flushed.
// It is not safe for concurrent use.
type Batcher struct {
	index string
	max   int
	lines [][]byte
}

// NewBatcher returns a Batcher writing to index. max is the line limit of a
// batch; zero means DefaultMaxBatchSize. It must be even since every
// operation is an action line plus a source line.
func NewBatcher(index string, max int) (*Batcher, error) {
	if index == "" {
		return nil, errors.New(errors.ErrConfig, "bulk index name is required")
	}
	if max == 0 {
		max = DefaultMaxBatchSize
	}
	if max < 2 || max%2 != 0 {
		return nil, errors.Newf(errors.ErrConfig, "batch size must be an even number of at least 2, got %d", max)
	}
	return &Batcher{
		index: index,
		max:   max,
		lines: make([][]byte, 0, max),
	}, nil
}

// Add appends an index operation for doc under id. Both lines are added or
// neither is. It reports whether the batch is now full and must be flushed
// before the next Add.
func (b *Batcher) Add(doc Document, id string) (full bool, err error) {
	if len(b.lines)+2 > b.max {
		return true, errors.Newf(errors.ErrConfig, "batch is full with %d lines", len(b.lines))
	}
	header, err := json.Marshal(action{Index: actionMeta{Index: b.index, ID: id}})
	if err != nil {
		return false, errors.Wrap(err, "marshaling bulk action")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return false, errors.Wrap(err, "marshaling document")
	}
	b.lines = append(b.lines, header, body)
	return len(b.lines) >= b.max, nil
}

// Flush renders the queued lines, each followed by a newline, and empties the
// batch. It returns nil for an empty batch.
func (b *Batcher) Flush() []byte {
	if len(b.lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, line := range b.lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	b.lines = b.lines[:0]
	return buf.Bytes()
}

// IsEmpty reports whether nothing is queued.
func (b *Batcher) IsEmpty() bool { return len(b.lines) == 0 }

// Len is the number of queued lines, twice the number of operations.
func (b *Batcher) Len() int { return len(b.lines) }

// Operations is the number of queued operations.
func (b *Batcher) Operations() int { return len(b.lines) / 2 }

// Max is the line limit of a batch.
func (b *Batcher) Max() int { return b.max }

// Index is the index operations are written to.
func (b *Batcher) Index() string { return b.index }
