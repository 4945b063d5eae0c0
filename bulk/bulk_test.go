// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package bulk

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, names []string, values ...string) Document {
	t.Helper()
	doc, err := NewDocument(names, values)
	require.NoError(t, err)
	return doc
}

func TestDocumentMarshalKeepsHeaderOrder(t *testing.T) {
	doc := mustDoc(t, []string{"name", "id", "quote"}, "Alice", "1", `say "hi"`)
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice","id":"1","quote":"say \"hi\""}`, string(b))

	v, ok := doc.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	_, ok = doc.Get("nope")
	assert.False(t, ok)
	assert.Equal(t, 3, doc.Len())

	_, err = NewDocument([]string{"id"}, []string{"1", "2"})
	assert.True(t, errors.Is(err, errors.ErrSchema))
}

func TestNewBatcher(t *testing.T) {
	b, err := NewBatcher("users", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxBatchSize, b.Max())
	assert.Equal(t, "users", b.Index())

	for _, max := range []int{-2, 1, 3, 999} {
		_, err := NewBatcher("users", max)
		assert.True(t, errors.Is(err, errors.ErrConfig), "max=%d", max)
	}
	_, err = NewBatcher("", 10)
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestBatcherFlush(t *testing.T) {
	b, err := NewBatcher("users-20201201000000", 4)
	require.NoError(t, err)
	names := []string{"id", "name"}

	assert.True(t, b.IsEmpty())
	assert.Nil(t, b.Flush())

	full, err := b.Add(mustDoc(t, names, "1", "Alice"), "1")
	require.NoError(t, err)
	assert.False(t, full)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, b.Operations())

	full, err = b.Add(mustDoc(t, names, "2", "Bob"), "2")
	require.NoError(t, err)
	assert.True(t, full)

	// A full batch refuses more work until it is flushed.
	_, err = b.Add(mustDoc(t, names, "3", "Carol"), "3")
	assert.Error(t, err)
	assert.Equal(t, 4, b.Len())

	body := b.Flush()
	assert.Equal(t, `{"index":{"_index":"users-20201201000000","_id":"1"}}
{"id":"1","name":"Alice"}
{"index":{"_index":"users-20201201000000","_id":"2"}}
{"id":"2","name":"Bob"}
`, string(body))
	assert.True(t, b.IsEmpty())
	assert.Nil(t, b.Flush())
}

func TestBatcherNeverExceedsMax(t *testing.T) {
	const max = 10
	b, err := NewBatcher("users", max)
	require.NoError(t, err)
	names := []string{"id"}

	var flushes [][]byte
	for i := 0; i < 23; i++ {
		id := strconv.Itoa(i)
		full, err := b.Add(mustDoc(t, names, id), id)
		require.NoError(t, err)
		if full {
			flushes = append(flushes, b.Flush())
		}
	}
	if !b.IsEmpty() {
		flushes = append(flushes, b.Flush())
	}

	require.Len(t, flushes, 5)
	total := 0
	for _, f := range flushes {
		lines := bytes.Count(f, []byte("\n"))
		assert.LessOrEqual(t, lines, max)
		assert.Equal(t, 0, lines%2)
		total += lines
	}
	assert.Equal(t, 46, total)
}

func TestParseResponse(t *testing.T) {
	body := []byte(`{
		"took": 30,
		"errors": true,
		"items": [
			{"index": {"_index": "users", "_id": "1", "status": 201, "result": "created"}},
			{"index": {"_index": "users", "_id": "2", "status": 400,
				"error": {"type": "mapper_parsing_exception", "reason": "failed to parse field [age]"}}},
			{"create": {"_index": "users", "_id": "3", "status": 409, "error": "version conflict"}},
			{"index": {"_index": "users", "_id": "4", "status": 200}}
		]
	}`)
	resp, err := ParseResponse(body)
	require.NoError(t, err)
	assert.EqualValues(t, 30, resp.Took)
	assert.True(t, resp.Errors)

	attempted, failed := resp.Counts()
	assert.Equal(t, 4, attempted)
	assert.Equal(t, 2, failed)

	items := resp.Failed()
	require.Len(t, items, 2)
	assert.Equal(t, "index", items[0].Op)
	assert.Equal(t, "2", items[0].ID)
	assert.Equal(t, 400, items[0].Status)
	assert.Equal(t, "mapper_parsing_exception: failed to parse field [age]", items[0].Error.String())
	assert.Equal(t, "create", items[1].Op)
	assert.Equal(t, "version conflict", items[1].Error.Reason)
}

func TestParseResponseInvalid(t *testing.T) {
	_, err := ParseResponse([]byte(`<html>bad gateway</html>`))
	assert.True(t, errors.Is(err, errors.ErrTransport))

	_, err = ParseResponse([]byte(`{"items":[{"index":{},"delete":{}}]}`))
	assert.Error(t, err)
}
