// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package bulk

import (
	"bytes"
	"encoding/json"

	"github.com/crayon13/aws-lambda/errors"
)

// Document is one record keyed by field name. It serializes as a JSON object
// whose keys follow the header order.
type Document struct {
	names  []string
	values []string
}

// NewDocument zips names with values. Both must have the same length.
func NewDocument(names, values []string) (Document, error) {
	if len(names) != len(values) {
		return Document{}, errors.Newf(errors.ErrSchema, "document has %d values for %d fields", len(values), len(names))
	}
	return Document{names: names, values: values}, nil
}

// Len is the number of fields.
func (d Document) Len() int { return len(d.names) }

// Get returns the value of the named field.
func (d Document) Get(name string) (string, bool) {
	for i, n := range d.names {
		if n == name {
			return d.values[i], true
		}
	}
	return "", false
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range d.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling field name")
		}
		v, err := json.Marshal(d.values[i])
		if err != nil {
			return nil, errors.Wrapf(err, "marshaling field %s", name)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
