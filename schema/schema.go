// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package schema checks delimited records against an index mapping.
package schema

import (
	"encoding/json"
	"sort"

	"github.com/crayon13/aws-lambda/errors"
)

// Mapping is an index mapping document as declared in the companion
// configuration object, e.g. {"mappings":{"properties":{"id":{...}}}}.
type Mapping map[string]interface{}

// ParseMapping decodes a JSON mapping document.
func ParseMapping(data []byte) (Mapping, error) {
	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "decoding index mapping")
	}
	if m == nil {
		return nil, errors.New(errors.ErrConfig, "index mapping is empty")
	}
	return m, nil
}

// Mappings returns the "mappings" section, which is the part sent with an
// index create request. It is nil when absent.
func (m Mapping) Mappings() map[string]interface{} {
	mappings, _ := m["mappings"].(map[string]interface{})
	return mappings
}

// Properties returns the declared field properties. Documents written for
// engines with mapping types ({"mappings":{"_doc":{"properties":...}}}) are
// accepted as long as exactly one type is declared.
func (m Mapping) Properties() map[string]interface{} {
	mappings := m.Mappings()
	if mappings == nil {
		return nil
	}
	if props, ok := mappings["properties"].(map[string]interface{}); ok {
		return props
	}
	if len(mappings) == 1 {
		for _, v := range mappings {
			if typ, ok := v.(map[string]interface{}); ok {
				props, _ := typ["properties"].(map[string]interface{})
				return props
			}
		}
	}
	return nil
}

// Fields returns the declared field names in sorted order.
func (m Mapping) Fields() []string {
	props := m.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateHeader checks that every field of the header line is declared in
// mapping. The first undeclared field is reported together with index.
func ValidateHeader(fields []string, mapping Mapping, index string) error {
	if len(fields) == 0 {
		return errors.Newf(errors.ErrSchema, "empty header for index %s", index)
	}
	props := mapping.Properties()
	if props == nil {
		return errors.Newf(errors.ErrConfig, "mapping for index %s has no mappings.properties", index)
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := props[f]; !ok {
			return errors.Newf(errors.ErrSchema, "field %q is not in the mapping of index %s", f, index)
		}
		if _, ok := seen[f]; ok {
			return errors.Newf(errors.ErrSchema, "field %q appears twice in the header for index %s", f, index)
		}
		seen[f] = struct{}{}
	}
	return nil
}

// ValidateRecord checks that a record has exactly expected fields.
func ValidateRecord(fields []string, expected int) error {
	if len(fields) != expected {
		return errors.Newf(errors.ErrSchema, "record has %d fields, header has %d", len(fields), expected)
	}
	return nil
}
