// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package event describes what a run is asked to load: the object key
// convention and the storage notification envelope carrying it.
package event

import (
	"path"
	"strings"
	"time"

	"github.com/crayon13/aws-lambda/errors"
)

// Action decides whether a run builds a new index or writes into the
// existing one.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// TimestampFormat is the layout of the timestamp part of an object name.
const TimestampFormat = "20060102150405"

// ParseAction validates s.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate:
		return a, nil
	}
	return "", errors.Newf(errors.ErrConfig, "unknown action %q, expected create or update", s)
}

// Key is a parsed object key of the form
// root/index/profile/YYYYMMDDhhmmss.action.ext.
type Key struct {
	Raw       string
	Root      string
	Index     string
	Profile   string
	FileName  string
	Timestamp string
	Time      time.Time
	Action    Action
	Ext       string
}

// ParseKey parses key. Any other shape is a configuration error.
func ParseKey(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return Key{}, errors.Newf(errors.ErrConfig, "object key %q is not root/index/profile/file", key)
	}
	for i, p := range parts {
		if p == "" {
			return Key{}, errors.Newf(errors.ErrConfig, "object key %q has an empty segment %d", key, i)
		}
	}

	k := Key{
		Raw:      key,
		Root:     parts[0],
		Index:    parts[1],
		Profile:  parts[2],
		FileName: parts[3],
	}
	if strings.ToLower(k.Index) != k.Index {
		return Key{}, errors.Newf(errors.ErrConfig, "index name %q must be lower case", k.Index)
	}

	name := strings.Split(k.FileName, ".")
	if len(name) < 3 {
		return Key{}, errors.Newf(errors.ErrConfig, "file name %q is not YYYYMMDDhhmmss.action.ext", k.FileName)
	}
	t, err := time.Parse(TimestampFormat, name[0])
	if err != nil || len(name[0]) != len(TimestampFormat) {
		return Key{}, errors.Newf(errors.ErrConfig, "file name %q does not start with a YYYYMMDDhhmmss timestamp", k.FileName)
	}
	k.Timestamp = name[0]
	k.Time = t
	if k.Action, err = ParseAction(name[1]); err != nil {
		return Key{}, err
	}
	k.Ext = strings.Join(name[2:], ".")
	return k, nil
}

// Dir is the directory holding the object and its configuration object,
// with a trailing slash.
func (k Key) Dir() string {
	return path.Join(k.Root, k.Index, k.Profile) + "/"
}

// ConfigKey is the key of the named configuration object next to the object.
func (k Key) ConfigKey(name string) string {
	return k.Dir() + name
}

// RealIndex is the index the run writes to. A create run writes to a new
// index named after the alias and the timestamp.
func (k Key) RealIndex() string {
	if k.Action == ActionCreate {
		return k.Index + "-" + k.Timestamp
	}
	return k.Index
}
