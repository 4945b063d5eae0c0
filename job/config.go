// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package job resolves what a single run loads and reports what it did.
package job

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/event"
	"github.com/crayon13/aws-lambda/objstore"
	"github.com/crayon13/aws-lambda/schema"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFileNames are tried in order when no configuration object
// name is given.
var DefaultConfigFileNames = []string{"config.json", "config.yaml"}

// Config describes one run. It is built once by Resolve; afterwards only
// the field names are set, once, from the header line.
type Config struct {
	Bucket    string
	Key       string
	Index     string
	RealIndex string
	Profile   string
	Delimiter string
	Action    event.Action
	Timestamp string
	Time      time.Time

	// Mapping is the declared index mapping document.
	Mapping schema.Mapping

	// Settings are the index settings for Profile. They may be nil.
	Settings map[string]interface{}

	// ConfigKey is the configuration object the run was resolved from.
	ConfigKey string

	fieldNames []string
}

// FieldNames is the header of the source object, nil until it is read.
func (c *Config) FieldNames() []string { return c.fieldNames }

// SetFieldNames fixes the field order. It may be called only once.
func (c *Config) SetFieldNames(names []string) error {
	if c.fieldNames != nil {
		return errors.New(errors.ErrSchema, "field names are already set")
	}
	c.fieldNames = append([]string(nil), names...)
	return nil
}

// File is the companion configuration object.
type File struct {
	IndexMappings  map[string]interface{} `json:"indexMappings" yaml:"indexMappings"`
	FieldDelimiter string                 `json:"fileFieldDelemeter" yaml:"fileFieldDelemeter"`
	IndexSettings  map[string]interface{} `json:"indexSettings" yaml:"indexSettings"`
	Profiles       map[string]Profile     `json:"profiles" yaml:"profiles"`
}

// Profile holds the per environment part of a File.
type Profile struct {
	IndexSettings map[string]interface{} `json:"indexSettings" yaml:"indexSettings"`
}

// ParseFile decodes a configuration object. YAML is used for .yaml and .yml
// names, JSON otherwise.
func ParseFile(name string, data []byte) (*File, error) {
	f := &File{}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, f); err != nil {
			return nil, errors.WithCode(err, errors.ErrConfig, "decoding "+name)
		}
	default:
		if err := json.Unmarshal(data, f); err != nil {
			return nil, errors.WithCode(err, errors.ErrConfig, "decoding "+name)
		}
	}
	return f, nil
}

// Settings returns the index settings for profile. Profile settings win
// over the shared ones, and a {"settings": {...}} wrapper is removed.
func (f *File) Settings(profile string) map[string]interface{} {
	settings := f.IndexSettings
	if p, ok := f.Profiles[profile]; ok && p.IndexSettings != nil {
		settings = p.IndexSettings
	}
	if inner, ok := settings["settings"].(map[string]interface{}); ok && len(settings) == 1 {
		settings = inner
	}
	return settings
}

// Options tune Resolve.
type Options struct {
	// ConfigFileName names the configuration object. When empty,
	// DefaultConfigFileNames are tried in order.
	ConfigFileName string
}

// Resolve parses key, reads its configuration object from store and builds
// the run Config.
func Resolve(ctx context.Context, store objstore.Store, bucket, key string, opts Options) (*Config, error) {
	if bucket == "" {
		return nil, errors.New(errors.ErrConfig, "bucket is required")
	}
	k, err := event.ParseKey(key)
	if err != nil {
		return nil, err
	}

	names := DefaultConfigFileNames
	if opts.ConfigFileName != "" {
		names = []string{opts.ConfigFileName}
	}

	var (
		f         *File
		configKey string
	)
	for _, name := range names {
		configKey = k.ConfigKey(name)
		data, err := store.GetObjectBody(ctx, bucket, configKey)
		if objstore.IsNotFound(err) {
			continue
		} else if err != nil {
			return nil, errors.Wrap(err, "reading configuration object")
		}
		if f, err = ParseFile(name, data); err != nil {
			return nil, err
		}
		break
	}
	if f == nil {
		return nil, errors.Newf(errors.ErrConfig, "no configuration object %s in s3://%s/%s", strings.Join(names, " or "), bucket, k.Dir())
	}

	if f.IndexMappings == nil {
		return nil, errors.Newf(errors.ErrConfig, "%s has no indexMappings", configKey)
	}
	mapping := schema.Mapping(f.IndexMappings)
	if mapping.Properties() == nil {
		return nil, errors.Newf(errors.ErrConfig, "%s: indexMappings has no mappings.properties", configKey)
	}
	if utf8.RuneCountInString(f.FieldDelimiter) != 1 {
		return nil, errors.Newf(errors.ErrConfig, "%s: fileFieldDelemeter must be a single character, got %q", configKey, f.FieldDelimiter)
	}

	return &Config{
		Bucket:    bucket,
		Key:       key,
		Index:     k.Index,
		RealIndex: k.RealIndex(),
		Profile:   k.Profile,
		Delimiter: f.FieldDelimiter,
		Action:    k.Action,
		Timestamp: k.Timestamp,
		Time:      k.Time,
		Mapping:   mapping,
		Settings:  f.Settings(k.Profile),
		ConfigKey: configKey,
	}, nil
}
