// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package event

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/crayon13/aws-lambda/errors"
)

// Notification is an object store event notification.
type Notification struct {
	Records []Record `json:"Records"`
}

// Record is a single entry of a Notification.
type Record struct {
	EventSource string   `json:"eventSource"`
	EventName   string   `json:"eventName"`
	EventTime   string   `json:"eventTime"`
	AWSRegion   string   `json:"awsRegion"`
	S3          S3Entity `json:"s3"`
}

type S3Entity struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key"`
		Size int64  `json:"size"`
	} `json:"object"`
}

// Object is a bucket and decoded key pair.
type Object struct {
	Bucket string
	Key    string
}

// ParseNotification decodes data and returns the objects it announces, in
// order. Only object creation records are returned.
func ParseNotification(data []byte) ([]Object, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "decoding event notification")
	}
	if len(n.Records) == 0 {
		return nil, errors.New(errors.ErrConfig, "event notification has no records")
	}

	objs := make([]Object, 0, len(n.Records))
	for i, r := range n.Records {
		if r.EventName != "" && !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}
		if r.S3.Bucket.Name == "" || r.S3.Object.Key == "" {
			return nil, errors.Newf(errors.ErrConfig, "event record %d has no bucket or key", i)
		}
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, errors.WithCode(err, errors.ErrConfig, "decoding object key")
		}
		objs = append(objs, Object{Bucket: r.S3.Bucket.Name, Key: key})
	}
	return objs, nil
}
