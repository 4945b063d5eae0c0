// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objstore

import (
	"context"
	"io"
	"net/url"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates an S3-compatible store.
type MinioConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	UseSSL       bool
}

// MinioStore reads objects from an S3-compatible store.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to the store described by cfg. Endpoint may be a
// bare host:port or a URL whose scheme decides SSL.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.ErrConfig, "minio endpoint is required")
	}
	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.WithCode(err, errors.ErrConfig, "creating minio client")
	}
	return &MinioStore{client: client}, nil
}

// GetObjectStream implements Store. The object is stat'ed first so that a
// missing object is reported here instead of on the first read.
func (s *MinioStore) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioError(bucket, key, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, classifyMinioError(bucket, key, err)
	}
	return obj, nil
}

// GetObjectBody implements Store.
func (s *MinioStore) GetObjectBody(ctx context.Context, bucket, key string) ([]byte, error) {
	return readBody(ctx, s, bucket, key)
}

func classifyMinioError(bucket, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return notFound(bucket, key, err)
	}
	return sourceError(bucket, key, err)
}
