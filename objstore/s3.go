// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/pkg/errors"
)

// S3Store reads objects through the AWS SDK.
type S3Store struct {
	client s3iface.S3API
	log    logger.Logger
}

// S3Config selects the AWS profile and region. Empty values fall back to
// the SDK defaults.
type S3Config struct {
	Profile string
	Region  string
}

// NewSession creates an AWS session for cfg.
func NewSession(cfg S3Config, log logger.Logger) (*session.Session, error) {
	config := &aws.Config{}
	if cfg.Profile != "" {
		log.Infof("Overriding default AWS profile %s", cfg.Profile)
		config.Credentials = credentials.NewSharedCredentials("", cfg.Profile)
	}
	if cfg.Region != "" {
		config.Region = aws.String(cfg.Region)
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return sess, nil
}

// NewS3Store returns an S3Store using client.
func NewS3Store(client s3iface.S3API, log logger.Logger) *S3Store {
	if log == nil {
		log = logger.NopLogger
	}
	return &S3Store{client: client, log: log}
}

// NewS3StoreFromSession returns an S3Store using sess.
func NewS3StoreFromSession(sess *session.Session, log logger.Logger) *S3Store {
	return NewS3Store(s3.New(sess), log)
}

// GetObjectStream implements Store.
func (s *S3Store) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error(bucket, key, err)
	}
	s.log.Debugf("opened s3://%s/%s (%d bytes)", bucket, key, aws.Int64Value(out.ContentLength))
	return out.Body, nil
}

// GetObjectBody implements Store.
func (s *S3Store) GetObjectBody(ctx context.Context, bucket, key string) ([]byte, error) {
	return readBody(ctx, s, bucket, key)
}

func classifyS3Error(bucket, key string, err error) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return notFound(bucket, key, err)
		}
	}
	return sourceError(bucket, key, err)
}
