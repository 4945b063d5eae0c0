// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package objstore reads source and configuration objects from S3, from
// S3-compatible stores, or from a local directory.
package objstore

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/crayon13/aws-lambda/errors"
	pkgerrors "github.com/pkg/errors"
)

// Store is the object store a run reads from.
type Store interface {
	// GetObjectStream opens the object for reading. The caller closes it.
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// GetObjectBody reads the whole object.
	GetObjectBody(ctx context.Context, bucket, key string) ([]byte, error)
}

// IsNotFound reports whether err means the bucket or the object does not
// exist.
func IsNotFound(err error) bool {
	return pkgerrors.Is(err, fs.ErrNotExist)
}

func notFound(bucket, key string, err error) error {
	return errors.WithCode(pkgerrors.Wrapf(fs.ErrNotExist, "%v", err), errors.ErrSource, "s3://"+bucket+"/"+key)
}

func sourceError(bucket, key string, err error) error {
	return errors.WithCode(err, errors.ErrSource, "s3://"+bucket+"/"+key)
}

// readBody reads everything from the stream of s.
func readBody(ctx context.Context, s Store, bucket, key string) ([]byte, error) {
	rc, err := s.GetObjectStream(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, sourceError(bucket, key, err)
	}
	return b, nil
}

// FileStore serves objects from a directory, one subdirectory per bucket.
type FileStore struct {
	Root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{Root: root}
}

func (s *FileStore) path(bucket, key string) (string, error) {
	p := filepath.Join(s.Root, bucket, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ErrConfig, "object %s/%s is outside of %s", bucket, key, s.Root)
	}
	return p, nil
}

// GetObjectStream implements Store.
func (s *FileStore) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, notFound(bucket, key, err)
	} else if err != nil {
		return nil, sourceError(bucket, key, err)
	}
	return f, nil
}

// GetObjectBody implements Store.
func (s *FileStore) GetObjectBody(ctx context.Context, bucket, key string) ([]byte, error) {
	return readBody(ctx, s, bucket, key)
}
