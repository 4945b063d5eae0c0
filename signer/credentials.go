// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package signer

import (
	"context"

	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/crayon13/aws-lambda/errors"
)

// Provider returns the credentials a request is signed with. It is asked
// once per request, so it may rotate them.
type Provider interface {
	Retrieve(ctx context.Context) (Credentials, error)
}

// StaticProvider always returns the same credentials.
type StaticProvider Credentials

func (p StaticProvider) Retrieve(context.Context) (Credentials, error) {
	return Credentials(p), nil
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func(ctx context.Context) (Credentials, error)

func (f ProviderFunc) Retrieve(ctx context.Context) (Credentials, error) {
	return f(ctx)
}

// AWSProvider reads credentials from an aws-sdk-go credential chain, which
// caches them and refreshes them before they expire.
type AWSProvider struct {
	Creds *credentials.Credentials
}

func (p *AWSProvider) Retrieve(ctx context.Context) (Credentials, error) {
	v, err := p.Creds.GetWithContext(ctx)
	if err != nil {
		return Credentials{}, errors.WithCode(err, errors.ErrConfig, "retrieving signing credentials")
	}
	return Credentials{AccessKey: v.AccessKeyID, SecretKey: v.SecretAccessKey, SessionToken: v.SessionToken}, nil
}
