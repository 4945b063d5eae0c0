// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package esclient

import (
	"sort"
	"strings"
	"time"

	"github.com/crayon13/aws-lambda/errors"
	"github.com/crayon13/aws-lambda/logger"
	"github.com/crayon13/aws-lambda/signer"
)

// AnyProfile is the endpoint used for profiles without their own.
const AnyProfile = "*"

// Endpoints maps a deployment profile to the client of its search endpoint.
type Endpoints map[string]*Client

// For returns the client for profile.
func (e Endpoints) For(profile string) (*Client, error) {
	if c, ok := e[profile]; ok {
		return c, nil
	}
	if c, ok := e[AnyProfile]; ok {
		return c, nil
	}
	return nil, errors.Newf(errors.ErrConfig, "no search endpoint configured for profile %q", profile)
}

// Profiles returns the configured profiles, sorted.
func (e Endpoints) Profiles() []string {
	out := make([]string, 0, len(e))
	for p := range e {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// EndpointConfig is what every endpoint shares.
type EndpointConfig struct {
	Credentials signer.Provider
	Region      string
	Service     string
	Scheme      string
	Timeout     time.Duration
	Logger      logger.Logger
}

// ParseEndpoints builds clients from "profile=host" specs. A bare "host"
// serves every profile. A host may carry a scheme, which then overrides
// cfg.Scheme.
func ParseEndpoints(specs []string, cfg EndpointConfig) (Endpoints, error) {
	if len(specs) == 0 {
		return nil, errors.New(errors.ErrConfig, "at least one search endpoint is required")
	}
	e := make(Endpoints, len(specs))
	for _, spec := range specs {
		profile, host := AnyProfile, strings.TrimSpace(spec)
		if i := strings.Index(host, "="); i >= 0 {
			profile, host = strings.TrimSpace(host[:i]), strings.TrimSpace(host[i+1:])
		}
		scheme := cfg.Scheme
		if i := strings.Index(host, "://"); i >= 0 {
			scheme, host = host[:i], host[i+3:]
		}
		host = strings.TrimSuffix(host, "/")
		if profile == "" || host == "" {
			return nil, errors.Newf(errors.ErrConfig, "invalid endpoint %q, expected profile=host", spec)
		}
		if _, ok := e[profile]; ok {
			return nil, errors.Newf(errors.ErrConfig, "endpoint for profile %q given twice", profile)
		}
		s := signer.NewWithProvider(cfg.Credentials, cfg.Region, cfg.Service, host)
		e[profile] = NewClient(s, NewTransport(scheme, host, cfg.Timeout, cfg.Logger))
	}
	return e, nil
}
