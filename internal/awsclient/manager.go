// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package awsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Manager struct {
	baseCfg     aws.Config
	stsClient   *sts.Client
	sessionName string

	sync.RWMutex
	providers map[roleKey]aws.CredentialsProvider
	tracer    trace.Tracer
}

type managerConfig struct {
	sessionName string
	region      string
	accessKey   string
	secretKey   string
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*managerConfig)

func WithAssumeRoleSessionName(name string) ManagerOption {
	return func(c *managerConfig) {
		c.sessionName = name
	}
}

// WithDefaultRegion sets the region used when a client does not ask for one.
func WithDefaultRegion(region string) ManagerOption {
	return func(c *managerConfig) {
		c.region = region
	}
}

// WithStaticCredentials replaces the default credential chain with a fixed
// access key pair.
func WithStaticCredentials(accessKey, secretKey string) ManagerOption {
	return func(c *managerConfig) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

// NewManager initializes AWS config + a single STS client.
func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	mc := managerConfig{sessionName: "configrunner"}
	for _, opt := range opts {
		opt(&mc)
	}

	var loadOpts []func(*config.LoadOptions) error
	if mc.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(mc.region))
	}
	if mc.accessKey != "" && mc.secretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(mc.accessKey, mc.secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return &Manager{
		baseCfg:     cfg,
		stsClient:   sts.NewFromConfig(cfg),
		sessionName: mc.sessionName,
		providers:   make(map[roleKey]aws.CredentialsProvider),
		tracer:      otel.Tracer("github.com/cardinalhq/configrunner/internal/awsclient"),
	}, nil
}

// Region returns the region clients get when none is requested.
func (m *Manager) Region() string {
	return m.baseCfg.Region
}
