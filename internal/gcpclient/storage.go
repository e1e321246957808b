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

package gcpclient

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
)

type StorageClient struct {
	Client *storage.Client
	Tracer trace.Tracer
}

type storageClientKey struct {
	ServiceAccountEmail string
	Endpoint            string
}

type storageConfig struct {
	ServiceAccountEmail string
	Endpoint            string
}

type StorageOption func(*storageConfig)

func WithImpersonateServiceAccount(email string) StorageOption {
	return func(c *storageConfig) {
		c.ServiceAccountEmail = email
	}
}

// WithStorageEndpoint points the client at an alternate endpoint, such as
// a fake-gcs-server used in development.
func WithStorageEndpoint(endpoint string) StorageOption {
	return func(c *storageConfig) {
		c.Endpoint = endpoint
	}
}

// Config holds the GCP settings for reaching the configuration bucket.
type Config struct {
	Impersonate string `mapstructure:"impersonate"`
	Endpoint    string `mapstructure:"endpoint"`
}

// StorageOptions translates the config into options for GetStorage.
func (c Config) StorageOptions() []StorageOption {
	var opts []StorageOption
	if c.Impersonate != "" {
		opts = append(opts, WithImpersonateServiceAccount(c.Impersonate))
	}
	if c.Endpoint != "" {
		opts = append(opts, WithStorageEndpoint(c.Endpoint))
	}
	return opts
}

func (m *Manager) GetStorage(ctx context.Context, opts ...StorageOption) (*StorageClient, error) {
	cfg := storageConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	key := storageClientKey(cfg)
	m.RLock()
	client, ok := m.storageClients[key]
	m.RUnlock()
	if ok {
		return client, nil
	}

	m.Lock()
	defer m.Unlock()

	// Double-check after acquiring write lock
	if client, ok = m.storageClients[key]; ok {
		return client, nil
	}

	var clientOpts []option.ClientOption

	if cfg.ServiceAccountEmail != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: cfg.ServiceAccountEmail,
			Scopes:          []string{storage.ScopeReadOnly},
		})
		if err != nil {
			return nil, fmt.Errorf("creating impersonated token source: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}

	storageClient, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCP storage client: %w", err)
	}

	client = &StorageClient{
		Client: storageClient,
		Tracer: m.tracer,
	}
	m.storageClients[key] = client

	return client, nil
}
