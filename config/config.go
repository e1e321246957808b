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

package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/configrunner/internal/awsclient"
	"github.com/cardinalhq/configrunner/internal/azureclient"
	"github.com/cardinalhq/configrunner/internal/blobstore"
	"github.com/cardinalhq/configrunner/internal/gcpclient"
	"github.com/cardinalhq/configrunner/internal/healthcheck"
	"github.com/cardinalhq/configrunner/internal/locator"
	"github.com/cardinalhq/configrunner/internal/scheduler"
)

type Config struct {
	Repo    RepoConfig         `mapstructure:"repo"`
	Polling scheduler.Config   `mapstructure:"polling"`
	AWS     awsclient.Config   `mapstructure:"aws"`
	GCP     gcpclient.Config   `mapstructure:"gcp"`
	Azure   azureclient.Config `mapstructure:"azure"`
	Health  healthcheck.Config `mapstructure:"health"`
}

type RepoConfig struct {
	// URI names the bucket, e.g. s3://config-bucket/prod.
	URI                 string   `mapstructure:"uri"`
	Metafile            string   `mapstructure:"metafile"`
	BaseDir             string   `mapstructure:"basedir"`
	SearchPaths         []string `mapstructure:"search_paths"`
	DefaultLabel        string   `mapstructure:"default_label"`
	DownloadConcurrency int      `mapstructure:"download_concurrency"`
}

func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Metafile:            blobstore.DefaultMarker,
			SearchPaths:         append([]string(nil), locator.DefaultSearchPaths...),
			DefaultLabel:        locator.DefaultLabel,
			DownloadConcurrency: blobstore.DefaultDownloadConcurrency,
		},
		Polling: scheduler.Config{
			Enabled:  true,
			Interval: scheduler.DefaultInterval,
			PoolSize: scheduler.DefaultPoolSize,
		},
		Health: healthcheck.GetConfigFromEnv(),
	}
}

// Load reads configuration from defaults, an optional config file and the
// environment, in increasing order of precedence. An empty path looks for
// config.yaml in the working directory and tolerates its absence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if s := v.GetString("repo.search_paths"); s != "" {
		cfg.Repo.SearchPaths = strings.Split(s, ",")
	}
	return cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.Repo.URI == "" {
		return errors.New("repo.uri is required")
	}
	if _, err := blobstore.ParseURI(c.Repo.URI); err != nil {
		return fmt.Errorf("repo.uri: %w", err)
	}
	if c.Repo.DownloadConcurrency <= 0 {
		return fmt.Errorf("repo.download_concurrency must be positive, got %d", c.Repo.DownloadConcurrency)
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.PoolSize <= 0 {
		return fmt.Errorf("polling.pool_size must be positive, got %d", c.Polling.PoolSize)
	}
	return nil
}

// Location parses the repository URI.
func (c *Config) Location() (blobstore.Location, error) {
	return blobstore.ParseURI(c.Repo.URI)
}

func (c *Config) ProviderConfig() blobstore.ProviderConfig {
	return blobstore.ProviderConfig{AWS: c.AWS, GCP: c.GCP, Azure: c.Azure}
}

func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
