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

package cmd

import (
	"context"
	"fmt"

	"github.com/cardinalhq/configrunner/config"
	"github.com/cardinalhq/configrunner/internal/blobstore"
	"github.com/cardinalhq/configrunner/internal/configrepo"
	"github.com/cardinalhq/configrunner/internal/locator"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newBlobClient(ctx context.Context, cfg *config.Config) (blobstore.Client, blobstore.Location, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, blobstore.Location{}, err
	}
	client, err := blobstore.NewClient(ctx, loc, blobstore.Options{
		Marker:      cfg.Repo.Metafile,
		Concurrency: cfg.Repo.DownloadConcurrency,
	}, cfg.ProviderConfig())
	if err != nil {
		return nil, blobstore.Location{}, err
	}
	return client, loc, nil
}

func newRepository(client blobstore.Client, loc blobstore.Location, cfg *config.Config) (*configrepo.Repository, error) {
	return configrepo.New(client, configrepo.Options{
		Bucket:  loc.Bucket,
		BaseDir: cfg.Repo.BaseDir,
	})
}

func newLocator(repo *configrepo.Repository, cfg *config.Config) (*locator.Locator, error) {
	return locator.New(repo, locator.Options{
		SearchPaths:  cfg.Repo.SearchPaths,
		DefaultLabel: cfg.Repo.DefaultLabel,
	})
}
