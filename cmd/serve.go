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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/configrunner/config"
	"github.com/cardinalhq/configrunner/internal/configrepo"
	"github.com/cardinalhq/configrunner/internal/debugging"
	"github.com/cardinalhq/configrunner/internal/healthcheck"
	"github.com/cardinalhq/configrunner/internal/scheduler"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the configuration tree fresh and serve health endpoints",
		RunE: func(_ *cobra.Command, _ []string) error {
			doneCtx, doneFx, err := setupTelemetry(config.ServiceName)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}

			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(doneCtx, cfg)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	client, loc, err := newBlobClient(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := newRepository(client, loc, cfg)
	if err != nil {
		return err
	}

	slog.Info("Serving configuration",
		slog.String("uri", loc.String()),
		slog.String("basedir", repo.BaseDir()),
		slog.Bool("polling", cfg.Polling.Enabled),
		slog.Duration("interval", cfg.Polling.Interval))

	health := healthcheck.NewServer(cfg.Health)
	health.SetReporter(healthcheck.Composite{
		"bucket":    healthcheck.NewBucketReporter(client, repo.Bucket()),
		"diskSpace": healthcheck.NewDiskSpaceReporter(repo.BaseDir(), 0),
	})
	health.SetReadyCondition(config.InitialRefreshCondition, false)
	health.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Start(gctx)
	})
	g.Go(func() error {
		debugging.RunPprof(gctx, debugging.PortFromEnv())
		return nil
	})

	if err := repo.CleanStaging(gctx); err != nil {
		slog.Warn("Failed to clean abandoned refresh directories", slog.Any("error", err))
	}

	refresh := func(ctx context.Context) error {
		if _, err := repo.Refresh(ctx); err != nil {
			return err
		}
		health.SetReadyCondition(config.InitialRefreshCondition, true)
		return nil
	}

	// A failed first refresh is not fatal: the previous tree, if any, is
	// still served and the next poll retries.
	if err := refresh(gctx); err != nil && !errors.Is(err, configrepo.ErrRefreshFailed) {
		slog.Warn("Initial refresh did not run", slog.Any("error", err))
	}
	health.SetStatus(healthcheck.StatusHealthy)

	if cfg.Polling.Enabled {
		sched := scheduler.New(cfg.Polling)
		sched.ScheduleDeferred(scheduler.NewTask("config-refresh", refresh))
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Shut down")
	return nil
}
