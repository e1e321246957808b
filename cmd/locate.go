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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	cmd := &cobra.Command{
		Use:   "locate <application> <profile> [label]",
		Short: "Refresh once and print the directories for a request",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(c *cobra.Command, args []string) error {
			setupCLILogging()
			ctx, cancel := handleSignals(c.Context())
			defer cancel()

			label := ""
			if len(args) == 3 {
				label = args[2]
			}
			return runLocate(ctx, c, args[0], args[1], label)
		},
	}

	rootCmd.AddCommand(cmd)
}

func runLocate(ctx context.Context, c *cobra.Command, application, profile, label string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, loc, err := newBlobClient(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := newRepository(client, loc, cfg)
	if err != nil {
		return err
	}
	l, err := newLocator(repo, cfg)
	if err != nil {
		return err
	}

	locations, err := l.Locate(ctx, application, profile, label)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(c.OutOrStdout())
	defer func() { _ = enc.Close() }()
	return enc.Encode(locations)
}
