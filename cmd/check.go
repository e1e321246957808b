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
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/configrunner/internal/healthcheck"
)

var errBucketDown = errors.New("configuration bucket is down")

func init() {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether the configuration bucket is reachable",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			setupCLILogging()
			ctx, cancel := handleSignals(c.Context())
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, loc, err := newBlobClient(ctx, cfg)
			if err != nil {
				return err
			}

			h := healthcheck.NewBucketReporter(client, loc.Bucket).Health(ctx)
			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if !h.IsUp() {
				return errBucketDown
			}
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
