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

package blobstore

import (
	"context"
	"fmt"

	"github.com/cardinalhq/configrunner/internal/awsclient"
	"github.com/cardinalhq/configrunner/internal/azureclient"
	"github.com/cardinalhq/configrunner/internal/gcpclient"
)

// ProviderConfig carries the per-provider client settings. Only the section
// matching the bucket's scheme is used.
type ProviderConfig struct {
	AWS   awsclient.Config
	GCP   gcpclient.Config
	Azure azureclient.Config
}

// NewClient builds the Client for loc. The location's prefix overrides
// opts.Prefix.
func NewClient(ctx context.Context, loc Location, opts Options, pc ProviderConfig) (Client, error) {
	opts.Prefix = loc.Prefix

	switch loc.Scheme {
	case SchemeS3:
		mgr, err := awsclient.NewManager(ctx, pc.AWS.ManagerOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS manager: %w", err)
		}
		s3c, err := mgr.GetS3(ctx, pc.AWS.S3Options()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		return newS3Client(s3c.Client, s3c.Tracer, opts), nil
	case SchemeGCS:
		mgr, err := gcpclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP manager: %w", err)
		}
		sc, err := mgr.GetStorage(ctx, pc.GCP.StorageOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		return newGCSClient(sc, opts), nil
	case SchemeAzure:
		mgr, err := azureclient.NewManager(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure manager: %w", err)
		}
		bc, err := mgr.GetBlob(ctx, pc.Azure.BlobOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure blob client: %w", err)
		}
		return newAzureClient(bc, opts), nil
	case SchemeFile:
		return NewFileClient(loc.Root, opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, loc.Scheme)
	}
}
