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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
	versionErrors  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/configrunner/internal/blobstore")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"configrunner.blobstore.download.errors",
		metric.WithDescription("Number of object download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"configrunner.blobstore.download.count",
		metric.WithDescription("Number of objects downloaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"configrunner.blobstore.download.bytes",
		metric.WithDescription("Bytes downloaded from object storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}

	versionErrors, err = meter.Int64Counter(
		"configrunner.blobstore.version.errors",
		metric.WithDescription("Number of failed marker metadata reads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create version.errors counter: %w", err))
	}
}

func recordDownload(ctx context.Context, provider, bucket string, size int64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	)
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, size, attrs)
}

func recordDownloadError(ctx context.Context, provider, bucket, reason string) {
	downloadErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
		attribute.String("reason", reason),
	))
}

func recordVersionError(ctx context.Context, provider, bucket string) {
	versionErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("bucket", bucket),
	))
}
