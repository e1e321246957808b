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

package configrepo

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	resultFetched = "fetched"
	resultCurrent = "current"
	resultFailed  = "failed"
)

var (
	refreshCount    metric.Int64Counter
	refreshDuration metric.Float64Histogram
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/configrunner/internal/configrepo")

	var err error
	refreshCount, err = meter.Int64Counter(
		"configrunner.refresh.count",
		metric.WithDescription("Number of refresh attempts by result"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create refresh.count counter: %w", err))
	}

	refreshDuration, err = meter.Float64Histogram(
		"configrunner.refresh.duration",
		metric.WithDescription("Time spent deciding on and performing a refresh"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create refresh.duration histogram: %w", err))
	}
}

func recordRefresh(ctx context.Context, bucket, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("bucket", bucket),
		attribute.String("result", result),
	)
	refreshCount.Add(ctx, 1, attrs)
	refreshDuration.Record(ctx, elapsed.Seconds(), attrs)
}
