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

package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	StatusUp   = "UP"
	StatusDown = "DOWN"

	DetailConfigVersion = "config-version"
	DetailReason        = "reason"
	DetailError         = "error"
)

// Health is a reporter's verdict plus supporting details.
type Health struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

func (h Health) IsUp() bool {
	return h.Status == StatusUp
}

type Reporter interface {
	Health(ctx context.Context) Health
}

// VersionSource reads a bucket's version tag.
type VersionSource interface {
	VersionTag(ctx context.Context, bucket string) (tag string, ok bool, err error)
}

// BucketReporter reports the configuration bucket as up when its version
// tag can be read.
type BucketReporter struct {
	source VersionSource
	bucket string
}

var _ Reporter = (*BucketReporter)(nil)

func NewBucketReporter(source VersionSource, bucket string) *BucketReporter {
	return &BucketReporter{source: source, bucket: bucket}
}

func (b *BucketReporter) Health(ctx context.Context) Health {
	reason := fmt.Sprintf("Could not access bucket %s", b.bucket)

	tag, ok, err := b.source.VersionTag(ctx, b.bucket)
	if err != nil {
		slog.Warn("Bucket health check failed",
			slog.String("bucket", b.bucket),
			slog.Any("error", err))
		return Health{
			Status: StatusDown,
			Details: map[string]any{
				DetailReason: reason,
				DetailError:  err.Error(),
			},
		}
	}
	if !ok {
		return Health{
			Status:  StatusDown,
			Details: map[string]any{DetailReason: reason},
		}
	}
	return Health{
		Status:  StatusUp,
		Details: map[string]any{DetailConfigVersion: tag},
	}
}
