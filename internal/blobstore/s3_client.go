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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const providerS3 = "s3"

// s3API is the subset of *s3.Client used here.
type s3API interface {
	manager.DownloadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Client struct {
	api    s3API
	tracer trace.Tracer
	opts   Options
}

var _ Client = (*s3Client)(nil)

func newS3Client(api s3API, tracer trace.Tracer, opts Options) *s3Client {
	return &s3Client{api: api, tracer: tracer, opts: opts.withDefaults()}
}

func s3ErrorIsNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (c *s3Client) DownloadAll(ctx context.Context, bucket, destDir string) error {
	ctx, span := c.tracer.Start(ctx, "blobstore.s3DownloadAll",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", c.opts.Prefix),
		),
	)
	defer span.End()

	start := time.Now()
	downloader := manager.NewDownloader(c.api)
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if c.opts.Prefix != "" {
		input.Prefix = aws.String(c.opts.Prefix)
	}
	paginator := s3.NewListObjectsV2Paginator(c.api, input)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	objects := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(gctx)
		if err != nil {
			_ = g.Wait()
			recordDownloadError(ctx, providerS3, bucket, "list_failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return fmt.Errorf("list s3://%s/%s: %w", bucket, c.opts.Prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			target, skip, err := objectPath(destDir, c.opts.Prefix, key)
			if err != nil {
				_ = g.Wait()
				return err
			}
			if skip {
				continue
			}
			objects++
			g.Go(func() error {
				return c.downloadObject(gctx, downloader, bucket, key, target)
			})
		}
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		return err
	}

	span.SetAttributes(attribute.Int("object_count", objects))
	slog.Info("Downloaded bucket",
		slog.String("bucket", bucket),
		slog.String("prefix", c.opts.Prefix),
		slog.Int("objects", objects),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (c *s3Client) downloadObject(ctx context.Context, downloader *manager.Downloader, bucket, key, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file for %s: %w", key, err)
	}

	size, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		recordDownloadError(ctx, providerS3, bucket, "get_failed")
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		recordDownloadError(ctx, providerS3, bucket, "close_failed")
		return fmt.Errorf("close %s: %w", target, err)
	}
	recordDownload(ctx, providerS3, bucket, size)
	return nil
}

func (c *s3Client) VersionTag(ctx context.Context, bucket string) (string, bool, error) {
	key := c.opts.markerKey()
	ctx, span := c.tracer.Start(ctx, "blobstore.s3VersionTag",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIsNotFound(err) {
			slog.Debug("Marker object not found", slog.String("bucket", bucket), slog.String("key", key))
			return "", false, nil
		}
		recordVersionError(ctx, providerS3, bucket)
		span.RecordError(err)
		span.SetStatus(codes.Error, "head failed")
		return "", false, fmt.Errorf("read marker s3://%s/%s: %w", bucket, key, err)
	}

	return lookupVersion(out.Metadata)
}
