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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"

	"github.com/cardinalhq/configrunner/internal/gcpclient"
)

const providerGCS = "gcs"

// gcsObjectIterator is satisfied by *storage.ObjectIterator.
type gcsObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// gcsAPI is the subset of *storage.Client used here.
type gcsAPI interface {
	Objects(ctx context.Context, bucket, prefix string) gcsObjectIterator
	NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Attrs(ctx context.Context, bucket, key string) (*storage.ObjectAttrs, error)
}

type gcsStorage struct {
	client *storage.Client
}

func (s gcsStorage) Objects(ctx context.Context, bucket, prefix string) gcsObjectIterator {
	return s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
}

func (s gcsStorage) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	// ReadCompressed(true) keeps gzip-encoded objects byte-identical on disk.
	return s.client.Bucket(bucket).Object(key).ReadCompressed(true).NewReader(ctx)
}

func (s gcsStorage) Attrs(ctx context.Context, bucket, key string) (*storage.ObjectAttrs, error) {
	return s.client.Bucket(bucket).Object(key).Attrs(ctx)
}

// gcsClient implements Client for Google Cloud Storage.
type gcsClient struct {
	api    gcsAPI
	tracer trace.Tracer
	opts   Options
}

var _ Client = (*gcsClient)(nil)

func newGCSClient(sc *gcpclient.StorageClient, opts Options) *gcsClient {
	return newGCSClientWithAPI(gcsStorage{client: sc.Client}, sc.Tracer, opts)
}

func newGCSClientWithAPI(api gcsAPI, tracer trace.Tracer, opts Options) *gcsClient {
	return &gcsClient{api: api, tracer: tracer, opts: opts.withDefaults()}
}

func (c *gcsClient) DownloadAll(ctx context.Context, bucket, destDir string) error {
	ctx, span := c.tracer.Start(ctx, "blobstore.gcsDownloadAll",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", c.opts.Prefix),
		),
	)
	defer span.End()

	start := time.Now()
	it := c.api.Objects(ctx, bucket, c.opts.Prefix)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	objects := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			_ = g.Wait()
			recordDownloadError(ctx, providerGCS, bucket, "list_failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return fmt.Errorf("list gs://%s/%s: %w", bucket, c.opts.Prefix, err)
		}
		target, skip, err := objectPath(destDir, c.opts.Prefix, attrs.Name)
		if err != nil {
			_ = g.Wait()
			return err
		}
		if skip {
			continue
		}
		objects++
		name := attrs.Name
		g.Go(func() error {
			return c.downloadObject(gctx, bucket, name, target)
		})
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

func (c *gcsClient) downloadObject(ctx context.Context, bucket, key, target string) error {
	reader, err := c.api.NewReader(ctx, bucket, key)
	if err != nil {
		recordDownloadError(ctx, providerGCS, bucket, "get_failed")
		return fmt.Errorf("download gs://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = reader.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file for %s: %w", key, err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		_ = f.Close()
		recordDownloadError(ctx, providerGCS, bucket, "copy_failed")
		return fmt.Errorf("copy gs://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		recordDownloadError(ctx, providerGCS, bucket, "close_failed")
		return fmt.Errorf("close %s: %w", target, err)
	}
	recordDownload(ctx, providerGCS, bucket, size)
	return nil
}

func (c *gcsClient) VersionTag(ctx context.Context, bucket string) (string, bool, error) {
	key := c.opts.markerKey()
	ctx, span := c.tracer.Start(ctx, "blobstore.gcsVersionTag",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	attrs, err := c.api.Attrs(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			slog.Debug("Marker object not found", slog.String("bucket", bucket), slog.String("key", key))
			return "", false, nil
		}
		recordVersionError(ctx, providerGCS, bucket)
		span.RecordError(err)
		span.SetStatus(codes.Error, "attrs failed")
		return "", false, fmt.Errorf("read marker gs://%s/%s: %w", bucket, key, err)
	}
	return lookupVersion(attrs.Metadata)
}
