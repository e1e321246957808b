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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/configrunner/internal/azureclient"
)

const providerAzure = "azure"

// azureAPI is the subset of the azblob clients used here.
type azureAPI interface {
	NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse]
	DownloadFile(ctx context.Context, containerName, blobName string, file *os.File, o *azblob.DownloadFileOptions) (int64, error)
	BlobMetadata(ctx context.Context, containerName, blobName string) (map[string]*string, error)
}

type azureBlobs struct {
	*azblob.Client
	service *service.Client
}

func (a azureBlobs) BlobMetadata(ctx context.Context, containerName, blobName string) (map[string]*string, error) {
	props, err := a.service.NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	return props.Metadata, nil
}

// azureClient implements Client for Azure Blob Storage. The bucket is the
// container name.
type azureClient struct {
	api    azureAPI
	tracer trace.Tracer
	opts   Options
}

var _ Client = (*azureClient)(nil)

func newAzureClient(bc *azureclient.BlobClient, opts Options) *azureClient {
	return newAzureClientWithAPI(azureBlobs{Client: bc.Client, service: bc.ServiceClient}, bc.Tracer, opts)
}

func newAzureClientWithAPI(api azureAPI, tracer trace.Tracer, opts Options) *azureClient {
	return &azureClient{api: api, tracer: tracer, opts: opts.withDefaults()}
}

func (c *azureClient) DownloadAll(ctx context.Context, bucket, destDir string) error {
	ctx, span := c.tracer.Start(ctx, "blobstore.azureDownloadAll",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("prefix", c.opts.Prefix),
		),
	)
	defer span.End()

	start := time.Now()
	var listOpts *azblob.ListBlobsFlatOptions
	if c.opts.Prefix != "" {
		prefix := c.opts.Prefix
		listOpts = &azblob.ListBlobsFlatOptions{Prefix: &prefix}
	}
	pager := c.api.NewListBlobsFlatPager(bucket, listOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	objects := 0
	for pager.More() {
		resp, err := pager.NextPage(gctx)
		if err != nil {
			_ = g.Wait()
			recordDownloadError(ctx, providerAzure, bucket, "list_failed")
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return fmt.Errorf("list azblob://%s/%s: %w", bucket, c.opts.Prefix, err)
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			name := *item.Name
			target, skip, err := objectPath(destDir, c.opts.Prefix, name)
			if err != nil {
				_ = g.Wait()
				return err
			}
			if skip {
				continue
			}
			objects++
			g.Go(func() error {
				return c.downloadObject(gctx, bucket, name, target)
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

func (c *azureClient) downloadObject(ctx context.Context, container, blobName, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", blobName, err)
	}
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file for %s: %w", blobName, err)
	}

	size, err := c.api.DownloadFile(ctx, container, blobName, f, nil)
	if err != nil {
		_ = f.Close()
		recordDownloadError(ctx, providerAzure, container, "get_failed")
		return fmt.Errorf("download azblob://%s/%s: %w", container, blobName, err)
	}
	if err := f.Close(); err != nil {
		recordDownloadError(ctx, providerAzure, container, "close_failed")
		return fmt.Errorf("close %s: %w", target, err)
	}
	recordDownload(ctx, providerAzure, container, size)
	return nil
}

func (c *azureClient) VersionTag(ctx context.Context, bucket string) (string, bool, error) {
	key := c.opts.markerKey()
	ctx, span := c.tracer.Start(ctx, "blobstore.azureVersionTag",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	metadata, err := c.api.BlobMetadata(ctx, bucket, key)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			slog.Debug("Marker blob not found", slog.String("container", bucket), slog.String("key", key))
			return "", false, nil
		}
		recordVersionError(ctx, providerAzure, bucket)
		span.RecordError(err)
		span.SetStatus(codes.Error, "get properties failed")
		return "", false, fmt.Errorf("read marker azblob://%s/%s: %w", bucket, key, err)
	}

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if v != nil {
			md[k] = *v
		}
	}
	return lookupVersion(md)
}
