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
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

const providerFile = "file"

// FileClient serves buckets from the local filesystem: each bucket is a
// directory under the root. Local files carry no user metadata, so the
// marker file's contents are read as a YAML mapping instead:
//
//	version: "2025-10-01.3"
//
// It is intended for development and tests.
type FileClient struct {
	root   string
	opts   Options
	tracer trace.Tracer
}

var _ Client = (*FileClient)(nil)

// NewFileClient returns a client that reads buckets under root.
func NewFileClient(root string, opts Options) *FileClient {
	return &FileClient{
		root:   root,
		opts:   opts.withDefaults(),
		tracer: otel.Tracer("github.com/cardinalhq/configrunner/internal/blobstore"),
	}
}

func (c *FileClient) bucketDir(bucket string) string {
	return filepath.Join(c.root, bucket, filepath.FromSlash(c.opts.Prefix))
}

func (c *FileClient) DownloadAll(ctx context.Context, bucket, destDir string) error {
	ctx, span := c.tracer.Start(ctx, "blobstore.fileDownloadAll",
		trace.WithAttributes(attribute.String("bucket", bucket)),
	)
	defer span.End()

	src := c.bucketDir(bucket)
	info, err := os.Stat(src)
	if err != nil {
		recordDownloadError(ctx, providerFile, bucket, "not_found")
		return fmt.Errorf("open bucket %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("open bucket %s: not a directory", src)
	}

	var size int64
	objects := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(destDir, rel)); err != nil {
			return err
		}
		objects++
		size += fi.Size()
		return nil
	})
	if err != nil {
		recordDownloadError(ctx, providerFile, bucket, "copy_failed")
		return fmt.Errorf("copy bucket %s: %w", src, err)
	}

	recordDownload(ctx, providerFile, bucket, size)
	slog.Debug("Copied local bucket",
		slog.String("bucket", bucket),
		slog.String("source", src),
		slog.Int("objects", objects))
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func (c *FileClient) VersionTag(ctx context.Context, bucket string) (string, bool, error) {
	_, span := c.tracer.Start(ctx, "blobstore.fileVersionTag",
		trace.WithAttributes(attribute.String("bucket", bucket)),
	)
	defer span.End()

	path := filepath.Join(c.bucketDir(bucket), filepath.FromSlash(c.opts.Marker))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		recordVersionError(ctx, providerFile, bucket)
		return "", false, fmt.Errorf("read marker %s: %w", path, err)
	}

	var md map[string]string
	if err := yaml.Unmarshal(data, &md); err != nil {
		recordVersionError(ctx, providerFile, bucket)
		return "", false, fmt.Errorf("parse marker %s: %w", path, err)
	}
	return lookupVersion(md)
}
