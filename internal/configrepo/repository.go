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

// Package configrepo keeps a local copy of a configuration bucket fresh.
// A Repository decides whether the remote bucket has moved on, downloads it
// into a staging directory when it has, and swaps the new tree into place
// so that readers never observe a partially written tree.
package configrepo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cardinalhq/configrunner/internal/helpers"
	"github.com/cardinalhq/configrunner/internal/idgen"
)

const (
	stagingPrefix = "config-repo-tmp-"
	retiredInfix  = ".retired-"
)

var ErrRefreshFailed = errors.New("configuration refresh failed")

// Source is the remote side of a Repository.
type Source interface {
	DownloadAll(ctx context.Context, bucket, destDir string) error
	VersionTag(ctx context.Context, bucket string) (tag string, ok bool, err error)
}

type Options struct {
	// Bucket is the remote bucket name. Required.
	Bucket string
	// BaseDir is the serving directory. Defaults to DefaultBaseDir(Bucket).
	BaseDir string
	// StagingRoot is where staging directories are created. Defaults to
	// the parent of BaseDir so promotion is a rename.
	StagingRoot string
}

// DefaultBaseDir is the serving directory used when none is configured.
func DefaultBaseDir(bucket string) string {
	return filepath.Join(os.TempDir(), "config-repo-"+bucket)
}

// Repository serves one bucket from one local directory.
type Repository struct {
	source      Source
	bucket      string
	basedir     string
	stagingRoot string

	// gate serializes refresh attempts; mu guards the served tree and
	// the version describing it.
	gate    *semaphore.Weighted
	mu      sync.RWMutex
	version Version

	ids    *idgen.ULIDGenerator
	tracer trace.Tracer
}

func New(source Source, opts Options) (*Repository, error) {
	if source == nil {
		return nil, errors.New("configrepo: source is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("configrepo: bucket is required")
	}
	if opts.BaseDir == "" {
		opts.BaseDir = DefaultBaseDir(opts.Bucket)
	}
	basedir, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("configrepo: resolve basedir %s: %w", opts.BaseDir, err)
	}
	if basedir == filepath.Dir(basedir) {
		return nil, fmt.Errorf("configrepo: basedir %s cannot be a filesystem root", basedir)
	}
	if opts.StagingRoot == "" {
		opts.StagingRoot = filepath.Dir(basedir)
	}

	return &Repository{
		source:      source,
		bucket:      opts.Bucket,
		basedir:     basedir,
		stagingRoot: opts.StagingRoot,
		gate:        semaphore.NewWeighted(1),
		ids:         idgen.NewULIDGenerator(),
		tracer:      otel.Tracer("github.com/cardinalhq/configrunner/internal/configrepo"),
	}, nil
}

func (r *Repository) Bucket() string  { return r.bucket }
func (r *Repository) BaseDir() string { return r.basedir }

// Version returns the version of the tree currently being served.
func (r *Repository) Version() Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// View calls fn with the serving directory and its version while holding
// the tree stable. fn must not call Refresh.
func (r *Repository) View(fn func(dir string, v Version) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(r.basedir, r.version)
}

// Refresh brings the serving directory up to date with the bucket and
// returns the version being served afterwards. Only one refresh runs at a
// time; callers that arrive while one is in flight wait for it, then make
// their own decision, which normally finds the tree current.
//
// ctx bounds the wait only. Once started, an attempt runs to completion.
// On failure the previous tree keeps being served and the error wraps
// ErrRefreshFailed.
func (r *Repository) Refresh(ctx context.Context) (Version, error) {
	if err := r.gate.Acquire(ctx, 1); err != nil {
		return r.Version(), fmt.Errorf("waiting to refresh bucket %s: %w", r.bucket, err)
	}
	defer r.gate.Release(1)

	ctx = context.WithoutCancel(ctx)
	ctx, span := r.tracer.Start(ctx, "configrepo.refresh",
		trace.WithAttributes(
			attribute.String("bucket", r.bucket),
			attribute.String("basedir", r.basedir),
		),
	)
	defer span.End()

	start := time.Now()
	if !r.shouldFetch(ctx) {
		v := r.Version()
		span.SetAttributes(attribute.String("version", v.String()))
		recordRefresh(ctx, r.bucket, resultCurrent, time.Since(start))
		return v, nil
	}

	v, err := r.fetch(ctx)
	if err != nil {
		served := r.Version()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		recordRefresh(ctx, r.bucket, resultFailed, time.Since(start))
		slog.Error("Failed to refresh configuration",
			slog.String("bucket", r.bucket),
			slog.String("basedir", r.basedir),
			slog.String("servedVersion", served.String()),
			slog.Any("error", err))
		return served, fmt.Errorf("%w: bucket %s: %w", ErrRefreshFailed, r.bucket, err)
	}

	span.SetAttributes(attribute.String("version", v.String()))
	recordRefresh(ctx, r.bucket, resultFetched, time.Since(start))
	slog.Info("Refreshed configuration",
		slog.String("bucket", r.bucket),
		slog.String("basedir", r.basedir),
		slog.String("version", v.String()),
		slog.Duration("elapsed", time.Since(start)))
	return v, nil
}

// shouldFetch runs the checks cheapest first and stops at the first that
// calls for a download.
func (r *Repository) shouldFetch(ctx context.Context) bool {
	if _, err := os.Stat(r.basedir); err != nil {
		slog.Info("Serving directory missing, fetching",
			slog.String("bucket", r.bucket),
			slog.String("basedir", r.basedir))
		return true
	}

	current := r.Version()
	if !current.IsKnown() {
		return true
	}

	tag, ok, err := r.source.VersionTag(ctx, r.bucket)
	if err != nil {
		slog.Warn("Failed to read remote version, fetching",
			slog.String("bucket", r.bucket),
			slog.Any("error", err))
		return true
	}
	if !ok {
		return true
	}
	if !current.Matches(tag) {
		slog.Info("Remote version changed",
			slog.String("bucket", r.bucket),
			slog.String("current", current.String()),
			slog.String("remote", tag))
		return true
	}
	return false
}

// remoteVersion reads the tag of the tree just downloaded. A bucket that
// cannot report one is served as unknown and fetched again next time.
func (r *Repository) remoteVersion(ctx context.Context) Version {
	tag, ok, err := r.source.VersionTag(ctx, r.bucket)
	if err != nil {
		slog.Warn("Failed to read version of downloaded tree",
			slog.String("bucket", r.bucket),
			slog.Any("error", err))
		return UnknownVersion()
	}
	if !ok {
		return UnknownVersion()
	}
	return KnownVersion(tag)
}

func (r *Repository) fetch(ctx context.Context) (Version, error) {
	if err := os.MkdirAll(r.stagingRoot, 0o755); err != nil {
		return Version{}, fmt.Errorf("create staging root %s: %w", r.stagingRoot, err)
	}
	staging, err := os.MkdirTemp(r.stagingRoot, stagingPrefix+r.bucket+"-*")
	if err != nil {
		return Version{}, fmt.Errorf("create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("Failed to remove staging directory",
				slog.String("path", staging),
				slog.Any("error", err))
		}
	}()
	if err := os.Chmod(staging, 0o755); err != nil {
		return Version{}, fmt.Errorf("chmod staging directory: %w", err)
	}

	if err := r.source.DownloadAll(ctx, r.bucket, staging); err != nil {
		return Version{}, fmt.Errorf("download: %w", err)
	}
	v := r.remoteVersion(ctx)

	retired, err := r.swap(staging, v)
	if err != nil {
		return Version{}, err
	}
	if retired != "" {
		if err := os.RemoveAll(retired); err != nil {
			slog.Warn("Failed to remove retired tree",
				slog.String("path", retired),
				slog.Any("error", err))
		}
	}
	return v, nil
}

// swap replaces the serving directory with staging and records v. It
// returns the path the old tree was moved to, if there was one. On error
// the old tree is back in place.
func (r *Repository) swap(staging string, v Version) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.basedir), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", r.basedir, err)
	}

	retired, err := r.retire()
	if err != nil {
		return "", err
	}
	if err := promote(staging, r.basedir); err != nil {
		err = fmt.Errorf("promote %s: %w", staging, err)
		if retired != "" {
			if rerr := os.Rename(retired, r.basedir); rerr != nil {
				err = multierror.Append(err, fmt.Errorf("restore %s: %w", r.basedir, rerr))
			}
		}
		return "", err
	}

	r.version = v
	return retired, nil
}

func (r *Repository) retire() (string, error) {
	if _, err := os.Lstat(r.basedir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", r.basedir, err)
	}
	retired := r.basedir + retiredInfix + r.ids.Make(time.Now())
	if err := os.Rename(r.basedir, retired); err != nil {
		return "", fmt.Errorf("retire %s: %w", r.basedir, err)
	}
	return retired, nil
}

// CleanStaging removes staging and retired directories left behind by a
// process that exited mid-refresh.
func (r *Repository) CleanStaging(ctx context.Context) error {
	if err := r.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.gate.Release(1)

	var result *multierror.Error
	staged := stagingPrefix + r.bucket + "-"
	n, err := helpers.CleanDirEntries(r.stagingRoot, func(name string) bool {
		rest, ok := strings.CutPrefix(name, staged)
		return ok && isTempSuffix(rest)
	})
	if err != nil {
		result = multierror.Append(result, err)
	}

	retiredPrefix := filepath.Base(r.basedir) + retiredInfix
	m, err := helpers.CleanDirEntries(filepath.Dir(r.basedir), func(name string) bool {
		rest, ok := strings.CutPrefix(name, retiredPrefix)
		return ok && idgen.IsULID(rest)
	})
	if err != nil {
		result = multierror.Append(result, err)
	}

	if n+m > 0 {
		slog.Info("Removed abandoned refresh directories",
			slog.String("bucket", r.bucket),
			slog.Int("staging", n),
			slog.Int("retired", m))
	}
	return result.ErrorOrNil()
}

// isTempSuffix matches the random part os.MkdirTemp substitutes for "*".
// Bucket names may contain '-', so anything else belongs to another bucket.
func isTempSuffix(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
