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

// Package blobstore reads configuration buckets from object storage. Each
// backend can copy a whole bucket (or a key prefix of it) into a local
// directory and report the version tag carried by the bucket's marker
// object.
package blobstore

import (
	"context"
	"errors"
	"strings"
)

const (
	// MetadataVersionKey is the user-metadata field on the marker object
	// that carries the bucket's version tag.
	MetadataVersionKey = "version"

	// DefaultMarker is the name of the marker object.
	DefaultMarker = "config.metadata"

	// DefaultDownloadConcurrency bounds the number of objects fetched at once.
	DefaultDownloadConcurrency = 8
)

var (
	ErrInvalidURI        = errors.New("invalid bucket uri")
	ErrUnsupportedScheme = errors.New("unsupported bucket uri scheme")
	ErrUnsafeKey         = errors.New("object key escapes destination directory")
)

// Client provides the two bucket operations the configuration repository
// needs, across providers.
type Client interface {
	// DownloadAll copies every object in bucket into destDir, keeping the
	// key hierarchy as directories.
	DownloadAll(ctx context.Context, bucket, destDir string) error

	// VersionTag reads the version tag from the bucket's marker object.
	// ok is false, with a nil error, when the marker is missing or carries
	// no version. Any other failure is returned as an error.
	VersionTag(ctx context.Context, bucket string) (tag string, ok bool, err error)
}

// Options tune a Client independent of the provider.
type Options struct {
	// Prefix limits the client to keys under this prefix. Keys are written
	// relative to it and the marker is looked up beneath it.
	Prefix string
	// Marker is the name of the marker object. Defaults to DefaultMarker.
	Marker string
	// Concurrency bounds parallel object downloads.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Marker == "" {
		o.Marker = DefaultMarker
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultDownloadConcurrency
	}
	o.Prefix = normalizePrefix(o.Prefix)
	return o
}

func (o Options) markerKey() string {
	return o.Prefix + o.Marker
}

// lookupVersion pulls the version tag out of user metadata. Providers differ
// on the case of returned keys, so the lookup falls back to a case-insensitive
// match.
func lookupVersion(md map[string]string) (string, bool, error) {
	if v, ok := md[MetadataVersionKey]; ok && v != "" {
		return v, true, nil
	}
	for k, v := range md {
		if strings.EqualFold(k, MetadataVersionKey) && v != "" {
			return v, true, nil
		}
	}
	return "", false, nil
}
