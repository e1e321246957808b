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
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const (
	SchemeS3    = "s3"
	SchemeGCS   = "gs"
	SchemeAzure = "azblob"
	SchemeFile  = "file"
)

// Location is a parsed bucket URI of the form scheme://bucket[/prefix].
// For file URIs the last path element is the bucket and Root holds the
// directory containing it.
type Location struct {
	Scheme string
	Bucket string
	Prefix string
	Root   string
}

func (l Location) String() string {
	switch l.Scheme {
	case SchemeFile:
		return "file://" + filepath.ToSlash(filepath.Join(l.Root, l.Bucket))
	default:
		if l.Prefix == "" {
			return fmt.Sprintf("%s://%s", l.Scheme, l.Bucket)
		}
		return fmt.Sprintf("%s://%s/%s", l.Scheme, l.Bucket, l.Prefix)
	}
}

// ParseURI parses a bucket URI such as s3://config-bucket/prod.
func ParseURI(uri string) (Location, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return Location{}, fmt.Errorf("%w %q: %w", ErrInvalidURI, uri, err)
	}

	switch u.Scheme {
	case SchemeS3, SchemeGCS, SchemeAzure:
		if u.Host == "" {
			return Location{}, fmt.Errorf("%w %q: missing bucket", ErrInvalidURI, uri)
		}
		return Location{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Prefix: normalizePrefix(u.Path),
		}, nil
	case SchemeFile:
		p := filepath.Clean(filepath.FromSlash(u.Host + u.Path))
		bucket := filepath.Base(p)
		if u.Path == "" || bucket == string(filepath.Separator) || bucket == "." {
			return Location{}, fmt.Errorf("%w %q: missing bucket directory", ErrInvalidURI, uri)
		}
		return Location{
			Scheme: SchemeFile,
			Bucket: bucket,
			Root:   filepath.Dir(p),
		}, nil
	case "":
		return Location{}, fmt.Errorf("%w %q: missing scheme", ErrInvalidURI, uri)
	default:
		return Location{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}

// normalizePrefix strips leading slashes and guarantees a trailing one on
// a non-empty prefix.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}
