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
	"path"
	"path/filepath"
	"strings"
)

// objectPath maps an object key to its location under destDir. skip is true
// for keys outside prefix and for folder placeholders.
func objectPath(destDir, prefix, key string) (target string, skip bool, err error) {
	if !strings.HasPrefix(key, prefix) || strings.HasSuffix(key, "/") {
		return "", true, nil
	}
	rel := strings.TrimLeft(strings.TrimPrefix(key, prefix), "/")
	if rel == "" {
		return "", true, nil
	}
	local := filepath.FromSlash(path.Clean(rel))
	if !filepath.IsLocal(local) {
		return "", false, fmt.Errorf("%w: %s", ErrUnsafeKey, key)
	}
	return filepath.Join(destDir, local), false, nil
}
