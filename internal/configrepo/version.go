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

// DefaultVersion is reported when the bucket exposes no version tag.
const DefaultVersion = "latest"

type versionState uint8

const (
	versionUnset versionState = iota
	versionUnknown
	versionKnown
)

// Version is the version of the configuration tree being served. The zero
// value means nothing has been fetched yet.
type Version struct {
	state versionState
	tag   string
}

// UnknownVersion is recorded after a fetch from a bucket that carries no
// version tag. It never matches a remote tag, so the next refresh fetches
// again.
func UnknownVersion() Version {
	return Version{state: versionUnknown}
}

// KnownVersion wraps a remote version tag. An empty tag is unknown.
func KnownVersion(tag string) Version {
	if tag == "" {
		return UnknownVersion()
	}
	return Version{state: versionKnown, tag: tag}
}

func (v Version) IsSet() bool   { return v.state != versionUnset }
func (v Version) IsKnown() bool { return v.state == versionKnown }

// Matches reports whether tag is the version being served.
func (v Version) Matches(tag string) bool {
	return v.IsKnown() && v.tag == tag
}

// String renders the version for logs and responses: empty when unset,
// DefaultVersion when unknown.
func (v Version) String() string {
	switch v.state {
	case versionKnown:
		return v.tag
	case versionUnknown:
		return DefaultVersion
	default:
		return ""
	}
}
