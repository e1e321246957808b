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

	"github.com/cardinalhq/configrunner/internal/helpers"
)

// DefaultMinFreeBytes is the free space below which DiskSpaceReporter
// reports down.
const DefaultMinFreeBytes = 10 << 20

// DiskSpaceReporter reports down when the filesystem holding path runs
// short of free space, which would make the next refresh fail.
type DiskSpaceReporter struct {
	path         string
	minFreeBytes uint64
	usage        func(string) (helpers.FSUsage, error)
}

var _ Reporter = (*DiskSpaceReporter)(nil)

func NewDiskSpaceReporter(path string, minFreeBytes uint64) *DiskSpaceReporter {
	if minFreeBytes == 0 {
		minFreeBytes = DefaultMinFreeBytes
	}
	return &DiskSpaceReporter{path: path, minFreeBytes: minFreeBytes, usage: helpers.DiskUsage}
}

func (d *DiskSpaceReporter) Health(context.Context) Health {
	u, err := d.usage(d.path)
	if err != nil {
		return Health{
			Status:  StatusDown,
			Details: map[string]any{"path": d.path, DetailError: err.Error()},
		}
	}
	status := StatusUp
	if u.FreeBytes < d.minFreeBytes {
		status = StatusDown
	}
	return Health{
		Status: status,
		Details: map[string]any{
			"path":      d.path,
			"total":     u.TotalBytes,
			"free":      u.FreeBytes,
			"threshold": d.minFreeBytes,
		},
	}
}

// Composite reports up only when every component is up. Each component's
// result appears under its name in the details.
type Composite map[string]Reporter

var _ Reporter = Composite(nil)

func (c Composite) Health(ctx context.Context) Health {
	h := Health{Status: StatusUp, Details: make(map[string]any, len(c))}
	for name, r := range c {
		sub := r.Health(ctx)
		if !sub.IsUp() {
			h.Status = StatusDown
		}
		h.Details[name] = sub
	}
	return h
}
