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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockVersionSource struct {
	mock.Mock
}

func (m *mockVersionSource) VersionTag(ctx context.Context, bucket string) (string, bool, error) {
	args := m.Called(ctx, bucket)
	return args.String(0), args.Bool(1), args.Error(2)
}

func TestBucketReporter(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		ok   bool
		err  error
		want Health
	}{
		{
			name: "version present",
			tag:  "2025.10.1",
			ok:   true,
			want: Health{Status: StatusUp, Details: map[string]any{DetailConfigVersion: "2025.10.1"}},
		},
		{
			name: "no version",
			want: Health{Status: StatusDown, Details: map[string]any{DetailReason: "Could not access bucket cfg"}},
		},
		{
			name: "access error",
			err:  errors.New("access denied"),
			want: Health{Status: StatusDown, Details: map[string]any{
				DetailReason: "Could not access bucket cfg",
				DetailError:  "access denied",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockVersionSource{}
			src.On("VersionTag", mock.Anything, "cfg").Return(tt.tag, tt.ok, tt.err).Once()

			got := NewBucketReporter(src, "cfg").Health(t.Context())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Status == StatusUp, got.IsUp())
			src.AssertExpectations(t)
		})
	}
}
