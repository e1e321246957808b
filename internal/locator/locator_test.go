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

package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/configrunner/internal/blobstore"
	"github.com/cardinalhq/configrunner/internal/configrepo"
)

func newTestLocator(t *testing.T, opts Options) (*Locator, *configrepo.Repository) {
	t.Helper()
	src := blobstore.NewFileClient("testdata/buckets", blobstore.Options{})
	repo, err := configrepo.New(src, configrepo.Options{
		Bucket:  "cfg",
		BaseDir: filepath.Join(t.TempDir(), "serving"),
	})
	require.NoError(t, err)
	l, err := New(repo, opts)
	require.NoError(t, err)
	return l, repo
}

func rel(t *testing.T, base string, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(base, p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

func TestLocate(t *testing.T) {
	l, repo := newTestLocator(t, Options{})

	loc, err := l.Locate(t.Context(), "bar", "staging", "master")
	require.NoError(t, err)
	assert.Equal(t, "bar", loc.Application)
	assert.Equal(t, "staging", loc.Profile)
	assert.Equal(t, "master", loc.Label)
	assert.Equal(t, "2025.10.1", loc.Version)
	assert.Equal(t, []string{".", "bar", "bar/staging"}, rel(t, repo.BaseDir(), loc.Paths))
}

func TestLocateDefaults(t *testing.T) {
	l, repo := newTestLocator(t, Options{DefaultLabel: "main"})

	loc, err := l.Locate(t.Context(), "foo", "", "")
	require.NoError(t, err)
	assert.Equal(t, "main", loc.Label)
	assert.Equal(t, DefaultProfile, loc.Profile)
	assert.Equal(t, []string{".", "foo"}, rel(t, repo.BaseDir(), loc.Paths), "missing profile directory is omitted")
}

func TestLocateUnknownApplication(t *testing.T) {
	l, repo := newTestLocator(t, Options{})

	loc, err := l.Locate(t.Context(), "nope", "prod", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"."}, rel(t, repo.BaseDir(), loc.Paths))
}

func TestLocateProfileList(t *testing.T) {
	l, repo := newTestLocator(t, Options{})

	loc, err := l.Locate(t.Context(), "bar", "staging, dev,staging", "")
	require.NoError(t, err)
	assert.Equal(t, "staging,dev,staging", loc.Profile)
	assert.Equal(t, []string{".", "bar", "bar/staging", "bar/dev"}, rel(t, repo.BaseDir(), loc.Paths))
}

func TestLocateCustomSearchPaths(t *testing.T) {
	l, repo := newTestLocator(t, Options{
		SearchPaths: []string{"{application}/{profile}", "/{application}/", "{application}"},
	})

	loc, err := l.Locate(t.Context(), "bar", "dev", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bar/dev", "bar"}, rel(t, repo.BaseDir(), loc.Paths))
}

func TestNewRejectsEscapingSearchPath(t *testing.T) {
	_, err := New(&mockRepository{}, Options{SearchPaths: []string{"../{application}"}})
	assert.Error(t, err)

	_, err = New(nil, Options{})
	assert.Error(t, err)
}

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Refresh(ctx context.Context) (configrepo.Version, error) {
	args := m.Called(ctx)
	return args.Get(0).(configrepo.Version), args.Error(1)
}

func (m *mockRepository) View(fn func(dir string, v configrepo.Version) error) error {
	args := m.Called(fn)
	return args.Error(0)
}

func TestLocateInvalidNames(t *testing.T) {
	repo := &mockRepository{}
	l, err := New(repo, Options{})
	require.NoError(t, err)

	tests := []struct {
		name, app, profile, label string
	}{
		{"empty application", "", "dev", ""},
		{"separator in application", "a/b", "dev", ""},
		{"backslash in profile", "app", `a\b`, ""},
		{"dotdot in profile list", "app", "dev,..", ""},
		{"dotdot label", "app", "dev", "../x"},
		{"nul", "app\x00", "dev", ""},
		{"dot application", ".", "dev", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Locate(t.Context(), tt.app, tt.profile, tt.label)
			assert.ErrorIs(t, err, ErrInvalidName)
		})
	}
	repo.AssertNotCalled(t, "Refresh", mock.Anything)
}

func TestLocatePropagatesRefreshError(t *testing.T) {
	repo := &mockRepository{}
	failure := errors.Join(configrepo.ErrRefreshFailed, errors.New("access denied"))
	repo.On("Refresh", mock.Anything).Return(configrepo.Version{}, failure)

	l, err := New(repo, Options{})
	require.NoError(t, err)

	_, err = l.Locate(t.Context(), "bar", "dev", "")
	assert.ErrorIs(t, err, configrepo.ErrRefreshFailed)
	repo.AssertNotCalled(t, "View", mock.Anything)
	repo.AssertExpectations(t)
}

func TestLocateConcurrent(t *testing.T) {
	l, repo := newTestLocator(t, Options{})

	const callers = 30
	results := make([]Locations, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = l.Locate(t.Context(), "bar", "staging", "master")
		}()
	}
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "2025.10.1", results[i].Version)
		assert.Len(t, results[i].Paths, 3)
	}
	assert.Equal(t, "2025.10.1", repo.Version().String())
}

// versionedSource serves a generated tree for whatever version it is set to.
type versionedSource struct {
	mu          sync.Mutex
	tag         string
	downloadErr error
}

func (s *versionedSource) set(tag string, downloadErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tag = tag
	s.downloadErr = downloadErr
}

func (s *versionedSource) DownloadAll(_ context.Context, _ string, destDir string) error {
	s.mu.Lock()
	tag, downloadErr := s.tag, s.downloadErr
	s.mu.Unlock()
	if downloadErr != nil {
		return downloadErr
	}
	files := map[string]string{
		"application.yml": "version: " + tag + "\n",
		"bar/bar.yml":     "bar: " + tag + "\n",
		"bar/dev/bar.yml": "dev: " + tag + "\n",
	}
	for name, content := range files {
		path := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (s *versionedSource) VersionTag(context.Context, string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tag, true, nil
}

func newVersionedLocator(t *testing.T, src *versionedSource) (*Locator, *configrepo.Repository) {
	t.Helper()
	repo, err := configrepo.New(src, configrepo.Options{
		Bucket:  "cfg",
		BaseDir: filepath.Join(t.TempDir(), "serving"),
	})
	require.NoError(t, err)
	l, err := New(repo, Options{})
	require.NoError(t, err)
	return l, repo
}

func TestLocateAfterDownloadFailure(t *testing.T) {
	src := &versionedSource{}
	src.set("v1", nil)
	l, repo := newVersionedLocator(t, src)

	loc, err := l.Locate(t.Context(), "bar", "dev", "")
	require.NoError(t, err)
	assert.Equal(t, "v1", loc.Version)
	require.Len(t, loc.Paths, 3)

	// The remote moves to v2 but every download fails: each lookup reports
	// the failure and the v1 tree stays on disk.
	src.set("v2", errors.New("connection reset"))
	for range 3 {
		_, err = l.Locate(t.Context(), "bar", "dev", "")
		require.ErrorIs(t, err, configrepo.ErrRefreshFailed)
		assert.Equal(t, "v1", repo.Version().String())
		data, err := os.ReadFile(filepath.Join(repo.BaseDir(), "bar", "dev", "bar.yml"))
		require.NoError(t, err)
		assert.Equal(t, "dev: v1\n", string(data))
	}

	// Once downloads work again the next lookup serves v2.
	src.set("v2", nil)
	loc, err = l.Locate(t.Context(), "bar", "dev", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", loc.Version)
	require.Len(t, loc.Paths, 3)
	data, err := os.ReadFile(filepath.Join(loc.Paths[2], "bar.yml"))
	require.NoError(t, err)
	assert.Equal(t, "dev: v2\n", string(data))
}

func TestLocateWhileRefreshing(t *testing.T) {
	src := &versionedSource{}
	src.set("v0", nil)
	l, repo := newVersionedLocator(t, src)

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; ctx.Err() == nil; i++ {
			src.set(fmt.Sprintf("v%d", i), nil)
			_, _ = repo.Refresh(ctx)
		}
	}()

	var lookups atomic.Int64
	const callers = 30
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				loc, err := l.Locate(context.Background(), "bar", "dev", "")
				if err != nil {
					errs <- err
					return
				}
				if len(loc.Paths) != 3 {
					errs <- fmt.Errorf("version %s: got %d paths", loc.Version, len(loc.Paths))
					return
				}
				lookups.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Positive(t, lookups.Load())
}
