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
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

// fakeAzure serves a single in-memory container.
type fakeAzure struct {
	mu        sync.Mutex
	container string
	blobs     map[string]fakeObject
	pageSize  int

	listErr      error
	propsErr     error
	downloadErrs map[string]error

	downloads []string
}

func newFakeAzure(container string) *fakeAzure {
	return &fakeAzure{container: container, blobs: map[string]fakeObject{}, pageSize: 2, downloadErrs: map[string]error{}}
}

func (f *fakeAzure) put(name, body string, md map[string]string) {
	f.blobs[name] = fakeObject{body: []byte(body), metadata: md}
}

func blobNotFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: string(bloberror.BlobNotFound)}
}

func (f *fakeAzure) NewListBlobsFlatPager(containerName string, o *azblob.ListBlobsFlatOptions) *runtime.Pager[azblob.ListBlobsFlatResponse] {
	prefix := ""
	if o != nil && o.Prefix != nil {
		prefix = *o.Prefix
	}
	var names []string
	for name := range f.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	pages := slices.Collect(slices.Chunk(names, f.pageSize))
	fetched := 0
	return runtime.NewPager(runtime.PagingHandler[azblob.ListBlobsFlatResponse]{
		More: func(azblob.ListBlobsFlatResponse) bool {
			return fetched < len(pages)
		},
		Fetcher: func(context.Context, *azblob.ListBlobsFlatResponse) (azblob.ListBlobsFlatResponse, error) {
			if f.listErr != nil {
				return azblob.ListBlobsFlatResponse{}, f.listErr
			}
			if containerName != f.container {
				return azblob.ListBlobsFlatResponse{}, &azcore.ResponseError{
					StatusCode: http.StatusNotFound,
					ErrorCode:  string(bloberror.ContainerNotFound),
				}
			}
			segment := &container.BlobFlatListSegment{}
			if fetched < len(pages) {
				for _, name := range pages[fetched] {
					segment.BlobItems = append(segment.BlobItems, &container.BlobItem{Name: &name})
				}
			}
			fetched++
			return azblob.ListBlobsFlatResponse{
				ListBlobsFlatSegmentResponse: container.ListBlobsFlatSegmentResponse{Segment: segment},
			}, nil
		},
	})
}

func (f *fakeAzure) DownloadFile(_ context.Context, _ string, blobName string, file *os.File, _ *azblob.DownloadFileOptions) (int64, error) {
	f.mu.Lock()
	f.downloads = append(f.downloads, blobName)
	err := f.downloadErrs[blobName]
	blob, ok := f.blobs[blobName]
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, blobNotFound()
	}
	n, err := file.Write(blob.body)
	return int64(n), err
}

func (f *fakeAzure) BlobMetadata(_ context.Context, _ string, blobName string) (map[string]*string, error) {
	if f.propsErr != nil {
		return nil, f.propsErr
	}
	blob, ok := f.blobs[blobName]
	if !ok {
		return nil, blobNotFound()
	}
	md := make(map[string]*string, len(blob.metadata))
	for k, v := range blob.metadata {
		md[k] = &v
	}
	return md, nil
}

func newTestAzureClient(api azureAPI, opts Options) *azureClient {
	return newAzureClientWithAPI(api, noop.NewTracerProvider().Tracer("test"), opts)
}

func TestAzureDownloadAll(t *testing.T) {
	api := newFakeAzure("cfg")
	api.put("application.yml", "a: 1\n", nil)
	api.put("bar/bar.yml", "b: 1\n", nil)
	api.put("bar/staging/bar.yml", "b: 2\n", nil)
	api.put("bar/", "", nil)
	api.put(DefaultMarker, "x", map[string]string{"version": "v1"})

	dest := t.TempDir()
	c := newTestAzureClient(api, Options{Concurrency: 2})
	require.NoError(t, c.DownloadAll(t.Context(), "cfg", dest))

	data, err := os.ReadFile(filepath.Join(dest, "bar", "staging", "bar.yml"))
	require.NoError(t, err)
	assert.Equal(t, "b: 2\n", string(data))
	assert.FileExists(t, filepath.Join(dest, "application.yml"))
	assert.FileExists(t, filepath.Join(dest, "bar", "bar.yml"))
	assert.FileExists(t, filepath.Join(dest, DefaultMarker))
	assert.NotContains(t, api.downloads, "bar/", "folder placeholders are not fetched")
	assert.Len(t, api.downloads, 4)
}

func TestAzureDownloadAllPrefix(t *testing.T) {
	api := newFakeAzure("cfg")
	api.put("prod/app.yml", "p: 1\n", nil)
	api.put("dev/app.yml", "d: 1\n", nil)

	dest := t.TempDir()
	require.NoError(t, newTestAzureClient(api, Options{Prefix: "prod"}).DownloadAll(t.Context(), "cfg", dest))

	data, err := os.ReadFile(filepath.Join(dest, "app.yml"))
	require.NoError(t, err)
	assert.Equal(t, "p: 1\n", string(data))
	assert.NoDirExists(t, filepath.Join(dest, "dev"))
}

func TestAzureDownloadAllErrors(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		api := newFakeAzure("cfg")
		api.listErr = errors.New("authorization failure")

		err := newTestAzureClient(api, Options{}).DownloadAll(t.Context(), "cfg", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authorization failure")
	})

	t.Run("missing container", func(t *testing.T) {
		api := newFakeAzure("cfg")
		api.put("a.yml", "a\n", nil)

		err := newTestAzureClient(api, Options{}).DownloadAll(t.Context(), "other", t.TempDir())
		assert.True(t, bloberror.HasCode(err, bloberror.ContainerNotFound))
	})

	t.Run("download", func(t *testing.T) {
		api := newFakeAzure("cfg")
		api.put("a.yml", "a\n", nil)
		api.put("b.yml", "b\n", nil)
		api.downloadErrs["b.yml"] = errors.New("connection reset")

		err := newTestAzureClient(api, Options{}).DownloadAll(t.Context(), "cfg", t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "azblob://cfg/b.yml")
	})

	t.Run("unsafe key", func(t *testing.T) {
		api := newFakeAzure("cfg")
		api.put("../escape.yml", "x\n", nil)

		err := newTestAzureClient(api, Options{}).DownloadAll(t.Context(), "cfg", t.TempDir())
		assert.ErrorIs(t, err, ErrUnsafeKey)
	})
}

func TestAzureVersionTag(t *testing.T) {
	api := newFakeAzure("cfg")
	c := newTestAzureClient(api, Options{})

	_, ok, err := c.VersionTag(t.Context(), "cfg")
	require.NoError(t, err)
	assert.False(t, ok, "missing marker")

	api.put(DefaultMarker, "", map[string]string{"owner": "platform"})
	_, ok, err = c.VersionTag(t.Context(), "cfg")
	require.NoError(t, err)
	assert.False(t, ok, "marker without version")

	// Azure returns metadata keys with the casing they were stored with.
	api.put(DefaultMarker, "", map[string]string{"Version": "v42"})
	tag, ok, err := c.VersionTag(t.Context(), "cfg")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v42", tag)

	api.propsErr = &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: string(bloberror.AuthorizationFailure)}
	_, ok, err = c.VersionTag(t.Context(), "cfg")
	assert.Error(t, err)
	assert.False(t, ok)
}
