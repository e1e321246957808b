//go:build integration

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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/orlangure/gnomock"
	"github.com/orlangure/gnomock/preset/localstack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/configrunner/internal/awsclient"
)

func TestS3AgainstLocalStack(t *testing.T) {
	container, err := gnomock.Start(localstack.Preset(localstack.WithServices(localstack.S3)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gnomock.Stop(container) })

	cfg := awsclient.Config{
		Region:       "us-east-1",
		AccessKey:    "test",
		SecretKey:    "test",
		Endpoint:     fmt.Sprintf("http://%s", container.Address(localstack.APIPort)),
		UsePathStyle: true,
	}

	ctx := t.Context()
	mgr, err := awsclient.NewManager(ctx, cfg.ManagerOptions()...)
	require.NoError(t, err)
	s3c, err := mgr.GetS3(ctx, cfg.S3Options()...)
	require.NoError(t, err)

	const bucket = "config-it"
	_, err = s3c.Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	put := func(key, body string, md map[string]string) {
		_, err := s3c.Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			Body:     strings.NewReader(body),
			Metadata: md,
		})
		require.NoError(t, err)
	}

	loc, err := ParseURI("s3://" + bucket)
	require.NoError(t, err)
	client, err := NewClient(ctx, loc, Options{}, ProviderConfig{AWS: cfg})
	require.NoError(t, err)

	_, ok, err := client.VersionTag(ctx, bucket)
	require.NoError(t, err)
	assert.False(t, ok)

	put("application.yml", "a: 1\n", nil)
	put("bar/staging/bar.yml", "b: 2\n", nil)
	put(DefaultMarker, "{}", map[string]string{"version": "it-1"})

	tag, ok, err := client.VersionTag(ctx, bucket)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "it-1", tag)

	dest := t.TempDir()
	require.NoError(t, client.DownloadAll(ctx, bucket, dest))
	data, err := os.ReadFile(filepath.Join(dest, "bar", "staging", "bar.yml"))
	require.NoError(t, err)
	assert.Equal(t, "b: 2\n", string(data))
}
