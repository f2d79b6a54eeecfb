package providers

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/cloudblob/pkg/storage"
	"github.com/DrSkyle/cloudblob/pkg/storage/azurestore"
	"github.com/DrSkyle/cloudblob/pkg/storage/s3store"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, "memory://", Options{})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryBackend{}, b)

	dir := t.TempDir()
	b, err = Open(ctx, "file://"+dir, Options{})
	require.NoError(t, err)
	local, ok := b.(*storage.LocalBackend)
	require.True(t, ok)
	assert.Equal(t, dir, local.Root)

	b, err = Open(ctx, "UseDevelopmentStorage=true", Options{})
	require.NoError(t, err)
	assert.IsType(t, &azurestore.Backend{}, b)

	b, err = Open(ctx, "s3://AKID:SECRET@bucket-host?region=eu-west-1&endpoint=localhost:4566&disable_https=true&use_path_style=true", Options{})
	require.NoError(t, err)
	assert.IsType(t, &s3store.Backend{}, b)
}

func TestOpenRejects(t *testing.T) {
	tests := []struct {
		name    string
		connStr string
	}{
		{"empty", "   "},
		{"unknown scheme", "gs://bucket"},
		{"relative path", "file:relative/dir"},
		{"half credentials", "s3://AKID@host"},
		{"bad bool", "s3://host?use_path_style=maybe"},
		{"bad azure key", "DefaultEndpointsProtocol=https;AccountName=acct;AccountKey=%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Open(context.Background(), tt.connStr, Options{})
			require.Error(t, err)
			assert.Nil(t, b)
		})
	}
}

func TestS3Options(t *testing.T) {
	tests := []struct {
		in   string
		want s3store.SessionOptions
	}{
		{
			in:   "s3://ignored",
			want: s3store.SessionOptions{},
		},
		{
			in: "s3://AKID:SECRET@ignored?region=eu-west-1&profile=dev",
			want: s3store.SessionOptions{
				AccessKey: "AKID", SecretKey: "SECRET", Region: "eu-west-1", Profile: "dev",
			},
		},
		{
			in:   "s3://h?endpoint=minio:9000&disable_https=true&use_path_style=true",
			want: s3store.SessionOptions{Endpoint: "http://minio:9000", UsePathStyle: true},
		},
		{
			in:   "s3://h?endpoint=s3.example.com",
			want: s3store.SessionOptions{Endpoint: "https://s3.example.com"},
		},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		require.NoError(t, err)
		got, err := S3Options(u)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestIsAzure(t *testing.T) {
	assert.True(t, isAzure("DefaultEndpointsProtocol=https;AccountName=a;AccountKey=k;EndpointSuffix=core.windows.net"))
	assert.True(t, isAzure("BlobEndpoint=https://a.blob.core.windows.net/;SharedAccessSignature=sv=2020"))
	assert.True(t, isAzure("UseDevelopmentStorage=true"))
	assert.False(t, isAzure("memory://"))
	assert.False(t, isAzure("s3://h?region=us-east-1"))
}
