//go:build integration

package azurestore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

const azuriteKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

// TestAzurite_Integration runs the Store against the Azurite blob emulator.
// Requires Docker.
func TestAzurite_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	azurite, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
			ExposedPorts: []string{"10000/tcp"},
			Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--skipApiVersionCheck"},
			WaitingFor:   wait.ForListeningPort("10000/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Azurite: %v", err)
	}
	defer func() {
		if err := azurite.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}()

	endpoint, err := azurite.PortEndpoint(ctx, "10000/tcp", "http")
	require.NoError(t, err)
	connStr := fmt.Sprintf("DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=%s;BlobEndpoint=%s/devstoreaccount1;",
		azuriteKey, endpoint)

	backend, err := Open(connStr, Options{MaxRetries: 1})
	require.NoError(t, err)
	logs := "logs-" + uuid.NewString()[:8]
	s := storage.New(backend, storage.WithPageSize(2), storage.WithLogContainer(logs))

	name := "it-" + uuid.NewString()[:8]
	handle, err := s.EnsureContainer(ctx, name)
	require.NoError(t, err)
	assert.True(t, handle.Created)
	handle, err = s.EnsureContainer(ctx, name)
	require.NoError(t, err)
	assert.False(t, handle.Created)
	require.NoError(t, s.SetAccessLevel(ctx, name, storage.AccessPublicBlob))

	for _, blobName := range []string{"HelloWorld.txt", "docs/a.md", "docs/b.md"} {
		_, err := s.UploadBlock(ctx, name, blobName, strings.NewReader(blobName))
		require.NoError(t, err)
	}

	var tree []string
	for md, err := range s.ListBlobs(ctx, name, "", true) {
		require.NoError(t, err)
		tree = append(tree, md.Name)
	}
	assert.ElementsMatch(t, []string{"HelloWorld.txt", "docs/"}, tree)

	var buf bytes.Buffer
	_, err = s.DownloadBlob(ctx, name, "docs/a.md", storage.NewBufferSink(&buf))
	require.NoError(t, err)
	assert.Equal(t, "docs/a.md", buf.String())

	_, err = s.EnsureContainer(ctx, logs)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendEntry(ctx, "app.log", []byte(fmt.Sprintf("entry-%d\n", i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	buf.Reset()
	md, err := s.DownloadBlob(ctx, logs, "app.log", storage.NewBufferSink(&buf))
	require.NoError(t, err)
	assert.Equal(t, storage.KindAppend, md.Kind)
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 8)

	_, err = s.AppendEntryTo(ctx, name, "HelloWorld.txt", []byte("x"))
	require.ErrorIs(t, err, storage.ErrNotAppendBlob)

	require.NoError(t, s.DeleteBlob(ctx, name, "HelloWorld.txt"))
	require.ErrorIs(t, s.DeleteBlob(ctx, name, "HelloWorld.txt"), storage.ErrNotFound)
}
