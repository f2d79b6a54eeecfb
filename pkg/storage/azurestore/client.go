package azurestore

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// Pager is satisfied by *runtime.Pager. It lets tests feed canned pages.
type Pager[T any] interface {
	More() bool
	NextPage(ctx context.Context) (T, error)
}

// API is the slice of the Blob service the backend needs, keyed by container and blob name.
type API interface {
	CreateContainer(ctx context.Context, containerName string) error
	SetContainerAccess(ctx context.Context, containerName string, access *container.PublicAccessType) error
	UploadStream(ctx context.Context, containerName, blobName string, body io.Reader) (blockblob.UploadStreamResponse, error)
	NewListBlobsFlatPager(containerName string, o *container.ListBlobsFlatOptions) Pager[container.ListBlobsFlatResponse]
	NewListBlobsHierarchyPager(containerName, delimiter string, o *container.ListBlobsHierarchyOptions) Pager[container.ListBlobsHierarchyResponse]
	DownloadStream(ctx context.Context, containerName, blobName string) (blob.DownloadStreamResponse, error)
	GetProperties(ctx context.Context, containerName, blobName string) (blob.GetPropertiesResponse, error)
	// CreateAppendBlob fails with BlobAlreadyExists when the blob exists.
	CreateAppendBlob(ctx context.Context, containerName, blobName string) error
	AppendBlock(ctx context.Context, containerName, blobName string, body io.ReadSeekCloser) (appendblob.AppendBlockResponse, error)
	DeleteBlob(ctx context.Context, containerName, blobName string) error
}

// sdkClient implements API with *azblob.Client.
type sdkClient struct {
	client *azblob.Client
}

// NewAPI wraps an SDK client.
func NewAPI(client *azblob.Client) API {
	return &sdkClient{client: client}
}

func (c *sdkClient) container(name string) *container.Client {
	return c.client.ServiceClient().NewContainerClient(name)
}

func (c *sdkClient) CreateContainer(ctx context.Context, containerName string) error {
	_, err := c.container(containerName).Create(ctx, nil)
	return err
}

func (c *sdkClient) SetContainerAccess(ctx context.Context, containerName string, access *container.PublicAccessType) error {
	_, err := c.container(containerName).SetAccessPolicy(ctx, &container.SetAccessPolicyOptions{Access: access})
	return err
}

func (c *sdkClient) UploadStream(ctx context.Context, containerName, blobName string, body io.Reader) (blockblob.UploadStreamResponse, error) {
	return c.container(containerName).NewBlockBlobClient(blobName).UploadStream(ctx, body, nil)
}

func (c *sdkClient) NewListBlobsFlatPager(containerName string, o *container.ListBlobsFlatOptions) Pager[container.ListBlobsFlatResponse] {
	return c.container(containerName).NewListBlobsFlatPager(o)
}

func (c *sdkClient) NewListBlobsHierarchyPager(containerName, delimiter string, o *container.ListBlobsHierarchyOptions) Pager[container.ListBlobsHierarchyResponse] {
	return c.container(containerName).NewListBlobsHierarchyPager(delimiter, o)
}

func (c *sdkClient) DownloadStream(ctx context.Context, containerName, blobName string) (blob.DownloadStreamResponse, error) {
	return c.container(containerName).NewBlobClient(blobName).DownloadStream(ctx, nil)
}

func (c *sdkClient) GetProperties(ctx context.Context, containerName, blobName string) (blob.GetPropertiesResponse, error) {
	return c.container(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
}

func (c *sdkClient) CreateAppendBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.container(containerName).NewAppendBlobClient(blobName).Create(ctx, &appendblob.CreateOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	return err
}

func (c *sdkClient) AppendBlock(ctx context.Context, containerName, blobName string, body io.ReadSeekCloser) (appendblob.AppendBlockResponse, error) {
	return c.container(containerName).NewAppendBlobClient(blobName).AppendBlock(ctx, body, nil)
}

func (c *sdkClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.container(containerName).NewBlobClient(blobName).Delete(ctx, nil)
	return err
}
