package azurestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/DrSkyle/cloudblob/pkg/storage"
	"github.com/DrSkyle/cloudblob/pkg/version"
)

// Service limits for append blobs.
const (
	maxAppendBlockBytes = 4 << 20
	maxAppendBlocks     = 50000
)

// Backend stores blobs in Azure Blob Storage.
type Backend struct {
	api    API
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Backend = (*Backend)(nil)

// New wraps an API.
func New(api API, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{api: api, logger: logger, now: time.Now}
}

// Options tunes the SDK client built by Open.
type Options struct {
	// MaxRetries is handed to the SDK retry policy. Zero keeps the SDK default.
	MaxRetries int32
	Logger     *slog.Logger
}

// Open connects with an account connection string.
func Open(connectionString string, opts Options) (*Backend, error) {
	clientOpts := &azblob.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Telemetry: policy.TelemetryOptions{ApplicationID: version.AppName + "/" + version.Current},
		},
	}
	if opts.MaxRetries > 0 {
		clientOpts.Retry = policy.RetryOptions{MaxRetries: opts.MaxRetries}
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("invalid azure connection string: %w", err)
	}
	return New(NewAPI(client), opts.Logger), nil
}

func (b *Backend) Limits() storage.Limits {
	return storage.Limits{
		MaxAppendBytes: maxAppendBlockBytes,
		MaxBlobBytes:   maxAppendBlockBytes * maxAppendBlocks,
	}
}

func (b *Backend) CreateContainerIfAbsent(ctx context.Context, containerName string) (bool, error) {
	err := b.api.CreateContainer(ctx, containerName)
	switch {
	case err == nil:
		return true, nil
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		return false, nil
	}
	return false, classify("CreateContainer", containerName, "", err)
}

func (b *Backend) SetAccess(ctx context.Context, containerName string, level storage.AccessLevel) error {
	var access *container.PublicAccessType
	switch level {
	case storage.AccessPublicBlob:
		access = to.Ptr(container.PublicAccessTypeBlob)
	case storage.AccessPublicContainer:
		access = to.Ptr(container.PublicAccessTypeContainer)
	}
	return classify("SetAccess", containerName, "", b.api.SetContainerAccess(ctx, containerName, access))
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// PutBlock stages blocks and commits the block list at the end, so a failed upload leaves
// the previous content in place.
func (b *Backend) PutBlock(ctx context.Context, containerName, blobName string, r io.Reader) (storage.BlobMetadata, error) {
	cr := &countingReader{r: r}
	resp, err := b.api.UploadStream(ctx, containerName, blobName, cr)
	if err != nil {
		return storage.BlobMetadata{}, classify("PutBlock", containerName, blobName, err)
	}
	modified := b.now()
	if resp.LastModified != nil {
		modified = *resp.LastModified
	}
	return storage.BlobMetadata{Name: blobName, Size: cr.n, LastModified: modified.UTC(), Kind: storage.KindBlock}, nil
}

func (b *Backend) ListSegmented(ctx context.Context, containerName string, req storage.SegmentRequest) (storage.Segment, error) {
	const op = "ListSegmented"
	var (
		prefix, marker *string
		maxResults     *int32
	)
	if req.Prefix != "" {
		prefix = to.Ptr(req.Prefix)
	}
	if req.Cursor != "" {
		marker = to.Ptr(req.Cursor)
	}
	if req.MaxResults > 0 {
		maxResults = to.Ptr(int32(min(req.MaxResults, 5000)))
	}

	var seg storage.Segment
	if req.Delimiter == "" {
		pager := b.api.NewListBlobsFlatPager(containerName, &container.ListBlobsFlatOptions{
			Prefix: prefix, Marker: marker, MaxResults: maxResults,
		})
		if !pager.More() {
			return seg, nil
		}
		page, err := pager.NextPage(ctx)
		if err != nil {
			return storage.Segment{}, classify(op, containerName, "", err)
		}
		if page.Segment != nil {
			for _, item := range page.Segment.BlobItems {
				seg.Entries = append(seg.Entries, metadataOf(item))
			}
		}
		seg.Next = deref(page.NextMarker)
		return seg, nil
	}

	pager := b.api.NewListBlobsHierarchyPager(containerName, req.Delimiter, &container.ListBlobsHierarchyOptions{
		Prefix: prefix, Marker: marker, MaxResults: maxResults,
	})
	if !pager.More() {
		return seg, nil
	}
	page, err := pager.NextPage(ctx)
	if err != nil {
		return storage.Segment{}, classify(op, containerName, "", err)
	}
	if page.Segment != nil {
		for _, p := range page.Segment.BlobPrefixes {
			seg.Entries = append(seg.Entries, storage.DirectoryMarker(deref(p.Name)))
		}
		for _, item := range page.Segment.BlobItems {
			seg.Entries = append(seg.Entries, metadataOf(item))
		}
	}
	seg.Next = deref(page.NextMarker)
	return seg, nil
}

func metadataOf(item *container.BlobItem) storage.BlobMetadata {
	md := storage.BlobMetadata{Name: deref(item.Name), Kind: storage.KindBlock}
	if p := item.Properties; p != nil {
		md.Size = uint64(deref(p.ContentLength))
		md.LastModified = deref(p.LastModified).UTC()
		md.Kind = kindOf(p.BlobType)
	}
	return md
}

func kindOf(t *blob.BlobType) storage.Kind {
	if t != nil && *t == blob.BlobTypeAppendBlob {
		return storage.KindAppend
	}
	return storage.KindBlock
}

func (b *Backend) GetStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, storage.BlobMetadata, error) {
	resp, err := b.api.DownloadStream(ctx, containerName, blobName)
	if err != nil {
		return nil, storage.BlobMetadata{}, classify("GetStream", containerName, blobName, err)
	}
	return resp.Body, storage.BlobMetadata{
		Name:         blobName,
		Size:         uint64(deref(resp.ContentLength)),
		LastModified: deref(resp.LastModified).UTC(),
		Kind:         kindOf(resp.BlobType),
	}, nil
}

// AppendBlock creates the append blob on first use and commits entry as a single block.
// The service applies each block atomically, so concurrent writers never interleave bytes.
func (b *Backend) AppendBlock(ctx context.Context, containerName, blobName string, entry []byte) (storage.BlobMetadata, error) {
	const op = "AppendBlock"
	err := b.api.CreateAppendBlob(ctx, containerName, blobName)
	switch {
	case err == nil:
		b.logger.Debug("Created append blob", "container", containerName, "blob", blobName)
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet):
	default:
		return storage.BlobMetadata{}, classify(op, containerName, blobName, err)
	}

	md := storage.BlobMetadata{Name: blobName, Kind: storage.KindAppend, LastModified: b.now().UTC()}
	if len(entry) == 0 {
		if err == nil {
			return md, nil
		}
		return b.appendBlobProperties(ctx, containerName, blobName)
	}
	resp, err := b.api.AppendBlock(ctx, containerName, blobName, streaming.NopCloser(bytes.NewReader(entry)))
	if err != nil {
		return storage.BlobMetadata{}, classify(op, containerName, blobName, err)
	}
	if resp.LastModified != nil {
		md.LastModified = resp.LastModified.UTC()
	}
	if off, err := strconv.ParseUint(deref(resp.BlobAppendOffset), 10, 64); err == nil {
		md.Size = off + uint64(len(entry))
	}
	return md, nil
}

// appendBlobProperties reports an existing append blob without writing to it.
func (b *Backend) appendBlobProperties(ctx context.Context, containerName, blobName string) (storage.BlobMetadata, error) {
	const op = "AppendBlock"
	props, err := b.api.GetProperties(ctx, containerName, blobName)
	if err != nil {
		return storage.BlobMetadata{}, classify(op, containerName, blobName, err)
	}
	if kindOf(props.BlobType) != storage.KindAppend {
		return storage.BlobMetadata{}, storage.NewError(storage.CodeTransport, op, containerName, blobName, storage.ErrNotAppendBlob)
	}
	return storage.BlobMetadata{
		Name:         blobName,
		Size:         uint64(deref(props.ContentLength)),
		LastModified: deref(props.LastModified).UTC(),
		Kind:         storage.KindAppend,
	}, nil
}

func (b *Backend) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	return classify("DeleteBlob", containerName, blobName, b.api.DeleteBlob(ctx, containerName, blobName))
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
