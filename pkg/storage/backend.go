package storage

import (
	"context"
	"io"
)

// Backend is the capability set a blob-storage service must provide to back a Store.
// Implementations classify their failures with NewError so the Store can surface them
// with the right Code.
type Backend interface {
	// CreateContainerIfAbsent reports created=false without error when the container exists.
	CreateContainerIfAbsent(ctx context.Context, container string) (created bool, err error)
	// SetAccess replaces the container's anonymous access level.
	SetAccess(ctx context.Context, container string, level AccessLevel) error
	// PutBlock creates or overwrites a block blob with everything read from r.
	// Nothing becomes visible unless r is read to EOF and the write succeeds.
	PutBlock(ctx context.Context, container, name string, r io.Reader) (BlobMetadata, error)
	// ListSegmented returns one page. When req.Delimiter is set, names sharing a prefix up to
	// the next delimiter are returned once as a KindDirectory entry.
	ListSegmented(ctx context.Context, container string, req SegmentRequest) (Segment, error)
	// GetStream opens the blob for reading. The caller closes the stream.
	GetStream(ctx context.Context, container, name string) (io.ReadCloser, BlobMetadata, error)
	// AppendBlock creates the append blob if needed and appends entry as one atomic block.
	AppendBlock(ctx context.Context, container, name string, entry []byte) (BlobMetadata, error)
	// DeleteBlob fails with CodeNotFound when the blob does not exist.
	DeleteBlob(ctx context.Context, container, name string) error
	Limits() Limits
}

// IdentityVerifier is implemented by backends that can confirm their credentials.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context) (string, error)
}
