package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/cenkalti/backoff/v4"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// Single PutObject requests are capped at 5 GiB.
const maxObjectBytes = 5 << 30

// kindMetaKey marks objects written through AppendBlock, since S3 has no append blobs.
const kindMetaKey = "cloudblob-kind"

// Client is the subset of *s3.Client the backend uses.
type Client interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketPolicy(ctx context.Context, params *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	DeleteBucketPolicy(ctx context.Context, params *s3.DeleteBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketPolicyOutput, error)
	DeletePublicAccessBlock(ctx context.Context, params *s3.DeletePublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// IdentityClient is the subset of *sts.Client used to check credentials.
type IdentityClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// Backend stores containers as S3 buckets.
type Backend struct {
	client   Client
	identity IdentityClient
	region   string
	logger   *slog.Logger
	limits   storage.Limits
	now      func() time.Time

	// conflictBackOff paces AppendBlock retries after a lost conditional write.
	conflictBackOff func() backoff.BackOff
}

var (
	_ storage.Backend          = (*Backend)(nil)
	_ storage.IdentityVerifier = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithIdentity enables VerifyIdentity.
func WithIdentity(c IdentityClient) Option {
	return func(b *Backend) { b.identity = c }
}

// WithRegion sets the location constraint for new buckets.
func WithRegion(region string) Option {
	return func(b *Backend) { b.region = region }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithLimits overrides the default 5 GiB object limit.
func WithLimits(l storage.Limits) Option {
	return func(b *Backend) { b.limits = l }
}

// New wraps an S3 client.
func New(client Client, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		logger: slog.Default(),
		limits: storage.Limits{MaxBlobBytes: maxObjectBytes},
		now:    time.Now,
		conflictBackOff: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 50 * time.Millisecond
			eb.MaxInterval = 2 * time.Second
			eb.MaxElapsedTime = 0
			return eb
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open builds a session and a backend on top of it.
func Open(ctx context.Context, opts SessionOptions) (*Backend, error) {
	sess, err := NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return New(sess.S3,
		WithIdentity(sess.STS),
		WithRegion(sess.Config.Region),
		WithLogger(opts.Logger),
	), nil
}

func (b *Backend) Limits() storage.Limits { return b.limits }

func (b *Backend) VerifyIdentity(ctx context.Context) (string, error) {
	if b.identity == nil {
		return "", errors.New("identity check not configured")
	}
	return verifyIdentity(ctx, b.identity)
}

func (b *Backend) CreateContainerIfAbsent(ctx context.Context, container string) (bool, error) {
	in := &s3.CreateBucketInput{Bucket: aws.String(container)}
	if b.region != "" && b.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.region),
		}
	}
	_, err := b.client.CreateBucket(ctx, in)
	switch {
	case err == nil:
		return true, nil
	case isOwnedBucket(err):
		return false, nil
	}
	return false, classify("CreateContainer", container, "", err)
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string `json:"Sid"`
	Effect    string `json:"Effect"`
	Principal string `json:"Principal"`
	Action    string `json:"Action"`
	Resource  string `json:"Resource"`
}

// accessPolicy renders the bucket policy that grants anonymous reads for level.
func accessPolicy(bucket string, level storage.AccessLevel) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "PublicReadBlobs",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:GetObject",
			Resource:  "arn:aws:s3:::" + bucket + "/*",
		}},
	}
	if level == storage.AccessPublicContainer {
		doc.Statement = append(doc.Statement, policyStatement{
			Sid:       "PublicListContainer",
			Effect:    "Allow",
			Principal: "*",
			Action:    "s3:ListBucket",
			Resource:  "arn:aws:s3:::" + bucket,
		})
	}
	data, err := json.Marshal(doc)
	return string(data), err
}

func (b *Backend) SetAccess(ctx context.Context, container string, level storage.AccessLevel) error {
	const op = "SetAccess"
	if level == storage.AccessPrivate {
		_, err := b.client.DeleteBucketPolicy(ctx, &s3.DeleteBucketPolicyInput{Bucket: aws.String(container)})
		return classify(op, container, "", err)
	}

	policy, err := accessPolicy(container, level)
	if err != nil {
		return storage.NewError(storage.CodeTransport, op, container, "", err)
	}
	// New buckets block public policies until the public access block is lifted.
	if _, err := b.client.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{Bucket: aws.String(container)}); err != nil {
		return classify(op, container, "", err)
	}
	_, err = b.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(container),
		Policy: aws.String(policy),
	})
	return classify(op, container, "", err)
}

func (b *Backend) PutBlock(ctx context.Context, container, name string, r io.Reader) (storage.BlobMetadata, error) {
	const op = "PutBlock"
	// PutObject needs the length up front; buffering also keeps a failing reader from
	// producing a truncated object.
	var src io.Reader = r
	if b.limits.MaxBlobBytes > 0 {
		src = io.LimitReader(r, int64(b.limits.MaxBlobBytes)+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return storage.BlobMetadata{}, err
	}
	if b.limits.MaxBlobBytes > 0 && uint64(len(data)) > b.limits.MaxBlobBytes {
		return storage.BlobMetadata{}, storage.NewError(storage.CodeSizeLimit, op, container, name,
			fmt.Errorf("object exceeds %d bytes", b.limits.MaxBlobBytes))
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return storage.BlobMetadata{}, classify(op, container, name, err)
	}
	return storage.BlobMetadata{
		Name:         name,
		Size:         uint64(len(data)),
		LastModified: b.now().UTC(),
		Kind:         storage.KindBlock,
	}, nil
}

// ListSegmented reports every object as a block blob. ListObjectsV2 does not return object
// metadata, so the append marker is only visible to GetStream.
func (b *Backend) ListSegmented(ctx context.Context, container string, req storage.SegmentRequest) (storage.Segment, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(container)}
	if req.Prefix != "" {
		in.Prefix = aws.String(req.Prefix)
	}
	if req.Delimiter != "" {
		in.Delimiter = aws.String(req.Delimiter)
	}
	if req.Cursor != "" {
		in.ContinuationToken = aws.String(req.Cursor)
	}
	if req.MaxResults > 0 {
		in.MaxKeys = aws.Int32(int32(min(req.MaxResults, 1000)))
	}

	out, err := b.client.ListObjectsV2(ctx, in)
	if err != nil {
		return storage.Segment{}, classify("ListSegmented", container, "", err)
	}

	entries := make([]storage.BlobMetadata, 0, len(out.Contents)+len(out.CommonPrefixes))
	for _, obj := range out.Contents {
		entries = append(entries, storage.BlobMetadata{
			Name:         aws.ToString(obj.Key),
			Size:         uint64(aws.ToInt64(obj.Size)),
			LastModified: aws.ToTime(obj.LastModified).UTC(),
			Kind:         storage.KindBlock,
		})
	}
	for _, p := range out.CommonPrefixes {
		entries = append(entries, storage.DirectoryMarker(aws.ToString(p.Prefix)))
	}
	// S3 reports keys and common prefixes separately; interleave them in key order.
	slices.SortStableFunc(entries, func(a, b storage.BlobMetadata) int { return strings.Compare(a.Name, b.Name) })

	seg := storage.Segment{Entries: entries}
	if aws.ToBool(out.IsTruncated) {
		seg.Next = aws.ToString(out.NextContinuationToken)
	}
	return seg, nil
}

func (b *Backend) GetStream(ctx context.Context, container, name string) (io.ReadCloser, storage.BlobMetadata, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, storage.BlobMetadata{}, classify("GetStream", container, name, err)
	}
	return out.Body, storage.BlobMetadata{
		Name:         name,
		Size:         uint64(aws.ToInt64(out.ContentLength)),
		LastModified: aws.ToTime(out.LastModified).UTC(),
		Kind:         kindOf(out.Metadata),
	}, nil
}

func kindOf(meta map[string]string) storage.Kind {
	for k, v := range meta {
		if strings.EqualFold(k, kindMetaKey) && v == storage.KindAppend.String() {
			return storage.KindAppend
		}
	}
	return storage.KindBlock
}

// AppendBlock emulates an append blob with read-modify-write guarded by conditional puts.
// A lost race is retried until ctx ends; any other failure is returned at once.
func (b *Backend) AppendBlock(ctx context.Context, container, name string, entry []byte) (storage.BlobMetadata, error) {
	const op = "AppendBlock"
	var md storage.BlobMetadata
	attempts := 0

	err := backoff.Retry(func() error {
		attempts++
		current, etag, err := b.readForAppend(ctx, container, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		size := uint64(len(current) + len(entry))
		if b.limits.MaxBlobBytes > 0 && size > b.limits.MaxBlobBytes {
			return backoff.Permanent(storage.NewError(storage.CodeSizeLimit, op, container, name,
				fmt.Errorf("append blob would exceed %d bytes", b.limits.MaxBlobBytes)))
		}

		body := append(current, entry...)
		in := &s3.PutObjectInput{
			Bucket:        aws.String(container),
			Key:           aws.String(name),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			Metadata:      map[string]string{kindMetaKey: storage.KindAppend.String()},
		}
		if etag == "" {
			in.IfNoneMatch = aws.String("*")
		} else {
			in.IfMatch = aws.String(etag)
		}
		if _, err := b.client.PutObject(ctx, in); err != nil {
			if isConflict(err) {
				b.logger.Debug("Append lost a concurrent write, retrying",
					"bucket", container, "key", name, "attempt", attempts)
				return err
			}
			return backoff.Permanent(classify(op, container, name, err))
		}
		md = storage.BlobMetadata{Name: name, Size: size, LastModified: b.now().UTC(), Kind: storage.KindAppend}
		return nil
	}, backoff.WithContext(b.conflictBackOff(), ctx))
	if err != nil {
		var se *storage.Error
		if errors.As(err, &se) {
			return storage.BlobMetadata{}, err
		}
		return storage.BlobMetadata{}, classify(op, container, name, err)
	}
	return md, nil
}

// readForAppend returns the current content and ETag, or empty values when the object is new.
func (b *Backend) readForAppend(ctx context.Context, container, name string) ([]byte, string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	if err != nil {
		if codeOf(err) == storage.CodeNotFound && !isMissingBucket(err) {
			return nil, "", nil
		}
		return nil, "", classify("AppendBlock", container, name, err)
	}
	defer out.Body.Close()

	if kindOf(out.Metadata) != storage.KindAppend {
		return nil, "", storage.NewError(storage.CodeTransport, "AppendBlock", container, name, storage.ErrNotAppendBlob)
	}
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", classify("AppendBlock", container, name, err)
	}
	return data, aws.ToString(out.ETag), nil
}

func (b *Backend) DeleteBlob(ctx context.Context, container, name string) error {
	const op = "DeleteBlob"
	// DeleteObject succeeds for missing keys, so look first.
	if _, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	}); err != nil {
		return classify(op, container, name, err)
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(name),
	})
	return classify(op, container, name, err)
}
