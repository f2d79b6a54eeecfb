package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPageSize is the number of entries requested per listing page.
const DefaultPageSize = 500

// ErrNoLogContainer is returned by AppendEntry when the Store has no log container.
var ErrNoLogContainer = errors.New("no log container configured")

// Store is the backend-agnostic blob client. It is safe for concurrent use.
type Store struct {
	backend Backend

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	ops   metric.Int64Counter
	bytes metric.Int64Counter

	pageSize     int
	logContainer string

	appendLocks keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// New wraps backend in a Store.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		logger:   slog.Default(),
		tracer:   otel.Tracer("cloudblob/storage"),
		meter:    otel.Meter("cloudblob/storage"),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.ops, err = s.meter.Int64Counter("cloudblob.store.operations",
		metric.WithDescription("Store operations by outcome")); err != nil {
		s.logger.Warn("Operation counter unavailable", "error", err)
	}
	if s.bytes, err = s.meter.Int64Counter("cloudblob.store.bytes",
		metric.WithDescription("Blob bytes moved by the Store"), metric.WithUnit("By")); err != nil {
		s.logger.Warn("Byte counter unavailable", "error", err)
	}
	return s
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMeter sets the meter that owns the operation counters.
func WithMeter(m metric.Meter) Option {
	return func(s *Store) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithPageSize sets the listing page size. Values below 1 are ignored.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithLogContainer sets the container AppendEntry writes to.
func WithLogContainer(name string) Option {
	return func(s *Store) {
		s.logContainer = name
	}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// LogContainer returns the container used by AppendEntry.
func (s *Store) LogContainer() string { return s.logContainer }

// begin opens the span for one operation. The returned func records the outcome.
func (s *Store) begin(ctx context.Context, op, container, blob string) (context.Context, func(err error, n uint64)) {
	attrs := []attribute.KeyValue{attribute.String("container", container)}
	if blob != "" {
		attrs = append(attrs, attribute.String("blob", blob))
	}
	ctx, span := s.tracer.Start(ctx, "Store."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error, n uint64) {
		defer span.End()
		outcome := "ok"
		if err != nil {
			outcome = CodeOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Warn("Blob operation failed",
				"op", op, "container", container, "blob", blob,
				"code", outcome, "error", err)
		} else {
			span.SetAttributes(attribute.Int64("bytes", int64(n)))
			s.logger.Debug("Blob operation",
				"op", op, "container", container, "blob", blob,
				"bytes", n, "duration", time.Since(start))
		}
		if s.ops != nil {
			s.ops.Add(ctx, 1, metric.WithAttributes(
				attribute.String("op", op), attribute.String("outcome", outcome)))
		}
		if s.bytes != nil && n > 0 {
			s.bytes.Add(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
		}
	}
}

func checkContainer(op, container string) error {
	if err := ValidateContainerName(container); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func checkBlob(op, container, blob string) error {
	if err := checkContainer(op, container); err != nil {
		return err
	}
	if err := ValidateBlobName(blob); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// EnsureContainer creates the container if it does not exist. Calling it again is harmless.
func (s *Store) EnsureContainer(ctx context.Context, name string) (ContainerHandle, error) {
	const op = "EnsureContainer"
	if err := checkContainer(op, name); err != nil {
		return ContainerHandle{}, err
	}
	ctx, done := s.begin(ctx, op, name, "")

	created, err := s.backend.CreateContainerIfAbsent(ctx, name)
	err = classify(op, name, "", err)
	done(err, 0)
	if err != nil {
		return ContainerHandle{}, err
	}
	return ContainerHandle{Name: name, Created: created}, nil
}

// SetAccessLevel replaces the container's anonymous access level.
func (s *Store) SetAccessLevel(ctx context.Context, container string, level AccessLevel) error {
	const op = "SetAccessLevel"
	if err := checkContainer(op, container); err != nil {
		return err
	}
	if level > AccessPublicContainer {
		return fmt.Errorf("%s: unknown access level %d", op, level)
	}
	ctx, done := s.begin(ctx, op, container, "")

	err := classify(op, container, "", s.backend.SetAccess(ctx, container, level))
	done(err, 0)
	return err
}

// UploadBlock reads src to EOF and stores it as a block blob, replacing any previous content.
// A failing src yields CodeIO and leaves the blob as it was.
func (s *Store) UploadBlock(ctx context.Context, container, blobName string, src io.Reader) (BlobMetadata, error) {
	const op = "UploadBlock"
	if err := checkBlob(op, container, blobName); err != nil {
		return BlobMetadata{}, err
	}
	ctx, done := s.begin(ctx, op, container, blobName)

	tr := &trackingReader{ctx: ctx, r: src}
	md, err := s.backend.PutBlock(ctx, container, blobName, tr)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = NewError(CodeTransport, op, container, blobName, ctx.Err())
		case tr.err != nil:
			err = NewError(CodeIO, op, container, blobName, tr.err)
		default:
			err = classify(op, container, blobName, err)
		}
		done(err, 0)
		return BlobMetadata{}, err
	}
	done(nil, md.Size)
	return md, nil
}

// UploadFile uploads the file at path. The file is closed before UploadFile returns.
func (s *Store) UploadFile(ctx context.Context, container, blobName, path string) (BlobMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return BlobMetadata{}, NewError(CodeIO, "UploadFile", container, blobName, err)
	}
	defer f.Close()
	return s.UploadBlock(ctx, container, blobName, f)
}

// ListPage returns one raw listing page for callers that manage cursors themselves.
func (s *Store) ListPage(ctx context.Context, container string, req SegmentRequest) (Segment, error) {
	const op = "ListPage"
	if err := checkContainer(op, container); err != nil {
		return Segment{}, err
	}
	if req.MaxResults <= 0 {
		req.MaxResults = s.pageSize
	}
	ctx, done := s.begin(ctx, op, container, "")

	seg, err := s.backend.ListSegmented(ctx, container, req)
	err = classify(op, container, "", err)
	done(err, 0)
	if err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// ListBlobs enumerates the blobs under prefix lazily, one backend page at a time.
//
// In hierarchical mode only the level directly below prefix is returned: names continuing past
// the next "/" collapse into a single directory marker. Directory markers are yielded as soon
// as they are seen, leaves once the whole level has been read, and a leaf named like an
// existing directory without its trailing "/" is dropped. The leaves of a level are held in
// memory until its last page arrives, so memory grows with the number of leaves at that level.
// Flat listings hold at most one page.
//
// Each range starts a fresh enumeration. Breaking out of the loop stops paging, and a cancelled
// ctx ends the sequence with an error.
func (s *Store) ListBlobs(ctx context.Context, container, prefix string, hierarchical bool) iter.Seq2[BlobMetadata, error] {
	const op = "ListBlobs"
	return func(yield func(BlobMetadata, error) bool) {
		if err := checkContainer(op, container); err != nil {
			yield(BlobMetadata{}, err)
			return
		}
		ctx, done := s.begin(ctx, op, container, "")
		var (
			err   error
			count uint64
		)
		defer func() {
			if err == nil {
				s.logger.Debug("Listing finished", "container", container, "prefix", prefix, "entries", count)
			}
			done(err, 0)
		}()

		req := SegmentRequest{Prefix: prefix, MaxResults: s.pageSize}
		if hierarchical {
			req.Delimiter = Delimiter
		}
		dirs := make(map[string]struct{})
		var held []BlobMetadata

		for {
			if cerr := ctx.Err(); cerr != nil {
				err = NewError(CodeTransport, op, container, "", cerr)
				yield(BlobMetadata{}, err)
				return
			}
			var seg Segment
			seg, err = s.backend.ListSegmented(ctx, container, req)
			if err != nil {
				err = classify(op, container, "", err)
				yield(BlobMetadata{}, err)
				return
			}

			for _, e := range seg.Entries {
				if !hierarchical {
					if e.Kind == KindDirectory {
						continue
					}
					count++
					if !yield(e, nil) {
						return
					}
					continue
				}

				if e.Kind != KindDirectory {
					if dir, nested := SplitLevel(prefix, Delimiter, e.Name); nested {
						e = DirectoryMarker(dir)
					}
				}
				if e.Kind != KindDirectory {
					held = append(held, e)
					continue
				}
				if _, seen := dirs[e.Name]; seen {
					continue
				}
				dirs[e.Name] = struct{}{}
				count++
				if !yield(e, nil) {
					return
				}
			}

			if seg.Next == "" {
				break
			}
			if seg.Next == req.Cursor {
				err = NewError(CodeTransport, op, container, "", fmt.Errorf("listing cursor %q did not advance", seg.Next))
				yield(BlobMetadata{}, err)
				return
			}
			req.Cursor = seg.Next
		}

		for _, e := range held {
			if _, shadowed := dirs[e.Name+Delimiter]; shadowed {
				continue
			}
			count++
			if !yield(e, nil) {
				return
			}
		}
	}
}

// DownloadBlob streams the blob into sink. The sink holds no partial content when
// DownloadBlob fails or ctx is cancelled.
func (s *Store) DownloadBlob(ctx context.Context, container, blobName string, sink Sink) (BlobMetadata, error) {
	const op = "DownloadBlob"
	if err := checkBlob(op, container, blobName); err != nil {
		return BlobMetadata{}, err
	}
	ctx, done := s.begin(ctx, op, container, blobName)

	rc, md, err := s.backend.GetStream(ctx, container, blobName)
	if err != nil {
		err = classify(op, container, blobName, err)
		done(err, 0)
		return BlobMetadata{}, err
	}
	defer rc.Close()

	tr := &trackingReader{ctx: ctx, r: rc}
	if err := sink.Receive(tr); err != nil {
		switch {
		case ctx.Err() != nil:
			err = NewError(CodeTransport, op, container, blobName, ctx.Err())
		case tr.err != nil:
			err = classify(op, container, blobName, tr.err)
		default:
			err = NewError(CodeIO, op, container, blobName, err)
		}
		done(err, 0)
		return BlobMetadata{}, err
	}
	done(nil, tr.n)
	return md, nil
}

// DownloadFile writes the blob to path, replacing the file only on success.
func (s *Store) DownloadFile(ctx context.Context, container, blobName, path string) (BlobMetadata, error) {
	return s.DownloadBlob(ctx, container, blobName, NewFileSink(path))
}

// AppendEntry appends entry as one block to an append blob in the log container,
// creating the blob on first use.
func (s *Store) AppendEntry(ctx context.Context, appendBlobName string, entry []byte) (BlobMetadata, error) {
	if s.logContainer == "" {
		return BlobMetadata{}, fmt.Errorf("AppendEntry: %w", ErrNoLogContainer)
	}
	return s.AppendEntryTo(ctx, s.logContainer, appendBlobName, entry)
}

// AppendEntryTo is AppendEntry for an explicit container. Appends to the same blob through
// one Store are applied in call order.
func (s *Store) AppendEntryTo(ctx context.Context, container, blobName string, entry []byte) (BlobMetadata, error) {
	const op = "AppendEntry"
	if err := checkBlob(op, container, blobName); err != nil {
		return BlobMetadata{}, err
	}
	if lim := s.backend.Limits(); lim.MaxAppendBytes > 0 && uint64(len(entry)) > lim.MaxAppendBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, op, container, blobName,
			fmt.Errorf("entry of %d bytes exceeds the %d byte block limit", len(entry), lim.MaxAppendBytes))
	}
	ctx, done := s.begin(ctx, op, container, blobName)

	unlock := s.appendLocks.Lock(container + Delimiter + blobName)
	defer unlock()

	if err := ctx.Err(); err != nil {
		err = NewError(CodeTransport, op, container, blobName, err)
		done(err, 0)
		return BlobMetadata{}, err
	}
	md, err := s.backend.AppendBlock(ctx, container, blobName, entry)
	if err != nil {
		err = classify(op, container, blobName, err)
		done(err, 0)
		return BlobMetadata{}, err
	}
	done(nil, uint64(len(entry)))
	return md, nil
}

// DeleteBlob removes the blob. A missing blob is reported as CodeNotFound.
func (s *Store) DeleteBlob(ctx context.Context, container, blobName string) error {
	const op = "DeleteBlob"
	if err := checkBlob(op, container, blobName); err != nil {
		return err
	}
	ctx, done := s.begin(ctx, op, container, blobName)

	err := classify(op, container, blobName, s.backend.DeleteBlob(ctx, container, blobName))
	done(err, 0)
	return err
}
