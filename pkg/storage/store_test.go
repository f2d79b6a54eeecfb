package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const testContainer = "tutorial"

type storeFactory func(t *testing.T, opts ...Option) *Store

func memoryStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(NewMemoryBackend(), opts...)
}

func localStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return New(NewLocalBackend(t.TempDir()), opts...)
}

func TestStoreBehaviour(t *testing.T) {
	for name, factory := range map[string]storeFactory{
		"memory": memoryStore,
		"local":  localStore,
	} {
		t.Run(name, func(t *testing.T) {
			t.Run("ensure container is idempotent", testEnsureContainer(factory))
			t.Run("upload round trip", testRoundTrip(factory))
			t.Run("flat listing is complete for any page size", testListingCompleteness(factory))
			t.Run("hierarchical listing collapses directories", testHierarchicalCollapse(factory))
			t.Run("delete reports missing blobs", testDelete(factory))
			t.Run("append keeps entry order", testAppendOrder(factory))
			t.Run("failed source leaves blob untouched", testUploadSourceFailure(factory))
			t.Run("upload cancelled mid-stream keeps previous content", testUploadCancelledMidStream(factory))
			t.Run("download cancelled mid-stream keeps destination", testDownloadCancelledMidStream(factory))
			t.Run("names with empty segments are rejected", testEmptySegmentNames(factory))
		})
	}
}

func mustContainer(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.EnsureContainer(context.Background(), testContainer)
	require.NoError(t, err)
}

func collect(t *testing.T, seq func(func(BlobMetadata, error) bool)) []BlobMetadata {
	t.Helper()
	var out []BlobMetadata
	for md, err := range seq {
		require.NoError(t, err)
		out = append(out, md)
	}
	return out
}

func names(entries []BlobMetadata) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func testEnsureContainer(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()

		first, err := s.EnsureContainer(ctx, testContainer)
		require.NoError(t, err)
		assert.True(t, first.Created)

		second, err := s.EnsureContainer(ctx, testContainer)
		require.NoError(t, err)
		assert.False(t, second.Created)
		assert.Equal(t, testContainer, second.Name)
	}
}

func testRoundTrip(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		ctx := context.Background()

		for _, content := range [][]byte{
			[]byte("hello, blob"),
			{},
			bytes.Repeat([]byte{0, 1, 2, 3}, 4096),
		} {
			md, err := s.UploadBlock(ctx, testContainer, "data/file.bin", bytes.NewReader(content))
			require.NoError(t, err)
			assert.Equal(t, uint64(len(content)), md.Size)
			assert.Equal(t, KindBlock, md.Kind)

			var buf bytes.Buffer
			got, err := s.DownloadBlob(ctx, testContainer, "data/file.bin", NewBufferSink(&buf))
			require.NoError(t, err)
			assert.Equal(t, uint64(len(content)), got.Size)
			assert.True(t, bytes.Equal(content, buf.Bytes()))
		}
	}
}

func testListingCompleteness(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		want := []string{"zeta", "alpha", "logs/2024/jan", "logs/2024/feb", "logs/readme", "m", "beta/x"}
		for pageSize := 1; pageSize <= len(want)+1; pageSize++ {
			s := factory(t, WithPageSize(pageSize))
			mustContainer(t, s)
			for _, name := range want {
				_, err := s.UploadBlock(context.Background(), testContainer, name, strings.NewReader(name))
				require.NoError(t, err)
			}

			got := names(collect(t, s.ListBlobs(context.Background(), testContainer, "", false)))
			assert.ElementsMatch(t, want, got, "page size %d", pageSize)

			got = names(collect(t, s.ListBlobs(context.Background(), testContainer, "logs/", false)))
			assert.ElementsMatch(t, []string{"logs/2024/jan", "logs/2024/feb", "logs/readme"}, got, "page size %d", pageSize)
		}
	}
}

func testHierarchicalCollapse(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		for pageSize := 1; pageSize <= 4; pageSize++ {
			s := factory(t, WithPageSize(pageSize))
			mustContainer(t, s)
			for _, name := range []string{"top", "a/b", "a/c", "a/d/e"} {
				_, err := s.UploadBlock(context.Background(), testContainer, name, strings.NewReader(name))
				require.NoError(t, err)
			}

			root := collect(t, s.ListBlobs(context.Background(), testContainer, "", true))
			assert.ElementsMatch(t, []string{"a/", "top"}, names(root), "page size %d", pageSize)
			for _, e := range root {
				switch e.Kind {
				case KindDirectory:
					assert.True(t, strings.HasSuffix(e.Name, Delimiter))
					assert.Zero(t, e.Size)
				default:
					assert.Equal(t, "top", e.Name)
				}
			}

			level := collect(t, s.ListBlobs(context.Background(), testContainer, "a/", true))
			assert.ElementsMatch(t, []string{"a/b", "a/c", "a/d/"}, names(level), "page size %d", pageSize)
		}
	}
}

func testDelete(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		ctx := context.Background()

		err := s.DeleteBlob(ctx, testContainer, "ghost")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, CodeNotFound, CodeOf(err))

		_, err = s.UploadBlock(ctx, testContainer, "dir/victim", strings.NewReader("bye"))
		require.NoError(t, err)
		require.NoError(t, s.DeleteBlob(ctx, testContainer, "dir/victim"))

		assert.Empty(t, collect(t, s.ListBlobs(ctx, testContainer, "", false)))
		require.ErrorIs(t, s.DeleteBlob(ctx, testContainer, "dir/victim"), ErrNotFound)

		_, err = s.DownloadBlob(ctx, testContainer, "dir/victim", NewBufferSink(&bytes.Buffer{}))
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func testAppendOrder(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t, WithLogContainer(testContainer))
		mustContainer(t, s)
		ctx := context.Background()

		for i := 1; i <= 3; i++ {
			md, err := s.AppendEntry(ctx, "log.txt", []byte(fmt.Sprintf("line %d\n", i)))
			require.NoError(t, err)
			assert.Equal(t, KindAppend, md.Kind)
		}

		var buf bytes.Buffer
		_, err := s.DownloadBlob(ctx, testContainer, "log.txt", NewBufferSink(&buf))
		require.NoError(t, err)
		assert.Equal(t, "line 1\nline 2\nline 3\n", buf.String())

		entries := collect(t, s.ListBlobs(ctx, testContainer, "log", false))
		require.Len(t, entries, 1)
		assert.Equal(t, KindAppend, entries[0].Kind)
	}
}

func testUploadSourceFailure(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		ctx := context.Background()

		_, err := s.UploadBlock(ctx, testContainer, "fresh", iotest.ErrReader(errors.New("disk gone")))
		require.ErrorIs(t, err, ErrIO)
		_, err = s.DownloadBlob(ctx, testContainer, "fresh", NewBufferSink(&bytes.Buffer{}))
		require.ErrorIs(t, err, ErrNotFound)

		_, err = s.UploadBlock(ctx, testContainer, "kept", strings.NewReader("original"))
		require.NoError(t, err)
		src := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("disk gone")))
		_, err = s.UploadBlock(ctx, testContainer, "kept", src)
		require.ErrorIs(t, err, ErrIO)

		var buf bytes.Buffer
		_, err = s.DownloadBlob(ctx, testContainer, "kept", NewBufferSink(&buf))
		require.NoError(t, err)
		assert.Equal(t, "original", buf.String())
	}
}

// cancelAfter hands out at most n bytes of r and then cancels.
type cancelAfter struct {
	r      io.Reader
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Read(p []byte) (int, error) {
	if c.n <= 0 {
		c.cancel()
		return c.r.Read(p)
	}
	if len(p) > c.n {
		p = p[:c.n]
	}
	n, err := c.r.Read(p)
	c.n -= n
	if c.n <= 0 {
		c.cancel()
	}
	return n, err
}

// cancellingSink cancels after the inner sink has received n bytes.
type cancellingSink struct {
	inner  Sink
	n      int
	cancel context.CancelFunc
}

func (s cancellingSink) Receive(r io.Reader) error {
	return s.inner.Receive(&cancelAfter{r: r, n: s.n, cancel: s.cancel})
}

func testUploadCancelledMidStream(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		_, err := s.UploadBlock(context.Background(), testContainer, "kept", strings.NewReader("original"))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		src := &cancelAfter{r: strings.NewReader("replacement content"), n: 4, cancel: cancel}
		_, err = s.UploadBlock(ctx, testContainer, "kept", src)
		require.ErrorIs(t, err, context.Canceled)
		require.ErrorIs(t, err, ErrTransport)
		assert.False(t, IsRetryable(err))

		var buf bytes.Buffer
		_, err = s.DownloadBlob(context.Background(), testContainer, "kept", NewBufferSink(&buf))
		require.NoError(t, err)
		assert.Equal(t, "original", buf.String())
	}
}

func testDownloadCancelledMidStream(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		_, err := s.UploadBlock(context.Background(), testContainer, "big", strings.NewReader("0123456789"))
		require.NoError(t, err)

		download := func(path string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sink := cancellingSink{inner: NewFileSink(path), n: 4, cancel: cancel}
			_, err := s.DownloadBlob(ctx, testContainer, "big", sink)
			return err
		}

		dir := t.TempDir()
		existing := filepath.Join(dir, "existing.bin")
		require.NoError(t, os.WriteFile(existing, []byte("previous"), 0o644))
		err = download(existing)
		require.ErrorIs(t, err, context.Canceled)
		require.ErrorIs(t, err, ErrTransport)
		got, err := os.ReadFile(existing)
		require.NoError(t, err)
		assert.Equal(t, "previous", string(got))

		require.ErrorIs(t, download(filepath.Join(dir, "fresh.bin")), context.Canceled)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "existing.bin", entries[0].Name())

		var buf bytes.Buffer
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_, err = s.DownloadBlob(ctx, testContainer, "big",
			cancellingSink{inner: NewBufferSink(&buf), n: 4, cancel: cancel})
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, buf.String())
	}
}

func testEmptySegmentNames(factory storeFactory) func(t *testing.T) {
	return func(t *testing.T) {
		s := factory(t)
		mustContainer(t, s)
		ctx := context.Background()
		for _, name := range []string{"dir/", "a//b"} {
			_, err := s.UploadBlock(ctx, testContainer, name, strings.NewReader("x"))
			require.ErrorIs(t, err, ErrInvalidName, name)
			assert.False(t, IsRetryable(err), name)
			_, err = s.AppendEntryTo(ctx, testContainer, name, []byte("x"))
			require.ErrorIs(t, err, ErrInvalidName, name)
		}
	}
}

func TestLocalNameConflictsAreNotRetried(t *testing.T) {
	s := localStore(t)
	mustContainer(t, s)
	ctx := context.Background()

	_, err := s.UploadBlock(ctx, testContainer, "report", strings.NewReader("leaf"))
	require.NoError(t, err)
	_, err = s.UploadBlock(ctx, testContainer, "report/2024", strings.NewReader("child"))
	require.ErrorIs(t, err, ErrNameConflict)
	assert.False(t, IsRetryable(err))

	_, err = s.AppendEntryTo(ctx, testContainer, "report/log", []byte("x"))
	require.ErrorIs(t, err, ErrNameConflict)
	assert.False(t, IsRetryable(err))

	_, err = s.UploadBlock(ctx, testContainer, "docs/2024", strings.NewReader("child"))
	require.NoError(t, err)
	_, err = s.UploadBlock(ctx, testContainer, "docs", strings.NewReader("leaf"))
	require.ErrorIs(t, err, ErrNameConflict)
	assert.False(t, IsRetryable(err))

	// Lookups through a leaf are plain misses.
	_, err = s.DownloadBlob(ctx, testContainer, "report/2024", NewBufferSink(&bytes.Buffer{}))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.DeleteBlob(ctx, testContainer, "report/2024"), ErrNotFound)

	var calls atomic.Int32
	err = Retry(ctx, RetryPolicy{MaxRetries: 3}, func(ctx context.Context) error {
		calls.Add(1)
		_, err := s.UploadBlock(ctx, testContainer, "report/2024", strings.NewReader("child"))
		return err
	})
	require.ErrorIs(t, err, ErrNameConflict)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListBlobsStopsPagingOnBreak(t *testing.T) {
	var lists atomic.Int32
	backend := NewMemoryBackend()
	backend.Hook = func(op, _, _ string) error {
		if op == "ListSegmented" {
			lists.Add(1)
		}
		return nil
	}
	s := New(backend, WithPageSize(2))
	mustContainer(t, s)
	for i := range 6 {
		_, err := s.UploadBlock(context.Background(), testContainer, fmt.Sprintf("b%d", i), strings.NewReader("x"))
		require.NoError(t, err)
	}

	for _, err := range s.ListBlobs(context.Background(), testContainer, "", false) {
		require.NoError(t, err)
		break
	}
	assert.Equal(t, int32(1), lists.Load())

	// A second range starts over.
	lists.Store(0)
	assert.Len(t, collect(t, s.ListBlobs(context.Background(), testContainer, "", false)), 6)
	assert.Equal(t, int32(3), lists.Load())
}

func TestListBlobsCancellation(t *testing.T) {
	s := New(NewMemoryBackend(), WithPageSize(1))
	mustContainer(t, s)
	for _, name := range []string{"one", "two", "three"} {
		_, err := s.UploadBlock(context.Background(), testContainer, name, strings.NewReader(name))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		seen    []string
		lastErr error
	)
	for md, err := range s.ListBlobs(ctx, testContainer, "", false) {
		if err != nil {
			lastErr = err
			break
		}
		seen = append(seen, md.Name)
		cancel()
	}
	assert.Equal(t, []string{"one"}, seen)
	require.ErrorIs(t, lastErr, context.Canceled)
	assert.False(t, IsRetryable(lastErr))
}

func TestListBlobsHoldsBackShadowedLeaf(t *testing.T) {
	s := New(NewMemoryBackend(), WithPageSize(1))
	mustContainer(t, s)
	// The leaf arrives on an earlier page than the directory it clashes with.
	for _, name := range []string{"report", "report/2024", "summary"} {
		_, err := s.UploadBlock(context.Background(), testContainer, name, strings.NewReader(name))
		require.NoError(t, err)
	}

	got := names(collect(t, s.ListBlobs(context.Background(), testContainer, "", true)))
	assert.Equal(t, []string{"report/", "summary"}, got)
}

func TestListBlobsBackendFailure(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	mustContainer(t, s)
	backend.Hook = func(op, container, _ string) error {
		if op == "ListSegmented" {
			return NewError(CodePermission, "", container, "", errors.New("403"))
		}
		return nil
	}

	var errs []error
	for _, err := range s.ListBlobs(context.Background(), testContainer, "", false) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrPermission)

	var se *Error
	require.ErrorAs(t, errs[0], &se)
	assert.Equal(t, "ListBlobs", se.Op)
	assert.Equal(t, testContainer, se.Container)
}

func TestSetAccessLevelOverwrites(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	mustContainer(t, s)
	ctx := context.Background()

	for _, level := range []AccessLevel{AccessPublicContainer, AccessPublicBlob, AccessPrivate, AccessPublicBlob} {
		require.NoError(t, s.SetAccessLevel(ctx, testContainer, level))
		got, ok := backend.Access(testContainer)
		require.True(t, ok)
		assert.Equal(t, level, got)
	}

	backend.Hook = func(op, container, _ string) error {
		return NewError(CodePermission, op, container, "", errors.New("AuthorizationFailure"))
	}
	require.ErrorIs(t, s.SetAccessLevel(ctx, testContainer, AccessPrivate), ErrPermission)
}

func TestInvalidNamesNeverReachBackend(t *testing.T) {
	var calls atomic.Int32
	backend := NewMemoryBackend()
	backend.Hook = func(string, string, string) error {
		calls.Add(1)
		return nil
	}
	s := New(backend, WithLogContainer("logs"))
	ctx := context.Background()

	_, err := s.EnsureContainer(ctx, "Not_Valid")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = s.UploadBlock(ctx, testContainer, "", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = s.UploadBlock(ctx, testContainer, "../escape", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = s.AppendEntry(ctx, "/abs", []byte("x"))
	require.ErrorIs(t, err, ErrInvalidName)
	require.ErrorIs(t, s.DeleteBlob(ctx, "ab", "x"), ErrInvalidName)

	assert.Zero(t, calls.Load())
	assert.False(t, IsRetryable(err))
}

type brokenStream struct {
	*MemoryBackend
	after int64
}

var errConnReset = errors.New("connection reset by peer")

func (b brokenStream) GetStream(ctx context.Context, container, name string) (io.ReadCloser, BlobMetadata, error) {
	rc, md, err := b.MemoryBackend.GetStream(ctx, container, name)
	if err != nil {
		return nil, md, err
	}
	return io.NopCloser(io.MultiReader(io.LimitReader(rc, b.after), iotest.ErrReader(errConnReset))), md, nil
}

func TestDownloadFailureLeavesNoPartialContent(t *testing.T) {
	backend := brokenStream{MemoryBackend: NewMemoryBackend(), after: 4}
	s := New(backend)
	mustContainer(t, s)
	ctx := context.Background()
	_, err := s.UploadBlock(ctx, testContainer, "big", strings.NewReader("0123456789"))
	require.NoError(t, err)

	t.Run("buffer", func(t *testing.T) {
		buf := bytes.NewBufferString("keep:")
		_, err := s.DownloadBlob(ctx, testContainer, "big", NewBufferSink(buf))
		require.ErrorIs(t, err, ErrTransport)
		require.ErrorIs(t, err, errConnReset)
		assert.True(t, IsRetryable(err))
		assert.Equal(t, "keep:", buf.String())
	})

	t.Run("existing file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.bin")
		require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

		_, err := s.DownloadFile(ctx, testContainer, "big", path)
		require.ErrorIs(t, err, ErrTransport)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "previous", string(got))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("new file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "out.bin")
		_, err := s.DownloadFile(ctx, testContainer, "big", path)
		require.Error(t, err)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestDownloadCancelled(t *testing.T) {
	s := New(NewMemoryBackend())
	mustContainer(t, s)
	_, err := s.UploadBlock(context.Background(), testContainer, "blob", strings.NewReader("content"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "never.txt")
	_, err = s.DownloadFile(ctx, testContainer, "blob", path)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadToFile(t *testing.T) {
	s := New(NewMemoryBackend())
	mustContainer(t, s)
	ctx := context.Background()
	_, err := s.UploadBlock(ctx, testContainer, "docs/readme.md", strings.NewReader("# hello"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "readme.md")
	md, err := s.DownloadFile(ctx, testContainer, "docs/readme.md", path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), md.Size)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# hello", string(got))
}

func TestUploadFile(t *testing.T) {
	s := New(NewMemoryBackend())
	mustContainer(t, s)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "HelloWorld.txt")
	require.NoError(t, os.WriteFile(path, []byte("Hello World!"), 0o644))
	md, err := s.UploadFile(ctx, testContainer, "HelloWorld.txt", path)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), md.Size)

	_, err = s.UploadFile(ctx, testContainer, "missing.txt", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorIs(t, err, ErrIO)
}

func TestAppendEntryConcurrent(t *testing.T) {
	s := New(NewMemoryBackend(), WithLogContainer(testContainer))
	mustContainer(t, s)
	ctx := context.Background()

	const writers = 16
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			for j := range 5 {
				if _, err := s.AppendEntry(ctx, "audit.log", []byte(fmt.Sprintf("w%02d-%d\n", i, j))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var buf bytes.Buffer
	_, err := s.DownloadBlob(ctx, testContainer, "audit.log", NewBufferSink(&buf))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, writers*5)

	// Each writer's entries appear whole and in its own order.
	next := make(map[string]int)
	for _, line := range lines {
		writer, seq, ok := strings.Cut(line, "-")
		require.True(t, ok, line)
		assert.Equal(t, fmt.Sprint(next[writer]), seq)
		next[writer]++
	}
	assert.Len(t, next, writers)
}

func TestAppendEntryLimits(t *testing.T) {
	var appends atomic.Int32
	backend := NewMemoryBackend()
	backend.Limit = Limits{MaxAppendBytes: 6, MaxBlobBytes: 10}
	backend.Hook = func(op, _, _ string) error {
		if op == "AppendBlock" {
			appends.Add(1)
		}
		return nil
	}
	s := New(backend, WithLogContainer(testContainer))
	mustContainer(t, s)
	ctx := context.Background()

	_, err := s.AppendEntry(ctx, "log", []byte("toolong"))
	require.ErrorIs(t, err, ErrSizeLimit)
	assert.Zero(t, appends.Load())

	_, err = s.AppendEntry(ctx, "log", []byte("12345"))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, "log", []byte("67890"))
	require.NoError(t, err)
	_, err = s.AppendEntry(ctx, "log", []byte("x"))
	require.ErrorIs(t, err, ErrSizeLimit)

	var buf bytes.Buffer
	_, err = s.DownloadBlob(ctx, testContainer, "log", NewBufferSink(&buf))
	require.NoError(t, err)
	assert.Equal(t, "1234567890", buf.String())
}

func TestAppendEntryRequiresLogContainer(t *testing.T) {
	s := New(NewMemoryBackend())
	_, err := s.AppendEntry(context.Background(), "log", []byte("x"))
	require.ErrorIs(t, err, ErrNoLogContainer)
}

func TestAppendToBlockBlobFails(t *testing.T) {
	s := New(NewMemoryBackend())
	mustContainer(t, s)
	ctx := context.Background()
	_, err := s.UploadBlock(ctx, testContainer, "plain", strings.NewReader("x"))
	require.NoError(t, err)

	_, err = s.AppendEntryTo(ctx, testContainer, "plain", []byte("y"))
	require.ErrorIs(t, err, ErrNotAppendBlob)
	assert.False(t, IsRetryable(err))
}

func TestUploadBlockSizeLimit(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Limit = Limits{MaxBlobBytes: 4}
	s := New(backend)
	mustContainer(t, s)

	_, err := s.UploadBlock(context.Background(), testContainer, "big", strings.NewReader("12345"))
	require.ErrorIs(t, err, ErrSizeLimit)
	assert.Equal(t, CodeSizeLimit, CodeOf(err))
}

func TestMissingContainer(t *testing.T) {
	s := New(NewMemoryBackend())
	_, err := s.UploadBlock(context.Background(), "nowhere", "blob", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrNotFound)

	var errs []error
	for _, err := range s.ListBlobs(context.Background(), "nowhere", "", false) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrNotFound)
}

func TestListPage(t *testing.T) {
	s := New(NewMemoryBackend())
	mustContainer(t, s)
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.UploadBlock(ctx, testContainer, name, strings.NewReader(name))
		require.NoError(t, err)
	}

	var (
		all    []string
		cursor string
		pages  int
	)
	for {
		seg, err := s.ListPage(ctx, testContainer, SegmentRequest{Cursor: cursor, MaxResults: 2})
		require.NoError(t, err)
		all = append(all, names(seg.Entries)...)
		pages++
		if seg.Next == "" {
			break
		}
		cursor = seg.Next
	}
	assert.Equal(t, 2, pages)
	assert.Equal(t, []string{"c", "a", "b"}, all)
}
