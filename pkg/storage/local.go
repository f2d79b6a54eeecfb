package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/natefinch/atomic"
)

const stagingDir = ".staging"

// LocalBackend stores containers as directories under Root. Container settings and the set
// of append blobs live in Root/.<container>.json; container names cannot contain dots, so
// these never collide with a container.
type LocalBackend struct {
	Root  string
	Limit Limits

	// mu serializes metadata updates and appends.
	mu sync.Mutex
}

var _ Backend = (*LocalBackend)(nil)

type localMeta struct {
	Access string   `json:"access"`
	Append []string `json:"append,omitempty"`
}

func NewLocalBackend(root string) *LocalBackend {
	return &LocalBackend{Root: root}
}

func (s *LocalBackend) containerDir(container string) string {
	return filepath.Join(s.Root, container)
}

func (s *LocalBackend) metaPath(container string) string {
	return filepath.Join(s.Root, "."+container+".json")
}

func (s *LocalBackend) blobPath(op, container, name string) (string, error) {
	for _, seg := range strings.Split(name, Delimiter) {
		if seg == "" {
			return "", NewError(CodeTransport, op, container, name,
				fmt.Errorf("%w: empty path segment", ErrInvalidName))
		}
	}
	return filepath.Join(s.containerDir(container), filepath.FromSlash(name)), nil
}

// fsError maps filesystem failures onto the storage taxonomy.
func fsError(op, container, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return NewError(CodeNotFound, op, container, name, err)
	case errors.Is(err, fs.ErrPermission):
		return NewError(CodePermission, op, container, name, err)
	case errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.EISDIR):
		return NewError(CodeTransport, op, container, name, fmt.Errorf("%w: %w", ErrNameConflict, err))
	}
	return NewError(CodeTransport, op, container, name, err)
}

// readError is fsError for lookups, where a path running through a file means the blob is absent.
func readError(op, container, name string, err error) error {
	if errors.Is(err, syscall.ENOTDIR) {
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return fsError(op, container, name, err)
}

func (s *LocalBackend) requireContainer(op, container string) error {
	info, err := os.Stat(s.containerDir(container))
	if err != nil {
		return fsError(op, container, "", err)
	}
	if !info.IsDir() {
		return NewError(CodeTransport, op, container, "", fmt.Errorf("%w: %s is not a directory", ErrNameConflict, s.containerDir(container)))
	}
	return nil
}

func (s *LocalBackend) readMeta(container string) (localMeta, error) {
	var m localMeta
	data, err := os.ReadFile(s.metaPath(container))
	if errors.Is(err, fs.ErrNotExist) {
		return localMeta{Access: AccessPrivate.String()}, nil
	}
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("corrupt container metadata: %w", err)
	}
	return m, nil
}

func (s *LocalBackend) writeMeta(container string, m localMeta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.metaPath(container), bytes.NewReader(data))
}

func (s *LocalBackend) CreateContainerIfAbsent(ctx context.Context, container string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return false, fsError("CreateContainer", container, "", err)
	}
	err := os.Mkdir(s.containerDir(container), 0o755)
	if errors.Is(err, fs.ErrExist) {
		return false, s.requireContainer("CreateContainer", container)
	}
	if err != nil {
		return false, fsError("CreateContainer", container, "", err)
	}
	return true, nil
}

func (s *LocalBackend) SetAccess(ctx context.Context, container string, level AccessLevel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireContainer("SetAccess", container); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.readMeta(container)
	if err != nil {
		return fsError("SetAccess", container, "", err)
	}
	m.Access = level.String()
	return fsError("SetAccess", container, "", s.writeMeta(container, m))
}

// Access returns the container's stored access level.
func (s *LocalBackend) Access(container string) (AccessLevel, error) {
	m, err := s.readMeta(container)
	if err != nil {
		return AccessPrivate, err
	}
	return ParseAccessLevel(m.Access)
}

func (s *LocalBackend) PutBlock(ctx context.Context, container, name string, r io.Reader) (BlobMetadata, error) {
	const op = "PutBlock"
	if err := s.requireContainer(op, container); err != nil {
		return BlobMetadata{}, err
	}
	path, err := s.blobPath(op, container, name)
	if err != nil {
		return BlobMetadata{}, err
	}

	// Stage outside the container so half-written blobs never show up in listings.
	staging := filepath.Join(s.Root, stagingDir)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	tmp, err := os.CreateTemp(staging, container+"-*")
	if err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	defer os.Remove(tmp.Name())

	var src io.Reader = r
	if s.Limit.MaxBlobBytes > 0 {
		src = io.LimitReader(r, int64(s.Limit.MaxBlobBytes)+1)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return BlobMetadata{}, err
	}
	if s.Limit.MaxBlobBytes > 0 && uint64(n) > s.Limit.MaxBlobBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, op, container, name,
			fmt.Errorf("blob exceeds %d bytes", s.Limit.MaxBlobBytes))
	}
	if err := ctx.Err(); err != nil {
		return BlobMetadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	if err := atomic.ReplaceFile(tmp.Name(), path); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	if err := s.forgetAppend(container, name); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	return BlobMetadata{Name: name, Size: uint64(info.Size()), LastModified: info.ModTime().UTC(), Kind: KindBlock}, nil
}

func (s *LocalBackend) forgetAppend(container, name string) error {
	m, err := s.readMeta(container)
	if err != nil {
		return err
	}
	i := slices.Index(m.Append, name)
	if i < 0 {
		return nil
	}
	m.Append = slices.Delete(m.Append, i, i+1)
	return s.writeMeta(container, m)
}

func (s *LocalBackend) ListSegmented(ctx context.Context, container string, req SegmentRequest) (Segment, error) {
	const op = "ListSegmented"
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}
	if err := s.requireContainer(op, container); err != nil {
		return Segment{}, err
	}
	after, err := decodeLocalCursor(req.Cursor)
	if err != nil {
		return Segment{}, NewError(CodeTransport, op, container, "", err)
	}
	meta, err := s.readMeta(container)
	if err != nil {
		return Segment{}, fsError(op, container, "", err)
	}

	root := s.containerDir(container)
	var entries []BlobMetadata
	dirs := make(map[string]bool)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, req.Prefix) {
			return nil
		}
		if dir, nested := SplitLevel(req.Prefix, req.Delimiter, name); nested {
			if !dirs[dir] {
				dirs[dir] = true
				entries = append(entries, DirectoryMarker(dir))
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		kind := KindBlock
		if slices.Contains(meta.Append, name) {
			kind = KindAppend
		}
		entries = append(entries, BlobMetadata{Name: name, Size: uint64(info.Size()), LastModified: info.ModTime().UTC(), Kind: kind})
		return nil
	})
	if err != nil {
		return Segment{}, fsError(op, container, "", err)
	}
	slices.SortFunc(entries, func(a, b BlobMetadata) int { return strings.Compare(a.Name, b.Name) })

	var seg Segment
	for i, e := range entries {
		if e.Name <= after {
			continue
		}
		if req.MaxResults > 0 && len(seg.Entries) == req.MaxResults {
			seg.Next = encodeLocalCursor(entries[i-1].Name)
			break
		}
		seg.Entries = append(seg.Entries, e)
	}
	return seg, nil
}

func (s *LocalBackend) GetStream(ctx context.Context, container, name string) (io.ReadCloser, BlobMetadata, error) {
	const op = "GetStream"
	if err := ctx.Err(); err != nil {
		return nil, BlobMetadata{}, err
	}
	if err := s.requireContainer(op, container); err != nil {
		return nil, BlobMetadata{}, err
	}
	path, err := s.blobPath(op, container, name)
	if err != nil {
		return nil, BlobMetadata{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, BlobMetadata{}, readError(op, container, name, err)
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = fs.ErrNotExist
	}
	if err != nil {
		f.Close()
		return nil, BlobMetadata{}, fsError(op, container, name, err)
	}
	meta, err := s.readMeta(container)
	if err != nil {
		f.Close()
		return nil, BlobMetadata{}, fsError(op, container, name, err)
	}
	kind := KindBlock
	if slices.Contains(meta.Append, name) {
		kind = KindAppend
	}
	return f, BlobMetadata{Name: name, Size: uint64(info.Size()), LastModified: info.ModTime().UTC(), Kind: kind}, nil
}

func (s *LocalBackend) AppendBlock(ctx context.Context, container, name string, entry []byte) (BlobMetadata, error) {
	const op = "AppendBlock"
	if err := ctx.Err(); err != nil {
		return BlobMetadata{}, err
	}
	if err := s.requireContainer(op, container); err != nil {
		return BlobMetadata{}, err
	}
	path, err := s.blobPath(op, container, name)
	if err != nil {
		return BlobMetadata{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	meta, err := s.readMeta(container)
	if err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		info = nil
	case err != nil:
		return BlobMetadata{}, fsError(op, container, name, err)
	case !slices.Contains(meta.Append, name):
		return BlobMetadata{}, NewError(CodeTransport, op, container, name, ErrNotAppendBlob)
	}
	if s.Limit.MaxBlobBytes > 0 && info != nil && uint64(info.Size())+uint64(len(entry)) > s.Limit.MaxBlobBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, op, container, name,
			fmt.Errorf("append blob would exceed %d bytes", s.Limit.MaxBlobBytes))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	_, err = f.Write(entry)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	if !slices.Contains(meta.Append, name) {
		meta.Append = append(meta.Append, name)
		if err := s.writeMeta(container, meta); err != nil {
			return BlobMetadata{}, fsError(op, container, name, err)
		}
	}
	if info, err = os.Stat(path); err != nil {
		return BlobMetadata{}, fsError(op, container, name, err)
	}
	return BlobMetadata{Name: name, Size: uint64(info.Size()), LastModified: info.ModTime().UTC(), Kind: KindAppend}, nil
}

func (s *LocalBackend) DeleteBlob(ctx context.Context, container, name string) error {
	const op = "DeleteBlob"
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.requireContainer(op, container); err != nil {
		return err
	}
	path, err := s.blobPath(op, container, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		err = fs.ErrNotExist
	}
	if err != nil {
		return readError(op, container, name, err)
	}
	if err := os.Remove(path); err != nil {
		return fsError(op, container, name, err)
	}
	// Drop directories the blob leaves empty.
	root := s.containerDir(container)
	for dir := filepath.Dir(path); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return fsError(op, container, name, s.forgetAppend(container, name))
}

func (s *LocalBackend) Limits() Limits { return s.Limit }

func encodeLocalCursor(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func decodeLocalCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("malformed cursor: %w", err)
	}
	return string(raw), nil
}
