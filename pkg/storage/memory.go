package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps containers in process memory. Listings come back in creation order,
// which is deliberately not lexical.
type MemoryBackend struct {
	// Hook, when set, runs before every backend call. A non-nil error aborts the call and is
	// returned as is, which lets tests inject faults.
	Hook func(op, container, name string) error
	// Now stamps LastModified. Defaults to time.Now.
	Now func() time.Time
	// Limit is reported by Limits and enforced on writes.
	Limit Limits

	mu         sync.RWMutex
	containers map[string]*memContainer
}

type memContainer struct {
	access AccessLevel
	blobs  map[string]*memBlob
	seq    uint64
}

type memBlob struct {
	data     []byte
	kind     Kind
	modified time.Time
	seq      uint64
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{containers: make(map[string]*memContainer)}
}

func (m *MemoryBackend) hook(op, container, name string) error {
	if m.Hook == nil {
		return nil
	}
	return m.Hook(op, container, name)
}

func (m *MemoryBackend) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *MemoryBackend) container(op, name string) (*memContainer, error) {
	c, ok := m.containers[name]
	if !ok {
		return nil, NewError(CodeNotFound, op, name, "", errors.New("container does not exist"))
	}
	return c, nil
}

func (m *MemoryBackend) CreateContainerIfAbsent(ctx context.Context, container string) (bool, error) {
	if err := m.hook("CreateContainer", container, ""); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; ok {
		return false, nil
	}
	m.containers[container] = &memContainer{blobs: make(map[string]*memBlob)}
	return true, nil
}

func (m *MemoryBackend) SetAccess(ctx context.Context, container string, level AccessLevel) error {
	if err := m.hook("SetAccess", container, ""); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.container("SetAccess", container)
	if err != nil {
		return err
	}
	c.access = level
	return nil
}

// Access returns the container's current access level.
func (m *MemoryBackend) Access(container string) (AccessLevel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[container]
	if !ok {
		return AccessPrivate, false
	}
	return c.access, true
}

func (m *MemoryBackend) PutBlock(ctx context.Context, container, name string, r io.Reader) (BlobMetadata, error) {
	if err := m.hook("PutBlock", container, name); err != nil {
		return BlobMetadata{}, err
	}
	// Read everything before touching state so a failing reader changes nothing.
	var src io.Reader = r
	if m.Limit.MaxBlobBytes > 0 {
		src = io.LimitReader(r, int64(m.Limit.MaxBlobBytes)+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return BlobMetadata{}, err
	}
	if m.Limit.MaxBlobBytes > 0 && uint64(len(data)) > m.Limit.MaxBlobBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, "PutBlock", container, name,
			fmt.Errorf("blob exceeds %d bytes", m.Limit.MaxBlobBytes))
	}
	if err := ctx.Err(); err != nil {
		return BlobMetadata{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.container("PutBlock", container)
	if err != nil {
		return BlobMetadata{}, err
	}
	b, ok := c.blobs[name]
	if !ok {
		c.seq++
		b = &memBlob{seq: c.seq}
		c.blobs[name] = b
	}
	b.data, b.kind, b.modified = data, KindBlock, m.now()
	return b.metadata(name), nil
}

func (m *MemoryBackend) ListSegmented(ctx context.Context, container string, req SegmentRequest) (Segment, error) {
	if err := m.hook("ListSegmented", container, ""); err != nil {
		return Segment{}, err
	}
	if err := ctx.Err(); err != nil {
		return Segment{}, err
	}
	after, err := decodeMemCursor(req.Cursor)
	if err != nil {
		return Segment{}, NewError(CodeTransport, "ListSegmented", container, "", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.container("ListSegmented", container)
	if err != nil {
		return Segment{}, err
	}

	type item struct {
		seq uint64
		md  BlobMetadata
	}
	var items []item
	dirs := make(map[string]int)
	for name, b := range c.blobs {
		if !strings.HasPrefix(name, req.Prefix) {
			continue
		}
		if dir, nested := SplitLevel(req.Prefix, req.Delimiter, name); nested {
			// A directory sorts at its oldest member.
			if i, ok := dirs[dir]; ok {
				items[i].seq = min(items[i].seq, b.seq)
				continue
			}
			dirs[dir] = len(items)
			items = append(items, item{seq: b.seq, md: DirectoryMarker(dir)})
			continue
		}
		items = append(items, item{seq: b.seq, md: b.metadata(name)})
	}
	slices.SortFunc(items, func(a, b item) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return strings.Compare(a.md.Name, b.md.Name)
	})

	var seg Segment
	for i, it := range items {
		if it.seq <= after {
			continue
		}
		if req.MaxResults > 0 && len(seg.Entries) == req.MaxResults {
			seg.Next = encodeMemCursor(items[i-1].seq)
			break
		}
		seg.Entries = append(seg.Entries, it.md)
	}
	return seg, nil
}

func (m *MemoryBackend) GetStream(ctx context.Context, container, name string) (io.ReadCloser, BlobMetadata, error) {
	if err := m.hook("GetStream", container, name); err != nil {
		return nil, BlobMetadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, BlobMetadata{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, err := m.container("GetStream", container)
	if err != nil {
		return nil, BlobMetadata{}, err
	}
	b, ok := c.blobs[name]
	if !ok {
		return nil, BlobMetadata{}, NewError(CodeNotFound, "GetStream", container, name, errors.New("blob does not exist"))
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(b.data))), b.metadata(name), nil
}

func (m *MemoryBackend) AppendBlock(ctx context.Context, container, name string, entry []byte) (BlobMetadata, error) {
	if err := m.hook("AppendBlock", container, name); err != nil {
		return BlobMetadata{}, err
	}
	if err := ctx.Err(); err != nil {
		return BlobMetadata{}, err
	}
	if m.Limit.MaxAppendBytes > 0 && uint64(len(entry)) > m.Limit.MaxAppendBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, "AppendBlock", container, name,
			fmt.Errorf("entry exceeds %d bytes", m.Limit.MaxAppendBytes))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.container("AppendBlock", container)
	if err != nil {
		return BlobMetadata{}, err
	}
	b, ok := c.blobs[name]
	switch {
	case !ok:
		c.seq++
		b = &memBlob{seq: c.seq, kind: KindAppend}
		c.blobs[name] = b
	case b.kind != KindAppend:
		return BlobMetadata{}, NewError(CodeTransport, "AppendBlock", container, name, ErrNotAppendBlob)
	}
	if m.Limit.MaxBlobBytes > 0 && uint64(len(b.data)+len(entry)) > m.Limit.MaxBlobBytes {
		return BlobMetadata{}, NewError(CodeSizeLimit, "AppendBlock", container, name,
			fmt.Errorf("append blob would exceed %d bytes", m.Limit.MaxBlobBytes))
	}
	b.data = append(b.data, entry...)
	b.modified = m.now()
	return b.metadata(name), nil
}

func (m *MemoryBackend) DeleteBlob(ctx context.Context, container, name string) error {
	if err := m.hook("DeleteBlob", container, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.container("DeleteBlob", container)
	if err != nil {
		return err
	}
	if _, ok := c.blobs[name]; !ok {
		return NewError(CodeNotFound, "DeleteBlob", container, name, errors.New("blob does not exist"))
	}
	delete(c.blobs, name)
	return nil
}

func (m *MemoryBackend) Limits() Limits { return m.Limit }

func (b *memBlob) metadata(name string) BlobMetadata {
	return BlobMetadata{Name: name, Size: uint64(len(b.data)), LastModified: b.modified, Kind: b.kind}
}

func encodeMemCursor(seq uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("mem:" + strconv.FormatUint(seq, 10)))
}

func decodeMemCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor: %w", err)
	}
	seq, ok := strings.CutPrefix(string(raw), "mem:")
	if !ok {
		return 0, fmt.Errorf("malformed cursor %q", cursor)
	}
	return strconv.ParseUint(seq, 10, 64)
}
