package storage

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a listed entry.
type Kind uint8

const (
	KindBlock Kind = iota
	KindAppend
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindAppend:
		return "append"
	case KindDirectory:
		return "directory"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// BlobMetadata describes a blob or, when Kind is KindDirectory, a virtual directory.
type BlobMetadata struct {
	Name         string    `json:"name" yaml:"name"`
	Size         uint64    `json:"size" yaml:"size"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	Kind         Kind      `json:"kind" yaml:"kind"`
}

// IsDirectory reports whether m is a directory marker produced by hierarchical listing.
func (m BlobMetadata) IsDirectory() bool { return m.Kind == KindDirectory }

// DirectoryMarker builds the synthetic entry for a virtual directory.
func DirectoryMarker(name string) BlobMetadata {
	if !strings.HasSuffix(name, Delimiter) {
		name += Delimiter
	}
	return BlobMetadata{Name: name, Kind: KindDirectory}
}

// MarshalText lets Kind render as its name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// AccessLevel is the container-wide anonymous access setting.
type AccessLevel uint8

const (
	AccessPrivate AccessLevel = iota
	AccessPublicBlob
	AccessPublicContainer
)

func (a AccessLevel) String() string {
	switch a {
	case AccessPrivate:
		return "private"
	case AccessPublicBlob:
		return "blob"
	case AccessPublicContainer:
		return "container"
	}
	return fmt.Sprintf("AccessLevel(%d)", uint8(a))
}

// ParseAccessLevel accepts "private", "blob" and "container" in any case.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "private", "off", "none":
		return AccessPrivate, nil
	case "blob", "public-blob":
		return AccessPublicBlob, nil
	case "container", "public-container":
		return AccessPublicContainer, nil
	}
	return AccessPrivate, fmt.Errorf("unknown access level %q", s)
}

// ContainerHandle is returned by EnsureContainer.
type ContainerHandle struct {
	Name string
	// Created is true when this call created the container.
	Created bool
}

// SegmentRequest asks a backend for one page of a listing.
type SegmentRequest struct {
	Prefix string
	// Delimiter enables hierarchical listing when non-empty.
	Delimiter string
	// Cursor is the opaque continuation token from the previous Segment; empty starts over.
	Cursor     string
	MaxResults int
}

// Segment is one page of a listing. Next is empty on the last page.
type Segment struct {
	Entries []BlobMetadata
	Next    string
}

// Limits are backend size limits. Zero means unlimited.
type Limits struct {
	MaxAppendBytes uint64
	MaxBlobBytes   uint64
}
