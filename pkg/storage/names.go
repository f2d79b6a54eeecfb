package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// Delimiter separates virtual directory segments in blob names.
const Delimiter = "/"

const maxBlobNameLen = 1024

var containerNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9]|-[a-z0-9])*$`)

// ValidateContainerName applies the strictest rule among supported backends:
// 3-63 characters, lowercase letters, digits and single hyphens, alphanumeric at both ends.
func ValidateContainerName(name string) error {
	if len(name) < 3 || len(name) > 63 || !containerNameRe.MatchString(name) {
		return fmt.Errorf("%w: container %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateBlobName rejects empty and absolute names, and names with an empty or dot segment.
// A trailing "/" is an empty segment: such names are reserved for directory markers.
func ValidateBlobName(name string) error {
	if name == "" || len(name) > maxBlobNameLen || strings.HasPrefix(name, Delimiter) {
		return fmt.Errorf("%w: blob %q", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(name, Delimiter) {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: blob %q", ErrInvalidName, name)
		}
	}
	return nil
}

// SplitLevel reports whether name, relative to prefix, lies below a virtual directory.
// It returns that directory's full name including the trailing delimiter.
func SplitLevel(prefix, delimiter, name string) (dir string, nested bool) {
	if delimiter == "" || !strings.HasPrefix(name, prefix) {
		return "", false
	}
	rest := name[len(prefix):]
	i := strings.Index(rest, delimiter)
	if i < 0 {
		return "", false
	}
	return prefix + rest[:i+len(delimiter)], true
}
