package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/cloudblob/pkg/logging"
	"github.com/DrSkyle/cloudblob/pkg/storage"
)

var (
	jan = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	jun = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	listing = []storage.BlobMetadata{
		{Name: "HelloWorld.txt", Size: 12, LastModified: jan, Kind: storage.KindBlock},
		{Name: "backup.tar", Size: 4 << 20, LastModified: jun, Kind: storage.KindBlock},
		{Name: "journal.log", Size: 300, LastModified: jun, Kind: storage.KindAppend},
		storage.DirectoryMarker("docs"),
	}
)

func names(entries []storage.BlobMetadata) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestSelect(t *testing.T) {
	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"HelloWorld.txt", "backup.tar", "journal.log", "docs/"}},
		{"size > 1024", []string{"backup.tar"}},
		{`kind == "append"`, []string{"journal.log"}},
		{"is_dir", []string{"docs/"}},
		{`!is_dir && name.endsWith(".txt")`, []string{"HelloWorld.txt"}},
		{`last_modified > timestamp("2024-03-01T00:00:00Z")`, []string{"backup.tar", "journal.log"}},
		{`name.startsWith("nothing")`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(f.Select(listing, logging.Discard())))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile("size >")
	require.Error(t, err)

	_, err = Compile("unknown_var == 1")
	require.Error(t, err)

	_, err = Compile("size + 1")
	require.ErrorIs(t, err, ErrNotBoolean)
}

func TestMatchEvaluationError(t *testing.T) {
	f, err := Compile("size / 0 == 1")
	require.NoError(t, err)

	_, err = f.Match(listing[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HelloWorld.txt")
	assert.Empty(t, f.Select(listing[:1], logging.Discard()))
}

func TestNilFilterMatchesAll(t *testing.T) {
	var f *Filter
	ok, err := f.Match(listing[0])
	require.NoError(t, err)
	assert.True(t, ok)
}
