package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/DrSkyle/cloudblob/pkg/journal"
	"github.com/DrSkyle/cloudblob/pkg/storage"
)

const timeLayout = "2006-01-02 15:04:05"

// Output formats accepted by --output.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

func renderBlobs(w io.Writer, format string, entries []storage.BlobMetadata) error {
	if format != formatTable {
		if entries == nil {
			entries = []storage.BlobMetadata{}
		}
		return encode(w, format, entries)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tSIZE\tMODIFIED\tNAME")
	for _, md := range entries {
		size, modified := "-", "-"
		if !md.IsDirectory() {
			size = humanize.IBytes(md.Size)
			modified = md.LastModified.UTC().Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", md.Kind, size, modified, md.Name)
	}
	return tw.Flush()
}

func renderEvents(w io.Writer, format string, events []journal.Event) error {
	if format != formatTable {
		return encode(w, format, events)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tOP\tTARGET\tBYTES\tRESULT")
	for _, e := range events {
		target := e.Container
		if e.Blob != "" {
			target += "/" + e.Blob
		}
		result := "ok"
		if e.Error != "" {
			result = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(timeLayout), e.Op, target, humanize.IBytes(e.Bytes), result)
	}
	return tw.Flush()
}

// ago renders t relative to now, for summaries.
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}
