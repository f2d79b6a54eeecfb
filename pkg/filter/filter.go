// Package filter evaluates CEL expressions against blob listings.
//
// Expressions see these variables:
//
//	name           string     full blob name, "docs/" for directories
//	size           int        bytes, 0 for directories
//	kind           string     "block", "append" or "directory"
//	last_modified  timestamp
//	is_dir         bool
//
// Example: `kind == "block" && size > 1024 && name.endsWith(".txt")`.
package filter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/DrSkyle/cloudblob/pkg/storage"
)

// ErrNotBoolean is returned when an expression does not produce a bool.
var ErrNotBoolean = errors.New("filter expression must evaluate to a bool")

// Filter is a compiled expression.
type Filter struct {
	expr string
	prg  cel.Program
}

var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("last_modified", cel.TimestampType),
		cel.Variable("is_dir", cel.BoolType),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL env: %v", err))
	}
}

// Compile parses and type-checks expr. An empty expression matches everything.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compilation error: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w, got %s", ErrNotBoolean, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program creation error: %w", err)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string { return f.expr }

// Match reports whether md satisfies the filter. Evaluation errors are returned, not
// treated as a miss.
func (f *Filter) Match(md storage.BlobMetadata) (bool, error) {
	if f == nil || f.prg == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(Vars(md))
	if err != nil {
		return false, fmt.Errorf("filter %q on %s: %w", f.expr, md.Name, err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBoolean
	}
	return match, nil
}

// Select keeps the entries that match. Entries that fail to evaluate are logged and dropped.
func (f *Filter) Select(entries []storage.BlobMetadata, logger *slog.Logger) []storage.BlobMetadata {
	if logger == nil {
		logger = slog.Default()
	}
	var kept []storage.BlobMetadata
	for _, md := range entries {
		ok, err := f.Match(md)
		if err != nil {
			logger.Warn("Filter evaluation failed", "blob", md.Name, "error", err)
			continue
		}
		if ok {
			kept = append(kept, md)
		}
	}
	return kept
}

// Vars exposes md as CEL activation variables.
func Vars(md storage.BlobMetadata) map[string]any {
	size := int64(math.MaxInt64)
	if md.Size <= math.MaxInt64 {
		size = int64(md.Size)
	}
	return map[string]any{
		"name":          md.Name,
		"size":          size,
		"kind":          md.Kind.String(),
		"last_modified": md.LastModified,
		"is_dir":        md.Kind == storage.KindDirectory,
	}
}
