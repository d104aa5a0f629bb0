package annotate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/carcinize/pkg/mir"
)

// Rules is an offline Service with fixed answers for the common C library.
// Its output depends only on the query.
type Rules struct{}

var knownCalls = map[string][]mir.Tag{
	"malloc":  {mir.ReturnsOwnedResource("free")},
	"calloc":  {mir.ReturnsOwnedResource("free")},
	"realloc": {mir.ReturnsOwnedResource("free"), mir.TakesOwnership("ptr")},
	"strdup":  {mir.ReturnsOwnedResource("free"), mir.RequiresNonNull("s")},
	"free":    {mir.TakesOwnership("ptr")},
	"fopen":   {mir.ReturnsOwnedResource("fclose"), mir.HasSideEffects()},
	"fdopen":  {mir.ReturnsOwnedResource("fclose"), mir.HasSideEffects()},
	"fclose":  {mir.TakesOwnership("stream"), mir.HasSideEffects()},
	"strlen":  {mir.Pure(), mir.RequiresNonNull("s")},
	"strcmp":  {mir.Pure(), mir.RequiresNonNull("s1"), mir.RequiresNonNull("s2")},
	"strncmp": {mir.Pure(), mir.RequiresNonNull("s1"), mir.RequiresNonNull("s2")},
	"strchr":  {mir.Pure(), mir.RequiresNonNull("s")},
	"strcpy":  {mir.HasSideEffects(), mir.RequiresValidPointer("dest"), mir.RequiresNonNull("src")},
	"strcat":  {mir.HasSideEffects(), mir.RequiresValidPointer("dest"), mir.RequiresNonNull("src")},
	"memcpy":  {mir.HasSideEffects(), mir.RequiresValidPointer("dest"), mir.RequiresValidPointer("src")},
	"memmove": {mir.HasSideEffects(), mir.RequiresValidPointer("dest"), mir.RequiresValidPointer("src")},
	"memset":  {mir.HasSideEffects(), mir.RequiresValidPointer("s")},
	"printf":  {mir.HasSideEffects()},
	"fprintf": {mir.HasSideEffects(), mir.RequiresValidPointer("stream")},
	"sprintf": {mir.HasSideEffects(), mir.RequiresValidPointer("str")},
	"puts":    {mir.HasSideEffects(), mir.RequiresNonNull("s")},
	"getenv":  {mir.HasSideEffects(), mir.ReturnsValidUntil("next_getenv")},
	"abs":     {mir.Pure()},
	"atoi":    {mir.Pure(), mir.RequiresNonNull("nptr")},
}

var unsafeReasons = map[string]string{
	"foreign-call":         "calls a C library function whose contract the compiler cannot check",
	"raw-allocation":       "allocates raw memory that must be released exactly once",
	"raw-deallocation":     "releases raw memory; the pointer must come from the matching allocator and not be used afterwards",
	"pointer-manipulation": "reads or writes memory through raw pointers whose validity is not tracked",
	"ffi-call":             "crosses a foreign function interface boundary",
	"raw-pointer":          "takes the address of a local, creating a raw pointer that must not outlive it",
}

// InferCallSemantics returns the table entry for the callee, or
// [HasSideEffects] [Unknown] for functions it does not know.
func (Rules) InferCallSemantics(_ context.Context, q CallQuery) ([]mir.Tag, error) {
	name := strings.TrimPrefix(q.Callee, mir.ForeignPrefix)
	if tags, ok := knownCalls[name]; ok {
		return append([]mir.Tag(nil), tags...), nil
	}
	return []mir.Tag{mir.HasSideEffects(), {Kind: mir.TagUnknown}}, nil
}

// ModuleNarrative describes where a module came from.
func (Rules) ModuleNarrative(_ context.Context, q ModuleQuery) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Translated from `%s`", filepath.Base(q.File))
	if q.Project != "" {
		fmt.Fprintf(&sb, " for the `%s` crate", q.Project)
	}
	sb.WriteString(".")
	if q.Summary != "" {
		sb.WriteString("\n\n")
		sb.WriteString(q.Summary)
	}
	return sb.String(), nil
}

// UnsafeJustification explains the classification reason.
func (Rules) UnsafeJustification(_ context.Context, q UnsafeQuery) (string, error) {
	why, ok := unsafeReasons[q.Reason]
	if !ok {
		return "", fmt.Errorf("no rule for reason %q", q.Reason)
	}
	return fmt.Sprintf("%s: this statement %s.", q.Reason, why), nil
}
