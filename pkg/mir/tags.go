package mir

import (
	"fmt"
	"strings"
)

// TagKind is a member of the closed semantic tag vocabulary.
type TagKind int

const (
	TagUnknown TagKind = iota
	TagReturnsOwnedResource
	TagTakesOwnership
	TagHasSideEffects
	TagPure
	TagRequiresNonNull
	TagRequiresValidPointer
	TagReturnsValidUntil
)

var tagNames = map[TagKind]string{
	TagUnknown:              "Unknown",
	TagReturnsOwnedResource: "ReturnsOwnedResource",
	TagTakesOwnership:       "TakesOwnership",
	TagHasSideEffects:       "HasSideEffects",
	TagPure:                 "Pure",
	TagRequiresNonNull:      "RequiresNonNull",
	TagRequiresValidPointer: "RequiresValidPointer",
	TagReturnsValidUntil:    "ReturnsValidUntil",
}

// legacy spellings accepted by ParseTag
var tagAliases = map[string]TagKind{
	"ReturnsNewResource": TagReturnsOwnedResource,
}

func (k TagKind) String() string {
	if name, ok := tagNames[k]; ok {
		return name
	}
	return "Unknown"
}

// takesArg reports whether the kind carries an argument.
func (k TagKind) takesArg() bool {
	switch k {
	case TagReturnsOwnedResource, TagTakesOwnership, TagRequiresNonNull,
		TagRequiresValidPointer, TagReturnsValidUntil:
		return true
	}
	return false
}

// Tag is a semantic annotation on a function or statement.
type Tag struct {
	Kind TagKind
	Arg  string // releaser, parameter or event name
}

// Convenience constructors.
func ReturnsOwnedResource(releaser string) Tag {
	return Tag{Kind: TagReturnsOwnedResource, Arg: releaser}
}
func TakesOwnership(param string) Tag       { return Tag{Kind: TagTakesOwnership, Arg: param} }
func HasSideEffects() Tag                   { return Tag{Kind: TagHasSideEffects} }
func Pure() Tag                             { return Tag{Kind: TagPure} }
func RequiresNonNull(param string) Tag      { return Tag{Kind: TagRequiresNonNull, Arg: param} }
func RequiresValidPointer(param string) Tag { return Tag{Kind: TagRequiresValidPointer, Arg: param} }
func ReturnsValidUntil(event string) Tag    { return Tag{Kind: TagReturnsValidUntil, Arg: event} }

// String renders the tag in bracketed form, e.g. [TakesOwnership(ptr)].
func (t Tag) String() string {
	if t.Kind.takesArg() {
		return fmt.Sprintf("[%s(%s)]", t.Kind, t.Arg)
	}
	return fmt.Sprintf("[%s]", t.Kind)
}

// ParseTag reads a tag from its textual form. Brackets are optional.
// Unrecognised text yields an Unknown tag; ParseTag never fails.
func ParseTag(s string) Tag {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)

	name, arg := s, ""
	if open := strings.IndexByte(s, '('); open >= 0 {
		if !strings.HasSuffix(s, ")") {
			return Tag{Kind: TagUnknown}
		}
		name = strings.TrimSpace(s[:open])
		arg = strings.TrimSpace(s[open+1 : len(s)-1])
	}

	kind, ok := tagAliases[name]
	if !ok {
		kind = TagUnknown
		for k, n := range tagNames {
			if n == name {
				kind = k
				break
			}
		}
	}
	if kind == TagUnknown {
		return Tag{Kind: TagUnknown}
	}
	if kind.takesArg() != (arg != "") {
		return Tag{Kind: TagUnknown}
	}
	return Tag{Kind: kind, Arg: arg}
}

// TagSet is an ordered set of tags without duplicates.
type TagSet []Tag

// Has reports whether the set contains a tag of the given kind.
func (s TagSet) Has(kind TagKind) bool {
	for _, t := range s {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// With returns a new set with tags appended, skipping duplicates.
func (s TagSet) With(tags ...Tag) TagSet {
	out := make(TagSet, 0, len(s)+len(tags))
	out = append(out, s...)
	for _, t := range tags {
		dup := false
		for _, have := range out {
			if have == t {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}

// Strings renders every tag.
func (s TagSet) Strings() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.String()
	}
	return out
}
