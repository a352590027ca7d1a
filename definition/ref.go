package definition

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrRefParse is returned for ref paths that name neither a branch nor a
// tag.
var ErrRefParse = errors.New("invalid reference format")

type RefKind int

const (
	RefBranch RefKind = iota
	RefTag
)

func (k RefKind) String() string {
	if k == RefTag {
		return "tag"
	}
	return "branch"
}

// Ref identifies a pushed branch or tag. In a job's "on" filter the name is
// a regular expression instead of a literal.
type Ref struct {
	Kind RefKind
	Name string
}

// ParseRef parses a full ref path: refs/heads/<name> is a branch,
// refs/tags/<name> is a tag, anything else is an error. The name may
// itself contain slashes.
func ParseRef(s string) (Ref, error) {
	rest, ok := strings.CutPrefix(s, "refs/")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrRefParse, s)
	}
	kind, name, ok := strings.Cut(rest, "/")
	if !ok {
		return Ref{}, fmt.Errorf("%w: %q", ErrRefParse, s)
	}

	switch kind {
	case "heads":
		return Ref{Kind: RefBranch, Name: name}, nil
	case "tags":
		return Ref{Kind: RefTag, Name: name}, nil
	}
	return Ref{}, fmt.Errorf("%w: %q", ErrRefParse, s)
}

// String renders the full ref path, the inverse of ParseRef.
func (r Ref) String() string {
	if r.Kind == RefTag {
		return "refs/tags/" + r.Name
	}
	return "refs/heads/" + r.Name
}

// Matches treats the receiver as a filter: other matches iff both refs are
// the same kind and the receiver's name, compiled as a regular expression,
// matches other's name. A pattern that does not compile matches nothing.
func (r Ref) Matches(other Ref) bool {
	if r.Kind != other.Kind {
		return false
	}
	rx, err := regexp.Compile(r.Name)
	if err != nil {
		return false
	}
	return rx.MatchString(other.Name)
}

// UnmarshalYAML reads the filter form used in manifests, a single-key
// mapping: {branch: <regex>} or {tag: <regex>}.
func (r *Ref) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return fmt.Errorf("line %d: ref filter must be a single-key mapping of branch or tag", n.Line)
	}

	var kind, name string
	if err := n.Content[0].Decode(&kind); err != nil {
		return err
	}
	if err := n.Content[1].Decode(&name); err != nil {
		return err
	}

	switch kind {
	case "branch":
		*r = Ref{Kind: RefBranch, Name: name}
	case "tag":
		*r = Ref{Kind: RefTag, Name: name}
	default:
		return fmt.Errorf("line %d: unknown ref kind %q", n.Line, kind)
	}
	return nil
}
