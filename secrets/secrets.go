// Package secrets implements the hierarchical secret store: a YAML tree of
// string leaves addressed by dotted paths, substituted into text via
// {{dotted.path}} tokens and projected into SECRETS_* environment variables.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store is an immutable secret tree. The zero value is not usable; construct
// one with Load or Empty. A Store is safe for concurrent use.
type Store struct {
	root node
}

// node is either a leaf string (kids == nil) or a mapping.
type node struct {
	leaf string
	kids map[string]node
}

// Empty returns a store with no secrets. Get always misses and Replace
// leaves every token untouched.
func Empty() *Store {
	return &Store{root: node{kids: map[string]node{}}}
}

// Load reads a YAML secrets file. The document top must be a mapping; every
// value is either a scalar leaf or a nested mapping. Sequences, nulls and
// other shapes fail loudly. An empty document yields an empty store.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return Empty(), nil
	}

	root, err := decode(doc.Content[0])
	if err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	if root.kids == nil {
		return nil, fmt.Errorf("parsing secrets file %s: top level must be a mapping", path)
	}
	return &Store{root: root}, nil
}

func decode(n *yaml.Node) (node, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			return node{}, fmt.Errorf("line %d: null is not a valid secret value", n.Line)
		}
		return node{leaf: n.Value}, nil

	case yaml.MappingNode:
		kids := make(map[string]node, len(n.Content)/2)
		for i := 0; i < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode {
				return node{}, fmt.Errorf("line %d: secret keys must be scalars", key.Line)
			}
			child, err := decode(val)
			if err != nil {
				return node{}, err
			}
			kids[key.Value] = child
		}
		return node{kids: kids}, nil

	case yaml.AliasNode:
		return decode(n.Alias)

	default:
		return node{}, fmt.Errorf("line %d: secrets must be strings or mappings", n.Line)
	}
}

// Get descends the tree one level per dot-separated segment of path. It
// reports a value only when the walk ends exactly on a leaf; paths that stop
// at a mapping, run past a leaf, or name a missing key miss.
func (s *Store) Get(path string) (string, bool) {
	cur := s.root
	for _, seg := range strings.Split(path, ".") {
		if cur.kids == nil {
			return "", false
		}
		next, ok := cur.kids[seg]
		if !ok {
			return "", false
		}
		cur = next
	}
	if cur.kids != nil {
		return "", false
	}
	return cur.leaf, true
}

// Replace substitutes {{dotted.path}} tokens in text, scanning left to right
// without overlap. The token content is trimmed of surrounding whitespace
// before lookup. A resolved token is replaced with the leaf verbatim; an
// unresolved or malformed token is emitted as its original bytes. Emitted
// output is never rescanned, so replacement values cannot introduce new
// tokens.
func (s *Store) Replace(text string) string {
	var b strings.Builder
	rest := text

	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			break
		}
		inner := rest[start+2:]
		end := strings.Index(inner, "}}")
		if end < 0 {
			// Unterminated token; everything left passes through.
			break
		}

		b.WriteString(rest[:start])

		if val, ok := s.Get(strings.TrimSpace(inner[:end])); ok {
			b.WriteString(val)
		} else {
			b.WriteString(rest[start : start+end+4])
		}

		rest = rest[start+end+4:]
	}

	b.WriteString(rest)
	return b.String()
}

// Flatten walks the tree depth-first and returns one dotted key per leaf.
// Iteration order is unspecified.
func (s *Store) Flatten() map[string]string {
	flat := map[string]string{}
	flatten("", s.root, flat)
	return flat
}

func flatten(prefix string, n node, out map[string]string) {
	if n.kids == nil {
		if prefix != "" {
			out[prefix] = n.leaf
		}
		return
	}
	for key, kid := range n.kids {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		flatten(path, kid, out)
	}
}

// Env projects the flattened tree into environment variables: each dotted
// key is prefixed with SECRETS_, upper-cased, and has dots replaced with
// underscores.
func (s *Store) Env() map[string]string {
	flat := s.Flatten()
	env := make(map[string]string, len(flat))
	for k, v := range flat {
		env["SECRETS_"+strings.ToUpper(strings.ReplaceAll(k, ".", "_"))] = v
	}
	return env
}
