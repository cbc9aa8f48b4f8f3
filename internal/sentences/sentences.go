// Package sentences loads compiled sentence patterns from YAML.
//
// A sentences file maps skill IDs to lists of pattern trees:
//
//	current_time:
//	  - seq:
//	      - word: what
//	      - word: time
//	      - optional: {word: is}
//	      - word: it
//	  - "time please"              # shorthand: one word node per word
//	greeting_name:
//	  - seq:
//	      - [my, name, is]         # shorthand: a sequence of nodes
//	      - capture: {name: name, inner: {regex: '\p{L}+'}}
//
// Each mapping node holds exactly one of the keys word, regex, optional,
// capture or seq. word and regex nodes accept weight (default 1) and
// diacritics_sensitive (default false).
package sentences

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/intensifier/dicio/pkg/skill/standard"
	"github.com/intensifier/dicio/pkg/skill/words"
)

// ErrMissingSentences is returned by [Set.Sentences] for a skill ID that
// has no patterns.
var ErrMissingSentences = errors.New("sentences: missing sentences")

// Set holds the compiled patterns of every skill in one or more files.
// A Set is immutable once loaded and safe for concurrent use.
type Set struct {
	skills map[string][]standard.Construct
}

// Sentences returns the patterns of skill id.
func (s *Set) Sentences(id string) ([]standard.Construct, error) {
	p, ok := s.skills[id]
	if !ok {
		return nil, fmt.Errorf("%w for skill %q", ErrMissingSentences, id)
	}
	return slices.Clone(p), nil
}

// IDs returns the skill IDs with patterns, sorted.
func (s *Set) IDs() []string {
	return slices.Sorted(maps.Keys(s.skills))
}

// Len returns the number of skills with patterns.
func (s *Set) Len() int { return len(s.skills) }

// Load reads the sentences file at path.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sentences: read file %q: %w", path, err)
	}
	set, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// LoadFiles reads every file in paths and merges them. A skill ID defined
// in a later file replaces the patterns of an earlier one.
func LoadFiles(paths ...string) (*Set, error) {
	merged := &Set{skills: make(map[string][]standard.Construct)}
	for _, p := range paths {
		set, err := Load(p)
		if err != nil {
			return nil, err
		}
		maps.Copy(merged.skills, set.skills)
	}
	return merged, nil
}

// LoadFromReader decodes a sentences document from r. Every error found is
// reported, each naming the skill, the pattern index and the YAML line.
func LoadFromReader(r io.Reader) (*Set, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Set{skills: map[string][]standard.Construct{}}, nil
		}
		return nil, fmt.Errorf("sentences: decode yaml: %w", err)
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("sentences: line %d: top level must map skill IDs to pattern lists", root.Line)
	}

	set := &Set{skills: make(map[string][]standard.Construct, len(root.Content)/2)}
	var errs []error
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		id := strings.TrimSpace(key.Value)
		if id == "" {
			errs = append(errs, fmt.Errorf("sentences: line %d: empty skill ID", key.Line))
			continue
		}
		if _, dup := set.skills[id]; dup {
			errs = append(errs, fmt.Errorf("sentences: line %d: skill %q defined twice", key.Line, id))
			continue
		}
		if val.Kind != yaml.SequenceNode || len(val.Content) == 0 {
			errs = append(errs, fmt.Errorf("sentences: line %d: skill %q: want a non-empty list of patterns", val.Line, id))
			continue
		}

		patterns := make([]standard.Construct, 0, len(val.Content))
		for pi, pn := range val.Content {
			c, err := parseNode(pn)
			if err == nil {
				err = standard.Validate(c)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("sentences: skill %q pattern %d: %w", id, pi, err))
				continue
			}
			patterns = append(patterns, c)
		}
		set.skills[id] = patterns
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return set, nil
}

// nodeKinds are the keys selecting a construct kind.
var nodeKinds = []string{"word", "regex", "optional", "capture", "seq"}

// parseNode converts one YAML pattern node into a construct.
func parseNode(n *yaml.Node) (standard.Construct, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return parseWords(n)
	case yaml.SequenceNode:
		return parseSequence(n)
	case yaml.MappingNode:
		// handled below
	case yaml.AliasNode:
		return parseNode(n.Alias)
	default:
		return nil, fmt.Errorf("line %d: unexpected node", n.Line)
	}

	fields := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		switch k {
		case "word", "regex", "optional", "capture", "seq", "weight", "diacritics_sensitive":
		default:
			return nil, fmt.Errorf("line %d: unknown key %q", n.Content[i].Line, k)
		}
		fields[k] = n.Content[i+1]
	}

	var kind string
	for _, k := range nodeKinds {
		if _, ok := fields[k]; !ok {
			continue
		}
		if kind != "" {
			return nil, fmt.Errorf("line %d: node has both %q and %q", n.Line, kind, k)
		}
		kind = k
	}
	if kind == "" {
		return nil, fmt.Errorf("line %d: node needs one of %s", n.Line, strings.Join(nodeKinds, ", "))
	}

	weight := 1.0
	diacritics := false
	if w, ok := fields["weight"]; ok {
		if kind != "word" && kind != "regex" {
			return nil, fmt.Errorf("line %d: weight only applies to word and regex", w.Line)
		}
		if err := w.Decode(&weight); err != nil {
			return nil, fmt.Errorf("line %d: weight: %w", w.Line, err)
		}
	}
	if d, ok := fields["diacritics_sensitive"]; ok {
		if kind != "word" && kind != "regex" {
			return nil, fmt.Errorf("line %d: diacritics_sensitive only applies to word and regex", d.Line)
		}
		if err := d.Decode(&diacritics); err != nil {
			return nil, fmt.Errorf("line %d: diacritics_sensitive: %w", d.Line, err)
		}
	}

	v := fields[kind]
	switch kind {
	case "word":
		if v.Kind != yaml.ScalarNode || len(words.Extract(v.Value)) != 1 {
			return nil, fmt.Errorf("line %d: word must be a single word, got %q", v.Line, v.Value)
		}
		return standard.NewLiteral(words.Extract(v.Value)[0].Original, diacritics, weight), nil

	case "regex":
		if v.Kind != yaml.ScalarNode || v.Value == "" {
			return nil, fmt.Errorf("line %d: regex must be a non-empty string", v.Line)
		}
		re, err := standard.NewRegex(v.Value, diacritics, weight)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", v.Line, err)
		}
		return re, nil

	case "optional":
		inner, err := parseNode(v)
		if err != nil {
			return nil, err
		}
		return standard.NewOptional(inner), nil

	case "capture":
		return parseCapture(v)

	default: // seq
		if v.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: seq must be a list", v.Line)
		}
		return parseSequence(v)
	}
}

// parseWords turns the scalar shorthand into one literal per word.
func parseWords(n *yaml.Node) (standard.Construct, error) {
	ws := words.Extract(n.Value)
	switch len(ws) {
	case 0:
		return nil, fmt.Errorf("line %d: %q contains no words", n.Line, n.Value)
	case 1:
		return standard.NewLiteral(ws[0].Original, false, 1), nil
	}
	items := make([]standard.Construct, len(ws))
	for i, w := range ws {
		items[i] = standard.NewLiteral(w.Original, false, 1)
	}
	return standard.NewSequence(items...), nil
}

func parseSequence(n *yaml.Node) (standard.Construct, error) {
	items := make([]standard.Construct, 0, len(n.Content))
	for _, it := range n.Content {
		c, err := parseNode(it)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return standard.NewSequence(items...), nil
}

func parseCapture(n *yaml.Node) (standard.Construct, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: capture must be a mapping with name and inner", n.Line)
	}
	var (
		name  string
		inner *yaml.Node
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		switch k.Value {
		case "name":
			name = strings.TrimSpace(v.Value)
		case "inner":
			inner = v
		default:
			return nil, fmt.Errorf("line %d: unknown capture key %q", k.Line, k.Value)
		}
	}
	if name == "" {
		return nil, fmt.Errorf("line %d: capture needs a name", n.Line)
	}
	if inner == nil {
		return nil, fmt.Errorf("line %d: capture %q needs an inner pattern", n.Line, name)
	}
	c, err := parseNode(inner)
	if err != nil {
		return nil, err
	}
	return standard.NewCapture(name, c), nil
}
