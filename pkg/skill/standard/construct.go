package standard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/intensifier/dicio/pkg/skill/words"
)

// Construct is one node of a compiled sentence pattern. The set of kinds is
// closed: [*Literal], [*Regex], [*Optional], [*Capture] and [*Sequence].
//
// Constructs are immutable once built and may be shared by any number of
// concurrent matches.
type Construct interface {
	fmt.Stringer
	construct()
}

// Literal matches one word equal to its text.
type Literal struct {
	text                string
	diacriticsSensitive bool
	weight              float64
}

// NewLiteral returns a literal word construct. When diacriticsSensitive is
// false the text is normalized with [words.Normalize], so "Café" and "cafe"
// build the same construct.
func NewLiteral(text string, diacriticsSensitive bool, weight float64) *Literal {
	if diacriticsSensitive {
		text = strings.ToLower(text)
	} else {
		text = words.Normalize(text)
	}
	return &Literal{text: text, diacriticsSensitive: diacriticsSensitive, weight: weight}
}

// Text returns the (lowercased or normalized) text the literal compares with.
func (l *Literal) Text() string { return l.text }

// DiacriticsSensitive reports whether the literal compares original forms.
func (l *Literal) DiacriticsSensitive() bool { return l.diacriticsSensitive }

// Weight returns the reference weight of the literal.
func (l *Literal) Weight() float64 { return l.weight }

func (l *Literal) String() string { return l.text }
func (*Literal) construct()       {}

// Regex matches one word entirely matched by a regular expression.
type Regex struct {
	pattern             string
	re                  *regexp.Regexp
	diacriticsSensitive bool
	weight              float64
}

// NewRegex compiles pattern into a word construct. The expression must match
// the whole word. A malformed pattern is a configuration error.
func NewRegex(pattern string, diacriticsSensitive bool, weight float64) (*Regex, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("standard: compile regex %q: %w", pattern, err)
	}
	return &Regex{pattern: pattern, re: re, diacriticsSensitive: diacriticsSensitive, weight: weight}, nil
}

// MustRegex is like [NewRegex] but panics on a malformed pattern.
func MustRegex(pattern string, diacriticsSensitive bool, weight float64) *Regex {
	r, err := NewRegex(pattern, diacriticsSensitive, weight)
	if err != nil {
		panic(err)
	}
	return r
}

// Pattern returns the source expression.
func (r *Regex) Pattern() string { return r.pattern }

// DiacriticsSensitive reports whether the expression sees original forms.
func (r *Regex) DiacriticsSensitive() bool { return r.diacriticsSensitive }

// Weight returns the reference weight of the expression.
func (r *Regex) Weight() float64 { return r.weight }

func (r *Regex) String() string { return "/" + r.pattern + "/" }
func (*Regex) construct()       {}

// Optional matches its inner construct or nothing at all.
type Optional struct {
	inner Construct
}

// NewOptional wraps inner.
func NewOptional(inner Construct) *Optional { return &Optional{inner: inner} }

// Inner returns the wrapped construct.
func (o *Optional) Inner() Construct { return o.inner }

func (o *Optional) String() string { return "[" + o.inner.String() + "]" }
func (*Optional) construct()       {}

// Capture matches its inner construct and records the consumed span under
// a name.
type Capture struct {
	name  string
	inner Construct
}

// NewCapture returns a capturing group called name around inner.
func NewCapture(name string, inner Construct) *Capture {
	return &Capture{name: name, inner: inner}
}

// Name returns the capturing group name.
func (c *Capture) Name() string { return c.name }

// Inner returns the captured construct.
func (c *Capture) Inner() Construct { return c.inner }

func (c *Capture) String() string { return "." + c.name + "(" + c.inner.String() + ")." }
func (*Capture) construct()       {}

// Sequence matches its items one after the other.
type Sequence struct {
	items []Construct
}

// NewSequence returns the concatenation of items. No items matches
// everything at no cost.
func NewSequence(items ...Construct) *Sequence {
	return &Sequence{items: append([]Construct(nil), items...)}
}

// Items returns a copy of the concatenated constructs.
func (s *Sequence) Items() []Construct { return append([]Construct(nil), s.items...) }

func (s *Sequence) String() string {
	parts := make([]string, len(s.items))
	for i, it := range s.items {
		parts[i] = it.String()
	}
	return strings.Join(parts, " ")
}
func (*Sequence) construct() {}

// Walk calls fn for c and, while fn returns true, for every descendant in
// pre-order.
func Walk(c Construct, fn func(Construct) bool) {
	if c == nil || !fn(c) {
		return
	}
	switch c := c.(type) {
	case *Optional:
		Walk(c.inner, fn)
	case *Capture:
		Walk(c.inner, fn)
	case *Sequence:
		for _, it := range c.items {
			Walk(it, fn)
		}
	}
}

// Vocabulary returns the texts of all literals in c, in pattern order.
func Vocabulary(c Construct) []string {
	var out []string
	Walk(c, func(c Construct) bool {
		if l, ok := c.(*Literal); ok {
			out = append(out, l.text)
		}
		return true
	})
	return out
}

// Validate reports the configuration errors of a compiled pattern:
// duplicate capture names and negative weights. The matcher never calls it;
// pattern producers do.
func Validate(c Construct) error {
	var errs []error
	seen := make(map[string]struct{})
	Walk(c, func(c Construct) bool {
		switch c := c.(type) {
		case *Literal:
			if c.weight < 0 {
				errs = append(errs, fmt.Errorf("word %q has negative weight %v", c.text, c.weight))
			}
		case *Regex:
			if c.weight < 0 {
				errs = append(errs, fmt.Errorf("regex %q has negative weight %v", c.pattern, c.weight))
			}
		case *Capture:
			if c.name == "" {
				errs = append(errs, errors.New("capture without a name"))
			} else if _, dup := seen[c.name]; dup {
				errs = append(errs, fmt.Errorf("duplicate capture name %q", c.name))
			}
			seen[c.name] = struct{}{}
		}
		return true
	})
	return errors.Join(errs...)
}
