// Package presets loads named fractal rule sets from YAML and keeps them in
// a registry alongside the built-in Menger and Jeruzalem rules.
package presets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chazu/sponge/pkg/fractal"
	"github.com/chazu/sponge/pkg/script"
)

// ErrUnknownRule is returned by Get for names that are not registered.
var ErrUnknownRule = errors.New("presets: unknown rule")

var validate = validator.New()

// Entry is one rule definition as written in a presets file.
type Entry struct {
	Name      string `yaml:"name" validate:"required"`
	Range     int    `yaml:"range" validate:"gte=1"`
	Parts     int    `yaml:"parts" validate:"gt=0"`
	Predicate string `yaml:"predicate" validate:"required"`
}

// File is the top level of a presets document.
type File struct {
	Rules []Entry `yaml:"rules" validate:"dive"`
}

// Registry maps lowercase rule names to rule sets. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]fractal.RuleSet
}

// NewRegistry returns a registry holding the built-in rules.
func NewRegistry() *Registry {
	r := &Registry{rules: make(map[string]fractal.RuleSet)}
	for _, rs := range []fractal.RuleSet{fractal.Menger(), fractal.Jeruzalem()} {
		r.rules[key(rs.Name)] = rs
	}
	return r
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get looks up a rule set by name, ignoring case.
func (r *Registry) Get(name string) (fractal.RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rules[key(name)]
	if !ok {
		return fractal.RuleSet{}, fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
	return rs, nil
}

// Names returns the registered rule names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Add registers rs, replacing any custom rule of the same name. The
// built-in names cannot be replaced.
func (r *Registry) Add(rs fractal.RuleSet) error {
	if err := rs.Validate(); err != nil {
		return err
	}
	k := key(rs.Name)
	if k == "menger" || k == "jeruzalem" {
		return fmt.Errorf("presets: %q is a built-in rule", rs.Name)
	}
	r.mu.Lock()
	r.rules[k] = rs
	r.mu.Unlock()
	return nil
}

// Load parses a presets document and returns a registry containing the
// built-in rules plus every entry in the document. Entries are validated
// and their predicates compiled; the first failure aborts the load.
func Load(rd io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("presets: parse: %w", err)
	}

	reg := NewRegistry()
	for i, e := range f.Rules {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("presets: rule %d: %s: %w", i, describe(err), fractal.ErrInvalidConfig)
		}
		pred, err := script.Compile(e.Predicate, e.Range)
		if err != nil {
			return nil, fmt.Errorf("presets: rule %q: %w", e.Name, err)
		}
		rs, err := fractal.Custom(e.Name, e.Range, e.Parts, pred)
		if err != nil {
			return nil, fmt.Errorf("presets: rule %q: %w", e.Name, err)
		}
		if err := reg.Add(rs); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFile reads a presets document from path.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("presets: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}
