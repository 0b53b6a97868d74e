package fractal

import "fmt"

// RuleKind enumerates the rule set families.
type RuleKind int

const (
	RuleMenger    RuleKind = iota // 3x3x3, drop center and face centers
	RuleJeruzalem                 // 5x5x5, cross-shaped cuts
	RuleCustom                    // user supplied range, parts and predicate
)

func (k RuleKind) String() string {
	switch k {
	case RuleMenger:
		return "menger"
	case RuleJeruzalem:
		return "jeruzalem"
	case RuleCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Predicate decides whether a cell survives subdivision, given its metric.
// Implementations must be pure.
type Predicate interface {
	Keep(metric int) bool
}

// PredicateFunc adapts an ordinary function to Predicate.
type PredicateFunc func(metric int) bool

// Keep calls f(metric).
func (f PredicateFunc) Keep(metric int) bool { return f(metric) }

// RuleSet describes which cells of the [-Range, Range]^3 neighborhood are
// kept at each recursion step and how far the box shrinks per level.
type RuleSet struct {
	Kind      RuleKind  `json:"kind"`
	Name      string    `json:"name" validate:"required"`
	Range     int       `json:"range" validate:"gte=1"`
	Parts     int       `json:"parts" validate:"gt=0"`
	Predicate Predicate `json:"-" validate:"required"`
}

// Menger returns the Menger sponge rule set: range 1, parts 3, keep every
// cell whose metric is positive (all but the center and the 6 face centers).
func Menger() RuleSet {
	return RuleSet{
		Kind:  RuleMenger,
		Name:  "menger",
		Range: 1,
		Parts: 3,
		Predicate: PredicateFunc(func(m int) bool {
			return m > 0
		}),
	}
}

// Jeruzalem returns the Jeruzalem cube rule set: range 2, parts 5, keep cells
// with metric > 20 or metric == 8.
func Jeruzalem() RuleSet {
	return RuleSet{
		Kind:  RuleJeruzalem,
		Name:  "jeruzalem",
		Range: 2,
		Parts: 5,
		Predicate: PredicateFunc(func(m int) bool {
			return m > 20 || m == 8
		}),
	}
}

// Custom returns a validated rule set with the given parameters.
func Custom(name string, rng, parts int, pred Predicate) (RuleSet, error) {
	rs := RuleSet{
		Kind:      RuleCustom,
		Name:      name,
		Range:     rng,
		Parts:     parts,
		Predicate: pred,
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

// Validate checks the structural constraints of the rule set.
func (rs RuleSet) Validate() error {
	if err := validate.Struct(rs); err != nil {
		return fmt.Errorf("fractal: rule set %q: %s: %w", rs.Name, describeValidation(err), ErrInvalidConfig)
	}
	return nil
}

// Metric returns (i²+j²)(i²+k²)(j²+k²). It is zero exactly when at least two
// of the components are zero.
func Metric(i, j, k int) int {
	ii, jj, kk := i*i, j*j, k*k
	return (ii + jj) * (ii + kk) * (jj + kk)
}

// Includes reports whether offset (i, j, k) survives, complementing the
// predicate when invert is set.
func (rs RuleSet) Includes(i, j, k int, invert bool) bool {
	return rs.Predicate.Keep(Metric(i, j, k)) != invert
}

// Offset is an integer cell index within the neighborhood of a parent box.
type Offset struct {
	I, J, K int
}

// Offsets lists the included offsets in i, j, k order.
func (rs RuleSet) Offsets(invert bool) []Offset {
	var out []Offset
	for i := -rs.Range; i <= rs.Range; i++ {
		for j := -rs.Range; j <= rs.Range; j++ {
			for k := -rs.Range; k <= rs.Range; k++ {
				if rs.Includes(i, j, k, invert) {
					out = append(out, Offset{I: i, J: j, K: k})
				}
			}
		}
	}
	return out
}

// Cells returns the size of the full neighborhood, (2R+1)^3.
func (rs RuleSet) Cells() int {
	n := 2*rs.Range + 1
	return n * n * n
}
