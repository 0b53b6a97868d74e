// Package script compiles rule predicates written as small zygomys Lisp
// expressions into pure fractal.Predicate lookups.
//
// A predicate sees one bound symbol, metric, and must evaluate to a boolean:
//
//	(or (> metric 20) (== metric 8))
//
// Every distinct metric reachable within the rule's range is evaluated once,
// each in a fresh sandbox, so the resulting predicate never runs Lisp.
package script

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/sponge/pkg/fractal"
	zygo "github.com/glycerine/zygomys/zygo"
)

// EvalError represents a problem in user predicate source, such as a parse
// error, a runtime error or a non-boolean result.
type EvalError struct {
	Line    int
	Col     int
	Metric  int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Predicate is a compiled rule predicate. It implements fractal.Predicate.
type Predicate struct {
	Source string
	Range  int
	keep   map[int]bool
}

var _ fractal.Predicate = (*Predicate)(nil)

// Keep reports whether metric survives. Metrics outside the compiled range
// are never kept.
func (p *Predicate) Keep(metric int) bool {
	return p.keep[metric]
}

// Kept lists the metrics for which the predicate holds, ascending.
func (p *Predicate) Kept() []int {
	out := make([]int, 0, len(p.keep))
	for m, ok := range p.keep {
		if ok {
			out = append(out, m)
		}
	}
	sort.Ints(out)
	return out
}

// Compile evaluates source for every metric reachable in [-rng, rng]^3.
// It is safe for concurrent use.
//
// Return semantics:
//   - On success: predicate + nil
//   - On a problem in the source: nil + EvalError
//   - On fatal failure (timeout, panic): nil + error
func Compile(source string, rng int) (*Predicate, error) {
	if rng < 1 {
		return nil, fmt.Errorf("script: range %d must be at least 1", rng)
	}
	if strings.TrimSpace(source) == "" {
		return nil, EvalError{Message: "empty predicate"}
	}

	ch := make(chan compileResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- compileResult{err: fmt.Errorf("panic during evaluation: %v", r)}
			}
		}()

		p, err := compile(source, rng)
		ch <- compileResult{pred: p, err: err}
	}()

	return waitWithTimeout(ch, EvalTimeout)
}

func compile(source string, rng int) (*Predicate, error) {
	src := preprocessSource(source)
	keep := make(map[int]bool)
	for _, m := range Metrics(rng) {
		ok, err := evaluate(src, m)
		if err != nil {
			return nil, err
		}
		keep[m] = ok
	}
	return &Predicate{Source: source, Range: rng, keep: keep}, nil
}

// Metrics returns the distinct metrics of all offsets in [-rng, rng]^3,
// ascending. Metric is even in every component, so only the non-negative
// octant with i <= j <= k is walked.
func Metrics(rng int) []int {
	seen := make(map[int]bool)
	for i := 0; i <= rng; i++ {
		for j := i; j <= rng; j++ {
			for k := j; k <= rng; k++ {
				seen[fractal.Metric(i, j, k)] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Ints(out)
	return out
}

// evaluate runs the predicate for one metric in a fresh sandbox. The binding
// shares the first line with the source so reported line numbers match.
func evaluate(src string, metric int) (bool, error) {
	// Sandbox mode prevents user code from accessing the filesystem or syscalls.
	env := zygo.NewZlispSandbox()
	defer env.Stop()

	if err := env.LoadString(fmt.Sprintf("(def metric %d) %s", metric, src)); err != nil {
		return false, withMetric(parseZygomysError(err), metric)
	}

	res, err := env.Run()
	if err != nil {
		return false, withMetric(parseZygomysError(err), metric)
	}

	switch v := res.(type) {
	case *zygo.SexpBool:
		return v.Val, nil
	}
	return false, EvalError{
		Metric:  metric,
		Message: fmt.Sprintf("predicate must return a boolean, got %s for metric %d", res.SexpString(nil), metric),
	}
}

func withMetric(e EvalError, metric int) EvalError {
	e.Metric = metric
	return e
}

// linePattern matches zygomys error messages that include "Error on line N: ..."
var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

// linePatternShort matches simpler "line N: ..." patterns.
var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError converts a zygomys error into an EvalError, extracting
// line information when the message carries it.
func parseZygomysError(err error) EvalError {
	msg := err.Error()

	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return EvalError{
				Line:    line,
				Message: strings.TrimSpace(m[2]),
			}
		}
	}

	return EvalError{Message: strings.TrimSpace(msg)}
}
