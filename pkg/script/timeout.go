package script

import (
	"fmt"
	"time"
)

// EvalTimeout is the hard limit for compiling one predicate.
const EvalTimeout = 5 * time.Second

// compileResult passes compile output through channels.
type compileResult struct {
	pred *Predicate
	err  error
}

// waitWithTimeout waits for a result from ch, but returns a timeout error
// if compilation exceeds timeout. On timeout the compile goroutine keeps
// running; ch is buffered so its send never blocks.
func waitWithTimeout(ch <-chan compileResult, timeout time.Duration) (*Predicate, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.pred, res.err
	case <-timer.C:
		return nil, fmt.Errorf("compilation timed out after %s", timeout)
	}
}
