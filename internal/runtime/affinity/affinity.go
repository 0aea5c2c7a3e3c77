// Package affinity parses the binding grammar (spec.md §6) and applies
// it via the OS thread the calling goroutine is locked to.
//
// ptgrt supports the same three forms the original engine's -b/--bind
// flag does: "none" (no pinning), a single core id applied to every
// worker, or an explicit comma-separated core-id list assigned
// positionally to workers. Binding errors are Config-kind: an invalid
// grammar logs a warning and binding is skipped, never fatal.
package affinity

import (
	"fmt"
	"strconv"
	"strings"
)

// Binding is a parsed binding grammar: nil means "no pinning requested."
type Binding struct {
	Cores []int // Cores[i] is the core the i'th worker should pin to
}

// Parse interprets grammar against nWorkers workers.
func Parse(grammar string, nWorkers int) (Binding, string) {
	grammar = strings.TrimSpace(grammar)
	if grammar == "" || grammar == "none" {
		return Binding{}, ""
	}

	parts := strings.Split(grammar, ",")
	if len(parts) == 1 {
		core, err := strconv.Atoi(parts[0])
		if err != nil {
			return Binding{}, fmt.Sprintf("invalid bind grammar %q: %v; binding skipped", grammar, err)
		}
		cores := make([]int, nWorkers)
		for i := range cores {
			cores[i] = core
		}
		return Binding{Cores: cores}, ""
	}

	cores := make([]int, 0, len(parts))
	for _, p := range parts {
		c, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Binding{}, fmt.Sprintf("invalid bind grammar %q: %v; binding skipped", grammar, err)
		}
		cores = append(cores, c)
	}
	for len(cores) < nWorkers {
		cores = append(cores, cores[len(cores)%len(parts)])
	}
	return Binding{Cores: cores[:nWorkers]}, ""
}

// CoreFor returns the core id worker i should bind to, or -1 if no
// binding was requested.
func (b Binding) CoreFor(i int) int {
	if len(b.Cores) == 0 {
		return -1
	}
	return b.Cores[i%len(b.Cores)]
}
