// Package vpmap parses the vp-map grammar (spec.md §6): the string that
// describes how workers are grouped into virtual processes and bound to
// cores.
//
//	flat                 — one VP per core, one worker per VP
//	hwloc                 — group by real NUMA/socket topology (degrades
//	                         to flat with a logged Config-kind warning,
//	                         since ptgrt does not probe hardware topology
//	                         beyond the OS core count — see SPEC_FULL §11)
//	rr:vps:threads:cores  — round-robin vps VPs of threads workers each,
//	                         drawn from a flat list of cores
//	file:path              — one line per VP, comma-separated core ids
package vpmap

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Spec is a parsed vp-map: one []int (core ids) per VP.
type Spec struct {
	Raw string
	VPs [][]int
}

// Parse interprets grammar against the given core count (used by flat
// and rr to size VPs), returning a degraded "flat" Spec plus a non-nil
// warning string (not an error — per spec.md's Config-kind policy, a
// bad vp-map falls back to a default rather than aborting Init).
func Parse(grammar string, cores int) (Spec, string) {
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	grammar = strings.TrimSpace(grammar)

	switch {
	case grammar == "" || grammar == "flat":
		return flatSpec(grammar, cores), ""

	case grammar == "hwloc":
		return flatSpec(grammar, cores), "vp-map \"hwloc\" requested but no topology prober is wired; degraded to flat"

	case strings.HasPrefix(grammar, "rr:"):
		spec, err := parseRR(grammar, cores)
		if err != nil {
			return flatSpec(grammar, cores), fmt.Sprintf("vp-map %q invalid (%v); degraded to flat", grammar, err)
		}
		return spec, ""

	case strings.HasPrefix(grammar, "file:"):
		spec, err := parseFile(grammar)
		if err != nil {
			return flatSpec(grammar, cores), fmt.Sprintf("vp-map %q unreadable (%v); degraded to flat", grammar, err)
		}
		return spec, ""

	default:
		return flatSpec(grammar, cores), fmt.Sprintf("unrecognized vp-map grammar %q; degraded to flat", grammar)
	}
}

func flatSpec(raw string, cores int) Spec {
	vps := make([][]int, cores)
	for i := range vps {
		vps[i] = []int{i}
	}
	return Spec{Raw: raw, VPs: vps}
}

// parseRR interprets "rr:vps:threads:cores" — vps VPs of threads workers
// each, drawn round-robin from the first cores core ids (or all
// available cores if cores <= 0).
func parseRR(grammar string, availableCores int) (Spec, error) {
	parts := strings.Split(grammar, ":")
	if len(parts) != 4 {
		return Spec{}, fmt.Errorf("expected rr:vps:threads:cores")
	}
	nvps, err := strconv.Atoi(parts[1])
	if err != nil || nvps <= 0 {
		return Spec{}, fmt.Errorf("bad vps count %q", parts[1])
	}
	threads, err := strconv.Atoi(parts[2])
	if err != nil || threads <= 0 {
		return Spec{}, fmt.Errorf("bad threads count %q", parts[2])
	}
	cores, err := strconv.Atoi(parts[3])
	if err != nil || cores <= 0 {
		cores = availableCores
	}

	vps := make([][]int, nvps)
	core := 0
	for v := 0; v < nvps; v++ {
		vps[v] = make([]int, threads)
		for th := 0; th < threads; th++ {
			vps[v][th] = core % cores
			core++
		}
	}
	return Spec{Raw: grammar, VPs: vps}, nil
}

// parseFile reads one VP per line, comma-separated core ids.
func parseFile(grammar string) (Spec, error) {
	path := strings.TrimPrefix(grammar, "file:")
	f, err := os.Open(path)
	if err != nil {
		return Spec{}, err
	}
	defer f.Close()

	var vps [][]int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var cores []int
		for _, tok := range strings.Split(line, ",") {
			c, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil {
				return Spec{}, fmt.Errorf("bad core id %q: %w", tok, err)
			}
			cores = append(cores, c)
		}
		vps = append(vps, cores)
	}
	if err := sc.Err(); err != nil {
		return Spec{}, err
	}
	if len(vps) == 0 {
		return Spec{}, fmt.Errorf("no VP lines found in %s", path)
	}
	return Spec{Raw: grammar, VPs: vps}, nil
}

// String returns the grammar string the Spec was parsed from (Raw), or
// "flat" when Raw is empty; it does not rebuild a string from VPs.
func (s Spec) String() string {
	if s.Raw != "" {
		return s.Raw
	}
	return "flat"
}
