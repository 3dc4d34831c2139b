package runner

// ResolveOrder computes a topological layering of the job set: a list of
// "ready sets", each containing the names of jobs whose dependencies are
// all satisfied by earlier sets. Jobs without dependencies form the first
// set. Ties within a set keep declaration order.
//
// A dependency on an unknown job or a dependency cycle returns an error
// wrapping ErrConfiguration; no partial layering is returned.
func ResolveOrder(jobs []Job) ([][]string, error) {
	known := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		known[job.Name] = true
	}

	pending := make(map[string][]string, len(jobs))
	for _, job := range jobs {
		for _, dep := range job.DependsOn {
			if !known[dep] {
				return nil, &UnknownDependencyError{Job: job.Name, Dependency: dep}
			}
		}
		pending[job.Name] = job.DependsOn
	}

	var sets [][]string
	placed := make(map[string]bool, len(jobs))

	for len(placed) < len(jobs) {
		var ready []string
		for _, job := range jobs {
			if placed[job.Name] {
				continue
			}
			ok := true
			for _, dep := range pending[job.Name] {
				if !placed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, job.Name)
			}
		}

		if len(ready) == 0 {
			// Every remaining job waits on another remaining job
			return nil, &CycleError{Jobs: findCycle(jobs, placed)}
		}

		for _, name := range ready {
			placed[name] = true
		}
		sets = append(sets, ready)
	}

	return sets, nil
}

// findCycle walks dependency edges among the unplaced jobs until a job
// repeats, then returns the cycle members in dependency order.
func findCycle(jobs []Job, placed map[string]bool) []string {
	deps := make(map[string][]string, len(jobs))
	var start string
	for _, job := range jobs {
		if placed[job.Name] {
			continue
		}
		deps[job.Name] = job.DependsOn
		if start == "" {
			start = job.Name
		}
	}

	seen := make(map[string]int)
	var path []string
	current := start
	for {
		if at, ok := seen[current]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := ""
		for _, dep := range deps[current] {
			if _, unplaced := deps[dep]; unplaced {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen: every unplaced job has an unplaced dependency
			return path
		}
		current = next
	}
}
