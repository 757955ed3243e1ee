package wgpu

// reap splits ps into the submissions done reports finished and those still
// running. Both keep submission order.
func reap[T any](ps []T, done func(T) bool) (finished, running []T) {
	for _, p := range ps {
		if done(p) {
			finished = append(finished, p)
		} else {
			running = append(running, p)
		}
	}
	return finished, running
}
