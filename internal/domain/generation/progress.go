package generation

import (
	"math"
	"sync"
)

// monotonic wraps sink so it only sees non-decreasing values in [0,100].
func monotonic(sink ProgressFunc) ProgressFunc {
	if sink == nil {
		return func(float64) {}
	}

	var (
		mu   sync.Mutex
		last = -1.0
	)
	return func(p float64) {
		if math.IsNaN(p) {
			return
		}
		p = math.Max(0, math.Min(100, p))

		mu.Lock()
		if p < last {
			mu.Unlock()
			return
		}
		last = p
		mu.Unlock()

		sink(p)
	}
}
