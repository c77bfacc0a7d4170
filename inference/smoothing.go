package inference

// smoother is a bounded FIFO of recent raw counts. It belongs to exactly
// one engine instance; the engine's lock guards access.
type smoother struct {
	window int
	counts []float64
}

func newSmoother(window int) *smoother {
	return &smoother{
		window: window,
		counts: make([]float64, 0, window),
	}
}

// push records a raw count, dropping the oldest once the window is full,
// and returns the arithmetic mean of what has been seen so far.
func (s *smoother) push(count float64) float64 {
	if len(s.counts) == s.window {
		copy(s.counts, s.counts[1:])
		s.counts[len(s.counts)-1] = count
	} else {
		s.counts = append(s.counts, count)
	}

	var sum float64
	for _, c := range s.counts {
		sum += c
	}
	return sum / float64(len(s.counts))
}

func (s *smoother) reset() {
	s.counts = s.counts[:0]
}
