package dedupe

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithMaxSize sets how many ids are kept. Non-positive means unbounded.
func WithMaxSize(maxSize int) Option {
	return func(g *Guard) {
		g.maxSize = maxSize
	}
}
