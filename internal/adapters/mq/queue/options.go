package queue

// Option applies a configuration option to the KeyedQueue.
type Option func(*KeyedQueue)

// WithShards sets the number of shards.
func WithShards(n int) Option {
	return func(q *KeyedQueue) {
		if n > 0 {
			q.n = n
		}
	}
}

// WithCapacity sets the buffer size of each shard.
func WithCapacity(capacity int) Option {
	return func(q *KeyedQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}
