package cache

// EvictionPolicy chooses which entries to drop when the cache is over capacity.
type EvictionPolicy interface {
	// Victims returns up to n keys to evict. keys is ordered from least to
	// most recently accessed.
	Victims(keys []string, n int) []string
}

// LRUPolicy evicts the least recently accessed entries.
type LRUPolicy struct{}

// Victims implements EvictionPolicy.
func (LRUPolicy) Victims(keys []string, n int) []string {
	if n > len(keys) {
		n = len(keys)
	}
	if n <= 0 {
		return nil
	}
	return keys[:n]
}
