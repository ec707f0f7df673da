package partition

import "hash/fnv"

// Count is the fixed number of logical partitions.
// Never changes after initial deployment — it's a capacity decision, not a scaling decision.
const Count = 256

// For returns the partition ID for a durable key.
// Stable and deterministic: the same key always maps to the same
// partition, which is what serializes all of a key's records onto one
// worker. Uses FNV-32a (stdlib, fast, well-distributed).
func For(durableKey string) int {
	h := fnv.New32a()
	h.Write([]byte(durableKey))
	return int(h.Sum32()) % Count
}
