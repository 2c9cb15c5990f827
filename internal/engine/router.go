package engine

import "hash/fnv"

// shardIndex maps a routing key onto a shard. The hash is stable across
// restarts so a key always lands on the same worker for a given shard
// count.
func shardIndex(key string, shards int) int {
	if shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(shards))
}
