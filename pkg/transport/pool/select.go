package pool

import (
	"hash/fnv"
	"math/rand"

	"github.com/nostalgiatan/bey-sub000/config"
)

// selectEntry picks one healthy entry from group according to strategy.
// group must be non-empty; callers filter to healthy entries first.
func selectEntry(strategy config.LoadBalanceStrategy, addr string, group []*entry, rrCounter *int) *entry {
	switch strategy {
	case config.StrategyLeastConnections:
		return leastConnections(group)
	case config.StrategyResponseTimeWeighted:
		return fastestResponse(group)
	case config.StrategyRandom:
		return group[rand.Intn(len(group))]
	case config.StrategyConsistentHash:
		return group[consistentHashIndex(addr, len(group))]
	case config.StrategyWeightedRoundRobin:
		return highestQuality(group)
	case config.StrategyLeastActiveRequests:
		return leastActiveRequests(group)
	case config.StrategyRoundRobin:
		fallthrough
	default:
		idx := *rrCounter % len(group)
		*rrCounter++
		return group[idx]
	}
}

func leastConnections(group []*entry) *entry {
	best := group[0]
	for _, e := range group[1:] {
		if e.activeRequests < best.activeRequests {
			best = e
		}
	}
	return best
}

func leastActiveRequests(group []*entry) *entry { return leastConnections(group) }

func fastestResponse(group []*entry) *entry {
	best := group[0]
	for _, e := range group[1:] {
		if e.avgResponse < best.avgResponse {
			best = e
		}
	}
	return best
}

func highestQuality(group []*entry) *entry {
	best := group[0]
	for _, e := range group[1:] {
		if e.qualityScore > best.qualityScore {
			best = e
		}
	}
	return best
}

func consistentHashIndex(addr string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(addr))
	return int(h.Sum32()) % n
}
