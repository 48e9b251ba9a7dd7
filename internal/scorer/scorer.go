// Package scorer implements the four candidate-selection strategies: priority,
// random, round-robin, and the weighted smart score.
package scorer

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync/atomic"

	"github.com/nexushq/nexus/internal/config"
	"github.com/nexushq/nexus/internal/registry"
)

// roundRobinCounter is a single process-wide counter shared across every
// model, per the resolved Open Question that round-robin selection is
// global rather than per-model.
var roundRobinCounter atomic.Uint64

// cloudSoftLimitPenalty is subtracted from a cloud-kind agent's
// priority_score when the caller is over its soft budget limit, biasing the
// smart scorer toward local backends without excluding cloud candidates
// outright.
const cloudSoftLimitPenalty = 40

// Select picks one candidate agent per the named strategy. candidates must
// be non-empty; callers filter to the remaining, healthy, capable set before
// calling Select. biasAgainstCloud, when true, penalizes cloud-kind agents
// in the smart strategy's priority component (soft budget limit).
func Select(strategy string, candidates []*registry.Agent, weights config.ScoreWeights, requestID string, biasAgainstCloud bool) (*registry.Agent, string) {
	sorted := make([]*registry.Agent, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if len(sorted) == 1 {
		return sorted[0], "only_healthy_backend"
	}

	switch strategy {
	case "priority":
		a := selectByPriority(sorted)
		return a, fmt.Sprintf("lowest_priority:%s", a.ID)
	case "random":
		a := selectRandom(sorted, requestID)
		return a, fmt.Sprintf("random:%s", a.ID)
	case "round_robin":
		a := selectRoundRobin(sorted)
		return a, fmt.Sprintf("round_robin:%s", a.ID)
	default:
		a, score := selectSmart(sorted, weights, biasAgainstCloud)
		return a, fmt.Sprintf("highest_score:%s:%d", a.ID, score)
	}
}

func selectByPriority(sorted []*registry.Agent) *registry.Agent {
	best := sorted[0]
	for _, a := range sorted[1:] {
		if a.Priority < best.Priority {
			best = a
		}
	}
	return best
}

// selectRandom uses a hash of the request id as its pseudo-random index so
// selection is reproducible for a given request without a shared PRNG.
func selectRandom(sorted []*registry.Agent, requestID string) *registry.Agent {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	idx := int(h.Sum32()) % len(sorted)
	if idx < 0 {
		idx += len(sorted)
	}
	return sorted[idx]
}

func selectRoundRobin(sorted []*registry.Agent) *registry.Agent {
	n := roundRobinCounter.Add(1)
	idx := int(n % uint64(len(sorted)))
	return sorted[idx]
}

// selectSmart computes the weighted score per candidate and returns the
// maximum along with its score, breaking ties by priority then by
// (already-applied) id order.
func selectSmart(sorted []*registry.Agent, weights config.ScoreWeights, biasAgainstCloud bool) (*registry.Agent, int64) {
	best := sorted[0]
	bestScore := smartScore(best, weights, biasAgainstCloud)

	for _, a := range sorted[1:] {
		score := smartScore(a, weights, biasAgainstCloud)
		if score > bestScore || (score == bestScore && a.Priority < best.Priority) {
			best = a
			bestScore = score
		}
	}
	return best, bestScore
}

func clampU32(v uint32, max uint32) uint32 {
	if v > max {
		return max
	}
	return v
}

func smartScore(a *registry.Agent, w config.ScoreWeights, biasAgainstCloud bool) int64 {
	priority := uint32(a.Priority)
	if a.Priority < 0 {
		priority = 0
	}
	priorityScore := int64(100 - clampU32(priority, 100))
	if biasAgainstCloud && a.Kind.IsCloud() {
		priorityScore -= cloudSoftLimitPenalty
		if priorityScore < 0 {
			priorityScore = 0
		}
	}
	loadScore := int64(100 - clampU32(a.Pending(), 100))
	latencyScore := int64(100 - clampU32(a.EMALatencyMs()/10, 100))

	total := int64(w.Priority) + int64(w.Load) + int64(w.Latency)
	if total <= 0 {
		return 0
	}
	return (priorityScore*int64(w.Priority) + loadScore*int64(w.Load) + latencyScore*int64(w.Latency)) / total
}
