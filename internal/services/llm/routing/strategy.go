// Package routing orders fallback candidates. Ordering is pure: it never
// mutates its input and never reorders candidates that compare equal.
package routing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/amerfu/codepilot/internal/services/llm/providers"
)

// Strategy names a fallback ordering policy
type Strategy string

const (
	StrategyBalanced     Strategy = "balanced"
	StrategyFreeFirst    Strategy = "free-first"
	StrategyLocalFirst   Strategy = "local-first"
	StrategySpeedFirst   Strategy = "speed-first"
	StrategyQualityFirst Strategy = "quality-first"
	StrategyPaidFirst    Strategy = "paid-first"
	StrategyLeastLatency Strategy = "least-latency"
)

// DefaultStrategy is used when nothing is configured
const DefaultStrategy = StrategyBalanced

var validStrategies = []Strategy{
	StrategyBalanced,
	StrategyFreeFirst,
	StrategyLocalFirst,
	StrategySpeedFirst,
	StrategyQualityFirst,
	StrategyPaidFirst,
	StrategyLeastLatency,
}

// Strategies lists every known strategy
func Strategies() []Strategy {
	return append([]Strategy(nil), validStrategies...)
}

// ParseStrategy resolves a strategy name. An empty name yields the default.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultStrategy, nil
	}
	for _, s := range validStrategies {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("invalid routing strategy: %s, valid options: %v", name, validStrategies)
}

// ValidateStrategy checks if a strategy name is valid
func ValidateStrategy(name string) error {
	_, err := ParseStrategy(name)
	return err
}

// Candidate is one backend considered for fallback
type Candidate struct {
	Spec       providers.Spec
	Configured bool

	// AverageLatency is the observed mean latency, zero when unknown
	AverageLatency time.Duration
}

// ID returns the backend id
func (c Candidate) ID() string {
	return c.Spec.ID
}

// less reports whether a should be tried before b
type less func(a, b Candidate) bool

// before orders candidates having the property ahead of those lacking it
func before(a, b bool) bool {
	return a && !b
}

// comparator dispatches the strategy once
func comparator(strategy Strategy) less {
	switch strategy {
	case StrategyFreeFirst:
		return func(a, b Candidate) bool {
			return before(a.Spec.HasFreeTier(), b.Spec.HasFreeTier())
		}
	case StrategyLocalFirst:
		return func(a, b Candidate) bool {
			return before(a.Spec.Local(), b.Spec.Local())
		}
	case StrategySpeedFirst:
		return func(a, b Candidate) bool {
			return before(a.Spec.OffersTier(providers.TierFast), b.Spec.OffersTier(providers.TierFast))
		}
	case StrategyQualityFirst:
		return func(a, b Candidate) bool {
			return before(a.Spec.OffersTier(providers.TierMax), b.Spec.OffersTier(providers.TierMax))
		}
	case StrategyPaidFirst:
		return func(a, b Candidate) bool {
			return before(a.Spec.RequiresKey, b.Spec.RequiresKey)
		}
	case StrategyLeastLatency:
		// unknown latencies keep their place behind the measured ones
		return func(a, b Candidate) bool {
			if a.AverageLatency == 0 || b.AverageLatency == 0 {
				return before(a.AverageLatency > 0, b.AverageLatency > 0)
			}
			return a.AverageLatency < b.AverageLatency
		}
	default:
		return func(a, b Candidate) bool {
			if a.Configured != b.Configured {
				return a.Configured
			}
			return before(a.Spec.OffersTier(providers.TierBalanced), b.Spec.OffersTier(providers.TierBalanced))
		}
	}
}

// Order returns candidates sorted by strategy. Equal candidates keep their
// input (registration) order.
func Order(candidates []Candidate, strategy Strategy) []Candidate {
	ordered := append([]Candidate(nil), candidates...)
	cmp := comparator(strategy)
	sort.SliceStable(ordered, func(i, j int) bool {
		return cmp(ordered[i], ordered[j])
	})
	return ordered
}

// IDs extracts the backend ids of candidates, preserving order
func IDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID()
	}
	return ids
}
