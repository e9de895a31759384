package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "codepilot:latency:"

// LatencyTracker shares per-backend latency samples between codepilot
// processes through Redis. Samples live in a sorted set scored by time; the
// moving average is kept beside it.
type LatencyTracker struct {
	client *redis.Client
	logger *zap.Logger

	windowSize time.Duration // samples older than this are dropped (default: 5 minutes)
	maxSamples int64         // per backend (default: 1000)
	smoothing  float64       // weight of a new sample in the moving average (default: 0.1)
}

// NewLatencyTracker creates a new distributed latency tracker
func NewLatencyTracker(client *redis.Client, logger *zap.Logger) *LatencyTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LatencyTracker{
		client:     client,
		logger:     logger,
		windowSize: 5 * time.Minute,
		maxSamples: 1000,
		smoothing:  0.1,
	}
}

// NewClient parses a redis:// URL and verifies the server answers
func NewClient(ctx context.Context, url, password string, db int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RecordLatency stores one sample for provider and folds it into the average
func (lt *LatencyTracker) RecordLatency(ctx context.Context, provider string, latency time.Duration) error {
	now := time.Now()
	latencyMs := latency.Milliseconds()
	key := lt.samplesKey(provider)

	// member is unique so equal latencies are not collapsed
	member := fmt.Sprintf("%d:%d", latencyMs, now.UnixNano())
	cutoff := float64(now.Add(-lt.windowSize).UnixMilli())

	pipe := lt.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%.0f", cutoff))
	pipe.ZRemRangeByRank(ctx, key, 0, -lt.maxSamples-1)
	pipe.Expire(ctx, key, lt.windowSize*2)

	if _, err := pipe.Exec(ctx); err != nil {
		lt.logger.Error("Failed to record latency",
			zap.String("provider", provider),
			zap.Duration("latency", latency),
			zap.Error(err))
		return err
	}

	return lt.updateMovingAverage(ctx, provider, float64(latencyMs))
}

// GetAverageLatency returns the moving average, or 0 when nothing is recorded
func (lt *LatencyTracker) GetAverageLatency(ctx context.Context, provider string) (time.Duration, error) {
	result, err := lt.client.Get(ctx, lt.avgKey(provider)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	avgMs, err := strconv.ParseFloat(result, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(avgMs * float64(time.Millisecond)), nil
}

// GetLatencyStats summarizes the samples currently in the window
func (lt *LatencyTracker) GetLatencyStats(ctx context.Context, provider string) (*LatencyStats, error) {
	values, err := lt.client.ZRange(ctx, lt.samplesKey(provider), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	latencies := make([]int64, 0, len(values))
	var sum int64
	for _, v := range values {
		raw, _, _ := strings.Cut(v, ":")
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		latencies = append(latencies, ms)
		sum += ms
	}

	stats := &LatencyStats{Provider: provider, SampleCount: int64(len(latencies))}
	if len(latencies) == 0 {
		return stats, nil
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	stats.Average = time.Duration(sum/int64(len(latencies))) * time.Millisecond
	stats.Min = time.Duration(latencies[0]) * time.Millisecond
	stats.Max = time.Duration(latencies[len(latencies)-1]) * time.Millisecond
	stats.P50 = time.Duration(percentile(latencies, 0.50)) * time.Millisecond
	stats.P95 = time.Duration(percentile(latencies, 0.95)) * time.Millisecond
	stats.P99 = time.Duration(percentile(latencies, 0.99)) * time.Millisecond
	return stats, nil
}

// GetHealthScore maps P95 latency onto 0-100. No data counts as healthy.
func (lt *LatencyTracker) GetHealthScore(ctx context.Context, provider string) (float64, error) {
	stats, err := lt.GetLatencyStats(ctx, provider)
	if err != nil {
		return 100.0, err
	}
	if stats.SampleCount == 0 {
		return 100.0, nil
	}

	// < 500ms = 100, 1s = 80, 2s = 60, 5s = 40, 10s+ = 20
	p95Ms := float64(stats.P95.Milliseconds())

	var score float64
	switch {
	case p95Ms < 500:
		score = 100.0
	case p95Ms < 1000:
		score = 100.0 - (p95Ms-500)*0.04
	case p95Ms < 2000:
		score = 80.0 - (p95Ms-1000)*0.02
	case p95Ms < 5000:
		score = 60.0 - (p95Ms-2000)*0.0067
	case p95Ms < 10000:
		score = 40.0 - (p95Ms-5000)*0.004
	default:
		score = 20.0
	}

	if score < 0 {
		score = 0
	}
	return score, nil
}

// ClearLatencies drops all data for provider
func (lt *LatencyTracker) ClearLatencies(ctx context.Context, provider string) error {
	pipe := lt.client.Pipeline()
	pipe.Del(ctx, lt.samplesKey(provider))
	pipe.Del(ctx, lt.avgKey(provider))
	_, err := pipe.Exec(ctx)
	return err
}

// GetAllStats returns stats for every provider with samples
func (lt *LatencyTracker) GetAllStats(ctx context.Context) (map[string]*LatencyStats, error) {
	all := make(map[string]*LatencyStats)

	iter := lt.client.Scan(ctx, 0, keyPrefix+"samples:*", 100).Iterator()
	for iter.Next(ctx) {
		provider := strings.TrimPrefix(iter.Val(), keyPrefix+"samples:")

		stats, err := lt.GetLatencyStats(ctx, provider)
		if err != nil {
			lt.logger.Warn("Failed to get latency stats",
				zap.String("provider", provider),
				zap.Error(err))
			continue
		}
		all[provider] = stats
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return all, nil
}

// updateMovingAverage applies the EMA inside an optimistic transaction so
// concurrent writers from other processes are not lost.
func (lt *LatencyTracker) updateMovingAverage(ctx context.Context, provider string, latencyMs float64) error {
	key := lt.avgKey(provider)

	update := func(tx *redis.Tx) error {
		newAvg := latencyMs

		current, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if avg, parseErr := strconv.ParseFloat(current, 64); parseErr == nil {
				newAvg = avg*(1-lt.smoothing) + latencyMs*lt.smoothing
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, strconv.FormatFloat(newAvg, 'f', 3, 64), lt.windowSize*2)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < 3; i++ {
		err = lt.client.Watch(ctx, update, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		lt.logger.Error("Failed to update moving average",
			zap.String("provider", provider),
			zap.Error(err))
	}
	return err
}

func (lt *LatencyTracker) samplesKey(provider string) string {
	return keyPrefix + "samples:" + provider
}

func (lt *LatencyTracker) avgKey(provider string) string {
	return keyPrefix + "avg:" + provider
}

// percentile expects sorted input
func percentile(sorted []int64, p float64) int64 {
	i := int(float64(len(sorted)) * p)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// LatencyStats summarizes one backend's recent latency
type LatencyStats struct {
	Provider    string        `json:"provider"`
	SampleCount int64         `json:"sample_count"`
	Average     time.Duration `json:"average"`
	Min         time.Duration `json:"min"`
	Max         time.Duration `json:"max"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
}
