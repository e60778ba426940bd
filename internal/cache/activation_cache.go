package cache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"gitlab.com/timkado/api/daisi-merchant-onboarding/internal/observer"
)

// ActivationStatus represents the cache check result
type ActivationStatus int

const (
	StatusUnknown ActivationStatus = iota
	StatusMaybeKnown
	StatusMaybeStranger
)

// ActivationCache uses dual bloom filters to skip database lookups on the
// hot inbound path: one filter tracks phone numbers with a merchant record,
// the other tracks phone numbers that have messaged us but never activated.
type ActivationCache struct {
	knownFilter    *bloom.BloomFilter // Phones with an existing merchant record
	strangerFilter *bloom.BloomFilter // Phones seen before with no record
	mu             sync.RWMutex
	hits           atomic.Int64
	misses         atomic.Int64
	falsePositives atomic.Int64
	companyID      string
}

// NewActivationCache creates a new dual bloom filter cache
func NewActivationCache(companyID string, expectedKnown, expectedStrangers uint, fpRate float64) *ActivationCache {
	return &ActivationCache{
		knownFilter:    bloom.NewWithEstimates(expectedKnown, fpRate),
		strangerFilter: bloom.NewWithEstimates(expectedStrangers, fpRate),
		companyID:      companyID,
	}
}

// generateKey creates a cache key from the phone number using FNV-1a hash
func (c *ActivationCache) generateKey(phoneNumber string) string {
	h := fnv.New64a()
	h.Write([]byte(phoneNumber))
	return fmt.Sprintf("%x", h.Sum64())
}

// CheckPhone performs an ultra-fast check of whether a phone number has a
// merchant record. Bloom answers are probabilistic: a "maybe" must still be
// confirmed against storage.
func (c *ActivationCache) CheckPhone(phoneNumber string) ActivationStatus {
	key := c.generateKey(phoneNumber)

	c.mu.RLock()
	defer c.mu.RUnlock()

	// The known filter wins: a phone can end up in both after activating.
	if c.knownFilter.TestString(key) {
		observer.IncCacheCheck(c.companyID, "bloom_known", "possible_hit")
		return StatusMaybeKnown
	}

	if c.strangerFilter.TestString(key) {
		observer.IncCacheCheck(c.companyID, "bloom_stranger", "possible_hit")
		return StatusMaybeStranger
	}

	c.misses.Add(1)
	observer.IncCacheCheck(c.companyID, "bloom", "miss")
	return StatusUnknown
}

// MarkKnown marks a phone number as having a merchant record
func (c *ActivationCache) MarkKnown(phoneNumber string) {
	key := c.generateKey(phoneNumber)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.knownFilter.AddString(key)
	c.hits.Add(1)
}

// MarkStranger marks a phone number as seen with no merchant record
func (c *ActivationCache) MarkStranger(phoneNumber string) {
	key := c.generateKey(phoneNumber)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.strangerFilter.AddString(key)
}

// RecordFalsePositive tracks when a bloom filter gave an incorrect positive
func (c *ActivationCache) RecordFalsePositive(filterType string) {
	c.falsePositives.Add(1)
	observer.IncCacheCheck(c.companyID, "bloom_"+filterType, "false_positive")
}

// GetStats returns cache statistics
func (c *ActivationCache) GetStats() ActivationCacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	fps := c.falsePositives.Load()
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	fpRate := float64(0)
	if total > 0 {
		fpRate = float64(fps) / float64(total)
	}

	c.mu.RLock()
	knownSize := c.knownFilter.ApproximatedSize()
	strangerSize := c.strangerFilter.ApproximatedSize()
	c.mu.RUnlock()

	return ActivationCacheStats{
		Hits:              hits,
		Misses:            misses,
		HitRate:           hitRate,
		FalsePositives:    fps,
		FalsePositiveRate: fpRate,
		KnownSize:         uint64(knownSize),
		StrangerSize:      uint64(strangerSize),
	}
}

type ActivationCacheStats struct {
	Hits              int64
	Misses            int64
	HitRate           float64
	FalsePositives    int64
	FalsePositiveRate float64
	KnownSize         uint64
	StrangerSize      uint64
}
