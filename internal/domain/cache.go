package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CacheKey identifies previously generated content.
type CacheKey struct {
	TopicID              string `json:"topic_id"`
	GradeLevel           int    `json:"grade_level"`
	PersonalizationValue string `json:"personalization_value"`
}

// String renders the key for logs.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%d/%s", k.TopicID, k.GradeLevel, k.PersonalizationValue)
}

// Validate checks that every key component is present.
func (k CacheKey) Validate() error {
	if k.TopicID == "" {
		return fmt.Errorf("%w: cache key topic cannot be empty", ErrValidation)
	}
	if k.PersonalizationValue == "" {
		return fmt.Errorf("%w: cache key personalization value cannot be empty", ErrValidation)
	}
	return nil
}

// CacheEntry points at the results of a completed generation that can be reused
// for equivalent requests.
type CacheEntry struct {
	Key             CacheKey  `json:"key"`
	Results         Results   `json:"results"`
	SourceRequestID uuid.UUID `json:"source_request_id"`
	Popularity      int64     `json:"popularity"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TopicKey normalizes free-text query into a stable topic identifier:
// lowercased with runs of whitespace collapsed.
func TopicKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Candidates parses a personalization hint ("basketball, Music") into the set of
// normalized candidate values, sorted and without duplicates.
func Candidates(hint string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(hint, ",") {
		v := NormalizeValue(part)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// NormalizeValue lowercases and trims a personalization value.
func NormalizeValue(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// BestEntry picks the entry with the highest popularity. Ties go to the
// lexicographically smallest personalization value so results are reproducible.
func BestEntry(entries []*CacheEntry) *CacheEntry {
	var best *CacheEntry
	for _, e := range entries {
		if best == nil ||
			e.Popularity > best.Popularity ||
			(e.Popularity == best.Popularity && e.Key.PersonalizationValue < best.Key.PersonalizationValue) {
			best = e
		}
	}
	return best
}
