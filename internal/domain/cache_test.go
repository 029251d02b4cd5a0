package domain

import (
	"reflect"
	"testing"
)

func TestTopicKey(t *testing.T) {
	t.Parallel()

	got := TopicKey("  Newton's   THIRD law\n")
	if got != "newton's third law" {
		t.Errorf("Expected normalized topic, got %q", got)
	}
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint string
		want []string
	}{
		{"", nil},
		{"basketball", []string{"basketball"}},
		{"Music, basketball ,music,, ", []string{"basketball", "music"}},
	}
	for _, tc := range tests {
		got := Candidates(tc.hint)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Candidates(%q) = %v, want %v", tc.hint, got, tc.want)
		}
	}
}

func TestBestEntry(t *testing.T) {
	t.Parallel()

	if BestEntry(nil) != nil {
		t.Error("Expected nil for no entries")
	}

	music := &CacheEntry{Key: CacheKey{PersonalizationValue: "music"}, Popularity: 3}
	art := &CacheEntry{Key: CacheKey{PersonalizationValue: "art"}, Popularity: 3}
	ball := &CacheEntry{Key: CacheKey{PersonalizationValue: "basketball"}, Popularity: 1}

	if got := BestEntry([]*CacheEntry{ball, music, art}); got != art {
		t.Errorf("Expected tie to resolve to art, got %s", got.Key.PersonalizationValue)
	}
	ball.Popularity = 7
	if got := BestEntry([]*CacheEntry{music, art, ball}); got != ball {
		t.Errorf("Expected most popular entry, got %s", got.Key.PersonalizationValue)
	}
}

func TestCacheKeyValidate(t *testing.T) {
	t.Parallel()

	if err := (CacheKey{TopicID: "t", GradeLevel: 3, PersonalizationValue: "v"}).Validate(); err != nil {
		t.Errorf("Expected valid key, got %v", err)
	}
	if err := (CacheKey{GradeLevel: 3, PersonalizationValue: "v"}).Validate(); err == nil {
		t.Error("Expected error for empty topic")
	}
	if err := (CacheKey{TopicID: "t"}).Validate(); err == nil {
		t.Error("Expected error for empty personalization value")
	}
}
