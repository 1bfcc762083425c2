package airouter

import (
	"fmt"
	"regexp"
	"strings"
)

// Tier identifies which backend class a request is sent to.
type Tier string

const (
	TierFast Tier = "fast"
	TierDeep Tier = "deep"
)

// DefaultMaxFastLength is the input length at which requests go deep.
const DefaultMaxFastLength = 280

// DefaultDeepKeywords are the words that force the deep backend.
const DefaultDeepKeywords = "strategy|plan|sequence|long-form|campaign"

// Policy is the length and keyword heuristic that picks a tier.
type Policy struct {
	MaxFastLength int
	DeepKeywords  *regexp.Regexp
}

// NewPolicy compiles keywords, a "|" separated alternation, into a
// case-insensitive pattern. An empty keyword list disables keyword matching.
func NewPolicy(maxFastLength int, keywords string) (*Policy, error) {
	if maxFastLength <= 0 {
		maxFastLength = DefaultMaxFastLength
	}
	p := &Policy{MaxFastLength: maxFastLength}

	keywords = strings.Trim(strings.TrimSpace(keywords), "|")
	if keywords == "" {
		return p, nil
	}
	re, err := regexp.Compile("(?i)" + keywords)
	if err != nil {
		return nil, fmt.Errorf("invalid deep keyword pattern: %w", err)
	}
	p.DeepKeywords = re
	return p, nil
}

// Select returns TierFast when input is shorter than MaxFastLength
// characters and contains no deep keyword, TierDeep otherwise.
func (p *Policy) Select(input string) Tier {
	if len([]rune(input)) >= p.MaxFastLength {
		return TierDeep
	}
	if p.DeepKeywords != nil && p.DeepKeywords.MatchString(input) {
		return TierDeep
	}
	return TierFast
}
