// Package tokenizer implements the tiered per-provider tokenizer registry
// described for the budget/reconciler pipeline: an ordered sequence of glob
// pattern -> tokenizer pairs, falling through tier 0 (exact tiktoken
// encodings) to tier 1 (approximate tiktoken encodings) to tier 2 (a
// CJK-aware character estimator) when nothing more precise matches.
package tokenizer

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tier labels which rule produced a token count, for the
// nexus_token_count_tier_total metric.
type Tier string

const (
	TierExact       Tier = "exact"
	TierApproximate Tier = "approximate"
	TierHeuristic   Tier = "heuristic"
)

// Tokenizer counts tokens for one model family.
type Tokenizer interface {
	CountTokens(text string) int
	Tier() Tier
}

// rule pattern-matches a model name to a tokenizer. Pattern supports a
// single trailing "*" wildcard, matching the reconciler pipeline's own
// model-pattern matching convention.
type rule struct {
	pattern   string
	tokenizer Tokenizer
}

// Registry is the ordered tiered matcher described in the gateway's budget
// design: rules are evaluated in registration order and the first match
// wins, with a heuristic estimator as the unconditional final rule.
type Registry struct {
	rules     []rule
	heuristic Tokenizer
}

// NewRegistry builds the default registry: tier 0 exact OpenAI encodings,
// tier 1 approximate Anthropic encodings, tier 2 heuristic fallback.
func NewRegistry() *Registry {
	r := &Registry{heuristic: NewEstimator()}

	exact := newTiktokenTokenizer("o200k_base", TierExact)
	cl100k := newTiktokenTokenizer("cl100k_base", TierExact)
	approx := newTiktokenTokenizer("cl100k_base", TierApproximate)

	r.Register("gpt-4o*", exact)
	r.Register("gpt-3.5*", cl100k)
	r.Register("gpt-4*", cl100k)
	r.Register("claude-*", approx)
	r.Register("anthropic*", approx)

	return r
}

// Register appends a pattern -> tokenizer rule. Rules are evaluated in
// registration order, so register more specific patterns first.
func (r *Registry) Register(pattern string, t Tokenizer) {
	r.rules = append(r.rules, rule{pattern: pattern, tokenizer: t})
}

// Lookup returns the tokenizer for model, falling through to the tier-2
// heuristic estimator when no rule matches. The bool result reports whether
// a non-heuristic tokenizer matched.
func (r *Registry) Lookup(model string) (Tokenizer, bool) {
	for _, rl := range r.rules {
		if matches(rl.pattern, model) {
			return rl.tokenizer, true
		}
	}
	return r.heuristic, false
}

// Estimate counts prompt tokens for model/text using the tiered registry.
// This is the TokenEstimator the reconciler pipeline consumes.
func (r *Registry) Estimate(model, text string) (int, bool) {
	t, exact := r.Lookup(model)
	return t.CountTokens(text), exact
}

func matches(pattern, model string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == model
}

// tiktokenTokenizer adapts tiktoken-go for the exact and approximate tiers.
type tiktokenTokenizer struct {
	encoding string
	tier     Tier
	enc      *tiktoken.Tiktoken
}

func newTiktokenTokenizer(encoding string, tier Tier) *tiktokenTokenizer {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		// Falls through to the heuristic estimator at call time rather than
		// failing registry construction; enc stays nil.
		return &tiktokenTokenizer{encoding: encoding, tier: tier}
	}
	return &tiktokenTokenizer{encoding: encoding, tier: tier, enc: enc}
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if t.enc == nil {
		return NewEstimator().CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *tiktokenTokenizer) Tier() Tier { return t.tier }

// Estimator is the tier-2 heuristic: chars/4 for ASCII runs, a richer
// chars-per-token ratio for CJK runs.
type Estimator struct{}

func NewEstimator() *Estimator { return &Estimator{} }

func (e *Estimator) Tier() Tier { return TierHeuristic }

func (e *Estimator) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	cjkTokens := float64(cjk) / 1.5
	asciiTokens := float64(total-cjk) / 4.0 * 1.15
	estimated := int(cjkTokens + asciiTokens + 0.5)
	if estimated == 0 && total > 0 {
		estimated = 1
	}
	return estimated
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x3000 && r <= 0x303F) ||
		(r >= 0xFF00 && r <= 0xFFEF)
}
