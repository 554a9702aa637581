// Package phonetic resolves misheard words to terms of a closed vocabulary
// (mosquito genus names, for example) by pronunciation similarity.
//
// Speech recognisers routinely spell Latin genus names the way they sound:
// "edes" for Aedes, "cue lex" for Culex. A [Matcher] accepts such a word when
//
//  1. its Double Metaphone codes overlap a term's codes and the Jaro-Winkler
//     similarity reaches the phonetic threshold, or
//  2. no term overlaps phonetically but the Jaro-Winkler similarity alone
//     reaches the (stricter) fuzzy threshold.
//
// Words shorter than the minimum length are never matched; short function
// words collide phonetically with far too much.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
	defaultMinLength         = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term whose
// phonetic codes overlap the input. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.phoneticThreshold = threshold
		}
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.fuzzyThreshold = threshold
		}
	}
}

// WithMinLength sets the shortest input (in runes, spaces excluded) the
// matcher will consider. Default: 4.
func WithMinLength(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.minLength = n
		}
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minLength         int
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minLength:         defaultMinLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary term most similar to word.
//
// word may be a single token or a short phrase ("cue lex"). When matched is
// false, term is empty and score is 0. Ties are broken by vocabulary order,
// so the result is deterministic for a fixed vocabulary.
func (m *Matcher) Match(word string, vocabulary []string) (term string, score float64, matched bool) {
	input := strings.ToLower(strings.TrimSpace(word))
	tokens := strings.Fields(input)
	if len([]rune(strings.Join(tokens, ""))) < m.minLength || len(vocabulary) == 0 {
		return "", 0, false
	}
	inputCodes := codes(tokens)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, v := range vocabulary {
		candidate := strings.ToLower(strings.TrimSpace(v))
		if candidate == "" {
			continue
		}
		candTokens := strings.Fields(candidate)
		s := similarity(tokens, candTokens)

		if overlaps(inputCodes, codes(candTokens)) {
			if s >= m.phoneticThreshold && (!bestPhonetic || s > bestScore) {
				bestTerm, bestScore, bestPhonetic = v, s, true
			}
			continue
		}
		if !bestPhonetic && s >= m.fuzzyThreshold && s > bestScore {
			bestTerm, bestScore = v, s
		}
	}
	if bestTerm == "" {
		return "", 0, false
	}
	return bestTerm, bestScore, true
}

// codes returns the set of non-empty Double Metaphone codes of tokens and of
// their concatenation, so "cue lex" and "culex" share a code.
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, 2*len(tokens)+2)
	add := func(w string) {
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	for _, t := range tokens {
		add(t)
	}
	if len(tokens) > 1 {
		add(strings.Join(tokens, ""))
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the Jaro-Winkler score of the space-stripped strings. Terms
// are compared whole: a pairwise token score would let "pool" match
// "psorophora".
func similarity(input, term []string) float64 {
	return matchr.JaroWinkler(strings.Join(input, ""), strings.Join(term, ""), false)
}
