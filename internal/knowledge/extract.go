package knowledge

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// VocabularyMatcher resolves a misheard word to a term of a closed
// vocabulary. It is satisfied by *phonetic.Matcher.
type VocabularyMatcher interface {
	Match(word string, vocabulary []string) (term string, score float64, matched bool)
}

// Option configures an [Extractor].
type Option func(*Extractor)

// WithVocabularyMatcher enables fuzzy genus recognition for tokens that match
// no vocabulary entry exactly. Exact matches always take precedence.
func WithVocabularyMatcher(m VocabularyMatcher) Option {
	return func(e *Extractor) { e.matcher = m }
}

// Extractor maps transcript text and keyword tags to a [Graph].
// It is read-only after construction and safe for concurrent use.
type Extractor struct {
	matcher    VocabularyMatcher
	genusTerms []string
}

// NewExtractor returns an Extractor configured with opts.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, g := range Genera {
		e.genusTerms = append(e.genusTerms, string(g))
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var defaultExtractor = NewExtractor()

// Extract runs the default exact-vocabulary extractor.
func Extract(transcript string, tags []types.Tag) Graph {
	return defaultExtractor.Extract(transcript, tags)
}

// Extract scans transcript left to right and then every distinct tag in
// sorted order. When two matches target the same field the later one wins.
// The result depends only on the inputs.
func (e *Extractor) Extract(transcript string, tags []types.Tag) Graph {
	var g Graph
	e.scan(&g, tokenize(transcript))

	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	for _, t := range slices.Compact(sorted) {
		e.scan(&g, tokenize(string(t)))
	}
	return g
}

// scan applies vocabulary rules and quantities. A phrase starting at a noun
// whose count is zero ("no pupae", "0 landings") records only the count: it is
// evidence of absence, not of the stage or activity the noun names.
func (e *Extractor) scan(g *Graph, toks []string) {
	zero := extractQuantities(g, toks)
	for i := 0; i < len(toks); {
		if r, ok := matchRule(toks, i); ok {
			if !zero[i] {
				r.apply(g)
			}
			i += len(r.phrase)
			continue
		}
		if n := e.fuzzyGenus(g, toks, i); n > 0 {
			i += n
			continue
		}
		i++
	}
}

// fuzzyGenus tries the matcher on a two-token window, then on the single
// token at i. It never consumes a token that starts a vocabulary phrase or is
// a number. It returns the number of tokens consumed.
func (e *Extractor) fuzzyGenus(g *Graph, toks []string, i int) int {
	if e.matcher == nil || isNumeric(toks[i]) {
		return 0
	}
	if i+1 < len(toks) && !isVocabulary(toks[i+1]) && !isNumeric(toks[i+1]) {
		if term, _, ok := e.matcher.Match(toks[i]+" "+toks[i+1], e.genusTerms); ok {
			if _, _, single := e.matcher.Match(toks[i], e.genusTerms); !single {
				setGenus(g, Genus(term))
				return 2
			}
		}
	}
	if term, _, ok := e.matcher.Match(toks[i], e.genusTerms); ok {
		setGenus(g, Genus(term))
		return 1
	}
	return 0
}

// tokenize lower-cases s and splits it into runs of letters and digits.
// Apostrophes are dropped ("isn't" becomes "isnt") and a '.' between two
// digits is kept so decimal quantities survive.
func tokenize(s string) []string {
	rs := []rune(strings.ToLower(s))
	var (
		toks []string
		cur  []rune
	)
	flush := func() {
		if len(cur) > 0 {
			toks = append(toks, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur = append(cur, r)
		case r == '\'' || r == '’':
		case r == '.' && len(cur) > 0 && unicode.IsDigit(rs[i-1]) && i+1 < len(rs) && unicode.IsDigit(rs[i+1]):
			cur = append(cur, r)
		default:
			flush()
		}
	}
	flush()
	return toks
}

// ─────────────────────────────────────────────────────────────────────────────
// Quantities
// ─────────────────────────────────────────────────────────────────────────────

type countTarget int

const (
	countDips countTarget = iota + 1
	countLarvae
	countPupae
	countEggs
	countLandings
)

var countNouns = map[string]countTarget{
	"dip": countDips, "dips": countDips,
	"larva": countLarvae, "larvae": countLarvae, "larvas": countLarvae,
	"pupa": countPupae, "pupae": countPupae, "pupas": countPupae,
	"egg": countEggs, "eggs": countEggs, "raft": countEggs, "rafts": countEggs,
	"adult": countLandings, "adults": countLandings,
	"landing": countLandings, "landings": countLandings, "bites": countLandings,
}

var units = map[string]Unit{
	"foot": UnitFeet, "feet": UnitFeet, "ft": UnitFeet,
	"meter": UnitMeters, "meters": UnitMeters, "metre": UnitMeters, "metres": UnitMeters,
	"inch": UnitInches, "inches": UnitInches,
	"gallon": UnitGallons, "gallons": UnitGallons,
}

var numberWords = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20,
	"thirty": 30, "forty": 40, "fifty": 50, "sixty": 60, "seventy": 70,
	"eighty": 80, "ninety": 90, "hundred": 100, "dozen": 12, "none": 0,
}

// countWindow is how many tokens away from a noun a number may be.
const countWindow = 3

type number struct {
	value float64
	ok    bool
	// adjacentOnly marks "no", which is a count only directly before a noun.
	adjacentOnly bool
}

func isNumeric(tok string) bool {
	if _, ok := numberWords[tok]; ok {
		return true
	}
	_, ok := parseDigits(tok)
	return ok
}

// parseDigits parses a token written in digits. Spelled-out values such as
// "inf" or "nan" are not numbers here, and neither is anything out of range.
func parseDigits(tok string) (float64, bool) {
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// parseNumbers returns one entry per token. Tens followed by a unit word
// ("twenty five") collapse into the later position.
func parseNumbers(toks []string) []number {
	nums := make([]number, len(toks))
	for i, t := range toks {
		if v, ok := numberWords[t]; ok {
			nums[i] = number{value: v, ok: true}
			continue
		}
		if t == "no" {
			nums[i] = number{value: 0, ok: true, adjacentOnly: true}
			continue
		}
		if v, ok := parseDigits(t); ok {
			nums[i] = number{value: v, ok: true}
		}
	}
	for i := 1; i < len(toks); i++ {
		prev, cur := nums[i-1], nums[i]
		if prev.ok && cur.ok && !prev.adjacentOnly && !cur.adjacentOnly &&
			isTens(toks[i-1]) && cur.value > 0 && cur.value < 10 && numberWords[toks[i]] == cur.value {
			nums[i].value += prev.value
			nums[i-1] = number{}
		}
	}
	return nums
}

func isTens(tok string) bool {
	switch tok {
	case "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety":
		return true
	}
	return false
}

// extractQuantities attaches numbers to units (measurements) and then to
// domain nouns (counts). A number serves at most one purpose. For counts a
// number before the noun is preferred over one after it; the search stops at
// another count noun or unit. It reports which tokens are nouns bound to a
// count of zero.
func extractQuantities(g *Graph, toks []string) []bool {
	nums := parseNumbers(toks)
	claimed := make([]bool, len(toks))

	for i := 0; i+1 < len(toks); i++ {
		u, ok := units[toks[i+1]]
		if !ok || !nums[i].ok || nums[i].adjacentOnly {
			continue
		}
		g.Source.Size = &Measurement{Value: nums[i].value, Unit: u}
		claimed[i] = true
	}

	stop := func(j int) bool {
		_, noun := countNouns[toks[j]]
		_, unit := units[toks[j]]
		return noun || unit
	}
	usable := func(j, distance int) bool {
		n := nums[j]
		if !n.ok || claimed[j] || n.value != float64(int(n.value)) {
			return false
		}
		return !n.adjacentOnly || distance == 1
	}

	// Numbers before their noun are bound first, across the whole token
	// stream, so "5 dips 12 larvae" never gives the 12 to the dips. Bound
	// counts are then applied in noun order.
	bound := make([]int, len(toks))
	for i := range bound {
		bound[i] = -1
	}
	bind := func(i, j int) {
		claimed[j], bound[i] = true, j
	}
	for i, tok := range toks {
		if _, ok := countNouns[tok]; !ok {
			continue
		}
		for d := 1; d <= countWindow && i-d >= 0; d++ {
			j := i - d
			if stop(j) {
				break
			}
			if usable(j, d) {
				bind(i, j)
				break
			}
		}
	}
	for i, tok := range toks {
		if _, ok := countNouns[tok]; !ok || bound[i] >= 0 {
			continue
		}
		for d := 1; d <= countWindow && i+d < len(toks); d++ {
			j := i + d
			if stop(j) {
				break
			}
			if usable(j, d) && !nums[j].adjacentOnly {
				bind(i, j)
				break
			}
		}
	}
	zero := make([]bool, len(toks))
	for i, j := range bound {
		if j >= 0 {
			n := int(nums[j].value)
			setCount(g, countNouns[toks[i]], n)
			zero[i] = n == 0
		}
	}
	return zero
}

func setCount(g *Graph, target countTarget, n int) {
	switch target {
	case countDips:
		g.Report.DipCount = &n
	case countLarvae:
		g.Report.LarvaeCount = &n
	case countPupae:
		g.Report.PupaeCount = &n
	case countEggs:
		g.Report.EggCount = &n
	case countLandings:
		g.AdultProduction.LandingCount = &n
	}
}
