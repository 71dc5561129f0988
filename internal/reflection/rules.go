package reflection

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/krunaln/macrs-ecom-recommender/internal/models"
)

var (
	priceMaxRe = regexp.MustCompile(`\b(?:under|below|less than|cheaper than|up to|max(?:imum)?|at most|within|no more than|not more than|no higher than|not over|not above)\s*(?:\$|usd\s*)?(\d+(?:\.\d+)?)`)
	priceMinRe = regexp.MustCompile(`\b(?:over|above|more than|at least|min(?:imum)?)\s*(?:\$|usd\s*)?(\d+(?:\.\d+)?)`)
	betweenRe  = regexp.MustCompile(`\bbetween\s*\$?(\d+(?:\.\d+)?)\s*(?:and|-|to)\s*\$?(\d+(?:\.\d+)?)`)
	brandRe    = regexp.MustCompile(`\b(brand|from|by)\s+([a-z][a-z0-9&'-]*)`)
	wordRe     = regexp.MustCompile(`^\s+([a-z][a-z0-9&'-]*)`)
)

var rejectionCues = []string{"not", "no", "don't", "dont", "hate", "none", "nothing", "dislike", "doesn't", "won't"}

var positiveCues = []string{"thanks", "great", "love", "perfect", "like it", "sounds good"}

// negationCues void a brand or category mentioned later in the same clause.
var negationCues = []string{
	"not", "no", "don't", "dont", "never", "except", "anything but", "without",
	"avoid", "hate", "dislike", "other than", "rather than", "instead of",
}

// priceNegations directly before a bound void it.
var priceNegations = map[string]struct{}{"no": {}, "not": {}, "never": {}}

var brandStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "my": {}, "your": {}, "our": {}, "their": {}, "this": {}, "that": {},
	"is": {}, "me": {}, "you": {}, "it": {}, "any": {}, "some": {}, "name": {}, "new": {},
}

// DefaultCategories is the category vocabulary recognised by RuleExtractor.
var DefaultCategories = []string{
	"shoes", "sneakers", "boots", "sandals", "shirts", "t-shirts", "dresses", "jackets",
	"jeans", "bags", "backpacks", "watches", "headphones", "laptops", "phones",
	"cameras", "furniture", "lamps", "toys", "books",
}

// DefaultBrands are single-word brand names accepted after "from" or "by"
// without a following product noun.
var DefaultBrands = []string{
	"nike", "adidas", "puma", "reebok", "asics", "converse", "vans", "levi's", "zara",
	"apple", "samsung", "sony", "bose", "canon", "nikon", "dell", "lenovo", "ikea",
	"lego", "casio", "seiko", "timex", "patagonia",
}

// RuleExtractor extracts budget, brand and category preferences with
// patterns. Anything it cannot anchor to literal text is ignored, as is
// anything the user negates.
type RuleExtractor struct {
	categories []string
	brands     map[string]struct{}
}

// RuleExtractorOption configures a RuleExtractor.
type RuleExtractorOption func(*RuleExtractor)

// WithKnownBrands replaces the brand vocabulary. Names are matched case
// insensitively.
func WithKnownBrands(brands ...string) RuleExtractorOption {
	return func(r *RuleExtractor) {
		r.brands = make(map[string]struct{}, len(brands))
		for _, b := range brands {
			r.brands[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
		}
	}
}

// NewRuleExtractor creates an extractor recognising the given categories.
// A nil list uses DefaultCategories.
func NewRuleExtractor(categories []string, opts ...RuleExtractorOption) *RuleExtractor {
	if categories == nil {
		categories = DefaultCategories
	}
	r := &RuleExtractor{categories: categories}
	WithKnownBrands(DefaultBrands...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Extract implements PreferenceExtractor.
func (r *RuleExtractor) Extract(_ context.Context, _ models.Snapshot, utterance string) (Extraction, error) {
	text := strings.ToLower(utterance)
	prefs := make(map[string]any)
	var mentions []string

	if m := firstUnnegated(betweenRe, text); m != nil {
		prefs["price_min"] = parseNumber(text[m[2]:m[3]])
		prefs["price_max"] = parseNumber(text[m[4]:m[5]])
	} else {
		if m := firstUnnegated(priceMaxRe, text); m != nil {
			prefs["price_max"] = parseNumber(text[m[2]:m[3]])
		}
		if m := firstUnnegated(priceMinRe, text); m != nil {
			prefs["price_min"] = parseNumber(text[m[2]:m[3]])
		}
	}
	if brand := r.brand(text); brand != "" {
		prefs["brand"] = brand
		mentions = append(mentions, brand)
	}
	for _, category := range r.categories {
		found := ""
		switch singular := strings.TrimSuffix(category, "s"); {
		case statedWord(text, category):
			found = category
		case singular != category && statedWord(text, singular):
			found = singular
		}
		if found == "" {
			continue
		}
		if _, ok := prefs["category"]; !ok {
			prefs["category"] = found
		}
		mentions = append(mentions, found)
	}
	return Extraction{Preferences: prefs, Mentions: mentions}, nil
}

// brand returns the first brand the user asks for. "brand X" always names a
// brand; "from X" and "by X" only do when X is a known brand or is followed
// by a product noun, so "by friday" and "from canada" are ignored.
func (r *RuleExtractor) brand(text string) string {
	for _, m := range brandRe.FindAllStringSubmatchIndex(text, -1) {
		trigger, name := text[m[2]:m[3]], strings.TrimRight(text[m[4]:m[5]], "'-&")
		if _, stop := brandStopwords[name]; stop || name == "" {
			continue
		}
		if negatedClause(text, m[0]) {
			continue
		}
		if trigger == "brand" {
			return name
		}
		if _, known := r.brands[name]; known {
			return name
		}
		if next := wordRe.FindStringSubmatch(text[m[1]:]); next != nil && r.isProductNoun(next[1]) {
			return name
		}
	}
	return ""
}

func (r *RuleExtractor) isProductNoun(word string) bool {
	for _, category := range r.categories {
		if word == category || word == strings.TrimSuffix(category, "s") {
			return true
		}
	}
	return false
}

// firstUnnegated returns the submatch indexes of the first match of re that
// is not directly preceded by a negation.
func firstUnnegated(re *regexp.Regexp, text string) []int {
	for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
		if !negatedPrice(text, m[0]) {
			return m
		}
	}
	return nil
}

func negatedPrice(text string, start int) bool {
	fields := strings.Fields(text[:start])
	if len(fields) == 0 {
		return false
	}
	_, ok := priceNegations[strings.Trim(fields[len(fields)-1], ",.;:!?")]
	return ok
}

// negatedClause reports whether a negation cue precedes start within its
// clause.
func negatedClause(text string, start int) bool {
	clause := text[:start]
	if i := strings.LastIndexAny(clause, ",.;:!?"); i >= 0 {
		clause = clause[i+1:]
	}
	return containsAny(clause, negationCues)
}

// statedWord reports whether phrase occurs in text outside a negated clause.
func statedWord(text, phrase string) bool {
	for i := 0; ; {
		j := wordIndex(text[i:], phrase)
		if j < 0 {
			return false
		}
		if !negatedClause(text, i+j) {
			return true
		}
		i += j + len(phrase)
	}
}

func parseNumber(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// RuleDetector treats a reply with rejection cues and no positive cues as a
// failed recommendation.
type RuleDetector struct{}

// DetectFailure implements FailureDetector.
func (RuleDetector) DetectFailure(_ context.Context, _ models.Selection, reply string) (bool, error) {
	text := strings.ToLower(reply)
	if containsAny(text, positiveCues) {
		return false, nil
	}
	return containsAny(text, rejectionCues), nil
}

// RuleAdvisor suggests the recommend agent move away from rejected products.
// It leaves the other agents' suggestions untouched.
type RuleAdvisor struct{}

// Advise implements StrategyAdvisor.
func (RuleAdvisor) Advise(_ context.Context, _ models.Snapshot, prior models.Selection, reply string) (Advice, error) {
	titles := make([]string, 0, len(prior.Option.Products))
	for _, p := range prior.Option.Products {
		titles = append(titles, p.Title)
	}
	suggestion := "The user rejected the last recommendation; search with different terms or filters before recommending again."
	if len(titles) > 0 {
		suggestion = fmt.Sprintf("The user rejected %s; propose different products or narrow the search before recommending again.",
			strings.Join(titles, ", "))
	}
	return Advice{
		Suggestions:          map[models.AgentName]string{models.AgentRecommend: suggestion},
		CorrectiveExperience: CorrectiveNote(prior, reply),
	}, nil
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if containsWord(text, cue) {
			return true
		}
	}
	return false
}

// containsWord reports whether phrase occurs in text on word boundaries.
func containsWord(text, phrase string) bool {
	return wordIndex(text, phrase) >= 0
}

// wordIndex returns the offset of the first occurrence of phrase in text on
// word boundaries, or -1.
func wordIndex(text, phrase string) int {
	if phrase == "" {
		return -1
	}
	for i := 0; ; {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return -1
		}
		start := i + j
		end := start + len(phrase)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return start
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '\'' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
