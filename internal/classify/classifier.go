package classify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// Default thresholds on the 0-100 similarity scale and the salary ceiling.
const (
	DefaultGateThreshold = 80
	DefaultFAQThreshold  = 90
	// DefaultCTCLimitLPA is the ceiling, in lakhs per annum, at or above which a
	// candidate is disqualified.
	DefaultCTCLimitLPA = 6.0
)

// Thresholds are the tunable cut-offs used by the fuzzy matchers and the CTC check.
// A similarity must be strictly greater than the threshold to count as a match.
type Thresholds struct {
	Gate        int
	FAQ         int
	CTCLimitLPA float64
}

// DefaultThresholds returns the stock cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Gate: DefaultGateThreshold, FAQ: DefaultFAQThreshold, CTCLimitLPA: DefaultCTCLimitLPA}
}

var (
	// ctcAmountRegex finds a number optionally followed by a unit marker.
	ctcAmountRegex = regexp.MustCompile(`(\d+\.?\d*)\s*(lpa|l|lakhs|k|₹|rs|inr)?`)
	// punctuationRegex strips everything that is not a letter, digit, underscore or space.
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// thousandUnit is the only marker that rescales a figure (thousands -> lakhs).
const thousandUnit = "k"

// keywordSet matches a fixed list of keywords by containment.
type keywordSet struct {
	words   []string
	pattern *regexp.Regexp // set in whole-word mode
}

func newKeywordSet(words []string, wholeWords bool) keywordSet {
	ks := keywordSet{words: lowerAll(words)}
	if wholeWords && len(ks.words) > 0 {
		quoted := make([]string, len(ks.words))
		for i, w := range ks.words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		ks.pattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:$|[^\p{L}\p{N}])`)
	}
	return ks
}

// match expects already case-folded text.
func (k keywordSet) match(text string) bool {
	if k.pattern != nil {
		return k.pattern.MatchString(text)
	}
	for _, w := range k.words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Classifier evaluates the detectors for one configured vocabulary.
type Classifier struct {
	thresholds        Thresholds
	interest          keywordSet
	rejection         keywordSet
	interestRejection keywordSet
	acknowledgement   keywordSet
	fresher           keywordSet
	salary            keywordSet
	products          keywordSet
	unemployment      []*regexp.Regexp
	faqSynonyms       map[string][]string
}

// New compiles a Classifier. It fails only when an unemployment pattern is not a
// valid regular expression.
func New(v Vocabulary, t Thresholds) (*Classifier, error) {
	c := &Classifier{
		thresholds:        t,
		interest:          newKeywordSet(v.Interest, v.WholeWords),
		rejection:         newKeywordSet(v.Rejection, v.WholeWords),
		interestRejection: newKeywordSet(v.InterestRejection, v.WholeWords),
		acknowledgement:   newKeywordSet(v.Acknowledgement, v.WholeWords),
		fresher:           newKeywordSet(v.Fresher, v.WholeWords),
		salary:            newKeywordSet(v.SalaryKeywords, false),
		products:          newKeywordSet(v.Products, v.WholeWords),
		faqSynonyms:       make(map[string][]string, len(v.FAQSynonyms)),
	}
	for _, p := range v.Unemployment {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid unemployment pattern %q: %w", p, err)
		}
		c.unemployment = append(c.unemployment, re)
	}
	for key, syns := range v.FAQSynonyms {
		c.faqSynonyms[strings.ToLower(key)] = lowerAll(syns)
	}
	slog.Debug("Classifier compiled",
		"gate_threshold", t.Gate, "faq_threshold", t.FAQ, "ctc_limit_lpa", t.CTCLimitLPA,
		"whole_words", v.WholeWords, "unemployment_patterns", len(c.unemployment))
	return c, nil
}

// Thresholds returns the configured cut-offs.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

func fold(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// StripPunctuation case-folds the message and removes punctuation.
func StripPunctuation(message string) string {
	return punctuationRegex.ReplaceAllString(fold(message), "")
}

// IsRejection reports negative intent ("not interested", "nahi", ...).
func (c *Classifier) IsRejection(message string) bool {
	return c.rejection.match(fold(message))
}

// IsInterestRejection is the interest-step variant of IsRejection.
func (c *Classifier) IsInterestRejection(message string) bool {
	return c.interestRejection.match(fold(message))
}

// IsFresher reports that the candidate has no work experience.
func (c *Classifier) IsFresher(message string) bool {
	return c.fresher.match(fold(message))
}

// IsInterested reports an affirmative answer.
func (c *Classifier) IsInterested(message string) bool {
	return c.interest.match(fold(message))
}

// IsAcknowledgement reports that a disqualified candidate accepted the outcome.
func (c *Classifier) IsAcknowledgement(message string) bool {
	return c.acknowledgement.match(fold(message))
}

// IsUnemployed reports "I currently have no job" in any of the configured phrasings.
func (c *Classifier) IsUnemployed(message string) bool {
	clean := StripPunctuation(message)
	for _, re := range c.unemployment {
		if re.MatchString(clean) {
			return true
		}
	}
	return false
}

// IsEligibleProduct reports that the message names an accepted product line.
func (c *Classifier) IsEligibleProduct(message string) bool {
	return c.products.match(fold(message))
}

// CTCFigure is the result of scanning a message for a salary figure.
type CTCFigure struct {
	// Detected is true when the message has both a number and a salary keyword.
	Detected bool
	// Valid is true when the first number parsed; Value is then in lakhs per annum.
	Valid bool
	Value float64
	Raw   string
	Unit  string
}

// ExceedsLimit reports a parsed figure at or above the ceiling.
func (f CTCFigure) ExceedsLimit(limit float64) bool {
	return f.Detected && f.Valid && f.Value >= limit
}

// DetectCTC looks for a salary figure. Only the first number is considered; a
// thousand-scale marker ("650k") is divided by 100 to give lakhs. Other unit
// markers leave the number unchanged.
func (c *Classifier) DetectCTC(message string) CTCFigure {
	text := fold(message)
	match := ctcAmountRegex.FindStringSubmatch(text)
	if match == nil || !c.salary.match(text) {
		return CTCFigure{}
	}
	fig := CTCFigure{Detected: true, Raw: match[1], Unit: match[2]}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		slog.Debug("Classifier DetectCTC unparseable figure", "raw", match[1], "error", err)
		return fig
	}
	if fig.Unit == thousandUnit {
		value = value / 100
	}
	fig.Valid = true
	fig.Value = value
	return fig
}

// CTCLimit returns the configured ceiling in lakhs per annum.
func (c *Classifier) CTCLimit() float64 {
	return c.thresholds.CTCLimitLPA
}

// MatchFAQ returns the first FAQ key, in table order, whose name or synonyms
// fuzzily match the message above the FAQ threshold.
func (c *Classifier) MatchFAQ(message string, faq []models.FAQEntry) (string, bool) {
	text := strings.ToLower(message)
	for _, entry := range faq {
		key := strings.ToLower(entry.Key)
		variants := append([]string{key}, c.faqSynonyms[key]...)
		for _, v := range variants {
			if PartialRatio(text, v) > c.thresholds.FAQ {
				return entry.Key, true
			}
		}
	}
	return "", false
}

// MatchGate reports whether the message satisfies a step's match gate. A step
// without a gate always passes.
func (c *Classifier) MatchGate(message string, step models.StepDefinition) bool {
	variants := step.MatchVariants()
	if len(variants) == 0 {
		return true
	}
	text := strings.ToLower(message)
	for _, v := range variants {
		if PartialRatio(text, strings.ToLower(v)) > c.thresholds.Gate {
			return true
		}
	}
	return false
}
