// Package classify turns a raw candidate message into the signals the interview
// engine decides on: interest, rejection, fresher status, unemployment, salary
// figures, FAQ topics and product eligibility.
//
// Every detector is a pure function of the message and the configured Vocabulary.
package classify

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary holds every keyword list the detectors use. Lists are matched after
// case folding, so entries should be lower case.
type Vocabulary struct {
	Interest        []string `yaml:"interest"`
	Rejection       []string `yaml:"rejection"`
	Acknowledgement []string `yaml:"acknowledgement"`
	Fresher         []string `yaml:"fresher"`
	SalaryKeywords  []string `yaml:"salary_keywords"`
	Products        []string `yaml:"products"`

	// InterestRejection is the narrower list consulted at the interest step when
	// the message carried no affirmative keyword.
	InterestRejection []string `yaml:"interest_rejection"`

	// Unemployment entries are regular expressions evaluated against the
	// punctuation-stripped message.
	Unemployment []string `yaml:"unemployment"`

	// FAQSynonyms adds match variants for well-known FAQ keys.
	FAQSynonyms map[string][]string `yaml:"faq_synonyms"`

	// WholeWords switches keyword containment from raw substring to word boundaries.
	WholeWords bool `yaml:"whole_words"`
}

// DefaultVocabulary returns the stock English and Romanized Hindi vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Interest: []string{
			"yes", "interested", "sure", "okay", "ok", "haan", "ha", "theek hai", "chalega",
			"kyun nahi", "bilkul", "zaroor", "ready", "main hoon", "done", "i am interested",
		},
		Rejection:         []string{"no", "not interested", "nahi", "na", "nope", "not intrested"},
		InterestRejection: []string{"no", "not interested", "nahi", "na", "nope"},
		Acknowledgement: []string{
			"ok", "okay", "fine", "no problem", "understood", "thanks", "thank you",
			"thik hai", "theek hai", "samajh gaya", "shukriya", "dhanyawaad",
		},
		Fresher: []string{
			"fresher", "koi anubhav nahi", "no experience", "0 years", "zero experience", "abhi graduate kiya hai",
		},
		SalaryKeywords: []string{"ctc", "lpa", "package", "salary", "lakhs", "₹", "rs", "pay", "paise"},
		Products: []string{
			"home loan", "housing loan", "hl", "loan against property", "lap", "mortgage loan",
			"ghar ka loan", "home finance", "loan housing",
		},
		Unemployment: []string{
			`\b(?:berozgar|be rozgar|naukri nahi|bina kaam)\b`,
			`\b(?:kaam nahi karta|kaam nahi kar raha|kaam nahi karta hu|kahi kaam nahi karta hu|kahi nahi)\b`,
			`\b(?:no job|not working|currently no job|jobless)\b`,
			`\b(?:main unemployed hoon|main job nahi kar raha|job nahi hai)\b`,
		},
		FAQSynonyms: map[string][]string{
			"ctc":            {"package", "salary", "pay", "ctc kya hai", "kitni salary", "paise", "compensation"},
			"location":       {"branch", "location", "job location", "kahan", "place"},
			"profile":        {"role", "position", "job role", "kya kaam hoga", "kaunsa role"},
			"company":        {"company", "kaunsi company", "organization", "employer"},
			"work from home": {"wfh", "work from home", "remote", "ghar se kaam", "ghar se"},
		},
	}
}

// LoadVocabulary reads a YAML file and overlays it on the defaults. Lists present
// in the file replace the default list; absent lists keep the default.
func LoadVocabulary(path string) (Vocabulary, error) {
	v := DefaultVocabulary()
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("failed to read vocabulary file %s: %w", path, err)
	}
	var override Vocabulary
	if err := yaml.Unmarshal(data, &override); err != nil {
		return v, fmt.Errorf("failed to parse vocabulary file %s: %w", path, err)
	}
	merge := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = lowerAll(src)
		}
	}
	merge(&v.Interest, override.Interest)
	merge(&v.Rejection, override.Rejection)
	merge(&v.InterestRejection, override.InterestRejection)
	merge(&v.Acknowledgement, override.Acknowledgement)
	merge(&v.Fresher, override.Fresher)
	merge(&v.SalaryKeywords, override.SalaryKeywords)
	merge(&v.Products, override.Products)
	if len(override.Unemployment) > 0 {
		v.Unemployment = override.Unemployment
	}
	for key, syns := range override.FAQSynonyms {
		v.FAQSynonyms[strings.ToLower(key)] = lowerAll(syns)
	}
	v.WholeWords = override.WholeWords
	slog.Debug("Vocabulary loaded", "path", path, "whole_words", v.WholeWords, "faq_synonym_keys", len(v.FAQSynonyms))
	return v, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
