package models

import "strings"

// StepID identifies one question in the interview sequence.
type StepID string

// Steps with dedicated branching behavior. Any other id present in the catalog
// is an ordinary question that only records its answer and advances.
const (
	StepInterest    StepID = "interest"
	StepCompany     StepID = "company"
	StepPrevCompany StepID = "prev_company"
	StepNotice      StepID = "notice"
	StepProduct     StepID = "product"
	StepCTC         StepID = "ctc"
)

// StepDefinition is one row of the step catalog.
type StepDefinition struct {
	ID     StepID `json:"step" yaml:"step"`
	Prompt string `json:"ask" yaml:"ask"`
	// Match is an optional pipe-delimited list of keyword variants gating the interest step.
	Match string `json:"match,omitempty" yaml:"match,omitempty"`
}

// Validate checks the definition for required fields.
func (d StepDefinition) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return ErrEmptyStepID
	}
	if strings.TrimSpace(d.Prompt) == "" {
		return ErrEmptyStepPrompt
	}
	return nil
}

// MatchVariants splits the match gate into its non-empty keyword variants.
func (d StepDefinition) MatchVariants() []string {
	if strings.TrimSpace(d.Match) == "" {
		return nil
	}
	var variants []string
	for _, v := range strings.Split(d.Match, "|") {
		if v = strings.TrimSpace(v); v != "" {
			variants = append(variants, v)
		}
	}
	return variants
}

// FAQEntry is a canned answer for a topic a candidate may ask about mid-interview.
type FAQEntry struct {
	Key      string `json:"key" yaml:"key"`
	Response string `json:"response" yaml:"response"`
}

// Validate checks the entry for required fields.
func (e FAQEntry) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return ErrEmptyFAQKey
	}
	if strings.TrimSpace(e.Response) == "" {
		return ErrEmptyFAQAnswer
	}
	return nil
}
