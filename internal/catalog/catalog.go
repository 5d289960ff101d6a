// Package catalog holds the immutable interview definition: the ordered step
// sequence and the FAQ table. Both are loaded once at startup and never mutated.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

var (
	ErrEmptyCatalog       = errors.New("step catalog is empty")
	ErrDuplicateStep      = errors.New("duplicate step id")
	ErrUnknownPlaceholder = errors.New("prompt references a step that is not collected earlier")
	ErrDuplicateFAQKey    = errors.New("duplicate faq key")
)

// placeholderRegex matches {answer_key} placeholders in prompt templates.
var placeholderRegex = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Catalog is the fixed ordered sequence of interview steps.
type Catalog struct {
	steps []models.StepDefinition
	index map[models.StepID]int
}

// New validates the steps and builds a Catalog. Ids must be unique and every
// placeholder must name a step that comes earlier in the sequence.
func New(steps []models.StepDefinition) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		steps: make([]models.StepDefinition, len(steps)),
		index: make(map[models.StepID]int, len(steps)),
	}
	for i, s := range steps {
		s.ID = models.StepID(strings.TrimSpace(string(s.ID)))
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, dup := c.index[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.ID)
		}
		for _, ref := range Placeholders(s.Prompt) {
			pos, ok := c.index[ref]
			if !ok || pos >= i {
				return nil, fmt.Errorf("%w: step %s uses {%s}", ErrUnknownPlaceholder, s.ID, ref)
			}
		}
		c.steps[i] = s
		c.index[s.ID] = i
	}
	slog.Debug("Catalog built", "steps", len(c.steps), "first", c.steps[0].ID)
	return c, nil
}

// First returns the initial step of every new interview.
func (c *Catalog) First() models.StepID {
	return c.steps[0].ID
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	return len(c.steps)
}

// Has reports whether id is part of the sequence.
func (c *Catalog) Has(id models.StepID) bool {
	_, ok := c.index[id]
	return ok
}

// Step returns the definition for id.
func (c *Catalog) Step(id models.StepID) (models.StepDefinition, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.StepDefinition{}, false
	}
	return c.steps[i], true
}

// After returns the steps that follow id, in order. It is empty for the last
// step and for unknown ids.
func (c *Catalog) After(id models.StepID) []models.StepDefinition {
	i, ok := c.index[id]
	if !ok {
		return nil
	}
	return c.steps[i+1:]
}

// Prompt renders the prompt for id against the collected answers.
func (c *Catalog) Prompt(id models.StepID, answers map[models.StepID]string) string {
	step, ok := c.Step(id)
	if !ok {
		slog.Warn("Catalog Prompt unknown step", "step", id)
		return ""
	}
	return Render(step.Prompt, answers)
}

// Placeholders lists the step ids referenced by a prompt template.
func Placeholders(template string) []models.StepID {
	var refs []models.StepID
	for _, m := range placeholderRegex.FindAllStringSubmatch(template, -1) {
		refs = append(refs, models.StepID(m[1]))
	}
	return refs
}

// Render substitutes {step} placeholders with collected answers. A placeholder
// whose answer was never collected renders as empty text and is logged.
func Render(template string, answers map[models.StepID]string) string {
	return placeholderRegex.ReplaceAllStringFunc(template, func(ph string) string {
		key := models.StepID(ph[1 : len(ph)-1])
		if v, ok := answers[key]; ok {
			return v
		}
		slog.Warn("Catalog Render missing answer for placeholder", "placeholder", key)
		return ""
	})
}

// FAQTable maps topic keys to canned answers in insertion order.
type FAQTable struct {
	entries []models.FAQEntry
	byKey   map[string]int
}

// NewFAQTable validates entries and builds the table. Keys are unique case-insensitively.
func NewFAQTable(entries []models.FAQEntry) (*FAQTable, error) {
	t := &FAQTable{byKey: make(map[string]int, len(entries))}
	for i, e := range entries {
		e.Key = strings.TrimSpace(e.Key)
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("faq entry %d: %w", i+1, err)
		}
		folded := strings.ToLower(e.Key)
		if _, dup := t.byKey[folded]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateFAQKey, e.Key)
		}
		t.byKey[folded] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	slog.Debug("FAQ table built", "entries", len(t.entries))
	return t, nil
}

// Entries returns the entries in table order.
func (t *FAQTable) Entries() []models.FAQEntry {
	return t.entries
}

// Response returns the canned answer for key.
func (t *FAQTable) Response(key string) (string, bool) {
	i, ok := t.byKey[strings.ToLower(key)]
	if !ok {
		return "", false
	}
	return t.entries[i].Response, true
}
