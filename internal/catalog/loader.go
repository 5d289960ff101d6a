package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// LoadSteps reads the step catalog from a CSV file with a step,ask,match header
// or from a YAML file with a top-level "steps" list.
func LoadSteps(path string) (*Catalog, error) {
	slog.Debug("Loading step catalog", "path", path)
	var steps []models.StepDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc struct {
			Steps []models.StepDefinition `yaml:"steps"`
		}
		if err := readYAML(path, &doc); err != nil {
			return nil, err
		}
		steps = doc.Steps
	default:
		rows, err := readCSV(path, "step", "ask")
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			steps = append(steps, models.StepDefinition{
				ID:     models.StepID(r["step"]),
				Prompt: r["ask"],
				Match:  r["match"],
			})
		}
	}
	c, err := New(steps)
	if err != nil {
		return nil, fmt.Errorf("invalid step catalog %s: %w", path, err)
	}
	slog.Info("Step catalog loaded", "path", path, "steps", c.Len())
	return c, nil
}

// LoadFAQ reads the FAQ table from a CSV file with a key,response header or from
// a YAML file with a top-level "faq" list.
func LoadFAQ(path string) (*FAQTable, error) {
	slog.Debug("Loading FAQ table", "path", path)
	var entries []models.FAQEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc struct {
			FAQ []models.FAQEntry `yaml:"faq"`
		}
		if err := readYAML(path, &doc); err != nil {
			return nil, err
		}
		entries = doc.FAQ
	default:
		rows, err := readCSV(path, "key", "response")
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			entries = append(entries, models.FAQEntry{Key: r["key"], Response: r["response"]})
		}
	}
	t, err := NewFAQTable(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid faq table %s: %w", path, err)
	}
	slog.Info("FAQ table loaded", "path", path, "entries", len(t.Entries()))
	return t, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// readCSV returns one map per data row keyed by the lower-cased header names.
func readCSV(path string, required ...string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", path, name)
		}
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		row := make(map[string]string, len(cols))
		for name, i := range cols {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
