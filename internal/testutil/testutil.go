// Package testutil provides common test utilities and helpers for ScreenPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/catalog"
	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/flow"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

// TestingT is the subset of testing.T used by the assertion helpers.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Steps returns a short interview that exercises every step-specific rule.
func Steps() []models.StepDefinition {
	return []models.StepDefinition{
		{ID: models.StepInterest, Prompt: "Are you interested in this opportunity?", Match: "yes|interested|haan|ok|sure"},
		{ID: "name", Prompt: "Great! May I know your full name?"},
		{ID: models.StepCompany, Prompt: "Thanks {name}. Which company are you currently working with?"},
		{ID: models.StepPrevCompany, Prompt: "Which company did you work with previously?"},
		{ID: models.StepProduct, Prompt: "Which product are you currently handling?"},
		{ID: models.StepCTC, Prompt: "What is your current CTC?"},
	}
}

// FAQ returns a small FAQ table.
func FAQ() []models.FAQEntry {
	return []models.FAQEntry{
		{Key: "ctc", Response: "The CTC for this role is up to 6 LPA plus incentives."},
		{Key: "location", Response: "Openings are available in Mumbai and Pune."},
	}
}

// NewTestEngine builds an engine over Steps and FAQ backed by an in-memory store.
// The engine is closed when the test ends.
func NewTestEngine(t *testing.T, opts ...flow.Option) (*flow.Engine, *store.InMemoryStore) {
	t.Helper()
	cat, err := catalog.New(Steps())
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	faq, err := catalog.NewFAQTable(FAQ())
	if err != nil {
		t.Fatalf("failed to build faq table: %v", err)
	}
	cls, err := classify.New(classify.DefaultVocabulary(), classify.DefaultThresholds())
	if err != nil {
		t.Fatalf("failed to build classifier: %v", err)
	}
	st := store.NewInMemoryStore()
	opts = append([]flow.Option{flow.WithTranscript(st)}, opts...)
	engine, err := flow.New(cat, faq, cls, st, opts...)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// DecodeAskResponse decodes an /ask reply body.
func DecodeAskResponse(t TestingT, rr *httptest.ResponseRecorder) models.AskResponse {
	t.Helper()
	var resp models.AskResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode ask response: %v", err)
	}
	return resp
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}
