// Package models defines the core data structures for ScreenPipe.
//
// It includes the interview step and FAQ definitions, the per-sender conversation
// state, inbound message envelopes, and the JSON envelopes returned by the API.
package models

import (
	"errors"
	"strings"
)

// Validation constants for inbound messages
const (
	// MaxMessageLength defines the maximum accepted length of a candidate message
	MaxMessageLength = 4096
	// MaxSenderLength defines the maximum accepted length of a sender identity
	MaxSenderLength = 128
)

// Error variables for better error handling and testability
var (
	ErrEmptySender     = errors.New("sender cannot be empty")
	ErrSenderTooLong   = errors.New("sender exceeds maximum length")
	ErrMessageTooLong  = errors.New("message exceeds maximum length")
	ErrEmptyStepID     = errors.New("step id cannot be empty")
	ErrEmptyFAQKey     = errors.New("faq key cannot be empty")
	ErrEmptyFAQAnswer  = errors.New("faq response cannot be empty")
	ErrEmptyStepPrompt = errors.New("step prompt cannot be empty")
)

// Response represents an incoming message from a candidate.
type Response struct {
	ID   string `json:"id,omitempty"` // transport message id, used for deduplication
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// AskRequest is the payload accepted by the /ask endpoint.
type AskRequest struct {
	ID      string `json:"id,omitempty"` // optional relay message id; repeated ids are ignored
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Validate checks the request and trims surrounding whitespace from the message.
func (r *AskRequest) Validate() error {
	r.Sender = strings.TrimSpace(r.Sender)
	r.Message = strings.TrimSpace(r.Message)
	if r.Sender == "" {
		return ErrEmptySender
	}
	if len(r.Sender) > MaxSenderLength {
		return ErrSenderTooLong
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// AskResponse is returned by the /ask endpoint. Reply is nil for silent outcomes
// and carries CompletionMarker once the interview is complete.
type AskResponse struct {
	Reply     *string `json:"reply"`
	Completed bool    `json:"completed,omitempty"`
}

// NewAskResponse converts an engine reply into the relay wire format.
func NewAskResponse(r Reply) AskResponse {
	switch r.Kind {
	case ReplyText:
		text := r.Text
		return AskResponse{Reply: &text}
	case ReplyCompleted:
		marker := CompletionMarker
		return AskResponse{Reply: &marker, Completed: true}
	default:
		return AskResponse{}
	}
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
