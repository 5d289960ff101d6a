package models

import "time"

// Flag is a named boolean attribute of a conversation. Absence means false.
type Flag string

const (
	FlagBlocked      Flag = "blocked"
	FlagAcknowledged Flag = "acknowledged"
	FlagUnemployed   Flag = "unemployed"
)

// Answer is the raw text a candidate gave for a step.
type Answer struct {
	Step StepID `json:"step"`
	Text string `json:"text"`
}

// ConversationState is the interview progress of one sender.
type ConversationState struct {
	Sender      string        `json:"sender"`
	CurrentStep StepID        `json:"current_step"`
	Answers     []Answer      `json:"answers,omitempty"` // in collection order
	Flags       map[Flag]bool `json:"flags,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewConversationState returns the default state for a sender seen for the first time.
func NewConversationState(sender string, initial StepID) *ConversationState {
	now := time.Now()
	return &ConversationState{
		Sender:      sender,
		CurrentStep: initial,
		Flags:       make(map[Flag]bool),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Flag reports whether the flag is set.
func (s *ConversationState) Flag(f Flag) bool {
	return s.Flags[f]
}

// SetFlag sets or clears a flag.
func (s *ConversationState) SetFlag(f Flag, v bool) {
	if s.Flags == nil {
		s.Flags = make(map[Flag]bool)
	}
	s.Flags[f] = v
}

// Block freezes the conversation. A disqualified sender still owes an acknowledgement;
// a sender who declined does not.
func (s *ConversationState) Block(acknowledged bool) {
	s.SetFlag(FlagBlocked, true)
	s.SetFlag(FlagAcknowledged, acknowledged)
}

// Answer returns the recorded answer for a step.
func (s *ConversationState) Answer(step StepID) (string, bool) {
	for _, a := range s.Answers {
		if a.Step == step {
			return a.Text, true
		}
	}
	return "", false
}

// SetAnswer records an answer. Re-answering a step replaces the text in place and
// keeps its original position.
func (s *ConversationState) SetAnswer(step StepID, text string) {
	for i := range s.Answers {
		if s.Answers[i].Step == step {
			s.Answers[i].Text = text
			return
		}
	}
	s.Answers = append(s.Answers, Answer{Step: step, Text: text})
}

// AnswerMap returns the answers keyed by step id.
func (s *ConversationState) AnswerMap() map[StepID]string {
	m := make(map[StepID]string, len(s.Answers))
	for _, a := range s.Answers {
		m[a.Step] = a.Text
	}
	return m
}

// Clone returns a deep copy so callers can mutate without touching stored data.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.Answers = append([]Answer(nil), s.Answers...)
	c.Flags = make(map[Flag]bool, len(s.Flags))
	for k, v := range s.Flags {
		c.Flags[k] = v
	}
	return &c
}

// TranscriptEntry is one line of the per-sender chat log.
type TranscriptEntry struct {
	Sender  string    `json:"sender"`
	Time    time.Time `json:"time"`
	Step    StepID    `json:"step"`
	Message string    `json:"message"`
}
