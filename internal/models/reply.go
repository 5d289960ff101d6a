package models

// CompletionMarker is the reply text the relay recognizes as "interview finished".
const CompletionMarker = "__COMPLETE__"

// ReplyKind distinguishes the three outcomes of processing a message.
type ReplyKind int

const (
	// ReplySilent means nothing is sent back.
	ReplySilent ReplyKind = iota
	// ReplyText carries a prompt, FAQ answer, or disqualification notice.
	ReplyText
	// ReplyCompleted signals the last step was answered.
	ReplyCompleted
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyText:
		return "text"
	case ReplyCompleted:
		return "completed"
	default:
		return "silent"
	}
}

// Reply is the outcome of one processed message.
type Reply struct {
	Kind ReplyKind
	Text string
}

// TextReply builds a text reply.
func TextReply(text string) Reply { return Reply{Kind: ReplyText, Text: text} }

// SilentReply builds a reply that sends nothing.
func SilentReply() Reply { return Reply{Kind: ReplySilent} }

// CompletedReply builds the completion outcome.
func CompletedReply() Reply { return Reply{Kind: ReplyCompleted} }
