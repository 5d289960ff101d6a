package flow

import "strconv"

// Fixed replies sent to candidates.
const (
	ReplyRejected           = "Ok, No Problem"
	ReplyFresher            = "Sorry, currently we require candidates with experience."
	ReplyAcknowledged       = "Thanks for understanding 🙏"
	ReplyPrevCompanyNudge   = "Please mention your previous company name."
	ReplyUnsupportedProduct = "Sorry, currently we are only hiring for HL, LAP, Mortgage Loan profiles. We will get back to you if there's a fit in future."
	// PromptPreviousProduct replaces the catalog prompt of the product step
	// for candidates who are not currently employed.
	PromptPreviousProduct = "Ok, Which product were you handling previously?"
)

// CTCCeilingReply tells the candidate the configured CTC ceiling, e.g.
// "Sorry, our maximum CTC range is up to 6 LPA only."
func CTCCeilingReply(limitLPA float64) string {
	return "Sorry, our maximum CTC range is up to " + strconv.FormatFloat(limitLPA, 'f', -1, 64) + " LPA only."
}

// Disqualification reasons used in logs and metrics.
const (
	ReasonRejected = "rejected"
	ReasonFresher  = "fresher"
	ReasonCTC      = "ctc"
	ReasonProduct  = "product"
)
