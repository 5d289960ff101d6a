package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// rules maps the steps with special handling to their precondition. Steps not
// listed only record the answer and advance.
func (e *Engine) rules() map[models.StepID]guardFunc {
	return map[models.StepID]guardFunc{
		models.StepInterest:    e.ruleInterest,
		models.StepCompany:     e.ruleCompany,
		models.StepPrevCompany: e.rulePrevCompany,
		models.StepProduct:     e.ruleProduct,
	}
}

func (e *Engine) ruleInterest(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if e.classifier.IsInterested(t.message) {
		return models.Reply{}, false, nil
	}
	if e.classifier.IsInterestRejection(t.message) {
		return e.disqualify(ctx, t, ReasonRejected, true, ReplyRejected)
	}
	step, _ := e.catalog.Step(models.StepInterest)
	if !e.classifier.MatchGate(t.message, step) {
		slog.Debug("Engine interest gate not met", "sender", t.sender)
		return models.SilentReply(), true, nil
	}
	return models.Reply{}, false, nil
}

// ruleCompany diverts candidates without a current job to the previous-company step.
func (e *Engine) ruleCompany(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if !e.classifier.IsUnemployed(t.message) {
		return models.Reply{}, false, nil
	}
	t.state.SetFlag(models.FlagUnemployed, true)
	if !e.catalog.Has(models.StepPrevCompany) {
		slog.Debug("Engine unemployed without prev_company step, advancing normally", "sender", t.sender)
		return models.Reply{}, false, nil
	}
	t.state.SetAnswer(models.StepCompany, t.message)
	return e.enter(ctx, t, models.StepCompany, models.StepPrevCompany)
}

func (e *Engine) rulePrevCompany(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if !e.classifier.IsUnemployed(t.message) {
		return models.Reply{}, false, nil
	}
	return models.TextReply(ReplyPrevCompanyNudge), true, nil
}

func (e *Engine) ruleProduct(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if e.classifier.IsEligibleProduct(t.message) {
		return models.Reply{}, false, nil
	}
	return e.disqualify(ctx, t, ReasonProduct, false, ReplyUnsupportedProduct)
}

// recordAndAdvance stores the answer for the current step and moves to the next
// applicable step, or completes the interview when none is left.
func (e *Engine) recordAndAdvance(ctx context.Context, t *turn) (models.Reply, error) {
	answered := t.state.CurrentStep
	t.state.SetAnswer(answered, t.message)
	unemployed := t.state.Flag(models.FlagUnemployed)

	for _, next := range e.catalog.After(answered) {
		if next.ID == models.StepNotice && unemployed {
			continue
		}
		if next.ID == models.StepPrevCompany && !unemployed {
			continue
		}
		reply, _, err := e.enter(ctx, t, answered, next.ID)
		return reply, err
	}
	return e.complete(ctx, t, answered)
}

// enter moves the conversation to step, persists it and logs the answered message.
func (e *Engine) enter(ctx context.Context, t *turn, answered, step models.StepID) (models.Reply, bool, error) {
	prompt := e.promptFor(step, t.state)
	t.state.CurrentStep = step
	if err := e.states.Save(ctx, t.state); err != nil {
		return models.Reply{}, true, err
	}
	e.log(ctx, t, answered)
	e.metrics.Advanced(string(step))
	slog.Info("Engine advanced", "sender", t.sender, "from", answered, "to", step)
	return models.TextReply(prompt), true, nil
}

func (e *Engine) complete(ctx context.Context, t *turn, answered models.StepID) (models.Reply, error) {
	if err := e.states.Delete(ctx, t.sender); err != nil {
		return models.Reply{}, err
	}
	e.dispatch(t.sender, FormatSummary(t.sender, t.state.Answers))
	e.log(ctx, t, answered)
	e.metrics.Completed()
	slog.Info("Engine interview completed", "sender", t.sender, "answers", len(t.state.Answers))
	return models.CompletedReply(), nil
}

// promptFor renders the question for a step against the answers so far.
func (e *Engine) promptFor(step models.StepID, state *models.ConversationState) string {
	if step == models.StepProduct && state.Flag(models.FlagUnemployed) {
		return PromptPreviousProduct
	}
	return e.catalog.Prompt(step, state.AnswerMap())
}

// log appends to the transcript. Failures are logged and otherwise ignored.
func (e *Engine) log(ctx context.Context, t *turn, step models.StepID) {
	if e.transcript == nil {
		return
	}
	entry := models.TranscriptEntry{Sender: t.sender, Time: e.now(), Step: step, Message: t.message}
	if err := e.transcript.AppendTranscript(ctx, entry); err != nil {
		slog.Warn("Engine transcript append failed", "sender", t.sender, "step", step, "error", err)
	}
}
