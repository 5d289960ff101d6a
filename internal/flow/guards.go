package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// turn is one message being processed.
type turn struct {
	sender  string
	message string
	state   *models.ConversationState
	ctc     classify.CTCFigure
}

// guardFunc inspects a turn. When done is true the reply is final and no
// further guard runs.
type guardFunc func(ctx context.Context, t *turn) (reply models.Reply, done bool, err error)

type guard struct {
	name  string
	check guardFunc
}

// pipeline lists the interrupts in precedence order; the first that fires wins.
func (e *Engine) pipeline() []guard {
	return []guard{
		{"rejection", e.guardRejection},
		{"fresher", e.guardFresher},
		{"blocked", e.guardBlocked},
		{"ctc", e.guardCTC},
		{"faq", e.guardFAQ},
		{"step", e.guardStep},
	}
}

func (e *Engine) run(ctx context.Context, t *turn) (models.Reply, error) {
	for _, g := range e.guards {
		reply, done, err := g.check(ctx, t)
		if err != nil {
			return models.Reply{}, err
		}
		if done {
			slog.Debug("Engine guard fired", "guard", g.name, "sender", t.sender, "kind", reply.Kind)
			return reply, nil
		}
	}
	return e.recordAndAdvance(ctx, t)
}

// disqualify freezes the conversation and persists it.
func (e *Engine) disqualify(ctx context.Context, t *turn, reason string, acknowledged bool, text string) (models.Reply, bool, error) {
	t.state.Block(acknowledged)
	if err := e.states.Save(ctx, t.state); err != nil {
		return models.Reply{}, true, err
	}
	slog.Info("Engine disqualified sender", "sender", t.sender, "reason", reason, "step", t.state.CurrentStep)
	e.metrics.Disqualified(reason)
	return models.TextReply(text), true, nil
}

func (e *Engine) guardRejection(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if !e.classifier.IsRejection(t.message) {
		return models.Reply{}, false, nil
	}
	return e.disqualify(ctx, t, ReasonRejected, true, ReplyRejected)
}

func (e *Engine) guardFresher(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if !e.classifier.IsFresher(t.message) {
		return models.Reply{}, false, nil
	}
	return e.disqualify(ctx, t, ReasonFresher, false, ReplyFresher)
}

// guardBlocked keeps a frozen conversation silent, except for the one
// acknowledgement a disqualified candidate may still send.
func (e *Engine) guardBlocked(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if !t.state.Flag(models.FlagBlocked) {
		return models.Reply{}, false, nil
	}
	if !t.state.Flag(models.FlagAcknowledged) && e.classifier.IsAcknowledgement(t.message) {
		t.state.SetFlag(models.FlagAcknowledged, true)
		if err := e.states.Save(ctx, t.state); err != nil {
			return models.Reply{}, true, err
		}
		return models.TextReply(ReplyAcknowledged), true, nil
	}
	return models.SilentReply(), true, nil
}

func (e *Engine) guardCTC(ctx context.Context, t *turn) (models.Reply, bool, error) {
	t.ctc = e.classifier.DetectCTC(t.message)
	if !t.ctc.Detected || !t.ctc.Valid {
		return models.Reply{}, false, nil
	}
	if limit := e.classifier.CTCLimit(); t.ctc.ExceedsLimit(limit) {
		slog.Debug("Engine CTC above ceiling", "sender", t.sender, "lpa", t.ctc.Value, "limit", limit)
		return e.disqualify(ctx, t, ReasonCTC, false, CTCCeilingReply(limit))
	}
	if t.state.CurrentStep == models.StepCTC {
		t.state.SetAnswer(models.StepCTC, t.message)
		if err := e.states.Save(ctx, t.state); err != nil {
			return models.Reply{}, true, err
		}
	}
	return models.Reply{}, false, nil
}

// guardFAQ answers a side question and re-asks the pending step. Messages
// carrying a salary figure are never treated as questions.
func (e *Engine) guardFAQ(ctx context.Context, t *turn) (models.Reply, bool, error) {
	if t.ctc.Detected {
		return models.Reply{}, false, nil
	}
	key, ok := e.classifier.MatchFAQ(t.message, e.faq.Entries())
	if !ok {
		return models.Reply{}, false, nil
	}
	answer, _ := e.faq.Response(key)
	e.metrics.FAQ(key)
	slog.Debug("Engine FAQ matched", "sender", t.sender, "key", key, "step", t.state.CurrentStep)
	return models.TextReply(answer + "\n\n" + e.promptFor(t.state.CurrentStep, t.state)), true, nil
}

func (e *Engine) guardStep(ctx context.Context, t *turn) (models.Reply, bool, error) {
	rule, ok := e.stepRules[t.state.CurrentStep]
	if !ok {
		return models.Reply{}, false, nil
	}
	return rule(ctx, t)
}
