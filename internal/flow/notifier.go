package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// Notifier delivers the completed-interview summary to the recruiter.
type Notifier interface {
	Notify(ctx context.Context, to, message string) error
}

// FormatSummary renders the collected answers in collection order.
func FormatSummary(sender string, answers []models.Answer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Info collected from %s:\n", sender)
	for i, a := range answers {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", a.Step, a.Text)
	}
	return b.String()
}

func notifierName(n Notifier) string {
	if named, ok := n.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", n)
}

// dispatch sends the summary in the background. Failures are logged and
// counted; the candidate's reply never waits on them.
func (e *Engine) dispatch(sender, summary string) {
	if e.notifier == nil {
		slog.Debug("Engine dispatch skipped, no notifier", "sender", sender)
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, e.adminID, summary); err != nil {
			slog.Warn("Engine dispatch notify failed", "sender", sender, "admin", e.adminID, "error", err)
			e.metrics.NotifyFailed(notifierName(e.notifier))
			return
		}
		slog.Info("Engine dispatch notified admin", "sender", sender, "admin", e.adminID)
	}()
}
