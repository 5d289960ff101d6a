package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/catalog"
	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/metrics"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sender = "919876543210@c.us"

func testSteps() []models.StepDefinition {
	return []models.StepDefinition{
		{ID: models.StepInterest, Prompt: "Are you interested in this opportunity?", Match: "yes|interested|haan|ok|sure"},
		{ID: "name", Prompt: "Great! May I know your full name?"},
		{ID: models.StepCompany, Prompt: "Thanks {name}. Which company are you currently working with?"},
		{ID: models.StepPrevCompany, Prompt: "Which company did you work with previously?"},
		{ID: models.StepNotice, Prompt: "What is your notice period?"},
		{ID: models.StepProduct, Prompt: "Which product are you currently handling?"},
		{ID: models.StepCTC, Prompt: "What is your current CTC?"},
		{ID: "location", Prompt: "Which city are you currently based in?"},
	}
}

func testFAQ() []models.FAQEntry {
	return []models.FAQEntry{
		{Key: "ctc", Response: "The CTC for this role is up to 6 LPA plus incentives."},
		{Key: "location", Response: "Openings are available in Mumbai and Pune."},
		{Key: "profile", Response: "This is a field sales role."},
	}
}

type notification struct {
	to, message string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, to, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{to: to, message: message})
	return n.err
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Calls() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.calls...)
}

type testEnv struct {
	engine   *Engine
	store    *store.InMemoryStore
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, steps []models.StepDefinition, opts ...Option) *testEnv {
	t.Helper()
	cat, err := catalog.New(steps)
	require.NoError(t, err)
	faq, err := catalog.NewFAQTable(testFAQ())
	require.NoError(t, err)
	cls, err := classify.New(classify.DefaultVocabulary(), classify.DefaultThresholds())
	require.NoError(t, err)

	env := &testEnv{
		store:    store.NewInMemoryStore(),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	all := append([]Option{
		WithNotifier(env.notifier),
		WithTranscript(env.store),
		WithMetrics(env.metrics),
		WithAdminID("admin@c.us"),
	}, opts...)
	env.engine, err = New(cat, faq, cls, env.store, all...)
	require.NoError(t, err)
	t.Cleanup(func() { env.engine.Close() })
	return env
}

func (env *testEnv) send(t *testing.T, message string) models.Reply {
	t.Helper()
	reply, err := env.engine.Process(context.Background(), sender, message)
	require.NoError(t, err)
	return reply
}

func (env *testEnv) state(t *testing.T) *models.ConversationState {
	t.Helper()
	st, err := env.store.GetState(context.Background(), sender)
	require.NoError(t, err)
	return st
}

// walk sends messages and requires each to produce a text reply.
func (env *testEnv) walk(t *testing.T, messages ...string) {
	t.Helper()
	for _, m := range messages {
		r := env.send(t, m)
		require.Equal(t, models.ReplyText, r.Kind, "message %q", m)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestFirstInterestedMessageAdvancesToSecondStep(t *testing.T) {
	env := newTestEnv(t, testSteps())

	reply := env.send(t, "yes")
	assert.Equal(t, models.TextReply("Great! May I know your full name?"), reply)
	assert.Equal(t, models.StepID("name"), env.state(t).CurrentStep)
}

func TestPromptRendersEarlierAnswers(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes")

	reply := env.send(t, "Rahul")
	assert.Equal(t, "Thanks Rahul. Which company are you currently working with?", reply.Text)
	assert.Equal(t, models.StepCompany, env.state(t).CurrentStep)
}

func TestEmployedCandidateSkipsPreviousCompany(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul")

	reply := env.send(t, "HDFC Bank")
	assert.Equal(t, "What is your notice period?", reply.Text)
	assert.Equal(t, models.StepNotice, env.state(t).CurrentStep)
}

func TestInterestGate(t *testing.T) {
	t.Run("unmatched message is ignored", func(t *testing.T) {
		env := newTestEnv(t, testSteps())
		reply := env.send(t, "hello there")
		assert.Equal(t, models.ReplySilent, reply.Kind)
		st := env.state(t)
		assert.Nil(t, st, "a gated message must not create state")
	})
	t.Run("fuzzy match passes", func(t *testing.T) {
		env := newTestEnv(t, testSteps())
		reply := env.send(t, "intrested")
		assert.Equal(t, models.ReplyText, reply.Kind)
		assert.Equal(t, models.StepID("name"), env.state(t).CurrentStep)
	})
}

func TestRejectionFromAnyStep(t *testing.T) {
	for _, msg := range []string{"not interested", "nahi", "nope"} {
		t.Run(msg, func(t *testing.T) {
			env := newTestEnv(t, testSteps())
			env.walk(t, "yes", "Rahul")

			reply := env.send(t, msg)
			assert.Equal(t, models.TextReply(ReplyRejected), reply)
			st := env.state(t)
			assert.True(t, st.Flag(models.FlagBlocked))
			assert.True(t, st.Flag(models.FlagAcknowledged))
			assert.Equal(t, models.StepCompany, st.CurrentStep)

			// Repeating the rejection gives the same outcome.
			reply = env.send(t, msg)
			assert.Equal(t, models.TextReply(ReplyRejected), reply)
			assert.True(t, env.state(t).Flag(models.FlagAcknowledged))
		})
	}
}

// Rejection keywords match as raw substrings by default, so a company name
// containing "na" ends the interview. WholeWords turns that off.
func TestRejectionSubstringInsideAnswer(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul")
	reply := env.send(t, "Bajaj Finance")
	assert.Equal(t, models.TextReply(ReplyRejected), reply)
	assert.True(t, env.state(t).Flag(models.FlagBlocked))

	cat, err := catalog.New(testSteps())
	require.NoError(t, err)
	faq, err := catalog.NewFAQTable(testFAQ())
	require.NoError(t, err)
	vocab := classify.DefaultVocabulary()
	vocab.WholeWords = true
	cls, err := classify.New(vocab, classify.DefaultThresholds())
	require.NoError(t, err)
	st := store.NewInMemoryStore()
	e, err := New(cat, faq, cls, st)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	for _, m := range []string{"yes", "Rahul"} {
		_, err := e.Process(ctx, sender, m)
		require.NoError(t, err)
	}
	reply, err = e.Process(ctx, sender, "Bajaj Finance")
	require.NoError(t, err)
	assert.NotEqual(t, models.TextReply(ReplyRejected), reply)
	got, err := st.GetState(ctx, sender)
	require.NoError(t, err)
	assert.False(t, got.Flag(models.FlagBlocked))
	company, _ := got.Answer(models.StepCompany)
	assert.Equal(t, "Bajaj Finance", company)
}

func TestBlockedAndAcknowledgedIsSilent(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "not interested")

	for _, msg := range []string{"yes", "ok thanks", "HDFC Bank", "what is the salary", "home loan"} {
		reply := env.send(t, msg)
		assert.Equal(t, models.ReplySilent, reply.Kind, "message %q", msg)
	}
	assert.Equal(t, models.StepInterest, env.state(t).CurrentStep)
}

func TestFresherThenAcknowledgement(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes")

	reply := env.send(t, "I am a fresher")
	assert.Equal(t, models.TextReply(ReplyFresher), reply)
	st := env.state(t)
	assert.True(t, st.Flag(models.FlagBlocked))
	assert.False(t, st.Flag(models.FlagAcknowledged))

	// Something other than an acknowledgement stays silent.
	assert.Equal(t, models.ReplySilent, env.send(t, "Rahul").Kind)

	reply = env.send(t, "ok thanks")
	assert.Equal(t, models.TextReply(ReplyAcknowledged), reply)
	assert.True(t, env.state(t).Flag(models.FlagAcknowledged))

	// The thanks is sent once.
	assert.Equal(t, models.ReplySilent, env.send(t, "ok thanks").Kind)
}

func TestCTCCeiling(t *testing.T) {
	cases := []struct {
		name    string
		message string
		blocked bool
	}{
		{"lakhs above ceiling", "8 lpa", true},
		{"thousand scale above ceiling", "salary 650k", true},
		{"at ceiling", "6 lakhs package", true},
		{"below ceiling", "4 lpa", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, testSteps())
			env.walk(t, "yes", "Rahul")

			reply := env.send(t, tc.message)
			st := env.state(t)
			if tc.blocked {
				assert.Equal(t, models.TextReply("Sorry, our maximum CTC range is up to 6 LPA only."), reply)
				assert.True(t, st.Flag(models.FlagBlocked))
				assert.False(t, st.Flag(models.FlagAcknowledged))
				return
			}
			assert.False(t, st.Flag(models.FlagBlocked))
		})
	}
}

func TestCTCCeilingFollowsConfiguredLimit(t *testing.T) {
	cat, err := catalog.New(testSteps())
	require.NoError(t, err)
	faq, err := catalog.NewFAQTable(testFAQ())
	require.NoError(t, err)
	thresholds := classify.DefaultThresholds()
	thresholds.CTCLimitLPA = 7.5
	cls, err := classify.New(classify.DefaultVocabulary(), thresholds)
	require.NoError(t, err)
	st := store.NewInMemoryStore()
	e, err := New(cat, faq, cls, st)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	cases := map[string]bool{"7 lpa": false, "8 lpa": true}
	i := 0
	for message, blocked := range cases {
		i++
		who := fmt.Sprintf("9198765432%02d@c.us", i)
		for _, m := range []string{"yes", "Rahul"} {
			_, err := e.Process(ctx, who, m)
			require.NoError(t, err)
		}
		reply, err := e.Process(ctx, who, message)
		require.NoError(t, err)
		got, err := st.GetState(ctx, who)
		require.NoError(t, err)
		if blocked {
			assert.Equal(t, models.TextReply("Sorry, our maximum CTC range is up to 7.5 LPA only."), reply, message)
			assert.True(t, got.Flag(models.FlagBlocked), message)
			continue
		}
		assert.False(t, got.Flag(models.FlagBlocked), message)
	}
}

func TestCTCCeilingReply(t *testing.T) {
	assert.Equal(t, "Sorry, our maximum CTC range is up to 6 LPA only.", CTCCeilingReply(6))
	assert.Equal(t, "Sorry, our maximum CTC range is up to 12.5 LPA only.", CTCCeilingReply(12.5))
}

func TestCTCBelowCeilingAtCTCStepIsRecorded(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul", "HDFC Bank", "2 months", "home loan")
	require.Equal(t, models.StepCTC, env.state(t).CurrentStep)

	reply := env.send(t, "4 lpa")
	assert.Equal(t, "Which city are you currently based in?", reply.Text)
	st := env.state(t)
	v, ok := st.Answer(models.StepCTC)
	assert.True(t, ok)
	assert.Equal(t, "4 lpa", v)
}

func TestFAQDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul")

	want := "The CTC for this role is up to 6 LPA plus incentives.\n\nThanks Rahul. Which company are you currently working with?"
	for i := 0; i < 2; i++ {
		reply := env.send(t, "what is the salary")
		assert.Equal(t, models.TextReply(want), reply)
		assert.Equal(t, models.StepCompany, env.state(t).CurrentStep)
	}

	reply := env.send(t, "where is the job location")
	assert.Equal(t, "Openings are available in Mumbai and Pune.\n\nThanks Rahul. Which company are you currently working with?", reply.Text)
	_, answered := env.state(t).Answer(models.StepCompany)
	assert.False(t, answered)
}

func TestSalaryFigureIsNotAnFAQ(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul")

	// "salary 3 lpa" carries a figure below the ceiling, so it is taken as the
	// company answer rather than a question about pay.
	reply := env.send(t, "salary 3 lpa")
	assert.Equal(t, "What is your notice period?", reply.Text)
}

func TestUnemployedBranch(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul")

	reply := env.send(t, "jobless")
	assert.Equal(t, "Which company did you work with previously?", reply.Text)
	st := env.state(t)
	assert.True(t, st.Flag(models.FlagUnemployed))
	assert.Equal(t, models.StepPrevCompany, st.CurrentStep)
	v, _ := st.Answer(models.StepCompany)
	assert.Equal(t, "jobless", v)

	reply = env.send(t, "jobless")
	assert.Equal(t, models.TextReply(ReplyPrevCompanyNudge), reply)
	assert.Equal(t, models.StepPrevCompany, env.state(t).CurrentStep)

	// Notice is skipped and the product question is rephrased.
	reply = env.send(t, "HDFC Bank")
	assert.Equal(t, models.TextReply(PromptPreviousProduct), reply)
	assert.Equal(t, models.StepProduct, env.state(t).CurrentStep)

	// An FAQ at the product step re-asks the rephrased question.
	reply = env.send(t, "what is the salary")
	assert.Contains(t, reply.Text, "\n\n"+PromptPreviousProduct)
}

func TestUnsupportedProductDisqualifies(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul", "HDFC Bank", "2 months")

	reply := env.send(t, "credit card")
	assert.Equal(t, models.TextReply(ReplyUnsupportedProduct), reply)
	st := env.state(t)
	assert.True(t, st.Flag(models.FlagBlocked))
	assert.False(t, st.Flag(models.FlagAcknowledged))
	assert.Equal(t, models.ReplySilent, env.send(t, "home loan").Kind)
}

func TestCompletion(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes", "Rahul", "HDFC Bank", "2 months", "home loan", "4 lpa")

	reply := env.send(t, "Mumbai")
	assert.Equal(t, models.CompletedReply(), reply)
	assert.Nil(t, env.state(t), "state must be deleted on completion")

	require.NoError(t, env.engine.Close())
	calls := env.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "admin@c.us", calls[0].to)
	assert.Equal(t, "✅ Info collected from "+sender+":\n"+
		"interest: yes\nname: Rahul\ncompany: HDFC Bank\nnotice: 2 months\nproduct: home loan\nctc: 4 lpa\nlocation: Mumbai",
		calls[0].message)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Completions))

	// The next message starts a brand-new interview.
	reply = env.send(t, "yes")
	assert.Equal(t, "Great! May I know your full name?", reply.Text)
	require.NoError(t, env.engine.Close())
	assert.Len(t, env.notifier.Calls(), 1)
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t, testSteps()[:2])
	env.notifier.err = errors.New("relay down")
	env.walk(t, "yes")

	reply := env.send(t, "Rahul")
	assert.Equal(t, models.ReplyCompleted, reply.Kind)
	require.NoError(t, env.engine.Close())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.NotifyFailures.WithLabelValues("recording")))
}

func TestTranscriptRecordsAdvances(t *testing.T) {
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, testSteps(), WithClock(func() time.Time { return clock }))
	env.walk(t, "yes", "what is the salary", "Rahul")
	env.send(t, "hello there after")

	entries, err := env.store.GetTranscript(context.Background(), sender)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.TranscriptEntry{Sender: sender, Time: clock, Step: models.StepInterest, Message: "yes"}, entries[0])
	assert.Equal(t, models.StepID("name"), entries[1].Step)
	assert.Equal(t, "Rahul", entries[1].Message)
	assert.Equal(t, models.StepCompany, entries[2].Step)
}

func TestMissingPlaceholderRendersEmpty(t *testing.T) {
	steps := testSteps()
	steps[4].Prompt = "Notice period at {prev_company}?"
	env := newTestEnv(t, steps)
	env.walk(t, "yes", "Rahul")

	reply := env.send(t, "HDFC Bank")
	assert.Equal(t, "Notice period at ?", reply.Text)
}

func TestUnknownStoredStepRestarts(t *testing.T) {
	env := newTestEnv(t, testSteps())
	legacy := models.NewConversationState(sender, "designation")
	legacy.SetAnswer("designation", "manager")
	require.NoError(t, env.store.SaveState(context.Background(), *legacy))

	reply := env.send(t, "yes")
	assert.Equal(t, "Great! May I know your full name?", reply.Text)
	st := env.state(t)
	_, kept := st.Answer("designation")
	assert.False(t, kept)
}

func TestEmptySender(t *testing.T) {
	env := newTestEnv(t, testSteps())
	_, err := env.engine.Process(context.Background(), "  ", "yes")
	assert.ErrorIs(t, err, models.ErrEmptySender)
}

type failingStore struct {
	*store.InMemoryStore
	failFor string
}

func (f *failingStore) SaveState(ctx context.Context, st models.ConversationState) error {
	if st.Sender == f.failFor {
		return errors.New("disk full")
	}
	return f.InMemoryStore.SaveState(ctx, st)
}

func TestStoreFailureIsReturnedAndIsolated(t *testing.T) {
	cat, err := catalog.New(testSteps())
	require.NoError(t, err)
	faq, err := catalog.NewFAQTable(testFAQ())
	require.NoError(t, err)
	cls, err := classify.New(classify.DefaultVocabulary(), classify.DefaultThresholds())
	require.NoError(t, err)
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore(), failFor: "broken"}
	m := metrics.New()
	e, err := New(cat, faq, cls, fs, WithMetrics(m))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Process(context.Background(), "broken", "yes")
	assert.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesProcessed.WithLabelValues(metrics.OutcomeError)))

	reply, err := e.Process(context.Background(), "healthy", "yes")
	require.NoError(t, err)
	assert.Equal(t, models.ReplyText, reply.Kind)
}

func TestSameSenderIsSerialized(t *testing.T) {
	env := newTestEnv(t, testSteps())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Process(context.Background(), sender, "yes")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// interest -> name -> company -> notice: one advance per message.
	assert.Equal(t, models.StepNotice, env.state(t).CurrentStep)
	assert.Equal(t, 0, env.engine.locks.size())
}

func TestStateAndReset(t *testing.T) {
	env := newTestEnv(t, testSteps())
	ctx := context.Background()

	st, err := env.engine.State(ctx, sender)
	require.NoError(t, err)
	assert.Nil(t, st)

	env.walk(t, "yes")
	st, err = env.engine.State(ctx, sender)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, models.StepID("name"), st.CurrentStep)

	require.NoError(t, env.engine.Reset(ctx, sender))
	st, err = env.engine.State(ctx, sender)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestMetricsByOutcome(t *testing.T) {
	env := newTestEnv(t, testSteps())
	env.walk(t, "yes")
	env.send(t, "8 lpa")
	env.send(t, "anything")

	assert.Equal(t, 2.0, testutil.ToFloat64(env.metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeText)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeSilent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Disqualifications.WithLabelValues(ReasonCTC)))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.StepAdvances.WithLabelValues("name")))
}

func TestFormatSummary(t *testing.T) {
	got := FormatSummary("s", []models.Answer{{Step: "interest", Text: "yes"}, {Step: "name", Text: "Rahul"}})
	assert.Equal(t, "✅ Info collected from s:\ninterest: yes\nname: Rahul", got)
	assert.Equal(t, "✅ Info collected from s:\n", FormatSummary("s", nil))
}
