// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package challenge_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"codeberg.org/oliverandrich/emailauth/internal/audit"
	"codeberg.org/oliverandrich/emailauth/internal/deferred"
	"codeberg.org/oliverandrich/emailauth/internal/metrics"
	"codeberg.org/oliverandrich/emailauth/internal/models"
	"codeberg.org/oliverandrich/emailauth/internal/repository"
	"codeberg.org/oliverandrich/emailauth/internal/services/challenge"
	"codeberg.org/oliverandrich/emailauth/internal/services/token"
	"codeberg.org/oliverandrich/emailauth/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc    *challenge.Service
	mailer *testutil.FakeMailer
	repo   *repository.Repository
	runner *deferred.Runner
	user   *models.User
}

func newFixture(t *testing.T, opts ...challenge.Option) *fixture {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	user := testutil.NewTestUser(t, repo, "alice", "alice@example.org")

	gen, err := token.NewGenerator(6)
	require.NoError(t, err)

	mailer := &testutil.FakeMailer{}
	runner := deferred.NewRunner(deferred.Config{}, testutil.QuietLogger())
	t.Cleanup(runner.Close)

	opts = append([]challenge.Option{
		challenge.WithRunner(runner),
		challenge.WithLogger(testutil.QuietLogger()),
	}, opts...)

	svc := challenge.NewService(challenge.Config{RetryLimit: 3, SiteName: "Example Wiki"}, gen, mailer, repo, opts...)
	return &fixture{svc: svc, mailer: mailer, repo: repo, runner: runner, user: user}
}

func (f *fixture) begin(t *testing.T) *challenge.State {
	t.Helper()
	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")
	require.NoError(t, err)
	require.Equal(t, challenge.Issued, resp.Outcome)
	require.NotNil(t, state)
	return state
}

func wrongCode(state *challenge.State) string {
	if state.IssuedCode == "000000" {
		return "111111"
	}
	return "000000"
}

func TestBegin_IssuesCodeAndSendsEmail(t *testing.T) {
	f := newFixture(t)

	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, challenge.Issued, resp.Outcome)
	assert.Contains(t, resp.Message, "alice@example.org")
	require.NotNil(t, state)
	assert.Len(t, state.IssuedCode, 6)
	assert.Zero(t, state.FailureCount)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.org", sent[0].To)
	assert.Contains(t, sent[0].Subject, "Example Wiki")
	assert.Contains(t, sent[0].Text, state.IssuedCode)
}

func TestBegin_UnconfirmedEmailIsStashed(t *testing.T) {
	f := newFixture(t)

	state := f.begin(t)

	assert.Equal(t, "alice@example.org", state.PendingEmail)
}

func TestBegin_ConfirmedEmailNotStashed(t *testing.T) {
	f := newFixture(t)
	_, err := f.repo.ConfirmEmailIfUnchanged(context.Background(), f.user.ID, f.user.Email)
	require.NoError(t, err)
	f.user, err = f.repo.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)

	state := f.begin(t)

	assert.Empty(t, state.PendingEmail)
}

func TestBegin_NoEmailPasses(t *testing.T) {
	f := newFixture(t)
	f.user.Email = ""

	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, challenge.Pass, resp.Outcome)
	assert.Nil(t, state)
	assert.Empty(t, f.mailer.Sent())
}

func TestBegin_PolicySkipsWithoutSideEffects(t *testing.T) {
	f := newFixture(t, challenge.WithPolicy(challenge.PolicyFunc(func(context.Context, *models.User) bool {
		return false
	})))

	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, challenge.Pass, resp.Outcome)
	assert.Nil(t, state)
	assert.Empty(t, f.mailer.Sent())
}

func TestBegin_RequireConfirmedEmailExemptsUnconfirmed(t *testing.T) {
	f := newFixture(t, challenge.WithPolicy(challenge.DefaultPolicy{RequireConfirmedEmail: true}))

	resp, _, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, challenge.Pass, resp.Outcome)
}

type customPolicy struct{}

func (customPolicy) ShouldRequireVerification(context.Context, *models.User) bool { return true }

func (customPolicy) CustomizeMessages(_ context.Context, _ *models.User, m challenge.Messages) challenge.Messages {
	m.Prompt = "custom prompt"
	m.Subject = "custom subject"
	m.Intro = "custom intro without any code"
	return m
}

func TestBegin_CustomMessagesCannotDropCode(t *testing.T) {
	f := newFixture(t, challenge.WithPolicy(customPolicy{}))

	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, "custom prompt", resp.Message)

	msg := f.mailer.Last()
	assert.Equal(t, "custom subject", msg.Subject)
	assert.Contains(t, msg.Text, "custom intro without any code")
	assert.Contains(t, msg.Text, state.IssuedCode)
}

func TestBegin_DeliveryFailureStillPrompts(t *testing.T) {
	f := newFixture(t)
	f.mailer.FailWith(errors.New("smtp down"))

	resp, state, err := f.svc.Begin(context.Background(), f.user, "192.0.2.1")

	require.NoError(t, err)
	assert.Equal(t, challenge.Issued, resp.Outcome)
	assert.NotNil(t, state)
}

func TestBegin_CodeNotLoggedByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, challenge.WithLogger(logger))

	state := f.begin(t)

	assert.NotContains(t, buf.String(), state.IssuedCode)
}

func TestContinue_CorrectCodePasses(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	resp := f.svc.Continue(context.Background(), f.user, state, state.IssuedCode, "192.0.2.1")

	assert.Equal(t, challenge.Pass, resp.Outcome)
}

func TestContinue_TrimsWhitespace(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	resp := f.svc.Continue(context.Background(), f.user, state, " "+state.IssuedCode+"\n", "192.0.2.1")

	assert.Equal(t, challenge.Pass, resp.Outcome)
}

func TestContinue_WrongCodeCountsFailure(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	for i := 1; i <= 3; i++ {
		resp := f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")
		assert.Equal(t, challenge.RetryPrompt, resp.Outcome)
		assert.Equal(t, challenge.MessageError, resp.MessageType)
		assert.Equal(t, i, state.FailureCount)
	}
}

func TestContinue_FourthFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	for range 3 {
		f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")
	}

	resp := f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")
	assert.Equal(t, challenge.Fail, resp.Outcome)
	assert.Equal(t, 4, state.FailureCount)

	// Even the correct code cannot rescue an exhausted session
	resp = f.svc.Continue(context.Background(), f.user, state, state.IssuedCode, "192.0.2.1")
	assert.Equal(t, challenge.Fail, resp.Outcome)
	assert.Equal(t, 4, state.FailureCount)
}

func TestContinue_CorrectAfterFailuresPasses(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	for range 3 {
		f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")
	}

	resp := f.svc.Continue(context.Background(), f.user, state, state.IssuedCode, "192.0.2.1")

	assert.Equal(t, challenge.Pass, resp.Outcome)
}

func TestContinue_EmptyInputIsSilentRetry(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	f := newFixture(t, challenge.WithLogger(logger))
	state := f.begin(t)
	buf.Reset()

	for _, submitted := range []string{"", "   "} {
		resp := f.svc.Continue(context.Background(), f.user, state, submitted, "192.0.2.1")
		assert.Equal(t, challenge.RetryPrompt, resp.Outcome)
		assert.Equal(t, challenge.MessageWarning, resp.MessageType)
	}

	assert.Zero(t, state.FailureCount)
	assert.Empty(t, buf.String())
}

func TestContinue_NoState(t *testing.T) {
	f := newFixture(t)

	resp := f.svc.Continue(context.Background(), f.user, nil, "123456", "192.0.2.1")

	assert.Equal(t, challenge.Fail, resp.Outcome)
}

func TestContinue_PassConfirmsPendingEmailAfterFlush(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	ctx, batch := deferred.WithBatch(context.Background(), f.runner)
	resp := f.svc.Continue(ctx, f.user, state, state.IssuedCode, "192.0.2.1")
	require.Equal(t, challenge.Pass, resp.Outcome)

	// Nothing happens before the response is finished
	assert.Equal(t, 1, batch.Len())
	user, err := f.repo.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.False(t, user.EmailConfirmed())

	batch.Flush(context.Background())
	f.runner.Close()

	user, err = f.repo.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.True(t, user.EmailConfirmed())
}

func TestContinue_EmailChangedBeforeConfirmation(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	ctx, batch := deferred.WithBatch(context.Background(), f.runner)
	resp := f.svc.Continue(ctx, f.user, state, state.IssuedCode, "192.0.2.1")
	require.Equal(t, challenge.Pass, resp.Outcome)

	require.NoError(t, f.repo.UpdateUserEmail(context.Background(), f.user.ID, "new@example.org"))

	batch.Flush(context.Background())
	f.runner.Close()

	user, err := f.repo.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new@example.org", user.Email)
	assert.False(t, user.EmailConfirmed())
}

func TestContinue_WrongCodeDoesNotConfirm(t *testing.T) {
	f := newFixture(t)
	state := f.begin(t)

	ctx, batch := deferred.WithBatch(context.Background(), f.runner)
	f.svc.Continue(ctx, f.user, state, wrongCode(state), "192.0.2.1")

	assert.Zero(t, batch.Len())
}

func TestContinue_AuditsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	f := newFixture(t, challenge.WithAudit(audit.NewLogger(logger)))
	state := f.begin(t)

	f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")

	assert.Contains(t, buf.String(), `"event_type":"verification_failed"`)
	assert.Contains(t, buf.String(), `"user":"alice"`)
}

func TestMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	f := newFixture(t, challenge.WithMetrics(m))
	state := f.begin(t)

	f.svc.Continue(context.Background(), f.user, state, wrongCode(state), "192.0.2.1")
	f.svc.Continue(context.Background(), f.user, state, state.IssuedCode, "192.0.2.1")

	assert.InDelta(t, 1, promtest.ToFloat64(m.Challenge.WithLabelValues("issued")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.Challenge.WithLabelValues("retry")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(m.Challenge.WithLabelValues("pass")), 0)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pass", challenge.Pass.String())
	assert.Equal(t, "issued", challenge.Issued.String())
	assert.Equal(t, "retry", challenge.RetryPrompt.String())
	assert.Equal(t, "fail", challenge.Fail.String())
}

func TestBegin_DebugLogCode(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, repo := testutil.NewTestDB(t)
	user := testutil.NewTestUser(t, repo, "alice", "alice@example.org")
	gen, err := token.NewGenerator(6)
	require.NoError(t, err)

	svc := challenge.NewService(
		challenge.Config{RetryLimit: 3, DebugLogCode: true},
		gen, &testutil.FakeMailer{}, repo,
		challenge.WithLogger(logger),
	)

	_, state, err := svc.Begin(context.Background(), user, "192.0.2.1")
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"msg":"verification_code_issued"`)
	assert.Contains(t, buf.String(), state.IssuedCode)
}

func TestNewService_DefaultRetryLimit(t *testing.T) {
	gen, err := token.NewGenerator(6)
	require.NoError(t, err)

	svc := challenge.NewService(challenge.Config{}, gen, &testutil.FakeMailer{}, nil)

	assert.Equal(t, challenge.DefaultRetryLimit, svc.RetryLimit())
}
