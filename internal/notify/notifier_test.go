package notify

import (
	"agora/internal/decision/metrics"
	"agora/internal/decision/model"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

type fakeUsers map[string]string

func (f fakeUsers) GetUserEmail(_ context.Context, userID string) (string, error) {
	email, ok := f[userID]
	if !ok {
		return "", errors.New("no such user")
	}
	return email, nil
}

var testConfig = Config{BotEmail: "bot@agora.test", Contact: "contact@agora.test", BaseURL: "https://agora.test/"}

func testDecision() model.Decision {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	closed := created.Add(model.DefaultVotingWindow)
	return model.Decision{
		ID:          "dec-42",
		Title:       "Adopt <Go>",
		Description: "Rewrite the backend",
		OwnerID:     "user-1",
		CreatedAt:   created,
		ModifiedAt:  created,
		ClosedAt:    &closed,
	}
}

func TestNotifyDecisionCreated(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(testConfig, mailer, fakeUsers{"user-1": "owner@agora.test"})

	require.NoError(t, n.NotifyDecisionCreated(context.Background(), testDecision()))

	sent := mailer.messages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "A new proposal has been submitted, id : dec-42", msg.Subject)
	assert.Equal(t, "bot@agora.test", msg.From)
	assert.Equal(t, []string{"contact@agora.test"}, msg.To)
	assert.Equal(t, "text/html", msg.ContentType)
	assert.Contains(t, msg.Body, "dec-42")
	assert.Contains(t, msg.Body, "Adopt &lt;Go&gt;")
	assert.Contains(t, msg.Body, "owner@agora.test")
	assert.Contains(t, msg.Body, "https://agora.test/decisions/dec-42")
	assert.Contains(t, msg.Body, "Voting closes on 2024-05-08")
}

func TestNotifyFallsBackToOwnerID(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewNotifier(testConfig, mailer, fakeUsers{})

	d := testDecision()
	d.ClosedAt = nil
	require.NoError(t, n.NotifyDecisionCreated(context.Background(), d))

	sent := mailer.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Body, "user-1")
	assert.Contains(t, sent[0].Body, "Voting has no closing date")
}

func TestNotifyPropagatesMailerError(t *testing.T) {
	n := NewNotifier(testConfig, &fakeMailer{err: errors.New("relay down")}, nil)
	err := n.NotifyDecisionCreated(context.Background(), testDecision())
	assert.EqualError(t, err, "relay down")
}

// gatedMailer blocks each send until release is closed and honours ctx like a real relay.
type gatedMailer struct {
	fakeMailer
	started chan string
	release chan struct{}
}

func newGatedMailer() *gatedMailer {
	return &gatedMailer{started: make(chan string, 8), release: make(chan struct{})}
}

func (g *gatedMailer) Send(ctx context.Context, msg Message) error {
	g.started <- msg.Subject
	<-g.release
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.fakeMailer.Send(ctx, msg)
}

func decisionWithID(id string) model.Decision {
	d := testDecision()
	d.ID = id
	return d
}

func subjects(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Subject)
	}
	return out
}

func TestDispatcherDeliversOncePerEvent(t *testing.T) {
	mailer := &fakeMailer{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(NewNotifier(testConfig, mailer, nil), 4, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.DecisionCreated(context.Background(), testDecision())

	require.Eventually(t, func() bool { return len(mailer.messages()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Never(t, func() bool { return len(mailer.messages()) > 1 }, 50*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))
}

func TestDispatcherCountsFailures(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(NewNotifier(testConfig, &fakeMailer{err: errors.New("relay down")}, nil), 4, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.DecisionCreated(context.Background(), testDecision())

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Notifications.WithLabelValues("failed")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherDeliversQueuedEventsOnStop(t *testing.T) {
	mailer := newGatedMailer()
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(NewNotifier(testConfig, mailer, nil), 4, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	d.DecisionCreated(context.Background(), decisionWithID("A"))
	select {
	case <-mailer.started:
	case <-time.After(time.Second):
		t.Fatal("first notification was never sent")
	}

	// B is queued while A is still being delivered, then the dispatcher is stopped.
	d.DecisionCreated(context.Background(), decisionWithID("B"))
	cancel()
	close(mailer.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, []string{
		"A new proposal has been submitted, id : A",
		"A new proposal has been submitted, id : B",
	}, subjects(mailer.messages()))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))
}

func TestDispatcherDrainsWithFreshContext(t *testing.T) {
	mailer := newGatedMailer()
	close(mailer.release)
	d := NewDispatcher(NewNotifier(testConfig, mailer, nil), 4, nil)

	d.DecisionCreated(context.Background(), decisionWithID("late"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run sees a cancelled ctx straight away and still delivers what was queued.
	d.Run(ctx)
	assert.Equal(t, []string{"A new proposal has been submitted, id : late"}, subjects(mailer.messages()))
}

func TestDispatcherWaitsForQueueSpace(t *testing.T) {
	mailer := &fakeMailer{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(NewNotifier(testConfig, mailer, nil), 1, m)

	d.DecisionCreated(context.Background(), decisionWithID("first"))

	queued := make(chan struct{})
	reqCtx, cancelReq := context.WithCancel(context.Background())
	go func() {
		d.DecisionCreated(reqCtx, decisionWithID("second"))
		close(queued)
	}()
	// A client going away does not cost the stored decision its notification.
	cancelReq()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	select {
	case <-queued:
	case <-time.After(time.Second):
		t.Fatal("second notification was never queued")
	}
	require.Eventually(t, func() bool { return len(mailer.messages()) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
}

func TestDispatcherDropsAfterEnqueueTimeout(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(NewNotifier(testConfig, &fakeMailer{}, nil), 1, m)
	d.EnqueueTimeout = 20 * time.Millisecond

	// Run is not started, so the second event never finds room.
	d.DecisionCreated(context.Background(), testDecision())
	start := time.Now()
	d.DecisionCreated(context.Background(), testDecision())

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("dropped")))
}

func TestSMTPMailerSend(t *testing.T) {
	var got *mail.Msg
	mailer := NewSMTPMailer(SMTPConfig{Host: "mail.agora.test", Port: 2525})
	mailer.send = func(_ context.Context, msg *mail.Msg) error {
		got = msg
		return nil
	}

	err := mailer.Send(context.Background(), Message{
		Subject: "hello", Body: "<p>hi</p>", From: "bot@agora.test", To: []string{"contact@agora.test"}, ContentType: "text/html",
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	var buf bytes.Buffer
	_, err = got.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.Contains(t, raw, "Subject: hello\r\n")
	assert.Contains(t, raw, "bot@agora.test")
	assert.Contains(t, raw, "contact@agora.test")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.Contains(t, raw, "<p>hi</p>")
}

func TestSMTPMailerEncodesHeadersAndLongBodies(t *testing.T) {
	var got *mail.Msg
	mailer := NewSMTPMailer(SMTPConfig{Host: "mail.agora.test", Port: 25})
	mailer.send = func(_ context.Context, msg *mail.Msg) error {
		got = msg
		return nil
	}

	require.NoError(t, mailer.Send(context.Background(), Message{
		Subject:     "Décision adoptée",
		Body:        "<p>" + strings.Repeat("a", 2000) + "</p>",
		From:        "bot@agora.test",
		To:          []string{"contact@agora.test"},
		ContentType: "text/html",
	}))

	var buf bytes.Buffer
	_, err := got.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()
	assert.NotContains(t, raw, "Décision")
	assert.Contains(t, raw, "=?UTF-8?")
	for _, line := range strings.Split(raw, "\r\n") {
		assert.LessOrEqual(t, len(line), 998)
	}
}

func TestSMTPMailerRejectsHeaderInjection(t *testing.T) {
	mailer := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25})
	mailer.send = func(context.Context, *mail.Msg) error {
		t.Fatal("message with an injected header must not be sent")
		return nil
	}

	err := mailer.Send(context.Background(), Message{
		Subject: "x", From: "bot@agora.test\r\nBcc: someone@evil.test", To: []string{"contact@agora.test"},
	})
	assert.ErrorContains(t, err, "from address")

	err = mailer.Send(context.Background(), Message{
		Subject: "x", From: "bot@agora.test", To: []string{"contact@agora.test\nBcc: someone@evil.test"},
	})
	assert.ErrorContains(t, err, "to address")
}

func TestSMTPMailerPropagatesSendError(t *testing.T) {
	mailer := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25})
	mailer.send = func(context.Context, *mail.Msg) error { return errors.New("relay down") }

	err := mailer.Send(context.Background(), Message{Subject: "x", From: "bot@agora.test", To: []string{"contact@agora.test"}})
	assert.ErrorContains(t, err, "relay down")
}

func TestSMTPMailerRejectsNoRecipients(t *testing.T) {
	mailer := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25})
	assert.Error(t, mailer.Send(context.Background(), Message{Subject: "x"}))
}
