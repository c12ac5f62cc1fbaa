package notify

import (
	"agora/internal/decision/metrics"
	"agora/internal/decision/model"
	"agora/pkg/logger"
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds the addresses used for decision notifications.
type Config struct {
	BotEmail string
	Contact  string
	// BaseURL prefixes decision links in the email body.
	BaseURL string
}

// UserDirectory resolves a user identity to an email address.
type UserDirectory interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// Notifier tells the configured contact about new decisions.
type Notifier struct {
	cfg    Config
	mailer Mailer
	users  UserDirectory
}

func NewNotifier(cfg Config, mailer Mailer, users UserDirectory) *Notifier {
	return &Notifier{cfg: cfg, mailer: mailer, users: users}
}

func (n *Notifier) NotifyDecisionCreated(ctx context.Context, d model.Decision) error {
	ownerEmail := d.OwnerID
	if n.users != nil {
		email, err := n.users.GetUserEmail(ctx, d.OwnerID)
		if err == nil && email != "" {
			ownerEmail = email
		}
	}

	body, err := RenderDecisionBody(DecisionContext{
		Decision:   d,
		OwnerEmail: ownerEmail,
		URL:        strings.TrimSuffix(n.cfg.BaseURL, "/") + d.AbsoluteURL(),
	})
	if err != nil {
		return fmt.Errorf("render decision %s: %w", d.ID, err)
	}

	return n.mailer.Send(ctx, Message{
		Subject:     fmt.Sprintf("A new proposal has been submitted, id : %s", d.ID),
		Body:        body,
		From:        n.cfg.BotEmail,
		To:          []string{n.cfg.Contact},
		ContentType: "text/html",
	})
}

const (
	defaultQueueSize      = 64
	defaultEnqueueTimeout = 5 * time.Second
	defaultSendTimeout    = 30 * time.Second
	defaultDrainTimeout   = 30 * time.Second
)

// Dispatcher decouples notification delivery from the request that created the decision.
// Events are queued by DecisionCreated and delivered by Run. Stopping Run delivers what is
// still queued before it returns.
type Dispatcher struct {
	notifier *Notifier
	events   chan model.Decision
	metrics  *metrics.Metrics

	// EnqueueTimeout bounds how long DecisionCreated waits for space in a full queue.
	EnqueueTimeout time.Duration
	// SendTimeout bounds a single delivery.
	SendTimeout time.Duration
	// DrainTimeout bounds delivery of the events left in the queue when Run is stopped.
	DrainTimeout time.Duration
}

func NewDispatcher(notifier *Notifier, queueSize int, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Dispatcher{
		notifier:       notifier,
		events:         make(chan model.Decision, queueSize),
		metrics:        m,
		EnqueueTimeout: defaultEnqueueTimeout,
		SendTimeout:    defaultSendTimeout,
		DrainTimeout:   defaultDrainTimeout,
	}
}

// DecisionCreated queues a notification for dec. When the queue is full it waits up to
// EnqueueTimeout for Run to make room. The caller's cancellation does not cut the wait
// short since the decision is already stored.
func (d *Dispatcher) DecisionCreated(ctx context.Context, dec model.Decision) {
	select {
	case d.events <- dec:
		return
	default:
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.EnqueueTimeout)
	defer cancel()
	select {
	case d.events <- dec:
	case <-waitCtx.Done():
		logger.Sugar.Warnf("Notification queue full for %s, dropping notification for decision %s", d.EnqueueTimeout, dec.ID)
		d.metrics.IncNotification("dropped")
	}
}

// Run delivers queued notifications until ctx is cancelled, then drains the queue.
// A delivery in progress when ctx is cancelled is allowed to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	sendCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			d.drain(sendCtx)
			return
		case dec := <-d.events:
			d.deliver(sendCtx, dec)
		}
	}
}

func (d *Dispatcher) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, d.DrainTimeout)
	defer cancel()
	for {
		select {
		case dec := <-d.events:
			d.deliver(ctx, dec)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, dec model.Decision) {
	ctx, cancel := context.WithTimeout(parent, d.SendTimeout)
	defer cancel()
	if err := d.notifier.NotifyDecisionCreated(ctx, dec); err != nil {
		logger.Sugar.Errorf("Failed to notify contact about decision %s: %v", dec.ID, err)
		d.metrics.IncNotification("failed")
		return
	}
	logger.Sugar.Infof("Notified contact about decision %s", dec.ID)
	d.metrics.IncNotification("sent")
}
