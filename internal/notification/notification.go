// Package notification delivers donor thank-you messages outside the
// admission path. Delivery is best effort: failures are logged and counted,
// never returned to the caller that recorded the donation.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/donorflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	"go.uber.org/zap"
)

const KindDonationReceived = "donation_received"

// Message is the queued form of one notification. It carries the donor's
// address, so it is never logged in full.
type Message struct {
	Kind          string    `json:"kind"`
	OrgID         string    `json:"org_id"`
	OrgName       string    `json:"org_name"`
	DonationID    string    `json:"donation_id"`
	ReceiptNumber string    `json:"receipt_number"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CampaignName  string    `json:"campaign_name,omitempty"`
	DonorName     string    `json:"donor_name"`
	DonorEmail    string    `json:"donor_email"`
	CreatedAt     time.Time `json:"created_at"`
}

var ErrInvalidMessage = errors.New("invalid_notification")

func (m Message) Validate() error {
	if m.Kind == "" || m.DonationID == "" || m.DonorEmail == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Dispatcher hands a message to a delivery backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
	Backend() string
}

type Noop struct{}

func (Noop) Dispatch(context.Context, Message) error { return nil }

func (Noop) Backend() string { return "noop" }

// Notifier runs dispatches detached from the request that triggered them.
type Notifier struct {
	dispatcher Dispatcher
	timeout    time.Duration
	log        *zap.Logger
	metrics    *obsmetrics.AdmissionMetrics
	wg         sync.WaitGroup
}

func NewNotifier(dispatcher Dispatcher, timeout time.Duration, log *zap.Logger, metrics *obsmetrics.AdmissionMetrics) *Notifier {
	if dispatcher == nil {
		dispatcher = Noop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		dispatcher: dispatcher,
		timeout:    timeout,
		log:        log.Named("notification"),
		metrics:    metrics,
	}
}

// DonationReceived queues a thank-you message and returns immediately. The
// dispatch outlives ctx's cancellation but not the notifier's timeout.
func (n *Notifier) DonationReceived(ctx context.Context, msg Message) {
	if n == nil {
		return
	}
	msg.Kind = KindDonationReceived
	log := logger.WithContext(ctx, n.log).With(
		zap.String("donation_id", msg.DonationID),
		zap.String("backend", n.dispatcher.Backend()),
	)
	if err := msg.Validate(); err != nil {
		log.Debug("notification skipped", zap.Error(err))
		return
	}

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer cancel()
		if err := n.dispatcher.Dispatch(detached, msg); err != nil {
			n.metrics.IncNotificationFailure(n.dispatcher.Backend())
			log.Warn("notification dispatch failed", zap.Error(err))
			return
		}
		log.Debug("notification dispatched")
	}()
}

// Wait blocks until in-flight dispatches finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Drain is Wait bounded by ctx. Dispatches still running when ctx ends are
// abandoned and ctx's error is returned.
func (n *Notifier) Drain(ctx context.Context) error {
	if n == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
