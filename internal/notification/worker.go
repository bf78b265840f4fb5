package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/donorflow/internal/observability/metrics"
	"go.uber.org/zap"
)

// Worker drains the Redis queue and delivers each message by email.
type Worker struct {
	client   redis.UniversalClient
	queue    string
	delivery Dispatcher
	timeout  time.Duration
	log      *zap.Logger
	metrics  *obsmetrics.AdmissionMetrics
}

func NewWorker(client redis.UniversalClient, queue string, delivery Dispatcher, timeout time.Duration, log *zap.Logger, metrics *obsmetrics.AdmissionMetrics) *Worker {
	return &Worker{
		client:   client,
		queue:    queue,
		delivery: delivery,
		timeout:  timeout,
		log:      log.Named("notification.worker"),
		metrics:  metrics,
	}
}

// RunOnce waits up to block for one message and delivers it. It reports
// whether a message was taken off the queue.
func (w *Worker) RunOnce(ctx context.Context, block time.Duration) (bool, error) {
	res, err := w.client.BRPop(ctx, block, w.queue).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) < 2 {
		return false, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		w.log.Warn("dropping malformed notification", zap.Error(err))
		return true, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.delivery.Dispatch(sendCtx, msg); err != nil {
		w.metrics.IncNotificationFailure(w.delivery.Backend())
		w.log.Warn("notification delivery failed",
			zap.String("donation_id", msg.DonationID),
			zap.Error(err),
		)
		return true, nil
	}
	w.log.Debug("notification delivered", zap.String("donation_id", msg.DonationID))
	return true, nil
}

func (w *Worker) RunForever(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.RunOnce(ctx, 5*time.Second); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("notification queue read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}
