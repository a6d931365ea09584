package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
)

type outboxMessage struct {
	Kind          string                     `json:"kind"`
	Verification  *VerificationNotification  `json:"verification,omitempty"`
	PasswordReset *PasswordResetNotification `json:"password_reset,omitempty"`
	EnqueuedAt    time.Time                  `json:"enqueued_at"`
}

// RedisNotificationQueue is a Notifier that only enqueues. A
// NotificationWorker drains the list and hands each message to the real sink.
type RedisNotificationQueue struct {
	client redis.UniversalClient
	key    string
	now    func() time.Time
}

func NewRedisNotificationQueue(client redis.UniversalClient, key string) *RedisNotificationQueue {
	return &RedisNotificationQueue{client: client, key: key, now: time.Now}
}

func (q *RedisNotificationQueue) Key() string { return q.key }

func (q *RedisNotificationQueue) SendEmailVerification(ctx context.Context, notification VerificationNotification) error {
	return q.enqueue(ctx, outboxMessage{Kind: NotificationKindVerification, Verification: &notification})
}

func (q *RedisNotificationQueue) SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error {
	return q.enqueue(ctx, outboxMessage{Kind: NotificationKindPasswordReset, PasswordReset: &notification})
}

func (q *RedisNotificationQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisNotificationQueue) enqueue(ctx context.Context, msg outboxMessage) error {
	msg.EnqueuedAt = q.now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode %s message: %w", ErrDelivery, msg.Kind, err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		observability.RecordNotificationDelivery(ctx, msg.Kind, "queue", "failure")
		return fmt.Errorf("%w: enqueue %s message: %w", ErrDelivery, msg.Kind, err)
	}
	observability.RecordNotificationDelivery(ctx, msg.Kind, "queue", "success")
	return nil
}

// dequeue blocks up to timeout; (nil, nil) means the poll came back empty.
func (q *RedisNotificationQueue) dequeue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue notification: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("dequeue notification: unexpected reply length %d", len(res))
	}
	return []byte(res[1]), nil
}

// NotificationWorker delivers queued notifications at most once. Failed
// deliveries are logged and dropped.
type NotificationWorker struct {
	queue       *RedisNotificationQueue
	sink        Notifier
	logger      *slog.Logger
	pollTimeout time.Duration
	backoff     time.Duration
}

func NewNotificationWorker(queue *RedisNotificationQueue, sink Notifier, logger *slog.Logger, pollTimeout time.Duration) *NotificationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	return &NotificationWorker{
		queue:       queue,
		sink:        sink,
		logger:      logger,
		pollTimeout: pollTimeout,
		backoff:     time.Second,
	}
}

// Run drains the queue until ctx is cancelled.
func (w *NotificationWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "notification worker started", "queue", w.queue.Key())
	defer w.logger.Info("notification worker stopped", "queue", w.queue.Key())
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, err := w.ProcessOne(ctx)
		if err == nil || errors.Is(err, ErrDelivery) {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		w.logger.WarnContext(ctx, "notification queue poll failed", "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.backoff):
		}
	}
}

// ProcessOne pops and delivers a single message. It reports whether a message
// was taken off the queue; delivery errors wrap ErrDelivery.
func (w *NotificationWorker) ProcessOne(ctx context.Context) (bool, error) {
	payload, err := w.queue.dequeue(ctx, w.pollTimeout)
	if err != nil || payload == nil {
		return false, err
	}

	var msg outboxMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		w.logger.ErrorContext(ctx, "discarding undecodable notification", "error", err)
		observability.RecordNotificationDelivery(ctx, "unknown", "worker", "discarded")
		return true, nil
	}

	if err := w.deliver(ctx, msg); err != nil {
		w.logger.ErrorContext(ctx, "queued notification delivery failed",
			"kind", msg.Kind,
			"enqueued_at", msg.EnqueuedAt,
			"error", err,
		)
		observability.RecordNotificationDelivery(ctx, msg.Kind, "worker", "failure")
		if !errors.Is(err, ErrDelivery) {
			err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		return true, err
	}
	observability.RecordNotificationDelivery(ctx, msg.Kind, "worker", "success")
	return true, nil
}

func (w *NotificationWorker) deliver(ctx context.Context, msg outboxMessage) error {
	switch {
	case msg.Kind == NotificationKindVerification && msg.Verification != nil:
		return w.sink.SendEmailVerification(ctx, *msg.Verification)
	case msg.Kind == NotificationKindPasswordReset && msg.PasswordReset != nil:
		return w.sink.SendPasswordReset(ctx, *msg.PasswordReset)
	default:
		return fmt.Errorf("%w: unsupported message kind %q", ErrDelivery, msg.Kind)
	}
}
