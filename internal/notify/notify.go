// Package notify delivers admission outcome notifications. Delivery is
// fire-and-forget from the caller's point of view.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Kind string

const (
	KindAdmitted   Kind = "admitted"
	KindWaitlisted Kind = "waitlisted"
	KindPromoted   Kind = "promoted"
	KindApproved   Kind = "approved"
	KindDenied     Kind = "denied"
)

type Notification struct {
	UserID uuid.UUID `json:"user_id"`
	Kind   Kind      `json:"kind"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
}

// Dispatcher hands a notification to whatever delivers it.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Log writes notifications to the logger. Used when no broker is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) Dispatch(_ context.Context, n Notification) error {
	l.log.Info("notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
	)
	return nil
}

// Redis publishes notifications as JSON on a pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
}

func NewRedis(rdb *redis.Client, channel string) *Redis {
	return &Redis{rdb: rdb, channel: channel}
}

func (r *Redis) Dispatch(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Async runs the wrapped dispatcher on its own goroutine with a detached
// context. Dispatch always returns nil; failures are logged.
type Async struct {
	next    Dispatcher
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsync(next Dispatcher, log *zap.Logger, timeout time.Duration) *Async {
	return &Async{next: next, log: log.Named("notify"), timeout: timeout}
}

func (a *Async) Dispatch(ctx context.Context, n Notification) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Dispatch(ctx, n); err != nil {
			a.log.Warn("notification dropped",
				zap.String("user_id", n.UserID.String()),
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Wait blocks until in-flight dispatches finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
