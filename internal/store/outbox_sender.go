package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultOutboxMaxAttempts is the number of delivery attempts before a message is given up.
const DefaultOutboxMaxAttempts = 5

// OutboxSendFunc is the callback that performs the actual message send.
// It receives the outbox message and should return an error if sending failed.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// OutboxResult reports the outcome of one delivery attempt.
type OutboxResult string

const (
	OutboxResultSent    OutboxResult = "sent"
	OutboxResultRetry   OutboxResult = "retry"
	OutboxResultGivenUp OutboxResult = "given_up"
)

// OutboxObserver is notified after each delivery attempt.
type OutboxObserver func(msg OutboxMessage, result OutboxResult)

// OutboxSender periodically claims due outbox messages and attempts to send them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	observe        OutboxObserver
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender. A non-positive maxAttempts uses
// DefaultOutboxMaxAttempts.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, maxAttempts int) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    maxAttempts,
		now:            time.Now,
	}
}

// SetObserver installs a callback invoked after every attempt.
func (s *OutboxSender) SetObserver(fn OutboxObserver) {
	s.observe = fn
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	staleBefore := s.now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// backoff returns the retry delay after the given number of failed attempts:
// 10s, 20s, 40s, ...
func backoff(attempts int) time.Duration {
	return time.Duration(10*(1<<attempts)) * time.Second
}

func (s *OutboxSender) poll(ctx context.Context) {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("OutboxSender.poll: sending message", "id", msg.ID, "recipient", msg.Recipient, "kind", msg.Kind, "attempt", msg.Attempts+1)
		sendErr := s.sendFunc(ctx, msg)
		result := OutboxResultSent
		switch {
		case sendErr == nil:
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.poll: mark sent error", "id", msg.ID, "error", err)
			}
			slog.Debug("OutboxSender.poll: message sent", "id", msg.ID, "recipient", msg.Recipient)
		case msg.Attempts+1 >= s.maxAttempts:
			result = OutboxResultGivenUp
			slog.Error("OutboxSender.poll: giving up on message", "id", msg.ID, "recipient", msg.Recipient, "attempts", msg.Attempts+1, "error", sendErr)
			if err := s.repo.GiveUpOutboxMessage(msg.ID, sendErr.Error()); err != nil {
				slog.Error("OutboxSender.poll: give up error", "id", msg.ID, "error", err)
			}
		default:
			result = OutboxResultRetry
			nextAttempt := now.Add(backoff(msg.Attempts))
			slog.Warn("OutboxSender.poll: send failed, will retry", "id", msg.ID, "nextAttempt", nextAttempt, "error", sendErr)
			if err := s.repo.FailOutboxMessage(msg.ID, sendErr.Error(), nextAttempt); err != nil {
				slog.Error("OutboxSender.poll: fail message error", "id", msg.ID, "error", err)
			}
		}
		if s.observe != nil {
			s.observe(msg, result)
		}
	}
}
