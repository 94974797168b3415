package messaging

import (
	"context"
	"hash/fnv"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/TicketPipe/internal/conversation"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

// Dispatcher defaults.
const (
	DefaultWorkers    = 8
	DefaultShardQueue = 64
)

// Handler processes one inbound message. *conversation.Router implements it.
type Handler interface {
	Handle(ctx context.Context, msg models.InboundMessage) conversation.Reply
}

var _ Handler = (*conversation.Router)(nil)

// SubmitResult is the outcome of Submit.
type SubmitResult string

const (
	SubmitAccepted  SubmitResult = "accepted"
	SubmitDuplicate SubmitResult = "duplicate"
	SubmitInvalid   SubmitResult = "invalid"
	SubmitDropped   SubmitResult = "dropped"
)

// DispatchObserver hooks metrics into the dispatcher.
type DispatchObserver struct {
	Received func(msg models.InboundMessage)
	Handled  func(msg models.InboundMessage, elapsed time.Duration)
}

// Dispatcher routes inbound messages on a fixed set of shards. All messages
// of one user hash to the same shard, so they are handled in arrival order.
type Dispatcher struct {
	handler Handler
	dedup   store.DedupRepo
	shards  []chan models.InboundMessage
	observe DispatchObserver
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with workers shards. A nil dedup repo
// disables replay detection.
func NewDispatcher(handler Handler, dedup store.DedupRepo, workers int, observe DispatchObserver) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	shards := make([]chan models.InboundMessage, workers)
	for i := range shards {
		shards[i] = make(chan models.InboundMessage, DefaultShardQueue)
	}
	return &Dispatcher{
		handler: handler,
		dedup:   dedup,
		shards:  shards,
		observe: observe,
		timeout: DefaultChannelTimeout,
	}
}

func (d *Dispatcher) shardFor(userID string) chan models.InboundMessage {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Submit validates, deduplicates and queues msg. It does not wait for the
// message to be handled.
func (d *Dispatcher) Submit(msg models.InboundMessage) SubmitResult {
	if err := models.ValidateUserID(msg.From); err != nil {
		slog.Warn("Dispatcher.Submit: rejecting message", "error", err)
		return SubmitInvalid
	}
	if d.dedup != nil && msg.ID != "" {
		fresh, err := d.dedup.RecordInbound(msg.ID, msg.From)
		if err != nil {
			slog.Error("Dispatcher.Submit: dedup check failed, processing anyway", "messageID", msg.ID, "error", err)
		} else if !fresh {
			slog.Info("Dispatcher.Submit: duplicate message dropped", "messageID", msg.ID, "userID", msg.From)
			return SubmitDuplicate
		}
	}
	if d.observe.Received != nil {
		d.observe.Received(msg)
	}

	select {
	case d.shardFor(msg.From) <- msg:
		return SubmitAccepted
	case <-time.After(d.timeout):
		slog.Warn("Dispatcher.Submit: shard queue full, dropping message", "userID", msg.From, "messageID", msg.ID)
		// The message was never queued; a redelivery must not count as a duplicate.
		if d.dedup != nil && msg.ID != "" {
			if err := d.dedup.ForgetInbound(msg.ID); err != nil {
				slog.Error("Dispatcher.Submit: failed to forget dropped message", "messageID", msg.ID, "error", err)
			}
		}
		return SubmitDropped
	}
}

// Consume submits everything received on in until it closes or ctx ends.
// A nil channel blocks until ctx ends.
func (d *Dispatcher) Consume(ctx context.Context, in <-chan models.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			d.Submit(msg)
		}
	}
}

// Run starts one worker per shard and blocks until ctx is cancelled. Queued
// messages are abandoned on shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher.Run: starting workers", "workers", len(d.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range d.shards {
		g.Go(func() error {
			d.work(gctx, i, shard)
			return nil
		})
	}
	err := g.Wait()
	slog.Info("Dispatcher.Run: workers stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, id int, shard <-chan models.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-shard:
			d.process(ctx, id, msg)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, msg models.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.process: handler panicked", "worker", worker, "userID", msg.From, "panic", r)
		}
	}()
	start := time.Now()
	d.handler.Handle(ctx, msg)
	elapsed := time.Since(start)
	if d.observe.Handled != nil {
		d.observe.Handled(msg, elapsed)
	}
	if d.dedup != nil && msg.ID != "" {
		if err := d.dedup.MarkProcessed(msg.ID); err != nil {
			slog.Warn("Dispatcher.process: failed to mark message processed", "messageID", msg.ID, "error", err)
		}
	}
	slog.Debug("Dispatcher.process: message handled", "worker", worker, "userID", msg.From, "elapsed", elapsed)
}
