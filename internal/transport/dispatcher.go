package transport

import (
	"context"

	"github.com/MarcoPoloResearchLab/watchparty/internal/envelope"
	"github.com/MarcoPoloResearchLab/watchparty/internal/metrics"
	"go.uber.org/zap"
)

const defaultOutboxSize = 64

// Sender delivers one envelope and reports the outcome.
type Sender interface {
	Send(ctx context.Context, e envelope.Envelope) SendResult
}

// Dispatcher queues outgoing envelopes so callers never wait on the network.
type Dispatcher struct {
	sender Sender
	queue  chan envelope.Envelope
	logger *zap.Logger
}

// NewDispatcher constructs a Dispatcher with a bounded queue.
func NewDispatcher(sender Sender, size int, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = defaultOutboxSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan envelope.Envelope, size),
		logger: logger,
	}
}

// Broadcast enqueues e without blocking. When the queue is full the envelope is dropped;
// the periodic resync covers the loss.
func (d *Dispatcher) Broadcast(e envelope.Envelope) {
	select {
	case d.queue <- e:
		metrics.OutboxDepth.Set(float64(len(d.queue)))
	default:
		metrics.OutboxDroppedTotal.Inc()
		d.logger.Warn("outbox full, dropping envelope", zap.String("action", e.Action().String()))
	}
}

// Run sends queued envelopes until ctx is done. Envelopes still queued at that point are abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			metrics.OutboxDepth.Set(float64(len(d.queue)))
			result := d.sender.Send(ctx, e)
			if !result.Delivered {
				d.logger.Warn("envelope not delivered on any channel",
					zap.String("action", e.Action().String()),
					zap.Int("attempts", len(result.Attempts)))
			}
		}
	}
}
