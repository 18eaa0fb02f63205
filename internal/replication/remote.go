package replication

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/watchparty/internal/envelope"
	"github.com/MarcoPoloResearchLab/watchparty/internal/metrics"
	"go.uber.org/zap"
)

// Outcome classifies what the engine did with one inbound payload.
type Outcome string

const (
	// OutcomeApplied means the playlist changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeUnchanged means the envelope was valid and accepted but left the playlist as it was.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeEcho means the envelope originated locally and was dropped.
	OutcomeEcho Outcome = "echo"
	// OutcomeSyncSent means a REQUEST_SYNC was answered with FULL_SYNC.
	OutcomeSyncSent Outcome = "sync_sent"
	// OutcomeSyncSkipped means a REQUEST_SYNC arrived while the playlist was empty.
	OutcomeSyncSkipped Outcome = "sync_skipped"
	// OutcomeIgnored means the chat text was not a sync message.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeRejected means the payload could not be decoded.
	OutcomeRejected Outcome = "rejected"
)

const (
	sourceLabelStructured = "structured"
	sourceLabelChat       = "chat"
)

// HandleLowLevel decodes and applies a payload received on the structured channel.
func (e *Engine) HandleLowLevel(ctx context.Context, raw []byte) Outcome {
	incoming, err := envelope.Decode(raw, envelope.SourceStructured)
	if err != nil {
		return e.reject(sourceLabelStructured, err)
	}
	return e.ApplyRemote(ctx, incoming)
}

// HandleChat decodes and applies marker-tagged chat text. Ordinary chat is ignored.
func (e *Engine) HandleChat(ctx context.Context, text string) Outcome {
	incoming, err := envelope.DecodeText(text)
	if errors.Is(err, envelope.ErrNotSyncMessage) {
		return OutcomeIgnored
	}
	if err != nil {
		return e.reject(sourceLabelChat, err)
	}
	return e.ApplyRemote(ctx, incoming)
}

// ApplyRemote applies a decoded envelope from a peer. Envelopes carrying the local participant
// token are dropped.
func (e *Engine) ApplyRemote(ctx context.Context, incoming envelope.Envelope) Outcome {
	outcome := e.applyRemote(ctx, incoming)
	metrics.EnvelopesReceivedTotal.WithLabelValues(incoming.Action().String(), string(outcome)).Inc()
	return outcome
}

func (e *Engine) applyRemote(ctx context.Context, incoming envelope.Envelope) Outcome {
	if incoming.OriginID() == e.participant {
		return OutcomeEcho
	}
	if incoming.Action() == envelope.ActionRequestSync {
		return e.answerSyncRequest()
	}

	e.mu.Lock()
	var (
		next    = e.items
		changed bool
	)
	switch incoming.Action() {
	case envelope.ActionAdd:
		next, changed = e.items.Append(incoming.Item())
	case envelope.ActionRemove:
		next, changed = e.items.Without(incoming.ItemID())
	case envelope.ActionFullSync, envelope.ActionReorder:
		next = incoming.Playlist()
		changed = !next.Equal(e.items)
	default:
		e.mu.Unlock()
		e.logger.Warn("unsupported remote action", zap.String("action", incoming.Action().String()))
		return OutcomeRejected
	}

	if !changed {
		previous := e.status
		e.acceptLocked(incoming.Action(), SourceRemote, incoming.OriginID())
		promoted := previous != e.status
		var event ChangeEvent
		if promoted {
			event = e.eventLocked(SourceStatus, incoming.Action(), incoming.OriginID())
		}
		e.mu.Unlock()
		if promoted {
			e.notify(event)
		}
		return OutcomeUnchanged
	}

	event := e.commitLocked(next, incoming.Action(), SourceRemote, incoming.OriginID())
	e.persistLocked(ctx)
	e.mu.Unlock()

	e.notify(event)
	return OutcomeApplied
}

func (e *Engine) answerSyncRequest() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.items) == 0 {
		return OutcomeSyncSkipped
	}
	e.broadcastFullSyncLocked()
	return OutcomeSyncSent
}

func (e *Engine) reject(source string, err error) Outcome {
	reason := "unknown"
	var decodeErr *envelope.DecodeError
	if errors.As(err, &decodeErr) {
		reason = decodeErr.Reason
	}
	metrics.DecodeFailuresTotal.WithLabelValues(source, reason).Inc()
	e.logger.Debug("dropping undecodable payload",
		zap.String("operation", opApplyRemote),
		zap.String("source", source),
		zap.String("reason", reason),
		zap.Error(err))
	return OutcomeRejected
}
