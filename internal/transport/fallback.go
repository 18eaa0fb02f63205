package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/watchparty/internal/envelope"
	"github.com/MarcoPoloResearchLab/watchparty/internal/metrics"
	"go.uber.org/zap"
)

const (
	// ChannelLowLevel names the structured endpoint channel.
	ChannelLowLevel = "low_level"
	// ChannelChat names the marker-tagged chat fallback.
	ChannelChat = "chat"

	resultSuccess = "success"
	resultFailure = "failure"
)

var errNoStrategies = errors.New("transport: no send strategies configured")

// Strategy is one way of putting an encoded envelope on the wire.
type Strategy interface {
	Channel() string
	Send(ctx context.Context, frame envelope.Frame) error
}

type lowLevelStrategy struct {
	conference Conference
}

// NewLowLevelStrategy sends the structured form over the conference endpoint channel.
func NewLowLevelStrategy(conference Conference) Strategy {
	return lowLevelStrategy{conference: conference}
}

func (s lowLevelStrategy) Channel() string {
	return ChannelLowLevel
}

func (s lowLevelStrategy) Send(ctx context.Context, frame envelope.Frame) error {
	return s.conference.SendLowLevel(ctx, frame.Structured)
}

type chatStrategy struct {
	conference Conference
}

// NewChatStrategy sends the marker-prefixed text form over the conference chat.
func NewChatStrategy(conference Conference) Strategy {
	return chatStrategy{conference: conference}
}

func (s chatStrategy) Channel() string {
	return ChannelChat
}

func (s chatStrategy) Send(ctx context.Context, frame envelope.Frame) error {
	return s.conference.SendChatText(ctx, frame.Text)
}

// Attempt records one strategy's result.
type Attempt struct {
	Channel string
	Err     error
}

// SendResult summarizes a fallback send.
type SendResult struct {
	Attempts  []Attempt
	Delivered bool
	Channel   string
}

// FallbackSender tries strategies in order until one succeeds.
type FallbackSender struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewFallbackSender constructs a FallbackSender; strategies are attempted in the given order.
func NewFallbackSender(logger *zap.Logger, strategies ...Strategy) (*FallbackSender, error) {
	if len(strategies) == 0 {
		return nil, errNoStrategies
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackSender{strategies: strategies, logger: logger}, nil
}

// NewConferenceSender is the standard low-level-then-chat sender for a conference.
func NewConferenceSender(conference Conference, logger *zap.Logger) (*FallbackSender, error) {
	return NewFallbackSender(logger, NewLowLevelStrategy(conference), NewChatStrategy(conference))
}

// Send encodes e and attempts each strategy. Failures are logged and reported in the result only.
func (s *FallbackSender) Send(ctx context.Context, e envelope.Envelope) SendResult {
	result := SendResult{}
	frame, err := envelope.Encode(e)
	if err != nil {
		s.logger.Error("envelope encode failed",
			zap.String("action", e.Action().String()),
			zap.Error(err))
		return result
	}

	for _, strategy := range s.strategies {
		sendErr := attempt(ctx, strategy, frame)
		result.Attempts = append(result.Attempts, Attempt{Channel: strategy.Channel(), Err: sendErr})
		if sendErr == nil {
			metrics.SendAttemptsTotal.WithLabelValues(strategy.Channel(), resultSuccess).Inc()
			result.Delivered = true
			result.Channel = strategy.Channel()
			return result
		}
		metrics.SendAttemptsTotal.WithLabelValues(strategy.Channel(), resultFailure).Inc()
		s.logger.Warn("send strategy failed",
			zap.String("channel", strategy.Channel()),
			zap.String("action", e.Action().String()),
			zap.Error(sendErr))
	}
	return result
}

func attempt(ctx context.Context, strategy Strategy, frame envelope.Frame) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &TransportError{Channel: strategy.Channel(), Err: fmt.Errorf("panic: %v", recovered)}
		}
	}()
	if sendErr := strategy.Send(ctx, frame); sendErr != nil {
		return &TransportError{Channel: strategy.Channel(), Err: sendErr}
	}
	return nil
}
