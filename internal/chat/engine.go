package chat

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/watsonu/WebChat-Furia/internal/metrics"
	"github.com/watsonu/WebChat-Furia/internal/session"
)

// MessageLog is the slice of the persistence contract the engine needs.
// Append assigns message identity atomically with the write; Recent returns
// at most limit messages most-recent-first; Ping is a cheap liveness probe.
type MessageLog interface {
	Append(ctx context.Context, author, body string) (Message, error)
	Recent(ctx context.Context, limit int) ([]Message, error)
	Ping(ctx context.Context) error
}

// state names the steps an inbound message moves through.
type state int

const (
	stateReceived state = iota
	stateValidated
	statePersisted
	stateBroadcast
	stateDone
	stateRejectedInvalid
	stateRejectedUnavailable
)

func (s state) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateValidated:
		return "validated"
	case statePersisted:
		return "persisted"
	case stateBroadcast:
		return "broadcast"
	case stateDone:
		return "done"
	case stateRejectedInvalid:
		return "rejected_invalid"
	case stateRejectedUnavailable:
		return "rejected_unavailable"
	default:
		return "unknown"
	}
}

// Engine runs every inbound message through
// received → validated → persisted → broadcast → done and guarantees each
// accepted message reaches every registered connection exactly once, in
// commit order. It owns no persistent state; it coordinates the log and the
// registry.
type Engine struct {
	log      MessageLog
	registry *session.Registry
	encode   func(Message) ([]byte, error)
	metrics  *metrics.Registry
	logger   *zap.Logger

	// commitMu serializes append-then-fan-out. At most one message is
	// between "append committed" and "fan-out complete" at any time, which
	// makes the broadcast order identical across connections and equal to
	// commit order. Validation and liveness probing stay outside it.
	commitMu sync.Mutex
}

// NewEngine wires the engine to its collaborators. encode turns an accepted
// message into the wire frame fanned out to clients; the transport owns the
// frame format.
func NewEngine(log MessageLog, registry *session.Registry, encode func(Message) ([]byte, error), m *metrics.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		log:      log,
		registry: registry,
		encode:   encode,
		metrics:  m,
		logger:   logger,
	}
}

// Submit processes one raw inbound message. On success the message has been
// persisted and delivered to every registered connection, sender included.
// On failure nothing was persisted or broadcast and the error is either a
// *ValidationError or wraps ErrStoreUnavailable; the caller reports it to
// the sender only.
func (e *Engine) Submit(ctx context.Context, author, body string) (Message, error) {
	st := stateReceived

	author, body, err := ValidateContent(author, body)
	if err != nil {
		e.reject(st, stateRejectedInvalid, err)
		return Message{}, err
	}
	st = stateValidated

	// Probing before the write gives a symmetric rejection instead of a
	// partial failure surfacing out of the append itself.
	if err := e.log.Ping(ctx); err != nil {
		e.reject(st, stateRejectedUnavailable, err)
		return Message{}, err
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	msg, err := e.log.Append(ctx, author, body)
	if err != nil {
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			e.reject(st, stateRejectedInvalid, err)
		} else {
			e.reject(st, stateRejectedUnavailable, err)
		}
		return Message{}, err
	}
	e.logger.Debug("message persisted",
		zap.String("id", msg.ID),
		zap.String("state", statePersisted.String()),
	)

	e.fanOut(msg)

	if e.metrics != nil {
		e.metrics.Messages.Accepted.Inc()
	}
	e.logger.Debug("message accepted",
		zap.String("id", msg.ID),
		zap.String("state", stateDone.String()),
	)
	return msg, nil
}

// fanOut delivers the encoded message to a snapshot of the registry. A
// connection whose queue is full is treated as dead and unregistered, never
// skipped: skipping would break the exactly-once, identical-order guarantee
// for connections that stay registered.
func (e *Engine) fanOut(msg Message) {
	frame, err := e.encode(msg)
	if err != nil {
		// Encoding a validated message cannot fail with a correct codec.
		e.logger.Error("encode broadcast frame", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	for _, conn := range e.registry.Snapshot() {
		if conn.Deliver(frame) {
			if e.metrics != nil {
				e.metrics.Messages.Delivered.Inc()
			}
			continue
		}
		e.logger.Warn("dropping slow connection", zap.Uint64("connection_id", conn.ID()))
		e.registry.Unregister(conn)
		if e.metrics != nil {
			e.metrics.Connections.SlowDropped.Inc()
		}
	}
}

// Replay returns the most recent messages for one requester, most recent
// first. It is best-effort: an unreachable or failing store degrades to an
// empty history, never an error.
func (e *Engine) Replay(ctx context.Context, limit int) []Message {
	if e.metrics != nil {
		e.metrics.Messages.HistoryRequests.Inc()
	}

	if err := e.log.Ping(ctx); err != nil {
		e.logger.Warn("history replay degraded to empty", zap.Error(err))
		return []Message{}
	}

	messages, err := e.log.Recent(ctx, limit)
	if err != nil {
		e.logger.Warn("history replay degraded to empty", zap.Error(err))
		return []Message{}
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages
}

// Healthy reports the current liveness-probe result.
func (e *Engine) Healthy(ctx context.Context) bool {
	return e.log.Ping(ctx) == nil
}

func (e *Engine) reject(from, to state, err error) {
	e.logger.Debug("message rejected",
		zap.String("from", from.String()),
		zap.String("state", to.String()),
		zap.Error(err),
	)
	if e.metrics == nil {
		return
	}
	switch to {
	case stateRejectedInvalid:
		e.metrics.Messages.RejectedInvalid.Inc()
	case stateRejectedUnavailable:
		e.metrics.Messages.RejectedUnavailable.Inc()
	}
}
