package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/internal/engine"
	"github.com/a-essam23/go-chat/pkg/chat"
	"github.com/a-essam23/go-chat/pkg/multicast"
	"github.com/a-essam23/go-chat/pkg/pipeline"
	"github.com/a-essam23/go-chat/pkg/state"
)

type Config struct {
	// EventsPerSecond is the sustained inbound rate of one session. Zero disables throttling.
	EventsPerSecond float64
	Burst           int
}

// EventRouter decodes inbound frames and dispatches them to the engine. Failures are
// reported to the origin session only.
type EventRouter struct {
	logger   *slog.Logger
	engine   *engine.Engine
	bus      *multicast.Router
	handlers map[string]pipeline.HandlerFunc
	limiter  *limiterPool
}

func NewEventRouter(logger *slog.Logger, eng *engine.Engine, bus *multicast.Router, cfg Config) *EventRouter {
	r := &EventRouter{
		logger: logger.With(slog.String("component", "event_router")),
		engine: eng,
		bus:    bus,
	}
	mods := []pipeline.ModifierFunc{instrument, recoverPanic}
	if cfg.EventsPerSecond > 0 {
		r.limiter = newLimiterPool(cfg.EventsPerSecond, cfg.Burst)
		mods = append(mods, r.limiter.rateLimit)
	}

	r.handlers = make(map[string]pipeline.HandlerFunc)
	for event, h := range r.routes() {
		r.handlers[event] = pipeline.Chain(h, mods...)
	}
	return r
}

// HandleMessage runs one inbound frame to completion.
func (r *EventRouter) HandleMessage(ctx context.Context, sess *state.Session, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", slog.Any("sessionID", sess.ID), slog.Any("error", err))
		r.reportError(sess, "", chat.Validation("Invalid message format"))
		return
	}

	handler, ok := r.handlers[clientMsg.Event]
	if !ok {
		r.logger.Warn("Received unknown event", slog.String("event", clientMsg.Event), slog.Any("sessionID", sess.ID))
		r.reportError(sess, clientMsg.Event, chat.Validation("Unknown event "+clientMsg.Event))
		return
	}

	cargo := &pipeline.Cargo{
		Ctx:     ctx,
		Logger:  r.logger,
		Session: sess,
		Event:   clientMsg.Event,
		Payload: clientMsg.Payload,
	}
	r.logger.Debug("Executing event", slog.String("event", clientMsg.Event), slog.String("actorID", sess.Actor.ID))
	if err := handler(cargo); err != nil {
		r.reportError(sess, clientMsg.Event, err)
	}
}

// Forget drops per-session router state once the session is gone.
func (r *EventRouter) Forget(sessionID uuid.UUID) {
	if r.limiter != nil {
		r.limiter.forget(sessionID)
	}
}

func (r *EventRouter) reportError(sess *state.Session, event string, err error) {
	ev := errorEvent(err)
	level := slog.LevelDebug
	if chat.KindOf(err) == chat.KindStorage || ev.Code == "internal" {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "Event failed",
		slog.String("event", event),
		slog.String("actorID", sess.Actor.ID),
		slog.Any("error", err),
	)
	r.bus.Send(sess, engine.EventError, ev)
}

// errorEvent maps err to the client-facing payload. Only chat.Error messages are shown.
func errorEvent(err error) engine.ErrorEvent {
	if errors.Is(err, ErrRateLimited) {
		return engine.ErrorEvent{Message: ErrRateLimited.Error(), Code: "rate_limited"}
	}
	var ce *chat.Error
	if errors.As(err, &ce) {
		return engine.ErrorEvent{Message: ce.Message, Code: ce.Kind.String()}
	}
	return engine.ErrorEvent{Message: "Internal server error", Code: "internal"}
}
