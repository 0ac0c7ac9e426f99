// Package multicast fans outbound events to the live sessions subscribed to a channel.
// Delivery is best-effort and at-most-once: nothing is queued for absent sessions.
package multicast

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/a-essam23/go-chat/pkg/metrics"
	"github.com/a-essam23/go-chat/pkg/state"
)

// PresenceChannel carries user_online / user_offline to every session.
const PresenceChannel = "presence"

func RoomChannel(roomID string) string   { return "room:" + roomID }
func ActorChannel(actorID string) string { return "user:" + actorID }

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

type publishOptions struct {
	except map[uuid.UUID]struct{}
}

type Option func(*publishOptions)

// Except skips the given sessions.
func Except(ids ...uuid.UUID) Option {
	return func(o *publishOptions) {
		if o.except == nil {
			o.except = make(map[uuid.UUID]struct{}, len(ids))
		}
		for _, id := range ids {
			o.except[id] = struct{}{}
		}
	}
}

type Router struct {
	registry state.Registry
	logger   *slog.Logger
}

func NewRouter(registry state.Registry, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger.With(slog.String("component", "multicast")),
	}
}

// Publish delivers event to every session subscribed to channel at call time and
// returns how many sessions accepted the frame.
func (r *Router) Publish(channel, event string, payload any, opts ...Option) int {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}
	frame, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("failed to encode event", slog.String("event", event), slog.Any("error", err))
		return 0
	}

	delivered := 0
	for _, sess := range r.registry.Subscribers(channel) {
		if _, skip := o.except[sess.ID]; skip {
			continue
		}
		if sess.Send(frame) {
			delivered++
		}
	}
	metrics.EventsPublished.WithLabelValues(event).Add(float64(delivered))
	r.logger.Debug("event published",
		slog.String("channel", channel),
		slog.String("event", event),
		slog.Int("delivered", delivered),
	)
	return delivered
}

// Send delivers event to a single session.
func (r *Router) Send(sess *state.Session, event string, payload any) bool {
	frame, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("failed to encode event", slog.String("event", event), slog.Any("error", err))
		return false
	}
	ok := sess.Send(frame)
	if ok {
		metrics.EventsPublished.WithLabelValues(event).Inc()
	}
	return ok
}

// SendToActor delivers event to the actor's live session, if any.
func (r *Router) SendToActor(actorID, event string, payload any) bool {
	sess, ok := r.registry.Lookup(actorID)
	if !ok {
		return false
	}
	return r.Send(sess, event, payload)
}

// Encode marshals one envelope.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Payload: payload})
}
