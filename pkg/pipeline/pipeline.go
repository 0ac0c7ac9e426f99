package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/a-essam23/go-chat/pkg/state"
)

/*
 * Detaches the handling of one inbound event from the router that decoded it.
 * Handlers do the work, modifiers wrap handlers (throttling, timing, recovery).
 */

type Cargo struct {
	Ctx     context.Context
	Logger  *slog.Logger
	Session *state.Session
	Event   string
	Payload json.RawMessage
}

// HandlerFunc runs one inbound event. A returned error is reported to the origin session.
type HandlerFunc func(c *Cargo) error

// ModifierFunc wraps a handler.
type ModifierFunc func(next HandlerFunc) HandlerFunc

// Chain wraps h so that mods run in the order given, the first one outermost.
func Chain(h HandlerFunc, mods ...ModifierFunc) HandlerFunc {
	for i := len(mods) - 1; i >= 0; i-- {
		h = mods[i](h)
	}
	return h
}

// Decode unmarshals the payload into T. An empty payload yields the zero value.
func Decode[T any](c *Cargo) (T, error) {
	var v T
	if len(c.Payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(c.Payload, &v)
	return v, err
}
