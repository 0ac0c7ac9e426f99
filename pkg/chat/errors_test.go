package chat_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/a-essam23/go-chat/pkg/chat"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("send: %w", chat.Storage("Failed to send message", cause))

	if !errors.Is(err, chat.ErrStorage) {
		t.Error("wrapped storage error should match ErrStorage")
	}
	if errors.Is(err, chat.ErrValidation) {
		t.Error("storage error must not match ErrValidation")
	}
	if !errors.Is(err, cause) {
		t.Error("cause should stay reachable")
	}
	if got := chat.KindOf(err); got != chat.KindStorage {
		t.Errorf("KindOf = %s", got)
	}
	if got := chat.KindOf(cause); got != chat.KindUnknown {
		t.Errorf("plain errors should be unknown, got %s", got)
	}

	var ce *chat.Error
	if !errors.As(err, &ce) || ce.Message != "Failed to send message" {
		t.Errorf("client message should be the generic text, got %+v", ce)
	}
}
