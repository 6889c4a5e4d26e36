package service

import (
	"context"

	"github.com/reading-room/persona-chat/internal/model"
)

// Recorder archives displayed messages and session events. Archiving is a
// side channel: session state never depends on it.
type Recorder interface {
	RecordMessage(ctx context.Context, sessionID string, msg model.Message) error
	RecordEvent(ctx context.Context, event *model.SessionEvent) error
}

type nopRecorder struct{}

func (nopRecorder) RecordMessage(context.Context, string, model.Message) error { return nil }

func (nopRecorder) RecordEvent(context.Context, *model.SessionEvent) error { return nil }
