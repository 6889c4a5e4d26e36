package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/reading-room/persona-chat/internal/model"
)

const (
	// StreamName is the name of the transcript stream.
	StreamName = "READING_ROOM"

	// SubjectPrefix is the prefix for all session subjects.
	SubjectPrefix = "room"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the transcript stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Reading room transcripts and session events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the subject for a displayed message.
func MessageSubject(sessionID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, sessionID, role)
}

// EventSubject returns the subject for a session event.
func EventSubject(sessionID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, sessionID, eventType)
}

// RecordMessage publishes a displayed message to JetStream.
func (m *StreamManager) RecordMessage(ctx context.Context, sessionID string, msg model.Message) error {
	data, err := json.Marshal(&model.ArchivedMessage{
		SessionID: sessionID,
		Message:   msg,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, MessageSubject(sessionID, msg.Role), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// RecordEvent publishes a session event to JetStream.
func (m *StreamManager) RecordEvent(ctx context.Context, event *model.SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, EventSubject(event.SessionID, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// GetMessages retrieves archived messages of a session starting after a sequence.
func (m *StreamManager) GetMessages(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.ArchivedMessage, uint64, bool, error) {
	js := m.client.JetStream()

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects:    []string{fmt.Sprintf("%s.%s.msg.>", SubjectPrefix, sessionID)},
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	}

	if afterSequence > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.OrderedConsumer(ctx, StreamName, cfg)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch messages: %w", err)
	}

	var messages []model.ArchivedMessage
	var lastSequence uint64

	for msg := range batch.Messages() {
		var archived model.ArchivedMessage
		if err := json.Unmarshal(msg.Data(), &archived); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			archived.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		messages = append(messages, archived)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return messages, lastSequence, len(messages) == limit, nil
}
