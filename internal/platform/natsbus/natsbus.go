// Package natsbus publishes pipeline progress events to NATS JetStream.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/gradeflow/internal/events"
)

// Stream settings. Every progress subject falls under SubjectPrefix.
const (
	StreamName    = "GRADEFLOW"
	SubjectPrefix = "gradeflow"
)

// ErrNilPublisher is returned when a handler is built without a publisher.
var ErrNilPublisher = errors.New("publisher cannot be nil")

// Publisher sends raw messages to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Bus is a JetStream connection bound to the progress stream.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

var _ Publisher = (*Bus)(nil)

// Connect establishes a connection to NATS and ensures the progress stream exists.
func Connect(ctx context.Context, url string, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url, nats.Name("gradeflow"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectPrefix + ".tasks.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected", "url", url, "stream", StreamName)
	return &Bus{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject.
func (b *Bus) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and shuts down the NATS connection.
func (b *Bus) Close() error {
	return b.nc.Drain()
}

// ProgressHandler forwards progress events to a Publisher as JSON.
type ProgressHandler struct {
	pub    Publisher
	logger *slog.Logger
}

var _ events.EventHandler = (*ProgressHandler)(nil)

// NewProgressHandler creates a ProgressHandler.
func NewProgressHandler(pub Publisher, logger *slog.Logger) (*ProgressHandler, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressHandler{pub: pub, logger: logger.With("component", "nats_progress")}, nil
}

// HandleEvent publishes the event on gradeflow.tasks.<task_id>.progress.
func (h *ProgressHandler) HandleEvent(ctx context.Context, event *events.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding progress event: %w", err)
	}
	subject := event.Subject(SubjectPrefix)
	if err := h.pub.Publish(ctx, subject, data); err != nil {
		return err
	}
	h.logger.DebugContext(ctx, "progress published", "subject", subject, "event_id", event.ID)
	return nil
}
